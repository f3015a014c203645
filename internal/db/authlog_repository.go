package db

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// AuthLog is one append-only audit record. Rows are never updated or deleted
// by the service; retention is an external job.
type AuthLog struct {
	ID           uuid.UUID
	UserID       uuid.NullUUID
	EventType    string
	Success      bool
	IP           string
	UserAgent    string
	ErrorMessage string
	CreatedAt    time.Time
}

type AuthLogRepository struct {
	db *DB
}

func NewAuthLogRepository(db *DB) *AuthLogRepository {
	return &AuthLogRepository{db: db}
}

func (r *AuthLogRepository) Create(ctx context.Context, entry *AuthLog) error {
	query := `
		INSERT INTO auth_logs (id, user_id, event_type, success, ip, user_agent, error_message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.db.ExecContext(ctx, query,
		entry.ID, entry.UserID, entry.EventType, entry.Success,
		entry.IP, entry.UserAgent, entry.ErrorMessage, entry.CreatedAt,
	)
	return err
}
