package auth

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/keygate/backend/internal/db"
)

// UserStore is the subset of the user repository the service needs.
type UserStore interface {
	Create(ctx context.Context, user *db.User) error
	GetByEmail(ctx context.Context, email string) (*db.User, error)
	GetByID(ctx context.Context, id uuid.UUID) (*db.User, error)
}

// SessionStore owns all mutation of session rows; nothing else touches them.
type SessionStore interface {
	Create(ctx context.Context, session *db.Session) error
	Rotate(ctx context.Context, oldHash, newHash string, ttl, reuseGrace time.Duration) (*db.Session, error)
	DeleteByTokenHash(ctx context.Context, tokenHash string) error
	DeleteAllForUser(ctx context.Context, userID uuid.UUID) error
	DeleteExpired(ctx context.Context) (int64, error)
}
