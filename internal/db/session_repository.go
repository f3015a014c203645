package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var ErrSessionNotFound = errors.New("session not found")
var ErrSessionExpired = errors.New("session has expired")

// ErrReuseDetected is the sentinel wrapped by ReuseDetectedError.
var ErrReuseDetected = errors.New("refresh token reuse detected")

// ReuseDetectedError reports that an already-rotated refresh token was
// presented again, and which user owned the lineage so the caller can revoke
// every session for that user.
type ReuseDetectedError struct {
	UserID uuid.UUID
}

func (e *ReuseDetectedError) Error() string {
	return fmt.Sprintf("refresh token reuse detected for user %s", e.UserID)
}

func (e *ReuseDetectedError) Unwrap() error { return ErrReuseDetected }

// Session is one refresh-token lineage. The row is updated in place on every
// rotation; the raw token is never stored, only its SHA-256 hex hash.
type Session struct {
	ID            uuid.UUID
	UserID        uuid.UUID
	TokenHash     string
	PrevTokenHash sql.NullString
	RotatedAt     sql.NullTime
	ExpiresAt     time.Time
	CreatedAt     time.Time
	LastUsedAt    time.Time
	UserAgent     string
	IP            string
}

type SessionRepository struct {
	db *DB
}

func NewSessionRepository(db *DB) *SessionRepository {
	return &SessionRepository{db: db}
}

func (r *SessionRepository) Create(ctx context.Context, session *Session) error {
	query := `
		INSERT INTO sessions (id, user_id, token_hash, expires_at, created_at, last_used_at, user_agent, ip)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.db.ExecContext(ctx, query,
		session.ID, session.UserID, session.TokenHash, session.ExpiresAt,
		session.CreatedAt, session.LastUsedAt, session.UserAgent, session.IP,
	)
	return err
}

// Rotate atomically swaps the session's token hash. The conditional UPDATE is
// the concurrency control: two refreshes racing on the same token hash result
// in exactly one updated row; the loser sees no row and falls into the
// classification below, which is how reuse surfaces.
func (r *SessionRepository) Rotate(ctx context.Context, oldHash, newHash string, ttl, reuseGrace time.Duration) (*Session, error) {
	now := time.Now()

	query := `
		UPDATE sessions
		SET token_hash = $2,
		    prev_token_hash = $1,
		    rotated_at = $3,
		    expires_at = $4,
		    last_used_at = $3
		WHERE token_hash = $1 AND expires_at > $3
		RETURNING id, user_id, expires_at, created_at, user_agent, ip
	`

	session := &Session{TokenHash: newHash, LastUsedAt: now}
	err := r.db.QueryRowContext(ctx, query, oldHash, newHash, now, now.Add(ttl)).Scan(
		&session.ID, &session.UserID, &session.ExpiresAt, &session.CreatedAt,
		&session.UserAgent, &session.IP,
	)
	if err == nil {
		return session, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	return nil, r.classifyRotateMiss(ctx, oldHash, reuseGrace, now)
}

// classifyRotateMiss decides why a rotation found no live row: the token hash
// still exists but is expired, the hash was rotated away recently (reuse), or
// it is simply unknown.
func (r *SessionRepository) classifyRotateMiss(ctx context.Context, oldHash string, reuseGrace time.Duration, now time.Time) error {
	var expiresAt time.Time
	err := r.db.QueryRowContext(ctx,
		`SELECT expires_at FROM sessions WHERE token_hash = $1`, oldHash,
	).Scan(&expiresAt)
	if err == nil {
		if expiresAt.Before(now) || expiresAt.Equal(now) {
			return ErrSessionExpired
		}
		// A live row the CAS did not match should not happen; do not rotate
		// on a read-back, surface it as unknown.
		return ErrSessionNotFound
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return err
	}

	var userID uuid.UUID
	err = r.db.QueryRowContext(ctx,
		`SELECT user_id FROM sessions WHERE prev_token_hash = $1 AND rotated_at > $2`,
		oldHash, now.Add(-reuseGrace),
	).Scan(&userID)
	if err == nil {
		return &ReuseDetectedError{UserID: userID}
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return err
	}

	return ErrSessionNotFound
}

// DeleteByTokenHash removes the session holding the given hash. Idempotent:
// deleting a session that is already gone is not an error.
func (r *SessionRepository) DeleteByTokenHash(ctx context.Context, tokenHash string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE token_hash = $1`, tokenHash)
	return err
}

// DeleteAllForUser revokes every session owned by the user. Used for the
// reuse-detection cascade.
func (r *SessionRepository) DeleteAllForUser(ctx context.Context, userID uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE user_id = $1`, userID)
	return err
}

// DeleteExpired prunes sessions past their expiry. Called by the background
// maintenance loop.
func (r *SessionRepository) DeleteExpired(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at < NOW()`)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
