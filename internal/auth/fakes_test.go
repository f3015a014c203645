package auth

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/keygate/backend/internal/db"
)

// In-memory store implementations mirroring the Postgres repositories'
// semantics, including the conditional-update rotation contract.

type fakeUserStore struct {
	mu    sync.Mutex
	users map[uuid.UUID]*db.User
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{users: make(map[uuid.UUID]*db.User)}
}

func (f *fakeUserStore) Create(_ context.Context, user *db.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if strings.EqualFold(u.Email, user.Email) {
			return db.ErrEmailExists
		}
	}
	cp := *user
	f.users[user.ID] = &cp
	return nil
}

func (f *fakeUserStore) GetByEmail(_ context.Context, email string) (*db.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if strings.EqualFold(u.Email, email) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, db.ErrUserNotFound
}

func (f *fakeUserStore) GetByID(_ context.Context, id uuid.UUID) (*db.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.users[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, db.ErrUserNotFound
}

type fakeSessionStore struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*db.Session
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{sessions: make(map[uuid.UUID]*db.Session)}
}

func (f *fakeSessionStore) Create(_ context.Context, session *db.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *session
	f.sessions[session.ID] = &cp
	return nil
}

func (f *fakeSessionStore) Rotate(_ context.Context, oldHash, newHash string, ttl, reuseGrace time.Duration) (*db.Session, error) {
	now := time.Now()

	f.mu.Lock()
	defer f.mu.Unlock()

	for _, s := range f.sessions {
		if s.TokenHash == oldHash && s.ExpiresAt.After(now) {
			s.PrevTokenHash = sql.NullString{String: oldHash, Valid: true}
			s.RotatedAt = sql.NullTime{Time: now, Valid: true}
			s.TokenHash = newHash
			s.ExpiresAt = now.Add(ttl)
			s.LastUsedAt = now
			cp := *s
			return &cp, nil
		}
	}
	for _, s := range f.sessions {
		if s.TokenHash == oldHash {
			return nil, db.ErrSessionExpired
		}
	}
	for _, s := range f.sessions {
		if s.PrevTokenHash.Valid && s.PrevTokenHash.String == oldHash && s.RotatedAt.Valid && s.RotatedAt.Time.After(now.Add(-reuseGrace)) {
			return nil, &db.ReuseDetectedError{UserID: s.UserID}
		}
	}
	return nil, db.ErrSessionNotFound
}

func (f *fakeSessionStore) DeleteByTokenHash(_ context.Context, tokenHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, s := range f.sessions {
		if s.TokenHash == tokenHash {
			delete(f.sessions, id)
		}
	}
	return nil
}

func (f *fakeSessionStore) DeleteAllForUser(_ context.Context, userID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, s := range f.sessions {
		if s.UserID == userID {
			delete(f.sessions, id)
		}
	}
	return nil
}

func (f *fakeSessionStore) DeleteExpired(_ context.Context) (int64, error) {
	now := time.Now()
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for id, s := range f.sessions {
		if s.ExpiresAt.Before(now) {
			delete(f.sessions, id)
			n++
		}
	}
	return n, nil
}

func (f *fakeSessionStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sessions)
}

func (f *fakeSessionStore) storedHashes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var hashes []string
	for _, s := range f.sessions {
		hashes = append(hashes, s.TokenHash)
		if s.PrevTokenHash.Valid {
			hashes = append(hashes, s.PrevTokenHash.String)
		}
	}
	return hashes
}

func (f *fakeSessionStore) expireAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.sessions {
		s.ExpiresAt = time.Now().Add(-time.Minute)
	}
}

type fakeAuditStore struct {
	mu      sync.Mutex
	entries []*db.AuthLog
}

// failingAuditStore rejects every write, standing in for a dead auth_logs
// table.
type failingAuditStore struct{}

func (failingAuditStore) Create(context.Context, *db.AuthLog) error {
	return errors.New("insert failed")
}

func (f *fakeAuditStore) Create(_ context.Context, entry *db.AuthLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *entry
	f.entries = append(f.entries, &cp)
	return nil
}

func (f *fakeAuditStore) byType(eventType string) []*db.AuthLog {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*db.AuthLog
	for _, e := range f.entries {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}
