// Package audit writes the append-only auth event trail. Recording never
// fails the operation being recorded: insert errors are counted and logged,
// not returned.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/keygate/backend/internal/db"
	"github.com/keygate/backend/internal/logger"
	"github.com/keygate/backend/internal/metrics"
)

type EventType string

const (
	EventRegister      EventType = "register"
	EventLogin         EventType = "login"
	EventRefresh       EventType = "refresh"
	EventLogout        EventType = "logout"
	EventReuseDetected EventType = "reuse_detected"
)

// Event is one auth attempt, successful or not. ErrorMessage must be safe to
// persist: reason codes and identifiers only, never passwords or raw tokens.
type Event struct {
	Type         EventType
	UserID       uuid.NullUUID
	Success      bool
	IP           string
	UserAgent    string
	ErrorMessage string
}

// Store persists audit entries.
type Store interface {
	Create(ctx context.Context, entry *db.AuthLog) error
}

type Recorder struct {
	store   Store
	log     *logger.Logger
	timeout time.Duration
}

func NewRecorder(store Store, log *logger.Logger) *Recorder {
	return &Recorder{
		store:   store,
		log:     log,
		timeout: 5 * time.Second,
	}
}

// Record persists one audit row. The write is detached from the request's
// cancellation so an aborted client connection cannot drop the trail, but it
// still carries its own deadline.
func (r *Recorder) Record(ctx context.Context, event Event) {
	metrics.RecordAuthEvent(string(event.Type), event.Success)

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()

	entry := &db.AuthLog{
		ID:           uuid.New(),
		UserID:       event.UserID,
		EventType:    string(event.Type),
		Success:      event.Success,
		IP:           event.IP,
		UserAgent:    event.UserAgent,
		ErrorMessage: event.ErrorMessage,
		CreatedAt:    time.Now(),
	}

	if err := r.store.Create(writeCtx, entry); err != nil {
		metrics.RecordAuditWriteFailure()
		r.log.Error(ctx, "failed to write audit log entry", err, map[string]any{
			"event_type": string(event.Type),
		})
	}
}
