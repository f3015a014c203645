package health

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
)

// Status represents the health status of a component
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
)

// ComponentHealth represents the health of a single component
type ComponentHealth struct {
	Status   Status `json:"status"`
	Message  string `json:"message,omitempty"`
	Duration string `json:"duration,omitempty"`
}

// Response is the full health check response.
type Response struct {
	Status     Status                     `json:"status"`
	Timestamp  string                     `json:"timestamp"`
	Components map[string]ComponentHealth `json:"components,omitempty"`
}

// Checker performs health checks against the service's dependencies. The
// rate-limit store being down degrades the service (in-process fallback takes
// over) rather than making it unhealthy.
type Checker struct {
	db           *sql.DB
	redis        *redis.Client
	checkTimeout time.Duration
}

func NewChecker(db *sql.DB, redisClient *redis.Client) *Checker {
	return &Checker{
		db:           db,
		redis:        redisClient,
		checkTimeout: 5 * time.Second,
	}
}

func (c *Checker) checkDB(ctx context.Context) ComponentHealth {
	start := time.Now()

	if c.db == nil {
		return ComponentHealth{Status: StatusUnhealthy, Message: "database not configured"}
	}

	ctx, cancel := context.WithTimeout(ctx, c.checkTimeout)
	defer cancel()

	if err := c.db.PingContext(ctx); err != nil {
		return ComponentHealth{
			Status:   StatusUnhealthy,
			Message:  "database ping failed",
			Duration: time.Since(start).String(),
		}
	}

	return ComponentHealth{Status: StatusHealthy, Duration: time.Since(start).String()}
}

func (c *Checker) checkRedis(ctx context.Context) ComponentHealth {
	start := time.Now()

	if c.redis == nil {
		return ComponentHealth{Status: StatusDegraded, Message: "rate-limit store not configured"}
	}

	ctx, cancel := context.WithTimeout(ctx, c.checkTimeout)
	defer cancel()

	if err := c.redis.Ping(ctx).Err(); err != nil {
		return ComponentHealth{
			Status:   StatusDegraded,
			Message:  "rate-limit store unreachable, in-process fallback active",
			Duration: time.Since(start).String(),
		}
	}

	return ComponentHealth{Status: StatusHealthy, Duration: time.Since(start).String()}
}

// LiveHandler is the liveness probe: process is up.
func (c *Checker) LiveHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// ReadyHandler is the readiness probe: dependencies checked individually.
func (c *Checker) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	components := map[string]ComponentHealth{
		"database":         c.checkDB(r.Context()),
		"rate_limit_store": c.checkRedis(r.Context()),
	}

	overall := StatusHealthy
	status := http.StatusOK
	for _, ch := range components {
		switch ch.Status {
		case StatusUnhealthy:
			overall = StatusUnhealthy
			status = http.StatusServiceUnavailable
		case StatusDegraded:
			if overall == StatusHealthy {
				overall = StatusDegraded
			}
		}
	}

	resp := Response{
		Status:     overall,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		Components: components,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}
