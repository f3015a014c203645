// Package ratelimit bounds the cost of credential and refresh-token guessing.
//
// The primary counter store is Redis so limits hold across instances. When
// Redis is unreachable the Limiter degrades to an in-process store rather
// than failing open with no limit or failing closed entirely.
package ratelimit

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"
)

// Decision is the outcome of a rate-limit check.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// Store counts attempts per key within a fixed window.
type Store interface {
	// Allow registers one attempt for key and reports whether it is within
	// max attempts for the window. Every call counts, allowed or not.
	Allow(ctx context.Context, key string, max int, window time.Duration) (Decision, error)
}

// LoginKey keys login attempts by normalized email, so an attacker rotating
// IPs still runs into the limit for a targeted account.
func LoginKey(email string) string {
	return "ratelimit:login:" + strings.ToLower(strings.TrimSpace(email))
}

// RefreshKey keys refresh attempts by client IP.
func RefreshKey(ip string) string {
	return "ratelimit:refresh:" + ip
}

// ClientIP extracts the client IP from a request, preferring proxy headers
// since the service normally runs behind a load balancer.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if i := strings.IndexByte(xff, ','); i >= 0 {
			return strings.TrimSpace(xff[:i])
		}
		return strings.TrimSpace(xff)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
