package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/keygate/backend/internal/audit"
	"github.com/keygate/backend/internal/auth"
	"github.com/keygate/backend/internal/db"
	"github.com/keygate/backend/internal/health"
	"github.com/keygate/backend/internal/logger"
	"github.com/keygate/backend/internal/ratelimit"
)

const testJWTSecret = "router-test-secret"

// ---- in-memory stores ----

type memUsers struct {
	mu    sync.Mutex
	users map[uuid.UUID]*db.User
}

func (m *memUsers) Create(_ context.Context, user *db.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if strings.EqualFold(u.Email, user.Email) {
			return db.ErrEmailExists
		}
	}
	cp := *user
	m.users[user.ID] = &cp
	return nil
}

func (m *memUsers) GetByEmail(_ context.Context, email string) (*db.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if strings.EqualFold(u.Email, email) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, db.ErrUserNotFound
}

func (m *memUsers) GetByID(_ context.Context, id uuid.UUID) (*db.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, db.ErrUserNotFound
}

type memSessions struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*db.Session
}

func (m *memSessions) Create(_ context.Context, session *db.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *session
	m.sessions[session.ID] = &cp
	return nil
}

func (m *memSessions) Rotate(_ context.Context, oldHash, newHash string, ttl, reuseGrace time.Duration) (*db.Session, error) {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, s := range m.sessions {
		if s.TokenHash == oldHash && s.ExpiresAt.After(now) {
			s.PrevTokenHash = sql.NullString{String: oldHash, Valid: true}
			s.RotatedAt = sql.NullTime{Time: now, Valid: true}
			s.TokenHash = newHash
			s.ExpiresAt = now.Add(ttl)
			cp := *s
			return &cp, nil
		}
	}
	for _, s := range m.sessions {
		if s.TokenHash == oldHash {
			return nil, db.ErrSessionExpired
		}
	}
	for _, s := range m.sessions {
		if s.PrevTokenHash.Valid && s.PrevTokenHash.String == oldHash && s.RotatedAt.Valid && s.RotatedAt.Time.After(now.Add(-reuseGrace)) {
			return nil, &db.ReuseDetectedError{UserID: s.UserID}
		}
	}
	return nil, db.ErrSessionNotFound
}

func (m *memSessions) DeleteByTokenHash(_ context.Context, tokenHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, s := range m.sessions {
		if s.TokenHash == tokenHash {
			delete(m.sessions, id)
		}
	}
	return nil
}

func (m *memSessions) DeleteAllForUser(_ context.Context, userID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, s := range m.sessions {
		if s.UserID == userID {
			delete(m.sessions, id)
		}
	}
	return nil
}

func (m *memSessions) DeleteExpired(_ context.Context) (int64, error) {
	return 0, nil
}

type memAudit struct{}

func (memAudit) Create(context.Context, *db.AuthLog) error { return nil }

// ---- test server ----

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	log := logger.New(io.Discard, logger.LevelError, "test")
	users := &memUsers{users: make(map[uuid.UUID]*db.User)}
	sessions := &memSessions{sessions: make(map[uuid.UUID]*db.Session)}

	service := auth.NewService(users, sessions, audit.NewRecorder(memAudit{}, log), log, auth.Config{
		JWTSecret:       []byte(testJWTSecret),
		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: 7 * 24 * time.Hour,
	})

	limiter := ratelimit.NewLimiter(nil, ratelimit.NewMemoryStore(), log)
	handlers := auth.NewHandlers(service, limiter, auth.RateLimits{
		LoginMax:      5,
		LoginWindow:   15 * time.Minute,
		RefreshMax:    10,
		RefreshWindow: 15 * time.Minute,
	})

	router := NewRouter(handlers, service, health.NewChecker(nil, nil))
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return server
}

func postJSON(t *testing.T, server *httptest.Server, path string, body map[string]string, headers map[string]string) (*http.Response, map[string]any) {
	t.Helper()

	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	req, err := http.NewRequest(http.MethodPost, server.URL+path, bytes.NewReader(payload))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var decoded map[string]any
	raw, _ := io.ReadAll(resp.Body)
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &decoded); err != nil {
			t.Fatalf("invalid JSON response %q: %v", raw, err)
		}
	}
	return resp, decoded
}

func getJSON(t *testing.T, server *httptest.Server, path string, headers map[string]string) (*http.Response, map[string]any) {
	t.Helper()

	req, err := http.NewRequest(http.MethodGet, server.URL+path, nil)
	if err != nil {
		t.Fatal(err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var decoded map[string]any
	raw, _ := io.ReadAll(resp.Body)
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &decoded); err != nil {
			t.Fatalf("invalid JSON response %q: %v", raw, err)
		}
	}
	return resp, decoded
}

func str(body map[string]any, key string) string {
	v, _ := body[key].(string)
	return v
}

// ---- tests ----

func TestFullAuthFlow(t *testing.T) {
	server := newTestServer(t)

	// Register
	resp, body := postJSON(t, server, "/auth/register", map[string]string{
		"email": "user@example.com", "password": "TestPass123!", "confirmPassword": "TestPass123!",
	}, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register status = %d, want 201", resp.StatusCode)
	}
	if str(body, "userID") == "" || str(body, "email") != "user@example.com" {
		t.Fatalf("register body = %v", body)
	}

	// Login
	resp, body = postJSON(t, server, "/auth/login", map[string]string{
		"email": "user@example.com", "password": "TestPass123!",
	}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status = %d, want 200", resp.StatusCode)
	}
	if str(body, "tokenType") != "Bearer" {
		t.Errorf("tokenType = %q", str(body, "tokenType"))
	}
	if body["expiresIn"] != float64(900) {
		t.Errorf("expiresIn = %v, want 900", body["expiresIn"])
	}
	accessToken := str(body, "accessToken")
	refreshToken := str(body, "refreshToken")
	if accessToken == "" || refreshToken == "" {
		t.Fatal("login did not return both tokens")
	}

	// Protected route with access token
	resp, body = getJSON(t, server, "/auth/me", map[string]string{
		"Authorization": "Bearer " + accessToken,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("/auth/me status = %d, want 200", resp.StatusCode)
	}
	if str(body, "email") != "user@example.com" {
		t.Errorf("/auth/me email = %q", str(body, "email"))
	}

	// Refresh rotates the token pair
	resp, body = postJSON(t, server, "/auth/refresh", map[string]string{
		"refreshToken": refreshToken,
	}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("refresh status = %d, want 200", resp.StatusCode)
	}
	newRefreshToken := str(body, "refreshToken")
	if newRefreshToken == "" || newRefreshToken == refreshToken {
		t.Fatal("refresh did not rotate the refresh token")
	}
	if _, present := body["userID"]; present {
		t.Error("refresh response must not include userID")
	}

	// Old refresh token is dead
	resp, body = postJSON(t, server, "/auth/refresh", map[string]string{
		"refreshToken": refreshToken,
	}, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("reused refresh status = %d, want 401", resp.StatusCode)
	}
	if str(body, "error") != "unauthorized" {
		t.Errorf("reused refresh error = %q, want unauthorized", str(body, "error"))
	}

	// Reuse revoked everything: a fresh login is required.
	resp, body = postJSON(t, server, "/auth/login", map[string]string{
		"email": "user@example.com", "password": "TestPass123!",
	}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("re-login status = %d", resp.StatusCode)
	}
	accessToken = str(body, "accessToken")
	refreshToken = str(body, "refreshToken")

	// Logout, then refresh with the logged-out token fails
	resp, _ = postJSON(t, server, "/auth/logout", map[string]string{
		"refreshToken": refreshToken,
	}, map[string]string{"Authorization": "Bearer " + accessToken})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("logout status = %d, want 200", resp.StatusCode)
	}

	resp, _ = postJSON(t, server, "/auth/refresh", map[string]string{
		"refreshToken": refreshToken,
	}, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("refresh after logout status = %d, want 401", resp.StatusCode)
	}

	// Logout again with the same token: idempotent
	resp, _ = postJSON(t, server, "/auth/logout", map[string]string{
		"refreshToken": refreshToken,
	}, map[string]string{"Authorization": "Bearer " + accessToken})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("second logout status = %d, want 200", resp.StatusCode)
	}
}

func TestRegisterPasswordPolicy(t *testing.T) {
	server := newTestServer(t)

	bad := []string{
		"Short1!",      // 7 characters
		"testpass123!", // no uppercase
		"TestPass!",    // no digit
		"TestPass123",  // no special character
	}

	for _, pw := range bad {
		resp, body := postJSON(t, server, "/auth/register", map[string]string{
			"email": "user@example.com", "password": pw, "confirmPassword": pw,
		}, nil)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("password %q: status = %d, want 400", pw, resp.StatusCode)
		}
		if str(body, "error") != "validation_error" {
			t.Errorf("password %q: error = %q, want validation_error", pw, str(body, "error"))
		}
		if str(body, "field") != "password" {
			t.Errorf("password %q: field = %q, want password", pw, str(body, "field"))
		}
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	server := newTestServer(t)

	resp, _ := postJSON(t, server, "/auth/register", map[string]string{
		"email": "user@example.com", "password": "TestPass123!", "confirmPassword": "TestPass123!",
	}, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("first register status = %d", resp.StatusCode)
	}

	resp, body := postJSON(t, server, "/auth/register", map[string]string{
		"email": "User@Example.com", "password": "TestPass123!", "confirmPassword": "TestPass123!",
	}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("duplicate register status = %d, want 400", resp.StatusCode)
	}
	if str(body, "error") != "validation_error" || str(body, "field") != "email" {
		t.Errorf("duplicate register body = %v", body)
	}
}

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	server := newTestServer(t)

	postJSON(t, server, "/auth/register", map[string]string{
		"email": "user@example.com", "password": "TestPass123!", "confirmPassword": "TestPass123!",
	}, nil)

	respUnknown, bodyUnknown := postJSON(t, server, "/auth/login", map[string]string{
		"email": "nobody@example.com", "password": "TestPass123!",
	}, nil)
	respWrong, bodyWrong := postJSON(t, server, "/auth/login", map[string]string{
		"email": "user@example.com", "password": "WrongPass123!",
	}, nil)

	if respUnknown.StatusCode != http.StatusUnauthorized || respWrong.StatusCode != http.StatusUnauthorized {
		t.Fatalf("statuses = %d, %d, want 401 for both", respUnknown.StatusCode, respWrong.StatusCode)
	}
	if fmt.Sprint(bodyUnknown) != fmt.Sprint(bodyWrong) {
		t.Errorf("bodies differ: %v vs %v", bodyUnknown, bodyWrong)
	}
}

func TestLoginRateLimit(t *testing.T) {
	server := newTestServer(t)

	for i := 1; i <= 5; i++ {
		resp, _ := postJSON(t, server, "/auth/login", map[string]string{
			"email": "victim@example.com", "password": "WrongPass123!",
		}, nil)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("attempt %d: status = %d, want 401", i, resp.StatusCode)
		}
	}

	resp, body := postJSON(t, server, "/auth/login", map[string]string{
		"email": "victim@example.com", "password": "WrongPass123!",
	}, nil)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("6th attempt status = %d, want 429", resp.StatusCode)
	}
	if str(body, "error") != "rate_limit_exceeded" {
		t.Errorf("error = %q, want rate_limit_exceeded", str(body, "error"))
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Error("429 response missing Retry-After header")
	}

	// A different email is unaffected.
	resp, _ = postJSON(t, server, "/auth/login", map[string]string{
		"email": "other@example.com", "password": "WrongPass123!",
	}, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("other email status = %d, want 401", resp.StatusCode)
	}
}

func TestRefreshRateLimit(t *testing.T) {
	server := newTestServer(t)

	// All requests share the test client's IP, so the per-IP window applies.
	for i := 1; i <= 10; i++ {
		resp, _ := postJSON(t, server, "/auth/refresh", map[string]string{
			"refreshToken": "not-a-real-token",
		}, nil)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("attempt %d: status = %d, want 401", i, resp.StatusCode)
		}
	}

	resp, body := postJSON(t, server, "/auth/refresh", map[string]string{
		"refreshToken": "not-a-real-token",
	}, nil)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("11th attempt status = %d, want 429", resp.StatusCode)
	}
	if str(body, "error") != "rate_limit_exceeded" {
		t.Errorf("error = %q, want rate_limit_exceeded", str(body, "error"))
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Error("429 response missing Retry-After header")
	}
}

func TestProtectedRouteTokenErrors(t *testing.T) {
	server := newTestServer(t)

	// No header
	resp, body := getJSON(t, server, "/auth/me", nil)
	if resp.StatusCode != http.StatusUnauthorized || str(body, "error") != "unauthorized" {
		t.Errorf("no header: status = %d, error = %q", resp.StatusCode, str(body, "error"))
	}

	// Malformed header
	resp, body = getJSON(t, server, "/auth/me", map[string]string{"Authorization": "Basic abc"})
	if resp.StatusCode != http.StatusUnauthorized || str(body, "error") != "unauthorized" {
		t.Errorf("malformed header: status = %d, error = %q", resp.StatusCode, str(body, "error"))
	}

	// Garbage token
	resp, body = getJSON(t, server, "/auth/me", map[string]string{"Authorization": "Bearer garbage"})
	if resp.StatusCode != http.StatusUnauthorized || str(body, "error") != "unauthorized" {
		t.Errorf("garbage token: status = %d, error = %q", resp.StatusCode, str(body, "error"))
	}

	// Expired token gets the distinct code so clients know to refresh.
	expired := makeExpiredToken(t)
	resp, body = getJSON(t, server, "/auth/me", map[string]string{"Authorization": "Bearer " + expired})
	if resp.StatusCode != http.StatusUnauthorized || str(body, "error") != "token_expired" {
		t.Errorf("expired token: status = %d, error = %q, want token_expired", resp.StatusCode, str(body, "error"))
	}
}

func makeExpiredToken(t *testing.T) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   uuid.New().String(),
		IssuedAt:  jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-30 * time.Minute)),
		Issuer:    "keygate",
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatal(err)
	}
	return token
}

func TestHealthEndpoint(t *testing.T) {
	server := newTestServer(t)

	resp, body := getJSON(t, server, "/health", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health status = %d, want 200", resp.StatusCode)
	}
	if str(body, "status") != "ok" {
		t.Errorf("health body = %v", body)
	}
}
