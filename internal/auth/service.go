package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/keygate/backend/internal/audit"
	"github.com/keygate/backend/internal/db"
	"github.com/keygate/backend/internal/logger"
	"github.com/keygate/backend/internal/password"
)

var (
	// ErrInvalidCredentials covers both unknown email and wrong password.
	// Deliberately indistinguishable to prevent account enumeration.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrInvalidRefreshToken covers every refresh failure the client is
	// allowed to see: unknown, expired and reuse-detected all collapse into
	// this one. The audit trail keeps the distinction.
	ErrInvalidRefreshToken = errors.New("invalid refresh token")

	ErrInvalidAccessToken = errors.New("invalid access token")
	ErrAccessTokenExpired = errors.New("access token expired")

	// ErrStoreUnavailable wraps store failures (including timeouts) so the
	// boundary can map them to 503 instead of 500.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// Config carries the token parameters. JWTSecret is loaded once at process
// start; rotating it invalidates all outstanding access tokens, which is
// acceptable because they are short-lived.
type Config struct {
	JWTSecret       []byte
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	Issuer          string
}

// RequestMeta is the originating client metadata recorded with sessions and
// audit entries. Audit context only, not a security boundary.
type RequestMeta struct {
	IP        string
	UserAgent string
}

// TokenPair is the result of a successful login or refresh.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int
	UserID       uuid.UUID
}

type Service struct {
	users    UserStore
	sessions SessionStore
	auditor  *audit.Recorder
	log      *logger.Logger
	cfg      Config
}

func NewService(users UserStore, sessions SessionStore, auditor *audit.Recorder, log *logger.Logger, cfg Config) *Service {
	if cfg.Issuer == "" {
		cfg.Issuer = "keygate"
	}
	return &Service{
		users:    users,
		sessions: sessions,
		auditor:  auditor,
		log:      log,
		cfg:      cfg,
	}
}

// Register validates the inputs, hashes the password and creates the user.
// Every attempt writes one audit entry, including validation failures.
func (s *Service) Register(ctx context.Context, email, passwd, confirmPassword string, meta RequestMeta) (*db.User, error) {
	email = normalizeEmail(email)

	if verr := validateRegistration(email, passwd, confirmPassword); verr != nil {
		s.auditor.Record(ctx, audit.Event{
			Type:         audit.EventRegister,
			Success:      false,
			IP:           meta.IP,
			UserAgent:    meta.UserAgent,
			ErrorMessage: verr.Message,
		})
		return nil, verr
	}

	passwordHash, err := password.Hash(passwd)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := time.Now()
	user := &db.User{
		ID:           uuid.New(),
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, db.ErrEmailExists) {
			s.auditor.Record(ctx, audit.Event{
				Type:         audit.EventRegister,
				Success:      false,
				IP:           meta.IP,
				UserAgent:    meta.UserAgent,
				ErrorMessage: "email already registered",
			})
			return nil, db.ErrEmailExists
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	s.auditor.Record(ctx, audit.Event{
		Type:      audit.EventRegister,
		UserID:    uuid.NullUUID{UUID: user.ID, Valid: true},
		Success:   true,
		IP:        meta.IP,
		UserAgent: meta.UserAgent,
	})

	return user, nil
}

// Login verifies the credentials and opens a new session lineage. The
// unknown-email path burns a dummy hash verification so its timing matches
// the wrong-password path.
func (s *Service) Login(ctx context.Context, email, passwd string, meta RequestMeta) (*TokenPair, error) {
	email = normalizeEmail(email)

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, db.ErrUserNotFound) {
			password.VerifyDummy(passwd)
			s.auditor.Record(ctx, audit.Event{
				Type:         audit.EventLogin,
				Success:      false,
				IP:           meta.IP,
				UserAgent:    meta.UserAgent,
				ErrorMessage: "unknown email",
			})
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	ok, err := password.Verify(user.PasswordHash, passwd)
	if err != nil {
		// A malformed stored hash is data corruption, not a bad credential.
		return nil, fmt.Errorf("failed to verify password for user %s: %w", user.ID, err)
	}
	if !ok {
		s.auditor.Record(ctx, audit.Event{
			Type:         audit.EventLogin,
			UserID:       uuid.NullUUID{UUID: user.ID, Valid: true},
			Success:      false,
			IP:           meta.IP,
			UserAgent:    meta.UserAgent,
			ErrorMessage: "wrong password",
		})
		return nil, ErrInvalidCredentials
	}

	pair, err := s.openSession(ctx, user.ID, meta)
	if err != nil {
		return nil, err
	}

	s.auditor.Record(ctx, audit.Event{
		Type:      audit.EventLogin,
		UserID:    uuid.NullUUID{UUID: user.ID, Valid: true},
		Success:   true,
		IP:        meta.IP,
		UserAgent: meta.UserAgent,
	})

	return pair, nil
}

// Refresh rotates the presented refresh token. The store performs the swap as
// one conditional update, so concurrent refreshes with the same token yield
// exactly one winner; the loser comes back here as a rotate miss.
func (s *Service) Refresh(ctx context.Context, rawRefreshToken string, meta RequestMeta) (*TokenPair, error) {
	newRaw, err := newRefreshToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate refresh token: %w", err)
	}

	// Reuse stays detectable for one access-token lifetime after rotation:
	// the window in which a stolen-then-superseded token could still matter.
	session, err := s.sessions.Rotate(ctx, hashToken(rawRefreshToken), hashToken(newRaw), s.cfg.RefreshTokenTTL, s.cfg.AccessTokenTTL)
	if err != nil {
		return nil, s.handleRotateFailure(ctx, err, meta)
	}

	accessToken, _, err := s.issueAccessToken(session.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to sign access token: %w", err)
	}

	s.auditor.Record(ctx, audit.Event{
		Type:      audit.EventRefresh,
		UserID:    uuid.NullUUID{UUID: session.UserID, Valid: true},
		Success:   true,
		IP:        meta.IP,
		UserAgent: meta.UserAgent,
	})

	return &TokenPair{
		AccessToken:  accessToken,
		RefreshToken: newRaw,
		ExpiresIn:    int(s.cfg.AccessTokenTTL.Seconds()),
		UserID:       session.UserID,
	}, nil
}

// handleRotateFailure maps a rotate miss to the client-facing generic error,
// cascading revocation when the miss is a reuse signal.
func (s *Service) handleRotateFailure(ctx context.Context, err error, meta RequestMeta) error {
	var reuse *db.ReuseDetectedError
	switch {
	case errors.As(err, &reuse):
		// A superseded token came back: assume the lineage is compromised
		// and force full re-authentication on every device.
		if delErr := s.sessions.DeleteAllForUser(ctx, reuse.UserID); delErr != nil {
			s.log.Error(ctx, "failed to revoke sessions after reuse detection", delErr, map[string]any{
				"user_id": reuse.UserID.String(),
			})
		}
		s.auditor.Record(ctx, audit.Event{
			Type:         audit.EventReuseDetected,
			UserID:       uuid.NullUUID{UUID: reuse.UserID, Valid: true},
			Success:      false,
			IP:           meta.IP,
			UserAgent:    meta.UserAgent,
			ErrorMessage: "superseded refresh token presented, all sessions revoked",
		})
		return ErrInvalidRefreshToken

	case errors.Is(err, db.ErrSessionExpired):
		s.auditor.Record(ctx, audit.Event{
			Type:         audit.EventRefresh,
			Success:      false,
			IP:           meta.IP,
			UserAgent:    meta.UserAgent,
			ErrorMessage: "refresh token expired",
		})
		return ErrInvalidRefreshToken

	case errors.Is(err, db.ErrSessionNotFound):
		s.auditor.Record(ctx, audit.Event{
			Type:         audit.EventRefresh,
			Success:      false,
			IP:           meta.IP,
			UserAgent:    meta.UserAgent,
			ErrorMessage: "unknown refresh token",
		})
		return ErrInvalidRefreshToken

	default:
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
}

// Logout invalidates the session holding the presented refresh token.
// Idempotent: logging out an already-gone session succeeds.
func (s *Service) Logout(ctx context.Context, userID uuid.UUID, rawRefreshToken string, meta RequestMeta) error {
	if err := s.sessions.DeleteByTokenHash(ctx, hashToken(rawRefreshToken)); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	s.auditor.Record(ctx, audit.Event{
		Type:      audit.EventLogout,
		UserID:    uuid.NullUUID{UUID: userID, Valid: true},
		Success:   true,
		IP:        meta.IP,
		UserAgent: meta.UserAgent,
	})

	return nil
}

// GetUserByID loads a user for protected-route handlers.
func (s *Service) GetUserByID(ctx context.Context, id uuid.UUID) (*db.User, error) {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, db.ErrUserNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return user, nil
}

// PruneExpiredSessions removes sessions past their expiry. Run periodically.
func (s *Service) PruneExpiredSessions(ctx context.Context) (int64, error) {
	return s.sessions.DeleteExpired(ctx)
}

// openSession mints a token pair and persists the new session lineage.
func (s *Service) openSession(ctx context.Context, userID uuid.UUID, meta RequestMeta) (*TokenPair, error) {
	rawRefresh, err := newRefreshToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate refresh token: %w", err)
	}

	now := time.Now()
	session := &db.Session{
		ID:         uuid.New(),
		UserID:     userID,
		TokenHash:  hashToken(rawRefresh),
		ExpiresAt:  now.Add(s.cfg.RefreshTokenTTL),
		CreatedAt:  now,
		LastUsedAt: now,
		UserAgent:  meta.UserAgent,
		IP:         meta.IP,
	}

	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	accessToken, _, err := s.issueAccessToken(userID)
	if err != nil {
		return nil, fmt.Errorf("failed to sign access token: %w", err)
	}

	return &TokenPair{
		AccessToken:  accessToken,
		RefreshToken: rawRefresh,
		ExpiresIn:    int(s.cfg.AccessTokenTTL.Seconds()),
		UserID:       userID,
	}, nil
}
