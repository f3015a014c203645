package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/keygate/backend/internal/db"
	apperrors "github.com/keygate/backend/internal/errors"
	"github.com/keygate/backend/internal/metrics"
	"github.com/keygate/backend/internal/ratelimit"
)

type RegisterRequest struct {
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
}

type RegisterResponse struct {
	UserID  string `json:"userID"`
	Email   string `json:"email"`
	Message string `json:"message"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type LogoutRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type TokenResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int    `json:"expiresIn"`
	TokenType    string `json:"tokenType"`
	UserID       string `json:"userID,omitempty"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

type UserResponse struct {
	UserID        string    `json:"userID"`
	Email         string    `json:"email"`
	EmailVerified bool      `json:"emailVerified"`
	CreatedAt     time.Time `json:"createdAt"`
}

// RateLimits are the per-endpoint throttling parameters.
type RateLimits struct {
	LoginMax      int
	LoginWindow   time.Duration
	RefreshMax    int
	RefreshWindow time.Duration
}

type Handlers struct {
	service *Service
	limiter *ratelimit.Limiter
	limits  RateLimits
}

func NewHandlers(service *Service, limiter *ratelimit.Limiter, limits RateLimits) *Handlers {
	return &Handlers{
		service: service,
		limiter: limiter,
		limits:  limits,
	}
}

func (h *Handlers) Register(w http.ResponseWriter, r *http.Request) error {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return apperrors.ValidationError("invalid request body")
	}

	user, err := h.service.Register(r.Context(), req.Email, req.Password, req.ConfirmPassword, requestMeta(r))
	if err != nil {
		return mapServiceError(err)
	}

	resp := RegisterResponse{
		UserID:  user.ID.String(),
		Email:   user.Email,
		Message: "account created",
	}
	apperrors.WriteJSON(w, apperrors.GetRequestID(r.Context()), http.StatusCreated, resp)
	return nil
}

func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) error {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return apperrors.ValidationError("invalid request body")
	}
	if req.Email == "" {
		return apperrors.ValidationError("email is required").WithField("email")
	}
	if req.Password == "" {
		return apperrors.ValidationError("password is required").WithField("password")
	}

	// Throttle before the verifier so hashing cost is never paid under attack.
	decision := h.limiter.Allow(r.Context(), ratelimit.LoginKey(req.Email), h.limits.LoginMax, h.limits.LoginWindow)
	if !decision.Allowed {
		metrics.RecordRateLimitRejection("login")
		setRetryAfter(w, decision.RetryAfter)
		return apperrors.RateLimitExceeded()
	}

	pair, err := h.service.Login(r.Context(), req.Email, req.Password, requestMeta(r))
	if err != nil {
		return mapServiceError(err)
	}

	resp := TokenResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresIn:    pair.ExpiresIn,
		TokenType:    "Bearer",
		UserID:       pair.UserID.String(),
	}
	apperrors.WriteJSON(w, apperrors.GetRequestID(r.Context()), http.StatusOK, resp)
	return nil
}

func (h *Handlers) Refresh(w http.ResponseWriter, r *http.Request) error {
	var req RefreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return apperrors.ValidationError("invalid request body")
	}
	if req.RefreshToken == "" {
		return apperrors.ValidationError("refreshToken is required").WithField("refreshToken")
	}

	decision := h.limiter.Allow(r.Context(), ratelimit.RefreshKey(ratelimit.ClientIP(r)), h.limits.RefreshMax, h.limits.RefreshWindow)
	if !decision.Allowed {
		metrics.RecordRateLimitRejection("refresh")
		setRetryAfter(w, decision.RetryAfter)
		return apperrors.RateLimitExceeded()
	}

	pair, err := h.service.Refresh(r.Context(), req.RefreshToken, requestMeta(r))
	if err != nil {
		return mapServiceError(err)
	}

	// No userID on refresh responses; the client already holds it.
	resp := TokenResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresIn:    pair.ExpiresIn,
		TokenType:    "Bearer",
	}
	apperrors.WriteJSON(w, apperrors.GetRequestID(r.Context()), http.StatusOK, resp)
	return nil
}

func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) error {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		return apperrors.Unauthorized("not authenticated")
	}

	var req LogoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return apperrors.ValidationError("invalid request body")
	}
	if req.RefreshToken == "" {
		return apperrors.ValidationError("refreshToken is required").WithField("refreshToken")
	}

	if err := h.service.Logout(r.Context(), userID, req.RefreshToken, requestMeta(r)); err != nil {
		return mapServiceError(err)
	}

	apperrors.WriteJSON(w, apperrors.GetRequestID(r.Context()), http.StatusOK, MessageResponse{Message: "logged out"})
	return nil
}

// Me returns the authenticated user. Also serves as the reference for how
// downstream resource routes consume the attached user ID.
func (h *Handlers) Me(w http.ResponseWriter, r *http.Request) error {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		return apperrors.Unauthorized("not authenticated")
	}

	user, err := h.service.GetUserByID(r.Context(), userID)
	if err != nil {
		if errors.Is(err, db.ErrUserNotFound) {
			// Token subject no longer exists; treat as a dead token.
			return apperrors.Unauthorized("unknown user")
		}
		return mapServiceError(err)
	}

	resp := UserResponse{
		UserID:        user.ID.String(),
		Email:         user.Email,
		EmailVerified: user.EmailVerified,
		CreatedAt:     user.CreatedAt,
	}
	apperrors.WriteJSON(w, apperrors.GetRequestID(r.Context()), http.StatusOK, resp)
	return nil
}

// mapServiceError translates service outcomes to client-safe responses.
func mapServiceError(err error) error {
	var appErr *apperrors.AppError
	switch {
	case errors.As(err, &appErr):
		return appErr
	case errors.Is(err, db.ErrEmailExists):
		return apperrors.ValidationError("email already registered").WithField("email")
	case errors.Is(err, ErrInvalidCredentials):
		return apperrors.Unauthorized("invalid email or password")
	case errors.Is(err, ErrInvalidRefreshToken):
		return apperrors.Unauthorized("invalid refresh token")
	case errors.Is(err, ErrStoreUnavailable):
		return apperrors.ServiceUnavailable().WithCause(err)
	default:
		return apperrors.InternalError("an unexpected error occurred").WithCause(err)
	}
}

func requestMeta(r *http.Request) RequestMeta {
	return RequestMeta{
		IP:        ratelimit.ClientIP(r),
		UserAgent: r.UserAgent(),
	}
}

func setRetryAfter(w http.ResponseWriter, retryAfter time.Duration) {
	if retryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds()+1)))
	}
}
