package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	apperrors "github.com/keygate/backend/internal/errors"
)

type contextKey string

const userIDContextKey contextKey = "user_id"

// Middleware authenticates requests with a Bearer access token and attaches
// the user ID to the context. Verification is pure signature checking, no
// store lookup. The 401 body distinguishes token_expired from unauthorized so
// client interceptors know whether to refresh or re-login.
func Middleware(service *Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := apperrors.GetRequestID(r.Context())

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				apperrors.WriteError(w, requestID, apperrors.Unauthorized("missing authorization header"))
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				apperrors.WriteError(w, requestID, apperrors.Unauthorized("invalid authorization header format"))
				return
			}

			userID, err := service.VerifyAccessToken(parts[1])
			if err != nil {
				if errors.Is(err, ErrAccessTokenExpired) {
					apperrors.WriteError(w, requestID, apperrors.TokenExpired())
					return
				}
				apperrors.WriteError(w, requestID, apperrors.Unauthorized("invalid access token"))
				return
			}

			ctx := context.WithValue(r.Context(), userIDContextKey, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserIDFromContext returns the authenticated user ID attached by Middleware.
// Downstream authorization ("users can only access their own resource") is
// the route owner's responsibility using this ID.
func UserIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	userID, ok := ctx.Value(userIDContextKey).(uuid.UUID)
	return userID, ok
}
