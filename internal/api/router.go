package api

import (
	"net/http"

	"github.com/keygate/backend/internal/auth"
	apperrors "github.com/keygate/backend/internal/errors"
	"github.com/keygate/backend/internal/health"
	"github.com/keygate/backend/internal/metrics"
)

type Router struct {
	mux          *http.ServeMux
	authHandlers *auth.Handlers
	authService  *auth.Service
	checker      *health.Checker
}

func NewRouter(authHandlers *auth.Handlers, authService *auth.Service, checker *health.Checker) *Router {
	r := &Router{
		mux:          http.NewServeMux(),
		authHandlers: authHandlers,
		authService:  authService,
		checker:      checker,
	}
	r.setupRoutes()
	return r
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

func (r *Router) setupRoutes() {
	// Probes and metrics
	r.mux.HandleFunc("GET /health", r.checker.LiveHandler)
	r.mux.HandleFunc("GET /health/ready", r.checker.ReadyHandler)
	r.mux.Handle("GET /metrics", metrics.Handler())

	// Auth routes (no auth required)
	r.mux.HandleFunc("POST /auth/register", apperrors.HandleFunc(r.authHandlers.Register))
	r.mux.HandleFunc("POST /auth/login", apperrors.HandleFunc(r.authHandlers.Login))
	r.mux.HandleFunc("POST /auth/refresh", apperrors.HandleFunc(r.authHandlers.Refresh))

	// Auth routes (Bearer token required)
	r.mux.HandleFunc("POST /auth/logout", r.withAuth(apperrors.HandleFunc(r.authHandlers.Logout)))
	r.mux.HandleFunc("GET /auth/me", r.withAuth(apperrors.HandleFunc(r.authHandlers.Me)))
}

func (r *Router) withAuth(next http.HandlerFunc) http.HandlerFunc {
	middleware := auth.Middleware(r.authService)
	return func(w http.ResponseWriter, req *http.Request) {
		middleware(next).ServeHTTP(w, req)
	}
}
