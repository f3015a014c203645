package main

import (
	"context"
	stdlog "log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"

	"github.com/keygate/backend/internal/api"
	"github.com/keygate/backend/internal/audit"
	"github.com/keygate/backend/internal/auth"
	"github.com/keygate/backend/internal/config"
	"github.com/keygate/backend/internal/db"
	apperrors "github.com/keygate/backend/internal/errors"
	"github.com/keygate/backend/internal/health"
	"github.com/keygate/backend/internal/logger"
	"github.com/keygate/backend/internal/metrics"
	"github.com/keygate/backend/internal/middleware"
	"github.com/keygate/backend/internal/ratelimit"
)

func main() {
	cfg := config.Load()

	log := logger.New(os.Stdout, logger.ParseLevel(cfg.LogLevel), "server")
	logger.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	database, err := db.New(cfg.DBHost, cfg.DBPort, cfg.DBUser, cfg.DBPassword, cfg.DBName)
	if err != nil {
		stdlog.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	if err := database.Migrate(); err != nil {
		stdlog.Fatalf("Failed to run migrations: %v", err)
	}

	userRepo := db.NewUserRepository(database)
	sessionRepo := db.NewSessionRepository(database)
	authLogRepo := db.NewAuthLogRepository(database)

	auditor := audit.NewRecorder(authLogRepo, log.WithComponent("audit"))

	// The shared rate-limit store is optional at startup: without it the
	// in-process fallback enforces per-instance limits.
	var rateLimitPrimary ratelimit.Store
	var redisClient *redis.Client
	redisStore, err := ratelimit.NewRedisStore(cfg.RedisAddr)
	if err != nil {
		log.Warn(ctx, "rate-limit store unreachable at startup, using in-process counters", map[string]any{
			"addr":  cfg.RedisAddr,
			"error": err.Error(),
		})
	} else {
		defer redisStore.Close()
		rateLimitPrimary = redisStore
		redisClient = redisStore.Client()
	}

	memStore := ratelimit.NewMemoryStore()
	memStore.StartCleanup(ctx, time.Minute, maxDuration(cfg.LoginRateWindow, cfg.RefreshRateWindow))
	limiter := ratelimit.NewLimiter(rateLimitPrimary, memStore, log.WithComponent("ratelimit"))

	authService := auth.NewService(userRepo, sessionRepo, auditor, log.WithComponent("auth"), auth.Config{
		JWTSecret:       []byte(cfg.JWTSecret),
		AccessTokenTTL:  cfg.AccessTokenTTL,
		RefreshTokenTTL: cfg.RefreshTokenTTL,
	})
	authHandlers := auth.NewHandlers(authService, limiter, auth.RateLimits{
		LoginMax:      cfg.LoginRateMax,
		LoginWindow:   cfg.LoginRateWindow,
		RefreshMax:    cfg.RefreshRateMax,
		RefreshWindow: cfg.RefreshRateWindow,
	})

	checker := health.NewChecker(database.DB, redisClient)
	router := api.NewRouter(authHandlers, authService, checker)

	go pruneSessions(ctx, authService, log.WithComponent("maintenance"))

	corsMiddleware := cors.New(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization", apperrors.RequestIDHeader},
		ExposedHeaders: []string{apperrors.RequestIDHeader, "Retry-After"},
	})

	handler := middleware.Chain(router,
		apperrors.RequestIDMiddleware,
		middleware.Logging(log.WithComponent("http")),
		middleware.Metrics,
		corsMiddleware.Handler,
		middleware.Recoverer(log),
	)

	server := &http.Server{
		Addr:              cfg.ServerAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	log.Info(ctx, "starting server", map[string]any{"addr": cfg.ServerAddr})
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		stdlog.Fatalf("Server failed: %v", err)
	}
}

// pruneSessions periodically removes expired session rows.
func pruneSessions(ctx context.Context, service *auth.Service, log *logger.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			pruneCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			n, err := service.PruneExpiredSessions(pruneCtx)
			cancel()
			if err != nil {
				log.Error(ctx, "failed to prune expired sessions", err)
				continue
			}
			metrics.RecordSessionsPruned(n)
			if n > 0 {
				log.Info(ctx, "pruned expired sessions", map[string]any{"count": n})
			}
		case <-ctx.Done():
			return
		}
	}
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}
