package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/smartirrigation/irrigation-api/internal/config"
	"github.com/smartirrigation/irrigation-api/internal/crypto"
	"github.com/smartirrigation/irrigation-api/internal/handler"
	"github.com/smartirrigation/irrigation-api/internal/logging"
	"github.com/smartirrigation/irrigation-api/internal/middleware"
	"github.com/smartirrigation/irrigation-api/internal/repository"
	"github.com/smartirrigation/irrigation-api/internal/service"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Warn("no .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	logger := logging.New(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	connectCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	store, err := repository.Open(connectCtx, cfg.Store)
	cancel()
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := store.Close(closeCtx); err != nil {
			logger.Error("closing store", "error", err)
		}
	}()
	logger.Info("store connected", "driver", cfg.Store.Driver)

	trustedProxies, err := middleware.ParseTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		return err
	}
	if len(trustedProxies) > 0 {
		logger.Info("honoring forwarding headers", "trusted_proxies", cfg.TrustedProxies)
	}

	limiter, closeLimiter := newAuthLimiter(ctx, cfg, logger)
	defer closeLimiter()

	tokens := crypto.NewTokenIssuer(cfg.JWTSecret, cfg.JWTExpiry)
	activityService := service.NewActivityService(store.Activity(), logger)
	authService := service.NewAuthService(store.Users(), activityService, tokens, logger)

	router := handler.NewRouter(handler.RouterDeps{
		Auth:           authService,
		Activity:       activityService,
		Tokens:         tokens,
		Store:          store,
		AuthLimiter:    limiter,
		CORSOrigins:    cfg.CORSOrigins,
		TrustedProxies: trustedProxies,
		Logger:         logger,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", "port", cfg.Port, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

// newAuthLimiter prefers the Redis limiter so every replica shares one
// budget, and falls back to the in-process limiter.
func newAuthLimiter(ctx context.Context, cfg config.Config, logger *slog.Logger) (middleware.Limiter, func()) {
	if cfg.Redis.Addr == "" {
		return middleware.NewIPRateLimiter(ctx, cfg.RateLimit.RPS, cfg.RateLimit.Burst), func() {}
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	window := time.Duration(float64(cfg.RateLimit.Burst) / cfg.RateLimit.RPS * float64(time.Second))
	logger.Info("using redis rate limiter", "addr", cfg.Redis.Addr, "limit", cfg.RateLimit.Burst, "window", window)

	return middleware.NewRedisRateLimiter(rdb, cfg.RateLimit.Burst, window), func() {
		if err := rdb.Close(); err != nil {
			logger.Warn("closing redis client", "error", err)
		}
	}
}
