package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/heartflow/clinic/internal/config"
	"github.com/heartflow/clinic/internal/domain/diagnostics"
	"github.com/heartflow/clinic/internal/domain/identity"
	"github.com/heartflow/clinic/internal/domain/inbox"
	"github.com/heartflow/clinic/internal/domain/medication"
	"github.com/heartflow/clinic/internal/domain/referral"
	"github.com/heartflow/clinic/internal/domain/scheduling"
	"github.com/heartflow/clinic/internal/platform/apperror"
	"github.com/heartflow/clinic/internal/platform/auth"
	"github.com/heartflow/clinic/internal/platform/db"
	"github.com/heartflow/clinic/internal/platform/middleware"
	"github.com/heartflow/clinic/internal/platform/realtime"
	"github.com/heartflow/clinic/internal/platform/validation"
)

const (
	requestTimeout = 30 * time.Second
	bodyLimit      = "2M"
)

func runServer(migrate bool) error {
	// Config
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.IsDev())
	if err := cfg.Validate(); err != nil {
		logger.Error().Err(err).Msg("invalid configuration")
		return err
	}

	ctx := context.Background()
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("failed to start")
		return err
	}
	defer a.Close()
	logger.Info().Msg("connected to database")

	if migrate {
		m, err := db.NewMigrator(a.pool, logger)
		if err != nil {
			return err
		}
		err = m.Up(ctx)
		m.Close()
		if err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	e := newServer(a)

	// Graceful shutdown
	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("env", cfg.Env).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		logger.Error().Err(err).Msg("server error")
		return err
	}

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}

// newServer builds the echo instance with the middleware stack and every
// route mounted.
func newServer(a *app) *echo.Echo {
	cfg, logger := a.cfg, a.logger

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = apperror.HTTPErrorHandler(logger)
	e.Validator = validation.New()

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.Metrics(a.stats))
	e.Use(middleware.SecurityHeaders(!cfg.IsDev()))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))
	e.Use(echomw.BodyLimit(bodyLimit))
	e.Use(middleware.RequestTimeout(requestTimeout))

	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/health/db", db.HealthHandler(a.pool, func() *db.PoolStats {
		return db.StatsOf(a.pool)
	}))
	e.GET("/metrics", a.stats.Handler())

	// Rate limiting
	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
		IdleTTL:           10 * time.Minute,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	authLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.AuthRateLimitRPS,
		BurstSize:         int(cfg.AuthRateLimitRPS*2) + 1,
		IdleTTL:           10 * time.Minute,
	}
	if authLimitCfg.RequestsPerSecond <= 0 {
		authLimitCfg = rateLimitCfg
	}

	authMW := auth.JWTMiddleware(a.jwt)
	if cfg.IsDev() {
		authMW = auth.DevAuthMiddleware(a.jwt)
	}

	public := e.Group("/api/v1/auth", middleware.RateLimit(authLimitCfg))
	api := e.Group("/api/v1", authMW, middleware.RateLimit(rateLimitCfg), middleware.Audit(logger))

	identity.NewHandler(a.identity).RegisterRoutes(public, api)
	scheduling.NewHandler(a.scheduling).RegisterRoutes(api)
	medication.NewHandler(a.medication).RegisterRoutes(api)
	diagnostics.NewHandler(a.diagnostics).RegisterRoutes(api)
	referral.NewHandler(a.referral).RegisterRoutes(api)
	inbox.NewHandler(a.inbox).RegisterRoutes(api)
	api.GET("/notifications/stream", realtime.NewHandler(a.hub, cfg.CORSOrigins).Stream)

	return e
}
