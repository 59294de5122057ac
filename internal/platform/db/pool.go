package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/tracelog"
	"github.com/rs/zerolog"
)

const applicationName = "heartflow-clinic"

type poolOptions struct {
	maxConns    int32
	minConns    int32
	maxIdle     time.Duration
	maxLifetime time.Duration
	tracer      *tracelog.TraceLog
}

// PoolOption adjusts how NewPool configures the pool.
type PoolOption func(*poolOptions)

// WithConnLimits bounds the number of open connections.
func WithConnLimits(maxConns, minConns int32) PoolOption {
	return func(o *poolOptions) {
		o.maxConns = maxConns
		o.minConns = minConns
	}
}

// WithConnLifetime recycles connections after the given age. Zero keeps the
// pgx default.
func WithConnLifetime(d time.Duration) PoolOption {
	return func(o *poolOptions) { o.maxLifetime = d }
}

// WithQueryLog sends pgx trace events to logger. verbose logs every query at
// debug; otherwise only warnings and errors are kept.
func WithQueryLog(logger zerolog.Logger, verbose bool) PoolOption {
	return func(o *poolOptions) {
		level := tracelog.LogLevelWarn
		if verbose {
			level = tracelog.LogLevelDebug
		}
		o.tracer = &tracelog.TraceLog{Logger: zerologAdapter(logger), LogLevel: level}
	}
}

func zerologAdapter(logger zerolog.Logger) tracelog.Logger {
	l := logger.With().Str("component", "pgx").Logger()
	return tracelog.LoggerFunc(func(ctx context.Context, level tracelog.LogLevel, msg string, data map[string]any) {
		var evt *zerolog.Event
		switch level {
		case tracelog.LogLevelError:
			evt = l.Error()
		case tracelog.LogLevelWarn:
			evt = l.Warn()
		case tracelog.LogLevelInfo:
			evt = l.Info()
		default:
			evt = l.Debug()
		}
		evt.Fields(data).Msg(msg)
	})
}

// NewPool connects to Postgres and verifies the connection with a ping.
func NewPool(ctx context.Context, databaseURL string, opts ...PoolOption) (*pgxpool.Pool, error) {
	o := poolOptions{maxConns: 10, minConns: 1, maxIdle: 5 * time.Minute}
	for _, opt := range opts {
		opt(&o)
	}

	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConns = o.maxConns
	cfg.MinConns = o.minConns
	cfg.MaxConnIdleTime = o.maxIdle
	if o.maxLifetime > 0 {
		cfg.MaxConnLifetime = o.maxLifetime
	}
	if o.tracer != nil {
		cfg.ConnConfig.Tracer = o.tracer
	}
	cfg.ConnConfig.RuntimeParams["application_name"] = applicationName
	cfg.ConnConfig.RuntimeParams["timezone"] = "UTC"

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}
