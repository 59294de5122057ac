package db

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"

	"github.com/heartflow/clinic/pkg/response"
)

const healthTimeout = 3 * time.Second

// PoolStats is the subset of pgxpool.Stat reported by /health/db.
type PoolStats struct {
	Total      int32  `json:"total_conns"`
	Idle       int32  `json:"idle_conns"`
	Acquired   int32  `json:"acquired_conns"`
	Max        int32  `json:"max_conns"`
	Acquires   int64  `json:"acquire_count"`
	WaitedFor  string `json:"acquire_duration"`
	EmptyWaits int64  `json:"empty_acquire_count"`
}

func StatsOf(pool *pgxpool.Pool) *PoolStats {
	s := pool.Stat()
	return &PoolStats{
		Total:      s.TotalConns(),
		Idle:       s.IdleConns(),
		Acquired:   s.AcquiredConns(),
		Max:        s.MaxConns(),
		Acquires:   s.AcquireCount(),
		WaitedFor:  s.AcquireDuration().String(),
		EmptyWaits: s.EmptyAcquireCount(),
	}
}

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

type healthReport struct {
	Database  string     `json:"database"`
	LatencyMS int64      `json:"latency_ms"`
	Pool      *PoolStats `json:"pool,omitempty"`
}

// HealthHandler answers GET /health/db with 200 when a ping succeeds and 503
// otherwise. Driver errors stay out of the body.
func HealthHandler(p Pinger, stats func() *PoolStats) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), healthTimeout)
		defer cancel()

		start := time.Now()
		err := p.Ping(ctx)
		report := healthReport{Database: "up", LatencyMS: time.Since(start).Milliseconds()}
		if stats != nil {
			report.Pool = stats()
		}
		if err != nil {
			report.Database = "down"
			return c.JSON(http.StatusServiceUnavailable, response.Envelope{
				Message: "database unreachable",
				Data:    report,
			})
		}
		return response.OK(c, "database healthy", report)
	}
}
