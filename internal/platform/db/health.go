package db

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

const healthTimeout = 5 * time.Second

// PoolStats represents database connection pool statistics.
type PoolStats struct {
	TotalConns      int32  `json:"total_conns"`
	IdleConns       int32  `json:"idle_conns"`
	AcquiredConns   int32  `json:"acquired_conns"`
	MaxConns        int32  `json:"max_conns"`
	AcquireCount    int64  `json:"acquire_count"`
	AcquireDuration string `json:"acquire_duration"`
}

// Probe is the part of a pool the health endpoint needs.
type Probe interface {
	Ping(ctx context.Context) error
	Stats() PoolStats
}

// PoolProbe adapts a pgxpool.Pool to Probe.
type PoolProbe struct {
	Pool *pgxpool.Pool
}

func (p PoolProbe) Ping(ctx context.Context) error { return p.Pool.Ping(ctx) }

func (p PoolProbe) Stats() PoolStats {
	stat := p.Pool.Stat()
	return PoolStats{
		TotalConns:      stat.TotalConns(),
		IdleConns:       stat.IdleConns(),
		AcquiredConns:   stat.AcquiredConns(),
		MaxConns:        stat.MaxConns(),
		AcquireCount:    stat.AcquireCount(),
		AcquireDuration: stat.AcquireDuration().String(),
	}
}

type healthResponse struct {
	Status string    `json:"status"`
	Pool   PoolStats `json:"pool"`
}

// HealthHandler answers /health/db. The driver error is logged and never
// returned: it can carry host names and credentials.
func HealthHandler(probe Probe, logger zerolog.Logger) echo.HandlerFunc {
	logger = logger.With().Str("component", "db_health").Logger()
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), healthTimeout)
		defer cancel()

		err := probe.Ping(ctx)
		stats := probe.Stats()

		if err != nil {
			logger.Error().Err(err).Msg("database ping failed")
			return c.JSON(http.StatusServiceUnavailable, healthResponse{Status: "unhealthy", Pool: stats})
		}
		return c.JSON(http.StatusOK, healthResponse{Status: "healthy", Pool: stats})
	}
}
