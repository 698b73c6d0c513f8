package db

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

type PoolStats struct {
	TotalConns    int32  `json:"total_conns"`
	IdleConns     int32  `json:"idle_conns"`
	AcquiredConns int32  `json:"acquired_conns"`
	MaxConns      int32  `json:"max_conns"`
	AcquireWait   string `json:"acquire_wait"`
}

func statsOf(pool *pgxpool.Pool) PoolStats {
	s := pool.Stat()
	return PoolStats{
		TotalConns:    s.TotalConns(),
		IdleConns:     s.IdleConns(),
		AcquiredConns: s.AcquiredConns(),
		MaxConns:      s.MaxConns(),
		AcquireWait:   s.AcquireDuration().String(),
	}
}

// StoreHealth is the body served by HealthHandler.
type StoreHealth struct {
	Status  string     `json:"status"`
	Backend string     `json:"backend"`
	Schema  string     `json:"schema,omitempty"`
	Pending *int       `json:"pending_migrations,omitempty"`
	Pool    *PoolStats `json:"pool,omitempty"`
	Error   string     `json:"error,omitempty"`
}

// HealthHandler reports storage health. A nil pool means the in-memory
// backend is active and there is nothing to ping. For postgres the schema
// is also checked for unapplied migrations, which mark it degraded.
func HealthHandler(pool *pgxpool.Pool, schema string) echo.HandlerFunc {
	return func(c echo.Context) error {
		if pool == nil {
			return c.JSON(http.StatusOK, StoreHealth{Status: "healthy", Backend: "memory"})
		}

		ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()

		h := StoreHealth{Status: "healthy", Backend: "postgres", Schema: schema}
		if err := pool.Ping(ctx); err != nil {
			h.Status, h.Error = "unhealthy", err.Error()
			return c.JSON(http.StatusServiceUnavailable, h)
		}
		stats := statsOf(pool)
		h.Pool = &stats

		statuses, err := NewMigrator(pool, Migrations()).Status(ctx, schema)
		if err != nil {
			h.Status, h.Error = "degraded", err.Error()
			return c.JSON(http.StatusOK, h)
		}
		pending := PendingCount(statuses)
		h.Pending = &pending
		if pending > 0 {
			h.Status = "degraded"
		}
		return c.JSON(http.StatusOK, h)
	}
}

func PendingCount(statuses []MigrationStatus) int {
	n := 0
	for _, s := range statuses {
		if !s.Applied {
			n++
		}
	}
	return n
}
