package main

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/analytics/internal/config"
	"github.com/ehr/analytics/internal/domain/records"
	"github.com/ehr/analytics/internal/ingest"
	"github.com/ehr/analytics/internal/platform/analytics"
	"github.com/ehr/analytics/internal/platform/db"
	"github.com/ehr/analytics/internal/platform/metrics"
	"github.com/ehr/analytics/internal/platform/middleware"
	"github.com/ehr/analytics/internal/platform/reporting"
)

const version = "0.1.0"

// backend is the configured store. pool is nil for the memory backend.
type backend struct {
	store records.Store
	pool  *pgxpool.Pool
}

// openBackend connects the configured store. The memory backend is filled
// from DATA_DIR when it is set.
func openBackend(ctx context.Context, cfg *config.Config, logger zerolog.Logger, counter ingest.Counter) (*backend, error) {
	switch cfg.StoreBackend {
	case config.BackendPostgres:
		pool, err := db.NewPool(ctx, db.PoolConfig{
			URL:      cfg.DatabaseURL,
			MaxConns: cfg.DBMaxConns,
			MinConns: cfg.DBMinConns,
			Schema:   cfg.DBSchema,
		})
		if err != nil {
			return nil, err
		}
		logger.Info().Str("schema", cfg.DBSchema).Msg("connected to database")
		return &backend{store: records.NewPGStore(pool), pool: pool}, nil

	case config.BackendMemory:
		store := records.NewMemStore()
		if cfg.DataDir != "" {
			if _, err := ingest.NewLoader(store, logger, counter).LoadDir(ctx, cfg.DataDir); err != nil {
				return nil, fmt.Errorf("load %s: %w", cfg.DataDir, err)
			}
		}
		return &backend{store: store}, nil
	}
	return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
}

func reportingDefaults(cfg *config.Config) reporting.Defaults {
	return reporting.Defaults{
		SelfPaySentinel:     cfg.SelfPaySentinel,
		ChronicCodes:        cfg.ChronicCodeList(),
		RetentionWindowDays: cfg.RetentionWindowDays,
		ERWindowDays:        cfg.ERWindowDays,
		LatePaymentDays:     cfg.LatePaymentDays,
	}
}

func newServer(cfg *config.Config, b *backend, collector *metrics.Collector, logger zerolog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(collector.Middleware())
	e.Use(middleware.RequestTimeout(middleware.TimeoutConfig{
		Timeout: cfg.RequestTimeout,
		Skip:    middleware.SkipPrefixes("/metrics"),
	}))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/health/db", db.HealthHandler(b.pool, cfg.DBSchema))
	e.GET("/metrics", echo.WrapHandler(collector.Handler()))

	apiV1 := e.Group("/api/v1")

	records.NewHandler(b.store).RegisterRoutes(apiV1)

	engine := analytics.NewEngine(b.store, analytics.Options{Logger: logger})
	svc := reporting.NewService(engine, reportingDefaults(cfg), collector, logger)
	reporting.NewHandler(svc).RegisterRoutes(apiV1)

	return e
}

func printStatus(w io.Writer, schema string, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "Migration status for schema: %s\n", schema)
	fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(w, "---------- ---------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(w, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

func printCounts(w io.Writer, counts ingest.Counts) {
	for _, kind := range records.Kinds {
		fmt.Fprintf(w, "%-14s %d\n", kind, counts[kind])
	}
	fmt.Fprintf(w, "%-14s %d\n", "total", counts.Total())
}
