package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/analytics/internal/config"
	"github.com/ehr/analytics/internal/ingest"
	"github.com/ehr/analytics/internal/platform/analytics"
	"github.com/ehr/analytics/internal/platform/db"
	"github.com/ehr/analytics/internal/platform/metrics"
	"github.com/ehr/analytics/internal/platform/reporting"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "ehr-analytics",
		Short:        "Healthcare records store and analytics API",
		SilenceUsage: true,
	}
	root.AddCommand(serveCmd(), migrateCmd(), loadCmd(), seedCmd(), reportCmd())
	return root
}

// setup loads and validates config and builds the process logger.
func setup() (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	logger := newLogger(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, logger, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, logger, nil
}

func newLogger(cfg *config.Config) zerolog.Logger {
	logger := zerolog.New(os.Stdout)
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen})
	}
	return logger.Level(cfg.Level()).With().Timestamp().Str("service", "ehr-analytics").Logger()
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the analytics API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			return runServer(cmd.Context(), cfg, logger)
		},
	}
}

func runServer(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	collector := metrics.NewCollector()
	b, err := openBackend(ctx, cfg, logger, collector)
	if err != nil {
		return err
	}
	defer b.store.Close()

	e := newServer(cfg, b, collector, logger)

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("backend", cfg.StoreBackend).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	logger.Info().Msg("server stopped")
	return nil
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	var schema string
	withMigrator := func(run func(ctx context.Context, m *db.Migrator, schema string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			cfg, _, err := setup()
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == "" {
				return fmt.Errorf("DATABASE_URL is required for migrations")
			}
			if schema == "" {
				schema = cfg.DBSchema
			}
			if !db.ValidSchema(schema) {
				return fmt.Errorf("invalid schema name: %q", schema)
			}

			ctx := cmd.Context()
			pool, err := db.NewPool(ctx, db.PoolConfig{
				URL: cfg.DatabaseURL, MaxConns: cfg.DBMaxConns, MinConns: cfg.DBMinConns,
			})
			if err != nil {
				return err
			}
			defer pool.Close()
			return run(ctx, db.NewMigrator(pool, db.Migrations()), schema)
		}
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: withMigrator(func(ctx context.Context, m *db.Migrator, schema string) error {
			fmt.Fprintf(os.Stdout, "Running migrations on schema: %s\n", schema)
			count, err := m.Up(ctx, schema)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintf(os.Stdout, "Applied %d migration(s) successfully.\n", count)
			return nil
		}),
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: withMigrator(func(ctx context.Context, m *db.Migrator, schema string) error {
			statuses, err := m.Status(ctx, schema)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			printStatus(os.Stdout, schema, statuses)
			return nil
		}),
	}

	for _, c := range []*cobra.Command{upCmd, statusCmd} {
		c.Flags().StringVar(&schema, "schema", "", "target schema (defaults to DB_SCHEMA)")
		cmd.AddCommand(c)
	}
	return cmd
}

func loadCmd() *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "load",
		Short: "Bulk-load CSV files into the configured store",
		Long: "Reads patients.csv, doctors.csv, visits.csv, diagnoses.csv, prescriptions.csv,\n" +
			"lab_results.csv and billing.csv from --dir. With the memory backend the load\n" +
			"only validates the files.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			// DATA_DIR is skipped so the memory backend starts empty.
			cfg.DataDir = ""
			b, err := openBackend(cmd.Context(), cfg, logger, nil)
			if err != nil {
				return err
			}
			defer b.store.Close()

			counts, err := ingest.NewLoader(b.store, logger, nil).LoadDir(cmd.Context(), dir)
			if err != nil {
				return err
			}
			printCounts(os.Stdout, counts)
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "./data", "directory holding the CSV files")
	return cmd
}

func seedCmd() *cobra.Command {
	var (
		opts ingest.SeedOptions
		out  string
	)
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Generate a synthetic data set",
		Long:  "Generates a referentially consistent data set and inserts it into the configured\nstore, or writes it as CSV files when --out is given.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			opts.SelfPaySentinel = cfg.SelfPaySentinel
			d, err := ingest.Generate(opts)
			if err != nil {
				return err
			}
			logger.Info().Str("run_id", d.RunID).Uint64("seed", opts.Seed).Msg("data set generated")

			if out != "" {
				if err := ingest.WriteDir(out, d); err != nil {
					return err
				}
				fmt.Fprintf(os.Stdout, "Wrote seed run %s to %s\n", d.RunID, out)
				return nil
			}

			cfg.DataDir = ""
			b, err := openBackend(cmd.Context(), cfg, logger, nil)
			if err != nil {
				return err
			}
			defer b.store.Close()
			counts, err := ingest.NewLoader(b.store, logger, nil).LoadDataset(cmd.Context(), d)
			if err != nil {
				return err
			}
			printCounts(os.Stdout, counts)
			return nil
		},
	}
	cmd.Flags().Uint64Var(&opts.Seed, "seed", 1, "random seed; 0 picks one at random")
	cmd.Flags().IntVar(&opts.Patients, "patients", 200, "number of patients")
	cmd.Flags().IntVar(&opts.Doctors, "doctors", 20, "number of doctors")
	cmd.Flags().IntVar(&opts.Visits, "visits", 1000, "number of visits")
	cmd.Flags().StringVar(&out, "out", "", "write CSV files to this directory instead of the store")
	return cmd
}

func reportCmd() *cobra.Command {
	var params map[string]string
	cmd := &cobra.Command{
		Use:   "report <measure>",
		Short: "Evaluate one measure and print the report as JSON",
		Args:  cobra.ExactArgs(1),
		ValidArgsFunction: func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
			ids := make([]string, 0, len(reporting.PredefinedMeasures))
			for _, m := range reporting.PredefinedMeasures {
				ids = append(ids, m.ID)
			}
			return ids, cobra.ShellCompDirectiveNoFileComp
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			b, err := openBackend(cmd.Context(), cfg, logger, nil)
			if err != nil {
				return err
			}
			defer b.store.Close()

			engine := analytics.NewEngine(b.store, analytics.Options{Logger: logger})
			svc := reporting.NewService(engine, reportingDefaults(cfg), nil, logger)
			report, err := svc.Evaluate(cmd.Context(), args[0], params)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}
	cmd.Flags().StringToStringVarP(&params, "param", "p", nil, "measure parameter as name=value (repeatable)")
	return cmd
}
