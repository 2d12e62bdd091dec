package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	sqldblogger "github.com/simukti/sqldb-logger"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"go.datum.net/revisiongc/internal/tracing"
	"go.datum.net/revisiongc/pkg/checkpoint"
	"go.datum.net/revisiongc/pkg/clock"
	"go.datum.net/revisiongc/pkg/gc"
	"go.datum.net/revisiongc/pkg/store"
)

// sqlLoggerFunc adapts a plain function to sqldb-logger's Logger interface.
type sqlLoggerFunc func(ctx context.Context, level sqldblogger.Level, msg string, data map[string]interface{})

func (f sqlLoggerFunc) Log(ctx context.Context, level sqldblogger.Level, msg string, data map[string]interface{}) {
	f(ctx, level, msg, data)
}

func newRunCommand() *cobra.Command {
	var (
		dsn               string
		maxAge            time.Duration
		scratchDir        string
		overflowThreshold int
		metricsAddr       string
		applySchema       bool
		checkpointID      string
		enableTracing     bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one version GC pass against a Postgres-backed document store",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

			if enableTracing {
				tp, err := tracing.Configure(cmd.Context(), "revisiongc")
				if err != nil {
					return fmt.Errorf("initialize tracing: %w", err)
				}
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					if err := tp.Shutdown(shutdownCtx); err != nil {
						logger.Error("tracer shutdown failed", "error", err)
					}
				}()
			}

			db, err := sql.Open("postgres", dsn)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}

			db = sqldblogger.OpenDriver(dsn, db.Driver(), sqlLoggerFunc(func(ctx context.Context, level sqldblogger.Level, msg string, data map[string]interface{}) {
				logger.DebugContext(ctx, msg, "data", data)
			}))
			defer db.Close()

			if applySchema {
				if _, err := db.ExecContext(cmd.Context(), store.Schema); err != nil {
					return fmt.Errorf("apply node store schema: %w", err)
				}
				if _, err := db.ExecContext(cmd.Context(), checkpoint.Schema); err != nil {
					return fmt.Errorf("apply checkpoint schema: %w", err)
				}
			}

			nodeStore := store.NewPostgresStore(db)
			checkpoints := checkpoint.NewPostgresRegistry(db, checkpointID)
			systemClock := clock.System{}

			registry := prometheus.NewRegistry()
			metrics := gc.NewMetrics(registry)
			if metricsAddr != "" {
				mux := http.NewServeMux()
				mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
				srv := &http.Server{Addr: metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
				go func() {
					if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
						logger.Error("metrics server stopped", "error", err)
					}
				}()
				logger.Info("serving metrics", "addr", metricsAddr)
			}

			orchestrator := gc.NewOrchestrator(
				nodeStore,
				checkpoints,
				systemClock,
				nodeStore,
				gc.ClockHeadRevisions{Clock: systemClock},
				gc.WithLogger(logger),
				gc.WithMetrics(metrics),
				gc.WithScratchDir(scratchDir),
				gc.WithOverflowToDiskThreshold(overflowThreshold),
			)

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			stats, err := orchestrator.GC(ctx, maxAge)
			if err != nil {
				return fmt.Errorf("gc run: %w", err)
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(stats)
		},
	}

	cmd.Flags().StringVar(&dsn, "dsn", "", "Postgres connection string (required)")
	cmd.Flags().DurationVar(&maxAge, "max-age", 24*time.Hour, "minimum age of a candidate before it is eligible for collection")
	cmd.Flags().StringVar(&scratchDir, "scratch-dir", "", "directory for external-sort spill files (empty uses the OS default)")
	cmd.Flags().IntVar(&overflowThreshold, "overflow-threshold", 100_000, "in-memory candidate id buffer size before spilling to disk")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "address to serve Prometheus metrics on, e.g. :9090 (disabled if empty)")
	cmd.Flags().BoolVar(&applySchema, "apply-schema", false, "create the node/checkpoint tables if they don't exist")
	cmd.Flags().StringVar(&checkpointID, "checkpoint-id", "default", "id of the checkpoint row to read the oldest revision to keep from")
	cmd.Flags().BoolVar(&enableTracing, "enable-tracing", false, "export run spans via OTLP/gRPC (destination set through OTEL_EXPORTER_OTLP_* env vars)")
	_ = cmd.MarkFlagRequired("dsn")

	return cmd
}
