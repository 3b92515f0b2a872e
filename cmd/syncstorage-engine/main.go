// Command syncstorage-engine runs the storage engine's background
// jobs (schema migration, expired-record purge) and exposes its
// Prometheus metrics, the way the pack's Cobra+Viper service
// entrypoints wire a small command tree around one long-running
// process.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mozilla-services/syncstorage-engine/config"
	"github.com/mozilla-services/syncstorage-engine/storage"
	"github.com/mozilla-services/syncstorage-engine/storage/backend"
	"github.com/mozilla-services/syncstorage-engine/storage/backend/memory"
	"github.com/mozilla-services/syncstorage-engine/storage/backend/postgres"
	"github.com/mozilla-services/syncstorage-engine/storage/backend/spanner"
)

var configPath string

func main() {
	log, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init:", err)
		os.Exit(1)
	}
	defer log.Sync() //nolint:errcheck

	if err := newRootCmd(log).Execute(); err != nil {
		log.Fatal("command failed", zap.Error(err))
	}
}

func newRootCmd(log *zap.Logger) *cobra.Command {
	root := &cobra.Command{
		Use:   "syncstorage-engine",
		Short: "Multi-tenant BSO storage engine",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a config file (optional; env vars always apply)")

	root.AddCommand(newServeCmd(log))
	root.AddCommand(newMigrateCmd(log))
	root.AddCommand(newPurgeCmd(log))
	return root
}

func openAdapter(ctx context.Context, cfg config.Config, log *zap.Logger) (backend.Adapter, error) {
	switch cfg.Backend {
	case config.BackendMemory, "":
		return memory.New(), nil
	case config.BackendPostgres:
		if cfg.PostgresDSN == "" {
			return nil, errors.New("postgres backend selected but postgres_dsn is empty")
		}
		return postgres.Open(ctx, cfg.PostgresDSN, log)
	case config.BackendSpanner:
		if cfg.SpannerDatabase == "" {
			return nil, errors.New("spanner backend selected but spanner_database is empty")
		}
		return spanner.Open(ctx, cfg.SpannerDatabase, log)
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

func newServeCmd(log *zap.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run schema migration (if applicable) and expose Prometheus metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			adapter, err := openAdapter(ctx, cfg, log)
			if err != nil {
				return fmt.Errorf("opening %s backend: %w", cfg.Backend, err)
			}

			db := storage.New(adapter, cfg.Storage.ToStorageConfig(), log)
			defer db.Close() //nolint:errcheck

			registry := prometheus.NewRegistry()
			if err := db.RegisterMetrics(registry); err != nil {
				return fmt.Errorf("registering metrics: %w", err)
			}

			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
			mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
				if _, err := db.Check(r.Context()); err != nil {
					w.WriteHeader(http.StatusServiceUnavailable)
					return
				}
				w.WriteHeader(http.StatusOK)
			})

			srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = srv.Shutdown(shutdownCtx)
			}()

			log.Info("listening", zap.String("addr", cfg.MetricsAddr), zap.String("backend", string(cfg.Backend)))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
}

func newMigrateCmd(log *zap.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending Postgres schema migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if cfg.Backend != config.BackendPostgres {
				return fmt.Errorf("migrate only applies to the postgres backend (configured backend: %q)", cfg.Backend)
			}
			adapter, err := openAdapter(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			// postgres.Open already runs pending migrations to completion
			// before returning; reaching here means they succeeded.
			return adapter.Close()
		},
	}
}

func newPurgeCmd(log *zap.Logger) *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Hard-delete expired BSOs across every user and collection",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			adapter, err := openAdapter(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer adapter.Close() //nolint:errcheck

			db := storage.New(adapter, cfg.Storage.ToStorageConfig(), log)
			n, err := db.PurgeExpired(ctx, time.Now().Add(-olderThan))
			if err != nil {
				return err
			}
			log.Info("purge complete", zap.Int64("deleted", n))
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "purge BSOs expired for at least this long")
	return cmd
}
