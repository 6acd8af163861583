// Command steward runs the MCP host daemon: it connects configured MCP
// servers, enforces the permission policy, and serves the admin API.
//
// Configuration is read from a YAML file discovered via -config,
// STEWARD_CONFIG, ./config.yaml, or /etc/steward/config.yaml, with
// environment overrides applied on top (see pkg/config).
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/steward-dev/steward/pkg/admin"
	"github.com/steward-dev/steward/pkg/config"
	"github.com/steward-dev/steward/pkg/conn"
	"github.com/steward-dev/steward/pkg/debug"
	"github.com/steward-dev/steward/pkg/events"
	"github.com/steward-dev/steward/pkg/permission"
	"github.com/steward-dev/steward/pkg/storage/memory"
	"github.com/steward-dev/steward/pkg/storage/postgres"
)

func main() {
	if err := run(); err != nil {
		slog.Error("steward failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to the configuration file")
	flag.Parse()

	debug.Init("", "")

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Grant persistence.
	var store permission.GrantStore
	switch cfg.Storage.Type {
	case "postgres":
		pg, err := postgres.New(ctx, postgres.Config{
			DSN:            cfg.Storage.Postgres.DSN,
			MaxConns:       cfg.Storage.Postgres.MaxConns,
			MigrateOnStart: cfg.Storage.Postgres.MigrateOnStart,
		})
		if err != nil {
			return fmt.Errorf("opening grant store: %w", err)
		}
		defer pg.Close()
		store = pg
		slog.Info("grant storage enabled", "type", "postgres")
	default:
		store = memory.New()
		slog.Info("grant storage enabled", "type", "memory")
	}

	bus := events.NewBus()
	defer bus.Close()

	engine, err := permission.New(cfg.Permissions, store, bus)
	if err != nil {
		return fmt.Errorf("creating permission engine: %w", err)
	}
	defer engine.Shutdown()

	manager := conn.NewManager(cfg.Servers, engine, bus)
	defer manager.StopAll()

	// Connect auto-start servers; a failing server is reported, not fatal.
	for _, s := range cfg.Servers {
		if !s.Enabled || !s.AutoStart {
			continue
		}
		if err := manager.StartServer(ctx, s.ID); err != nil {
			slog.Warn("auto-start failed", "server", s.ID, "error", err)
		}
	}

	// Admin API, health, and metrics.
	adapter := admin.NewAdapter(manager, engine, bus)
	mux := http.NewServeMux()
	mux.Handle("/", adapter.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok\n"))
	})
	if cfg.Observability.Metrics.Enabled {
		mux.Handle("GET "+cfg.Observability.Metrics.Path, promhttp.Handler())
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Admin.Port),
		Handler:      mux,
		ReadTimeout:  cfg.Admin.ReadTimeout,
		WriteTimeout: cfg.Admin.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("admin API starting", "port", cfg.Admin.Port, "servers", len(cfg.Servers))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down gracefully")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
