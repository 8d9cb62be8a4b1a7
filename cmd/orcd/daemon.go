package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tmuxorc/orcd/internal/config"
	"github.com/tmuxorc/orcd/internal/daemon"
	"github.com/tmuxorc/orcd/internal/historydb"
	"github.com/tmuxorc/orcd/internal/logging"
	"github.com/tmuxorc/orcd/internal/metrics"
	"github.com/tmuxorc/orcd/internal/pool"
	"github.com/tmuxorc/orcd/internal/store"
	"github.com/tmuxorc/orcd/internal/terminal"
)

const metricsShutdownGrace = 2 * time.Second

// runDaemon starts the Message Daemon: the socket listener that
// accepts publish/read/status/stats requests (spec §4.E).
func runDaemon(args []string) error {
	fs := flag.NewFlagSet("daemon", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	logLevel := fs.String("log-level", "", "override the configured log level")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if lvl, err := logging.ParseLevel(cfg.LogLevel); err == nil {
		logging.SetLevel(lvl)
	}

	p, err := pool.New(adapterFactory(cfg), cfg.PoolMinSize, cfg.PoolMaxSize)
	if err != nil {
		return fmt.Errorf("create connection pool: %w", err)
	}
	defer p.Close()

	st := store.New(cfg.MessagesDir(), cfg.StoreMaxEntries)

	var hist *historydb.DB
	if cfg.HistoryDB != "" {
		hist, err = historydb.Open(cfg.HistoryDB)
		if err != nil {
			slog.Warn("daemon: history database unavailable, recovery history disabled", "error", err)
			hist = nil
		} else {
			defer hist.Close()
		}
	}

	d := daemon.New(cfg, p, st, hist)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.MetricsAddr != "" {
		go serveMetrics(ctx, cfg.MetricsAddr)
	}

	slog.Info("daemon: starting", "socket", cfg.SocketPath)
	return d.Serve(ctx)
}

// adapterFactory returns a pool.Factory constructing tmux-backed
// Terminal Capability adapters (spec §4.A).
func adapterFactory(cfg *config.Config) pool.Factory {
	return func() (pool.Adapter, error) {
		return &terminal.Adapter{CallBudget: cfg.CaptureDeadline}, nil
	}
}

// serveMetrics runs a Prometheus /metrics endpoint until ctx is done.
func serveMetrics(ctx context.Context, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.HTTPMiddleware(promhttp.Handler()))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	srv := &http.Server{Addr: addr, Handler: logging.HTTPMiddleware(mux)}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), metricsShutdownGrace)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("daemon: metrics listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Warn("daemon: metrics server stopped", "error", err)
	}
}
