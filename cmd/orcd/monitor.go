package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/tmuxorc/orcd/internal/cache"
	"github.com/tmuxorc/orcd/internal/config"
	"github.com/tmuxorc/orcd/internal/historydb"
	"github.com/tmuxorc/orcd/internal/logging"
	"github.com/tmuxorc/orcd/internal/monitor"
	"github.com/tmuxorc/orcd/internal/pool"
	"github.com/tmuxorc/orcd/internal/recovery"
	"github.com/tmuxorc/orcd/internal/router"
)

// runMonitor starts the Monitoring Engine: the discover/classify/notify
// cycle described in spec §4.G, with config hot-reload (§9.1) wired
// through internal/config's file watcher.
func runMonitor(args []string) error {
	fs := flag.NewFlagSet("monitor", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
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
	if lvl, err := logging.ParseLevel(cfg.LogLevel); err == nil {
		logging.SetLevel(lvl)
	}

	var current atomic.Pointer[config.Config]
	current.Store(cfg)
	cfgFn := func() *config.Config { return current.Load() }

	p, err := pool.New(adapterFactory(cfg), cfg.PoolMinSize, cfg.PoolMaxSize)
	if err != nil {
		return fmt.Errorf("create connection pool: %w", err)
	}
	defer p.Close()

	contentCache := cache.NewAgentContentCache(cfg.CacheMaxEntries, cfg.AgentContentTTL, cfg.AgentContentIdleTTL)
	cmdCache := cache.NewTMuxCommandCache(cfg.CacheMaxEntries, cfg.TMuxCommandTTL)

	r := router.New(cfg.SocketPath, cfg.BatchFlushSize, cfg.BatchMaxAge)

	var hist *historydb.DB
	if cfg.HistoryDB != "" {
		hist, err = historydb.Open(cfg.HistoryDB)
		if err != nil {
			slog.Warn("monitor: history database unavailable, recovery history disabled", "error", err)
			hist = nil
		} else {
			defer hist.Close()
		}
	}

	coordinator := recovery.New(r, hist, cfg.PMWindowIndex, cfg.PMGraceWindow)
	engine := monitor.New(cfgFn, p, contentCache, cmdCache, r, coordinator)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go contentCache.RunSweeper(ctx, cfg.CacheSweepInterval)
	go cmdCache.RunSweeper(ctx, cfg.CacheSweepInterval)

	watcher, err := config.NewWatcher(*configPath, func(reloaded *config.Config) {
		current.Store(reloaded)
		slog.Info("monitor: config reloaded")
	})
	if err != nil {
		return fmt.Errorf("create config watcher: %w", err)
	}
	go func() {
		if err := watcher.Watch(ctx); err != nil {
			slog.Warn("monitor: config watcher stopped", "error", err)
		}
	}()

	slog.Info("monitor: starting", "cycle_interval", cfg.CycleInterval)
	engine.Run(ctx)
	return nil
}
