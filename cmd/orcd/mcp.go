package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/tmuxorc/orcd/internal/config"
	"github.com/tmuxorc/orcd/internal/historydb"
	"github.com/tmuxorc/orcd/internal/logging"
	"github.com/tmuxorc/orcd/internal/mcpserver"
	"github.com/tmuxorc/orcd/internal/router"
)

// runMCP starts the stdio MCP server fronting a running daemon.
func runMCP(args []string) error {
	fs := flag.NewFlagSet("mcp", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if lvl, err := logging.ParseLevel(cfg.LogLevel); err == nil {
		logging.SetLevel(lvl)
	}

	r := router.New(cfg.SocketPath, cfg.BatchFlushSize, cfg.BatchMaxAge)

	var hist *historydb.DB
	if cfg.HistoryDB != "" {
		hist, err = historydb.Open(cfg.HistoryDB)
		if err != nil {
			slog.Warn("mcp: history database unavailable, recovery_history tool disabled", "error", err)
			hist = nil
		} else {
			defer hist.Close()
		}
	}

	s := mcpserver.NewServer(r, cfg.SocketPath, cfg.CommandDeadline, hist)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return s.Run(ctx)
}
