package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/tmuxorc/orcd/internal/config"
)

// cliRequest/cliResponse mirror the daemon's JSON wire contract (spec
// §6). A fourth independent copy: the CLI only needs to marshal a
// request and print whatever JSON the daemon sends back, so it never
// needs the router's or the MCP server's richer typed responses.
type cliRequest struct {
	Command  string   `json:"command"`
	Target   string   `json:"target,omitempty"`
	Content  string   `json:"content,omitempty"`
	Subject  string   `json:"subject,omitempty"`
	Priority string   `json:"priority,omitempty"`
	Category string   `json:"category,omitempty"`
	Tags     []string `json:"tags,omitempty"`
	Sender   string   `json:"sender,omitempty"`
	Lines    int      `json:"lines,omitempty"`
}

// dialAndCall sends req over the daemon's Unix socket and copies the
// raw response bytes to stdout, so this binary's stdout is exactly
// what internal/router's CLI-fallback path expects to parse.
func dialAndCall(socketPath string, timeout time.Duration, req cliRequest) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", socketPath)
	if err != nil {
		return fmt.Errorf("dial daemon socket: %w", err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(timeout))

	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	if _, err := conn.Write(data); err != nil {
		return fmt.Errorf("write request: %w", err)
	}
	if uc, ok := conn.(*net.UnixConn); ok {
		_ = uc.CloseWrite()
	}

	if _, err := io.Copy(os.Stdout, conn); err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	return nil
}

func loadClientConfig(configPath string) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func runPublish(args []string) error {
	fs := flag.NewFlagSet("publish", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	target := fs.String("target", "", "agent target as session:window")
	content := fs.String("content", "", "message body")
	subject := fs.String("subject", "", "message subject")
	priority := fs.String("priority", "normal", "low, normal, high or critical")
	category := fs.String("category", "task", "health, recovery, status, task or escalation")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadClientConfig(*configPath)
	if err != nil {
		return err
	}
	return dialAndCall(cfg.SocketPath, cfg.CommandDeadline, cliRequest{
		Command: "publish", Target: *target, Content: *content,
		Subject: *subject, Priority: *priority, Category: *category,
	})
}

func runRead(args []string) error {
	fs := flag.NewFlagSet("read", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	target := fs.String("target", "", "agent target as session:window")
	lines := fs.Int("lines", 50, "number of pane lines to capture")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadClientConfig(*configPath)
	if err != nil {
		return err
	}
	return dialAndCall(cfg.SocketPath, cfg.CaptureDeadline, cliRequest{
		Command: "read", Target: *target, Lines: *lines,
	})
}

func runStatus(args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadClientConfig(*configPath)
	if err != nil {
		return err
	}
	return dialAndCall(cfg.SocketPath, cfg.CommandDeadline, cliRequest{Command: "status"})
}

func runStats(args []string) error {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadClientConfig(*configPath)
	if err != nil {
		return err
	}
	return dialAndCall(cfg.SocketPath, cfg.CommandDeadline, cliRequest{Command: "stats"})
}
