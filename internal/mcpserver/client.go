package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"time"
)

// wireRequest/wireResponse mirror the daemon's JSON wire contract (spec
// §6), independently of internal/daemon's unexported protocol types and
// internal/router's own copy of the same shape — every client of the
// socket speaks the wire format, not a shared Go type.
type wireRequest struct {
	Command string `json:"command"`
	Target  string `json:"target,omitempty"`
	Lines   int    `json:"lines,omitempty"`
}

type wireResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`

	Content string `json:"content,omitempty"`

	UptimeSeconds      float64 `json:"uptime_seconds,omitempty"`
	MessagesProcessed  int64   `json:"messages_processed,omitempty"`
	QueueSize          int     `json:"queue_size,omitempty"`
	AvgDeliveryTimeMS  float64 `json:"avg_delivery_time_ms,omitempty"`
	CurrentPerformance string  `json:"current_performance,omitempty"`

	MinMS         float64 `json:"min_ms,omitempty"`
	AvgMS         float64 `json:"avg_ms,omitempty"`
	P95MS         float64 `json:"p95_ms,omitempty"`
	MaxMS         float64 `json:"max_ms,omitempty"`
	TargetMS      int     `json:"target_ms,omitempty"`
	MeetingTarget bool    `json:"meeting_target,omitempty"`
}

// daemonClient issues read/status/stats commands directly against the
// Message Daemon's Unix socket. Publish goes through *router.Router
// instead, since that is the path carrying priority policy and CLI
// fallback.
type daemonClient struct {
	socketPath string
	timeout    time.Duration
}

func newDaemonClient(socketPath string, timeout time.Duration) *daemonClient {
	return &daemonClient{socketPath: socketPath, timeout: timeout}
}

func (c *daemonClient) call(ctx context.Context, req wireRequest) (wireResponse, error) {
	dialCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(dialCtx, "unix", c.socketPath)
	if err != nil {
		return wireResponse{}, fmt.Errorf("dial daemon socket: %w", err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(c.timeout))

	data, err := json.Marshal(req)
	if err != nil {
		return wireResponse{}, fmt.Errorf("marshal request: %w", err)
	}
	if _, err := conn.Write(data); err != nil {
		return wireResponse{}, fmt.Errorf("write request: %w", err)
	}
	if uc, ok := conn.(*net.UnixConn); ok {
		_ = uc.CloseWrite()
	}

	var resp wireResponse
	if err := json.NewDecoder(conn).Decode(&resp); err != nil && err != io.EOF {
		return wireResponse{}, fmt.Errorf("decode response: %w", err)
	}
	if resp.Status == "error" {
		return wireResponse{}, fmt.Errorf("daemon returned error: %s", resp.Message)
	}
	return resp, nil
}

func (c *daemonClient) read(ctx context.Context, target string, lines int) (wireResponse, error) {
	return c.call(ctx, wireRequest{Command: "read", Target: target, Lines: lines})
}

func (c *daemonClient) status(ctx context.Context) (wireResponse, error) {
	return c.call(ctx, wireRequest{Command: "status"})
}

func (c *daemonClient) stats(ctx context.Context) (wireResponse, error) {
	return c.call(ctx, wireRequest{Command: "stats"})
}
