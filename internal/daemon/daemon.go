// Package daemon implements the Message Daemon (spec §4.E): a
// Unix-socket JSON server that accepts publish/read/status/stats
// commands, queues deliveries FIFO, and delivers them to agents
// through the Terminal Capability pool.
package daemon

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/tmuxorc/orcd/internal/config"
	"github.com/tmuxorc/orcd/internal/envelope"
	"github.com/tmuxorc/orcd/internal/historydb"
	"github.com/tmuxorc/orcd/internal/metrics"
	"github.com/tmuxorc/orcd/internal/pool"
	"github.com/tmuxorc/orcd/internal/store"
	"github.com/tmuxorc/orcd/internal/terminal"
	"github.com/tmuxorc/orcd/internal/validate"
)

const maxRequestBytes = 8 * 1024

// TerminalAdapter is the subset of the Terminal Capability the daemon
// drives directly. *terminal.Adapter satisfies it structurally; tests
// supply a fake.
type TerminalAdapter interface {
	pool.Adapter
	Capture(ctx context.Context, target validate.Target, lines int) (string, error)
	Send(ctx context.Context, target validate.Target, text string) error
	PressKey(ctx context.Context, target validate.Target, key terminal.Key) error
}

type queuedDelivery struct {
	envelope   envelope.Envelope
	enqueuedAt time.Time
}

// Daemon owns the socket listener, the delivery queue, and the
// performance telemetry window.
type Daemon struct {
	cfg     *config.Config
	pool    *pool.Pool
	store   *store.Store
	hist    *historydb.DB // may be nil: durable mirroring is optional
	builder envelope.Builder
	window  *window

	mu        sync.Mutex
	queue     []queuedDelivery
	processed int64

	startedAt time.Time
	listener  net.Listener
	connWG    sync.WaitGroup
}

// New constructs a Daemon. hist may be nil to disable durable
// snapshotting.
func New(cfg *config.Config, p *pool.Pool, st *store.Store, hist *historydb.DB) *Daemon {
	return &Daemon{
		cfg:     cfg,
		pool:    p,
		store:   st,
		hist:    hist,
		builder: envelope.NewBuilder("daemon", "core"),
		window:  newWindow(cfg.DeliveryWindow),
	}
}

// Serve runs the daemon until ctx is cancelled, then shuts down:
// stops accepting, drains the queue for the configured grace period,
// and returns once the delivery and background loops have exited.
func (d *Daemon) Serve(ctx context.Context) error {
	if err := os.RemoveAll(d.cfg.SocketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove stale socket: %w", err)
	}
	ln, err := net.Listen("unix", d.cfg.SocketPath)
	if err != nil {
		return fmt.Errorf("listen on socket %s: %w", d.cfg.SocketPath, err)
	}
	d.listener = ln
	d.startedAt = time.Now()
	slog.Info("daemon listening", "socket", d.cfg.SocketPath)

	bgCtx, cancelBG := context.WithCancel(context.Background())
	defer cancelBG()

	var bgWG sync.WaitGroup
	bgWG.Add(2)
	go func() { defer bgWG.Done(); d.deliveryLoop(bgCtx) }()
	go func() { defer bgWG.Done(); d.snapshotLoop(bgCtx) }()

	acceptDone := make(chan struct{})
	go func() {
		defer close(acceptDone)
		d.acceptLoop(ctx)
	}()

	<-ctx.Done()
	slog.Info("daemon shutdown initiated")
	_ = ln.Close()
	<-acceptDone
	d.connWG.Wait()

	d.drain(d.cfg.ShutdownGrace)
	cancelBG()
	bgWG.Wait()

	slog.Info("daemon shutdown complete", "messages_processed", d.processed)
	return nil
}

// drain waits for the queue to empty, up to grace.
func (d *Daemon) drain(grace time.Duration) {
	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		d.mu.Lock()
		empty := len(d.queue) == 0
		d.mu.Unlock()
		if empty {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	d.mu.Lock()
	remaining := len(d.queue)
	d.mu.Unlock()
	if remaining > 0 {
		slog.Warn("shutdown grace elapsed with deliveries still queued", "remaining", remaining)
	}
}

func (d *Daemon) acceptLoop(ctx context.Context) {
	for {
		conn, err := d.listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Warn("accept failed", "error", err)
			continue
		}
		d.connWG.Add(1)
		go func() {
			defer d.connWG.Done()
			d.handleConn(ctx, conn)
		}()
	}
}

func (d *Daemon) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	deadline := d.cfg.CommandDeadline
	if deadline <= 0 {
		deadline = 60 * time.Second
	}
	_ = conn.SetDeadline(time.Now().Add(deadline))

	reader := bufio.NewReader(io.LimitReader(conn, maxRequestBytes+1))
	data, err := io.ReadAll(reader)
	if err != nil {
		slog.Warn("read request", "error", err)
		return
	}
	if len(data) > maxRequestBytes {
		d.writeResponse(conn, errorResponse("request exceeds 8KiB limit"))
		return
	}

	cmdCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	resp := d.dispatch(cmdCtx, data)
	d.writeResponse(conn, resp)
}

func (d *Daemon) writeResponse(conn net.Conn, resp response) {
	data, err := json.Marshal(resp)
	if err != nil {
		slog.Error("marshal response", "error", err)
		return
	}
	if _, err := conn.Write(data); err != nil {
		slog.Warn("write response", "error", err)
	}
}

func (d *Daemon) dispatch(ctx context.Context, data []byte) response {
	start := time.Now()

	var req request
	if err := json.Unmarshal(data, &req); err != nil {
		metrics.RecordCommand("malformed", "error", start)
		return errorResponse(fmt.Sprintf("malformed request: %v", err))
	}

	var resp response
	switch req.Command {
	case "publish":
		resp = d.handlePublish(req)
	case "read":
		resp = d.handleRead(ctx, req)
	case "status":
		resp = d.handleStatus()
	case "stats":
		resp = d.handleStats()
	default:
		resp = errorResponse(fmt.Sprintf("Unknown command: %s", req.Command))
	}

	status := "ok"
	if resp.Status == "error" {
		status = "error"
	}
	metrics.RecordCommand(req.Command, status, start)
	return resp
}

func (d *Daemon) handlePublish(req request) response {
	target, err := validate.ParseTarget(req.Target)
	if err != nil {
		return errorResponse(err.Error())
	}

	body := req.Content
	if body == "" {
		body = req.Message
	}
	if body == "" {
		return errorResponse("publish: content must not be empty")
	}

	priorityStr := req.Priority
	if priorityStr == "" {
		priorityStr = "normal"
	}
	priority, err := envelope.ParsePriority(priorityStr)
	if err != nil {
		return errorResponse(err.Error())
	}

	category := envelope.Category(req.Category)
	if category == "" {
		category = envelope.CategoryTask
	}

	var opts []envelope.Option
	if len(req.Tags) > 0 {
		opts = append(opts, envelope.WithTags(req.Tags...))
	}

	content := envelope.Content{Subject: req.Subject, Body: body}
	e := d.builder.Build(target, category, priority, content, opts...)

	qsize := d.enqueue(e)
	return response{Status: "queued", MessageID: e.ID, QueueSize: qsize}
}

// enqueue appends e to the FIFO queue and returns the new depth.
func (d *Daemon) enqueue(e envelope.Envelope) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.queue = append(d.queue, queuedDelivery{envelope: e, enqueuedAt: time.Now()})
	metrics.QueueDepth.Set(float64(len(d.queue)))
	return len(d.queue)
}

func (d *Daemon) handleRead(ctx context.Context, req request) response {
	target, err := validate.ParseTarget(req.Target)
	if err != nil {
		return errorResponse(err.Error())
	}

	a, err := d.pool.Acquire(ctx, d.cfg.PoolAcquireTimeout)
	if err != nil {
		return errorResponse(fmt.Sprintf("acquire terminal adapter: %v", err))
	}
	defer d.pool.Release(ctx, a)

	ta, ok := a.(TerminalAdapter)
	if !ok {
		return errorResponse("terminal adapter does not support read")
	}

	lines := req.Lines
	content, err := ta.Capture(ctx, target, lines)
	if err != nil {
		return errorResponse(fmt.Sprintf("capture target: %v", err))
	}
	return response{Status: "success", Content: content, Timestamp: time.Now().UTC()}
}

func (d *Daemon) handleStatus() response {
	d.mu.Lock()
	qsize := len(d.queue)
	processed := d.processed
	d.mu.Unlock()

	avg := d.window.avgAll()
	perf := "ok"
	targetMS := float64(d.cfg.PerformanceTargetMS)
	if targetMS <= 0 {
		targetMS = 100
	}
	if avg >= targetMS {
		perf = "degraded"
	}

	return response{
		Status:             "success",
		UptimeSeconds:      time.Since(d.startedAt).Seconds(),
		MessagesProcessed:  processed,
		QueueSize:          qsize,
		AvgDeliveryTimeMS:  avg,
		CurrentPerformance: perf,
	}
}

func (d *Daemon) handleStats() response {
	targetMS := float64(d.cfg.PerformanceTargetMS)
	if targetMS <= 0 {
		targetMS = 100
	}
	min, avg, p95, max, count, meeting := d.window.stats(100, targetMS)
	if count == 0 {
		meeting = false
	}
	return response{
		Status:        "success",
		MinMS:         min,
		AvgMS:         avg,
		P95MS:         p95,
		MaxMS:         max,
		TargetMS:      int(targetMS),
		MeetingTarget: meeting,
	}
}
