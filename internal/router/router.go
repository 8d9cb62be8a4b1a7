// Package router implements the Priority Router (spec §4.F): a
// client-side wrapper around the Message Daemon that picks a delivery
// path and timeout per priority, batches low-priority traffic, and
// falls back to a CLI invocation when the daemon socket is
// unreachable.
package router

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os/exec"
	"sync"
	"time"

	"github.com/tmuxorc/orcd/internal/envelope"
	"github.com/tmuxorc/orcd/internal/validate"
)

// policy describes how a priority class is delivered.
type policy struct {
	retry       bool
	retryUnder  time.Duration
	timeout     time.Duration
}

var policyTable = map[envelope.Priority]policy{
	envelope.PriorityCritical: {retry: true, retryUnder: 50 * time.Millisecond, timeout: 50 * time.Millisecond},
	envelope.PriorityHigh:     {retry: true, retryUnder: 75 * time.Millisecond, timeout: 75 * time.Millisecond},
	envelope.PriorityNormal:   {retry: false, timeout: 100 * time.Millisecond},
	envelope.PriorityLow:      {retry: false, timeout: 500 * time.Millisecond},
}

// wireRequest/wireResponse mirror the daemon's JSON shape (spec §6).
// They are intentionally independent of internal/daemon's unexported
// protocol types: the contract is the wire format, not a shared Go type.
type wireRequest struct {
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

type wireResponse struct {
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
	MessageID string `json:"message_id,omitempty"`
	QueueSize int    `json:"queue_size,omitempty"`
	Content   string `json:"content,omitempty"`
}

// Result is what Publish returns to a caller.
type Result struct {
	MessageID string
	QueueSize int
	Method    Method
	ElapsedMS float64
}

// Router dispatches envelopes to a Message Daemon.
type Router struct {
	socketPath     string
	cliBin         string
	builder        envelope.Builder
	telemetry      *telemetry
	performanceMS  float64

	batchFlushSize int
	batchMaxAge    time.Duration

	mu      sync.Mutex
	batches map[string][]envelope.Envelope
	timers  map[string]*time.Timer
}

// Option customizes a Router.
type Option func(*Router)

// WithCLIBinary overrides the binary invoked for CLI fallback
// (default "orcd").
func WithCLIBinary(bin string) Option {
	return func(r *Router) { r.cliBin = bin }
}

// New creates a Router targeting the daemon's Unix socket.
func New(socketPath string, batchFlushSize int, batchMaxAge time.Duration, opts ...Option) *Router {
	r := &Router{
		socketPath:     socketPath,
		cliBin:         "orcd",
		builder:        envelope.NewBuilder("router", "core"),
		telemetry:      newTelemetry(100),
		performanceMS:  100,
		batchFlushSize: batchFlushSize,
		batchMaxAge:    batchMaxAge,
		batches:        make(map[string][]envelope.Envelope),
		timers:         make(map[string]*time.Timer),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Stats returns the router's call telemetry over the last 100 calls.
func (r *Router) Stats() Stats {
	return r.telemetry.stats(r.performanceMS)
}

// Publish routes content to target at priority, applying the
// per-priority policy (spec §4.F). Low priority traffic is batched
// rather than sent immediately; until a call reaches the flush size,
// callers receive a Result whose MessageID is the member envelope's own
// id and whose QueueSize is the number of envelopes pending in that
// target's batch. The call that reaches the flush size returns the
// flush's Result.
func (r *Router) Publish(ctx context.Context, target validate.Target, category envelope.Category, priority envelope.Priority, content envelope.Content, opts ...envelope.Option) (Result, error) {
	e := r.builder.Build(target, category, priority, content, opts...)

	if priority == envelope.PriorityLow {
		return r.enqueueBatch(ctx, target, e)
	}
	return r.sendWithPolicy(ctx, e, policyTable[priority])
}

func (r *Router) sendWithPolicy(ctx context.Context, e envelope.Envelope, p policy) (Result, error) {
	start := time.Now()
	resp, method, err := r.sendOnce(ctx, e, p.timeout)
	elapsed := time.Since(start)

	if err == nil {
		r.telemetry.record(method, elapsed)
		return Result{MessageID: resp.MessageID, QueueSize: resp.QueueSize, Method: method, ElapsedMS: elapsed.Seconds() * 1000}, nil
	}

	if p.retry && elapsed < p.retryUnder {
		start2 := time.Now()
		resp2, method2, err2 := r.sendOnce(ctx, e, p.timeout)
		elapsed2 := time.Since(start2)
		if err2 == nil {
			r.telemetry.record(method2, elapsed2)
			return Result{MessageID: resp2.MessageID, QueueSize: resp2.QueueSize, Method: method2, ElapsedMS: elapsed2.Seconds() * 1000}, nil
		}
		err = err2
		elapsed = elapsed2
	}

	r.telemetry.record(MethodCLI, elapsed)
	return Result{}, fmt.Errorf("router: deliver envelope: %w", err)
}

// sendOnce attempts the socket path; on failure it falls back to the
// CLI path (spec §4.F). Only the socket path counts toward the
// daemon's own performance budget, but both are recorded in router
// telemetry via their actual method.
func (r *Router) sendOnce(ctx context.Context, e envelope.Envelope, timeout time.Duration) (wireResponse, Method, error) {
	resp, err := r.sendSocket(ctx, e, timeout)
	if err == nil {
		return resp, MethodSocket, nil
	}

	resp, cliErr := r.sendCLI(ctx, e, timeout)
	if cliErr != nil {
		return wireResponse{}, MethodCLI, fmt.Errorf("socket unreachable (%w) and CLI fallback failed: %w", err, cliErr)
	}
	return resp, MethodCLI, nil
}

func (r *Router) sendSocket(ctx context.Context, e envelope.Envelope, timeout time.Duration) (wireResponse, error) {
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(dialCtx, "unix", r.socketPath)
	if err != nil {
		return wireResponse{}, fmt.Errorf("dial daemon socket: %w", err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(timeout))

	req := toWireRequest(e)
	data, err := json.Marshal(req)
	if err != nil {
		return wireResponse{}, fmt.Errorf("marshal publish request: %w", err)
	}
	if _, err := conn.Write(data); err != nil {
		return wireResponse{}, fmt.Errorf("write publish request: %w", err)
	}
	if uc, ok := conn.(*net.UnixConn); ok {
		_ = uc.CloseWrite()
	}

	var resp wireResponse
	if err := json.NewDecoder(conn).Decode(&resp); err != nil && err != io.EOF {
		return wireResponse{}, fmt.Errorf("decode publish response: %w", err)
	}
	if resp.Status == "error" {
		return wireResponse{}, fmt.Errorf("daemon rejected publish: %s", resp.Message)
	}
	return resp, nil
}

// sendCLI shells out to the CLI publish command, mirroring what an
// operator would type. Its stdout is the same JSON response shape the
// daemon produces.
func (r *Router) sendCLI(ctx context.Context, e envelope.Envelope, timeout time.Duration) (wireResponse, error) {
	cliCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(cliCtx, r.cliBin, "publish",
		"--target", e.Target.String(),
		"--content", e.Message.Content.Body,
		"--priority", e.Message.Priority.String(),
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return wireResponse{}, fmt.Errorf("cli publish: %v: %s", err, stderr.String())
	}

	var resp wireResponse
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return wireResponse{}, fmt.Errorf("parse cli publish output: %w", err)
	}
	return resp, nil
}

// toWireRequest flattens an envelope onto the daemon's plain publish
// contract (spec §6: a single content string per request). A batch
// envelope's member bodies are glyph-prefixed and newline-joined into
// one delivered message; the full structured batch still exists
// client-side (and is what gets persisted if a caller stores it
// directly), but the socket/CLI transport carries text, not a nested
// envelope tree.
func toWireRequest(e envelope.Envelope) wireRequest {
	body := e.Message.Content.Body
	if e.Message.Type == envelope.MessageTypeBatch {
		var sb bytes.Buffer
		for i, m := range e.Message.Content.Messages {
			if i > 0 {
				sb.WriteByte('\n')
			}
			sb.WriteString(m.Message.Priority.Glyph())
			sb.WriteByte(' ')
			sb.WriteString(m.Message.Content.Body)
		}
		body = sb.String()
	}
	return wireRequest{
		Command:  "publish",
		Target:   e.Target.String(),
		Content:  body,
		Subject:  e.Message.Content.Subject,
		Priority: e.Message.Priority.String(),
		Category: string(e.Message.Category),
		Tags:     e.Metadata.Tags,
	}
}
