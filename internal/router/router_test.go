package router

import (
	"context"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tmuxorc/orcd/internal/envelope"
	"github.com/tmuxorc/orcd/internal/validate"
)

// fakeDaemon is a minimal stand-in for the Message Daemon's socket
// listener, recording every publish request it receives.
type fakeDaemon struct {
	ln       net.Listener
	requests chan wireRequest
}

func startFakeDaemon(t *testing.T, path string) *fakeDaemon {
	t.Helper()
	ln, err := net.Listen("unix", path)
	require.NoError(t, err)
	fd := &fakeDaemon{ln: ln, requests: make(chan wireRequest, 32)}

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				var req wireRequest
				if err := json.NewDecoder(conn).Decode(&req); err != nil {
					return
				}
				fd.requests <- req
				resp := wireResponse{Status: "queued", MessageID: "srv-1", QueueSize: 1}
				data, _ := json.Marshal(resp)
				conn.Write(data)
			}()
		}
	}()
	return fd
}

func (fd *fakeDaemon) close() { fd.ln.Close() }

func TestRouter_DirectDeliveryViaSocket(t *testing.T) {
	dir := t.TempDir()
	socketPath := filepath.Join(dir, "orcd.sock")
	fd := startFakeDaemon(t, socketPath)
	defer fd.close()

	r := New(socketPath, 10, time.Second)
	target, _ := validate.ParseTarget("dev:2")

	res, err := r.Publish(context.Background(), target, envelope.CategoryHealth, envelope.PriorityCritical,
		envelope.Content{Body: "crashed"})
	require.NoError(t, err)
	assert.Equal(t, MethodSocket, res.Method)
	assert.Equal(t, "srv-1", res.MessageID)

	req := <-fd.requests
	assert.Equal(t, "dev:2", req.Target)
	assert.Equal(t, "crashed", req.Content)
	assert.Equal(t, "critical", req.Priority)

	stats := r.Stats()
	assert.Equal(t, 1, stats.Count)
	assert.Equal(t, 1.0, stats.HitRate)
}

func TestRouter_LowPriorityBatchesAtFlushSize(t *testing.T) {
	dir := t.TempDir()
	socketPath := filepath.Join(dir, "orcd.sock")
	fd := startFakeDaemon(t, socketPath)
	defer fd.close()

	r := New(socketPath, 3, time.Hour) // long max-age: only size-based flush should fire
	target, _ := validate.ParseTarget("dev:5")

	for i := 0; i < 2; i++ {
		res, err := r.Publish(context.Background(), target, envelope.CategoryStatus, envelope.PriorityLow,
			envelope.Content{Body: "tick"})
		require.NoError(t, err)
		assert.Equal(t, i+1, res.QueueSize)
	}

	select {
	case <-fd.requests:
		t.Fatal("batch should not have flushed before reaching batchFlushSize")
	case <-time.After(50 * time.Millisecond):
	}

	res, err := r.Publish(context.Background(), target, envelope.CategoryStatus, envelope.PriorityLow,
		envelope.Content{Body: "tock"})
	require.NoError(t, err)
	assert.Equal(t, MethodSocket, res.Method)

	req := <-fd.requests
	assert.Equal(t, "dev:5", req.Target)
	assert.Contains(t, req.Content, "tick")
	assert.Contains(t, req.Content, "tock")
}

func TestRouter_FallsBackToCLIWhenSocketUnreachable(t *testing.T) {
	dir := t.TempDir()
	socketPath := filepath.Join(dir, "missing.sock") // nothing listens here

	scriptPath := filepath.Join(dir, "fake-cli.sh")
	script := "#!/bin/sh\necho '{\"status\":\"queued\",\"message_id\":\"cli-1\",\"queue_size\":1}'\n"
	require.NoError(t, os.WriteFile(scriptPath, []byte(script), 0o755))

	r := New(socketPath, 10, time.Second, WithCLIBinary(scriptPath))
	target, _ := validate.ParseTarget("dev:9")

	res, err := r.Publish(context.Background(), target, envelope.CategoryHealth, envelope.PriorityHigh,
		envelope.Content{Body: "unreachable"})
	require.NoError(t, err)
	assert.Equal(t, MethodCLI, res.Method)
	assert.Equal(t, "cli-1", res.MessageID)

	stats := r.Stats()
	assert.Less(t, stats.HitRate, 1.0)
}
