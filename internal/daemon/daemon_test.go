package daemon

import (
	"context"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tmuxorc/orcd/internal/config"
	"github.com/tmuxorc/orcd/internal/pool"
	"github.com/tmuxorc/orcd/internal/store"
	"github.com/tmuxorc/orcd/internal/terminal"
	"github.com/tmuxorc/orcd/internal/validate"
)

type call struct {
	op   string
	text string
	key  terminal.Key
}

type fakeAdapter struct {
	mu    sync.Mutex
	calls []call
}

func (f *fakeAdapter) Healthy(ctx context.Context) bool { return true }
func (f *fakeAdapter) Close() error                     { return nil }

func (f *fakeAdapter) Capture(ctx context.Context, target validate.Target, lines int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{op: "capture"})
	return "pane content", nil
}

func (f *fakeAdapter) Send(ctx context.Context, target validate.Target, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{op: "send", text: text})
	return nil
}

func (f *fakeAdapter) PressKey(ctx context.Context, target validate.Target, key terminal.Key) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{op: "press", key: key})
	return nil
}

func (f *fakeAdapter) snapshot() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]call, len(f.calls))
	copy(out, f.calls)
	return out
}

func testDaemon(t *testing.T) (*Daemon, *fakeAdapter, *config.Config) {
	t.Helper()
	fa := &fakeAdapter{}
	p, err := pool.New(func() (pool.Adapter, error) { return fa, nil }, 1, 1)
	require.NoError(t, err)

	dir := t.TempDir()
	st := store.New(filepath.Join(dir, "messages"), 1000)

	cfg := &config.Config{
		SocketPath:          filepath.Join(dir, "orcd.sock"),
		PoolAcquireTimeout:  time.Second,
		CommandDeadline:     time.Second,
		ShutdownGrace:       200 * time.Millisecond,
		DeliveryWindow:      1000,
		PerformanceTargetMS: 100,
	}

	d := New(cfg, p, st, nil)
	return d, fa, cfg
}

func sendRequest(t *testing.T, socketPath string, req map[string]any) response {
	t.Helper()
	conn, err := net.DialTimeout("unix", socketPath, time.Second)
	require.NoError(t, err)
	defer conn.Close()

	data, err := json.Marshal(req)
	require.NoError(t, err)
	_, err = conn.Write(data)
	require.NoError(t, err)
	require.NoError(t, conn.(*net.UnixConn).CloseWrite())

	dec := json.NewDecoder(conn)
	var resp response
	require.NoError(t, dec.Decode(&resp))
	return resp
}

func TestDaemon_HappyPublish(t *testing.T) {
	d, fa, cfg := testDaemon(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = d.Serve(ctx)
	}()
	waitForSocket(t, cfg.SocketPath)

	resp := sendRequest(t, cfg.SocketPath, map[string]any{
		"command":  "publish",
		"target":   "dev:2",
		"message":  "hello",
		"priority": "normal",
	})
	assert.Equal(t, "queued", resp.Status)
	assert.NotEmpty(t, resp.MessageID)
	assert.GreaterOrEqual(t, resp.QueueSize, 1)

	require.Eventually(t, func() bool {
		calls := fa.snapshot()
		for _, c := range calls {
			if c.op == "send" && c.text == "📨 hello" {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	calls := fa.snapshot()
	require.GreaterOrEqual(t, len(calls), 3)
	assert.Equal(t, "press", calls[0].op)
	assert.Equal(t, terminal.KeyCtrlU, calls[0].key)
	assert.Equal(t, "send", calls[1].op)
	assert.Equal(t, "press", calls[2].op)
	assert.Equal(t, terminal.KeyEnter, calls[2].key)

	target, _ := validate.ParseTarget("dev:2")
	require.Eventually(t, func() bool {
		envs, err := d.store.Read(target)
		return err == nil && len(envs) == 1
	}, time.Second, 5*time.Millisecond)

	envs, err := d.store.Read(target)
	require.NoError(t, err)
	require.Len(t, envs, 1)
	assert.Equal(t, "hello", envs[0].Message.Content.Body)

	cancel()
	<-done
}

func TestDaemon_StatusAndStats(t *testing.T) {
	d, _, cfg := testDaemon(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = d.Serve(ctx)
	}()
	waitForSocket(t, cfg.SocketPath)

	sendRequest(t, cfg.SocketPath, map[string]any{
		"command":  "publish",
		"target":   "dev:0",
		"content":  "ping",
		"priority": "low",
	})

	require.Eventually(t, func() bool {
		resp := sendRequest(t, cfg.SocketPath, map[string]any{"command": "status"})
		return resp.MessagesProcessed >= 1
	}, time.Second, 5*time.Millisecond)

	statsResp := sendRequest(t, cfg.SocketPath, map[string]any{"command": "stats"})
	assert.Equal(t, "success", statsResp.Status)
	assert.Equal(t, 100, statsResp.TargetMS)
	assert.True(t, statsResp.MaxMS >= statsResp.MinMS)

	cancel()
	<-done
}

func TestDaemon_UnknownCommand(t *testing.T) {
	d, _, cfg := testDaemon(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = d.Serve(ctx)
	}()
	waitForSocket(t, cfg.SocketPath)

	resp := sendRequest(t, cfg.SocketPath, map[string]any{"command": "bogus"})
	assert.Equal(t, "error", resp.Status)
	assert.Contains(t, resp.Message, "Unknown command")

	cancel()
	<-done
}

func waitForSocket(t *testing.T, path string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(path); err == nil {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("socket %s never appeared", path)
}
