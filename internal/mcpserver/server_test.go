package mcpserver

import (
	"context"
	"encoding/json"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tmuxorc/orcd/internal/historydb"
	"github.com/tmuxorc/orcd/internal/router"
)

// fakeDaemon is a minimal stand-in for the Message Daemon's socket
// listener, replying with a canned response keyed by command.
type fakeDaemon struct {
	ln net.Listener
}

func startFakeDaemon(t *testing.T, path string) *fakeDaemon {
	t.Helper()
	ln, err := net.Listen("unix", path)
	require.NoError(t, err)
	fd := &fakeDaemon{ln: ln}

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
				var resp wireResponse
				switch req.Command {
				case "read":
					resp = wireResponse{Status: "success", Content: "pane output"}
				case "status":
					resp = wireResponse{Status: "success", MessagesProcessed: 3, QueueSize: 1, UptimeSeconds: 42}
				case "stats":
					resp = wireResponse{Status: "success", MinMS: 10, AvgMS: 20, P95MS: 30, MaxMS: 40, TargetMS: 100, MeetingTarget: true}
				default:
					resp = wireResponse{Status: "queued", QueueSize: 1}
				}
				data, _ := json.Marshal(resp)
				conn.Write(data)
			}()
		}
	}()
	return fd
}

func (fd *fakeDaemon) close() { fd.ln.Close() }

func testServer(t *testing.T) (*Server, *fakeDaemon, string) {
	t.Helper()
	dir := t.TempDir()
	socketPath := filepath.Join(dir, "orcd.sock")
	fd := startFakeDaemon(t, socketPath)

	r := router.New(socketPath, 10, time.Second)
	s := NewServer(r, socketPath, time.Second, nil)
	return s, fd, socketPath
}

func TestHandlePublish_RoutesThroughRouter(t *testing.T) {
	s, fd, _ := testServer(t)
	defer fd.close()

	_, out, err := s.handlePublish(context.Background(), nil, PublishInput{
		Target: "dev:2", Content: "hello", Priority: "critical",
	})
	require.NoError(t, err)
	assert.Equal(t, "socket", out.Method)
}

func TestHandlePublish_RejectsInvalidTarget(t *testing.T) {
	s, fd, _ := testServer(t)
	defer fd.close()

	_, _, err := s.handlePublish(context.Background(), nil, PublishInput{Target: "bad-target", Content: "hi"})
	assert.Error(t, err)
}

func TestHandleRead_ReturnsPaneContent(t *testing.T) {
	s, fd, _ := testServer(t)
	defer fd.close()

	_, out, err := s.handleRead(context.Background(), nil, ReadInput{Target: "dev:1"})
	require.NoError(t, err)
	assert.Equal(t, "pane output", out.Content)
}

func TestHandleStatus_ReportsDaemonState(t *testing.T) {
	s, fd, _ := testServer(t)
	defer fd.close()

	_, out, err := s.handleStatus(context.Background(), nil, StatusInput{})
	require.NoError(t, err)
	assert.Equal(t, int64(3), out.MessagesProcessed)
	assert.Equal(t, 1, out.QueueSize)
}

func TestHandleStats_ReportsPerformanceWindow(t *testing.T) {
	s, fd, _ := testServer(t)
	defer fd.close()

	_, out, err := s.handleStats(context.Background(), nil, StatsInput{})
	require.NoError(t, err)
	assert.True(t, out.MeetingTarget)
	assert.Equal(t, 100.0, out.TargetMS)
}

func TestHandleHistory_ErrorsWithoutHistoryDB(t *testing.T) {
	s, fd, _ := testServer(t)
	defer fd.close()

	_, _, err := s.handleHistory(context.Background(), nil, HistoryInput{Target: "dev:2"})
	assert.Error(t, err)
}

func TestHandleHistory_ReturnsRecordsFromHistoryDB(t *testing.T) {
	dir := t.TempDir()
	socketPath := filepath.Join(dir, "orcd.sock")
	fd := startFakeDaemon(t, socketPath)
	defer fd.close()

	hist, err := historydb.Open(":memory:")
	require.NoError(t, err)
	defer hist.Close()

	now := time.Now().UTC()
	succeeded := true
	require.NoError(t, hist.InsertRecovery(historydb.RecoveryRow{
		Target: "dev:2", Issue: "crashed", RecoveryType: "agent", Priority: "critical",
		NotifiedPM: "dev:0", StartedAt: now, CompletedAt: &now, Succeeded: &succeeded,
	}))

	r := router.New(socketPath, 10, time.Second)
	s := NewServer(r, socketPath, time.Second, hist)

	_, out, err := s.handleHistory(context.Background(), nil, HistoryInput{Target: "dev:2"})
	require.NoError(t, err)
	require.Len(t, out.Records, 1)
	assert.Equal(t, "crashed", out.Records[0].Issue)
}
