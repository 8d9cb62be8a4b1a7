// Package mcpserver exposes the Message Daemon and Priority Router over
// the Model Context Protocol's stdio transport, so an MCP-speaking
// client (an editor, an agent harness) can publish, read and inspect
// orcd the same way the CLI does.
package mcpserver

import (
	"context"
	"fmt"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/tmuxorc/orcd/internal/envelope"
	"github.com/tmuxorc/orcd/internal/historydb"
	"github.com/tmuxorc/orcd/internal/router"
	"github.com/tmuxorc/orcd/internal/validate"
)

const (
	ServerName    = "orcd"
	ServerVersion = "0.1.0"
)

// Server is the MCP server fronting a running orcd daemon.
type Server struct {
	mcpServer *mcpsdk.Server
	router    *router.Router
	client    *daemonClient
	hist      *historydb.DB // may be nil
}

// NewServer creates an MCP server that publishes through r and reads
// status/stats/capture directly from the daemon socket at socketPath.
// hist may be nil to disable the recovery_history tool's durable path.
func NewServer(r *router.Router, socketPath string, commandTimeout time.Duration, hist *historydb.DB) *Server {
	s := &Server{
		router: r,
		client: newDaemonClient(socketPath, commandTimeout),
		hist:   hist,
	}
	s.mcpServer = mcpsdk.NewServer(&mcpsdk.Implementation{Name: ServerName, Version: ServerVersion}, nil)
	s.registerTools()
	return s
}

// Run starts the MCP server on stdio, blocking until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	return s.mcpServer.Run(ctx, &mcpsdk.StdioTransport{})
}

func (s *Server) registerTools() {
	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "publish",
		Description: "Deliver a message to an agent's terminal window through the priority router. Critical and high priority messages are sent immediately with a retry; low priority messages are batched.",
	}, s.handlePublish)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "read",
		Description: "Capture the current pane content of an agent's terminal window.",
	}, s.handleRead)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "status",
		Description: "Report the daemon's uptime, processed message count, queue depth and rolling average delivery time.",
	}, s.handleStatus)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "stats",
		Description: "Report min/avg/p95/max delivery duration over the rolling performance window and whether the 100ms target is being met.",
	}, s.handleStats)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "recovery_history",
		Description: "List durable recovery history for an agent target, newest first.",
	}, s.handleHistory)
}

func (s *Server) handlePublish(ctx context.Context, _ *mcpsdk.CallToolRequest, in PublishInput) (*mcpsdk.CallToolResult, PublishOutput, error) {
	target, err := validate.ParseTarget(in.Target)
	if err != nil {
		return nil, PublishOutput{}, err
	}

	priority := envelope.PriorityNormal
	if in.Priority != "" {
		priority, err = envelope.ParsePriority(in.Priority)
		if err != nil {
			return nil, PublishOutput{}, err
		}
	}

	category := envelope.CategoryTask
	if in.Category != "" {
		category = envelope.Category(in.Category)
	}

	res, err := s.router.Publish(ctx, target, category, priority, envelope.Content{Subject: in.Subject, Body: in.Content})
	if err != nil {
		return nil, PublishOutput{}, err
	}
	return nil, PublishOutput{MessageID: res.MessageID, QueueSize: res.QueueSize, Method: string(res.Method)}, nil
}

func (s *Server) handleRead(ctx context.Context, _ *mcpsdk.CallToolRequest, in ReadInput) (*mcpsdk.CallToolResult, ReadOutput, error) {
	if _, err := validate.ParseTarget(in.Target); err != nil {
		return nil, ReadOutput{}, err
	}
	lines := in.Lines
	if lines <= 0 {
		lines = 50
	}
	resp, err := s.client.read(ctx, in.Target, lines)
	if err != nil {
		return nil, ReadOutput{}, err
	}
	return nil, ReadOutput{Content: resp.Content}, nil
}

func (s *Server) handleStatus(ctx context.Context, _ *mcpsdk.CallToolRequest, _ StatusInput) (*mcpsdk.CallToolResult, StatusOutput, error) {
	resp, err := s.client.status(ctx)
	if err != nil {
		return nil, StatusOutput{}, err
	}
	return nil, StatusOutput{
		UptimeSeconds:      resp.UptimeSeconds,
		MessagesProcessed:  resp.MessagesProcessed,
		QueueSize:          resp.QueueSize,
		AvgDeliveryTimeMS:  resp.AvgDeliveryTimeMS,
		CurrentPerformance: resp.CurrentPerformance,
	}, nil
}

func (s *Server) handleStats(ctx context.Context, _ *mcpsdk.CallToolRequest, _ StatsInput) (*mcpsdk.CallToolResult, StatsOutput, error) {
	resp, err := s.client.stats(ctx)
	if err != nil {
		return nil, StatsOutput{}, err
	}
	return nil, StatsOutput{
		MinMS: resp.MinMS, AvgMS: resp.AvgMS, P95MS: resp.P95MS, MaxMS: resp.MaxMS,
		TargetMS: float64(resp.TargetMS), MeetingTarget: resp.MeetingTarget,
	}, nil
}

func (s *Server) handleHistory(_ context.Context, _ *mcpsdk.CallToolRequest, in HistoryInput) (*mcpsdk.CallToolResult, HistoryOutput, error) {
	if _, err := validate.ParseTarget(in.Target); err != nil {
		return nil, HistoryOutput{}, err
	}
	if s.hist == nil {
		return nil, HistoryOutput{}, fmt.Errorf("recovery history is unavailable: no history database configured")
	}
	limit := in.Limit
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.hist.RecentRecoveries(in.Target, limit)
	if err != nil {
		return nil, HistoryOutput{}, err
	}

	out := HistoryOutput{Target: in.Target, Records: make([]HistoryRecord, 0, len(rows))}
	for _, r := range rows {
		rec := HistoryRecord{
			Issue: r.Issue, RecoveryType: r.RecoveryType, Priority: r.Priority,
			NotifiedPM: r.NotifiedPM, StartedAt: r.StartedAt.Format(time.RFC3339), Succeeded: r.Succeeded,
		}
		if r.CompletedAt != nil {
			rec.CompletedAt = r.CompletedAt.Format(time.RFC3339)
		}
		out.Records = append(out.Records, rec)
	}
	return nil, out, nil
}
