// Package recovery implements the Recovery Coordinator (spec §4.H):
// per-target recovery dedup, PM resolution, a grace window suppressing
// repeat alerts right after a PM recovers, bounded history, and a
// durable mirror of completed recoveries.
package recovery

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/tmuxorc/orcd/internal/envelope"
	"github.com/tmuxorc/orcd/internal/historydb"
	"github.com/tmuxorc/orcd/internal/metrics"
	"github.com/tmuxorc/orcd/internal/router"
	"github.com/tmuxorc/orcd/internal/terminal"
	"github.com/tmuxorc/orcd/internal/validate"
)

// Publisher is the subset of *router.Router the coordinator needs;
// tests supply a fake.
type Publisher interface {
	Publish(ctx context.Context, target validate.Target, category envelope.Category, priority envelope.Priority, content envelope.Content, opts ...envelope.Option) (router.Result, error)
}

// Record is a tracked recovery attempt for a single target.
type Record struct {
	Target       validate.Target
	Issue        string
	RecoveryType string
	Priority     envelope.Priority
	NotifiedPM   validate.Target
	StartedAt    time.Time
	CompletedAt  *time.Time
	Succeeded    *bool
}

const (
	historyMaxBeforeTrim = 100
	historyTrimTo        = 50
)

// Coordinator tracks active and historical recoveries.
type Coordinator struct {
	router        Publisher
	hist          *historydb.DB // may be nil
	pmWindowIndex int
	graceWindow   time.Duration

	mu           sync.Mutex
	active       map[string]*Record
	history      map[string][]*Record
	lastComplete map[string]time.Time // keyed by target.StoreKey(), for the grace window
}

// New creates a Coordinator. hist may be nil to disable durable
// mirroring.
func New(r Publisher, hist *historydb.DB, pmWindowIndex int, graceWindow time.Duration) *Coordinator {
	return &Coordinator{
		router:        r,
		hist:          hist,
		pmWindowIndex: pmWindowIndex,
		graceWindow:   graceWindow,
		active:        make(map[string]*Record),
		history:       make(map[string][]*Record),
		lastComplete:  make(map[string]time.Time),
	}
}

// ResolvePM scans a session's windows for a name containing "pm" or
// "project-manager", picking the lowest-indexed match. Falls back to
// the configured pm_window_index when no such window exists.
func ResolvePM(session string, windows []terminal.WindowMeta, pmWindowIndex int) validate.Target {
	best := -1
	for _, w := range windows {
		name := strings.ToLower(w.Name)
		if strings.Contains(name, "pm") || strings.Contains(name, "project-manager") {
			if best == -1 || w.Index < best {
				best = w.Index
			}
		}
	}
	if best == -1 {
		best = pmWindowIndex
	}
	return validate.Target{Session: session, Window: best}
}

func derivePriority(recoveryType, issue string) envelope.Priority {
	lower := strings.ToLower(issue)

	// Critical: PM recoveries are always critical, regardless of issue text.
	if recoveryType == "pm" {
		return envelope.PriorityCritical
	}
	if strings.Contains(lower, "crash") || strings.Contains(lower, "failure") {
		return envelope.PriorityCritical
	}

	// High: team-wide recoveries, or an agent that stopped responding.
	if recoveryType == "team" {
		return envelope.PriorityHigh
	}
	if strings.Contains(lower, "not responding") {
		return envelope.PriorityHigh
	}

	return envelope.PriorityNormal
}

// InGrace reports whether pmTarget's last completed recovery finished
// less than the grace window ago (spec §4.H, §8 scenario 4).
func (c *Coordinator) InGrace(pmTarget validate.Target) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	last, ok := c.lastComplete[pmTarget.StoreKey()]
	return ok && time.Since(last) < c.graceWindow
}

// IsActive reports whether target already has a recovery in flight.
func (c *Coordinator) IsActive(target validate.Target) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.active[target.StoreKey()]
	return ok
}

// NotifyRecoveryNeeded records and routes a recovery envelope for
// target, unless a recovery is already active for it (dedup) or its
// last recovery completed less than the grace window ago.
func (c *Coordinator) NotifyRecoveryNeeded(ctx context.Context, target validate.Target, recoveryType, issue string, windows []terminal.WindowMeta) error {
	key := target.StoreKey()

	c.mu.Lock()
	if _, active := c.active[key]; active {
		c.mu.Unlock()
		return nil
	}
	if last, ok := c.lastComplete[key]; ok && time.Since(last) < c.graceWindow {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	pm := ResolvePM(target.Session, windows, c.pmWindowIndex)
	priority := derivePriority(recoveryType, issue)

	content := envelope.Content{
		Subject: "recovery needed",
		Body:    issue,
		Context: map[string]any{"target": target.String(), "recovery_type": recoveryType},
	}
	opts := []envelope.Option{}
	if priority == envelope.PriorityCritical {
		opts = append(opts, envelope.WithRequiresAck(true))
	}

	if _, err := c.router.Publish(ctx, pm, envelope.CategoryRecovery, priority, content, opts...); err != nil {
		return fmt.Errorf("recovery: notify PM %s: %w", pm.String(), err)
	}
	metrics.NotificationsTotal.WithLabelValues(string(envelope.CategoryRecovery), priority.String()).Inc()

	rec := &Record{
		Target:       target,
		Issue:        issue,
		RecoveryType: recoveryType,
		Priority:     priority,
		NotifiedPM:   pm,
		StartedAt:    time.Now(),
	}

	c.mu.Lock()
	c.active[key] = rec
	c.appendHistoryLocked(key, rec)
	metrics.ActiveRecoveries.Set(float64(len(c.active)))
	c.mu.Unlock()

	return nil
}

// NotifyRecoveryComplete closes the active record for target and
// emits a follow-up envelope to the PM that was notified.
func (c *Coordinator) NotifyRecoveryComplete(ctx context.Context, target validate.Target, succeeded bool) error {
	key := target.StoreKey()

	c.mu.Lock()
	rec, ok := c.active[key]
	if !ok {
		c.mu.Unlock()
		return nil
	}
	delete(c.active, key)
	now := time.Now()
	rec.CompletedAt = &now
	rec.Succeeded = &succeeded
	c.lastComplete[key] = now
	metrics.ActiveRecoveries.Set(float64(len(c.active)))
	pm := rec.NotifiedPM
	c.mu.Unlock()

	priority := envelope.PriorityNormal
	status := "recovered"
	if !succeeded {
		priority = envelope.PriorityHigh
		status = "recovery failed"
	}
	content := envelope.Content{Subject: "recovery complete", Body: fmt.Sprintf("%s: %s", target.String(), status)}
	if _, err := c.router.Publish(ctx, pm, envelope.CategoryRecovery, priority, content); err != nil {
		slog.Warn("recovery: notify completion failed", "target", target.String(), "error", err)
	}

	if c.hist != nil {
		row := historydb.RecoveryRow{
			Target: target.String(), Issue: rec.Issue, RecoveryType: rec.RecoveryType,
			Priority: rec.Priority.String(), NotifiedPM: pm.String(),
			StartedAt: rec.StartedAt, CompletedAt: rec.CompletedAt, Succeeded: rec.Succeeded,
		}
		if err := c.hist.InsertRecovery(row); err != nil {
			slog.Error("recovery: persist history", "target", target.String(), "error", err)
		}
	}
	return nil
}

// NotifyTeamRecovery fans out a high-priority message to every
// affected agent concurrently.
func (c *Coordinator) NotifyTeamRecovery(ctx context.Context, targets []validate.Target, issue string) {
	var wg sync.WaitGroup
	content := envelope.Content{Subject: "team recovery", Body: issue}
	for _, t := range targets {
		wg.Add(1)
		go func(t validate.Target) {
			defer wg.Done()
			if _, err := c.router.Publish(ctx, t, envelope.CategoryRecovery, envelope.PriorityHigh, content); err != nil {
				slog.Warn("recovery: team notify failed", "target", t.String(), "error", err)
			}
		}(t)
	}
	wg.Wait()
}

// History returns the bounded recovery history for target, oldest
// first.
func (c *Coordinator) History(target validate.Target) []*Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	recs := c.history[target.StoreKey()]
	out := make([]*Record, len(recs))
	copy(out, recs)
	return out
}

func (c *Coordinator) appendHistoryLocked(key string, rec *Record) {
	h := append(c.history[key], rec)
	if len(h) > historyMaxBeforeTrim {
		h = h[len(h)-historyTrimTo:]
	}
	c.history[key] = h
}
