// Package monitor implements the Monitoring Engine (spec §4.G): it
// discovers agents, classifies their state every cycle, and emits
// structured notifications through the Priority Router. It owns no
// store or socket of its own — every write goes through B (the
// Connection Pool), C (the Cache Layer) or F (the Priority Router).
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tmuxorc/orcd/internal/cache"
	"github.com/tmuxorc/orcd/internal/config"
	"github.com/tmuxorc/orcd/internal/envelope"
	"github.com/tmuxorc/orcd/internal/metrics"
	"github.com/tmuxorc/orcd/internal/pool"
	"github.com/tmuxorc/orcd/internal/recovery"
	"github.com/tmuxorc/orcd/internal/router"
	"github.com/tmuxorc/orcd/internal/terminal"
	"github.com/tmuxorc/orcd/internal/validate"
)

// tmuxReader is the subset of the Terminal Capability the engine
// drives through the pool.
type tmuxReader interface {
	pool.Adapter
	Capture(ctx context.Context, target validate.Target, lines int) (string, error)
	ListSessions(ctx context.Context) ([]terminal.SessionMeta, error)
	ListWindows(ctx context.Context, session string) ([]terminal.WindowMeta, error)
}

// AgentState is tracked per target across cycles (spec §3).
type AgentState struct {
	LastContentHash    string
	LastActivityAt     time.Time
	IsIdle             bool
	IdleSince          time.Time
	IsFresh            bool
	LastNotifiedIdleAt time.Time
	CrashSignature     string

	lastSeenCycle int
}

// Publisher is the subset of *router.Router the engine needs.
type Publisher interface {
	Publish(ctx context.Context, target validate.Target, category envelope.Category, priority envelope.Priority, content envelope.Content, opts ...envelope.Option) (router.Result, error)
}

// GraceChecker is the subset of *recovery.Coordinator the engine
// consults before emitting a PM-directed alert.
type GraceChecker interface {
	InGrace(pmTarget validate.Target) bool
}

// Engine runs the periodic discovery/classify/notify cycle.
type Engine struct {
	cfg          func() *config.Config // indirection lets hot-reload swap config atomically
	pool         *pool.Pool
	contentCache *cache.AgentContentCache
	cmdCache     *cache.TMuxCommandCache
	router       Publisher
	grace        GraceChecker

	mu     sync.Mutex
	states map[string]*AgentState
	cycle  int
}

// New creates an Engine. cfgFn is called once per cycle so
// configuration hot-reload (spec §9.1) takes effect without
// restarting the cycle driver.
func New(cfgFn func() *config.Config, p *pool.Pool, contentCache *cache.AgentContentCache, cmdCache *cache.TMuxCommandCache, r Publisher, grace GraceChecker) *Engine {
	return &Engine{
		cfg:          cfgFn,
		pool:         p,
		contentCache: contentCache,
		cmdCache:     cmdCache,
		router:       r,
		grace:        grace,
		states:       make(map[string]*AgentState),
	}
}

// Run drives the cycle until ctx is cancelled. Cancellation is
// observed at the next phase boundary (spec §4.G: "a single
// engine-wide shutdown signal stops the cycle at the next phase
// boundary").
func (e *Engine) Run(ctx context.Context) {
	interval := e.cfg().CycleInterval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.runCycle(ctx)
			if next := e.cfg().CycleInterval; next > 0 && next != interval {
				interval = next
				ticker.Reset(interval)
			}
		}
	}
}

func (e *Engine) runCycle(ctx context.Context) {
	cfg := e.cfg()
	e.mu.Lock()
	e.cycle++
	e.mu.Unlock()

	sessions, err := e.discoverSessions(ctx)
	if err != nil {
		slog.Warn("monitor: discover sessions", "error", err)
		return
	}

	seen := make(map[string]bool)
	var idleCount, total int

	for _, s := range sessions {
		select {
		case <-ctx.Done():
			return
		default:
		}

		windows, err := e.discoverWindows(ctx, s.Name)
		if err != nil {
			slog.Warn("monitor: discover windows", "session", s.Name, "error", err)
			continue
		}

		for _, w := range windows {
			if w.Index == 0 {
				continue // window 0 is the PM, not an agent (spec §4.G discovery)
			}
			select {
			case <-ctx.Done():
				return
			default:
			}

			target := validate.Target{Session: s.Name, Window: w.Index}
			seen[target.StoreKey()] = true
			total++

			idle, err := e.checkAgent(ctx, cfg, target, windows)
			if err != nil {
				slog.Warn("monitor: check agent", "target", target.String(), "error", err)
				continue
			}
			if idle {
				idleCount++
			}
		}
	}

	e.pruneStale(seen)
	metrics.ActiveAgents.Set(float64(total))

	if total > 0 && float64(idleCount)/float64(total) >= cfg.TeamIdleRatio {
		e.emitTeamIdleEscalation(ctx, sessions, idleCount, total)
	}
}

func (e *Engine) discoverSessions(ctx context.Context) ([]terminal.SessionMeta, error) {
	if v, status := e.cmdCache.GetSessions(); status == cache.StatusFresh || status == cache.StatusStale {
		if sessions, ok := v.([]terminal.SessionMeta); ok {
			return sessions, nil
		}
	}

	a, err := e.pool.Acquire(ctx, e.cfg().PoolAcquireTimeout)
	if err != nil {
		return nil, fmt.Errorf("acquire terminal adapter: %w", err)
	}
	defer e.pool.Release(ctx, a)

	ta, ok := a.(tmuxReader)
	if !ok {
		return nil, fmt.Errorf("terminal adapter does not support discovery")
	}
	sessions, err := ta.ListSessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	e.cmdCache.SetSessions(sessions)
	return sessions, nil
}

func (e *Engine) discoverWindows(ctx context.Context, session string) ([]terminal.WindowMeta, error) {
	if v, status := e.cmdCache.GetWindows(session); status == cache.StatusFresh || status == cache.StatusStale {
		if windows, ok := v.([]terminal.WindowMeta); ok {
			return windows, nil
		}
	}

	a, err := e.pool.Acquire(ctx, e.cfg().PoolAcquireTimeout)
	if err != nil {
		return nil, fmt.Errorf("acquire terminal adapter: %w", err)
	}
	defer e.pool.Release(ctx, a)

	ta, ok := a.(tmuxReader)
	if !ok {
		return nil, fmt.Errorf("terminal adapter does not support discovery")
	}
	windows, err := ta.ListWindows(ctx, session)
	if err != nil {
		return nil, fmt.Errorf("list windows: %w", err)
	}
	e.cmdCache.SetWindows(session, windows)
	return windows, nil
}

func (e *Engine) stateFor(key string) *AgentState {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.states[key]
	if !ok {
		st = &AgentState{}
		e.states[key] = st
	}
	st.lastSeenCycle = e.cycle
	return st
}

// pruneStale discards AgentState for any target absent from two
// consecutive discovery passes (spec §3 AgentState lifecycle).
func (e *Engine) pruneStale(seen map[string]bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for key, st := range e.states {
		if seen[key] {
			continue
		}
		if e.cycle-st.lastSeenCycle >= 2 {
			delete(e.states, key)
		}
	}
}

func (e *Engine) checkAgent(ctx context.Context, cfg *config.Config, target validate.Target, windows []terminal.WindowMeta) (bool, error) {
	content, err := e.fetchContent(ctx, target, cfg.CaptureLines)
	if err != nil {
		return false, err
	}

	key := target.StoreKey()
	st := e.stateFor(key)
	hash := contentHash(content)
	now := time.Now()

	changed := hash != st.LastContentHash
	if changed {
		st.LastContentHash = hash
		st.LastActivityAt = now
	}

	if sig, crashed := detectCrash(content); crashed && st.CrashSignature != sig {
		st.CrashSignature = sig
		e.emitCrash(ctx, target, sig, windows)
	} else if !crashed {
		st.CrashSignature = ""
	}

	kind, idle := detectIdlePatterns(content)
	if !idle && !changed {
		kind, idle = "no_activity", true
	}

	wasIdle := st.IsIdle
	if idle {
		if !wasIdle {
			st.IdleSince = now
			st.LastNotifiedIdleAt = time.Time{}
		}
	} else {
		st.IdleSince = time.Time{}
		st.LastNotifiedIdleAt = time.Time{}
	}
	st.IsIdle = idle

	if idle {
		duration := now.Sub(st.IdleSince)
		if duration >= cfg.IdleThreshold && st.LastNotifiedIdleAt.IsZero() {
			priority := idlePriority(duration, cfg.IdleHighAfter, cfg.IdleNormalAfter)
			e.emitIdle(ctx, target, kind, priority, windows)
			st.LastNotifiedIdleAt = now
		}
	}

	fresh := detectFresh(content)
	if fresh && !st.IsFresh {
		e.emitFresh(ctx, target)
	}
	st.IsFresh = fresh

	e.contentCache.Set(target, content, idle)
	return idle, nil
}

func (e *Engine) fetchContent(ctx context.Context, target validate.Target, lines int) (string, error) {
	if content, status := e.contentCache.Get(target); status != cache.StatusMiss && status != cache.StatusExpired {
		return content, nil
	}

	a, err := e.pool.Acquire(ctx, e.cfg().PoolAcquireTimeout)
	if err != nil {
		return "", fmt.Errorf("acquire terminal adapter: %w", err)
	}
	defer e.pool.Release(ctx, a)

	ta, ok := a.(tmuxReader)
	if !ok {
		return "", fmt.Errorf("terminal adapter does not support capture")
	}
	content, err := ta.Capture(ctx, target, lines)
	if err != nil {
		return "", fmt.Errorf("capture target: %w", err)
	}
	return content, nil
}

func (e *Engine) pmFor(target validate.Target, windows []terminal.WindowMeta) validate.Target {
	return recovery.ResolvePM(target.Session, windows, e.cfg().PMWindowIndex)
}

func (e *Engine) emitCrash(ctx context.Context, target validate.Target, signature string, windows []terminal.WindowMeta) {
	pm := e.pmFor(target, windows)
	if e.grace != nil && e.grace.InGrace(pm) {
		return
	}
	content := envelope.Content{
		Subject: "agent crashed",
		Body:    fmt.Sprintf("%s: crash signature %q", target.String(), signature),
		Context: map[string]any{"issue_type": "crashed", "signature": signature, "target": target.String()},
	}
	e.publish(ctx, pm, envelope.CategoryHealth, envelope.PriorityCritical, content, envelope.WithRequiresAck(true))
}

func (e *Engine) emitIdle(ctx context.Context, target validate.Target, kind string, priority envelope.Priority, windows []terminal.WindowMeta) {
	pm := e.pmFor(target, windows)
	if e.grace != nil && e.grace.InGrace(pm) {
		return
	}
	content := envelope.Content{
		Subject: "agent idle",
		Body:    fmt.Sprintf("%s idle: %s", target.String(), kind),
		Context: map[string]any{"idle_type": kind, "target": target.String()},
	}
	e.publish(ctx, pm, envelope.CategoryHealth, priority, content)
}

func (e *Engine) emitFresh(ctx context.Context, target validate.Target) {
	content := envelope.Content{Subject: "agent ready", Body: fmt.Sprintf("%s is ready", target.String())}
	e.publish(ctx, target.PM(e.cfg().PMWindowIndex), envelope.CategoryStatus, envelope.PriorityNormal, content)
}

func (e *Engine) emitTeamIdleEscalation(ctx context.Context, sessions []terminal.SessionMeta, idleCount, total int) {
	for _, s := range sessions {
		content := envelope.Content{
			Subject: "team idle",
			Body:    fmt.Sprintf("%d/%d agents idle", idleCount, total),
		}
		target := validate.Target{Session: s.Name, Window: e.cfg().PMWindowIndex}
		e.publish(ctx, target, envelope.CategoryEscalation, envelope.PriorityHigh, content)
	}
}

func (e *Engine) publish(ctx context.Context, target validate.Target, category envelope.Category, priority envelope.Priority, content envelope.Content, opts ...envelope.Option) {
	if _, err := e.router.Publish(ctx, target, category, priority, content, opts...); err != nil {
		slog.Warn("monitor: publish notification failed", "target", target.String(), "category", category, "error", err)
		return
	}
	metrics.NotificationsTotal.WithLabelValues(string(category), priority.String()).Inc()
}
