package cache

import (
	"fmt"
	"time"

	"github.com/tmuxorc/orcd/internal/validate"
)

// AgentContentCache holds captured pane content per agent target, with
// TTL extended for idle agents (spec §4.C).
type AgentContentCache struct {
	*Cache
	TTL     time.Duration
	IdleTTL time.Duration
}

// NewAgentContentCache creates the agent-content specialization.
func NewAgentContentCache(maxEntries int, ttl, idleTTL time.Duration) *AgentContentCache {
	return &AgentContentCache{Cache: New("agent_content", maxEntries), TTL: ttl, IdleTTL: idleTTL}
}

// AgentContentKey returns the cache key for a target's content.
func AgentContentKey(target validate.Target) string {
	return fmt.Sprintf("agent_content:%s:%d", target.Session, target.Window)
}

// Set stores captured content for a target, tagged by session for bulk
// invalidation, and extends the TTL when the agent is idle.
func (c *AgentContentCache) Set(target validate.Target, content string, isIdle bool) {
	ttl := c.TTL
	if isIdle {
		ttl = c.IdleTTL
	}
	staleAfter := ttl / 2
	c.Cache.Set(AgentContentKey(target), content, ttl, staleAfter, []string{"session:" + target.Session})
}

// Get returns cached content for a target, allowing stale hits.
func (c *AgentContentCache) Get(target validate.Target) (string, Status) {
	v, status := c.Cache.Get(AgentContentKey(target), true)
	if v == nil {
		return "", status
	}
	return v.(string), status
}

// InvalidateSession drops every cached entry for a session.
func (c *AgentContentCache) InvalidateSession(session string) int {
	return c.InvalidateByTag("session:" + session)
}

// TMuxCommandCache holds session/window listing results (spec §4.C).
type TMuxCommandCache struct {
	*Cache
	TTL time.Duration
}

// NewTMuxCommandCache creates the tmux-command-result specialization.
func NewTMuxCommandCache(maxEntries int, ttl time.Duration) *TMuxCommandCache {
	return &TMuxCommandCache{Cache: New("tmux_command", maxEntries), TTL: ttl}
}

const (
	sessionsKey     = "tmux:sessions"
	windowsKeyPrefix = "tmux:windows:"
)

// WindowsKey returns the cache key for a session's window list.
func WindowsKey(session string) string {
	return windowsKeyPrefix + session
}

// SetSessions caches the session list.
func (c *TMuxCommandCache) SetSessions(v any) {
	c.Cache.Set(sessionsKey, v, c.TTL, c.TTL, nil)
}

// GetSessions returns the cached session list.
func (c *TMuxCommandCache) GetSessions() (any, Status) {
	return c.Cache.Get(sessionsKey, true)
}

// SetWindows caches a session's window list.
func (c *TMuxCommandCache) SetWindows(session string, v any) {
	c.Cache.Set(WindowsKey(session), v, c.TTL, c.TTL, []string{"session:" + session})
}

// GetWindows returns a session's cached window list.
func (c *TMuxCommandCache) GetWindows(session string) (any, Status) {
	return c.Cache.Get(WindowsKey(session), true)
}
