package recovery

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tmuxorc/orcd/internal/envelope"
	"github.com/tmuxorc/orcd/internal/router"
	"github.com/tmuxorc/orcd/internal/terminal"
	"github.com/tmuxorc/orcd/internal/validate"
)

type publishCall struct {
	target   validate.Target
	category envelope.Category
	priority envelope.Priority
	content  envelope.Content
}

type fakePublisher struct {
	mu    sync.Mutex
	calls []publishCall
}

func (f *fakePublisher) Publish(ctx context.Context, target validate.Target, category envelope.Category, priority envelope.Priority, content envelope.Content, opts ...envelope.Option) (router.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, publishCall{target: target, category: category, priority: priority, content: content})
	return router.Result{MessageID: "m", Method: router.MethodSocket}, nil
}

func (f *fakePublisher) snapshot() []publishCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]publishCall, len(f.calls))
	copy(out, f.calls)
	return out
}

func TestResolvePM_PrefersLowestIndexedPMWindow(t *testing.T) {
	windows := []terminal.WindowMeta{
		{Index: 0, Name: "shell"},
		{Index: 3, Name: "pm-coordinator"},
		{Index: 1, Name: "project-manager"},
	}
	pm := ResolvePM("dev", windows, 0)
	assert.Equal(t, validate.Target{Session: "dev", Window: 1}, pm)
}

func TestResolvePM_FallsBackToConfiguredIndex(t *testing.T) {
	pm := ResolvePM("dev", nil, 0)
	assert.Equal(t, validate.Target{Session: "dev", Window: 0}, pm)
}

func TestCoordinator_NotifyRecoveryNeeded_DedupsWhileActive(t *testing.T) {
	fp := &fakePublisher{}
	c := New(fp, nil, 0, 180*time.Second)
	target, _ := validate.ParseTarget("dev:2")

	require.NoError(t, c.NotifyRecoveryNeeded(context.Background(), target, "agent", "crashed: panic", nil))
	require.NoError(t, c.NotifyRecoveryNeeded(context.Background(), target, "agent", "crashed again", nil))

	calls := fp.snapshot()
	require.Len(t, calls, 1)
	assert.Equal(t, envelope.PriorityCritical, calls[0].priority)
	assert.True(t, c.IsActive(target))
}

func TestCoordinator_PMGraceWindow(t *testing.T) {
	fp := &fakePublisher{}
	c := New(fp, nil, 0, 180*time.Second)
	pmTarget, _ := validate.ParseTarget("demo:0")

	require.NoError(t, c.NotifyRecoveryNeeded(context.Background(), pmTarget, "pm", "not responding", nil))
	require.NoError(t, c.NotifyRecoveryComplete(context.Background(), pmTarget, true))

	calls := fp.snapshot()
	require.Len(t, calls, 2)
	assert.Equal(t, envelope.PriorityCritical, calls[0].priority)
	assert.True(t, c.InGrace(pmTarget))
}

func TestCoordinator_HistoryTrimsAt100(t *testing.T) {
	fp := &fakePublisher{}
	c := New(fp, nil, 0, time.Millisecond)
	target, _ := validate.ParseTarget("dev:3")

	for i := 0; i < 120; i++ {
		require.NoError(t, c.NotifyRecoveryNeeded(context.Background(), target, "agent", "not responding", nil))
		require.NoError(t, c.NotifyRecoveryComplete(context.Background(), target, true))
		time.Sleep(2 * time.Millisecond) // clear grace so the next NotifyRecoveryNeeded isn't itself deduped
	}

	h := c.History(target)
	assert.LessOrEqual(t, len(h), 100)
}

func TestCoordinator_NotifyTeamRecovery_FansOutConcurrently(t *testing.T) {
	fp := &fakePublisher{}
	c := New(fp, nil, 0, 180*time.Second)
	t1, _ := validate.ParseTarget("dev:1")
	t2, _ := validate.ParseTarget("dev:2")

	c.NotifyTeamRecovery(context.Background(), []validate.Target{t1, t2}, "team recovering")

	calls := fp.snapshot()
	assert.Len(t, calls, 2)
	for _, call := range calls {
		assert.Equal(t, envelope.PriorityHigh, call.priority)
	}
}
