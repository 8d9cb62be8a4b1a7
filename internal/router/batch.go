package router

import (
	"context"
	"log/slog"
	"time"

	"github.com/tmuxorc/orcd/internal/envelope"
	"github.com/tmuxorc/orcd/internal/validate"
)

// enqueueBatch adds e to the pending low-priority batch for target,
// flushing immediately once batchFlushSize is reached and otherwise
// arming a batchMaxAge timer so nothing waits forever (spec §4.F).
func (r *Router) enqueueBatch(ctx context.Context, target validate.Target, e envelope.Envelope) (Result, error) {
	key := target.StoreKey()

	r.mu.Lock()
	r.batches[key] = append(r.batches[key], e)
	pending := len(r.batches[key])
	shouldFlush := pending >= r.batchFlushSize
	if !shouldFlush && r.timers[key] == nil {
		r.timers[key] = time.AfterFunc(r.batchMaxAge, func() {
			bgCtx, cancel := context.WithTimeout(context.Background(), policyTable[envelope.PriorityLow].timeout)
			defer cancel()
			if _, err := r.Flush(bgCtx, target); err != nil {
				slog.Warn("router: timed batch flush failed", "target", target.String(), "error", err)
			}
		})
	}
	r.mu.Unlock()

	if shouldFlush {
		return r.Flush(ctx, target)
	}
	return Result{MessageID: e.ID, QueueSize: pending, Method: MethodSocket}, nil
}

// Flush sends the pending low-priority batch for target as a single
// type=batch envelope, if any is pending.
func (r *Router) Flush(ctx context.Context, target validate.Target) (Result, error) {
	key := target.StoreKey()

	r.mu.Lock()
	members := r.batches[key]
	delete(r.batches, key)
	if t := r.timers[key]; t != nil {
		t.Stop()
		delete(r.timers, key)
	}
	r.mu.Unlock()

	if len(members) == 0 {
		return Result{}, nil
	}

	batch := r.builder.BuildBatch(target, envelope.PriorityLow, members)
	return r.sendWithPolicy(ctx, batch, policyTable[envelope.PriorityLow])
}

// FlushAll flushes every target with a pending batch. Intended for use
// during shutdown so no low-priority traffic is silently dropped.
func (r *Router) FlushAll(ctx context.Context) {
	r.mu.Lock()
	targets := make([]string, 0, len(r.batches))
	for k := range r.batches {
		targets = append(targets, k)
	}
	r.mu.Unlock()

	for _, key := range targets {
		session, window := validate.SplitStoreKey(key)
		if _, err := r.Flush(ctx, validate.Target{Session: session, Window: window}); err != nil {
			slog.Warn("router: flush during shutdown failed", "target", key, "error", err)
		}
	}
}
