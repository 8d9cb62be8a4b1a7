package daemon

import (
	"context"
	"log/slog"
	"time"

	"github.com/tmuxorc/orcd/internal/envelope"
	"github.com/tmuxorc/orcd/internal/historydb"
	"github.com/tmuxorc/orcd/internal/metrics"
	"github.com/tmuxorc/orcd/internal/terminal"
)

// deliveryLoop is the single-flight delivery worker (spec §4.E): it
// dequeues FIFO and sleeps 1ms when the queue is empty rather than
// busy-waiting.
func (d *Daemon) deliveryLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		d.mu.Lock()
		if len(d.queue) == 0 {
			d.mu.Unlock()
			time.Sleep(time.Millisecond)
			continue
		}
		item := d.queue[0]
		d.queue = d.queue[1:]
		metrics.QueueDepth.Set(float64(len(d.queue)))
		d.mu.Unlock()

		d.deliver(ctx, item)
	}
}

// deliver executes the delivery algorithm for a single envelope (spec
// §4.E): glyph-prefix, CtrlU, 50ms, send text, 200ms, Enter. CtrlC is
// never sent here — it was observed to cancel in-flight agent
// responses under burst load.
func (d *Daemon) deliver(ctx context.Context, item queuedDelivery) {
	start := time.Now()
	target := item.envelope.Target

	a, err := d.pool.Acquire(ctx, d.cfg.PoolAcquireTimeout)
	if err != nil {
		slog.Error("delivery: acquire terminal adapter", "target", target.String(), "error", err)
		return
	}
	defer d.pool.Release(ctx, a)

	ta, ok := a.(TerminalAdapter)
	if !ok {
		slog.Error("delivery: adapter does not support send", "target", target.String())
		return
	}

	body := item.envelope.Message.Priority.Glyph() + " " + item.envelope.Message.Content.Body

	if err := ta.PressKey(ctx, target, terminal.KeyCtrlU); err != nil {
		slog.Warn("delivery failed: clear input", "target", target.String(), "error", err)
		return
	}
	time.Sleep(50 * time.Millisecond)

	if err := ta.Send(ctx, target, body); err != nil {
		slog.Warn("delivery failed: send text", "target", target.String(), "error", err)
		return
	}
	time.Sleep(200 * time.Millisecond)

	if err := ta.PressKey(ctx, target, terminal.KeyEnter); err != nil {
		slog.Warn("delivery failed: submit", "target", target.String(), "error", err)
		return
	}

	duration := time.Since(start)
	d.window.add(duration)
	d.mu.Lock()
	d.processed++
	d.mu.Unlock()
	metrics.DeliveryDuration.Observe(duration.Seconds())

	if duration > 100*time.Millisecond {
		metrics.SlowDeliveriesTotal.Inc()
		slog.Warn("slow delivery", "target", target.String(), "duration_ms", duration.Milliseconds())
	}

	go d.persist(item.envelope)
}

// persist asynchronously writes a delivered envelope to the Message
// Store. A failure here is a PersistenceError (spec §7): logged, never
// blocking a delivery or the command response that already returned.
func (d *Daemon) persist(e envelope.Envelope) {
	if err := d.store.Append(e.Target, e); err != nil {
		slog.Error("persist envelope", "target", e.Target.String(), "error", err)
	}
}

// snapshotLoop periodically mirrors the delivery-duration window into
// the durable side-store (spec §3.1). This is purely additive
// telemetry and never gates delivery.
func (d *Daemon) snapshotLoop(ctx context.Context) {
	if d.hist == nil {
		return
	}
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.snapshotOnce()
		}
	}
}

func (d *Daemon) snapshotOnce() {
	targetMS := float64(d.cfg.PerformanceTargetMS)
	if targetMS <= 0 {
		targetMS = 100
	}
	min, avg, p95, max, count, meeting := d.window.stats(1000, targetMS)
	if count == 0 {
		return
	}

	d.mu.Lock()
	qsize := len(d.queue)
	processed := d.processed
	d.mu.Unlock()

	snap := historydb.PerformanceSnapshot{
		RecordedAt:        time.Now().UTC(),
		MessagesProcessed: processed,
		QueueSize:         qsize,
		MinMS:             min,
		AvgMS:             avg,
		P95MS:             p95,
		MaxMS:             max,
		MeetingTarget:     meeting,
	}
	if err := d.hist.InsertSnapshot(snap); err != nil {
		slog.Error("persist performance snapshot", "error", err)
	}
}
