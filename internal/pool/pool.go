// Package pool implements the Connection Pool (spec §4.B): a bounded,
// FIFO-waiting pool of reusable Terminal Capability adapters with
// health-probe-driven replacement. It is a concurrency limiter only —
// it never buffers or caches the results adapters produce.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// ErrPoolExhausted is returned by Acquire when no adapter becomes
// available before the timeout.
var ErrPoolExhausted = errors.New("pool: exhausted")

// Adapter is the minimal interface a pooled resource must satisfy: a
// health probe run on release, and a close for lazy replacement.
type Adapter interface {
	Healthy(ctx context.Context) bool
	Close() error
}

// Factory constructs a new Adapter, retried with backoff when
// construction fails.
type Factory func() (Adapter, error)

// Pool maintains between MinSize and MaxSize adapters.
type Pool struct {
	factory Factory
	minSize int
	maxSize int

	mu      sync.Mutex
	idle    []Adapter
	outCnt  int
	waiters []chan Adapter
}

// New creates a pool and eagerly fills it to minSize.
func New(factory Factory, minSize, maxSize int) (*Pool, error) {
	if minSize <= 0 || maxSize < minSize {
		return nil, fmt.Errorf("pool: invalid size range [%d, %d]", minSize, maxSize)
	}
	p := &Pool{factory: factory, minSize: minSize, maxSize: maxSize}

	for i := 0; i < minSize; i++ {
		a, err := newWithBackoff(factory)
		if err != nil {
			return nil, fmt.Errorf("pool: fill to min size: %w", err)
		}
		p.idle = append(p.idle, a)
	}
	return p, nil
}

func newWithBackoff(factory Factory) (Adapter, error) {
	op := func() (Adapter, error) { return factory() }
	return backoff.Retry(context.Background(), op,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(3),
	)
}

// Acquire borrows an adapter, blocking until one is idle, one can be
// created under maxSize, or timeout elapses.
func (p *Pool) Acquire(ctx context.Context, timeout time.Duration) (Adapter, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	p.mu.Lock()
	if n := len(p.idle); n > 0 {
		a := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.outCnt++
		p.mu.Unlock()
		return a, nil
	}
	if p.outCnt+len(p.idle) < p.maxSize {
		p.outCnt++
		p.mu.Unlock()
		a, err := newWithBackoff(p.factory)
		if err != nil {
			p.mu.Lock()
			p.outCnt--
			p.mu.Unlock()
			return nil, fmt.Errorf("pool: create adapter: %w", err)
		}
		return a, nil
	}

	ch := make(chan Adapter, 1)
	p.waiters = append(p.waiters, ch)
	p.mu.Unlock()

	select {
	case a := <-ch:
		return a, nil
	case <-ctx.Done():
		p.removeWaiter(ch)
		return nil, ErrPoolExhausted
	}
}

func (p *Pool) removeWaiter(ch chan Adapter) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, w := range p.waiters {
		if w == ch {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			return
		}
	}
}

// Release returns an adapter to the pool. Adapters failing the health
// probe are discarded and lazily replaced on the next Acquire.
func (p *Pool) Release(ctx context.Context, a Adapter) {
	if !a.Healthy(ctx) {
		_ = a.Close()
		p.mu.Lock()
		p.outCnt--
		p.mu.Unlock()
		return
	}

	p.mu.Lock()
	if len(p.waiters) > 0 {
		ch := p.waiters[0]
		p.waiters = p.waiters[1:]
		p.mu.Unlock()
		ch <- a
		return
	}
	p.outCnt--
	p.idle = append(p.idle, a)
	p.mu.Unlock()
}

// Close shuts down every idle adapter. Adapters still borrowed are not
// closed; a healthy one released after Close goes back to the idle list.
func (p *Pool) Close() error {
	p.mu.Lock()
	idle := p.idle
	p.idle = nil
	p.mu.Unlock()

	var firstErr error
	for _, a := range idle {
		if err := a.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
