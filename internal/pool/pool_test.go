package pool

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAdapter struct {
	id      int
	healthy bool
	closed  atomic.Bool
}

func (f *fakeAdapter) Healthy(ctx context.Context) bool { return f.healthy }
func (f *fakeAdapter) Close() error                     { f.closed.Store(true); return nil }

func TestPool_AcquireRelease(t *testing.T) {
	var next atomic.Int32
	factory := func() (Adapter, error) {
		return &fakeAdapter{id: int(next.Add(1)), healthy: true}, nil
	}

	p, err := New(factory, 1, 2)
	require.NoError(t, err)

	a, err := p.Acquire(context.Background(), time.Second)
	require.NoError(t, err)

	p.Release(context.Background(), a)

	a2, err := p.Acquire(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Same(t, a, a2)
}

func TestPool_ExhaustedTimesOut(t *testing.T) {
	factory := func() (Adapter, error) {
		return &fakeAdapter{healthy: true}, nil
	}
	p, err := New(factory, 1, 1)
	require.NoError(t, err)

	a, err := p.Acquire(context.Background(), time.Second)
	require.NoError(t, err)
	_ = a

	_, err = p.Acquire(context.Background(), 20*time.Millisecond)
	assert.ErrorIs(t, err, ErrPoolExhausted)
}

func TestPool_UnhealthyAdapterDiscardedOnRelease(t *testing.T) {
	factory := func() (Adapter, error) {
		return &fakeAdapter{healthy: true}, nil
	}
	p, err := New(factory, 1, 1)
	require.NoError(t, err)

	a, err := p.Acquire(context.Background(), time.Second)
	require.NoError(t, err)

	fa := a.(*fakeAdapter)
	fa.healthy = false
	p.Release(context.Background(), a)

	assert.True(t, fa.closed.Load())
}
