package pool

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wesleyorama2/dbpulse/internal/adapter/adaptertest"
)

func newTestPool(t *testing.T, db *adaptertest.Fake, opts Options) *Pool {
	t.Helper()
	p := New(db, opts, zap.NewNop())
	t.Cleanup(p.Shutdown)
	return p
}

func TestPool_WarmUpFillsIdle(t *testing.T) {
	db := adaptertest.New()
	p := newTestPool(t, db, Options{MaxSize:5})

	opened, err := p.WarmUp(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, opened)

	s := p.Stats()
	assert.Equal(t, 5, s.Idle)
	assert.Equal(t, 0, s.Active)
	assert.EqualValues(t, 5, s.Created)
}

func TestPool_WarmUpOpensMinSize(t *testing.T) {
	db := adaptertest.New()
	p := newTestPool(t, db, Options{MinSize: 2, MaxSize: 5})

	opened, err := p.WarmUp(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, opened)

	s := p.Stats()
	assert.Equal(t, 2, s.Idle)
	assert.Equal(t, 5, s.Capacity)
	assert.EqualValues(t, 2, db.Opens())
}

func TestPool_GrowsFromMinToMax(t *testing.T) {
	db := adaptertest.New()
	p := newTestPool(t, db, Options{MinSize: 1, MaxSize: 3})
	_, err := p.WarmUp(context.Background())
	require.NoError(t, err)

	var conns []*Conn
	for i := 0; i < 3; i++ {
		c, err := p.Acquire(context.Background(), "grower")
		require.NoError(t, err)
		conns = append(conns, c)
	}
	assert.Equal(t, 3, p.Stats().Active)
	assert.EqualValues(t, 3, db.Opens())

	// Full at max: the next acquire must wait, not open a fourth.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = p.Acquire(ctx, "starved")
	require.Error(t, err)
	assert.EqualValues(t, 3, db.Opens())

	for _, c := range conns {
		require.NoError(t, p.Release(c))
	}
}

func TestPool_AcquireRelease(t *testing.T) {
	db := adaptertest.New()
	p := newTestPool(t, db, Options{MaxSize:2})
	_, err := p.WarmUp(context.Background())
	require.NoError(t, err)

	c, err := p.Acquire(context.Background(), "worker-0001")
	require.NoError(t, err)
	assert.Equal(t, 1, p.Stats().Active)
	assert.Equal(t, 1, p.Stats().Idle)

	require.NoError(t, p.Release(c))
	assert.Equal(t, 0, p.Stats().Active)
	assert.Equal(t, 2, p.Stats().Idle)
	assert.EqualValues(t, 1, c.UseCount())
}

func TestPool_ReleaseUntracked(t *testing.T) {
	db := adaptertest.New()
	p := newTestPool(t, db, Options{MaxSize:1})
	_, err := p.WarmUp(context.Background())
	require.NoError(t, err)

	c, err := p.Acquire(context.Background(), "w")
	require.NoError(t, err)
	require.NoError(t, p.Release(c))

	// Second release of the same connection must be rejected.
	assert.ErrorIs(t, p.Release(c), ErrNotActive)
	assert.ErrorIs(t, p.Discard(c), ErrNotActive)
}

func TestPool_LazyCreation(t *testing.T) {
	db := adaptertest.New()
	p := newTestPool(t, db, Options{MaxSize:3})

	// No warm-up: first acquires create on demand.
	c1, err := p.Acquire(context.Background(), "a")
	require.NoError(t, err)
	c2, err := p.Acquire(context.Background(), "b")
	require.NoError(t, err)

	assert.Equal(t, 2, p.Stats().Active)
	assert.EqualValues(t, 2, db.Opens())

	require.NoError(t, p.Release(c1))
	require.NoError(t, p.Release(c2))
}

func TestPool_Exhausted(t *testing.T) {
	db := adaptertest.New()
	p := newTestPool(t, db, Options{MaxSize:1})
	_, err := p.WarmUp(context.Background())
	require.NoError(t, err)

	_, err = p.Acquire(context.Background(), "holder")
	require.NoError(t, err)

	start := time.Now()
	_, err = p.Acquire(context.Background(), "starved")
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.True(t, IsExhausted(err), "want ExhaustedError, got %v", err)
	// Three waits with doubling backoff from 100ms.
	assert.GreaterOrEqual(t, elapsed, 300*time.Millisecond)
}

func TestPool_WaiterWakesOnRelease(t *testing.T) {
	db := adaptertest.New()
	p := newTestPool(t, db, Options{MaxSize:1})
	_, err := p.WarmUp(context.Background())
	require.NoError(t, err)

	c, err := p.Acquire(context.Background(), "first")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		c2, err := p.Acquire(context.Background(), "second")
		if err == nil {
			err = p.Release(c2)
		}
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, p.Release(c))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("waiter never acquired after release")
	}
}

func TestPool_CreationFailureTyped(t *testing.T) {
	db := adaptertest.New()
	db.SetFailing(true)
	p := newTestPool(t, db, Options{MaxSize:2})

	_, err := p.Acquire(context.Background(), "w")
	require.Error(t, err)
	assert.True(t, IsCreationFailure(err), "want CreationError, got %v", err)
}

func TestPool_AcquireRetriesCreationWhileWaiting(t *testing.T) {
	db := adaptertest.New()
	p := newTestPool(t, db, Options{MaxSize: 1})

	// Empty pool, database down: the first creation round fails, the
	// acquire falls through to its wait loop, and a later round succeeds
	// once the database recovers.
	db.FailFor(400 * time.Millisecond)
	c, err := p.Acquire(context.Background(), "w")
	require.NoError(t, err)
	require.NoError(t, p.Release(c))
	assert.Greater(t, db.Opens(), int64(3))
}

func TestPool_PermanentCreationFailureReturnsImmediately(t *testing.T) {
	db := adaptertest.New()
	db.SetFailing(true)
	db.SetPermanent(true)
	p := newTestPool(t, db, Options{MaxSize: 1})

	start := time.Now()
	_, err := p.Acquire(context.Background(), "w")
	require.Error(t, err)
	assert.True(t, IsCreationFailure(err), "want CreationError, got %v", err)
	assert.Less(t, time.Since(start), 100*time.Millisecond)
	assert.EqualValues(t, 1, db.Opens())
}

func TestPool_WarmUpPartialFailure(t *testing.T) {
	db := adaptertest.New()
	p := newTestPool(t, db, Options{MaxSize:4})

	db.SetFailing(true)
	opened, err := p.WarmUp(context.Background())
	assert.Equal(t, 0, opened)
	assert.Error(t, err)

	// The pool stays usable once the database comes back.
	db.SetFailing(false)
	c, err := p.Acquire(context.Background(), "w")
	require.NoError(t, err)
	require.NoError(t, p.Release(c))
}

func TestPool_MaxLifetimeRecycledOnRelease(t *testing.T) {
	db := adaptertest.New()
	p := newTestPool(t, db, Options{MaxSize:1, MaxLifetime: 10 * time.Millisecond})
	_, err := p.WarmUp(context.Background())
	require.NoError(t, err)

	c, err := p.Acquire(context.Background(), "w")
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, p.Release(c))

	s := p.Stats()
	assert.EqualValues(t, 1, s.Recycled)
	assert.Equal(t, 0, s.Idle)

	// Next acquire recreates lazily.
	c2, err := p.Acquire(context.Background(), "w")
	require.NoError(t, err)
	assert.NotEqual(t, c.ID(), c2.ID())
	require.NoError(t, p.Release(c2))
}

func TestPool_AcquireAfterShutdown(t *testing.T) {
	db := adaptertest.New()
	p := New(db, Options{MaxSize:2}, zap.NewNop())
	_, err := p.WarmUp(context.Background())
	require.NoError(t, err)

	p.Shutdown()
	_, err = p.Acquire(context.Background(), "w")
	assert.ErrorIs(t, err, ErrClosed)

	// Shutdown closed everything it opened.
	assert.Equal(t, db.Opens(), db.Closes())
}

func TestPool_ConcurrentStressKeepsInvariant(t *testing.T) {
	db := adaptertest.New()
	const size = 8
	p := newTestPool(t, db, Options{MaxSize:size})
	_, err := p.WarmUp(context.Background())
	require.NoError(t, err)

	stop := make(chan struct{})
	go func() {
		time.Sleep(200 * time.Millisecond)
		close(stop)
	}()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				c, err := p.Acquire(context.Background(), "stress")
				if err != nil {
					continue
				}
				s := p.Stats()
				if s.Idle+s.Active > size {
					t.Errorf("idle %d + active %d exceeds size %d", s.Idle, s.Active, size)
					_ = p.Release(c)
					return
				}
				_ = p.Release(c)
			}
		}()
	}
	wg.Wait()

	s := p.Stats()
	assert.Equal(t, 0, s.Active)
	assert.LessOrEqual(t, s.Idle, size)
}
