package pool

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/wesleyorama2/dbpulse/internal/adapter/adaptertest"
)

func observedPool(t *testing.T, db *adaptertest.Fake, opts Options) (*Pool, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zap.DebugLevel)
	p := New(db, opts, zap.New(core))
	t.Cleanup(p.Shutdown)
	return p, logs
}

func TestHealth_EvictsBrokenIdle(t *testing.T) {
	db := adaptertest.New()
	p, _ := observedPool(t, db, Options{MaxSize:3})
	_, err := p.WarmUp(context.Background())
	require.NoError(t, err)

	// Every idle connection now fails its ping.
	db.SetFailing(true)
	require.True(t, p.sweepOnce(context.Background()))

	s := p.Stats()
	assert.Equal(t, 0, s.Idle)
	assert.EqualValues(t, 3, s.Destroyed)

	// Capacity freed: once the database recovers, acquires recreate.
	db.SetFailing(false)
	c, err := p.Acquire(context.Background(), "w")
	require.NoError(t, err)
	require.NoError(t, p.Release(c))
}

func TestHealth_RecyclesExpiredIdle(t *testing.T) {
	db := adaptertest.New()
	p, _ := observedPool(t, db, Options{MaxSize:2, MaxLifetime: 5 * time.Millisecond})
	_, err := p.WarmUp(context.Background())
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)
	require.True(t, p.sweepOnce(context.Background()))

	s := p.Stats()
	assert.Equal(t, 0, s.Idle)
	assert.EqualValues(t, 2, s.Recycled)
}

func TestHealth_HealthyIdleSurvives(t *testing.T) {
	db := adaptertest.New()
	p, _ := observedPool(t, db, Options{MaxSize:3})
	_, err := p.WarmUp(context.Background())
	require.NoError(t, err)

	require.True(t, p.sweepOnce(context.Background()))

	assert.Equal(t, 3, p.Stats().Idle)
	assert.EqualValues(t, 0, p.Stats().Destroyed)
}

func TestHealth_LeakWarnedEverySweep(t *testing.T) {
	db := adaptertest.New()
	p, logs := observedPool(t, db, Options{MaxSize:2, LeakThreshold: time.Millisecond})
	_, err := p.WarmUp(context.Background())
	require.NoError(t, err)

	c, err := p.Acquire(context.Background(), "worker-0007")
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)

	require.True(t, p.sweepOnce(context.Background()))
	require.True(t, p.sweepOnce(context.Background()))

	leaks := logs.FilterMessage("possible connection leak").All()
	// The warning repeats while the leak persists, it is not one-shot.
	require.Len(t, leaks, 2)
	for _, entry := range leaks {
		ctx := entry.ContextMap()
		assert.Equal(t, "worker-0007", ctx["holder"])
		assert.EqualValues(t, c.ID(), ctx["conn"])
	}
	assert.EqualValues(t, 2, p.Stats().LeakWarnings)

	// A leak warning never kills the connection.
	require.NoError(t, p.Release(c))
	assert.Equal(t, 2, p.Stats().Idle)

	// Once released, the warning stops and the counter holds.
	require.True(t, p.sweepOnce(context.Background()))
	assert.Len(t, logs.FilterMessage("possible connection leak").All(), 2)
	assert.EqualValues(t, 2, p.Stats().LeakWarnings)
}

func TestHealth_SweepStopsAfterShutdown(t *testing.T) {
	db := adaptertest.New()
	p, _ := observedPool(t, db, Options{MaxSize:1})
	_, err := p.WarmUp(context.Background())
	require.NoError(t, err)

	p.Shutdown()
	assert.False(t, p.sweepOnce(context.Background()))
}

func TestHealth_LoopRunsPeriodically(t *testing.T) {
	db := adaptertest.New()
	p, logs := observedPool(t, db, Options{MaxSize:2, HealthInterval: 20 * time.Millisecond})
	_, err := p.WarmUp(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.StartHealthLoop(ctx)

	time.Sleep(90 * time.Millisecond)
	cancel()

	sweeps := logs.FilterMessage("health sweep complete").Len()
	assert.GreaterOrEqual(t, sweeps, 2)
}
