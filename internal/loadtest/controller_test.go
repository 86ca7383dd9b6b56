package loadtest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wesleyorama2/dbpulse/internal/adapter/adaptertest"
	"github.com/wesleyorama2/dbpulse/internal/loadtest/pool"
)

func TestController_EndToEnd(t *testing.T) {
	db := adaptertest.New()
	ctrl := NewController(db, Options{
		Workers:  4,
		Duration: 300 * time.Millisecond,
		WarmUp:   100 * time.Millisecond,
		Mode:     ModeFull,
		Pool:     pool.Options{MaxSize: 4},
	}, zap.NewNop())

	res, err := ctrl.Run(context.Background())
	require.NoError(t, err)

	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, ModeFull, res.Mode)
	assert.Equal(t, 4, res.Workers)
	assert.Greater(t, res.Stats.Transactions, int64(0))
	assert.Zero(t, res.Stats.Errors)

	// The measured window excludes warm-up, so elapsed tracks Duration,
	// not WarmUp+Duration.
	assert.Less(t, res.Stats.Elapsed, 450*time.Millisecond)

	// Shutdown closed every connection it opened.
	assert.Equal(t, db.Opens(), db.Closes())
}

func TestController_SecondRunWhileRunning(t *testing.T) {
	db := adaptertest.New()
	ctrl := NewController(db, Options{
		Workers:  1,
		Duration: 500 * time.Millisecond,
		Pool:     pool.Options{MaxSize: 1},
	}, zap.NewNop())

	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		close(started)
		_, err := ctrl.Run(context.Background())
		done <- err
	}()
	<-started
	time.Sleep(50 * time.Millisecond)

	_, err := ctrl.Run(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	require.NoError(t, <-done)
}

func TestController_PermanentWarmUpFailureAborts(t *testing.T) {
	db := adaptertest.New()
	db.SetFailing(true)
	db.SetPermanent(true)

	ctrl := NewController(db, Options{
		Workers:  2,
		Duration: 200 * time.Millisecond,
		Pool:     pool.Options{MaxSize: 2},
	}, zap.NewNop())

	_, err := ctrl.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "warm-up")
}

func TestController_TransientWarmUpFailureRunsAnyway(t *testing.T) {
	db := adaptertest.New()
	db.FailFor(100 * time.Millisecond)

	ctrl := NewController(db, Options{
		Workers:  2,
		Duration: 600 * time.Millisecond,
		Pool:     pool.Options{MaxSize: 2},
	}, zap.NewNop())

	res, err := ctrl.Run(context.Background())
	require.NoError(t, err)
	assert.Greater(t, res.Stats.Transactions, int64(0),
		"lazy creation should recover once the database returns")
}

func TestController_RateCap(t *testing.T) {
	db := adaptertest.New()
	ctrl := NewController(db, Options{
		Workers:   4,
		Duration:  time.Second,
		Mode:      ModeInsert,
		TargetTPS: 50,
		Pool:      pool.Options{MaxSize: 4},
	}, zap.NewNop())

	res, err := ctrl.Run(context.Background())
	require.NoError(t, err)

	// Burst admits up to 50 at once plus ~50 refilled over the second.
	assert.LessOrEqual(t, res.Stats.Transactions, int64(130))
	assert.Greater(t, res.Stats.Transactions, int64(10))
}

func TestController_CancelStopsGracefully(t *testing.T) {
	db := adaptertest.New()
	ctrl := NewController(db, Options{
		Workers:  3,
		Duration: 10 * time.Second,
		Mode:     ModeFull,
		Pool:     pool.Options{MaxSize: 3},
	}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(200 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	res, err := ctrl.Run(ctx)
	require.NoError(t, err)

	assert.Less(t, time.Since(start), 3*time.Second)
	assert.Greater(t, res.Stats.Transactions, int64(0))
	assert.Equal(t, db.Opens(), db.Closes())
}

func TestController_RampUpStaggersStarts(t *testing.T) {
	db := adaptertest.New()
	ctrl := NewController(db, Options{
		Workers:  4,
		Duration: 400 * time.Millisecond,
		RampUp:   200 * time.Millisecond,
		Mode:     ModeInsert,
		Pool:     pool.Options{MaxSize: 4},
	}, zap.NewNop())

	earlyCh := make(chan int, 1)
	go func() {
		time.Sleep(60 * time.Millisecond)
		earlyCh <- ctrl.WorkerStates()[StateRunning]
	}()

	res, err := ctrl.Run(context.Background())
	require.NoError(t, err)
	early := <-earlyCh

	assert.Less(t, early, res.Workers, "not all workers should be running mid ramp-up")
	assert.Greater(t, early, 0, "first worker starts immediately")
}
