package loadtest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/wesleyorama2/dbpulse/internal/adapter"
	"github.com/wesleyorama2/dbpulse/internal/loadtest/metrics"
	"github.com/wesleyorama2/dbpulse/internal/loadtest/pool"
	"github.com/wesleyorama2/dbpulse/internal/loadtest/rate"
)

// Options configure a run. Workers and Duration are required; everything
// else has a usable zero value.
type Options struct {
	Workers  int
	Duration time.Duration

	// WarmUp is how long traffic runs before counters reset. Transactions
	// executed during warm-up hit the database but are excluded from the
	// final report.
	WarmUp time.Duration

	// RampUp spreads worker starts evenly across this duration so the
	// database sees a gradual climb instead of a thundering herd.
	RampUp time.Duration

	Mode Mode

	// TargetTPS caps whole-run throughput. Zero or negative disables the
	// limiter.
	TargetTPS int

	// DrainTimeout bounds how long Run waits for workers to finish their
	// in-flight transaction after the deadline. Zero means 10 seconds.
	DrainTimeout time.Duration

	PayloadSize int
	IDCacheSize int
	Seed        int64

	Pool pool.Options

	// Setup controls whether the adapter's schema setup runs before the
	// test.
	Setup bool
}

func (o *Options) withDefaults() Options {
	out := *o
	if out.Workers <= 0 {
		out.Workers = 1
	}
	if out.Duration <= 0 {
		out.Duration = time.Minute
	}
	if out.Mode == "" {
		out.Mode = ModeFull
	}
	if out.DrainTimeout <= 0 {
		out.DrainTimeout = 10 * time.Second
	}
	if out.Seed == 0 {
		out.Seed = time.Now().UnixNano()
	}
	return out
}

// Result summarizes a completed run.
type Result struct {
	RunID    string
	Mode     Mode
	Workers  int
	Started  time.Time
	Finished time.Time

	Stats metrics.Snapshot
	Pool  pool.Stats
}

// ErrAlreadyRunning is returned by Run when a run is in progress on the
// same Controller.
var ErrAlreadyRunning = errors.New("loadtest: run already in progress")

// Controller owns one load test: the pool, the workers, the limiter, and
// the metrics engine. A Controller can run at most one test at a time.
type Controller struct {
	db   adapter.Adapter
	opts Options
	log  *zap.Logger

	running atomic.Bool

	mu      sync.Mutex
	pool    *pool.Pool
	engine  *metrics.Engine
	workers []*Worker
}

// NewController builds a controller for db with the given options.
func NewController(db adapter.Adapter, opts Options, log *zap.Logger) *Controller {
	if log == nil {
		log = zap.NewNop()
	}
	return &Controller{
		db:   db,
		opts: opts.withDefaults(),
		log:  log,
	}
}

// Snapshot returns current metrics, or a zero snapshot before Run.
func (c *Controller) Snapshot() metrics.Snapshot {
	c.mu.Lock()
	e := c.engine
	c.mu.Unlock()
	if e == nil {
		return metrics.Snapshot{}
	}
	return e.Snapshot()
}

// PoolStats returns current pool counts, or zeros before Run.
func (c *Controller) PoolStats() pool.Stats {
	c.mu.Lock()
	p := c.pool
	c.mu.Unlock()
	if p == nil {
		return pool.Stats{}
	}
	return p.Stats()
}

// WorkerStates returns how many workers are in each state.
func (c *Controller) WorkerStates() map[WorkerState]int {
	c.mu.Lock()
	ws := c.workers
	c.mu.Unlock()
	out := make(map[WorkerState]int, 4)
	for _, w := range ws {
		out[w.State()]++
	}
	return out
}

// Run executes the load test to completion or until ctx is cancelled,
// whichever comes first, and returns the final result. Cancellation is a
// graceful stop, not an error: workers drain and the report covers what
// ran.
func (c *Controller) Run(ctx context.Context) (*Result, error) {
	if !c.running.CompareAndSwap(false, true) {
		return nil, ErrAlreadyRunning
	}
	defer c.running.Store(false)

	runID := ulid.Make().String()
	log := c.log.With(zap.String("run", runID))
	started := time.Now()

	log.Info("starting load test",
		zap.String("db", c.db.Name()),
		zap.String("mode", string(c.opts.Mode)),
		zap.Int("workers", c.opts.Workers),
		zap.Duration("duration", c.opts.Duration),
		zap.Duration("warmup", c.opts.WarmUp),
		zap.Duration("rampup", c.opts.RampUp),
		zap.Int("target_tps", c.opts.TargetTPS))

	p := pool.New(c.db, c.opts.Pool, log)
	engine := metrics.NewEngine()

	c.mu.Lock()
	c.pool = p
	c.engine = engine
	c.workers = nil
	c.mu.Unlock()

	defer p.Shutdown()

	opened, warmErr := p.WarmUp(ctx)
	if opened == 0 {
		if warmErr != nil && adapter.IsPermanent(warmErr) {
			return nil, fmt.Errorf("warm-up: %w", warmErr)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		// Transient failures leave the pool empty but recoverable: the
		// workers will keep retrying via lazy creation.
		log.Warn("warm-up opened no connections, relying on lazy creation",
			zap.Error(warmErr))
	}

	if c.opts.Setup {
		if err := c.setupSchema(ctx, p); err != nil {
			return nil, fmt.Errorf("schema setup: %w", err)
		}
	}

	runCtx, cancel := context.WithTimeout(ctx, c.opts.WarmUp+c.opts.Duration)
	defer cancel()

	p.StartHealthLoop(runCtx)

	limiter := rate.NewTokenBucket(float64(c.opts.TargetTPS))
	payloads, err := adapter.NewPayloadSource(c.opts.PayloadSize, c.opts.IDCacheSize, c.opts.Seed)
	if err != nil {
		return nil, err
	}
	seedRowIDCache(ctx, c.db, p, payloads)

	if c.opts.WarmUp > 0 {
		reset := time.AfterFunc(c.opts.WarmUp, func() {
			engine.MarkMeasurementStart()
			log.Info("warm-up complete, measurement started")
		})
		defer reset.Stop()
	}

	workers := make([]*Worker, c.opts.Workers)
	for i := range workers {
		workers[i] = NewWorker(i+1, c.db, p, payloads, limiter, engine, c.opts.Mode, log)
	}
	c.mu.Lock()
	c.workers = workers
	c.mu.Unlock()

	// Linear ramp-up: one worker admitted every RampUp/Workers.
	admitEvery := time.Duration(0)
	if c.opts.RampUp > 0 {
		admitEvery = c.opts.RampUp / time.Duration(c.opts.Workers)
	}

	var wg sync.WaitGroup
	for i, w := range workers {
		if i > 0 && admitEvery > 0 {
			timer := time.NewTimer(admitEvery)
			select {
			case <-runCtx.Done():
				timer.Stop()
			case <-timer.C:
			}
			if runCtx.Err() != nil {
				break
			}
		}
		wg.Add(1)
		go func(w *Worker) {
			defer wg.Done()
			w.Run(runCtx)
		}(w)
	}

	<-runCtx.Done()
	log.Info("deadline reached, draining workers")

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(c.opts.DrainTimeout):
		log.Warn("drain timeout exceeded, some workers did not stop cleanly",
			zap.Duration("timeout", c.opts.DrainTimeout))
	}

	res := &Result{
		RunID:    runID,
		Mode:     c.opts.Mode,
		Workers:  c.opts.Workers,
		Started:  started,
		Finished: time.Now(),
		Stats:    engine.Snapshot(),
		Pool:     p.Stats(),
	}
	log.Info("load test complete",
		zap.Int64("transactions", res.Stats.Transactions),
		zap.Int64("errors", res.Stats.Errors),
		zap.Float64("avg_tps", res.Stats.AvgTPS))
	return res, nil
}

// setupSchema runs the adapter's schema setup over a pooled connection
// when the adapter supports it.
func (c *Controller) setupSchema(ctx context.Context, p *pool.Pool) error {
	s, ok := c.db.(adapter.SchemaSetup)
	if !ok {
		return nil
	}
	conn, err := p.Acquire(ctx, "schema-setup")
	if err != nil {
		return err
	}
	defer func() { _ = p.Release(conn) }()
	return s.Setup(ctx, conn.Raw())
}

// seedRowIDCache primes the id cache with a few existing rows so select
// and update modes have targets before the first inserts land. Best
// effort; a miss just means the adapter picks random rows for a while.
func seedRowIDCache(ctx context.Context, db adapter.Adapter, p *pool.Pool, payloads *adapter.PayloadSource) {
	conn, err := p.Acquire(ctx, "cache-seed")
	if err != nil {
		return
	}
	defer func() { _ = p.Release(conn) }()
	for i := 0; i < 8; i++ {
		res, err := db.Exec(ctx, conn.Raw(), adapter.KindSelect, &adapter.Payload{
			Worker: "cache-seed",
		})
		if err != nil || res == nil {
			return
		}
		payloads.Remember(res.RowID)
	}
}
