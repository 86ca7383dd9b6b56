package loadtest

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/wesleyorama2/dbpulse/internal/adapter"
	"github.com/wesleyorama2/dbpulse/internal/loadtest/metrics"
	"github.com/wesleyorama2/dbpulse/internal/loadtest/pool"
	"github.com/wesleyorama2/dbpulse/internal/loadtest/rate"
)

// WorkerState is the lifecycle of a single worker.
type WorkerState int32

const (
	StateWaiting WorkerState = iota
	StateRunning
	StateStopping
	StateStopped
)

func (s WorkerState) String() string {
	switch s {
	case StateWaiting:
		return "waiting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Repeated identical errors are logged at warn level at most once per
// this interval; the rest go to debug with a suppression count.
const errorLogInterval = 10 * time.Second

// When a targeted mode finds no rows to work on, the worker waits this
// long before probing again instead of hammering an empty table.
const emptyTablePause = time.Second

// Worker runs one loop of database transactions: acquire a connection,
// execute the mode's operations, record metrics, release. It keeps its
// connection across iterations and only goes back to the pool after a
// failure streak.
type Worker struct {
	id       int
	name     string
	db       adapter.Adapter
	pool     *pool.Pool
	payloads *adapter.PayloadSource
	limiter  *rate.TokenBucket
	metrics  *metrics.Engine
	mode     Mode
	log      *zap.Logger

	state        atomic.Int32
	transactions atomic.Int64
	backoff      backoff

	lastErrorLog time.Time
	suppressed   int
}

// NewWorker builds a worker. limiter may be a disabled bucket but must not
// be nil.
func NewWorker(id int, db adapter.Adapter, p *pool.Pool, payloads *adapter.PayloadSource,
	limiter *rate.TokenBucket, m *metrics.Engine, mode Mode, log *zap.Logger) *Worker {
	name := fmt.Sprintf("worker-%04d", id)
	return &Worker{
		id:       id,
		name:     name,
		db:       db,
		pool:     p,
		payloads: payloads,
		limiter:  limiter,
		metrics:  m,
		mode:     mode,
		log:      log.With(zap.String("worker", name)),
	}
}

// State returns the worker's current lifecycle state.
func (w *Worker) State() WorkerState {
	return WorkerState(w.state.Load())
}

// Transactions returns how many transactions this worker has completed.
func (w *Worker) Transactions() int64 {
	return w.transactions.Load()
}

// Run loops until ctx is cancelled. It is the worker goroutine's body;
// the scheduler decides when to call it.
func (w *Worker) Run(ctx context.Context) {
	w.state.Store(int32(StateRunning))
	w.log.Debug("starting", zap.String("mode", string(w.mode)))

	var conn *pool.Conn
	for ctx.Err() == nil {
		if err := w.limiter.Acquire(ctx); err != nil {
			break
		}

		if conn == nil {
			c, err := w.pool.Acquire(ctx, w.name)
			if err != nil {
				if errors.Is(err, pool.ErrClosed) || ctx.Err() != nil {
					break
				}
				w.metrics.RecordError()
				wait := w.backoff.Failure()
				if wait == 0 {
					wait = time.Second
				} else {
					w.log.Warn("connection acquire failing",
						zap.Int("consecutive", w.backoff.Failures()),
						zap.Duration("backoff", wait),
						zap.Error(err))
				}
				w.pause(ctx, wait)
				continue
			}
			conn = c
			w.backoff.Reset()
		}

		if w.execute(ctx, conn) {
			w.backoff.Reset()
			continue
		}

		// Two consecutive operation failures point at the connection, not
		// the statement. Replace it and back off.
		if wait := w.backoff.Failure(); wait > 0 {
			_ = w.pool.Discard(conn)
			conn = nil
			w.metrics.RecordConnRecreate()
			w.log.Warn("operation failing, replacing connection",
				zap.Int("consecutive", w.backoff.Failures()),
				zap.Duration("backoff", wait))
			w.pause(ctx, wait)
		}
	}

	w.state.Store(int32(StateStopping))
	if conn != nil {
		if err := w.pool.Release(conn); err != nil && !errors.Is(err, pool.ErrClosed) {
			w.log.Debug("release on shutdown failed", zap.Error(err))
		}
	}
	w.state.Store(int32(StateStopped))
	w.log.Debug("stopped", zap.Int64("transactions", w.transactions.Load()))
}

// execute runs one iteration of the configured mode. Returns false when
// the iteration failed and the failure streak should grow.
func (w *Worker) execute(ctx context.Context, conn *pool.Conn) bool {
	switch w.mode {
	case ModeInsert:
		return w.executeInsert(ctx, conn)
	case ModeSelect:
		return w.executeSelect(ctx, conn)
	case ModeUpdate:
		return w.executeUpdate(ctx, conn)
	case ModeDelete:
		return w.executeDelete(ctx, conn)
	case ModeMixed:
		return w.executeMixed(ctx, conn)
	default:
		return w.executeFull(ctx, conn)
	}
}

// executeFull runs insert, read-back with verification, update, delete
// against a single fresh row and records the whole cycle as one
// transaction.
func (w *Worker) executeFull(ctx context.Context, conn *pool.Conn) bool {
	start := time.Now()

	p := w.payloads.NewPayload(w.name)
	ins, err := w.db.Exec(ctx, conn.Raw(), adapter.KindInsert, p)
	if err != nil {
		return w.fail("insert", err)
	}
	w.metrics.RecordOperation(adapter.KindInsert)

	sel, err := w.db.Exec(ctx, conn.Raw(), adapter.KindSelect, &adapter.Payload{
		RowID:  ins.RowID,
		Worker: w.name,
	})
	if err != nil {
		return w.fail("select", err)
	}
	w.metrics.RecordOperation(adapter.KindSelect)

	if sel == nil || sel.RowID != ins.RowID || sel.Data != p.Data {
		w.metrics.RecordVerificationFailure()
		w.log.Warn("verification failed",
			zap.Int64("row", ins.RowID))
		return false
	}

	if _, err := w.db.Exec(ctx, conn.Raw(), adapter.KindUpdate, &adapter.Payload{
		RowID:  ins.RowID,
		Worker: w.name,
		Data:   w.payloads.NewPayload(w.name).Data,
	}); err != nil {
		return w.fail("update", err)
	}
	w.metrics.RecordOperation(adapter.KindUpdate)

	if _, err := w.db.Exec(ctx, conn.Raw(), adapter.KindDelete, &adapter.Payload{
		RowID:  ins.RowID,
		Worker: w.name,
	}); err != nil {
		return w.fail("delete", err)
	}
	w.metrics.RecordOperation(adapter.KindDelete)

	w.finish(start)
	return true
}

func (w *Worker) executeInsert(ctx context.Context, conn *pool.Conn) bool {
	start := time.Now()
	p := w.payloads.NewPayload(w.name)
	res, err := w.db.Exec(ctx, conn.Raw(), adapter.KindInsert, p)
	if err != nil {
		return w.fail("insert", err)
	}
	w.metrics.RecordOperation(adapter.KindInsert)
	w.payloads.Remember(res.RowID)
	w.finish(start)
	return true
}

func (w *Worker) executeSelect(ctx context.Context, conn *pool.Conn) bool {
	start := time.Now()
	_, err := w.db.Exec(ctx, conn.Raw(), adapter.KindSelect, w.payloads.TargetPayload(w.name))
	if err != nil {
		if errors.Is(err, adapter.ErrNoRows) {
			// Empty table is not a failure in read-only mode.
			w.pause(ctx, emptyTablePause)
			return true
		}
		return w.fail("select", err)
	}
	w.metrics.RecordOperation(adapter.KindSelect)
	w.finish(start)
	return true
}

func (w *Worker) executeUpdate(ctx context.Context, conn *pool.Conn) bool {
	start := time.Now()
	p := w.payloads.TargetPayload(w.name)
	p.Data = w.payloads.NewPayload(w.name).Data
	res, err := w.db.Exec(ctx, conn.Raw(), adapter.KindUpdate, p)
	if err != nil {
		if errors.Is(err, adapter.ErrNoRows) {
			w.pause(ctx, emptyTablePause)
			return true
		}
		return w.fail("update", err)
	}
	w.metrics.RecordOperation(adapter.KindUpdate)
	if res != nil && res.RowID != 0 {
		w.payloads.Remember(res.RowID)
	}
	w.finish(start)
	return true
}

func (w *Worker) executeDelete(ctx context.Context, conn *pool.Conn) bool {
	start := time.Now()
	p := w.payloads.TargetPayload(w.name)
	res, err := w.db.Exec(ctx, conn.Raw(), adapter.KindDelete, p)
	if err != nil {
		if errors.Is(err, adapter.ErrNoRows) {
			w.pause(ctx, emptyTablePause)
			return true
		}
		return w.fail("delete", err)
	}
	w.metrics.RecordOperation(adapter.KindDelete)
	if res != nil && res.RowID != 0 {
		w.payloads.Forget(res.RowID)
	}
	w.finish(start)
	return true
}

// executeMixed picks one write per iteration at a 6:3:1
// insert:update:delete ratio.
func (w *Worker) executeMixed(ctx context.Context, conn *pool.Conn) bool {
	switch n := w.payloads.Intn(10); {
	case n < 6:
		return w.executeInsert(ctx, conn)
	case n < 9:
		return w.executeUpdate(ctx, conn)
	default:
		return w.executeDelete(ctx, conn)
	}
}

func (w *Worker) finish(start time.Time) {
	w.metrics.RecordTransaction(time.Since(start))
	w.transactions.Add(1)
}

// fail records an error and logs it with suppression so a down database
// does not flood the output.
func (w *Worker) fail(op string, err error) bool {
	w.metrics.RecordError()
	now := time.Now()
	if now.Sub(w.lastErrorLog) >= errorLogInterval {
		if w.suppressed > 0 {
			w.log.Warn("operation error",
				zap.String("op", op),
				zap.Int("suppressed", w.suppressed),
				zap.Error(err))
		} else {
			w.log.Warn("operation error",
				zap.String("op", op),
				zap.Error(err))
		}
		w.lastErrorLog = now
		w.suppressed = 0
	} else {
		w.suppressed++
		w.log.Debug("operation error",
			zap.String("op", op),
			zap.Error(err))
	}
	return false
}

func (w *Worker) pause(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
