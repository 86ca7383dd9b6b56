// Package metrics aggregates load test results: operation counters,
// transaction latency percentiles, and throughput figures. All recording
// paths are safe for concurrent use by many workers.
package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"

	"github.com/wesleyorama2/dbpulse/internal/adapter"
)

// Histogram bounds: 1 microsecond to 1 hour at 3 significant figures.
// Anything faster than 1µs is clamped up, anything slower than an hour
// is clamped down; both are far outside sane transaction latencies.
const (
	histogramMin     = int64(time.Microsecond)
	histogramMax     = int64(time.Hour)
	histogramSigFigs = 3

	windowWidth   = 100 * time.Millisecond
	windowBuckets = 128
	windowSpan    = 5 * time.Second
)

// Engine collects everything the reporters need. Counters are atomics so
// the per-operation hot path never takes a lock; only the latency
// histogram is mutex-guarded, because hdrhistogram is not thread safe.
type Engine struct {
	transactions atomic.Int64
	inserts      atomic.Int64
	selects      atomic.Int64
	updates      atomic.Int64
	deletes      atomic.Int64
	errors       atomic.Int64
	verifyFails  atomic.Int64
	recreates    atomic.Int64

	histMu sync.Mutex
	hist   *hdrhistogram.Histogram

	window *windowStore

	startMu    sync.Mutex
	started    time.Time
	resetOnce  sync.Once
	measuredAt time.Time
}

// NewEngine returns an Engine whose measurement clock starts immediately.
// Call MarkMeasurementStart at the end of warm-up to discard everything
// recorded before it.
func NewEngine() *Engine {
	now := time.Now()
	return &Engine{
		hist:       hdrhistogram.New(histogramMin, histogramMax, histogramSigFigs),
		window:     newWindowStore(windowWidth, windowBuckets),
		started:    now,
		measuredAt: now,
	}
}

// RecordOperation counts one completed operation of the given kind.
func (e *Engine) RecordOperation(kind adapter.OperationKind) {
	switch kind {
	case adapter.KindInsert:
		e.inserts.Add(1)
	case adapter.KindSelect:
		e.selects.Add(1)
	case adapter.KindUpdate:
		e.updates.Add(1)
	case adapter.KindDelete:
		e.deletes.Add(1)
	}
}

// RecordTransaction counts one completed transaction cycle and records its
// end-to-end latency.
func (e *Engine) RecordTransaction(latency time.Duration) {
	e.transactions.Add(1)

	v := int64(latency)
	if v < histogramMin {
		v = histogramMin
	} else if v > histogramMax {
		v = histogramMax
	}
	e.histMu.Lock()
	_ = e.hist.RecordValue(v)
	e.histMu.Unlock()

	e.window.Record(time.Now())
}

// RecordError counts one failed operation or transaction.
func (e *Engine) RecordError() {
	e.errors.Add(1)
}

// RecordVerificationFailure counts one read-back whose data did not match
// what was written.
func (e *Engine) RecordVerificationFailure() {
	e.verifyFails.Add(1)
}

// RecordConnRecreate counts one connection discarded and replaced after
// repeated failures.
func (e *Engine) RecordConnRecreate() {
	e.recreates.Add(1)
}

// MarkMeasurementStart zeroes all counters and the latency histogram so
// that warm-up traffic is excluded from the final report. The reset
// happens exactly once; later calls are no-ops.
func (e *Engine) MarkMeasurementStart() {
	e.resetOnce.Do(func() {
		e.transactions.Store(0)
		e.inserts.Store(0)
		e.selects.Store(0)
		e.updates.Store(0)
		e.deletes.Store(0)
		e.errors.Store(0)
		e.verifyFails.Store(0)
		e.recreates.Store(0)

		e.histMu.Lock()
		e.hist.Reset()
		e.histMu.Unlock()

		e.startMu.Lock()
		e.measuredAt = time.Now()
		e.startMu.Unlock()
	})
}

// Snapshot is a consistent point-in-time view of the engine. Taking one is
// read-only and idempotent.
type Snapshot struct {
	Transactions int64
	Inserts      int64
	Selects      int64
	Updates      int64
	Deletes      int64
	Errors       int64
	VerifyFails  int64
	ConnRecreate int64

	Elapsed time.Duration

	// AvgTPS is transactions divided by the measured elapsed time.
	// WindowTPS is the rate over the trailing few seconds.
	AvgTPS    float64
	WindowTPS float64

	LatencyP50  time.Duration
	LatencyP95  time.Duration
	LatencyP99  time.Duration
	LatencyMax  time.Duration
	LatencyMean time.Duration
}

// Snapshot captures current totals, throughput, and latency percentiles.
func (e *Engine) Snapshot() Snapshot {
	now := time.Now()

	e.startMu.Lock()
	since := e.measuredAt
	e.startMu.Unlock()

	s := Snapshot{
		Transactions: e.transactions.Load(),
		Inserts:      e.inserts.Load(),
		Selects:      e.selects.Load(),
		Updates:      e.updates.Load(),
		Deletes:      e.deletes.Load(),
		Errors:       e.errors.Load(),
		VerifyFails:  e.verifyFails.Load(),
		ConnRecreate: e.recreates.Load(),
		Elapsed:      now.Sub(since),
	}

	if s.Elapsed > 0 {
		s.AvgTPS = float64(s.Transactions) / s.Elapsed.Seconds()
	}
	s.WindowTPS = e.window.Rate(now, windowSpan)

	e.histMu.Lock()
	if e.hist.TotalCount() > 0 {
		s.LatencyP50 = time.Duration(e.hist.ValueAtQuantile(50))
		s.LatencyP95 = time.Duration(e.hist.ValueAtQuantile(95))
		s.LatencyP99 = time.Duration(e.hist.ValueAtQuantile(99))
		s.LatencyMax = time.Duration(e.hist.Max())
		s.LatencyMean = time.Duration(e.hist.Mean())
	}
	e.histMu.Unlock()

	return s
}

// ErrorRate returns errors as a fraction of all attempted transactions.
func (s Snapshot) ErrorRate() float64 {
	total := s.Transactions + s.Errors
	if total == 0 {
		return 0
	}
	return float64(s.Errors) / float64(total)
}
