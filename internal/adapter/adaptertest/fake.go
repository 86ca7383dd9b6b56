// Package adaptertest provides an in-memory Adapter for exercising the
// pool, workers, and controller without a real backend.
package adaptertest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wesleyorama2/dbpulse/internal/adapter"
)

// ErrInjected is the base error returned while the fake is failing.
var ErrInjected = errors.New("adaptertest: injected failure")

type row struct {
	key  string
	data string
}

// Conn is the fake's connection handle.
type Conn struct {
	ID     int64
	closed atomic.Bool
}

// Fake is a thread-safe in-memory Adapter. Zero value is usable.
//
// Failure injection: FailFor makes Open/Exec/Ping fail for a window,
// SetFailing toggles failure until cleared. SetPermanent marks injected
// open errors permanent. CorruptReads makes selects return mangled data,
// which full mode should count as a verification failure.
type Fake struct {
	mu     sync.Mutex
	rows   map[int64]row
	nextID int64

	nextConnID atomic.Int64
	opens      atomic.Int64
	closes     atomic.Int64
	execs      atomic.Int64
	pings      atomic.Int64

	failing   atomic.Bool
	failUntil atomic.Int64 // unix nanos
	permanent atomic.Bool
	corrupt   atomic.Bool

	// ExecDelay, when set, is applied to every Exec call.
	ExecDelay time.Duration
}

// New returns an empty fake backend.
func New() *Fake {
	return &Fake{rows: make(map[int64]row)}
}

func (f *Fake) Name() string { return "fake" }

// SetFailing toggles unconditional failure of Open/Exec/Ping.
func (f *Fake) SetFailing(v bool) { f.failing.Store(v) }

// FailFor fails all calls for the given window, then recovers on its own.
func (f *Fake) FailFor(d time.Duration) {
	f.failUntil.Store(time.Now().Add(d).UnixNano())
}

// SetPermanent marks injected open errors as permanent setup faults.
func (f *Fake) SetPermanent(v bool) { f.permanent.Store(v) }

// CorruptReads makes every select return data that does not match the row.
func (f *Fake) CorruptReads(v bool) { f.corrupt.Store(v) }

// Opens returns how many connections were opened.
func (f *Fake) Opens() int64 { return f.opens.Load() }

// Closes returns how many connections were closed.
func (f *Fake) Closes() int64 { return f.closes.Load() }

// Execs returns how many operations were executed.
func (f *Fake) Execs() int64 { return f.execs.Load() }

// Rows returns the current row count.
func (f *Fake) Rows() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows)
}

func (f *Fake) unavailable() bool {
	if f.failing.Load() {
		return true
	}
	until := f.failUntil.Load()
	return until != 0 && time.Now().UnixNano() < until
}

func (f *Fake) Open(ctx context.Context) (adapter.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.opens.Add(1)
	if f.unavailable() {
		err := fmt.Errorf("open: %w", ErrInjected)
		if f.permanent.Load() {
			return nil, adapter.Permanent(err)
		}
		return nil, err
	}
	return &Conn{ID: f.nextConnID.Add(1)}, nil
}

func (f *Fake) Ping(ctx context.Context, conn adapter.Conn) error {
	f.pings.Add(1)
	c, err := fakeConn(conn)
	if err != nil {
		return err
	}
	if c.closed.Load() {
		return fmt.Errorf("ping: connection %d closed", c.ID)
	}
	if f.unavailable() {
		return fmt.Errorf("ping: %w", ErrInjected)
	}
	return ctx.Err()
}

func (f *Fake) Close(conn adapter.Conn) error {
	c, err := fakeConn(conn)
	if err != nil {
		return err
	}
	if c.closed.CompareAndSwap(false, true) {
		f.closes.Add(1)
		return nil
	}
	return fmt.Errorf("close: connection %d already closed", c.ID)
}

func (f *Fake) Exec(ctx context.Context, conn adapter.Conn, kind adapter.OperationKind, p *adapter.Payload) (*adapter.Result, error) {
	c, err := fakeConn(conn)
	if err != nil {
		return nil, err
	}
	if c.closed.Load() {
		return nil, fmt.Errorf("exec: connection %d closed", c.ID)
	}
	if f.ExecDelay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(f.ExecDelay):
		}
	}
	f.execs.Add(1)
	if f.unavailable() {
		return nil, fmt.Errorf("exec %s: %w", kind, ErrInjected)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	switch kind {
	case adapter.KindInsert:
		f.nextID++
		f.rows[f.nextID] = row{key: p.RowKey, data: p.Data}
		return &adapter.Result{RowID: f.nextID, RowKey: p.RowKey, Data: p.Data, RowsAffected: 1}, nil

	case adapter.KindSelect:
		id, r, ok := f.pickLocked(p.RowID)
		if !ok {
			return nil, adapter.ErrNoRows
		}
		data := r.data
		if f.corrupt.Load() {
			data = "corrupted:" + data
		}
		return &adapter.Result{RowID: id, RowKey: r.key, Data: data}, nil

	case adapter.KindUpdate:
		id, r, ok := f.pickLocked(p.RowID)
		if !ok {
			return nil, adapter.ErrNoRows
		}
		r.data = p.Data
		f.rows[id] = r
		return &adapter.Result{RowID: id, RowKey: r.key, RowsAffected: 1}, nil

	case adapter.KindDelete:
		id, _, ok := f.pickLocked(p.RowID)
		if !ok {
			return nil, adapter.ErrNoRows
		}
		delete(f.rows, id)
		return &adapter.Result{RowID: id, RowsAffected: 1}, nil

	default:
		return nil, fmt.Errorf("exec: unsupported operation %v", kind)
	}
}

func (f *Fake) pickLocked(rowID int64) (int64, row, bool) {
	if rowID > 0 {
		r, ok := f.rows[rowID]
		return rowID, r, ok
	}
	for id, r := range f.rows {
		return id, r, true
	}
	return 0, row{}, false
}

func fakeConn(conn adapter.Conn) (*Conn, error) {
	c, ok := conn.(*Conn)
	if !ok {
		return nil, fmt.Errorf("adaptertest: foreign connection handle %T", conn)
	}
	return c, nil
}

var _ adapter.Adapter = (*Fake)(nil)
