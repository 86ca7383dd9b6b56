// Package pool implements a bounded, self-healing connection pool on top
// of an adapter. The minimum size is created up front during warm-up,
// growth to the maximum happens lazily on demand, and a background health
// loop validates and ages out idle connections while tracking checked-out
// ones so leaks can be reported.
package pool

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/wesleyorama2/dbpulse/internal/adapter"
)

const (
	// Creating a connection is retried a few times with doubling backoff
	// before the failure is surfaced to the caller.
	createAttempts    = 3
	createBackoffBase = 100 * time.Millisecond
	createBackoffCap  = 2 * time.Second

	// An Acquire that finds the pool exhausted waits for a release a
	// bounded number of times before returning ExhaustedError.
	acquireWaits       = 3
	acquireBackoffBase = 100 * time.Millisecond
	acquireBackoffCap  = 5 * time.Second
)

// Options configure a Pool. MaxSize is the only required field.
type Options struct {
	// MinSize is how many connections WarmUp opens. Zero or unset warms
	// the pool to MaxSize.
	MinSize int

	// MaxSize is the maximum number of connections, idle plus active.
	// Between MinSize and MaxSize the pool grows lazily on demand.
	MaxSize int

	// MaxLifetime recycles connections older than this on release or
	// during a health sweep. Zero disables age-based recycling.
	MaxLifetime time.Duration

	// LeakThreshold is how long a connection may stay checked out before
	// the health loop starts warning about it. Zero disables leak
	// detection.
	LeakThreshold time.Duration

	// HealthInterval is the period of the background validation sweep.
	HealthInterval time.Duration
}

func (o *Options) withDefaults() Options {
	out := *o
	if out.MaxSize <= 0 {
		out.MaxSize = 10
	}
	if out.MinSize <= 0 || out.MinSize > out.MaxSize {
		out.MinSize = out.MaxSize
	}
	if out.HealthInterval <= 0 {
		out.HealthInterval = 30 * time.Second
	}
	return out
}

// Pool owns a bounded set of adapter connections. All methods are safe for
// concurrent use.
type Pool struct {
	db   adapter.Adapter
	opts Options
	log  *zap.Logger

	mu       sync.Mutex
	idle     []*Conn
	active   map[int64]*Conn
	reserved int // in-flight creations and sweep-held connections
	closed   bool

	nextID atomic.Int64

	// idleCh carries wakeups for Acquire callers blocked on exhaustion.
	// Buffered to Size so a release never blocks on signaling.
	idleCh chan struct{}

	created      atomic.Int64
	destroyed    atomic.Int64
	recycled     atomic.Int64
	leakWarnings atomic.Int64
}

// New builds a Pool around db. No connections are opened until WarmUp or
// the first Acquire.
func New(db adapter.Adapter, opts Options, log *zap.Logger) *Pool {
	if log == nil {
		log = zap.NewNop()
	}
	o := opts.withDefaults()
	return &Pool{
		db:     db,
		opts:   o,
		log:    log,
		active: make(map[int64]*Conn),
		idleCh: make(chan struct{}, o.MaxSize),
	}
}

// WarmUp opens MinSize connections; the rest of the capacity up to
// MaxSize is filled lazily by Acquire. It returns the number of
// connections actually opened; err is the last creation failure, if
// any. A partially warmed pool is usable, so callers decide whether a
// shortfall is fatal.
func (p *Pool) WarmUp(ctx context.Context) (int, error) {
	var lastErr error
	opened := 0
	for i := 0; i < p.opts.MinSize; i++ {
		c, err := p.create(ctx)
		if err != nil {
			lastErr = err
			p.log.Warn("warm-up connection failed",
				zap.Int("slot", i),
				zap.Error(err))
			continue
		}
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			_ = p.db.Close(c.raw)
			return opened, ErrClosed
		}
		p.idle = append(p.idle, c)
		p.mu.Unlock()
		opened++
	}
	p.log.Info("pool warmed up",
		zap.Int("opened", opened),
		zap.Int("min", p.opts.MinSize),
		zap.Int("max", p.opts.MaxSize))
	return opened, lastErr
}

// Acquire checks out a connection: idle first, then a lazily created one
// if the pool is below MaxSize, and otherwise waits a bounded number of
// times for a release. A transient creation failure falls through to the
// wait loop, since a release may hand over a working connection in the
// meantime. Returns ExhaustedError when every wait times out and
// CreationError when creation kept failing the whole time or the failure
// is permanent.
func (p *Pool) Acquire(ctx context.Context, holder string) (*Conn, error) {
	var createErr error
	for attempt := 0; ; attempt++ {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, ErrClosed
		}

		// Oldest-idle first, so every connection keeps circulating and
		// lifetime recycling is observed promptly.
		for len(p.idle) > 0 {
			c := p.idle[0]
			p.idle = p.idle[1:]
			if p.expired(c) {
				p.reserved++
				p.mu.Unlock()
				p.retire(c, "max lifetime reached")
				p.mu.Lock()
				p.reserved--
				continue
			}
			p.checkout(c, holder)
			p.mu.Unlock()
			return c, nil
		}

		if p.total() < p.opts.MaxSize {
			p.reserved++
			p.mu.Unlock()
			c, err := p.create(ctx)
			p.mu.Lock()
			p.reserved--
			if err != nil {
				p.mu.Unlock()
				if ctx.Err() != nil || adapter.IsPermanent(err) {
					return nil, err
				}
				createErr = err
			} else {
				if p.closed {
					p.mu.Unlock()
					_ = p.db.Close(c.raw)
					return nil, ErrClosed
				}
				p.checkout(c, holder)
				p.mu.Unlock()
				return c, nil
			}
		} else {
			p.mu.Unlock()
		}

		if attempt >= acquireWaits {
			if createErr != nil {
				return nil, createErr
			}
			return nil, &ExhaustedError{Waited: acquireWaits, MaxSize: p.opts.MaxSize}
		}

		wait := backoff(acquireBackoffBase, attempt, acquireBackoffCap)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-p.idleCh:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// Release returns a checked-out connection to the idle set. Connections
// past their maximum lifetime are closed instead and a slot is freed for
// lazy recreation. Releasing a connection the pool does not track as
// active is an error.
func (p *Pool) Release(c *Conn) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		_ = p.db.Close(c.raw)
		return nil
	}
	if _, ok := p.active[c.id]; !ok {
		p.mu.Unlock()
		return ErrNotActive
	}
	delete(p.active, c.id)
	c.checkedOutAt = time.Time{}
	c.holder = ""
	c.lastUsedAt = time.Now()

	if p.expired(c) {
		p.mu.Unlock()
		p.retire(c, "max lifetime reached")
		p.signal()
		return nil
	}

	p.idle = append(p.idle, c)
	p.mu.Unlock()
	p.signal()
	return nil
}

// Discard removes a broken checked-out connection from the pool and
// closes it. The freed slot is refilled lazily by the next Acquire.
func (p *Pool) Discard(c *Conn) error {
	p.mu.Lock()
	if _, ok := p.active[c.id]; !ok && !p.closed {
		p.mu.Unlock()
		return ErrNotActive
	}
	delete(p.active, c.id)
	p.mu.Unlock()

	p.destroyed.Add(1)
	if err := p.db.Close(c.raw); err != nil {
		p.log.Debug("close on discard failed",
			zap.Int64("conn", c.id),
			zap.Error(err))
	}
	p.log.Debug("connection discarded", zap.Int64("conn", c.id))
	p.signal()
	return nil
}

// Stats is a point-in-time view of the pool. Cheap enough to call from a
// progress reporter loop.
type Stats struct {
	Idle     int
	Active   int
	Capacity int

	Created      int64
	Destroyed    int64
	Recycled     int64
	LeakWarnings int64
}

// Stats returns counts of idle and active connections plus lifetime
// create/destroy/leak-warning totals.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	s := Stats{
		Idle:     len(p.idle),
		Active:   len(p.active),
		Capacity: p.opts.MaxSize,
	}
	p.mu.Unlock()
	s.Created = p.created.Load()
	s.Destroyed = p.destroyed.Load()
	s.Recycled = p.recycled.Load()
	s.LeakWarnings = p.leakWarnings.Load()
	return s
}

// Shutdown closes every connection, idle and active alike, and marks the
// pool closed. Safe to call more than once.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	idle := p.idle
	p.idle = nil
	active := make([]*Conn, 0, len(p.active))
	for _, c := range p.active {
		active = append(active, c)
	}
	p.active = make(map[int64]*Conn)
	p.mu.Unlock()

	for _, c := range idle {
		p.destroyed.Add(1)
		_ = p.db.Close(c.raw)
	}
	for _, c := range active {
		p.destroyed.Add(1)
		_ = p.db.Close(c.raw)
	}
	p.log.Info("pool shut down",
		zap.Int("idle_closed", len(idle)),
		zap.Int("active_closed", len(active)))
}

// create opens one connection with bounded retries.
func (p *Pool) create(ctx context.Context) (*Conn, error) {
	var lastErr error
	for attempt := 0; attempt < createAttempts; attempt++ {
		if attempt > 0 {
			wait := backoff(createBackoffBase, attempt-1, createBackoffCap)
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
		}
		raw, err := p.db.Open(ctx)
		if err != nil {
			lastErr = err
			if adapter.IsPermanent(err) {
				break
			}
			continue
		}
		now := time.Now()
		c := &Conn{
			id:         p.nextID.Add(1),
			raw:        raw,
			createdAt:  now,
			lastUsedAt: now,
		}
		p.created.Add(1)
		return c, nil
	}
	return nil, &CreationError{Attempts: createAttempts, Err: lastErr}
}

func (p *Pool) checkout(c *Conn, holder string) {
	c.checkedOutAt = time.Now()
	c.holder = holder
	c.useCount++
	p.active[c.id] = c
}

// total counts every slot the pool is responsible for. Callers hold mu.
func (p *Pool) total() int {
	return len(p.idle) + len(p.active) + p.reserved
}

func (p *Pool) expired(c *Conn) bool {
	return p.opts.MaxLifetime > 0 && c.Age() > p.opts.MaxLifetime
}

// retire closes an aged-out connection. Called without mu held.
func (p *Pool) retire(c *Conn, reason string) {
	p.recycled.Add(1)
	p.destroyed.Add(1)
	if err := p.db.Close(c.raw); err != nil {
		p.log.Debug("close on retire failed",
			zap.Int64("conn", c.id),
			zap.Error(err))
	}
	p.log.Debug("connection retired",
		zap.Int64("conn", c.id),
		zap.String("reason", reason),
		zap.Int64("uses", c.useCount))
}

func (p *Pool) signal() {
	select {
	case p.idleCh <- struct{}{}:
	default:
	}
}

func backoff(base time.Duration, attempt int, cap time.Duration) time.Duration {
	d := base << uint(attempt)
	if d > cap || d <= 0 {
		return cap
	}
	return d
}
