package pool

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// StartHealthLoop runs periodic sweeps until ctx is cancelled or the pool
// is shut down. It returns immediately; sweeps happen on a background
// goroutine.
func (p *Pool) StartHealthLoop(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(p.opts.HealthInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if !p.sweepOnce(ctx) {
					return
				}
			}
		}
	}()
}

// sweepOnce validates every idle connection, retires the expired and the
// broken, and warns about connections held past the leak threshold. It
// warns on every sweep, not just the first, so a leak stays visible in
// the logs for as long as it persists. Returns false once the pool is
// closed.
func (p *Pool) sweepOnce(ctx context.Context) bool {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return false
	}
	candidates := p.idle
	p.idle = nil
	// Held out of the idle set, these still occupy capacity so Acquire
	// cannot over-create while the sweep pings them.
	p.reserved += len(candidates)

	type leak struct {
		id     int64
		holder string
		held   time.Duration
	}
	var leaks []leak
	if p.opts.LeakThreshold > 0 {
		for _, c := range p.active {
			if held := c.HeldFor(); held > p.opts.LeakThreshold {
				leaks = append(leaks, leak{id: c.id, holder: c.holder, held: held})
			}
		}
	}
	p.mu.Unlock()

	for _, l := range leaks {
		p.leakWarnings.Add(1)
		p.log.Warn("possible connection leak",
			zap.Int64("conn", l.id),
			zap.String("holder", l.holder),
			zap.Duration("held_for", l.held),
			zap.Duration("threshold", p.opts.LeakThreshold))
	}

	var kept []*Conn
	removed, recycled := 0, 0
	for _, c := range candidates {
		if p.expired(c) {
			p.retire(c, "max lifetime reached")
			recycled++
			continue
		}
		if err := p.db.Ping(ctx, c.raw); err != nil {
			p.log.Warn("evicting unhealthy connection",
				zap.Int64("conn", c.id),
				zap.Error(err))
			p.destroyed.Add(1)
			_ = p.db.Close(c.raw)
			removed++
			continue
		}
		kept = append(kept, c)
	}

	p.mu.Lock()
	p.reserved -= len(candidates)
	if p.closed {
		p.mu.Unlock()
		for _, c := range kept {
			p.destroyed.Add(1)
			_ = p.db.Close(c.raw)
		}
		return false
	}
	p.idle = append(p.idle, kept...)
	p.mu.Unlock()

	for i := 0; i < removed+recycled; i++ {
		p.signal()
	}

	p.log.Debug("health sweep complete",
		zap.Int("checked", len(candidates)),
		zap.Int("removed", removed),
		zap.Int("recycled", recycled),
		zap.Int("leaks", len(leaks)))
	return true
}
