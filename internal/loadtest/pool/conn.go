package pool

import (
	"time"

	"github.com/wesleyorama2/dbpulse/internal/adapter"
)

// Conn wraps an adapter connection with the bookkeeping the pool needs:
// age for lifetime recycling, checkout time for leak detection, and a use
// counter for reporting.
type Conn struct {
	id  int64
	raw adapter.Conn

	createdAt    time.Time
	lastUsedAt   time.Time
	checkedOutAt time.Time
	holder       string
	useCount     int64
}

// ID returns the pool-local identifier, unique per pool instance.
func (c *Conn) ID() int64 { return c.id }

// Raw returns the underlying adapter connection for executing operations.
func (c *Conn) Raw() adapter.Conn { return c.raw }

// Age returns how long ago the connection was created.
func (c *Conn) Age() time.Duration { return time.Since(c.createdAt) }

// HeldFor returns how long the connection has been checked out. Zero when
// the connection is idle.
func (c *Conn) HeldFor() time.Duration {
	if c.checkedOutAt.IsZero() {
		return 0
	}
	return time.Since(c.checkedOutAt)
}

// UseCount returns how many times the connection has been acquired.
func (c *Conn) UseCount() int64 { return c.useCount }
