package loadtest

import "time"

const (
	backoffFloor = 100 * time.Millisecond
	backoffCap   = 5 * time.Second
)

// backoff tracks consecutive failures for one worker. The doubling pause
// only starts on the second consecutive failure; a single failure returns
// zero and the caller decides whether to retry immediately or take a flat
// pause. Not safe for concurrent use; each worker owns its own.
type backoff struct {
	failures int
	current  time.Duration
}

// Failure records one more consecutive failure and returns how long to
// pause before retrying. Zero on the first failure of a streak.
func (b *backoff) Failure() time.Duration {
	b.failures++
	if b.failures < 2 {
		return 0
	}
	if b.current < backoffFloor {
		b.current = backoffFloor
	}
	d := b.current
	b.current *= 2
	if b.current > backoffCap {
		b.current = backoffCap
	}
	return d
}

// Reset clears the failure streak. Called on every success.
func (b *backoff) Reset() {
	b.failures = 0
	b.current = backoffFloor
}

// Failures returns the current consecutive failure count.
func (b *backoff) Failures() int { return b.failures }
