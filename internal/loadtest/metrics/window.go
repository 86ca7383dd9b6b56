package metrics

import (
	"sync"
	"time"
)

// windowStore tracks transaction completions in fixed-width time buckets
// (100 ms by default) held in a ring. It backs the "real-time" TPS figure,
// which is deliberately distinct from the lifetime average: the window
// reacts within a second to a stall or recovery, the average does not.
//
// Buckets self-expire by being overwritten as time advances, so the
// measurement reset at the warm-up boundary leaves them alone.
type windowStore struct {
	mu      sync.Mutex
	width   time.Duration
	buckets []windowBucket
}

type windowBucket struct {
	slot  int64 // bucket start, in units of width
	count int64
}

func newWindowStore(width time.Duration, n int) *windowStore {
	if width <= 0 {
		width = 100 * time.Millisecond
	}
	if n <= 0 {
		n = 64
	}
	return &windowStore{
		width:   width,
		buckets: make([]windowBucket, n),
	}
}

// Record counts one transaction into the bucket covering now.
func (w *windowStore) Record(now time.Time) {
	slot := now.UnixNano() / int64(w.width)
	idx := int(slot % int64(len(w.buckets)))

	w.mu.Lock()
	if w.buckets[idx].slot != slot {
		w.buckets[idx] = windowBucket{slot: slot}
	}
	w.buckets[idx].count++
	w.mu.Unlock()
}

// Rate returns transactions per second over the trailing span, computed as
// the sum of bucket counts inside the span divided by the span length.
func (w *windowStore) Rate(now time.Time, span time.Duration) float64 {
	if span <= 0 {
		span = time.Second
	}
	maxSpan := w.width * time.Duration(len(w.buckets))
	if span > maxSpan {
		span = maxSpan
	}

	nowSlot := now.UnixNano() / int64(w.width)
	oldest := (now.Add(-span).UnixNano()) / int64(w.width)

	var total int64
	w.mu.Lock()
	for _, b := range w.buckets {
		if b.slot > oldest && b.slot <= nowSlot {
			total += b.count
		}
	}
	w.mu.Unlock()

	return float64(total) / span.Seconds()
}

// Reset clears all buckets. Only used when reusing a store across runs.
func (w *windowStore) Reset() {
	w.mu.Lock()
	for i := range w.buckets {
		w.buckets[i] = windowBucket{}
	}
	w.mu.Unlock()
}
