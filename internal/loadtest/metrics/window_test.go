package metrics

import (
	"testing"
	"time"
)

func TestWindowStore_Rate(t *testing.T) {
	w := newWindowStore(100*time.Millisecond, 64)
	now := time.Now()

	// 50 transactions spread over the last second.
	for i := 0; i < 50; i++ {
		w.Record(now.Add(-time.Duration(i) * 20 * time.Millisecond))
	}

	got := w.Rate(now, time.Second)
	if got < 40 || got > 60 {
		t.Errorf("Rate() = %v, want ~50", got)
	}
}

func TestWindowStore_ExcludesOldBuckets(t *testing.T) {
	w := newWindowStore(100*time.Millisecond, 64)
	now := time.Now()

	// All activity well outside the queried span.
	for i := 0; i < 100; i++ {
		w.Record(now.Add(-10 * time.Second))
	}

	if got := w.Rate(now, time.Second); got != 0 {
		t.Errorf("Rate() = %v, want 0 for stale activity", got)
	}
}

func TestWindowStore_SpanCappedToRing(t *testing.T) {
	w := newWindowStore(100*time.Millisecond, 10) // ring covers 1s

	now := time.Now()
	w.Record(now)

	// Asking for more than the ring holds must not divide by the full
	// requested span.
	got := w.Rate(now, time.Minute)
	if got < 0.9 {
		t.Errorf("Rate() = %v, want ~1 with span capped to ring length", got)
	}
}

func TestWindowStore_Reset(t *testing.T) {
	w := newWindowStore(100*time.Millisecond, 16)
	now := time.Now()
	w.Record(now)
	w.Reset()

	if got := w.Rate(now, time.Second); got != 0 {
		t.Errorf("Rate() after Reset = %v, want 0", got)
	}
}
