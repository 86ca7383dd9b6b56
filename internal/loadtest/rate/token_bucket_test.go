package rate

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestNewTokenBucket(t *testing.T) {
	tests := []struct {
		name     string
		rate     float64
		enabled  bool
		capacity float64
	}{
		{"positive rate", 100.0, true, 100.0},
		{"fractional rate keeps burst of one", 0.5, true, 1.0},
		{"zero rate disables", 0.0, false, 0},
		{"negative rate disables", -10.0, false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tb := NewTokenBucket(tt.rate)
			if tb.Enabled() != tt.enabled {
				t.Errorf("Enabled() = %v, want %v", tb.Enabled(), tt.enabled)
			}
			if tt.enabled && tb.Capacity() != tt.capacity {
				t.Errorf("Capacity() = %v, want %v", tb.Capacity(), tt.capacity)
			}
		})
	}
}

func TestTokenBucket_Disabled_NeverBlocks(t *testing.T) {
	tb := NewTokenBucket(0)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 10000; i++ {
		if err := tb.Acquire(ctx); err != nil {
			t.Fatalf("Acquire() error = %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("10000 disabled acquires took %v, should be instant", elapsed)
	}
}

func TestTokenBucket_ImmediateFirst(t *testing.T) {
	tb := NewTokenBucket(1.0)

	start := time.Now()
	if err := tb.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Errorf("First Acquire() took %v, should draw from the initial burst", elapsed)
	}
}

func TestTokenBucket_PacesToRate(t *testing.T) {
	rate := 100.0
	tb := NewTokenBucket(rate)
	ctx := context.Background()

	// Drain the initial burst so the remaining acquires are refill-paced.
	for i := 0; i < int(rate); i++ {
		if err := tb.Acquire(ctx); err != nil {
			t.Fatalf("Acquire() error = %v", err)
		}
	}

	n := 50
	start := time.Now()
	for i := 0; i < n; i++ {
		if err := tb.Acquire(ctx); err != nil {
			t.Fatalf("Acquire() error = %v", err)
		}
	}
	elapsed := time.Since(start)

	expected := time.Duration(float64(n) / rate * float64(time.Second))
	// Generous tolerance for scheduler jitter.
	if elapsed < expected*7/10 || elapsed > expected*15/10 {
		t.Errorf("%d acquires at %v/s took %v, want ~%v", n, rate, elapsed, expected)
	}
}

func TestTokenBucket_RespectsContext(t *testing.T) {
	tb := NewTokenBucket(1.0)

	// Consume the burst.
	if err := tb.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := tb.Acquire(ctx)
	elapsed := time.Since(start)

	if err != context.DeadlineExceeded {
		t.Errorf("Acquire() error = %v, want DeadlineExceeded", err)
	}
	if elapsed > 100*time.Millisecond {
		t.Errorf("Acquire() took %v, should have cancelled quickly", elapsed)
	}
}

func TestTokenBucket_ConcurrentAcquires(t *testing.T) {
	tb := NewTokenBucket(1000.0)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				if err := tb.Acquire(ctx); err != nil {
					t.Errorf("Acquire() error = %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	if got := tb.Stats().TotalAcquired; got != 400 {
		t.Errorf("TotalAcquired = %d, want 400", got)
	}
}
