package gateway

import (
	"slices"
	"sync"
	"time"
)

// LatencyTracker keeps the last N lag samples and reports percentiles.
type LatencyTracker struct {
	mu      sync.Mutex
	samples []time.Duration
	next    int
	full    bool
}

// NewLatencyTracker creates a tracker holding up to capacity samples.
func NewLatencyTracker(capacity int) *LatencyTracker {
	if capacity <= 0 {
		capacity = 1024
	}
	return &LatencyTracker{samples: make([]time.Duration, capacity)}
}

// Record adds one sample, overwriting the oldest once full.
func (lt *LatencyTracker) Record(d time.Duration) {
	lt.mu.Lock()
	lt.samples[lt.next] = d
	lt.next++
	if lt.next == len(lt.samples) {
		lt.next = 0
		lt.full = true
	}
	lt.mu.Unlock()
}

// Count returns the number of samples held.
func (lt *LatencyTracker) Count() int {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	if lt.full {
		return len(lt.samples)
	}
	return lt.next
}

// Percentiles returns p50, p95 and p99. All zero with no samples.
func (lt *LatencyTracker) Percentiles() (p50, p95, p99 time.Duration) {
	lt.mu.Lock()
	n := lt.next
	if lt.full {
		n = len(lt.samples)
	}
	sorted := slices.Clone(lt.samples[:n])
	lt.mu.Unlock()

	if n == 0 {
		return 0, 0, 0
	}
	slices.Sort(sorted)
	return quantile(sorted, 0.50), quantile(sorted, 0.95), quantile(sorted, 0.99)
}

// quantile interpolates linearly between the closest ranks of sorted.
func quantile(sorted []time.Duration, q float64) time.Duration {
	if len(sorted) == 1 {
		return sorted[0]
	}
	rank := q * float64(len(sorted)-1)
	lo := int(rank)
	if lo >= len(sorted)-1 {
		return sorted[len(sorted)-1]
	}
	frac := rank - float64(lo)
	return sorted[lo] + time.Duration(frac*float64(sorted[lo+1]-sorted[lo]))
}
