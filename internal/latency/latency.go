// Package latency tracks operation latency percentiles in bounded
// ring buffers, one per operation class. Samples are never persisted;
// when a ring is full the oldest sample is dropped.
package latency

import (
	"math"
	"sort"
	"sync"
	"time"
)

// Class identifies an operation class with its own sample ring.
type Class string

const (
	ClassScoring      Class = "scoring"
	ClassPruning      Class = "pruning"
	ClassCompression  Class = "compression"
	ClassHook         Class = "hook"
	ClassVectorSearch Class = "vector-search"
)

// DefaultCapacity is the per-class ring size.
const DefaultCapacity = 1024

// Tracker records latency samples per operation class.
// Safe for concurrent use.
type Tracker struct {
	mu       sync.Mutex
	capacity int
	rings    map[Class]*ring
}

// NewTracker creates a Tracker with the given per-class ring capacity.
// Non-positive capacity uses the default.
func NewTracker(capacity int) *Tracker {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Tracker{
		capacity: capacity,
		rings:    make(map[Class]*ring),
	}
}

// Record adds a sample for the class, evicting the oldest when full.
func (t *Tracker) Record(class Class, d time.Duration) {
	ms := float64(d) / float64(time.Millisecond)

	t.mu.Lock()
	defer t.mu.Unlock()

	r, ok := t.rings[class]
	if !ok {
		r = &ring{samples: make([]float64, t.capacity)}
		t.rings[class] = r
	}
	r.push(ms)
}

// Stats summarizes one class's samples. All values in milliseconds.
type Stats struct {
	Count int
	P50   float64
	P95   float64
	P99   float64
	Mean  float64
	Max   float64
}

// Snapshot computes percentile statistics for the class.
func (t *Tracker) Snapshot(class Class) Stats {
	t.mu.Lock()
	r, ok := t.rings[class]
	if !ok {
		t.mu.Unlock()
		return Stats{}
	}
	values := r.values()
	t.mu.Unlock()

	return describe(values)
}

// Samples returns a copy of the class's current samples, oldest first
// ordering not guaranteed. Used by the benchmark suite for regression
// comparisons.
func (t *Tracker) Samples(class Class) []float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	r, ok := t.rings[class]
	if !ok {
		return nil
	}
	return r.values()
}

func describe(values []float64) Stats {
	n := len(values)
	if n == 0 {
		return Stats{}
	}

	sorted := make([]float64, n)
	copy(sorted, values)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}

	return Stats{
		Count: n,
		P50:   percentile(sorted, 0.50),
		P95:   percentile(sorted, 0.95),
		P99:   percentile(sorted, 0.99),
		Mean:  sum / float64(n),
		Max:   sorted[n-1],
	}
}

// percentile uses the nearest-rank method on a sorted slice.
func percentile(sorted []float64, q float64) float64 {
	rank := int(math.Ceil(q * float64(len(sorted))))
	if rank < 1 {
		rank = 1
	}
	if rank > len(sorted) {
		rank = len(sorted)
	}
	return sorted[rank-1]
}

// ring is a fixed-capacity circular sample buffer.
type ring struct {
	samples []float64
	next    int
	count   int
}

func (r *ring) push(v float64) {
	r.samples[r.next] = v
	r.next = (r.next + 1) % len(r.samples)
	if r.count < len(r.samples) {
		r.count++
	}
}

func (r *ring) values() []float64 {
	out := make([]float64, r.count)
	copy(out, r.samples[:r.count])
	return out
}
