package metrics

import (
	"sync/atomic"
	"time"
)

// BucketCount is the number of histogram buckets, +Inf included.
const BucketCount = 8

const cacheLineSize = 64

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

type histogram struct {
	buckets [BucketCount]uint64
}

// Set is a fixed-size group of counters and histograms addressed by index.
// A nil *Set is valid and records nothing.
type Set struct {
	counters   []paddedCounter
	histograms []histogram
}

// New allocates a Set. histograms may be zero to disable latency recording.
func New(counters, histograms int) *Set {
	if counters < 0 {
		counters = 0
	}
	if histograms < 0 {
		histograms = 0
	}
	return &Set{
		counters:   make([]paddedCounter, counters),
		histograms: make([]histogram, histograms),
	}
}

// Inc adds one to counter i.
func (s *Set) Inc(i int) {
	if s == nil || i < 0 || i >= len(s.counters) {
		return
	}
	atomic.AddUint64(&s.counters[i].value, 1)
}

// Counter reads counter i.
func (s *Set) Counter(i int) uint64 {
	if s == nil || i < 0 || i >= len(s.counters) {
		return 0
	}
	return atomic.LoadUint64(&s.counters[i].value)
}

// Observe records d in histogram i.
func (s *Set) Observe(i int, d time.Duration) {
	if s == nil || i < 0 || i >= len(s.histograms) {
		return
	}
	atomic.AddUint64(&s.histograms[i].buckets[BucketIndex(d)], 1)
}

// Buckets returns a non-cumulative copy of histogram i, or nil.
func (s *Set) Buckets(i int) []uint64 {
	if s == nil || i < 0 || i >= len(s.histograms) {
		return nil
	}
	out := make([]uint64, BucketCount)
	for b := range out {
		out[b] = atomic.LoadUint64(&s.histograms[i].buckets[b])
	}
	return out
}

// Histograms reports how many histograms the set records.
func (s *Set) Histograms() int {
	if s == nil {
		return 0
	}
	return len(s.histograms)
}

// BucketIndex maps a duration onto the fixed bucket layout.
func BucketIndex(d time.Duration) int {
	ms := d.Milliseconds()

	switch {
	case ms <= 5:
		return 0
	case ms <= 10:
		return 1
	case ms <= 25:
		return 2
	case ms <= 50:
		return 3
	case ms <= 100:
		return 4
	case ms <= 250:
		return 5
	case ms <= 500:
		return 6
	default:
		return 7
	}
}
