package engine

import "sync"

// latencyRing keeps the last ringSize samples with O(1) insert. Samples are
// stored already drift-calibrated; callers subtract drift exactly once at
// record time and readers never re-apply it.
type latencyRing struct {
	mu      sync.Mutex
	samples [ringSize]int64
	next    int
	count   int
}

const ringSize = 100

// CalibrateLatency corrects a raw latency for measured clock drift. The
// result is already calibrated; applying drift again is a caller bug, so
// all recording paths go through latencyRing.Record which takes raw+drift.
func CalibrateLatency(rawMs, driftMs int64) int64 {
	return rawMs - driftMs
}

// Record calibrates and stores one sample
func (r *latencyRing) Record(rawMs, driftMs int64) int64 {
	calibrated := CalibrateLatency(rawMs, driftMs)
	r.mu.Lock()
	r.samples[r.next] = calibrated
	r.next = (r.next + 1) % ringSize
	if r.count < ringSize {
		r.count++
	}
	r.mu.Unlock()
	return calibrated
}

// Average returns the mean of the stored samples, zero when empty
func (r *latencyRing) Average() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.count == 0 {
		return 0
	}
	var sum int64
	for i := 0; i < r.count; i++ {
		sum += r.samples[i]
	}
	return float64(sum) / float64(r.count)
}

// Count returns how many samples are held
func (r *latencyRing) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// LatencyStats groups the three measured latencies
type LatencyStats struct {
	Detection latencyRing
	Execution latencyRing
	Total     latencyRing
}

// Snapshot is the averaged view for status reporting
type Snapshot struct {
	AvgDetectionMs float64
	AvgExecutionMs float64
	AvgTotalMs     float64
	Samples        int
}

// Snapshot averages the rings at query time
func (s *LatencyStats) Snapshot() Snapshot {
	return Snapshot{
		AvgDetectionMs: s.Detection.Average(),
		AvgExecutionMs: s.Execution.Average(),
		AvgTotalMs:     s.Total.Average(),
		Samples:        s.Total.Count(),
	}
}
