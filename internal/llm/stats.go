package llm

import (
	"slices"
	"sync"
	"time"
)

// Outcome classifies a finished completion call.
type Outcome int

const (
	OutcomeOK Outcome = iota
	OutcomeThrottled
	OutcomeFailed
)

type call struct {
	at      time.Time
	latency time.Duration
	outcome Outcome
}

// StatsSnapshot aggregates the calls still inside the window.
type StatsSnapshot struct {
	Calls     int     `json:"calls"`
	OK        int     `json:"ok"`
	Throttled int     `json:"throttled"`
	Failed    int     `json:"failed"`
	MinMs     int64   `json:"min_ms"`
	MaxMs     int64   `json:"max_ms"`
	AvgMs     float64 `json:"avg_ms"`
	P50Ms     float64 `json:"p50_ms"`
	P95Ms     float64 `json:"p95_ms"`
	P99Ms     float64 `json:"p99_ms"`
}

// Stats keeps the calls of the last window for /api/stats/llm.
type Stats struct {
	mu     sync.Mutex
	calls  []call
	window time.Duration
	now    func() time.Time
}

func NewStats(window time.Duration) *Stats {
	if window <= 0 {
		window = time.Hour
	}
	return &Stats{window: window, now: time.Now}
}

// Record adds one call. Negative latencies count as zero.
func (s *Stats) Record(latency time.Duration, outcome Outcome) {
	latency = max(latency, 0)

	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	s.pruneLocked(now)
	s.calls = append(s.calls, call{at: now, latency: latency, outcome: outcome})
}

func (s *Stats) Snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked(s.now())

	var snap StatsSnapshot
	if len(s.calls) == 0 {
		return snap
	}

	ms := make([]int64, len(s.calls))
	var sum int64
	for i, c := range s.calls {
		switch c.outcome {
		case OutcomeOK:
			snap.OK++
		case OutcomeThrottled:
			snap.Throttled++
		default:
			snap.Failed++
		}
		ms[i] = c.latency.Milliseconds()
		sum += ms[i]
	}
	slices.Sort(ms)

	snap.Calls = len(ms)
	snap.MinMs = ms[0]
	snap.MaxMs = ms[len(ms)-1]
	snap.AvgMs = float64(sum) / float64(len(ms))
	snap.P50Ms = percentile(ms, 50)
	snap.P95Ms = percentile(ms, 95)
	snap.P99Ms = percentile(ms, 99)
	return snap
}

// pruneLocked drops calls older than the window. Calls are appended in time
// order, so the expired ones form a prefix.
func (s *Stats) pruneLocked(now time.Time) {
	cutoff := now.Add(-s.window)
	i := 0
	for i < len(s.calls) && s.calls[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		s.calls = slices.Delete(s.calls, 0, i)
	}
}

// percentile interpolates linearly between the closest ranks of sorted.
func percentile(sorted []int64, pct float64) float64 {
	switch {
	case len(sorted) == 0:
		return 0
	case pct <= 0:
		return float64(sorted[0])
	case pct >= 100:
		return float64(sorted[len(sorted)-1])
	}
	rank := float64(len(sorted)-1) * pct / 100
	lo := int(rank)
	if lo+1 >= len(sorted) {
		return float64(sorted[lo])
	}
	frac := rank - float64(lo)
	return float64(sorted[lo]) + (float64(sorted[lo+1])-float64(sorted[lo]))*frac
}
