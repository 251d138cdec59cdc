// Package observability tracks what the query API is asked for: which
// metrics and colleges are requested, and how often coverage filters spare a
// year table lookup.
package observability

import (
	"sort"
	"sync"
	"time"
)

// QueryStats counts series requests by metric and by college.
type QueryStats struct {
	mu          sync.RWMutex
	metrics     map[string]*KeyStats
	colleges    map[string]*KeyStats
	requests    int64
	empty       int64
	yearsPruned int64
	window      time.Duration
	now         func() time.Time
}

// KeyStats holds the counters for one metric or college.
type KeyStats struct {
	Key       string    `json:"key"`
	Frequency int64     `json:"frequency"`
	Empty     int64     `json:"empty"`
	LastSeen  time.Time `json:"last_seen"`
}

// SeriesEvent describes one answered series request.
type SeriesEvent struct {
	Metric      string
	College     string
	Empty       bool
	YearsPruned int
}

// Summary is a point-in-time copy of the counters.
type Summary struct {
	Requests    int64      `json:"requests"`
	Empty       int64      `json:"empty"`
	YearsPruned int64      `json:"years_pruned"`
	TopMetrics  []KeyStats `json:"top_metrics"`
	TopColleges []KeyStats `json:"top_colleges"`
}

// NewQueryStats creates a tracker whose per-key entries expire after window
// without use.
func NewQueryStats(window time.Duration) *QueryStats {
	return &QueryStats{
		metrics:  make(map[string]*KeyStats),
		colleges: make(map[string]*KeyStats),
		window:   window,
		now:      time.Now,
	}
}

// RecordSeries records one answered request. Safe for concurrent use.
func (q *QueryStats) RecordSeries(ev SeriesEvent) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	q.requests++
	q.yearsPruned += int64(ev.YearsPruned)
	if ev.Empty {
		q.empty++
	}
	bump(q.metrics, ev.Metric, ev.Empty, now)
	bump(q.colleges, ev.College, ev.Empty, now)
}

func bump(m map[string]*KeyStats, key string, empty bool, now time.Time) {
	s, ok := m[key]
	if !ok {
		s = &KeyStats{Key: key}
		m[key] = s
	}
	s.Frequency++
	if empty {
		s.Empty++
	}
	s.LastSeen = now
}

// TopMetrics returns the n most requested metrics, most frequent first.
func (q *QueryStats) TopMetrics(n int) []KeyStats {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return top(q.metrics, n)
}

// TopColleges returns the n most requested colleges, most frequent first.
func (q *QueryStats) TopColleges(n int) []KeyStats {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return top(q.colleges, n)
}

// top copies the entries of m; ties break by key.
func top(m map[string]*KeyStats, n int) []KeyStats {
	if n <= 0 || len(m) == 0 {
		return []KeyStats{}
	}
	out := make([]KeyStats, 0, len(m))
	for _, s := range m {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Frequency != out[j].Frequency {
			return out[i].Frequency > out[j].Frequency
		}
		return out[i].Key < out[j].Key
	})
	if n > len(out) {
		n = len(out)
	}
	return out[:n]
}

// Summary returns the totals and the n most requested metrics and colleges.
func (q *QueryStats) Summary(n int) Summary {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return Summary{
		Requests:    q.requests,
		Empty:       q.empty,
		YearsPruned: q.yearsPruned,
		TopMetrics:  top(q.metrics, n),
		TopColleges: top(q.colleges, n),
	}
}

// Prune drops metric and college entries unused for longer than the window.
// Totals are kept.
func (q *QueryStats) Prune() {
	q.mu.Lock()
	defer q.mu.Unlock()

	threshold := q.now().Add(-q.window)
	for _, m := range []map[string]*KeyStats{q.metrics, q.colleges} {
		for k, s := range m {
			if s.LastSeen.Before(threshold) {
				delete(m, k)
			}
		}
	}
}
