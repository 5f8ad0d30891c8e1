package pipeline

import (
	"sync/atomic"

	"github.com/kauaDaviAmaro/listing-harvester/internal/metrics"
	"github.com/kauaDaviAmaro/listing-harvester/internal/processor"
)

// Stats aggregates per-run counters. All methods are safe for
// concurrent use by the bounded-parallel strategy.
type Stats struct {
	total   atomic.Int64
	success atomic.Int64
	failed  atomic.Int64
	blocked atomic.Int64
	skipped atomic.Int64
}

// StatsSnapshot is a point-in-time copy for logs and the ops API.
type StatsSnapshot struct {
	Total   int64 `json:"total"`
	Success int64 `json:"success"`
	Failed  int64 `json:"failed"`
	Blocked int64 `json:"blocked"`
	Skipped int64 `json:"skipped"`
}

// SetTotal records the run's URL count up front, so an aborted run
// still reports how much work it was given.
func (s *Stats) SetTotal(n int) {
	s.total.Store(int64(n))
}

// Record folds one processing outcome into the counters. A nil result
// means the compliance gate skipped the URL. Search pages count one
// success per extracted listing rather than one per URL; an empty
// search page counts nothing.
func (s *Stats) Record(res *processor.Result) {
	switch {
	case res == nil:
		s.skipped.Add(1)
		metrics.URLsSkipped.Inc()
	case res.Blocked():
		s.blocked.Add(1)
		metrics.URLsBlocked.Inc()
	case res.Failed():
		s.failed.Add(1)
		metrics.URLsFailed.Inc()
	case res.Record != nil:
		s.success.Add(1)
		metrics.URLsSucceeded.Inc()
	default:
		s.success.Add(int64(len(res.Listings)))
		metrics.URLsSucceeded.Add(float64(len(res.Listings)))
	}
}

// Reset zeroes every counter at the start of a run.
func (s *Stats) Reset() {
	s.total.Store(0)
	s.success.Store(0)
	s.failed.Store(0)
	s.blocked.Store(0)
	s.skipped.Store(0)
}

// Snapshot copies the current counter values.
func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Total:   s.total.Load(),
		Success: s.success.Load(),
		Failed:  s.failed.Load(),
		Blocked: s.blocked.Load(),
		Skipped: s.skipped.Load(),
	}
}
