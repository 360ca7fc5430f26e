package worker

import "sync/atomic"

// Stats aggregates counters across all workers of a run.
type Stats struct {
	entities  atomic.Int64
	fetched   atomic.Int64
	skipped   atomic.Int64
	deferred  atomic.Int64
	abandoned atomic.Int64
	fallbacks atomic.Int64
	attempts  atomic.Int64
	rows      atomic.Int64
}

// Snapshot is a point-in-time copy of Stats.
type Snapshot struct {
	Entities  int64 `json:"entities"`
	Fetched   int64 `json:"windows_fetched"`
	Skipped   int64 `json:"windows_skipped"`
	Deferred  int64 `json:"windows_deferred"`
	Abandoned int64 `json:"windows_abandoned"`
	Fallbacks int64 `json:"fallbacks"`
	Attempts  int64 `json:"attempts"`
	Rows      int64 `json:"rows"`
}

// Snapshot copies the current counters.
func (s *Stats) Snapshot() Snapshot {
	if s == nil {
		return Snapshot{}
	}
	return Snapshot{
		Entities:  s.entities.Load(),
		Fetched:   s.fetched.Load(),
		Skipped:   s.skipped.Load(),
		Deferred:  s.deferred.Load(),
		Abandoned: s.abandoned.Load(),
		Fallbacks: s.fallbacks.Load(),
		Attempts:  s.attempts.Load(),
		Rows:      s.rows.Load(),
	}
}
