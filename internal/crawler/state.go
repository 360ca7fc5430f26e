package crawler

import "sync"

// RunState holds the observations and checkpoints accumulated during one run.
// Mutation is limited to RecordCheckpoint and AppendRow; both are safe for
// concurrent use by multiple workers.
type RunState struct {
	mu          sync.Mutex
	checkpoints map[CheckpointKey]struct{}
	rows        []Observation
	newKeys     []CheckpointKey
	rowsPerKey  map[CheckpointKey]int
}

// NewRunState seeds the state with checkpoints loaded from a prior run.
func NewRunState(prior map[CheckpointKey]struct{}) *RunState {
	checkpoints := make(map[CheckpointKey]struct{}, len(prior))
	for key := range prior {
		checkpoints[key] = struct{}{}
	}
	return &RunState{checkpoints: checkpoints, rowsPerKey: make(map[CheckpointKey]int)}
}

// Completed reports whether the key already has a checkpoint.
func (s *RunState) Completed(key CheckpointKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.checkpoints[key]
	return ok
}

// RecordCheckpoint adds the key and reports whether it was new.
func (s *RunState) RecordCheckpoint(key CheckpointKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.checkpoints[key]; ok {
		return false
	}
	s.checkpoints[key] = struct{}{}
	s.newKeys = append(s.newKeys, key)
	return true
}

// AppendRow accumulates one observation.
func (s *RunState) AppendRow(row Observation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, row)
	s.rowsPerKey[row.Key()]++
}

// Rows returns a snapshot of the observations accumulated so far.
func (s *RunState) Rows() []Observation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Observation(nil), s.rows...)
}

// RowCount is the number of observations accumulated this run.
func (s *RunState) RowCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

// CheckpointCount is the total number of known checkpoints, prior ones included.
func (s *RunState) CheckpointCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.checkpoints)
}

// NewCheckpointCount is the number of checkpoints recorded this run.
func (s *RunState) NewCheckpointCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.newKeys)
}

// Records returns what a flush persists: every observation, followed by one
// marker observation with no fields for each window checkpointed this run
// that produced no rows. Markers keep empty windows from being fetched again
// after a restart.
func (s *RunState) Records() []Observation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Observation, 0, len(s.rows)+len(s.newKeys))
	out = append(out, s.rows...)
	for _, key := range s.newKeys {
		if s.rowsPerKey[key] > 0 {
			continue
		}
		out = append(out, Observation{Entity: key.Entity, From: key.From, To: key.To, Fields: []string{}})
	}
	return out
}
