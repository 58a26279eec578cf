package scheduler

import "time"

// Statistics is a snapshot of the loop's counters
type Statistics struct {
	State             State         `json:"state"`
	Cycles            uint64        `json:"cycles"`
	CycleErrors       uint64        `json:"cycle_errors"`
	Successes         uint64        `json:"successes"`
	Failures          uint64        `json:"failures"`
	LastCycleDuration time.Duration `json:"last_cycle_duration_ns"`
	StartedAt         *time.Time    `json:"started_at,omitempty"`
	Uptime            time.Duration `json:"uptime_ns"`
}

// Statistics returns the current counters. Uptime is zero unless running.
func (s *Scheduler) Statistics() Statistics {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := s.stats
	stats.State = s.state
	if s.state != StateStopped {
		started := s.startedAt
		stats.StartedAt = &started
		stats.Uptime = s.now().Sub(started)
	}
	return stats
}
