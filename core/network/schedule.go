package network

import (
	"sync"
	"time"
)

// Schedule is the run time requested for one switch.
type Schedule struct {
	ID   string
	Name string

	mu       sync.RWMutex
	duration time.Duration
	timeout  time.Time
}

// ScheduleState is a read-only copy of a Schedule.
type ScheduleState struct {
	Name     string    `json:"name"`
	Duration int       `json:"duration"`
	Timeout  time.Time `json:"timeout"`
}

func newSchedule(id, name string) *Schedule {
	return &Schedule{ID: id, Name: name}
}

// SetSchedule sets the remaining run time and the optional deadline (zero
// for none).
func (s *Schedule) SetSchedule(duration time.Duration, timeout time.Time) {
	if duration < 0 {
		duration = 0
	}
	s.mu.Lock()
	s.duration = duration
	s.timeout = timeout
	s.mu.Unlock()
}

// Duration returns the remaining run time.
func (s *Schedule) Duration() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.duration
}

// Timeout returns the deadline, zero when unset.
func (s *Schedule) Timeout() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.timeout
}

// IsScheduled is true while some run time remains.
func (s *Schedule) IsScheduled() bool { return s.Duration() > 0 }

// Decrement removes elapsed from the remaining time and returns what is left.
func (s *Schedule) Decrement(elapsed time.Duration) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.duration -= elapsed
	if s.duration < 0 {
		s.duration = 0
	}
	if s.duration == 0 {
		s.timeout = time.Time{}
	}
	return s.duration
}

// State returns a snapshot.
func (s *Schedule) State() ScheduleState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return ScheduleState{Name: s.Name, Duration: int(s.duration / time.Second), Timeout: s.timeout}
}

// ScheduleCommand is a schedule change queued by the control panel.
type ScheduleCommand struct {
	NodeID   string
	Duration time.Duration
	Timeout  time.Time
}
