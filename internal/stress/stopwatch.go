package stress

import "time"

// Stopwatch remembers the last report point.
type Stopwatch struct {
	last time.Time
	now  func() time.Time
}

// NewStopwatch returns a stopwatch started at the current time.
func NewStopwatch(now func() time.Time) *Stopwatch {
	if now == nil {
		now = time.Now
	}
	return &Stopwatch{last: now(), now: now}
}

// Reset moves the report point to the current time.
func (s *Stopwatch) Reset() {
	s.last = s.now()
}

// Lap returns the time elapsed since the last report point and resets it.
func (s *Stopwatch) Lap() time.Duration {
	now := s.now()
	elapsed := now.Sub(s.last)
	s.last = now
	return elapsed
}
