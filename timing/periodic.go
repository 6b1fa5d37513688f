package timing

import "time"

// Periodic schedules an action at a fixed interval on a caller-driven loop.
// It does not own a goroutine or a timer: the owning loop asks Due on every
// wake-up and uses Next to decide how long it may sleep.
//
// Missed periods are not replayed. If the loop falls behind by several
// intervals, Due fires once and the schedule resumes from the current time.
type Periodic struct {
	interval time.Duration
	next     time.Time
}

// NewPeriodic creates a Periodic whose first occurrence is one interval after start.
// Non-positive intervals are treated as one nanosecond.
func NewPeriodic(interval time.Duration, start time.Time) *Periodic {
	if interval <= 0 {
		interval = time.Nanosecond
	}
	return &Periodic{interval: interval, next: start.Add(interval)}
}

// Interval returns the configured period.
func (p *Periodic) Interval() time.Duration {
	return p.interval
}

// Next returns the time of the next occurrence.
func (p *Periodic) Next() time.Time {
	return p.next
}

// Due reports whether an occurrence has been reached at now, and if so
// advances the schedule past now.
func (p *Periodic) Due(now time.Time) bool {
	if now.Before(p.next) {
		return false
	}

	p.next = p.next.Add(p.interval)
	if !p.next.After(now) {
		p.next = now.Add(p.interval)
	}
	return true
}

// Reset restarts the schedule so the next occurrence is one interval after now.
func (p *Periodic) Reset(now time.Time) {
	p.next = now.Add(p.interval)
}

// Earliest returns the earlier of two instants, ignoring zero values.
func Earliest(a, b time.Time) time.Time {
	switch {
	case a.IsZero():
		return b
	case b.IsZero():
		return a
	case b.Before(a):
		return b
	default:
		return a
	}
}
