package worker

import "time"

// RetrySchedule is the wait before each retry, indexed by attempt (1-based).
// Attempts past the end reuse the last delay.
type RetrySchedule []time.Duration

// DefaultRetrySchedule escalates from 5 minutes to 4 hours.
var DefaultRetrySchedule = RetrySchedule{
	5 * time.Minute,
	15 * time.Minute,
	30 * time.Minute,
	1 * time.Hour,
	2 * time.Hour,
	4 * time.Hour,
}

// Delay returns the wait after the given failed attempt.
func (s RetrySchedule) Delay(attempt int) time.Duration {
	if len(s) == 0 {
		return 0
	}
	idx := attempt - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(s) {
		idx = len(s) - 1
	}
	return s[idx]
}

// Next returns when to retry after a failed attempt, or false when that
// moment would not be before deadline.
func (s RetrySchedule) Next(attempt int, now, deadline time.Time) (time.Time, bool) {
	at := now.Add(s.Delay(attempt))
	if !at.Before(deadline) {
		return time.Time{}, false
	}
	return at, true
}
