// Package lifecycle decides which lifecycle emails a user should receive and
// sends them at most once: the churn-recovery sequence and the one-shot
// onboarding reminder.
package lifecycle

import (
	"time"
)

// MaxPosition is the last message of the churn-recovery sequence.
const MaxPosition = 3

// DefaultCadence is the minimum gap between two messages of the sequence.
const DefaultCadence = 7 * 24 * time.Hour

// Reason explains a resolver decision. It is logged and reported per user.
type Reason string

const (
	ReasonNeverContacted Reason = "never_contacted"
	ReasonDue            Reason = "due"
	ReasonReactivated    Reason = "reactivated"
	ReasonTooSoon        Reason = "too_soon"
	ReasonExhausted      Reason = "exhausted"
)

// SequenceFacts is everything the resolver needs about one user.
// LastPosition is 0 when the user has no live dispatch.
type SequenceFacts struct {
	LastPosition        int
	LastSentAt          time.Time
	ActiveSinceLastSend bool
}

// Decision is the resolver's answer. Position is 0 when nothing should be sent.
type Decision struct {
	Position int
	Reason   Reason
}

// Send reports whether the decision calls for a message.
func (d Decision) Send() bool {
	return d.Position > 0
}

// ResolveNextMessage picks the next sequence position for a user, or none.
//
// ActiveSinceLastSend must be true when the user read on any calendar date
// after the date of LastSentAt; see ReactivationDay.
func ResolveNextMessage(f SequenceFacts, now time.Time, cadence time.Duration) Decision {
	if f.LastPosition == 0 {
		return Decision{Position: 1, Reason: ReasonNeverContacted}
	}
	if f.ActiveSinceLastSend {
		return Decision{Reason: ReasonReactivated}
	}
	if now.Sub(f.LastSentAt) < cadence {
		return Decision{Reason: ReasonTooSoon}
	}
	if f.LastPosition >= MaxPosition {
		return Decision{Reason: ReasonExhausted}
	}
	return Decision{Position: f.LastPosition + 1, Reason: ReasonDue}
}

// ReactivationDay is the first calendar date (UTC) whose activity counts as
// reading after a message sent at sentAt.
func ReactivationDay(sentAt time.Time) time.Time {
	y, m, d := sentAt.UTC().Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, time.UTC)
}

// State is where a user sits in the churn-recovery sequence.
type State string

const (
	StateNeverContacted State = "never_contacted"
	StateContacted1     State = "contacted_1"
	StateContacted2     State = "contacted_2"
	StateContacted3     State = "contacted_3"
	StateReactivated    State = "reactivated"
)

// DeriveState computes the sequence state from the latest live dispatch.
// The ledger is the only source of truth; the state is never stored.
func DeriveState(f SequenceFacts) State {
	switch {
	case f.LastPosition == 0:
		return StateNeverContacted
	case f.ActiveSinceLastSend:
		return StateReactivated
	case f.LastPosition == 1:
		return StateContacted1
	case f.LastPosition == 2:
		return StateContacted2
	default:
		return StateContacted3
	}
}

// Terminal reports whether no further message can ever be resolved from s.
func (s State) Terminal() bool {
	return s == StateContacted3 || s == StateReactivated
}
