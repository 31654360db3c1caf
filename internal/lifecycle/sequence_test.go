package lifecycle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestResolveNextMessage(t *testing.T) {
	sent := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		facts SequenceFacts
		now   time.Time
		want  Decision
	}{
		{
			name: "no prior dispatch starts the sequence",
			now:  sent,
			want: Decision{Position: 1, Reason: ReasonNeverContacted},
		},
		{
			name:  "five days after first message is too soon",
			facts: SequenceFacts{LastPosition: 1, LastSentAt: sent},
			now:   sent.Add(5 * day),
			want:  Decision{Reason: ReasonTooSoon},
		},
		{
			name:  "one minute short of the cadence is too soon",
			facts: SequenceFacts{LastPosition: 1, LastSentAt: sent},
			now:   sent.Add(7*day - time.Minute),
			want:  Decision{Reason: ReasonTooSoon},
		},
		{
			name:  "exactly seven days advances to position 2",
			facts: SequenceFacts{LastPosition: 1, LastSentAt: sent},
			now:   sent.Add(7 * day),
			want:  Decision{Position: 2, Reason: ReasonDue},
		},
		{
			name:  "position 2 advances to 3",
			facts: SequenceFacts{LastPosition: 2, LastSentAt: sent},
			now:   sent.Add(10 * day),
			want:  Decision{Position: 3, Reason: ReasonDue},
		},
		{
			name:  "position 3 is terminal",
			facts: SequenceFacts{LastPosition: 3, LastSentAt: sent},
			now:   sent.Add(90 * day),
			want:  Decision{Reason: ReasonExhausted},
		},
		{
			name:  "activity after the send halts the sequence",
			facts: SequenceFacts{LastPosition: 1, LastSentAt: sent, ActiveSinceLastSend: true},
			now:   sent.Add(10 * day),
			want:  Decision{Reason: ReasonReactivated},
		},
		{
			name:  "reactivation wins over exhaustion",
			facts: SequenceFacts{LastPosition: 3, LastSentAt: sent, ActiveSinceLastSend: true},
			now:   sent.Add(30 * day),
			want:  Decision{Reason: ReasonReactivated},
		},
		{
			name:  "reactivation is checked before the cadence gate",
			facts: SequenceFacts{LastPosition: 2, LastSentAt: sent, ActiveSinceLastSend: true},
			now:   sent.Add(day),
			want:  Decision{Reason: ReasonReactivated},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ResolveNextMessage(tt.facts, tt.now, DefaultCadence)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.want.Position > 0, got.Send())
		})
	}
}

func TestResolveNextMessage_NeverExceedsMaxPosition(t *testing.T) {
	sent := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	for last := 0; last <= MaxPosition+2; last++ {
		facts := SequenceFacts{LastPosition: last, LastSentAt: sent}
		d := ResolveNextMessage(facts, sent.Add(365*day), DefaultCadence)
		assert.LessOrEqual(t, d.Position, MaxPosition, "last=%d", last)
		if d.Send() {
			assert.Greater(t, d.Position, last, "positions only move forward")
		}
	}
}

func TestReactivationDay(t *testing.T) {
	tests := []struct {
		sentAt time.Time
		want   time.Time
	}{
		{time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)},
		{time.Date(2024, 3, 1, 23, 59, 0, 0, time.UTC), time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)},
		{time.Date(2024, 2, 29, 12, 0, 0, 0, time.UTC), time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
		{time.Date(2024, 12, 31, 8, 0, 0, 0, time.UTC), time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)},
		// 01:00 in UTC+2 is still the previous UTC day.
		{time.Date(2024, 3, 2, 1, 0, 0, 0, time.FixedZone("EET", 2*3600)), time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ReactivationDay(tt.sentAt), "sentAt=%s", tt.sentAt)
	}
}

func TestDeriveState(t *testing.T) {
	tests := []struct {
		facts    SequenceFacts
		want     State
		terminal bool
	}{
		{SequenceFacts{}, StateNeverContacted, false},
		{SequenceFacts{LastPosition: 1}, StateContacted1, false},
		{SequenceFacts{LastPosition: 2}, StateContacted2, false},
		{SequenceFacts{LastPosition: 3}, StateContacted3, true},
		{SequenceFacts{LastPosition: 2, ActiveSinceLastSend: true}, StateReactivated, true},
	}
	for _, tt := range tests {
		got := DeriveState(tt.facts)
		assert.Equal(t, tt.want, got)
		assert.Equal(t, tt.terminal, got.Terminal())
	}
}
