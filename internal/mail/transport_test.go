package mail

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func validMessage() *Message {
	return &Message{To: "reader@example.com", Subject: "Hello", Text: "body", Category: "churn-1"}
}

func TestMessage_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(m *Message)
		wantErr bool
	}{
		{"valid", func(m *Message) {}, false},
		{"html only", func(m *Message) { m.Text = ""; m.HTML = "<p>hi</p>" }, false},
		{"missing recipient", func(m *Message) { m.To = "" }, true},
		{"missing subject", func(m *Message) { m.Subject = "" }, true},
		{"missing body", func(m *Message) { m.Text = "" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := validMessage()
			tt.mutate(m)
			if tt.wantErr {
				assert.Error(t, m.Validate())
			} else {
				assert.NoError(t, m.Validate())
			}
		})
	}
}

func TestLogTransport(t *testing.T) {
	tr := NewLogTransport(zap.NewNop())
	assert.Equal(t, "log", tr.Name())
	assert.NoError(t, tr.Send(context.Background(), validMessage()))
	assert.Error(t, tr.Send(context.Background(), &Message{}))
}

type countingTransport struct {
	calls int
}

func (c *countingTransport) Send(ctx context.Context, msg *Message) error {
	c.calls++
	return nil
}

func (c *countingTransport) Name() string { return "counting" }

type stubLimiter struct {
	allow bool
	err   error
	keys  []string
}

func (s *stubLimiter) Allow(ctx context.Context, key string) (bool, error) {
	s.keys = append(s.keys, key)
	return s.allow, s.err
}

func TestThrottledTransport(t *testing.T) {
	t.Run("allowed", func(t *testing.T) {
		next := &countingTransport{}
		limiter := &stubLimiter{allow: true}
		tr := NewThrottledTransport(next, limiter, zap.NewNop())

		require.NoError(t, tr.Send(context.Background(), validMessage()))
		assert.Equal(t, 1, next.calls)
		assert.Equal(t, []string{"mail:counting"}, limiter.keys)
		assert.Equal(t, "counting", tr.Name())
	})

	t.Run("denied", func(t *testing.T) {
		next := &countingTransport{}
		tr := NewThrottledTransport(next, &stubLimiter{allow: false}, zap.NewNop())

		err := tr.Send(context.Background(), validMessage())
		assert.ErrorIs(t, err, ErrThrottled)
		assert.Equal(t, 0, next.calls)
	})

	t.Run("limiter error fails open", func(t *testing.T) {
		next := &countingTransport{}
		tr := NewThrottledTransport(next, &stubLimiter{err: errors.New("redis down")}, zap.NewNop())

		require.NoError(t, tr.Send(context.Background(), validMessage()))
		assert.Equal(t, 1, next.calls)
	})
}
