package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errFetch = errors.New("fetch failed")

func outcome(ok bool) func() error {
	return func() error {
		if ok {
			return nil
		}
		return errFetch
	}
}

func TestBreakerStateTransitions(t *testing.T) {
	tests := []struct {
		name     string
		settings Settings
		requests []bool
		want     State
	}{
		{
			name:     "stays closed on successes",
			settings: Settings{Interval: time.Minute, Timeout: time.Minute},
			requests: []bool{true, true, true},
			want:     StateClosed,
		},
		{
			name: "opens after consecutive failures",
			settings: Settings{
				Interval:    time.Minute,
				Timeout:     time.Minute,
				ReadyToTrip: func(c Counts) bool { return c.ConsecutiveFailures >= 3 },
			},
			requests: []bool{false, false, false},
			want:     StateOpen,
		},
		{
			name: "a success resets the streak",
			settings: Settings{
				Interval:    time.Minute,
				Timeout:     time.Minute,
				ReadyToTrip: func(c Counts) bool { return c.ConsecutiveFailures >= 2 },
			},
			requests: []bool{false, true, false},
			want:     StateClosed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := New("origin", tt.settings)
			for _, ok := range tt.requests {
				_ = b.Run(outcome(ok))
			}
			assert.Equal(t, tt.want, b.State())
		})
	}
}

func TestBreakerCounts(t *testing.T) {
	b := New("origin", Settings{Interval: time.Minute, Timeout: time.Minute})

	require.NoError(t, b.Run(outcome(true)))
	counts := b.Counts()
	assert.Equal(t, uint32(1), counts.Requests)
	assert.Equal(t, uint32(1), counts.TotalSuccesses)
	assert.Equal(t, uint32(1), counts.ConsecutiveSuccesses)

	assert.ErrorIs(t, b.Run(outcome(false)), errFetch)
	counts = b.Counts()
	assert.Equal(t, uint32(2), counts.Requests)
	assert.Equal(t, uint32(1), counts.TotalFailures)
	assert.Equal(t, uint32(1), counts.ConsecutiveFailures)
	assert.Equal(t, uint32(0), counts.ConsecutiveSuccesses)
}

func TestBreakerRejectsWhileOpen(t *testing.T) {
	b := New("origin", Settings{
		Interval:    time.Minute,
		Timeout:     time.Minute,
		ReadyToTrip: func(c Counts) bool { return c.ConsecutiveFailures >= 2 },
	})
	_ = b.Run(outcome(false))
	_ = b.Run(outcome(false))
	require.Equal(t, StateOpen, b.State())

	called := false
	err := b.Run(func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
}

func TestBreakerHalfOpenRecovers(t *testing.T) {
	b := New("origin", Settings{
		MaxRequests: 2,
		Interval:    time.Minute,
		Timeout:     20 * time.Millisecond,
		ReadyToTrip: func(c Counts) bool { return c.ConsecutiveFailures >= 2 },
	})
	_ = b.Run(outcome(false))
	_ = b.Run(outcome(false))
	require.Equal(t, StateOpen, b.State())

	require.Eventually(t, func() bool { return b.State() == StateHalfOpen }, time.Second, 5*time.Millisecond)

	require.NoError(t, b.Run(outcome(true)))
	assert.Equal(t, StateHalfOpen, b.State())
	require.NoError(t, b.Run(outcome(true)))
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b := New("origin", Settings{
		Interval:    time.Minute,
		Timeout:     20 * time.Millisecond,
		ReadyToTrip: func(c Counts) bool { return c.ConsecutiveFailures >= 1 },
	})
	_ = b.Run(outcome(false))
	require.Eventually(t, func() bool { return b.State() == StateHalfOpen }, time.Second, 5*time.Millisecond)

	_ = b.Run(outcome(false))
	assert.Equal(t, StateOpen, b.State())
}

func TestIsFailureClassifiesErrors(t *testing.T) {
	b := New("origin", Settings{
		Interval:    time.Minute,
		Timeout:     time.Minute,
		ReadyToTrip: func(c Counts) bool { return c.ConsecutiveFailures >= 1 },
		IsFailure:   func(err error) bool { return !errors.Is(err, context.Canceled) },
	})

	err := b.Run(func() error { return context.Canceled })
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, uint32(1), b.Counts().TotalSuccesses)
}

func TestDoReturnsResult(t *testing.T) {
	b := New("origin", Settings{})
	n, err := Do(b, func() (int, error) { return 42, nil })
	require.NoError(t, err)
	assert.Equal(t, 42, n)
}

func TestBreakerCallbacks(t *testing.T) {
	var transitions []string
	b := New("origin", Settings{
		Interval:    time.Minute,
		Timeout:     10 * time.Millisecond,
		ReadyToTrip: func(c Counts) bool { return c.ConsecutiveFailures >= 2 },
		OnStateChange: func(name string, from, to State) {
			transitions = append(transitions, name+":"+from.String()+"->"+to.String())
		},
	})
	_ = b.Run(outcome(false))
	_ = b.Run(outcome(false))

	require.Eventually(t, func() bool { return b.State() == StateHalfOpen }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"origin:closed->open", "origin:open->half-open"}, transitions)
}

func TestGroupKeysBreakers(t *testing.T) {
	g := NewGroup(Settings{
		Interval:    time.Minute,
		Timeout:     time.Minute,
		ReadyToTrip: func(c Counts) bool { return c.ConsecutiveFailures >= 1 },
	})

	a := g.Get("a.example")
	assert.Same(t, a, g.Get("a.example"))

	_ = a.Run(outcome(false))
	assert.Equal(t, StateOpen, g.Get("a.example").State())
	assert.Equal(t, StateClosed, g.Get("b.example").State())

	assert.Equal(t, map[string]State{"a.example": StateOpen, "b.example": StateClosed}, g.States())
}
