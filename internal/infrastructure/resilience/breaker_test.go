package resilience

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errDelivery = errors.New("delivery failed")

func TestBreakerStateTransitions(t *testing.T) {
	tests := []struct {
		name          string
		settings      Settings
		requests      []bool // true = success, false = failure
		expectedState State
	}{
		{
			name:          "stays closed on successes",
			settings:      Settings{Threshold: 3, Cooldown: time.Minute},
			requests:      []bool{true, true, true},
			expectedState: StateClosed,
		},
		{
			name:          "opens after consecutive failures",
			settings:      Settings{Threshold: 3, Cooldown: time.Minute},
			requests:      []bool{false, false, false},
			expectedState: StateOpen,
		},
		{
			name:          "success resets the failure streak",
			settings:      Settings{Threshold: 3, Cooldown: time.Minute},
			requests:      []bool{false, false, true, false, false},
			expectedState: StateClosed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			breaker := New("test", tt.settings)

			for _, success := range tt.requests {
				_ = breaker.Do(func() error {
					if success {
						return nil
					}
					return errDelivery
				})
			}

			assert.Equal(t, tt.expectedState, breaker.State())
		})
	}
}

func TestBreakerCounts(t *testing.T) {
	breaker := New("test", Settings{Threshold: 3, Cooldown: time.Minute})

	require.NoError(t, breaker.Do(func() error { return nil }))

	counts := breaker.Counts()
	assert.Equal(t, uint64(1), counts.Successes)
	assert.Equal(t, uint32(1), counts.ConsecutiveSuccesses)
	assert.Equal(t, uint64(0), counts.Failures)

	assert.Error(t, breaker.Do(func() error { return errDelivery }))

	counts = breaker.Counts()
	assert.Equal(t, uint64(1), counts.Failures)
	assert.Equal(t, uint32(1), counts.ConsecutiveFailures)
	assert.Equal(t, uint32(0), counts.ConsecutiveSuccesses)
}

func TestBreakerOpenShortCircuits(t *testing.T) {
	breaker := New("test", Settings{Threshold: 2, Cooldown: time.Minute})

	for i := 0; i < 2; i++ {
		_ = breaker.Do(func() error { return errDelivery })
	}
	require.Equal(t, StateOpen, breaker.State())

	called := false
	err := breaker.Do(func() error {
		called = true
		return nil
	})
	assert.Equal(t, ErrCircuitOpen, err)
	assert.False(t, called)
}

func TestBreakerHalfOpenRecovery(t *testing.T) {
	breaker := New("test", Settings{Threshold: 2, Cooldown: 20 * time.Millisecond})

	for i := 0; i < 2; i++ {
		_ = breaker.Do(func() error { return errDelivery })
	}
	require.Equal(t, StateOpen, breaker.State())

	time.Sleep(30 * time.Millisecond)
	require.Equal(t, StateHalfOpen, breaker.State())

	require.NoError(t, breaker.Do(func() error { return nil }))
	assert.Equal(t, StateClosed, breaker.State())
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	breaker := New("test", Settings{Threshold: 2, Cooldown: 20 * time.Millisecond})

	for i := 0; i < 2; i++ {
		_ = breaker.Do(func() error { return errDelivery })
	}

	time.Sleep(30 * time.Millisecond)
	require.Equal(t, StateHalfOpen, breaker.State())

	assert.Error(t, breaker.Do(func() error { return errDelivery }))
	assert.Equal(t, StateOpen, breaker.State())
}

func TestBreakerCallbacks(t *testing.T) {
	var transitions []string

	breaker := New("test", Settings{
		Threshold: 2,
		Cooldown:  10 * time.Millisecond,
		OnStateChange: func(name string, from State, to State) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	})

	for i := 0; i < 2; i++ {
		_ = breaker.Do(func() error { return errDelivery })
	}

	time.Sleep(20 * time.Millisecond)
	require.Equal(t, StateHalfOpen, breaker.State())

	assert.Contains(t, transitions, "closed->open")
	assert.Contains(t, transitions, "open->half-open")
}
