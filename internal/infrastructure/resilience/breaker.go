package resilience

import (
	"errors"
	"sync"
	"time"
)

var (
	ErrCircuitOpen     = errors.New("circuit breaker is open")
	ErrTooManyRequests = errors.New("too many requests in half-open state")
)

// State represents the circuit breaker state
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Settings configures the circuit breaker behavior
type Settings struct {
	// Threshold is the consecutive failure count that trips the breaker
	Threshold uint32
	// Cooldown is how long the breaker stays open before probing again
	Cooldown time.Duration
	// Probes is the number of trial requests allowed in half-open state
	Probes uint32
	// OnStateChange is called whenever the state changes
	OnStateChange func(name string, from State, to State)
}

// Counts holds delivery statistics. Totals accumulate for the breaker's
// lifetime; consecutive counters reset on every state change.
type Counts struct {
	Successes            uint64
	Failures             uint64
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

// Breaker guards one delivery target. Consecutive failures trip it open,
// a cooldown later it admits probe requests, and enough probe successes
// close it again.
type Breaker struct {
	name     string
	settings Settings

	mu         sync.Mutex
	state      State
	generation uint64
	counts     Counts
	inFlight   uint32
	openUntil  time.Time
}

// New creates a circuit breaker with the given settings
func New(name string, settings Settings) *Breaker {
	if settings.Threshold == 0 {
		settings.Threshold = 3
	}
	if settings.Cooldown == 0 {
		settings.Cooldown = 30 * time.Second
	}
	if settings.Probes == 0 {
		settings.Probes = 1
	}

	return &Breaker{
		name:     name,
		settings: settings,
		state:    StateClosed,
	}
}

// Name returns the name of the circuit breaker
func (b *Breaker) Name() string {
	return b.name
}

// State returns the current state of the circuit breaker
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.currentState(time.Now())
}

// Counts returns a copy of the internal counts
func (b *Breaker) Counts() Counts {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.counts
}

// Do runs fn if the breaker admits it and records the outcome.
func (b *Breaker) Do(fn func() error) error {
	gen, err := b.admit()
	if err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			b.record(gen, false)
			panic(r)
		}
	}()

	err = fn()
	b.record(gen, err == nil)
	return err
}

// admit decides whether a request may proceed in the current state.
func (b *Breaker) admit() (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.currentState(time.Now()) {
	case StateOpen:
		return b.generation, ErrCircuitOpen
	case StateHalfOpen:
		if b.inFlight >= b.settings.Probes {
			return b.generation, ErrTooManyRequests
		}
		b.inFlight++
	}
	return b.generation, nil
}

// record counts an outcome. Outcomes from a request admitted before the
// last state change are discarded.
func (b *Breaker) record(gen uint64, success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	state := b.currentState(time.Now())
	if gen != b.generation {
		return
	}

	if state == StateHalfOpen && b.inFlight > 0 {
		b.inFlight--
	}

	if success {
		b.onSuccess(state)
	} else {
		b.onFailure(state)
	}
}

// onSuccess handles successful requests
func (b *Breaker) onSuccess(state State) {
	b.counts.Successes++
	b.counts.ConsecutiveSuccesses++
	b.counts.ConsecutiveFailures = 0

	if state == StateHalfOpen && b.counts.ConsecutiveSuccesses >= b.settings.Probes {
		b.setState(StateClosed)
	}
}

// onFailure handles failed requests
func (b *Breaker) onFailure(state State) {
	b.counts.Failures++
	b.counts.ConsecutiveFailures++
	b.counts.ConsecutiveSuccesses = 0

	switch state {
	case StateClosed:
		if b.counts.ConsecutiveFailures >= b.settings.Threshold {
			b.setState(StateOpen)
		}
	case StateHalfOpen:
		b.setState(StateOpen)
	}
}

// currentState resolves open-to-half-open expiry. Callers hold b.mu.
func (b *Breaker) currentState(now time.Time) State {
	if b.state == StateOpen && now.After(b.openUntil) {
		b.setState(StateHalfOpen)
	}
	return b.state
}

// setState changes the state of the circuit breaker
func (b *Breaker) setState(next State) {
	if b.state == next {
		return
	}

	prev := b.state
	b.state = next
	b.generation++
	b.counts.ConsecutiveSuccesses = 0
	b.counts.ConsecutiveFailures = 0
	b.inFlight = 0

	if next == StateOpen {
		b.openUntil = time.Now().Add(b.settings.Cooldown)
	}

	if b.settings.OnStateChange != nil {
		b.settings.OnStateChange(b.name, prev, next)
	}
}
