// Package circuitbreaker fails calls to an unhealthy dependency fast instead
// of letting every job wait out its timeout.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

var ErrCircuitOpen = errors.New("circuit breaker is open")

type state int

const (
	stateClosed state = iota
	stateOpen
	stateHalfOpen
)

// String returns the state name used in logs.
func (s state) String() string {
	switch s {
	case stateOpen:
		return "open"
	case stateHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

type keyState struct {
	state               state
	consecutiveFailures int
	openedAt            time.Time
}

// Breaker tracks consecutive failures per key. After threshold failures the
// key opens for cooldown, then admits a single probe.
type Breaker struct {
	mu        sync.Mutex
	states    map[string]*keyState
	threshold int
	cooldown  time.Duration
	clock     func() time.Time
}

// New creates a Breaker. A threshold of 0 or less disables it.
func New(threshold int, cooldown time.Duration) *Breaker {
	return &Breaker{
		states:    make(map[string]*keyState),
		threshold: threshold,
		cooldown:  cooldown,
		clock:     time.Now,
	}
}

// WithClock sets a custom clock for testing.
func (b *Breaker) WithClock(clock func() time.Time) *Breaker {
	b.clock = clock
	return b
}

// Allow returns ErrCircuitOpen if calls for key must not proceed.
func (b *Breaker) Allow(key string) error {
	if b.threshold <= 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.states[key]
	if !ok {
		return nil
	}

	switch s.state {
	case stateOpen:
		if b.clock().Sub(s.openedAt) >= b.cooldown {
			s.state = stateHalfOpen
			return nil
		}
		return ErrCircuitOpen
	case stateHalfOpen:
		// a probe is already in flight
		return ErrCircuitOpen
	}
	return nil
}

func (b *Breaker) RecordSuccess(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if s, ok := b.states[key]; ok {
		s.state = stateClosed
		s.consecutiveFailures = 0
	}
}

func (b *Breaker) RecordFailure(key string) {
	if b.threshold <= 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.states[key]
	if !ok {
		s = &keyState{}
		b.states[key] = s
	}

	s.consecutiveFailures++
	if s.state == stateHalfOpen || s.consecutiveFailures >= b.threshold {
		s.state = stateOpen
		s.openedAt = b.clock()
	}
}

// State reports the current state of key.
func (b *Breaker) State(key string) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	if s, ok := b.states[key]; ok {
		return s.state.String()
	}
	return stateClosed.String()
}

// Do runs fn if key is allowed. Errors for which countable returns true are
// recorded as failures; every other outcome counts as success.
func (b *Breaker) Do(key string, countable func(error) bool, fn func() error) error {
	if err := b.Allow(key); err != nil {
		return err
	}

	err := fn()
	if err != nil && countable(err) {
		b.RecordFailure(key)
		return err
	}
	b.RecordSuccess(key)
	return err
}
