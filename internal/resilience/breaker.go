// Package resilience keeps a voice session reachable when an endpoint is
// flaky. A [Breaker] stops dialling an endpoint that keeps failing, and a
// [Group] walks an ordered list of endpoints, skipping those whose breaker is
// open. [Failover] applies both to [transport.Transport].
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrOpen is returned by [Breaker.Do] while the breaker rejects calls.
var ErrOpen = errors.New("resilience: circuit open")

// State is the operating mode of a [Breaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls until the cooldown has elapsed.
	StateOpen

	// StateHalfOpen lets a single trial call through. Its outcome closes or
	// re-opens the breaker.
	StateHalfOpen
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig tunes a [Breaker]. Zero fields take defaults.
type BreakerConfig struct {
	// Threshold is the number of consecutive failures that opens the
	// breaker. Default: 3.
	Threshold int

	// Cooldown is how long the breaker stays open before allowing a trial call.
	// Default: 30s.
	Cooldown time.Duration

	// Now is the clock. Default: time.Now.
	Now func() time.Time
}

// Breaker is a consecutive-failure circuit breaker.
//
// Failures caused by the caller giving up (context cancellation or deadline)
// say nothing about the endpoint and are not counted.
type Breaker struct {
	name      string
	threshold int
	cooldown  time.Duration
	now       func() time.Time

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probing  bool
}

// NewBreaker returns a closed breaker labelled name in logs.
func NewBreaker(name string, cfg BreakerConfig) *Breaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 3
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Breaker{
		name:      name,
		threshold: cfg.Threshold,
		cooldown:  cfg.Cooldown,
		now:       cfg.Now,
	}
}

// Name returns the label passed to [NewBreaker].
func (b *Breaker) Name() string { return b.name }

// Do runs fn unless the breaker is open, and records the outcome.
func (b *Breaker) Do(fn func() error) error {
	trial, err := b.acquire()
	if err != nil {
		return err
	}
	err = fn()
	b.settle(trial, err)
	return err
}

// acquire decides whether a call may proceed and whether it is the
// half-open trial.
func (b *Breaker) acquire() (trial bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return false, nil
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.cooldown {
			return false, ErrOpen
		}
		b.state = StateHalfOpen
		slog.Info("circuit half-open, probing", "endpoint", b.name)
		fallthrough
	default:
		if b.probing {
			return false, ErrOpen
		}
		b.probing = true
		return true, nil
	}
}

func (b *Breaker) settle(trial bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if trial {
		b.probing = false
	}

	switch {
	case err == nil:
		if b.state != StateClosed {
			slog.Info("circuit closed", "endpoint", b.name)
		}
		b.state = StateClosed
		b.failures = 0
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		if trial && b.state == StateHalfOpen {
			// Inconclusive trial; let the next caller try.
			return
		}
	case trial:
		b.trip()
	default:
		b.failures++
		if b.state == StateClosed && b.failures >= b.threshold {
			b.trip()
		}
	}
}

// trip opens the breaker. Must be called with b.mu held.
func (b *Breaker) trip() {
	b.state = StateOpen
	b.openedAt = b.now()
	slog.Warn("circuit opened",
		"endpoint", b.name,
		"consecutive_failures", b.failures,
		"cooldown", b.cooldown,
	)
}

// State reports the current state. An open breaker whose cooldown has
// elapsed reports [StateHalfOpen]; the transition itself happens on the
// next call.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.cooldown {
		return StateHalfOpen
	}
	return b.state
}

// Reset closes the breaker and clears its failure count.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failures = 0
	b.probing = false
}
