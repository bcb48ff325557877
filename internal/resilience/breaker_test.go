package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

var errDial = errors.New("dial failed")

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func fail() error { return errDial }
func ok() error   { return nil }

func TestBreaker_Defaults(t *testing.T) {
	t.Parallel()

	b := NewBreaker("gemini-live", BreakerConfig{})
	if b.threshold != 3 || b.cooldown != 30*time.Second {
		t.Errorf("defaults = %d, %v", b.threshold, b.cooldown)
	}
	if b.State() != StateClosed {
		t.Errorf("initial state = %v", b.State())
	}
	if b.Name() != "gemini-live" {
		t.Errorf("Name = %q", b.Name())
	}
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	b := NewBreaker("x", BreakerConfig{Threshold: 2, Cooldown: time.Minute, Now: clk.Now})

	_ = b.Do(fail)
	if b.State() != StateClosed {
		t.Fatalf("state after 1 failure = %v", b.State())
	}
	_ = b.Do(fail)
	if b.State() != StateOpen {
		t.Fatalf("state after 2 failures = %v", b.State())
	}

	called := false
	err := b.Do(func() error { called = true; return nil })
	if !errors.Is(err, ErrOpen) || called {
		t.Errorf("open breaker: err = %v, called = %v", err, called)
	}
}

func TestBreaker_SuccessResetsCount(t *testing.T) {
	t.Parallel()

	b := NewBreaker("x", BreakerConfig{Threshold: 2})
	_ = b.Do(fail)
	_ = b.Do(ok)
	_ = b.Do(fail)
	if b.State() != StateClosed {
		t.Errorf("state = %v, want closed", b.State())
	}
}

func TestBreaker_CancellationNotCounted(t *testing.T) {
	t.Parallel()

	b := NewBreaker("x", BreakerConfig{Threshold: 1})
	_ = b.Do(func() error { return context.Canceled })
	_ = b.Do(func() error { return context.DeadlineExceeded })
	if b.State() != StateClosed {
		t.Errorf("state = %v, want closed", b.State())
	}
}

func TestBreaker_HalfOpenTrial(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		trial func() error
		want  State
	}{
		{"success closes", ok, StateClosed},
		{"failure re-opens", fail, StateOpen},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			clk := newFakeClock()
			b := NewBreaker("x", BreakerConfig{Threshold: 1, Cooldown: time.Minute, Now: clk.Now})
			_ = b.Do(fail)

			clk.Advance(time.Minute)
			if b.State() != StateHalfOpen {
				t.Fatalf("state after cooldown = %v", b.State())
			}
			_ = b.Do(tt.trial)
			if got := b.State(); got != tt.want {
				t.Errorf("state = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBreaker_SingleTrialCall(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	b := NewBreaker("x", BreakerConfig{Threshold: 1, Cooldown: time.Second, Now: clk.Now})
	_ = b.Do(fail)
	clk.Advance(time.Second)

	entered := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- b.Do(func() error {
			close(entered)
			<-release
			return nil
		})
	}()

	select {
	case <-entered:
	case <-time.After(3 * time.Second):
		t.Fatal("trial never started")
	}
	if err := b.Do(ok); !errors.Is(err, ErrOpen) {
		t.Errorf("second call during trial = %v, want ErrOpen", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("trial: %v", err)
	}
	if b.State() != StateClosed {
		t.Errorf("state = %v, want closed", b.State())
	}
}

func TestBreaker_Reset(t *testing.T) {
	t.Parallel()

	b := NewBreaker("x", BreakerConfig{Threshold: 1, Cooldown: time.Hour})
	_ = b.Do(fail)
	b.Reset()
	if b.State() != StateClosed {
		t.Errorf("state = %v", b.State())
	}
	if err := b.Do(ok); err != nil {
		t.Errorf("Do after Reset: %v", err)
	}
}

func TestState_String(t *testing.T) {
	t.Parallel()

	for s, want := range map[State]string{
		StateClosed:   "closed",
		StateOpen:     "open",
		StateHalfOpen: "half-open",
		State(9):      "unknown",
	} {
		if got := s.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", s, got, want)
		}
	}
}
