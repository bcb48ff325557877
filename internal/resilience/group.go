package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when no member of a [Group] could serve a call.
var ErrAllFailed = errors.New("resilience: all endpoints failed")

type member[T any] struct {
	name    string
	value   T
	breaker *Breaker
}

// Group is an ordered list of interchangeable endpoints, each behind its
// own [Breaker]. Members are fixed after construction.
type Group[T any] struct {
	cfg     BreakerConfig
	members []member[T]
}

// NewGroup returns an empty group whose members get breakers built from cfg.
func NewGroup[T any](cfg BreakerConfig) *Group[T] {
	return &Group[T]{cfg: cfg}
}

// Add appends v under name. Members are tried in the order they were added.
func (g *Group[T]) Add(name string, v T) {
	g.members = append(g.members, member[T]{
		name:    name,
		value:   v,
		breaker: NewBreaker(name, g.cfg),
	})
}

// Len returns the number of members.
func (g *Group[T]) Len() int { return len(g.members) }

// Breaker returns the breaker guarding the named member, or nil.
func (g *Group[T]) Breaker(name string) *Breaker {
	for i := range g.members {
		if g.members[i].name == name {
			return g.members[i].breaker
		}
	}
	return nil
}

// Try calls fn on each member in order until one succeeds, and returns its
// result and name. Members with an open breaker are skipped. Cancellation of
// ctx stops the walk.
func Try[T, R any](ctx context.Context, g *Group[T], fn func(context.Context, T) (R, error)) (R, string, error) {
	var (
		zero R
		errs []error
	)
	for i := range g.members {
		m := &g.members[i]
		if err := ctx.Err(); err != nil {
			return zero, "", err
		}

		var out R
		err := m.breaker.Do(func() error {
			var err error
			out, err = fn(ctx, m.value)
			return err
		})
		if err == nil {
			return out, m.name, nil
		}
		if errors.Is(err, ErrOpen) {
			slog.Debug("skipping endpoint, circuit open", "endpoint", m.name)
		} else {
			slog.Warn("endpoint failed, trying next", "endpoint", m.name, "err", err)
		}
		errs = append(errs, fmt.Errorf("%s: %w", m.name, err))
	}
	if len(errs) == 0 {
		return zero, "", fmt.Errorf("%w: no endpoints configured", ErrAllFailed)
	}
	return zero, "", fmt.Errorf("%w: %w", ErrAllFailed, errors.Join(errs...))
}
