package resilience

import (
	"context"
	"log/slog"

	"github.com/SocialNOT/AgainINDIA/pkg/transport"
)

var _ transport.Transport = (*Failover)(nil)

// Failover is a [transport.Transport] that opens the first reachable member
// of an ordered list. Only Open is guarded: once a connection is up, a drop
// ends the session like any other transport failure.
type Failover struct {
	group   *Group[transport.Transport]
	primary string
}

// NewFailover returns a Failover preferring primary.
func NewFailover(name string, primary transport.Transport, cfg BreakerConfig) *Failover {
	g := NewGroup[transport.Transport](cfg)
	g.Add(name, primary)
	return &Failover{group: g, primary: name}
}

// Add registers a fallback tried after every previously added member.
func (f *Failover) Add(name string, t transport.Transport) {
	f.group.Add(name, t)
}

// Breaker returns the breaker guarding the named member, or nil.
func (f *Failover) Breaker(name string) *Breaker { return f.group.Breaker(name) }

// Open implements [transport.Transport].
func (f *Failover) Open(ctx context.Context, cfg transport.Config) (transport.Conn, error) {
	conn, name, err := Try(ctx, f.group, func(ctx context.Context, t transport.Transport) (transport.Conn, error) {
		return t.Open(ctx, cfg)
	})
	if err != nil {
		return nil, err
	}
	if name != f.primary {
		slog.Info("connected through fallback transport", "transport", name, "primary", f.primary)
	}
	return conn, nil
}
