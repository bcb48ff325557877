package config

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/SocialNOT/AgainINDIA/pkg/transport"
)

// ErrProviderNotRegistered is returned by [Registry.CreateTransport] when no
// factory has been registered under the requested name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// TransportFactory builds a transport from its config entry.
type TransportFactory func(ctx context.Context, entry TransportEntry) (transport.Transport, error)

// Registry maps transport names to their constructors. It is safe for
// concurrent use.
type Registry struct {
	mu         sync.RWMutex
	transports map[string]TransportFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{transports: make(map[string]TransportFactory)}
}

// RegisterTransport registers a transport factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterTransport(name string, factory TransportFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transports[name] = factory
}

// CreateTransport instantiates the transport registered under entry.Name.
// Returns [ErrProviderNotRegistered] if no factory has been registered for
// that name.
func (r *Registry) CreateTransport(ctx context.Context, entry TransportEntry) (transport.Transport, error) {
	r.mu.RLock()
	factory, ok := r.transports[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: transport/%q", ErrProviderNotRegistered, entry.Name)
	}
	t, err := factory(ctx, entry)
	if err != nil {
		return nil, fmt.Errorf("config: create transport %q: %w", entry.Name, err)
	}
	return t, nil
}

// Transports returns the registered names in sorted order.
func (r *Registry) Transports() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.transports))
	for name := range r.transports {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
