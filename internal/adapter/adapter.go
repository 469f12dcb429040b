// Package adapter normalizes structurally different lending protocols
// into position.Record sequences behind one discovery interface.
package adapter

import (
	"context"
	"errors"
	"fmt"

	"lending-health-alerts/internal/position"
)

var (
	// ErrSourceUnavailable marks transient failures: RPC timeouts,
	// network errors, query-API 5xx. The adapter stays registered and
	// simply yields no data for this cycle.
	ErrSourceUnavailable = errors.New("source unavailable")

	// ErrSourceRejected marks terminal failures for this call: the
	// address is malformed or unsupported by the protocol. Not retried.
	ErrSourceRejected = errors.New("source rejected request")
)

// Adapter discovers all positions one protocol reports for an address.
// "No positions" is an empty slice, never an error.
type Adapter interface {
	Protocol() position.ProtocolID
	Name() string
	Discover(ctx context.Context, address string) ([]position.Record, error)
}

// Registry maps protocol identifiers to adapter instances. New
// protocols are added by implementing Adapter and registering an
// instance; no dispatch logic elsewhere changes.
type Registry struct {
	order    []position.ProtocolID
	adapters map[position.ProtocolID]Adapter
}

// NewRegistry constructs an empty adapter registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[position.ProtocolID]Adapter)}
}

// Register adds an adapter. Registering the same protocol twice is a
// programming error.
func (r *Registry) Register(a Adapter) error {
	id := a.Protocol()
	if _, exists := r.adapters[id]; exists {
		return fmt.Errorf("adapter for protocol %q already registered", id)
	}
	r.adapters[id] = a
	r.order = append(r.order, id)
	return nil
}

// Lookup returns the adapter for a protocol, if registered.
func (r *Registry) Lookup(id position.ProtocolID) (Adapter, bool) {
	a, ok := r.adapters[id]
	return a, ok
}

// All returns every registered adapter in registration order.
func (r *Registry) All() []Adapter {
	out := make([]Adapter, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.adapters[id])
	}
	return out
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
}

func rejected(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrSourceRejected, fmt.Sprintf(format, args...))
}
