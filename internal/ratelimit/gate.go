package ratelimit

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Gate bounds the number of concurrent in-flight calls against one
// external source (an RPC endpoint or a query API). Admission is
// first-ready, first-admitted; a caller that cannot be admitted
// immediately blocks until a slot frees or its context is done.
type Gate struct {
	name string
	sem  *semaphore.Weighted
}

// NewGate builds a gate admitting at most limit concurrent calls.
func NewGate(name string, limit int64) *Gate {
	if limit <= 0 {
		limit = 1
	}
	return &Gate{name: name, sem: semaphore.NewWeighted(limit)}
}

// Name returns the source the gate guards.
func (g *Gate) Name() string {
	return g.name
}

// Do runs fn while holding one slot of the gate.
func (g *Gate) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer g.sem.Release(1)
	return fn(ctx)
}

// Registry hands out one gate per source name, creating it on first
// use. Safe for concurrent use.
type Registry struct {
	mu    sync.Mutex
	gates map[string]*Gate
}

// NewRegistry constructs an empty gate registry.
func NewRegistry() *Registry {
	return &Registry{gates: make(map[string]*Gate)}
}

// Gate returns the gate for the named source, creating it with the
// given limit if it does not exist yet. The limit of an existing gate
// is not changed.
func (r *Registry) Gate(name string, limit int64) *Gate {
	r.mu.Lock()
	defer r.mu.Unlock()
	if g, ok := r.gates[name]; ok {
		return g
	}
	g := NewGate(name, limit)
	r.gates[name] = g
	return g
}
