package discovery

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"lending-health-alerts/internal/adapter"
	"lending-health-alerts/internal/position"
)

// ErrNotEnabled reports a protocol filter naming a protocol that has
// no registered adapter, usually because it is disabled in config.
var ErrNotEnabled = errors.New("protocol not enabled")

// ProtocolError records one source that could not be checked during a
// discovery round. The rest of the round is unaffected.
type ProtocolError struct {
	Protocol position.ProtocolID
	Err      error
}

// Coordinator fans one address out across all registered adapters,
// caches raw per-protocol records, and aggregates the survivors into
// risk units.
type Coordinator struct {
	adapters   *adapter.Registry
	cache      *ResultCache
	aggregator *position.Aggregator
	logger     zerolog.Logger
}

func NewCoordinator(adapters *adapter.Registry, cache *ResultCache, logger zerolog.Logger) *Coordinator {
	return &Coordinator{
		adapters:   adapters,
		cache:      cache,
		aggregator: position.NewAggregator(logger),
		logger:     logger.With().Str("component", "discovery").Logger(),
	}
}

// DiscoverAll checks the address against every adapter (or only the
// given protocol when filter is non-empty) concurrently. One failing
// source never hides another's positions: failures come back in the
// second return value, keyed by protocol.
func (c *Coordinator) DiscoverAll(ctx context.Context, address string, filter position.ProtocolID) ([]position.Aggregated, []ProtocolError) {
	adapters := c.adapters.All()
	if filter != "" {
		a, ok := c.adapters.Lookup(filter)
		if !ok {
			return nil, []ProtocolError{{Protocol: filter, Err: ErrNotEnabled}}
		}
		adapters = []adapter.Adapter{a}
	}

	var (
		mu       sync.Mutex
		records  []position.Record
		failures []ProtocolError
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, a := range adapters {
		g.Go(func() error {
			recs, err := c.discoverOne(gctx, a, address)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures = append(failures, ProtocolError{Protocol: a.Protocol(), Err: err})
				return nil
			}
			records = append(records, recs...)
			return nil
		})
	}
	g.Wait()

	sort.Slice(failures, func(i, j int) bool { return failures[i].Protocol < failures[j].Protocol })
	return c.aggregator.Aggregate(records), failures
}

func (c *Coordinator) discoverOne(ctx context.Context, a adapter.Adapter, address string) ([]position.Record, error) {
	if cached, ok := c.cache.Get(a.Protocol(), address); ok {
		return cached, nil
	}

	records, err := a.Discover(ctx, address)
	if err != nil {
		c.logger.Warn().Err(err).
			Str("protocol", string(a.Protocol())).
			Str("address", address).
			Msg("source check failed")
		return nil, err
	}

	c.cache.Put(a.Protocol(), address, records)
	return records, nil
}
