package discovery

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"lending-health-alerts/internal/adapter"
	"lending-health-alerts/internal/position"
)

type fakeAdapter struct {
	protocol position.ProtocolID
	records  []position.Record
	err      error
	calls    int64
}

func (f *fakeAdapter) Protocol() position.ProtocolID { return f.protocol }
func (f *fakeAdapter) Name() string                  { return string(f.protocol) }

func (f *fakeAdapter) Discover(ctx context.Context, address string) ([]position.Record, error) {
	atomic.AddInt64(&f.calls, 1)
	if f.err != nil {
		return nil, f.err
	}
	return f.records, nil
}

func singleRecord(protocol position.ProtocolID, unit string, health float64) []position.Record {
	return []position.Record{{
		Protocol:    protocol,
		UnitID:      unit,
		MarketLabel: unit,
		Health:      position.NormalizeHealth(decimal.NewFromFloat(health)),
	}}
}

func newTestCoordinator(t *testing.T, adapters ...adapter.Adapter) *Coordinator {
	t.Helper()
	registry := adapter.NewRegistry()
	for _, a := range adapters {
		if err := registry.Register(a); err != nil {
			t.Fatalf("register adapter: %v", err)
		}
	}
	return NewCoordinator(registry, NewResultCache(time.Minute), zerolog.Nop())
}

func TestDiscoverAllIsolatesFailures(t *testing.T) {
	healthy := &fakeAdapter{protocol: position.ProtocolAave, records: singleRecord(position.ProtocolAave, "0xuser", 1.8)}
	broken := &fakeAdapter{protocol: position.ProtocolMorpho, err: adapter.ErrSourceUnavailable}
	alsoHealthy := &fakeAdapter{protocol: position.ProtocolEuler, records: singleRecord(position.ProtocolEuler, "0xvault", 1.1)}

	coord := newTestCoordinator(t, healthy, broken, alsoHealthy)
	units, failures := coord.DiscoverAll(context.Background(), "0xuser", "")

	if len(units) != 2 {
		t.Fatalf("healthy protocols should still report, got %d units", len(units))
	}
	if len(failures) != 1 || failures[0].Protocol != position.ProtocolMorpho {
		t.Fatalf("exactly the broken protocol should be reported, got %+v", failures)
	}
}

func TestDiscoverAllUsesCache(t *testing.T) {
	a := &fakeAdapter{protocol: position.ProtocolAave, records: singleRecord(position.ProtocolAave, "0xuser", 1.5)}
	coord := newTestCoordinator(t, a)

	for i := 0; i < 3; i++ {
		units, failures := coord.DiscoverAll(context.Background(), "0xUSER", "")
		if len(failures) != 0 || len(units) != 1 {
			t.Fatalf("run %d: unexpected result units=%d failures=%d", i, len(units), len(failures))
		}
	}

	if got := atomic.LoadInt64(&a.calls); got != 1 {
		t.Fatalf("repeat checks inside the TTL should hit the cache, adapter called %d times", got)
	}
}

func TestDiscoverAllDoesNotCacheFailures(t *testing.T) {
	a := &fakeAdapter{protocol: position.ProtocolAave, err: adapter.ErrSourceUnavailable}
	coord := newTestCoordinator(t, a)

	coord.DiscoverAll(context.Background(), "0xuser", "")
	coord.DiscoverAll(context.Background(), "0xuser", "")

	if got := atomic.LoadInt64(&a.calls); got != 2 {
		t.Fatalf("failed checks must be retried, adapter called %d times", got)
	}
}

func TestDiscoverAllFilter(t *testing.T) {
	aave := &fakeAdapter{protocol: position.ProtocolAave, records: singleRecord(position.ProtocolAave, "0xuser", 1.5)}
	euler := &fakeAdapter{protocol: position.ProtocolEuler, records: singleRecord(position.ProtocolEuler, "0xvault", 2.0)}
	coord := newTestCoordinator(t, aave, euler)

	units, failures := coord.DiscoverAll(context.Background(), "0xuser", position.ProtocolEuler)
	if len(failures) != 0 {
		t.Fatalf("unexpected failures: %+v", failures)
	}
	if len(units) != 1 || units[0].Protocol != position.ProtocolEuler {
		t.Fatalf("filter should restrict to one protocol, got %+v", units)
	}
	if atomic.LoadInt64(&aave.calls) != 0 {
		t.Fatal("filtered-out adapter must not be called")
	}
}

func TestDiscoverAllFilterUnregisteredProtocol(t *testing.T) {
	aave := &fakeAdapter{protocol: position.ProtocolAave, records: singleRecord(position.ProtocolAave, "0xuser", 1.5)}
	coord := newTestCoordinator(t, aave)

	units, failures := coord.DiscoverAll(context.Background(), "0xuser", position.ProtocolEuler)
	if len(units) != 0 {
		t.Fatalf("unexpected units: %+v", units)
	}
	if len(failures) != 1 || failures[0].Protocol != position.ProtocolEuler {
		t.Fatalf("filtering on a disabled protocol must be reported, got %+v", failures)
	}
	if !errors.Is(failures[0].Err, ErrNotEnabled) {
		t.Fatalf("unexpected failure cause: %v", failures[0].Err)
	}
	if atomic.LoadInt64(&aave.calls) != 0 {
		t.Fatal("no adapter should run when the filter matches nothing")
	}
}

func TestResultCacheExpiry(t *testing.T) {
	cache := NewResultCache(20 * time.Millisecond)
	cache.Put(position.ProtocolAave, "0xUser", singleRecord(position.ProtocolAave, "0xuser", 1.5))

	if _, ok := cache.Get(position.ProtocolAave, "0xuser"); !ok {
		t.Fatal("lookup should be case-insensitive on the address")
	}

	time.Sleep(40 * time.Millisecond)
	if _, ok := cache.Get(position.ProtocolAave, "0xuser"); ok {
		t.Fatal("entry should expire after the TTL")
	}
}
