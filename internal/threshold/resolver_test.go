package threshold

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"lending-health-alerts/internal/position"
)

const testUser int64 = 7

func entries() []Entry {
	return []Entry{
		{UserID: testUser, Scope: GlobalScope(), Value: decimal.NewFromFloat(1.2)},
		{UserID: testUser, Scope: ProtocolScope(position.ProtocolMorpho), Value: decimal.NewFromFloat(1.4)},
		{UserID: testUser, Scope: MarketScope(position.ProtocolMorpho, "0xMARKET"), Value: decimal.NewFromFloat(1.6)},
	}
}

func TestResolvePrecedence(t *testing.T) {
	r := NewResolver(entries())

	got, err := r.Resolve(testUser, position.ProtocolMorpho, "0xmarket")
	if err != nil {
		t.Fatalf("resolve market scope: %v", err)
	}
	if got.String() != "1.6" {
		t.Fatalf("market scope must win, got %s", got)
	}

	got, err = r.Resolve(testUser, position.ProtocolMorpho, "0xother")
	if err != nil {
		t.Fatalf("resolve protocol scope: %v", err)
	}
	if got.String() != "1.4" {
		t.Fatalf("protocol scope should apply for other markets, got %s", got)
	}

	got, err = r.Resolve(testUser, position.ProtocolAave, "0xanything")
	if err != nil {
		t.Fatalf("resolve global scope: %v", err)
	}
	if got.String() != "1.2" {
		t.Fatalf("global scope should be the fallback, got %s", got)
	}
}

func TestResolveNoThreshold(t *testing.T) {
	r := NewResolver([]Entry{
		{UserID: testUser, Scope: ProtocolScope(position.ProtocolAave), Value: decimal.NewFromFloat(1.3)},
	})

	_, err := r.Resolve(testUser, position.ProtocolEuler, "0xvault")
	if !errors.Is(err, ErrNoThreshold) {
		t.Fatalf("want ErrNoThreshold, got %v", err)
	}

	// Different user; entries never leak across users.
	_, err = r.Resolve(99, position.ProtocolAave, "")
	if !errors.Is(err, ErrNoThreshold) {
		t.Fatalf("other user should have no threshold, got %v", err)
	}
}

func TestMarketScopeNormalizesCase(t *testing.T) {
	r := NewResolver(entries())

	lower, err := r.Resolve(testUser, position.ProtocolMorpho, "0xmarket")
	if err != nil {
		t.Fatalf("resolve lowercase: %v", err)
	}
	upper, err := r.Resolve(testUser, position.ProtocolMorpho, "0xMarket")
	if err != nil {
		t.Fatalf("resolve mixed case: %v", err)
	}
	if !lower.Equal(upper) {
		t.Fatal("market ids must match case-insensitively")
	}
}
