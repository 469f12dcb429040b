package position

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

func rec(protocol ProtocolID, unit string, health HealthFactor, collateral ...Asset) Record {
	return Record{
		Protocol:    protocol,
		UnitID:      unit,
		MarketLabel: unit,
		Collateral:  collateral,
		Health:      health,
	}
}

func asset(symbol string, amount float64) Asset {
	return Asset{
		Symbol:       symbol,
		Decimals:     18,
		Amount:       decimal.NewFromFloat(amount),
		ValueInQuote: decimal.NewFromFloat(amount),
	}
}

func newTestAggregator() *Aggregator {
	return NewAggregator(zerolog.Nop())
}

func TestAggregateSingletonPassthrough(t *testing.T) {
	in := rec(ProtocolAave, "0xabc", NormalizeHealth(decimal.NewFromFloat(1.8)), asset("WETH", 2))

	out := newTestAggregator().Aggregate([]Record{in})
	if len(out) != 1 {
		t.Fatalf("expected 1 unit, got %d", len(out))
	}
	if out[0].MarketLabel != in.MarketLabel || !out[0].Health.Value().Equal(in.Health.Value()) {
		t.Fatalf("singleton should pass through unchanged: %+v", out[0])
	}
}

func TestAggregateTakesMinimumFiniteHealth(t *testing.T) {
	records := []Record{
		rec(ProtocolCurvance, "0xmm", NormalizeHealth(decimal.NewFromFloat(1.9)), asset("aprMON", 10)),
		rec(ProtocolCurvance, "0xmm", UndefinedHealth(), asset("shMON", 5)),
		rec(ProtocolCurvance, "0xmm", NormalizeHealth(decimal.NewFromFloat(1.2)), asset("WMON", 3)),
	}

	out := newTestAggregator().Aggregate(records)
	if len(out) != 1 {
		t.Fatalf("records sharing a unit should collapse to 1, got %d", len(out))
	}
	unit := out[0]
	if !unit.Health.Defined() || unit.Health.String() != "1.200" {
		t.Fatalf("representative health should be the finite minimum, got %s", unit.Health)
	}
	if unit.MarketLabel != "aprMON/shMON/WMON" {
		t.Fatalf("label should join distinct collateral symbols, got %q", unit.MarketLabel)
	}
	if len(unit.Records) != 3 {
		t.Fatalf("constituent records should be retained, got %d", len(unit.Records))
	}
}

func TestAggregateAllUndefinedStaysUndefined(t *testing.T) {
	records := []Record{
		rec(ProtocolCurvance, "0xmm", UndefinedHealth(), asset("A", 1)),
		rec(ProtocolCurvance, "0xmm", UndefinedHealth(), asset("B", 1)),
	}

	out := newTestAggregator().Aggregate(records)
	if len(out) != 1 || out[0].Health.Defined() {
		t.Fatalf("a group with no finite health must stay undefined: %+v", out)
	}
}

func TestAggregateKeepsDistinctUnitsApart(t *testing.T) {
	records := []Record{
		rec(ProtocolMorpho, "0xmarket1", NormalizeHealth(decimal.NewFromFloat(1.1)), asset("WETH", 1)),
		rec(ProtocolMorpho, "0xmarket2", NormalizeHealth(decimal.NewFromFloat(2.5)), asset("WBTC", 1)),
		rec(ProtocolEuler, "0xmarket1", NormalizeHealth(decimal.NewFromFloat(3.0)), asset("USDC", 1)),
	}

	out := newTestAggregator().Aggregate(records)
	if len(out) != 3 {
		t.Fatalf("units differing in protocol or id must not merge, got %d", len(out))
	}
}

func TestAggregateMergesAssetLegsPerSymbol(t *testing.T) {
	records := []Record{
		rec(ProtocolCurvance, "0xmm", NormalizeHealth(decimal.NewFromFloat(1.5)), asset("WMON", 2)),
		rec(ProtocolCurvance, "0xmm", NormalizeHealth(decimal.NewFromFloat(1.5)), asset("WMON", 3), asset("USDC", 7)),
	}

	out := newTestAggregator().Aggregate(records)
	collateral := out[0].Collateral
	if len(collateral) != 2 {
		t.Fatalf("expected 2 merged legs, got %d", len(collateral))
	}
	if collateral[0].Symbol != "WMON" || !collateral[0].Amount.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("WMON legs should sum to 5, got %s %s", collateral[0].Symbol, collateral[0].Amount)
	}
	if collateral[1].Symbol != "USDC" || !collateral[1].Amount.Equal(decimal.NewFromInt(7)) {
		t.Fatalf("USDC leg should carry through, got %s %s", collateral[1].Symbol, collateral[1].Amount)
	}
}

func TestLiquidationDropPct(t *testing.T) {
	agg := Aggregated{Health: NormalizeHealth(decimal.NewFromInt(2))}
	if agg.LiquidationDropPct().StringFixed(0) != "50" {
		t.Fatalf("HF 2.0 means a 50%% drop to liquidation, got %s", agg.LiquidationDropPct())
	}

	undefAgg := Aggregated{Health: UndefinedHealth()}
	if !undefAgg.LiquidationDropPct().IsZero() {
		t.Fatal("undefined health has no liquidation distance")
	}
}
