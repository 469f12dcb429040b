package app

import (
	"testing"

	"github.com/shopspring/decimal"

	"lending-health-alerts/internal/position"
)

func TestFormatSidePrefersQuoteTotal(t *testing.T) {
	legs := []position.Asset{{Symbol: "WMON", Amount: decimal.NewFromInt(2)}}

	got := formatSide(legs, decimal.NewFromInt(1500))
	if got != "$1.50K" {
		t.Fatalf("priced side should show the quote total, got %q", got)
	}
}

func TestFormatSideFallsBackToAmounts(t *testing.T) {
	legs := []position.Asset{
		{Symbol: "aprMON", Amount: decimal.NewFromFloat(2.5)},
		{Symbol: "WMON", Amount: decimal.NewFromInt(1_250_000)},
	}

	got := formatSide(legs, decimal.Zero)
	if got != "2.50 aprMON + 1.25M WMON" {
		t.Fatalf("unpriced side should show token amounts, got %q", got)
	}
}

func TestFormatSideEmpty(t *testing.T) {
	if got := formatSide(nil, decimal.Zero); got != "-" {
		t.Fatalf("empty side should render a dash, got %q", got)
	}
}
