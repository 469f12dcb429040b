package position

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ProtocolID identifies a supported lending protocol.
type ProtocolID string

const (
	ProtocolAave     ProtocolID = "aave"
	ProtocolMorpho   ProtocolID = "morpho"
	ProtocolCurvance ProtocolID = "curvance"
	ProtocolEuler    ProtocolID = "euler"
)

// Asset is a normalized collateral or debt leg of a position.
// Immutable once constructed.
type Asset struct {
	Symbol       string
	Decimals     uint8
	Amount       decimal.Decimal
	ValueInQuote decimal.Decimal
}

// Record is one risk-bearing unit as reported by a protocol adapter,
// before aggregation. UnitID is the protocol-scoped grouping key
// (market manager address, vault address, market id, or the account
// itself for pooled protocols).
type Record struct {
	Protocol         ProtocolID
	UnitID           string
	MarketLabel      string
	Collateral       []Asset
	Debt             []Asset
	Health           HealthFactor
	LiquidationPrice *decimal.Decimal
	Raw              any
}

// Aggregated is the unit actually alerted on: one or more Records
// sharing the same (protocol, unit id), collapsed to a single
// representative health factor. Created fresh per discovery cycle and
// never persisted.
type Aggregated struct {
	Protocol    ProtocolID
	UnitID      string
	MarketLabel string
	Collateral  []Asset
	Debt        []Asset
	Health      HealthFactor
	Records     []Record
}

// LiquidationDropPct returns how far the position can fall before
// liquidation, as a percentage: (1 - 1/HF) * 100. Zero when the health
// factor is undefined or not positive.
func (a Aggregated) LiquidationDropPct() decimal.Decimal {
	if !a.Health.Defined() || !a.Health.Value().IsPositive() {
		return decimal.Zero
	}
	one := decimal.NewFromInt(1)
	return one.Sub(one.Div(a.Health.Value())).Mul(decimal.NewFromInt(100))
}

// TotalCollateralValue sums the quote-currency value of all collateral legs.
func (a Aggregated) TotalCollateralValue() decimal.Decimal {
	return sumValues(a.Collateral)
}

// TotalDebtValue sums the quote-currency value of all debt legs.
func (a Aggregated) TotalDebtValue() decimal.Decimal {
	return sumValues(a.Debt)
}

func sumValues(assets []Asset) decimal.Decimal {
	total := decimal.Zero
	for _, asset := range assets {
		total = total.Add(asset.ValueInQuote)
	}
	return total
}

// FormatAmount renders an amount with K/M suffixes for display.
func FormatAmount(v decimal.Decimal) string {
	million := decimal.NewFromInt(1_000_000)
	thousand := decimal.NewFromInt(1_000)
	switch {
	case v.GreaterThanOrEqual(million):
		return v.Div(million).StringFixed(2) + "M"
	case v.GreaterThanOrEqual(thousand):
		return v.Div(thousand).StringFixed(1) + "k"
	case v.GreaterThanOrEqual(decimal.NewFromInt(1)):
		return v.StringFixed(2)
	default:
		return v.StringFixed(4)
	}
}

// FormatQuoteValue renders a quote-currency value with K/M suffixes.
func FormatQuoteValue(v decimal.Decimal) string {
	million := decimal.NewFromInt(1_000_000)
	thousand := decimal.NewFromInt(1_000)
	switch {
	case v.GreaterThanOrEqual(million):
		return "$" + v.Div(million).StringFixed(2) + "M"
	case v.GreaterThanOrEqual(thousand):
		return "$" + v.Div(thousand).StringFixed(2) + "K"
	default:
		return "$" + v.StringFixed(2)
	}
}

// ShortAddress abbreviates a hex address for labels.
func ShortAddress(addr string) string {
	if len(addr) <= 10 {
		return addr
	}
	return fmt.Sprintf("%s...%s", addr[:6], addr[len(addr)-4:])
}

// ParseProtocolID validates a protocol identifier string.
func ParseProtocolID(s string) (ProtocolID, error) {
	switch id := ProtocolID(strings.ToLower(strings.TrimSpace(s))); id {
	case ProtocolAave, ProtocolMorpho, ProtocolCurvance, ProtocolEuler:
		return id, nil
	default:
		return "", fmt.Errorf("unknown protocol %q", s)
	}
}
