package position

import (
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Finite combined-health values inside one group should agree; a gap
// wider than this means the source disagrees with itself.
var disagreementEpsilon = decimal.NewFromFloat(0.01)

// Aggregator collapses Records that share one risk unit into a single
// representative Aggregated position. Protocols that compute a combined
// health factor over several collateral/debt pairs report one Record
// per pair, all carrying the same unit id.
type Aggregator struct {
	logger zerolog.Logger
}

// NewAggregator constructs an Aggregator.
func NewAggregator(logger zerolog.Logger) *Aggregator {
	return &Aggregator{logger: logger.With().Str("component", "aggregator").Logger()}
}

// Aggregate groups records by (protocol, unit id). Singleton groups
// pass through unchanged. Larger groups collapse to the minimum finite
// health factor; undefined members are excluded from the minimum but a
// group with no finite value at all stays undefined.
func (a *Aggregator) Aggregate(records []Record) []Aggregated {
	type key struct {
		protocol ProtocolID
		unit     string
	}

	order := make([]key, 0, len(records))
	groups := make(map[key][]Record, len(records))
	for _, rec := range records {
		k := key{protocol: rec.Protocol, unit: rec.UnitID}
		if _, seen := groups[k]; !seen {
			order = append(order, k)
		}
		groups[k] = append(groups[k], rec)
	}

	aggregated := make([]Aggregated, 0, len(order))
	for _, k := range order {
		group := groups[k]
		if len(group) == 1 {
			rec := group[0]
			aggregated = append(aggregated, Aggregated{
				Protocol:    rec.Protocol,
				UnitID:      rec.UnitID,
				MarketLabel: rec.MarketLabel,
				Collateral:  rec.Collateral,
				Debt:        rec.Debt,
				Health:      rec.Health,
				Records:     group,
			})
			continue
		}
		aggregated = append(aggregated, a.collapse(k.protocol, k.unit, group))
	}
	return aggregated
}

func (a *Aggregator) collapse(protocol ProtocolID, unitID string, group []Record) Aggregated {
	health := UndefinedHealth()
	var maxFinite decimal.Decimal
	hasFinite := false
	for _, rec := range group {
		if !rec.Health.Defined() {
			continue
		}
		v := rec.Health.Value()
		if !hasFinite {
			health = rec.Health
			maxFinite = v
			hasFinite = true
			continue
		}
		if v.LessThan(health.Value()) {
			health = rec.Health
		}
		if v.GreaterThan(maxFinite) {
			maxFinite = v
		}
	}
	if hasFinite && maxFinite.Sub(health.Value()).GreaterThan(disagreementEpsilon) {
		// The authoritative combined call should make duplicates agree;
		// a real gap is a data-source inconsistency worth surfacing.
		a.logger.Warn().
			Str("protocol", string(protocol)).
			Str("unit", unitID).
			Str("min", health.Value().String()).
			Str("max", maxFinite.String()).
			Msg("combined-health records disagree within one unit; using minimum")
	}

	return Aggregated{
		Protocol:    protocol,
		UnitID:      unitID,
		MarketLabel: groupLabel(group),
		Collateral:  mergeAssets(group, func(r Record) []Asset { return r.Collateral }),
		Debt:        mergeAssets(group, func(r Record) []Asset { return r.Debt }),
		Health:      health,
		Records:     group,
	}
}

// groupLabel concatenates the distinct collateral symbols of the group.
func groupLabel(group []Record) string {
	var symbols []string
	seen := make(map[string]struct{})
	for _, rec := range group {
		for _, asset := range rec.Collateral {
			if _, ok := seen[asset.Symbol]; ok {
				continue
			}
			seen[asset.Symbol] = struct{}{}
			symbols = append(symbols, asset.Symbol)
		}
	}
	if len(symbols) == 0 {
		return group[0].MarketLabel
	}
	return strings.Join(symbols, "/")
}

// mergeAssets unions the asset legs across the group, summing amounts
// and values per symbol.
func mergeAssets(group []Record, pick func(Record) []Asset) []Asset {
	var order []string
	bySymbol := make(map[string]Asset)
	for _, rec := range group {
		for _, asset := range pick(rec) {
			existing, ok := bySymbol[asset.Symbol]
			if !ok {
				order = append(order, asset.Symbol)
				bySymbol[asset.Symbol] = asset
				continue
			}
			existing.Amount = existing.Amount.Add(asset.Amount)
			existing.ValueInQuote = existing.ValueInQuote.Add(asset.ValueInQuote)
			bySymbol[asset.Symbol] = existing
		}
	}
	merged := make([]Asset, 0, len(order))
	for _, symbol := range order {
		merged = append(merged, bySymbol[symbol])
	}
	return merged
}
