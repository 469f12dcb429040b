package position

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// Protocols report max-uint256 (or other absurdly large markers) for
// closed or debt-free positions. Anything above this bound is treated
// as "no meaningful health factor" rather than a number.
var sentinelCeiling = decimal.NewFromInt(10_000_000_000)

// HealthFactor is either a finite non-negative decimal or explicitly
// undefined. Raw sentinel/overflow values from a source must be
// normalized through NormalizeHealth and never escape as numbers.
type HealthFactor struct {
	value   decimal.Decimal
	defined bool
}

// UndefinedHealth returns the undefined sentinel.
func UndefinedHealth() HealthFactor {
	return HealthFactor{}
}

// NormalizeHealth maps a raw health value into the normalized domain:
// negative values and sentinel markers become undefined. Idempotent on
// repeated application.
func NormalizeHealth(raw decimal.Decimal) HealthFactor {
	if raw.IsNegative() || raw.GreaterThan(sentinelCeiling) {
		return UndefinedHealth()
	}
	return HealthFactor{value: raw, defined: true}
}

// HealthFromWad normalizes an 18-decimal fixed-point on-chain value.
// nil is undefined.
func HealthFromWad(raw *big.Int) HealthFactor {
	if raw == nil {
		return UndefinedHealth()
	}
	return NormalizeHealth(decimal.NewFromBigInt(raw, -18))
}

// Defined reports whether the health factor carries a numeric value.
func (h HealthFactor) Defined() bool {
	return h.defined
}

// Value returns the numeric health factor; zero value when undefined.
func (h HealthFactor) Value() decimal.Decimal {
	return h.value
}

// LessThan reports whether the health factor is defined and strictly
// below the given threshold. Undefined never compares below anything.
func (h HealthFactor) LessThan(threshold decimal.Decimal) bool {
	return h.defined && h.value.LessThan(threshold)
}

func (h HealthFactor) String() string {
	if !h.defined {
		return "undefined"
	}
	return h.value.StringFixed(3)
}
