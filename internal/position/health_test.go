package position

import (
	"math/big"
	"testing"

	"github.com/shopspring/decimal"
)

func TestNormalizeHealthFiniteValues(t *testing.T) {
	cases := []struct {
		name string
		in   decimal.Decimal
		want string
	}{
		{"healthy", decimal.NewFromFloat(1.51), "1.510"},
		{"liquidatable", decimal.NewFromFloat(0.97), "0.970"},
		{"zero", decimal.Zero, "0.000"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := NormalizeHealth(tc.in)
			if !h.Defined() {
				t.Fatalf("%s should be defined", tc.in)
			}
			if h.String() != tc.want {
				t.Fatalf("got %s, want %s", h.String(), tc.want)
			}
		})
	}
}

func TestNormalizeHealthSentinels(t *testing.T) {
	cases := []struct {
		name string
		in   decimal.Decimal
	}{
		{"negative", decimal.NewFromInt(-1)},
		{"above ceiling", decimal.NewFromFloat(1.1e10)},
		{"max uint marker", decimal.NewFromBigInt(new(big.Int).Lsh(big.NewInt(1), 255), -18)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if NormalizeHealth(tc.in).Defined() {
				t.Fatalf("%s should normalize to undefined", tc.in)
			}
		})
	}
}

func TestNormalizeHealthIdempotent(t *testing.T) {
	first := NormalizeHealth(decimal.NewFromFloat(1.2345))
	second := NormalizeHealth(first.Value())
	if !second.Defined() || !second.Value().Equal(first.Value()) {
		t.Fatalf("normalizing twice changed the value: %s vs %s", first, second)
	}
}

func TestHealthFromWad(t *testing.T) {
	wad, _ := new(big.Int).SetString("1510000000000000000", 10)
	h := HealthFromWad(wad)
	if !h.Defined() || h.String() != "1.510" {
		t.Fatalf("1.51e18 should decode to 1.510, got %s", h)
	}

	if HealthFromWad(nil).Defined() {
		t.Fatal("nil wad should be undefined")
	}

	maxUint := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	if HealthFromWad(maxUint).Defined() {
		t.Fatal("max-uint256 should be undefined")
	}
}

func TestHealthLessThan(t *testing.T) {
	threshold := decimal.NewFromFloat(1.5)

	if !NormalizeHealth(decimal.NewFromFloat(1.4)).LessThan(threshold) {
		t.Fatal("1.4 should be below 1.5")
	}
	if NormalizeHealth(decimal.NewFromFloat(1.5)).LessThan(threshold) {
		t.Fatal("equal should not count as below")
	}
	if UndefinedHealth().LessThan(threshold) {
		t.Fatal("undefined never compares below a threshold")
	}
}
