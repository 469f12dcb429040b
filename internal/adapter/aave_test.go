package adapter

import (
	"math/big"
	"testing"
)

func wad(f float64) *big.Int {
	scaled := new(big.Float).Mul(big.NewFloat(f), big.NewFloat(1e18))
	out, _ := scaled.Int(nil)
	return out
}

func TestBuildAaveRecordSkipsDebtFree(t *testing.T) {
	if _, ok := buildAaveRecord("0xuser", big.NewInt(5_000_00000000), big.NewInt(0), wad(1.5)); ok {
		t.Fatal("debt-free account should yield no record")
	}
	if _, ok := buildAaveRecord("0xuser", big.NewInt(5_000_00000000), nil, wad(1.5)); ok {
		t.Fatal("nil debt should yield no record")
	}
}

func TestBuildAaveRecordScalesBaseValues(t *testing.T) {
	// Base-currency values carry 8 decimals.
	rec, ok := buildAaveRecord("0xuser", big.NewInt(12345678900), big.NewInt(100000000), wad(1.5))
	if !ok {
		t.Fatal("expected a record for a borrowing account")
	}

	if got := rec.Collateral[0].Amount.String(); got != "123.456789" {
		t.Fatalf("collateral = %s, want 123.456789", got)
	}
	if got := rec.Debt[0].Amount.String(); got != "1" {
		t.Fatalf("debt = %s, want 1", got)
	}
	if got := rec.Health.String(); got != "1.500" {
		t.Fatalf("health = %s, want 1.500", got)
	}
	if rec.UnitID != "0xuser" {
		t.Fatalf("unit id = %s", rec.UnitID)
	}
}

func TestBuildAaveRecordSentinelHealth(t *testing.T) {
	maxUint := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	rec, ok := buildAaveRecord("0xuser", big.NewInt(100000000), big.NewInt(100000000), maxUint)
	if !ok {
		t.Fatal("expected a record")
	}
	if rec.Health.Defined() {
		t.Fatal("max-uint health factor must normalize to undefined")
	}
}
