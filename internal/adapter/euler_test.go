package adapter

import (
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestSubAccountDerivation(t *testing.T) {
	owner := common.HexToAddress("0x1111111111111111111111111111111111111105")

	if got := subAccount(owner, 0); got != owner {
		t.Fatalf("index 0 must be the owner itself, got %s", got.Hex())
	}

	derived := subAccount(owner, 3)
	// 0x05 ^ 0x03 = 0x06
	want := common.HexToAddress("0x1111111111111111111111111111111111111106")
	if derived != want {
		t.Fatalf("sub-account 3 = %s, want %s", derived.Hex(), want.Hex())
	}

	// Derivation only touches the last byte and is its own inverse.
	if back := subAccount(derived, 3); back != owner {
		t.Fatalf("derivation is not involutive: %s", back.Hex())
	}
}

func TestMergeVaultCandidates(t *testing.T) {
	a := common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	b := common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")

	merged := mergeVaultCandidates(
		[]common.Address{a, b},
		[]string{b.Hex(), "0xcccccccccccccccccccccccccccccccccccccccc", "junk"},
	)

	if len(merged) != 3 {
		t.Fatalf("got %d candidates, want 3 (deduped, malformed dropped)", len(merged))
	}
	if merged[0] != a || merged[1] != b {
		t.Fatal("controllers must come first, in order")
	}
}

func TestBuildEulerRecordBorrowing(t *testing.T) {
	vault := common.HexToAddress("0xdddddddddddddddddddddddddddddddddddddddd")

	rec, ok := buildEulerRecord(vault, 2, wad(3), wad(2), true)
	if !ok {
		t.Fatal("expected a record for a borrowing account")
	}
	if got := rec.Health.String(); got != "1.500" {
		t.Fatalf("health = %s, want collateral/liability ratio 1.500", got)
	}
	if rec.UnitID != strings.ToLower(vault.Hex()) {
		t.Fatalf("unit id = %s", rec.UnitID)
	}
	if !strings.Contains(rec.MarketLabel, "(sub 2)") {
		t.Fatalf("label should name the sub-account, got %q", rec.MarketLabel)
	}
}

func TestBuildEulerRecordControllerWithoutDebt(t *testing.T) {
	vault := common.HexToAddress("0xdddddddddddddddddddddddddddddddddddddddd")

	rec, ok := buildEulerRecord(vault, 0, wad(3), big.NewInt(0), true)
	if !ok {
		t.Fatal("an enabled controller should be reported even without debt")
	}
	if rec.Health.Defined() {
		t.Fatal("no liability means the health factor is undefined")
	}
	if strings.Contains(rec.MarketLabel, "sub") {
		t.Fatalf("owner account label should not mention a sub-account, got %q", rec.MarketLabel)
	}
}

func TestBuildEulerRecordSkipsIdleVault(t *testing.T) {
	vault := common.HexToAddress("0xdddddddddddddddddddddddddddddddddddddddd")

	if _, ok := buildEulerRecord(vault, 0, wad(3), big.NewInt(0), false); ok {
		t.Fatal("no debt and not a controller should yield no record")
	}
	if _, ok := buildEulerRecord(vault, 0, nil, nil, false); ok {
		t.Fatal("nil values should yield no record")
	}
}
