package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"lending-health-alerts/internal/ratelimit"
)

func indexPosition(marketKey, healthFactor, borrowUSD string) morphoMarketPosition {
	var pos morphoMarketPosition
	pos.Market.UniqueKey = marketKey
	pos.Market.LLTV = "770000000000000000" // 0.77
	pos.Market.LoanAsset.Symbol = "USDC"
	pos.Market.LoanAsset.Decimals = 6
	pos.Market.CollateralAsset.Symbol = "WMON"
	pos.Market.CollateralAsset.Decimals = 18
	pos.State.Collateral = "2000000000000000000" // 2 WMON
	pos.State.BorrowAssets = "1000000000"        // 1000 USDC
	if healthFactor != "" {
		hf := json.Number(healthFactor)
		pos.HealthFactor = &hf
	}
	if borrowUSD != "" {
		usd := json.Number(borrowUSD)
		pos.State.BorrowAssetsUSD = &usd
	}
	return pos
}

func TestBuildMorphoIndexRecord(t *testing.T) {
	rec, ok := buildMorphoIndexRecord(indexPosition("0xABCDEF", "1.25", "1000.5"))
	if !ok {
		t.Fatal("expected a record for a borrowing position")
	}

	if rec.UnitID != "0xabcdef" {
		t.Fatalf("unit id = %s, want lowercased market key", rec.UnitID)
	}
	if rec.MarketLabel != "WMON/USDC" {
		t.Fatalf("label = %s", rec.MarketLabel)
	}
	if got := rec.Health.String(); got != "1.250" {
		t.Fatalf("health = %s, want 1.250", got)
	}
	if got := rec.Collateral[0].Amount.String(); got != "2" {
		t.Fatalf("collateral amount = %s, want 2", got)
	}
	if got := rec.Debt[0].Amount.String(); got != "1000" {
		t.Fatalf("debt amount = %s, want 1000", got)
	}

	// 1000 / (2 * 0.77) = 649.35...
	if rec.LiquidationPrice == nil {
		t.Fatal("expected a derived liquidation price")
	}
	if got := rec.LiquidationPrice.StringFixed(2); got != "649.35" {
		t.Fatalf("liquidation price = %s, want 649.35", got)
	}
}

func TestBuildMorphoIndexRecordSkipsSupplyOnly(t *testing.T) {
	if _, ok := buildMorphoIndexRecord(indexPosition("0xabc", "1.25", "0")); ok {
		t.Fatal("zero borrow value should be skipped")
	}
	if _, ok := buildMorphoIndexRecord(indexPosition("0xabc", "1.25", "")); ok {
		t.Fatal("missing borrow value should be skipped")
	}
}

func TestBuildMorphoIndexRecordUndefinedHealth(t *testing.T) {
	rec, ok := buildMorphoIndexRecord(indexPosition("0xabc", "", "500"))
	if !ok {
		t.Fatal("expected a record")
	}
	if rec.Health.Defined() {
		t.Fatal("missing index health factor must stay undefined")
	}
}

func TestBuildMorphoDirectRecord(t *testing.T) {
	lltv := wad(0.9)
	totalBorrowAssets := wad(100)
	totalBorrowShares := wad(200)
	borrowShares := wad(20) // converts to 10 assets

	rec, ok := buildMorphoDirectRecord("0xmarket", lltv,
		wad(0), wad(0), totalBorrowAssets, totalBorrowShares,
		big.NewInt(0), borrowShares, wad(20))
	if !ok {
		t.Fatal("expected a record for a borrowing position")
	}

	if got := rec.Debt[0].Amount.String(); got != "10" {
		t.Fatalf("borrow assets = %s, want 10 (shares converted via totals)", got)
	}
	// (0 supply + 20 collateral) * 0.9 / 10 debt = 1.8
	if got := rec.Health.String(); got != "1.800" {
		t.Fatalf("health = %s, want 1.800", got)
	}
	if rec.LiquidationPrice == nil {
		t.Fatal("expected a derived liquidation price")
	}
}

func TestBuildMorphoDirectRecordSkipsNonBorrowers(t *testing.T) {
	if _, ok := buildMorphoDirectRecord("0xmarket", wad(0.9),
		wad(0), wad(0), wad(100), wad(200),
		big.NewInt(0), big.NewInt(0), wad(20)); ok {
		t.Fatal("zero borrow shares should be skipped")
	}
}

func TestLiquidationPriceGuards(t *testing.T) {
	if _, ok := liquidationPrice(decimal.NewFromInt(10), decimal.Zero, decimal.NewFromFloat(0.9)); ok {
		t.Fatal("zero collateral must not produce a price")
	}
	if _, ok := liquidationPrice(decimal.Zero, decimal.NewFromInt(2), decimal.NewFromFloat(0.9)); ok {
		t.Fatal("zero debt must not produce a price")
	}
}

func TestMorphoDiscoverViaIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Variables struct {
				Address string `json:"address"`
				ChainID int    `json:"chainId"`
			} `json:"variables"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Variables.ChainID != 143 {
			t.Errorf("chainId = %d, want 143", req.Variables.ChainID)
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":{"userByAddress":{"marketPositions":[{
			"market":{"uniqueKey":"0xm1","lltv":"770000000000000000",
				"loanAsset":{"symbol":"USDC","decimals":6},
				"collateralAsset":{"symbol":"WMON","decimals":18}},
			"healthFactor":1.42,
			"state":{"collateral":"1000000000000000000","collateralUsd":150.0,
				"borrowAssets":"50000000","borrowAssetsUsd":50.0}
		}]}}}`))
	}))
	defer srv.Close()

	m := NewMorpho(MorphoOptions{APIURL: srv.URL, ChainID: 143},
		ratelimit.NewGate("query-api", 2), ratelimit.NewGate("rpc", 2), zerolog.Nop())

	records, err := m.Discover(context.Background(), "0x1111111111111111111111111111111111111111")
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}
	if got := records[0].Health.String(); got != "1.420" {
		t.Fatalf("health = %s, want 1.420", got)
	}
}

func TestMorphoDiscoverIndexErrorNoFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "maintenance", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	// No core contract configured, so a failing index is terminal for
	// this cycle.
	m := NewMorpho(MorphoOptions{APIURL: srv.URL, ChainID: 143},
		ratelimit.NewGate("query-api", 2), ratelimit.NewGate("rpc", 2), zerolog.Nop())

	_, err := m.Discover(context.Background(), "0x1111111111111111111111111111111111111111")
	if !errors.Is(err, ErrSourceUnavailable) {
		t.Fatalf("err = %v, want ErrSourceUnavailable", err)
	}
}

func TestMorphoDiscoverRejectsBadAddress(t *testing.T) {
	m := NewMorpho(MorphoOptions{APIURL: "http://localhost:0", ChainID: 143},
		ratelimit.NewGate("query-api", 2), ratelimit.NewGate("rpc", 2), zerolog.Nop())

	_, err := m.Discover(context.Background(), "not-an-address")
	if !errors.Is(err, ErrSourceRejected) {
		t.Fatalf("err = %v, want ErrSourceRejected", err)
	}
}
