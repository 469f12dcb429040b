package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"lending-health-alerts/internal/position"
	"lending-health-alerts/internal/ratelimit"
)

const morphoBlueABIJSON = `[{"inputs":[{"internalType":"bytes32","name":"id","type":"bytes32"}],"name":"idToMarketParams","outputs":[{"internalType":"address","name":"loanToken","type":"address"},{"internalType":"address","name":"collateralToken","type":"address"},{"internalType":"address","name":"oracle","type":"address"},{"internalType":"address","name":"irm","type":"address"},{"internalType":"uint256","name":"lltv","type":"uint256"}],"stateMutability":"view","type":"function"},{"inputs":[{"internalType":"bytes32","name":"id","type":"bytes32"}],"name":"market","outputs":[{"internalType":"uint128","name":"totalSupplyAssets","type":"uint128"},{"internalType":"uint128","name":"totalSupplyShares","type":"uint128"},{"internalType":"uint128","name":"totalBorrowAssets","type":"uint128"},{"internalType":"uint128","name":"totalBorrowShares","type":"uint128"},{"internalType":"uint128","name":"lastUpdate","type":"uint128"},{"internalType":"uint128","name":"fee","type":"uint128"}],"stateMutability":"view","type":"function"},{"inputs":[{"internalType":"bytes32","name":"id","type":"bytes32"},{"internalType":"address","name":"user","type":"address"}],"name":"position","outputs":[{"internalType":"uint256","name":"supplyShares","type":"uint256"},{"internalType":"uint128","name":"borrowShares","type":"uint128"},{"internalType":"uint128","name":"collateral","type":"uint128"}],"stateMutability":"view","type":"function"}]`

var morphoBlueABI = mustParseABI(morphoBlueABIJSON)

const morphoPositionsQuery = `query UserMarketPositions($address: String!, $chainId: Int!) {
  userByAddress(chainId: $chainId, address: $address) {
    marketPositions {
      market {
        uniqueKey
        lltv
        loanAsset { symbol decimals }
        collateralAsset { symbol decimals }
      }
      healthFactor
      state {
        collateral
        collateralUsd
        borrowAssets
        borrowAssetsUsd
      }
    }
  }
}`

// MorphoOptions parameterise the peer-to-peer market adapter.
type MorphoOptions struct {
	APIURL       string
	RPCURL       string
	CoreAddress  string
	ChainID      int64
	KnownMarkets []string
	Timeout      time.Duration
	UserAgent    string
}

// Morpho adapts an isolated peer-to-peer market protocol. Markets the
// address participates in come from the protocol's index API; when the
// index is unavailable or incomplete the adapter falls back to direct
// core-contract reads against the configured market ids.
type Morpho struct {
	opts    MorphoOptions
	logger  zerolog.Logger
	client  *http.Client
	apiGate *ratelimit.Gate
	caller  *evmCaller
}

// NewMorpho constructs the peer-to-peer adapter. apiGate bounds calls
// to the index API, rpcGate calls to the chain endpoint.
func NewMorpho(opts MorphoOptions, apiGate, rpcGate *ratelimit.Gate, logger zerolog.Logger) *Morpho {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}
	return &Morpho{
		opts:    opts,
		logger:  logger.With().Str("component", "adapter_morpho").Logger(),
		client:  &http.Client{Timeout: timeout},
		apiGate: apiGate,
		caller:  newEVMCaller(opts.RPCURL, opts.Timeout, rpcGate),
	}
}

func (m *Morpho) Protocol() position.ProtocolID { return position.ProtocolMorpho }

func (m *Morpho) Name() string { return "Morpho" }

// Discover lists one record per market the address borrows in.
func (m *Morpho) Discover(ctx context.Context, address string) ([]position.Record, error) {
	user, err := checksummed(address)
	if err != nil {
		return nil, err
	}

	records, indexErr := m.queryIndex(ctx, strings.ToLower(address))
	if indexErr == nil && (len(records) > 0 || len(m.opts.KnownMarkets) == 0) {
		return records, nil
	}
	if indexErr != nil {
		m.logger.Warn().Err(indexErr).Str("address", address).Msg("index query failed; falling back to direct market reads")
	}

	fallback, fallbackErr := m.queryMarketsDirect(ctx, user)
	if fallbackErr != nil {
		if indexErr != nil {
			return nil, unavailable(fmt.Errorf("index: %v; direct: %v", indexErr, fallbackErr))
		}
		return nil, fallbackErr
	}
	return fallback, nil
}

type morphoIndexResponse struct {
	Data *struct {
		UserByAddress *struct {
			MarketPositions []morphoMarketPosition `json:"marketPositions"`
		} `json:"userByAddress"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

type morphoMarketPosition struct {
	Market struct {
		UniqueKey string `json:"uniqueKey"`
		LLTV      string `json:"lltv"`
		LoanAsset struct {
			Symbol   string `json:"symbol"`
			Decimals uint8  `json:"decimals"`
		} `json:"loanAsset"`
		CollateralAsset struct {
			Symbol   string `json:"symbol"`
			Decimals uint8  `json:"decimals"`
		} `json:"collateralAsset"`
	} `json:"market"`
	HealthFactor *json.Number `json:"healthFactor"`
	State        struct {
		Collateral      string       `json:"collateral"`
		CollateralUSD   *json.Number `json:"collateralUsd"`
		BorrowAssets    string       `json:"borrowAssets"`
		BorrowAssetsUSD *json.Number `json:"borrowAssetsUsd"`
	} `json:"state"`
}

func (m *Morpho) queryIndex(ctx context.Context, address string) ([]position.Record, error) {
	if m.opts.APIURL == "" {
		return nil, errors.New("index api url not configured")
	}

	body, err := json.Marshal(map[string]any{
		"query": morphoPositionsQuery,
		"variables": map[string]any{
			"address": address,
			"chainId": m.opts.ChainID,
		},
	})
	if err != nil {
		return nil, err
	}

	var payload []byte
	err = m.apiGate.Do(ctx, func(ctx context.Context) error {
		req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, m.opts.APIURL, bytes.NewReader(body))
		if reqErr != nil {
			return reqErr
		}
		req.Header.Set("Content-Type", "application/json")
		if ua := strings.TrimSpace(m.opts.UserAgent); ua != "" {
			req.Header.Set("User-Agent", ua)
		}

		resp, doErr := m.client.Do(req)
		if doErr != nil {
			return doErr
		}
		defer resp.Body.Close()

		raw, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return readErr
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("index api status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
		}
		payload = raw
		return nil
	})
	if err != nil {
		return nil, err
	}

	var parsed morphoIndexResponse
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return nil, err
	}
	if len(parsed.Errors) > 0 {
		return nil, fmt.Errorf("index api error: %s", parsed.Errors[0].Message)
	}
	if parsed.Data == nil || parsed.Data.UserByAddress == nil {
		return nil, nil
	}

	records := make([]position.Record, 0, len(parsed.Data.UserByAddress.MarketPositions))
	for _, pos := range parsed.Data.UserByAddress.MarketPositions {
		rec, ok := buildMorphoIndexRecord(pos)
		if !ok {
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// buildMorphoIndexRecord normalizes one index-API market position.
// Supply-only entries (no borrow) are skipped.
func buildMorphoIndexRecord(pos morphoMarketPosition) (position.Record, bool) {
	marketID := strings.ToLower(pos.Market.UniqueKey)
	if marketID == "" {
		return position.Record{}, false
	}

	debtValue := numberToDecimal(pos.State.BorrowAssetsUSD)
	if debtValue.IsZero() {
		return position.Record{}, false
	}

	health := position.UndefinedHealth()
	if pos.HealthFactor != nil {
		if hf, err := decimal.NewFromString(pos.HealthFactor.String()); err == nil {
			health = position.NormalizeHealth(hf)
		}
	}

	collateralAmount := scaleRawAmount(pos.State.Collateral, pos.Market.CollateralAsset.Decimals)
	debtAmount := scaleRawAmount(pos.State.BorrowAssets, pos.Market.LoanAsset.Decimals)

	rec := position.Record{
		Protocol:    position.ProtocolMorpho,
		UnitID:      marketID,
		MarketLabel: pos.Market.CollateralAsset.Symbol + "/" + pos.Market.LoanAsset.Symbol,
		Collateral: []position.Asset{{
			Symbol:       pos.Market.CollateralAsset.Symbol,
			Decimals:     pos.Market.CollateralAsset.Decimals,
			Amount:       collateralAmount,
			ValueInQuote: numberToDecimal(pos.State.CollateralUSD),
		}},
		Debt: []position.Asset{{
			Symbol:       pos.Market.LoanAsset.Symbol,
			Decimals:     pos.Market.LoanAsset.Decimals,
			Amount:       debtAmount,
			ValueInQuote: debtValue,
		}},
		Health: health,
		Raw:    pos,
	}

	if lltv, err := decimal.NewFromString(pos.Market.LLTV); err == nil {
		if price, ok := liquidationPrice(debtAmount, collateralAmount, lltv.Shift(-18)); ok {
			rec.LiquidationPrice = &price
		}
	}
	return rec, true
}

// liquidationPrice derives the collateral price (in loan units) at
// which the position reaches the liquidation loan-to-value bound:
// debt / (collateralAmount * lltv). Not fetched from the source.
func liquidationPrice(debtAmount, collateralAmount, lltv decimal.Decimal) (decimal.Decimal, bool) {
	if !collateralAmount.IsPositive() || !lltv.IsPositive() || !debtAmount.IsPositive() {
		return decimal.Decimal{}, false
	}
	return debtAmount.Div(collateralAmount.Mul(lltv)), true
}

// queryMarketsDirect reads the configured market ids straight from the
// core contract: params, market totals, then the user position, in
// that order per market.
func (m *Morpho) queryMarketsDirect(ctx context.Context, user common.Address) ([]position.Record, error) {
	if m.opts.CoreAddress == "" {
		return nil, unavailable(errors.New("core contract address not configured"))
	}
	core := common.HexToAddress(m.opts.CoreAddress)

	var records []position.Record
	for _, marketHex := range m.opts.KnownMarkets {
		trimmed := strings.TrimPrefix(strings.ToLower(marketHex), "0x")
		if len(trimmed) != 64 {
			m.logger.Warn().Str("market", marketHex).Msg("skipping malformed market id")
			continue
		}
		marketID := common.HexToHash(marketHex)

		rec, ok, err := m.readMarket(ctx, core, marketID, user)
		if err != nil {
			return nil, err
		}
		if ok {
			records = append(records, rec)
		}
	}
	return records, nil
}

func (m *Morpho) readMarket(ctx context.Context, core common.Address, marketID common.Hash, user common.Address) (position.Record, bool, error) {
	params, err := m.caller.Call(ctx, core, morphoBlueABI, "idToMarketParams", marketID)
	if err != nil {
		return position.Record{}, false, err
	}
	market, err := m.caller.Call(ctx, core, morphoBlueABI, "market", marketID)
	if err != nil {
		return position.Record{}, false, err
	}
	pos, err := m.caller.Call(ctx, core, morphoBlueABI, "position", marketID, user)
	if err != nil {
		return position.Record{}, false, err
	}
	if len(params) != 5 || len(market) != 6 || len(pos) != 3 {
		return position.Record{}, false, unavailable(errors.New("unexpected core contract response shape"))
	}

	lltv, _ := params[4].(*big.Int)
	totalSupplyAssets, _ := market[0].(*big.Int)
	totalSupplyShares, _ := market[1].(*big.Int)
	totalBorrowAssets, _ := market[2].(*big.Int)
	totalBorrowShares, _ := market[3].(*big.Int)
	supplyShares, _ := pos[0].(*big.Int)
	borrowShares, _ := pos[1].(*big.Int)
	collateral, _ := pos[2].(*big.Int)

	rec, ok := buildMorphoDirectRecord(strings.ToLower(marketID.Hex()), lltv,
		totalSupplyAssets, totalSupplyShares, totalBorrowAssets, totalBorrowShares,
		supplyShares, borrowShares, collateral)
	return rec, ok, nil
}

// buildMorphoDirectRecord reconstructs a market position from raw core
// state. Shares convert to assets via the market totals; the health
// factor follows the protocol formula (collateral value * lltv) / debt.
func buildMorphoDirectRecord(marketID string, lltv,
	totalSupplyAssets, totalSupplyShares, totalBorrowAssets, totalBorrowShares,
	supplyShares, borrowShares, collateral *big.Int) (position.Record, bool) {

	if borrowShares == nil || borrowShares.Sign() == 0 {
		return position.Record{}, false
	}

	borrowAssets := sharesToAssets(borrowShares, totalBorrowAssets, totalBorrowShares)
	if borrowAssets.Sign() == 0 {
		return position.Record{}, false
	}
	supplyAssets := sharesToAssets(supplyShares, totalSupplyAssets, totalSupplyShares)

	collateralValue := new(big.Int).Add(supplyAssets, orZero(collateral))
	lltvDec := decimal.NewFromBigInt(orZero(lltv), -18)

	collateralDec := decimal.NewFromBigInt(collateralValue, -18)
	debtDec := decimal.NewFromBigInt(borrowAssets, -18)

	health := position.UndefinedHealth()
	if debtDec.IsPositive() && lltvDec.IsPositive() {
		health = position.NormalizeHealth(collateralDec.Mul(lltvDec).Div(debtDec))
	}

	rec := position.Record{
		Protocol:    position.ProtocolMorpho,
		UnitID:      marketID,
		MarketLabel: "Market " + position.ShortAddress(marketID),
		Collateral: []position.Asset{{
			Symbol:   "?",
			Decimals: 18,
			Amount:   collateralDec,
		}},
		Debt: []position.Asset{{
			Symbol:   "?",
			Decimals: 18,
			Amount:   debtDec,
		}},
		Health: health,
	}
	if price, ok := liquidationPrice(debtDec, collateralDec, lltvDec); ok {
		rec.LiquidationPrice = &price
	}
	return rec, true
}

func sharesToAssets(shares, totalAssets, totalShares *big.Int) *big.Int {
	if shares == nil || totalAssets == nil || totalShares == nil || totalShares.Sign() == 0 {
		return big.NewInt(0)
	}
	out := new(big.Int).Mul(shares, totalAssets)
	return out.Div(out, totalShares)
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return v
}

func numberToDecimal(n *json.Number) decimal.Decimal {
	if n == nil {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(n.String())
	if err != nil {
		return decimal.Zero
	}
	return d
}

// scaleRawAmount converts a raw integer token amount string into a
// human amount using the token's decimals.
func scaleRawAmount(raw string, decimals uint8) decimal.Decimal {
	if raw == "" {
		return decimal.Zero
	}
	v, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(v, -int32(decimals))
}

var _ Adapter = (*Morpho)(nil)
