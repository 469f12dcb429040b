package adapter

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"lending-health-alerts/internal/position"
	"lending-health-alerts/internal/ratelimit"
)

// Aave-compatible pools report one combined account state: collateral
// and debt in the base currency (8 decimals) and a single health
// factor (18 decimals) covering the whole address.
const aavePoolABIJSON = `[{"inputs":[{"internalType":"address","name":"user","type":"address"}],"name":"getUserAccountData","outputs":[{"internalType":"uint256","name":"totalCollateralBase","type":"uint256"},{"internalType":"uint256","name":"totalDebtBase","type":"uint256"},{"internalType":"uint256","name":"availableBorrowsBase","type":"uint256"},{"internalType":"uint256","name":"currentLiquidationThreshold","type":"uint256"},{"internalType":"uint256","name":"ltv","type":"uint256"},{"internalType":"uint256","name":"healthFactor","type":"uint256"}],"stateMutability":"view","type":"function"}]`

var aavePoolABI = mustParseABI(aavePoolABIJSON)

// AaveOptions parameterise the pooled-account adapter.
type AaveOptions struct {
	RPCURL      string
	PoolAddress string
	Timeout     time.Duration
}

// Aave adapts a pooled lending protocol: one call, at most one record,
// the account itself is the risk unit.
type Aave struct {
	opts   AaveOptions
	caller *evmCaller
	logger zerolog.Logger
}

// NewAave constructs the pooled-account adapter.
func NewAave(opts AaveOptions, gate *ratelimit.Gate, logger zerolog.Logger) *Aave {
	return &Aave{
		opts:   opts,
		caller: newEVMCaller(opts.RPCURL, opts.Timeout, gate),
		logger: logger.With().Str("component", "adapter_aave").Logger(),
	}
}

func (a *Aave) Protocol() position.ProtocolID { return position.ProtocolAave }

func (a *Aave) Name() string { return "Aave" }

// Discover fetches the combined account state. Debt-free accounts
// carry no liquidation risk and yield no records.
func (a *Aave) Discover(ctx context.Context, address string) ([]position.Record, error) {
	user, err := checksummed(address)
	if err != nil {
		return nil, err
	}
	if a.opts.PoolAddress == "" {
		return nil, unavailable(errors.New("pool address not configured"))
	}

	outputs, err := a.caller.Call(ctx, common.HexToAddress(a.opts.PoolAddress), aavePoolABI, "getUserAccountData", user)
	if err != nil {
		return nil, err
	}
	if len(outputs) != 6 {
		return nil, unavailable(errors.New("unexpected getUserAccountData response"))
	}

	collateralBase, okC := outputs[0].(*big.Int)
	debtBase, okD := outputs[1].(*big.Int)
	healthRaw, okH := outputs[5].(*big.Int)
	if !okC || !okD || !okH {
		return nil, unavailable(errors.New("failed to decode getUserAccountData outputs"))
	}

	rec, ok := buildAaveRecord(strings.ToLower(address), collateralBase, debtBase, healthRaw)
	if !ok {
		return nil, nil
	}
	a.logger.Debug().Str("address", address).Str("health", rec.Health.String()).Msg("pooled position discovered")
	return []position.Record{rec}, nil
}

// buildAaveRecord converts the raw account tuple into a normalized
// record. Base-currency values carry 8 decimals; the health factor is
// an 18-decimal fixed-point with max-uint meaning "no debt".
func buildAaveRecord(unitID string, collateralBase, debtBase, healthRaw *big.Int) (position.Record, bool) {
	if debtBase == nil || debtBase.Sign() == 0 {
		return position.Record{}, false
	}

	collateral := decimal.NewFromBigInt(collateralBase, -8)
	debt := decimal.NewFromBigInt(debtBase, -8)

	return position.Record{
		Protocol:    position.ProtocolAave,
		UnitID:      unitID,
		MarketLabel: "Aave",
		Collateral: []position.Asset{{
			Symbol:       "USD",
			Decimals:     8,
			Amount:       collateral,
			ValueInQuote: collateral,
		}},
		Debt: []position.Asset{{
			Symbol:       "USD",
			Decimals:     8,
			Amount:       debt,
			ValueInQuote: debt,
		}},
		Health: position.HealthFromWad(healthRaw),
	}, true
}

var _ Adapter = (*Aave)(nil)
