package adapter

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"lending-health-alerts/internal/position"
	"lending-health-alerts/internal/ratelimit"
)

const curvanceRegistryABIJSON = `[{"inputs":[],"name":"marketManagers","outputs":[{"internalType":"address[]","name":"","type":"address[]"}],"stateMutability":"view","type":"function"}]`

const curvanceReaderABIJSON = `[{"inputs":[{"internalType":"address","name":"account","type":"address"}],"name":"getAllDynamicState","outputs":[{"components":[{"internalType":"address","name":"cToken","type":"address"},{"internalType":"uint256","name":"collateral","type":"uint256"},{"internalType":"uint256","name":"debt","type":"uint256"},{"internalType":"uint256","name":"health","type":"uint256"},{"internalType":"uint256","name":"tokenBalance","type":"uint256"}],"internalType":"struct PositionReader.Position[]","name":"positions","type":"tuple[]"}],"stateMutability":"view","type":"function"},{"inputs":[{"internalType":"contract IMarketManager","name":"mm","type":"address"},{"internalType":"address","name":"account","type":"address"},{"internalType":"address","name":"cToken","type":"address"},{"internalType":"address","name":"borrowableCToken","type":"address"},{"internalType":"bool","name":"isDeposit","type":"bool"},{"internalType":"uint256","name":"collateralAssets","type":"uint256"},{"internalType":"bool","name":"isRepayment","type":"bool"},{"internalType":"uint256","name":"debtAssets","type":"uint256"},{"internalType":"uint256","name":"bufferTime","type":"uint256"}],"name":"getPositionHealth","outputs":[{"internalType":"uint256","name":"health","type":"uint256"},{"internalType":"bool","name":"errorCodeHit","type":"bool"}],"stateMutability":"view","type":"function"}]`

const erc20MetadataABIJSON = `[{"inputs":[],"name":"symbol","outputs":[{"internalType":"string","name":"","type":"string"}],"stateMutability":"view","type":"function"},{"inputs":[],"name":"decimals","outputs":[{"internalType":"uint8","name":"","type":"uint8"}],"stateMutability":"view","type":"function"}]`

var (
	curvanceRegistryABI = mustParseABI(curvanceRegistryABIJSON)
	curvanceReaderABI   = mustParseABI(curvanceReaderABIJSON)
	erc20MetadataABI    = mustParseABI(erc20MetadataABIJSON)
)

// curvancePosition mirrors the reader contract's position tuple.
type curvancePosition struct {
	CToken       common.Address
	Collateral   *big.Int
	Debt         *big.Int
	Health       *big.Int
	TokenBalance *big.Int
}

// CurvanceOptions parameterise the cross-margin manager adapter.
type CurvanceOptions struct {
	RPCURL          string
	ReaderAddress   string
	RegistryAddress string
	KnownManagers   []string
	Timeout         time.Duration
}

// Curvance adapts a cross-margin lending protocol: a single batched
// reader call lists every position of the account, each carrying an
// embedded health value, and a per-position getPositionHealth call
// against the owning market manager provides the authoritative one.
type Curvance struct {
	opts   CurvanceOptions
	logger zerolog.Logger
	caller *evmCaller
}

func NewCurvance(opts CurvanceOptions, gate *ratelimit.Gate, logger zerolog.Logger) *Curvance {
	return &Curvance{
		opts:   opts,
		logger: logger.With().Str("component", "adapter_curvance").Logger(),
		caller: newEVMCaller(opts.RPCURL, opts.Timeout, gate),
	}
}

func (c *Curvance) Protocol() position.ProtocolID { return position.ProtocolCurvance }

func (c *Curvance) Name() string { return "Curvance" }

// Discover lists one record per borrowing position of the address.
// Supply-only entries are skipped.
func (c *Curvance) Discover(ctx context.Context, address string) ([]position.Record, error) {
	user, err := checksummed(address)
	if err != nil {
		return nil, err
	}
	if c.opts.ReaderAddress == "" {
		return nil, unavailable(errors.New("position reader address not configured"))
	}
	reader := common.HexToAddress(c.opts.ReaderAddress)

	positions, err := c.readPositions(ctx, reader, user)
	if err != nil {
		return nil, err
	}
	if len(positions) == 0 {
		return nil, nil
	}

	managers := c.marketManagers(ctx)

	var records []position.Record
	for _, pos := range positions {
		if pos.Debt == nil || pos.Debt.Sign() == 0 {
			continue
		}

		health, unitID := c.resolvePositionHealth(ctx, reader, user, pos, managers)
		symbol, decimals := c.tokenMetadata(ctx, pos.CToken)

		records = append(records, buildCurvanceRecord(unitID, symbol, decimals, pos, health))
	}
	return records, nil
}

func (c *Curvance) readPositions(ctx context.Context, reader, user common.Address) ([]curvancePosition, error) {
	out, err := c.caller.Call(ctx, reader, curvanceReaderABI, "getAllDynamicState", user)
	if err != nil {
		return nil, err
	}
	if len(out) != 1 {
		return nil, unavailable(errors.New("unexpected reader response shape"))
	}
	positions := *abi.ConvertType(out[0], new([]curvancePosition)).(*[]curvancePosition)
	return positions, nil
}

// marketManagers queries the central registry, falling back to the
// configured static list when the registry is unreachable or empty.
func (c *Curvance) marketManagers(ctx context.Context) []common.Address {
	if c.opts.RegistryAddress != "" {
		out, err := c.caller.Call(ctx, common.HexToAddress(c.opts.RegistryAddress), curvanceRegistryABI, "marketManagers")
		if err == nil && len(out) == 1 {
			if managers, ok := out[0].([]common.Address); ok && len(managers) > 0 {
				return managers
			}
		}
		if err != nil {
			c.logger.Warn().Err(err).Msg("registry query failed; using configured manager list")
		}
	}

	managers := make([]common.Address, 0, len(c.opts.KnownManagers))
	for _, raw := range c.opts.KnownManagers {
		if common.IsHexAddress(raw) {
			managers = append(managers, common.HexToAddress(raw))
		}
	}
	return managers
}

// resolvePositionHealth asks each candidate manager for the position's
// health; the first manager that answers without an error code and
// with a usable value wins and becomes the record's unit. When none
// answers, the batched reader's embedded health is used and the unit
// falls back to the collateral token address.
func (c *Curvance) resolvePositionHealth(ctx context.Context, reader, user common.Address, pos curvancePosition, managers []common.Address) (position.HealthFactor, string) {
	var zero common.Address
	for _, mm := range managers {
		out, err := c.caller.Call(ctx, reader, curvanceReaderABI, "getPositionHealth",
			mm, user, pos.CToken, zero, false, big.NewInt(0), false, big.NewInt(0), big.NewInt(0))
		if err != nil {
			c.logger.Debug().Err(err).
				Str("manager", mm.Hex()).
				Str("ctoken", pos.CToken.Hex()).
				Msg("position health query failed")
			continue
		}
		if len(out) != 2 {
			continue
		}
		raw, _ := out[0].(*big.Int)
		errorCodeHit, _ := out[1].(bool)
		if errorCodeHit || raw == nil || raw.Sign() == 0 {
			continue
		}
		if health := position.HealthFromWad(raw); health.Defined() {
			return health, strings.ToLower(mm.Hex())
		}
	}

	return position.HealthFromWad(pos.Health), strings.ToLower(pos.CToken.Hex())
}

// tokenMetadata reads symbol/decimals off the collateral token, best
// effort. Unknown tokens degrade to "?" at 18 decimals.
func (c *Curvance) tokenMetadata(ctx context.Context, token common.Address) (string, uint8) {
	symbol, decimals := "?", uint8(18)
	if out, err := c.caller.Call(ctx, token, erc20MetadataABI, "symbol"); err == nil && len(out) == 1 {
		if s, ok := out[0].(string); ok && s != "" {
			symbol = s
		}
	}
	if out, err := c.caller.Call(ctx, token, erc20MetadataABI, "decimals"); err == nil && len(out) == 1 {
		if d, ok := out[0].(uint8); ok {
			decimals = d
		}
	}
	return symbol, decimals
}

// buildCurvanceRecord normalizes one reader position. Debt is reported
// in the protocol's 18-decimal accounting unit and the borrowed token
// is not identified by the reader.
func buildCurvanceRecord(unitID, symbol string, decimals uint8, pos curvancePosition, health position.HealthFactor) position.Record {
	label := symbol
	if label == "?" {
		label = "Market " + position.ShortAddress(strings.ToLower(pos.CToken.Hex()))
	}
	return position.Record{
		Protocol:    position.ProtocolCurvance,
		UnitID:      unitID,
		MarketLabel: label,
		Collateral: []position.Asset{{
			Symbol:   symbol,
			Decimals: decimals,
			Amount:   decimal.NewFromBigInt(orZero(pos.Collateral), -int32(decimals)),
		}},
		Debt: []position.Asset{{
			Symbol:   "?",
			Decimals: 18,
			Amount:   decimal.NewFromBigInt(orZero(pos.Debt), -18),
		}},
		Health: health,
		Raw:    pos,
	}
}

var _ Adapter = (*Curvance)(nil)
