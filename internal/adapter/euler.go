package adapter

import (
	"context"
	"errors"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"lending-health-alerts/internal/position"
	"lending-health-alerts/internal/ratelimit"
)

const eulerEVCABIJSON = `[{"inputs":[{"internalType":"address","name":"account","type":"address"}],"name":"getControllers","outputs":[{"internalType":"address[]","name":"","type":"address[]"}],"stateMutability":"view","type":"function"}]`

const eulerVaultABIJSON = `[{"inputs":[{"internalType":"address","name":"account","type":"address"},{"internalType":"bool","name":"liquidation","type":"bool"}],"name":"accountLiquidity","outputs":[{"internalType":"uint256","name":"collateralValue","type":"uint256"},{"internalType":"uint256","name":"liabilityValue","type":"uint256"}],"stateMutability":"view","type":"function"}]`

var (
	eulerEVCABI   = mustParseABI(eulerEVCABIJSON)
	eulerVaultABI = mustParseABI(eulerVaultABIJSON)
)

const defaultSubAccounts = 10

// EulerOptions parameterise the isolated-vault adapter.
type EulerOptions struct {
	RPCURL      string
	EVCAddress  string
	KnownVaults []string
	SubAccounts int
	Timeout     time.Duration
}

// Euler adapts an isolated-vault lending protocol. Each borrow lives
// in its own vault and each wallet owns a family of sub-accounts, so
// discovery probes the controller registry and a configured vault list
// across the owner address and its first sub-accounts.
type Euler struct {
	opts   EulerOptions
	logger zerolog.Logger
	caller *evmCaller
}

func NewEuler(opts EulerOptions, gate *ratelimit.Gate, logger zerolog.Logger) *Euler {
	if opts.SubAccounts <= 0 {
		opts.SubAccounts = defaultSubAccounts
	}
	return &Euler{
		opts:   opts,
		logger: logger.With().Str("component", "adapter_euler").Logger(),
		caller: newEVMCaller(opts.RPCURL, opts.Timeout, gate),
	}
}

func (e *Euler) Protocol() position.ProtocolID { return position.ProtocolEuler }

func (e *Euler) Name() string { return "Euler" }

// Discover probes the owner and sub-accounts 1..N for vault positions.
// A vault counts when it reports a non-zero liability or is enabled as
// the account's borrow controller.
func (e *Euler) Discover(ctx context.Context, address string) ([]position.Record, error) {
	owner, err := checksummed(address)
	if err != nil {
		return nil, err
	}
	if e.opts.EVCAddress == "" && len(e.opts.KnownVaults) == 0 {
		return nil, unavailable(errors.New("neither evc address nor known vaults configured"))
	}

	var records []position.Record
	for idx := 0; idx <= e.opts.SubAccounts; idx++ {
		account := subAccount(owner, byte(idx))

		controllers := e.controllers(ctx, account)
		candidates := mergeVaultCandidates(controllers, e.opts.KnownVaults)

		for _, vault := range candidates {
			rec, ok, err := e.probeVault(ctx, vault, account, idx, containsAddress(controllers, vault))
			if err != nil {
				return nil, err
			}
			if ok {
				records = append(records, rec)
			}
		}
	}
	return records, nil
}

// subAccount derives a sub-account address the way the vault connector
// does: the owner address with its last byte XOR-ed with the index.
func subAccount(owner common.Address, index byte) common.Address {
	derived := owner
	derived[common.AddressLength-1] ^= index
	return derived
}

func (e *Euler) controllers(ctx context.Context, account common.Address) []common.Address {
	if e.opts.EVCAddress == "" {
		return nil
	}
	out, err := e.caller.Call(ctx, common.HexToAddress(e.opts.EVCAddress), eulerEVCABI, "getControllers", account)
	if err != nil || len(out) != 1 {
		if err != nil {
			e.logger.Debug().Err(err).Str("account", account.Hex()).Msg("controller query failed")
		}
		return nil
	}
	controllers, _ := out[0].([]common.Address)
	return controllers
}

func mergeVaultCandidates(controllers []common.Address, known []string) []common.Address {
	seen := make(map[common.Address]struct{}, len(controllers)+len(known))
	out := make([]common.Address, 0, len(controllers)+len(known))
	add := func(v common.Address) {
		if _, dup := seen[v]; dup {
			return
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	for _, c := range controllers {
		add(c)
	}
	for _, raw := range known {
		if common.IsHexAddress(raw) {
			add(common.HexToAddress(raw))
		}
	}
	return out
}

func containsAddress(list []common.Address, v common.Address) bool {
	for _, a := range list {
		if a == v {
			return true
		}
	}
	return false
}

// probeVault reads the account's liquidation-weighted liquidity from
// one vault. Vaults revert for accounts that never enabled them; that
// is a skip, not a source failure.
func (e *Euler) probeVault(ctx context.Context, vault, account common.Address, subIdx int, isController bool) (position.Record, bool, error) {
	out, err := e.caller.Call(ctx, vault, eulerVaultABI, "accountLiquidity", account, true)
	if err != nil {
		if !isCallRevert(err) {
			return position.Record{}, false, err
		}
		e.logger.Debug().Err(err).
			Str("vault", vault.Hex()).
			Str("account", account.Hex()).
			Msg("vault probe reverted")
		return position.Record{}, false, nil
	}
	if len(out) != 2 {
		return position.Record{}, false, nil
	}
	collateral, _ := out[0].(*big.Int)
	liability, _ := out[1].(*big.Int)

	rec, ok := buildEulerRecord(vault, subIdx, collateral, liability, isController)
	return rec, ok, nil
}

// buildEulerRecord turns one vault probe into a record. Values are in
// the vault's 18-decimal unit of account; the health factor is the
// ratio of liquidation-weighted collateral to liability, undefined
// when there is no liability.
func buildEulerRecord(vault common.Address, subIdx int, collateral, liability *big.Int, isController bool) (position.Record, bool) {
	hasDebt := liability != nil && liability.Sign() > 0
	if !hasDebt && !isController {
		return position.Record{}, false
	}

	collateralDec := decimal.NewFromBigInt(orZero(collateral), -18)
	liabilityDec := decimal.NewFromBigInt(orZero(liability), -18)

	health := position.UndefinedHealth()
	if hasDebt {
		health = position.NormalizeHealth(collateralDec.Div(liabilityDec))
	}

	unitID := strings.ToLower(vault.Hex())
	label := "Vault " + position.ShortAddress(unitID)
	if subIdx > 0 {
		label += " (sub " + strconv.Itoa(subIdx) + ")"
	}

	return position.Record{
		Protocol:    position.ProtocolEuler,
		UnitID:      unitID,
		MarketLabel: label,
		Collateral: []position.Asset{{
			Symbol:       "UoA",
			Decimals:     18,
			Amount:       collateralDec,
			ValueInQuote: collateralDec,
		}},
		Debt: []position.Asset{{
			Symbol:       "UoA",
			Decimals:     18,
			Amount:       liabilityDec,
			ValueInQuote: liabilityDec,
		}},
		Health: health,
	}, true
}

var _ Adapter = (*Euler)(nil)
