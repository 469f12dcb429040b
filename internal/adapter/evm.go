package adapter

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"lending-health-alerts/internal/ratelimit"
)

const defaultCallTimeout = 10 * time.Second

// evmCaller wraps an RPC endpoint behind a lazily dialled ethclient
// and the source's rate gate. All adapter contract reads funnel
// through Call.
type evmCaller struct {
	rpcURL  string
	timeout time.Duration
	gate    *ratelimit.Gate

	mu     sync.Mutex
	client *ethclient.Client
}

func newEVMCaller(rpcURL string, timeout time.Duration, gate *ratelimit.Gate) *evmCaller {
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}
	return &evmCaller{rpcURL: rpcURL, timeout: timeout, gate: gate}
}

// Call executes an eth_call against the contract and unpacks the
// outputs. Transport failures come back wrapped as ErrSourceUnavailable.
func (c *evmCaller) Call(ctx context.Context, contract common.Address, contractABI abi.ABI, method string, args ...any) ([]any, error) {
	if c.rpcURL == "" {
		return nil, unavailable(errors.New("rpc url not configured"))
	}

	payload, err := contractABI.Pack(method, args...)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var raw []byte
	err = c.gate.Do(ctx, func(ctx context.Context) error {
		client, dialErr := c.getClient(ctx)
		if dialErr != nil {
			return unavailable(dialErr)
		}
		res, callErr := client.CallContract(ctx, ethereum.CallMsg{To: &contract, Data: payload}, nil)
		if callErr != nil {
			return unavailable(callErr)
		}
		raw = res
		return nil
	})
	if err != nil {
		return nil, err
	}

	outputs, err := contractABI.Unpack(method, raw)
	if err != nil {
		return nil, unavailable(err)
	}
	return outputs, nil
}

func (c *evmCaller) getClient(ctx context.Context) (*ethclient.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil {
		return c.client, nil
	}
	client, err := ethclient.DialContext(ctx, c.rpcURL)
	if err != nil {
		return nil, err
	}
	c.client = client
	return client, nil
}

// isCallRevert reports whether a call error came from the contract
// reverting rather than from transport. Node implementations differ in
// wrapping, so this is a message match.
func isCallRevert(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "execution reverted")
}

// mustParseABI parses a compile-time ABI literal.
func mustParseABI(jsonABI string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(jsonABI))
	if err != nil {
		panic("failed to parse ABI: " + err.Error())
	}
	return parsed
}

// checksummed validates and normalizes a user-supplied hex address.
func checksummed(address string) (common.Address, error) {
	if !common.IsHexAddress(address) {
		return common.Address{}, rejected("invalid address %q", address)
	}
	return common.HexToAddress(address), nil
}
