package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/holiman/uint256"
	"golang.org/x/time/rate"

	"railscan/engine"
)

const erc20ABIJSON = `[
  {"type":"function","name":"name","stateMutability":"view","inputs":[],"outputs":[{"type":"string"}]},
  {"type":"function","name":"symbol","stateMutability":"view","inputs":[],"outputs":[{"type":"string"}]},
  {"type":"function","name":"decimals","stateMutability":"view","inputs":[],"outputs":[{"type":"uint8"}]}
]`

const paymentsViewABIJSON = `[
  {"type":"function","name":"NETWORK_FEE","stateMutability":"view","inputs":[],"outputs":[{"type":"uint256"}]}
]`

var (
	erc20ABI        abi.ABI
	paymentsViewABI abi.ABI
)

func init() {
	var err error
	if erc20ABI, err = abi.JSON(strings.NewReader(erc20ABIJSON)); err != nil {
		panic(fmt.Sprintf("chain: parse erc20 ABI: %v", err))
	}
	if paymentsViewABI, err = abi.JSON(strings.NewReader(paymentsViewABIJSON)); err != nil {
		panic(fmt.Sprintf("chain: parse payments view ABI: %v", err))
	}
}

// Client wraps an EVM RPC endpoint with the two surfaces the indexer needs:
// best-effort read-calls for the engine and log fetching for the ingest
// loop. Every call is rate limited and bounded by a per-call timeout so a
// degraded endpoint slows the stream down instead of stalling it.
type Client struct {
	eth      *ethclient.Client
	payments common.Address
	limiter  *rate.Limiter
	timeout  time.Duration

	mu         sync.Mutex
	metadata   map[common.Address]engine.TokenMetadata
	networkFee *uint256.Int
}

// Options tunes the client. Zero values fall back to sane defaults.
type Options struct {
	CallTimeout   time.Duration
	CallsPerSec   float64
	MaxBurstCalls int
}

// Dial connects to an EVM RPC endpoint for the given payments contract.
func Dial(endpoint string, payments common.Address, opts Options) (*Client, error) {
	trimmed := strings.TrimSpace(endpoint)
	if trimmed == "" {
		return nil, fmt.Errorf("chain: rpc endpoint required")
	}
	eth, err := ethclient.Dial(trimmed)
	if err != nil {
		return nil, fmt.Errorf("chain: dial %s: %w", endpoint, err)
	}
	timeout := opts.CallTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	callsPerSec := opts.CallsPerSec
	if callsPerSec <= 0 {
		callsPerSec = 20
	}
	burst := opts.MaxBurstCalls
	if burst <= 0 {
		burst = 10
	}
	return &Client{
		eth:      eth,
		payments: payments,
		limiter:  rate.NewLimiter(rate.Limit(callsPerSec), burst),
		timeout:  timeout,
		metadata: make(map[common.Address]engine.TokenMetadata),
	}, nil
}

// Close releases the underlying RPC connection.
func (c *Client) Close() {
	c.eth.Close()
}

func (c *Client) call(ctx context.Context, to common.Address, parsed abi.ABI, method string, out ...interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	input, err := parsed.Pack(method)
	if err != nil {
		return err
	}
	ret, err := c.eth.CallContract(callCtx, ethereum.CallMsg{To: &to, Data: input}, nil)
	if err != nil {
		return err
	}
	results, err := parsed.Unpack(method, ret)
	if err != nil {
		return err
	}
	if len(results) != len(out) {
		return fmt.Errorf("chain: %s returned %d values, want %d", method, len(results), len(out))
	}
	for i, v := range results {
		switch dst := out[i].(type) {
		case *string:
			s, ok := v.(string)
			if !ok {
				return fmt.Errorf("chain: %s result %d is not a string", method, i)
			}
			*dst = s
		case *uint8:
			d, ok := v.(uint8)
			if !ok {
				return fmt.Errorf("chain: %s result %d is not a uint8", method, i)
			}
			*dst = d
		case **big.Int:
			b, ok := v.(*big.Int)
			if !ok {
				return fmt.Errorf("chain: %s result %d is not a big int", method, i)
			}
			*dst = b
		default:
			return fmt.Errorf("chain: unsupported output type for %s", method)
		}
	}
	return nil
}

// TokenMetadata reads name/symbol/decimals from an ERC-20 contract. Results
// are cached per token; token metadata is immutable for our purposes.
func (c *Client) TokenMetadata(ctx context.Context, token common.Address) (engine.TokenMetadata, error) {
	c.mu.Lock()
	if md, ok := c.metadata[token]; ok {
		c.mu.Unlock()
		return md, nil
	}
	c.mu.Unlock()

	var md engine.TokenMetadata
	if err := c.call(ctx, token, erc20ABI, "name", &md.Name); err != nil {
		return engine.TokenMetadata{}, fmt.Errorf("chain: token name: %w", err)
	}
	if err := c.call(ctx, token, erc20ABI, "symbol", &md.Symbol); err != nil {
		return engine.TokenMetadata{}, fmt.Errorf("chain: token symbol: %w", err)
	}
	if err := c.call(ctx, token, erc20ABI, "decimals", &md.Decimals); err != nil {
		return engine.TokenMetadata{}, fmt.Errorf("chain: token decimals: %w", err)
	}

	c.mu.Lock()
	c.metadata[token] = md
	c.mu.Unlock()
	return md, nil
}

// NetworkFee reads the payments contract's fee constant. The first
// successful read is cached; the constant cannot change without a contract
// upgrade.
func (c *Client) NetworkFee(ctx context.Context) (*uint256.Int, error) {
	c.mu.Lock()
	if c.networkFee != nil {
		fee := new(uint256.Int).Set(c.networkFee)
		c.mu.Unlock()
		return fee, nil
	}
	c.mu.Unlock()

	var raw *big.Int
	if err := c.call(ctx, c.payments, paymentsViewABI, "NETWORK_FEE", &raw); err != nil {
		return nil, fmt.Errorf("chain: network fee: %w", err)
	}
	fee, overflow := uint256.FromBig(raw)
	if overflow {
		return nil, fmt.Errorf("chain: network fee overflows 256 bits")
	}

	c.mu.Lock()
	c.networkFee = new(uint256.Int).Set(fee)
	c.mu.Unlock()
	return fee, nil
}

// HeadBlock returns the latest chain head number.
func (c *Client) HeadBlock(ctx context.Context) (uint64, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, err
	}
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.eth.BlockNumber(callCtx)
}

// FilterLogs fetches the payments contract's logs for an inclusive block
// range.
func (c *Client) FilterLogs(ctx context.Context, from, to uint64) ([]gethtypes.Log, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.eth.FilterLogs(callCtx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{c.payments},
	})
}

// BlockTimestamp resolves the timestamp of a block header.
func (c *Client) BlockTimestamp(ctx context.Context, block uint64) (uint64, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, err
	}
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	header, err := c.eth.HeaderByNumber(callCtx, new(big.Int).SetUint64(block))
	if err != nil {
		return 0, err
	}
	if header == nil {
		return 0, fmt.Errorf("chain: header %d unavailable", block)
	}
	return header.Time, nil
}
