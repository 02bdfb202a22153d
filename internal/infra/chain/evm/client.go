// Package evm exposes the typed query surface the probe engine needs
// from an EVM JSON-RPC node.
package evm

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync/atomic"
	"time"

	logger "log/slog"

	"github.com/vietddude/histprobe/internal/infra/rpc/provider"
	"github.com/vietddude/histprobe/internal/infra/rpc/routing"
)

// CallObserver is invoked after every RPC round trip, typically to feed
// metrics. It must be safe for concurrent use.
type CallObserver func(method string, latency time.Duration, err error)

// BlockHandle is the slice of a block the probe engine cares about.
type BlockHandle struct {
	Number   uint64
	Hash     string
	TxHashes []string
}

// HasTransactions reports whether the block carries at least one tx.
func (b *BlockHandle) HasTransactions() bool {
	return b != nil && len(b.TxHashes) > 0
}

// log filter shapes, tried in order until one is accepted
const (
	logShapeUnknown   int32 = iota
	logShapeBlockHash       // {"blockHash": h} per EIP-234
	logShapeRange           // {"fromBlock": n, "toBlock": n} for older nodes
)

// receipt retrieval paths
const (
	receiptPathUnknown int32 = iota
	receiptPathBlock         // eth_getBlockReceipts
	receiptPathPerTx         // batched eth_getTransactionReceipt
)

// Client issues single idempotent queries against one node. It keeps no
// state besides a round-trip counter and the request-shape choices that
// must stay sticky for a run, so each capability pipeline gets its own
// Client over the shared provider.
type Client struct {
	provider provider.RPCProvider
	retryCfg routing.RetryConfig
	log      logger.Logger
	observer CallObserver

	calls       atomic.Int64
	logShape    atomic.Int32
	receiptPath atomic.Int32
}

// NewClient creates a client over the given provider.
func NewClient(p provider.RPCProvider, retryCfg routing.RetryConfig) *Client {
	return &Client{
		provider: p,
		retryCfg: retryCfg,
		log:      *logger.Default(),
	}
}

// SetObserver installs a per-call observer. Must be called before use.
func (c *Client) SetObserver(obs CallObserver) {
	c.observer = obs
}

// Calls returns the number of RPC round trips issued so far. Every wire
// attempt counts, so retries show up in the total.
func (c *Client) Calls() int64 {
	return c.calls.Load()
}

func (c *Client) call(ctx context.Context, method string, params []any) (any, error) {
	return routing.CallWithRetry(ctx, metered{c}, method, params, c.retryCfg)
}

func (c *Client) record(method string, start time.Time, err error) {
	c.calls.Add(1)
	if c.observer != nil {
		c.observer(method, time.Since(start), err)
	}
}

// metered wraps the provider so every wire attempt reaches the counter
// and the observer, retried attempts and batches included.
type metered struct {
	c *Client
}

func (m metered) Call(ctx context.Context, method string, params []any) (any, error) {
	start := time.Now()
	result, err := m.c.provider.Call(ctx, method, params)
	m.c.record(method, start, err)
	return result, err
}

func (m metered) BatchCall(ctx context.Context, requests []provider.BatchRequest) ([]provider.BatchResponse, error) {
	start := time.Now()
	responses, err := m.c.provider.BatchCall(ctx, requests)
	method := "batch"
	if len(requests) > 0 {
		method = requests[0].Method
	}
	m.c.record(method, start, err)
	return responses, err
}

func (m metered) GetName() string                  { return m.c.provider.GetName() }
func (m metered) GetHealth() provider.HealthStatus { return m.c.provider.GetHealth() }
func (m metered) IsAvailable() bool                { return m.c.provider.IsAvailable() }
func (m metered) Close() error                     { return m.c.provider.Close() }

// ChainHead returns the current highest known block number.
func (c *Client) ChainHead(ctx context.Context) (uint64, error) {
	result, err := c.call(ctx, "eth_blockNumber", nil)
	if err != nil {
		return 0, fmt.Errorf("eth_blockNumber failed: %w", err)
	}

	blockHex, ok := result.(string)
	if !ok {
		return 0, fmt.Errorf("invalid block number response")
	}

	return parseHexString(blockHex)
}

// BlockExists reports whether the node still serves block n.
func (c *Client) BlockExists(ctx context.Context, n uint64) (bool, error) {
	result, err := c.call(ctx, "eth_getBlockByNumber", []any{hexArg(n), false})
	if err != nil {
		return false, fmt.Errorf("eth_getBlockByNumber failed: %w", err)
	}
	return result != nil, nil
}

// Block fetches hash and transaction hashes of block n. Returns nil when
// the node no longer has the block.
func (c *Client) Block(ctx context.Context, n uint64) (*BlockHandle, error) {
	result, err := c.call(ctx, "eth_getBlockByNumber", []any{hexArg(n), false})
	if err != nil {
		return nil, fmt.Errorf("eth_getBlockByNumber failed: %w", err)
	}
	if result == nil {
		return nil, nil
	}

	raw, ok := result.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("invalid block format")
	}

	handle := &BlockHandle{
		Number: n,
		Hash:   getString(raw["hash"]),
	}
	if rawTxs, ok := raw["transactions"].([]any); ok {
		for _, t := range rawTxs {
			switch v := t.(type) {
			case string:
				handle.TxHashes = append(handle.TxHashes, v)
			case map[string]any:
				// Some nodes return full objects even for false.
				if h := getString(v["hash"]); h != "" {
					handle.TxHashes = append(handle.TxHashes, h)
				}
			}
		}
	}
	return handle, nil
}

// TransactionByHash looks a transaction up by hash. Returns nil when the
// node's tx index has no entry for it.
func (c *Client) TransactionByHash(ctx context.Context, hash string) (map[string]any, error) {
	result, err := c.call(ctx, "eth_getTransactionByHash", []any{hash})
	if err != nil {
		return nil, fmt.Errorf("eth_getTransactionByHash failed: %w", err)
	}
	if result == nil {
		return nil, nil
	}
	tx, ok := result.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("invalid transaction format")
	}
	return tx, nil
}

// BalanceAt queries the balance of addr at height n, exercising the
// node's historical state. Empty string with nil error means the node
// returned null.
func (c *Client) BalanceAt(ctx context.Context, addr string, n uint64) (string, error) {
	result, err := c.call(ctx, "eth_getBalance", []any{addr, hexArg(n)})
	if err != nil {
		return "", fmt.Errorf("eth_getBalance failed: %w", err)
	}
	if result == nil {
		return "", nil
	}
	balance, ok := result.(string)
	if !ok {
		return "", fmt.Errorf("invalid balance format")
	}
	return balance, nil
}

// Logs fetches the logs of one block. The blockHash filter shape is
// tried first; nodes that reject it fall back to a from/to range filter.
// Whichever shape succeeds first is kept for the rest of the run. Best
// effort: param-shape rejection detection rests on JSON-RPC error codes
// that not every implementation emits correctly.
func (c *Client) Logs(ctx context.Context, n uint64, blockHash string) ([]any, error) {
	shapes := []struct {
		id     int32
		params []any
	}{
		{logShapeBlockHash, []any{map[string]any{"blockHash": blockHash}}},
		{logShapeRange, []any{map[string]any{"fromBlock": hexArg(n), "toBlock": hexArg(n)}}},
	}

	chosen := c.logShape.Load()
	var lastErr error
	for _, shape := range shapes {
		if chosen != logShapeUnknown && chosen != shape.id {
			continue
		}

		result, err := c.call(ctx, "eth_getLogs", shape.params)
		if err != nil {
			lastErr = err
			if chosen == logShapeUnknown && isShapeRejection(err) {
				c.log.Debug("eth_getLogs filter shape rejected, trying next", "shape", shape.id, "error", err)
				continue
			}
			return nil, fmt.Errorf("eth_getLogs failed: %w", err)
		}

		c.logShape.CompareAndSwap(logShapeUnknown, shape.id)

		if result == nil {
			return nil, nil
		}
		logs, ok := result.([]any)
		if !ok {
			return nil, fmt.Errorf("invalid logs format")
		}
		return logs, nil
	}

	return nil, fmt.Errorf("eth_getLogs failed: %w", lastErr)
}

// BlockReceipts fetches the receipts of block n. eth_getBlockReceipts is
// preferred; nodes without it fall back to a batched per-transaction
// lookup over txHashes. The chosen path sticks for the run.
func (c *Client) BlockReceipts(ctx context.Context, n uint64, txHashes []string) ([]any, error) {
	path := c.receiptPath.Load()

	if path != receiptPathPerTx {
		result, err := c.call(ctx, "eth_getBlockReceipts", []any{hexArg(n)})
		if err == nil {
			c.receiptPath.CompareAndSwap(receiptPathUnknown, receiptPathBlock)
			if result == nil {
				return nil, nil
			}
			receipts, ok := result.([]any)
			if !ok {
				return nil, fmt.Errorf("invalid receipts format")
			}
			return receipts, nil
		}

		var rpcErr *provider.RPCError
		if !errors.As(err, &rpcErr) || !rpcErr.MethodNotFound() {
			return nil, fmt.Errorf("eth_getBlockReceipts failed: %w", err)
		}
		c.log.Debug("eth_getBlockReceipts unsupported, falling back to per-tx receipts")
		c.receiptPath.Store(receiptPathPerTx)
	}

	return c.receiptsPerTx(ctx, txHashes)
}

// maxReceiptEvidence caps how many per-tx receipts the fallback fetches;
// the probe needs evidence, not the full block.
const maxReceiptEvidence = 3

func (c *Client) receiptsPerTx(ctx context.Context, txHashes []string) ([]any, error) {
	if len(txHashes) == 0 {
		return nil, ErrNoEvidence
	}
	if len(txHashes) > maxReceiptEvidence {
		txHashes = txHashes[:maxReceiptEvidence]
	}

	requests := make([]provider.BatchRequest, len(txHashes))
	for i, h := range txHashes {
		requests[i] = provider.BatchRequest{
			Method: "eth_getTransactionReceipt",
			Params: []any{h},
		}
	}

	responses, err := metered{c}.BatchCall(ctx, requests)
	if err != nil {
		return nil, fmt.Errorf("batch receipt fetch failed: %w", err)
	}

	receipts := make([]any, 0, len(responses))
	for _, resp := range responses {
		if resp.Error != nil {
			return nil, fmt.Errorf("receipt fetch failed: %w", resp.Error)
		}
		if resp.Result == nil {
			// Receipt gone: the node pruned it.
			return nil, nil
		}
		receipts = append(receipts, resp.Result)
	}
	return receipts, nil
}

// ErrNoEvidence is returned when a fallback probe has no transaction to
// test with.
var ErrNoEvidence = errors.New("no transaction available as probe evidence")

// isShapeRejection detects a node refusing the filter parameter shape.
func isShapeRejection(err error) bool {
	var rpcErr *provider.RPCError
	if !errors.As(err, &rpcErr) {
		return false
	}
	if rpcErr.InvalidParams() {
		return true
	}
	msg := strings.ToLower(rpcErr.Message)
	return strings.Contains(msg, "blockhash") || strings.Contains(msg, "invalid argument")
}

func hexArg(n uint64) string {
	return fmt.Sprintf("0x%x", n)
}

func parseHexString(hexStr string) (uint64, error) {
	v := new(big.Int)
	if _, ok := v.SetString(strings.TrimPrefix(hexStr, "0x"), 16); !ok {
		return 0, fmt.Errorf("invalid hex: %s", hexStr)
	}
	return v.Uint64(), nil
}

func getString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}
