package probe

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/vietddude/histprobe/internal/infra/chain/evm"
	"github.com/vietddude/histprobe/internal/infra/rpc/provider"
)

// fakeNode is a synthetic monotonic node: each capability works from a
// configurable block onward. Zero values mean "works everywhere".
type fakeNode struct {
	head         uint64
	retainedFrom uint64 // blocks below this are pruned
	indexedFrom  uint64 // tx lookups fail below this
	archivalFrom uint64 // balance queries fail below this
	logsFrom     uint64
	receiptsFrom uint64

	// emptyBlocks marks blocks without transactions.
	emptyBlocks map[uint64]bool
	// flakyBlocks fail with a transport error on every access.
	flakyBlocks map[uint64]bool

	calls     atomic.Int64
	mu        sync.Mutex
	txLookups int
}

func (f *fakeNode) hasBlock(n uint64) bool {
	from := f.retainedFrom
	if from == 0 {
		from = 1
	}
	return n >= from && n <= f.head
}

func (f *fakeNode) flaky(n uint64) error {
	if f.flakyBlocks[n] {
		return errors.New("rpc call: connection reset by peer")
	}
	return nil
}

func (f *fakeNode) ChainHead(ctx context.Context) (uint64, error) {
	f.calls.Add(1)
	return f.head, nil
}

func (f *fakeNode) BlockExists(ctx context.Context, n uint64) (bool, error) {
	f.calls.Add(1)
	if err := f.flaky(n); err != nil {
		return false, err
	}
	return f.hasBlock(n), nil
}

func (f *fakeNode) Block(ctx context.Context, n uint64) (*evm.BlockHandle, error) {
	f.calls.Add(1)
	if err := f.flaky(n); err != nil {
		return nil, err
	}
	if !f.hasBlock(n) {
		return nil, nil
	}
	handle := &evm.BlockHandle{Number: n, Hash: fmt.Sprintf("0xblock%d", n)}
	if !f.emptyBlocks[n] {
		handle.TxHashes = []string{fmt.Sprintf("0xtx%d", n)}
	}
	return handle, nil
}

// txBlock recovers the block number encoded in a fake tx hash.
func txBlock(hash string) uint64 {
	n, _ := strconv.ParseUint(strings.TrimPrefix(hash, "0xtx"), 10, 64)
	return n
}

func (f *fakeNode) TransactionByHash(ctx context.Context, hash string) (map[string]any, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.txLookups++
	f.mu.Unlock()

	n := txBlock(hash)
	if err := f.flaky(n); err != nil {
		return nil, err
	}
	if f.indexedFrom > 0 && n < f.indexedFrom {
		return nil, nil
	}
	return map[string]any{"hash": hash, "from": fmt.Sprintf("0xsender%d", n)}, nil
}

func (f *fakeNode) BalanceAt(ctx context.Context, addr string, n uint64) (string, error) {
	f.calls.Add(1)
	if err := f.flaky(n); err != nil {
		return "", err
	}
	if f.archivalFrom > 0 && n < f.archivalFrom {
		return "", &provider.RPCError{Code: -32000, Message: "missing trie node"}
	}
	return "0x10", nil
}

func (f *fakeNode) Logs(ctx context.Context, n uint64, blockHash string) ([]any, error) {
	f.calls.Add(1)
	if err := f.flaky(n); err != nil {
		return nil, err
	}
	if f.logsFrom > 0 && n < f.logsFrom {
		return nil, nil
	}
	return []any{}, nil
}

func (f *fakeNode) BlockReceipts(ctx context.Context, n uint64, txHashes []string) ([]any, error) {
	f.calls.Add(1)
	if err := f.flaky(n); err != nil {
		return nil, err
	}
	if f.receiptsFrom > 0 && n < f.receiptsFrom {
		return nil, nil
	}
	return []any{map[string]any{"status": "0x1"}}, nil
}

func (f *fakeNode) Calls() int64 {
	return f.calls.Load()
}

func (f *fakeNode) txLookupCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.txLookups
}
