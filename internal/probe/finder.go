package probe

import (
	"context"

	"github.com/vietddude/histprobe/internal/infra/chain/evm"
)

// NodeClient is the remote query surface the engine probes through.
// *evm.Client implements it; tests substitute fakes.
type NodeClient interface {
	ChainHead(ctx context.Context) (uint64, error)
	BlockExists(ctx context.Context, n uint64) (bool, error)
	Block(ctx context.Context, n uint64) (*evm.BlockHandle, error)
	TransactionByHash(ctx context.Context, hash string) (map[string]any, error)
	BalanceAt(ctx context.Context, addr string, n uint64) (string, error)
	Logs(ctx context.Context, n uint64, blockHash string) ([]any, error)
	BlockReceipts(ctx context.Context, n uint64, txHashes []string) ([]any, error)
	Calls() int64
}

// Match is a qualifying block located near a probe target, with the
// evidence needed to test transaction-bound capabilities at its height.
type Match struct {
	Block     uint64
	BlockHash string
	TxHash    string
	TxHashes  []string
}

// Finder locates, near a target height, the closest block that actually
// contains a transaction. Not every block carries one, and several
// capabilities can only be tested against concrete data.
type Finder struct {
	client NodeClient
}

// NewFinder creates a finder over the given client.
func NewFinder(client NodeClient) *Finder {
	return &Finder{client: client}
}

// FindQualifying scans blocks center, center-1, ... down to the radius
// edge, then forward center+1, ... up to min(upper, center+radius), and
// returns the first transaction-bearing block. Backward first: data is
// likelier found close below the target, and ties prefer the backward
// direction. Returns (nil, nil) when no block in range qualifies.
//
// Blocks that fail to fetch are skipped during the scan; the first such
// error is returned only if nothing qualifies, so a transient failure
// on one block cannot mask a usable neighbor.
func (f *Finder) FindQualifying(ctx context.Context, center, radius, upper uint64) (*Match, error) {
	if center < 1 {
		return nil, nil
	}

	var firstErr error
	scan := func(n uint64) (*Match, bool) {
		handle, err := f.client.Block(ctx, n)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			return nil, false
		}
		if !handle.HasTransactions() {
			return nil, false
		}
		return &Match{
			Block:     n,
			BlockHash: handle.Hash,
			TxHash:    handle.TxHashes[0],
			TxHashes:  handle.TxHashes,
		}, true
	}

	low := uint64(1)
	if center > radius {
		low = center - radius
	}
	for n := center; n >= low; n-- {
		if m, ok := scan(n); ok {
			return m, nil
		}
		if n == 1 {
			break
		}
	}

	high := center + radius
	if high > upper {
		high = upper
	}
	for n := center + 1; n <= high; n++ {
		if m, ok := scan(n); ok {
			return m, nil
		}
	}

	return nil, firstErr
}
