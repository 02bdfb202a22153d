package probe

import (
	"context"
	"errors"

	logger "log/slog"

	"github.com/vietddude/histprobe/internal/core/domain"
	"github.com/vietddude/histprobe/internal/infra/chain/evm"
	"github.com/vietddude/histprobe/internal/infra/rpc/provider"
	"github.com/vietddude/histprobe/internal/probe/metrics"
)

// CheckResult is the resolution of a single capability probe at one
// target height.
type CheckResult struct {
	Verdict domain.Verdict

	// Block is the height actually probed; it differs from the target
	// when the finder substituted a nearby transaction-bearing block.
	Block  uint64
	TxHash string

	// NoQualifying is set when no transaction-bearing block exists
	// within the scan radius, leaving nothing to test against.
	NoQualifying bool
	ScannedLow   uint64
	ScannedHigh  uint64
}

// Prober binds each capability to its probe predicate and classifies
// every outcome as a Verdict. It never lets a transport failure escape
// as an error: unresolvable probes come back indeterminate and the
// caller decides what that means.
type Prober struct {
	client       NodeClient
	finder       *Finder
	chainHead    uint64
	probeAddress string
	log          logger.Logger
}

// NewProber creates a prober pinned to one chain-head snapshot. The head
// stays fixed for the run even if the chain advances, keeping all ranges
// coherent.
func NewProber(client NodeClient, chainHead uint64, probeAddress string) *Prober {
	return &Prober{
		client:       client,
		finder:       NewFinder(client),
		chainHead:    chainHead,
		probeAddress: probeAddress,
		log:          *logger.Default(),
	}
}

// ChainHead returns the head snapshot the prober is pinned to.
func (p *Prober) ChainHead() uint64 {
	return p.chainHead
}

// RoundTrips returns the RPC calls spent through this prober's client.
func (p *Prober) RoundTrips() int64 {
	return p.client.Calls()
}

// Check probes whether cap works at block n, locating nearby qualifying
// data within radius where the capability needs it.
func (p *Prober) Check(ctx context.Context, cap domain.Capability, n, radius uint64) CheckResult {
	res := p.check(ctx, cap, n, radius)
	metrics.ProbeVerdictsTotal.WithLabelValues(string(cap), res.Verdict.String()).Inc()
	p.log.Debug("probe", "capability", cap, "target", n, "block", res.Block, "verdict", res.Verdict)
	return res
}

func (p *Prober) check(ctx context.Context, cap domain.Capability, n, radius uint64) CheckResult {
	if cap == domain.CapBlockRetention {
		exists, err := p.client.BlockExists(ctx, n)
		if err != nil {
			return CheckResult{Verdict: verdictFromError(err), Block: n}
		}
		if exists {
			return CheckResult{Verdict: domain.VerdictAvailable, Block: n}
		}
		return CheckResult{Verdict: domain.VerdictUnavailable, Block: n}
	}

	match, err := p.finder.FindQualifying(ctx, n, radius, p.chainHead)
	if err != nil {
		return CheckResult{Verdict: verdictFromError(err), Block: n}
	}
	if match == nil {
		low := uint64(1)
		if n > radius {
			low = n - radius
		}
		high := n + radius
		if high > p.chainHead {
			high = p.chainHead
		}
		return CheckResult{
			Verdict:      domain.VerdictIndeterminate,
			Block:        n,
			NoQualifying: true,
			ScannedLow:   low,
			ScannedHigh:  high,
		}
	}

	res := CheckResult{Block: match.Block, TxHash: match.TxHash}

	switch cap {
	case domain.CapTxIndex:
		res.Verdict = p.checkTxIndex(ctx, match)
	case domain.CapArchivalState:
		res.Verdict = p.checkArchivalState(ctx, match)
	case domain.CapLogIndex:
		res.Verdict = p.checkLogIndex(ctx, match)
	case domain.CapReceiptIndex:
		res.Verdict = p.checkReceiptIndex(ctx, match)
	default:
		res.Verdict = domain.VerdictIndeterminate
	}
	return res
}

func (p *Prober) checkTxIndex(ctx context.Context, match *Match) domain.Verdict {
	tx, err := p.client.TransactionByHash(ctx, match.TxHash)
	if err != nil {
		return verdictFromError(err)
	}
	if tx == nil {
		return domain.VerdictUnavailable
	}
	return domain.VerdictAvailable
}

func (p *Prober) checkArchivalState(ctx context.Context, match *Match) domain.Verdict {
	addr := p.probeAddress
	if addr == "" {
		// Use the sampled transaction's sender: an account known to
		// exist at this height.
		tx, err := p.client.TransactionByHash(ctx, match.TxHash)
		if err != nil {
			return verdictFromError(err)
		}
		if tx == nil {
			// Tx index gone here; no account to test with.
			return domain.VerdictIndeterminate
		}
		if addr = getString(tx["from"]); addr == "" {
			return domain.VerdictIndeterminate
		}
	}

	balance, err := p.client.BalanceAt(ctx, addr, match.Block)
	if err != nil {
		return verdictFromError(err)
	}
	if balance == "" {
		return domain.VerdictUnavailable
	}
	return domain.VerdictAvailable
}

func (p *Prober) checkLogIndex(ctx context.Context, match *Match) domain.Verdict {
	logs, err := p.client.Logs(ctx, match.Block, match.BlockHash)
	if err != nil {
		return verdictFromError(err)
	}
	if logs == nil {
		return domain.VerdictUnavailable
	}
	// An empty list is a served answer.
	return domain.VerdictAvailable
}

func (p *Prober) checkReceiptIndex(ctx context.Context, match *Match) domain.Verdict {
	receipts, err := p.client.BlockReceipts(ctx, match.Block, match.TxHashes)
	if err != nil {
		if errors.Is(err, evm.ErrNoEvidence) {
			return domain.VerdictIndeterminate
		}
		return verdictFromError(err)
	}
	if receipts == nil {
		return domain.VerdictUnavailable
	}
	return domain.VerdictAvailable
}

// verdictFromError maps a client error to a verdict. A well-formed
// remote error means the node answered and the data is not served:
// unavailable, or unsupported when the method itself is missing.
// Everything else is a transport problem and stays indeterminate.
func verdictFromError(err error) domain.Verdict {
	var rpcErr *provider.RPCError
	if !errors.As(err, &rpcErr) {
		return domain.VerdictIndeterminate
	}
	if rpcErr.MethodNotFound() {
		return domain.VerdictUnsupported
	}
	return domain.VerdictUnavailable
}

func getString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}
