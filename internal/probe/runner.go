package probe

import (
	"context"
	"fmt"
	"time"

	logger "log/slog"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/vietddude/histprobe/internal/core/config"
	"github.com/vietddude/histprobe/internal/core/domain"
	"github.com/vietddude/histprobe/internal/infra/chain/evm"
	"github.com/vietddude/histprobe/internal/infra/rpc/provider"
	"github.com/vietddude/histprobe/internal/infra/rpc/routing"
	"github.com/vietddude/histprobe/internal/probe/metrics"
)

// spotCheckLadder is the fixed fast path for block retention: when block
// 1 exists these heights are spot-checked before any binary search.
var spotCheckLadder = []uint64{1, 100, 1000, 10000, 100000}

// Runner executes the full probe pipeline for every selected capability
// against one node and aggregates the results into a report.
type Runner struct {
	provider provider.RPCProvider
	cfg      *config.AppConfig
	log      logger.Logger
}

// NewRunner creates a runner over a shared provider.
func NewRunner(p provider.RPCProvider, cfg *config.AppConfig) *Runner {
	return &Runner{provider: p, cfg: cfg, log: *logger.Default()}
}

// newClient hands each capability pipeline its own client so round
// trips are counted per capability; the HTTP transport underneath is
// shared.
func (r *Runner) newClient() *evm.Client {
	retryCfg := routing.DefaultRetryConfig
	retryCfg.MaxAttempts = r.cfg.Probe.RetryAttempts
	c := evm.NewClient(r.provider, retryCfg)
	c.SetObserver(metrics.ObserveCall)
	return c
}

// Run probes the node and returns the aggregated report. The chain head
// is fetched once and pinned for the whole run; failing to obtain it is
// the only fatal condition.
func (r *Runner) Run(ctx context.Context) (*domain.Report, error) {
	started := time.Now()

	headClient := r.newClient()
	head, err := headClient.ChainHead(ctx)
	if err != nil {
		return nil, fmt.Errorf("cannot determine chain head: %w", err)
	}
	if head < 1 {
		return nil, fmt.Errorf("node reports empty chain (head %d)", head)
	}
	metrics.ChainHead.Set(float64(head))
	r.log.Info("chain head pinned", "head", head)

	selected := r.selectedCapabilities()

	// Block retention always runs: its boundary bounds the testable
	// range and feeds the full-availability heuristic of the other
	// capabilities. It is reported only when selected.
	retention, earliest := r.probeRetention(ctx, head)
	r.log.Info("block retention resolved",
		"status", retention.Status, "earliest", earliest, "round_trips", retention.RoundTrips)

	results := make(map[domain.Capability]domain.CapabilityResult)
	results[domain.CapBlockRetention] = retention

	g, gctx := errgroup.WithContext(ctx)
	resultCh := make(chan domain.CapabilityResult, len(selected))
	for _, cap := range selected {
		if cap == domain.CapBlockRetention {
			continue
		}
		g.Go(func() error {
			resultCh <- r.probeCapability(gctx, cap, head, earliest)
			return nil
		})
	}
	_ = g.Wait()
	close(resultCh)
	for res := range resultCh {
		results[res.Capability] = res
	}

	report := &domain.Report{
		RunID:     uuid.NewString(),
		Endpoint:  r.cfg.Node.URL,
		ChainHead: head,
		StartedAt: started,
		Duration:  time.Since(started),
	}
	for _, cap := range selected {
		res := results[cap]
		report.Results = append(report.Results, res)
		if res.Status == domain.StatusFull || res.Status == domain.StatusPartial {
			metrics.BoundaryBlock.WithLabelValues(string(cap)).Set(float64(res.Boundary))
		}
	}

	health := r.provider.GetHealth()
	r.log.Info("run complete",
		"round_trips", report.TotalRoundTrips(),
		"avg_latency", health.Latency,
		"error_rate", health.ErrorRate,
		"endpoint_healthy", r.provider.IsAvailable())
	return report, nil
}

func (r *Runner) selectedCapabilities() []domain.Capability {
	if len(r.cfg.Probe.Capabilities) == 0 {
		return domain.AllCapabilities()
	}
	// Preserve canonical order whatever the config says.
	want := make(map[domain.Capability]struct{}, len(r.cfg.Probe.Capabilities))
	for _, c := range r.cfg.Probe.Capabilities {
		want[c] = struct{}{}
	}
	var caps []domain.Capability
	for _, c := range domain.AllCapabilities() {
		if _, ok := want[c]; ok {
			caps = append(caps, c)
		}
	}
	return caps
}

// probeRetention locates the oldest retained block. Fast path: when
// block 1 exists, a fixed ladder of heights is spot-checked and a fully
// retained chain is reported without any search.
func (r *Runner) probeRetention(ctx context.Context, head uint64) (domain.CapabilityResult, uint64) {
	client := r.newClient()
	prober := NewProber(client, head, "")
	searcher := NewSearcher(prober, 0)

	result := domain.CapabilityResult{Capability: domain.CapBlockRetention}

	finish := func(boundary uint64, detail string) (domain.CapabilityResult, uint64) {
		if boundary <= 1 {
			boundary = 1
			result.Status = domain.StatusFull
		} else {
			result.Status = domain.StatusPartial
		}
		result.Boundary = boundary
		result.Detail = detail
		result.RoundTrips = client.Calls()
		return result, boundary
	}

	genesis := prober.Check(ctx, domain.CapBlockRetention, 1, 0)
	if genesis.Verdict == domain.VerdictAvailable {
		failing, ok := r.spotCheck(ctx, prober, head)
		if !ok {
			return finish(1, "")
		}
		boundary, _ := searcher.findBoundary(ctx, domain.CapBlockRetention,
			domain.Bracket{Failing: failing, HasFailing: true, Working: head, HasWorking: true})
		return finish(boundary, "")
	}

	detail := ""
	if genesis.Verdict == domain.VerdictIndeterminate {
		// Treated as missing to keep the search going; the boundary may
		// come out too recent if the failure was transient.
		detail = "block 1 could not be verified"
	}
	boundary, _ := searcher.findBoundary(ctx, domain.CapBlockRetention,
		domain.Bracket{Failing: 1, HasFailing: true, Working: head, HasWorking: true})
	return finish(boundary, detail)
}

// spotCheck probes the retention ladder and returns the first missing
// height, if any. Indeterminate checks are skipped rather than counted
// as missing.
func (r *Runner) spotCheck(ctx context.Context, prober *Prober, head uint64) (uint64, bool) {
	blocks := append([]uint64{}, spotCheckLadder...)
	if head > 1_000_000 {
		blocks = append(blocks, 1_000_000)
	}
	if head > 5_000_000 {
		blocks = append(blocks, 5_000_000)
	}
	blocks = append(blocks, head/2)

	for _, b := range blocks {
		if b < 1 || b > head {
			continue
		}
		check := prober.Check(ctx, domain.CapBlockRetention, b, 0)
		if check.Verdict.Failing() {
			r.log.Warn("spot check found missing block", "block", b)
			return b, true
		}
		if check.Verdict == domain.VerdictIndeterminate {
			r.log.Warn("spot check inconclusive, skipping block", "block", b)
		}
	}
	return 0, false
}

// probeCapability runs the sample-then-search pipeline for one
// transaction-bound capability.
func (r *Runner) probeCapability(
	ctx context.Context,
	cap domain.Capability,
	head, earliest uint64,
) domain.CapabilityResult {
	client := r.newClient()
	prober := NewProber(client, head, r.cfg.Probe.ProbeAddress)
	sampler := NewSampler(prober, r.cfg.Probe.Concurrency, r.cfg.Probe.SeedRadius)
	searcher := NewSearcher(prober, r.cfg.Probe.RefineRadius)

	result := domain.CapabilityResult{Capability: cap}

	// Smoke test at the head. A capability that fails here fails
	// everywhere; searching would only confirm that at high cost.
	smoke := prober.Check(ctx, cap, head, r.cfg.Probe.HeadRadius)
	switch {
	case smoke.NoQualifying:
		result.Status = domain.StatusUnknown
		result.Detail = fmt.Sprintf("no block with transactions in range %d..%d",
			smoke.ScannedLow, smoke.ScannedHigh)
		result.RoundTrips = client.Calls()
		return result
	case smoke.Verdict == domain.VerdictUnsupported:
		result.Status = domain.StatusUnsupported
		result.Detail = "method not supported by node"
		result.RoundTrips = client.Calls()
		return result
	case smoke.Verdict == domain.VerdictUnavailable:
		result.Status = domain.StatusUnsupported
		result.Detail = fmt.Sprintf("fails at chain head (block %d)", smoke.Block)
		result.RoundTrips = client.Calls()
		return result
	case smoke.Verdict == domain.VerdictIndeterminate:
		result.Status = domain.StatusUnknown
		result.Detail = "could not verify at chain head"
		result.RoundTrips = client.Calls()
		return result
	}

	samples := sampler.SampleAll(ctx, cap, Seeds(head), earliest)
	bracket := DeriveBracket(samples)

	// The head smoke test is itself a confirmed working sample.
	if !bracket.HasWorking || smoke.Block < bracket.Working {
		if !bracket.HasFailing || smoke.Block > bracket.Failing {
			bracket.Working = smoke.Block
			bracket.HasWorking = true
		}
	}

	outcome := searcher.Resolve(ctx, cap, bracket, earliest)
	result.Status = outcome.Status
	result.Boundary = outcome.Boundary
	result.Approximate = outcome.Approximate
	result.Detail = outcome.Detail
	result.RoundTrips = client.Calls()
	return result
}
