package probe

import (
	"context"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/vietddude/histprobe/internal/core/domain"
)

// Sampler resolves a seed set with bounded parallelism and derives the
// initial bracket for the exact search.
type Sampler struct {
	prober      *Prober
	concurrency int
	radius      uint64
}

// NewSampler creates a sampler. concurrency bounds in-flight probes
// regardless of seed count.
func NewSampler(prober *Prober, concurrency int, radius uint64) *Sampler {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Sampler{prober: prober, concurrency: concurrency, radius: radius}
}

// SampleAll resolves every seed for cap. Seeds outside
// [earliestRetained, chainHead] are marked skipped without issuing
// calls. Results come back sorted by seed regardless of completion
// order.
func (s *Sampler) SampleAll(
	ctx context.Context,
	cap domain.Capability,
	seeds []uint64,
	earliestRetained uint64,
) []domain.SampleResult {
	results := make([]domain.SampleResult, len(seeds))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for i, seed := range seeds {
		g.Go(func() error {
			results[i] = s.sampleOne(ctx, cap, seed, earliestRetained)
			return nil
		})
	}
	// Workers only record into their own slot; nothing to fail.
	_ = g.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].Seed < results[j].Seed })
	return results
}

func (s *Sampler) sampleOne(
	ctx context.Context,
	cap domain.Capability,
	seed uint64,
	earliestRetained uint64,
) domain.SampleResult {
	if seed < earliestRetained || seed > s.prober.ChainHead() {
		return domain.SampleResult{Seed: seed, Outcome: domain.SampleSkipped}
	}

	if err := ctx.Err(); err != nil {
		return domain.SampleResult{Seed: seed, Outcome: domain.SampleError, Err: err.Error()}
	}

	check := s.prober.Check(ctx, cap, seed, s.radius)
	if check.NoQualifying {
		return domain.SampleResult{
			Seed:        seed,
			Outcome:     domain.SampleNoQualifyingData,
			ScannedLow:  check.ScannedLow,
			ScannedHigh: check.ScannedHigh,
		}
	}

	return domain.SampleResult{
		Seed:    seed,
		Outcome: domain.SampleProbed,
		Block:   check.Block,
		TxHash:  check.TxHash,
		Verdict: check.Verdict,
	}
}

// DeriveBracket folds sorted samples into a search bracket. Walking from
// the newest sample down, every available verdict tightens the working
// edge; the first failing verdict fixes the failing edge and ends the
// walk, since older failures are redundant under monotonic degradation.
// Indeterminate samples move neither edge.
//
// The truncation after the first failure is applied post-collection;
// the sampling fan-out itself is never cancelled mid-flight.
func DeriveBracket(samples []domain.SampleResult) domain.Bracket {
	var bracket domain.Bracket

	for i := len(samples) - 1; i >= 0; i-- {
		sample := samples[i]
		if sample.Outcome != domain.SampleProbed {
			continue
		}
		switch {
		case sample.Verdict == domain.VerdictAvailable:
			if !bracket.HasWorking || sample.Block < bracket.Working {
				bracket.Working = sample.Block
				bracket.HasWorking = true
			}
		case sample.Verdict.Failing():
			// Older samples are redundant past a confirmed failure.
			if !bracket.HasWorking || sample.Block < bracket.Working {
				bracket.Failing = sample.Block
				bracket.HasFailing = true
				return bracket
			}
		}
	}

	return bracket
}
