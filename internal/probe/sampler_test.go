package probe

import (
	"context"
	"testing"

	"github.com/vietddude/histprobe/internal/core/domain"
)

func TestSampler_BracketFromHalvingSeeds(t *testing.T) {
	// Tx index fails for all n < 100.
	node := &fakeNode{head: 1024, indexedFrom: 100}
	prober := NewProber(node, 1024, "")
	sampler := NewSampler(prober, 8, 50)

	seeds := []uint64{1, 4, 16, 64, 256, 1024}
	samples := sampler.SampleAll(context.Background(), domain.CapTxIndex, seeds, 1)

	if len(samples) != len(seeds) {
		t.Fatalf("expected %d samples, got %d", len(seeds), len(samples))
	}
	for i, s := range samples {
		if s.Seed != seeds[i] {
			t.Fatalf("samples not sorted by seed: %v", samples)
		}
	}

	bracket := DeriveBracket(samples)
	if !bracket.HasWorking || bracket.Working != 256 {
		t.Errorf("expected working edge 256, got %+v", bracket)
	}
	if !bracket.HasFailing || bracket.Failing != 64 {
		t.Errorf("expected failing edge 64, got %+v", bracket)
	}

	// Refinement must converge to 100 within ceil(log2(256-64)) = 8 probes.
	before := node.txLookupCount()
	boundary, _ := NewSearcher(prober, 20).findBoundary(context.Background(), domain.CapTxIndex, bracket)
	probes := node.txLookupCount() - before

	if boundary != 100 {
		t.Errorf("expected boundary 100, got %d", boundary)
	}
	if probes > 8 {
		t.Errorf("expected at most 8 refinement probes, used %d", probes)
	}
}

func TestSampler_SkipsOutOfRange(t *testing.T) {
	node := &fakeNode{head: 1000, retainedFrom: 500}
	prober := NewProber(node, 1000, "")
	sampler := NewSampler(prober, 4, 50)

	samples := sampler.SampleAll(context.Background(), domain.CapTxIndex,
		[]uint64{100, 499, 500, 1000, 2000}, 500)

	want := map[uint64]domain.SampleOutcome{
		100:  domain.SampleSkipped,
		499:  domain.SampleSkipped,
		500:  domain.SampleProbed,
		1000: domain.SampleProbed,
		2000: domain.SampleSkipped,
	}
	for _, s := range samples {
		if s.Outcome != want[s.Seed] {
			t.Errorf("seed %d: expected %s, got %s", s.Seed, want[s.Seed], s.Outcome)
		}
	}
}

func TestSampler_NoQualifyingData(t *testing.T) {
	node := &fakeNode{head: 1000, emptyBlocks: emptyRange(1, 1000)}
	prober := NewProber(node, 1000, "")
	sampler := NewSampler(prober, 4, 10)

	samples := sampler.SampleAll(context.Background(), domain.CapTxIndex, []uint64{500}, 1)

	if samples[0].Outcome != domain.SampleNoQualifyingData {
		t.Fatalf("expected no-qualifying-data, got %s", samples[0].Outcome)
	}
	if samples[0].ScannedLow != 490 || samples[0].ScannedHigh != 510 {
		t.Errorf("expected scanned range 490..510, got %d..%d",
			samples[0].ScannedLow, samples[0].ScannedHigh)
	}
}

func TestDeriveBracket_IndeterminateMovesNoEdge(t *testing.T) {
	samples := []domain.SampleResult{
		{Seed: 16, Outcome: domain.SampleProbed, Block: 16, Verdict: domain.VerdictUnavailable},
		{Seed: 64, Outcome: domain.SampleProbed, Block: 64, Verdict: domain.VerdictIndeterminate},
		{Seed: 256, Outcome: domain.SampleProbed, Block: 256, Verdict: domain.VerdictAvailable},
	}

	bracket := DeriveBracket(samples)
	if bracket.Working != 256 {
		t.Errorf("expected working 256, got %+v", bracket)
	}
	if bracket.Failing != 16 {
		t.Errorf("indeterminate sample must not become the failing edge: %+v", bracket)
	}
}

func TestDeriveBracket_AllAvailable(t *testing.T) {
	samples := []domain.SampleResult{
		{Seed: 1, Outcome: domain.SampleProbed, Block: 1, Verdict: domain.VerdictAvailable},
		{Seed: 512, Outcome: domain.SampleProbed, Block: 512, Verdict: domain.VerdictAvailable},
	}

	bracket := DeriveBracket(samples)
	if bracket.HasFailing {
		t.Errorf("expected no failing edge, got %+v", bracket)
	}
	if bracket.Working != 1 {
		t.Errorf("expected working edge 1, got %+v", bracket)
	}
}

func TestDeriveBracket_StopsAtFirstFailureFromTop(t *testing.T) {
	// Two failing samples; only the newest one may set the edge.
	samples := []domain.SampleResult{
		{Seed: 4, Outcome: domain.SampleProbed, Block: 4, Verdict: domain.VerdictUnavailable},
		{Seed: 64, Outcome: domain.SampleProbed, Block: 64, Verdict: domain.VerdictUnavailable},
		{Seed: 256, Outcome: domain.SampleProbed, Block: 256, Verdict: domain.VerdictAvailable},
	}

	bracket := DeriveBracket(samples)
	if bracket.Failing != 64 {
		t.Errorf("expected failing edge 64, got %+v", bracket)
	}
}
