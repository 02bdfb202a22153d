package probe

import (
	"context"

	logger "log/slog"

	"github.com/vietddude/histprobe/internal/core/domain"
)

// fullHistoryWindow is the heuristic threshold below which a working
// edge on a node retaining block 1 is reported as full availability,
// applied only when no failing sample exists to search against. A
// narrow pruning window inside the first thousand blocks would be
// misclassified; the approximation is kept deliberately.
const fullHistoryWindow = 1000

// SearchOutcome is the refined result for one capability.
type SearchOutcome struct {
	Status      domain.AvailabilityStatus
	Boundary    uint64
	Approximate bool
	Detail      string
}

// Searcher runs the sequential binary-search phase over a bracket.
type Searcher struct {
	prober *Prober
	radius uint64
	log    logger.Logger
}

// NewSearcher creates a searcher probing with the given refinement radius.
func NewSearcher(prober *Prober, radius uint64) *Searcher {
	return &Searcher{prober: prober, radius: radius, log: *logger.Default()}
}

// Resolve turns a bracket into the capability's final outcome,
// short-circuiting the cases that need no search.
//
// earliestRetained is the block-retention boundary, used by the
// full-availability heuristic: a working edge at 1, or within the first
// fullHistoryWindow blocks of a node that retains block 1, reports as
// fully available without probing deeper. The heuristic never overrides
// a searched boundary: once failures have been observed, the measured
// value stands.
func (s *Searcher) Resolve(
	ctx context.Context,
	cap domain.Capability,
	bracket domain.Bracket,
	earliestRetained uint64,
) SearchOutcome {
	if !bracket.HasWorking {
		// Nothing confirmed available; the head smoke test catches the
		// unsupported case before sampling, so this is lack of evidence.
		return SearchOutcome{
			Status: domain.StatusUnknown,
			Detail: "no sample could confirm the capability",
		}
	}

	if !bracket.HasFailing || bracket.Failing >= bracket.Working {
		// No failing edge below the working edge: no range to search.
		if bracket.Working == 1 || (earliestRetained == 1 && bracket.Working <= fullHistoryWindow) {
			return SearchOutcome{Status: domain.StatusFull, Boundary: 1}
		}
		return SearchOutcome{
			Status:      domain.StatusPartial,
			Boundary:    bracket.Working,
			Approximate: true,
			Detail:      "no failing sample below the working edge",
		}
	}

	// No heuristic here: the search observed real failures below the
	// boundary, so its answer is reported as measured.
	boundary, approximate := s.findBoundary(ctx, cap, bracket)
	if boundary == 1 {
		return SearchOutcome{Status: domain.StatusFull, Boundary: 1}
	}
	return SearchOutcome{
		Status:      domain.StatusPartial,
		Boundary:    boundary,
		Approximate: approximate,
	}
}

// findBoundary binary-searches (bracket.Failing, bracket.Working] for
// the oldest block at which cap still works. Indeterminate midpoints
// are folded into the failing side: with retries already spent, moving
// the working edge on unverified data could understate the boundary,
// while the conservative fold can only overstate it.
func (s *Searcher) findBoundary(
	ctx context.Context,
	cap domain.Capability,
	bracket domain.Bracket,
) (uint64, bool) {
	low, high := bracket.Failing, bracket.Working
	approximate := false

	s.log.Debug("binary search", "capability", cap, "failing", low, "working", high)

	for low < high {
		if err := ctx.Err(); err != nil {
			// Cancelled mid-search: the working edge is the best
			// verified answer.
			return high, true
		}

		mid := low + (high-low)/2
		check := s.prober.Check(ctx, cap, mid, s.radius)
		if check.Block != mid {
			approximate = true
		}

		if check.Verdict == domain.VerdictAvailable {
			high = mid
		} else {
			low = mid + 1
		}
	}

	return low, approximate
}
