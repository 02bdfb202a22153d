package probe

import "sort"

// Seed schedule: boundaries are far more likely to sit a few thousand
// blocks behind the head than in deep history, so the head gets dense
// fixed-step coverage while geometric descent still spans the full range.
const (
	maxHalvingSeeds = 12

	fineStep    = 10
	fineCount   = 14 // last ~130 blocks
	mediumStep  = 100
	mediumCount = 11 // last ~1000 blocks
	coarseStep  = 10000
	coarseCount = 21 // last ~200000 blocks
)

// Seeds returns the deterministic candidate blocks used to bracket a
// boundary before exact search: geometric descent from the head plus
// fixed-offset windows near it, deduplicated and sorted ascending.
// Block 1 is always included. Pure function, no I/O.
func Seeds(chainHead uint64) []uint64 {
	set := make(map[uint64]struct{})

	b := chainHead
	for n := 0; b >= 1 && n < maxHalvingSeeds; n++ {
		set[b] = struct{}{}
		b = b / 2
	}
	set[1] = struct{}{}

	for _, window := range []struct {
		step  uint64
		count int
	}{
		{fineStep, fineCount},
		{mediumStep, mediumCount},
		{coarseStep, coarseCount},
	} {
		for i := 0; i < window.count; i++ {
			offset := uint64(i) * window.step
			if offset >= chainHead {
				break
			}
			set[chainHead-offset] = struct{}{}
		}
	}

	seeds := make([]uint64, 0, len(set))
	for s := range set {
		if s >= 1 {
			seeds = append(seeds, s)
		}
	}
	sort.Slice(seeds, func(i, j int) bool { return seeds[i] < seeds[j] })
	return seeds
}
