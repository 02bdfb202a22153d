package domain

// SampleOutcome classifies how a single seed sample resolved.
type SampleOutcome string

const (
	// SampleSkipped means the seed fell outside the testable range.
	SampleSkipped SampleOutcome = "skipped"

	// SampleNoQualifyingData means the block exists but no transaction
	// was found within the scan radius in either direction.
	SampleNoQualifyingData SampleOutcome = "no_qualifying_data"

	// SampleProbed means qualifying data was located and the capability
	// probe ran; see Verdict for the result.
	SampleProbed SampleOutcome = "probed"

	// SampleError means the sample failed with a non-probe error.
	SampleError SampleOutcome = "error"
)

// SampleResult is the resolution of one seed from the sampling phase.
type SampleResult struct {
	Seed    uint64
	Outcome SampleOutcome

	// Block is the block actually probed. It can differ from Seed when
	// the finder had to substitute a nearby block with a transaction.
	Block   uint64
	TxHash  string
	Verdict Verdict

	// ScannedLow/ScannedHigh record the radius covered when no
	// qualifying block was found.
	ScannedLow  uint64
	ScannedHigh uint64

	Err string
}

// Bracket bounds a not-yet-located boundary. Failing is the highest block
// confirmed failing, Working the lowest block confirmed available, so
// Failing < Working whenever both are set and the boundary lies in
// (Failing, Working].
type Bracket struct {
	Failing    uint64
	Working    uint64
	HasFailing bool
	HasWorking bool
}
