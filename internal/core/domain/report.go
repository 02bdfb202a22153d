package domain

import "time"

// AvailabilityStatus summarizes a capability's availability over the chain.
type AvailabilityStatus string

const (
	// StatusFull means the capability works all the way back to block 1.
	StatusFull AvailabilityStatus = "full"

	// StatusPartial means the capability works from Boundary onward.
	StatusPartial AvailabilityStatus = "partial"

	// StatusUnsupported means the capability fails even at the chain head.
	StatusUnsupported AvailabilityStatus = "unsupported"

	// StatusUnknown means the run could not gather enough evidence,
	// e.g. no transaction-bearing block was found near the head.
	StatusUnknown AvailabilityStatus = "unknown"
)

// CapabilityResult is the per-capability outcome of a probe run.
type CapabilityResult struct {
	Capability Capability         `json:"capability"`
	Status     AvailabilityStatus `json:"status"`

	// Boundary is the oldest block at which the capability still works.
	// Set for StatusPartial; 1 for StatusFull.
	Boundary uint64 `json:"boundary,omitempty"`

	// Approximate marks boundaries located through nearby-block
	// substitution, which can be off by up to the scan radius.
	Approximate bool `json:"approximate,omitempty"`

	RoundTrips int64  `json:"round_trips"`
	Detail     string `json:"detail,omitempty"`
}

// Report aggregates all capability results for one run against one node.
type Report struct {
	RunID     string        `json:"run_id"`
	Endpoint  string        `json:"endpoint"`
	ChainHead uint64        `json:"chain_head"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`

	Results []CapabilityResult `json:"results"`
}

// Result returns the entry for cap, or nil if the capability was not probed.
func (r *Report) Result(cap Capability) *CapabilityResult {
	for i := range r.Results {
		if r.Results[i].Capability == cap {
			return &r.Results[i]
		}
	}
	return nil
}

// TotalRoundTrips sums the RPC calls spent across all capabilities.
func (r *Report) TotalRoundTrips() int64 {
	var n int64
	for _, res := range r.Results {
		n += res.RoundTrips
	}
	return n
}
