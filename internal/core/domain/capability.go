package domain

// Capability identifies one independently probed node feature.
type Capability string

const (
	CapBlockRetention Capability = "block_retention"
	CapTxIndex        Capability = "tx_index"
	CapArchivalState  Capability = "archival_state"
	CapLogIndex       Capability = "log_index"
	CapReceiptIndex   Capability = "receipt_index"
)

// AllCapabilities returns every capability in probe order.
// BlockRetention goes first: its boundary feeds the range checks and the
// full-availability heuristic of the remaining capabilities.
func AllCapabilities() []Capability {
	return []Capability{
		CapBlockRetention,
		CapTxIndex,
		CapArchivalState,
		CapLogIndex,
		CapReceiptIndex,
	}
}

func (c Capability) Valid() bool {
	switch c {
	case CapBlockRetention, CapTxIndex, CapArchivalState, CapLogIndex, CapReceiptIndex:
		return true
	}
	return false
}

// Verdict is the classified outcome of a single capability probe.
type Verdict int

const (
	// VerdictIndeterminate means the probe could not be resolved (timeout,
	// connection failure, malformed response). It must never move a
	// bracket edge; call sites fold it into a failing edge only explicitly.
	VerdictIndeterminate Verdict = iota

	// VerdictAvailable means the queried data was served.
	VerdictAvailable

	// VerdictUnavailable means the node answered but the data is gone
	// (pruned).
	VerdictUnavailable

	// VerdictUnsupported means the node rejected the method outright.
	// It counts as failing for boundary math but is reported separately
	// so a missing feature is not mistaken for pruning.
	VerdictUnsupported
)

func (v Verdict) String() string {
	switch v {
	case VerdictAvailable:
		return "available"
	case VerdictUnavailable:
		return "unavailable"
	case VerdictUnsupported:
		return "unsupported"
	default:
		return "indeterminate"
	}
}

// Failing reports whether the verdict counts as a hard failure for
// bracket derivation and binary search.
func (v Verdict) Failing() bool {
	return v == VerdictUnavailable || v == VerdictUnsupported
}
