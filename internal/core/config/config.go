package config

import (
	"time"

	"github.com/vietddude/histprobe/internal/core/domain"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Node    NodeConfig    `yaml:"node"`
	Probe   ProbeConfig   `yaml:"probe"`
	Logging LoggingConfig `yaml:"logging"`
	Server  ServerConfig  `yaml:"server"`
}

// NodeConfig holds settings for the probed RPC endpoint.
type NodeConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// ProbeConfig tunes the boundary-discovery engine.
type ProbeConfig struct {
	// Concurrency bounds in-flight probes during the sampling phase.
	Concurrency int `yaml:"concurrency"`

	// SeedRadius is how far the finder scans around a seed block for a
	// transaction; RefineRadius is the tighter radius used during binary
	// search; HeadRadius the generous one for the head smoke test.
	SeedRadius   uint64 `yaml:"seed_radius"`
	RefineRadius uint64 `yaml:"refine_radius"`
	HeadRadius   uint64 `yaml:"head_radius"`

	// RetryAttempts bounds re-probes of transport failures before a call
	// surfaces as indeterminate.
	RetryAttempts int `yaml:"retry_attempts"`

	// Capabilities limits the run to a subset; empty means all.
	Capabilities []domain.Capability `yaml:"capabilities"`

	// ProbeAddress overrides the account used for archival balance
	// checks; by default the sender of the sampled transaction is used.
	ProbeAddress string `yaml:"probe_address"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// ServerConfig holds the optional metrics listener settings.
type ServerConfig struct {
	MetricsAddr string `yaml:"metrics_addr"` // empty = disabled
}
