package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"
)

// Default reads tuning from the environment where available and falls back
// to the engine's built-in defaults. Used when no config file is given.
func Default() *AppConfig {
	cfg := &AppConfig{}
	applyDefaults(cfg)
	return cfg
}

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)

	for _, c := range cfg.Probe.Capabilities {
		if !c.Valid() {
			return nil, fmt.Errorf("unknown capability %q in config", c)
		}
	}

	return &cfg, nil
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Node.Timeout == 0 {
		// CHECK_TIMEOUT carries over from the shell-era tooling.
		if secs, err := strconv.Atoi(os.Getenv("CHECK_TIMEOUT")); err == nil && secs > 0 {
			cfg.Node.Timeout = time.Duration(secs) * time.Second
		} else {
			cfg.Node.Timeout = 10 * time.Second
		}
	}
	if cfg.Probe.Concurrency == 0 {
		cfg.Probe.Concurrency = 8
	}
	if cfg.Probe.SeedRadius == 0 {
		cfg.Probe.SeedRadius = 50
	}
	if cfg.Probe.RefineRadius == 0 {
		cfg.Probe.RefineRadius = 20
	}
	if cfg.Probe.HeadRadius == 0 {
		cfg.Probe.HeadRadius = 500
	}
	if cfg.Probe.RetryAttempts == 0 {
		cfg.Probe.RetryAttempts = 2
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}
