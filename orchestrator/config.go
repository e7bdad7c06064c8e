package orchestrator

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config tunes the client-side analysis lifecycle.
type Config struct {
	// Endpoint is the edge service base URL.
	Endpoint string `yaml:"endpoint"`
	// FreeLimit is how many completed analyses an unvalidated client gets
	// before results are flagged as gated.
	FreeLimit int `yaml:"free_limit"`
	// MinInterval is the fixed client-side spacing between completed
	// calls, independent of any server cool-down.
	MinInterval time.Duration `yaml:"min_interval"`
	// CooldownFloor is the minimum cool-down applied on a 429, even when
	// the server's Retry-After is shorter.
	CooldownFloor time.Duration `yaml:"cooldown_floor"`
	// RequestTimeout is the absolute deadline for one analysis call.
	RequestTimeout time.Duration `yaml:"request_timeout"`
	// PhaseThreshold is how long a call runs before the loading label
	// advances to its secondary message.
	PhaseThreshold time.Duration `yaml:"phase_threshold"`
}

// fileConfig is the YAML shape of Config. Durations are strings in
// time.ParseDuration syntax ("15s", "2m").
type fileConfig struct {
	Endpoint       string `yaml:"endpoint"`
	FreeLimit      int    `yaml:"free_limit"`
	MinInterval    string `yaml:"min_interval"`
	CooldownFloor  string `yaml:"cooldown_floor"`
	RequestTimeout string `yaml:"request_timeout"`
	PhaseThreshold string `yaml:"phase_threshold"`
}

// LoadConfigFile reads a YAML configuration file and applies defaults.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, err
	}

	cfg := Config{Endpoint: fc.Endpoint, FreeLimit: fc.FreeLimit}
	for _, f := range []struct {
		raw  string
		name string
		dst  *time.Duration
	}{
		{fc.MinInterval, "min_interval", &cfg.MinInterval},
		{fc.CooldownFloor, "cooldown_floor", &cfg.CooldownFloor},
		{fc.RequestTimeout, "request_timeout", &cfg.RequestTimeout},
		{fc.PhaseThreshold, "phase_threshold", &cfg.PhaseThreshold},
	} {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return nil, fmt.Errorf("config %s: %w", f.name, err)
		}
		*f.dst = d
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	var cfg Config
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.FreeLimit <= 0 {
		c.FreeLimit = 5
	}
	if c.MinInterval <= 0 {
		c.MinInterval = 15 * time.Second
	}
	if c.CooldownFloor <= 0 {
		c.CooldownFloor = 30 * time.Second
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 45 * time.Second
	}
	if c.PhaseThreshold <= 0 {
		c.PhaseThreshold = 6 * time.Second
	}
}
