// Package config holds the configuration surface consumed by the
// profiling engine: defaults, an optional YAML file, and HOTPATH_*
// environment overrides, applied in that order.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/coral-mesh/hotpath/pkg/hotpath/report"
)

// Config is the full engine configuration.
type Config struct {
	// Mode selects timing or exactly one allocation-tracking mode.
	Mode string `yaml:"mode"`
	// Percentiles lists the percentile columns of the report. Must be
	// non-empty, each value in [0, 100].
	Percentiles []int `yaml:"percentiles"`
	// Format selects the report output format.
	Format string `yaml:"format"`
	// DisplayLimit bounds the number of report rows. 0 = unlimited.
	DisplayLimit int `yaml:"display_limit"`
	// Exclusive switches nested allocation accounting to self-only:
	// a call's totals exclude allocations made by nested guards.
	Exclusive bool `yaml:"exclusive"`
	// HTTPPort, when non-zero, serves the live metrics endpoint.
	HTTPPort int `yaml:"http_port"`
	// ChannelCapacity sizes the measurement channel. Guards drop
	// samples once it is full rather than block.
	ChannelCapacity int `yaml:"channel_capacity"`
	// SampleRingSize sizes the per-function ring of recent raw
	// values retained for live sample queries.
	SampleRingSize int `yaml:"sample_ring_size"`
}

// Default returns the engine defaults: timing mode, P95, table
// output, unlimited rows, cumulative accounting, no HTTP endpoint.
func Default() Config {
	return Config{
		Mode:            string(report.ModeTiming),
		Percentiles:     []int{95},
		Format:          string(report.FormatTable),
		ChannelCapacity: 10000,
		SampleRingSize:  256,
	}
}

// Load builds a configuration from defaults, then the YAML file at
// path (if non-empty), then environment overrides, and validates the
// result.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := cfg.ApplyEnv(); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ApplyEnv overlays HOTPATH_* environment variables onto cfg.
func (c *Config) ApplyEnv() error {
	if v := os.Getenv("HOTPATH_MODE"); v != "" {
		c.Mode = v
	}
	if v := os.Getenv("HOTPATH_FORMAT"); v != "" {
		c.Format = v
	}
	if v := os.Getenv("HOTPATH_PERCENTILES"); v != "" {
		ps, err := parsePercentiles(v)
		if err != nil {
			return err
		}
		c.Percentiles = ps
	}
	if v := os.Getenv("HOTPATH_DISPLAY_LIMIT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid HOTPATH_DISPLAY_LIMIT %q: %w", v, err)
		}
		c.DisplayLimit = n
	}
	if v := os.Getenv("HOTPATH_HTTP_PORT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid HOTPATH_HTTP_PORT %q: %w", v, err)
		}
		c.HTTPPort = n
	}
	if v := os.Getenv("HOTPATH_EXCLUSIVE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid HOTPATH_EXCLUSIVE %q: %w", v, err)
		}
		c.Exclusive = b
	}
	return nil
}

func parsePercentiles(s string) ([]int, error) {
	parts := strings.Split(s, ",")
	ps := make([]int, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid percentile %q: %w", part, err)
		}
		ps = append(ps, n)
	}
	return ps, nil
}

// Validate checks the configuration for contract violations.
func (c Config) Validate() error {
	if !report.Mode(c.Mode).Valid() {
		return fmt.Errorf("unknown profiling mode %q", c.Mode)
	}
	if len(c.Percentiles) == 0 {
		return fmt.Errorf("percentile list must not be empty")
	}
	for _, p := range c.Percentiles {
		if p < 0 || p > 100 {
			return fmt.Errorf("percentile %d out of range [0, 100]", p)
		}
	}
	switch report.Format(c.Format) {
	case report.FormatTable, report.FormatJSON, report.FormatJSONPretty:
	default:
		return fmt.Errorf("unknown output format %q", c.Format)
	}
	if c.DisplayLimit < 0 {
		return fmt.Errorf("display limit must be >= 0, got %d", c.DisplayLimit)
	}
	if c.HTTPPort < 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("http port %d out of range", c.HTTPPort)
	}
	if c.ChannelCapacity <= 0 {
		return fmt.Errorf("channel capacity must be > 0, got %d", c.ChannelCapacity)
	}
	if c.SampleRingSize <= 0 {
		return fmt.Errorf("sample ring size must be > 0, got %d", c.SampleRingSize)
	}
	return nil
}
