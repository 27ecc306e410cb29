package trackmodel

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config describes a model in a YAML document:
//
//	units:
//	  space: µm
//	  time: s
//	analysis:
//	  parallel: true
//	  global_track_input: filtered
//	  analyzers: [edge-length, track-length]
//	filters:
//	  - feature: QUALITY
//	    value: 30
//	    above: true
type Config struct {
	Units    UnitsConfig    `yaml:"units"`
	Analysis AnalysisConfig `yaml:"analysis"`
	Filters  []FilterConfig `yaml:"filters,omitempty"`
}

type UnitsConfig struct {
	Space string `yaml:"space"`
	Time  string `yaml:"time"`
}

type AnalysisConfig struct {
	// Parallel runs the analyzers of each phase concurrently.
	Parallel bool `yaml:"parallel"`
	// GlobalTrackInput is either "filtered" or "updated"; see GlobalTrackInput.
	GlobalTrackInput string `yaml:"global_track_input"`
	// Analyzers lists built-in analyzer keys to register, in order.
	Analyzers []string `yaml:"analyzers,omitempty"`
}

type FilterConfig struct {
	Feature string  `yaml:"feature"`
	Value   float64 `yaml:"value"`
	Above   bool    `yaml:"above"`
}

// DefaultConfig returns the configuration of a model with every built-in
// analyzer and no spot filter.
func DefaultConfig() Config {
	c := Config{
		Analysis: AnalysisConfig{Analyzers: append([]string(nil), builtinOrder...)},
	}
	c.applyDefaults()
	return c
}

// LoadConfig reads a YAML configuration file.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes and validates a YAML configuration. Unset fields take
// their default values.
func ParseConfig(data []byte) (Config, error) {
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// applyDefaults fills in missing values with defaults
func (c *Config) applyDefaults() {
	if c.Units.Space == "" {
		c.Units.Space = "pixels"
	}
	if c.Units.Time == "" {
		c.Units.Time = "frames"
	}
	if c.Analysis.GlobalTrackInput == "" {
		c.Analysis.GlobalTrackInput = FilteredTracks.String()
	}
}

// Validate reports every problem of the configuration at once.
func (c Config) Validate() error {
	var errs []error
	if _, ok := parseGlobalTrackInput(c.Analysis.GlobalTrackInput); !ok {
		errs = append(errs, fmt.Errorf("analysis.global_track_input: unsupported value %q", c.Analysis.GlobalTrackInput))
	}
	seen := make(map[string]bool)
	for i, key := range c.Analysis.Analyzers {
		if _, ok := builtins[key]; !ok {
			errs = append(errs, fmt.Errorf("analysis.analyzers[%d]: %w: %q", i, ErrUnknownAnalyzer, key))
		}
		if seen[key] {
			errs = append(errs, fmt.Errorf("analysis.analyzers[%d]: %w: %q", i, ErrDuplicateAnalyzer, key))
		}
		for _, dep := range builtinDeps[key] {
			if !seen[dep] {
				errs = append(errs, fmt.Errorf("analysis.analyzers[%d]: %w: %q needs %q listed before it", i, ErrMissingDependency, key, dep))
			}
		}
		seen[key] = true
	}
	for i, f := range c.Filters {
		if f.Feature == "" {
			errs = append(errs, fmt.Errorf("filters[%d]: missing feature", i))
		}
	}
	return errors.Join(errs...)
}

// SpotFilters converts the configured filters.
func (c Config) SpotFilters() []FeatureFilter {
	out := make([]FeatureFilter, len(c.Filters))
	for i, f := range c.Filters {
		out[i] = FeatureFilter{Feature: f.Feature, Value: f.Value, IsAbove: f.Above}
	}
	return out
}

func parseGlobalTrackInput(s string) (GlobalTrackInput, bool) {
	switch s {
	case "", FilteredTracks.String():
		return FilteredTracks, true
	case UpdatedTracks.String():
		return UpdatedTracks, true
	default:
		return FilteredTracks, false
	}
}
