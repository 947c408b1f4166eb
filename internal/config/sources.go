package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Sources holds the configured webhook sources.
type Sources struct {
	Sources []SourceConfig `yaml:"sources"`
}

// SourceConfig defines a single authenticated webhook source.
type SourceConfig struct {
	Name   string `yaml:"name"`
	Secret string `yaml:"secret"`
	// RatePerSecond caps intake for this source; 0 uses the default.
	RatePerSecond int   `yaml:"rate_per_second"`
	Enabled       *bool `yaml:"enabled"` // defaults to true if nil
}

// IsEnabled returns whether this source is enabled (defaults to true).
func (s SourceConfig) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// LoadSources reads a YAML file and returns the parsed source table.
func LoadSources(path string) (*Sources, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sources config: %w", err)
	}
	var srcs Sources
	if err := yaml.Unmarshal(data, &srcs); err != nil {
		return nil, fmt.Errorf("parse sources config: %w", err)
	}
	for i, s := range srcs.Sources {
		if s.Name == "" {
			return nil, fmt.Errorf("sources config: entry %d has no name", i)
		}
		if s.IsEnabled() && s.Secret == "" {
			return nil, fmt.Errorf("sources config: source %q has no secret", s.Name)
		}
	}
	return &srcs, nil
}

// SecretTable returns the name -> secret map for enabled sources.
func (s *Sources) SecretTable() map[string]string {
	table := make(map[string]string, len(s.Sources))
	for _, src := range s.Sources {
		if src.IsEnabled() {
			table[src.Name] = src.Secret
		}
	}
	return table
}

// RateTable returns per-source rate overrides for enabled sources.
func (s *Sources) RateTable() map[string]int {
	table := make(map[string]int)
	for _, src := range s.Sources {
		if src.IsEnabled() && src.RatePerSecond > 0 {
			table[src.Name] = src.RatePerSecond
		}
	}
	return table
}
