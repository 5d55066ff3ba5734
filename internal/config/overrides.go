package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Overrides holds ambient tuning knobs that live outside the wire
// protocol entirely: how verbosely to log, which extra hosts to probe,
// and whether to expose a metrics listener. Loads a YAML file into a
// struct of plain Go types before merging it over defaults.
type Overrides struct {
	LogLevel     string   `yaml:"log_level"`
	PingHosts    []string `yaml:"ping_hosts"`
	MetricsAddr  string   `yaml:"metrics_addr"`
	FastDelaySec int      `yaml:"fast_delay_seconds"`
}

// DefaultOverrides constructs sane zero-config defaults used before any
// override file is consulted.
func DefaultOverrides() Overrides {
	return Overrides{
		LogLevel:     "info",
		PingHosts:    []string{"8.8.8.8"},
		MetricsAddr:  "",
		FastDelaySec: 2,
	}
}

// LoadOverrides reads an optional local YAML file and merges it over
// DefaultOverrides. A missing file is not an error; the agent runs with
// defaults.
func LoadOverrides(path string) (Overrides, error) {
	out := DefaultOverrides()
	if path == "" {
		return out, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return out, nil
		}
		return out, fmt.Errorf("config: reading overrides file: %w", err)
	}
	if err := yaml.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("config: parsing overrides file: %w", err)
	}
	return out, nil
}
