package config

import (
	"os"
	"path/filepath"
	"time"

	"go.yaml.in/yaml/v3"
)

// FileName is looked up in the working directory, then the home directory.
const FileName = ".shapespectre.yml"

// Config holds all shapespectre configuration.
type Config struct {
	URI      string   `yaml:"uri"`
	Exclude  Exclude  `yaml:"exclude"`
	Analysis Analysis `yaml:"analysis"`
	Defaults Defaults `yaml:"defaults"`
	Atlas    Atlas    `yaml:"atlas"`
}

// Exclude lists databases whose query shapes are skipped.
type Exclude struct {
	Databases []string `yaml:"databases"`
}

// Analysis controls shape analysis.
type Analysis struct {
	MinRejectVersion int  `yaml:"min_reject_version"` // server major version that supports setQuerySettings
	Workers          int  `yaml:"workers"`            // concurrent explain calls
	SuggestAll       bool `yaml:"suggest_all"`        // suggest indexes without a COLLSCAN plan
}

// Defaults holds default CLI flag values.
type Defaults struct {
	Format  string `yaml:"format"`
	Verbose bool   `yaml:"verbose"`
	Timeout string `yaml:"timeout"` // parsed as time.Duration
}

// Atlas holds Admin API settings. Keys come from flags or the environment.
type Atlas struct {
	BaseURL     string `yaml:"base_url"`
	RateLimitMS int    `yaml:"rate_limit_ms"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		Exclude: Exclude{
			Databases: []string{"admin", "config", "local"},
		},
		Analysis: Analysis{
			MinRejectVersion: 8,
			Workers:          4,
		},
		Defaults: Defaults{
			Format:  "text",
			Timeout: "30s",
		},
		Atlas: Atlas{
			RateLimitMS: 250,
		},
	}
}

// Load reads configuration from .shapespectre.yml in the given directory,
// falling back to ~/.shapespectre.yml. Returns DefaultConfig if no file found.
func Load(dir string) (Config, error) {
	cfg := DefaultConfig()

	// Try CWD first, then home directory.
	paths := []string{filepath.Join(dir, FileName)}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, FileName))
	}

	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			continue // file not found, try next
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
		return cfg, nil
	}

	return cfg, nil
}

// TimeoutDuration parses the Defaults.Timeout string as a time.Duration.
// Returns 30s if parsing fails.
func (c *Config) TimeoutDuration() time.Duration {
	if c.Defaults.Timeout == "" {
		return 30 * time.Second
	}
	d, err := time.ParseDuration(c.Defaults.Timeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}
