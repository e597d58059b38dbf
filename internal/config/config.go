// Package config loads the scanner configuration from YAML.
package config

import (
	"errors"
	"os"
	"runtime"

	"gopkg.in/yaml.v3"
)

// Config represents the dwarf-scanner configuration.
type Config struct {
	// Database is the output database path.
	Database string `yaml:"database"`
	// StripPrefix makes stored source paths relative to this
	// directory when set.
	StripPrefix string `yaml:"strip_prefix"`
	// Workers bounds the number of binaries scraped concurrently.
	Workers int `yaml:"workers"`
	// LogLevel is one of error, warn, info, debug, trace.
	LogLevel string `yaml:"log_level"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Database: "layouts.db",
		Workers:  runtime.NumCPU(),
		LogLevel: "info",
	}
}

// Load reads configuration from file, falling back to defaults.
// If configPath is empty, it looks for dwarf-scanner.yaml in the
// current directory. A missing file is not an error.
func Load(configPath string) (*Config, error) {
	defaults := Default()

	if configPath == "" {
		configPath = "dwarf-scanner.yaml"
	}
	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return defaults, nil
		}
		return nil, err
	}

	var fileCfg Config
	if err := yaml.Unmarshal(data, &fileCfg); err != nil {
		return nil, err
	}
	defaults.Merge(&fileCfg)
	return defaults, nil
}

// Merge combines another config into this one, with other taking
// precedence for any field it sets.
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}
	if other.Database != "" {
		c.Database = other.Database
	}
	if other.StripPrefix != "" {
		c.StripPrefix = other.StripPrefix
	}
	if other.Workers > 0 {
		c.Workers = other.Workers
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
}
