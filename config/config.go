// Package config loads kmerge settings from a YAML file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	DefaultWorkers     = 10
	DefaultRunLength   = 100
	DefaultSeed        = 1
	DefaultMaxValue    = 1000
	DefaultLogLevel    = "info"
	DefaultListen      = ":8080"
	DefaultEventBuffer = 100
)

// Config holds the settings shared by the run and serve commands.
type Config struct {
	// Workers is K, the number of runs
	Workers int `yaml:"workers"`

	// RunLength is N, the length of every run
	RunLength int `yaml:"run_length"`

	// Seed drives the generated input
	Seed uint64 `yaml:"seed"`

	// MaxValue bounds generated values to [0, MaxValue)
	MaxValue int `yaml:"max_value"`

	LogLevel    string `yaml:"log_level"`
	Listen      string `yaml:"listen"`
	EventBuffer int    `yaml:"event_buffer"`

	// ShowRounds adds one report line per round to the run command
	ShowRounds bool `yaml:"show_rounds"`
}

// Default returns the built-in configuration
func Default() Config {
	return Config{
		Workers:     DefaultWorkers,
		RunLength:   DefaultRunLength,
		Seed:        DefaultSeed,
		MaxValue:    DefaultMaxValue,
		LogLevel:    DefaultLogLevel,
		Listen:      DefaultListen,
		EventBuffer: DefaultEventBuffer,
	}
}

// Load reads the YAML file at path over the defaults. An empty path or a
// missing file yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	c.Listen = strings.TrimSpace(c.Listen)
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	if c.MaxValue == 0 {
		c.MaxValue = DefaultMaxValue
	}
	if c.EventBuffer == 0 {
		c.EventBuffer = DefaultEventBuffer
	}
}

// Validate rejects settings no merge can run with
func (c Config) Validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("workers must be >= 1, got %d", c.Workers)
	}
	if c.RunLength < 1 {
		return fmt.Errorf("run_length must be >= 1, got %d", c.RunLength)
	}
	if c.MaxValue < 1 {
		return fmt.Errorf("max_value must be >= 1, got %d", c.MaxValue)
	}
	if c.EventBuffer < 1 {
		return fmt.Errorf("event_buffer must be >= 1, got %d", c.EventBuffer)
	}
	switch c.LogLevel {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log_level %q", c.LogLevel)
	}
	return nil
}
