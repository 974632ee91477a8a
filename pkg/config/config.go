// Package config loads RuneDB host configuration from a YAML file with
// environment overrides. The query engine itself takes no configuration;
// everything here selects and tunes the storage engine and the CLI.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Engine names accepted by Config.Engine.
const (
	EngineMemory = "memory"
	EngineBadger = "badger"
)

// Config is the full host configuration.
type Config struct {
	// Engine selects the storage backend: "memory" or "badger".
	Engine string `yaml:"engine"`

	// DataDir is the Badger data directory. Ignored by the memory engine.
	DataDir string `yaml:"data_dir"`

	// SyncWrites forces Badger to fsync every commit.
	SyncWrites bool `yaml:"sync_writes"`

	Log LogConfig `yaml:"log"`
}

// LogConfig controls logrus output.
type LogConfig struct {
	// Level is a logrus level name: debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is "text" or "json".
	Format string `yaml:"format"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Engine:  EngineMemory,
		DataDir: "./runedb-data",
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads a YAML config file, falling back to defaults for absent keys,
// then applies RUNEDB_* environment overrides. An empty path skips the
// file and loads defaults plus environment.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("RUNEDB_ENGINE"); v != "" {
		c.Engine = v
	}
	if v := os.Getenv("RUNEDB_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("RUNEDB_SYNC_WRITES"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.SyncWrites = b
		}
	}
	if v := os.Getenv("RUNEDB_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("RUNEDB_LOG_FORMAT"); v != "" {
		c.Log.Format = v
	}
}

func (c *Config) validate() error {
	switch c.Engine {
	case EngineMemory, EngineBadger:
	default:
		return fmt.Errorf("unknown engine %q (want %q or %q)", c.Engine, EngineMemory, EngineBadger)
	}
	if c.Engine == EngineBadger && c.DataDir == "" {
		return fmt.Errorf("badger engine requires data_dir")
	}
	return nil
}
