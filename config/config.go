// Package config loads an AppConfig from YAML: the knob set the Platform,
// worker pools, and execution paths need at process start-up.
package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/v8app/jsapp/jsapperr"
)

// AppConfig is the top-level configuration for one App process.
type AppConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
	Root    string `yaml:"root"`

	WorkerPool WorkerPoolConfig `yaml:"worker_pool"`
	Isolate    IsolateConfig    `yaml:"isolate"`
	Execution  ExecutionConfig  `yaml:"execution"`
}

// WorkerPoolConfig sizes the three priority pools backing Platform.
type WorkerPoolConfig struct {
	BestEffortSize   int `yaml:"best_effort_size"`
	UserVisibleSize  int `yaml:"user_visible_size"`
	UserBlockingSize int `yaml:"user_blocking_size"`
}

// IsolateConfig bounds the per-isolate V8 heap passed to
// v8.WithResourceConstraints.
type IsolateConfig struct {
	MaxOldSpaceMB int `yaml:"max_old_space_mb"`
	MaxYoungSpaceMB int `yaml:"max_young_space_mb"`
}

// ExecutionConfig bounds a single module-evaluation pass with a watchdog
// timeout.
type ExecutionConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

// DefaultConfig returns reasonable defaults for a single-process App.
func DefaultConfig() AppConfig {
	return AppConfig{
		Name:    "app",
		Version: "0.0.0",
		WorkerPool: WorkerPoolConfig{
			BestEffortSize:   2,
			UserVisibleSize:  2,
			UserBlockingSize: 2,
		},
		Isolate: IsolateConfig{
			MaxOldSpaceMB:   512,
			MaxYoungSpaceMB: 64,
		},
		Execution: ExecutionConfig{
			Timeout: 30 * time.Second,
		},
	}
}

// Load reads and parses an AppConfig from the YAML file at path, starting
// from DefaultConfig so unspecified fields keep their defaults.
func Load(path string) (AppConfig, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return AppConfig{}, jsapperr.Wrap(jsapperr.ConfigError, "config.Load", "reading "+path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return AppConfig{}, jsapperr.Wrap(jsapperr.ConfigError, "config.Load", "parsing "+path, err)
	}
	if err := cfg.Validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

// Validate checks the invariants the rest of the module relies on.
func (c AppConfig) Validate() error {
	if c.Name == "" {
		return jsapperr.New(jsapperr.ConfigError, "AppConfig.Validate", "name must not be empty")
	}
	if c.Root == "" {
		return jsapperr.New(jsapperr.ConfigError, "AppConfig.Validate", "root must not be empty")
	}
	if c.WorkerPool.BestEffortSize < 0 || c.WorkerPool.UserVisibleSize < 0 || c.WorkerPool.UserBlockingSize < 0 {
		return jsapperr.New(jsapperr.ConfigError, "AppConfig.Validate", "worker pool sizes must be non-negative")
	}
	if c.Execution.Timeout <= 0 {
		return jsapperr.New(jsapperr.ConfigError, "AppConfig.Validate", "execution timeout must be positive")
	}
	return nil
}
