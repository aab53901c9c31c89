// Package config loads tenor.yaml and applies environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds all tenor configuration.
type Config struct {
	// Elaboration pipeline settings
	Elaboration ElaborationConfig `yaml:"elaboration"`

	// Evaluation engine settings
	Evaluation EvaluationConfig `yaml:"evaluation"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// ElaborationConfig bounds the import resolver.
type ElaborationConfig struct {
	// MaxImportFiles caps how many files one bundle may pull in.
	MaxImportFiles int `yaml:"max_import_files"`
	// MaxFileSizeKB caps the size of a single contract file.
	MaxFileSizeKB int `yaml:"max_file_size_kb"`
}

// EvaluationConfig bounds the flow engine.
type EvaluationConfig struct {
	// MaxFlowSteps caps the steps a single flow run may execute,
	// counting sub-flow and compensation steps.
	MaxFlowSteps int `yaml:"max_flow_steps"`
	// MaxSubFlowDepth caps sub-flow recursion.
	MaxSubFlowDepth int `yaml:"max_sub_flow_depth"`
}

// LoggingConfig configures the CLI's structured logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
	File   string `yaml:"file"`   // empty means stderr only
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Elaboration: ElaborationConfig{
			MaxImportFiles: 256,
			MaxFileSizeKB:  1024,
		},
		Evaluation: EvaluationConfig{
			MaxFlowSteps:    1000,
			MaxSubFlowDepth: 32,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields the
// defaults; environment overrides apply either way.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Validate checks that limits are within acceptable ranges.
func (c *Config) Validate() error {
	if c.Elaboration.MaxImportFiles < 1 {
		return fmt.Errorf("max_import_files must be >= 1")
	}
	if c.Elaboration.MaxFileSizeKB < 1 {
		return fmt.Errorf("max_file_size_kb must be >= 1")
	}
	if c.Evaluation.MaxFlowSteps < 1 {
		return fmt.Errorf("max_flow_steps must be >= 1")
	}
	if c.Evaluation.MaxSubFlowDepth < 1 {
		return fmt.Errorf("max_sub_flow_depth must be >= 1")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Logging.Level)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("TENOR_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("TENOR_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	if v := os.Getenv("TENOR_LOG_FILE"); v != "" {
		c.Logging.File = v
	}
	if n, ok := envInt("TENOR_MAX_FLOW_STEPS"); ok {
		c.Evaluation.MaxFlowSteps = n
	}
	if n, ok := envInt("TENOR_MAX_SUB_FLOW_DEPTH"); ok {
		c.Evaluation.MaxSubFlowDepth = n
	}
	if n, ok := envInt("TENOR_MAX_IMPORT_FILES"); ok {
		c.Elaboration.MaxImportFiles = n
	}
}

func envInt(name string) (int, bool) {
	v := os.Getenv(name)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}
