package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/refactorswarm/swarm/internal/cost"
)

// DefaultModel is used when neither the config file nor the environment names one.
const DefaultModel = "claude-sonnet-4-5-20250929"

// APIKeyEnv is the environment variable holding the LLM credential.
const APIKeyEnv = "ANTHROPIC_API_KEY"

// ErrMissingCredential is returned by RequireCredential when no API key is set.
var ErrMissingCredential = errors.New(APIKeyEnv + " is not set")

// Timeouts bounds every blocking collaborator call.
type Timeouts struct {
	// Analysis covers pylint and the syntax helper. Default: 30s
	Analysis time.Duration `yaml:"analysis"`
	// Tests covers a pytest run. Default: 60s
	Tests time.Duration `yaml:"tests"`
	// Execution covers running the candidate module itself. Default: 5s
	Execution time.Duration `yaml:"execution"`
	// LLM is the per-attempt request timeout. Default: 2m
	LLM time.Duration `yaml:"llm"`
}

// LLMConfig tunes the LLM client.
type LLMConfig struct {
	MaxTokens         int     `yaml:"max_tokens"`
	Temperature       float64 `yaml:"temperature"`
	RequestsPerMinute int     `yaml:"requests_per_minute"`
	MaxConcurrent     int     `yaml:"max_concurrent"`
	MaxRetries        int     `yaml:"max_retries"`
}

// Config holds everything a swarm run needs.
type Config struct {
	// TargetDir is the directory of .py files to repair. Set from the CLI.
	TargetDir string `yaml:"target_dir"`

	// MaxIterations caps fix/test cycles per file.
	// Default: 10, Range: 1-100
	MaxIterations int `yaml:"max_iterations"`

	// CleanLogs truncates the experiment log before the run.
	CleanLogs bool `yaml:"clean_logs"`

	LogFile    string `yaml:"log_file"`
	SandboxDir string `yaml:"sandbox_dir"`
	Model      string `yaml:"model"`

	Python string `yaml:"python"`
	Pylint string `yaml:"pylint"`
	Pytest string `yaml:"pytest"`

	Timeouts Timeouts    `yaml:"timeouts"`
	LLM      LLMConfig   `yaml:"llm"`
	Budget   cost.Config `yaml:"budget"`

	// HistoryDB is the SQLite run-history path. Empty disables history.
	HistoryDB string `yaml:"history_db"`
	// MetricsFile receives Prometheus text-format metrics after the run. Empty disables.
	MetricsFile string `yaml:"metrics_file"`

	// Parallelism is the number of files processed concurrently.
	// Default: 1 (sequential)
	Parallelism int `yaml:"parallelism"`

	// ExcludeDirs are directory names skipped during discovery.
	ExcludeDirs []string `yaml:"exclude_dirs"`

	// APIKey is read from the environment only.
	APIKey string `yaml:"-"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		MaxIterations: 10,
		LogFile:       "logs/experiment_data.json",
		SandboxDir:    "sandbox",
		Model:         DefaultModel,
		Python:        "python3",
		Pylint:        "pylint",
		Pytest:        "pytest",
		Timeouts: Timeouts{
			Analysis:  30 * time.Second,
			Tests:     60 * time.Second,
			Execution: 5 * time.Second,
			LLM:       2 * time.Minute,
		},
		LLM: LLMConfig{
			MaxTokens:         4096,
			Temperature:       0.1,
			RequestsPerMinute: 50,
			MaxConcurrent:     3,
			MaxRetries:        3,
		},
		Budget:      cost.DefaultConfig(),
		HistoryDB:   ".swarm/history.db",
		Parallelism: 1,
		ExcludeDirs: []string{
			"__pycache__", ".git", ".hg", ".svn", ".venv", "venv",
			".tox", ".mypy_cache", ".pytest_cache", "node_modules",
		},
	}
}

// Load reads a YAML file over the defaults. A missing path is not an error
// when optional is true.
func Load(path string, optional bool) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if optional && errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overlays SWARM_* environment variables and reads the API key.
//
// Environment variables:
//   - SWARM_MAX_ITERATIONS: fix/test cycle cap (default: 10)
//   - SWARM_MODEL: LLM model name
//   - SWARM_LOG_FILE: experiment log path
//   - SWARM_SANDBOX_DIR: sandbox root
//   - SWARM_HISTORY_DB: run history database ("" keeps the configured value)
//   - SWARM_METRICS_FILE: Prometheus textfile output
//   - SWARM_PARALLELISM: concurrent files (default: 1)
//   - SWARM_PYTHON, SWARM_PYLINT, SWARM_PYTEST: tool binaries
//   - SWARM_ANALYSIS_TIMEOUT, SWARM_TEST_TIMEOUT, SWARM_EXEC_TIMEOUT: durations
//   - SWARM_TOKEN_BUDGET: run token budget; a positive value enables enforcement
//   - ANTHROPIC_API_KEY: LLM credential
func (c *Config) ApplyEnv() error {
	if err := parseEnvInt("SWARM_MAX_ITERATIONS", &c.MaxIterations); err != nil {
		return err
	}
	if err := parseEnvInt("SWARM_PARALLELISM", &c.Parallelism); err != nil {
		return err
	}
	parseEnvString("SWARM_MODEL", &c.Model)
	parseEnvString("SWARM_LOG_FILE", &c.LogFile)
	parseEnvString("SWARM_SANDBOX_DIR", &c.SandboxDir)
	parseEnvString("SWARM_HISTORY_DB", &c.HistoryDB)
	parseEnvString("SWARM_METRICS_FILE", &c.MetricsFile)
	parseEnvString("SWARM_PYTHON", &c.Python)
	parseEnvString("SWARM_PYLINT", &c.Pylint)
	parseEnvString("SWARM_PYTEST", &c.Pytest)
	if err := parseEnvDuration("SWARM_ANALYSIS_TIMEOUT", &c.Timeouts.Analysis); err != nil {
		return err
	}
	if err := parseEnvDuration("SWARM_TEST_TIMEOUT", &c.Timeouts.Tests); err != nil {
		return err
	}
	if err := parseEnvDuration("SWARM_EXEC_TIMEOUT", &c.Timeouts.Execution); err != nil {
		return err
	}
	budget := 0
	if err := parseEnvInt("SWARM_TOKEN_BUDGET", &budget); err != nil {
		return err
	}
	if budget > 0 {
		c.Budget.Enabled = true
		c.Budget.MaxTokensPerRun = int64(budget)
	}
	c.APIKey = strings.TrimSpace(os.Getenv(APIKeyEnv))
	return nil
}

// Validate checks if the configuration has valid values
func (c *Config) Validate() error {
	if c.MaxIterations < 1 || c.MaxIterations > 100 {
		return fmt.Errorf("max_iterations must be between 1 and 100 (got %d)", c.MaxIterations)
	}
	if c.Parallelism < 1 {
		return fmt.Errorf("parallelism must be at least 1 (got %d)", c.Parallelism)
	}
	if c.LogFile == "" {
		return fmt.Errorf("log_file is required")
	}
	if c.SandboxDir == "" {
		return fmt.Errorf("sandbox_dir is required")
	}
	if c.Model == "" {
		return fmt.Errorf("model is required")
	}
	if c.Python == "" || c.Pylint == "" || c.Pytest == "" {
		return fmt.Errorf("python, pylint and pytest commands are required")
	}
	for name, d := range map[string]time.Duration{
		"timeouts.analysis":  c.Timeouts.Analysis,
		"timeouts.tests":     c.Timeouts.Tests,
		"timeouts.execution": c.Timeouts.Execution,
		"timeouts.llm":       c.Timeouts.LLM,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive (got %v)", name, d)
		}
	}
	if c.LLM.MaxTokens <= 0 {
		return fmt.Errorf("llm.max_tokens must be positive (got %d)", c.LLM.MaxTokens)
	}
	if c.LLM.RequestsPerMinute < 0 || c.LLM.MaxConcurrent < 0 || c.LLM.MaxRetries < 0 {
		return fmt.Errorf("llm limits cannot be negative")
	}
	if err := c.Budget.Validate(); err != nil {
		return fmt.Errorf("budget: %w", err)
	}
	return nil
}

// RequireCredential fails when no API key was found in the environment.
func (c *Config) RequireCredential() error {
	if c.APIKey == "" {
		return ErrMissingCredential
	}
	return nil
}

// String returns a human-readable representation of the config
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{TargetDir: %s, MaxIterations: %d, Model: %s, LogFile: %s, "+
			"SandboxDir: %s, Parallelism: %d, HistoryDB: %q}",
		c.TargetDir, c.MaxIterations, c.Model, c.LogFile,
		c.SandboxDir, c.Parallelism, c.HistoryDB,
	)
}
