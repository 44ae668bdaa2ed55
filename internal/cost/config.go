package cost

import "fmt"

// Config holds LLM budget configuration for one run.
type Config struct {
	// Enabled controls whether limits are enforced. Usage is always counted.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// MaxTokensPerRun is the maximum number of tokens (input + output) a run may use
	// 0 = unlimited
	// Default: 2000000
	MaxTokensPerRun int64 `yaml:"max_tokens_per_run"`

	// MaxTokensPerFile keeps one stubborn file from burning the run budget
	// 0 = unlimited
	// Default: 200000
	MaxTokensPerFile int64 `yaml:"max_tokens_per_file"`

	// AlertThreshold is the fraction of the run budget that triggers a warning
	// Default: 0.80
	AlertThreshold float64 `yaml:"alert_threshold"`

	// InputTokenCost is the cost per 1M input tokens (in USD)
	// Default: $3.00 for Claude Sonnet 4.5
	InputTokenCost float64 `yaml:"input_token_cost"`

	// OutputTokenCost is the cost per 1M output tokens (in USD)
	// Default: $15.00 for Claude Sonnet 4.5
	OutputTokenCost float64 `yaml:"output_token_cost"`
}

// DefaultConfig returns default budget configuration
func DefaultConfig() Config {
	return Config{
		MaxTokensPerRun:  2_000_000,
		MaxTokensPerFile: 200_000,
		AlertThreshold:   0.80,
		InputTokenCost:   3.00,  // $3 per 1M input tokens (Claude Sonnet 4.5)
		OutputTokenCost:  15.00, // $15 per 1M output tokens (Claude Sonnet 4.5)
	}
}

// Validate checks if the configuration is valid
func (c Config) Validate() error {
	if c.MaxTokensPerRun < 0 {
		return fmt.Errorf("max_tokens_per_run must be non-negative, got %d", c.MaxTokensPerRun)
	}
	if c.MaxTokensPerFile < 0 {
		return fmt.Errorf("max_tokens_per_file must be non-negative, got %d", c.MaxTokensPerFile)
	}
	if c.AlertThreshold < 0 || c.AlertThreshold > 1 {
		return fmt.Errorf("alert_threshold must be between 0 and 1, got %.2f", c.AlertThreshold)
	}
	if c.InputTokenCost < 0 {
		return fmt.Errorf("input_token_cost must be non-negative, got %.2f", c.InputTokenCost)
	}
	if c.OutputTokenCost < 0 {
		return fmt.Errorf("output_token_cost must be non-negative, got %.2f", c.OutputTokenCost)
	}
	return nil
}
