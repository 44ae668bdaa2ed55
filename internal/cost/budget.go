// Package cost counts LLM token usage and enforces per-run and per-file
// token budgets.
package cost

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// BudgetStatus represents the current budget state
type BudgetStatus int

const (
	// BudgetHealthy indicates normal operation - under budget limits
	BudgetHealthy BudgetStatus = iota
	// BudgetWarning indicates usage past the alert threshold
	BudgetWarning
	// BudgetExceeded indicates the run budget is spent
	BudgetExceeded
)

// String returns a human-readable string representation of the budget status
func (s BudgetStatus) String() string {
	switch s {
	case BudgetHealthy:
		return "HEALTHY"
	case BudgetWarning:
		return "WARNING"
	case BudgetExceeded:
		return "EXCEEDED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

type fileKey struct{}

// WithFile tags ctx with the file whose processing triggers LLM calls, so
// usage can be charged to it.
func WithFile(ctx context.Context, file string) context.Context {
	return context.WithValue(ctx, fileKey{}, file)
}

// FileFrom returns the file set by WithFile, or "".
func FileFrom(ctx context.Context) string {
	f, _ := ctx.Value(fileKey{}).(string)
	return f
}

// Tracker counts token usage and decides whether another call may proceed.
// Safe for concurrent use.
type Tracker struct {
	config Config

	mu           sync.Mutex
	calls        int
	inputTokens  int64
	outputTokens int64
	fileTokens   map[string]int64
	warned       bool
}

// NewTracker creates a tracker.
func NewTracker(cfg Config) (*Tracker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid budget config: %w", err)
	}
	return &Tracker{config: cfg, fileTokens: map[string]int64{}}, nil
}

// RecordUsage charges one call's tokens to file ("" for calls outside any file).
func (t *Tracker) RecordUsage(file string, inputTokens, outputTokens int64) BudgetStatus {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.calls++
	t.inputTokens += inputTokens
	t.outputTokens += outputTokens
	if file != "" {
		t.fileTokens[file] += inputTokens + outputTokens
	}

	status := t.statusLocked()
	if status == BudgetWarning && !t.warned {
		t.warned = true
		slog.Warn("LLM token budget nearly spent",
			"used", t.inputTokens+t.outputTokens,
			"limit", t.config.MaxTokensPerRun)
	}
	return status
}

// CanProceed reports whether another call for file fits the budget, and why not.
func (t *Tracker) CanProceed(file string) (bool, string) {
	if !t.config.Enabled {
		return true, ""
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	used := t.inputTokens + t.outputTokens
	if t.config.MaxTokensPerRun > 0 && used >= t.config.MaxTokensPerRun {
		return false, fmt.Sprintf("run token budget exceeded (%d/%d tokens used)", used, t.config.MaxTokensPerRun)
	}
	if file != "" && t.config.MaxTokensPerFile > 0 && t.fileTokens[file] >= t.config.MaxTokensPerFile {
		return false, fmt.Sprintf("per-file token budget exceeded for %s (%d/%d tokens used)",
			file, t.fileTokens[file], t.config.MaxTokensPerFile)
	}
	return true, ""
}

// Stats contains usage statistics
type Stats struct {
	Status       BudgetStatus `json:"status"`
	Calls        int          `json:"calls"`
	InputTokens  int64        `json:"input_tokens"`
	OutputTokens int64        `json:"output_tokens"`
	TotalTokens  int64        `json:"total_tokens"`
	// CostUSD is estimated from the configured per-token prices
	CostUSD float64 `json:"cost_usd"`
}

// GetStats returns current usage statistics
func (t *Tracker) GetStats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Stats{
		Status:       t.statusLocked(),
		Calls:        t.calls,
		InputTokens:  t.inputTokens,
		OutputTokens: t.outputTokens,
		TotalTokens:  t.inputTokens + t.outputTokens,
		CostUSD:      t.calculateCost(t.inputTokens, t.outputTokens),
	}
}

// FileTokens returns the tokens charged to file.
func (t *Tracker) FileTokens(file string) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.fileTokens[file]
}

func (t *Tracker) statusLocked() BudgetStatus {
	limit := t.config.MaxTokensPerRun
	if !t.config.Enabled || limit == 0 {
		return BudgetHealthy
	}
	used := t.inputTokens + t.outputTokens
	switch {
	case used >= limit:
		return BudgetExceeded
	case float64(used) >= t.config.AlertThreshold*float64(limit):
		return BudgetWarning
	default:
		return BudgetHealthy
	}
}

// calculateCost calculates the cost in USD for given token usage
func (t *Tracker) calculateCost(inputTokens, outputTokens int64) float64 {
	inputCost := float64(inputTokens) * t.config.InputTokenCost / 1_000_000
	outputCost := float64(outputTokens) * t.config.OutputTokenCost / 1_000_000
	return inputCost + outputCost
}
