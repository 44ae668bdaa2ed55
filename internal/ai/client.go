package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/refactorswarm/swarm/internal/cost"
)

// Client is the LLM collaborator: a fallible prompt-to-text call.
// Agents depend on this interface so tests can substitute a fake.
type Client interface {
	// Call sends prompt and returns the response text. operation names the
	// caller for logging and retry messages.
	Call(ctx context.Context, operation, prompt string) (string, error)
	// Model returns the model name recorded in the experiment log.
	Model() string
}

var (
	// ErrEmptyResponse is returned when the model answers with no text.
	ErrEmptyResponse = errors.New("empty response from model")
	// ErrBudgetExceeded is returned without calling the API once the token budget is spent.
	ErrBudgetExceeded = errors.New("LLM token budget exceeded")
)

// Config holds LLM client configuration
type Config struct {
	APIKey      string  // Required
	Model       string  // Model to use
	MaxTokens   int     // Default: 4096
	Temperature float64 // Default: 0 (deterministic)
	// RequestsPerMinute caps request rate across all agents. 0 disables limiting.
	RequestsPerMinute int
	// BaseURL overrides the API endpoint (tests, proxies).
	BaseURL string
	Retry   RetryConfig // Uses defaults if MaxRetries and Timeout are zero
	// Budget, when set, is charged for every response and consulted before each call.
	Budget *cost.Tracker
}

// AnthropicClient implements Client on the Anthropic Messages API with
// retries, a circuit breaker, a concurrency cap and a rate limiter.
type AnthropicClient struct {
	client         *anthropic.Client
	model          string
	maxTokens      int
	temperature    float64
	retry          RetryConfig
	circuitBreaker *CircuitBreaker
	concurrencySem *semaphore.Weighted
	limiter        *rate.Limiter
	budget         *cost.Tracker
}

var _ Client = (*AnthropicClient)(nil)

// NewAnthropicClient creates a client. The API key must be supplied by the
// caller; the config layer reads it from the environment.
func NewAnthropicClient(cfg Config) (*AnthropicClient, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("API key is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required")
	}
	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}

	retry := cfg.Retry
	if retry.MaxRetries == 0 && retry.Timeout == 0 {
		retry = DefaultRetryConfig()
	}

	// The SDK's own retries are disabled so retryWithBackoff is the only
	// retry loop and the circuit breaker sees every failure.
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	client := anthropic.NewClient(opts...)

	var circuitBreaker *CircuitBreaker
	if retry.CircuitBreakerEnabled {
		circuitBreaker = NewCircuitBreaker(retry.FailureThreshold, retry.SuccessThreshold, retry.OpenTimeout)
	}

	var concurrencySem *semaphore.Weighted
	if retry.MaxConcurrentCalls > 0 {
		concurrencySem = semaphore.NewWeighted(int64(retry.MaxConcurrentCalls))
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), 1)
	}

	slog.Debug("llm client initialized",
		"model", cfg.Model,
		"max_retries", retry.MaxRetries,
		"max_concurrent", retry.MaxConcurrentCalls,
		"requests_per_minute", cfg.RequestsPerMinute)

	return &AnthropicClient{
		client:         &client,
		model:          cfg.Model,
		maxTokens:      maxTokens,
		temperature:    cfg.Temperature,
		retry:          retry,
		circuitBreaker: circuitBreaker,
		concurrencySem: concurrencySem,
		limiter:        limiter,
		budget:         cfg.Budget,
	}, nil
}

// Model returns the configured model name.
func (c *AnthropicClient) Model() string {
	return c.model
}

// Call sends a single user message and concatenates the text blocks of the reply.
func (c *AnthropicClient) Call(ctx context.Context, operation, prompt string) (string, error) {
	startTime := time.Now()
	file := cost.FileFrom(ctx)
	if c.budget != nil {
		if ok, reason := c.budget.CanProceed(file); !ok {
			return "", fmt.Errorf("%s: %w: %s", operation, ErrBudgetExceeded, reason)
		}
	}

	var response *anthropic.Message
	err := c.retryWithBackoff(ctx, operation, func(attemptCtx context.Context) error {
		if c.limiter != nil {
			if err := c.limiter.Wait(attemptCtx); err != nil {
				return fmt.Errorf("rate limiter: %w", err)
			}
		}
		resp, apiErr := c.client.Messages.New(attemptCtx, anthropic.MessageNewParams{
			Model:       anthropic.Model(c.model),
			MaxTokens:   int64(c.maxTokens),
			Temperature: anthropic.Float(c.temperature),
			Messages: []anthropic.MessageParam{
				anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
			},
		})
		if apiErr != nil {
			return apiErr
		}
		response = resp
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("anthropic API call failed: %w", err)
	}

	if c.budget != nil {
		c.budget.RecordUsage(file, response.Usage.InputTokens, response.Usage.OutputTokens)
	}

	var text strings.Builder
	for _, block := range response.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	slog.Debug("llm call",
		"operation", operation,
		"input_tokens", response.Usage.InputTokens,
		"output_tokens", response.Usage.OutputTokens,
		"duration", time.Since(startTime))

	if strings.TrimSpace(text.String()) == "" {
		return "", fmt.Errorf("%s: %w", operation, ErrEmptyResponse)
	}
	return text.String(), nil
}
