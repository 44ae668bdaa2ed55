package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/refactorswarm/swarm/internal/cost"
)

func messageJSON(text string) string {
	body, _ := json.Marshal(map[string]any{
		"id":            "msg_test",
		"type":          "message",
		"role":          "assistant",
		"model":         "claude-test",
		"stop_reason":   "end_turn",
		"stop_sequence": nil,
		"content":       []map[string]any{{"type": "text", "text": text}},
		"usage":         map[string]any{"input_tokens": 12, "output_tokens": 7},
	})
	return string(body)
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *AnthropicClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewAnthropicClient(Config{
		APIKey:  "sk-test",
		Model:   "claude-test",
		BaseURL: srv.URL,
		Retry:   fastRetry(),
	})
	require.NoError(t, err)
	return c
}

func TestNewAnthropicClientValidation(t *testing.T) {
	_, err := NewAnthropicClient(Config{Model: "m"})
	assert.Error(t, err, "API key is required")

	_, err = NewAnthropicClient(Config{APIKey: "k"})
	assert.Error(t, err, "model is required")
}

func TestCallReturnsText(t *testing.T) {
	var gotBody map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "sk-test", r.Header.Get("X-Api-Key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(messageJSON(`{"critical": []}`)))
	})

	text, err := c.Call(context.Background(), "audit", "Analyze this")
	require.NoError(t, err)
	assert.Equal(t, `{"critical": []}`, text)
	assert.Equal(t, "claude-test", c.Model())
	assert.Equal(t, "claude-test", gotBody["model"])
}

func TestCallRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"type":"error","error":{"type":"api_error","message":"boom"}}`))
			return
		}
		_, _ = w.Write([]byte(messageJSON("ok")))
	})

	text, err := c.Call(context.Background(), "fix", "Fix this")
	require.NoError(t, err)
	assert.Equal(t, "ok", text)
	assert.Equal(t, int32(2), calls.Load())
}

func TestCallDoesNotRetryAuthErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"authentication_error","message":"bad key"}}`))
	})

	_, err := c.Call(context.Background(), "audit", "Analyze this")
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestCallEmptyResponse(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(messageJSON("   ")))
	})

	_, err := c.Call(context.Background(), "audit", "Analyze this")
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestRateLimiterSpacesRequests(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(messageJSON("ok")))
	}))
	defer srv.Close()

	c, err := NewAnthropicClient(Config{
		APIKey:            "sk-test",
		Model:             "claude-test",
		BaseURL:           srv.URL,
		RequestsPerMinute: 600, // one every 100ms
		Retry:             fastRetry(),
	})
	require.NoError(t, err)

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := c.Call(context.Background(), "audit", "p")
		require.NoError(t, err)
	}
	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
}

func TestCallChargesBudget(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(messageJSON("ok")))
	}))
	t.Cleanup(srv.Close)

	budgetCfg := cost.DefaultConfig()
	budgetCfg.Enabled = true
	budgetCfg.MaxTokensPerRun = 0
	budgetCfg.MaxTokensPerFile = 19
	budget, err := cost.NewTracker(budgetCfg)
	require.NoError(t, err)

	c, err := NewAnthropicClient(Config{
		APIKey:  "sk-test",
		Model:   "claude-test",
		BaseURL: srv.URL,
		Retry:   fastRetry(),
		Budget:  budget,
	})
	require.NoError(t, err)

	ctx := cost.WithFile(context.Background(), "a.py")
	_, err = c.Call(ctx, "audit", "first")
	require.NoError(t, err)
	assert.Equal(t, int64(19), budget.FileTokens("a.py"), "12 input + 7 output")

	_, err = c.Call(ctx, "fix", "second")
	assert.ErrorIs(t, err, ErrBudgetExceeded)
	assert.Equal(t, int32(1), calls.Load(), "no request once the file budget is spent")

	_, err = c.Call(cost.WithFile(context.Background(), "b.py"), "audit", "other file")
	assert.NoError(t, err)
	assert.Equal(t, 2, budget.GetStats().Calls)
}
