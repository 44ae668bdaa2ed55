package events

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ActionType classifies what an agent did in a log entry.
type ActionType string

const (
	// ActionAnalysis is an audit of source code
	ActionAnalysis ActionType = "ANALYSIS"
	// ActionGeneration is produced when tests or code were generated
	ActionGeneration ActionType = "GENERATION"
	// ActionDebug is a validation pass that used existing tests
	ActionDebug ActionType = "DEBUG"
	// ActionFix is a fix pass
	ActionFix ActionType = "FIX"
)

// IsValid checks if the action type is valid
func (a ActionType) IsValid() bool {
	switch a {
	case ActionAnalysis, ActionGeneration, ActionDebug, ActionFix:
		return true
	}
	return false
}

// Status is the outcome recorded for a log entry.
type Status string

const (
	StatusSuccess Status = "SUCCESS"
	StatusFailure Status = "FAILURE"
	StatusInfo    Status = "INFO"
)

// IsValid checks if the status is valid
func (s Status) IsValid() bool {
	switch s {
	case StatusSuccess, StatusFailure, StatusInfo:
		return true
	}
	return false
}

// Required detail keys.
const (
	DetailInputPrompt    = "input_prompt"
	DetailOutputResponse = "output_response"
)

// ErrMissingField is returned when an entry lacks a required field.
var ErrMissingField = errors.New("log entry is missing a required field")

// Entry is one element of the experiment log array.
type Entry struct {
	Timestamp time.Time      `json:"timestamp"`
	Agent     string         `json:"agent"`
	Model     string         `json:"model"`
	Action    ActionType     `json:"action"`
	Details   map[string]any `json:"details"`
	Status    Status         `json:"status"`
}

// NewEntry builds an entry carrying the required prompt and response details.
func NewEntry(agent, model string, action ActionType, status Status, prompt, response string) *Entry {
	return &Entry{
		Agent:  agent,
		Model:  model,
		Action: action,
		Status: status,
		Details: map[string]any{
			DetailInputPrompt:    prompt,
			DetailOutputResponse: response,
		},
	}
}

// With sets an action-specific detail and returns the entry for chaining.
func (e *Entry) With(key string, value any) *Entry {
	if e.Details == nil {
		e.Details = map[string]any{}
	}
	e.Details[key] = value
	return e
}

// Prompt returns the input_prompt detail, or "" if it is absent or not a string.
func (e *Entry) Prompt() string {
	s, _ := e.Details[DetailInputPrompt].(string)
	return s
}

// Response returns the output_response detail.
func (e *Entry) Response() string {
	s, _ := e.Details[DetailOutputResponse].(string)
	return s
}

// Validate enforces the fields every persisted entry must carry.
func (e *Entry) Validate() error {
	if strings.TrimSpace(e.Agent) == "" {
		return fmt.Errorf("%w: agent", ErrMissingField)
	}
	if strings.TrimSpace(e.Model) == "" {
		return fmt.Errorf("%w: model", ErrMissingField)
	}
	if !e.Action.IsValid() {
		return fmt.Errorf("invalid action %q", e.Action)
	}
	if !e.Status.IsValid() {
		return fmt.Errorf("invalid status %q", e.Status)
	}
	for _, key := range []string{DetailInputPrompt, DetailOutputResponse} {
		s, ok := e.Details[key].(string)
		if !ok || IsPlaceholder(s) {
			return fmt.Errorf("%w: details.%s", ErrMissingField, key)
		}
	}
	return nil
}

// IsPlaceholder reports whether s carries no real content.
func IsPlaceholder(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "n/a", "none", "null":
		return true
	}
	return false
}

// Recorder accepts log entries. *Log implements it.
type Recorder interface {
	Record(e *Entry) error
}
