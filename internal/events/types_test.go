package events

import (
	"errors"
	"testing"
)

func TestEntryValidate(t *testing.T) {
	tests := []struct {
		name    string
		entry   *Entry
		wantErr bool
	}{
		{
			name:  "complete",
			entry: NewEntry("Auditor", "claude", ActionAnalysis, StatusSuccess, "Analyze sample.py", "{\"critical\": []}"),
		},
		{
			name:    "empty prompt",
			entry:   NewEntry("Auditor", "claude", ActionAnalysis, StatusSuccess, "", "ok response"),
			wantErr: true,
		},
		{
			name:    "N/A response",
			entry:   NewEntry("Auditor", "claude", ActionAnalysis, StatusSuccess, "prompt", "N/A"),
			wantErr: true,
		},
		{
			name:    "None response",
			entry:   NewEntry("Judge", "pytest", ActionDebug, StatusFailure, "prompt", " none "),
			wantErr: true,
		},
		{
			name:    "missing agent",
			entry:   NewEntry("", "claude", ActionFix, StatusInfo, "prompt", "response"),
			wantErr: true,
		},
		{
			name:    "missing model",
			entry:   NewEntry("Fixer", "", ActionFix, StatusInfo, "prompt", "response"),
			wantErr: true,
		},
		{
			name:    "bad action",
			entry:   NewEntry("Fixer", "claude", "REFACTOR", StatusInfo, "prompt", "response"),
			wantErr: true,
		},
		{
			name:    "bad status",
			entry:   NewEntry("Fixer", "claude", ActionFix, "OK", "prompt", "response"),
			wantErr: true,
		},
		{
			name:    "prompt not a string",
			entry:   NewEntry("Fixer", "claude", ActionFix, StatusInfo, "x", "y").With(DetailInputPrompt, 42),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.entry.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestMissingPromptIsErrMissingField(t *testing.T) {
	e := NewEntry("Auditor", "claude", ActionAnalysis, StatusSuccess, "", "resp")
	if err := e.Validate(); !errors.Is(err, ErrMissingField) {
		t.Errorf("expected ErrMissingField, got %v", err)
	}
}

func TestWithAndAccessors(t *testing.T) {
	e := NewEntry("Judge", "pytest", ActionGeneration, StatusSuccess, "run tests", "2 passed").
		With("file", "a.py").
		With("iteration", 2)

	if e.Prompt() != "run tests" || e.Response() != "2 passed" {
		t.Errorf("accessors returned %q / %q", e.Prompt(), e.Response())
	}
	if e.Details["file"] != "a.py" || e.Details["iteration"] != 2 {
		t.Errorf("unexpected details: %v", e.Details)
	}
}
