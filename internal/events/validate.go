package events

import (
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Finding is a single validation message tied to an entry index.
type Finding struct {
	Index   int    `json:"index"`
	Message string `json:"message"`
}

func (f Finding) String() string {
	return fmt.Sprintf("entry %d: %s", f.Index, f.Message)
}

// Stats aggregates what a validation pass saw.
type Stats struct {
	ByAgent        map[string]int `json:"by_agent"`
	ByAction       map[string]int `json:"by_action"`
	ByStatus       map[string]int `json:"by_status"`
	MaxIteration   int            `json:"max_iteration"`
	AvgPromptLen   float64        `json:"avg_prompt_len"`
	AvgResponseLen float64        `json:"avg_response_len"`
}

// ValidationReport is the outcome of validating a log file.
type ValidationReport struct {
	Entries  int       `json:"entries"`
	Errors   []Finding `json:"errors"`
	Warnings []Finding `json:"warnings"`
	Stats    Stats     `json:"stats"`
}

// OK reports whether no errors were found.
func (r *ValidationReport) OK() bool {
	return len(r.Errors) == 0
}

// QualityScore is 100 minus 15 per error and 2 per warning, floored at 0.
func (r *ValidationReport) QualityScore() int {
	score := 100 - 15*len(r.Errors) - 2*len(r.Warnings)
	if score < 0 {
		return 0
	}
	return score
}

// Validator checks raw log files independently of the Log writer, so files
// produced by older or foreign writers can be audited.
type Validator struct {
	// MaxIteration is the highest iteration number an entry may carry when
	// the entry does not record its own details.max_iterations.
	MaxIteration   int
	MinPromptLen   int
	MinResponseLen int
}

// NewValidator returns a validator with the default thresholds.
func NewValidator() *Validator {
	return &Validator{
		MaxIteration:   10,
		MinPromptLen:   15,
		MinResponseLen: 5,
	}
}

// ValidateFile reads and validates the log at path.
func (v *Validator) ValidateFile(path string) (*ValidationReport, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read log %s: %w", path, err)
	}
	return v.Validate(data)
}

// Validate checks every element of a JSON array of log entries. It returns an
// error only if data is not a JSON array.
func (v *Validator) Validate(data []byte) (*ValidationReport, error) {
	var raw []map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("log is not a JSON array: %w", err)
	}

	r := &ValidationReport{
		Entries: len(raw),
		Stats: Stats{
			ByAgent:  map[string]int{},
			ByAction: map[string]int{},
			ByStatus: map[string]int{},
		},
	}
	var promptTotal, responseTotal int
	for i, entry := range raw {
		p, resp := v.checkEntry(r, i, entry)
		promptTotal += p
		responseTotal += resp
	}
	if len(raw) > 0 {
		r.Stats.AvgPromptLen = float64(promptTotal) / float64(len(raw))
		r.Stats.AvgResponseLen = float64(responseTotal) / float64(len(raw))
	}
	return r, nil
}

func (v *Validator) checkEntry(r *ValidationReport, i int, entry map[string]any) (promptLen, responseLen int) {
	errorf := func(format string, args ...any) {
		r.Errors = append(r.Errors, Finding{Index: i, Message: fmt.Sprintf(format, args...)})
	}
	warnf := func(format string, args ...any) {
		r.Warnings = append(r.Warnings, Finding{Index: i, Message: fmt.Sprintf(format, args...)})
	}

	for _, field := range []string{"timestamp", "agent", "model", "action", "details", "status"} {
		if _, ok := entry[field]; !ok {
			errorf("missing field %q", field)
		}
	}

	agent, _ := entry["agent"].(string)
	model, _ := entry["model"].(string)
	action, _ := entry["action"].(string)
	status, _ := entry["status"].(string)
	if strings.TrimSpace(agent) == "" {
		errorf("agent is empty")
	}
	if strings.TrimSpace(model) == "" {
		errorf("model is empty")
	}
	if !ActionType(action).IsValid() {
		errorf("invalid action %q", action)
	}
	if !Status(status).IsValid() {
		errorf("invalid status %q", status)
	}
	r.Stats.ByAgent[agent]++
	r.Stats.ByAction[action]++
	r.Stats.ByStatus[status]++

	if ts, ok := entry["timestamp"].(string); !ok || !isISOTimestamp(ts) {
		errorf("timestamp %v is not ISO-8601", entry["timestamp"])
	}

	details, ok := entry["details"].(map[string]any)
	if !ok {
		errorf("details is not an object")
		return 0, 0
	}

	prompt, _ := details[DetailInputPrompt].(string)
	response, _ := details[DetailOutputResponse].(string)
	if IsPlaceholder(prompt) {
		errorf("details.%s is missing or empty", DetailInputPrompt)
	} else if len(prompt) < v.MinPromptLen {
		warnf("details.%s is very short (%d chars)", DetailInputPrompt, len(prompt))
	}
	if IsPlaceholder(response) {
		errorf("details.%s is missing or empty", DetailOutputResponse)
	} else if len(response) < v.MinResponseLen {
		warnf("details.%s is very short (%d chars)", DetailOutputResponse, len(response))
	}

	if n, ok := details["iteration"].(float64); ok {
		if int(n) > r.Stats.MaxIteration {
			r.Stats.MaxIteration = int(n)
		}
		limit := v.MaxIteration
		if m, ok := details["max_iterations"].(float64); ok && m > 0 {
			limit = int(m)
		}
		if limit > 0 && int(n) > limit {
			errorf("iteration %d exceeds the limit of %d", int(n), limit)
		}
	}

	if file, ok := details["file"].(string); ok && escapesRoot(file) {
		errorf("security: file path %q escapes the target directory", file)
	}

	return len(prompt), len(response)
}

// escapesRoot reports whether a logged relative path climbs above the
// directory it is relative to.
func escapesRoot(file string) bool {
	clean := path.Clean(filepath.ToSlash(file))
	return clean == ".." || strings.HasPrefix(clean, "../")
}

var isoLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
}

func isISOTimestamp(s string) bool {
	for _, layout := range isoLayouts {
		if _, err := time.Parse(layout, s); err == nil {
			return true
		}
	}
	return false
}

// SortedKeys returns map keys in lexical order, for stable printing.
func SortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
