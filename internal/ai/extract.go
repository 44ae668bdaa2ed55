// Package ai wraps the LLM collaborator: the Anthropic client with retry and
// rate limiting, and the structured extraction of model output.
package ai

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
)

var (
	jsonFenceRegex = regexp.MustCompile("(?s)```(?:json|JSON)\\s*\\n?(.*?)\\n?```")
	anyFenceRegex  = regexp.MustCompile("(?s)```[a-zA-Z0-9_+-]*\\s*\\n?(.*?)\\n?```")
	codeFenceRegex = regexp.MustCompile("(?s)```(?:python|py|python3)?[ \\t]*\\n(.*?)\\n?```")

	trailingCommaRegex     = regexp.MustCompile(`,(\s*[}\]])`)
	unquotedKeyRegex       = regexp.MustCompile(`([{,]\s*)([a-zA-Z_$][a-zA-Z0-9_$]*)\s*:`)
	singleLineCommentRegex = regexp.MustCompile(`(?m)^\s*//.*$`)
	multiLineCommentRegex  = regexp.MustCompile(`(?s)/\*.*?\*/`)
)

// ExtractionKind tags an Extraction.
type ExtractionKind int

const (
	// Fallback means no strategy produced data; Reason says why.
	Fallback ExtractionKind = iota
	// Parsed means Data holds the decoded value.
	Parsed
)

func (k ExtractionKind) String() string {
	if k == Parsed {
		return "parsed"
	}
	return "fallback"
}

// Extraction is the tagged result of pulling structured data out of model output.
type Extraction[T any] struct {
	Kind     ExtractionKind
	Data     T
	Reason   string
	Strategy string // which strategy produced Data
}

// Ok reports whether the extraction parsed.
func (e Extraction[T]) Ok() bool {
	return e.Kind == Parsed
}

// maxExtractInput bounds the text the extractor will scan.
const maxExtractInput = 10 * 1024 * 1024

// Extract decodes a JSON value of type T from model output. Candidates are
// tried in a fixed order and each candidate is retried after repair:
//
//  1. the whole text
//  2. a ```json fence
//  3. any ``` fence
//  4. the outermost {...} span
//  5. the first balanced {...} object
//
// Extract never fails: when nothing decodes it returns a Fallback with the reason.
func Extract[T any](text string) Extraction[T] {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return fallback[T]("empty response")
	}
	if len(trimmed) > maxExtractInput {
		return fallback[T](fmt.Sprintf("response exceeds %d bytes", maxExtractInput))
	}

	candidates := []struct {
		strategy string
		text     string
	}{
		{"direct", trimmed},
		{"json_fence", firstGroup(jsonFenceRegex, trimmed)},
		{"any_fence", firstGroup(anyFenceRegex, trimmed)},
		{"outer_braces", outermostObject(trimmed)},
		{"brace_match", balancedObject(trimmed)},
	}

	var lastErr error
	for _, c := range candidates {
		if c.text == "" {
			continue
		}
		for _, attempt := range []string{c.text, repairJSON(c.text)} {
			var data T
			err := json.Unmarshal([]byte(attempt), &data)
			if err == nil {
				return Extraction[T]{Kind: Parsed, Data: data, Strategy: c.strategy}
			}
			lastErr = err
		}
	}

	reason := "no JSON object found"
	if lastErr != nil && strings.ContainsAny(trimmed, "{[") {
		reason = "all extraction strategies failed: " + lastErr.Error()
	}
	slog.Debug("structured extraction fell back", "reason", reason, "preview", truncate(trimmed, 100))
	return fallback[T](reason)
}

func fallback[T any](reason string) Extraction[T] {
	return Extraction[T]{Kind: Fallback, Reason: reason}
}

// codePreambles mark a reply line that introduces the code that follows.
var codePreambles = []string{
	"here's the fixed",
	"here is the fixed",
	"here's the corrected",
	"here is the corrected",
	"fixed code:",
	"corrected code:",
	"refactored code:",
}

// maxPreambleLines bounds how far into a reply a preamble is looked for.
const maxPreambleLines = 3

// ExtractCode pulls Python source out of model output. See ExtractCodeBlock.
func ExtractCode(text string) string {
	code, _ := ExtractCodeBlock(text)
	return code
}

// ExtractCodeBlock returns the first ```python (or bare ```) fence and
// fenced=true when one exists. Otherwise it returns the text after a
// preamble line such as "Here's the fixed code:" in the first three lines.
// Placeholder replies ("None", "N/A", "null") and replies that are only a
// preamble yield "". Non-empty results end in a single newline.
func ExtractCodeBlock(text string) (code string, fenced bool) {
	if m := codeFenceRegex.FindStringSubmatch(text); m != nil {
		return withNewline(m[1]), true
	}
	lines := strings.Split(strings.TrimSpace(text), "\n")
	for i, line := range lines {
		if i == maxPreambleLines {
			break
		}
		if isPreamble(line) {
			lines = lines[i+1:]
			break
		}
	}
	body := strings.TrimSpace(strings.Join(lines, "\n"))
	if isPlaceholder(body) {
		return "", false
	}
	return withNewline(body), false
}

func isPreamble(line string) bool {
	lower := strings.ToLower(strings.TrimSpace(line))
	for _, p := range codePreambles {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

func isPlaceholder(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "n/a", "none", "null":
		return true
	}
	return false
}

func withNewline(s string) string {
	s = strings.TrimRight(s, " \t\n")
	if strings.TrimSpace(s) == "" {
		return ""
	}
	return s + "\n"
}

func firstGroup(re *regexp.Regexp, text string) string {
	m := re.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}

func outermostObject(text string) string {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return ""
	}
	return text[start : end+1]
}

// balancedObject returns the first {...} whose braces balance, skipping
// braces inside string literals.
func balancedObject(text string) string {
	start := strings.Index(text, "{")
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		ch := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}

// repairJSON fixes the usual model slips: trailing commas, comments and
// unquoted keys. Single quotes are left alone since apostrophes are valid
// inside JSON strings.
func repairJSON(text string) string {
	cleaned := multiLineCommentRegex.ReplaceAllString(text, "")
	cleaned = singleLineCommentRegex.ReplaceAllString(cleaned, "")
	cleaned = trailingCommaRegex.ReplaceAllString(cleaned, "$1")
	cleaned = unquotedKeyRegex.ReplaceAllString(cleaned, `$1"$2":`)
	return strings.TrimSpace(cleaned)
}

// truncate truncates a string to maxLen bytes.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

// Truncate shortens s for log excerpts.
func Truncate(s string, maxLen int) string {
	return truncate(s, maxLen)
}
