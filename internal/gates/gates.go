package gates

import (
	"fmt"
	"strings"
)

// GateType identifies one of the Judge's checks
type GateType string

const (
	GateSyntax  GateType = "syntax"
	GateRuntime GateType = "runtime"
	GateQuality GateType = "quality"
	GateTests   GateType = "tests"
)

// Result represents the outcome of a single check
type Result struct {
	Gate   GateType
	Passed bool
	Output string
	Error  error
}

// FormatResults renders check results as one line each, for log details.
func FormatResults(results []*Result) string {
	var sb strings.Builder
	for _, r := range results {
		status := "PASS"
		if !r.Passed {
			status = "FAIL"
		}
		sb.WriteString(fmt.Sprintf("[%s] %s", status, r.Gate))
		if r.Error != nil {
			sb.WriteString(": ")
			sb.WriteString(r.Error.Error())
		} else if r.Output != "" {
			sb.WriteString(": ")
			sb.WriteString(firstLine(r.Output))
		}
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
