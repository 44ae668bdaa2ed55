package gates

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// TestOutcome is the test collaborator's answer.
type TestOutcome struct {
	Passed   bool     `json:"passed"`
	TestsRun int      `json:"tests_run"`
	Failures []string `json:"failures"`
	Errors   []string `json:"errors"`
	Output   string   `json:"output,omitempty"`
}

// Messages returns failures followed by errors.
func (o *TestOutcome) Messages() []string {
	out := make([]string, 0, len(o.Failures)+len(o.Errors))
	out = append(out, o.Failures...)
	return append(out, o.Errors...)
}

// RunOutcome reports a bounded execution of the module itself.
type RunOutcome struct {
	Success  bool   `json:"success"`
	TimedOut bool   `json:"timed_out,omitempty"`
	Output   string `json:"output,omitempty"`
	Error    string `json:"error,omitempty"`
}

// ExecutionTimeoutMessage is reported when the module does not exit in time.
const ExecutionTimeoutMessage = "Execution timeout (possible infinite loop)"

// pytest exit code when no tests were collected.
const pytestNoTests = 5

// failureContext is the number of lines kept after each FAILED line.
const failureContext = 5

// maxErrorLines caps the error lines kept from one run.
const maxErrorLines = 20

// TestRunner runs pytest and the candidate module.
type TestRunner struct {
	cmd   CommandRunner
	tools ToolConfig
}

// NewTestRunner creates a TestRunner.
func NewTestRunner(cmd CommandRunner, tools ToolConfig) *TestRunner {
	return &TestRunner{cmd: cmd, tools: tools}
}

// RunTests runs pytest on path from the file's directory. Timeouts and a
// missing pytest come back as failed outcomes.
func (r *TestRunner) RunTests(ctx context.Context, path string) *TestOutcome {
	ctx, cancel := context.WithTimeout(ctx, r.tools.TestTimeout)
	defer cancel()

	stdout, stderr, exitCode, err := r.cmd.Run(ctx, Command{
		Dir:  filepath.Dir(path),
		Name: r.tools.Pytest,
		Args: []string{filepath.Base(path), "-v", "--tb=short"},
	})
	switch {
	case isTimeout(err):
		return &TestOutcome{Errors: []string{fmt.Sprintf("Test execution timeout after %v", r.tools.TestTimeout)}}
	case err != nil:
		return &TestOutcome{Errors: []string{fmt.Sprintf("pytest unavailable: %v", err)}}
	}

	output := combine(stdout, stderr)
	outcome := parsePytest(output)
	outcome.Output = tail(output)
	outcome.Passed = exitCode == 0
	if exitCode == pytestNoTests {
		outcome.Errors = append(outcome.Errors, "no tests collected")
	} else if !outcome.Passed && len(outcome.Failures) == 0 && len(outcome.Errors) == 0 {
		outcome.Errors = append(outcome.Errors, fmt.Sprintf("pytest exited with code %d: %s", exitCode, lastLines(output, 5)))
	}
	return outcome
}

// parsePytest extracts counts and failure messages from verbose pytest output.
func parsePytest(output string) *TestOutcome {
	outcome := &TestOutcome{Failures: []string{}, Errors: []string{}}
	lines := strings.Split(output, "\n")
	seen := map[string]bool{}

	for i, line := range lines {
		if strings.Contains(line, " PASSED") {
			outcome.TestsRun++
		}
		if strings.Contains(line, " FAILED") {
			outcome.TestsRun++
		}
		if strings.HasPrefix(line, "FAILED ") || strings.Contains(line, " FAILED") {
			end := i + 1 + failureContext
			if end > len(lines) {
				end = len(lines)
			}
			block := strings.TrimSpace(strings.Join(lines[i:end], "\n"))
			outcome.Failures = append(outcome.Failures, block)
			continue
		}
		if (strings.Contains(line, "ERROR") || strings.Contains(line, "Error")) && len(outcome.Errors) < maxErrorLines {
			msg := strings.TrimSpace(line)
			if msg != "" && !seen[msg] {
				seen[msg] = true
				outcome.Errors = append(outcome.Errors, msg)
			}
		}
	}
	return outcome
}

// RunSafely executes the module with the execution timeout.
func (r *TestRunner) RunSafely(ctx context.Context, path string) *RunOutcome {
	ctx, cancel := context.WithTimeout(ctx, r.tools.ExecutionTimeout)
	defer cancel()

	stdout, stderr, exitCode, err := r.cmd.Run(ctx, Command{
		Dir:  filepath.Dir(path),
		Name: r.tools.Python,
		Args: []string{filepath.Base(path)},
	})
	switch {
	case isTimeout(err):
		return &RunOutcome{TimedOut: true, Error: ExecutionTimeoutMessage}
	case err != nil:
		return &RunOutcome{Error: fmt.Sprintf("python unavailable: %v", err)}
	case exitCode != 0:
		msg := lastLines(stderr, 10)
		if msg == "" {
			msg = fmt.Sprintf("exit code %d", exitCode)
		}
		return &RunOutcome{Output: tail(stdout), Error: "Runtime error: " + msg}
	}
	return &RunOutcome{Success: true, Output: tail(stdout)}
}

var testMarker = regexp.MustCompile(`(?m)^\s*(def test_|class Test)`)

// HasTests reports whether code carries its own pytest tests.
func HasTests(code string) bool {
	return testMarker.MatchString(code)
}

// GenerateBasicTest returns the file name and content of a minimal test that
// imports the module at modulePath and touches its public names.
func GenerateBasicTest(modulePath string) (name string, content string) {
	stem := strings.TrimSuffix(filepath.Base(modulePath), filepath.Ext(modulePath))
	name = "test_" + stem + ".py"
	content = fmt.Sprintf(`import importlib


MODULE_NAME = %q


def test_module_imports():
    module = importlib.import_module(MODULE_NAME)
    assert module is not None


def test_public_names_resolve():
    module = importlib.import_module(MODULE_NAME)
    for attr in dir(module):
        if not attr.startswith("_"):
            assert hasattr(module, attr)
`, stem)
	return name, content
}

func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
