package gates

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Command is one subprocess invocation.
type Command struct {
	Dir   string
	Name  string
	Args  []string
	Stdin string
}

func (c Command) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// CommandRunner abstracts command execution for testability.
// A non-nil error means the command could not be started or was killed;
// a non-zero exit code alone is not an error.
type CommandRunner interface {
	Run(ctx context.Context, cmd Command) (stdout string, stderr string, exitCode int, err error)
}

// ExecRunner implements CommandRunner by shelling out.
type ExecRunner struct{}

func (e *ExecRunner) Run(ctx context.Context, c Command) (string, string, int, error) {
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	if c.Stdin != "" {
		cmd.Stdin = strings.NewReader(c.Stdin)
	}
	// Don't wait forever on grandchildren holding the pipes after a kill.
	cmd.WaitDelay = 2 * time.Second

	var stdoutBuf, stderrBuf strings.Builder
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	err := cmd.Run()
	if ctx.Err() != nil {
		return stdoutBuf.String(), stderrBuf.String(), -1, ctx.Err()
	}
	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			return stdoutBuf.String(), stderrBuf.String(), -1, fmt.Errorf("exec %s: %w", c.Name, err)
		}
	}
	return stdoutBuf.String(), stderrBuf.String(), exitCode, nil
}

// ToolConfig names the Python toolchain binaries and their timeouts.
type ToolConfig struct {
	Python string
	Pylint string
	Pytest string

	AnalysisTimeout  time.Duration
	TestTimeout      time.Duration
	ExecutionTimeout time.Duration
}

// DefaultToolConfig returns python3/pylint/pytest with 30s/60s/5s timeouts.
func DefaultToolConfig() ToolConfig {
	return ToolConfig{
		Python:           "python3",
		Pylint:           "pylint",
		Pytest:           "pytest",
		AnalysisTimeout:  30 * time.Second,
		TestTimeout:      60 * time.Second,
		ExecutionTimeout: 5 * time.Second,
	}
}

// maxOutputLen caps how much tool output is retained.
const maxOutputLen = 8000

// tail keeps the end of s; error summaries and tracebacks are usually there.
func tail(s string) string {
	if len(s) <= maxOutputLen {
		return s
	}
	return "…(truncated)\n" + s[len(s)-maxOutputLen:]
}

func combine(stdout, stderr string) string {
	switch {
	case stdout == "":
		return stderr
	case stderr == "":
		return stdout
	}
	return stdout + "\n" + stderr
}

func isTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}
