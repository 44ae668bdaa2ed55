package agents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/refactorswarm/swarm/internal/events"
	"github.com/refactorswarm/swarm/internal/gates"
	"github.com/refactorswarm/swarm/internal/types"
	"github.com/refactorswarm/swarm/internal/workflow"
)

// JudgeModel is the model name the Judge records; its verdict comes from
// the test toolchain, not the LLM.
const JudgeModel = "pytest"

// Judge validates the current code. Checks run in order and the first two
// are hard gates:
//
//  1. syntax
//  2. bounded execution of the module
//  3. pylint score against the Auditor's baseline
//  4. pytest, on the module's own tests or a generated import test
//
// The verdict passes when syntax and execution pass and either the score did
// not regress or the tests passed. The Judge never routes: it returns done
// or retry and the graph decides what a retry means.
type Judge struct {
	analyzer  Analyzer
	tester    Tester
	workspace Workspace
	recorder
}

// NewJudge creates a Judge.
func NewJudge(analyzer Analyzer, tester Tester, workspace Workspace, log events.Recorder) *Judge {
	return &Judge{analyzer: analyzer, tester: tester, workspace: workspace, recorder: recorder{log: log}}
}

// Name implements workflow.Agent.
func (j *Judge) Name() string { return JudgeName }

// Execute implements workflow.Agent. It always writes exactly one log entry.
func (j *Judge) Execute(ctx context.Context, s *workflow.State) *workflow.Delta {
	rel := workspaceName(s)
	name := path.Base(rel)
	stem := strings.TrimSuffix(rel, path.Ext(rel))
	result := &types.TestResult{BaselineScore: baselineScore(s)}
	var checks []*gates.Result

	finalPath := j.evaluate(ctx, s, rel, name, stem, result, &checks)

	action := events.ActionDebug
	if result.GeneratedTests {
		action = events.ActionGeneration
	}
	status := events.StatusFailure
	phase := types.PhaseRetry
	if result.Passed {
		status = events.StatusSuccess
		phase = types.PhaseDone
	}

	prompt := fmt.Sprintf("Validate %s (iteration %d): %s; baseline score %.2f",
		s.TargetFile, s.Iteration(), checkNames(checks, result.GeneratedTests), result.BaselineScore)
	j.record(s, events.NewEntry(JudgeName, JudgeModel, action, status, prompt, verdictText(result)).
		With("checks", gates.FormatResults(checks)).
		With("passed", result.Passed).
		With("score", result.Score).
		With("tests_run", result.TestsRun).
		With("generated_tests", result.GeneratedTests))

	outputs := map[string]any{OutputFinalScore: result.Score}
	if finalPath != "" {
		outputs[OutputFinalPath] = finalPath
	}
	return &workflow.Delta{Phase: phase, TestResult: result, Outputs: outputs}
}

// evaluate fills result and returns the persisted final path on success.
// The candidate is staged under work/<stem>/ and persisted to final/<rel>.
func (j *Judge) evaluate(ctx context.Context, s *workflow.State, rel, name, stem string, result *types.TestResult, checks *[]*gates.Result) string {
	code := s.CurrentContent
	fail := func(msg string) string {
		result.Errors = append(result.Errors, msg)
		return ""
	}
	check := func(gate gates.GateType, passed bool, output, errMsg string) {
		r := &gates.Result{Gate: gate, Passed: passed, Output: output}
		if errMsg != "" {
			r.Error = errors.New(errMsg)
		}
		*checks = append(*checks, r)
	}

	candidate, err := j.workspace.WriteFile(path.Join("work", stem, name), []byte(code))
	if err != nil {
		return fail("could not stage candidate: " + err.Error())
	}

	syntax := j.analyzer.CheckSyntax(ctx, code)
	result.SyntaxValid = syntax.Valid
	if !syntax.Valid {
		msg := "Syntax error: " + syntax.Error
		if syntax.Line > 0 {
			msg = fmt.Sprintf("Syntax error on line %d: %s", syntax.Line, syntax.Error)
		}
		check(gates.GateSyntax, false, "", msg)
		return fail(msg)
	}
	check(gates.GateSyntax, true, "valid", "")

	run := j.tester.RunSafely(ctx, candidate)
	result.RunsWithoutError = run.Success
	if !run.Success {
		check(gates.GateRuntime, false, "", run.Error)
		return fail(run.Error)
	}
	check(gates.GateRuntime, true, "exited cleanly", "")

	analysis := j.analyzer.RunStaticAnalysis(ctx, candidate)
	result.Score = analysis.Score
	result.ScoreImproved = analysis.Error == "" && analysis.Score >= result.BaselineScore
	check(gates.GateQuality, result.ScoreImproved,
		fmt.Sprintf("score %.2f (baseline %.2f)", analysis.Score, result.BaselineScore), analysis.Error)

	testPath := candidate
	if !gates.HasTests(code) {
		testName, content := gates.GenerateBasicTest(candidate)
		generated, err := j.workspace.WriteFile(path.Join("work", stem, testName), []byte(content))
		if err != nil {
			return fail("could not write generated test: " + err.Error())
		}
		testPath = generated
		result.GeneratedTests = true
	}
	outcome := j.tester.RunTests(ctx, testPath)
	result.TestsPassed = outcome.Passed
	result.TestsRun = outcome.TestsRun
	check(gates.GateTests, outcome.Passed, fmt.Sprintf("%d run", outcome.TestsRun), "")

	result.Passed = result.SyntaxValid && result.RunsWithoutError && (result.ScoreImproved || result.TestsPassed)
	if !result.Passed {
		if analysis.Error != "" {
			result.Errors = append(result.Errors, "Static analysis failed: "+analysis.Error)
		} else if !result.ScoreImproved {
			result.Errors = append(result.Errors, fmt.Sprintf("Quality score %.2f is below the baseline %.2f", analysis.Score, result.BaselineScore))
		}
		result.Errors = append(result.Errors, outcome.Messages()...)
		if !outcome.Passed && len(outcome.Messages()) == 0 {
			result.Errors = append(result.Errors, "tests did not pass")
		}
		return ""
	}

	final, err := j.workspace.WriteFile(path.Join("final", rel), []byte(code))
	if err != nil {
		result.Passed = false
		return fail("could not persist final code: " + err.Error())
	}
	return final
}

// checkNames lists the checks that ran, for the log prompt.
func checkNames(checks []*gates.Result, generated bool) string {
	names := make([]string, 0, len(checks))
	for _, c := range checks {
		name := string(c.Gate)
		if c.Gate == gates.GateTests && generated {
			name = "generated tests"
		}
		names = append(names, name)
	}
	return strings.Join(names, ", ")
}

func baselineScore(s *workflow.State) float64 {
	if v, ok := s.Output(OutputOriginalScore).(float64); ok {
		return v
	}
	return 0
}

// verdictText renders the verdict as JSON for the log's output_response.
func verdictText(r *types.TestResult) string {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Sprintf("passed=%t errors=%d", r.Passed, len(r.Errors))
	}
	return string(data)
}
