package workflow

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/refactorswarm/swarm/internal/types"
)

// MetricsCollector receives instrumentation from Graph.Run. Implementations
// must be safe for concurrent use when files run in parallel.
type MetricsCollector interface {
	// RecordAgentRun is called after every agent execution with the phase it returned.
	RecordAgentRun(agent string, phase types.Phase)

	// RecordCycleEnd is called when a fix/test cycle reaches a verdict.
	RecordCycleEnd(file string, rec CycleRecord)

	// RecordFileComplete is called once per file when the graph stops.
	RecordFileComplete(res *Result)
}

// Collectors fans every call out to each non-nil collector.
func Collectors(cs ...MetricsCollector) MetricsCollector {
	var live multiCollector
	for _, c := range cs {
		if c != nil {
			live = append(live, c)
		}
	}
	return live
}

type multiCollector []MetricsCollector

func (m multiCollector) RecordAgentRun(agent string, phase types.Phase) {
	for _, c := range m {
		c.RecordAgentRun(agent, phase)
	}
}

func (m multiCollector) RecordCycleEnd(file string, rec CycleRecord) {
	for _, c := range m {
		c.RecordCycleEnd(file, rec)
	}
}

func (m multiCollector) RecordFileComplete(res *Result) {
	for _, c := range m {
		c.RecordFileComplete(res)
	}
}

// FileMetrics captures one file's run.
type FileMetrics struct {
	File                 string
	Phase                types.Phase
	Cycles               int
	MaxIterationsReached bool
	Duration             time.Duration
	// DiffLines is the total number of changed lines across all cycles
	DiffLines int
	// ScoreDelta is the final score minus the baseline, when a verdict exists
	ScoreDelta float64
}

// AggregateMetrics provides rolled-up statistics across files.
type AggregateMetrics struct {
	TotalFiles int
	// DoneFiles reached a passing verdict
	DoneFiles int
	// MaxedOutFiles hit the iteration cap
	MaxedOutFiles int
	// ErrorFiles ended in error for any other reason (empty input, agent failure)
	ErrorFiles int

	TotalCycles int
	MeanCycles  float64
	// P50Cycles and P95Cycles are computed over files that reached done
	P50Cycles int
	P95Cycles int

	AgentRuns     map[string]int
	TotalDuration time.Duration
	MeanScoreGain float64
}

// InMemoryCollector stores metrics in memory for the CLI summary and tests.
type InMemoryCollector struct {
	mu        sync.Mutex
	files     []*FileMetrics
	diffLines map[string]int
	agentRuns map[string]int
}

// NewInMemoryCollector creates an empty collector.
func NewInMemoryCollector() *InMemoryCollector {
	return &InMemoryCollector{
		diffLines: map[string]int{},
		agentRuns: map[string]int{},
	}
}

// RecordAgentRun implements MetricsCollector
func (m *InMemoryCollector) RecordAgentRun(agent string, _ types.Phase) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.agentRuns[agent]++
}

// RecordCycleEnd implements MetricsCollector
func (m *InMemoryCollector) RecordCycleEnd(file string, rec CycleRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.diffLines[file] += rec.DiffLines
}

// RecordFileComplete implements MetricsCollector
func (m *InMemoryCollector) RecordFileComplete(res *Result) {
	if res == nil || res.State == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	s := res.State
	fm := &FileMetrics{
		File:                 s.TargetFile,
		Phase:                s.Phase,
		Cycles:               res.Cycles,
		MaxIterationsReached: s.MaxIterationsReached,
		Duration:             res.Duration,
		DiffLines:            m.diffLines[s.TargetFile],
	}
	if s.TestResult != nil {
		fm.ScoreDelta = s.TestResult.Score - s.TestResult.BaselineScore
	}
	delete(m.diffLines, s.TargetFile)
	m.files = append(m.files, fm)
}

// Files returns the collected per-file metrics.
func (m *InMemoryCollector) Files() []*FileMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*FileMetrics(nil), m.files...)
}

// Aggregate rolls up everything collected so far.
func (m *InMemoryCollector) Aggregate() *AggregateMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	agg := &AggregateMetrics{AgentRuns: map[string]int{}}
	for k, v := range m.agentRuns {
		agg.AgentRuns[k] = v
	}

	var doneCycles []int
	var gainSum float64
	for _, f := range m.files {
		agg.TotalFiles++
		agg.TotalCycles += f.Cycles
		agg.TotalDuration += f.Duration
		gainSum += f.ScoreDelta
		switch {
		case f.Phase == types.PhaseDone:
			agg.DoneFiles++
			doneCycles = append(doneCycles, f.Cycles)
		case f.MaxIterationsReached:
			agg.MaxedOutFiles++
		default:
			agg.ErrorFiles++
		}
	}
	if agg.TotalFiles > 0 {
		agg.MeanCycles = float64(agg.TotalCycles) / float64(agg.TotalFiles)
		agg.MeanScoreGain = gainSum / float64(agg.TotalFiles)
	}
	if len(doneCycles) > 0 {
		sort.Ints(doneCycles)
		agg.P50Cycles = percentile(doneCycles, 50)
		agg.P95Cycles = percentile(doneCycles, 95)
	}
	return agg
}

// percentile calculates the Nth percentile from a sorted slice
func percentile(sorted []int, p int) int {
	if len(sorted) == 0 {
		return 0
	}
	index := (len(sorted) * p) / 100
	if index >= len(sorted) {
		index = len(sorted) - 1
	}
	return sorted[index]
}

// countDiffLines counts positions whose trimmed lines differ. It is a
// positional comparison, not a real diff, which is enough for trend metrics.
func countDiffLines(prev, current string) int {
	if prev == current {
		return 0
	}
	prevLines := strings.Split(prev, "\n")
	currentLines := strings.Split(current, "\n")

	n := max(len(prevLines), len(currentLines))
	diff := 0
	for i := 0; i < n; i++ {
		var a, b string
		if i < len(prevLines) {
			a = strings.TrimSpace(prevLines[i])
		}
		if i < len(currentLines) {
			b = strings.TrimSpace(currentLines[i])
		}
		if a != b {
			diff++
		}
	}
	return diff
}
