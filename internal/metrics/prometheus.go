// Package metrics exports swarm run statistics in Prometheus text format.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/refactorswarm/swarm/internal/types"
	"github.com/refactorswarm/swarm/internal/workflow"
)

// Outcome labels for swarm_files_total.
const (
	OutcomeDone     = "done"
	OutcomeMaxedOut = "max_iterations"
	OutcomeError    = "error"
)

// Prometheus implements workflow.MetricsCollector on a private registry, so
// several collectors can coexist in one process (tests, repeated runs).
//
// Metrics:
//   - swarm_files_total{outcome} - files finished, by outcome
//   - swarm_judge_verdicts_total{verdict} - Judge verdicts
//   - swarm_agent_runs_total{agent,phase} - agent executions by returned phase
//   - swarm_fix_cycles - fix/test cycles per file
//   - swarm_file_duration_seconds - wall time per file
//   - swarm_cycle_diff_lines - changed lines per cycle
type Prometheus struct {
	registry *prometheus.Registry

	FilesTotal    *prometheus.CounterVec
	VerdictsTotal *prometheus.CounterVec
	AgentRuns     *prometheus.CounterVec
	FixCycles     prometheus.Histogram
	FileDuration  prometheus.Histogram
	CycleDiff     prometheus.Histogram
}

var _ workflow.MetricsCollector = (*Prometheus)(nil)

// NewPrometheus creates the collector and registers its metrics.
func NewPrometheus() *Prometheus {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Prometheus{
		registry: reg,
		FilesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "swarm_files_total",
				Help: "Files processed, by final outcome",
			},
			[]string{"outcome"},
		),
		VerdictsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "swarm_judge_verdicts_total",
				Help: "Judge verdicts, by verdict",
			},
			[]string{"verdict"}, // "done", "retry" or "error"
		),
		AgentRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "swarm_agent_runs_total",
				Help: "Agent executions, by agent and returned phase",
			},
			[]string{"agent", "phase"},
		),
		FixCycles: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "swarm_fix_cycles",
			Help:    "Fix/test cycles executed per file",
			Buckets: []float64{1, 2, 3, 5, 8, 10, 20},
		}),
		FileDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "swarm_file_duration_seconds",
			Help:    "Wall time spent on one file",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10), // 1s to ~8.5m
		}),
		CycleDiff: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "swarm_cycle_diff_lines",
			Help:    "Lines changed by the Fixer in one cycle",
			Buckets: prometheus.ExponentialBuckets(1, 2, 8),
		}),
	}
}

// Registry exposes the private registry, e.g. for an HTTP handler.
func (p *Prometheus) Registry() *prometheus.Registry {
	return p.registry
}

func (p *Prometheus) RecordAgentRun(agent string, phase types.Phase) {
	p.AgentRuns.WithLabelValues(agent, string(phase)).Inc()
}

func (p *Prometheus) RecordCycleEnd(_ string, rec workflow.CycleRecord) {
	p.VerdictsTotal.WithLabelValues(string(rec.Verdict)).Inc()
	p.CycleDiff.Observe(float64(rec.DiffLines))
}

func (p *Prometheus) RecordFileComplete(res *workflow.Result) {
	if res == nil || res.State == nil {
		return
	}
	p.FilesTotal.WithLabelValues(Outcome(res.State)).Inc()
	p.FixCycles.Observe(float64(res.Cycles))
	p.FileDuration.Observe(res.Duration.Seconds())
}

// Outcome classifies a finished state for swarm_files_total.
func Outcome(s *workflow.State) string {
	switch {
	case s.Phase == types.PhaseDone:
		return OutcomeDone
	case s.MaxIterationsReached:
		return OutcomeMaxedOut
	default:
		return OutcomeError
	}
}

// WriteTextfile writes every metric to path in the node_exporter textfile
// format, creating the parent directory.
func (p *Prometheus) WriteTextfile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, p.registry); err != nil {
		return fmt.Errorf("failed to write metrics to %s: %w", path, err)
	}
	return nil
}
