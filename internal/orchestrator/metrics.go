package orchestrator

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Metrics holds the Prometheus metrics for scan and fix runs.
type Metrics struct {
	ScansTotal     prometheus.Counter
	ScanDuration   prometheus.Histogram
	IssuesFound    *prometheus.CounterVec
	AgentRunsTotal *prometheus.CounterVec
	FixesTotal     *prometheus.CounterVec
	BackupsTotal   prometheus.Counter
}

// NewMetrics registers the orchestrator metrics. sync.Once guards against
// duplicate registration when multiple services are constructed in one
// process.
//
// Metrics:
//   - codetective_scans_total - Count of completed scan runs
//   - codetective_scan_duration_seconds - Histogram of scan run durations
//   - codetective_issues_found_total{agent,severity} - Issues found per agent and severity
//   - codetective_agent_runs_total{agent,outcome} - Agent invocations by outcome
//   - codetective_fixes_total{status} - Fix attempts by final status
//   - codetective_backups_created_total - Backup files created during fix runs
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			ScansTotal: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "codetective_scans_total",
					Help: "Total number of completed scan runs",
				},
			),

			ScanDuration: promauto.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "codetective_scan_duration_seconds",
					Help:    "Duration of scan runs in seconds",
					Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 100ms to ~3.5min
				},
			),

			IssuesFound: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "codetective_issues_found_total",
					Help: "Total issues found, by agent and severity",
				},
				[]string{"agent", "severity"},
			),

			AgentRunsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "codetective_agent_runs_total",
					Help: "Agent invocations by outcome",
				},
				[]string{"agent", "outcome"}, // "success", "failure", "unavailable"
			),

			FixesTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "codetective_fixes_total",
					Help: "Fix attempts by final issue status",
				},
				[]string{"status"},
			),

			BackupsTotal: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "codetective_backups_created_total",
					Help: "Backup files created during fix runs",
				},
			),
		}
	})

	return globalMetrics
}

// RecordScan records one completed scan run.
func (m *Metrics) RecordScan(durationSeconds float64) {
	m.ScansTotal.Inc()
	m.ScanDuration.Observe(durationSeconds)
}

// RecordAgentRun records one agent invocation outcome and its issues.
func (m *Metrics) RecordAgentRun(agent, outcome string, issuesBySeverity map[string]int) {
	m.AgentRunsTotal.WithLabelValues(agent, outcome).Inc()
	for severity, n := range issuesBySeverity {
		m.IssuesFound.WithLabelValues(agent, severity).Add(float64(n))
	}
}

// RecordFix records the final status of one fix attempt.
func (m *Metrics) RecordFix(status string) {
	m.FixesTotal.WithLabelValues(status).Inc()
}

// RecordBackups records backup files created in one fix run.
func (m *Metrics) RecordBackups(n int) {
	m.BackupsTotal.Add(float64(n))
}
