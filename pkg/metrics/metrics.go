// Package metrics exposes Prometheus collectors for the workflow engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "procflow"

// Metrics groups the engine collectors. A nil *Metrics records nothing.
type Metrics struct {
	instancesStarted  *prometheus.CounterVec
	instancesFinished *prometheus.CounterVec
	stepExecutions    *prometheus.CounterVec
	stepDuration      *prometheus.HistogramVec
	approvalDecisions *prometheus.CounterVec
}

// New creates the collectors and registers them on registerer.
func New(registerer prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		instancesStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "instances_started_total",
			Help:      "Workflow instances started, by definition category.",
		}, []string{"category"}),
		instancesFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "instances_finished_total",
			Help:      "Workflow instances reaching a terminal status.",
		}, []string{"status"}),
		stepExecutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "step_executions_total",
			Help:      "Step executions recorded in instance history.",
		}, []string{"type", "status"}),
		stepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Wall clock duration of executed steps.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}, []string{"type"}),
		approvalDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "approval_decisions_total",
			Help:      "Approval request decisions, by outcome.",
		}, []string{"outcome"}),
	}

	for _, collector := range []prometheus.Collector{
		m.instancesStarted,
		m.instancesFinished,
		m.stepExecutions,
		m.stepDuration,
		m.approvalDecisions,
	} {
		err := registerer.Register(collector)
		if err != nil {
			return nil, err
		}
	}

	return m, nil
}

func (m *Metrics) InstanceStarted(category string) {
	if m == nil {
		return
	}

	m.instancesStarted.WithLabelValues(category).Inc()
}

func (m *Metrics) InstanceFinished(status string) {
	if m == nil {
		return
	}

	m.instancesFinished.WithLabelValues(status).Inc()
}

func (m *Metrics) StepExecuted(stepType, status string, duration time.Duration) {
	if m == nil {
		return
	}

	m.stepExecutions.WithLabelValues(stepType, status).Inc()
	m.stepDuration.WithLabelValues(stepType).Observe(duration.Seconds())
}

func (m *Metrics) ApprovalDecided(outcome string) {
	if m == nil {
		return
	}

	m.approvalDecisions.WithLabelValues(outcome).Inc()
}
