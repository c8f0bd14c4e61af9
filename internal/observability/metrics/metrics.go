// Package metrics captures orchestrator health signals: workflow
// throughput and latency, reconciliation drift, and background job
// outcomes.
package metrics

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"

	"github.com/nimbushost/fleet/internal/config"
)

const (
	OutcomeSuccess = "success"
	OutcomeFailed  = "failed"
	OutcomeTimeout = "timeout"
	OutcomeSkipped = "skipped"
)

// OrchestratorMetrics exposes the instruments the instance service,
// reconciler and scheduler report into. A nil receiver is a no-op so
// tests can pass nil.
type OrchestratorMetrics struct {
	workflowsStarted  *prometheus.CounterVec
	workflowsFinished *prometheus.CounterVec
	workflowDuration  prometheus.Histogram
	commandsTotal     *prometheus.CounterVec
	reconcileRuns     *prometheus.CounterVec
	reconcileDrift    prometheus.Counter
	jobRuns           *prometheus.CounterVec
	jobDuration       *prometheus.HistogramVec
	sweptWorkflows    prometheus.Counter
	allocationRetries prometheus.Counter
}

func New(registerer prometheus.Registerer, cfg config.Config) *OrchestratorMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.AppName)
	if serviceName == "" {
		serviceName = "fleetd"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	workflowsStarted := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "fleet_workflows_started_total",
		Help:        "Provisioning workflows accepted onto the worker pool.",
		ConstLabels: constLabels,
	}, []string{"action"})
	workflowsFinished := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "fleet_workflows_finished_total",
		Help:        "Provisioning workflows by terminal outcome.",
		ConstLabels: constLabels,
	}, []string{"action", "outcome"})
	workflowDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:        "fleet_workflow_duration_seconds",
		Help:        "Wall time of provisioning workflows.",
		Buckets:     []float64{1, 2.5, 5, 10, 30, 60, 120, 300, 600, 1200},
		ConstLabels: constLabels,
	})
	commandsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "fleet_commands_total",
		Help:        "Synchronous lifecycle commands by verb and outcome.",
		ConstLabels: constLabels,
	}, []string{"command", "outcome"})
	reconcileRuns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "fleet_reconcile_runs_total",
		Help:        "Reconciliation passes by outcome.",
		ConstLabels: constLabels,
	}, []string{"outcome"})
	reconcileDrift := prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "fleet_reconcile_drift_total",
		Help:        "Instance records corrected against the container runtime.",
		ConstLabels: constLabels,
	})
	jobRuns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "fleet_scheduler_job_runs_total",
		Help:        "Background job runs by job and outcome.",
		ConstLabels: constLabels,
	}, []string{"job", "outcome"})
	jobDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "fleet_scheduler_job_duration_seconds",
		Help:        "Background job latency.",
		Buckets:     []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		ConstLabels: constLabels,
	}, []string{"job"})
	sweptWorkflows := prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "fleet_swept_workflows_total",
		Help:        "Stale in-progress workflows closed by the sweeper.",
		ConstLabels: constLabels,
	})
	allocationRetries := prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "fleet_allocation_retries_total",
		Help:        "Allocation attempts retried after a uniqueness conflict.",
		ConstLabels: constLabels,
	})

	registerer.MustRegister(
		workflowsStarted,
		workflowsFinished,
		workflowDuration,
		commandsTotal,
		reconcileRuns,
		reconcileDrift,
		jobRuns,
		jobDuration,
		sweptWorkflows,
		allocationRetries,
	)

	return &OrchestratorMetrics{
		workflowsStarted:  workflowsStarted,
		workflowsFinished: workflowsFinished,
		workflowDuration:  workflowDuration,
		commandsTotal:     commandsTotal,
		reconcileRuns:     reconcileRuns,
		reconcileDrift:    reconcileDrift,
		jobRuns:           jobRuns,
		jobDuration:       jobDuration,
		sweptWorkflows:    sweptWorkflows,
		allocationRetries: allocationRetries,
	}
}

func (m *OrchestratorMetrics) IncWorkflowStarted(action string) {
	if m == nil || m.workflowsStarted == nil {
		return
	}
	m.workflowsStarted.WithLabelValues(action).Inc()
}

func (m *OrchestratorMetrics) IncWorkflowFinished(action, outcome string) {
	if m == nil || m.workflowsFinished == nil {
		return
	}
	m.workflowsFinished.WithLabelValues(action, outcome).Inc()
}

func (m *OrchestratorMetrics) ObserveWorkflowDuration(duration time.Duration) {
	if m == nil || m.workflowDuration == nil {
		return
	}
	m.workflowDuration.Observe(duration.Seconds())
}

func (m *OrchestratorMetrics) IncCommand(command, outcome string) {
	if m == nil || m.commandsTotal == nil {
		return
	}
	m.commandsTotal.WithLabelValues(command, outcome).Inc()
}

func (m *OrchestratorMetrics) IncReconcileRun(outcome string) {
	if m == nil || m.reconcileRuns == nil {
		return
	}
	m.reconcileRuns.WithLabelValues(outcome).Inc()
}

func (m *OrchestratorMetrics) AddReconcileDrift(count int) {
	if m == nil || m.reconcileDrift == nil || count <= 0 {
		return
	}
	m.reconcileDrift.Add(float64(count))
}

func (m *OrchestratorMetrics) IncJobRun(job, outcome string) {
	if m == nil || m.jobRuns == nil {
		return
	}
	m.jobRuns.WithLabelValues(job, outcome).Inc()
}

func (m *OrchestratorMetrics) ObserveJobDuration(job string, duration time.Duration) {
	if m == nil || m.jobDuration == nil {
		return
	}
	m.jobDuration.WithLabelValues(job).Observe(duration.Seconds())
}

func (m *OrchestratorMetrics) IncSweptWorkflow() {
	if m == nil || m.sweptWorkflows == nil {
		return
	}
	m.sweptWorkflows.Inc()
}

func (m *OrchestratorMetrics) IncAllocationRetry() {
	if m == nil || m.allocationRetries == nil {
		return
	}
	m.allocationRetries.Inc()
}

var Module = fx.Module("observability.metrics",
	fx.Provide(func() *prometheus.Registry {
		return prometheus.NewRegistry()
	}),
	fx.Provide(func(registry *prometheus.Registry, cfg config.Config) *OrchestratorMetrics {
		return New(registry, cfg)
	}),
)
