package task

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics tracks engine activity for the /metrics endpoint. A nil *Metrics
// is valid and records nothing, so library users who don't scrape can pass
// nil everywhere.
type Metrics struct {
	submitted *prometheus.CounterVec
	completed *prometheus.CounterVec
	failed    *prometheus.CounterVec
	cancelled *prometheus.CounterVec
	duration  prometheus.Histogram
}

// NewMetrics creates the engine's metric set and registers it with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		submitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskmill_tasks_submitted_total",
				Help: "Total number of tasks submitted for asynchronous execution.",
			},
			[]string{"group"},
		),
		completed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskmill_tasks_completed_total",
				Help: "Total number of tasks that completed successfully.",
			},
			[]string{"group"},
		),
		failed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskmill_tasks_failed_total",
				Help: "Total number of tasks whose callable failed.",
			},
			[]string{"group"},
		),
		cancelled: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskmill_tasks_cancelled_total",
				Help: "Total number of tasks removed by an explicit cancel.",
			},
			[]string{"group"},
		),
		duration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "taskmill_task_duration_seconds",
				Help:    "Task duration from executor hand-off to terminal state, in seconds.",
				Buckets: prometheus.DefBuckets,
			},
		),
	}
	reg.MustRegister(m.submitted, m.completed, m.failed, m.cancelled, m.duration)
	return m
}

// TaskSubmitted records a submission.
func (m *Metrics) TaskSubmitted(group string) {
	if m == nil {
		return
	}
	m.submitted.WithLabelValues(group).Inc()
}

// TaskCompleted records a successful completion.
func (m *Metrics) TaskCompleted(group string) {
	if m == nil {
		return
	}
	m.completed.WithLabelValues(group).Inc()
}

// TaskFailed records a callable failure.
func (m *Metrics) TaskFailed(group string) {
	if m == nil {
		return
	}
	m.failed.WithLabelValues(group).Inc()
}

// TaskCancelled records an explicit cancel that removed a record.
func (m *Metrics) TaskCancelled(group string) {
	if m == nil {
		return
	}
	m.cancelled.WithLabelValues(group).Inc()
}

// TaskDuration records hand-off-to-terminal task duration.
func (m *Metrics) TaskDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.duration.Observe(d.Seconds())
}
