// Package metrics holds the Prometheus collectors shared by the bridge
// components. A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "ledgerbridge"

// Task outcomes.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
	OutcomeRejected  = "rejected"
)

// Metrics groups every collector the bridge exports.
type Metrics struct {
	tasksStarted  *prometheus.CounterVec
	tasksFinished *prometheus.CounterVec
	tasksInFlight prometheus.Gauge
	taskDuration  *prometheus.HistogramVec
	subscriptions *prometheus.GaugeVec
	messages      *prometheus.CounterVec
	invocations   *prometheus.CounterVec
}

// New creates the collectors and registers them on reg. A nil reg leaves
// them unregistered, which is convenient in tests.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		tasksStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_started_total",
			Help:      "Asynchronous SDK calls handed to a worker.",
		}, []string{"operation"}),
		tasksFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_finished_total",
			Help:      "Asynchronous operations that emitted their terminal payload.",
		}, []string{"operation", "outcome"}),
		tasksInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tasks_in_flight",
			Help:      "Workers currently running an SDK call.",
		}),
		taskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Time from dispatch to terminal payload.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		subscriptions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "subscriptions_active",
			Help:      "Live SDK listener registrations.",
		}, []string{"kind"}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_sent_total",
			Help:      "Payloads handed to the reply transport.",
		}, []string{"method"}),
		invocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invocations_total",
			Help:      "Dispatch table calls by operation and inline result.",
		}, []string{"operation", "result"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.tasksStarted,
			m.tasksFinished,
			m.tasksInFlight,
			m.taskDuration,
			m.subscriptions,
			m.messages,
			m.invocations,
		)
	}
	return m
}

// TaskStarted counts a scheduled worker and raises the in-flight gauge.
func (m *Metrics) TaskStarted(op string) {
	if m == nil {
		return
	}
	m.tasksStarted.WithLabelValues(op).Inc()
	m.tasksInFlight.Inc()
}

// TaskFinished records a worker outcome and its duration.
func (m *Metrics) TaskFinished(op, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.tasksInFlight.Dec()
	m.tasksFinished.WithLabelValues(op, outcome).Inc()
	m.taskDuration.WithLabelValues(op).Observe(elapsed.Seconds())
}

// TaskRejected counts an operation that failed validation before a worker
// was scheduled.
func (m *Metrics) TaskRejected(op string) {
	if m == nil {
		return
	}
	m.tasksFinished.WithLabelValues(op, OutcomeRejected).Inc()
}

// SubscriptionAdded raises the active listener gauge for kind.
func (m *Metrics) SubscriptionAdded(kind string) {
	if m == nil {
		return
	}
	m.subscriptions.WithLabelValues(kind).Inc()
}

// SubscriptionRemoved lowers the active listener gauge for kind.
func (m *Metrics) SubscriptionRemoved(kind string) {
	if m == nil {
		return
	}
	m.subscriptions.WithLabelValues(kind).Dec()
}

// MessageSent counts a message handed to the sink.
func (m *Metrics) MessageSent(method string) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(method).Inc()
}

// Invoked counts a dispatched call by operation and inline result.
func (m *Metrics) Invoked(op, result string) {
	if m == nil {
		return
	}
	m.invocations.WithLabelValues(op, result).Inc()
}
