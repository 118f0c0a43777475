// Package metrics exposes Prometheus instruments for the sync engine.
//
// Every method is nil-safe: components accept a *Metrics and run unchanged
// when none is configured.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "progsync"

// Remote call outcomes.
const (
	OutcomeOK      = "ok"
	OutcomeFailed  = "failed"
	OutcomeDropped = "dropped"
)

// Metrics holds the instruments registered on a private registry.
type Metrics struct {
	Registry *prometheus.Registry

	RemoteCalls     *prometheus.CounterVec
	OutboxDepth     prometheus.Gauge
	FlushedSeconds  prometheus.Counter
	RequeuedSeconds prometheus.Counter
	PendingSeconds  *prometheus.GaugeVec
	Migrations      *prometheus.CounterVec
	Purged          prometheus.Counter
	QuizSubmissions *prometheus.CounterVec
	Completions     prometheus.Counter
}

// New creates and registers every instrument.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		RemoteCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remote_calls_total",
			Help:      "Remote progress service calls by operation and outcome",
		}, []string{"op", "outcome"}),
		OutboxDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "outbox_depth",
			Help:      "Remote calls queued and not yet attempted",
		}),
		FlushedSeconds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "time_flushed_seconds_total",
			Help:      "Foreground seconds acknowledged by the remote service",
		}),
		RequeuedSeconds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "time_requeued_seconds_total",
			Help:      "Seconds added back to a ledger after a failed flush",
		}),
		PendingSeconds: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "time_pending_seconds",
			Help:      "Seconds accumulated and not yet acknowledged, per module",
		}, []string{"module"}),
		Migrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "key_migrations_total",
			Help:      "Values migrated from a legacy key shape to the canonical key",
		}, []string{"from"}),
		Purged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "shared_keys_purged_total",
			Help:      "Globally shared keys removed by the namespace sweep",
		}),
		QuizSubmissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quiz_submissions_total",
			Help:      "Quiz submissions by result",
		}, []string{"result"}),
		Completions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lesson_completions_total",
			Help:      "Lessons newly marked complete",
		}),
	}
	m.Registry.MustRegister(
		m.RemoteCalls,
		m.OutboxDepth,
		m.FlushedSeconds,
		m.RequeuedSeconds,
		m.PendingSeconds,
		m.Migrations,
		m.Purged,
		m.QuizSubmissions,
		m.Completions,
		collectors.NewGoCollector(),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// RemoteCall counts one remote call.
func (m *Metrics) RemoteCall(op, outcome string) {
	if m == nil {
		return
	}
	m.RemoteCalls.WithLabelValues(op, outcome).Inc()
}

// SetOutboxDepth records the current outbox length.
func (m *Metrics) SetOutboxDepth(n int) {
	if m == nil {
		return
	}
	m.OutboxDepth.Set(float64(n))
}

// Flushed counts acknowledged seconds.
func (m *Metrics) Flushed(seconds int64) {
	if m == nil || seconds <= 0 {
		return
	}
	m.FlushedSeconds.Add(float64(seconds))
}

// Requeued counts seconds restored after a failed flush.
func (m *Metrics) Requeued(seconds int64) {
	if m == nil || seconds <= 0 {
		return
	}
	m.RequeuedSeconds.Add(float64(seconds))
}

// SetPending records unacknowledged seconds for a module.
func (m *Metrics) SetPending(module string, seconds int64) {
	if m == nil {
		return
	}
	m.PendingSeconds.WithLabelValues(module).Set(float64(seconds))
}

// Migrated counts one value migrated from the named key shape.
func (m *Metrics) Migrated(from string) {
	if m == nil {
		return
	}
	m.Migrations.WithLabelValues(from).Inc()
}

// PurgedShared counts keys removed by the sweep.
func (m *Metrics) PurgedShared(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.Purged.Add(float64(n))
}

// QuizSubmitted counts one submission.
func (m *Metrics) QuizSubmitted(passed bool) {
	if m == nil {
		return
	}
	result := "failed"
	if passed {
		result = "passed"
	}
	m.QuizSubmissions.WithLabelValues(result).Inc()
}

// Completed counts one new lesson completion.
func (m *Metrics) Completed() {
	if m == nil {
		return
	}
	m.Completions.Inc()
}
