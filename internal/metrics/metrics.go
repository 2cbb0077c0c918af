// Package metrics exposes Prometheus instruments for the monitoring engine,
// the VIES client and the Telegram transport.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/m3rciful/vatwatch/internal/lifecycle"
)

const namespace = "vatwatch"

// Metrics holds every collector. A nil *Metrics is a valid no-op recorder.
type Metrics struct {
	registry *prometheus.Registry

	Cycles        *prometheus.CounterVec
	CycleDuration prometheus.Histogram
	Checks        *prometheus.CounterVec
	Demotions     prometheus.Counter
	Resolutions   *prometheus.CounterVec
	Submissions   *prometheus.CounterVec
	ViesCalls     *prometheus.HistogramVec
	Updates       *prometheus.CounterVec
	Sends         *prometheus.CounterVec
}

// New registers all collectors on a fresh registry, together with the Go and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		Cycles: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Check cycles by the reason they stopped (empty when the batch completed)",
		}, []string{"stop"}),

		CycleDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Duration of a full check cycle",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}),

		Checks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checks_total",
			Help:      "Validity checks performed during cycles by outcome",
		}, []string{"outcome"}),

		Demotions: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "demotions_total",
			Help:      "Pending requests moved to the error bin",
		}),

		Resolutions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolutions_total",
			Help:      "Error resolutions by outcome",
		}, []string{"outcome"}),

		Submissions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "Numbers submitted for monitoring by admission status",
		}, []string{"status"}),

		ViesCalls: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "vies_call_duration_seconds",
			Help:      "VIES validity check latency by result kind",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"kind"}), // kind: "ok" or a failure kind such as "TIMEOUT"

		Updates: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "telegram_updates_total",
			Help:      "Handled Telegram updates by result",
		}, []string{"result"}),

		Sends: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "telegram_sends_total",
			Help:      "Outbound Telegram calls by action and result",
		}, []string{"action", "result"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveCycle records a finished cycle.
func (m *Metrics) ObserveCycle(stop lifecycle.StopReason, d time.Duration) {
	if m != nil {
		m.Cycles.WithLabelValues(string(stop)).Inc()
		m.CycleDuration.Observe(d.Seconds())
	}
}

// ObserveCheck records one cycle check outcome.
func (m *Metrics) ObserveCheck(outcome string) {
	if m != nil {
		m.Checks.WithLabelValues(outcome).Inc()
	}
}

// ObserveDemotion records a demotion.
func (m *Metrics) ObserveDemotion() {
	if m != nil {
		m.Demotions.Inc()
	}
}

// ObserveResolution records an error resolution.
func (m *Metrics) ObserveResolution(outcome string) {
	if m != nil {
		m.Resolutions.WithLabelValues(outcome).Inc()
	}
}

// ObserveSubmission records an admission decision.
func (m *Metrics) ObserveSubmission(status string) {
	if m != nil {
		m.Submissions.WithLabelValues(status).Inc()
	}
}

// ObserveViesCall records the latency of one VIES call.
func (m *Metrics) ObserveViesCall(kind string, d time.Duration) {
	if m != nil {
		m.ViesCalls.WithLabelValues(kind).Observe(d.Seconds())
	}
}

// ObserveUpdate records a handled Telegram update.
func (m *Metrics) ObserveUpdate(failed bool) {
	if m == nil {
		return
	}
	result := "ok"
	if failed {
		result = "error"
	}
	m.Updates.WithLabelValues(result).Inc()
}

// ObserveSend records a finished outbound Telegram call.
func (m *Metrics) ObserveSend(action, result string) {
	if m != nil {
		m.Sends.WithLabelValues(action, result).Inc()
	}
}

var _ lifecycle.Recorder = (*Metrics)(nil)
