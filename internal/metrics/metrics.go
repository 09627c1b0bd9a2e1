// Package metrics Prometheus instruments for the check-in engine. All
// instruments live on a private registry so tests can build as many
// instances as they like.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "safecheck"

// Metrics instrument set. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	checkInsTotal       *prometheus.CounterVec
	scansTotal          *prometheus.CounterVec
	scanDuration        prometheus.Histogram
	usersScanned        prometheus.Gauge
	escalationsTotal    prometheus.Counter
	escalationSkipTotal *prometheus.CounterVec
	dispatchTotal       *prometheus.CounterVec
	dispatchInFlight    prometheus.Gauge
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates the instrument set on a fresh registry
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		checkInsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "check_ins_total",
				Help:      "Check-ins received, by result",
			},
			[]string{"result"},
		),

		scansTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "watchdog_scans_total",
				Help:      "Watchdog scan cycles, by result",
			},
			[]string{"result"},
		),

		scanDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "watchdog_scan_duration_seconds",
				Help:      "Duration of one watchdog scan cycle",
				Buckets:   prometheus.DefBuckets,
			},
		),

		usersScanned: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "watchdog_users_scanned",
				Help:      "Users examined by the last scan cycle",
			},
		),

		escalationsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "escalations_total",
				Help:      "Escalation events emitted",
			},
		),

		escalationSkipTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "escalation_skips_total",
				Help:      "Overdue users not escalated by the scan, by reason",
			},
			[]string{"reason"},
		),

		dispatchTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dispatch_contacts_total",
				Help:      "Per-contact dispatch results",
			},
			[]string{"channel", "result"},
		),

		dispatchInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "dispatch_in_flight",
				Help:      "Escalation events handed off but not yet dispatched",
			},
		),

		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),

		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}
}

// Registry exposes the underlying registry (tests gather from it)
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// CheckIn result is one of accepted, stale, not_found, invalid
func (m *Metrics) CheckIn(result string) {
	if m == nil {
		return
	}
	m.checkInsTotal.WithLabelValues(result).Inc()
}

// ScanCompleted records a finished cycle
func (m *Metrics) ScanCompleted(users int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.scansTotal.WithLabelValues("ok").Inc()
	m.scanDuration.Observe(elapsed.Seconds())
	m.usersScanned.Set(float64(users))
}

// ScanFailed records a cycle abandoned before any record was examined
func (m *Metrics) ScanFailed() {
	if m == nil {
		return
	}
	m.scansTotal.WithLabelValues("error").Inc()
}

func (m *Metrics) Escalated() {
	if m == nil {
		return
	}
	m.escalationsTotal.Inc()
}

// EscalationSkipped reason is one of already_escalated, superseded, not_found, error
func (m *Metrics) EscalationSkipped(reason string) {
	if m == nil {
		return
	}
	m.escalationSkipTotal.WithLabelValues(reason).Inc()
}

// DispatchResult result is delivered or failed
func (m *Metrics) DispatchResult(channel, result string) {
	if m == nil {
		return
	}
	m.dispatchTotal.WithLabelValues(channel, result).Inc()
}

func (m *Metrics) DispatchStarted() {
	if m == nil {
		return
	}
	m.dispatchInFlight.Inc()
}

func (m *Metrics) DispatchFinished() {
	if m == nil {
		return
	}
	m.dispatchInFlight.Dec()
}

// HTTPRequest records one served request
func (m *Metrics) HTTPRequest(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}
