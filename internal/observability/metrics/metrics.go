// Package metrics exposes coldwatch Prometheus counters. All methods are safe
// on a nil *Metrics, which disables recording.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "coldwatch"

// Message results.
const (
	MessageStored   = "stored"
	MessageInvalid  = "invalid"
	MessageFailed   = "failed"
	MessagePanic    = "panic"
	MessageDropped  = "dropped"
	MessageInactive = "inactive"
)

type Metrics struct {
	registry *prometheus.Registry

	messagesTotal      *prometheus.CounterVec
	transitionsTotal   *prometheus.CounterVec
	notificationsTotal *prometheus.CounterVec
	sweepsTotal        prometheus.Counter
	sweepFailures      prometheus.Counter
	reconnectsTotal    prometheus.Counter
	openTickets        prometheus.Gauge
	httpRequestsTotal  *prometheus.CounterVec
	httpDuration       *prometheus.HistogramVec
}

// New creates the collectors on a private registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		messagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Telemetry messages handled, by result.",
		}, []string{"result"}),
		transitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticket_transitions_total",
			Help:      "Ticket lifecycle transitions, by kind.",
		}, []string{"transition"}),
		notificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notification attempts, by kind and delivery outcome.",
		}, []string{"kind", "delivered"}),
		sweepsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reminder_sweeps_total",
			Help:      "Reminder scheduler sweeps run.",
		}),
		sweepFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reminder_sweep_failures_total",
			Help:      "Per-ticket failures during reminder sweeps.",
		}),
		reconnectsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transport_reconnects_total",
			Help:      "Transport reconnect attempts.",
		}),
		openTickets: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "open_tickets",
			Help:      "OPEN tickets seen by the last reminder sweep.",
		}),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP API requests, by route and status.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP API request durations, by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.messagesTotal,
		m.transitionsTotal,
		m.notificationsTotal,
		m.sweepsTotal,
		m.sweepFailures,
		m.reconnectsTotal,
		m.openTickets,
		m.httpRequestsTotal,
		m.httpDuration,
	)
	return m
}

// Registry returns the registry holding every collector.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Message(result string) {
	if m == nil {
		return
	}
	m.messagesTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) Transition(kind string) {
	if m == nil {
		return
	}
	m.transitionsTotal.WithLabelValues(kind).Inc()
}

func (m *Metrics) Notification(kind string, delivered bool) {
	if m == nil {
		return
	}
	m.notificationsTotal.WithLabelValues(kind, strconv.FormatBool(delivered)).Inc()
}

// Sweep records one reminder sweep over open tickets with failed per-ticket errors.
func (m *Metrics) Sweep(open, failed int) {
	if m == nil {
		return
	}
	m.sweepsTotal.Inc()
	m.sweepFailures.Add(float64(failed))
	m.openTickets.Set(float64(open))
}

func (m *Metrics) Reconnect() {
	if m == nil {
		return
	}
	m.reconnectsTotal.Inc()
}

// HTTPRequest records one API request.
func (m *Metrics) HTTPRequest(route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpRequestsTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}
