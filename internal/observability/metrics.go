package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	metricsNamespace = "poe_relay"
	streamSubsystem  = "stream"
)

// Metrics holds the relay's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	RequestsTotal         *prometheus.CounterVec
	EventsTotal           *prometheus.CounterVec
	ErrorsTotal           *prometheus.CounterVec
	UpstreamRetriesTotal  *prometheus.CounterVec
	ActiveStreams         prometheus.Gauge
	StreamDurationSeconds *prometheus.HistogramVec
}

// NewMetrics registers the collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "requests_total",
				Help:      "Bot requests by Poe request type and outcome",
			},
			[]string{"type", "outcome"},
		),
		EventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: streamSubsystem,
				Name:      "events_total",
				Help:      "SSE events written by event name",
			},
			[]string{"event"},
		),
		ErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: streamSubsystem,
				Name:      "errors_total",
				Help:      "Relay failures by error code",
			},
			[]string{"code"},
		),
		UpstreamRetriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "upstream",
				Name:      "retries_total",
				Help:      "Upstream attempts that failed and were retried",
			},
			[]string{"op"},
		),
		ActiveStreams: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: streamSubsystem,
				Name:      "active",
				Help:      "Streams currently open",
			},
		),
		StreamDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: streamSubsystem,
				Name:      "duration_seconds",
				Help:      "Time from request to done event",
				Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 30, 45, 60},
			},
			[]string{"outcome"},
		),
	}
}

func (m *Metrics) RecordRequest(requestType, outcome string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(requestType, outcome).Inc()
}

func (m *Metrics) RecordEvent(event string) {
	if m == nil {
		return
	}
	m.EventsTotal.WithLabelValues(event).Inc()
}

func (m *Metrics) RecordError(code string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(code).Inc()
}

func (m *Metrics) RecordRetry(op string) {
	if m == nil {
		return
	}
	m.UpstreamRetriesTotal.WithLabelValues(op).Inc()
}

// StreamStarted bumps the active gauge and returns a func that ends the
// stream with the given outcome.
func (m *Metrics) StreamStarted() func(outcome string) {
	if m == nil {
		return func(string) {}
	}
	start := time.Now()
	m.ActiveStreams.Inc()
	return func(outcome string) {
		m.ActiveStreams.Dec()
		m.StreamDurationSeconds.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	}
}

// Handler exposes the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
