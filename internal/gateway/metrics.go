// ABOUTME: Prometheus instrumentation for the tool surface
// ABOUTME: Counts requests, invocations and gate denials, and times invocations

package gateway

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// unknownToolLabel is the tool label for invocations that never resolved to a
// visible tool.
const unknownToolLabel = "unknown"

// Metrics records gateway activity. A nil *Metrics is a no-op.
type Metrics struct {
	gatherer       prometheus.Gatherer
	requests       *prometheus.CounterVec
	invocations    *prometheus.CounterVec
	invokeDuration *prometheus.HistogramVec
	gateDenials    *prometheus.CounterVec
	discovered     prometheus.Gauge
}

// NewMetrics registers gateway metrics on reg. A nil reg uses a fresh registry.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Metrics{
		gatherer: reg,
		requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "toolbridge_requests_total",
				Help: "Total number of tool surface requests",
			},
			[]string{"operation", "code"},
		),
		invocations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "toolbridge_invocations_total",
				Help: "Total number of tool invocations by outcome",
			},
			[]string{"tool", "outcome"},
		),
		invokeDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "toolbridge_invoke_duration_seconds",
				Help:    "Duration of tool invocations in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"tool"},
		),
		gateDenials: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "toolbridge_gate_denials_total",
				Help: "Total number of invocations denied by the OAuth gate",
			},
			[]string{"code"},
		),
		discovered: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "toolbridge_exposed_tools",
				Help: "Number of procedures carrying tool metadata",
			},
		),
	}
}

// ObserveRequest counts a request; code is "ok" or an outer error code.
func (m *Metrics) ObserveRequest(operation, code string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(operation, code).Inc()
}

// ObserveInvocation records an invocation outcome and its duration.
func (m *Metrics) ObserveInvocation(toolName, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.invocations.WithLabelValues(toolName, outcome).Inc()
	m.invokeDuration.WithLabelValues(toolName).Observe(d.Seconds())
}

// ObserveGateDenial counts a gate denial by code.
func (m *Metrics) ObserveGateDenial(code string) {
	if m == nil {
		return
	}
	m.gateDenials.WithLabelValues(code).Inc()
}

// SetExposedTools sets the exposed tool gauge.
func (m *Metrics) SetExposedTools(n int) {
	if m == nil {
		return
	}
	m.discovered.Set(float64(n))
}

// Handler serves the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
