// Package metrics exposes Prometheus collectors for the avatar runtime.
//
// Every method is safe on a nil *Metrics so library packages can report
// unconditionally.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "avatar"

// Metrics holds the collectors and the registry they are registered with.
type Metrics struct {
	registry *prometheus.Registry

	eventsSent     *prometheus.CounterVec
	eventsReceived *prometheus.CounterVec
	droppedSends   prometheus.Counter
	malformed      prometheus.Counter
	toolCalls      *prometheus.CounterVec
	continuations  prometheus.Counter
	sessionState   prometheus.Gauge
	frameTick      prometheus.Histogram
	poseClients    prometheus.Gauge
}

// New creates collectors on a fresh registry, including Go runtime and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		eventsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "events_sent_total",
			Help:      "Protocol events transmitted, by type.",
		}, []string{"type"}),
		eventsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "events_received_total",
			Help:      "Protocol events received, by type.",
		}, []string{"type"}),
		droppedSends: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "dropped_sends_total",
			Help:      "Sends attempted without an open channel.",
		}),
		malformed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "malformed_events_total",
			Help:      "Inbound messages that could not be parsed.",
		}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "tool_calls_total",
			Help:      "Function calls received, by tool name.",
		}, []string{"name"}),
		continuations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "continuations_total",
			Help:      "Continuation responses requested after tool calls.",
		}),
		sessionState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "session_state",
			Help:      "Current session state (0 idle, 1 connecting, 2 active, 3 closing, 4 failed).",
		}),
		frameTick: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "frame",
			Name:      "tick_seconds",
			Help:      "Time spent running one frame pass.",
			Buckets:   []float64{.0001, .00025, .0005, .001, .0025, .005, .01, .016, .033},
		}),
		poseClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "clients",
			Help:      "Connected pose stream clients.",
		}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.eventsSent, m.eventsReceived, m.droppedSends, m.malformed,
		m.toolCalls, m.continuations, m.sessionState, m.frameTick, m.poseClients,
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) EventSent(typ string) {
	if m == nil {
		return
	}
	m.eventsSent.WithLabelValues(typ).Inc()
}

func (m *Metrics) EventReceived(typ string) {
	if m == nil {
		return
	}
	m.eventsReceived.WithLabelValues(typ).Inc()
}

func (m *Metrics) DroppedSend() {
	if m == nil {
		return
	}
	m.droppedSends.Inc()
}

func (m *Metrics) MalformedEvent() {
	if m == nil {
		return
	}
	m.malformed.Inc()
}

func (m *Metrics) ToolCall(name string) {
	if m == nil {
		return
	}
	m.toolCalls.WithLabelValues(name).Inc()
}

func (m *Metrics) Continuation() {
	if m == nil {
		return
	}
	m.continuations.Inc()
}

// SessionState records the numeric session state.
func (m *Metrics) SessionState(state int) {
	if m == nil {
		return
	}
	m.sessionState.Set(float64(state))
}

// ObserveFrame records the duration of one scheduler pass.
func (m *Metrics) ObserveFrame(d time.Duration) {
	if m == nil {
		return
	}
	m.frameTick.Observe(d.Seconds())
}

// PoseClients records the number of connected pose stream clients.
func (m *Metrics) PoseClients(n int) {
	if m == nil {
		return
	}
	m.poseClients.Set(float64(n))
}
