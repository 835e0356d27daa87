package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	metricsNamespace = "herald"

	kindEvent = "event"
	kindAck   = "ack"
)

// Metrics collects gateway wide counters. A nil *Metrics is valid and records
// nothing, which is what tests and the client use.
type Metrics struct {
	connections       prometheus.Gauge
	accepted          prometheus.Counter
	received          *prometheus.CounterVec
	sent              prometheus.Counter
	decodeErrors      prometheus.Counter
	handlerErrors     prometheus.Counter
	sendErrors        prometheus.Counter
	acksResolved      prometheus.Counter
	broadcasts        prometheus.Counter
	broadcastFailures prometheus.Counter
}

// NewMetrics registers the gateway metrics with registry. Passing nil uses
// prometheus.DefaultRegisterer.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		connections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "connections",
			Help:      "Number of open connections",
		}),

		accepted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "connections_accepted_total",
			Help:      "Total number of accepted connections",
		}),

		received: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "events_received_total",
			Help:      "Total number of decoded events received, by kind",
		}, []string{"kind"}),

		sent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "events_sent_total",
			Help:      "Total number of events handed to a transport",
		}),

		decodeErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "decode_errors_total",
			Help:      "Total number of frames dropped because they could not be decoded",
		}),

		handlerErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "handler_errors_total",
			Help:      "Total number of handler failures",
		}),

		sendErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "send_errors_total",
			Help:      "Total number of events a transport refused",
		}),

		acksResolved: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "acks_resolved_total",
			Help:      "Total number of acknowledgements matched to a pending callback",
		}),

		broadcasts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "broadcasts_total",
			Help:      "Total number of broadcasts",
		}),

		broadcastFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "broadcast_failures_total",
			Help:      "Total number of per connection broadcast deliveries that failed",
		}),
	}
}

func (m *Metrics) connectionOpened() {
	if m == nil {
		return
	}

	m.accepted.Inc()
	m.connections.Inc()
}

func (m *Metrics) connectionClosed() {
	if m == nil {
		return
	}

	m.connections.Dec()
}

func (m *Metrics) eventReceived(ack bool) {
	if m == nil {
		return
	}

	kind := kindEvent
	if ack {
		kind = kindAck
	}

	m.received.WithLabelValues(kind).Inc()
}

func (m *Metrics) eventSent() {
	if m != nil {
		m.sent.Inc()
	}
}

func (m *Metrics) decodeFailed() {
	if m != nil {
		m.decodeErrors.Inc()
	}
}

func (m *Metrics) handlerFailed() {
	if m != nil {
		m.handlerErrors.Inc()
	}
}

func (m *Metrics) sendFailed() {
	if m != nil {
		m.sendErrors.Inc()
	}
}

func (m *Metrics) ackResolved() {
	if m != nil {
		m.acksResolved.Inc()
	}
}

func (m *Metrics) broadcast(failures int) {
	if m == nil {
		return
	}

	m.broadcasts.Inc()
	m.broadcastFailures.Add(float64(failures))
}
