package websocket

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/luciancaetano/wsclient"
)

// Reconnect reasons
const (
	reasonDialError = "dial_error"
	reasonClosed    = "closed"
	reasonManual    = "manual"
)

// metrics holds the Prometheus collectors of one client
type metrics struct {
	messagesSent     *prometheus.CounterVec
	messagesBuffered prometheus.Counter
	messagesReceived *prometheus.CounterVec
	dispatched       prometheus.Counter
	callbackPanics   prometheus.Counter
	reconnectsTotal  *prometheus.CounterVec
	suppressedTotal  prometheus.Counter
	heartbeatsTotal  prometheus.Counter
	state            prometheus.Gauge
}

func newMetrics(config *MetricsConfig) *metrics {
	factory := promauto.With(config.Registry)

	return &metrics{
		messagesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "messages_sent_total",
			Help:        "Total number of messages written to the connection",
			ConstLabels: config.ConstLabels,
		}, []string{"mode"}),

		messagesBuffered: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "messages_buffered_total",
			Help:        "Total number of messages buffered while disconnected",
			ConstLabels: config.ConstLabels,
		}),

		messagesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "messages_received_total",
			Help:        "Total number of inbound messages by outcome",
			ConstLabels: config.ConstLabels,
		}, []string{"kind"}),

		dispatched: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "callbacks_invoked_total",
			Help:        "Total number of subscription callbacks invoked",
			ConstLabels: config.ConstLabels,
		}),

		callbackPanics: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "callback_panics_total",
			Help:        "Total number of recovered callback panics",
			ConstLabels: config.ConstLabels,
		}),

		reconnectsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "reconnects_total",
			Help:        "Total number of reconnections by reason",
			ConstLabels: config.ConstLabels,
		}, []string{"reason"}),

		suppressedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "reconnects_suppressed_total",
			Help:        "Total number of closes that did not reconnect because of the last response code",
			ConstLabels: config.ConstLabels,
		}),

		heartbeatsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "heartbeats_total",
			Help:        "Total number of heartbeat pings sent",
			ConstLabels: config.ConstLabels,
		}),

		state: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "connection_state",
			Help:        "Current connection state (0 closed, 1 connecting, 2 open, 3 closing)",
			ConstLabels: config.ConstLabels,
		}),
	}
}

func (m *metrics) setState(s wsclient.State) {
	m.state.Set(float64(s))
}
