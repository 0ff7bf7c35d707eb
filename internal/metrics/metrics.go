// Package metrics counts what happens on the three sync channels. A nil *Metrics is
// valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ailearning_client"

type Metrics struct {
	Registry *prometheus.Registry

	pushDelivered   prometheus.Counter
	pushDropped     prometheus.Counter
	channelConnects *prometheus.CounterVec
	dialFailures    prometheus.Counter
	sessionEnds     *prometheus.CounterVec
	markAllRead     *prometheus.CounterVec
	balanceUpdates  *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		pushDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "push_messages_delivered_total",
			Help: "Push payloads handed to the handler without error.",
		}),
		pushDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "push_messages_dropped_total",
			Help: "Push payloads the handler rejected.",
		}),
		channelConnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "channel_connects_total",
			Help: "Push channel connections established.",
		}, []string{"kind"}),
		dialFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "channel_dial_failures_total",
			Help: "Push channel dial or subscribe failures.",
		}),
		sessionEnds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "session_ends_total",
			Help: "Sessions torn down, by reason.",
		}, []string{"reason"}),
		markAllRead: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "notifications_mark_all_read_total",
			Help: "Mark-all-read attempts, by result.",
		}, []string{"result"}),
		balanceUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "wallet_balance_updates_total",
			Help: "Authoritative balance values applied, by source.",
		}, []string{"source"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		m.pushDelivered,
		m.pushDropped,
		m.channelConnects,
		m.dialFailures,
		m.sessionEnds,
		m.markAllRead,
		m.balanceUpdates,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

func (m *Metrics) PushDelivered() {
	if m != nil {
		m.pushDelivered.Inc()
	}
}

func (m *Metrics) PushDropped() {
	if m != nil {
		m.pushDropped.Inc()
	}
}

func (m *Metrics) ChannelConnected(reconnect bool) {
	if m == nil {
		return
	}
	kind := "initial"
	if reconnect {
		kind = "reconnect"
	}
	m.channelConnects.WithLabelValues(kind).Inc()
}

func (m *Metrics) DialFailed() {
	if m != nil {
		m.dialFailures.Inc()
	}
}

func (m *Metrics) SessionEnded(reason string) {
	if m != nil {
		m.sessionEnds.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) MarkAllRead(result string) {
	if m != nil {
		m.markAllRead.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) BalanceUpdated(source string) {
	if m != nil {
		m.balanceUpdates.WithLabelValues(source).Inc()
	}
}
