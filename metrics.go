package chatsync

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the client-side Prometheus instrumentation. A nil *Metrics is
// valid and records nothing, so instrumentation stays optional.
type Metrics struct {
	SendsTotal        prometheus.Counter
	SendFailuresTotal prometheus.Counter
	EventsTotal       *prometheus.CounterVec
	ReconnectsTotal   prometheus.Counter
}

// NewMetrics registers the chat client metrics with the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		SendsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "chat_sends_total",
			Help: "Messages sent and confirmed by the server",
		}),
		SendFailuresTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "chat_send_failures_total",
			Help: "Sends that failed and were left visible as Failed",
		}),
		EventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_channel_events_total",
			Help: "Realtime push events received, by kind",
		}, []string{"kind"}),
		ReconnectsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "chat_channel_reconnects_total",
			Help: "Channel connections re-established after a drop",
		}),
	}
}

func (m *Metrics) sendConfirmed() {
	if m != nil {
		m.SendsTotal.Inc()
	}
}

func (m *Metrics) sendFailed() {
	if m != nil {
		m.SendFailuresTotal.Inc()
	}
}

func (m *Metrics) eventReceived(kind string) {
	if m != nil {
		m.EventsTotal.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) reconnected() {
	if m != nil {
		m.ReconnectsTotal.Inc()
	}
}
