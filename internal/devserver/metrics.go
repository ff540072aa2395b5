package devserver

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the dev server's prometheus collectors, registered on their
// own registry so tests can run several servers in one process.
type Metrics struct {
	Registry    *prometheus.Registry
	Messages    prometheus.Counter
	PushEvents  *prometheus.CounterVec
	Connections prometheus.Gauge
	Logins      *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	m := &Metrics{Registry: prometheus.NewRegistry()}

	m.Messages = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "devserver_messages_total",
		Help: "Messages accepted by the dev server.",
	})
	m.PushEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "devserver_push_events_total",
		Help: "Push frames delivered to websocket clients.",
	}, []string{"table"})
	m.Connections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "devserver_ws_connections",
		Help: "Currently connected websocket clients.",
	})
	m.Logins = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "devserver_login_attempts_total",
		Help: "Login attempts by outcome.",
	}, []string{"outcome"})

	m.Registry.MustRegister(m.Messages, m.PushEvents, m.Connections, m.Logins)
	return m
}
