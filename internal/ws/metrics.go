package ws

import "github.com/prometheus/client_golang/prometheus"

var (
	wsClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "bananapuck_ws_clients",
		Help: "Connected live-view WebSocket clients.",
	})
	wsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bananapuck_ws_dropped_messages_total",
		Help: "Messages dropped because a client's send buffer was full.",
	})
)

func init() {
	prometheus.MustRegister(wsClients, wsDropped)
}
