package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ActiveConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_ws_active_connections",
		Help: "Active websocket connections",
	})
	OnlineUsers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_online_users",
		Help: "Distinct users with at least one open connection",
	})
	MessagesPersisted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_messages_persisted_total",
		Help: "Messages written to the message store",
	}, []string{"scope"})
	Broadcasts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_broadcasts_total",
		Help: "Frames fanned out by the hub",
	}, []string{"source"})
	SendErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_send_errors_total",
		Help: "Rejected or failed send attempts",
	}, []string{"reason"})
	RateLimited = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_ws_rate_limited_total",
		Help: "Inbound socket events dropped by the per-connection limiter",
	})
	BusErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_bus_errors_total",
		Help: "Cross-process bus publish/consume failures",
	}, []string{"op"})
)

func init() {
	prometheus.MustRegister(
		ActiveConnections,
		OnlineUsers,
		MessagesPersisted,
		Broadcasts,
		SendErrors,
		RateLimited,
		BusErrors,
	)
}

// Handler 暴露默认注册表
func Handler() http.Handler {
	return promhttp.Handler()
}
