package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	Users = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "watchparty_users",
		Help: "Current number of user registry entries",
	})
	Sessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "watchparty_sessions",
		Help: "Current number of active watch-party sessions",
	})
	Connections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "watchparty_connections",
		Help: "Current number of active websocket connections",
	})
	ChatMessagesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "watchparty_chat_messages_total",
		Help: "Total number of user chat messages sent",
	})
	CommandsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "watchparty_commands_total",
		Help: "Total number of client commands processed",
	}, []string{"command"})
)

func init() {
	prometheus.MustRegister(Users, Sessions, Connections, ChatMessagesTotal, CommandsTotal)
}
