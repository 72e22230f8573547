package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "hostlink"

var (
	ConsoleViewers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "console_viewers",
		Help:      "Console sessions currently attached across all hosts.",
	})
	ConsoleLines = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "console_lines_total",
		Help:      "Agent output lines appended to host log buffers.",
	})
	AgentLinks = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "agent_links",
		Help:      "Open upstream links to host agents.",
	})
	HostTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "host_transitions_total",
		Help:      "Host status transitions by target status.",
	}, []string{"to"})
	ConnectAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "connect_attempts_total",
		Help:      "Gateway dials by outcome.",
	}, []string{"result"})
	HeartbeatTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "heartbeat_timeouts_total",
		Help:      "Hosts marked OFFLINE after agent silence.",
	})
)

func Handler() http.Handler {
	return promhttp.Handler()
}
