package datagramfwd

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "flowproxy"

var (
	activeSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "datagramfwd",
		Name:      "active_sessions",
		Help:      "Concurrent count of datagram sessions currently being forwarded to an outbound",
	})
	idleCloses = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "datagramfwd",
		Name:      "idle_closes_total",
		Help:      "Total count of datagram sessions torn down for exceeding the idle timeout",
	})
	forwardErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "datagramfwd",
		Name:      "errors_total",
		Help:      "Total count of datagram pump errors in either direction",
	})
)

func init() {
	prometheus.MustRegister(activeSessions, idleCloses, forwardErrors)
}
