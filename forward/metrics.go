package forward

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "flowproxy"

var (
	activeStreams = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "forward",
		Name:      "active_streams",
		Help:      "Concurrent count of streams currently being forwarded to an outbound",
	})
	initialDataErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "forward",
		Name:      "initial_data_errors_total",
		Help:      "Total count of streams that failed before an outbound could be created",
	})
	forwardErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "forward",
		Name:      "errors_total",
		Help:      "Total count of forwarding sessions that ended with a non-EOF error",
	})
)

func init() {
	prometheus.MustRegister(activeStreams, initialDataErrors, forwardErrors)
}
