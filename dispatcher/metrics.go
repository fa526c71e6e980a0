package dispatcher

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "flowproxy"

var (
	dispatchedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "dispatcher",
		Name:      "dispatched_total",
		Help:      "Total count of flows handed to a dispatcher, by kind",
	}, []string{"kind"})

	matchedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "dispatcher",
		Name:      "matched_total",
		Help:      "Total count of flows resolved to a next handler, by kind and outcome",
	}, []string{"kind", "outcome"})
)

func init() {
	prometheus.MustRegister(dispatchedTotal, matchedTotal)
}
