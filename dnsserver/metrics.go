package dnsserver

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "flowproxy"

var (
	queryErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "dnsserver",
		Name:      "query_errors_total",
		Help:      "Total count of DNS queries that failed to decode or encode",
	})
	resolveFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "dnsserver",
		Name:      "resolve_failures_total",
		Help:      "Total count of questions answered NXDOMAIN because resolution failed",
	})
)

func init() {
	prometheus.MustRegister(queryErrors, resolveFailures)
}
