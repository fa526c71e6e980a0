package ipstack

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "flowproxy"

var (
	oversizedDrops = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ipstack",
		Name:      "oversized_drops_total",
		Help:      "Total count of egress datagrams dropped for exceeding the maximum payload size",
	})
	unresolvedDrops = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ipstack",
		Name:      "unresolved_drops_total",
		Help:      "Total count of egress datagrams dropped for targeting an unresolved destination",
	})
	mismatchedFamilyDrops = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ipstack",
		Name:      "mismatched_family_drops_total",
		Help:      "Total count of egress datagrams dropped for a source/local address family mismatch",
	})
	encodeErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ipstack",
		Name:      "encode_errors_total",
		Help:      "Total count of egress datagrams that failed to encode or transmit",
	})
	txTokenUnavailable = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ipstack",
		Name:      "tx_token_unavailable_total",
		Help:      "Total count of egress datagrams dropped because the device had no TX token available",
	})
)

func init() {
	prometheus.MustRegister(oversizedDrops, unresolvedDrops, mismatchedFamilyDrops, encodeErrors, txTokenUnavailable)
}
