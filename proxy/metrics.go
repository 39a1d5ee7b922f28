package proxy

import (
	"github.com/prometheus/client_golang/prometheus"
)

const backendLabel = "backend"

var (
	// challengesMinted counts the fresh credentials handed out with a 402
	// response, per backend.
	challengesMinted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tollgate",
			Name:      "challenges_minted_total",
		}, []string{backendLabel},
	)

	// paymentsAccepted counts requests that presented a valid, settled
	// credential and were debited, per backend.
	paymentsAccepted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tollgate",
			Name:      "payments_accepted_total",
		}, []string{backendLabel},
	)

	// requestsRejected counts requests that carried a credential which
	// failed verification, settlement or the quota debit, per backend.
	requestsRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tollgate",
			Name:      "requests_rejected_total",
		}, []string{backendLabel},
	)

	// upstreamLatency tracks the wall clock duration of upstream calls,
	// per backend.
	upstreamLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tollgate",
			Name:      "upstream_latency_seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{backendLabel},
	)
)

// Collectors returns the metrics this package maintains so the exporter can
// register them.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		challengesMinted, paymentsAccepted, requestsRejected,
		upstreamLatency,
	}
}
