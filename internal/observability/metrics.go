// README: Prometheus collectors for polling, order conflicts and the dev store HTTP surface.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Poll tick outcomes.
const (
	TickOK      = "ok"
	TickError   = "error"
	TickSkipped = "skipped"
	TickStale   = "stale"
)

var (
	PollTicksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ridesync", Name: "poll_ticks_total", Help: "Poll ticks by poller and outcome"},
		[]string{"poller", "outcome"},
	)
	PollFetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ridesync",
			Name:      "poll_fetch_duration_seconds",
			Help:      "Latency of a single poll fetch",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"poller"},
	)
	OrderConflictsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ridesync", Name: "order_conflicts_total", Help: "Order updates rejected because the order moved on"},
		[]string{"action"},
	)
	QuarantinedOrdersTotal = promauto.NewCounter(
		prometheus.CounterOpts{Namespace: "ridesync", Name: "quarantined_orders_total", Help: "Order payloads dropped by ingress validation or regression checks"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ridesync", Name: "devstore_http_requests_total", Help: "Dev store HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ridesync",
			Name:      "devstore_http_request_duration_seconds",
			Help:      "Dev store HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)
