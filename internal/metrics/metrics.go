// Package metrics registers the Prometheus collectors for the sync backend.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path"},
	)

	SyncItemsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_items_total",
			Help: "Batch items processed, by entity kind and outcome",
		},
		[]string{"entity_kind", "result"},
	)

	CatalogPullsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "catalog_pulls_total",
			Help: "Catalog delta pulls served",
		},
	)
)

func Register() {
	prometheus.MustRegister(HTTPRequestsTotal, HTTPRequestDuration, SyncItemsTotal, CatalogPullsTotal)
}
