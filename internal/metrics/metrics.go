package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pengadaan_http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pengadaan_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pengadaan_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)

	permissionRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pengadaan_permission_requests_total",
			Help: "Permission requests by outcome.",
		},
		[]string{"permission_type", "outcome"},
	)

	permissionTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pengadaan_permission_transitions_total",
			Help: "Permission status transitions applied.",
		},
		[]string{"status"},
	)

	bulkItems = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pengadaan_permission_bulk_items_total",
			Help: "Items handled by bulk responses.",
		},
		[]string{"result"},
	)

	expirySweeps = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pengadaan_permission_expired_by_sweep_total",
		Help: "Permissions whose expired status was persisted by housekeeping.",
	})

	registerOnce sync.Once
)

// Init registers all collectors with the default registry. Safe to call more
// than once.
func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight,
			httpRequestsTotal,
			httpRequestDuration,
			permissionRequests,
			permissionTransitions,
			bulkItems,
			expirySweeps,
		)
	})
}

func Handler() http.Handler {
	return promhttp.Handler()
}

func HTTPStarted() {
	httpInFlight.Inc()
}

func HTTPFinished(method, route, status string, seconds float64) {
	httpInFlight.Dec()
	httpRequestsTotal.WithLabelValues(method, route, status).Inc()
	httpRequestDuration.WithLabelValues(method, route, status).Observe(seconds)
}

func PermissionRequested(permissionType, outcome string) {
	permissionRequests.WithLabelValues(permissionType, outcome).Inc()
}

func PermissionTransitioned(status string) {
	permissionTransitions.WithLabelValues(status).Inc()
}

func BulkProcessed(processed, failed int) {
	bulkItems.WithLabelValues("processed").Add(float64(processed))
	bulkItems.WithLabelValues("failed").Add(float64(failed))
}

func ExpiredBySweep(n int64) {
	expirySweeps.Add(float64(n))
}
