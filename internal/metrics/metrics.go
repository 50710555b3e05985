package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "stolik"

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint.",
		},
		[]string{"endpoint"},
	)

	bookingOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "booking_operations_total",
			Help:      "Booking lifecycle operations by outcome.",
		},
		[]string{"operation", "outcome"},
	)

	directoryRequests = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "directory_request_duration_seconds",
			Help:      "Latency of restaurant directory calls.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"call", "outcome"},
	)

	directoryCache = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "directory_cache_total",
			Help:      "Directory cache lookups by result.",
		},
		[]string{"result"},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(httpRequests, bookingOperations, directoryRequests, directoryCache)
	})
}

// IncHTTP increments the counter for an endpoint label.
func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}

// IncBooking counts a lifecycle operation, outcome is "ok" or an error kind.
func IncBooking(operation, outcome string) {
	bookingOperations.WithLabelValues(operation, outcome).Inc()
}

func ObserveDirectory(call string, err error, elapsed time.Duration) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	directoryRequests.WithLabelValues(call, outcome).Observe(elapsed.Seconds())
}

func IncDirectoryCache(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	directoryCache.WithLabelValues(result).Inc()
}
