package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	APILatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "calibra",
			Subsystem: "api",
			Name:      "latency_seconds",
			Help:      "Latency of operator API endpoints",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	APIErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "calibra",
			Subsystem: "api",
			Name:      "errors_total",
			Help:      "Errors by operator API endpoint",
		},
		[]string{"endpoint"},
	)

	SnapshotCache = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "calibra",
			Subsystem: "api",
			Name:      "snapshot_cache_total",
			Help:      "Snapshot cache lookups by endpoint and result",
		},
		[]string{"endpoint", "result"},
	)
)

func Register() {
	once.Do(func() {
		prometheus.MustRegister(APILatency, APIErrors, SnapshotCache)
	})
}
