package poller

import "github.com/prometheus/client_golang/prometheus"

var (
	pollsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bananapuck_polls_total",
			Help: "Successful polls of the device backend.",
		},
		[]string{"endpoint"},
	)
	pollFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bananapuck_poll_failures_total",
			Help: "Failed polls of the device backend, by failure class.",
		},
		[]string{"endpoint", "reason"},
	)
	pollDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bananapuck_poll_duration_seconds",
			Help:    "Time spent fetching from the device backend.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)
)

func init() {
	prometheus.MustRegister(pollsTotal)
	prometheus.MustRegister(pollFailures)
	prometheus.MustRegister(pollDuration)
}
