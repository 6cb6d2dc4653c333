package vitals

import "github.com/prometheus/client_golang/prometheus"

var (
	metricValue = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bananapuck_metric_value",
			Help: "Most recent reading of each tracked metric.",
		},
		[]string{"metric"},
	)
	metricLevel = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bananapuck_metric_level",
			Help: "Most recent classification of each metric (0 safe, 1 warning, 2 danger).",
		},
		[]string{"metric"},
	)
	activeAlerts = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bananapuck_active_alerts",
			Help: "Number of alert groups with unacknowledged entries.",
		},
	)
	alertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bananapuck_alerts_total",
			Help: "Alerts raised, by metric type and level.",
		},
		[]string{"type", "level"},
	)
	persistFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bananapuck_persist_failures_total",
			Help: "Failed attempts to save the vitals state.",
		},
	)
)

func init() {
	prometheus.MustRegister(metricValue)
	prometheus.MustRegister(metricLevel)
	prometheus.MustRegister(activeAlerts)
	prometheus.MustRegister(alertsTotal)
	prometheus.MustRegister(persistFailures)
}
