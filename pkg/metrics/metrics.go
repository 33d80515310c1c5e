package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Provisioning metrics
	VerdictsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "protect_init_verdicts_total",
			Help: "Container starts by lifecycle verdict",
		},
		[]string{"verdict"},
	)

	StepDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "protect_init_step_duration_seconds",
			Help:    "Provisioning step duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"step"},
	)

	StepFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "protect_init_step_failures_total",
			Help: "Provisioning steps that returned an error",
		},
		[]string{"step"},
	)

	// Database wait metrics
	DBWaitAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "protect_init_db_wait_attempts_total",
			Help: "Database connection attempts by result",
		},
		[]string{"result"},
	)

	// Supervisor metrics
	ServerRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "protect_init_server_running",
			Help: "Whether the supervised server process is running (1 = running)",
		},
	)

	SignalsForwarded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "protect_init_signals_forwarded_total",
			Help: "Signals forwarded to the server process",
		},
		[]string{"signal"},
	)
)

func init() {
	prometheus.MustRegister(VerdictsTotal)
	prometheus.MustRegister(StepDuration)
	prometheus.MustRegister(StepFailures)
	prometheus.MustRegister(DBWaitAttempts)
	prometheus.MustRegister(ServerRunning)
	prometheus.MustRegister(SignalsForwarded)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveDBAttempt counts one database connection attempt
func ObserveDBAttempt(healthy bool) {
	result := "refused"
	if healthy {
		result = "connected"
	}
	DBWaitAttempts.WithLabelValues(result).Inc()
}
