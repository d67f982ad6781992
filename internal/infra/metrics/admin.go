package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(adminCommandTotal, apiRequestsTotal) }

var (
	adminCommandTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "admin_command_total",
			Help: "Tracks attempts to use admin commands.",
		},
		[]string{"command", "status"}, // status: 'authorized', 'unauthorized'
	)

	apiRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "HTTP API requests by route pattern and status code.",
		},
		[]string{"route", "code"},
	)
)

func IncAdminCommand(command, status string) {
	adminCommandTotal.WithLabelValues(norm(command), norm(status)).Inc()
}

func IncAPIRequest(route, code string) {
	apiRequestsTotal.WithLabelValues(route, code).Inc()
}
