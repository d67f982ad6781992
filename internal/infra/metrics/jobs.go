package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(syncJobsTotal, followupsTotal) }

var (
	syncJobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "profile_sync_total",
			Help: "Profile refreshes from the messenger, labeled by status.",
		},
		[]string{"status"}, // 'updated', 'failed'
	)

	followupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "followup_messages_total",
			Help: "Delayed follow-up messages, labeled by status.",
		},
		[]string{"status"}, // 'sent', 'failed', 'dropped'
	)
)

func IncProfileSync(status string) {
	syncJobsTotal.WithLabelValues(norm(status)).Inc()
}

func IncFollowup(status string) {
	followupsTotal.WithLabelValues(norm(status)).Inc()
}
