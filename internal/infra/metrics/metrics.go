// File: internal/infra/metrics/metrics.go
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		notificationsSentTotal,
		notificationsFailedTotal,
		dispatchBatchesTotal,
		dispatchDurationMs,
		dispatchInFlight,
	)
}

var (
	notificationsSentTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "notifications_sent_total",
			Help: "Messages accepted by the messenger.",
		},
	)

	notificationsFailedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "notifications_failed_total",
			Help: "Messages the messenger rejected or could not deliver.",
		},
	)

	dispatchBatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_batches_total",
			Help: "Fan-out batches by target mode.",
		},
		[]string{"mode"}, // chat_id, nip, username, first_name, last_name, broadcast
	)

	dispatchDurationMs = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dispatch_duration_ms",
			Help:    "Wall time of one fan-out batch in milliseconds.",
			Buckets: []float64{5, 25, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
		},
	)

	dispatchInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dispatch_in_flight",
			Help: "Sends currently in flight.",
		},
	)
)

func IncNotification(success bool) {
	if success {
		notificationsSentTotal.Inc()
		return
	}
	notificationsFailedTotal.Inc()
}

func IncDispatchBatch(mode string) {
	dispatchBatchesTotal.WithLabelValues(norm(mode)).Inc()
}

func ObserveDispatch(d time.Duration) {
	dispatchDurationMs.Observe(float64(d.Milliseconds()))
}

func AddInFlight(delta float64) {
	dispatchInFlight.Add(delta)
}
