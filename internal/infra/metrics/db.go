package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(dbPoolStats, registryWritesTotal, registryRecoveriesTotal) }

var (
	dbPoolStats = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "db_pool_stats",
			Help: "Current state of the database connection pool.",
		},
		[]string{"state"}, // 'total', 'idle', 'in_use'
	)

	registryWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "registry_writes_total",
			Help: "Subscriber registry writes by backend and operation.",
		},
		[]string{"backend", "op"}, // op: create, update, touch, save_all, delete
	)

	registryRecoveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "registry_recoveries_total",
			Help: "Self-healing actions taken while loading the subscriber file.",
		},
		[]string{"kind"}, // corrupt, legacy_list, missing_last_name
	)
)

func SetDBPoolStats(total, idle, inUse int32) {
	dbPoolStats.WithLabelValues("total").Set(float64(total))
	dbPoolStats.WithLabelValues("idle").Set(float64(idle))
	dbPoolStats.WithLabelValues("in_use").Set(float64(inUse))
}

func IncRegistryWrite(backend, op string) {
	registryWritesTotal.WithLabelValues(norm(backend), norm(op)).Inc()
}

func IncRegistryRecovery(kind string) {
	registryRecoveriesTotal.WithLabelValues(norm(kind)).Inc()
}
