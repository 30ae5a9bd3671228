package rollback

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	rollbackMetricsOnce sync.Once
	rollbacksTotal      *prometheus.CounterVec
)

func initRollbackMetrics() {
	rollbackMetricsOnce.Do(func() {
		rollbacksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rollout",
			Subsystem: "rollback",
			Name:      "executions_total",
			Help:      "Count of rollback executions by strategy and outcome",
		}, []string{"strategy", "outcome"})
		if err := prometheus.Register(rollbacksTotal); err != nil {
			if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
				rollbacksTotal = are.ExistingCollector.(*prometheus.CounterVec)
			}
		}
	})
}

func observeRollback(strategy, outcome string) {
	initRollbackMetrics()
	rollbacksTotal.WithLabelValues(strategy, outcome).Inc()
}
