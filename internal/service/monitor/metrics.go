package monitor

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	alertMetricsOnce sync.Once
	alertsTotal      *prometheus.CounterVec
)

func initAlertMetrics() {
	alertMetricsOnce.Do(func() {
		alertsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rollout",
			Subsystem: "monitor",
			Name:      "alerts_total",
			Help:      "Count of alerts raised by the deployment monitor",
		}, []string{"severity"})
		if err := prometheus.Register(alertsTotal); err != nil {
			if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
				alertsTotal = are.ExistingCollector.(*prometheus.CounterVec)
			}
		}
	})
}

func observeAlert(severity string) {
	initAlertMetrics()
	alertsTotal.WithLabelValues(severity).Inc()
}
