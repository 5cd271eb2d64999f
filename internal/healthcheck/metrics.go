package healthcheck

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"sigs.k8s.io/controller-runtime/pkg/metrics"
)

var (
	expediteTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "statusbar_health_check_expedite_total",
		Help: "Expedited health checks by target kind and outcome",
	}, []string{"kind", "outcome"})

	refreshInProgress = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "statusbar_health_check_in_progress",
		Help: "Whether a health check refresh is running for a target",
	}, []string{"kind", "target"})

	registerOnce sync.Once
)

func registerMetrics() {
	registerOnce.Do(func() {
		metrics.Registry.MustRegister(expediteTotal, refreshInProgress)
	})
}
