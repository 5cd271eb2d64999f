package reconciler

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"sigs.k8s.io/controller-runtime/pkg/metrics"

	"github.com/apptrail-sh/statusbar/internal/imageref"
	"github.com/apptrail-sh/statusbar/internal/model"
)

const deploymentImageMetricName = "statusbar_deployment_image_info"

var (
	deploymentImageGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: deploymentImageMetricName,
		Help: "Container image currently reported for a Deployment",
	}, []string{
		"namespace",
		"deployment",
		"image",
		"tag",
		"registry",
		"health",
	})

	registerOnce sync.Once
)

func registerMetrics() {
	registerOnce.Do(func() {
		metrics.Registry.MustRegister(deploymentImageGauge)
	})
}

func deleteImageMetric(namespace, name string) int {
	return deploymentImageGauge.DeletePartialMatch(prometheus.Labels{
		"namespace":  namespace,
		"deployment": name,
	})
}

func setImageMetric(namespace, name string, ref model.ImageReference, found bool, health model.HealthStatus) {
	deleteImageMetric(namespace, name)

	image, tag, registry := model.ImagePlaceholder, "", ""
	if found {
		image, tag, registry = ref.Image, ref.Tag, imageref.Registry(ref)
	}
	deploymentImageGauge.WithLabelValues(namespace, name, image, tag, registry, string(health)).Set(1)
}
