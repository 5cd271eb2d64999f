package hooks

import (
	"context"

	"github.com/apptrail-sh/statusbar/internal/model"
)

// ResultPublisher delivers the outcome of an expedited health check
type ResultPublisher interface {
	PublishResult(ctx context.Context, result model.HealthCheckResult) error
}

// ReportPublisher delivers generated status reports (batched)
type ReportPublisher interface {
	PublishReports(ctx context.Context, reports []model.StatusReport) error
}
