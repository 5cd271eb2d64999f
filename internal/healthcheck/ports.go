package healthcheck

import (
	"context"

	"github.com/apptrail-sh/statusbar/internal/model"
)

// Client is the remote API the expediter talks to.
type Client interface {
	// ExpediteStatusReport schedules an immediate status report job.
	ExpediteStatusReport(ctx context.Context, req model.HealthCheckRequest) (*model.ExpediteResponse, error)

	// WatchJob streams events for a job. The channel is closed when the
	// stream ends or ctx is cancelled.
	WatchJob(ctx context.Context, jobID string) (<-chan model.JobStreamEvent, error)
}
