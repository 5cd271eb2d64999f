package hooks

import (
	"context"

	"github.com/apptrail-sh/statusbar/internal/model"
	"sigs.k8s.io/controller-runtime/pkg/log"
)

// ResultPublisherQueue fans health check results out to every publisher
type ResultPublisherQueue struct {
	ResultChan <-chan model.HealthCheckResult
	publishers []ResultPublisher
}

func NewResultPublisherQueue(resultChan <-chan model.HealthCheckResult, publishers []ResultPublisher) *ResultPublisherQueue {
	return &ResultPublisherQueue{
		ResultChan: resultChan,
		publishers: publishers,
	}
}

// Loop publishes results until the channel is closed or ctx is done
func (rq *ResultPublisherQueue) Loop(ctx context.Context) {
	logger := log.FromContext(ctx).WithName("result-queue")

	logger.Info("Result publisher queue started", "publishers", len(rq.publishers))

	for {
		select {
		case <-ctx.Done():
			logger.Info("Result publisher queue stopped")
			return
		case result, ok := <-rq.ResultChan:
			if !ok {
				logger.Info("Result channel closed, publisher queue stopped")
				return
			}

			logger.Info("Received health check result",
				"target", result.Target.String(),
				"workspace", result.Workspace,
				"jobID", result.JobID,
				"outcome", result.Outcome,
			)

			for _, publisher := range rq.publishers {
				// Publishing must outlive the manager context for the last results.
				if err := publisher.PublishResult(context.WithoutCancel(ctx), result); err != nil {
					logger.Error(err, "failed to publish health check result",
						"eventID", result.EventID,
						"target", result.Target.String(),
					)
				}
			}
		}
	}
}
