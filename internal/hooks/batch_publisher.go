package hooks

import (
	"context"
	"sync"
	"time"

	"github.com/apptrail-sh/statusbar/internal/model"
	"sigs.k8s.io/controller-runtime/pkg/log"
)

// BatchConfig holds configuration for status report batching
type BatchConfig struct {
	FlushWindow  time.Duration // Time window for batching reports
	MaxBatchSize int           // Maximum distinct targets per batch
}

// DefaultBatchConfig returns the default batching configuration
func DefaultBatchConfig() BatchConfig {
	return BatchConfig{
		FlushWindow:  2 * time.Second,
		MaxBatchSize: 100,
	}
}

// ReportPublisherQueue batches status reports and hands them to publishers.
// Within one batch only the newest report per target and workspace is kept.
type ReportPublisherQueue struct {
	reportChan <-chan model.StatusReport
	publishers []ReportPublisher
	config     BatchConfig

	// publishMu keeps batches going out in the order they were taken
	publishMu sync.Mutex

	mu      sync.Mutex
	buffer  []model.StatusReport
	index   map[string]int
	timer   *time.Timer
	stopCh  chan struct{}
	stopped bool
}

// NewReportPublisherQueue creates a new batching status report queue
func NewReportPublisherQueue(
	reportChan <-chan model.StatusReport,
	publishers []ReportPublisher,
	config BatchConfig,
) *ReportPublisherQueue {
	if config.MaxBatchSize <= 0 {
		config.MaxBatchSize = DefaultBatchConfig().MaxBatchSize
	}
	if config.FlushWindow <= 0 {
		config.FlushWindow = DefaultBatchConfig().FlushWindow
	}
	return &ReportPublisherQueue{
		reportChan: reportChan,
		publishers: publishers,
		config:     config,
		buffer:     make([]model.StatusReport, 0, config.MaxBatchSize),
		index:      make(map[string]int),
		stopCh:     make(chan struct{}),
	}
}

// Loop processes reports until the channel closes, Stop is called or ctx is
// done. Pending reports are flushed before returning.
func (q *ReportPublisherQueue) Loop(ctx context.Context) {
	logger := log.FromContext(ctx).WithName("report-queue")
	flushCtx := context.WithoutCancel(ctx)

	logger.Info("Status report publisher queue started",
		"publishers", len(q.publishers),
		"flushWindow", q.config.FlushWindow,
		"maxBatchSize", q.config.MaxBatchSize,
	)

	for {
		select {
		case report, ok := <-q.reportChan:
			if !ok {
				q.flush(flushCtx)
				return
			}
			q.addReport(flushCtx, report)

		case <-q.stopCh:
			q.flush(flushCtx)
			return

		case <-ctx.Done():
			q.flush(flushCtx)
			return
		}
	}
}

// Stop stops the publisher queue
func (q *ReportPublisherQueue) Stop() {
	q.mu.Lock()
	if !q.stopped {
		q.stopped = true
		close(q.stopCh)
	}
	q.mu.Unlock()
}

func reportKey(report model.StatusReport) string {
	return model.WorkspaceOrDefault(report.Workspace) + "/" + report.Target.String()
}

func (q *ReportPublisherQueue) addReport(ctx context.Context, report model.StatusReport) {
	q.mu.Lock()
	key := reportKey(report)
	if i, ok := q.index[key]; ok {
		q.buffer[i] = report
		q.mu.Unlock()
		return
	}
	q.index[key] = len(q.buffer)
	q.buffer = append(q.buffer, report)

	// Start timer on first report
	if len(q.buffer) == 1 {
		q.timer = time.AfterFunc(q.config.FlushWindow, func() {
			q.flush(ctx)
		})
	}
	full := len(q.buffer) >= q.config.MaxBatchSize
	q.mu.Unlock()

	if full {
		q.flush(ctx)
	}
}

// flush publishes the pending batch. Publishing happens outside q.mu so
// reports keep buffering while a publisher is slow.
func (q *ReportPublisherQueue) flush(ctx context.Context) {
	q.publishMu.Lock()
	defer q.publishMu.Unlock()

	reports := q.takeBatch()
	if len(reports) == 0 {
		return
	}

	logger := log.FromContext(ctx)
	logger.Info("Flushing status report batch",
		"reportCount", len(reports),
		"publishers", len(q.publishers),
	)

	for _, publisher := range q.publishers {
		if err := publisher.PublishReports(ctx, reports); err != nil {
			logger.Error(err, "Failed to publish status report batch")
		}
	}
}

// takeBatch empties the buffer and returns its reports
func (q *ReportPublisherQueue) takeBatch() []model.StatusReport {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.buffer) == 0 {
		return nil
	}
	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
	}

	reports := make([]model.StatusReport, len(q.buffer))
	copy(reports, q.buffer)
	q.buffer = q.buffer[:0]
	clear(q.index)
	return reports
}
