package healthcheck

import (
	"context"
	"sync"

	"github.com/apptrail-sh/statusbar/internal/model"
)

// MockClient implements Client for testing.
type MockClient struct {
	mu sync.Mutex

	JobID    string
	StreamCh chan model.JobStreamEvent

	// Error injection
	ExpediteErr error
	WatchErr    error

	// OnExpedite runs before ExpediteStatusReport returns
	OnExpedite func()

	// Call tracking
	Requests     []model.HealthCheckRequest
	WatchedJobs  []string
	WatchCtxDone <-chan struct{}
}

// Compile-time check.
var _ Client = (*MockClient)(nil)

func (m *MockClient) ExpediteStatusReport(_ context.Context, req model.HealthCheckRequest) (*model.ExpediteResponse, error) {
	m.mu.Lock()
	m.Requests = append(m.Requests, req)
	hook := m.OnExpedite
	err := m.ExpediteErr
	jobID := m.JobID
	m.mu.Unlock()

	if hook != nil {
		hook()
	}
	if err != nil {
		return nil, err
	}
	return &model.ExpediteResponse{JobID: jobID}, nil
}

// WatchJob returns StreamCh. Cancelling ctx does not close StreamCh; the
// test owns the channel.
func (m *MockClient) WatchJob(ctx context.Context, jobID string) (<-chan model.JobStreamEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.WatchedJobs = append(m.WatchedJobs, jobID)
	m.WatchCtxDone = ctx.Done()
	if m.WatchErr != nil {
		return nil, m.WatchErr
	}
	return m.StreamCh, nil
}

// Watches returns the job IDs WatchJob was called with.
func (m *MockClient) Watches() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.WatchedJobs...)
}

// RequestCount returns how many expedite requests were made.
func (m *MockClient) RequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Requests)
}

// LastWatchDone returns the done channel of the last watch context.
func (m *MockClient) LastWatchDone() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.WatchCtxDone
}
