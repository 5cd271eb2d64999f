// Package healthcheck expedites status report health checks and watches the
// resulting job until it finishes.
package healthcheck

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/apptrail-sh/statusbar/internal/model"
)

var (
	ErrRefreshInProgress = errors.New("health check refresh already in progress")
	ErrStreamClosed      = errors.New("job stream closed before the job finished")
	ErrInvalidTarget     = errors.New("invalid health check target")
	ErrClosed            = errors.New("expediter is closed")
)

// Option configures an Expediter
type Option func(*Expediter)

// WithObserver registers fn to be called on every change of the running flag
func WithObserver(fn func(running bool)) Option {
	return func(e *Expediter) {
		e.addObserver(fn)
	}
}

// WithResults sends a result for every finished flow to ch. Results are
// dropped when ch is full.
func WithResults(ch chan<- model.HealthCheckResult) Option {
	return func(e *Expediter) {
		e.results = ch
	}
}

// Expediter runs one expedite+watch flow at a time for a single owner, such
// as one deployment's status bar. While a flow is in flight further calls to
// Expedite are rejected with ErrRefreshInProgress.
type Expediter struct {
	client  Client
	results chan<- model.HealthCheckResult

	mu      sync.Mutex
	busy    bool // request or watch in flight
	running bool // job scheduled and not yet done
	closed  bool
	jobID   string
	lastErr error
	cancel  context.CancelFunc
	done    chan struct{}

	observers    map[int]func(bool)
	nextObserver int
}

// flow is the state of one in-flight watch
type flow struct {
	req       model.HealthCheckRequest
	jobID     string
	startedAt time.Time
	cancel    context.CancelFunc
	done      chan struct{}
	logger    logr.Logger
}

// NewExpediter creates an expediter using client for remote calls
func NewExpediter(client Client, opts ...Option) *Expediter {
	registerMetrics()

	e := &Expediter{
		client:    client,
		observers: make(map[int]func(bool)),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Running reports whether a scheduled job is being watched
func (e *Expediter) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// JobID returns the job of the current or most recent watch
func (e *Expediter) JobID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.jobID
}

// Err returns how the most recent watch ended: nil when the job finished,
// ErrStreamClosed when the stream ended early, or the context error when the
// watch was cancelled.
func (e *Expediter) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastErr
}

// Subscribe registers fn for running flag changes and returns a func that
// removes it. fn is called synchronously, in transition order.
func (e *Expediter) Subscribe(fn func(running bool)) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.addObserver(fn)
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.observers, id)
	}
}

func (e *Expediter) addObserver(fn func(bool)) int {
	id := e.nextObserver
	e.nextObserver++
	e.observers[id] = fn
	return id
}

// Expedite asks the server to run a health check for target now. If a job
// is scheduled, Expedite marks the refresh as running, opens the job stream
// and returns; the stream is watched in the background until the job
// reaches the done state, the stream ends, or Close is called. The watch
// outlives ctx but keeps its values.
func (e *Expediter) Expedite(ctx context.Context, target model.TargetRef, workspace string) error {
	if !target.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidTarget, target.String())
	}

	logger := log.FromContext(ctx).WithName("expediter").WithValues("target", target.String())
	kind := string(target.Kind)

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	if e.busy {
		e.mu.Unlock()
		expediteTotal.WithLabelValues(kind, "rejected").Inc()
		return ErrRefreshInProgress
	}
	e.busy = true
	e.lastErr = nil
	e.mu.Unlock()

	req := model.NewHealthCheckRequest(target, workspace)
	startedAt := time.Now().UTC()

	logger.Info("Expediting status report", "workspace", req.Workspace)

	resp, err := e.client.ExpediteStatusReport(ctx, req)
	if err != nil {
		e.release()
		expediteTotal.WithLabelValues(kind, "error").Inc()
		logger.Error(err, "Failed to expedite status report")
		return fmt.Errorf("failed to expedite status report for %s: %w", target, err)
	}

	if resp == nil || resp.JobID == "" {
		e.release()
		expediteTotal.WithLabelValues(kind, "no_job").Inc()
		logger.Info("No health check job was scheduled")
		e.publish(logger, model.NewHealthCheckResult(req, "", model.HealthCheckNoJob, nil, startedAt))
		return nil
	}

	watchCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	f := &flow{
		req:       req,
		jobID:     resp.JobID,
		startedAt: startedAt,
		cancel:    cancel,
		done:      make(chan struct{}),
		logger:    logger.WithValues("jobID", resp.JobID),
	}

	e.mu.Lock()
	e.jobID = f.jobID
	if e.closed {
		e.busy = false
		e.lastErr = ErrClosed
		e.mu.Unlock()
		cancel()
		expediteTotal.WithLabelValues(kind, string(model.HealthCheckCancelled)).Inc()
		f.logger.Info("Expediter closed before the job stream was opened")
		e.publish(f.logger, model.NewHealthCheckResult(req, f.jobID, model.HealthCheckCancelled, ErrClosed, startedAt))
		return ErrClosed
	}
	e.running = true
	e.cancel = cancel
	e.done = f.done
	e.mu.Unlock()

	refreshInProgress.WithLabelValues(kind, target.ID).Set(1)
	e.notify(true)

	f.logger.Info("Health check job scheduled, watching job stream")

	events, err := e.client.WatchJob(watchCtx, f.jobID)
	if err != nil {
		err = fmt.Errorf("failed to open job stream %s: %w", f.jobID, err)
		e.finish(f, model.HealthCheckWatchFailed, err)
		return err
	}

	go e.watch(watchCtx, f, events)
	return nil
}

// watch consumes job events until the job is done or the stream ends
func (e *Expediter) watch(ctx context.Context, f *flow, events <-chan model.JobStreamEvent) {
	for {
		select {
		case <-ctx.Done():
			e.finish(f, model.HealthCheckCancelled, ctx.Err())
			return
		case evt, ok := <-events:
			if !ok {
				if ctx.Err() != nil {
					e.finish(f, model.HealthCheckCancelled, ctx.Err())
				} else {
					e.finish(f, model.HealthCheckWatchFailed, ErrStreamClosed)
				}
				return
			}
			if evt.IsDone() {
				e.finish(f, model.HealthCheckDone, nil)
				return
			}
			f.logger.V(1).Info("Job stream event", "event", evt.EventCase())
		}
	}
}

// finish ends a flow: the stream is cancelled, the running flag cleared and
// observers, metrics and the results channel are told. The flow stays busy
// until observers have seen false, so transitions of consecutive flows never
// interleave.
func (e *Expediter) finish(f *flow, outcome model.HealthCheckOutcome, err error) {
	f.cancel()

	e.mu.Lock()
	e.running = false
	e.lastErr = err
	e.cancel = nil
	e.mu.Unlock()

	kind := string(f.req.Target.Kind)
	refreshInProgress.WithLabelValues(kind, f.req.Target.ID).Set(0)
	expediteTotal.WithLabelValues(kind, string(outcome)).Inc()

	if err != nil {
		f.logger.Error(err, "Health check watch ended", "outcome", outcome)
	} else {
		f.logger.Info("Health check job finished", "duration", time.Since(f.startedAt))
	}

	e.notify(false)
	e.publish(f.logger, model.NewHealthCheckResult(f.req, f.jobID, outcome, err, f.startedAt))

	e.release()
	close(f.done)
}

func (e *Expediter) release() {
	e.mu.Lock()
	e.busy = false
	e.mu.Unlock()
}

func (e *Expediter) notify(running bool) {
	e.mu.Lock()
	fns := make([]func(bool), 0, len(e.observers))
	// registration order
	for id := 0; id < e.nextObserver; id++ {
		if fn, ok := e.observers[id]; ok {
			fns = append(fns, fn)
		}
	}
	e.mu.Unlock()

	for _, fn := range fns {
		fn(running)
	}
}

func (e *Expediter) publish(logger logr.Logger, result model.HealthCheckResult) {
	if e.results == nil {
		return
	}
	select {
	case e.results <- result:
	default:
		logger.Info("Dropping health check result, results channel full", "eventID", result.EventID)
	}
}

// Wait blocks until the current watch finishes and returns its error. It
// returns immediately when no watch was started.
func (e *Expediter) Wait(ctx context.Context) error {
	e.mu.Lock()
	done := e.done
	e.mu.Unlock()

	if done == nil {
		return e.Err()
	}
	select {
	case <-done:
		return e.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close cancels an active watch; Wait blocks until it has stopped. Later
// calls to Expedite return ErrClosed.
func (e *Expediter) Close() {
	e.mu.Lock()
	e.closed = true
	cancel := e.cancel
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}
