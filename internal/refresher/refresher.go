package refresher

import (
	"context"
	"errors"
	"sync"
	"time"

	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/apptrail-sh/statusbar/internal/healthcheck"
	"github.com/apptrail-sh/statusbar/internal/model"
)

// Config holds configuration for the periodic refresher
type Config struct {
	Interval  time.Duration
	Workspace string
	Targets   []model.TargetRef
}

// DefaultConfig returns the default refresher configuration
func DefaultConfig() Config {
	return Config{
		Interval:  5 * time.Minute,
		Workspace: model.DefaultWorkspace,
	}
}

// Refresher expedites health checks for a fixed set of targets on an
// interval. Each target has its own Expediter, so a target whose previous
// check is still being watched is skipped rather than queued.
type Refresher struct {
	config     Config
	expediters map[model.TargetRef]*healthcheck.Expediter
	stopCh     chan struct{}
	stopOnce   sync.Once
}

// NewRefresher creates a refresher. Finished checks are sent to results
// when it is non-nil.
func NewRefresher(config Config, client healthcheck.Client, results chan<- model.HealthCheckResult) *Refresher {
	if config.Interval <= 0 {
		config.Interval = DefaultConfig().Interval
	}

	expediters := make(map[model.TargetRef]*healthcheck.Expediter, len(config.Targets))
	for _, target := range config.Targets {
		var opts []healthcheck.Option
		if results != nil {
			opts = append(opts, healthcheck.WithResults(results))
		}
		expediters[target] = healthcheck.NewExpediter(client, opts...)
	}

	return &Refresher{
		config:     config,
		expediters: expediters,
		stopCh:     make(chan struct{}),
	}
}

// Start runs the refresh loop until ctx is done or Stop is called. It
// satisfies manager.Runnable.
func (r *Refresher) Start(ctx context.Context) error {
	logger := log.FromContext(ctx).WithName("refresher")

	logger.Info("Starting health check refresher",
		"interval", r.config.Interval,
		"workspace", r.config.Workspace,
		"targets", len(r.config.Targets),
	)
	defer r.closeAll()

	// Refresh immediately on start
	r.RefreshAll(ctx)

	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.RefreshAll(ctx)
		case <-r.stopCh:
			logger.Info("Health check refresher stopped")
			return nil
		case <-ctx.Done():
			logger.Info("Health check refresher context cancelled")
			return nil
		}
	}
}

// NeedLeaderElection makes only the leader expedite checks
func (r *Refresher) NeedLeaderElection() bool {
	return true
}

// Stop stops the refresher
func (r *Refresher) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
}

// RefreshAll expedites a health check for every configured target and
// returns how many were started.
func (r *Refresher) RefreshAll(ctx context.Context) int {
	logger := log.FromContext(ctx).WithName("refresher")

	var started int
	for _, target := range r.config.Targets {
		expediter := r.expediters[target]
		err := expediter.Expedite(ctx, target, r.config.Workspace)
		switch {
		case err == nil:
			started++
		case errors.Is(err, healthcheck.ErrRefreshInProgress):
			logger.V(1).Info("Health check still in progress, skipping", "target", target.String())
		default:
			logger.Error(err, "Failed to expedite health check", "target", target.String())
		}
	}

	logger.Info("Refreshed health checks", "started", started, "targets", len(r.config.Targets))
	return started
}

// Running reports whether a check for target is in flight
func (r *Refresher) Running(target model.TargetRef) bool {
	expediter, ok := r.expediters[target]
	return ok && expediter.Running()
}

func (r *Refresher) closeAll() {
	for _, expediter := range r.expediters {
		expediter.Close()
	}
}
