package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// HealthCheckRequest asks the server to run a status report job now
type HealthCheckRequest struct {
	Target    TargetRef
	Workspace string
}

// NewHealthCheckRequest builds a request, defaulting the workspace
func NewHealthCheckRequest(target TargetRef, workspace string) HealthCheckRequest {
	return HealthCheckRequest{
		Target:    target,
		Workspace: WorkspaceOrDefault(workspace),
	}
}

type workspaceRef struct {
	Workspace string `json:"workspace"`
}

type operationRef struct {
	ID string `json:"id"`
}

type healthCheckRequestWire struct {
	Workspace  workspaceRef  `json:"workspace"`
	Deployment *operationRef `json:"deployment,omitempty"`
	Release    *operationRef `json:"release,omitempty"`
}

// MarshalJSON encodes the target as a deployment or release reference
func (r HealthCheckRequest) MarshalJSON() ([]byte, error) {
	wire := healthCheckRequestWire{
		Workspace: workspaceRef{Workspace: WorkspaceOrDefault(r.Workspace)},
	}
	ref := &operationRef{ID: r.Target.ID}
	switch r.Target.Kind {
	case TargetDeployment:
		wire.Deployment = ref
	case TargetRelease:
		wire.Release = ref
	}
	return json.Marshal(wire)
}

// ExpediteResponse is the server reply to a HealthCheckRequest. JobID is
// empty when no job was scheduled.
type ExpediteResponse struct {
	JobID string `json:"jobId,omitempty"`
}

// HealthCheckOutcome is how an expedite flow ended
type HealthCheckOutcome string

const (
	HealthCheckDone        HealthCheckOutcome = "DONE"
	HealthCheckNoJob       HealthCheckOutcome = "NO_JOB"
	HealthCheckWatchFailed HealthCheckOutcome = "WATCH_FAILED"
	HealthCheckCancelled   HealthCheckOutcome = "CANCELLED"
)

// HealthCheckResult describes one finished expedite flow
type HealthCheckResult struct {
	EventID    string             `json:"eventId"`
	Target     TargetRef          `json:"target"`
	Workspace  string             `json:"workspace"`
	JobID      string             `json:"jobId,omitempty"`
	Outcome    HealthCheckOutcome `json:"outcome"`
	Error      string             `json:"error,omitempty"`
	StartedAt  time.Time          `json:"startedAt"`
	FinishedAt time.Time          `json:"finishedAt"`
}

// NewHealthCheckResult creates a result with a fresh event ID, finished now
func NewHealthCheckResult(req HealthCheckRequest, jobID string, outcome HealthCheckOutcome, err error, startedAt time.Time) HealthCheckResult {
	result := HealthCheckResult{
		EventID:    uuid.New().String(),
		Target:     req.Target,
		Workspace:  req.Workspace,
		JobID:      jobID,
		Outcome:    outcome,
		StartedAt:  startedAt,
		FinishedAt: time.Now().UTC(),
	}
	if err != nil {
		result.Error = err.Error()
	}
	return result
}
