package controlplane

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"resty.dev/v3"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/apptrail-sh/statusbar/internal/healthcheck"
	"github.com/apptrail-sh/statusbar/internal/model"
)

const (
	expeditePath     = "/v1/status-reports/expedite"
	reportsBatchPath = "/v1/status-reports:batch"
	healthChecksPath = "/v1/health-checks"
	jobStreamPath    = "/v1/jobs/%s/stream"
)

// StatusError is returned when the control plane answers with a non-2xx status
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("control plane returned error status %d for %s: %s", e.StatusCode, e.Op, e.Body)
}

// Client talks to the control plane API. It implements healthcheck.Client
// and publishes status reports and health check results.
type Client struct {
	api       *resty.Client
	publisher *resty.Client
	stream    *resty.Client

	baseURL      string
	clusterID    string
	agentVersion string
}

// Compile-time check.
var _ healthcheck.Client = (*Client)(nil)

// NewClient creates a control plane client for baseURL
// (e.g., http://controlplane:3000)
func NewClient(baseURL, clusterID, agentVersion string) *Client {
	userAgent := "statusbar/" + agentVersion

	// Expedite schedules a job on every call, so it is never retried.
	api := resty.New().
		SetTimeout(10 * time.Second).
		SetHeader("User-Agent", userAgent)

	publisher := resty.New().
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(1 * time.Second).
		SetRetryMaxWaitTime(5 * time.Second).
		SetHeader("User-Agent", userAgent)

	// Job streams stay open until the job finishes; only the context ends them.
	stream := resty.New().
		SetHeader("User-Agent", userAgent)

	return &Client{
		api:          api,
		publisher:    publisher,
		stream:       stream,
		baseURL:      strings.TrimRight(baseURL, "/"),
		clusterID:    clusterID,
		agentVersion: agentVersion,
	}
}

// ExpediteStatusReport asks the control plane to run a status report job now
func (c *Client) ExpediteStatusReport(ctx context.Context, req model.HealthCheckRequest) (*model.ExpediteResponse, error) {
	logger := log.FromContext(ctx)
	endpoint := c.baseURL + expeditePath

	var result model.ExpediteResponse
	var errorResponse map[string]interface{}
	resp, err := c.api.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(req).
		SetResult(&result).
		SetError(&errorResponse).
		Post(endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to send expedite request to control plane: %w", err)
	}

	if !resp.IsSuccess() {
		logger.Error(nil, "Control plane rejected expedite request",
			"statusCode", resp.StatusCode(),
			"error", errorResponse,
			"endpoint", endpoint,
			"target", req.Target.String(),
		)
		return nil, &StatusError{Op: "expedite", StatusCode: resp.StatusCode(), Body: resp.String()}
	}

	logger.V(1).Info("Expedite request accepted",
		"target", req.Target.String(),
		"workspace", req.Workspace,
		"jobID", result.JobID,
	)
	return &result, nil
}

// reportBatch is the envelope for published status reports
type reportBatch struct {
	Source  model.SourceMetadata `json:"source"`
	Reports []model.StatusReport `json:"reports"`
}

// PublishReports sends a batch of status reports to the control plane
func (c *Client) PublishReports(ctx context.Context, reports []model.StatusReport) error {
	if len(reports) == 0 {
		return nil
	}
	logger := log.FromContext(ctx)

	batch := reportBatch{
		Source:  model.SourceMetadata{ClusterID: c.clusterID, AgentVersion: c.agentVersion},
		Reports: reports,
	}
	if err := c.post(ctx, "publish reports", c.baseURL+reportsBatchPath, batch); err != nil {
		return err
	}

	logger.Info("Status reports published to control plane", "count", len(reports))
	return nil
}

// PublishResult sends a health check result to the control plane
func (c *Client) PublishResult(ctx context.Context, result model.HealthCheckResult) error {
	logger := log.FromContext(ctx)

	payload := struct {
		Source model.SourceMetadata `json:"source"`
		model.HealthCheckResult
	}{
		Source:            model.SourceMetadata{ClusterID: c.clusterID, AgentVersion: c.agentVersion},
		HealthCheckResult: result,
	}
	if err := c.post(ctx, "publish result", c.baseURL+healthChecksPath, payload); err != nil {
		return err
	}

	logger.Info("Health check result published to control plane",
		"eventID", result.EventID,
		"target", result.Target.String(),
		"outcome", result.Outcome,
	)
	return nil
}

func (c *Client) post(ctx context.Context, op, endpoint string, body any) error {
	logger := log.FromContext(ctx)

	var errorResponse map[string]interface{}
	resp, err := c.publisher.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		SetError(&errorResponse).
		Post(endpoint)
	if err != nil {
		logger.Error(err, "Failed to send request to control plane", "op", op, "endpoint", endpoint)
		return fmt.Errorf("failed to %s: %w", op, err)
	}

	if !resp.IsSuccess() {
		logger.Error(nil, "Control plane returned error",
			"op", op,
			"statusCode", resp.StatusCode(),
			"status", resp.Status(),
			"error", errorResponse,
			"endpoint", endpoint,
		)
		return &StatusError{Op: op, StatusCode: resp.StatusCode(), Body: resp.String()}
	}
	return nil
}

func jobStreamURL(baseURL, jobID string) string {
	return baseURL + fmt.Sprintf(jobStreamPath, url.PathEscape(jobID))
}
