package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/apptrail-sh/statusbar/internal/model"
)

const (
	eventTypeHealthCheck  = "health_check"
	eventTypeStatusReport = "status_report"
)

// PubSubPublisher sends health check results and status reports to Google Cloud Pub/Sub
type PubSubPublisher struct {
	client      *pubsub.Client
	publisher   *pubsub.Publisher
	topicPath   string
	clusterID   string
	environment string
}

// ParseTopicPath parses a full Pub/Sub topic path and returns projectID and topicID.
// Expected format: projects/<project>/topics/<topic>
func ParseTopicPath(topicPath string) (projectID, topicID string, err error) {
	parts := strings.Split(topicPath, "/")
	if len(parts) != 4 || parts[0] != "projects" || parts[2] != "topics" || parts[1] == "" || parts[3] == "" {
		return "", "", fmt.Errorf("invalid topic path %q: expected format projects/<project>/topics/<topic>", topicPath)
	}
	return parts[1], parts[3], nil
}

// NewPubSubPublisher creates a new Google Cloud Pub/Sub publisher.
// Authentication uses Application Default Credentials.
func NewPubSubPublisher(ctx context.Context, topicPath, clusterID, environment string) (*PubSubPublisher, error) {
	projectID, topicID, err := ParseTopicPath(topicPath)
	if err != nil {
		return nil, err
	}

	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create pubsub client: %w", err)
	}

	// Messages for one target must arrive in publish order; the subscription
	// needs message ordering enabled as well.
	publisher := client.Publisher(topicID)
	publisher.EnableMessageOrdering = true

	return &PubSubPublisher{
		client:      client,
		publisher:   publisher,
		topicPath:   topicPath,
		clusterID:   clusterID,
		environment: environment,
	}, nil
}

// Event is the envelope of every message published by statusbar
type Event struct {
	ID        string            `json:"id"`
	Timestamp string            `json:"timestamp"`
	EventType string            `json:"eventType"`
	Labels    map[string]string `json:"labels"`
	Target    string            `json:"target"`
	Workspace string            `json:"workspace"`

	HealthCheck  *model.HealthCheckResult `json:"healthCheck,omitempty"`
	StatusReport *model.StatusReport      `json:"statusReport,omitempty"`
}

// OrderingKey groups messages of one target: cluster/kind/id
func OrderingKey(clusterID string, target model.TargetRef) string {
	return fmt.Sprintf("%s/%s/%s", clusterID, strings.ToLower(string(target.Kind)), target.ID)
}

func (p *PubSubPublisher) labels(extra map[string]string) map[string]string {
	labels := make(map[string]string, len(extra)+2)
	for k, v := range extra {
		labels[k] = v
	}
	labels["cluster_name"] = p.clusterID
	if p.environment != "" {
		labels["environment"] = p.environment
	}
	return labels
}

func (p *PubSubPublisher) attributes(eventType string, target model.TargetRef, workspace string) map[string]string {
	attributes := map[string]string{
		"cluster_name": p.clusterID,
		"event_type":   eventType,
		"target_kind":  string(target.Kind),
		"target_id":    target.ID,
		"workspace":    model.WorkspaceOrDefault(workspace),
	}
	if p.environment != "" {
		attributes["environment"] = p.environment
	}
	return attributes
}

func (p *PubSubPublisher) resultMessage(result model.HealthCheckResult) (*pubsub.Message, Event, error) {
	id := result.EventID
	if id == "" {
		id = uuid.New().String()
	}
	event := Event{
		ID:          id,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
		EventType:   eventTypeHealthCheck,
		Labels:      p.labels(nil),
		Target:      result.Target.String(),
		Workspace:   model.WorkspaceOrDefault(result.Workspace),
		HealthCheck: &result,
	}

	data, err := json.Marshal(event)
	if err != nil {
		return nil, event, fmt.Errorf("failed to marshal event: %w", err)
	}

	attributes := p.attributes(eventTypeHealthCheck, result.Target, result.Workspace)
	attributes["outcome"] = string(result.Outcome)

	return &pubsub.Message{
		Data:        data,
		Attributes:  attributes,
		OrderingKey: OrderingKey(p.clusterID, result.Target),
	}, event, nil
}

func (p *PubSubPublisher) reportMessage(report model.StatusReport) (*pubsub.Message, Event, error) {
	event := Event{
		ID:           uuid.New().String(),
		Timestamp:    time.Now().UTC().Format(time.RFC3339),
		EventType:    eventTypeStatusReport,
		Labels:       p.labels(report.Labels),
		Target:       report.Target.String(),
		Workspace:    model.WorkspaceOrDefault(report.Workspace),
		StatusReport: &report,
	}

	data, err := json.Marshal(event)
	if err != nil {
		return nil, event, fmt.Errorf("failed to marshal event: %w", err)
	}

	attributes := p.attributes(eventTypeStatusReport, report.Target, report.Workspace)
	attributes["health"] = string(report.Health.Status)

	return &pubsub.Message{
		Data:        data,
		Attributes:  attributes,
		OrderingKey: OrderingKey(p.clusterID, report.Target),
	}, event, nil
}

// PublishResult sends a health check result to Google Cloud Pub/Sub
func (p *PubSubPublisher) PublishResult(ctx context.Context, result model.HealthCheckResult) error {
	logger := log.FromContext(ctx)

	msg, event, err := p.resultMessage(result)
	if err != nil {
		logger.Error(err, "Failed to marshal health check event", "target", result.Target.String())
		return err
	}

	logger.Info("Publishing health check event to Google Pub/Sub",
		"topic", p.topicPath,
		"eventID", event.ID,
		"orderingKey", msg.OrderingKey,
		"target", event.Target,
		"outcome", result.Outcome,
	)

	msgID, err := p.publisher.Publish(ctx, msg).Get(ctx)
	if err != nil {
		logger.Error(err, "Failed to publish event to Pub/Sub",
			"topic", p.topicPath,
			"eventID", event.ID,
		)
		// An ordering key stays paused after a failure until resumed.
		p.publisher.ResumePublish(msg.OrderingKey)
		return fmt.Errorf("failed to publish event to pubsub: %w", err)
	}

	logger.Info("Event successfully published to Google Pub/Sub",
		"topic", p.topicPath,
		"eventID", event.ID,
		"messageID", msgID,
	)
	return nil
}

// PublishReports sends one message per status report. All reports are
// published before the results are awaited.
func (p *PubSubPublisher) PublishReports(ctx context.Context, reports []model.StatusReport) error {
	logger := log.FromContext(ctx)

	type pending struct {
		event  Event
		key    string
		result *pubsub.PublishResult
	}
	inFlight := make([]pending, 0, len(reports))
	for _, report := range reports {
		msg, event, err := p.reportMessage(report)
		if err != nil {
			logger.Error(err, "Failed to marshal status report event", "target", report.Target.String())
			continue
		}
		inFlight = append(inFlight, pending{event: event, key: msg.OrderingKey, result: p.publisher.Publish(ctx, msg)})
	}

	var failed int
	var lastErr error
	for _, pr := range inFlight {
		if _, err := pr.result.Get(ctx); err != nil {
			failed++
			lastErr = err
			p.publisher.ResumePublish(pr.key)
			logger.Error(err, "Failed to publish status report to Pub/Sub",
				"topic", p.topicPath,
				"eventID", pr.event.ID,
				"target", pr.event.Target,
			)
		}
	}

	if failed > 0 {
		return fmt.Errorf("failed to publish %d of %d status reports to pubsub: %w", failed, len(reports), lastErr)
	}

	logger.Info("Status reports published to Google Pub/Sub", "topic", p.topicPath, "count", len(inFlight))
	return nil
}

// Stop stops the publisher and closes the client
func (p *PubSubPublisher) Stop() {
	if p.publisher != nil {
		p.publisher.Stop()
	}
	if p.client != nil {
		_ = p.client.Close()
	}
}
