package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// HealthStatus is the overall health of a status report or one of its resources
type HealthStatus string

const (
	HealthUnknown HealthStatus = "UNKNOWN"
	HealthAlive   HealthStatus = "ALIVE"
	HealthReady   HealthStatus = "READY"
	HealthDown    HealthStatus = "DOWN"
	HealthPartial HealthStatus = "PARTIAL"
)

// ResourceTypeContainer is the resource type whose state carries the container image
const ResourceTypeContainer = "container"

// ImagePlaceholder is shown when no image could be derived from a status report
const ImagePlaceholder = "n/a"

// Health is the health summary of a status report
type Health struct {
	Status  HealthStatus `json:"healthStatus"`
	Message string       `json:"healthMessage,omitempty"`
}

// StatusReportResource is one observed runtime object inside a status report.
// StateJSON is an opaque JSON document produced by the platform plugin.
type StatusReportResource struct {
	ID            string       `json:"id,omitempty"`
	Name          string       `json:"name"`
	Type          string       `json:"type"`
	Platform      string       `json:"platform,omitempty"`
	StateJSON     string       `json:"stateJson,omitempty"`
	Health        HealthStatus `json:"health,omitempty"`
	HealthMessage string       `json:"healthMessage,omitempty"`
}

// StatusReport is a structured health snapshot of a deployment or release
type StatusReport struct {
	ID            string                 `json:"id"`
	Target        TargetRef              `json:"target"`
	Workspace     string                 `json:"workspace"`
	Health        Health                 `json:"health"`
	Resources     []StatusReportResource `json:"resourcesList,omitempty"`
	Labels        map[string]string      `json:"labels,omitempty"`
	GeneratedTime time.Time              `json:"generatedTime"`
	External      bool                   `json:"external,omitempty"`
}

// NewStatusReport creates a status report for the given target with a fresh ID
func NewStatusReport(target TargetRef, workspace string, health Health, resources []StatusReportResource) StatusReport {
	return StatusReport{
		ID:            uuid.New().String(),
		Target:        target,
		Workspace:     WorkspaceOrDefault(workspace),
		Health:        health,
		Resources:     resources,
		GeneratedTime: time.Now().UTC(),
	}
}

// FirstResource returns the first resource of the given type
func (r *StatusReport) FirstResource(resourceType string) (StatusReportResource, bool) {
	if r == nil {
		return StatusReportResource{}, false
	}
	for _, res := range r.Resources {
		if res.Type == resourceType {
			return res, true
		}
	}
	return StatusReportResource{}, false
}

// ImageReference is an image name and tag derived from a container's state
type ImageReference struct {
	Image  string `json:"image"`
	Tag    string `json:"tag,omitempty"`
	HasTag bool   `json:"-"`
}

// ParseImageReference splits s on its first colon. Everything after the
// colon is the tag, so "host:5000/app:v1" yields image "host" and tag "5000/app:v1".
func ParseImageReference(s string) ImageReference {
	image, tag, found := strings.Cut(s, ":")
	return ImageReference{Image: image, Tag: tag, HasTag: found}
}

// String joins the reference back into its image:tag form
func (r ImageReference) String() string {
	if !r.HasTag {
		return r.Image
	}
	return r.Image + ":" + r.Tag
}

// Label renders the reference for display, or the placeholder when there is no image
func (r ImageReference) Label() string {
	if r.Image == "" {
		return ImagePlaceholder
	}
	if r.Tag == "" {
		return r.Image
	}
	return r.Image + " " + r.Tag
}
