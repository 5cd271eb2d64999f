package reconciler

import (
	"encoding/json"
	"fmt"
	"maps"
	"strconv"

	v1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"

	"github.com/apptrail-sh/statusbar/internal/model"
)

const (
	platformKubernetes = "kubernetes"

	revisionAnnotation = "deployment.kubernetes.io/revision"

	// DeploymentIDAnnotation overrides the target id (defaults to the object UID)
	DeploymentIDAnnotation = "statusbar.apptrail.sh/deployment-id"
	// WorkspaceAnnotation overrides the workspace the report belongs to
	WorkspaceAnnotation = "statusbar.apptrail.sh/workspace"
	// GenerationSequenceAnnotation carries the sequence of the first
	// deployment of the current generation
	GenerationSequenceAnnotation = "statusbar.apptrail.sh/generation-sequence"

	// URLFragmentLabel is added to report labels
	URLFragmentLabel = "statusbar.apptrail.sh/url-fragment"
)

// containerState mirrors the shape of a container inspect document so
// consumers can search it for the image the same way for every platform.
type containerState struct {
	Name   string          `json:"Name"`
	Config containerConfig `json:"Config"`
}

type containerConfig struct {
	Image        string              `json:"Image"`
	ExposedPorts map[string]struct{} `json:"ExposedPorts,omitempty"`
}

// deploymentRef describes the Kubernetes Deployment as a deployment target
func deploymentRef(d *v1.Deployment, workspace string) model.Deployment {
	id := d.Annotations[DeploymentIDAnnotation]
	if id == "" {
		id = string(d.UID)
	}
	if id == "" {
		id = d.Namespace + "." + d.Name
	}

	dep := model.Deployment{ID: id, Workspace: workspace}
	if seq, err := strconv.ParseUint(d.Annotations[revisionAnnotation], 10, 64); err == nil {
		dep.Sequence = seq
	}
	if seq, err := strconv.ParseUint(d.Annotations[GenerationSequenceAnnotation], 10, 64); err == nil {
		dep.GenerationInitialSequence = seq
	}
	return dep
}

// deploymentHealth maps replica counts and conditions onto a health status
func deploymentHealth(d *v1.Deployment) (model.HealthStatus, string) {
	for _, condition := range d.Status.Conditions {
		if condition.Type != v1.DeploymentProgressing {
			continue
		}
		if condition.Status == corev1.ConditionFalse || condition.Reason == "ProgressDeadlineExceeded" {
			msg := condition.Message
			if msg == "" {
				msg = "rollout failed: " + condition.Reason
			}
			return model.HealthDown, msg
		}
	}

	desired := int32(1)
	if d.Spec.Replicas != nil {
		desired = *d.Spec.Replicas
	}
	status := d.Status

	switch {
	case desired == 0:
		return model.HealthUnknown, "scaled to zero"
	case status.ReadyReplicas == 0:
		return model.HealthDown, fmt.Sprintf("0/%d replicas ready", desired)
	case status.ReadyReplicas < desired:
		return model.HealthPartial, fmt.Sprintf("%d/%d replicas ready", status.ReadyReplicas, desired)
	case status.UpdatedReplicas < desired || status.Replicas > desired:
		return model.HealthAlive, fmt.Sprintf("rollout in progress: %d/%d replicas updated", status.UpdatedReplicas, desired)
	default:
		return model.HealthReady, fmt.Sprintf("%d/%d replicas ready", status.ReadyReplicas, desired)
	}
}

func containerResource(uid string, c corev1.Container, health model.HealthStatus) (model.StatusReportResource, error) {
	state := containerState{
		Name:   c.Name,
		Config: containerConfig{Image: c.Image},
	}
	for _, port := range c.Ports {
		if state.Config.ExposedPorts == nil {
			state.Config.ExposedPorts = make(map[string]struct{}, len(c.Ports))
		}
		protocol := port.Protocol
		if protocol == "" {
			protocol = corev1.ProtocolTCP
		}
		state.Config.ExposedPorts[fmt.Sprintf("%d/%s", port.ContainerPort, protocol)] = struct{}{}
	}

	data, err := json.Marshal(state)
	if err != nil {
		return model.StatusReportResource{}, fmt.Errorf("failed to marshal state of container %s: %w", c.Name, err)
	}

	return model.StatusReportResource{
		ID:        uid + "/" + c.Name,
		Name:      c.Name,
		Type:      model.ResourceTypeContainer,
		Platform:  platformKubernetes,
		StateJSON: string(data),
		Health:    health,
	}, nil
}

// BuildStatusReport turns a Deployment into a status report with one
// container resource per pod template container.
func BuildStatusReport(d *v1.Deployment, defaultWorkspace string) (model.StatusReport, error) {
	workspace := d.Annotations[WorkspaceAnnotation]
	if workspace == "" {
		workspace = defaultWorkspace
	}
	workspace = model.WorkspaceOrDefault(workspace)

	dep := deploymentRef(d, workspace)
	health, message := deploymentHealth(d)

	resources := make([]model.StatusReportResource, 0, len(d.Spec.Template.Spec.Containers))
	for _, c := range d.Spec.Template.Spec.Containers {
		res, err := containerResource(string(d.UID), c, health)
		if err != nil {
			return model.StatusReport{}, err
		}
		resources = append(resources, res)
	}

	report := model.NewStatusReport(dep.Ref(), workspace, model.Health{Status: health, Message: message}, resources)
	report.Labels = make(map[string]string, len(d.Labels)+1)
	maps.Copy(report.Labels, d.Labels)
	report.Labels[URLFragmentLabel] = dep.URLFragment()

	return report, nil
}
