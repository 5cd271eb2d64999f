package cluster

import (
	"context"
	"fmt"
	"net/http"
	"path"
	"strings"
	"time"

	"resty.dev/v3"
)

const (
	gcpMetadataBase   = "http://metadata.google.internal/computeMetadata/v1"
	gcpMetadataFlavor = "Google"
)

// GCPProvider resolves the cluster identity from the GKE metadata server
type GCPProvider struct {
	client      *resty.Client
	metadataURL string
}

// NewGCPProvider creates a GCP provider talking to the metadata server
func NewGCPProvider(timeout time.Duration) *GCPProvider {
	return NewGCPProviderWithURL(timeout, gcpMetadataBase)
}

// NewGCPProviderWithURL creates a GCP provider with a custom metadata URL (for testing)
func NewGCPProviderWithURL(timeout time.Duration, metadataURL string) *GCPProvider {
	client := resty.New().
		SetTimeout(timeout).
		SetHeader("Metadata-Flavor", gcpMetadataFlavor)

	return &GCPProvider{
		client:      client,
		metadataURL: strings.TrimRight(metadataURL, "/"),
	}
}

// Name returns the provider name
func (p *GCPProvider) Name() ProviderName {
	return ProviderGCP
}

// Detect reports whether the metadata server answers as Google's
func (p *GCPProvider) Detect(ctx context.Context) bool {
	resp, err := p.client.R().
		SetContext(ctx).
		Get(p.metadataURL + "/")
	if err != nil {
		return false
	}

	return resp.StatusCode() == http.StatusOK &&
		resp.Header().Get("Metadata-Flavor") == gcpMetadataFlavor
}

// Resolve builds the cluster ID gcp/<project-id>/<region>/<cluster-name>
func (p *GCPProvider) Resolve(ctx context.Context) (*Identity, error) {
	clusterName, err := p.getMetadata(ctx, "/instance/attributes/cluster-name")
	if err != nil {
		return nil, fmt.Errorf("failed to get cluster-name: %w", err)
	}

	projectID, err := p.getMetadata(ctx, "/project/project-id")
	if err != nil {
		return nil, fmt.Errorf("failed to get project-id: %w", err)
	}

	// projects/<project-number>/zones/<zone>
	zone, err := p.getMetadata(ctx, "/instance/zone")
	if err != nil {
		return nil, fmt.Errorf("failed to get zone: %w", err)
	}
	region := extractRegionFromZone(path.Base(zone))

	return &Identity{
		ID:        fmt.Sprintf("gcp/%s/%s/%s", projectID, region, clusterName),
		Name:      clusterName,
		Provider:  ProviderGCP,
		Region:    region,
		ProjectID: projectID,
	}, nil
}

func (p *GCPProvider) getMetadata(ctx context.Context, key string) (string, error) {
	resp, err := p.client.R().
		SetContext(ctx).
		Get(p.metadataURL + key)
	if err != nil {
		return "", err
	}
	if resp.StatusCode() != http.StatusOK {
		return "", fmt.Errorf("metadata request failed with status %d", resp.StatusCode())
	}
	return strings.TrimSpace(resp.String()), nil
}

// extractRegionFromZone extracts region from zone (e.g., us-central1-a -> us-central1)
func extractRegionFromZone(zone string) string {
	lastDash := strings.LastIndex(zone, "-")
	if lastDash == -1 {
		return zone
	}
	return zone[:lastDash]
}
