// Package cluster works out which cluster statusbar runs in, so published
// status reports and health check results can be told apart per cluster.
package cluster

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/apptrail-sh/statusbar/internal/model"
)

// ProviderName names the platform an Identity was resolved from
type ProviderName string

const ProviderGCP ProviderName = "gcp"

// ErrNoProviderDetected is returned when no metadata source answers
var ErrNoProviderDetected = errors.New("no cloud provider detected")

// Identity is the resolved cluster. ID is stamped as the source of every
// published report and prefixes Pub/Sub ordering keys.
type Identity struct {
	ID        string
	Name      string
	Provider  ProviderName
	Region    string
	ProjectID string
}

// Source returns the metadata attached to published payloads
func (i Identity) Source(agentVersion string) model.SourceMetadata {
	return model.SourceMetadata{ClusterID: i.ID, AgentVersion: agentVersion}
}

// Provider resolves the Identity from one platform's metadata
type Provider interface {
	Name() ProviderName
	Detect(ctx context.Context) bool
	Resolve(ctx context.Context) (*Identity, error)
}

// Config holds configuration for the resolver
type Config struct {
	// Timeout applies to each metadata request
	Timeout   time.Duration
	EnableGCP bool
}

// DefaultConfig returns the default resolver configuration
func DefaultConfig() Config {
	return Config{
		Timeout:   3 * time.Second,
		EnableGCP: true,
	}
}

// Resolver asks each provider in turn
type Resolver struct {
	providers []Provider
}

// NewResolver creates a resolver for the enabled providers followed by extra
func NewResolver(cfg Config, extra ...Provider) *Resolver {
	var providers []Provider
	if cfg.EnableGCP {
		providers = append(providers, NewGCPProvider(cfg.Timeout))
	}
	return &Resolver{providers: append(providers, extra...)}
}

// Resolve returns the identity from the first provider that is detected and
// resolves. Providers that are detected but fail are skipped; their errors
// are returned when nothing resolves.
func (r *Resolver) Resolve(ctx context.Context) (*Identity, error) {
	logger := log.FromContext(ctx).WithName("cluster")

	var errs []error
	for _, provider := range r.providers {
		if !provider.Detect(ctx) {
			logger.V(1).Info("Cluster metadata provider not detected", "provider", provider.Name())
			continue
		}
		identity, err := provider.Resolve(ctx)
		if err != nil {
			logger.Error(err, "Cluster metadata provider failed", "provider", provider.Name())
			errs = append(errs, fmt.Errorf("%s: %w", provider.Name(), err))
			continue
		}
		return identity, nil
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return nil, ErrNoProviderDetected
}

// ClusterID returns explicit when set, otherwise the resolved ID. IDs with
// whitespace are rejected since they end up in ordering keys and labels.
func (r *Resolver) ClusterID(ctx context.Context, explicit string) (string, error) {
	id := strings.TrimSpace(explicit)
	if id == "" {
		identity, err := r.Resolve(ctx)
		if err != nil {
			return "", err
		}
		id = identity.ID
	}
	if id == "" || strings.ContainsAny(id, " \t\n") {
		return "", fmt.Errorf("invalid cluster id %q", id)
	}
	return id, nil
}
