package cluster

import (
	"context"
	"errors"
	"testing"
	"time"
)

type stubProvider struct {
	name     ProviderName
	detected bool
	identity *Identity
	err      error
}

func (s stubProvider) Name() ProviderName                         { return s.name }
func (s stubProvider) Detect(context.Context) bool                { return s.detected }
func (s stubProvider) Resolve(context.Context) (*Identity, error) { return s.identity, s.err }

func TestResolver_Resolve_GCP(t *testing.T) {
	server := newMetadataServer(t, gkeMetadata())
	defer server.Close()

	resolver := NewResolver(Config{}, NewGCPProviderWithURL(2*time.Second, server.URL+testMetadataPath))

	identity, err := resolver.Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if identity.Provider != ProviderGCP {
		t.Errorf("Provider = %s, want gcp", identity.Provider)
	}

	source := identity.Source("v1.2.0")
	if source.ClusterID != identity.ID || source.AgentVersion != "v1.2.0" {
		t.Errorf("Source() = %+v", source)
	}
}

func TestResolver_Resolve(t *testing.T) {
	metadataDown := errors.New("metadata unavailable")

	tests := []struct {
		name      string
		providers []Provider
		wantID    string
		wantErr   error
	}{
		{
			name:    "nothing detected",
			wantErr: ErrNoProviderDetected,
		},
		{
			name: "first detected provider wins",
			providers: []Provider{
				stubProvider{name: "a", identity: &Identity{ID: "first"}},
				stubProvider{name: "b", detected: true, identity: &Identity{ID: "second"}},
				stubProvider{name: "c", detected: true, identity: &Identity{ID: "third"}},
			},
			wantID: "second",
		},
		{
			name: "failing provider falls through",
			providers: []Provider{
				stubProvider{name: "a", detected: true, err: metadataDown},
				stubProvider{name: "b", detected: true, identity: &Identity{ID: "fallback"}},
			},
			wantID: "fallback",
		},
		{
			name: "failure reported when nothing resolves",
			providers: []Provider{
				stubProvider{name: "a", detected: true, err: metadataDown},
			},
			wantErr: metadataDown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			identity, err := NewResolver(Config{}, tt.providers...).Resolve(context.Background())
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Resolve() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Resolve() error = %v", err)
			}
			if identity.ID != tt.wantID {
				t.Errorf("ID = %q, want %q", identity.ID, tt.wantID)
			}
		})
	}
}

func TestResolver_ClusterID(t *testing.T) {
	detected := stubProvider{name: "stub", detected: true, identity: &Identity{ID: "detected"}}

	tests := []struct {
		name      string
		providers []Provider
		explicit  string
		want      string
		wantErr   bool
	}{
		{name: "explicit wins", providers: []Provider{detected}, explicit: "staging.stg01", want: "staging.stg01"},
		{name: "explicit is trimmed", explicit: " prod.eu1 ", want: "prod.eu1"},
		{name: "detected when empty", providers: []Provider{detected}, want: "detected"},
		{name: "nothing to detect", wantErr: true},
		{name: "whitespace inside", explicit: "prod eu1", wantErr: true},
		{
			name:      "detected but empty",
			providers: []Provider{stubProvider{name: "stub", detected: true, identity: &Identity{}}},
			wantErr:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewResolver(Config{}, tt.providers...).ClusterID(context.Background(), tt.explicit)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ClusterID() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ClusterID() = %q, want %q", got, tt.want)
			}
		})
	}

	if !DefaultConfig().EnableGCP {
		t.Error("GCP detection should be enabled by default")
	}
}
