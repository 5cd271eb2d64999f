package model

import (
	"fmt"
	"strings"
)

// TargetKind is the kind of operation a health check is run against
type TargetKind string

const (
	TargetDeployment TargetKind = "Deployment"
	TargetRelease    TargetKind = "Release"
)

// DefaultWorkspace is used when a target carries no workspace
const DefaultWorkspace = "default"

// TargetRef identifies a deployment or release
type TargetRef struct {
	Kind TargetKind `json:"kind"`
	ID   string     `json:"id"`
}

// Valid reports whether the reference names a known kind and a non-empty ID
func (t TargetRef) Valid() bool {
	if t.ID == "" {
		return false
	}
	return t.Kind == TargetDeployment || t.Kind == TargetRelease
}

func (t TargetRef) String() string {
	return strings.ToLower(string(t.Kind)) + "/" + t.ID
}

// ParseTargetRef parses "deployment/<id>" or "release/<id>"
func ParseTargetRef(s string) (TargetRef, error) {
	kind, id, ok := strings.Cut(strings.TrimSpace(s), "/")
	if !ok || id == "" {
		return TargetRef{}, fmt.Errorf("invalid target %q: expected deployment/<id> or release/<id>", s)
	}
	switch strings.ToLower(kind) {
	case "deployment":
		return TargetRef{Kind: TargetDeployment, ID: id}, nil
	case "release":
		return TargetRef{Kind: TargetRelease, ID: id}, nil
	default:
		return TargetRef{}, fmt.Errorf("invalid target kind %q in %q", kind, s)
	}
}

// WorkspaceOrDefault returns ws, or DefaultWorkspace when ws is empty
func WorkspaceOrDefault(ws string) string {
	if ws == "" {
		return DefaultWorkspace
	}
	return ws
}
