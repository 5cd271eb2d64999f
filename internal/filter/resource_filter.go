// Package filter decides which Deployments are in scope for status reports.
package filter

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// Reason explains why a Deployment is out of report scope. The zero value
// means in scope.
type Reason string

const (
	InScope              Reason = ""
	NamespaceExcluded    Reason = "namespace excluded"
	NamespaceNotWatched  Reason = "namespace not watched"
	RequiredLabelMissing Reason = "required label missing"
	ExcludedByLabel      Reason = "excluded by label"
)

// ResourceFilterConfig holds the configuration for deciding which
// Deployments get status reports
type ResourceFilterConfig struct {
	// Glob patterns, e.g. "production-*". Exclusions win.
	WatchNamespaces   []string
	ExcludeNamespaces []string

	// RequireLabels are label keys a Deployment must carry
	RequireLabels []string
	// ExcludeLabels are "key" or "key=value" entries; a bare key (or an
	// empty value) excludes on any value
	ExcludeLabels []string
}

type labelRule struct {
	key   string
	value string
}

func (r labelRule) matches(labels map[string]string) bool {
	v, ok := labels[r.key]
	return ok && (r.value == "" || v == r.value)
}

// ResourceFilter is a validated ResourceFilterConfig. A nil filter keeps
// every Deployment in scope.
type ResourceFilter struct {
	watch    []string
	exclude  []string
	require  []string
	excluded []labelRule
}

// NewResourceFilter validates config. Malformed globs and empty label keys
// are rejected so a typo cannot silently drop every report.
func NewResourceFilter(config ResourceFilterConfig) (*ResourceFilter, error) {
	for _, patterns := range [][]string{config.WatchNamespaces, config.ExcludeNamespaces} {
		for _, p := range patterns {
			if _, err := filepath.Match(p, ""); err != nil {
				return nil, fmt.Errorf("invalid namespace pattern %q: %w", p, err)
			}
		}
	}

	f := &ResourceFilter{
		watch:   config.WatchNamespaces,
		exclude: config.ExcludeNamespaces,
	}
	for _, key := range config.RequireLabels {
		if key == "" {
			return nil, errors.New("invalid required label: empty key")
		}
		f.require = append(f.require, key)
	}
	for _, entry := range config.ExcludeLabels {
		key, value, _ := strings.Cut(entry, "=")
		if key == "" {
			return nil, fmt.Errorf("invalid exclude label %q: empty key", entry)
		}
		f.excluded = append(f.excluded, labelRule{key: key, value: value})
	}
	return f, nil
}

// Decide returns InScope or the first reason the Deployment is left out.
// Namespace rules are checked before label rules.
func (f *ResourceFilter) Decide(namespace string, labels map[string]string) Reason {
	if f == nil {
		return InScope
	}
	if anyGlob(f.exclude, namespace) {
		return NamespaceExcluded
	}
	if len(f.watch) > 0 && !anyGlob(f.watch, namespace) {
		return NamespaceNotWatched
	}
	for _, key := range f.require {
		if _, ok := labels[key]; !ok {
			return RequiredLabelMissing
		}
	}
	for _, rule := range f.excluded {
		if rule.matches(labels) {
			return ExcludedByLabel
		}
	}
	return InScope
}

// Matches reports whether the Deployment is in report scope
func (f *ResourceFilter) Matches(namespace string, labels map[string]string) bool {
	return f.Decide(namespace, labels) == InScope
}

// patterns are validated by NewResourceFilter
func anyGlob(patterns []string, s string) bool {
	for _, p := range patterns {
		if ok, _ := filepath.Match(p, s); ok {
			return true
		}
	}
	return false
}

// SplitList splits a comma separated flag value, dropping empty entries
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// DefaultExcludedNamespaces are the control-plane namespaces nobody reports on
func DefaultExcludedNamespaces() []string {
	return []string{"kube-system", "kube-public", "kube-node-lease"}
}
