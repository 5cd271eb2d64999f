// Package imageref derives container image references from status report
// resource state documents.
package imageref

import (
	"context"

	"github.com/google/go-containerregistry/pkg/name"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/apptrail-sh/statusbar/internal/model"
)

const (
	// ImageKey is the state document key holding the image reference
	ImageKey = "Image"

	// MaxSearchDepth bounds how far FindString descends into a document
	MaxSearchDepth = 50
)

// FromReport extracts the image reference of the report's first container resource.
func FromReport(ctx context.Context, report *model.StatusReport) (model.ImageReference, bool) {
	if report == nil {
		return model.ImageReference{}, false
	}
	return ExtractImageTag(ctx, report.Resources)
}

// ExtractImageTag finds the first "container" resource, parses its state JSON
// and returns the first string-valued Image key split into image and tag.
// Malformed state is treated as an empty document.
func ExtractImageTag(ctx context.Context, resources []model.StatusReportResource) (model.ImageReference, bool) {
	if len(resources) == 0 {
		return model.ImageReference{}, false
	}

	doc := Object()
	for _, res := range resources {
		if res.Type != model.ResourceTypeContainer {
			continue
		}
		if res.StateJSON != "" {
			parsed, err := Parse([]byte(res.StateJSON))
			if err != nil {
				log.FromContext(ctx).V(1).Info("Ignoring malformed container state",
					"resource", res.Name,
					"error", err.Error(),
				)
			} else {
				doc = parsed
			}
		}
		break
	}

	image, ok := FindString(doc, ImageKey)
	if !ok || image == "" {
		return model.ImageReference{}, false
	}
	return model.ParseImageReference(image), true
}

// FindString searches doc for the first key whose value is a string. Each
// object's own keys are checked before descending into its children, and
// children are visited in document order.
func FindString(doc Value, key string) (string, bool) {
	return findString(doc, key, 0)
}

func findString(v Value, key string, depth int) (string, bool) {
	if depth > MaxSearchDepth {
		return "", false
	}

	switch v.Kind {
	case KindObject:
		for _, f := range v.Fields {
			if f.Key == key && f.Value.Kind == KindString {
				return f.Value.String, true
			}
		}
		for _, f := range v.Fields {
			if !f.Value.Container() {
				continue
			}
			if s, ok := findString(f.Value, key, depth+1); ok {
				return s, true
			}
		}
	case KindArray:
		for _, item := range v.Items {
			if !item.Container() {
				continue
			}
			if s, ok := findString(item, key, depth+1); ok {
				return s, true
			}
		}
	}
	return "", false
}

// Registry returns the registry host the image would be pulled from, or ""
// when the reference cannot be parsed.
func Registry(ref model.ImageReference) string {
	if ref.Image == "" {
		return ""
	}
	parsed, err := name.ParseReference(ref.String(), name.WeakValidation)
	if err != nil {
		return ""
	}
	return parsed.Context().RegistryStr()
}
