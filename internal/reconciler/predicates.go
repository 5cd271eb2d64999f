package reconciler

import (
	v1 "k8s.io/api/apps/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/event"
	"sigs.k8s.io/controller-runtime/pkg/predicate"

	"github.com/apptrail-sh/statusbar/internal/filter"
)

// reportAnnotations change the generated report without bumping the generation
var reportAnnotations = []string{
	revisionAnnotation,
	DeploymentIDAnnotation,
	WorkspaceAnnotation,
	GenerationSequenceAnnotation,
}

// DeploymentStatusChangedPredicate allows generation changes and status changes
// that affect the reported health (replicas, conditions, observed generation).
func DeploymentStatusChangedPredicate() predicate.Predicate {
	return predicate.Funcs{
		CreateFunc:  func(e event.CreateEvent) bool { return true },
		DeleteFunc:  func(e event.DeleteEvent) bool { return true },
		GenericFunc: func(e event.GenericEvent) bool { return true },
		UpdateFunc: func(e event.UpdateEvent) bool {
			oldObj, okOld := e.ObjectOld.(*v1.Deployment)
			newObj, okNew := e.ObjectNew.(*v1.Deployment)
			if !okOld || !okNew {
				return true
			}
			if oldObj.Generation != newObj.Generation {
				return true
			}
			for _, key := range reportAnnotations {
				if oldObj.Annotations[key] != newObj.Annotations[key] {
					return true
				}
			}
			return deploymentStatusChanged(oldObj, newObj)
		},
	}
}

// deploymentStatusChanged returns true if any status field relevant to health changed.
func deploymentStatusChanged(oldObj, newObj *v1.Deployment) bool {
	oldStatus := oldObj.Status
	newStatus := newObj.Status

	if oldStatus.Replicas != newStatus.Replicas {
		return true
	}
	if oldStatus.UpdatedReplicas != newStatus.UpdatedReplicas {
		return true
	}
	if oldStatus.ReadyReplicas != newStatus.ReadyReplicas {
		return true
	}
	if oldStatus.AvailableReplicas != newStatus.AvailableReplicas {
		return true
	}
	if oldStatus.ObservedGeneration != newStatus.ObservedGeneration {
		return true
	}

	// Check conditions for changes in type, status, or reason
	if len(oldStatus.Conditions) != len(newStatus.Conditions) {
		return true
	}
	oldConditions := make(map[v1.DeploymentConditionType]v1.DeploymentCondition)
	for _, c := range oldStatus.Conditions {
		oldConditions[c.Type] = c
	}
	for _, newCond := range newStatus.Conditions {
		oldCond, exists := oldConditions[newCond.Type]
		if !exists {
			return true
		}
		if oldCond.Status != newCond.Status || oldCond.Reason != newCond.Reason {
			return true
		}
	}

	return false
}

// FilterPredicate drops events for objects the resource filter excludes.
// Updates pass while either side is in scope.
func FilterPredicate(f *filter.ResourceFilter) predicate.Predicate {
	matches := func(obj client.Object) bool {
		return f.Matches(obj.GetNamespace(), obj.GetLabels())
	}
	return predicate.Funcs{
		CreateFunc:  func(e event.CreateEvent) bool { return matches(e.Object) },
		DeleteFunc:  func(e event.DeleteEvent) bool { return matches(e.Object) },
		GenericFunc: func(e event.GenericEvent) bool { return matches(e.Object) },
		UpdateFunc: func(e event.UpdateEvent) bool {
			return matches(e.ObjectOld) || matches(e.ObjectNew)
		},
	}
}

// FilterScopeChangedPredicate fires when an update moves an object into or
// out of the filter, e.g. a label edit that status changes alone would miss.
func FilterScopeChangedPredicate(f *filter.ResourceFilter) predicate.Predicate {
	return predicate.Funcs{
		CreateFunc:  func(event.CreateEvent) bool { return false },
		DeleteFunc:  func(event.DeleteEvent) bool { return false },
		GenericFunc: func(event.GenericEvent) bool { return false },
		UpdateFunc: func(e event.UpdateEvent) bool {
			oldIn := f.Matches(e.ObjectOld.GetNamespace(), e.ObjectOld.GetLabels())
			newIn := f.Matches(e.ObjectNew.GetNamespace(), e.ObjectNew.GetLabels())
			return oldIn != newIn
		},
	}
}
