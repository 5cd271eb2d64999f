package reconciler

import (
	"testing"

	v1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/controller-runtime/pkg/event"

	"github.com/apptrail-sh/statusbar/internal/filter"
)

// settledDeployment is a ready Deployment as seen after a finished rollout
func settledDeployment() *v1.Deployment {
	d := testDeployment()
	d.Status.ObservedGeneration = d.Generation
	d.Status.Conditions = []v1.DeploymentCondition{
		{Type: v1.DeploymentAvailable, Status: corev1.ConditionTrue, Reason: "MinimumReplicasAvailable"},
		{Type: v1.DeploymentProgressing, Status: corev1.ConditionTrue, Reason: "NewReplicaSetAvailable"},
	}
	return d
}

func TestDeploymentStatusChangedPredicate_ReportAnnotations(t *testing.T) {
	pred := DeploymentStatusChangedPredicate()

	for _, key := range reportAnnotations {
		t.Run(key, func(t *testing.T) {
			old := settledDeployment()
			updated := settledDeployment()
			updated.Annotations[key] = "changed"

			if !pred.Update(event.UpdateEvent{ObjectOld: old, ObjectNew: updated}) {
				t.Errorf("change of %s should trigger a new report", key)
			}
		})
	}

	old := settledDeployment()
	updated := settledDeployment()
	updated.Annotations["kubectl.kubernetes.io/last-applied-configuration"] = "{}"
	updated.Labels["team"] = "payments"
	if pred.Update(event.UpdateEvent{ObjectOld: old, ObjectNew: updated}) {
		t.Error("annotations and labels outside the report should not trigger")
	}
}

func TestDeploymentStatusChangedPredicate_HealthInputs(t *testing.T) {
	pred := DeploymentStatusChangedPredicate()

	tests := []struct {
		name   string
		modify func(d *v1.Deployment)
		want   bool
	}{
		{name: "new rollout", modify: func(d *v1.Deployment) { d.Generation++ }, want: true},
		{name: "pods becoming ready", modify: func(d *v1.Deployment) { d.Status.ReadyReplicas-- }, want: true},
		{name: "pods updated", modify: func(d *v1.Deployment) { d.Status.UpdatedReplicas-- }, want: true},
		{name: "surge replica", modify: func(d *v1.Deployment) { d.Status.Replicas++ }, want: true},
		{name: "availability", modify: func(d *v1.Deployment) { d.Status.AvailableReplicas-- }, want: true},
		{name: "controller caught up", modify: func(d *v1.Deployment) { d.Status.ObservedGeneration-- }, want: true},
		{
			name: "progress deadline exceeded",
			modify: func(d *v1.Deployment) {
				d.Status.Conditions[1].Status = corev1.ConditionFalse
				d.Status.Conditions[1].Reason = "ProgressDeadlineExceeded"
			},
			want: true,
		},
		{
			name: "replica failure reported",
			modify: func(d *v1.Deployment) {
				d.Status.Conditions = append(d.Status.Conditions, v1.DeploymentCondition{
					Type: v1.DeploymentReplicaFailure, Status: corev1.ConditionTrue,
				})
			},
			want: true,
		},
		{
			name: "condition heartbeat only",
			modify: func(d *v1.Deployment) {
				d.Status.Conditions[0].LastUpdateTime = metav1.Now()
				d.Status.Conditions[0].Message = "Deployment has minimum availability."
			},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			old := settledDeployment()
			updated := settledDeployment()
			tt.modify(updated)

			if got := pred.Update(event.UpdateEvent{ObjectOld: old, ObjectNew: updated}); got != tt.want {
				t.Errorf("Update() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDeploymentStatusChangedPredicate_OtherEvents(t *testing.T) {
	pred := DeploymentStatusChangedPredicate()
	d := settledDeployment()

	if !pred.Create(event.CreateEvent{Object: d}) {
		t.Error("a new Deployment should be reported")
	}
	if !pred.Delete(event.DeleteEvent{Object: d}) {
		t.Error("a deleted Deployment should be reconciled to drop its state")
	}
	if !pred.Generic(event.GenericEvent{Object: d}) {
		t.Error("generic events should pass")
	}

	statefulset := &v1.StatefulSet{ObjectMeta: metav1.ObjectMeta{Name: "db"}}
	if !pred.Update(event.UpdateEvent{ObjectOld: statefulset, ObjectNew: statefulset}) {
		t.Error("objects of another type should pass")
	}
}

func TestFilterPredicates(t *testing.T) {
	const ignore = "statusbar.apptrail.sh/ignore"
	f := mustFilter(t, filter.ResourceFilterConfig{
		ExcludeNamespaces: filter.DefaultExcludedNamespaces(),
		ExcludeLabels:     []string{ignore + "=true"},
	})
	inScope := FilterPredicate(f)
	scopeChanged := FilterScopeChangedPredicate(f)

	reported := settledDeployment()
	ignored := settledDeployment()
	ignored.Labels[ignore] = "true"
	system := settledDeployment()
	system.Namespace = "kube-system"

	tests := []struct {
		name         string
		old, updated *v1.Deployment
		inScope      bool
		scopeChanged bool
	}{
		{name: "stays reported", old: reported, updated: reported, inScope: true},
		{name: "stays ignored", old: ignored, updated: ignored},
		{name: "system namespace", old: system, updated: system},
		{name: "becomes ignored", old: reported, updated: ignored, inScope: true, scopeChanged: true},
		{name: "ignore removed", old: ignored, updated: reported, inScope: true, scopeChanged: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := event.UpdateEvent{ObjectOld: tt.old, ObjectNew: tt.updated}
			if got := inScope.Update(e); got != tt.inScope {
				t.Errorf("FilterPredicate Update() = %v, want %v", got, tt.inScope)
			}
			if got := scopeChanged.Update(e); got != tt.scopeChanged {
				t.Errorf("FilterScopeChangedPredicate Update() = %v, want %v", got, tt.scopeChanged)
			}
		})
	}

	if inScope.Create(event.CreateEvent{Object: ignored}) {
		t.Error("an ignored Deployment should not be reported on create")
	}
	if scopeChanged.Create(event.CreateEvent{Object: reported}) {
		t.Error("scope changes only apply to updates")
	}
	if !FilterPredicate(nil).Create(event.CreateEvent{Object: system}) {
		t.Error("nil filter should allow every object")
	}
}
