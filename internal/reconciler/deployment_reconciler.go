package reconciler

import (
	"context"
	"sync"
	"time"

	v1 "k8s.io/api/apps/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/runtime"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/builder"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/predicate"

	"github.com/apptrail-sh/statusbar/internal/filter"
	"github.com/apptrail-sh/statusbar/internal/imageref"
	"github.com/apptrail-sh/statusbar/internal/model"
)

// rolloutRequeue is how often a Deployment that is not yet settled is re-checked
const rolloutRequeue = 1 * time.Minute

// DeploymentReconciler generates status reports for Deployments
type DeploymentReconciler struct {
	client.Client
	Scheme *runtime.Scheme

	filter     *filter.ResourceFilter
	workspace  string
	reportChan chan<- model.StatusReport

	mu       sync.Mutex
	reported map[string]string // namespace/name -> last published fingerprint
}

func NewDeploymentReconciler(
	client client.Client,
	scheme *runtime.Scheme,
	resourceFilter *filter.ResourceFilter,
	workspace string,
	reportChan chan<- model.StatusReport,
) *DeploymentReconciler {
	registerMetrics()

	return &DeploymentReconciler{
		Client:     client,
		Scheme:     scheme,
		filter:     resourceFilter,
		workspace:  workspace,
		reportChan: reportChan,
		reported:   make(map[string]string),
	}
}

// +kubebuilder:rbac:groups=apps,resources=deployments,verbs=get;list;watch
// +kubebuilder:rbac:groups=apps,resources=deployments/status,verbs=get

func (dr *DeploymentReconciler) Reconcile(ctx context.Context, req ctrl.Request) (ctrl.Result, error) {
	log := ctrl.LoggerFrom(ctx)
	key := req.String()

	resource := &v1.Deployment{}
	if err := dr.Get(ctx, req.NamespacedName, resource); err != nil {
		if apierrors.IsNotFound(err) {
			log.Info("Deployment deleted, forgetting reported state")
			dr.forget(key)
			deleteImageMetric(req.Namespace, req.Name)
			return ctrl.Result{}, nil
		}
		return ctrl.Result{}, err
	}

	if reason := dr.filter.Decide(resource.Namespace, resource.Labels); reason != filter.InScope {
		log.V(1).Info("Deployment out of report scope", "reason", reason)
		dr.forget(key)
		deleteImageMetric(resource.Namespace, resource.Name)
		return ctrl.Result{}, nil
	}

	report, err := BuildStatusReport(resource, dr.workspace)
	if err != nil {
		return ctrl.Result{}, err
	}

	ref, found := imageref.FromReport(ctx, &report)
	setImageMetric(resource.Namespace, resource.Name, ref, found, report.Health.Status)

	fingerprint := string(report.Health.Status) + "|" + ref.Label() + "|" + report.Labels[URLFragmentLabel]
	if dr.changed(key, fingerprint) {
		select {
		case dr.reportChan <- report:
		case <-ctx.Done():
			dr.forget(key)
			return ctrl.Result{}, ctx.Err()
		}

		log.Info("Status report generated",
			"target", report.Target.String(),
			"workspace", report.Workspace,
			"health", report.Health.Status,
			"image", ref.Label(),
			"message", report.Health.Message,
		)
	}

	switch report.Health.Status {
	case model.HealthPartial, model.HealthAlive:
		return ctrl.Result{RequeueAfter: rolloutRequeue}, nil
	}
	return ctrl.Result{}, nil
}

func (dr *DeploymentReconciler) changed(key, fingerprint string) bool {
	dr.mu.Lock()
	defer dr.mu.Unlock()
	if dr.reported[key] == fingerprint {
		return false
	}
	dr.reported[key] = fingerprint
	return true
}

func (dr *DeploymentReconciler) forget(key string) {
	dr.mu.Lock()
	defer dr.mu.Unlock()
	delete(dr.reported, key)
}

// SetupWithManager sets up the controller with the Manager.
func (dr *DeploymentReconciler) SetupWithManager(mgr ctrl.Manager) error {
	return ctrl.NewControllerManagedBy(mgr).
		For(&v1.Deployment{}, builder.WithPredicates(predicate.Or(
			FilterScopeChangedPredicate(dr.filter),
			predicate.And(FilterPredicate(dr.filter), DeploymentStatusChangedPredicate()),
		))).
		Complete(dr)
}
