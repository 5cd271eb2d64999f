/*
Copyright 2024.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"context"
	"crypto/tls"
	"flag"
	"os"
	"time"

	"github.com/apptrail-sh/statusbar/internal/buildinfo"
	"github.com/apptrail-sh/statusbar/internal/cluster"
	"github.com/apptrail-sh/statusbar/internal/filter"
	"github.com/apptrail-sh/statusbar/internal/hooks"
	"github.com/apptrail-sh/statusbar/internal/hooks/controlplane"
	"github.com/apptrail-sh/statusbar/internal/hooks/pubsub"
	"github.com/apptrail-sh/statusbar/internal/model"
	"github.com/apptrail-sh/statusbar/internal/reconciler"
	"github.com/apptrail-sh/statusbar/internal/refresher"

	// Import all Kubernetes client auth plugins (e.g. Azure, GCP, OIDC, etc.)
	// to ensure that exec-entrypoint and run can make use of them.
	_ "k8s.io/client-go/plugin/pkg/client/auth"

	"k8s.io/apimachinery/pkg/runtime"
	utilruntime "k8s.io/apimachinery/pkg/util/runtime"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/healthz"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"
	"sigs.k8s.io/controller-runtime/pkg/manager"
	"sigs.k8s.io/controller-runtime/pkg/metrics/filters"
	metricsserver "sigs.k8s.io/controller-runtime/pkg/metrics/server"
	"sigs.k8s.io/controller-runtime/pkg/webhook"
)

var (
	scheme   = runtime.NewScheme()
	setupLog = ctrl.Log.WithName("setup")
)

// config holds all command-line configuration
type config struct {
	metricsAddr          string
	enableLeaderElection bool
	probeAddr            string
	secureMetrics        bool
	enableHTTP2          bool
	controlPlaneURL      string
	clusterID            string
	pubsubTopic          string
	environment          string
	workspace            string
	refreshTargets       string
	refreshInterval      time.Duration
	watchNamespaces      string
	excludeNamespaces    string
	requireLabels        string
	excludeLabels        string
	zapOpts              zap.Options
}

func init() {
	utilruntime.Must(clientgoscheme.AddToScheme(scheme))
}

func main() {
	cfg := parseFlags()

	ctrl.SetLogger(zap.New(zap.UseFlagOptions(&cfg.zapOpts)))

	mgr := setupManager(cfg)
	agentVersion := buildinfo.AgentVersion()
	cfg.clusterID = resolveClusterID(cfg)

	targets := parseTargets(cfg.refreshTargets)

	reportChan := make(chan model.StatusReport, 100)
	resultChan := make(chan model.HealthCheckResult, 100)

	// Setup publishers
	cpClient, resultPublishers, reportPublishers := setupPublishers(mgr, cfg, agentVersion)
	startPublisherQueues(mgr, reportChan, resultChan, resultPublishers, reportPublishers)

	// Setup reconcilers
	setupDeploymentReconciler(mgr, cfg, reportChan)
	setupRefresher(mgr, cfg, cpClient, targets, resultChan)

	setupHealthChecks(mgr)

	setupLog.Info("starting manager", "version", agentVersion, "clusterID", cfg.clusterID)
	if err := mgr.Start(ctrl.SetupSignalHandler()); err != nil {
		setupLog.Error(err, "problem running manager")
		os.Exit(1)
	}
}

func parseFlags() config {
	var cfg config

	flag.StringVar(&cfg.metricsAddr, "metrics-bind-address", ":8080", "The address the metrics endpoint binds to. "+
		"Use :8443 for HTTPS or :8080 for HTTP, or leave as 0 to disable the metrics service.")
	flag.StringVar(&cfg.probeAddr, "health-probe-bind-address", ":8081", "The address the probe endpoint binds to.")
	flag.BoolVar(&cfg.enableLeaderElection, "leader-elect", false,
		"Enable leader election for controller manager. "+
			"Enabling this will ensure there is only one active controller manager.")
	flag.BoolVar(&cfg.secureMetrics, "metrics-secure", false,
		"If set, the metrics endpoint is served securely via HTTPS. Use --metrics-secure=false to use HTTP instead.")
	flag.BoolVar(&cfg.enableHTTP2, "enable-http2", false,
		"If set, HTTP/2 will be enabled for the metrics and webhook servers")
	flag.StringVar(&cfg.controlPlaneURL, "controlplane-url", os.Getenv("CONTROLPLANE_URL"),
		"The base URL of the control plane (e.g., http://controlplane:3000)")
	flag.StringVar(&cfg.clusterID, "cluster-id", os.Getenv("CLUSTER_ID"),
		"Unique identifier for this cluster (e.g., staging.stg01). Detected from GKE metadata when empty")
	flag.StringVar(&cfg.pubsubTopic, "pubsub-topic", os.Getenv("PUBSUB_TOPIC"),
		"Google Cloud Pub/Sub topic path (projects/<project>/topics/<topic>)")
	flag.StringVar(&cfg.environment, "environment", os.Getenv("ENVIRONMENT"),
		"Optional environment name added to published messages")

	// Health check refresh flags
	flag.StringVar(&cfg.workspace, "workspace", model.DefaultWorkspace,
		"Workspace used for status reports and expedited health checks")
	flag.StringVar(&cfg.refreshTargets, "refresh-targets", "",
		"Comma-separated list of targets to refresh periodically (e.g., 'deployment/d1,release/r1')")
	flag.DurationVar(&cfg.refreshInterval, "refresh-interval", refresher.DefaultConfig().Interval,
		"How often health checks are expedited for the refresh targets")

	// Deployment filtering flags
	flag.StringVar(&cfg.watchNamespaces, "watch-namespaces", "",
		"Comma-separated list of namespace patterns to watch (e.g., 'production-*,staging-*')")
	flag.StringVar(&cfg.excludeNamespaces, "exclude-namespaces", "kube-system,kube-public,kube-node-lease",
		"Comma-separated list of namespace patterns to exclude")
	flag.StringVar(&cfg.requireLabels, "require-labels", "",
		"Comma-separated list of label keys that must be present (e.g., 'app.kubernetes.io/name')")
	flag.StringVar(&cfg.excludeLabels, "exclude-labels", "",
		"Comma-separated list of label key=value pairs that cause exclusion (e.g., 'statusbar.apptrail.sh/ignore=true')")

	cfg.zapOpts = zap.Options{Development: true}
	cfg.zapOpts.BindFlags(flag.CommandLine)
	flag.Parse()

	return cfg
}

func setupManager(cfg config) ctrl.Manager {
	var tlsOpts []func(*tls.Config)

	if !cfg.enableHTTP2 {
		disableHTTP2 := func(c *tls.Config) {
			setupLog.Info("disabling http/2")
			c.NextProtos = []string{"http/1.1"}
		}
		tlsOpts = append(tlsOpts, disableHTTP2)
	}

	webhookServer := webhook.NewServer(webhook.Options{
		TLSOpts: tlsOpts,
	})

	metricsServerOptions := metricsserver.Options{
		BindAddress:   cfg.metricsAddr,
		SecureServing: cfg.secureMetrics,
		TLSOpts:       tlsOpts,
	}

	if cfg.secureMetrics {
		metricsServerOptions.FilterProvider = filters.WithAuthenticationAndAuthorization
	}

	mgr, err := ctrl.NewManager(ctrl.GetConfigOrDie(), ctrl.Options{
		Scheme:                 scheme,
		Metrics:                metricsServerOptions,
		WebhookServer:          webhookServer,
		HealthProbeBindAddress: cfg.probeAddr,
		LeaderElection:         cfg.enableLeaderElection,
		LeaderElectionID:       "5b1e7c3a.statusbar.apptrail.sh",
	})
	if err != nil {
		setupLog.Error(err, "unable to start manager")
		os.Exit(1)
	}

	return mgr
}

// resolveClusterID falls back to cloud metadata when no cluster ID is configured
func resolveClusterID(cfg config) string {
	if cfg.clusterID != "" || (cfg.controlPlaneURL == "" && cfg.pubsubTopic == "") {
		return cfg.clusterID
	}

	resolverConfig := cluster.DefaultConfig()
	ctx, cancel := context.WithTimeout(context.Background(), 4*resolverConfig.Timeout)
	defer cancel()

	clusterID, err := cluster.NewResolver(resolverConfig).ClusterID(ctx, cfg.clusterID)
	if err != nil {
		setupLog.Error(err, "cluster-id is required when publishers are enabled and it could not be detected")
		os.Exit(1)
	}
	setupLog.Info("Cluster ID detected from cloud metadata", "clusterID", clusterID)
	return clusterID
}

func parseTargets(s string) []model.TargetRef {
	var targets []model.TargetRef
	for _, raw := range filter.SplitList(s) {
		target, err := model.ParseTargetRef(raw)
		if err != nil {
			setupLog.Error(err, "invalid refresh target", "target", raw)
			os.Exit(1)
		}
		targets = append(targets, target)
	}
	return targets
}

func setupPublishers(mgr ctrl.Manager, cfg config, agentVersion string) (*controlplane.Client, []hooks.ResultPublisher, []hooks.ReportPublisher) {
	var cpClient *controlplane.Client
	var resultPublishers []hooks.ResultPublisher
	var reportPublishers []hooks.ReportPublisher

	if cfg.controlPlaneURL != "" {
		cpClient = controlplane.NewClient(cfg.controlPlaneURL, cfg.clusterID, agentVersion)
		resultPublishers = append(resultPublishers, cpClient)
		reportPublishers = append(reportPublishers, cpClient)
		setupLog.Info("Control Plane publisher enabled",
			"endpoint", cfg.controlPlaneURL,
			"clusterID", cfg.clusterID)
	}

	if cfg.pubsubTopic != "" {
		ctx := context.Background()
		pubsubPublisher, err := pubsub.NewPubSubPublisher(ctx, cfg.pubsubTopic, cfg.clusterID, cfg.environment)
		if err != nil {
			setupLog.Error(err, "unable to create Pub/Sub publisher",
				"hint", "Ensure valid credentials via Workload Identity, GOOGLE_APPLICATION_CREDENTIALS, or gcloud auth")
			os.Exit(1)
		}
		if err := mgr.Add(manager.RunnableFunc(func(ctx context.Context) error {
			<-ctx.Done()
			pubsubPublisher.Stop()
			return nil
		})); err != nil {
			setupLog.Error(err, "unable to add Pub/Sub publisher shutdown")
			os.Exit(1)
		}
		resultPublishers = append(resultPublishers, pubsubPublisher)
		reportPublishers = append(reportPublishers, pubsubPublisher)
		setupLog.Info("Google Pub/Sub publisher enabled",
			"topic", cfg.pubsubTopic,
			"clusterID", cfg.clusterID)
	}

	if len(reportPublishers) == 0 {
		setupLog.Info("No publishers configured, status reports will only be exported as metrics")
	}

	return cpClient, resultPublishers, reportPublishers
}

func startPublisherQueues(
	mgr ctrl.Manager,
	reportChan chan model.StatusReport,
	resultChan chan model.HealthCheckResult,
	resultPublishers []hooks.ResultPublisher,
	reportPublishers []hooks.ReportPublisher,
) {
	resultQueue := hooks.NewResultPublisherQueue(resultChan, resultPublishers)
	reportQueue := hooks.NewReportPublisherQueue(reportChan, reportPublishers, hooks.DefaultBatchConfig())

	queues := []func(context.Context){resultQueue.Loop, reportQueue.Loop}
	for _, loop := range queues {
		if err := mgr.Add(manager.RunnableFunc(func(ctx context.Context) error {
			loop(ctx)
			return nil
		})); err != nil {
			setupLog.Error(err, "unable to add publisher queue")
			os.Exit(1)
		}
	}
}

func setupDeploymentReconciler(mgr ctrl.Manager, cfg config, reportChan chan<- model.StatusReport) {
	filterConfig := filter.ResourceFilterConfig{
		WatchNamespaces:   filter.SplitList(cfg.watchNamespaces),
		ExcludeNamespaces: filter.SplitList(cfg.excludeNamespaces),
		RequireLabels:     filter.SplitList(cfg.requireLabels),
		ExcludeLabels:     filter.SplitList(cfg.excludeLabels),
	}

	resourceFilter, err := filter.NewResourceFilter(filterConfig)
	if err != nil {
		setupLog.Error(err, "invalid deployment filter")
		os.Exit(1)
	}

	deploymentReconciler := reconciler.NewDeploymentReconciler(
		mgr.GetClient(),
		mgr.GetScheme(),
		resourceFilter,
		cfg.workspace,
		reportChan,
	)

	if err := deploymentReconciler.SetupWithManager(mgr); err != nil {
		setupLog.Error(err, "unable to create controller", "controller", "StatusReportDeployment")
		os.Exit(1)
	}
	setupLog.Info("Deployment status reporter enabled",
		"watchNamespaces", filterConfig.WatchNamespaces,
		"excludeNamespaces", filterConfig.ExcludeNamespaces,
	)
}

func setupRefresher(
	mgr ctrl.Manager,
	cfg config,
	cpClient *controlplane.Client,
	targets []model.TargetRef,
	resultChan chan<- model.HealthCheckResult,
) {
	if len(targets) == 0 {
		return
	}
	if cpClient == nil {
		setupLog.Error(nil, "controlplane-url is required when refresh-targets is set")
		os.Exit(1)
	}

	r := refresher.NewRefresher(refresher.Config{
		Interval:  cfg.refreshInterval,
		Workspace: cfg.workspace,
		Targets:   targets,
	}, cpClient, resultChan)

	if err := mgr.Add(r); err != nil {
		setupLog.Error(err, "unable to add health check refresher")
		os.Exit(1)
	}
	setupLog.Info("Health check refresher enabled", "targets", len(targets), "interval", cfg.refreshInterval)
}

func setupHealthChecks(mgr ctrl.Manager) {
	if err := mgr.AddHealthzCheck("healthz", healthz.Ping); err != nil {
		setupLog.Error(err, "unable to set up health check")
		os.Exit(1)
	}
	if err := mgr.AddReadyzCheck("readyz", healthz.Ping); err != nil {
		setupLog.Error(err, "unable to set up ready check")
		os.Exit(1)
	}
}
