/*
Copyright 2024 VEXXHOST, Inc.

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
	"flag"
	"net/http"
	"os"
	"time"

	// Import all Kubernetes client auth plugins (e.g. Azure, GCP, OIDC, etc.)
	// to ensure that exec-entrypoint and run can make use of them.
	_ "k8s.io/client-go/plugin/pkg/client/auth"

	"github.com/go-logr/logr"
	"github.com/gophercloud/gophercloud/v2/openstack"
	"github.com/gophercloud/gophercloud/v2/openstack/config"
	"github.com/gophercloud/gophercloud/v2/openstack/config/clouds"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"k8s.io/apimachinery/pkg/runtime"
	utilruntime "k8s.io/apimachinery/pkg/util/runtime"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	klog "k8s.io/klog/v2"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"

	clusterv1 "sigs.k8s.io/cluster-api/api/v1beta1"
	controlplanev1 "sigs.k8s.io/cluster-api/controlplane/kubeadm/api/v1beta1"
	addonsv1 "sigs.k8s.io/cluster-api/exp/addons/api/v1beta1"

	"github.com/vexxhost/cluster-api-driver-magnum/pkg/addons"
	"github.com/vexxhost/cluster-api-driver-magnum/pkg/consts"
	"github.com/vexxhost/cluster-api-driver-magnum/pkg/driver"
	"github.com/vexxhost/cluster-api-driver-magnum/pkg/helm"
	"github.com/vexxhost/cluster-api-driver-magnum/pkg/magnum"
	openstackutil "github.com/vexxhost/cluster-api-driver-magnum/pkg/openstack"
	"github.com/vexxhost/cluster-api-driver-magnum/pkg/resources"
	"github.com/vexxhost/cluster-api-driver-magnum/version"
)

var (
	scheme   = runtime.NewScheme()
	setupLog = ctrl.Log.WithName("setup")

	// flags.
	namespace                   string
	syncPeriod                  time.Duration
	metricsAddr                 string
	cloudName                   string
	managementKubeconfig        string
	helmTimeout                 time.Duration
	cloudControllerManagerChart string
	cinderCSIChart              string
)

var (
	statusPasses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "magnum_driver_status_passes_total",
			Help: "Number of cluster status reconciliation passes.",
		},
		[]string{"result"},
	)
	statusPassDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "magnum_driver_status_pass_duration_seconds",
			Help:    "Duration of cluster status reconciliation passes.",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	utilruntime.Must(clientgoscheme.AddToScheme(scheme))
	utilruntime.Must(clusterv1.AddToScheme(scheme))
	utilruntime.Must(controlplanev1.AddToScheme(scheme))
	utilruntime.Must(addonsv1.AddToScheme(scheme))

	prometheus.MustRegister(statusPasses, statusPassDuration)
}

// InitFlags initializes the flags.
func InitFlags(fs *pflag.FlagSet) {
	fs.StringVar(&namespace, "namespace", consts.SystemNamespace,
		"Namespace on the management cluster that holds the driver-owned resources.")

	fs.DurationVar(&syncPeriod, "sync-period", consts.DefaultSyncPeriod,
		"Interval between cluster status reconciliation passes (e.g. 60s)")

	fs.StringVar(&metricsAddr, "metrics-addr", ":8080",
		"The address the metric endpoint binds to.")

	fs.StringVar(&cloudName, "cloud", "",
		"Named cloud in clouds.yaml to authenticate against. If unspecified, the OS_CLOUD environment variable is used.")

	fs.StringVar(&managementKubeconfig, "management-kubeconfig", "",
		"Path to a kubeconfig for Helm releases on the management cluster (cluster autoscaler). In-cluster config cannot serve Helm storage access when unset; autoscaler uninstalls are skipped.")

	fs.DurationVar(&helmTimeout, "helm-timeout", consts.DefaultHelmTimeout,
		"Timeout for Helm install, upgrade and uninstall operations.")

	fs.StringVar(&cloudControllerManagerChart, "ccm-chart", "",
		"Chart reference for the OpenStack cloud controller manager add-on.")

	fs.StringVar(&cinderCSIChart, "cinder-csi-chart", "",
		"Chart reference for the Cinder CSI add-on.")
}

func main() {
	klog.InitFlags(nil)
	InitFlags(pflag.CommandLine)
	pflag.CommandLine.AddGoFlagSet(flag.CommandLine)
	pflag.Parse()

	ctrl.SetLogger(klog.Background())

	ctx := ctrl.SetupSignalHandler()

	restConfig := ctrl.GetConfigOrDie()

	ctrlClient, err := client.New(restConfig, client.Options{Scheme: scheme})
	if err != nil {
		setupLog.Error(err, "unable to create client")
		os.Exit(1)
	}

	drv, err := buildDriver(ctx, ctrlClient)
	if err != nil {
		setupLog.Error(err, "unable to build driver")
		os.Exit(1)
	}

	go serveMetrics()

	setupLog.Info("Starting agent", "version", version.Get().String(), "syncPeriod", syncPeriod)

	runSyncLoop(ctx, drv)
}

func buildDriver(ctx context.Context, ctrlClient client.Client) (*driver.Driver, error) {
	authOptions, endpointOptions, tlsConfig, err := clouds.Parse(clouds.WithCloudName(cloudName))
	if err != nil {
		return nil, err
	}

	providerClient, err := config.NewProviderClient(ctx, authOptions, config.WithTLSConfig(tlsConfig))
	if err != nil {
		return nil, err
	}

	identity, err := openstack.NewIdentityV3(providerClient, endpointOptions)
	if err != nil {
		return nil, err
	}

	loadBalancer, err := openstack.NewLoadBalancerV2(providerClient, endpointOptions)
	if err != nil {
		return nil, err
	}

	drv := &driver.Driver{
		Client:    ctrlClient,
		Store:     magnum.NewMemoryStore(),
		Namespace: namespace,

		AuthURL: authOptions.IdentityEndpoint,
		Region:  endpointOptions.Region,

		Credentials:   &openstackutil.AppCredentialManager{Identity: identity},
		LoadBalancers: &openstackutil.LoadBalancerJanitor{LoadBalancer: loadBalancer},
		Applier:       &resources.ClusterApplier{Client: ctrlClient, Namespace: namespace},

		ReleaseClients: func(kubeconfig []byte, releaseNamespace string) (addons.ReleaseClient, error) {
			return helm.NewClient(kubeconfig, releaseNamespace, helmTimeout)
		},

		CloudControllerManagerChart: cloudControllerManagerChart,
		CinderCSIChart:              cinderCSIChart,
	}

	if managementKubeconfig != "" {
		kubeconfig, err := os.ReadFile(managementKubeconfig)
		if err != nil {
			return nil, err
		}

		releases, err := helm.NewClient(kubeconfig, namespace, helmTimeout)
		if err != nil {
			return nil, err
		}

		drv.ManagementReleases = releases
	}

	return drv, nil
}

func runSyncLoop(ctx context.Context, drv *driver.Driver) {
	logger := ctrl.Log.WithName("sync")

	ticker := time.NewTicker(syncPeriod)
	defer ticker.Stop()

	for {
		syncOnce(ctx, logger, drv)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func syncOnce(ctx context.Context, logger logr.Logger, drv *driver.Driver) {
	clusters, err := drv.Store.ListClusters(ctx)
	if err != nil {
		logger.Error(err, "unable to list clusters")

		return
	}

	for _, cluster := range clusters {
		if !cluster.Status.IsInProgress() {
			continue
		}

		start := time.Now()
		err := drv.UpdateClusterStatus(ctx, cluster)
		statusPassDuration.Observe(time.Since(start).Seconds())

		if err != nil {
			statusPasses.WithLabelValues("error").Inc()
			logger.Error(err, "status pass failed", "cluster", cluster.UUID)

			continue
		}

		statusPasses.WithLabelValues("ok").Inc()
	}
}

func serveMetrics() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:              metricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if err := server.ListenAndServe(); err != nil {
		setupLog.Error(err, "metrics server stopped")
		os.Exit(1)
	}
}
