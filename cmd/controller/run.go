/*
Copyright 2025.

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

package controller

import (
	"context"
	"flag"
	"fmt"

	// Import all Kubernetes client auth plugins (e.g. Azure, GCP, OIDC, etc.)
	// to ensure that exec-entrypoint and run can make use of them.
	_ "k8s.io/client-go/plugin/pkg/client/auth"

	"k8s.io/apimachinery/pkg/runtime"
	utilruntime "k8s.io/apimachinery/pkg/util/runtime"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/healthz"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"
	"sigs.k8s.io/controller-runtime/pkg/manager"
	metricsserver "sigs.k8s.io/controller-runtime/pkg/metrics/server"

	"github.com/go-logr/logr"

	platformv1alpha1 "github.com/clustermesh/platform-operator/api/v1alpha1"
	"github.com/clustermesh/platform-operator/internal/certs"
	"github.com/clustermesh/platform-operator/internal/cloud"
	"github.com/clustermesh/platform-operator/internal/config"
	"github.com/clustermesh/platform-operator/internal/configsvc"
	"github.com/clustermesh/platform-operator/internal/consul"
	platformcontroller "github.com/clustermesh/platform-operator/internal/controller"
	"github.com/clustermesh/platform-operator/internal/helm"
	"github.com/clustermesh/platform-operator/internal/kube"
	"github.com/clustermesh/platform-operator/internal/operator"
	"github.com/clustermesh/platform-operator/internal/status"
	"github.com/clustermesh/platform-operator/internal/storage"
)

// consulRateLimitQPS caps the request rate against the coordination store;
// the lock poll loops would otherwise hammer it.
const consulRateLimitQPS = 10

var (
	scheme   = runtime.NewScheme()
	setupLog = ctrl.Log.WithName("setup")
)

func init() {
	utilruntime.Must(clientgoscheme.AddToScheme(scheme))
	utilruntime.Must(platformv1alpha1.AddToScheme(scheme))
}

// Run starts the controller manager with the Platform reconciler and the
// periodic config watch loop.
func Run(args []string) error {
	var metricsAddr string
	var probeAddr string
	var enableLeaderElection bool

	fs := flag.NewFlagSet("controller", flag.ExitOnError)
	fs.StringVar(&metricsAddr, "metrics-bind-address", ":8080", "The address the metrics endpoint binds to.")
	fs.StringVar(&probeAddr, "health-probe-bind-address", ":8081", "The address the probe endpoint binds to.")
	fs.BoolVar(&enableLeaderElection, "leader-elect", false,
		"Enable leader election for controller manager. "+
			"Enabling this will ensure there is only one active controller manager.")

	opts := zap.Options{
		Development: true,
	}
	opts.BindFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctrl.SetLogger(zap.New(zap.UseFlagOptions(&opts)))

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load operator config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid operator config: %w", err)
	}

	mgr, err := ctrl.NewManager(ctrl.GetConfigOrDie(), ctrl.Options{
		Scheme:                 scheme,
		Metrics:                metricsserver.Options{BindAddress: metricsAddr},
		HealthProbeBindAddress: probeAddr,
		LeaderElection:         enableLeaderElection,
		LeaderElectionID:       "platform-controller-leader.clustermesh.io",
	})
	if err != nil {
		return fmt.Errorf("unable to start manager: %w", err)
	}

	deployer, err := buildDeployer(context.Background(), cfg, mgr.GetClient())
	if err != nil {
		return err
	}

	if err := (&platformcontroller.PlatformReconciler{
		Client:       mgr.GetClient(),
		Scheme:       mgr.GetScheme(),
		Orchestrator: deployer,
	}).SetupWithManager(mgr); err != nil {
		return fmt.Errorf("unable to create controller: %w", err)
	}

	// The config watch loop runs only on the elected leader so that a
	// standby replica never races the active one for the deploy lock.
	err = mgr.Add(manager.RunnableFunc(func(ctx context.Context) error {
		return deployer.WatchConfig(ctx, platformGetter(mgr.GetClient(), cfg.PlatformNamespace))
	}))
	if err != nil {
		return fmt.Errorf("unable to register config watch loop: %w", err)
	}

	if err := mgr.AddHealthzCheck("healthz", healthz.Ping); err != nil {
		return fmt.Errorf("unable to set up health check: %w", err)
	}
	if err := mgr.AddReadyzCheck("readyz", healthz.Ping); err != nil {
		return fmt.Errorf("unable to set up ready check: %w", err)
	}

	setupLog.Info("starting controller manager")
	if err := mgr.Start(ctrl.SetupSignalHandler()); err != nil {
		return fmt.Errorf("problem running manager: %w", err)
	}
	return nil
}

// buildDeployer wires the orchestrator's collaborators from the operator
// configuration.
func buildDeployer(ctx context.Context, cfg *config.Config, c client.Client) (*operator.Deployer, error) {
	logger := ctrl.Log.WithName("operator")

	consulClient, err := consulClientFromConfig(cfg, logger)
	if err != nil {
		return nil, err
	}

	configClient, err := configsvc.NewClient(configsvc.ClientConfig{
		BaseURL: cfg.ConfigServiceURL,
		Logger:  logger.WithName("configsvc"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create config service client: %w", err)
	}

	awsConfig := cloud.AWSConfig{
		Region:          cfg.AWSRegion,
		Endpoint:        cfg.AWSEndpoint,
		AccessKeyID:     cfg.AWSAccessKeyID,
		SecretAccessKey: cfg.AWSSecretAccessKey,
	}
	elbClient, err := cloud.NewELBClient(ctx, awsConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create load balancer client: %w", err)
	}
	buckets, err := storage.NewBucketProvisioner(ctx, awsConfig, logger.WithName("storage"))
	if err != nil {
		return nil, fmt.Errorf("failed to create bucket provisioner: %w", err)
	}

	kubeClient := kube.NewClient(c)

	return operator.NewDeployer(cfg, operator.Collaborators{
		Status:        status.NewManager(kubeClient, cfg.PlatformNamespace, logger.WithName("status")),
		Installer:     helm.NewClient(cfg.KubeContext, cfg.PlatformNamespace, logger.WithName("helm")),
		ConfigService: configClient,
		Kube:          kubeClient,
		Locker:        consulClient,
		Certificates:  certs.NewStore(consulClient, logger.WithName("certs")),
		LoadBalancers: elbClient,
		Buckets:       buckets,
		Logger:        logger,
	}), nil
}

func consulClientFromConfig(cfg *config.Config, logger logr.Logger) (*consul.Client, error) {
	consulClient, err := consul.NewClient(consul.ClientConfig{
		BaseURL:      cfg.ConsulURL,
		RateLimitQPS: consulRateLimitQPS,
		Logger:       logger.WithName("consul"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create coordination store client: %w", err)
	}
	return consulClient, nil
}

// platformGetter resolves the Platform resource the watch loop operates on.
// The operator manages a single platform per cluster.
func platformGetter(c client.Client, namespace string) operator.PlatformGetter {
	return func(ctx context.Context) (*platformv1alpha1.Platform, error) {
		platforms := &platformv1alpha1.PlatformList{}
		if err := c.List(ctx, platforms, client.InNamespace(namespace)); err != nil {
			return nil, fmt.Errorf("failed to list platforms in %q: %w", namespace, err)
		}
		if len(platforms.Items) == 0 {
			return nil, fmt.Errorf("no platform resource found in %q", namespace)
		}
		return &platforms.Items[0], nil
	}
}
