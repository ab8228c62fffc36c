// Package operator reconciles Platform resources: it drives chart
// installs, cluster registration and status reporting, serializing all
// mutating work through a distributed lock in the coordination store.
package operator

import (
	"context"
	"errors"
	"fmt"
	"time"

	elbtypes "github.com/aws/aws-sdk-go-v2/service/elasticloadbalancing/types"
	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/utils/clock"

	platformv1alpha1 "github.com/clustermesh/platform-operator/api/v1alpha1"
	"github.com/clustermesh/platform-operator/internal/config"
	"github.com/clustermesh/platform-operator/internal/configsvc"
	"github.com/clustermesh/platform-operator/internal/constants"
	"github.com/clustermesh/platform-operator/internal/consul"
	operatorerrors "github.com/clustermesh/platform-operator/internal/errors"
	"github.com/clustermesh/platform-operator/internal/helm"
	"github.com/clustermesh/platform-operator/internal/kube"
)

// errUpToDate signals that a reconcile pass found nothing to do.
var errUpToDate = errors.New("platform is up to date")

// StatusManager persists deployment lifecycle state. Satisfied by
// status.Manager.
type StatusManager interface {
	StartDeployment(ctx context.Context, name string, retry int) error
	StartDeletion(ctx context.Context, name string) error
	CompleteDeployment(ctx context.Context, name string) error
	FailDeployment(ctx context.Context, name string, removeConditions bool) error
	Transition(ctx context.Context, name string, condType platformv1alpha1.PlatformConditionType, fn func(ctx context.Context) error) error
	IsConditionSatisfied(ctx context.Context, name string, condType platformv1alpha1.PlatformConditionType) (bool, error)
	GetPhase(ctx context.Context, name string) (platformv1alpha1.PlatformPhase, error)
}

// Installer drives chart installs. Satisfied by helm.Client.
type Installer interface {
	AddRepo(ctx context.Context, repo helm.Repo) error
	GetRelease(ctx context.Context, releaseName string) (*helm.Release, error)
	GetReleaseValues(ctx context.Context, releaseName string) (map[string]any, error)
	Upgrade(ctx context.Context, releaseName, chartName string, opts helm.UpgradeOptions) error
	Delete(ctx context.Context, releaseName string, opts helm.DeleteOptions) error
}

// ConfigService is the cluster config service. Satisfied by
// configsvc.Client.
type ConfigService interface {
	GetCluster(ctx context.Context, clusterName, token string) (*configsvc.Cluster, error)
	PatchCluster(ctx context.Context, clusterName, token string, payload any) error
	SendNotification(ctx context.Context, clusterName, token string, notificationType configsvc.NotificationType) error
}

// KubeClient covers the cluster admin operations reconciliation needs.
// Satisfied by kube.Client.
type KubeClient interface {
	GetService(ctx context.Context, namespace, name string) (*corev1.Service, error)
	UpdateServiceAccount(ctx context.Context, namespace, name string, annotations map[string]string, imagePullSecrets []string) error
	WaitUntilPodsGone(ctx context.Context, namespace string, selector map[string]string, interval time.Duration) error
}

// Locker serializes work through the coordination store. Satisfied by
// consul.Client.
type Locker interface {
	WithLock(ctx context.Context, key string, value []byte, opts consul.LockOptions, fn func(ctx context.Context) error) error
	WaitHealthy(ctx context.Context, interval time.Duration) error
}

// CertificateStore waits for the ingress certificate. Satisfied by
// certs.Store.
type CertificateStore interface {
	WaitUntilCertificateReady(ctx context.Context, interval time.Duration) error
}

// LoadBalancerFinder resolves the cloud load balancer fronting the
// ingress. Satisfied by cloud.ELBClient.
type LoadBalancerFinder interface {
	FindLoadBalancerByDNSName(ctx context.Context, dnsName string) (*elbtypes.LoadBalancerDescription, error)
}

// BucketProvisioner creates object storage buckets. Satisfied by
// storage.BucketProvisioner.
type BucketProvisioner interface {
	EnsureBucket(ctx context.Context, name string) error
}

// Collaborators bundles the injected dependencies of a Deployer.
type Collaborators struct {
	Status        StatusManager
	Installer     Installer
	ConfigService ConfigService
	Kube          KubeClient
	Locker        Locker
	Certificates  CertificateStore
	LoadBalancers LoadBalancerFinder
	Buckets       BucketProvisioner
	Logger        logr.Logger
	Clock         clock.Clock
}

// Deployer reconciles a Platform resource against the cluster.
type Deployer struct {
	cfg *config.Config

	status        StatusManager
	installer     Installer
	configService ConfigService
	kube          KubeClient
	locker        Locker
	certificates  CertificateStore
	loadBalancers LoadBalancerFinder
	buckets       BucketProvisioner

	logger logr.Logger
	clock  clock.Clock
}

// NewDeployer wires a Deployer from its collaborators.
func NewDeployer(cfg *config.Config, c Collaborators) *Deployer {
	clk := c.Clock
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Deployer{
		cfg:           cfg,
		status:        c.Status,
		installer:     c.Installer,
		configService: c.ConfigService,
		kube:          c.Kube,
		locker:        c.Locker,
		certificates:  c.Certificates,
		loadBalancers: c.LoadBalancers,
		buckets:       c.Buckets,
		logger:        c.Logger,
		clock:         clk,
	}
}

// Deploy reconciles the platform towards the desired spec. A retry count
// above the configured budget fails the deployment permanently. All other
// failures are classified so the controller knows whether to requeue.
func (d *Deployer) Deploy(ctx context.Context, platform *platformv1alpha1.Platform, retry int) error {
	name := platform.Name

	if retry > d.cfg.MaxRetries {
		if err := d.status.FailDeployment(ctx, name, false); err != nil {
			return err
		}
		deploymentsTotal.WithLabelValues(name, resultFailed).Inc()
		return operatorerrors.Permanentf("platform deployment has exceeded %d retries", d.cfg.MaxRetries)
	}

	start := d.clock.Now()
	err := d.withDeployLock(ctx, name, func(ctx context.Context) error {
		return d.deploy(ctx, platform, retry)
	})
	switch {
	case errors.Is(err, errUpToDate):
		deploymentsTotal.WithLabelValues(name, resultSkipped).Inc()
		return nil
	case err != nil:
		deploymentsTotal.WithLabelValues(name, resultFailed).Inc()
		return classify(err)
	}
	deploymentsTotal.WithLabelValues(name, resultSucceeded).Inc()
	deployDurationHistogram.WithLabelValues(name).Observe(d.clock.Since(start).Seconds())
	return nil
}

// withDeployLock serializes deploys and deletes across controller
// replicas.
func (d *Deployer) withDeployLock(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	lockStart := d.clock.Now()
	return d.locker.WithLock(ctx, constants.LockKeyDeploy, []byte(name), consul.LockOptions{
		TTL:     d.cfg.DeployLockTTL,
		Timeout: d.cfg.DeployLockTimeout,
	}, func(ctx context.Context) error {
		lockWaitHistogram.Observe(d.clock.Since(lockStart).Seconds())
		return fn(ctx)
	})
}

// classify maps unclassified failures to retryable so the controller
// requeues them. Errors already marked permanent, retryable or transient
// pass through.
func classify(err error) error {
	if operatorerrors.IsPermanent(err) || operatorerrors.IsRetryable(err) {
		return err
	}
	return operatorerrors.Retryable(err)
}

func (d *Deployer) deploy(ctx context.Context, platform *platformv1alpha1.Platform, retry int) error {
	name := platform.Name
	logger := d.logger.WithValues("platform", name, "retry", retry)

	cluster, err := d.loadCluster(ctx, platform)
	if err != nil {
		return err
	}

	failed, err := d.releaseFailed(ctx, constants.ReleaseNamePlatform)
	if err != nil {
		return err
	}
	if failed {
		if err := d.status.FailDeployment(ctx, name, false); err != nil {
			return err
		}
		return operatorerrors.Permanentf("platform helm release failed")
	}

	phase, err := d.status.GetPhase(ctx, name)
	if err != nil {
		return err
	}
	values := PlatformValues(platform, cluster)
	required, err := d.upgradeRequired(ctx, constants.ReleaseNamePlatform, d.cfg.PlatformChart, values, true)
	if err != nil {
		return err
	}
	if phase == platformv1alpha1.PlatformPhaseDeployed && !required {
		logger.Info("platform config did not change, skipping deployment")
		return errUpToDate
	}

	logger.Info("platform deployment started")
	d.checkCoordinationStore(ctx, logger)

	if err := d.status.StartDeployment(ctx, name, retry); err != nil {
		return err
	}

	if err := d.deployObsCsiDriver(ctx, platform); err != nil {
		return err
	}

	satisfied, err := d.status.IsConditionSatisfied(ctx, name, platformv1alpha1.ConditionPlatformDeployed)
	if err != nil {
		return err
	}
	if required || !satisfied {
		err := d.status.Transition(ctx, name, platformv1alpha1.ConditionPlatformDeployed, func(ctx context.Context) error {
			return d.upgradePlatformRelease(ctx, platform, cluster, values)
		})
		if err != nil {
			return err
		}
	}

	if err := d.waitForCertificate(ctx, platform); err != nil {
		return err
	}

	configured, err := d.status.IsConditionSatisfied(ctx, name, platformv1alpha1.ConditionClusterConfigured)
	if err != nil {
		return err
	}
	if !configured {
		err := d.status.Transition(ctx, name, platformv1alpha1.ConditionClusterConfigured, func(ctx context.Context) error {
			return d.configureCluster(ctx, platform, cluster)
		})
		if err != nil {
			return err
		}
	}

	if err := d.status.CompleteDeployment(ctx, name); err != nil {
		return err
	}
	logger.Info("platform deployment completed")
	return nil
}

// loadCluster fetches the cluster record, treating anything other than a
// transport failure as an invalid platform configuration.
func (d *Deployer) loadCluster(ctx context.Context, platform *platformv1alpha1.Platform) (*configsvc.Cluster, error) {
	name := platform.Name
	if platform.Spec.Token == "" {
		if err := d.status.FailDeployment(ctx, name, true); err != nil {
			return nil, err
		}
		return nil, operatorerrors.Permanentf("invalid platform configuration: token is required")
	}
	cluster, err := d.configService.GetCluster(ctx, name, platform.Spec.Token)
	if err != nil {
		if operatorerrors.IsTransientConnection(err) {
			return nil, err
		}
		if failErr := d.status.FailDeployment(ctx, name, true); failErr != nil {
			return nil, failErr
		}
		return nil, operatorerrors.Permanent(fmt.Errorf("invalid platform configuration: %w", err))
	}
	return cluster, nil
}

// checkCoordinationStore probes the coordination store before a deploy so
// an unreachable store shows up in the logs early. The deploy proceeds
// either way since only some components need the store.
func (d *Deployer) checkCoordinationStore(ctx context.Context, logger logr.Logger) {
	healthCtx, cancel := context.WithTimeout(ctx, constants.ConsulHealthTimeout)
	defer cancel()
	if err := d.locker.WaitHealthy(healthCtx, constants.ConsulHealthInterval); err != nil {
		logger.Info("coordination store not healthy, continuing", "error", err)
	}
}

func (d *Deployer) releaseFailed(ctx context.Context, releaseName string) (bool, error) {
	release, err := d.installer.GetRelease(ctx, releaseName)
	if err != nil {
		return false, err
	}
	return release != nil && release.Status == helm.StatusFailed, nil
}

// upgradeRequired compares the installed release against the desired
// chart and values. An absent release requires an upgrade only when
// install is set.
func (d *Deployer) upgradeRequired(ctx context.Context, releaseName string, chart config.Chart, values map[string]any, install bool) (bool, error) {
	release, err := d.installer.GetRelease(ctx, releaseName)
	if err != nil {
		return false, err
	}
	if release == nil {
		return install, nil
	}
	oldValues, err := d.installer.GetReleaseValues(ctx, releaseName)
	if err != nil {
		return false, err
	}
	newChart := fmt.Sprintf("%s-%s", chartBaseName(chart.Name), chart.Version)
	return release.Chart != newChart || !equalValues(oldValues, values), nil
}

func (d *Deployer) deployObsCsiDriver(ctx context.Context, platform *platformv1alpha1.Platform) error {
	if platform.Spec.ObsCsiDriver == nil || d.cfg.ObsCsiDriverChart.Name == "" {
		return nil
	}
	name := platform.Name
	values := ObsCsiDriverValues(platform)
	required, err := d.upgradeRequired(ctx, constants.ReleaseNameObsCsiDriver, d.cfg.ObsCsiDriverChart, values, true)
	if err != nil {
		return err
	}
	satisfied, err := d.status.IsConditionSatisfied(ctx, name, platformv1alpha1.ConditionObsCsiDriverDeployed)
	if err != nil {
		return err
	}
	if !required && satisfied {
		return nil
	}
	return d.status.Transition(ctx, name, platformv1alpha1.ConditionObsCsiDriverDeployed, func(ctx context.Context) error {
		return d.installer.Upgrade(ctx, constants.ReleaseNameObsCsiDriver, d.cfg.ObsCsiDriverChart.Name, helm.UpgradeOptions{
			Version: d.cfg.ObsCsiDriverChart.Version,
			Values:  values,
			Install: true,
			Wait:    true,
			Timeout: 10 * time.Minute,
		})
	})
}

func (d *Deployer) upgradePlatformRelease(ctx context.Context, platform *platformv1alpha1.Platform, cluster *configsvc.Cluster, values map[string]any) error {
	var pullSecrets []string
	if d.cfg.ImagePullSecretName != "" {
		pullSecrets = append(pullSecrets, d.cfg.ImagePullSecretName)
	}
	err := d.kube.UpdateServiceAccount(ctx, d.cfg.PlatformNamespace, d.cfg.ServiceAccountName, nil, pullSecrets)
	if err != nil {
		return err
	}

	opts := helm.UpgradeOptions{
		Version: d.cfg.PlatformChart.Version,
		Values:  values,
		Install: true,
		Wait:    true,
		Timeout: 10 * time.Minute,
	}
	if cluster.Credentials != nil && cluster.Credentials.HelmRepo != nil {
		repo := cluster.Credentials.HelmRepo
		if err := d.installer.AddRepo(ctx, helm.Repo{
			Name:     "platform",
			URL:      repo.URL,
			Username: repo.Username,
			Password: repo.Password,
		}); err != nil {
			return err
		}
		opts.Username = repo.Username
		opts.Password = repo.Password
	}
	return d.installer.Upgrade(ctx, constants.ReleaseNamePlatform, d.cfg.PlatformChart.Name, opts)
}

// waitForCertificate blocks until the ingress controller has obtained the
// cluster certificate, when the platform manages certificates at all.
func (d *Deployer) waitForCertificate(ctx context.Context, platform *platformv1alpha1.Platform) error {
	spec := platform.Spec
	if spec.IngressController.Enabled != nil && !*spec.IngressController.Enabled {
		return nil
	}
	if spec.IngressController.AcmeEnvironment == "" {
		return nil
	}
	name := platform.Name
	satisfied, err := d.status.IsConditionSatisfied(ctx, name, platformv1alpha1.ConditionCertificateCreated)
	if err != nil {
		return err
	}
	if satisfied {
		return nil
	}
	return d.status.Transition(ctx, name, platformv1alpha1.ConditionCertificateCreated, func(ctx context.Context) error {
		return d.certificates.WaitUntilCertificateReady(ctx, constants.CertificatePollInterval)
	})
}

// configureCluster registers the ingress load balancer in the cluster DNS
// record and provisions the object storage buckets the resource asks for.
func (d *Deployer) configureCluster(ctx context.Context, platform *platformv1alpha1.Platform, cluster *configsvc.Cluster) error {
	if err := d.registerIngressDNS(ctx, platform, cluster); err != nil {
		return err
	}
	if bucket := platform.Spec.Monitoring.LogsBucketName; bucket != "" {
		if err := d.buckets.EnsureBucket(ctx, bucket); err != nil {
			return err
		}
	}
	if platform.Spec.ObsCsiDriver != nil && platform.Spec.ObsCsiDriver.Bucket != "" {
		if err := d.buckets.EnsureBucket(ctx, platform.Spec.ObsCsiDriver.Bucket); err != nil {
			return err
		}
	}
	return nil
}

func (d *Deployer) registerIngressDNS(ctx context.Context, platform *platformv1alpha1.Platform, cluster *configsvc.Cluster) error {
	if cluster.DNS == nil || cluster.DNS.Name == "" {
		return nil
	}
	service, err := d.kube.GetService(ctx, d.cfg.PlatformNamespace, d.cfg.IngressServiceName)
	if err != nil {
		return err
	}
	host := kube.LoadBalancerHost(service)
	if host == "" {
		return fmt.Errorf("ingress service %s/%s has no load balancer", d.cfg.PlatformNamespace, d.cfg.IngressServiceName)
	}

	var lb *elbtypes.LoadBalancerDescription
	if d.loadBalancers != nil {
		lb, err = d.loadBalancers.FindLoadBalancerByDNSName(ctx, host)
		if err != nil {
			return err
		}
	}

	zone := cluster.DNS.Name
	names := []string{
		zone + ".",
		"*.apps." + zone + ".",
		"registry." + zone + ".",
		"metrics." + zone + ".",
	}
	records := make([]configsvc.ARecord, 0, len(names))
	for _, recordName := range names {
		record := configsvc.ARecord{Name: recordName}
		if lb != nil {
			record.DNSName = host + "."
			if lb.CanonicalHostedZoneNameID != nil {
				record.HostedZoneID = *lb.CanonicalHostedZoneNameID
			}
		} else {
			record.IPs = []string{host}
		}
		records = append(records, record)
	}

	payload := map[string]any{
		"dns": configsvc.DNSConfig{Name: zone, ARecords: records},
	}
	return d.configService.PatchCluster(ctx, platform.Name, platform.Spec.Token, payload)
}

// Delete tears the platform down: charts are uninstalled in reverse
// install order and the pass waits until their pods are gone. Deletion
// never fails permanently on an unparseable spec; it removes what it can.
func (d *Deployer) Delete(ctx context.Context, platform *platformv1alpha1.Platform, retry int) error {
	name := platform.Name
	logger := d.logger.WithValues("platform", name)

	if retry == 0 {
		if err := d.status.StartDeletion(ctx, name); err != nil {
			return classify(err)
		}
	}

	err := d.withDeployLock(ctx, name, func(ctx context.Context) error {
		releases := []string{constants.ReleaseNamePlatform}
		if d.cfg.ObsCsiDriverChart.Name != "" {
			releases = append(releases, constants.ReleaseNameObsCsiDriver)
		}
		for _, release := range releases {
			if err := d.installer.Delete(ctx, release, helm.DeleteOptions{Wait: true, Timeout: 5 * time.Minute}); err != nil {
				return err
			}
		}

		g, ctx := errgroup.WithContext(ctx)
		for _, release := range releases {
			selector := map[string]string{"app.kubernetes.io/instance": release}
			g.Go(func() error {
				return d.kube.WaitUntilPodsGone(ctx, d.cfg.PlatformNamespace, selector, constants.PodDrainPollInterval)
			})
		}
		return g.Wait()
	})
	if err != nil {
		return classify(err)
	}
	logger.Info("platform deleted")
	return nil
}
