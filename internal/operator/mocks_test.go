package operator

import (
	"context"
	"time"

	elbtypes "github.com/aws/aws-sdk-go-v2/service/elasticloadbalancing/types"
	corev1 "k8s.io/api/core/v1"

	platformv1alpha1 "github.com/clustermesh/platform-operator/api/v1alpha1"
	"github.com/clustermesh/platform-operator/internal/configsvc"
	"github.com/clustermesh/platform-operator/internal/consul"
	"github.com/clustermesh/platform-operator/internal/helm"
)

// mockStatus tracks lifecycle calls in memory.
type mockStatus struct {
	phase     platformv1alpha1.PlatformPhase
	retries   int
	satisfied map[platformv1alpha1.PlatformConditionType]bool

	startCalls    int
	completeCalls int
	deletionCalls int
	failCalls     []bool
	transitions   []platformv1alpha1.PlatformConditionType

	transitionErrs map[platformv1alpha1.PlatformConditionType]error
}

func newMockStatus() *mockStatus {
	return &mockStatus{
		phase:     platformv1alpha1.PlatformPhasePending,
		satisfied: map[platformv1alpha1.PlatformConditionType]bool{},
	}
}

func (m *mockStatus) StartDeployment(_ context.Context, _ string, retry int) error {
	m.startCalls++
	// Mirrors status.Manager: a fresh attempt resets conditions and retries,
	// resuming an interrupted Deploying run keeps them.
	if m.phase != platformv1alpha1.PlatformPhaseDeploying {
		m.satisfied = map[platformv1alpha1.PlatformConditionType]bool{}
		retry = 0
	}
	m.retries = retry
	m.phase = platformv1alpha1.PlatformPhaseDeploying
	return nil
}

func (m *mockStatus) StartDeletion(context.Context, string) error {
	m.deletionCalls++
	m.phase = platformv1alpha1.PlatformPhaseDeleting
	return nil
}

func (m *mockStatus) CompleteDeployment(context.Context, string) error {
	m.completeCalls++
	m.phase = platformv1alpha1.PlatformPhaseDeployed
	return nil
}

func (m *mockStatus) FailDeployment(_ context.Context, _ string, removeConditions bool) error {
	m.failCalls = append(m.failCalls, removeConditions)
	m.phase = platformv1alpha1.PlatformPhaseFailed
	if removeConditions {
		m.satisfied = map[platformv1alpha1.PlatformConditionType]bool{}
	}
	return nil
}

func (m *mockStatus) Transition(ctx context.Context, _ string, condType platformv1alpha1.PlatformConditionType, fn func(ctx context.Context) error) error {
	m.transitions = append(m.transitions, condType)
	m.satisfied[condType] = false
	if err := m.transitionErrs[condType]; err != nil {
		return err
	}
	if err := fn(ctx); err != nil {
		return err
	}
	m.satisfied[condType] = true
	return nil
}

func (m *mockStatus) IsConditionSatisfied(_ context.Context, _ string, condType platformv1alpha1.PlatformConditionType) (bool, error) {
	return m.satisfied[condType], nil
}

func (m *mockStatus) GetPhase(context.Context, string) (platformv1alpha1.PlatformPhase, error) {
	return m.phase, nil
}

// mockInstaller serves canned releases and records mutations.
type mockInstaller struct {
	releases map[string]*helm.Release
	values   map[string]map[string]any

	getErr     error
	upgradeErr error
	deleteErr  error

	repos    []helm.Repo
	upgrades []string
	deletes  []string
}

func newMockInstaller() *mockInstaller {
	return &mockInstaller{
		releases: map[string]*helm.Release{},
		values:   map[string]map[string]any{},
	}
}

func (m *mockInstaller) AddRepo(_ context.Context, repo helm.Repo) error {
	m.repos = append(m.repos, repo)
	return nil
}

func (m *mockInstaller) GetRelease(_ context.Context, releaseName string) (*helm.Release, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	return m.releases[releaseName], nil
}

func (m *mockInstaller) GetReleaseValues(_ context.Context, releaseName string) (map[string]any, error) {
	return m.values[releaseName], nil
}

func (m *mockInstaller) Upgrade(_ context.Context, releaseName, chartName string, opts helm.UpgradeOptions) error {
	if m.upgradeErr != nil {
		return m.upgradeErr
	}
	m.upgrades = append(m.upgrades, releaseName)
	m.releases[releaseName] = &helm.Release{
		Name:   releaseName,
		Chart:  chartBaseName(chartName) + "-" + opts.Version,
		Status: helm.StatusDeployed,
	}
	m.values[releaseName] = opts.Values
	return nil
}

func (m *mockInstaller) Delete(_ context.Context, releaseName string, _ helm.DeleteOptions) error {
	if m.deleteErr != nil {
		return m.deleteErr
	}
	m.deletes = append(m.deletes, releaseName)
	delete(m.releases, releaseName)
	return nil
}

// mockConfigService serves one cluster record and records interactions.
type mockConfigService struct {
	cluster *configsvc.Cluster
	getErr  error

	patches       []any
	notifications []configsvc.NotificationType
}

func (m *mockConfigService) GetCluster(context.Context, string, string) (*configsvc.Cluster, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	return m.cluster, nil
}

func (m *mockConfigService) PatchCluster(_ context.Context, _, _ string, payload any) error {
	m.patches = append(m.patches, payload)
	return nil
}

func (m *mockConfigService) SendNotification(_ context.Context, _, _ string, notificationType configsvc.NotificationType) error {
	m.notifications = append(m.notifications, notificationType)
	return nil
}

// mockKube serves a fixed ingress service.
type mockKube struct {
	service *corev1.Service

	serviceAccountUpdates int
	podWaits              []map[string]string
}

func (m *mockKube) GetService(context.Context, string, string) (*corev1.Service, error) {
	return m.service, nil
}

func (m *mockKube) UpdateServiceAccount(context.Context, string, string, map[string]string, []string) error {
	m.serviceAccountUpdates++
	return nil
}

func (m *mockKube) WaitUntilPodsGone(_ context.Context, _ string, selector map[string]string, _ time.Duration) error {
	m.podWaits = append(m.podWaits, selector)
	return nil
}

// mockLocker runs the critical section inline.
type mockLocker struct {
	acquisitions int
	lockErr      error
	healthErr    error
}

func (m *mockLocker) WithLock(ctx context.Context, _ string, _ []byte, _ consul.LockOptions, fn func(ctx context.Context) error) error {
	if m.lockErr != nil {
		return m.lockErr
	}
	m.acquisitions++
	return fn(ctx)
}

func (m *mockLocker) WaitHealthy(context.Context, time.Duration) error {
	return m.healthErr
}

type mockCertStore struct {
	waits   int
	waitErr error
}

func (m *mockCertStore) WaitUntilCertificateReady(context.Context, time.Duration) error {
	m.waits++
	return m.waitErr
}

type mockLoadBalancers struct {
	lb  *elbtypes.LoadBalancerDescription
	err error
}

func (m *mockLoadBalancers) FindLoadBalancerByDNSName(context.Context, string) (*elbtypes.LoadBalancerDescription, error) {
	return m.lb, m.err
}

type mockBuckets struct {
	ensured []string
	err     error
}

func (m *mockBuckets) EnsureBucket(_ context.Context, name string) error {
	if m.err != nil {
		return m.err
	}
	m.ensured = append(m.ensured, name)
	return nil
}
