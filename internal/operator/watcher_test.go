package operator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	platformv1alpha1 "github.com/clustermesh/platform-operator/api/v1alpha1"
	"github.com/clustermesh/platform-operator/internal/configsvc"
	"github.com/clustermesh/platform-operator/internal/constants"
	"github.com/clustermesh/platform-operator/internal/helm"
)

func TestUpdatePassSkipsPendingPlatform(t *testing.T) {
	f := newDeployerFixture(t)

	err := f.deployer.updatePass(context.Background(), testPlatform())

	require.NoError(t, err)
	assert.Zero(t, f.locker.acquisitions)
	assert.Empty(t, f.configService.notifications)
}

func TestUpdatePassSkipsDeployingAndDeleting(t *testing.T) {
	for _, phase := range []platformv1alpha1.PlatformPhase{
		platformv1alpha1.PlatformPhaseDeploying,
		platformv1alpha1.PlatformPhaseDeleting,
	} {
		f := newDeployerFixture(t)
		f.status.phase = phase

		require.NoError(t, f.deployer.updatePass(context.Background(), testPlatform()))
		assert.Zero(t, f.locker.acquisitions)
	}
}

func TestUpdatePassNoChangeLeavesStatusAlone(t *testing.T) {
	f := newDeployerFixture(t)
	platform := testPlatform()
	require.NoError(t, f.deployer.Deploy(context.Background(), platform, 0))
	startCalls := f.status.startCalls

	err := f.deployer.updatePass(context.Background(), platform)

	require.NoError(t, err)
	assert.Equal(t, startCalls, f.status.startCalls)
	assert.Empty(t, f.configService.notifications)
	assert.Equal(t, platformv1alpha1.PlatformPhaseDeployed, f.status.phase)
}

func TestUpdatePassRedeploysOnDrift(t *testing.T) {
	f := newDeployerFixture(t)
	platform := testPlatform()
	require.NoError(t, f.deployer.Deploy(context.Background(), platform, 0))
	upgrades := len(f.installer.upgrades)

	// Cluster record drifts: new DNS zone means new chart values.
	f.configService.cluster.DNS.Name = "test-cluster.example.org"

	err := f.deployer.updatePass(context.Background(), platform)

	require.NoError(t, err)
	assert.Greater(t, len(f.installer.upgrades), upgrades)
	assert.Equal(t, []configsvc.NotificationType{
		configsvc.NotificationClusterUpdating,
		configsvc.NotificationClusterUpdateSucceeded,
	}, f.configService.notifications)
	assert.Equal(t, platformv1alpha1.PlatformPhaseDeployed, f.status.phase)
}

func TestUpdatePassFailureNotifiesAndFails(t *testing.T) {
	f := newDeployerFixture(t)
	platform := testPlatform()
	require.NoError(t, f.deployer.Deploy(context.Background(), platform, 0))

	f.configService.cluster.DNS.Name = "test-cluster.example.org"
	f.installer.upgradeErr = assert.AnError

	err := f.deployer.updatePass(context.Background(), platform)

	require.Error(t, err)
	assert.Equal(t, []configsvc.NotificationType{
		configsvc.NotificationClusterUpdating,
		configsvc.NotificationClusterUpdateFailed,
	}, f.configService.notifications)
	assert.Equal(t, platformv1alpha1.PlatformPhaseFailed, f.status.phase)
}

func TestUpdatePassFailedReleaseMarksFailure(t *testing.T) {
	f := newDeployerFixture(t)
	platform := testPlatform()
	require.NoError(t, f.deployer.Deploy(context.Background(), platform, 0))

	f.installer.releases[constants.ReleaseNamePlatform].Status = helm.StatusFailed

	err := f.deployer.updatePass(context.Background(), platform)

	require.Error(t, err)
	assert.Equal(t, platformv1alpha1.PlatformPhaseFailed, f.status.phase)
	assert.Empty(t, f.configService.notifications)
}

func TestWatchConfigStopsOnContextCancel(t *testing.T) {
	f := newDeployerFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := f.deployer.WatchConfig(ctx, func(context.Context) (*platformv1alpha1.Platform, error) {
		return testPlatform(), nil
	})

	assert.ErrorIs(t, err, context.Canceled)
}

func TestWatchConfigRejectsBadSchedule(t *testing.T) {
	f := newDeployerFixture(t)
	f.deployer.cfg.ConfigWatchSchedule = "whenever"

	err := f.deployer.WatchConfig(context.Background(), func(context.Context) (*platformv1alpha1.Platform, error) {
		return testPlatform(), nil
	})

	assert.ErrorContains(t, err, "parsing config watch schedule")
}
