package operator

import (
	"context"
	"errors"
	"fmt"

	"github.com/robfig/cron/v3"

	platformv1alpha1 "github.com/clustermesh/platform-operator/api/v1alpha1"
	"github.com/clustermesh/platform-operator/internal/configsvc"
	"github.com/clustermesh/platform-operator/internal/constants"
)

// PlatformGetter returns the current Platform resource for a watch pass.
type PlatformGetter func(ctx context.Context) (*platformv1alpha1.Platform, error)

// WatchConfig periodically re-reads the cluster record and redeploys the
// platform when it drifted. Ticks follow the configured cron schedule and
// each pass runs under the distributed deploy lock. Pass failures are
// logged and the loop keeps going; only context cancellation stops it.
func (d *Deployer) WatchConfig(ctx context.Context, getPlatform PlatformGetter) error {
	schedule, err := cron.ParseStandard(d.cfg.ConfigWatchSchedule)
	if err != nil {
		return fmt.Errorf("parsing config watch schedule %q: %w", d.cfg.ConfigWatchSchedule, err)
	}
	d.logger.Info("started watching platform config", "schedule", d.cfg.ConfigWatchSchedule)

	for {
		now := d.clock.Now()
		timer := d.clock.NewTimer(schedule.Next(now).Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			d.logger.Info("stopped watching platform config")
			return ctx.Err()
		case <-timer.C():
		}

		platform, err := getPlatform(ctx)
		if err != nil {
			d.logger.Error(err, "watch pass could not load platform resource")
			continue
		}
		if err := d.updatePass(ctx, platform); err != nil {
			if errors.Is(err, context.Canceled) {
				continue
			}
			d.logger.Error(err, "watch pass failed", "platform", platform.Name)
		}
	}
}

// updatePass runs one config reconciliation pass. The platform status only
// changes when an update was actually required, and the config service is
// notified around the work so operators can follow along. A pass that finds
// nothing to update sends no notifications at all; updating events are only
// reported for passes that mutate the cluster.
func (d *Deployer) updatePass(ctx context.Context, platform *platformv1alpha1.Platform) error {
	name := platform.Name

	phase, err := d.status.GetPhase(ctx, name)
	if err != nil {
		return err
	}
	switch phase {
	case platformv1alpha1.PlatformPhasePending:
		d.logger.V(1).Info("platform has not been installed yet, nothing to update", "platform", name)
		configWatchPassesTotal.WithLabelValues(name, resultSkipped).Inc()
		return nil
	case platformv1alpha1.PlatformPhaseDeploying, platformv1alpha1.PlatformPhaseDeleting:
		d.logger.V(1).Info("cannot update platform in its current phase", "platform", name, "phase", phase)
		configWatchPassesTotal.WithLabelValues(name, resultSkipped).Inc()
		return nil
	}

	err = d.withDeployLock(ctx, name, func(ctx context.Context) error {
		return d.update(ctx, platform, phase)
	})
	switch {
	case errors.Is(err, errUpToDate):
		configWatchPassesTotal.WithLabelValues(name, resultSkipped).Inc()
		return nil
	case err != nil:
		configWatchPassesTotal.WithLabelValues(name, resultFailed).Inc()
		return err
	}
	configWatchPassesTotal.WithLabelValues(name, resultSucceeded).Inc()
	return nil
}

func (d *Deployer) update(ctx context.Context, platform *platformv1alpha1.Platform, phase platformv1alpha1.PlatformPhase) error {
	name := platform.Name
	token := platform.Spec.Token

	cluster, err := d.configService.GetCluster(ctx, name, token)
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
		return fmt.Errorf("platform helm release failed, skipping update")
	}

	values := PlatformValues(platform, cluster)
	required, err := d.upgradeRequired(ctx, constants.ReleaseNamePlatform, d.cfg.PlatformChart, values, false)
	if err != nil {
		return err
	}
	if phase == platformv1alpha1.PlatformPhaseDeployed && !required {
		return errUpToDate
	}

	d.notify(ctx, name, token, configsvc.NotificationClusterUpdating)
	if err := d.status.StartDeployment(ctx, name, 0); err != nil {
		return err
	}

	workErr := func() error {
		if required {
			if err := d.upgradePlatformRelease(ctx, platform, cluster, values); err != nil {
				return err
			}
		}
		if err := d.configureCluster(ctx, platform, cluster); err != nil {
			return err
		}
		return d.status.CompleteDeployment(ctx, name)
	}()
	if workErr != nil {
		if err := d.status.FailDeployment(ctx, name, false); err != nil {
			d.logger.Error(err, "failed to record failed deployment", "platform", name)
		}
		d.notify(ctx, name, token, configsvc.NotificationClusterUpdateFailed)
		return workErr
	}

	d.notify(ctx, name, token, configsvc.NotificationClusterUpdateSucceeded)
	return nil
}

// notify reports a lifecycle event, logging instead of failing the pass
// when the config service is unreachable.
func (d *Deployer) notify(ctx context.Context, name, token string, notificationType configsvc.NotificationType) {
	if err := d.configService.SendNotification(ctx, name, token, notificationType); err != nil {
		d.logger.Error(err, "failed to send notification", "platform", name, "type", notificationType)
	}
}
