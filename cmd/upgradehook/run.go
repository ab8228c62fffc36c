// Package upgradehook implements the helm pre- and post-upgrade hook
// entrypoints that bracket operator rollouts and platform chart upgrades
// with the distributed lock.
package upgradehook

import (
	"context"
	"fmt"

	"sigs.k8s.io/controller-runtime/pkg/log/zap"

	"github.com/clustermesh/platform-operator/internal/consul"
	"github.com/clustermesh/platform-operator/internal/hooks"
)

// Run executes one hook phase. Valid phases: pre, post, pre-chart,
// post-chart.
func Run(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("missing hook phase (valid phases: pre, post, pre-chart, post-chart)")
	}
	phase := args[0]

	logger := zap.New(zap.UseDevMode(true)).WithName("upgradehook")

	cfg, err := hooks.LoadHookConfig()
	if err != nil {
		return fmt.Errorf("failed to load hook config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid hook config: %w", err)
	}

	consulClient, err := consul.NewClient(consul.ClientConfig{
		BaseURL: cfg.ConsulURL,
		Logger:  logger.WithName("consul"),
	})
	if err != nil {
		return fmt.Errorf("failed to create coordination store client: %w", err)
	}

	ctx := context.Background()
	hookRunner := hooks.NewHooks(consulClient, logger)

	switch phase {
	case "pre", "post":
		if err := cfg.ValidateOperatorHook(); err != nil {
			return fmt.Errorf("invalid hook config: %w", err)
		}
		if phase == "pre" {
			return hookRunner.StartOperatorDeployment(ctx, cfg.ReleaseRevision)
		}
		return hookRunner.EndOperatorDeployment(ctx, cfg.ReleaseRevision)
	case "pre-chart", "post-chart":
		if err := cfg.ValidateChartHook(); err != nil {
			return fmt.Errorf("invalid hook config: %w", err)
		}
		if phase == "pre-chart" {
			return hookRunner.StartChartUpgrade(ctx, cfg.Namespace, cfg.ReleaseName)
		}
		return hookRunner.EndChartUpgrade(ctx, cfg.Namespace, cfg.ReleaseName)
	default:
		return fmt.Errorf("unknown hook phase %q (valid phases: pre, post, pre-chart, post-chart)", phase)
	}
}
