package hooks

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/clustermesh/platform-operator/internal/constants"
)

// HookConfig carries the environment the helm hook binaries run with.
type HookConfig struct {
	// ConsulURL is the coordination store address.
	ConsulURL string
	// ReleaseRevision is the helm revision of the operator release being
	// rolled out.
	ReleaseRevision int
	// Namespace and ReleaseName identify the platform release bracketed by
	// the chart-upgrade hooks.
	Namespace   string
	ReleaseName string
}

// LoadHookConfig reads the hook configuration from environment variables.
func LoadHookConfig() (*HookConfig, error) {
	cfg := &HookConfig{
		ConsulURL:   strings.TrimSpace(os.Getenv(constants.EnvConsulURL)),
		Namespace:   strings.TrimSpace(os.Getenv(constants.EnvPlatformNamespace)),
		ReleaseName: strings.TrimSpace(os.Getenv(constants.EnvHookPlatformName)),
	}

	if raw := strings.TrimSpace(os.Getenv(constants.EnvHelmReleaseRevision)); raw != "" {
		revision, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid %s %q: %w", constants.EnvHelmReleaseRevision, raw, err)
		}
		cfg.ReleaseRevision = revision
	}

	return cfg, nil
}

// Validate checks the settings every hook phase needs.
func (c *HookConfig) Validate() error {
	if c.ConsulURL == "" {
		return fmt.Errorf("%s is required", constants.EnvConsulURL)
	}
	return nil
}

// ValidateOperatorHook checks the settings the operator deployment hooks
// need on top of Validate.
func (c *HookConfig) ValidateOperatorHook() error {
	if c.ReleaseRevision < 1 {
		return fmt.Errorf("%s must be a positive revision, got %d", constants.EnvHelmReleaseRevision, c.ReleaseRevision)
	}
	return nil
}

// ValidateChartHook checks the settings the chart upgrade hooks need on top
// of Validate.
func (c *HookConfig) ValidateChartHook() error {
	if c.Namespace == "" {
		return fmt.Errorf("%s is required", constants.EnvPlatformNamespace)
	}
	if c.ReleaseName == "" {
		return fmt.Errorf("%s is required", constants.EnvHookPlatformName)
	}
	return nil
}
