// Package config loads the operator configuration from environment
// variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/clustermesh/platform-operator/internal/constants"
)

// Chart identifies a helm chart by repository reference and version.
type Chart struct {
	Name    string
	Version string
}

// Config holds the operator configuration.
type Config struct {
	ConsulURL        string
	ConfigServiceURL string

	PlatformNamespace string
	KubeContext       string

	PlatformChart     Chart
	ObsCsiDriverChart Chart

	IngressServiceName  string
	ServiceAccountName  string
	ImagePullSecretName string

	// MaxRetries bounds how often a failed deployment is retried before
	// it is declared permanently failed.
	MaxRetries int

	// ConfigWatchSchedule is a cron expression for the periodic cluster
	// config reconciliation pass.
	ConfigWatchSchedule string

	AWSRegion          string
	AWSEndpoint        string
	AWSAccessKeyID     string
	AWSSecretAccessKey string

	DeployLockTTL     time.Duration
	DeployLockTimeout time.Duration
}

// Validate checks that the configuration is complete and consistent.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.ConsulURL) == "" {
		return fmt.Errorf("consul URL is required")
	}
	if strings.TrimSpace(c.ConfigServiceURL) == "" {
		return fmt.Errorf("config service URL is required")
	}
	if strings.TrimSpace(c.PlatformNamespace) == "" {
		return fmt.Errorf("platform namespace is required")
	}
	if strings.TrimSpace(c.PlatformChart.Name) == "" {
		return fmt.Errorf("platform chart is required")
	}
	if strings.TrimSpace(c.PlatformChart.Version) == "" {
		return fmt.Errorf("platform chart version is required")
	}
	if c.MaxRetries <= 0 {
		return fmt.Errorf("max retries must be greater than 0")
	}
	if _, err := cron.ParseStandard(c.ConfigWatchSchedule); err != nil {
		return fmt.Errorf("invalid config watch schedule %q: %w", c.ConfigWatchSchedule, err)
	}
	if c.DeployLockTTL <= 0 {
		return fmt.Errorf("deploy lock TTL must be greater than 0")
	}
	if c.DeployLockTimeout <= 0 {
		return fmt.Errorf("deploy lock timeout must be greater than 0")
	}
	return nil
}

// Load reads the configuration from environment variables and applies
// defaults. The result is not validated; callers run Validate after
// overriding any settings.
func Load() (*Config, error) {
	cfg := &Config{
		PlatformNamespace:   "platform",
		IngressServiceName:  constants.IngressServiceName,
		ServiceAccountName:  constants.DefaultServiceAccountName,
		MaxRetries:          3,
		ConfigWatchSchedule: "@every 1m",
		DeployLockTTL:       constants.DeployLockTTL,
		DeployLockTimeout:   constants.DeployLockTimeout,
	}

	cfg.ConsulURL = strings.TrimSpace(os.Getenv(constants.EnvConsulURL))
	cfg.ConfigServiceURL = strings.TrimSpace(os.Getenv(constants.EnvConfigServiceURL))
	if v := strings.TrimSpace(os.Getenv(constants.EnvPlatformNamespace)); v != "" {
		cfg.PlatformNamespace = v
	}
	cfg.KubeContext = strings.TrimSpace(os.Getenv(constants.EnvKubeContext))

	cfg.PlatformChart.Name = strings.TrimSpace(os.Getenv(constants.EnvPlatformChart))
	cfg.PlatformChart.Version = strings.TrimSpace(os.Getenv(constants.EnvPlatformChartVersion))
	cfg.ObsCsiDriverChart.Name = strings.TrimSpace(os.Getenv(constants.EnvObsCsiDriverChart))
	cfg.ObsCsiDriverChart.Version = strings.TrimSpace(os.Getenv(constants.EnvObsCsiDriverChartVersion))

	if v := strings.TrimSpace(os.Getenv(constants.EnvIngressServiceName)); v != "" {
		cfg.IngressServiceName = v
	}
	if v := strings.TrimSpace(os.Getenv(constants.EnvServiceAccountName)); v != "" {
		cfg.ServiceAccountName = v
	}
	cfg.ImagePullSecretName = strings.TrimSpace(os.Getenv(constants.EnvImagePullSecretName))

	if v := strings.TrimSpace(os.Getenv(constants.EnvMaxRetries)); v != "" {
		retries, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid %s value %q: %w", constants.EnvMaxRetries, v, err)
		}
		cfg.MaxRetries = retries
	}
	if v := strings.TrimSpace(os.Getenv(constants.EnvConfigWatchSchedule)); v != "" {
		cfg.ConfigWatchSchedule = v
	}

	cfg.AWSRegion = strings.TrimSpace(os.Getenv(constants.EnvAWSRegion))
	cfg.AWSEndpoint = strings.TrimSpace(os.Getenv(constants.EnvAWSEndpoint))
	cfg.AWSAccessKeyID = strings.TrimSpace(os.Getenv(constants.EnvAWSAccessKeyID))
	cfg.AWSSecretAccessKey = strings.TrimSpace(os.Getenv(constants.EnvAWSSecretAccessKey))

	return cfg, nil
}
