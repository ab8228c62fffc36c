package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clustermesh/platform-operator/internal/constants"
)

func validConfig() *Config {
	return &Config{
		ConsulURL:           "http://consul:8500",
		ConfigServiceURL:    "http://config-service:8080",
		PlatformNamespace:   "platform",
		PlatformChart:       Chart{Name: "platform/platform", Version: "1.2.3"},
		MaxRetries:          3,
		ConfigWatchSchedule: "@every 1m",
		DeployLockTTL:       15 * time.Minute,
		DeployLockTimeout:   10 * time.Minute,
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid",
			mutate: func(*Config) {},
		},
		{
			name:    "missing consul URL",
			mutate:  func(c *Config) { c.ConsulURL = "" },
			wantErr: "consul URL is required",
		},
		{
			name:    "missing config service URL",
			mutate:  func(c *Config) { c.ConfigServiceURL = "" },
			wantErr: "config service URL is required",
		},
		{
			name:    "missing chart version",
			mutate:  func(c *Config) { c.PlatformChart.Version = "" },
			wantErr: "platform chart version is required",
		},
		{
			name:    "zero retries",
			mutate:  func(c *Config) { c.MaxRetries = 0 },
			wantErr: "max retries must be greater than 0",
		},
		{
			name:    "bad cron expression",
			mutate:  func(c *Config) { c.ConfigWatchSchedule = "whenever" },
			wantErr: "invalid config watch schedule",
		},
		{
			name:    "zero lock TTL",
			mutate:  func(c *Config) { c.DeployLockTTL = 0 },
			wantErr: "deploy lock TTL must be greater than 0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.ErrorContains(t, err, tt.wantErr)
			}
		})
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv(constants.EnvConsulURL, "http://consul:8500")
	t.Setenv(constants.EnvConfigServiceURL, "http://config-service:8080")
	t.Setenv(constants.EnvPlatformChart, "platform/platform")
	t.Setenv(constants.EnvPlatformChartVersion, "1.2.3")

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, "platform", cfg.PlatformNamespace)
	assert.Equal(t, constants.IngressServiceName, cfg.IngressServiceName)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, "@every 1m", cfg.ConfigWatchSchedule)
	assert.Equal(t, constants.DeployLockTTL, cfg.DeployLockTTL)
	require.NoError(t, cfg.Validate())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv(constants.EnvConsulURL, "http://consul:8500")
	t.Setenv(constants.EnvConfigServiceURL, "http://config-service:8080")
	t.Setenv(constants.EnvPlatformNamespace, "platform-staging")
	t.Setenv(constants.EnvMaxRetries, "5")
	t.Setenv(constants.EnvConfigWatchSchedule, "*/5 * * * *")
	t.Setenv(constants.EnvAWSRegion, "eu-west-1")

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, "platform-staging", cfg.PlatformNamespace)
	assert.Equal(t, 5, cfg.MaxRetries)
	assert.Equal(t, "*/5 * * * *", cfg.ConfigWatchSchedule)
	assert.Equal(t, "eu-west-1", cfg.AWSRegion)
}

func TestLoadInvalidRetries(t *testing.T) {
	t.Setenv(constants.EnvMaxRetries, "many")

	_, err := Load()

	assert.ErrorContains(t, err, "invalid MAX_RETRIES value")
}
