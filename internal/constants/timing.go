package constants

import "time"

// Lock and wait intervals used by the orchestrator and hooks.
const (
	DeployLockTTL     = 15 * time.Minute
	DeployLockTimeout = 10 * time.Minute

	OperatorLockTTL          = 10 * time.Minute
	OperatorLockPollInterval = 5 * time.Second
	OperatorLockTimeout      = 30 * time.Minute

	ChartUpgradeLockTTL          = 15 * time.Minute
	ChartUpgradeLockPollInterval = 5 * time.Second
	ChartUpgradeLockTimeout      = 10 * time.Minute

	ConsulHealthTimeout  = 10 * time.Second
	ConsulHealthInterval = time.Second

	CertificatePollInterval = 5 * time.Second
	PodDrainPollInterval    = 5 * time.Second
)
