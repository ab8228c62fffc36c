package constants

// Environment variable keys shared between the controller and the helm
// hook binaries.
const (
	// Coordination store and config service endpoints
	EnvConsulURL        = "CONSUL_URL"
	EnvConfigServiceURL = "CONFIG_SERVICE_URL"

	// Platform installation
	EnvPlatformNamespace        = "PLATFORM_NAMESPACE"
	EnvPlatformChart            = "PLATFORM_CHART"
	EnvPlatformChartVersion     = "PLATFORM_CHART_VERSION"
	EnvObsCsiDriverChart        = "OBS_CSI_DRIVER_CHART"
	EnvObsCsiDriverChartVersion = "OBS_CSI_DRIVER_CHART_VERSION"
	EnvKubeContext              = "KUBE_CONTEXT"
	EnvIngressServiceName       = "INGRESS_SERVICE_NAME"
	EnvServiceAccountName       = "SERVICE_ACCOUNT_NAME"
	EnvImagePullSecretName      = "IMAGE_PULL_SECRET_NAME"
	EnvMaxRetries               = "MAX_RETRIES"
	EnvConfigWatchSchedule      = "CONFIG_WATCH_SCHEDULE"
	EnvCertificateHostSuffix    = "CERTIFICATE_HOST_SUFFIX"

	// AWS account used for load balancer lookup and bucket provisioning
	EnvAWSRegion          = "AWS_REGION"
	EnvAWSEndpoint        = "AWS_ENDPOINT"
	EnvAWSAccessKeyID     = "AWS_ACCESS_KEY_ID"
	EnvAWSSecretAccessKey = "AWS_SECRET_ACCESS_KEY" // #nosec G101 -- env key name, not a credential

	// Helm hook context
	EnvHelmReleaseRevision = "HELM_RELEASE_REVISION"
	EnvHookPlatformName    = "HOOK_PLATFORM_NAME"
)
