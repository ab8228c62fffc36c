package constants

// Coordination store keys and lock values.
const (
	// LockKeyDeploy serializes platform deploys and deletes across
	// controller replicas.
	LockKeyDeploy = "platform-deploy"

	// LockKeyOperator is held for the duration of an operator chart
	// upgrade so the outgoing and incoming revisions never reconcile
	// concurrently.
	LockKeyOperator = "platform"

	// LockValueOperatorPrefix prefixes the revision-scoped value stored
	// under LockKeyOperator.
	LockValueOperatorPrefix = "platform-operator-"

	// LockKeyChartUpgrade brackets externally triggered chart upgrades so
	// they cannot race the orchestrator's own mutations.
	LockKeyChartUpgrade = "helm"
)

// Helm release names.
const (
	ReleaseNamePlatform     = "platform"
	ReleaseNameObsCsiDriver = "platform-obs-csi-driver"
)

// Well-known in-cluster resource names.
const (
	IngressServiceName        = "traefik"
	DefaultServiceAccountName = "default"
)
