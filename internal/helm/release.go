package helm

import (
	"encoding/json"
	"fmt"
)

// ReleaseStatus is the lifecycle state helm reports for a release.
type ReleaseStatus string

const (
	StatusUnknown         ReleaseStatus = "unknown"
	StatusDeployed        ReleaseStatus = "deployed"
	StatusUninstalled     ReleaseStatus = "uninstalled"
	StatusSuperseded      ReleaseStatus = "superseded"
	StatusFailed          ReleaseStatus = "failed"
	StatusUninstalling    ReleaseStatus = "uninstalling"
	StatusPendingInstall  ReleaseStatus = "pending-install"
	StatusPendingUpgrade  ReleaseStatus = "pending-upgrade"
	StatusPendingRollback ReleaseStatus = "pending-rollback"
)

// Release describes an installed chart as reported by helm list.
type Release struct {
	Name      string        `json:"name"`
	Namespace string        `json:"namespace"`
	Chart     string        `json:"chart"`
	Status    ReleaseStatus `json:"status"`
}

// parseReleaseList decodes the JSON array printed by helm list.
func parseReleaseList(payload []byte) ([]Release, error) {
	var releases []Release
	if err := json.Unmarshal(payload, &releases); err != nil {
		return nil, fmt.Errorf("parsing helm release list: %w", err)
	}
	return releases, nil
}
