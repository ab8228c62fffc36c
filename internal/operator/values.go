package operator

import (
	"encoding/json"
	"reflect"
	"strings"

	platformv1alpha1 "github.com/clustermesh/platform-operator/api/v1alpha1"
	"github.com/clustermesh/platform-operator/internal/configsvc"
)

// PlatformValues renders the chart values for the main platform release
// from the resource spec and the cluster record. The result is compared
// against the installed release values to decide whether an upgrade is
// needed, so it must be deterministic.
func PlatformValues(platform *platformv1alpha1.Platform, cluster *configsvc.Cluster) map[string]any {
	spec := platform.Spec

	ingressEnabled := true
	if spec.IngressController.Enabled != nil {
		ingressEnabled = *spec.IngressController.Enabled
	}

	values := map[string]any{
		"clusterName":    platform.Name,
		"serviceToken":   spec.Token,
		"traefikEnabled": ingressEnabled,
		"acme": map[string]any{
			"enabled":     ingressEnabled && spec.IngressController.AcmeEnvironment != "",
			"environment": spec.IngressController.AcmeEnvironment,
		},
	}

	if cluster.DNS != nil {
		values["ingress"] = map[string]any{"host": cluster.DNS.Name}
	}
	if cluster.Credentials != nil && cluster.Credentials.DockerRegistry != nil {
		values["dockerRegistry"] = map[string]any{
			"url":      cluster.Credentials.DockerRegistry.URL,
			"email":    cluster.Credentials.DockerRegistry.Email,
			"username": cluster.Credentials.DockerRegistry.Username,
			"password": cluster.Credentials.DockerRegistry.Password,
		}
	}
	if spec.Monitoring.LogsBucketName != "" {
		values["monitoring"] = map[string]any{
			"logs": map[string]any{
				"bucket": spec.Monitoring.LogsBucketName,
				"region": spec.Monitoring.LogsRegion,
			},
		}
	}
	return values
}

// chartBaseName strips the repository prefix from a chart reference, so
// "platform/platform" becomes "platform". Helm reports installed charts
// as "<base>-<version>".
func chartBaseName(chartRef string) string {
	if i := strings.LastIndex(chartRef, "/"); i >= 0 {
		return chartRef[i+1:]
	}
	return chartRef
}

// equalValues compares two value trees ignoring representation
// differences such as int versus float64, which show up because installed
// values come back through YAML or JSON decoding.
func equalValues(a, b map[string]any) bool {
	return reflect.DeepEqual(normalizeValues(a), normalizeValues(b))
}

func normalizeValues(values map[string]any) any {
	if values == nil {
		values = map[string]any{}
	}
	payload, err := json.Marshal(values)
	if err != nil {
		return values
	}
	var normalized any
	if err := json.Unmarshal(payload, &normalized); err != nil {
		return values
	}
	return normalized
}

// ObsCsiDriverValues renders the chart values for the optional object
// storage CSI driver release.
func ObsCsiDriverValues(platform *platformv1alpha1.Platform) map[string]any {
	if platform.Spec.ObsCsiDriver == nil {
		return nil
	}
	return map[string]any{
		"clusterName": platform.Name,
		"bucket":      platform.Spec.ObsCsiDriver.Bucket,
	}
}
