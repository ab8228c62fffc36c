/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package v1alpha1

import (
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// PlatformFinalizer ensures teardown logic runs before a Platform is fully
// deleted.
const PlatformFinalizer = "platform.clustermesh.io/platform-finalizer"

// PlatformPhase is a high-level summary of the platform deployment state.
// +kubebuilder:validation:Enum=Pending;Deploying;Deployed;Deleting;Failed
type PlatformPhase string

const (
	PlatformPhasePending   PlatformPhase = "Pending"
	PlatformPhaseDeploying PlatformPhase = "Deploying"
	PlatformPhaseDeployed  PlatformPhase = "Deployed"
	PlatformPhaseDeleting  PlatformPhase = "Deleting"
	PlatformPhaseFailed    PlatformPhase = "Failed"
)

// PlatformConditionType identifies one durable step of a platform deployment.
// This type is kept as a strong string alias to avoid stringly-typed code.
type PlatformConditionType string

const (
	// ConditionObsCsiDriverDeployed tracks the optional object-storage CSI
	// driver chart installation.
	ConditionObsCsiDriverDeployed PlatformConditionType = "ObsCsiDriverDeployed"
	// ConditionPlatformDeployed tracks the main platform chart installation.
	ConditionPlatformDeployed PlatformConditionType = "PlatformDeployed"
	// ConditionCertificateCreated tracks ingress certificate availability.
	ConditionCertificateCreated PlatformConditionType = "CertificateCreated"
	// ConditionClusterConfigured tracks DNS and cluster registration in the
	// configuration service.
	ConditionClusterConfigured PlatformConditionType = "ClusterConfigured"
)

// ConditionTypeOrder fixes the serialization order of conditions in the
// status document.
var ConditionTypeOrder = []PlatformConditionType{
	ConditionObsCsiDriverDeployed,
	ConditionPlatformDeployed,
	ConditionCertificateCreated,
	ConditionClusterConfigured,
}

// PlatformCondition records the progress of one deployment step.
type PlatformCondition struct {
	// Type identifies the deployment step.
	Type PlatformConditionType `json:"type"`
	// Status is True once the step has completed, False while it is in
	// progress or has failed, Unknown when a timeout left the outcome
	// undetermined.
	Status corev1.ConditionStatus `json:"status"`
	// LastTransitionTime is the time of the last status change.
	// +optional
	LastTransitionTime *metav1.Time `json:"lastTransitionTime,omitempty"`
}

// PlatformStatus is the externally visible deployment state of a Platform.
type PlatformStatus struct {
	// Phase summarizes the deployment lifecycle.
	// +optional
	Phase PlatformPhase `json:"phase,omitempty"`
	// Retries is the retry count of the current deployment attempt.
	// +optional
	Retries int `json:"retries"`
	// Conditions holds at most one entry per condition type.
	// +optional
	Conditions []PlatformCondition `json:"conditions,omitempty"`
}

// MonitoringSpec configures platform log storage.
type MonitoringSpec struct {
	// LogsBucketName is the object-storage bucket receiving platform logs.
	// Empty disables bucket provisioning.
	// +optional
	LogsBucketName string `json:"logsBucketName,omitempty"`
	// LogsRegion overrides the bucket region.
	// +optional
	LogsRegion string `json:"logsRegion,omitempty"`
}

// IngressControllerSpec configures the platform ingress controller.
type IngressControllerSpec struct {
	// Enabled installs the bundled ingress controller.
	// +optional
	Enabled *bool `json:"enabled,omitempty"`
	// AcmeEnvironment selects the ACME environment issuing ingress
	// certificates. Empty disables managed certificates.
	// +optional
	AcmeEnvironment string `json:"acmeEnvironment,omitempty"`
}

// ObsCsiDriverSpec configures the optional object-storage CSI driver.
type ObsCsiDriverSpec struct {
	// Bucket is the bucket mounted by the driver.
	Bucket string `json:"bucket"`
}

// PlatformSpec is the desired state of a platform deployment. Cluster-wide
// settings (chart versions, registry endpoints) come from the operator
// configuration and the cluster configuration service, not from this spec.
type PlatformSpec struct {
	// Token authenticates the operator against the cluster configuration
	// service on behalf of this platform.
	Token string `json:"token"`
	// IngressController configures the ingress controller component.
	// +optional
	IngressController IngressControllerSpec `json:"ingressController,omitempty"`
	// ObsCsiDriver enables the object-storage CSI driver component.
	// +optional
	ObsCsiDriver *ObsCsiDriverSpec `json:"obsCsiDriver,omitempty"`
	// Monitoring configures log storage.
	// +optional
	Monitoring MonitoringSpec `json:"monitoring,omitempty"`
}

// +kubebuilder:object:root=true
// +kubebuilder:subresource:status
// +kubebuilder:printcolumn:name="Phase",type="string",JSONPath=".status.phase"
// +kubebuilder:printcolumn:name="Age",type="date",JSONPath=".metadata.creationTimestamp"

// Platform is the Schema for the platforms API.
type Platform struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec   PlatformSpec   `json:"spec,omitempty"`
	Status PlatformStatus `json:"status,omitempty"`
}

// +kubebuilder:object:root=true

// PlatformList contains a list of Platform.
type PlatformList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`
	Items           []Platform `json:"items"`
}

func init() {
	SchemeBuilder.Register(&Platform{}, &PlatformList{})
}
