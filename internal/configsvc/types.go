package configsvc

// NotificationType identifies a cluster lifecycle event reported to the
// config service.
type NotificationType string

const (
	NotificationClusterUpdating        NotificationType = "cluster_updating"
	NotificationClusterUpdateSucceeded NotificationType = "cluster_update_succeeded"
	NotificationClusterUpdateFailed    NotificationType = "cluster_update_failed"
)

// RepoCredentials grant access to a protected chart or image repository.
type RepoCredentials struct {
	URL      string `json:"url"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

// RegistryCredentials grant access to the platform docker registry.
type RegistryCredentials struct {
	URL      string `json:"url"`
	Email    string `json:"email,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

// Credentials bundles the external credentials issued to a cluster.
type Credentials struct {
	HelmRepo       *RepoCredentials     `json:"helm_repo,omitempty"`
	DockerRegistry *RegistryCredentials `json:"docker_registry,omitempty"`
}

// ARecord is a single DNS A record registered for the cluster.
type ARecord struct {
	Name string   `json:"name"`
	IPs  []string `json:"ips,omitempty"`

	// DNSName points the record at a load balancer by alias instead of
	// fixed addresses.
	DNSName      string `json:"dns_name,omitempty"`
	HostedZoneID string `json:"zone_id,omitempty"`
}

// DNSConfig is the DNS zone registered for the cluster.
type DNSConfig struct {
	Name     string    `json:"name"`
	ARecords []ARecord `json:"a_records,omitempty"`
}

// IngressConfig carries the ingress settings the config service tracks for
// a cluster.
type IngressConfig struct {
	ACMEEnvironment string `json:"acme_environment,omitempty"`
}

// Cluster is the config service's record of a cluster.
type Cluster struct {
	Name        string         `json:"name"`
	DNS         *DNSConfig     `json:"dns,omitempty"`
	Ingress     *IngressConfig `json:"ingress,omitempty"`
	Credentials *Credentials   `json:"credentials,omitempty"`
}
