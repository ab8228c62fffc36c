// Package kube wraps the controller-runtime client with the cluster admin
// operations the platform operator needs: service and secret lookups, service
// account patching, pod drain waits, and Platform status persistence.
package kube

import (
	"context"
	"fmt"
	"time"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/utils/clock"
	"sigs.k8s.io/controller-runtime/pkg/client"

	platformv1alpha1 "github.com/clustermesh/platform-operator/api/v1alpha1"
)

// DefaultPodDrainInterval is the default interval between pod drain checks.
const DefaultPodDrainInterval = 5 * time.Second

// Client provides the cluster admin operations used by the orchestrator and
// the status manager.
type Client struct {
	c     client.Client
	clock clock.Clock
}

// NewClient creates a Client on top of a controller-runtime client.
func NewClient(c client.Client) *Client {
	return &Client{c: c, clock: clock.RealClock{}}
}

// NewClientWithClock creates a Client with an injected clock, for tests that
// must not sleep in real time.
func NewClientWithClock(c client.Client, clk clock.Clock) *Client {
	return &Client{c: c, clock: clk}
}

// GetService returns the named Service.
func (c *Client) GetService(ctx context.Context, namespace, name string) (*corev1.Service, error) {
	svc := &corev1.Service{}
	if err := c.c.Get(ctx, types.NamespacedName{Namespace: namespace, Name: name}, svc); err != nil {
		return nil, fmt.Errorf("failed to get service %s/%s: %w", namespace, name, err)
	}
	return svc, nil
}

// LoadBalancerHost returns the hostname of the service's first load balancer
// ingress entry, or an empty string when none has been provisioned yet.
func LoadBalancerHost(svc *corev1.Service) string {
	for _, ingress := range svc.Status.LoadBalancer.Ingress {
		if ingress.Hostname != "" {
			return ingress.Hostname
		}
		if ingress.IP != "" {
			return ingress.IP
		}
	}
	return ""
}

// GetSecret returns the named Secret.
func (c *Client) GetSecret(ctx context.Context, namespace, name string) (*corev1.Secret, error) {
	secret := &corev1.Secret{}
	if err := c.c.Get(ctx, types.NamespacedName{Namespace: namespace, Name: name}, secret); err != nil {
		return nil, fmt.Errorf("failed to get secret %s/%s: %w", namespace, name, err)
	}
	return secret, nil
}

// UpdateServiceAccount patches the named ServiceAccount with the given
// annotations and image pull secrets.
func (c *Client) UpdateServiceAccount(ctx context.Context, namespace, name string, annotations map[string]string, imagePullSecrets []string) error {
	sa := &corev1.ServiceAccount{}
	if err := c.c.Get(ctx, types.NamespacedName{Namespace: namespace, Name: name}, sa); err != nil {
		return fmt.Errorf("failed to get service account %s/%s: %w", namespace, name, err)
	}

	original := sa.DeepCopy()
	if len(annotations) > 0 {
		if sa.Annotations == nil {
			sa.Annotations = map[string]string{}
		}
		for k, v := range annotations {
			sa.Annotations[k] = v
		}
	}
	sa.ImagePullSecrets = nil
	for _, secretName := range imagePullSecrets {
		sa.ImagePullSecrets = append(sa.ImagePullSecrets, corev1.LocalObjectReference{Name: secretName})
	}

	if err := c.c.Patch(ctx, sa, client.MergeFrom(original)); err != nil {
		return fmt.Errorf("failed to patch service account %s/%s: %w", namespace, name, err)
	}
	return nil
}

// GetPods lists the pods in namespace matching the label selector.
func (c *Client) GetPods(ctx context.Context, namespace string, labelSelector map[string]string) ([]corev1.Pod, error) {
	pods := &corev1.PodList{}
	opts := []client.ListOption{client.InNamespace(namespace)}
	if len(labelSelector) > 0 {
		opts = append(opts, client.MatchingLabels(labelSelector))
	}
	if err := c.c.List(ctx, pods, opts...); err != nil {
		return nil, fmt.Errorf("failed to list pods in %s: %w", namespace, err)
	}
	return pods.Items, nil
}

// WaitUntilPodsGone blocks until no pods matching the label selector remain
// in the namespace, polling at the given interval.
func (c *Client) WaitUntilPodsGone(ctx context.Context, namespace string, labelSelector map[string]string, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultPodDrainInterval
	}
	for {
		pods, err := c.GetPods(ctx, namespace, labelSelector)
		if err != nil {
			return err
		}
		if len(pods) == 0 {
			return nil
		}

		t := c.clock.NewTimer(interval)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C():
		}
	}
}

// GetPlatform returns the named Platform resource.
func (c *Client) GetPlatform(ctx context.Context, namespace, name string) (*platformv1alpha1.Platform, error) {
	platform := &platformv1alpha1.Platform{}
	if err := c.c.Get(ctx, types.NamespacedName{Namespace: namespace, Name: name}, platform); err != nil {
		return nil, fmt.Errorf("failed to get platform %s/%s: %w", namespace, name, err)
	}
	return platform, nil
}

// GetPlatformStatus returns the status of the named Platform, or nil when no
// status has been recorded yet. An absent Platform is surfaced as an error so
// callers can distinguish "no status" from "no resource".
func (c *Client) GetPlatformStatus(ctx context.Context, namespace, name string) (*platformv1alpha1.PlatformStatus, error) {
	platform, err := c.GetPlatform(ctx, namespace, name)
	if err != nil {
		return nil, err
	}
	if platform.Status.Phase == "" {
		return nil, nil
	}
	return platform.Status.DeepCopy(), nil
}

// UpdatePlatformStatus merge-patches the status subresource of the named
// Platform.
func (c *Client) UpdatePlatformStatus(ctx context.Context, namespace, name string, status *platformv1alpha1.PlatformStatus) error {
	platform, err := c.GetPlatform(ctx, namespace, name)
	if err != nil {
		return err
	}

	original := platform.DeepCopy()
	platform.Status = *status.DeepCopy()

	if err := c.c.Status().Patch(ctx, platform, client.MergeFrom(original)); err != nil {
		return fmt.Errorf("failed to patch status of platform %s/%s: %w", namespace, name, err)
	}
	return nil
}

// IsNotFound reports whether err is a Kubernetes "not found" API error.
func IsNotFound(err error) bool {
	return apierrors.IsNotFound(err)
}
