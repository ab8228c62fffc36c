// Package status tracks the deployment lifecycle of a Platform resource.
// Every operation reads the current status from the cluster, applies its
// change and writes it back, so concurrent callers always observe the
// latest persisted state rather than a cached copy.
package status

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/utils/clock"

	platformv1alpha1 "github.com/clustermesh/platform-operator/api/v1alpha1"
)

// PlatformStatusClient reads and writes the status subresource of a
// Platform. It is satisfied by kube.Client.
type PlatformStatusClient interface {
	GetPlatformStatus(ctx context.Context, namespace, name string) (*platformv1alpha1.PlatformStatus, error)
	UpdatePlatformStatus(ctx context.Context, namespace, name string, status *platformv1alpha1.PlatformStatus) error
}

// Manager persists phase and condition changes for a Platform resource.
type Manager struct {
	client    PlatformStatusClient
	namespace string
	logger    logr.Logger
	clock     clock.Clock
}

// NewManager returns a Manager operating on Platform resources in the
// given namespace.
func NewManager(client PlatformStatusClient, namespace string, logger logr.Logger) *Manager {
	return NewManagerWithClock(client, namespace, logger, clock.RealClock{})
}

// NewManagerWithClock is NewManager with an injectable clock for tests.
func NewManagerWithClock(client PlatformStatusClient, namespace string, logger logr.Logger, clk clock.Clock) *Manager {
	return &Manager{
		client:    client,
		namespace: namespace,
		logger:    logger,
		clock:     clk,
	}
}

// load fetches the current status, returning a zeroed Pending status when
// none has been recorded yet.
func (m *Manager) load(ctx context.Context, name string) (*platformv1alpha1.PlatformStatus, error) {
	status, err := m.client.GetPlatformStatus(ctx, m.namespace, name)
	if err != nil {
		return nil, fmt.Errorf("loading platform status: %w", err)
	}
	if status == nil {
		return &platformv1alpha1.PlatformStatus{
			Phase:      platformv1alpha1.PlatformPhasePending,
			Retries:    0,
			Conditions: nil,
		}, nil
	}
	return status, nil
}

func (m *Manager) save(ctx context.Context, name string, status *platformv1alpha1.PlatformStatus) error {
	if err := m.client.UpdatePlatformStatus(ctx, m.namespace, name, status); err != nil {
		return fmt.Errorf("persisting platform status: %w", err)
	}
	return nil
}

// setCondition upserts a condition keyed by type, stamping the transition
// time, and keeps the slice ordered by ConditionTypeOrder so serialized
// statuses stay stable across updates.
func (m *Manager) setCondition(status *platformv1alpha1.PlatformStatus, condType platformv1alpha1.PlatformConditionType, condStatus corev1.ConditionStatus) {
	now := metav1.NewTime(m.clock.Now())
	byType := make(map[platformv1alpha1.PlatformConditionType]platformv1alpha1.PlatformCondition, len(status.Conditions))
	for _, cond := range status.Conditions {
		byType[cond.Type] = cond
	}
	byType[condType] = platformv1alpha1.PlatformCondition{
		Type:               condType,
		Status:             condStatus,
		LastTransitionTime: &now,
	}

	ordered := make([]platformv1alpha1.PlatformCondition, 0, len(byType))
	for _, t := range platformv1alpha1.ConditionTypeOrder {
		if cond, ok := byType[t]; ok {
			ordered = append(ordered, cond)
		}
	}
	status.Conditions = ordered
}

func findCondition(status *platformv1alpha1.PlatformStatus, condType platformv1alpha1.PlatformConditionType) *platformv1alpha1.PlatformCondition {
	for i := range status.Conditions {
		if status.Conditions[i].Type == condType {
			return &status.Conditions[i]
		}
	}
	return nil
}

// StartDeployment marks the Platform as deploying. A fresh attempt, where
// the recorded phase is anything but Deploying, starts from a clean slate
// with no conditions and a zeroed retry counter. Resuming an interrupted
// Deploying run keeps the recorded conditions and only updates the retry
// counter, so completed steps stay skippable.
func (m *Manager) StartDeployment(ctx context.Context, name string, retry int) error {
	status, err := m.load(ctx, name)
	if err != nil {
		return err
	}
	if status.Phase != platformv1alpha1.PlatformPhaseDeploying {
		status.Conditions = nil
		retry = 0
	}
	status.Phase = platformv1alpha1.PlatformPhaseDeploying
	status.Retries = retry
	m.logger.Info("starting deployment", "platform", name, "retry", retry)
	return m.save(ctx, name, status)
}

// StartDeletion marks the Platform as deleting.
func (m *Manager) StartDeletion(ctx context.Context, name string) error {
	status, err := m.load(ctx, name)
	if err != nil {
		return err
	}
	status.Phase = platformv1alpha1.PlatformPhaseDeleting
	m.logger.Info("starting deletion", "platform", name)
	return m.save(ctx, name, status)
}

// CompleteDeployment marks the Platform as deployed and resets the retry
// counter.
func (m *Manager) CompleteDeployment(ctx context.Context, name string) error {
	status, err := m.load(ctx, name)
	if err != nil {
		return err
	}
	status.Phase = platformv1alpha1.PlatformPhaseDeployed
	status.Retries = 0
	m.logger.Info("deployment complete", "platform", name)
	return m.save(ctx, name, status)
}

// FailDeployment marks the Platform as failed. When removeConditions is
// set the recorded conditions are cleared as well, forcing the next
// deployment to run every step from scratch.
func (m *Manager) FailDeployment(ctx context.Context, name string, removeConditions bool) error {
	status, err := m.load(ctx, name)
	if err != nil {
		return err
	}
	status.Phase = platformv1alpha1.PlatformPhaseFailed
	if removeConditions {
		status.Conditions = nil
	}
	m.logger.Info("deployment failed", "platform", name, "conditionsRemoved", removeConditions)
	return m.save(ctx, name, status)
}

// Transition runs fn under the given condition. The condition is persisted
// as False before fn runs so an interrupted step is visible as incomplete,
// and flipped to True only after fn succeeds. When fn fails its error is
// returned and the condition stays False.
func (m *Manager) Transition(ctx context.Context, name string, condType platformv1alpha1.PlatformConditionType, fn func(ctx context.Context) error) error {
	status, err := m.load(ctx, name)
	if err != nil {
		return err
	}
	m.setCondition(status, condType, corev1.ConditionFalse)
	if err := m.save(ctx, name, status); err != nil {
		return err
	}

	if err := fn(ctx); err != nil {
		return fmt.Errorf("condition %s: %w", condType, err)
	}

	status, err = m.load(ctx, name)
	if err != nil {
		return err
	}
	m.setCondition(status, condType, corev1.ConditionTrue)
	return m.save(ctx, name, status)
}

// IsConditionSatisfied reports whether the condition is recorded as True.
// Absent conditions count as not satisfied.
func (m *Manager) IsConditionSatisfied(ctx context.Context, name string, condType platformv1alpha1.PlatformConditionType) (bool, error) {
	status, err := m.load(ctx, name)
	if err != nil {
		return false, err
	}
	cond := findCondition(status, condType)
	return cond != nil && cond.Status == corev1.ConditionTrue, nil
}

// GetPhase returns the currently recorded phase, Pending when no status
// has been recorded yet.
func (m *Manager) GetPhase(ctx context.Context, name string) (platformv1alpha1.PlatformPhase, error) {
	status, err := m.load(ctx, name)
	if err != nil {
		return "", err
	}
	return status.Phase, nil
}

// GetRetries returns the recorded retry counter.
func (m *Manager) GetRetries(ctx context.Context, name string) (int, error) {
	status, err := m.load(ctx, name)
	if err != nil {
		return 0, err
	}
	return status.Retries, nil
}
