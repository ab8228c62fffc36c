package controller

import (
	"context"
	"fmt"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/runtime"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/log"

	platformv1alpha1 "github.com/clustermesh/platform-operator/api/v1alpha1"
	operatorerrors "github.com/clustermesh/platform-operator/internal/errors"
)

// Orchestrator runs the platform deployment lifecycle. Implemented by
// operator.Deployer.
type Orchestrator interface {
	Deploy(ctx context.Context, platform *platformv1alpha1.Platform, retry int) error
	Delete(ctx context.Context, platform *platformv1alpha1.Platform, retry int) error
}

// PlatformReconciler drives Platform resources through the orchestrator.
// Retry bookkeeping lives in the resource status: every failed attempt
// requeues with an incremented retry count until the orchestrator declares
// the failure permanent.
type PlatformReconciler struct {
	client.Client
	Scheme       *runtime.Scheme
	Orchestrator Orchestrator
}

func (r *PlatformReconciler) Reconcile(ctx context.Context, req ctrl.Request) (ctrl.Result, error) {
	logger := log.FromContext(ctx).WithValues("platform", req.Name)

	platform := &platformv1alpha1.Platform{}
	if err := r.Get(ctx, req.NamespacedName, platform); err != nil {
		if apierrors.IsNotFound(err) {
			logger.Info("Platform resource not found; assuming it was deleted")
			return ctrl.Result{}, nil
		}
		return ctrl.Result{}, fmt.Errorf("failed to get Platform %s: %w", req.Name, err)
	}

	if !platform.DeletionTimestamp.IsZero() {
		return r.reconcileDeletion(ctx, platform)
	}

	if !containsFinalizer(platform.Finalizers, platformv1alpha1.PlatformFinalizer) {
		platform.Finalizers = append(platform.Finalizers, platformv1alpha1.PlatformFinalizer)
		if err := r.Update(ctx, platform); err != nil {
			return ctrl.Result{}, fmt.Errorf("failed to add finalizer to Platform %s: %w", platform.Name, err)
		}
		// Requeue to observe the resource with the finalizer attached.
		return ctrl.Result{}, nil
	}

	retry := nextRetry(platform)
	logger.Info("Reconciling Platform", "phase", platform.Status.Phase, "retry", retry)

	if err := r.Orchestrator.Deploy(ctx, platform, retry); err != nil {
		requeue, after := operatorerrors.ShouldRequeue(err)
		if !requeue {
			logger.Error(err, "Platform deployment failed permanently")
			return ctrl.Result{}, nil
		}
		logger.Error(err, "Platform deployment failed, will retry", "retry", retry, "requeueAfter", after)
		return ctrl.Result{RequeueAfter: after}, nil
	}

	return ctrl.Result{}, nil
}

func (r *PlatformReconciler) reconcileDeletion(ctx context.Context, platform *platformv1alpha1.Platform) (ctrl.Result, error) {
	logger := log.FromContext(ctx).WithValues("platform", platform.Name)

	if !containsFinalizer(platform.Finalizers, platformv1alpha1.PlatformFinalizer) {
		return ctrl.Result{}, nil
	}

	// The first deletion pass starts the retry sequence from scratch; a
	// platform already in the Deleting phase continues it.
	retry := 0
	if platform.Status.Phase == platformv1alpha1.PlatformPhaseDeleting {
		retry = platform.Status.Retries + 1
	}
	logger.Info("Deleting Platform", "retry", retry)

	if err := r.Orchestrator.Delete(ctx, platform, retry); err != nil {
		requeue, after := operatorerrors.ShouldRequeue(err)
		if !requeue {
			logger.Error(err, "Platform deletion failed permanently, removing finalizer anyway")
		} else {
			logger.Error(err, "Platform deletion failed, will retry", "requeueAfter", after)
			return ctrl.Result{RequeueAfter: after}, nil
		}
	}

	platform.Finalizers = removeFinalizer(platform.Finalizers, platformv1alpha1.PlatformFinalizer)
	if err := r.Update(ctx, platform); err != nil {
		return ctrl.Result{}, fmt.Errorf("failed to remove finalizer from Platform %s: %w", platform.Name, err)
	}
	return ctrl.Result{}, nil
}

// nextRetry derives the retry count for the next attempt from the recorded
// status. A resource whose previous attempt failed or was interrupted
// mid-deployment continues the retry sequence instead of restarting it.
func nextRetry(platform *platformv1alpha1.Platform) int {
	switch platform.Status.Phase {
	case platformv1alpha1.PlatformPhaseFailed, platformv1alpha1.PlatformPhaseDeploying:
		return platform.Status.Retries + 1
	default:
		return 0
	}
}

func containsFinalizer(finalizers []string, value string) bool {
	for _, finalizer := range finalizers {
		if finalizer == value {
			return true
		}
	}
	return false
}

func removeFinalizer(finalizers []string, value string) []string {
	result := make([]string, 0, len(finalizers))
	for _, finalizer := range finalizers {
		if finalizer != value {
			result = append(result, finalizer)
		}
	}
	return result
}

// SetupWithManager sets up the controller with the Manager.
func (r *PlatformReconciler) SetupWithManager(mgr ctrl.Manager) error {
	return ctrl.NewControllerManagedBy(mgr).
		For(&platformv1alpha1.Platform{}).
		Named("platform").
		Complete(r)
}
