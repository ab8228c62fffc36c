// Package hooks brackets operator and chart upgrades with the distributed
// lock so that an externally triggered upgrade can never run concurrently
// with the reconcile loop of another operator revision.
package hooks

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-logr/logr"
	"k8s.io/utils/clock"

	"github.com/clustermesh/platform-operator/internal/constants"
	"github.com/clustermesh/platform-operator/internal/consul"
	operatorerrors "github.com/clustermesh/platform-operator/internal/errors"
)

// CoordinationClient is the subset of the coordination-store client the
// hooks need.
type CoordinationClient interface {
	WaitHealthy(ctx context.Context, interval time.Duration) error
	CreateSession(ctx context.Context, opts consul.SessionOptions) (string, error)
	AcquireLock(ctx context.Context, key string, value []byte, sessionID string, pollInterval time.Duration) error
	ReleaseLock(ctx context.Context, key string, value []byte, sessionID string) error
	GetKey(ctx context.Context, key string, recurse bool) ([]consul.KVPair, error)
}

// Hooks runs the startup and shutdown lock protocol around upgrades.
type Hooks struct {
	client CoordinationClient
	logger logr.Logger
	clock  clock.Clock
}

func NewHooks(client CoordinationClient, logger logr.Logger) *Hooks {
	return NewHooksWithClock(client, logger, clock.RealClock{})
}

func NewHooksWithClock(client CoordinationClient, logger logr.Logger, cl clock.Clock) *Hooks {
	return &Hooks{client: client, logger: logger, clock: cl}
}

// StartOperatorDeployment takes the operator-wide lock before a new helm
// revision of the operator rolls out. The first revision is an install and
// there is nothing to coordinate yet; likewise a coordination store that
// never becomes healthy means no previous deployment ran, and helm itself
// refuses to upgrade the same release in parallel.
func (h *Hooks) StartOperatorDeployment(ctx context.Context, releaseRevision int) error {
	if releaseRevision == 1 {
		h.logger.Info("First release revision, nothing to coordinate")
		return nil
	}
	if !h.waitStoreHealthy(ctx) {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, constants.OperatorLockTimeout)
	defer cancel()

	sessionID, err := h.createSession(ctx, consul.SessionOptions{TTL: constants.OperatorLockTTL})
	if err != nil {
		return err
	}
	h.logger.Info("Session created", "session", sessionID)

	value := operatorLockValue(releaseRevision)
	if err := h.client.AcquireLock(ctx, constants.LockKeyOperator, value, sessionID, constants.OperatorLockPollInterval); err != nil {
		return fmt.Errorf("acquiring operator deployment lock: %w", err)
	}
	h.logger.Info("Operator deployment lock acquired", "revision", releaseRevision)
	return nil
}

// EndOperatorDeployment releases the operator-wide lock after the rollout
// finished. The stored value identifies which revision holds the lock:
// releasing on a mismatch would destroy a newer deployment's lock, so a
// mismatch is a no-op. An absent key means the lock already expired.
func (h *Hooks) EndOperatorDeployment(ctx context.Context, releaseRevision int) error {
	if releaseRevision == 1 {
		return nil
	}
	if !h.waitStoreHealthy(ctx) {
		return nil
	}

	pair, err := h.getLockEntry(ctx, constants.LockKeyOperator)
	if err != nil {
		return err
	}
	if pair == nil {
		h.logger.Info("Operator deployment lock is gone, nothing to release")
		return nil
	}

	value := operatorLockValue(releaseRevision)
	if string(pair.Value) != string(value) {
		h.logger.Info("Operator deployment lock is held by another revision, skipping release")
		return nil
	}
	if pair.Session == "" {
		return nil
	}
	if err := h.client.ReleaseLock(ctx, constants.LockKeyOperator, value, pair.Session); err != nil {
		return fmt.Errorf("releasing operator deployment lock: %w", err)
	}
	h.logger.Info("Operator deployment lock released", "revision", releaseRevision)
	return nil
}

// StartChartUpgrade takes the chart-upgrade lock before helm mutates the
// release identified by namespace and name. A coordination store that does
// not know the key space yet is treated as nothing to lock.
func (h *Hooks) StartChartUpgrade(ctx context.Context, namespace, name string) error {
	ctx, cancel := context.WithTimeout(ctx, constants.ChartUpgradeLockTimeout)
	defer cancel()

	sessionID, err := h.createSession(ctx, consul.SessionOptions{TTL: constants.ChartUpgradeLockTTL})
	if err != nil {
		if errors.Is(err, consul.ErrNotFound) {
			return nil
		}
		return err
	}

	value := chartUpgradeLockValue(namespace, name)
	err = h.client.AcquireLock(ctx, constants.LockKeyChartUpgrade, value, sessionID, constants.ChartUpgradeLockPollInterval)
	if err != nil {
		if errors.Is(err, consul.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("acquiring chart upgrade lock: %w", err)
	}
	h.logger.Info("Chart upgrade lock acquired", "namespace", namespace, "name", name)
	return nil
}

// EndChartUpgrade releases the chart-upgrade lock. An absent key is treated
// as already released, and a value held by a different upgrade is left
// alone.
func (h *Hooks) EndChartUpgrade(ctx context.Context, namespace, name string) error {
	pair, err := h.getLockEntry(ctx, constants.LockKeyChartUpgrade)
	if err != nil {
		return err
	}
	if pair == nil {
		return nil
	}

	value := chartUpgradeLockValue(namespace, name)
	if string(pair.Value) != string(value) || pair.Session == "" {
		return nil
	}
	if err := h.client.ReleaseLock(ctx, constants.LockKeyChartUpgrade, value, pair.Session); err != nil {
		if errors.Is(err, consul.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("releasing chart upgrade lock: %w", err)
	}
	h.logger.Info("Chart upgrade lock released", "namespace", namespace, "name", name)
	return nil
}

// waitStoreHealthy waits a bounded amount of time for the coordination
// store to elect a leader. It reports false when the store never became
// healthy, which the hooks treat as "not deployed yet".
func (h *Hooks) waitStoreHealthy(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, constants.ConsulHealthTimeout)
	defer cancel()

	if err := h.client.WaitHealthy(ctx, constants.ConsulHealthInterval); err != nil {
		h.logger.Info("Coordination store is not healthy, assuming it has not been deployed", "reason", err.Error())
		return false
	}
	return true
}

// createSession retries session creation through transient store errors
// until the context deadline.
func (h *Hooks) createSession(ctx context.Context, opts consul.SessionOptions) (string, error) {
	for {
		sessionID, err := h.client.CreateSession(ctx, opts)
		if err == nil {
			return sessionID, nil
		}
		if !operatorerrors.IsTransientConnection(err) {
			return "", err
		}
		h.logger.Error(err, "Failed to create session, retrying")
		if err := h.sleep(ctx, constants.OperatorLockPollInterval); err != nil {
			return "", err
		}
	}
}

// getLockEntry reads the lock key, retrying transient errors. An absent key
// returns nil without error.
func (h *Hooks) getLockEntry(ctx context.Context, key string) (*consul.KVPair, error) {
	for {
		pairs, err := h.client.GetKey(ctx, key, false)
		if errors.Is(err, consul.ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			if !operatorerrors.IsTransientConnection(err) {
				return nil, err
			}
			if err := h.sleep(ctx, constants.OperatorLockPollInterval); err != nil {
				return nil, err
			}
			continue
		}
		if len(pairs) == 0 {
			return nil, nil
		}
		return &pairs[0], nil
	}
}

func (h *Hooks) sleep(ctx context.Context, d time.Duration) error {
	timer := h.clock.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C():
		return nil
	}
}

func operatorLockValue(releaseRevision int) []byte {
	return []byte(constants.LockValueOperatorPrefix + strconv.Itoa(releaseRevision))
}

func chartUpgradeLockValue(namespace, name string) []byte {
	return []byte(namespace + "/" + name)
}
