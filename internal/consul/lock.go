package consul

import (
	"context"
	"errors"
	"fmt"
	"time"

	operatorerrors "github.com/clustermesh/platform-operator/internal/errors"
)

// DefaultLockPollInterval is the default interval between lock acquisition
// attempts.
const DefaultLockPollInterval = 100 * time.Millisecond

// LockOptions configures a WithLock critical section.
type LockOptions struct {
	// TTL is the session TTL bounding the lock's validity. A critical section
	// running past TTL is reported as expired; the TTL is never renewed
	// mid-section, so sections must be time-bounded by design.
	TTL time.Duration
	// LockDelay is the grace period the store enforces after the session is
	// invalidated before the key becomes acquirable by a different session.
	LockDelay time.Duration
	// PollInterval is the interval between acquisition attempts.
	// Defaults to DefaultLockPollInterval.
	PollInterval time.Duration
	// Timeout bounds the acquisition poll. Zero means poll until the context
	// is cancelled.
	Timeout time.Duration
}

// WithLock acquires the lock on key for the duration of fn, guaranteeing at
// most one concurrent holder across all callers sharing the same store and
// key.
//
// The session is always destroyed in a final cleanup step, whether fn
// succeeds, fails, panics, or runs past the session TTL. An fn error is
// propagated in preference to any cleanup failure; a critical section that
// outlives the TTL surfaces ErrSessionExpired because its effects are no
// longer guaranteed exclusive.
func (c *Client) WithLock(ctx context.Context, key string, value []byte, opts LockOptions, fn func(ctx context.Context) error) error {
	pollInterval := opts.PollInterval
	if pollInterval <= 0 {
		pollInterval = DefaultLockPollInterval
	}

	var deadline time.Time
	if opts.Timeout > 0 {
		deadline = c.clock.Now().Add(opts.Timeout)
	}

	sessionID, err := c.createSessionWithRetry(ctx, SessionOptions{TTL: opts.TTL, LockDelay: opts.LockDelay}, pollInterval, deadline)
	if err != nil {
		return err
	}
	c.logger.Info("Session created", "session", sessionID)

	if err := c.acquireLock(ctx, key, value, sessionID, pollInterval, deadline); err != nil {
		if releaseErr := c.ReleaseLock(ctx, key, value, sessionID); releaseErr != nil {
			c.logger.Error(releaseErr, "Failed to clean up session after acquisition failure", "session", sessionID, "key", key)
		}
		return err
	}

	start := c.clock.Now()
	fnErr := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				// Release before repanicking so the session does not linger
				// until its TTL lapses.
				if releaseErr := c.ReleaseLock(ctx, key, value, sessionID); releaseErr != nil {
					c.logger.Error(releaseErr, "Lock release failed after critical section panic", "session", sessionID, "key", key)
				}
				panic(r)
			}
		}()
		return fn(ctx)
	}()

	var expiredErr error
	if fnErr == nil {
		if elapsed := c.clock.Since(start); elapsed >= opts.TTL {
			c.logger.Info("Lock expired while held", "session", sessionID, "key", key, "elapsed", elapsed)
			expiredErr = fmt.Errorf("%w: session %q on key %q was held for %s with TTL %s",
				ErrSessionExpired, sessionID, key, elapsed, opts.TTL)
		}
	}

	releaseErr := c.ReleaseLock(ctx, key, value, sessionID)

	switch {
	case fnErr != nil:
		if releaseErr != nil {
			c.logger.Error(releaseErr, "Lock release failed after critical section error", "session", sessionID, "key", key)
		}
		return fnErr
	case expiredErr != nil:
		return expiredErr
	case releaseErr != nil:
		return releaseErr
	}

	c.logger.Info("Lock released", "session", sessionID, "key", key)
	return nil
}

// AcquireLock polls a conditional acquire write on key until the given
// session holds the lock. Transient transport errors are retried; the poll
// runs until the context is cancelled.
func (c *Client) AcquireLock(ctx context.Context, key string, value []byte, sessionID string, pollInterval time.Duration) error {
	if pollInterval <= 0 {
		pollInterval = DefaultLockPollInterval
	}
	return c.acquireLock(ctx, key, value, sessionID, pollInterval, time.Time{})
}

func (c *Client) acquireLock(ctx context.Context, key string, value []byte, sessionID string, pollInterval time.Duration, deadline time.Time) error {
	for {
		acquired, err := c.PutKey(ctx, key, value, PutOptions{Acquire: sessionID})
		if err != nil {
			if !operatorerrors.IsTransientConnection(err) {
				return err
			}
			c.logger.V(1).Info("Lock acquisition attempt failed", "session", sessionID, "key", key, "error", err.Error())
		} else if acquired {
			c.logger.Info("Lock acquired", "session", sessionID, "key", key)
			return nil
		} else {
			c.logger.V(1).Info("Lock not acquired", "session", sessionID, "key", key)
		}

		// Stop if one more poll cycle would overshoot the deadline.
		if !deadline.IsZero() && c.clock.Now().Add(pollInterval).After(deadline) {
			return fmt.Errorf("%w: key %q", ErrLockAcquireTimeout, key)
		}
		if err := c.sleep(ctx, pollInterval); err != nil {
			return err
		}
	}
}

func (c *Client) createSessionWithRetry(ctx context.Context, opts SessionOptions, pollInterval time.Duration, deadline time.Time) (string, error) {
	for {
		sessionID, err := c.CreateSession(ctx, opts)
		if err == nil {
			return sessionID, nil
		}
		if !operatorerrors.IsTransientConnection(err) {
			return "", err
		}
		c.logger.V(1).Info("Session creation failed", "error", err.Error())

		if !deadline.IsZero() && c.clock.Now().Add(pollInterval).After(deadline) {
			return "", fmt.Errorf("%w: session creation did not succeed in time", ErrLockAcquireTimeout)
		}
		if err := c.sleep(ctx, pollInterval); err != nil {
			return "", err
		}
	}
}

// ReleaseLock releases the lock on key held by sessionID and destroys the
// session. A key that no longer exists, or is no longer held by sessionID, is
// treated as already released; the session is destroyed regardless. A
// conditional release that the store refuses, or a session destruction the
// store does not acknowledge, fails with ErrLockRelease. Transient transport
// errors are retried.
func (c *Client) ReleaseLock(ctx context.Context, key string, value []byte, sessionID string) error {
	for {
		pairs, err := c.GetKey(ctx, key, false)
		if errors.Is(err, ErrNotFound) {
			break
		}
		if err != nil {
			if !operatorerrors.IsTransientConnection(err) {
				return err
			}
			if err := c.sleep(ctx, DefaultLockPollInterval); err != nil {
				return err
			}
			continue
		}
		if len(pairs) == 0 || pairs[0].Session != sessionID {
			break
		}

		released, err := c.PutKey(ctx, key, value, PutOptions{Release: sessionID})
		if err != nil {
			if !operatorerrors.IsTransientConnection(err) {
				return err
			}
			if err := c.sleep(ctx, DefaultLockPollInterval); err != nil {
				return err
			}
			continue
		}
		if !released {
			c.logger.Info("Failed to release lock", "session", sessionID, "key", key)
			return fmt.Errorf("%w: session %q on key %q", ErrLockRelease, sessionID, key)
		}
		c.logger.Info("Lock released", "session", sessionID, "key", key)
		break
	}

	for {
		destroyed, err := c.DestroySession(ctx, sessionID)
		if err != nil {
			if !operatorerrors.IsTransientConnection(err) {
				return err
			}
			if err := c.sleep(ctx, DefaultLockPollInterval); err != nil {
				return err
			}
			continue
		}
		if !destroyed {
			c.logger.Info("Failed to destroy session", "session", sessionID)
			return fmt.Errorf("%w: session %q was not destroyed", ErrLockRelease, sessionID)
		}
		c.logger.Info("Session destroyed", "session", sessionID)
		return nil
	}
}

// ReleaseLockIfValueMatches releases the lock on key only if the stored value
// matches expected, preventing a stale deployment from releasing a lock now
// held by a newer one. An absent key is treated as already released. A stored
// value that differs from expected, or a key with no holding session, is a
// no-op.
func (c *Client) ReleaseLockIfValueMatches(ctx context.Context, key string, expected []byte) error {
	pairs, err := c.GetKey(ctx, key, false)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if len(pairs) == 0 {
		return nil
	}

	pair := pairs[0]
	if string(pair.Value) != string(expected) {
		// A newer deployment holds the key; releasing it here would destroy
		// that deployment's lock.
		c.logger.Info("Lock value does not match, skipping release", "key", key)
		return nil
	}
	if pair.Session == "" {
		return nil
	}

	return c.ReleaseLock(ctx, key, expected, pair.Session)
}
