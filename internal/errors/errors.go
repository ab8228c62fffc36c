// Package errors defines the failure taxonomy shared by the platform operator.
//
// The orchestrator classifies every failure as either permanent (invalid
// platform configuration, retry budget exceeded) or retryable (transport
// errors, chart installer failures, lock timeouts). Callers decide whether to
// requeue based on that classification, never on concrete error types.
package errors

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// ErrPermanent indicates a failure that will not resolve by retrying.
// Reconciliation must stop until the user changes the Platform resource.
var ErrPermanent = errors.New("permanent deployment failure")

// ErrRetryable indicates a failure that is expected to resolve on a later
// attempt: transient transport errors, chart installer failures, lock
// acquisition timeouts.
var ErrRetryable = errors.New("retryable deployment failure")

// ErrTransientConnection indicates a transient connection error. It is a
// retryable failure, kept distinct so polling loops can decide to retry
// in place instead of surfacing the error.
var ErrTransientConnection = errors.New("transient connection error")

// Permanent wraps err as a permanent failure.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	if IsPermanent(err) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}

// Permanentf creates a new permanent failure from a format string.
func Permanentf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrPermanent, fmt.Sprintf(format, args...))
}

// Retryable wraps err as a retryable failure.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	if IsPermanent(err) || IsRetryable(err) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrRetryable, err)
}

// IsPermanent reports whether err is classified as permanent.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrPermanent)
}

// IsRetryable reports whether err is classified as retryable. Transient
// connection errors count as retryable even when never explicitly wrapped.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrRetryable) || IsTransientConnection(err)
}

// IsTransientConnection reports whether err looks like a transient network
// failure: timeouts, connection refused, DNS resolution failures, resets.
func IsTransientConnection(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrTransientConnection) {
		return true
	}

	errStr := strings.ToLower(err.Error())
	transientPatterns := []string{
		"connection refused",
		"connection reset",
		"context deadline exceeded",
		"i/o timeout",
		"no such host",
		"network is unreachable",
		"temporary failure",
		"dial tcp",
		"broken pipe",
	}
	for _, pattern := range transientPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}

// WrapTransientConnection wraps an error as a transient connection error.
// If the error is already classified as transient, it is returned as-is.
func WrapTransientConnection(err error) error {
	if err == nil {
		return nil
	}
	if IsTransientConnection(err) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrTransientConnection, err)
}

// ShouldRequeue determines whether a reconcile error warrants a requeue and
// after what delay. Permanent failures never requeue; retryable and unknown
// failures requeue (unknown ones with controller-runtime's own backoff).
func ShouldRequeue(err error) (bool, time.Duration) {
	if err == nil {
		return false, 0
	}
	if IsPermanent(err) {
		return false, 0
	}
	if IsTransientConnection(err) {
		return true, 5 * time.Second
	}
	if IsRetryable(err) {
		return true, 10 * time.Second
	}
	return true, 0
}
