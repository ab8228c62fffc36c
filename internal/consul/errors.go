package consul

import "errors"

var (
	// ErrNotFound indicates the requested key or resource does not exist.
	// Callers define their own "absent means X" policy; absence is never a
	// bare failure by itself.
	ErrNotFound = errors.New("consul: key not found")

	// ErrSessionExpired indicates a lock was held past its session TTL. The
	// protected critical section is no longer guaranteed exclusive, so the
	// error must be surfaced to the caller, never swallowed.
	ErrSessionExpired = errors.New("consul: session expired while lock was held")

	// ErrLockAcquireTimeout indicates the acquisition poll exceeded its
	// overall timeout without obtaining the lock.
	ErrLockAcquireTimeout = errors.New("consul: lock acquisition timed out")

	// ErrLockRelease indicates a lock release or session destruction failed
	// during cleanup.
	ErrLockRelease = errors.New("consul: failed to release lock")
)
