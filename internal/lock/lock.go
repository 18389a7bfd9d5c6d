// Package lock implements cooperative cross-process mutual exclusion keyed by
// a file path.
//
// # Sentinel locks
//
// [Sentinel] holds a lock by creating a sentinel file with exclusive-create
// semantics. A caller that cannot create it polls at a fixed interval until
// its timeout elapses and then gets an error matching models.ErrLockTimeout.
// Releasing deletes the sentinel; a sentinel that is already gone is not an
// error, so a process that crashed while holding a lock can be cleaned up by
// deleting its sentinel by hand. This trades strict exclusion for crash
// tolerance.
//
// # Native locks
//
// [Native] uses the operating system's file locks through github.com/gofrs/flock
// for platforms where they are known to work, including across network shares.
// Both satisfy [Locker].
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// SentinelSuffix is appended to a resource path to name its lock file.
const SentinelSuffix = ".lock"

// Default timing.
const (
	DefaultTimeout      = 5 * time.Second
	DefaultPollInterval = 100 * time.Millisecond
	minPollInterval     = 10 * time.Millisecond
)

// NoWait is a timeout that makes Acquire give up as soon as the lock is found
// busy.
const NoWait = time.Nanosecond

// Locker acquires locks on paths.
type Locker interface {
	// Acquire blocks until the lock at path is held, ctx is done or timeout
	// elapses. A zero timeout uses the Locker's default; a negative timeout
	// waits until ctx is done.
	Acquire(ctx context.Context, path string, timeout time.Duration) (Lock, error)
}

// Lock is a held lock.
type Lock interface {
	// Path is the lock file path.
	Path() string
	// Release releases the lock. It is safe to call more than once.
	Release() error
}

// PathFor returns the lock path guarding target.
func PathFor(target string) string {
	return target + SentinelSuffix
}

// Do runs fn while holding the lock at path and releases it on every exit
// path, including a panic in fn.
func Do(ctx context.Context, l Locker, path string, timeout time.Duration, fn func() error) (err error) {
	held, err := l.Acquire(ctx, path, timeout)
	if err != nil {
		return err
	}
	defer func() {
		if rerr := held.Release(); rerr != nil {
			err = errors.Join(err, fmt.Errorf("failed to release lock %s: %w", path, rerr))
		}
	}()
	return fn()
}

func effectiveTimeout(timeout, def time.Duration) time.Duration {
	if timeout == 0 {
		if def == 0 {
			return DefaultTimeout
		}
		return def
	}
	return timeout
}
