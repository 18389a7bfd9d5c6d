package lock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/maruel/kitchenstore/internal/models"
)

// Native is a Locker backed by the operating system's advisory file locks.
//
// The lock file is left in place after release; only the kernel lock matters.
type Native struct {
	Timeout      time.Duration
	PollInterval time.Duration
}

// NewNative returns a Native locker.
func NewNative(timeout, pollInterval time.Duration) *Native {
	return &Native{Timeout: timeout, PollInterval: pollInterval}
}

// Acquire implements Locker.
func (n *Native) Acquire(ctx context.Context, path string, timeout time.Duration) (Lock, error) {
	timeout = effectiveTimeout(timeout, n.Timeout)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil { //nolint:gosec // G301: shared data directory
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}
	waitCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	poll := n.PollInterval
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	start := time.Now()
	fl := flock.New(path)
	// TryLockContext does not try at all once waitCtx is done.
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to lock %s: %w", path, err)
	}
	if !ok {
		ok, err = fl.TryLockContext(waitCtx, poll)
	}
	if ok {
		return &nativeLock{fl: fl}, nil
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		return nil, ctx.Err()
	}
	if err == nil || errors.Is(err, context.DeadlineExceeded) {
		return nil, models.LockTimeout(path, time.Since(start))
	}
	return nil, fmt.Errorf("failed to lock %s: %w", path, err)
}

type nativeLock struct {
	fl *flock.Flock
}

func (l *nativeLock) Path() string {
	return l.fl.Path()
}

func (l *nativeLock) Release() error {
	// Unlock is a no-op on an unlocked Flock.
	return l.fl.Unlock()
}
