package lock

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/maruel/kitchenstore/internal/models"
)

// Sentinel is a Locker backed by exclusive creation of a sentinel file.
//
// The zero value is usable and uses DefaultTimeout and DefaultPollInterval.
type Sentinel struct {
	// Timeout is the default acquire timeout.
	Timeout time.Duration
	// PollInterval is the delay between two creation attempts.
	PollInterval time.Duration
	// Logger receives contention diagnostics. nil means slog.Default().
	Logger *slog.Logger

	once   sync.Once
	holder string
}

// NewSentinel returns a Sentinel locker.
func NewSentinel(timeout, pollInterval time.Duration, logger *slog.Logger) *Sentinel {
	return &Sentinel{Timeout: timeout, PollInterval: pollInterval, Logger: logger}
}

// Acquire implements Locker.
func (s *Sentinel) Acquire(ctx context.Context, path string, timeout time.Duration) (Lock, error) {
	timeout = effectiveTimeout(timeout, s.Timeout)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil { //nolint:gosec // G301: shared data directory
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}
	waitCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	deadline, hasDeadline := waitCtx.Deadline()
	limiter := rate.NewLimiter(rate.Every(s.pollInterval()), 1)
	// The burst token makes the first retry immediate; spend it so every
	// retry is paced.
	limiter.Allow()
	for attempt := 0; ; attempt++ {
		ok, err := s.tryCreate(path)
		if err != nil {
			return nil, err
		}
		if ok {
			if attempt > 0 {
				s.logger().DebugContext(ctx, "lock acquired after contention", "path", path, "waited", time.Since(start))
			}
			return &sentinelLock{path: path}, nil
		}
		if attempt == 0 {
			h, _ := Holder(path)
			s.logger().DebugContext(ctx, "lock busy", "path", path, "holder", h)
		}
		d := limiter.Reserve().Delay()
		if hasDeadline {
			d = min(d, time.Until(deadline))
		}
		if d > 0 {
			t := time.NewTimer(d)
			select {
			case <-waitCtx.Done():
				t.Stop()
			case <-t.C:
			}
		}
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, ctx.Err()
		}
		if waitCtx.Err() != nil || (hasDeadline && !time.Now().Before(deadline)) {
			// One last attempt at the deadline.
			if ok, err := s.tryCreate(path); err != nil {
				return nil, err
			} else if ok {
				return &sentinelLock{path: path}, nil
			}
			return nil, models.LockTimeout(path, time.Since(start))
		}
	}
}

func (s *Sentinel) tryCreate(path string) (bool, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644) //nolint:gosec // G304: path is derived from the data root
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to create lock %s: %w", path, err)
	}
	// The content is informational only; the file's existence is the lock.
	_, _ = fmt.Fprintf(f, "%d %s\n", os.Getpid(), s.holderID())
	_ = f.Close()
	return true, nil
}

func (s *Sentinel) holderID() string {
	s.once.Do(func() {
		host, _ := os.Hostname()
		s.holder = host + " " + uuid.NewString()
	})
	return s.holder
}

func (s *Sentinel) pollInterval() time.Duration {
	if s.PollInterval < minPollInterval {
		if s.PollInterval == 0 {
			return DefaultPollInterval
		}
		return minPollInterval
	}
	return s.PollInterval
}

func (s *Sentinel) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// Holder returns the diagnostic content of the sentinel at path: the pid,
// host and instance token of the process that created it.
func Holder(path string) (string, error) {
	b, err := os.ReadFile(path) //nolint:gosec // G304: path is derived from the data root
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

type sentinelLock struct {
	path string

	mu       sync.Mutex
	released bool
}

func (l *sentinelLock) Path() string {
	return l.path
}

func (l *sentinelLock) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.released {
		return nil
	}
	l.released = true
	if err := os.Remove(l.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
