// Package tabledb stores header-having tables as CSV files under a data root.
//
// # Concurrency
//
// Reads take no lock. Files are only ever replaced by rename, so a reader sees
// either the previous or the next complete table. Write, Append and Modify
// hold the advisory lock of the target file for the whole read-modify-write,
// so writers of one table are totally ordered, across processes too. There is
// no ordering across tables.
//
// # Cache
//
// Each Store owns a bounded cache of decoded tables keyed by file path. Every
// successful write made through the Store purges the whole cache. Writes made
// by other processes are not seen until the next local write, unless
// [Store.Watch] runs.
//
// # Failure modes
//
// A missing file reads as an empty table. A file that exists but does not
// parse is logged and also reads as an empty table. A lock that is not
// acquired in time fails the write with an error matching
// models.ErrLockTimeout and the file is left untouched.
package tabledb

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/maruel/kitchenstore/internal/atomicfile"
	"github.com/maruel/kitchenstore/internal/lock"
	"github.com/maruel/kitchenstore/internal/models"
	"github.com/maruel/kitchenstore/internal/paths"
)

// DefaultCacheSize is the number of tables cached when Options.CacheSize is 0.
const DefaultCacheSize = 128

// Recorder is notified of every committed file.
//
// It runs while the table lock is still held, so the history of a file
// follows the order of its writes. Its failure is logged and does not fail the
// write.
type Recorder interface {
	Record(ctx context.Context, path, message string) error
}

// Options configures a Store.
type Options struct {
	// Locker guards writes. Defaults to a lock.Sentinel.
	Locker lock.Locker
	// LockTimeout is the default acquire timeout. 0 uses the Locker's default.
	LockTimeout time.Duration
	// CacheSize is the number of tables kept decoded. Negative disables the
	// cache; 0 uses DefaultCacheSize.
	CacheSize int
	// Location is the timezone of snapshot names. Defaults to time.Local.
	Location *time.Location
	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
	// Recorder, if set, records every committed write.
	Recorder Recorder
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Store reads and writes tables.
//
// It is safe for concurrent use.
type Store struct {
	resolver *paths.Resolver
	locker   lock.Locker
	timeout  time.Duration
	cache    *cache
	loc      *time.Location
	now      func() time.Time
	recorder Recorder
	log      *slog.Logger
}

// New returns a Store rooted at resolver.
func New(resolver *paths.Resolver, opts *Options) (*Store, error) {
	if opts == nil {
		opts = &Options{}
	}
	s := &Store{
		resolver: resolver,
		locker:   opts.Locker,
		timeout:  opts.LockTimeout,
		loc:      opts.Location,
		now:      opts.Now,
		recorder: opts.Recorder,
		log:      opts.Logger,
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.locker == nil {
		s.locker = lock.NewSentinel(s.timeout, 0, s.log)
	}
	if s.loc == nil {
		s.loc = time.Local
	}
	if s.now == nil {
		s.now = time.Now
	}
	size := opts.CacheSize
	if size == 0 {
		size = DefaultCacheSize
	}
	c, err := newCache(size)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache: %w", err)
	}
	s.cache = c
	return s, nil
}

// Resolver returns the path resolver of the store.
func (s *Store) Resolver() *paths.Resolver {
	return s.resolver
}

// Locker returns the locker guarding writes.
func (s *Store) Locker() lock.Locker {
	return s.locker
}

// WithLockTimeout returns a view of s that shares its cache and locker but
// waits at most d for locks. A negative d waits until the context is done.
func (s *Store) WithLockTimeout(d time.Duration) *Store {
	c := *s
	c.timeout = d
	return &c
}

// Path resolves a logical table name.
func (s *Store) Path(name string) (string, error) {
	return s.resolver.Table(name)
}

// Read returns the table named name.
//
// A table that was never written is empty, not an error.
func (s *Store) Read(ctx context.Context, name string) (*Table, error) {
	p, err := s.resolver.Table(name)
	if err != nil {
		return nil, err
	}
	return s.readPath(ctx, p)
}

func (s *Store) readPath(ctx context.Context, p string) (*Table, error) {
	if t, ok := s.cache.get(p); ok {
		return t, nil
	}
	gen := s.cache.generation()
	t, err := s.load(ctx, p)
	if err != nil {
		return nil, err
	}
	s.cache.add(gen, p, t)
	return t, nil
}

// load reads p from disk, bypassing the cache.
func (s *Store) load(ctx context.Context, p string) (*Table, error) {
	f, err := os.Open(p) //nolint:gosec // G304: p is resolved under the data root
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &Table{}, nil
		}
		return nil, fmt.Errorf("failed to open table: %w", err)
	}
	defer func() { _ = f.Close() }()
	t, err := Decode(f)
	if err != nil {
		if isIOError(err) {
			return nil, fmt.Errorf("failed to read table: %w", err)
		}
		s.log.WarnContext(ctx, "unreadable table treated as empty", "path", p, "err", models.Malformed(p, err))
		return &Table{}, nil
	}
	return t, nil
}

// Write replaces the table named name with t and returns its path.
func (s *Store) Write(ctx context.Context, name string, t *Table) (string, error) {
	return s.Modify(ctx, name, func(*Table) (*Table, error) { return t, nil })
}

// Append adds the rows of rows after the existing rows of the table named
// name. Columns only rows has are added to the header; cells of columns it
// lacks are left empty.
func (s *Store) Append(ctx context.Context, name string, rows *Table) (string, error) {
	return s.Modify(ctx, name, func(cur *Table) (*Table, error) {
		if cur.Empty() {
			return rows.Clone(), nil
		}
		return cur.Concat(rows), nil
	})
}

// Modify runs fn on the current content of the table named name and replaces
// it with fn's result, all while holding the table's lock.
//
// The current content is read from disk, not from the cache. If fn returns an
// error or a nil table, nothing is written and the error is returned.
func (s *Store) Modify(ctx context.Context, name string, fn func(cur *Table) (*Table, error)) (string, error) {
	p, err := s.resolver.Table(name)
	if err != nil {
		return "", err
	}
	err = lock.Do(ctx, s.locker, lock.PathFor(p), s.timeout, func() error {
		cur, err := s.load(ctx, p)
		if err != nil {
			return err
		}
		next, err := fn(cur)
		if err != nil || next == nil {
			return err
		}
		if err := s.commit(p, next); err != nil {
			return err
		}
		s.record(ctx, p, "write "+name)
		return nil
	})
	if err != nil {
		return "", err
	}
	return p, nil
}

// commit writes t to p. The caller holds p's lock.
func (s *Store) commit(p string, t *Table) error {
	err := atomicfile.Write(p, func(w io.Writer) error { return Encode(w, t) })
	if err != nil {
		return fmt.Errorf("failed to write table: %w", err)
	}
	s.cache.purge()
	return nil
}

func (s *Store) record(ctx context.Context, p, message string) {
	if s.recorder == nil {
		return
	}
	if err := s.recorder.Record(ctx, p, message); err != nil {
		s.log.WarnContext(ctx, "failed to record history", "path", p, "err", err)
	}
}

// Invalidate drops every cached table.
func (s *Store) Invalidate() {
	s.cache.purge()
}

// isIOError reports whether a decode error came from the file system rather
// than from the content.
func isIOError(err error) bool {
	var pe *fs.PathError
	return errors.As(err, &pe)
}
