package tabledb

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/maruel/kitchenstore/internal/lock"
	"github.com/maruel/kitchenstore/internal/paths"
)

// TimestampLayout is the fixed width time format embedded in snapshot names.
// Lexicographic and chronological order coincide.
const TimestampLayout = "20060102_150405"

// SnapshotInfo describes one snapshot file.
type SnapshotInfo struct {
	// Name is the logical table name, relative to the data root.
	Name    string
	Path    string
	ModTime time.Time
}

// Snapshot writes t as a new immutable table in dir named
// "<prefix>_<timestamp>.csv", or "<timestamp>.csv" without prefix, and returns
// its path.
//
// The prefix is slugified. If a snapshot with the same name already exists,
// "_2", "_3", ... is appended so an existing snapshot is never overwritten.
func (s *Store) Snapshot(ctx context.Context, dir string, t *Table, prefix string) (string, error) {
	base := s.now().In(s.loc).Format(TimestampLayout)
	if strings.TrimSpace(prefix) != "" {
		base = paths.Slugify(prefix) + "_" + base
	}
	absDir, err := s.resolver.Dir(dir)
	if err != nil {
		return "", err
	}
	var out string
	// The base name lock makes picking a free name and creating it one step.
	err = lock.Do(ctx, s.locker, lock.PathFor(filepath.Join(absDir, base)), s.timeout, func() error {
		name := base
		for i := 2; ; i++ {
			_, err := os.Stat(filepath.Join(absDir, name+paths.TableExt))
			if errors.Is(err, fs.ErrNotExist) {
				break
			}
			if err != nil {
				return fmt.Errorf("failed to check snapshot name: %w", err)
			}
			name = base + "_" + strconv.Itoa(i)
		}
		var err error
		out, err = s.Write(ctx, path.Join(filepath.ToSlash(dir), name), t)
		return err
	})
	if err != nil {
		return "", err
	}
	return out, nil
}

// List returns the snapshots in dir, oldest first by modification time, ties
// broken by file name. A missing directory has no snapshots.
func (s *Store) List(dir string) ([]SnapshotInfo, error) {
	absDir, err := s.resolver.Dir(dir)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(absDir)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	var out []SnapshotInfo
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), paths.TableExt) {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("failed to stat snapshot: %w", err)
		}
		p := filepath.Join(absDir, e.Name())
		rel, err := s.resolver.Rel(p)
		if err != nil {
			return nil, err
		}
		out = append(out, SnapshotInfo{Name: rel, Path: p, ModTime: fi.ModTime()})
	}
	slices.SortFunc(out, func(a, b SnapshotInfo) int {
		if c := a.ModTime.Compare(b.ModTime); c != 0 {
			return c
		}
		return strings.Compare(filepath.Base(a.Path), filepath.Base(b.Path))
	})
	return out, nil
}

// Latest returns the most recent snapshot in dir. ok is false when dir has
// none.
func (s *Store) Latest(dir string) (info SnapshotInfo, ok bool, err error) {
	all, err := s.List(dir)
	if err != nil || len(all) == 0 {
		return SnapshotInfo{}, false, err
	}
	return all[len(all)-1], true, nil
}

// LatestTable reads the most recent snapshot in dir. It returns an empty table
// when dir has none.
func (s *Store) LatestTable(ctx context.Context, dir string) (*Table, SnapshotInfo, error) {
	info, ok, err := s.Latest(dir)
	if err != nil {
		return nil, SnapshotInfo{}, err
	}
	if !ok {
		return &Table{}, SnapshotInfo{}, nil
	}
	t, err := s.readPath(ctx, info.Path)
	return t, info, err
}

// ParseTimestamp recovers the creation time embedded in a snapshot file name,
// interpreted in loc. Collision counters are ignored.
func ParseTimestamp(name string, loc *time.Location) (time.Time, error) {
	stem := strings.TrimSuffix(filepath.Base(filepath.FromSlash(name)), filepath.Ext(name))
	parts := strings.Split(stem, "_")
	// Try with and without a trailing collision counter.
	for _, drop := range []int{0, 1} {
		n := len(parts) - drop
		if n < 2 {
			break
		}
		ts := parts[n-2] + "_" + parts[n-1]
		if t, err := time.ParseInLocation(TimestampLayout, ts, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("no timestamp in snapshot name %q", name)
}
