// Package atomicfile replaces files by writing a sibling temporary file and
// renaming it over the target.
//
// Readers of the target observe either the previous or the new complete
// content. The package takes no lock; callers serialize writers themselves.
package atomicfile

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// TmpSuffix is appended to the target path to name its temporary file.
const TmpSuffix = ".tmp"

// Writer streams the new content of a file.
//
// Create via [Create]. Call [Writer.Commit] to publish the content or
// [Writer.Abort] to discard it. Until Commit returns, the target is untouched.
type Writer struct {
	path    string
	tmpPath string
	file    *os.File // nil after Commit or Abort
}

// Create opens the temporary file for path, truncating any leftover from an
// interrupted earlier write.
func Create(path string, perm fs.FileMode) (*Writer, error) {
	tmp := path + TmpSuffix
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, perm) //nolint:gosec // G304: path is resolved by the caller
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	return &Writer{path: path, tmpPath: tmp, file: f}, nil
}

// Write implements io.Writer.
func (w *Writer) Write(p []byte) (int, error) {
	if w.file == nil {
		return 0, fs.ErrClosed
	}
	return w.file.Write(p)
}

// Commit flushes the temporary file to stable storage and renames it onto the
// target.
func (w *Writer) Commit() error {
	if w.file == nil {
		return fs.ErrClosed
	}
	f := w.file
	w.file = nil
	if err := f.Sync(); err != nil {
		return errors.Join(fmt.Errorf("failed to sync temp file: %w", err), f.Close(), os.Remove(w.tmpPath))
	}
	if err := f.Close(); err != nil {
		return errors.Join(fmt.Errorf("failed to close temp file: %w", err), os.Remove(w.tmpPath))
	}
	if err := os.Rename(w.tmpPath, w.path); err != nil {
		return errors.Join(fmt.Errorf("failed to rename temp file to %s: %w", filepath.Base(w.path), err), os.Remove(w.tmpPath))
	}
	return nil
}

// Abort discards the temporary file. It is a no-op after Commit.
func (w *Writer) Abort() error {
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	if rerr := os.Remove(w.tmpPath); rerr != nil && !errors.Is(rerr, fs.ErrNotExist) {
		err = errors.Join(err, rerr)
	}
	return err
}

// Write replaces path with the bytes produced by fn.
//
// If fn fails, the temporary file is removed and the target is left intact.
func Write(path string, fn func(w io.Writer) error) error {
	w, err := Create(path, 0o644)
	if err != nil {
		return err
	}
	if err := fn(w); err != nil {
		return errors.Join(err, w.Abort())
	}
	return w.Commit()
}

// WriteFile replaces path with data.
func WriteFile(path string, data []byte) error {
	return Write(path, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}

// CleanupTmp removes temporary files left in dir by interrupted writes. Only
// call it while no writer in any process can be active in dir.
func CleanupTmp(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read directory: %w", err)
	}
	var errs []error
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), TmpSuffix) {
			if err := os.Remove(filepath.Join(dir, entry.Name())); err != nil {
				errs = append(errs, fmt.Errorf("failed to remove temp file %s: %w", entry.Name(), err))
			}
		}
	}
	return errors.Join(errs...)
}
