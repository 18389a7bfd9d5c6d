package tabledb

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/maruel/kitchenstore/internal/paths"
)

// Watch purges the cache whenever a table file under the data root changes,
// including changes made by other processes. Directories created while
// watching are watched too.
//
// It blocks until ctx is done and then returns nil.
func (s *Store) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer func() { _ = w.Close() }()
	if err := addTree(w, s.resolver.Root()); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Create) {
				if err := addTree(w, event.Name); err != nil {
					s.log.DebugContext(ctx, "failed to watch new path", "path", event.Name, "err", err)
				}
			}
			if !strings.EqualFold(filepath.Ext(event.Name), paths.TableExt) {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				s.log.DebugContext(ctx, "table changed on disk", "path", event.Name, "op", event.Op.String())
				s.cache.purge()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.log.WarnContext(ctx, "Error watching data root", "err", err)
		}
	}
}

// addTree watches root and every directory below it. A root that is not a
// directory is ignored.
func addTree(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") && p != root {
			return filepath.SkipDir
		}
		if err := w.Add(p); err != nil {
			return fmt.Errorf("failed to watch %s: %w", p, err)
		}
		return nil
	})
}
