// Package history keeps a git history of every table committed under the data
// root, using go-git (pure Go, no git binary dependency).
package history

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/maruel/kitchenstore/internal/atomicfile"
	"github.com/maruel/kitchenstore/internal/lock"
)

// Default commit identity.
const (
	DefaultName  = "kitchenstore"
	DefaultEmail = "kitchenstore@localhost"
)

const gitignore = "*.lock\n*.tmp\n.env\n"

// Commit is one entry of a file's history.
type Commit struct {
	Hash    string    `json:"hash"`
	Message string    `json:"message"`
	Author  string    `json:"author"`
	When    time.Time `json:"when"`
}

// Repo records table writes as git commits.
//
// Commits from several processes are serialized by an advisory lock inside
// the .git directory.
type Repo struct {
	dir     string
	name    string
	email   string
	repo    *gogit.Repository
	locker  lock.Locker
	timeout time.Duration
	mu      sync.Mutex
}

// Open opens the repository at dir, initializing it on first use.
func Open(dir string, locker lock.Locker, timeout time.Duration) (*Repo, error) {
	repo, err := gogit.PlainOpen(dir)
	if err != nil {
		if !errors.Is(err, gogit.ErrRepositoryNotExists) {
			return nil, fmt.Errorf("failed to open git repo: %w", err)
		}
		if repo, err = gogit.PlainInit(dir, false); err != nil {
			return nil, fmt.Errorf("failed to initialize git repo: %w", err)
		}
		cfg, err := repo.Config()
		if err != nil {
			return nil, fmt.Errorf("failed to read git config: %w", err)
		}
		cfg.User.Name = DefaultName
		cfg.User.Email = DefaultEmail
		if err := repo.SetConfig(cfg); err != nil {
			return nil, fmt.Errorf("failed to write git config: %w", err)
		}
	}
	p := filepath.Join(dir, ".gitignore")
	if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
		if err := atomicfile.WriteFile(p, []byte(gitignore)); err != nil {
			return nil, err
		}
	}
	if locker == nil {
		locker = lock.NewSentinel(timeout, 0, nil)
	}
	return &Repo{
		dir:     dir,
		name:    DefaultName,
		email:   DefaultEmail,
		repo:    repo,
		locker:  locker,
		timeout: timeout,
	}, nil
}

// Record commits the current content of path with message. Nothing is
// committed when the content did not change.
func (r *Repo) Record(ctx context.Context, path, message string) error {
	rel, err := r.rel(path)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return lock.Do(ctx, r.locker, lock.PathFor(filepath.Join(r.dir, ".git", "kitchenstore")), r.timeout, func() error {
		w, err := r.repo.Worktree()
		if err != nil {
			return fmt.Errorf("failed to get worktree: %w", err)
		}
		if _, err := w.Add(rel); err != nil {
			return fmt.Errorf("failed to stage %s: %w", rel, err)
		}
		status, err := w.Status()
		if err != nil {
			return fmt.Errorf("failed to get worktree status: %w", err)
		}
		// Files absent from the status map report Untracked.
		if s := status.File(rel); s.Staging == gogit.Unmodified || s.Staging == gogit.Untracked {
			return nil
		}
		now := time.Now()
		sig := &object.Signature{Name: r.name, Email: r.email, When: now}
		if _, err = w.Commit(message, &gogit.CommitOptions{Author: sig, Committer: sig}); err != nil {
			return fmt.Errorf("failed to commit: %w", err)
		}
		return nil
	})
}

// History returns up to n commits touching path, newest first. An empty path
// returns the history of the whole data root.
func (r *Repo) History(_ context.Context, path string, n int) ([]Commit, error) {
	if n <= 0 || n > 1000 {
		n = 1000
	}
	opts := &gogit.LogOptions{}
	if path != "" {
		rel, err := r.rel(path)
		if err != nil {
			return nil, err
		}
		opts.FileName = &rel
	}
	iter, err := r.repo.Log(opts)
	if err != nil {
		// No commits yet.
		return nil, nil
	}
	defer iter.Close()

	var commits []Commit
	for range n {
		c, err := iter.Next()
		if err != nil {
			break
		}
		subject, _, _ := strings.Cut(c.Message, "\n")
		commits = append(commits, Commit{
			Hash:    c.Hash.String(),
			Message: subject,
			Author:  c.Author.Name,
			When:    c.Author.When,
		})
	}
	return commits, nil
}

// FileAt returns the content of path at commit hash. "HEAD" is accepted.
func (r *Repo) FileAt(_ context.Context, hash, path string) ([]byte, error) {
	rel, err := r.rel(path)
	if err != nil {
		return nil, err
	}
	h := plumbing.NewHash(hash)
	if hash == "HEAD" {
		ref, err := r.repo.Head()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve HEAD: %w", err)
		}
		h = ref.Hash()
	}
	c, err := r.repo.CommitObject(h)
	if err != nil {
		return nil, fmt.Errorf("failed to get commit: %w", err)
	}
	f, err := c.File(rel)
	if err != nil {
		return nil, fmt.Errorf("failed to get file at commit: %w", err)
	}
	reader, err := f.Reader()
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer func() { _ = reader.Close() }()
	return io.ReadAll(reader)
}

// rel maps an absolute or root relative path to a slash separated path inside
// the repository.
func (r *Repo) rel(path string) (string, error) {
	if !filepath.IsAbs(path) {
		path = filepath.Join(r.dir, filepath.FromSlash(path))
	}
	rel, err := filepath.Rel(r.dir, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("path %q is outside of the repository", path)
	}
	return filepath.ToSlash(rel), nil
}
