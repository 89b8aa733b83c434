package gitmonitor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/XaviArnaus/janitor/internal/models"
	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/sirupsen/logrus"
)

const remoteName = "origin"

// Commit is one entry of the commit log
type Commit struct {
	Hash    string
	Author  string
	Message string
}

// WorkingCopy is the read-only view of a repository the detectors need
type WorkingCopy interface {
	// ReadFile returns the content of a file of the working tree
	ReadFile(name string) ([]byte, error)
	// Log lists the commits reachable from HEAD but not from since, newest
	// first. An empty since lists the whole history.
	Log(ctx context.Context, since string) ([]Commit, error)
}

// Repository is a local git working copy of a monitored source
type Repository struct {
	path string
	repo *gogit.Repository
}

// Ensure Repository implements WorkingCopy
var _ WorkingCopy = (*Repository)(nil)

// Open opens the working copy at src.Path, cloning it from src.Git first
// when the path does not exist yet.
func Open(ctx context.Context, src models.MonitoredSource) (*Repository, error) {
	if src.Path == "" {
		return nil, &ConfigError{Source: src.Name, Reason: "path is mandatory"}
	}

	_, err := os.Stat(src.Path)
	switch {
	case err == nil:
		repo, err := gogit.PlainOpen(src.Path)
		if err != nil {
			return nil, fmt.Errorf("opening repository at %s: %w", src.Path, err)
		}
		logrus.Debugf("Opened existing working copy %s", src.Path)
		return &Repository{path: src.Path, repo: repo}, nil

	case !errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("checking %s: %w", src.Path, err)
	}

	if src.Git == "" {
		return nil, &ConfigError{Source: src.Name, Reason: fmt.Sprintf("path %s does not exist and there is no git remote to clone", src.Path)}
	}

	if err := os.MkdirAll(filepath.Dir(src.Path), 0o755); err != nil {
		return nil, fmt.Errorf("creating destination parent: %w", err)
	}

	logrus.Infof("Cloning %s into %s", src.Git, src.Path)
	repo, err := gogit.PlainCloneContext(ctx, src.Path, false, &gogit.CloneOptions{
		URL:        src.Git,
		RemoteName: remoteName,
	})
	if err != nil {
		return nil, fmt.Errorf("cloning %s to %s: %w", src.Git, src.Path, err)
	}

	return &Repository{path: src.Path, repo: repo}, nil
}

// Pull brings the tracked branch up to date with origin. Working copies
// without an origin remote are left as they are.
func (r *Repository) Pull(ctx context.Context) error {
	if _, err := r.repo.Remote(remoteName); err != nil {
		if errors.Is(err, gogit.ErrRemoteNotFound) {
			logrus.Debugf("No %s remote in %s, skipping pull", remoteName, r.path)
			return nil
		}
		return fmt.Errorf("reading remote %s: %w", remoteName, err)
	}

	wt, err := r.repo.Worktree()
	if err != nil {
		return fmt.Errorf("opening worktree of %s: %w", r.path, err)
	}

	err = wt.PullContext(ctx, &gogit.PullOptions{RemoteName: remoteName})
	if err != nil && !errors.Is(err, gogit.NoErrAlreadyUpToDate) {
		return fmt.Errorf("pulling %s: %w", r.path, err)
	}

	return nil
}

// ReadFile returns the content of name relative to the working tree root
func (r *Repository) ReadFile(name string) ([]byte, error) {
	wt, err := r.repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("opening worktree of %s: %w", r.path, err)
	}

	f, err := wt.Filesystem.Open(name)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", name, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", name, err)
	}
	return data, nil
}

// Log lists the commits in (since, HEAD], the same range as
// git log since..HEAD. Commits brought in by merges are included even when
// since is the first parent of the merge.
func (r *Repository) Log(ctx context.Context, since string) ([]Commit, error) {
	head, err := r.repo.Head()
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("resolving HEAD: %w", err)
	}

	headCommit, err := r.repo.CommitObject(head.Hash())
	if err != nil {
		return nil, fmt.Errorf("reading HEAD commit of %s: %w", r.path, err)
	}

	known, err := r.ancestors(since)
	if err != nil {
		return nil, err
	}

	iter := object.NewCommitPreorderIter(headCommit, known, nil)
	defer iter.Close()

	var commits []Commit
	err = iter.ForEach(func(c *object.Commit) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		commits = append(commits, Commit{
			Hash:    c.Hash.String(),
			Author:  c.Author.Name,
			Message: c.Message,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking log of %s: %w", r.path, err)
	}

	return commits, nil
}

// ancestors returns since and every commit reachable from it. An empty or
// unknown since yields an empty set.
func (r *Repository) ancestors(since string) (map[plumbing.Hash]bool, error) {
	known := make(map[plumbing.Hash]bool)
	if since == "" {
		return known, nil
	}

	start, err := r.repo.CommitObject(plumbing.NewHash(since))
	if err != nil {
		if errors.Is(err, plumbing.ErrObjectNotFound) {
			logrus.Warnf("Commit %s is not in the history of %s, listing every commit", since, r.path)
			return known, nil
		}
		return nil, fmt.Errorf("reading commit %s: %w", since, err)
	}

	err = object.NewCommitPreorderIter(start, nil, nil).ForEach(func(c *object.Commit) error {
		known[c.Hash] = true
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking ancestors of %s: %w", since, err)
	}
	return known, nil
}
