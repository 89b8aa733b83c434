package gitmonitor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/XaviArnaus/janitor/internal/models"
	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// commitFile writes name and commits it, returning the new hash
func commitFile(t *testing.T, repo *gogit.Repository, dir, name, content, message string, when time.Time) string {
	t.Helper()

	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))

	wt, err := repo.Worktree()
	require.NoError(t, err)
	_, err = wt.Add(name)
	require.NoError(t, err)

	hash, err := wt.Commit(message, &gogit.CommitOptions{
		Author: &object.Signature{Name: "Xavi", Email: "xavi@example.com", When: when},
	})
	require.NoError(t, err)
	return hash.String()
}

func initRepository(t *testing.T) (string, *gogit.Repository, []string) {
	t.Helper()

	dir := t.TempDir()
	repo, err := gogit.PlainInit(dir, false)
	require.NoError(t, err)

	start := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	hashes := []string{
		commitFile(t, repo, dir, "CHANGELOG.md", changelog(section1), "first", start),
		commitFile(t, repo, dir, "CHANGELOG.md", changelog(section2, section1), "second\nwith body", start.Add(time.Hour)),
		commitFile(t, repo, dir, "CHANGELOG.md", changelog(section3, section2, section1), "third", start.Add(2*time.Hour)),
	}
	return dir, repo, hashes
}

func TestRepository_OpenExisting(t *testing.T) {
	dir, _, hashes := initRepository(t)
	ctx := context.Background()

	repo, err := Open(ctx, models.MonitoredSource{Name: "local", Path: dir})
	require.NoError(t, err)

	// No origin remote: nothing to pull
	require.NoError(t, repo.Pull(ctx))

	content, err := repo.ReadFile("CHANGELOG.md")
	require.NoError(t, err)
	assert.Equal(t, changelog(section3, section2, section1), string(content))

	_, err = repo.ReadFile("missing.md")
	assert.ErrorIs(t, err, os.ErrNotExist)

	all, err := repo.Log(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, hashes[2], all[0].Hash)
	assert.Equal(t, hashes[0], all[2].Hash)
	assert.Equal(t, "Xavi", all[0].Author)

	since, err := repo.Log(ctx, hashes[0])
	require.NoError(t, err)
	require.Len(t, since, 2)
	assert.Equal(t, hashes[2], since[0].Hash)
	assert.Equal(t, hashes[1], since[1].Hash)

	none, err := repo.Log(ctx, hashes[2])
	require.NoError(t, err)
	assert.Empty(t, none)
}

// commitWithParents commits the current index on top of the given parents
func commitWithParents(t *testing.T, repo *gogit.Repository, message string, when time.Time, parents ...string) string {
	t.Helper()

	wt, err := repo.Worktree()
	require.NoError(t, err)

	hashes := make([]plumbing.Hash, 0, len(parents))
	for _, p := range parents {
		hashes = append(hashes, plumbing.NewHash(p))
	}

	hash, err := wt.Commit(message, &gogit.CommitOptions{
		Author:            &object.Signature{Name: "Xavi", Email: "xavi@example.com", When: when},
		Parents:           hashes,
		AllowEmptyCommits: true,
	})
	require.NoError(t, err)
	return hash.String()
}

func TestRepository_LogThroughMerge(t *testing.T) {
	dir := t.TempDir()
	gitRepo, err := gogit.PlainInit(dir, false)
	require.NoError(t, err)
	ctx := context.Background()
	start := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

	// M merges C, branched from A, into B
	a := commitFile(t, gitRepo, dir, "README.md", "a", "A", start)
	b := commitFile(t, gitRepo, dir, "README.md", "b", "B", start.Add(time.Hour))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "feature.md"), []byte("c"), 0o644))
	wt, err := gitRepo.Worktree()
	require.NoError(t, err)
	_, err = wt.Add("feature.md")
	require.NoError(t, err)
	c := commitWithParents(t, gitRepo, "C", start.Add(2*time.Hour), a)
	m := commitWithParents(t, gitRepo, "Merge feature", start.Add(3*time.Hour), b, c)

	repo, err := Open(ctx, models.MonitoredSource{Name: "merge", Path: dir})
	require.NoError(t, err)

	tests := []struct {
		name  string
		since string
		want  []string
	}{
		{name: "Since the first parent", since: b, want: []string{m, c}},
		{name: "Since the branch point", since: a, want: []string{m, b, c}},
		{name: "Since the merged branch", since: c, want: []string{m, b}},
		{name: "Since HEAD", since: m},
		{name: "Unknown commit lists everything", since: "0123456789abcdef0123456789abcdef01234567", want: []string{m, b, a, c}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			commits, err := repo.Log(ctx, tt.since)
			require.NoError(t, err)

			var got []string
			for _, commit := range commits {
				got = append(got, commit.Hash)
			}
			assert.ElementsMatch(t, tt.want, got)
		})
	}
}

func TestRepository_CloneAndPull(t *testing.T) {
	origin, originRepo, hashes := initRepository(t)
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "repos", "clone")

	repo, err := Open(ctx, models.MonitoredSource{Name: "clone", Path: path, Git: origin})
	require.NoError(t, err)
	require.NoError(t, repo.Pull(ctx))

	commits, err := repo.Log(ctx, hashes[1])
	require.NoError(t, err)
	require.Len(t, commits, 1)

	newHash := commitFile(t, originRepo, origin, "README.md", "hello", "fourth", time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC))
	require.NoError(t, repo.Pull(ctx))

	commits, err = repo.Log(ctx, hashes[2])
	require.NoError(t, err)
	require.Len(t, commits, 1)
	assert.Equal(t, newHash, commits[0].Hash)
}

func TestRepository_OpenErrors(t *testing.T) {
	ctx := context.Background()
	missing := filepath.Join(t.TempDir(), "nowhere")

	tests := []struct {
		name      string
		src       models.MonitoredSource
		configErr bool
	}{
		{name: "No path", src: models.MonitoredSource{Name: "x", Git: "git@example.com:x.git"}, configErr: true},
		{name: "Missing path without git", src: models.MonitoredSource{Name: "x", Path: missing}, configErr: true},
		{name: "Path is not a repository", src: models.MonitoredSource{Name: "x", Path: t.TempDir()}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Open(ctx, tt.src)
			require.Error(t, err)
			var cfgErr *ConfigError
			assert.Equal(t, tt.configErr, errors.As(err, &cfgErr))
		})
	}
}
