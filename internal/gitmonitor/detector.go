// Package gitmonitor detects what is new in a monitored git repository and
// narrates it as a Message.
//
// A Detector is built for one repository, then Discover takes a snapshot of
// the new changes against the persisted progress. Every other method works
// on that snapshot.
package gitmonitor

import (
	"context"
	"fmt"
	"strings"

	"github.com/XaviArnaus/janitor/internal/models"
	"github.com/XaviArnaus/janitor/internal/state"
)

const (
	keyLastVersion = "last_version"
	keyLastCommit  = "last_commit"
)

// ProgressStore persists the last known change of every repository
type ProgressStore interface {
	Get(namespace, key string) (string, error)
	Set(namespace, key, value string) error
}

// Detector finds the changes of a repository since the last known one.
// It is implemented by ChangelogDetector and CommitDetector only.
type Detector interface {
	// Discover takes the snapshot of new changes. Call it once, before
	// anything else.
	Discover(ctx context.Context) error
	// CurrentLastKnown is the persisted progress, "" on the first run
	CurrentLastKnown() (string, error)
	// NewLastKnown is the key of the newest discovered change, "" when
	// nothing is new
	NewLastKnown() string
	// Changes returns the discovered changes, newest first
	Changes() []models.Change
	// BuildUpdateMessage narrates the changes oldest first, nil when
	// nothing is new
	BuildUpdateMessage() *models.Message
	// WriteNewLastKnown persists value as the progress of the repository
	WriteNewLastKnown(value string) error
	// ChangesNote is a one line digest of the changes
	ChangesNote() string

	detector()
}

// NewDetector selects the detector matching the monitoring method of src
func NewDetector(src models.MonitoredSource, repo WorkingCopy, progress ProgressStore) (Detector, error) {
	switch src.MonitoringMethod {
	case models.MonitorChangelog:
		return NewChangelogDetector(src, repo, progress)
	case models.MonitorCommits:
		return NewCommitDetector(src, repo, progress), nil
	default:
		return nil, &ConfigError{
			Source: src.Name,
			Reason: fmt.Sprintf("unknown monitoring method %q", src.MonitoringMethod),
		}
	}
}

// Detect builds the detector for src and runs its discovery
func Detect(ctx context.Context, src models.MonitoredSource, repo WorkingCopy, progress ProgressStore) (Detector, error) {
	d, err := NewDetector(src, repo, progress)
	if err != nil {
		return nil, err
	}
	if err := d.Discover(ctx); err != nil {
		return nil, err
	}
	return d, nil
}

// base holds what both detectors share
type base struct {
	source   models.MonitoredSource
	repo     WorkingCopy
	progress ProgressStore
	key      string
	changes  []models.Change
}

func (b *base) detector() {}

func (b *base) namespace() string {
	return state.Namespace(b.source.RemoteID())
}

func (b *base) CurrentLastKnown() (string, error) {
	value, err := b.progress.Get(b.namespace(), b.key)
	if err != nil {
		return "", fmt.Errorf("reading progress of %q: %w", b.source.Name, err)
	}
	return value, nil
}

func (b *base) NewLastKnown() string {
	if len(b.changes) == 0 {
		return ""
	}
	return b.changes[0].Key
}

func (b *base) Changes() []models.Change {
	changes := make([]models.Change, len(b.changes))
	copy(changes, b.changes)
	return changes
}

func (b *base) WriteNewLastKnown(value string) error {
	if err := b.progress.Set(b.namespace(), b.key, value); err != nil {
		return fmt.Errorf("writing progress of %q: %w", b.source.Name, err)
	}
	return nil
}

// chronological returns the changes oldest first
func (b *base) chronological() []models.Change {
	changes := make([]models.Change, 0, len(b.changes))
	for i := len(b.changes) - 1; i >= 0; i-- {
		changes = append(changes, b.changes[i])
	}
	return changes
}

// headline renders "**[name](url) what** published!"
func (b *base) headline(what string) string {
	project := b.source.Name
	if b.source.URL != "" {
		project = fmt.Sprintf("[%s](%s)", b.source.Name, b.source.URL)
	}
	return fmt.Sprintf("**%s %s** published!", project, what)
}

func (b *base) tagsLine() string {
	if len(b.source.Tags) == 0 {
		return ""
	}
	return strings.Join(b.source.Tags, " ") + "\n"
}

// joinVersions renders v1 / v1 & v2 / v1, v2 & v3
func joinVersions(versions []string) string {
	switch len(versions) {
	case 0:
		return ""
	case 1:
		return versions[0]
	default:
		last := len(versions) - 1
		return strings.Join(versions[:last], ", ") + " & " + versions[last]
	}
}
