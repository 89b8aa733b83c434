package gitmonitor

import (
	"context"
	"fmt"
	"strings"

	"github.com/XaviArnaus/janitor/internal/models"
	"github.com/sirupsen/logrus"
)

var lineBreaks = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ")

// CommitDetector lists the commits added since the last known one
type CommitDetector struct {
	base
}

var _ Detector = (*CommitDetector)(nil)

// NewCommitDetector builds the detector
func NewCommitDetector(src models.MonitoredSource, repo WorkingCopy, progress ProgressStore) *CommitDetector {
	return &CommitDetector{
		base: base{
			source:   src,
			repo:     repo,
			progress: progress,
			key:      keyLastCommit,
		},
	}
}

// Discover lists (last known, HEAD], or the whole history when there is no
// last known commit.
func (d *CommitDetector) Discover(ctx context.Context) error {
	lastKnown, err := d.CurrentLastKnown()
	if err != nil {
		return err
	}

	commits, err := d.repo.Log(ctx, lastKnown)
	if err != nil {
		return fmt.Errorf("listing commits of %q: %w", d.source.Name, err)
	}

	d.changes = make([]models.Change, 0, len(commits))
	for _, c := range commits {
		d.changes = append(d.changes, models.Change{
			Key:    c.Hash,
			Author: c.Author,
			Body:   lineBreaks.Replace(strings.TrimSpace(c.Message)),
		})
	}

	logrus.Debugf("Found %d new commits in %s since %q", len(d.changes), d.source.Name, lastKnown)
	return nil
}

// BuildUpdateMessage renders one bullet per commit, oldest first
func (d *CommitDetector) BuildUpdateMessage() *models.Message {
	if len(d.changes) == 0 {
		return nil
	}

	var b strings.Builder
	b.WriteString(d.headline(d.ChangesNote()))
	b.WriteString("\n\n")
	for _, change := range d.chronological() {
		fmt.Fprintf(&b, "- *%s*: %s\n", change.Author, change.Body)
	}
	b.WriteString(d.tagsLine())

	return models.NewMessage("", b.String(), models.SeverityNone)
}

func (d *CommitDetector) ChangesNote() string {
	return fmt.Sprintf("%d new commits", len(d.changes))
}
