package gitmonitor

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"slices"
	"strings"

	"github.com/XaviArnaus/janitor/internal/models"
	"github.com/sirupsen/logrus"
)

const (
	DefaultSectionSeparator = "\n## "
	DefaultVersionRegex     = `\[(v[0-9]+\.[0-9]+\.?[0-9]?)\]`
)

var (
	defaultVersionRegex = regexp.MustCompile(DefaultVersionRegex)
	headingRegex        = regexp.MustCompile(`(?m)^### (.+)\n\n`)
)

// ChangelogDetector reads the new version sections of a changelog file.
// Sections are expected newest first, each one starting with the
// separator and carrying a version that the regex extracts.
type ChangelogDetector struct {
	base
	separator    string
	versionRegex *regexp.Regexp
}

var _ Detector = (*ChangelogDetector)(nil)

// NewChangelogDetector builds the detector, compiling the configured regex
func NewChangelogDetector(src models.MonitoredSource, repo WorkingCopy, progress ProgressStore) (*ChangelogDetector, error) {
	if src.Params.File == "" {
		return nil, &ConfigError{Source: src.Name, Reason: "changelog monitoring needs params.file"}
	}

	re := defaultVersionRegex
	if src.Params.VersionRegex != "" {
		var err error
		if re, err = regexp.Compile(src.Params.VersionRegex); err != nil {
			return nil, &ConfigError{Source: src.Name, Reason: fmt.Sprintf("invalid version_regex: %v", err)}
		}
	}

	separator := src.Params.SectionSeparator
	if separator == "" {
		separator = DefaultSectionSeparator
	}

	return &ChangelogDetector{
		base: base{
			source:   src,
			repo:     repo,
			progress: progress,
			key:      keyLastVersion,
		},
		separator:    separator,
		versionRegex: re,
	}, nil
}

// Discover parses the whole changelog and keeps the sections newer than
// the last known version. A section without version fails the whole parse.
func (d *ChangelogDetector) Discover(_ context.Context) error {
	lastKnown, err := d.CurrentLastKnown()
	if err != nil {
		return err
	}

	content, err := d.repo.ReadFile(d.source.Params.File)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("changelog %s of %q does not exist: %w", d.source.Params.File, d.source.Name, err)
		}
		return err
	}

	sections, err := d.parse(string(content))
	if err != nil {
		return err
	}

	d.changes = nil
	for _, section := range sections {
		if section.Key == lastKnown {
			break
		}
		if slices.Contains(d.source.Params.IgnoreVersions, section.Key) {
			logrus.Debugf("Ignoring version %s of %s", section.Key, d.source.Name)
			continue
		}
		d.changes = append(d.changes, section)
	}

	logrus.Debugf("Found %d new versions in %s since %q", len(d.changes), d.source.Name, lastKnown)
	return nil
}

func (d *ChangelogDetector) parse(content string) ([]models.Change, error) {
	chunks := strings.Split(content, d.separator)
	if len(chunks) < 2 {
		return nil, nil
	}

	sections := make([]models.Change, 0, len(chunks)-1)
	for _, chunk := range chunks[1:] {
		title, _, _ := strings.Cut(chunk, "\n")
		match := d.versionRegex.FindStringSubmatch(title)
		if match == nil {
			return nil, &ParseError{Source: d.source.Name, File: d.source.Params.File, Section: title}
		}

		version := match[0]
		if len(match) > 1 {
			version = match[1]
		}
		sections = append(sections, models.Change{Key: version, Body: chunk})
	}

	return sections, nil
}

// BuildUpdateMessage renders the new sections oldest first, turning the
// "### Heading" lines into bold text.
func (d *ChangelogDetector) BuildUpdateMessage() *models.Message {
	if len(d.changes) == 0 {
		return nil
	}

	changes := d.chronological()
	bodies := make([]string, 0, len(changes))
	for _, change := range changes {
		bodies = append(bodies, headingRegex.ReplaceAllString(change.Body, "**$1**\n"))
	}

	text := d.headline(d.ChangesNote()) + "\n\n" +
		strings.Join(bodies, "\n") + "\n" +
		d.tagsLine()

	return models.NewMessage("", text, models.SeverityNone)
}

// ChangesNote lists the new versions in ascending order
func (d *ChangelogDetector) ChangesNote() string {
	changes := d.chronological()
	versions := make([]string, 0, len(changes))
	for _, change := range changes {
		versions = append(versions, change.Key)
	}
	return joinVersions(versions)
}
