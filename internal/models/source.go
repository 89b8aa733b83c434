package models

// MonitoringMethod selects how changes are detected for a MonitoredSource
type MonitoringMethod string

const (
	MonitorChangelog MonitoringMethod = "changelog"
	MonitorCommits   MonitoringMethod = "commits"
)

// MonitoredSource is a git repository configured for change detection
//
// URL is the public project page used in messages, Git the remote to clone
// from and Path the local working copy.
type MonitoredSource struct {
	Name             string           `mapstructure:"name" validate:"required"`
	URL              string           `mapstructure:"url"`
	Git              string           `mapstructure:"git"`
	Path             string           `mapstructure:"path" validate:"required"`
	MonitoringMethod MonitoringMethod `mapstructure:"monitoring_method"`
	NamedAccount     string           `mapstructure:"named_account"`
	Tags             []string         `mapstructure:"tags"`
	Params           SourceParams     `mapstructure:"params"`
}

// SourceParams holds the method specific parameters
type SourceParams struct {
	File             string   `mapstructure:"file"`
	SectionSeparator string   `mapstructure:"section_separator"`
	VersionRegex     string   `mapstructure:"version_regex"`
	IgnoreVersions   []string `mapstructure:"ignore_versions"`
}

// RemoteID is the stable identifier used to namespace persisted progress
func (s MonitoredSource) RemoteID() string {
	switch {
	case s.Git != "":
		return s.Git
	case s.URL != "":
		return s.URL
	default:
		return s.Path
	}
}

// Change is one newly discovered item: a changelog section keyed by its
// version, or a commit keyed by its full hash.
type Change struct {
	Key    string
	Author string // commits only
	Body   string
}
