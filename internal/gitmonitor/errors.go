package gitmonitor

import "fmt"

// ConfigError means a monitored repository cannot be processed as
// configured. Retrying without changing the configuration will not help.
type ConfigError struct {
	Source string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("repository %q is misconfigured: %s", e.Source, e.Reason)
}

// ParseError means the changelog of a repository could not be parsed. The
// whole detection pass is discarded and progress is left untouched.
type ParseError struct {
	Source  string
	File    string
	Section string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("repository %q: no version found in %s section %q", e.Source, e.File, e.Section)
}
