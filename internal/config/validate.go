package config

import (
	"fmt"
	"strings"

	"github.com/XaviArnaus/janitor/internal/models"
	"github.com/go-playground/validator/v10"
)

const (
	DefaultMaxLength       = 500
	DefaultInstanceType    = "mastodon"
	DefaultMentionTemplate = "{{.Mention}}:\n\n{{.Text}}"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterStructValidation(sourceStructLevel, models.MonitoredSource{})
	return v
}

// sourceStructLevel enforces the rules that span several fields of a
// monitored repository.
func sourceStructLevel(sl validator.StructLevel) {
	src := sl.Current().Interface().(models.MonitoredSource)

	switch src.MonitoringMethod {
	case models.MonitorChangelog:
		if src.Params.File == "" {
			sl.ReportError(src.Params.File, "File", "file", "changelog_file", "")
		}
	case models.MonitorCommits:
	default:
		sl.ReportError(src.MonitoringMethod, "MonitoringMethod", "monitoring_method", "monitoring_method", string(src.MonitoringMethod))
	}
}

// Validate applies defaults that cannot be expressed through viper (map and
// list entries) and checks the whole configuration.
func (c *Config) Validate() error {
	c.applyDefaults()

	if err := validate.Struct(c); err != nil {
		return err
	}

	if _, ok := c.Accounts[strings.ToLower(c.Publisher.DefaultAccount)]; !ok {
		return fmt.Errorf("publisher.default_account %q is not defined under accounts", c.Publisher.DefaultAccount)
	}

	email := c.Notifications.Email
	if email.To != "" && email.SMTPHost == "" {
		return fmt.Errorf("notifications.email.smtp_host is required when notifications.email.to is set")
	}

	return nil
}

func (c *Config) applyDefaults() {
	for name, account := range c.Accounts {
		if account.InstanceType == "" {
			account.InstanceType = DefaultInstanceType
		}
		if account.StatusParams.MaxLength == 0 {
			account.StatusParams.MaxLength = DefaultMaxLength
		}
		if account.StatusParams.Visibility == "" {
			account.StatusParams.Visibility = models.VisibilityPublic
		}
		if account.StatusParams.ContentType == "" {
			account.StatusParams.ContentType = models.ContentTypePlain
		}
		if account.StatusParams.MentionTemplate == "" {
			account.StatusParams.MentionTemplate = DefaultMentionTemplate
		}
		c.Accounts[name] = account
	}

	for i := range c.GitMonitor.Repositories {
		src := &c.GitMonitor.Repositories[i]
		if src.NamedAccount == "" {
			src.NamedAccount = c.Publisher.DefaultAccount
		}
	}
}

// ValidateSource checks one monitored repository. An error here is a
// configuration error for that repository only.
func ValidateSource(src models.MonitoredSource) error {
	if err := validate.Struct(src); err != nil {
		return fmt.Errorf("invalid repository %q: %w", src.Name, err)
	}
	return nil
}
