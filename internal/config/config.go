package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/XaviArnaus/janitor/internal/models"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	App           AppConfig                `mapstructure:"app"`
	Logger        LoggerConfig             `mapstructure:"logger"`
	Storage       StorageConfig            `mapstructure:"storage"`
	Publisher     PublisherConfig          `mapstructure:"publisher"`
	Accounts      map[string]AccountConfig `mapstructure:"accounts" validate:"required,dive"`
	GitMonitor    GitMonitorConfig         `mapstructure:"git_monitor"`
	SystemInfo    SystemInfoConfig         `mapstructure:"system_info"`
	Listen        ListenConfig             `mapstructure:"listen"`
	Schedules     []ScheduleConfig         `mapstructure:"schedules" validate:"dive"`
	Notifications NotificationsConfig      `mapstructure:"notifications"`
	DDNS          DDNSConfig               `mapstructure:"directnic_ddns"`
}

type AppConfig struct {
	DryRun bool `mapstructure:"dry_run"`
	Debug  bool `mapstructure:"debug"`
}

type LoggerConfig struct {
	Level      string `mapstructure:"level" validate:"omitempty,oneof=debug info warn warning error"`
	Format     string `mapstructure:"format" validate:"omitempty,oneof=json text"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" validate:"min=0"`
	MaxBackups int    `mapstructure:"max_backups" validate:"min=0"`
	MaxAgeDays int    `mapstructure:"max_age_days" validate:"min=0"`
	Compress   bool   `mapstructure:"compress"`
}

type StorageConfig struct {
	Backend        string `mapstructure:"backend" validate:"oneof=local azure sqlite"`
	BasePath       string `mapstructure:"base_path"`
	QueueFile      string `mapstructure:"queue_file" validate:"required"`
	StateFile      string `mapstructure:"state_file" validate:"required"`
	AzureAccount   string `mapstructure:"azure_account" validate:"required_if=Backend azure"`
	AzureContainer string `mapstructure:"azure_container"`
	SQLiteFile     string `mapstructure:"sqlite_file"`
}

// PublisherConfig holds the retry policy and queue draining options
type PublisherConfig struct {
	MaxRetries       int           `mapstructure:"max_retries" validate:"min=1"`
	RetryWait        time.Duration `mapstructure:"retry_wait" validate:"min=0"`
	OnlyOldest       bool          `mapstructure:"only_oldest_post_every_iteration"`
	DefaultAccount   string        `mapstructure:"default_account" validate:"required"`
	RequeueOnFailure bool          `mapstructure:"requeue_on_failure"`
}

// AccountConfig is a named posting account on a Mastodon-like instance.
// InstanceType is checked when posting, not here.
type AccountConfig struct {
	InstanceType string       `mapstructure:"instance_type"`
	APIBaseURL   string       `mapstructure:"api_base_url" validate:"required,url"`
	AccessToken  string       `mapstructure:"access_token"`
	StatusParams StatusParams `mapstructure:"status_params"`
}

// StatusParams drives how a Message becomes a StatusPost for one account
type StatusParams struct {
	MaxLength       int                `mapstructure:"max_length" validate:"min=4"`
	Visibility      models.Visibility  `mapstructure:"visibility" validate:"oneof=public unlisted private direct"`
	ContentType     models.ContentType `mapstructure:"content_type" validate:"oneof=text/plain text/markdown text/html text/bbcode"`
	MentionTo       string             `mapstructure:"username_to_dm"`
	MentionTemplate string             `mapstructure:"mention_template"`
	MergeSpoiler    bool               `mapstructure:"merge_spoiler_into_status"`
	Language        string             `mapstructure:"language"`
}

// GitMonitorConfig lists the monitored repositories. Repositories are
// validated one by one when they are processed, so a broken entry only
// affects itself.
type GitMonitorConfig struct {
	FirstRun     string                   `mapstructure:"first_run" validate:"oneof=baseline notify"`
	Repositories []models.MonitoredSource `mapstructure:"repositories"`
}

const (
	FirstRunBaseline = "baseline"
	FirstRunNotify   = "notify"
)

type SystemInfoConfig struct {
	Thresholds              map[string]Threshold `mapstructure:"thresholds" validate:"dive"`
	HumanReadable           bool                 `mapstructure:"human_readable"`
	HumanReadableExceptions []string             `mapstructure:"human_readable_exceptions"`
	ItemNames               map[string]string    `mapstructure:"report_item_names_map"`
	DiskPath                string               `mapstructure:"disk_path"`
	RemoteURL               string               `mapstructure:"remote_url" validate:"omitempty,url"`
}

// Threshold raises a metric to Type severity when its value is above Value
type Threshold struct {
	Value float64 `mapstructure:"value"`
	Type  string  `mapstructure:"type" validate:"omitempty,oneof=none info warning error alarm"`
}

type ListenConfig struct {
	Host string `mapstructure:"host"`
	Port string `mapstructure:"port" validate:"required,numeric"`
}

// ScheduleConfig runs Action whenever the cron expression When matches
type ScheduleConfig struct {
	Name   string `mapstructure:"name" validate:"required"`
	When   string `mapstructure:"when" validate:"required"`
	Action string `mapstructure:"action" validate:"oneof=git_changes publish_queue sysinfo_local sysinfo_remote update_ddns"`
}

// DDNSConfig drives the dynamic DNS updater. Every entry of Updates is an
// update URL the current external IP is appended to.
type DDNSConfig struct {
	IPServiceURL string   `mapstructure:"ip_service_url" validate:"omitempty,url"`
	File         string   `mapstructure:"file"`
	Updates      []string `mapstructure:"updates" validate:"dive,url"`
}

type NotificationsConfig struct {
	Email EmailConfig `mapstructure:"email"`
}

type EmailConfig struct {
	To           string `mapstructure:"to" validate:"omitempty,email"`
	From         string `mapstructure:"from"`
	SMTPHost     string `mapstructure:"smtp_host"`
	SMTPPort     int    `mapstructure:"smtp_port"`
	SMTPUsername string `mapstructure:"smtp_username"`
	SMTPPassword string `mapstructure:"smtp_password"`
}

// Load reads the configuration file (config.yaml in the working directory
// or ./config when configPath is empty), applies JANITOR_* environment
// overrides and validates the result.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("JANITOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("config")
	}

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.dry_run", false)
	v.SetDefault("app.debug", false)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
	v.SetDefault("logger.file", "")
	v.SetDefault("logger.max_size_mb", 10)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age_days", 30)

	v.SetDefault("storage.backend", "local")
	v.SetDefault("storage.base_path", ".")
	v.SetDefault("storage.queue_file", "storage/queue.yaml")
	v.SetDefault("storage.state_file", "storage/git_monitor.yaml")
	v.SetDefault("storage.azure_container", "janitor")
	v.SetDefault("storage.sqlite_file", "storage/janitor.db")

	v.SetDefault("publisher.max_retries", 3)
	v.SetDefault("publisher.retry_wait", 10*time.Second)
	v.SetDefault("publisher.only_oldest_post_every_iteration", false)
	v.SetDefault("publisher.default_account", "default")
	v.SetDefault("publisher.requeue_on_failure", true)

	v.SetDefault("git_monitor.first_run", FirstRunBaseline)

	v.SetDefault("system_info.human_readable", true)
	v.SetDefault("system_info.human_readable_exceptions", []string{
		"cpu_percent", "cpu_count", "mem_percent", "disk_usage_percent",
	})
	v.SetDefault("system_info.disk_path", "/")

	v.SetDefault("listen.host", "0.0.0.0")
	v.SetDefault("listen.port", "5000")

	v.SetDefault("notifications.email.smtp_port", 587)

	v.SetDefault("directnic_ddns.ip_service_url", "https://api.ipify.org")
	v.SetDefault("directnic_ddns.file", "storage/external_ip.yaml")
}

// Account returns the named account configuration
func (c *Config) Account(name string) (AccountConfig, error) {
	account, ok := c.Accounts[strings.ToLower(name)]
	if !ok {
		return AccountConfig{}, fmt.Errorf("account %q is not configured", name)
	}
	return account, nil
}
