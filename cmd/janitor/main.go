package main

import (
	"fmt"
	"os"

	"github.com/XaviArnaus/janitor/internal/config"
	"github.com/XaviArnaus/janitor/internal/logging"
	"github.com/XaviArnaus/janitor/internal/monitoring"
	"github.com/XaviArnaus/janitor/internal/storage"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	cfgFile string
	verbose bool
	dryRun  bool
)

var rootCmd = &cobra.Command{
	Use:   "janitor",
	Short: "Watches git repositories and system health, and posts about it to Mastodon-like instances",
	Long: `janitor detects new changelog versions and commits in git repositories
and publishes them to Mastodon, Pleroma or Firefish accounts. Posts that
cannot be published are kept in a queue and retried later.

  janitor serve           Run the scheduler and the HTTP listener
  janitor git-changes     Check the monitored repositories once
  janitor publish-queue   Publish what is waiting in the queue
  janitor sysinfo         Report this host's metrics if a threshold is crossed
  janitor publish-test    Post a test message
  janitor update-ddns     Point the dynamic DNS entries to the current external IP
  janitor whatismyip      Print the external IP of this host`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "do not publish nor store anything")

	rootCmd.AddCommand(
		serveCmd,
		gitChangesCmd,
		publishQueueCmd,
		sysinfoCmd,
		publishTestCmd,
		updateDDNSCmd,
		whatIsMyIPCmd,
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// bootstrap loads the configuration, sets up logging and builds the
// monitoring service. One-shot commands log as text, serve as JSON unless
// configured otherwise.
func bootstrap(textLogs bool) (*config.Config, *monitoring.Service, error) {
	if err := godotenv.Load(); err != nil {
		logrus.Debug("No .env file found, using environment variables")
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if dryRun {
		cfg.App.DryRun = true
	}

	if err := logging.Setup(cfg.Logger, cfg.App.Debug || verbose, textLogs); err != nil {
		return nil, nil, fmt.Errorf("failed to set up logging: %w", err)
	}

	st, err := storage.New(cfg.Storage)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	service, err := monitoring.NewService(cfg, st)
	if err != nil {
		return nil, nil, err
	}

	if cfg.App.DryRun {
		logrus.Warn("Running dry, nothing will be published nor stored")
	}
	return cfg, service, nil
}
