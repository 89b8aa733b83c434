package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/XaviArnaus/janitor/internal/listener"
	"github.com/XaviArnaus/janitor/internal/scheduler"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduled jobs and the HTTP listener until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, service, err := bootstrap(false)
		if err != nil {
			return err
		}

		logrus.Info("Starting Janitor")

		schedulerService := scheduler.NewService(cfg, service)
		if err := schedulerService.Start(); err != nil {
			return err
		}
		defer schedulerService.Stop()

		server := listener.NewServer(cfg.Listen, service)
		serverErr := make(chan error, 1)
		go func() {
			serverErr <- server.Start()
		}()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		select {
		case err := <-serverErr:
			return err
		case <-ctx.Done():
		}

		logrus.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logrus.Errorf("Server forced to shutdown: %v", err)
		}

		logrus.Info("Server exited")
		return nil
	},
}

var gitChangesCmd = &cobra.Command{
	Use:   "git-changes",
	Short: "Check the monitored repositories and publish their updates",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, service, err := bootstrap(true)
		if err != nil {
			return err
		}
		return service.RunGitChanges(cmd.Context())
	},
}

var publishQueueCmd = &cobra.Command{
	Use:   "publish-queue",
	Short: "Publish the queued posts through the default account",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, service, err := bootstrap(true)
		if err != nil {
			return err
		}
		return service.RunPublishQueue(cmd.Context())
	},
}

var sysinfoRemote bool

var sysinfoCmd = &cobra.Command{
	Use:   "sysinfo",
	Short: "Collect this host's metrics and publish them if a threshold is crossed",
	Long: `Collect this host's metrics and publish them if a threshold is crossed.
With --remote the metrics are sent to the listener at system_info.remote_url,
which decides whether to publish them.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, service, err := bootstrap(true)
		if err != nil {
			return err
		}
		if sysinfoRemote {
			return service.RunSysInfoRemote(cmd.Context())
		}
		return service.RunSysInfoLocal(cmd.Context())
	},
}

var updateDDNSCmd = &cobra.Command{
	Use:   "update-ddns",
	Short: "Send the external IP to the dynamic DNS entries when it changed",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, service, err := bootstrap(true)
		if err != nil {
			return err
		}
		return service.RunUpdateDDNS(cmd.Context())
	},
}

var whatIsMyIPCmd = &cobra.Command{
	Use:   "whatismyip",
	Short: "Print the external IP of this host",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, service, err := bootstrap(true)
		if err != nil {
			return err
		}
		ip, err := service.ExternalIP(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), ip)
		return nil
	},
}

var testAccount string

var publishTestCmd = &cobra.Command{
	Use:   "publish-test",
	Short: "Post a test message to check an account's credentials",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, service, err := bootstrap(true)
		if err != nil {
			return err
		}
		if err := service.PublishTest(cmd.Context(), testAccount); err != nil {
			return err
		}
		logrus.Info("Test message published")
		return nil
	},
}

func init() {
	sysinfoCmd.Flags().BoolVar(&sysinfoRemote, "remote", false, "send the metrics to system_info.remote_url instead of evaluating them here")
	publishTestCmd.Flags().StringVar(&testAccount, "account", "", "account to post with (default: the publisher's default account)")
}
