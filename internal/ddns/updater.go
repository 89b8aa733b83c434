// Package ddns keeps dynamic DNS entries pointing to the external IP of the
// host the bot runs on.
package ddns

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/XaviArnaus/janitor/internal/config"
	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
)

const (
	namespace = "directnic-ddns"
	keyLastIP = "last_external_ip"
)

// Store keeps the last external IP that was sent to the DNS provider
type Store interface {
	Get(namespace, key string) (string, error)
	Set(namespace, key, value string) error
}

// Result describes one update pass
type Result struct {
	IP      string
	Changed bool
	Updated int
	Failed  []string
}

// Updater asks an external service for the public IP and, when it changed,
// calls every configured update URL with it
type Updater struct {
	ipServiceURL string
	updates      []string
	store        Store
	client       *resty.Client
}

// NewUpdater creates an Updater
func NewUpdater(cfg config.DDNSConfig, store Store) *Updater {
	return &Updater{
		ipServiceURL: cfg.IPServiceURL,
		updates:      cfg.Updates,
		store:        store,
		client: resty.New().
			SetTimeout(15*time.Second).
			SetHeader("User-Agent", "Janitor/1.0"),
	}
}

// ExternalIP returns the public IPv4 address of this host
func (u *Updater) ExternalIP(ctx context.Context) (string, error) {
	resp, err := u.client.R().SetContext(ctx).Get(u.ipServiceURL)
	if err != nil {
		return "", fmt.Errorf("failed to get the external IP: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("failed to get the external IP: %s answered %d", u.ipServiceURL, resp.StatusCode())
	}

	ip := strings.TrimSpace(resp.String())
	if parsed := net.ParseIP(ip); parsed == nil || parsed.To4() == nil {
		return "", fmt.Errorf("external IP service returned %q, not an IPv4 address", ip)
	}

	logrus.Infof("External IP is %s", ip)
	return ip, nil
}

// Update sends the external IP to every update URL when it differs from
// the last one sent. The new IP is stored even if some URLs failed, those
// are listed in the result.
func (u *Updater) Update(ctx context.Context, dryRun bool) (*Result, error) {
	ip, err := u.ExternalIP(ctx)
	if err != nil {
		return nil, err
	}

	last, err := u.store.Get(namespace, keyLastIP)
	if err != nil {
		return nil, err
	}

	result := &Result{IP: ip}
	if last == ip {
		logrus.Info("External IP is the same as the last known")
		return result, nil
	}
	logrus.Infof("External IP changed from %q to %s", last, ip)
	result.Changed = true

	if dryRun {
		logrus.Info("Dry run, not sending updates")
		return result, nil
	}

	for _, partial := range u.updates {
		link := partial + ip
		if err := u.send(ctx, link); err != nil {
			logrus.Errorf("Failed call to %s: %v", link, err)
			result.Failed = append(result.Failed, link)
			continue
		}
		result.Updated++
	}

	if err := u.store.Set(namespace, keyLastIP, ip); err != nil {
		return result, fmt.Errorf("storing the external IP: %w", err)
	}
	return result, nil
}

func (u *Updater) send(ctx context.Context, link string) error {
	resp, err := u.client.R().SetContext(ctx).Get(link)
	if err != nil {
		return err
	}
	if resp.StatusCode() != 200 {
		return fmt.Errorf("status %d", resp.StatusCode())
	}
	return nil
}
