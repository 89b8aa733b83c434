package sysinfo

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
)

// Sender posts reports to the listener of another janitor
type Sender struct {
	url    string
	client *resty.Client
}

// NewSender creates a Sender for the listener at baseURL
func NewSender(baseURL string) *Sender {
	return &Sender{
		url: strings.TrimRight(baseURL, "/") + "/sysinfo",
		client: resty.New().
			SetTimeout(30*time.Second).
			SetHeader("User-Agent", "Janitor/1.0"),
	}
}

// Send posts the report as {"sys_data": {...}}
func (s *Sender) Send(ctx context.Context, r Report) error {
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(map[string]any{"sys_data": r.ToMap()}).
		Post(s.url)
	if err != nil {
		return fmt.Errorf("failed to send system info: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("failed to send system info: %s answered %d", s.url, resp.StatusCode())
	}

	logrus.Infof("System info of %s sent to %s", r.Hostname, s.url)
	return nil
}
