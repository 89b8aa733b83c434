// Package mastodon posts statuses to Mastodon-like instances.
package mastodon

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/XaviArnaus/janitor/internal/config"
	"github.com/XaviArnaus/janitor/internal/models"
	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
)

const (
	TypeMastodon = "mastodon"
	TypePleroma  = "pleroma"
	TypeFirefish = "firefish"
)

// PostResult describes the created status. DryRun is set when nothing was
// actually sent.
type PostResult struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	CreatedAt time.Time `json:"created_at"`
	DryRun    bool      `json:"-"`
}

// InstanceTypeError is returned for an instance type we cannot post to.
// It is a configuration problem, retrying will not fix it.
type InstanceTypeError struct {
	InstanceType string
}

func (e *InstanceTypeError) Error() string {
	return fmt.Sprintf("unknown instance type %q", e.InstanceType)
}

func (e *InstanceTypeError) Temporary() bool {
	return false
}

// APIError is a non 2xx answer of the instance
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("instance returned status %d: %s", e.StatusCode, e.Body)
}

// Poster creates statuses on a remote instance
type Poster interface {
	PostStatus(ctx context.Context, post *models.StatusPost) (*PostResult, error)
}

// Client talks to the statuses API of one account
type Client struct {
	instanceType string
	baseURL      string
	client       *resty.Client
}

// Ensure Client implements Poster
var _ Poster = (*Client)(nil)

// NewClient creates a client for the given account
func NewClient(account config.AccountConfig) *Client {
	instanceType := strings.ToLower(account.InstanceType)
	if instanceType == "" {
		instanceType = TypeMastodon
	}

	client := resty.New().
		SetTimeout(30*time.Second).
		SetHeader("User-Agent", "Janitor/1.0")
	if account.AccessToken != "" {
		client.SetAuthToken(account.AccessToken)
	}

	return &Client{
		instanceType: instanceType,
		baseURL:      strings.TrimRight(account.APIBaseURL, "/"),
		client:       client,
	}
}

type statusRequest struct {
	Status      string            `json:"status"`
	InReplyToID string            `json:"in_reply_to_id,omitempty"`
	MediaIDs    []string          `json:"media_ids,omitempty"`
	Sensitive   bool              `json:"sensitive"`
	Visibility  models.Visibility `json:"visibility,omitempty"`
	SpoilerText string            `json:"spoiler_text,omitempty"`
	Language    string            `json:"language,omitempty"`
	ScheduledAt *time.Time        `json:"scheduled_at,omitempty"`
	Poll        *models.Poll      `json:"poll,omitempty"`
}

// pleromaStatusRequest adds the fields only Pleroma-like instances know
type pleromaStatusRequest struct {
	statusRequest
	ContentType models.ContentType `json:"content_type,omitempty"`
	QuoteID     string             `json:"quote_id,omitempty"`
}

// PostStatus creates the status and returns what the instance answered
func (c *Client) PostStatus(ctx context.Context, post *models.StatusPost) (*PostResult, error) {
	body, err := c.requestBody(post)
	if err != nil {
		return nil, err
	}

	req := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		SetResult(&PostResult{})
	if post.IdempotencyKey != "" {
		req.SetHeader("Idempotency-Key", post.IdempotencyKey)
	}

	resp, err := req.Post(c.baseURL + "/api/v1/statuses")
	if err != nil {
		return nil, fmt.Errorf("failed to post status: %w", err)
	}

	if resp.IsError() {
		return nil, &APIError{StatusCode: resp.StatusCode(), Body: string(resp.Body())}
	}

	result := resp.Result().(*PostResult)
	logrus.Debugf("Posted status %s to %s", result.ID, c.baseURL)
	return result, nil
}

func (c *Client) requestBody(post *models.StatusPost) (any, error) {
	base := statusRequest{
		Status:      post.Status,
		InReplyToID: post.InReplyToID,
		MediaIDs:    post.MediaIDs,
		Sensitive:   post.Sensitive,
		Visibility:  post.Visibility,
		SpoilerText: post.SpoilerText,
		Language:    post.Language,
		ScheduledAt: post.ScheduledAt,
		Poll:        post.Poll,
	}

	switch c.instanceType {
	case TypeMastodon, TypeFirefish:
		return base, nil
	case TypePleroma:
		return pleromaStatusRequest{
			statusRequest: base,
			ContentType:   post.ContentType,
			QuoteID:       post.QuoteID,
		}, nil
	default:
		return nil, &InstanceTypeError{InstanceType: c.instanceType}
	}
}
