package notifications

import (
	"context"

	"github.com/XaviArnaus/janitor/internal/mastodon"
	"github.com/XaviArnaus/janitor/internal/models"
)

// NotificationInterface defines the contract for the notices about the
// bot's own runs
type NotificationInterface interface {
	SendSummary(ctx context.Context, text string) error
	SendError(ctx context.Context, cause error) error
}

// MessagePublisher is the part of publisher.Publisher used to post notices
type MessagePublisher interface {
	PublishMessage(ctx context.Context, msg *models.Message, requeueIfFails bool) (*mastodon.PostResult, error)
}
