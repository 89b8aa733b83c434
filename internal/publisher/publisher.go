// Package publisher delivers messages to one account, retrying failed posts
// and requeuing what could not be delivered.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/XaviArnaus/janitor/internal/config"
	"github.com/XaviArnaus/janitor/internal/formatter"
	"github.com/XaviArnaus/janitor/internal/mastodon"
	"github.com/XaviArnaus/janitor/internal/models"
	"github.com/XaviArnaus/janitor/internal/queue"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const ellipsis = "..."

// PublishError is returned once every attempt to post a message failed
type PublishError struct {
	Account  string
	Attempts int
	Requeued bool
	Err      error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("failed to publish to account %q after %d attempts: %v", e.Account, e.Attempts, e.Err)
}

func (e *PublishError) Unwrap() error {
	return e.Err
}

// Settings is the publishing policy shared by every account
type Settings struct {
	MaxRetries int
	RetryWait  time.Duration
	DryRun     bool
	OnlyOldest bool
}

// SettingsFromConfig extracts the publishing policy from the configuration
func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		MaxRetries: cfg.Publisher.MaxRetries,
		RetryWait:  cfg.Publisher.RetryWait,
		DryRun:     cfg.App.DryRun,
		OnlyOldest: cfg.Publisher.OnlyOldest,
	}
}

// Publisher publishes messages to one account
type Publisher struct {
	account   string
	maxLength int
	settings  Settings
	formatter *formatter.Formatter
	poster    mastodon.Poster
	queue     *queue.Queue
	sleep     func(ctx context.Context, d time.Duration) error
}

// New creates a Publisher for the named account. q receives the messages
// requeued after a failure and is the one PublishAllFromQueue drains: it
// must be loaded before it is handed over.
func New(name string, account config.AccountConfig, settings Settings, poster mastodon.Poster, q *queue.Queue) (*Publisher, error) {
	f, err := formatter.New(account.StatusParams)
	if err != nil {
		return nil, fmt.Errorf("account %q: %w", name, err)
	}

	if settings.MaxRetries < 1 {
		settings.MaxRetries = 1
	}

	return &Publisher{
		account:   name,
		maxLength: account.StatusParams.MaxLength,
		settings:  settings,
		formatter: f,
		poster:    poster,
		queue:     q,
		sleep:     sleepContext,
	}, nil
}

// ForAccount creates a Publisher posting through the API of the named
// account in the configuration.
func ForAccount(cfg *config.Config, name string, q *queue.Queue) (*Publisher, error) {
	account, err := cfg.Account(name)
	if err != nil {
		return nil, err
	}
	return New(name, account, SettingsFromConfig(cfg), mastodon.NewClient(account), q)
}

// Account is the name of the account this publisher posts to
func (p *Publisher) Account() string {
	return p.account
}

// Queue returns the queue used for requeuing and draining
func (p *Publisher) Queue() *queue.Queue {
	return p.queue
}

// Text publishes content with no severity
func (p *Publisher) Text(ctx context.Context, content, summary string, requeueIfFails bool) (*mastodon.PostResult, error) {
	return p.PublishMessage(ctx, models.NewMessage(summary, content, models.SeverityNone), requeueIfFails)
}

func (p *Publisher) Info(ctx context.Context, content, summary string, requeueIfFails bool) (*mastodon.PostResult, error) {
	return p.PublishMessage(ctx, models.NewMessage(summary, content, models.SeverityInfo), requeueIfFails)
}

func (p *Publisher) Warning(ctx context.Context, content, summary string, requeueIfFails bool) (*mastodon.PostResult, error) {
	return p.PublishMessage(ctx, models.NewMessage(summary, content, models.SeverityWarning), requeueIfFails)
}

func (p *Publisher) Error(ctx context.Context, content, summary string, requeueIfFails bool) (*mastodon.PostResult, error) {
	return p.PublishMessage(ctx, models.NewMessage(summary, content, models.SeverityError), requeueIfFails)
}

func (p *Publisher) Alarm(ctx context.Context, content, summary string, requeueIfFails bool) (*mastodon.PostResult, error) {
	return p.PublishMessage(ctx, models.NewMessage(summary, content, models.SeverityAlarm), requeueIfFails)
}

// PublishQueueItem publishes the message of a queued item, without
// requeuing it on failure
func (p *Publisher) PublishQueueItem(ctx context.Context, item *models.QueueItem) (*mastodon.PostResult, error) {
	return p.PublishMessage(ctx, &item.Message, false)
}

// PublishMessage formats msg, truncates it to the account limit and posts
// it, waiting RetryWait between attempts. After MaxRetries failed attempts
// it returns a *PublishError; with requeueIfFails the message is also put
// back at the head of the queue and the queue is saved.
//
// Errors reporting themselves as not temporary are returned right away,
// without retrying nor requeuing.
func (p *Publisher) PublishMessage(ctx context.Context, msg *models.Message, requeueIfFails bool) (*mastodon.PostResult, error) {
	post := p.formatter.BuildStatusPost(msg)
	post.Status = Truncate(post.Status, p.maxLength)

	if p.settings.DryRun {
		logrus.Infof("Dry run, not publishing to %s: %q", p.account, post.Status)
		return &mastodon.PostResult{DryRun: true}, nil
	}

	// One key for every attempt, so a post that went through before timing
	// out is not created twice.
	post.IdempotencyKey = uuid.NewString()

	var (
		lastErr  error
		attempts int
	)
	for attempts < p.settings.MaxRetries {
		attempts++

		result, err := p.poster.PostStatus(ctx, post)
		if err == nil {
			logrus.Infof("Published to %s after %d attempt(s)", p.account, attempts)
			return result, nil
		}
		lastErr = err

		if !isTemporary(err) {
			logrus.Errorf("Cannot publish to %s: %v", p.account, err)
			return nil, err
		}

		logrus.Warnf("Attempt %d/%d to publish to %s failed: %v", attempts, p.settings.MaxRetries, p.account, err)

		if attempts < p.settings.MaxRetries {
			if err := p.sleep(ctx, p.settings.RetryWait); err != nil {
				lastErr = err
				break
			}
		}
	}

	pubErr := &PublishError{Account: p.account, Attempts: attempts, Err: lastErr}
	logrus.Error(pubErr)

	if requeueIfFails && p.queue != nil {
		p.queue.Unpop(models.NewQueueItem(msg))
		if err := p.queue.Save(); err != nil {
			logrus.Errorf("Failed to save the requeued message: %v", err)
		} else {
			pubErr.Requeued = true
			logrus.Infof("Message requeued at the head of the queue")
		}
	}

	return nil, pubErr
}

// ReloadQueue loads the queue from storage and returns how many items it
// gained (or lost) compared to what was in memory.
func (p *Publisher) ReloadQueue() (int, error) {
	previous := p.queue.Length()
	current, err := p.queue.Load()
	if err != nil {
		return 0, err
	}
	return current - previous, nil
}

// PublishAllFromQueue pops and publishes until the queue is empty, or only
// the oldest item with OnlyOldest. An item that cannot be published goes
// back to the head and draining stops there. The queue is saved afterwards
// unless running dry.
func (p *Publisher) PublishAllFromQueue(ctx context.Context) (int, error) {
	if p.queue.IsEmpty() {
		logrus.Info("The queue is empty, skipping")
		return 0, nil
	}

	var (
		published int
		failure   error
	)
	for !p.queue.IsEmpty() {
		if err := ctx.Err(); err != nil {
			failure = err
			break
		}

		item := p.queue.Pop()
		if _, err := p.PublishQueueItem(ctx, item); err != nil {
			p.queue.Unpop(item)
			failure = err
			break
		}
		published++

		if p.settings.OnlyOldest {
			logrus.Info("Publishing only the oldest item per run, finishing")
			break
		}
	}

	if !p.settings.DryRun {
		if err := p.queue.Save(); err != nil {
			return published, errors.Join(failure, err)
		}
	}

	return published, failure
}

// Truncate shortens status to max characters, the last three being "..."
func Truncate(status string, max int) string {
	runes := []rune(status)
	if max <= 0 || len(runes) <= max {
		return status
	}
	if max <= len(ellipsis) {
		return string(runes[:max])
	}
	return string(runes[:max-len(ellipsis)]) + ellipsis
}

func isTemporary(err error) bool {
	var t interface{ Temporary() bool }
	if errors.As(err, &t) {
		return t.Temporary()
	}
	return true
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
