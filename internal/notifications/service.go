package notifications

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/XaviArnaus/janitor/internal/config"
	"github.com/XaviArnaus/janitor/internal/models"
	"github.com/sirupsen/logrus"
	"gopkg.in/gomail.v2"
)

const errorTemplate = "Error while publishing updates:\n\n%s"

type mailer interface {
	DialAndSend(m ...*gomail.Message) error
}

// Service posts run summaries and error reports to the default account,
// and mails error reports when e-mail is configured
type Service struct {
	email     config.EmailConfig
	publisher MessagePublisher
	mailer    mailer
	dryRun    bool
}

// Ensure Service implements NotificationInterface
var _ NotificationInterface = (*Service)(nil)

// NewService creates a new notification service
func NewService(cfg *config.Config, publisher MessagePublisher) *Service {
	s := &Service{
		email:     cfg.Notifications.Email,
		publisher: publisher,
		dryRun:    cfg.App.DryRun,
	}
	if s.email.To != "" {
		s.mailer = gomail.NewDialer(s.email.SMTPHost, s.email.SMTPPort, s.email.SMTPUsername, s.email.SMTPPassword)
	}
	return s
}

// SendSummary posts text to the default account. A failed summary is
// requeued like any other message.
func (s *Service) SendSummary(ctx context.Context, text string) error {
	if _, err := s.publisher.PublishMessage(ctx, models.NewMessage("", text, models.SeverityNone), true); err != nil {
		return fmt.Errorf("failed to send summary: %w", err)
	}
	logrus.Info("Successfully sent run summary")
	return nil
}

// SendError reports cause through every configured channel. It is best
// effort: nothing is requeued and a failure here is only logged.
func (s *Service) SendError(ctx context.Context, cause error) error {
	text := fmt.Sprintf(errorTemplate, cause)
	var errs []error

	if _, err := s.publisher.PublishMessage(ctx, models.NewMessage("", text, models.SeverityError), false); err != nil {
		logrus.Errorf("Failed to post error report: %v", err)
		errs = append(errs, fmt.Errorf("post: %w", err))
	}

	switch {
	case s.mailer == nil:
	case s.dryRun:
		logrus.Infof("Dry run, not sending the error report email to %s", s.email.To)
	default:
		if err := s.sendEmail(text); err != nil {
			logrus.Errorf("Failed to send error report email: %v", err)
			errs = append(errs, fmt.Errorf("email: %w", err))
		} else {
			logrus.Info("Successfully sent error report via email")
		}
	}

	return errors.Join(errs...)
}

func (s *Service) sendEmail(text string) error {
	from := s.email.From
	if from == "" {
		from = s.email.SMTPUsername
	}

	m := gomail.NewMessage()
	m.SetHeader("From", from)
	m.SetHeader("To", s.email.To)
	m.SetHeader("Subject", fmt.Sprintf("Janitor error report - %s", time.Now().UTC().Format("2006-01-02 15:04 MST")))
	m.SetBody("text/plain", text)

	return s.mailer.DialAndSend(m)
}
