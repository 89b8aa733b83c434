package monitoring

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/XaviArnaus/janitor/internal/config"
	"github.com/XaviArnaus/janitor/internal/ddns"
	"github.com/XaviArnaus/janitor/internal/gitmonitor"
	"github.com/XaviArnaus/janitor/internal/mastodon"
	"github.com/XaviArnaus/janitor/internal/models"
	"github.com/XaviArnaus/janitor/internal/notifications"
	"github.com/XaviArnaus/janitor/internal/publisher"
	"github.com/XaviArnaus/janitor/internal/queue"
	"github.com/XaviArnaus/janitor/internal/state"
	"github.com/XaviArnaus/janitor/internal/storage"
	"github.com/XaviArnaus/janitor/internal/sysinfo"
	"github.com/sirupsen/logrus"
)

const runTimeout = 30 * time.Minute

// Publisher is the part of publisher.Publisher the service drives
type Publisher interface {
	PublishMessage(ctx context.Context, msg *models.Message, requeueIfFails bool) (*mastodon.PostResult, error)
	ReloadQueue() (int, error)
	PublishAllFromQueue(ctx context.Context) (int, error)
}

// PublisherFactory returns the Publisher for a named account
type PublisherFactory func(account string) (Publisher, error)

// WorkingCopy is a local clone that can be brought up to date
type WorkingCopy interface {
	gitmonitor.WorkingCopy
	Pull(ctx context.Context) error
}

// RepositoryOpener opens (cloning if needed) the working copy of a source
type RepositoryOpener func(ctx context.Context, src models.MonitoredSource) (WorkingCopy, error)

// MetricsCollector gathers a system report
type MetricsCollector interface {
	Collect(ctx context.Context) (sysinfo.Report, error)
}

// ReportSender hands a system report over to another janitor
type ReportSender interface {
	Send(ctx context.Context, r sysinfo.Report) error
}

// DDNSUpdater keeps dynamic DNS entries up to date
type DDNSUpdater interface {
	ExternalIP(ctx context.Context) (string, error)
	Update(ctx context.Context, dryRun bool) (*ddns.Result, error)
}

// Service runs the jobs of the bot: detecting git changes, draining the
// queue and reporting system metrics. Jobs never run concurrently.
type Service struct {
	config        *config.Config
	queue         *queue.Queue
	progress      gitmonitor.ProgressStore
	publishers    PublisherFactory
	notifications notifications.NotificationInterface
	openRepo      RepositoryOpener
	collector     MetricsCollector
	templater     *sysinfo.Templater
	sender        ReportSender
	ddns          DDNSUpdater

	run     sync.Mutex
	metrics *Metrics
	mu      sync.RWMutex
}

// Metrics holds monitoring metrics
type Metrics struct {
	LastRun          time.Time `json:"last_run"`
	LastRunDuration  string    `json:"last_run_duration"`
	SourcesChecked   int       `json:"sources_checked"`
	UpdatesPublished int       `json:"updates_published"`
	UpdatesRequeued  int       `json:"updates_requeued"`
	LastQueueRun     time.Time `json:"last_queue_run"`
	QueuePublished   int       `json:"queue_published"`
	QueueLength      int       `json:"queue_length"`
	ErrorCount       int       `json:"error_count"`
}

// Option customises a Service
type Option func(*Service)

func WithPublisherFactory(f PublisherFactory) Option {
	return func(s *Service) { s.publishers = f }
}

func WithNotifications(n notifications.NotificationInterface) Option {
	return func(s *Service) { s.notifications = n }
}

func WithRepositoryOpener(o RepositoryOpener) Option {
	return func(s *Service) { s.openRepo = o }
}

func WithProgressStore(p gitmonitor.ProgressStore) Option {
	return func(s *Service) { s.progress = p }
}

func WithCollector(c MetricsCollector) Option {
	return func(s *Service) { s.collector = c }
}

func WithReportSender(r ReportSender) Option {
	return func(s *Service) { s.sender = r }
}

func WithDDNSUpdater(u DDNSUpdater) Option {
	return func(s *Service) { s.ddns = u }
}

// NewService creates a new monitoring service keeping its queue and
// progress documents in st
func NewService(cfg *config.Config, st storage.StorageInterface, opts ...Option) (*Service, error) {
	s := &Service{
		config:    cfg,
		queue:     queue.New(st, cfg.Storage.QueueFile),
		progress:  state.New(st, cfg.Storage.StateFile),
		openRepo:  openRepository,
		collector: sysinfo.NewCollector(cfg.SystemInfo.DiskPath),
		templater: sysinfo.NewTemplater(cfg.SystemInfo),
		ddns:      ddns.NewUpdater(cfg.DDNS, state.New(st, cfg.DDNS.File)),
		metrics:   &Metrics{},
	}
	if cfg.SystemInfo.RemoteURL != "" {
		s.sender = sysinfo.NewSender(cfg.SystemInfo.RemoteURL)
	}
	s.publishers = func(account string) (Publisher, error) {
		return publisher.ForAccount(cfg, account, s.queue)
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.notifications == nil {
		pub, err := s.publishers(cfg.Publisher.DefaultAccount)
		if err != nil {
			return nil, fmt.Errorf("default account: %w", err)
		}
		s.notifications = notifications.NewService(cfg, pub)
	}

	return s, nil
}

func openRepository(ctx context.Context, src models.MonitoredSource) (WorkingCopy, error) {
	repo, err := gitmonitor.Open(ctx, src)
	if err != nil {
		return nil, err
	}
	return repo, nil
}

type outcome int

const (
	outcomeNothing outcome = iota
	outcomeBaseline
	outcomePublished
	outcomeRequeued
)

// RunGitChanges checks every monitored repository in order and publishes an
// update for the ones that changed. A failing repository does not stop the
// others; all failures are joined into the returned error and reported.
func (s *Service) RunGitChanges(ctx context.Context) error {
	s.run.Lock()
	defer s.run.Unlock()

	start := time.Now()
	logrus.Info("Starting git changes run")

	ctx, cancel := context.WithTimeout(ctx, runTimeout)
	defer cancel()

	if _, err := s.queue.Load(); err != nil {
		return fmt.Errorf("loading queue: %w", err)
	}

	var (
		notes    []string
		errs     []error
		counts   = map[outcome]int{}
		repos    = s.config.GitMonitor.Repositories
		dryRun   = s.config.App.DryRun
		firstRun = s.config.GitMonitor.FirstRun
	)

	for _, src := range repos {
		result, note, err := s.processSource(ctx, src, dryRun, firstRun)
		if err != nil {
			var cfgErr *gitmonitor.ConfigError
			if errors.As(err, &cfgErr) {
				logrus.Warnf("Skipping %s: %v", src.Name, err)
			} else {
				logrus.Errorf("Error processing %s: %v", src.Name, err)
			}
			errs = append(errs, fmt.Errorf("%s: %w", src.Name, err))
			continue
		}
		counts[result]++
		if note != "" {
			notes = append(notes, fmt.Sprintf("- %s: %s", src.Name, note))
		}
	}

	if len(notes) > 0 && !dryRun {
		summary := "Published an update for:\n\n" + strings.Join(notes, "\n")
		if err := s.notifications.SendSummary(ctx, summary); err != nil {
			logrus.Errorf("Failed to send the run summary: %v", err)
		}
	}

	runErr := errors.Join(errs...)
	if runErr != nil {
		if err := s.notifications.SendError(ctx, runErr); err != nil {
			logrus.Errorf("Failed to report the run errors: %v", err)
		}
	}

	s.mu.Lock()
	s.metrics.LastRun = start
	s.metrics.LastRunDuration = time.Since(start).String()
	s.metrics.SourcesChecked += len(repos)
	s.metrics.UpdatesPublished += counts[outcomePublished]
	s.metrics.UpdatesRequeued += counts[outcomeRequeued]
	s.metrics.QueueLength = s.queue.Length()
	s.metrics.ErrorCount += len(errs)
	s.mu.Unlock()

	logrus.Infof("Git changes run completed in %v", time.Since(start))
	return runErr
}

func (s *Service) processSource(ctx context.Context, src models.MonitoredSource, dryRun bool, firstRun string) (outcome, string, error) {
	if err := config.ValidateSource(src); err != nil {
		return outcomeNothing, "", &gitmonitor.ConfigError{Source: src.Name, Reason: err.Error()}
	}

	repo, err := s.openRepo(ctx, src)
	if err != nil {
		return outcomeNothing, "", err
	}
	if err := repo.Pull(ctx); err != nil {
		return outcomeNothing, "", fmt.Errorf("pulling: %w", err)
	}

	detector, err := gitmonitor.Detect(ctx, src, repo, s.progress)
	if err != nil {
		return outcomeNothing, "", err
	}

	newLastKnown := detector.NewLastKnown()
	if newLastKnown == "" {
		logrus.Infof("No new changes for %s", src.Name)
		return outcomeNothing, "", nil
	}

	current, err := detector.CurrentLastKnown()
	if err != nil {
		return outcomeNothing, "", err
	}

	if current == "" && firstRun == config.FirstRunBaseline {
		logrus.Infof("First run for %s, recording %s without publishing", src.Name, newLastKnown)
		if dryRun {
			return outcomeBaseline, "", nil
		}
		return outcomeBaseline, "", detector.WriteNewLastKnown(newLastKnown)
	}

	pub, err := s.publishers(src.NamedAccount)
	if err != nil {
		return outcomeNothing, "", err
	}

	result := outcomePublished
	post, err := pub.PublishMessage(ctx, detector.BuildUpdateMessage(), s.config.Publisher.RequeueOnFailure)
	if err != nil {
		var pubErr *publisher.PublishError
		if !errors.As(err, &pubErr) || !pubErr.Requeued {
			return outcomeNothing, "", err
		}
		logrus.Warnf("Update for %s requeued: %v", src.Name, err)
		result = outcomeRequeued
	}

	if post != nil && post.DryRun {
		return result, detector.ChangesNote(), nil
	}

	if err := detector.WriteNewLastKnown(newLastKnown); err != nil {
		return outcomeNothing, "", err
	}
	logrus.Infof("Stored %s as last known for %s", newLastKnown, src.Name)

	return result, detector.ChangesNote(), nil
}

// RunPublishQueue reloads the queue and publishes what it holds through the
// default account.
func (s *Service) RunPublishQueue(ctx context.Context) error {
	s.run.Lock()
	defer s.run.Unlock()

	pub, err := s.publishers(s.config.Publisher.DefaultAccount)
	if err != nil {
		return err
	}

	added, err := pub.ReloadQueue()
	if err != nil {
		return fmt.Errorf("loading queue: %w", err)
	}
	logrus.Debugf("Queue reloaded, %d new item(s)", added)

	published, err := pub.PublishAllFromQueue(ctx)
	logrus.Infof("Published %d item(s) from the queue", published)

	s.mu.Lock()
	s.metrics.LastQueueRun = time.Now()
	s.metrics.QueuePublished += published
	s.metrics.QueueLength = s.queue.Length()
	if err != nil {
		s.metrics.ErrorCount++
	}
	s.mu.Unlock()

	return err
}

// PublishNotice publishes msg through the default account, requeuing it on
// failure when configured to.
func (s *Service) PublishNotice(ctx context.Context, msg *models.Message) (*mastodon.PostResult, error) {
	s.run.Lock()
	defer s.run.Unlock()

	return s.publishDefault(ctx, msg)
}

func (s *Service) publishDefault(ctx context.Context, msg *models.Message) (*mastodon.PostResult, error) {
	if _, err := s.queue.Load(); err != nil {
		return nil, fmt.Errorf("loading queue: %w", err)
	}

	pub, err := s.publishers(s.config.Publisher.DefaultAccount)
	if err != nil {
		return nil, err
	}
	return pub.PublishMessage(ctx, msg, s.config.Publisher.RequeueOnFailure)
}

// ReportSystemInfo publishes the report when at least one metric crossed
// its threshold. It tells whether something was published.
func (s *Service) ReportSystemInfo(ctx context.Context, report sysinfo.Report) (bool, error) {
	if !s.templater.CrossedThresholds(report) {
		logrus.Infof("No thresholds crossed on %s", report.Hostname)
		return false, nil
	}

	if _, err := s.PublishNotice(ctx, s.templater.ProcessReport(report)); err != nil {
		return true, err
	}
	return true, nil
}

// RunSysInfoLocal collects the metrics of this host and reports them
func (s *Service) RunSysInfoLocal(ctx context.Context) error {
	report, err := s.collector.Collect(ctx)
	if err != nil {
		return fmt.Errorf("collecting system info: %w", err)
	}
	_, err = s.ReportSystemInfo(ctx, report)
	return err
}

// RunSysInfoRemote collects the metrics of this host and sends them to the
// listener configured in system_info.remote_url
func (s *Service) RunSysInfoRemote(ctx context.Context) error {
	if s.sender == nil {
		return errors.New("system_info.remote_url is not configured")
	}

	report, err := s.collector.Collect(ctx)
	if err != nil {
		return fmt.Errorf("collecting system info: %w", err)
	}

	if s.config.App.DryRun {
		logrus.Info("Dry run, system info not sent")
		return nil
	}
	return s.sender.Send(ctx, report)
}

// RunUpdateDDNS sends the external IP to the dynamic DNS entries when it
// changed, and posts how it went through the default account
func (s *Service) RunUpdateDDNS(ctx context.Context) error {
	s.run.Lock()
	defer s.run.Unlock()

	result, err := s.ddns.Update(ctx, s.config.App.DryRun)
	if err != nil {
		logrus.Errorf("DDNS update failed: %v", err)
		if _, perr := s.publishDefault(ctx, models.NewMessage("", err.Error(), models.SeverityError)); perr != nil {
			logrus.Errorf("Failed to report the DDNS error: %v", perr)
		}
		return err
	}

	if !result.Changed || s.config.App.DryRun {
		return nil
	}

	var errs []error
	for _, link := range result.Failed {
		msg := models.NewMessage("", fmt.Sprintf("Failed to update the new external IP to %s", link), models.SeverityError)
		if _, err := s.publishDefault(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}

	msg := models.NewMessage("", fmt.Sprintf("New external IP updated to %d items.", result.Updated), models.SeverityInfo)
	if _, err := s.publishDefault(ctx, msg); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ExternalIP returns the public IP of this host
func (s *Service) ExternalIP(ctx context.Context) (string, error) {
	return s.ddns.ExternalIP(ctx)
}

// PublishTest posts a test message through the named account, or the
// default one when account is empty.
func (s *Service) PublishTest(ctx context.Context, account string) error {
	if account == "" {
		account = s.config.Publisher.DefaultAccount
	}

	pub, err := s.publishers(account)
	if err != nil {
		return err
	}

	msg := models.NewMessage("Test message", "This is a test message from Janitor.", models.SeverityInfo)
	_, err = pub.PublishMessage(ctx, msg, false)
	return err
}

// GetMetrics returns current metrics as JSON
func (s *Service) GetMetrics() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, _ := json.MarshalIndent(s.metrics, "", "  ")
	return string(data)
}
