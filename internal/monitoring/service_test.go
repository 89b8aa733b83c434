package monitoring

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"testing"

	"github.com/XaviArnaus/janitor/internal/config"
	"github.com/XaviArnaus/janitor/internal/ddns"
	"github.com/XaviArnaus/janitor/internal/gitmonitor"
	"github.com/XaviArnaus/janitor/internal/mastodon"
	"github.com/XaviArnaus/janitor/internal/models"
	"github.com/XaviArnaus/janitor/internal/publisher"
	"github.com/XaviArnaus/janitor/internal/state"
	"github.com/XaviArnaus/janitor/internal/storage"
	"github.com/XaviArnaus/janitor/internal/sysinfo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockPublisher is a mock implementation of the Publisher interface
type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) PublishMessage(ctx context.Context, msg *models.Message, requeueIfFails bool) (*mastodon.PostResult, error) {
	args := m.Called(ctx, msg, requeueIfFails)
	result, _ := args.Get(0).(*mastodon.PostResult)
	return result, args.Error(1)
}

func (m *MockPublisher) ReloadQueue() (int, error) {
	args := m.Called()
	return args.Int(0), args.Error(1)
}

func (m *MockPublisher) PublishAllFromQueue(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

// MockNotificationService is a mock implementation of the notification service
type MockNotificationService struct {
	mock.Mock
}

func (m *MockNotificationService) SendSummary(ctx context.Context, text string) error {
	args := m.Called(ctx, text)
	return args.Error(0)
}

func (m *MockNotificationService) SendError(ctx context.Context, cause error) error {
	args := m.Called(ctx, cause)
	return args.Error(0)
}

type fakeRepo struct {
	files   map[string]string
	pullErr error
}

func (f *fakeRepo) ReadFile(name string) ([]byte, error) {
	content, ok := f.files[name]
	if !ok {
		return nil, fmt.Errorf("opening %s: %w", name, fs.ErrNotExist)
	}
	return []byte(content), nil
}

func (f *fakeRepo) Log(context.Context, string) ([]gitmonitor.Commit, error) {
	return nil, nil
}

func (f *fakeRepo) Pull(context.Context) error {
	return f.pullErr
}

type fakeProgress map[string]map[string]string

func (p fakeProgress) Get(namespace, key string) (string, error) {
	return p[namespace][key], nil
}

func (p fakeProgress) Set(namespace, key, value string) error {
	if p[namespace] == nil {
		p[namespace] = map[string]string{}
	}
	p[namespace][key] = value
	return nil
}

type fakeCollector struct {
	report sysinfo.Report
	err    error
}

func (c fakeCollector) Collect(context.Context) (sysinfo.Report, error) {
	return c.report, c.err
}

type fakeSender struct {
	sent []sysinfo.Report
}

func (f *fakeSender) Send(_ context.Context, r sysinfo.Report) error {
	f.sent = append(f.sent, r)
	return nil
}

type fakeDDNS struct {
	result *ddns.Result
	err    error
	dryRun bool
}

func (f *fakeDDNS) ExternalIP(context.Context) (string, error) {
	return "203.0.113.7", nil
}

func (f *fakeDDNS) Update(_ context.Context, dryRun bool) (*ddns.Result, error) {
	f.dryRun = dryRun
	return f.result, f.err
}

const testChangelog = "# Changelog\n\n" +
	"## [v2.0](https://example.com/v2.0)\n\n### Changed\n\n- Something changed\n\n" +
	"## [v1.0](https://example.com/v1.0)\n\n### Added\n\n- First release\n"

func pyxaviSource() models.MonitoredSource {
	return models.MonitoredSource{
		Name:             "pyxavi",
		URL:              "https://github.com/XaviArnaus/pyxavi",
		Git:              "https://github.com/XaviArnaus/pyxavi.git",
		Path:             "storage/repos/pyxavi",
		MonitoringMethod: models.MonitorChangelog,
		NamedAccount:     "default",
		Params:           models.SourceParams{File: "CHANGELOG.md"},
	}
}

func testConfig(firstRun string, sources ...models.MonitoredSource) *config.Config {
	return &config.Config{
		Storage: config.StorageConfig{
			QueueFile: "queue.yaml",
			StateFile: "state.yaml",
		},
		Publisher: config.PublisherConfig{
			MaxRetries:       1,
			DefaultAccount:   "default",
			RequeueOnFailure: true,
		},
		GitMonitor: config.GitMonitorConfig{
			FirstRun:     firstRun,
			Repositories: sources,
		},
		SystemInfo: config.SystemInfoConfig{
			Thresholds: map[string]config.Threshold{
				"cpu_percent": {Value: 80, Type: "warning"},
			},
			HumanReadable: true,
		},
	}
}

func newTestService(t *testing.T, cfg *config.Config, pub *MockPublisher, notifier *MockNotificationService, progress fakeProgress, repo *fakeRepo) *Service {
	t.Helper()

	st, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	service, err := NewService(cfg, st,
		WithPublisherFactory(func(string) (Publisher, error) { return pub, nil }),
		WithNotifications(notifier),
		WithProgressStore(progress),
		WithRepositoryOpener(func(context.Context, models.MonitoredSource) (WorkingCopy, error) {
			return repo, nil
		}),
		WithCollector(fakeCollector{report: sysinfo.Report{
			Hostname: "host",
			Metrics:  []sysinfo.Metric{{Name: "cpu_percent", Value: 95, Numeric: true}},
		}}),
	)
	require.NoError(t, err)
	return service
}

func lastVersion(progress fakeProgress) string {
	return progress[state.Namespace(pyxaviSource().RemoteID())]["last_version"]
}

func TestService_RunGitChanges(t *testing.T) {
	isUpdate := mock.MatchedBy(func(msg *models.Message) bool {
		return strings.Contains(msg.Text, "Something changed")
	})

	tests := []struct {
		name          string
		firstRun      string
		stored        string
		dryRun        bool
		publishResult *mastodon.PostResult
		publishErr    error
		expectPublish bool
		expectSummary bool
		wantNote      string
		expectError   bool
		wantStored    string
		wantPublished int
		wantRequeued  int
	}{
		{
			name:          "New version is published and stored",
			firstRun:      config.FirstRunBaseline,
			stored:        "v1.0",
			publishResult: &mastodon.PostResult{ID: "1"},
			expectPublish: true,
			expectSummary: true,
			wantNote:      "v2.0",
			wantStored:    "v2.0",
			wantPublished: 1,
		},
		{
			name:       "Nothing new",
			firstRun:   config.FirstRunBaseline,
			stored:     "v2.0",
			wantStored: "v2.0",
		},
		{
			name:       "First run records a baseline",
			firstRun:   config.FirstRunBaseline,
			wantStored: "v2.0",
		},
		{
			name:          "First run notifies when configured to",
			firstRun:      config.FirstRunNotify,
			publishResult: &mastodon.PostResult{ID: "1"},
			expectPublish: true,
			expectSummary: true,
			wantNote:      "v1.0 & v2.0",
			wantStored:    "v2.0",
			wantPublished: 1,
		},
		{
			name:          "Failed publish keeps the stored version",
			firstRun:      config.FirstRunBaseline,
			stored:        "v1.0",
			publishErr:    errors.New("instance is down"),
			expectPublish: true,
			expectError:   true,
			wantStored:    "v1.0",
		},
		{
			name:          "Requeued publish moves on",
			firstRun:      config.FirstRunBaseline,
			stored:        "v1.0",
			publishErr:    &publisher.PublishError{Account: "default", Attempts: 1, Requeued: true, Err: errors.New("timeout")},
			expectPublish: true,
			expectSummary: true,
			wantNote:      "v2.0",
			wantStored:    "v2.0",
			wantRequeued:  1,
		},
		{
			name:          "Dry run does not store progress",
			firstRun:      config.FirstRunBaseline,
			stored:        "v1.0",
			dryRun:        true,
			publishResult: &mastodon.PostResult{DryRun: true},
			expectPublish: true,
			wantStored:    "v1.0",
			wantPublished: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(tt.firstRun, pyxaviSource())
			cfg.App.DryRun = tt.dryRun
			pub := &MockPublisher{}
			notifier := &MockNotificationService{}

			progress := fakeProgress{}
			if tt.stored != "" {
				_ = progress.Set(state.Namespace(pyxaviSource().RemoteID()), "last_version", tt.stored)
			}

			if tt.expectPublish {
				pub.On("PublishMessage", mock.Anything, isUpdate, true).Return(tt.publishResult, tt.publishErr)
			}
			if tt.expectSummary {
				notifier.On("SendSummary", mock.Anything, "Published an update for:\n\n- pyxavi: "+tt.wantNote).Return(nil)
			}
			if tt.expectError {
				notifier.On("SendError", mock.Anything, mock.Anything).Return(nil)
			}

			service := newTestService(t, cfg, pub, notifier, progress, &fakeRepo{
				files: map[string]string{"CHANGELOG.md": testChangelog},
			})

			err := service.RunGitChanges(context.Background())
			if tt.expectError {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "pyxavi")
			} else {
				require.NoError(t, err)
			}

			assert.Equal(t, tt.wantStored, lastVersion(progress))
			assert.Equal(t, tt.wantPublished, service.metrics.UpdatesPublished)
			assert.Equal(t, tt.wantRequeued, service.metrics.UpdatesRequeued)
			assert.Equal(t, 1, service.metrics.SourcesChecked)
			pub.AssertExpectations(t)
			notifier.AssertExpectations(t)
		})
	}
}

func TestService_RunGitChanges_BrokenSourceDoesNotStopOthers(t *testing.T) {
	broken := pyxaviSource()
	broken.Name = "broken"
	broken.MonitoringMethod = "rss"

	missingFile := pyxaviSource()
	missingFile.Name = "missing"
	missingFile.Git = "https://github.com/XaviArnaus/missing.git"
	missingFile.Params.File = "NOPE.md"

	cfg := testConfig(config.FirstRunBaseline, broken, missingFile, pyxaviSource())
	cfg.Publisher.RequeueOnFailure = false

	pub := &MockPublisher{}
	pub.On("PublishMessage", mock.Anything, mock.Anything, false).Return(&mastodon.PostResult{ID: "1"}, nil).Once()

	notifier := &MockNotificationService{}
	notifier.On("SendSummary", mock.Anything, "Published an update for:\n\n- pyxavi: v2.0").Return(nil)

	var reported error
	notifier.On("SendError", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		reported = args.Error(1)
	}).Return(nil)

	progress := fakeProgress{}
	_ = progress.Set(state.Namespace(pyxaviSource().RemoteID()), "last_version", "v1.0")

	service := newTestService(t, cfg, pub, notifier, progress, &fakeRepo{
		files: map[string]string{"CHANGELOG.md": testChangelog},
	})

	err := service.RunGitChanges(context.Background())
	require.Error(t, err)
	assert.Equal(t, err, reported)

	var cfgErr *gitmonitor.ConfigError
	assert.ErrorAs(t, err, &cfgErr)
	assert.ErrorIs(t, err, fs.ErrNotExist)

	assert.Equal(t, "v2.0", lastVersion(progress))
	assert.Equal(t, 2, service.metrics.ErrorCount)
	pub.AssertExpectations(t)
	notifier.AssertExpectations(t)
}

func TestService_RunGitChanges_PullError(t *testing.T) {
	cfg := testConfig(config.FirstRunBaseline, pyxaviSource())
	notifier := &MockNotificationService{}
	notifier.On("SendError", mock.Anything, mock.Anything).Return(errors.New("mail down"))

	service := newTestService(t, cfg, &MockPublisher{}, notifier, fakeProgress{}, &fakeRepo{
		pullErr: errors.New("network unreachable"),
	})

	err := service.RunGitChanges(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "network unreachable")
	notifier.AssertExpectations(t)
}

func TestService_RunPublishQueue(t *testing.T) {
	tests := []struct {
		name       string
		published  int
		publishErr error
		wantErrors int
	}{
		{name: "Drains the queue", published: 2},
		{name: "Stops at a failure", published: 1, publishErr: errors.New("boom"), wantErrors: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub := &MockPublisher{}
			pub.On("ReloadQueue").Return(3, nil)
			pub.On("PublishAllFromQueue", mock.Anything).Return(tt.published, tt.publishErr)

			service := newTestService(t, testConfig(config.FirstRunBaseline), pub, &MockNotificationService{}, fakeProgress{}, &fakeRepo{})

			err := service.RunPublishQueue(context.Background())
			assert.Equal(t, tt.publishErr, err)
			assert.Equal(t, tt.published, service.metrics.QueuePublished)
			assert.Equal(t, tt.wantErrors, service.metrics.ErrorCount)
			assert.False(t, service.metrics.LastQueueRun.IsZero())
			pub.AssertExpectations(t)
		})
	}
}

func TestService_ReportSystemInfo(t *testing.T) {
	tests := []struct {
		name          string
		cpu           float64
		wantPublished bool
	}{
		{name: "Below threshold", cpu: 10},
		{name: "Above threshold", cpu: 95, wantPublished: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub := &MockPublisher{}
			if tt.wantPublished {
				pub.On("PublishMessage", mock.Anything, mock.MatchedBy(func(msg *models.Message) bool {
					return msg.Summary == "host" && msg.Severity == models.SeverityWarning
				}), true).Return(&mastodon.PostResult{ID: "1"}, nil)
			}

			service := newTestService(t, testConfig(config.FirstRunBaseline), pub, &MockNotificationService{}, fakeProgress{}, &fakeRepo{})

			published, err := service.ReportSystemInfo(context.Background(), sysinfo.Report{
				Hostname: "host",
				Metrics:  []sysinfo.Metric{{Name: "cpu_percent", Value: tt.cpu, Numeric: true}},
			})
			require.NoError(t, err)
			assert.Equal(t, tt.wantPublished, published)
			pub.AssertExpectations(t)
		})
	}
}

func TestService_RunSysInfoLocal(t *testing.T) {
	pub := &MockPublisher{}
	pub.On("PublishMessage", mock.Anything, mock.Anything, true).Return(nil, errors.New("boom"))

	service := newTestService(t, testConfig(config.FirstRunBaseline), pub, &MockNotificationService{}, fakeProgress{}, &fakeRepo{})

	assert.EqualError(t, service.RunSysInfoLocal(context.Background()), "boom")
	pub.AssertExpectations(t)

	service.collector = fakeCollector{err: errors.New("no /proc")}
	assert.ErrorContains(t, service.RunSysInfoLocal(context.Background()), "no /proc")
}

func TestService_PublishTest(t *testing.T) {
	pub := &MockPublisher{}
	pub.On("PublishMessage", mock.Anything, mock.MatchedBy(func(msg *models.Message) bool {
		return msg.Severity == models.SeverityInfo
	}), false).Return(&mastodon.PostResult{ID: "1"}, nil)

	var requested []string
	cfg := testConfig(config.FirstRunBaseline)
	st, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	service, err := NewService(cfg, st,
		WithNotifications(&MockNotificationService{}),
		WithPublisherFactory(func(account string) (Publisher, error) {
			requested = append(requested, account)
			return pub, nil
		}),
	)
	require.NoError(t, err)

	require.NoError(t, service.PublishTest(context.Background(), ""))
	require.NoError(t, service.PublishTest(context.Background(), "updates"))
	assert.Equal(t, []string{"default", "updates"}, requested)
}

func TestService_NewServiceNeedsDefaultAccount(t *testing.T) {
	st, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	_, err = NewService(testConfig(config.FirstRunBaseline), st)
	assert.ErrorContains(t, err, "default account")
}

func TestService_GetMetrics(t *testing.T) {
	service := newTestService(t, testConfig(config.FirstRunBaseline), &MockPublisher{}, &MockNotificationService{}, fakeProgress{}, &fakeRepo{})
	service.metrics.UpdatesPublished = 4

	metrics := service.GetMetrics()
	assert.Contains(t, metrics, `"updates_published": 4`)
	assert.Contains(t, metrics, `"queue_length": 0`)
}

func TestService_RunSysInfoRemote(t *testing.T) {
	service := newTestService(t, testConfig(config.FirstRunBaseline), &MockPublisher{}, &MockNotificationService{}, fakeProgress{}, &fakeRepo{})
	assert.ErrorContains(t, service.RunSysInfoRemote(context.Background()), "remote_url")

	sender := &fakeSender{}
	service.sender = sender
	require.NoError(t, service.RunSysInfoRemote(context.Background()))
	require.Len(t, sender.sent, 1)
	assert.Equal(t, "host", sender.sent[0].Hostname)

	service.config.App.DryRun = true
	require.NoError(t, service.RunSysInfoRemote(context.Background()))
	assert.Len(t, sender.sent, 1)
}

func TestService_RunUpdateDDNS(t *testing.T) {
	withText := func(text string) any {
		return mock.MatchedBy(func(msg *models.Message) bool { return msg.Text == text })
	}

	tests := []struct {
		name      string
		result    *ddns.Result
		err       error
		wantTexts []string
		wantErr   bool
	}{
		{
			name:   "Unchanged IP posts nothing",
			result: &ddns.Result{IP: "203.0.113.7"},
		},
		{
			name:      "Changed IP",
			result:    &ddns.Result{IP: "203.0.113.7", Changed: true, Updated: 2},
			wantTexts: []string{"New external IP updated to 2 items."},
		},
		{
			name: "Changed IP with a failing entry",
			result: &ddns.Result{IP: "203.0.113.7", Changed: true, Updated: 1,
				Failed: []string{"https://dns.example.com/?ip=203.0.113.7"}},
			wantTexts: []string{
				"Failed to update the new external IP to https://dns.example.com/?ip=203.0.113.7",
				"New external IP updated to 1 items.",
			},
		},
		{
			name:      "IP service down",
			err:       errors.New("failed to get the external IP"),
			wantTexts: []string{"failed to get the external IP"},
			wantErr:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub := &MockPublisher{}
			for _, text := range tt.wantTexts {
				pub.On("PublishMessage", mock.Anything, withText(text), true).Return(&mastodon.PostResult{ID: "1"}, nil).Once()
			}

			service := newTestService(t, testConfig(config.FirstRunBaseline), pub, &MockNotificationService{}, fakeProgress{}, &fakeRepo{})
			updater := &fakeDDNS{result: tt.result, err: tt.err}
			service.ddns = updater

			err := service.RunUpdateDDNS(context.Background())
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.False(t, updater.dryRun)
			pub.AssertExpectations(t)
		})
	}
}
