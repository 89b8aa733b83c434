package scheduler

import (
	"context"
	"fmt"

	"github.com/XaviArnaus/janitor/internal/config"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Scheduled actions
const (
	ActionGitChanges    = "git_changes"
	ActionPublishQueue  = "publish_queue"
	ActionSysInfoLocal  = "sysinfo_local"
	ActionSysInfoRemote = "sysinfo_remote"
	ActionUpdateDDNS    = "update_ddns"
)

// Runner runs the jobs that can be scheduled
type Runner interface {
	RunGitChanges(ctx context.Context) error
	RunPublishQueue(ctx context.Context) error
	RunSysInfoLocal(ctx context.Context) error
	RunSysInfoRemote(ctx context.Context) error
	RunUpdateDDNS(ctx context.Context) error
}

// Service handles scheduling of the configured jobs
type Service struct {
	schedules []config.ScheduleConfig
	runner    Runner
	cron      *cron.Cron
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewService creates a new scheduler service. Schedules use the standard
// five field cron syntax, and a job still running when its next turn comes
// skips that turn.
func NewService(cfg *config.Config, runner Runner) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	logger := cron.VerbosePrintfLogger(logrus.StandardLogger())

	return &Service{
		schedules: cfg.Schedules,
		runner:    runner,
		cron:      cron.New(cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger))),
		ctx:       ctx,
		cancel:    cancel,
	}
}

func (s *Service) job(action string) (func(context.Context) error, error) {
	switch action {
	case ActionGitChanges:
		return s.runner.RunGitChanges, nil
	case ActionPublishQueue:
		return s.runner.RunPublishQueue, nil
	case ActionSysInfoLocal:
		return s.runner.RunSysInfoLocal, nil
	case ActionSysInfoRemote:
		return s.runner.RunSysInfoRemote, nil
	case ActionUpdateDDNS:
		return s.runner.RunUpdateDDNS, nil
	default:
		return nil, fmt.Errorf("unknown scheduled action %q", action)
	}
}

// Start registers every schedule and begins running them
func (s *Service) Start() error {
	for _, schedule := range s.schedules {
		run, err := s.job(schedule.Action)
		if err != nil {
			return fmt.Errorf("schedule %q: %w", schedule.Name, err)
		}

		name := schedule.Name
		_, err = s.cron.AddFunc(schedule.When, func() {
			logrus.Infof("Starting scheduled %s run", name)
			if err := run(s.ctx); err != nil {
				logrus.Errorf("Scheduled %s run failed: %v", name, err)
			}
		})
		if err != nil {
			return fmt.Errorf("schedule %q: invalid expression %q: %w", schedule.Name, schedule.When, err)
		}
	}

	s.cron.Start()
	logrus.Infof("Scheduler started with %d schedule(s)", len(s.schedules))
	return nil
}

// Stop stops the scheduler, cancelling the running jobs and waiting for
// them to return
func (s *Service) Stop() {
	if s.cron != nil {
		s.cancel()
		<-s.cron.Stop().Done()
		logrus.Info("Scheduler stopped")
	}
}

// Entries returns how many schedules are registered
func (s *Service) Entries() int {
	return len(s.cron.Entries())
}
