package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"estate_admin/config"
	"estate_admin/models"
)

// Triggerable allows workers to be triggered manually
type Triggerable interface {
	Trigger()
}

// RunState exposes what the scheduler needs to decide on resuming an interrupted mirror
type RunState interface {
	GetResumePage(name string) (int, error)
	LastRun() (*models.MirrorRun, error)
}

type Scheduler struct {
	cfg     *config.SchedulerConfig
	mirror  Triggerable
	state   RunState
	name    string
	cron    *cron.Cron
	ticker  *time.Ticker
	stopCh  chan struct{}
	stopped sync.Once
	logger  *zap.Logger

	resumeDelay time.Duration
	resumePoll  time.Duration
}

// New schedules mirror. state and name locate the mirror's resume page; state may be nil.
func New(cfg *config.SchedulerConfig, mirror Triggerable, state RunState, name string, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		cfg:         cfg,
		mirror:      mirror,
		state:       state,
		name:        name,
		cron:        cron.New(),
		stopCh:      make(chan struct{}),
		logger:      logger.Named("scheduler"),
		resumeDelay: 15 * time.Minute,
		resumePoll:  time.Minute,
	}
}

func (s *Scheduler) Start(ctx context.Context) error {
	if s.state != nil {
		go s.pollResumes(ctx)
	}

	if s.cfg.Cron != "" {
		s.logger.Info("starting scheduler with cron", zap.String("cron", s.cfg.Cron))
		if _, err := s.cron.AddFunc(s.cfg.Cron, s.mirror.Trigger); err != nil {
			return fmt.Errorf("invalid cron expression: %w", err)
		}
		s.cron.Start()
	} else if s.cfg.Interval > 0 {
		s.logger.Info("starting scheduler with interval", zap.Duration("interval", s.cfg.Interval))
		s.ticker = time.NewTicker(s.cfg.Interval)
		go func() {
			for {
				select {
				case <-s.ticker.C:
					s.mirror.Trigger()
				case <-s.stopCh:
					return
				case <-ctx.Done():
					return
				}
			}
		}()
	} else {
		s.logger.Info("no schedule configured, mirror runs only when triggered")
	}

	return nil
}

func (s *Scheduler) Stop() {
	s.stopped.Do(func() {
		s.cron.Stop()
		if s.ticker != nil {
			s.ticker.Stop()
		}
		close(s.stopCh)
	})
}

// TriggerNow asks for a mirror run outside the schedule
func (s *Scheduler) TriggerNow() {
	s.mirror.Trigger()
}

func (s *Scheduler) pollResumes(ctx context.Context) {
	ticker := time.NewTicker(s.resumePoll)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if s.shouldResume(time.Now()) {
				s.logger.Info("resuming interrupted mirror")
				s.mirror.Trigger()
			}
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// shouldResume reports whether a mirror stopped part way and its last run
// is old enough to try again
func (s *Scheduler) shouldResume(now time.Time) bool {
	page, err := s.state.GetResumePage(s.name)
	if err != nil {
		s.logger.Warn("check resume page", zap.Error(err))
		return false
	}
	if page <= 1 {
		return false
	}

	last, err := s.state.LastRun()
	if err != nil {
		s.logger.Warn("get last run", zap.Error(err))
		return false
	}
	if last == nil {
		return true
	}
	if last.Status == models.RunRunning {
		return false
	}
	ended := last.StartedAt
	if last.FinishedAt != nil {
		ended = *last.FinishedAt
	}
	return now.Sub(ended) >= s.resumeDelay
}
