package quests

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/lifequest-app/progress-engine/internal/app/system"
	"github.com/lifequest-app/progress-engine/pkg/logger"
)

// DefaultSweepSchedule runs the expiry sweep once a minute.
const DefaultSweepSchedule = "@every 1m"

// Sweeper periodically expires overdue active quest instances. It is the
// external sweep the lifecycle depends on; instances past their deadline are
// only observed as expired once a sweep (or a progress update) has run.
type Sweeper struct {
	service  *Service
	schedule string
	log      *logger.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

var _ system.Service = (*Sweeper)(nil)

// NewSweeper creates a sweeper on the given cron schedule. An empty schedule
// uses DefaultSweepSchedule.
func NewSweeper(service *Service, schedule string, log *logger.Logger) *Sweeper {
	if log == nil {
		log = logger.NewDefault("quest-sweeper")
	}
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}
	return &Sweeper{service: service, schedule: schedule, log: log}
}

func (s *Sweeper) Name() string { return "quest-sweeper" }

func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	c := cron.New()
	if _, err := c.AddFunc(s.schedule, func() {
		sweepCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if _, err := s.service.SweepExpired(sweepCtx, time.Now()); err != nil {
			s.log.WithError(err).Warn("quest expiry sweep failed")
		}
	}); err != nil {
		return err
	}
	c.Start()

	s.cron = c
	s.running = true
	s.log.Infof("quest sweeper started, schedule %q", s.schedule)
	return nil
}

func (s *Sweeper) Stop(ctx context.Context) error {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.running = false
	s.mu.Unlock()

	if c == nil {
		return nil
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	s.log.Info("quest sweeper stopped")
	return nil
}
