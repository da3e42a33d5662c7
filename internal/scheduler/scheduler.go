package scheduler

import (
	"context"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"
)

// Ticker runs one refresh cycle per call. *weather.Loop implements it.
type Ticker interface {
	Tick(ctx context.Context) bool
}

// Scheduler drives the refresh loop on a fixed tick.
type Scheduler struct {
	scheduler *gocron.Scheduler
	ticker    Ticker
	interval  time.Duration
	logger    *zap.SugaredLogger

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a new Scheduler.
func New(ticker Ticker, interval time.Duration, logger *zap.SugaredLogger) *Scheduler {
	s := gocron.NewScheduler(time.UTC)
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		scheduler: s,
		ticker:    ticker,
		interval:  interval,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start schedules the periodic tick and starts the underlying scheduler.
// Ticks may overlap; the loop drops a tick that arrives mid-cycle.
func (s *Scheduler) Start() error {
	_, err := s.scheduler.Every(s.interval).Do(func() {
		if !s.ticker.Tick(s.ctx) {
			s.logger.Debugw("scheduler: tick dropped")
		}
	})
	if err != nil {
		return err
	}

	s.logger.Infow("scheduler: started", "interval", s.interval)
	s.scheduler.StartAsync()
	return nil
}

// Stop cancels the running cycle, if any, and stops future ticks.
func (s *Scheduler) Stop() {
	s.cancel()
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}
