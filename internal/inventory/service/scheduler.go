package service

import (
	"context"
	"sync"
	"time"

	"github.com/larder/larder-backend/pkg/logger"
)

// Scheduler periodically refreshes batch expiry and re-runs the alert
// engine over the whole catalog, catching anything a failed in-movement
// alert pass left behind.
type Scheduler struct {
	expiry   *ExpiryService
	alerts   *AlertEngine
	interval time.Duration
	logger   *logger.Logger
	cancel   context.CancelFunc
	done     chan struct{}
	once     sync.Once
}

// NewScheduler creates a new scheduler. A non-positive interval disables it.
func NewScheduler(expiry *ExpiryService, alerts *AlertEngine, interval time.Duration, log *logger.Logger) *Scheduler {
	return &Scheduler{
		expiry:   expiry,
		alerts:   alerts,
		interval: interval,
		logger:   log.WithComponent("scheduler"),
	}
}

// Start starts the scheduler in a background goroutine and runs one cycle
// immediately.
func (s *Scheduler) Start(ctx context.Context) {
	if s.interval <= 0 {
		s.logger.Info().Msg("scheduler disabled")
		return
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		s.logger.Info().Dur("interval", s.interval).Msg("scheduler started")

		s.RunOnce(ctx)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.logger.Info().Msg("scheduler stopped")
				return
			case <-ticker.C:
				s.RunOnce(ctx)
			}
		}
	}()
}

// Stop cancels the loop and waits for the running cycle to finish.
func (s *Scheduler) Stop() {
	s.once.Do(func() {
		if s.cancel == nil {
			return
		}
		s.cancel()
		<-s.done
	})
}

// RunOnce performs a single expiry refresh and full alert pass.
func (s *Scheduler) RunOnce(ctx context.Context) {
	start := time.Now()

	if _, err := s.expiry.RefreshExpiry(ctx); err != nil {
		s.logger.Error().Err(err).Msg("expiry refresh failed")
	}

	deltas, err := s.alerts.EvaluateAlerts(ctx, "")
	if err != nil {
		s.logger.Error().Err(err).Msg("alert scan failed")
		return
	}

	s.logger.Info().
		Dur("duration", time.Since(start)).
		Int("alert_changes", len(deltas)).
		Msg("scheduled cycle completed")
}
