// Package cleanup runs the periodic reclamation of expired refresh tokens.
package cleanup

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dmitrijs2005/sessionkeeper/internal/logging"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/services"
)

// Cleaner performs one cleanup pass. *services.AuthService implements it.
type Cleaner interface {
	Cleanup(ctx context.Context) (services.CleanupReport, error)
}

// Scheduler calls Cleanup once at start and then after every interval. A
// failed pass is retried after retryInterval instead.
type Scheduler struct {
	cleaner       Cleaner
	interval      time.Duration
	retryInterval time.Duration
	clock         clock.Clock
	logger        logging.Logger
}

func NewScheduler(c Cleaner, interval, retryInterval time.Duration, clk clock.Clock, l logging.Logger) *Scheduler {
	if clk == nil {
		clk = clock.New()
	}
	return &Scheduler{
		cleaner:       c,
		interval:      interval,
		retryInterval: retryInterval,
		clock:         clk,
		logger:        l.With("module", "cleanup"),
	}
}

// Run blocks until ctx is cancelled. Cleanup failures are logged and never
// stop the loop.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info(ctx, "Starting refresh token cleanup", "interval", s.interval.String(), "retry_interval", s.retryInterval.String())

	for {
		wait := s.interval
		report, err := s.cleaner.Cleanup(ctx)
		switch {
		case ctx.Err() != nil:
			s.logger.Info(ctx, "Stopping refresh token cleanup...")
			return
		case err != nil:
			s.logger.Warn(ctx, "refresh token cleanup failed", "error", err, "retry_in", s.retryInterval.String())
			wait = s.retryInterval
		default:
			s.logger.Debug(ctx, "refresh token cleanup pass", "swept", report.Swept, "purged", report.Purged)
		}

		select {
		case <-ctx.Done():
			s.logger.Info(ctx, "Stopping refresh token cleanup...")
			return
		case <-s.clock.After(wait):
		}
	}
}
