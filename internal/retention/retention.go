// Package retention physically purges logically expired whispers on a cron schedule.
package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"

	"github.com/rcliao/aangan/internal/logger"
)

// DefaultCron runs the purge every fifteen minutes.
const DefaultCron = "*/15 * * * *"

// Purger removes expired whispers and reports how many it removed.
type Purger interface {
	Purge(ctx context.Context) (int, error)
}

// Scheduler wakes on every cron tick and runs a purge.
type Scheduler struct {
	cron   string
	purger Purger
	log    *logger.Logger
	now    func() time.Time
}

// NewScheduler validates the cron expression. An empty expression uses DefaultCron.
func NewScheduler(cronExpr string, p Purger, log *logger.Logger) (*Scheduler, error) {
	if cronExpr == "" {
		cronExpr = DefaultCron
	}
	if !gronx.IsValid(cronExpr) {
		return nil, fmt.Errorf("invalid retention cron expression: %s", cronExpr)
	}
	return &Scheduler{
		cron:   cronExpr,
		purger: p,
		log:    log.With("service", "Retention"),
		now:    time.Now,
	}, nil
}

// Next returns the first tick strictly after t.
func (s *Scheduler) Next(t time.Time) (time.Time, error) {
	return gronx.NextTickAfter(s.cron, t.UTC(), false)
}

// RunOnce performs a single purge.
func (s *Scheduler) RunOnce(ctx context.Context) (int, error) {
	start := s.now()
	n, err := s.purger.Purge(ctx)
	if err != nil {
		s.log.Error("retention_run_error", "error", err)
		return 0, err
	}
	s.log.Info("retention_run_complete", "purged", n, "duration_ms", time.Since(start).Milliseconds())
	return n, nil
}

// Run blocks until ctx is cancelled, purging on every tick.
func (s *Scheduler) Run(ctx context.Context) error {
	s.log.Info("retention_scheduler_started", "cron", s.cron)
	for {
		next, err := s.Next(s.now())
		if err != nil {
			s.log.Error("retention_nexttick_failed", "cron", s.cron, "error", err)
			next = s.now().Add(30 * time.Second)
		}

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			s.log.Info("retention_scheduler_stopping")
			return nil
		case <-timer.C:
		}

		// storage errors are logged and retried on the next tick
		s.RunOnce(ctx)
	}
}
