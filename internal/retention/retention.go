// Package retention periodically drops finished and abandoned sessions so
// a long-running server does not accumulate them.
package retention

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// MinInterval is the shortest sweep period.
const MinInterval = 10 * time.Second

// Sweeper removes sessions that outlived retention and reports how many.
type Sweeper interface {
	Sweep(now time.Time, retention time.Duration) int
}

// Scheduler runs a Sweeper on a cron schedule.
type Scheduler struct {
	cron      *cron.Cron
	sweeper   Sweeper
	retention time.Duration
	now       func() time.Time
}

// NewScheduler creates a scheduler; call Start to begin sweeping.
func NewScheduler(sweeper Sweeper, retention time.Duration) *Scheduler {
	return &Scheduler{
		cron:      cron.New(cron.WithSeconds()),
		sweeper:   sweeper,
		retention: retention,
		now:       time.Now,
	}
}

// Interval returns the sweep period for a retention window: a quarter of
// it, never below MinInterval.
func Interval(retention time.Duration) time.Duration {
	return max(retention/4, MinInterval)
}

// Start registers the sweep job and starts the cron runner.
func (s *Scheduler) Start() error {
	every := Interval(s.retention)
	if _, err := s.cron.AddFunc(fmt.Sprintf("@every %s", every), func() { s.RunOnce() }); err != nil {
		return fmt.Errorf("retention: scheduling sweep: %w", err)
	}
	s.cron.Start()
	slog.Info("retention sweep scheduled", "every", every, "retention", s.retention)
	return nil
}

// RunOnce sweeps immediately.
func (s *Scheduler) RunOnce() int {
	n := s.sweeper.Sweep(s.now(), s.retention)
	if n > 0 {
		slog.Info("retention sweep", "removed", n)
	}
	return n
}

// Stop stops the runner and waits for a running sweep to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
