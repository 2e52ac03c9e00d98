// Package maintenance runs the periodic housekeeping: the midnight
// activity-journal rollover and the hourly sweep of idle sessions.
package maintenance

import (
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/eniggman/geminigram/internal/activity"
	"github.com/eniggman/geminigram/internal/session"
)

// Scheduler owns the cron ticker for the background jobs.
type Scheduler struct {
	log   *activity.Log
	store *session.Store
	cron  *cron.Cron
}

// New builds a Scheduler in the given location so the midnight rollover
// fires at local midnight.
func New(log *activity.Log, store *session.Store, loc *time.Location) *Scheduler {
	return &Scheduler{
		log:   log,
		store: store,
		cron:  cron.New(cron.WithLocation(loc)),
	}
}

// Start registers the jobs and starts the ticker.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc("0 0 * * *", s.rollover); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc("0 * * * *", s.sweep); err != nil {
		return err
	}
	s.cron.Start()
	slog.Info("maintenance scheduler started")
	return nil
}

// Stop stops the ticker and waits for running jobs.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

func (s *Scheduler) rollover() {
	if s.log == nil {
		return
	}
	s.log.Rollover()
	slog.Info("activity journal rolled over")
}

func (s *Scheduler) sweep() {
	if s.store == nil {
		return
	}
	if removed := s.store.SweepIdle(time.Now()); removed > 0 {
		slog.Info("idle sessions swept", "removed", removed)
	}
}
