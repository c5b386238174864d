/**
 * @description
 * Cron scheduler for the background jobs: the stalled-transfer sweep and the
 * daily storage cleanup.
 *
 * @dependencies
 * - context, log: Standard Go libraries.
 * - github.com/robfig/cron/v3: Cron scheduling.
 */

package app

import (
	"context"
	"log"

	"github.com/robfig/cron/v3"
)

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron            *cron.Cron
	sweeper         *Sweeper
	sweepSchedule   string
	cleanupSchedule string
}

// NewScheduler creates a scheduler for the sweeper's jobs.
func NewScheduler(sweeper *Sweeper, sweepSchedule, cleanupSchedule string) *Scheduler {
	cronLogger := cron.PrintfLogger(log.Default())
	return &Scheduler{
		cron:            cron.New(cron.WithChain(cron.Recover(cronLogger))),
		sweeper:         sweeper,
		sweepSchedule:   sweepSchedule,
		cleanupSchedule: cleanupSchedule,
	}
}

// Start registers the jobs and starts the cron scheduler.
func (s *Scheduler) Start() {
	if _, err := s.cron.AddFunc(s.sweepSchedule, func() {
		s.sweeper.CheckPendingTransfers(context.Background())
	}); err != nil {
		log.Printf("level=error component=scheduler msg=\"failed to schedule transfer sweep\" err=%v", err)
	} else {
		log.Printf("level=info component=scheduler msg=\"scheduled transfer sweep\" schedule=%q", s.sweepSchedule)
	}

	if _, err := s.cron.AddFunc(s.cleanupSchedule, s.sweeper.RunCleanup); err != nil {
		log.Printf("level=error component=scheduler msg=\"failed to schedule cleanup\" err=%v", err)
	} else {
		log.Printf("level=info component=scheduler msg=\"scheduled cleanup\" schedule=%q", s.cleanupSchedule)
	}

	s.cron.Start()
}

// Stop gracefully stops the cron scheduler.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
