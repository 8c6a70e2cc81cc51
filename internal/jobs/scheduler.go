package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"placement/internal/tasks"
)

type TaskQueue interface {
	Enqueue(ctx context.Context, task tasks.Task) error
}

// Scheduler enqueues the periodic maintenance tasks run by the worker.
type Scheduler struct {
	cron  *cron.Cron
	queue TaskQueue
	log   zerolog.Logger
}

func NewScheduler(queue TaskQueue, log zerolog.Logger) *Scheduler {
	c := cron.New(cron.WithSeconds())
	return &Scheduler{
		cron:  c,
		queue: queue,
		log:   log,
	}
}

// Start registers the orphan sweep and the session purge on their six-field
// cron specs and starts the cron loop.
func (s *Scheduler) Start(sweepSpec, purgeSpec string) error {
	if s.queue == nil {
		return nil
	}

	if _, err := s.cron.AddFunc(sweepSpec, s.enqueue(tasks.TypeSweepOrphans)); err != nil {
		return fmt.Errorf("schedule orphan sweep: %w", err)
	}
	if _, err := s.cron.AddFunc(purgeSpec, s.enqueue(tasks.TypePurgeSessions)); err != nil {
		return fmt.Errorf("schedule session purge: %w", err)
	}

	s.cron.Start()
	return nil
}

// Stop halts the cron loop and waits up to five seconds for running jobs.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	select {
	case <-ctx.Done():
	case <-time.After(5 * time.Second):
		s.log.Warn().Msg("scheduler jobs still running at shutdown")
	}
}

func (s *Scheduler) enqueue(taskType string) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := s.queue.Enqueue(ctx, tasks.Task{Type: taskType}); err != nil {
			s.log.Error().Err(err).Str("type", taskType).Msg("enqueue scheduled task failed")
			return
		}
		s.log.Debug().Str("type", taskType).Msg("scheduled task enqueued")
	}
}
