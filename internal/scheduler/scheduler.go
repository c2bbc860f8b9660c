// Package scheduler runs a fixed set of named, independently configurable
// periodic jobs that a service wires up once at startup, in place of a
// scattering of bare goroutine-plus-ticker loops in main.
package scheduler

import (
	"context"
	"log/slog"
	"time"
)

// Job is one named periodic task. Run is invoked once per tick; a job that
// returns an error is logged and retried on the next tick, never fatal to
// the scheduler.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Scheduler runs a fixed set of named jobs, each on its own ticker, until
// its context is cancelled. It is for maintenance tasks shaped as "do one
// bounded unit of work, then wait for the next tick" (cache TTL refresh,
// stale-lock sweeps). Components that already own a blocking Run loop with
// their own internal ticker — inventory.Expirer, orders.Worker — are
// started as their own goroutine from main instead of wrapped here; their
// Run never returns, so there is nothing for a per-tick scheduler to add.
type Scheduler struct {
	jobs   []Job
	logger *slog.Logger
}

func New(logger *slog.Logger) *Scheduler {
	return &Scheduler{logger: logger}
}

// Register adds job to the set Start will launch. Call before Start; adding
// a job after Start has no effect.
func (s *Scheduler) Register(job Job) {
	s.jobs = append(s.jobs, job)
}

// Start launches every registered job on its own goroutine and blocks until
// ctx is cancelled, then waits for all jobs to stop.
func (s *Scheduler) Start(ctx context.Context) {
	done := make(chan struct{}, len(s.jobs))
	for _, job := range s.jobs {
		go func(job Job) {
			defer func() { done <- struct{}{} }()
			s.runJob(ctx, job)
		}(job)
	}
	<-ctx.Done()
	for range s.jobs {
		<-done
	}
}

func (s *Scheduler) runJob(ctx context.Context, job Job) {
	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx, job)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context, job Job) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scheduler: job panicked", "job", job.Name, "panic", r)
		}
	}()
	if err := job.Run(ctx); err != nil {
		s.logger.Error("scheduler: job failed", "job", job.Name, "error", err)
	}
}
