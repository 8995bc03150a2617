// Package scheduler runs the kernel's cooperative background jobs:
// cache cleaning, session sweeping, and channel-pool idle eviction. Each
// job is a single goroutine on its own ticker; jobs never overlap with
// themselves, and a random initial delay staggers their first run so
// a freshly started process does not do all three at once.
package scheduler

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"
)

// Job is one named periodic task.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context)
}

// Scheduler owns the lifecycle of a fixed set of background Jobs,
// started together and stopped together with a bounded shutdown grace
// period.
type Scheduler struct {
	jobs          []Job
	logger        *slog.Logger
	shutdownGrace time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New returns a Scheduler for jobs, allowing shutdownGrace for in-flight
// runs to finish when Stop is called.
func New(jobs []Job, shutdownGrace time.Duration, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{jobs: jobs, shutdownGrace: shutdownGrace, logger: logger}
}

// Start launches one goroutine per job. Each job's first run fires after
// a random delay in [0, interval) so jobs with equal intervals do not
// all fire on the same tick.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	for _, job := range s.jobs {
		s.wg.Add(1)
		go s.run(ctx, job)
	}
}

func (s *Scheduler) run(ctx context.Context, job Job) {
	defer s.wg.Done()

	var initialDelay time.Duration
	if job.Interval > 0 {
		initialDelay = time.Duration(rand.Int63n(int64(job.Interval)))
	}
	timer := time.NewTimer(initialDelay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			s.runOnce(ctx, job)
			timer.Reset(job.Interval)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context, job Job) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("background job panicked", "job", job.Name, "panic", r)
		}
	}()
	start := time.Now()
	job.Run(ctx)
	s.logger.Debug("background job completed", "job", job.Name, "duration", time.Since(start))
}

// Stop cancels every job and waits up to the configured shutdown grace
// period for their goroutines to exit.
func (s *Scheduler) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(s.shutdownGrace):
		s.logger.Warn("scheduler stop timed out waiting for jobs to exit")
	}
}
