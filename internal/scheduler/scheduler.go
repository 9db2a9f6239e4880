// Package scheduler manages the engine's non-tick job lifecycle: work
// that runs once a day versus work that runs on every trading tick.
//
// Job schedule:
//
// Daily jobs (run once per day key, i.e. the daily lock's configured
// timezone, independent of the trading loop):
//   - Persist an equity snapshot
//   - Roll and archive the daily lock's realized PnL
//   - Prune stale breaker state
//
// Tick jobs (run on every trading-loop iteration):
//   - Anything that must observe the freshest market state each tick
//
// Spot markets trade continuously, so unlike a single-exchange equity
// session there is no market-hours gate here — only a day boundary for
// daily jobs and an always-on cadence for tick jobs.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"time"
)

// JobType categorizes when a job should run.
type JobType string

const (
	JobTypeDaily JobType = "DAILY"
	JobTypeTick  JobType = "TICK"
)

// Job represents a scheduled task.
type Job struct {
	Name    string
	Type    JobType
	RunFunc func(ctx context.Context) error
}

// Scheduler runs registered jobs grouped by JobType.
type Scheduler struct {
	jobs   []Job
	logger *log.Logger
}

// New creates a new scheduler. A nil logger gets a default stdlib logger.
func New(logger *log.Logger) *Scheduler {
	if logger == nil {
		logger = log.New(log.Writer(), "[scheduler] ", log.LstdFlags)
	}
	return &Scheduler{logger: logger}
}

// RegisterJob adds a job to the scheduler.
func (s *Scheduler) RegisterJob(job Job) {
	s.jobs = append(s.jobs, job)
	s.logger.Printf("registered job: %s (type: %s)", job.Name, job.Type)
}

// RunDailyJobs executes all daily jobs in sequence. A failure aborts the
// remaining daily jobs, since later daily jobs (e.g. the lock rollover)
// may depend on earlier ones (e.g. the equity snapshot) having run.
func (s *Scheduler) RunDailyJobs(ctx context.Context) error {
	s.logger.Println("starting daily job cycle")

	for _, job := range s.jobs {
		if job.Type != JobTypeDaily {
			continue
		}

		s.logger.Printf("running daily job: %s", job.Name)
		start := time.Now()

		if err := job.RunFunc(ctx); err != nil {
			s.logger.Printf("FAILED daily job %s: %v", job.Name, err)
			return fmt.Errorf("scheduler: daily job %s failed: %w", job.Name, err)
		}

		s.logger.Printf("completed daily job %s in %v", job.Name, time.Since(start))
	}

	s.logger.Println("daily job cycle complete")
	return nil
}

// RunTickJobs executes all tick jobs. Unlike daily jobs, one job's
// failure is logged and does not prevent the others from running — a
// single misbehaving tick job must not stall the whole trading loop.
func (s *Scheduler) RunTickJobs(ctx context.Context) {
	for _, job := range s.jobs {
		if job.Type != JobTypeTick {
			continue
		}

		if err := job.RunFunc(ctx); err != nil {
			s.logger.Printf("FAILED tick job %s: %v", job.Name, err)
		}
	}
}

// Status reports how many jobs are registered per type.
func (s *Scheduler) Status() string {
	var daily, tick int
	for _, job := range s.jobs {
		switch job.Type {
		case JobTypeDaily:
			daily++
		case JobTypeTick:
			tick++
		}
	}
	return fmt.Sprintf("scheduler: %d daily job(s), %d tick job(s) registered", daily, tick)
}
