package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/mvaldr/cascade/internal/history"
	"github.com/mvaldr/cascade/pkg/schema"
)

// RunLauncher is the interface the scheduler uses to start runs. Satisfied
// by the graph and pipeline runners (avoids an import cycle).
type RunLauncher interface {
	RunGraph(ctx context.Context, spec *schema.GraphSpec, input map[string]any) (*schema.GraphResult, error)
	RunPipeline(ctx context.Context, spec *schema.PipelineSpec, input map[string]any) (*schema.PipelineResult, error)
}

// Scheduler polls the store for due scheduled jobs and launches them through
// a bounded pool.
type Scheduler struct {
	store    history.Store
	launcher RunLauncher
	pool     *LaunchPool
	parser   cron.Parser
	logger   *slog.Logger
	interval time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	inflightMu sync.Mutex
	inflight   map[string]struct{} // job IDs currently executing (dedup)
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithInterval sets the tick interval. Defaults to one minute.
func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) { s.interval = d }
}

// WithConcurrency bounds how many jobs execute at once. Defaults to 4.
func WithConcurrency(n int) Option {
	return func(s *Scheduler) { s.pool = NewLaunchPool(n) }
}

// WithLogger sets the scheduler's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = logger }
}

// NewScheduler creates a Scheduler over the given store and launcher.
func NewScheduler(store history.Store, launcher RunLauncher, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:    store,
		launcher: launcher,
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		interval: time.Minute,
		inflight: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.pool == nil {
		s.pool = NewLaunchPool(4)
	}
	return s
}

// Start launches the background scheduling loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}

	schedCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(schedCtx)
	s.logger.Info("scheduler started", "interval", s.interval)
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Run an initial tick immediately.
	s.Tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick checks all enabled jobs and launches those that are due.
func (s *Scheduler) Tick(ctx context.Context) {
	enabled := true
	jobs, err := s.store.ListScheduledJobs(ctx, history.ScheduledJobFilter{Enabled: &enabled})
	if err != nil {
		s.logger.Error("failed to list scheduled jobs", "error", err)
		return
	}

	now := time.Now().UTC()
	for _, job := range jobs {
		if job.NextRunAt != nil && job.NextRunAt.After(now) {
			continue
		}
		if !s.tryAcquire(job.ID) {
			continue // already running (dedup)
		}
		job := job
		err := s.pool.Submit(ctx, func(ctx context.Context) error {
			defer s.release(job.ID)
			return s.runJob(ctx, job, now)
		})
		if err != nil {
			s.release(job.ID)
			s.logger.Error("failed to submit scheduled job", "job_id", job.ID, "error", err)
		}
	}
}

// runJob executes a scheduled job and updates its timestamps.
func (s *Scheduler) runJob(ctx context.Context, job *history.ScheduledJob, now time.Time) error {
	s.logger.Info("running scheduled job",
		"job_id", job.ID, "name", job.Name, "kind", job.Kind)

	var input map[string]any
	if len(job.Input) > 0 {
		if err := json.Unmarshal(job.Input, &input); err != nil {
			return s.updateJobStatus(ctx, job, now, "error")
		}
	}

	status := "success"
	switch job.Kind {
	case history.RunKindGraph:
		var spec schema.GraphSpec
		if err := json.Unmarshal(job.Spec, &spec); err != nil {
			status = "error"
			break
		}
		result, err := s.launcher.RunGraph(ctx, &spec, input)
		if err != nil {
			status = "error"
		} else {
			status = string(result.Status)
		}
	case history.RunKindPipeline:
		var spec schema.PipelineSpec
		if err := json.Unmarshal(job.Spec, &spec); err != nil {
			status = "error"
			break
		}
		result, err := s.launcher.RunPipeline(ctx, &spec, input)
		if err != nil {
			status = "error"
		} else {
			status = string(result.Status)
		}
	default:
		status = "error"
	}

	if status == "error" {
		s.logger.Error("scheduled job execution failed", "job_id", job.ID)
	}
	return s.updateJobStatus(ctx, job, now, status)
}

func (s *Scheduler) updateJobStatus(ctx context.Context, job *history.ScheduledJob, now time.Time, status string) error {
	nextRun, err := s.CalculateNextRun(job.CronExpression, now)
	if err != nil {
		return fmt.Errorf("calculate next run for job %q: %w", job.ID, err)
	}

	return s.store.UpdateScheduledJob(ctx, job.ID, history.ScheduledJobUpdate{
		LastRunAt:     &now,
		NextRunAt:     &nextRun,
		LastRunStatus: status,
	})
}

// tryAcquire returns true and marks the job as in-flight if it is not already running.
func (s *Scheduler) tryAcquire(jobID string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, ok := s.inflight[jobID]; ok {
		return false
	}
	s.inflight[jobID] = struct{}{}
	return true
}

// release removes the job from the in-flight set.
func (s *Scheduler) release(jobID string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	delete(s.inflight, jobID)
}

// CalculateNextRun computes the next run time for a cron expression.
func (s *Scheduler) CalculateNextRun(cronExpr string, from time.Time) (time.Time, error) {
	schedule, err := s.parser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", cronExpr, err)
	}
	return schedule.Next(from), nil
}

// Stop gracefully shuts down the scheduler and drains in-flight jobs.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return nil
	}

	s.cancel()
	<-s.done
	s.pool.Wait()
	s.cancel = nil
	s.done = nil

	s.logger.Info("scheduler stopped")
	return nil
}

// RecoverMissed runs every enabled job whose next_run_at is already in the
// past, once. Intended for startup after downtime.
func (s *Scheduler) RecoverMissed(ctx context.Context) error {
	enabled := true
	jobs, err := s.store.ListScheduledJobs(ctx, history.ScheduledJobFilter{Enabled: &enabled})
	if err != nil {
		return fmt.Errorf("list missed jobs: %w", err)
	}

	now := time.Now().UTC()
	recovered := 0
	for _, job := range jobs {
		if job.NextRunAt == nil || !job.NextRunAt.Before(now) {
			continue
		}
		if !s.tryAcquire(job.ID) {
			continue
		}
		err := s.runJob(ctx, job, now)
		s.release(job.ID)
		if err != nil {
			s.logger.Error("failed to recover missed job", "job_id", job.ID, "error", err)
			continue
		}
		recovered++
	}

	if recovered > 0 {
		s.logger.Info("recovered missed jobs", "count", recovered)
	}
	return nil
}
