// Package scheduler launches workflow runs on cron schedules.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// RunLauncher is the interface the scheduler uses to start workflow runs.
// Satisfied by the engine (avoids import cycle).
type RunLauncher interface {
	Launch(ctx context.Context, workflowID string) error
}

// RunLauncherFunc adapts a function to the RunLauncher interface.
type RunLauncherFunc func(ctx context.Context, workflowID string) error

func (f RunLauncherFunc) Launch(ctx context.Context, workflowID string) error {
	return f(ctx, workflowID)
}

// ScheduledRun is one recurring workflow launch.
type ScheduledRun struct {
	ID             string     `json:"id"`
	WorkflowID     string     `json:"workflow_id"`
	CronExpression string     `json:"cron_expression"`
	Enabled        bool       `json:"enabled"`
	LastRunAt      *time.Time `json:"last_run_at,omitempty"`
	NextRunAt      *time.Time `json:"next_run_at,omitempty"`
	LastRunStatus  string     `json:"last_run_status,omitempty"`
}

// Scheduler keeps a registry of scheduled runs and launches the ones that
// come due on a 60s tick.
type Scheduler struct {
	launcher RunLauncher
	parser   cron.Parser
	logger   *slog.Logger
	interval time.Duration
	cancel   context.CancelFunc
	done     chan struct{}
	mu       sync.Mutex

	jobsMu sync.Mutex
	jobs   map[string]*ScheduledRun

	inflightMu sync.Mutex
	inflight   map[string]struct{} // job IDs currently executing (dedup)
}

// NewScheduler creates a new Scheduler.
func NewScheduler(launcher RunLauncher, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		launcher: launcher,
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		logger:   logger,
		interval: 60 * time.Second,
		jobs:     make(map[string]*ScheduledRun),
		inflight: make(map[string]struct{}),
	}
}

// AddJob registers a scheduled run and computes its first due time.
func (s *Scheduler) AddJob(job ScheduledRun) error {
	if job.ID == "" {
		return fmt.Errorf("scheduled run has no ID")
	}

	next, err := s.CalculateNextRun(job.CronExpression, time.Now().UTC())
	if err != nil {
		return err
	}
	job.NextRunAt = &next

	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("scheduled run %q already registered", job.ID)
	}
	s.jobs[job.ID] = &job
	return nil
}

// RemoveJob unregisters a scheduled run. Removing an unknown ID is a no-op.
func (s *Scheduler) RemoveJob(id string) {
	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()
	delete(s.jobs, id)
}

// SetEnabled toggles a scheduled run without removing it.
func (s *Scheduler) SetEnabled(id string, enabled bool) error {
	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("scheduled run %q not found", id)
	}
	job.Enabled = enabled
	return nil
}

// Jobs returns a snapshot of the registered scheduled runs.
func (s *Scheduler) Jobs() []ScheduledRun {
	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()
	out := make([]ScheduledRun, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, *job)
	}
	return out
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
	s.logger.Info("scheduler started")
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Run an initial tick immediately.
	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick launches every enabled run that is due.
func (s *Scheduler) tick(ctx context.Context) {
	now := time.Now().UTC()
	for _, job := range s.dueJobs(now) {
		if !s.tryAcquire(job.ID) {
			continue // already running (dedup)
		}
		if err := s.runJob(ctx, job, now); err != nil {
			s.logger.Error("failed to run scheduled workflow",
				slog.String("job_id", job.ID),
				slog.String("error", err.Error()),
			)
		}
		s.releaseJob(job.ID)
	}
}

// dueJobs returns snapshots of enabled jobs whose next run is not in the future.
func (s *Scheduler) dueJobs(now time.Time) []ScheduledRun {
	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()
	var due []ScheduledRun
	for _, job := range s.jobs {
		if !job.Enabled {
			continue
		}
		if job.NextRunAt == nil || !job.NextRunAt.After(now) {
			due = append(due, *job)
		}
	}
	return due
}

// runJob launches a workflow run and updates the job's timestamps.
func (s *Scheduler) runJob(ctx context.Context, job ScheduledRun, now time.Time) error {
	s.logger.Info("launching scheduled workflow",
		slog.String("job_id", job.ID),
		slog.String("workflow_id", job.WorkflowID),
	)

	err := s.launcher.Launch(ctx, job.WorkflowID)
	status := "success"
	if err != nil {
		status = "error"
		s.logger.Error("scheduled workflow run failed",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
	}

	return s.updateJobStatus(job.ID, now, status)
}

func (s *Scheduler) updateJobStatus(jobID string, now time.Time, status string) error {
	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil // removed while running
	}

	nextRun, err := s.CalculateNextRun(job.CronExpression, now)
	if err != nil {
		return fmt.Errorf("calculate next run for job %q: %w", jobID, err)
	}

	job.LastRunAt = &now
	job.NextRunAt = &nextRun
	job.LastRunStatus = status
	return nil
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

// releaseJob removes the job from the in-flight set.
func (s *Scheduler) releaseJob(jobID string) {
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

// Stop gracefully shuts down the scheduler.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return nil
	}

	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil

	s.logger.Info("scheduler stopped")
	return nil
}

// RecoverMissed launches enabled jobs whose next_run_at passed while the
// scheduler was down. Called once at startup, before Start.
func (s *Scheduler) RecoverMissed(ctx context.Context) error {
	now := time.Now().UTC()
	recovered := 0

	s.jobsMu.Lock()
	var missed []ScheduledRun
	for _, job := range s.jobs {
		if job.Enabled && job.NextRunAt != nil && job.NextRunAt.Before(now) {
			missed = append(missed, *job)
		}
	}
	s.jobsMu.Unlock()

	for _, job := range missed {
		if !s.tryAcquire(job.ID) {
			continue
		}
		if err := s.runJob(ctx, job, now); err != nil {
			s.logger.Error("failed to recover missed job",
				slog.String("job_id", job.ID),
				slog.String("error", err.Error()),
			)
			s.releaseJob(job.ID)
			continue
		}
		s.releaseJob(job.ID)
		recovered++
	}

	if recovered > 0 {
		s.logger.Info("recovered missed jobs", slog.Int("count", recovered))
	}
	return nil
}
