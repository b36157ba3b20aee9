// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ttl runs periodic housekeeping jobs for the orchestrator:
// expiring clarification slots and reclaiming BadgerDB value log space.
package ttl

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// =============================================================================
// Jobs
// =============================================================================

// Job is one unit of periodic cleanup.
type Job interface {
	Name() string
	// Run performs one cleanup pass and reports how many items it removed
	// or rewrote.
	Run(ctx context.Context) (int, error)
}

type funcJob struct {
	name string
	fn   func(ctx context.Context) (int, error)
}

func (j funcJob) Name() string                         { return j.name }
func (j funcJob) Run(ctx context.Context) (int, error) { return j.fn(ctx) }

// JobFunc adapts a function to Job.
//
// # Examples
//
//	ttl.JobFunc("clarification_sweep", memoryStore.Sweep)
//	ttl.JobFunc("badger_gc", db.RunGC)
func JobFunc(name string, fn func(ctx context.Context) (int, error)) Job {
	return funcJob{name: name, fn: fn}
}

// JobResult is the outcome of one job within a cycle.
type JobResult struct {
	Name     string
	Affected int
	Err      error
}

// CycleResult summarizes one scheduler cycle.
type CycleResult struct {
	StartTime time.Time
	EndTime   time.Time
	Jobs      []JobResult
}

// DurationMs returns the cycle duration in milliseconds.
func (r CycleResult) DurationMs() int64 {
	return r.EndTime.Sub(r.StartTime).Milliseconds()
}

// Affected sums Affected over all jobs.
func (r CycleResult) Affected() int {
	total := 0
	for _, j := range r.Jobs {
		total += j.Affected
	}
	return total
}

// Failed returns the results of jobs that returned an error.
func (r CycleResult) Failed() []JobResult {
	var failed []JobResult
	for _, j := range r.Jobs {
		if j.Err != nil {
			failed = append(failed, j)
		}
	}
	return failed
}

// =============================================================================
// Scheduler
// =============================================================================

// SchedulerConfig holds configuration for the cleanup scheduler.
//
// # Fields
//
//   - Interval: How often to run cleanup cycles. Default: 5 minutes.
//   - JobTimeout: Upper bound for a single job. Default: 1 minute.
type SchedulerConfig struct {
	Interval   time.Duration
	JobTimeout time.Duration
}

// DefaultSchedulerConfig returns the production defaults.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Interval:   5 * time.Minute,
		JobTimeout: time.Minute,
	}
}

// Scheduler runs a fixed set of Jobs on an interval.
//
// # Description
//
// Manages the lifecycle of a background goroutine using the ticker + done
// channel pattern. A failing job is logged and does not stop the others.
//
// # Thread Safety
//
// All public methods are thread-safe.
type Scheduler struct {
	jobs    []Job
	config  SchedulerConfig
	done    chan struct{}
	stopped chan struct{}
	mu      sync.Mutex
	running bool
}

// NewScheduler creates a scheduler for jobs. Zero config fields take the
// defaults.
//
// # Inputs
//
//   - config: Interval and per-job timeout.
//   - jobs: Jobs run in order on every cycle. Nil entries are dropped.
//
// # Outputs
//
//   - *Scheduler: Ready to Start().
func NewScheduler(config SchedulerConfig, jobs ...Job) *Scheduler {
	defaults := DefaultSchedulerConfig()
	if config.Interval <= 0 {
		config.Interval = defaults.Interval
	}
	if config.JobTimeout <= 0 {
		config.JobTimeout = defaults.JobTimeout
	}
	kept := make([]Job, 0, len(jobs))
	for _, j := range jobs {
		if j != nil {
			kept = append(kept, j)
		}
	}
	return &Scheduler{jobs: kept, config: config}
}

// Start begins the background loop. The first cycle runs immediately.
//
// # Outputs
//
//   - error: Non-nil if the scheduler is already running.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("scheduler is already running")
	}
	s.running = true
	s.done = make(chan struct{})
	s.stopped = make(chan struct{})

	names := make([]string, len(s.jobs))
	for i, j := range s.jobs {
		names[i] = j.Name()
	}
	slog.Info("Cleanup scheduler starting", "interval", s.config.Interval.String(), "jobs", names)

	go s.runLoop(ctx, s.done, s.stopped)
	return nil
}

// Stop signals the loop to exit and waits for the current cycle to finish.
// Safe to call multiple times.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	slog.Info("Cleanup scheduler stopping")
	close(s.done)
	s.running = false
	stopped := s.stopped
	s.mu.Unlock()

	<-stopped
	return nil
}

// RunNow runs one cycle immediately, independent of the loop.
func (s *Scheduler) RunNow(ctx context.Context) CycleResult {
	return s.runCycle(ctx)
}

func (s *Scheduler) runLoop(ctx context.Context, done <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	s.executeCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("Cleanup scheduler stopped (context cancelled)")
			return
		case <-done:
			slog.Info("Cleanup scheduler stopped (stop requested)")
			return
		case <-ticker.C:
			s.executeCycle(ctx)
		}
	}
}

func (s *Scheduler) executeCycle(ctx context.Context) {
	result := s.runCycle(ctx)
	for _, f := range result.Failed() {
		slog.Error("Cleanup job failed", "job", f.Name, "error", f.Err)
	}
	if result.Affected() > 0 {
		slog.Info("Cleanup cycle completed", "affected", result.Affected(), "duration_ms", result.DurationMs())
	} else {
		slog.Debug("Cleanup cycle completed (nothing to do)")
	}
}

func (s *Scheduler) runCycle(ctx context.Context) CycleResult {
	result := CycleResult{StartTime: time.Now(), Jobs: make([]JobResult, 0, len(s.jobs))}
	for _, job := range s.jobs {
		jobCtx, cancel := context.WithTimeout(ctx, s.config.JobTimeout)
		n, err := job.Run(jobCtx)
		cancel()
		result.Jobs = append(result.Jobs, JobResult{Name: job.Name(), Affected: n, Err: err})
	}
	result.EndTime = time.Now()
	return result
}
