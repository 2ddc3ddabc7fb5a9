package usecase

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"ScholarSnap/internal/domain"
	"ScholarSnap/internal/ports"
)

// Runner executes one pipeline run.
type Runner interface {
	Run(ctx context.Context) domain.RunResult
}

// Trigger runs the pipeline on behalf of a driver and publishes the outcome.
// Overlapping fires are skipped, so at most one run is in flight per process.
type Trigger struct {
	runner    Runner
	reporters []ports.RunReporter
	logger    *slog.Logger
	mu        sync.Mutex
}

// NewTrigger binds a runner to the reporters that observe it.
func NewTrigger(runner Runner, reporters []ports.RunReporter, logger *slog.Logger) *Trigger {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Trigger{runner: runner, reporters: reporters, logger: logger}
}

// Fire performs one run. The bool is false when another run was still in flight.
func (t *Trigger) Fire(ctx context.Context) (domain.RunResult, bool) {
	if !t.mu.TryLock() {
		t.logger.Warn("previous run still in progress, skipping")
		return domain.RunResult{}, false
	}
	defer t.mu.Unlock()

	result := t.runner.Run(ctx)

	attrs := []any{
		"run_id", result.RunID,
		"outcome", result.Outcome,
		"delivered", len(result.Delivered),
		"skipped", len(result.Skipped),
		"duration", result.Duration(),
	}
	if result.Paper != nil {
		attrs = append(attrs, "paper", result.Paper.Title)
	}
	switch {
	case result.OK() && len(result.LogFailures) == 0:
		t.logger.Info("run finished", attrs...)
	case result.OK():
		t.logger.Warn("run finished with log failures", append(attrs, "log_failures", result.LogFailures)...)
	default:
		t.logger.Error("run failed", append(attrs, "reason", result.Reason, "error", result.Err)...)
	}

	for _, r := range t.reporters {
		if err := r.Report(ctx, result); err != nil {
			t.logger.Warn("report run", "error", err)
		}
	}
	return result, true
}

// Scheduler wires the time-based driver with the trigger.
type Scheduler struct {
	driver  ports.Scheduler
	trigger *Trigger
}

// NewScheduler returns a helper to start/stop recurring runs.
func NewScheduler(driver ports.Scheduler, trigger *Trigger) *Scheduler {
	return &Scheduler{driver: driver, trigger: trigger}
}

// Start registers the trigger with the provided scheduler.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.driver == nil || s.trigger == nil {
		return nil
	}

	job := func(time.Time) {
		_, _ = s.trigger.Fire(ctx)
	}

	return s.driver.Start(ctx, job)
}

// Stop gracefully tears down the underlying scheduler.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.driver == nil {
		return nil
	}

	return s.driver.Stop(ctx)
}
