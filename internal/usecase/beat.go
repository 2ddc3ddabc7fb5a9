package usecase

import (
	"context"
	"log/slog"
	"time"

	"ScholarSnap/internal/domain"
	"ScholarSnap/internal/ports"
)

// Beat enqueues a run request on every scheduler fire instead of running the
// pipeline in-process; workers pick the requests up.
type Beat struct {
	driver ports.Scheduler
	queue  ports.TaskQueue
	logger *slog.Logger
}

// NewBeat binds a time-based driver to the task queue.
func NewBeat(driver ports.Scheduler, queue ports.TaskQueue, logger *slog.Logger) *Beat {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Beat{driver: driver, queue: queue, logger: logger}
}

// Start registers the enqueue job with the driver.
func (b *Beat) Start(ctx context.Context) error {
	return b.driver.Start(ctx, func(at time.Time) {
		id, err := b.queue.Enqueue(ctx, domain.Task{Name: domain.TaskRunAgent, EnqueuedAt: at})
		if err != nil {
			b.logger.Error("enqueue run", "error", err)
			return
		}
		b.logger.Info("run enqueued", "task_id", id)
	})
}

// Stop tears down the driver.
func (b *Beat) Stop(ctx context.Context) error {
	return b.driver.Stop(ctx)
}
