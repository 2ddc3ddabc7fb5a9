package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"ScholarSnap/internal/ports"
)

// CronScheduler fires the job on a five-field cron expression evaluated in a
// fixed time zone. A fire that lands while the previous job is still running
// is skipped.
type CronScheduler struct {
	spec       string
	loc        *time.Location
	runOnStart bool
	logger     *slog.Logger

	mu   sync.Mutex
	cron *cron.Cron
	stop chan struct{}
}

var _ ports.Scheduler = (*CronScheduler)(nil)

// NewCronScheduler builds a scheduler configured via cron expression string.
func NewCronScheduler(spec string, loc *time.Location, runOnStart bool, logger *slog.Logger) *CronScheduler {
	if loc == nil {
		loc = time.Local
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &CronScheduler{spec: spec, loc: loc, runOnStart: runOnStart, logger: logger}
}

// Start registers the job and starts the cron loop.
func (c *CronScheduler) Start(ctx context.Context, job func(time.Time)) error {
	if job == nil {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cron != nil {
		return nil
	}

	logger := cronLogger{c.logger}
	sched := cron.New(
		cron.WithLocation(c.loc),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	if _, err := sched.AddFunc(c.spec, func() { job(time.Now().In(c.loc)) }); err != nil {
		return fmt.Errorf("cron schedule %q: %w", c.spec, err)
	}

	if c.runOnStart {
		// through the chain, so a slow first run still suppresses overlapping fires
		entry := sched.Entries()[0]
		go entry.WrappedJob.Run()
	}

	sched.Start()
	stop := make(chan struct{})
	c.cron, c.stop = sched, stop

	// the watcher only ever stops the instance it was started with
	go func() {
		select {
		case <-ctx.Done():
			_ = c.halt(context.Background(), sched)
		case <-stop:
		}
	}()

	if entries := sched.Entries(); len(entries) > 0 {
		c.logger.Info("cron scheduled", "spec", c.spec, "tz", c.loc.String(), "next", entries[0].Next)
	}
	return nil
}

// Stop halts the cron loop and waits for running jobs, bounded by ctx.
func (c *CronScheduler) Stop(ctx context.Context) error {
	c.mu.Lock()
	sched := c.cron
	c.mu.Unlock()

	if sched == nil {
		return nil
	}
	return c.halt(ctx, sched)
}

func (c *CronScheduler) halt(ctx context.Context, sched *cron.Cron) error {
	c.mu.Lock()
	if c.cron != sched {
		c.mu.Unlock()
		return nil
	}
	close(c.stop)
	c.cron, c.stop = nil, nil
	c.mu.Unlock()

	select {
	case <-sched.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// cronLogger adapts slog to the cron.Logger interface.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
