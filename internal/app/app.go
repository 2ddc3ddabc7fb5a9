package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"ScholarSnap/internal/config"
	"ScholarSnap/internal/domain"
	"ScholarSnap/internal/infrastructure/arxiv"
	"ScholarSnap/internal/infrastructure/credentials"
	"ScholarSnap/internal/infrastructure/extract"
	"ScholarSnap/internal/infrastructure/llm"
	"ScholarSnap/internal/infrastructure/mail"
	"ScholarSnap/internal/infrastructure/metrics"
	"ScholarSnap/internal/infrastructure/parser"
	"ScholarSnap/internal/infrastructure/queue"
	"ScholarSnap/internal/infrastructure/scheduler"
	"ScholarSnap/internal/infrastructure/storage"
	"ScholarSnap/internal/infrastructure/telegram"
	"ScholarSnap/internal/logging"
	"ScholarSnap/internal/ports"
	"ScholarSnap/internal/scanner"
	"ScholarSnap/internal/usecase"
)

// Application wires configs to use cases and lifecycle orchestration.
type Application struct {
	cfg    config.Config
	logger *slog.Logger

	db       *sql.DB
	store    *storage.NotificationLog
	pipeline *usecase.Pipeline
	trigger  *usecase.Trigger
	metrics  *metrics.Recorder

	redis *redis.Client
}

// New connects the notification log and builds the pipeline. Close releases
// what it opened.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level, cfg.Logging.Format)
	}
	a := &Application{cfg: cfg, logger: baseLogger}

	db, err := storage.Open(ctx, cfg.Database.Driver, cfg.Database.ConnectionString())
	if err != nil {
		return nil, err
	}
	a.db = db

	store, err := storage.NewNotificationLog(db, cfg.Database.Driver, cfg.Scheduler.Location(),
		storage.WithTable(cfg.Database.Table))
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	a.store = store

	httpClient := &http.Client{Timeout: 5 * time.Minute}
	arxivClient := arxiv.NewClient(httpClient, cfg.Source.RequestInterval, cfg.Source.UserAgent)

	registry := scanner.NewRegistry()
	registry.Register(arxiv.NewFeedScanner(arxivClient, cfg.Source.Endpoint, baseLogger.With("component", "scanner.api")))
	registry.Register(parser.NewListingScanner(arxivClient, cfg.Source.ListingURL, baseLogger.With("component", "scanner.listing")))
	source := parser.NewStrategySource(registry, cfg.Source.Strategy, baseLogger.With("component", "source"))

	summarizer, err := llm.New(cfg.Summarizer, httpClient, baseLogger.With("component", "summarizer"))
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	notifier, err := newNotifier(cfg.Mail, httpClient, baseLogger.With("component", "mail"))
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	a.pipeline = usecase.NewPipeline(usecase.PipelineDeps{
		Source:     source,
		Extractor:  extract.NewPDFExtractor(arxivClient, cfg.Extractor.MaxBytes, baseLogger.With("component", "extractor")),
		Summarizer: summarizer,
		Log:        store,
		Notifier:   notifier,
		Recipients: cfg.Recipients,
		Query: domain.PaperQuery{
			Category:   cfg.Source.Category,
			MaxResults: cfg.Source.MaxResults,
			SortBy:     cfg.Source.SortBy,
			SortOrder:  cfg.Source.SortOrder,
		},
		SubjectPrefix: cfg.Mail.SubjectPrefix,
		EmptyText:     usecase.EmptyTextPolicy(cfg.Pipeline.EmptyText),
		LogWorkers:    cfg.Pipeline.LogWorkers,
		Timeouts: usecase.Timeouts{
			Fetch:     cfg.Pipeline.Timeouts.Fetch,
			Extract:   cfg.Pipeline.Timeouts.Extract,
			Summarize: cfg.Pipeline.Timeouts.Summarize,
			Notify:    cfg.Pipeline.Timeouts.Notify,
			Store:     cfg.Pipeline.Timeouts.Store,
		},
		Logger: baseLogger.With("component", "pipeline"),
	})

	var reporters []ports.RunReporter
	if cfg.Metrics.Addr != "" {
		a.metrics = metrics.NewRecorder()
		reporters = append(reporters, a.metrics)
	}
	if tg := cfg.Notifications.Telegram; tg.BotToken != "" && tg.ChatID != "" {
		reporters = append(reporters, telegram.NewReporter(tg.BotToken, tg.ChatID, tg.OnlyFailures))
	}
	a.trigger = usecase.NewTrigger(a.pipeline, reporters, baseLogger.With("component", "trigger"))

	return a, nil
}

// NewQueueClient builds an application that only talks to the task queue. It
// opens no database and builds no pipeline, so Beat, Enqueue and TaskResult
// work without database, summarizer or mail credentials. The Redis connection
// is made on first use.
func NewQueueClient(cfg config.Config, baseLogger *slog.Logger) *Application {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level, cfg.Logging.Format)
	}
	return &Application{cfg: cfg, logger: baseLogger}
}

func newNotifier(cfg config.MailConfig, httpClient *http.Client, logger *slog.Logger) (ports.Notifier, error) {
	switch cfg.Transport {
	case config.TransportGmail, "":
		tokens := credentials.NewTokenStore(cfg.Gmail.CredentialsFile, cfg.Gmail.TokenFile, httpClient,
			logger.With("component", "credentials"))
		return mail.NewGmailNotifier(tokens, mail.GmailOptions{
			User:       cfg.Gmail.User,
			From:       cfg.From,
			Endpoint:   cfg.Gmail.Endpoint,
			HTTPClient: httpClient,
		}, logger), nil
	case config.TransportSMTP:
		return mail.NewSMTPNotifier(cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.Username, cfg.SMTP.Password, cfg.From, logger), nil
	default:
		return nil, fmt.Errorf("unknown mail transport %q", cfg.Transport)
	}
}

var errQueueClient = errors.New("operation needs the database and pipeline; build the application with New")

// InitDB creates the notification log table and index if missing.
func (a *Application) InitDB(ctx context.Context) error {
	if a.store == nil {
		return errQueueClient
	}
	if err := a.store.Init(ctx); err != nil {
		return err
	}
	a.logger.Info("database initialized", "driver", a.cfg.Database.Driver, "table", a.cfg.Database.Table)
	return nil
}

// RunOnce performs a single pipeline run and reports it.
func (a *Application) RunOnce(ctx context.Context) (domain.RunResult, error) {
	if err := a.InitDB(ctx); err != nil {
		return domain.RunResult{}, err
	}
	result, _ := a.trigger.Fire(ctx)
	return result, nil
}

// Serve runs the pipeline in-process on the configured interval or cron
// schedule until ctx is cancelled.
func (a *Application) Serve(ctx context.Context) error {
	if err := a.InitDB(ctx); err != nil {
		return err
	}

	var driver ports.Scheduler
	switch a.cfg.Scheduler.Mode {
	case config.ModeCron:
		driver = scheduler.NewCronScheduler(a.cfg.Scheduler.CronExpression, a.cfg.Scheduler.Location(),
			a.cfg.Scheduler.RunOnStart, a.logger.With("component", "scheduler"))
	default:
		driver = scheduler.NewIntervalScheduler(a.cfg.Scheduler.Interval, a.cfg.Scheduler.RunOnStart)
	}

	sched := usecase.NewScheduler(driver, a.trigger)
	a.logger.Info("scheduler starting", "mode", a.cfg.Scheduler.Mode,
		"interval", a.cfg.Scheduler.Interval, "cron", a.cfg.Scheduler.CronExpression,
		"tz", a.cfg.Scheduler.Location().String())

	return a.runUntilDone(ctx, sched.Start, sched.Stop)
}

// Beat enqueues a run request on the beat schedule until ctx is cancelled.
func (a *Application) Beat(ctx context.Context) error {
	q, err := a.queue(ctx)
	if err != nil {
		return err
	}
	if err := q.EnsureGroup(ctx); err != nil {
		return err
	}

	driver := scheduler.NewCronScheduler(a.cfg.Queue.BeatCron, a.cfg.Scheduler.Location(),
		a.cfg.Scheduler.RunOnStart, a.logger.With("component", "beat"))
	beat := usecase.NewBeat(driver, q, a.logger.With("component", "beat"))
	a.logger.Info("beat starting", "cron", a.cfg.Queue.BeatCron, "stream", a.cfg.Queue.Stream)

	return a.runUntilDone(ctx, beat.Start, beat.Stop)
}

// Worker consumes run requests until ctx is cancelled.
func (a *Application) Worker(ctx context.Context) error {
	if a.trigger == nil {
		return errQueueClient
	}
	q, err := a.queue(ctx)
	if err != nil {
		return err
	}

	var initializer usecase.Initializer
	if a.cfg.Queue.InitBeforeTask {
		initializer = a.store
	} else if err := a.InitDB(ctx); err != nil {
		return err
	}
	handler := usecase.NewTaskHandler(initializer, a.trigger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return q.Consume(gctx, handler.Handle) })
	if a.metrics != nil {
		g.Go(func() error { return a.metrics.Serve(gctx, a.cfg.Metrics.Addr, a.logger.With("component", "metrics")) })
	}
	return g.Wait()
}

// Enqueue submits one run request and returns its task id.
func (a *Application) Enqueue(ctx context.Context) (string, error) {
	q, err := a.queue(ctx)
	if err != nil {
		return "", err
	}
	if err := q.EnsureGroup(ctx); err != nil {
		return "", err
	}
	return q.Enqueue(ctx, domain.Task{Name: domain.TaskRunAgent})
}

// TaskResult looks up what a worker recorded for a task.
func (a *Application) TaskResult(ctx context.Context, taskID string) (domain.TaskResult, error) {
	q, err := a.queue(ctx)
	if err != nil {
		return domain.TaskResult{}, err
	}
	return q.Result(ctx, taskID)
}

// History lists the most recent notification log entries.
func (a *Application) History(ctx context.Context, limit int) ([]domain.NotificationRecord, error) {
	if a.store == nil {
		return nil, errQueueClient
	}
	return a.store.Recent(ctx, limit)
}

// Close releases the database and Redis connections.
func (a *Application) Close() error {
	var errs []error
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	return errors.Join(errs...)
}

func (a *Application) queue(ctx context.Context) (*queue.RedisQueue, error) {
	if a.redis == nil {
		client, err := queue.Connect(ctx, a.cfg.Queue.RedisURL)
		if err != nil {
			return nil, err
		}
		a.redis = client
	}
	return queue.NewRedisQueue(a.redis, queue.Options{
		Stream:    a.cfg.Queue.Stream,
		Group:     a.cfg.Queue.Group,
		Consumer:  a.cfg.Queue.Consumer,
		ResultTTL: a.cfg.Queue.ResultTTL,
		ClaimIdle: a.cfg.Queue.ClaimIdle,
		Block:     a.cfg.Queue.Block,
	}, a.logger.With("component", "queue")), nil
}

// runUntilDone starts a driver (and the metrics endpoint when enabled), blocks
// until ctx is cancelled, then stops the driver with a bounded grace period.
func (a *Application) runUntilDone(
	ctx context.Context,
	start func(context.Context) error,
	stop func(context.Context) error,
) error {
	if err := start(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	if a.metrics != nil {
		g.Go(func() error { return a.metrics.Serve(gctx, a.cfg.Metrics.Addr, a.logger.With("component", "metrics")) })
	}
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})
	err := g.Wait()

	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if stopErr := stop(stopCtx); stopErr != nil {
		a.logger.Warn("stop scheduler", "error", stopErr)
	}
	a.logger.Info("shutdown complete")
	return err
}
