// Package queue carries run requests between the beat process and workers
// over Redis Streams.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"ScholarSnap/internal/domain"
	"ScholarSnap/internal/ports"
)

// ErrResultNotFound is returned when a task has no stored result (yet, or any more).
var ErrResultNotFound = errors.New("task result not found")

// Options names the stream, consumer group and timing of a queue.
type Options struct {
	Stream    string
	Group     string
	Consumer  string
	ResultTTL time.Duration
	// ClaimIdle is how long a delivered but unacknowledged task waits before
	// another worker takes it over.
	ClaimIdle time.Duration
	Block     time.Duration
}

// RedisQueue implements ports.TaskQueue with a stream and a consumer group.
// Delivery is at-least-once: a task is acknowledged only after its result is stored.
type RedisQueue struct {
	client *redis.Client
	opts   Options
	now    func() time.Time
	logger *slog.Logger
}

var _ ports.TaskQueue = (*RedisQueue)(nil)

// Connect parses a redis:// URL and checks the server is reachable.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// NewRedisQueue binds the queue to an existing client.
func NewRedisQueue(client *redis.Client, opts Options, logger *slog.Logger) *RedisQueue {
	if opts.Stream == "" {
		opts.Stream = "scholarsnap:tasks"
	}
	if opts.Group == "" {
		opts.Group = "scholarsnap-workers"
	}
	if opts.Consumer == "" {
		opts.Consumer = "worker-" + uuid.NewString()[:8]
	}
	if opts.ResultTTL <= 0 {
		opts.ResultTTL = 24 * time.Hour
	}
	if opts.ClaimIdle <= 0 {
		opts.ClaimIdle = 15 * time.Minute
	}
	if opts.Block <= 0 {
		opts.Block = 5 * time.Second
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &RedisQueue{client: client, opts: opts, now: time.Now, logger: logger}
}

// EnsureGroup creates the stream and consumer group if they do not exist.
func (q *RedisQueue) EnsureGroup(ctx context.Context) error {
	err := q.client.XGroupCreateMkStream(ctx, q.opts.Stream, q.opts.Group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group: %w", err)
	}
	return nil
}

// Enqueue appends a task to the stream and returns its task id.
func (q *RedisQueue) Enqueue(ctx context.Context, task domain.Task) (string, error) {
	if task.Name == "" {
		return "", errors.New("task name is required")
	}
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if task.EnqueuedAt.IsZero() {
		task.EnqueuedAt = q.now()
	}

	msgID, err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.opts.Stream,
		Values: map[string]any{
			"task_id":     task.ID,
			"name":        task.Name,
			"enqueued_at": task.EnqueuedAt.UTC().Format(time.RFC3339Nano),
		},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("enqueue %s: %w", task.Name, err)
	}

	q.logger.Info("task enqueued", "task_id", task.ID, "name", task.Name, "message_id", msgID)
	return task.ID, nil
}

// Consume processes tasks until ctx is cancelled. Transport errors are logged
// and retried after a short pause.
func (q *RedisQueue) Consume(ctx context.Context, handler func(context.Context, domain.Task) domain.TaskResult) error {
	if err := q.EnsureGroup(ctx); err != nil {
		return err
	}
	q.logger.Info("worker consuming", "stream", q.opts.Stream, "group", q.opts.Group, "consumer", q.opts.Consumer)

	for {
		if ctx.Err() != nil {
			return nil
		}
		if _, err := q.ProcessOnce(ctx, handler); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			q.logger.Error("consume", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
		}
	}
}

// ProcessOnce handles at most one task: an abandoned one first, otherwise a
// new one, waiting up to Options.Block. It reports whether a task was handled.
func (q *RedisQueue) ProcessOnce(ctx context.Context, handler func(context.Context, domain.Task) domain.TaskResult) (bool, error) {
	msg, ok, err := q.claimStale(ctx)
	if err != nil {
		return false, err
	}
	if !ok {
		msg, ok, err = q.readNew(ctx)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, q.handle(ctx, msg, handler)
}

func (q *RedisQueue) claimStale(ctx context.Context) (redis.XMessage, bool, error) {
	msgs, _, err := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   q.opts.Stream,
		Group:    q.opts.Group,
		Consumer: q.opts.Consumer,
		MinIdle:  q.opts.ClaimIdle,
		Start:    "0-0",
		Count:    1,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return redis.XMessage{}, false, nil
		}
		return redis.XMessage{}, false, fmt.Errorf("claim stale tasks: %w", err)
	}
	if len(msgs) == 0 {
		return redis.XMessage{}, false, nil
	}
	q.logger.Warn("reclaimed abandoned task", "message_id", msgs[0].ID)
	return msgs[0], true, nil
}

func (q *RedisQueue) readNew(ctx context.Context) (redis.XMessage, bool, error) {
	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.opts.Group,
		Consumer: q.opts.Consumer,
		Streams:  []string{q.opts.Stream, ">"},
		Count:    1,
		Block:    q.opts.Block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return redis.XMessage{}, false, nil
		}
		return redis.XMessage{}, false, fmt.Errorf("read tasks: %w", err)
	}
	for _, s := range streams {
		if len(s.Messages) > 0 {
			return s.Messages[0], true, nil
		}
	}
	return redis.XMessage{}, false, nil
}

func (q *RedisQueue) handle(ctx context.Context, msg redis.XMessage, handler func(context.Context, domain.Task) domain.TaskResult) error {
	task, err := decodeTask(msg)
	var result domain.TaskResult
	if err != nil {
		q.logger.Error("malformed task, dropping", "message_id", msg.ID, "error", err)
		result = domain.TaskResult{
			TaskID:     task.ID,
			Status:     domain.TaskFailed,
			Lines:      []string{"malformed task: " + err.Error()},
			FinishedAt: q.now(),
		}
	} else {
		q.logger.Info("task received", "task_id", task.ID, "name", task.Name)
		result = handler(ctx, task)
		if result.TaskID == "" {
			result.TaskID = task.ID
		}
	}

	if result.TaskID != "" {
		if err := q.storeResult(ctx, result); err != nil {
			// left pending, so another worker reclaims it after ClaimIdle
			return err
		}
	}
	if err := q.client.XAck(ctx, q.opts.Stream, q.opts.Group, msg.ID).Err(); err != nil {
		return fmt.Errorf("ack %s: %w", msg.ID, err)
	}
	return nil
}

// Result returns the stored outcome of a task.
func (q *RedisQueue) Result(ctx context.Context, taskID string) (domain.TaskResult, error) {
	raw, err := q.client.Get(ctx, q.resultKey(taskID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.TaskResult{}, ErrResultNotFound
		}
		return domain.TaskResult{}, fmt.Errorf("get result %s: %w", taskID, err)
	}
	var result domain.TaskResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return domain.TaskResult{}, fmt.Errorf("decode result %s: %w", taskID, err)
	}
	return result, nil
}

func (q *RedisQueue) storeResult(ctx context.Context, result domain.TaskResult) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	if err := q.client.Set(ctx, q.resultKey(result.TaskID), raw, q.opts.ResultTTL).Err(); err != nil {
		return fmt.Errorf("store result %s: %w", result.TaskID, err)
	}
	return nil
}

func (q *RedisQueue) resultKey(taskID string) string {
	return q.opts.Stream + ":result:" + taskID
}

func decodeTask(msg redis.XMessage) (domain.Task, error) {
	var task domain.Task
	task.ID, _ = msg.Values["task_id"].(string)
	task.Name, _ = msg.Values["name"].(string)
	if task.ID == "" || task.Name == "" {
		return task, fmt.Errorf("message %s lacks task_id or name", msg.ID)
	}
	if raw, _ := msg.Values["enqueued_at"].(string); raw != "" {
		at, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return task, fmt.Errorf("message %s: enqueued_at: %w", msg.ID, err)
		}
		task.EnqueuedAt = at
	}
	return task, nil
}
