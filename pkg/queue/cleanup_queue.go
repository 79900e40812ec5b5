package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"vidarchive/internal/util"
)

// Task is one stored object waiting to be removed.
type Task struct {
	Key      string
	Attempts int
}

// Config tunes the cleanup stream. Zero values fall back to defaults.
type Config struct {
	Stream     string
	Group      string
	Consumer   string
	MaxRetries int
	Block      time.Duration
	ClaimIdle  time.Duration
	RetryDelay time.Duration
	MaxLen     int64
	ReadCount  int64
	ClaimCount int64
}

// CleanupQueue retries object deletions that failed inline. Tasks live in a
// Redis stream read through a consumer group, so a crashed worker's
// messages are reclaimed by the next one.
type CleanupQueue struct {
	client       *redis.Client
	stream       string
	group        string
	consumerBase string
	maxRetries   int
	block        time.Duration
	claimIdle    time.Duration
	retryDelay   time.Duration
	maxLen       int64
	readCount    int64
	claimCount   int64
	once         sync.Once
}

func NewCleanupQueue(client *redis.Client, cfg Config) (*CleanupQueue, error) {
	if client == nil {
		return nil, errors.New("redis client required")
	}
	stream := strings.TrimSpace(cfg.Stream)
	if stream == "" {
		stream = "vidarchive:cleanup"
	}
	group := strings.TrimSpace(cfg.Group)
	if group == "" {
		group = "catalog"
	}
	consumer := strings.TrimSpace(cfg.Consumer)
	if consumer == "" {
		consumer = util.NewID()
	}
	q := &CleanupQueue{
		client:       client,
		stream:       stream,
		group:        group,
		consumerBase: consumer,
		maxRetries:   orDefault(cfg.MaxRetries, 5),
		block:        orDefault(cfg.Block, 5*time.Second),
		claimIdle:    orDefault(cfg.ClaimIdle, 30*time.Second),
		retryDelay:   orDefault(cfg.RetryDelay, 2*time.Second),
		maxLen:       orDefault(cfg.MaxLen, int64(10000)),
		readCount:    orDefault(cfg.ReadCount, int64(10)),
		claimCount:   orDefault(cfg.ClaimCount, int64(10)),
	}
	return q, nil
}

func orDefault[T int | int64 | time.Duration](v, def T) T {
	if v <= 0 {
		return def
	}
	return v
}

// Enqueue schedules key for removal.
func (q *CleanupQueue) Enqueue(ctx context.Context, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("object key required")
	}
	return q.client.XAdd(ctx, q.addArgs(Task{Key: key})).Err()
}

// Start runs concurrency consumers until ctx is done. handler should treat
// an already missing object as success.
func (q *CleanupQueue) Start(ctx context.Context, concurrency int, handler func(context.Context, Task) error) {
	if concurrency <= 0 {
		concurrency = 1
	}
	q.ensureGroup(ctx)
	for i := 0; i < concurrency; i++ {
		consumer := fmt.Sprintf("%s-%d", q.consumerBase, i)
		go q.consumeLoop(ctx, consumer, handler)
	}
}

func (q *CleanupQueue) ensureGroup(ctx context.Context) {
	q.once.Do(func() {
		err := q.client.XGroupCreateMkStream(ctx, q.stream, q.group, "0").Err()
		if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
			util.LoggerFromContext(ctx).Warn("create cleanup group failed", "stream", q.stream, "err", err)
		}
	})
}

func (q *CleanupQueue) consumeLoop(ctx context.Context, consumer string, handler func(context.Context, Task) error) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if msgs, err := q.claimPending(ctx, consumer); err == nil {
			for _, msg := range msgs {
				q.handleMessage(ctx, msg, handler)
			}
		}

		streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.group,
			Consumer: consumer,
			Streams:  []string{q.stream, ">"},
			Count:    q.readCount,
			Block:    q.block,
		}).Result()
		if err != nil {
			if !errors.Is(err, redis.Nil) && !q.sleep(ctx) {
				return
			}
			continue
		}
		for _, stream := range streams {
			for _, msg := range stream.Messages {
				q.handleMessage(ctx, msg, handler)
			}
		}
	}
}

func (q *CleanupQueue) claimPending(ctx context.Context, consumer string) ([]redis.XMessage, error) {
	res, _, err := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   q.stream,
		Group:    q.group,
		Consumer: consumer,
		MinIdle:  q.claimIdle,
		Start:    "0-0",
		Count:    q.claimCount,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (q *CleanupQueue) handleMessage(ctx context.Context, msg redis.XMessage, handler func(context.Context, Task) error) {
	task := decodeTask(msg.Values)
	if task.Key == "" {
		q.ackAndDel(ctx, msg.ID)
		return
	}
	err := handler(ctx, task)
	if err == nil {
		q.ackAndDel(ctx, msg.ID)
		return
	}
	task.Attempts++
	logger := util.LoggerFromContext(ctx)
	if task.Attempts >= q.maxRetries {
		logger.Error("object cleanup abandoned", "key", task.Key, "attempts", task.Attempts, "err", err)
		q.ackAndDel(ctx, msg.ID)
		return
	}
	logger.Warn("object cleanup failed, retrying", "key", task.Key, "attempts", task.Attempts, "err", err)
	if !q.sleep(ctx) {
		return
	}
	if err := q.requeueAndAck(ctx, msg.ID, task); err != nil {
		logger.Warn("requeue cleanup task failed", "key", task.Key, "err", err)
	}
}

func (q *CleanupQueue) sleep(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(q.retryDelay):
		return true
	}
}

func (q *CleanupQueue) ackAndDel(ctx context.Context, msgID string) {
	_, _ = q.client.XAck(ctx, q.stream, q.group, msgID).Result()
	_, _ = q.client.XDel(ctx, q.stream, msgID).Result()
}

// requeueAndAck appends the task again and drops the old message in one
// transaction; on failure the original stays pending for XAUTOCLAIM.
func (q *CleanupQueue) requeueAndAck(ctx context.Context, msgID string, task Task) error {
	pipe := q.client.TxPipeline()
	pipe.XAdd(ctx, q.addArgs(task))
	pipe.XAck(ctx, q.stream, q.group, msgID)
	pipe.XDel(ctx, q.stream, msgID)
	_, err := pipe.Exec(ctx)
	return err
}

func (q *CleanupQueue) addArgs(task Task) *redis.XAddArgs {
	return &redis.XAddArgs{
		Stream: q.stream,
		MaxLen: q.maxLen,
		Approx: true,
		Values: map[string]any{
			"key":      task.Key,
			"attempts": strconv.Itoa(task.Attempts),
		},
	}
}

func decodeTask(values map[string]any) Task {
	task := Task{}
	task.Key, _ = values["key"].(string)
	if raw, ok := values["attempts"].(string); ok {
		if n, err := strconv.Atoi(raw); err == nil {
			task.Attempts = n
		}
	}
	return task
}
