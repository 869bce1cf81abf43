package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tachyon-beep/elspeth/internal/elslog"
)

const pushPollInterval = 50 * time.Millisecond

// RedisQueue is a distributed work queue backed by a bounded Redis list:
// LPUSH to enqueue, BLPOP to dequeue, with the list length itself standing
// in for queue depth.
type RedisQueue struct {
	client        *redis.Client
	key           string
	highWaterMark int
	log           *elslog.Logger
}

// NewRedisQueue wraps a Redis list as a Queue.
func NewRedisQueue(client *redis.Client, key string, highWaterMark int, log *elslog.Logger) *RedisQueue {
	return &RedisQueue{client: client, key: key, highWaterMark: highWaterMark, log: log}
}

// Push blocks (via a short poll loop against LLEN) once the list is at its
// high-water mark, providing the same backpressure contract as
// MemoryQueue.Push.
func (q *RedisQueue) Push(ctx context.Context, task Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}

	for {
		depth, err := q.client.LLen(ctx, q.key).Result()
		if err != nil {
			return fmt.Errorf("check queue depth: %w", err)
		}
		if int(depth) < q.highWaterMark {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pushPollInterval):
		}
	}

	if err := q.client.LPush(ctx, q.key, data).Err(); err != nil {
		return fmt.Errorf("lpush task: %w", err)
	}
	return nil
}

// Pop blocks on BLPOP until a task is available or ctx is cancelled.
func (q *RedisQueue) Pop(ctx context.Context) (Task, error) {
	res, err := q.client.BLPop(ctx, 0, q.key).Result()
	if err != nil {
		return Task{}, fmt.Errorf("blpop: %w", err)
	}
	if len(res) != 2 {
		return Task{}, fmt.Errorf("unexpected blpop reply shape: %v", res)
	}
	var task Task
	if err := json.Unmarshal([]byte(res[1]), &task); err != nil {
		return Task{}, fmt.Errorf("unmarshal task: %w", err)
	}
	return task, nil
}

// Depth reports the current list length.
func (q *RedisQueue) Depth() int {
	depth, err := q.client.LLen(context.Background(), q.key).Result()
	if err != nil {
		q.log.Warn("failed to read queue depth", "error", err)
		return 0
	}
	return int(depth)
}

func (q *RedisQueue) Close() error {
	return nil // the Redis client's lifecycle is owned by the caller
}
