package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tachyon-beep/elspeth/internal/elslog"
)

func newTestRedisQueue(t *testing.T, highWaterMark int) *RedisQueue {
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisQueue(client, "elspeth:tasks", highWaterMark, elslog.New("error", "text"))
}

func TestRedisQueue_PushPopRoundTrip(t *testing.T) {
	q := newTestRedisQueue(t, 4)
	ctx := context.Background()

	task := Task{TokenID: "t1", NodeID: "n1"}
	require.NoError(t, q.Push(ctx, task))

	got, err := q.Pop(ctx)
	require.NoError(t, err)
	assert.Equal(t, task, got)
}

func TestRedisQueue_DepthReflectsListLength(t *testing.T) {
	q := newTestRedisQueue(t, 4)
	ctx := context.Background()

	require.NoError(t, q.Push(ctx, Task{TokenID: "a"}))
	require.NoError(t, q.Push(ctx, Task{TokenID: "b"}))
	assert.Equal(t, 2, q.Depth())

	_, err := q.Pop(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, q.Depth())
}

func TestRedisQueue_PushBlocksAtHighWaterMark(t *testing.T) {
	q := newTestRedisQueue(t, 1)
	ctx := context.Background()

	require.NoError(t, q.Push(ctx, Task{TokenID: "a"}))

	blocked := make(chan error, 1)
	pushCtx, cancel := context.WithTimeout(ctx, 300*time.Millisecond)
	defer cancel()
	go func() {
		blocked <- q.Push(pushCtx, Task{TokenID: "b"})
	}()

	select {
	case err := <-blocked:
		assert.ErrorIs(t, err, context.DeadlineExceeded, "push should block while the list is at its high-water mark")
	case <-time.After(500 * time.Millisecond):
		t.Fatal("push did not unblock after context deadline")
	}
}

// LPush/BLPop both operate on the list head, so the most recently pushed
// task is the next one popped.
func TestRedisQueue_PopReturnsMostRecentlyPushedTask(t *testing.T) {
	q := newTestRedisQueue(t, 8)
	ctx := context.Background()

	require.NoError(t, q.Push(ctx, Task{TokenID: "first"}))
	require.NoError(t, q.Push(ctx, Task{TokenID: "second"}))

	got, err := q.Pop(ctx)
	require.NoError(t, err)
	assert.Equal(t, "second", got.TokenID)

	got, err = q.Pop(ctx)
	require.NoError(t, err)
	assert.Equal(t, "first", got.TokenID)
}
