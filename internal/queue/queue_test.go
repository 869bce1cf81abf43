package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tachyon-beep/elspeth/internal/elslog"
)

func TestMemoryQueue_PushPopRoundTrip(t *testing.T) {
	q := NewMemoryQueue(2, elslog.New("error", "text"))
	ctx := context.Background()

	task := Task{TokenID: "t1", NodeID: "n1"}
	require.NoError(t, q.Push(ctx, task))

	got, err := q.Pop(ctx)
	require.NoError(t, err)
	assert.Equal(t, task, got)
}

func TestMemoryQueue_BackpressureBlocksAtHighWaterMark(t *testing.T) {
	q := NewMemoryQueue(1, elslog.New("error", "text"))
	ctx := context.Background()

	require.NoError(t, q.Push(ctx, Task{TokenID: "a"}))

	blocked := make(chan error, 1)
	pushCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	go func() {
		blocked <- q.Push(pushCtx, Task{TokenID: "b"})
	}()

	select {
	case err := <-blocked:
		assert.ErrorIs(t, err, context.DeadlineExceeded, "second push should block until the queue drains")
	case <-time.After(200 * time.Millisecond):
		t.Fatal("push did not unblock after context deadline")
	}
}

func TestMemoryQueue_DepthReflectsPending(t *testing.T) {
	q := NewMemoryQueue(4, elslog.New("error", "text"))
	ctx := context.Background()

	require.NoError(t, q.Push(ctx, Task{TokenID: "a"}))
	require.NoError(t, q.Push(ctx, Task{TokenID: "b"}))
	assert.Equal(t, 2, q.Depth())

	_, err := q.Pop(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, q.Depth())
}

func TestMemoryQueue_PopAfterCloseReturnsError(t *testing.T) {
	q := NewMemoryQueue(1, elslog.New("error", "text"))
	require.NoError(t, q.Close())

	_, err := q.Pop(context.Background())
	assert.Error(t, err)
}
