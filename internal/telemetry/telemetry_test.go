package telemetry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tachyon-beep/elspeth/internal/elslog"
)

func TestTelemetry_DropModeUnderSaturationReturnsPromptlyAndCounts(t *testing.T) {
	tel := New(0, 1, "drop", elslog.New("error", "json"))
	ctx := context.Background()

	tel.Emit(ctx, "first", nil) // fills the depth-1 queue, nothing draining it yet

	started := time.Now()
	tel.Emit(ctx, "second", nil)
	tel.Emit(ctx, "third", nil)
	assert.Less(t, time.Since(started), 50*time.Millisecond)

	assert.Equal(t, int64(2), tel.EventsDropped())
}

func TestTelemetry_BlockModeBackpressuresUntilDrained(t *testing.T) {
	tel := New(0, 1, "block", elslog.New("error", "json"))
	ctx := context.Background()

	tel.Emit(ctx, "first", nil)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		tel.Emit(ctx, "second", nil)
	}()

	select {
	case <-time.After(20 * time.Millisecond):
	}
	assert.Equal(t, int64(0), tel.EventsDropped(), "block mode must not drop")

	<-tel.queue // drain the first event, making room
	wg.Wait()
}

func TestTelemetry_BlockModeRespectsContextCancellation(t *testing.T) {
	tel := New(0, 1, "block", elslog.New("error", "json"))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	tel.Emit(context.Background(), "first", nil)

	done := make(chan struct{})
	go func() {
		tel.Emit(ctx, "second", nil)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Emit did not respect context cancellation")
	}
}

func TestTelemetry_EventsDroppedMonotonicallyIncreases(t *testing.T) {
	tel := New(0, 0, "drop", elslog.New("error", "json"))
	ctx := context.Background()

	var last int64
	for i := 0; i < 5; i++ {
		tel.Emit(ctx, "event", nil)
		current := tel.EventsDropped()
		require.GreaterOrEqual(t, current, last)
		last = current
	}
	assert.Equal(t, int64(5), last)
}
