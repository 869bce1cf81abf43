// Package telemetry implements the optional telemetry export path:
// a pprof diagnostics server plus a bounded event queue that either
// blocks the emitter (BLOCK) or drops events under saturation (DROP).
package telemetry

import (
	"context"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"sync/atomic"
	"time"

	"github.com/tachyon-beep/elspeth/internal/elslog"
	"github.com/tachyon-beep/elspeth/internal/plugin"
)

// Event is one telemetry observation handed to Emit.
type Event struct {
	Name  string
	Attrs map[string]any
	At    time.Time
}

// Telemetry runs the pprof server and the bounded export queue.
type Telemetry struct {
	log       *elslog.Logger
	pprofAddr string
	mode      string // "block" or "drop"
	queue     chan Event
	dropped   atomic.Int64
}

// New builds a Telemetry component. queueDepth sizes the export queue;
// mode selects BLOCK or DROP behavior under saturation.
func New(pprofPort int, queueDepth int, mode string, log *elslog.Logger) *Telemetry {
	return &Telemetry{
		log:       log,
		pprofAddr: fmt.Sprintf("localhost:%d", pprofPort),
		mode:      mode,
		queue:     make(chan Event, queueDepth),
	}
}

// Start launches the pprof HTTP server and the export drain loop.
func (t *Telemetry) Start(ctx context.Context) error {
	go func() {
		t.log.Info("pprof server starting", "addr", t.pprofAddr)
		if err := http.ListenAndServe(t.pprofAddr, nil); err != nil {
			t.log.Error("pprof server error", "error", err)
		}
	}()

	go t.drain(ctx)
	return nil
}

func (t *Telemetry) drain(ctx context.Context) {
	for {
		select {
		case ev := <-t.queue:
			t.log.Info("telemetry_event", "event", ev.Name, "attrs", ev.Attrs)
		case <-ctx.Done():
			return
		}
	}
}

// Emit records an event per the configured BLOCK/DROP mode. BLOCK
// backpressures the caller until the queue has room or ctx is
// cancelled; DROP returns immediately, incrementing the dropped counter
// when the queue is saturated.
func (t *Telemetry) Emit(ctx context.Context, name string, attrs map[string]any) {
	ev := Event{Name: name, Attrs: attrs, At: time.Now()}

	if t.mode == "block" {
		select {
		case t.queue <- ev:
		case <-ctx.Done():
		}
		return
	}

	select {
	case t.queue <- ev:
	default:
		t.dropped.Add(1)
	}
}

// EventsDropped reports the monotonic drop counter surfaced in health
// metrics.
func (t *Telemetry) EventsDropped() int64 {
	return t.dropped.Load()
}

// RecordDuration is a convenience wrapper that emits a duration event.
func (t *Telemetry) RecordDuration(ctx context.Context, operation string, start time.Time) {
	t.Emit(ctx, "duration", map[string]any{"operation": operation, "duration_ms": time.Since(start).Milliseconds()})
}

var _ plugin.TelemetryEmitter = (*Telemetry)(nil)
