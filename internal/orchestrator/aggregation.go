package orchestrator

import (
	"sync"
	"time"

	"github.com/tachyon-beep/elspeth/internal/graph"
	"github.com/tachyon-beep/elspeth/internal/landscape"
)

// batchState accumulates buffered tokens for one aggregation node until
// its trigger fires (by count, size, or elapsed time).
type batchState struct {
	batchID    string
	members    []*landscape.Token
	sizeBytes  int64
	openedAt   time.Time
}

// aggregationTracker owns the in-flight batch per aggregation node.
type aggregationTracker struct {
	mu      sync.Mutex
	batches map[string]*batchState
}

func newAggregationTracker() *aggregationTracker {
	return &aggregationTracker{batches: make(map[string]*batchState)}
}

// Add appends tok to nodeID's open batch (opening one if needed with a
// fresh batchID), and reports whether trig now fires.
func (a *aggregationTracker) Add(nodeID string, newBatchID func() string, tok *landscape.Token, rowSizeBytes int64, trig *graph.AggregationTrigger) (*batchState, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	b, ok := a.batches[nodeID]
	if !ok {
		b = &batchState{batchID: newBatchID(), openedAt: time.Now()}
		a.batches[nodeID] = b
	}
	b.members = append(b.members, tok)
	b.sizeBytes += rowSizeBytes

	return b, batchFires(b, trig)
}

func batchFires(b *batchState, trig *graph.AggregationTrigger) bool {
	if trig == nil {
		return false
	}
	switch trig.Kind {
	case "count":
		return len(b.members) >= trig.Count
	case "size":
		return b.sizeBytes >= trig.SizeBytes
	case "time":
		return time.Since(b.openedAt) >= time.Duration(trig.Interval)*time.Millisecond
	default:
		return false
	}
}

// Flush removes and returns nodeID's current batch, if one is open.
func (a *aggregationTracker) Flush(nodeID string) (*batchState, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	b, ok := a.batches[nodeID]
	if ok {
		delete(a.batches, nodeID)
	}
	return b, ok
}
