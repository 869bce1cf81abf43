package orchestrator

import (
	"sync"
	"time"
)

// coalesceStrategy is the merge policy a coalesce node declares.
type coalesceStrategy string

const (
	strategyRequireAll  coalesceStrategy = "require_all"
	strategyBestEffort  coalesceStrategy = "best_effort"
	strategyQuorum      coalesceStrategy = "quorum"
)

// coalesceSweepInterval is how often the orchestrator checks open barriers
// for a missed deadline.
const coalesceSweepInterval = 200 * time.Millisecond

// barrier tracks arrivals for one fork_group_id at one coalesce node.
type barrier struct {
	nodeID       string
	forkGroupID  string
	strategy     coalesceStrategy
	expected     map[string]bool // branch_name -> required
	quorum       int
	deadline     time.Time
	arrived      []string // token IDs, in arrival order
	arrivedNames map[string]bool
}

// coalesceTracker owns every in-flight barrier, keyed by (nodeID,
// forkGroupID), so concurrent workers delivering branches for different
// rows never interfere.
type coalesceTracker struct {
	mu       sync.Mutex
	barriers map[string]*barrier
}

func newCoalesceTracker() *coalesceTracker {
	return &coalesceTracker{barriers: make(map[string]*barrier)}
}

func barrierKey(nodeID, forkGroupID string) string {
	return nodeID + "|" + forkGroupID
}

// Open registers a barrier the first time a branch arrives for a
// fork_group_id; subsequent arrivals reuse it.
func (c *coalesceTracker) Open(nodeID, forkGroupID string, branches []string, strategy string, quorum int, timeout time.Duration) *barrier {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := barrierKey(nodeID, forkGroupID)
	if b, ok := c.barriers[key]; ok {
		return b
	}
	expected := make(map[string]bool, len(branches))
	for _, br := range branches {
		expected[br] = true
	}
	b := &barrier{
		nodeID:       nodeID,
		forkGroupID:  forkGroupID,
		strategy:     coalesceStrategy(strategy),
		expected:     expected,
		quorum:       quorum,
		arrivedNames: make(map[string]bool),
	}
	if timeout > 0 {
		b.deadline = time.Now().Add(timeout)
	}
	c.barriers[key] = b
	return b
}

// Arrive records one branch's token arriving at the barrier, returning the
// barrier and whether it is now satisfied (ready to coalesce).
func (c *coalesceTracker) Arrive(nodeID, forkGroupID, branchName, tokenID string) (*barrier, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	b, ok := c.barriers[barrierKey(nodeID, forkGroupID)]
	if !ok {
		return nil, false
	}
	if !b.arrivedNames[branchName] {
		b.arrivedNames[branchName] = true
		b.arrived = append(b.arrived, tokenID)
	}
	return b, b.satisfied()
}

// satisfied reports whether the barrier's policy is met by current
// arrivals. Must be called with the tracker's lock held.
func (b *barrier) satisfied() bool {
	switch b.strategy {
	case strategyQuorum:
		return len(b.arrived) >= b.quorum
	case strategyBestEffort:
		return len(b.arrived) == len(b.expected) || (!b.deadline.IsZero() && time.Now().After(b.deadline))
	default: // require_all
		return len(b.arrived) == len(b.expected)
	}
}

// TimedOut reports whether a require_all/quorum barrier missed its
// deadline without being satisfied, routing its members down the
// COALESCE_TIMED_OUT path.
func (b *barrier) TimedOut() bool {
	return !b.deadline.IsZero() && time.Now().After(b.deadline) && !b.satisfied()
}

// Close removes a barrier once it has been coalesced (or timed out),
// freeing its memory.
func (c *coalesceTracker) Close(nodeID, forkGroupID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.barriers, barrierKey(nodeID, forkGroupID))
}

// SweepTimedOut removes and returns every open barrier whose deadline has
// passed without being satisfied.
func (c *coalesceTracker) SweepTimedOut() []*barrier {
	c.mu.Lock()
	defer c.mu.Unlock()
	var timedOut []*barrier
	for key, b := range c.barriers {
		if b.TimedOut() {
			timedOut = append(timedOut, b)
			delete(c.barriers, key)
		}
	}
	return timedOut
}
