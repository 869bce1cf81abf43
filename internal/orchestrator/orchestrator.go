// Package orchestrator drives a run: it iterates the source, pushes
// tokens through the graph via a worker pool, enforces backpressure,
// resolves coalesce barriers, flushes aggregation triggers, and routes
// finished tokens to sinks.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tachyon-beep/elspeth/internal/config"
	"github.com/tachyon-beep/elspeth/internal/elslog"
	"github.com/tachyon-beep/elspeth/internal/graph"
	"github.com/tachyon-beep/elspeth/internal/landscape"
	"github.com/tachyon-beep/elspeth/internal/plugin"
	"github.com/tachyon-beep/elspeth/internal/processor"
	"github.com/tachyon-beep/elspeth/internal/queue"
	"github.com/tachyon-beep/elspeth/internal/token"
)

// Plugins holds the instantiated plugin set the orchestrator dispatches
// into, keyed by node ID (not plugin name — two nodes may share a
// plugin.Name() but never a node ID).
type Plugins struct {
	Sources    map[string]plugin.Source
	Transforms map[string]plugin.Transform
	Gates      map[string]plugin.Gate
	Sinks      map[string]plugin.Sink
}

// Orchestrator drives one run end-to-end.
type Orchestrator struct {
	graph   *graph.Graph
	plugins *Plugins
	proc    *processor.Processor
	tokens  *token.Manager
	store   *landscape.Store

	q   queue.Queue
	cfg config.QueueConfig
	log *elslog.Logger

	coalesce    *coalesceTracker
	aggregation *aggregationTracker

	nextOf map[string][]*graph.Edge // node ID -> outgoing non-DIVERT edges
	divert map[string]string        // node ID -> DIVERT target node ID

	inFlight sync.WaitGroup

	// rows holds each in-flight token's current row payload between queue
	// hops. The core makes no durability guarantee for in-flight row
	// data; this is a process-local convenience, not an audit mechanism,
	// and is dropped once a token reaches a terminal outcome.
	rowsMu sync.Mutex
	rows   map[string]plugin.Row
	rowIDs map[string]string // token ID -> row ID, for landscape.Token reconstruction
}

// New builds an Orchestrator for a validated graph.
func New(g *graph.Graph, plugins *Plugins, proc *processor.Processor, tokens *token.Manager, store *landscape.Store, q queue.Queue, cfg config.QueueConfig, log *elslog.Logger) *Orchestrator {
	o := &Orchestrator{
		graph: g, plugins: plugins, proc: proc, tokens: tokens, store: store,
		q: q, cfg: cfg, log: log,
		coalesce:    newCoalesceTracker(),
		aggregation: newAggregationTracker(),
		nextOf:      make(map[string][]*graph.Edge),
		divert:      make(map[string]string),
		rows:        make(map[string]plugin.Row),
		rowIDs:      make(map[string]string),
	}
	for _, e := range g.Edges {
		if e.Mode == graph.ModeDivert {
			o.divert[e.From] = e.To
			continue
		}
		o.nextOf[e.From] = append(o.nextOf[e.From], e)
	}
	return o
}

// Run iterates the source, submits work to a fixed worker pool, and
// blocks until the source is exhausted and every submitted token reaches
// a terminal outcome (or the run is cancelled).
func (o *Orchestrator) Run(ctx context.Context, runID string, sourceNodeID string) error {
	workers := o.cfg.Workers
	if workers < 1 {
		workers = 1
	}

	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go o.runCoalesceSweepLoop(sweepCtx, runID)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o.worker(ctx, runID)
		}()
	}

	if err := o.produce(ctx, runID, sourceNodeID); err != nil {
		o.log.Error("source iteration failed", "error", err)
	}

	o.inFlight.Wait() // every submitted token either terminal or still queued
	o.sweepCoalesceTimeouts(ctx, runID)

	drainCtx, cancel := context.WithTimeout(context.Background(), o.cfg.DrainDeadline)
	defer cancel()
	_ = o.q.Close()

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-drainCtx.Done():
		o.log.Warn("drain deadline exceeded; tokens left unfinalised are visible to recovery")
	}
	return nil
}

// produce pulls rows from the source, creates initial tokens, and pushes
// them as tasks. Blocking Push provides the backpressure contract: the
// source is paced to the queue's high-water mark.
func (o *Orchestrator) produce(ctx context.Context, runID, sourceNodeID string) error {
	src, ok := o.plugins.Sources[sourceNodeID]
	if !ok {
		return fmt.Errorf("no source plugin for node %s", sourceNodeID)
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		row, ok, err := src.Load(ctx)
		if err != nil {
			return fmt.Errorf("source load: %w", err)
		}
		if !ok {
			return nil // exhausted
		}

		rowID := uuid.NewString()
		if err := o.store.CreateRow(ctx, &landscape.Row{RowID: rowID, RunID: runID}); err != nil {
			return err
		}
		tok, err := o.tokens.CreateInitial(ctx, runID, rowID)
		if err != nil {
			return err
		}

		entryEdges := o.nextOf[sourceNodeID]
		if len(entryEdges) == 0 {
			return fmt.Errorf("source node %s has no outgoing edge", sourceNodeID)
		}

		o.stashRow(tok.TokenID, row)
		o.setRowID(tok.TokenID, rowID)
		o.inFlight.Add(1)
		if err := o.q.Push(ctx, queue.Task{TokenID: tok.TokenID, NodeID: entryEdges[0].To}); err != nil {
			o.inFlight.Done()
			return err
		}
	}
}

func (o *Orchestrator) stashRow(tokenID string, row plugin.Row) {
	o.rowsMu.Lock()
	o.rows[tokenID] = row
	o.rowsMu.Unlock()
}

func (o *Orchestrator) takeRow(tokenID string) (plugin.Row, bool) {
	o.rowsMu.Lock()
	defer o.rowsMu.Unlock()
	row, ok := o.rows[tokenID]
	return row, ok
}

func (o *Orchestrator) setRow(tokenID string, row plugin.Row) {
	o.stashRow(tokenID, row)
}

func (o *Orchestrator) dropRow(tokenID string) {
	o.rowsMu.Lock()
	delete(o.rows, tokenID)
	delete(o.rowIDs, tokenID)
	o.rowsMu.Unlock()
}

func (o *Orchestrator) setRowID(tokenID, rowID string) {
	o.rowsMu.Lock()
	o.rowIDs[tokenID] = rowID
	o.rowsMu.Unlock()
}

func (o *Orchestrator) getRowID(tokenID string) string {
	o.rowsMu.Lock()
	defer o.rowsMu.Unlock()
	return o.rowIDs[tokenID]
}

func (o *Orchestrator) worker(ctx context.Context, runID string) {
	for {
		task, err := o.q.Pop(ctx)
		if err != nil {
			return // ctx cancelled or queue closed
		}
		o.handleTask(ctx, runID, task)
		o.inFlight.Done()
	}
}

func (o *Orchestrator) handleTask(ctx context.Context, runID string, task queue.Task) {
	node, ok := o.graph.Nodes[task.NodeID]
	if !ok {
		o.log.Error("task references unknown node", "node_id", task.NodeID, "token_id", task.TokenID)
		return
	}
	row, ok := o.takeRow(task.TokenID)
	if !ok {
		o.log.Error("no stashed row for token", "token_id", task.TokenID, "node_id", task.NodeID)
		return
	}

	tok := &landscape.Token{TokenID: task.TokenID, RowID: o.getRowID(task.TokenID)}
	pctx := &plugin.Context{RunID: runID, RowID: tok.RowID, TokenID: task.TokenID, NodeID: node.ID, Ctx: ctx}

	switch node.Kind {
	case graph.KindTransform:
		o.handleTransform(ctx, pctx, runID, tok, node, row)
	case graph.KindGate:
		o.handleGate(ctx, pctx, runID, tok, node, row)
	case graph.KindSink:
		o.handleSink(pctx, tok, node, row, false)
	case graph.KindCoalesce:
		o.handleCoalesceArrival(ctx, runID, tok, node, row)
	case graph.KindAggregation:
		o.handleAggregation(ctx, runID, tok, node, row)
	default:
		o.log.Error("unhandled node kind", "kind", node.Kind, "node_id", node.ID)
	}
}

func (o *Orchestrator) handleTransform(ctx context.Context, pctx *plugin.Context, runID string, tok *landscape.Token, node *graph.Node, row plugin.Row) {
	t, ok := o.plugins.Transforms[node.ID]
	if !ok {
		o.log.Error("no transform plugin for node", "node_id", node.ID)
		return
	}
	result, err := o.proc.ProcessTransform(pctx, tok, node, t, row)
	if err != nil {
		o.log.Warn("transform step ended in error", "node_id", node.ID, "token_id", tok.TokenID, "error", err)
	}
	o.advance(ctx, runID, tok, node, result)
}

func (o *Orchestrator) handleGate(ctx context.Context, pctx *plugin.Context, runID string, tok *landscape.Token, node *graph.Node, row plugin.Row) {
	g, ok := o.plugins.Gates[node.ID]
	if !ok {
		o.log.Error("no gate plugin for node", "node_id", node.ID)
		return
	}
	result, err := o.proc.ProcessGate(pctx, tok, node, g, row)
	if err != nil {
		o.log.Warn("gate step ended in error", "node_id", node.ID, "token_id", tok.TokenID, "error", err)
		return
	}

	if result.Disposition == processor.DispositionFork {
		children, forkGroupID, err := o.tokens.Fork(ctx, tok, g.ForkBranches(), runID, node.StepInPipeline+1)
		if err != nil {
			o.log.Error("fork failed", "node_id", node.ID, "error", err)
			return
		}
		for i, child := range children {
			branch := g.ForkBranches()[i]
			targetNode := result.NextNodeIDs[i]
			o.setRow(child.TokenID, row)
			o.setRowID(child.TokenID, child.RowID)
			o.inFlight.Add(1)
			if err := o.q.Push(ctx, queue.Task{TokenID: child.TokenID, NodeID: targetNode}); err != nil {
				o.inFlight.Done()
				o.log.Error("failed to enqueue fork child", "branch", branch, "error", err)
			}
		}
		_ = forkGroupID
		o.dropRow(tok.TokenID)
		return
	}

	for _, target := range result.NextNodeIDs {
		o.setRow(tok.TokenID, row)
		o.inFlight.Add(1)
		if err := o.q.Push(ctx, queue.Task{TokenID: tok.TokenID, NodeID: target}); err != nil {
			o.inFlight.Done()
			o.log.Error("failed to enqueue gate route", "error", err)
		}
	}
}

func (o *Orchestrator) handleSink(pctx *plugin.Context, tok *landscape.Token, node *graph.Node, row plugin.Row, reachedViaGate bool) {
	s, ok := o.plugins.Sinks[node.ID]
	if !ok {
		o.log.Error("no sink plugin for node", "node_id", node.ID)
		return
	}
	if _, err := o.proc.ProcessSink(pctx, tok, node, s, row, reachedViaGate); err != nil {
		o.log.Warn("sink write ended in error", "node_id", node.ID, "token_id", tok.TokenID, "error", err)
	}
	o.dropRow(tok.TokenID)
}

// advance pushes whatever task(s) a transform's disposition implies.
func (o *Orchestrator) advance(ctx context.Context, runID string, tok *landscape.Token, node *graph.Node, result processor.Result) {
	switch result.Disposition {
	case processor.DispositionContinue:
		edges := o.nextOf[node.ID]
		if len(edges) == 0 {
			o.log.Error("transform node has no outgoing edge", "node_id", node.ID)
			return
		}
		o.inFlight.Add(1)
		if err := o.q.Push(ctx, queue.Task{TokenID: tok.TokenID, NodeID: edges[0].To}); err != nil {
			o.inFlight.Done()
			o.log.Error("failed to enqueue continuation", "error", err)
		}
	case processor.DispositionRoute:
		target, ok := o.divert[node.ID]
		if !ok && len(result.NextNodeIDs) > 0 {
			target = result.NextNodeIDs[0]
		}
		o.inFlight.Add(1)
		if err := o.q.Push(ctx, queue.Task{TokenID: tok.TokenID, NodeID: target}); err != nil {
			o.inFlight.Done()
			o.log.Error("failed to enqueue divert", "error", err)
		}
	case processor.DispositionExpand:
		edges := o.nextOf[node.ID]
		if len(edges) == 0 {
			o.log.Error("transform node has no outgoing edge", "node_id", node.ID)
			return
		}
		children, _, err := o.tokens.Expand(ctx, tok, len(result.ExpandRows), runID, node.StepInPipeline+1)
		if err != nil {
			o.log.Error("expand failed", "node_id", node.ID, "error", err)
			return
		}
		for i, child := range children {
			o.setRow(child.TokenID, result.ExpandRows[i])
			o.setRowID(child.TokenID, child.RowID)
			o.inFlight.Add(1)
			if err := o.q.Push(ctx, queue.Task{TokenID: child.TokenID, NodeID: edges[0].To}); err != nil {
				o.inFlight.Done()
				o.log.Error("failed to enqueue expand child", "error", err)
			}
		}
		o.dropRow(tok.TokenID)
	case processor.DispositionTerminal:
		// already recorded by the processor; nothing further to enqueue.
		o.dropRow(tok.TokenID)
	}
}

func (o *Orchestrator) handleCoalesceArrival(ctx context.Context, runID string, tok *landscape.Token, node *graph.Node, row plugin.Row) {
	timeout := time.Duration(node.CoalesceTimeoutMS) * time.Millisecond
	b := o.coalesce.Open(node.ID, *tok.ForkGroupID, node.CoalesceBranches, node.CoalesceStrategy, node.CoalesceQuorum, timeout)

	branch := ""
	if tok.BranchName != nil {
		branch = *tok.BranchName
	}
	_, satisfied := o.coalesce.Arrive(node.ID, *tok.ForkGroupID, branch, tok.TokenID)
	if !satisfied {
		return
	}

	inputTokens := make([]*landscape.Token, 0, len(b.arrived))
	for _, id := range b.arrived {
		inputTokens = append(inputTokens, &landscape.Token{TokenID: id, RowID: o.getRowID(id)})
	}
	joinGroupID := uuid.NewString()
	merged, err := o.tokens.Coalesce(ctx, runID, inputTokens, joinGroupID, nil, node.StepInPipeline+1)
	o.coalesce.Close(node.ID, *tok.ForkGroupID)
	if err != nil {
		o.log.Error("coalesce failed", "node_id", node.ID, "error", err)
		return
	}
	for _, in := range inputTokens {
		o.dropRow(in.TokenID)
	}

	edges := o.nextOf[node.ID]
	if len(edges) == 0 {
		o.log.Error("coalesce node has no outgoing edge", "node_id", node.ID)
		return
	}
	o.setRow(merged.TokenID, row)
	o.setRowID(merged.TokenID, merged.RowID)
	o.inFlight.Add(1)
	if err := o.q.Push(ctx, queue.Task{TokenID: merged.TokenID, NodeID: edges[0].To}); err != nil {
		o.inFlight.Done()
		o.log.Error("failed to enqueue post-coalesce continuation", "error", err)
	}
}

// runCoalesceSweepLoop periodically resolves barriers that missed their
// deadline, so a require_all/quorum coalesce with a stalled branch doesn't
// block the run forever.
func (o *Orchestrator) runCoalesceSweepLoop(ctx context.Context, runID string) {
	ticker := time.NewTicker(coalesceSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.sweepCoalesceTimeouts(ctx, runID)
		}
	}
}

// sweepCoalesceTimeouts resolves every barrier past its deadline to
// COALESCE_TIMED_OUT for each branch that did arrive.
func (o *Orchestrator) sweepCoalesceTimeouts(ctx context.Context, runID string) {
	for _, b := range o.coalesce.SweepTimedOut() {
		for _, tokenID := range b.arrived {
			tok := &landscape.Token{TokenID: tokenID, RowID: o.getRowID(tokenID)}
			if err := o.tokens.Terminal(ctx, runID, tok, landscape.OutcomeCoalesceTimedOut, nil, nil); err != nil {
				o.log.Error("record coalesce timeout failed", "node_id", b.nodeID, "token_id", tokenID, "error", err)
				continue
			}
			o.dropRow(tokenID)
		}
		o.log.Warn("coalesce barrier timed out", "node_id", b.nodeID, "fork_group_id", b.forkGroupID, "arrived", len(b.arrived))
	}
}

func (o *Orchestrator) handleAggregation(ctx context.Context, runID string, tok *landscape.Token, node *graph.Node, row plugin.Row) {
	rowSize := int64(len(fmt.Sprint(row)))
	pending, fires := o.aggregation.Add(node.ID, uuid.NewString, tok, rowSize, node.AggregationTrigger)
	if err := o.tokens.Buffer(ctx, runID, tok, pending.batchID); err != nil {
		o.log.Error("buffer failed", "node_id", node.ID, "error", err)
		return
	}
	if !fires {
		return
	}
	batch, ok := o.aggregation.Flush(node.ID)
	if !ok {
		return
	}

	summary, err := o.tokens.Flush(ctx, runID, node.ID, batch.batchID, batch.members, node.StepInPipeline+1)
	if err != nil {
		o.log.Error("flush batch failed", "node_id", node.ID, "error", err)
		return
	}
	for _, member := range batch.members {
		o.dropRow(member.TokenID)
	}

	// The aggregation's flushed output becomes a new token parented to
	// every batched member. Its row carries only the batch id and the
	// member count; no plugin is invoked to compute it.
	edges := o.nextOf[node.ID]
	if len(edges) == 0 {
		return
	}
	o.setRow(summary.TokenID, plugin.Row{"batch_id": batch.batchID, "member_count": len(batch.members)})
	o.setRowID(summary.TokenID, summary.RowID)
	o.inFlight.Add(1)
	if err := o.q.Push(ctx, queue.Task{TokenID: summary.TokenID, NodeID: edges[0].To}); err != nil {
		o.inFlight.Done()
		o.log.Error("failed to enqueue aggregation flush", "error", err)
	}
}
