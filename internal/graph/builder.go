package graph

import (
	"fmt"

	"github.com/tachyon-beep/elspeth/internal/plugin"
)

// Builder constructs a Graph from instantiated plugins, not raw config:
// the source, ordered transforms, config-driven gates, coalesce
// nodes, and sinks are added in order with normal MOVE edges between
// consecutive positions.
type Builder struct {
	graph    *Graph
	lastNode string // node ID of the most recently appended "main line" node
	edgeSeq  int
	stepSeq  int
}

// NewBuilder starts a build from an instantiated source.
func NewBuilder(sourceNodeID string, source plugin.Source) *Builder {
	g := NewGraph()
	_ = g.AddNode(&Node{
		ID:           sourceNodeID,
		Kind:         KindSource,
		PluginName:   source.Name(),
		OutputSchema: source.OutputSchema(),
	})
	return &Builder{graph: g, lastNode: sourceNodeID}
}

func (b *Builder) nextEdgeID(prefix string) string {
	b.edgeSeq++
	return fmt.Sprintf("%s_%d", prefix, b.edgeSeq)
}

func (b *Builder) nextStep() int {
	b.stepSeq++
	return b.stepSeq
}

// AddValidationFailureDivert wires the source's on_validation_failure
// target as a DIVERT edge to the named sink, if it isn't "discard".
func (b *Builder) AddValidationFailureDivert(sourceNodeID, onValidationFailure string) {
	if onValidationFailure == "" || onValidationFailure == "discard" {
		return
	}
	sinkNodeID, ok := b.graph.SinkNodeID(onValidationFailure)
	if !ok {
		sinkNodeID = onValidationFailure // resolved later once sink added
	}
	b.graph.AddSystemEdge(&Edge{
		ID:    b.nextEdgeID("divert"),
		From:  sourceNodeID,
		To:    sinkNodeID,
		Label: LabelQuarantine,
		Mode:  ModeDivert,
	})
}

// AppendTransform adds a transform node and a MOVE edge from the current
// tail of the main line, then advances the tail. If the transform has an
// on_error routing target, a DIVERT edge is also added.
func (b *Builder) AppendTransform(nodeID string, t plugin.Transform) error {
	if err := b.graph.AddNode(&Node{
		ID:             nodeID,
		Kind:           KindTransform,
		PluginName:     t.Name(),
		InputSchema:    t.InputSchema(),
		OutputSchema:   t.OutputSchema(),
		StepInPipeline: b.nextStep(),
	}); err != nil {
		return err
	}
	if err := b.graph.AddEdge(&Edge{
		ID:    b.nextEdgeID("move"),
		From:  b.lastNode,
		To:    nodeID,
		Label: "continue",
		Mode:  ModeMove,
	}); err != nil {
		return err
	}
	if onErr := t.OnError(); onErr != "" && onErr != "discard" {
		b.graph.AddSystemEdge(&Edge{
			ID:    b.nextEdgeID("divert"),
			From:  nodeID,
			To:    onErr, // resolved to a node ID once the sink exists
			Label: LabelQuarantine,
			Mode:  ModeDivert,
		})
	}
	b.lastNode = nodeID
	return nil
}

// AddAggregationNode adds a fully-described aggregation node (distinct
// input/output schemas) and a MOVE edge from the current tail.
func (b *Builder) AddAggregationNode(n *Node) error {
	n.Kind = KindAggregation
	n.StepInPipeline = b.nextStep()
	if err := b.graph.AddNode(n); err != nil {
		return err
	}
	if err := b.graph.AddEdge(&Edge{
		ID:    b.nextEdgeID("move"),
		From:  b.lastNode,
		To:    n.ID,
		Label: "continue",
		Mode:  ModeMove,
	}); err != nil {
		return err
	}
	b.lastNode = n.ID
	return nil
}

// AddGate adds a gate node with a MOVE edge from the tail, then wires its
// declared routes: plain routes become labelled MOVE edges to their
// target sink/node; fork branches become COPY edges to matching coalesce
// branches or sink names. An unmatched fork branch is a construction
// error.
func (b *Builder) AddGate(nodeID string, g plugin.Gate, condition string, routeTargets map[string]string, forkTargets map[string]string) error {
	if err := b.graph.AddNode(&Node{
		ID:             nodeID,
		Kind:           KindGate,
		PluginName:     g.Name(),
		InputSchema:    g.InputSchema(),
		Config:         map[string]any{"condition": condition},
		StepInPipeline: b.nextStep(),
	}); err != nil {
		return err
	}
	if err := b.graph.AddEdge(&Edge{
		ID:    b.nextEdgeID("move"),
		From:  b.lastNode,
		To:    nodeID,
		Label: "continue",
		Mode:  ModeMove,
	}); err != nil {
		return err
	}

	for label, target := range routeTargets {
		if err := b.graph.AddEdge(&Edge{
			ID:    b.nextEdgeID("route"),
			From:  nodeID,
			To:    target,
			Label: label,
			Mode:  ModeMove,
		}); err != nil {
			return err
		}
	}

	branches := g.ForkBranches()
	for _, branch := range branches {
		target, ok := forkTargets[branch]
		if !ok {
			return &ValidationError{Problems: []string{
				fmt.Sprintf("gate %q: fork branch %q has no matching coalesce branch or sink; available targets: %v", nodeID, branch, availableTargets(forkTargets)),
			}}
		}
		if err := b.graph.AddEdge(&Edge{
			ID:    b.nextEdgeID("fork"),
			From:  nodeID,
			To:    target,
			Label: branch,
			Mode:  ModeCopy,
		}); err != nil {
			return err
		}
	}

	b.lastNode = nodeID
	return nil
}

func availableTargets(m map[string]string) []string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	return names
}

// AddCoalesce adds a coalesce node described by a CoalesceRef, advancing
// the tail so subsequent appends continue after the merge.
func (b *Builder) AddCoalesce(nodeID string, ref CoalesceRef) error {
	if err := b.graph.AddNode(&Node{
		ID:                nodeID,
		Kind:              KindCoalesce,
		CoalesceStrategy:  ref.Strategy,
		CoalesceBranches:  ref.Branches,
		CoalesceQuorum:    ref.Quorum,
		CoalesceTimeoutMS: ref.TimeoutMS,
		StepInPipeline:    b.nextStep(),
	}); err != nil {
		return err
	}
	b.lastNode = nodeID
	return nil
}

// AddSink adds a sink node. It does not advance the main-line tail — sinks
// are terminal by construction.
func (b *Builder) AddSink(nodeID string, s plugin.Sink) error {
	return b.graph.AddNode(&Node{
		ID:          nodeID,
		Kind:        KindSink,
		PluginName:  s.Name(),
		InputSchema: s.InputSchema(),
	})
}

// ConnectToSink adds the terminal MOVE edge from the current tail to a
// named sink (the "continue"/default-sink path).
func (b *Builder) ConnectToSink(sinkName string) error {
	sinkNodeID, ok := b.graph.SinkNodeID(sinkName)
	if !ok {
		return &ValidationError{Problems: []string{fmt.Sprintf("unknown sink %q", sinkName)}}
	}
	return b.graph.AddEdge(&Edge{
		ID:    b.nextEdgeID("move"),
		From:  b.lastNode,
		To:    sinkNodeID,
		Label: "continue",
		Mode:  ModeMove,
	})
}

// ResolveSystemEdges rewrites DIVERT edges whose To field was a sink name
// placeholder (added before the sink node existed) into real node IDs, and
// rewrites gate route/fork targets that named a sink instead of a node ID.
// Must be called after all sinks are added, before Validate.
func (b *Builder) ResolveSystemEdges() error {
	var problems []string
	for _, e := range b.graph.Edges {
		if _, ok := b.graph.Nodes[e.To]; ok {
			continue
		}
		sinkNodeID, ok := b.graph.SinkNodeID(e.To)
		if !ok {
			problems = append(problems, fmt.Sprintf("edge %s -> %s (label %q): target %q is neither a node id nor a known sink name", e.From, e.To, e.Label, e.To))
			continue
		}
		e.To = sinkNodeID
	}
	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// Graph returns the graph under construction.
func (b *Builder) Graph() *Graph { return b.graph }
