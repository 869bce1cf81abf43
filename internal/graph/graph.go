// Package graph implements the execution graph: typed nodes, moded
// labelled edges, and build-time validation (acyclicity, sink
// reachability, route-target existence, schema compatibility).
package graph

import (
	"fmt"
	"sort"

	"github.com/tachyon-beep/elspeth/internal/schema"
)

// NodeKind is the closed set of node variants the engine understands.
type NodeKind string

const (
	KindSource      NodeKind = "source"
	KindTransform   NodeKind = "transform"
	KindAggregation NodeKind = "aggregation"
	KindGate        NodeKind = "gate"
	KindCoalesce    NodeKind = "coalesce"
	KindSink        NodeKind = "sink"
)

// Mode is an edge's routing semantics.
type Mode string

const (
	ModeMove   Mode = "MOVE"
	ModeCopy   Mode = "COPY"
	ModeDivert Mode = "DIVERT"
)

const (
	// ReservedPrefix marks route labels reserved for system edges.
	ReservedPrefix = "__"
	LabelQuarantine = "__quarantine__"
)

// Node is one vertex of the DAG: a plugin identity, a config snapshot, and
// the input/output schema references it declares (nil = dynamic).
type Node struct {
	ID           string
	Kind         NodeKind
	PluginName   string
	Config       map[string]any
	InputSchema  *schema.Schema
	OutputSchema *schema.Schema

	// StepInPipeline is this node's position in build order, used as the
	// token manager's "step" ordinal when tokens fork/expand/coalesce here.
	StepInPipeline int

	// CoalesceStrategy is set only for KindCoalesce nodes: "require_all",
	// "best_effort" or "quorum".
	CoalesceStrategy string
	CoalesceBranches []string
	// CoalesceQuorum is the threshold for "quorum" strategy.
	CoalesceQuorum int
	// CoalesceTimeoutMS is the barrier deadline, in milliseconds, after
	// which an unsatisfied barrier of any strategy times out.
	CoalesceTimeoutMS int64

	// AggregationTrigger describes when an aggregation flushes.
	AggregationTrigger *AggregationTrigger
}

// AggregationTrigger is the count/size/time trigger for an aggregation
// node.
type AggregationTrigger struct {
	Kind      string // "count", "size", "time"
	Count     int
	SizeBytes int64
	Interval  int64 // milliseconds
}

// Edge connects two nodes. Parallel edges between the same pair are
// permitted, distinguished by Label.
type Edge struct {
	ID    string
	From  string
	To    string
	Label string
	Mode  Mode
}

// Graph is the built, not-yet-validated DAG.
type Graph struct {
	Nodes map[string]*Node
	Edges []*Edge

	// SinkName -> node ID, for route-target resolution.
	sinkByName map[string]string
}

// NewGraph returns an empty graph ready for construction.
func NewGraph() *Graph {
	return &Graph{
		Nodes:      make(map[string]*Node),
		sinkByName: make(map[string]string),
	}
}

// AddNode registers a node. Sinks are indexed by node ID, which is the
// sink's declared name, for route resolution.
func (g *Graph) AddNode(n *Node) error {
	if _, exists := g.Nodes[n.ID]; exists {
		return fmt.Errorf("duplicate node id %q", n.ID)
	}
	g.Nodes[n.ID] = n
	if n.Kind == KindSink {
		g.sinkByName[n.ID] = n.ID
	}
	return nil
}

// AddEdge appends an edge. Label must not start with ReservedPrefix unless
// explicitly constructing a system edge (quarantine/error diverts) via
// AddSystemEdge.
func (g *Graph) AddEdge(e *Edge) error {
	if len(e.Label) >= len(ReservedPrefix) && e.Label[:len(ReservedPrefix)] == ReservedPrefix {
		return fmt.Errorf("route label %q uses reserved prefix %q", e.Label, ReservedPrefix)
	}
	g.Edges = append(g.Edges, e)
	return nil
}

// AddSystemEdge appends a reserved-label edge (DIVERT to quarantine/error
// sinks). Bypasses the reserved-prefix check that AddEdge enforces for
// user-declared edges.
func (g *Graph) AddSystemEdge(e *Edge) {
	g.Edges = append(g.Edges, e)
}

// SinkNodeID resolves a sink's declared name to its node ID.
func (g *Graph) SinkNodeID(name string) (string, bool) {
	id, ok := g.sinkByName[name]
	return id, ok
}

// ValidationError collects every problem found during Validate, so a
// single `validate` CLI invocation reports everything wrong, not just the
// first.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("graph validation failed: %d problem(s): %v", len(e.Problems), e.Problems)
}

// Validate checks acyclicity, sink reachability, route-target existence,
// and schema compatibility across every non-DIVERT edge.
func (g *Graph) Validate() error {
	var problems []string

	if cyc := g.findCycle(); cyc != nil {
		problems = append(problems, fmt.Sprintf("cycle detected: %v", cyc))
	}

	problems = append(problems, g.checkRouteTargets()...)
	problems = append(problems, g.checkSinkReachability()...)
	problems = append(problems, g.checkSchemaCompatibility()...)
	problems = append(problems, g.checkCoalesceCompatibility()...)
	problems = append(problems, g.checkGateAgreement()...)

	if len(problems) > 0 {
		sort.Strings(problems)
		return &ValidationError{Problems: problems}
	}
	return nil
}

func (g *Graph) adjacency() map[string][]*Edge {
	adj := make(map[string][]*Edge, len(g.Nodes))
	for _, e := range g.Edges {
		adj[e.From] = append(adj[e.From], e)
	}
	return adj
}

// findCycle runs DFS with a recursion stack over non-DIVERT edges (DIVERT
// edges are structural, not flow, and must not be able to create a false
// cycle finding against normal flow edges either — they terminate at a
// sink).
func (g *Graph) findCycle() []string {
	adj := g.adjacency()
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(g.Nodes))
	var path []string
	var cyclePath []string

	var visit func(id string) bool
	visit = func(id string) bool {
		color[id] = gray
		path = append(path, id)
		for _, e := range adj[id] {
			if e.Mode == ModeDivert {
				continue
			}
			switch color[e.To] {
			case gray:
				cyclePath = append(append([]string{}, path...), e.To)
				return true
			case white:
				if visit(e.To) {
					return true
				}
			}
		}
		path = path[:len(path)-1]
		color[id] = black
		return false
	}

	ids := make([]string, 0, len(g.Nodes))
	for id := range g.Nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		if color[id] == white {
			if visit(id) {
				return cyclePath
			}
		}
	}
	return nil
}

func (g *Graph) checkRouteTargets() []string {
	var problems []string
	for _, e := range g.Edges {
		if _, ok := g.Nodes[e.To]; !ok {
			problems = append(problems, fmt.Sprintf("edge %s -> %s (label %q): target does not exist", e.From, e.To, e.Label))
		}
		if _, ok := g.Nodes[e.From]; !ok {
			problems = append(problems, fmt.Sprintf("edge %s -> %s (label %q): source does not exist", e.From, e.To, e.Label))
		}
	}
	return problems
}

func (g *Graph) checkSinkReachability() []string {
	adj := g.adjacency()
	reached := make(map[string]bool)

	var sources []string
	for id, n := range g.Nodes {
		if n.Kind == KindSource {
			sources = append(sources, id)
		}
	}
	sort.Strings(sources)

	var visit func(id string)
	visit = func(id string) {
		if reached[id] {
			return
		}
		reached[id] = true
		for _, e := range adj[id] {
			visit(e.To)
		}
	}
	for _, s := range sources {
		visit(s)
	}

	var problems []string
	var sinkIDs []string
	for id, n := range g.Nodes {
		if n.Kind == KindSink {
			sinkIDs = append(sinkIDs, id)
		}
	}
	sort.Strings(sinkIDs)
	for _, id := range sinkIDs {
		if !reached[id] {
			problems = append(problems, fmt.Sprintf("sink %q is not reachable from any source", id))
		}
	}
	return problems
}

func (g *Graph) checkSchemaCompatibility() []string {
	var problems []string
	for _, e := range g.Edges {
		if e.Mode == ModeDivert {
			continue // diverted payloads need not match the producer schema
		}
		from, fok := g.Nodes[e.From]
		to, tok := g.Nodes[e.To]
		if !fok || !tok {
			continue // already reported by checkRouteTargets
		}
		missing := schema.MissingRequiredFields(from.OutputSchema, to.InputSchema)
		if len(missing) > 0 {
			problems = append(problems, fmt.Sprintf(
				"edge %s -> %s (label %q): producer %q missing required fields for consumer %q: %q",
				e.From, e.To, e.Label, e.From, e.To, missing))
		}
	}
	return problems
}

// checkCoalesceCompatibility requires that, at a coalesce node with two or
// more typed incoming edges, producer schemas are pairwise compatible.
func (g *Graph) checkCoalesceCompatibility() []string {
	var problems []string
	incoming := make(map[string][]*Edge)
	for _, e := range g.Edges {
		if e.Mode != ModeDivert {
			incoming[e.To] = append(incoming[e.To], e)
		}
	}
	for id, n := range g.Nodes {
		if n.Kind != KindCoalesce {
			continue
		}
		ins := incoming[id]
		var typedSchemas []*schema.Schema
		for _, e := range ins {
			if from, ok := g.Nodes[e.From]; ok && !from.OutputSchema.IsDynamic() {
				typedSchemas = append(typedSchemas, from.OutputSchema)
			}
		}
		if len(typedSchemas) < 2 {
			continue
		}
		for i := 0; i < len(typedSchemas); i++ {
			for j := i + 1; j < len(typedSchemas); j++ {
				if !schema.Compatible(typedSchemas[i], typedSchemas[j]) || !schema.Compatible(typedSchemas[j], typedSchemas[i]) {
					problems = append(problems, fmt.Sprintf(
						"coalesce node %q: incoming schemas %q and %q are not pairwise compatible",
						id, typedSchemas[i].Name, typedSchemas[j].Name))
				}
			}
		}
	}
	return problems
}

// checkGateAgreement requires that gate nodes with multiple incoming edges
// have producers that agree on schema, since the gate passes rows through
// unmodified.
func (g *Graph) checkGateAgreement() []string {
	var problems []string
	incoming := make(map[string][]*Edge)
	for _, e := range g.Edges {
		if e.Mode != ModeDivert {
			incoming[e.To] = append(incoming[e.To], e)
		}
	}
	for id, n := range g.Nodes {
		if n.Kind != KindGate {
			continue
		}
		ins := incoming[id]
		if len(ins) < 2 {
			continue
		}
		var first *schema.Schema
		for _, e := range ins {
			from, ok := g.Nodes[e.From]
			if !ok {
				continue
			}
			if from.OutputSchema.IsDynamic() {
				continue
			}
			if first == nil {
				first = from.OutputSchema
				continue
			}
			if !schema.Compatible(from.OutputSchema, first) || !schema.Compatible(first, from.OutputSchema) {
				problems = append(problems, fmt.Sprintf(
					"gate node %q: producers disagree on schema (%q vs %q)", id, first.Name, from.OutputSchema.Name))
			}
		}
	}
	return problems
}
