// Package pipeline compiles a settings document (internal/graph.Settings)
// against a plugin registry into a runnable graph plus the instantiated
// plugins keyed by node ID — the step between "config the user wrote" and
// "graph the orchestrator drives".
package pipeline

import (
	"fmt"

	"github.com/tachyon-beep/elspeth/internal/graph"
	"github.com/tachyon-beep/elspeth/internal/orchestrator"
	"github.com/tachyon-beep/elspeth/internal/plugin"
)

const sourceNodeID = "source"

// Compile instantiates every plugin a settings document names via reg,
// builds the graph in source -> transforms -> gates/coalesces -> sinks
// order, and resolves divert/route targets. It does not validate the
// graph — callers should call (*graph.Graph).Validate() on the result,
// since `validate` and `run` treat a failed build and a failed validation
// differently for exit-code purposes.
func Compile(s *graph.Settings, reg *plugin.Registry) (*graph.Graph, *orchestrator.Plugins, error) {
	src, err := reg.MakeSource(s.Source.Plugin, s.Source.Options)
	if err != nil {
		return nil, nil, fmt.Errorf("compile source: %w", err)
	}

	plugins := &orchestrator.Plugins{
		Sources:    map[string]plugin.Source{sourceNodeID: src},
		Transforms: make(map[string]plugin.Transform),
		Gates:      make(map[string]plugin.Gate),
		Sinks:      make(map[string]plugin.Sink),
	}

	b := graph.NewBuilder(sourceNodeID, src)
	b.AddValidationFailureDivert(sourceNodeID, src.OnValidationFailure())

	for _, step := range s.Transforms {
		if step.AggregationTrigger != nil {
			t, err := reg.MakeTransform(step.Plugin, step.Options)
			if err != nil {
				return nil, nil, fmt.Errorf("compile aggregation %q: %w", step.ID, err)
			}
			plugins.Transforms[step.ID] = t
			if err := b.AddAggregationNode(&graph.Node{
				ID:                 step.ID,
				PluginName:         t.Name(),
				InputSchema:        t.InputSchema(),
				OutputSchema:       t.OutputSchema(),
				AggregationTrigger: step.AggregationTrigger,
			}); err != nil {
				return nil, nil, fmt.Errorf("wire aggregation %q: %w", step.ID, err)
			}
			continue
		}

		t, err := reg.MakeTransform(step.Plugin, step.Options)
		if err != nil {
			return nil, nil, fmt.Errorf("compile transform %q: %w", step.ID, err)
		}
		plugins.Transforms[step.ID] = t
		if err := b.AppendTransform(step.ID, t); err != nil {
			return nil, nil, fmt.Errorf("wire transform %q: %w", step.ID, err)
		}
	}

	for id, ref := range s.Gates {
		g, err := reg.MakeGate(ref.Plugin, ref.Options)
		if err != nil {
			return nil, nil, fmt.Errorf("compile gate %q: %w", id, err)
		}
		plugins.Gates[id] = g

		if err := b.AddGate(id, g, ref.Condition, ref.Routes, ref.ForkTo); err != nil {
			return nil, nil, fmt.Errorf("wire gate %q: %w", id, err)
		}
	}

	for id, ref := range s.Coalesces {
		if err := b.AddCoalesce(id, ref); err != nil {
			return nil, nil, fmt.Errorf("wire coalesce %q: %w", id, err)
		}
	}

	for name, ref := range s.Sinks {
		sk, err := reg.MakeSink(ref.Plugin, ref.Options)
		if err != nil {
			return nil, nil, fmt.Errorf("compile sink %q: %w", name, err)
		}
		plugins.Sinks[name] = sk
		if err := b.AddSink(name, sk); err != nil {
			return nil, nil, fmt.Errorf("wire sink %q: %w", name, err)
		}
	}

	if err := b.ConnectToSink(s.DefaultSink); err != nil {
		return nil, nil, fmt.Errorf("wire default sink: %w", err)
	}
	if err := b.ResolveSystemEdges(); err != nil {
		return nil, nil, fmt.Errorf("resolve system edges: %w", err)
	}

	return b.Graph(), plugins, nil
}
