package graph

import (
	"encoding/json"
	"fmt"

	jsonpatch "github.com/evanphx/json-patch/v5"
)

// Settings is the config surface: a settings document declaring
// source, ordered transforms, optional aggregations, optional gates,
// optional coalesce nodes, a sinks map, a default sink, and landscape
// store configuration.
type Settings struct {
	Source       PluginRef            `json:"source"`
	Transforms   []StepRef            `json:"transforms"`
	Gates        map[string]GateRef   `json:"gates,omitempty"`
	Coalesces    map[string]CoalesceRef `json:"coalesces,omitempty"`
	Sinks        map[string]PluginRef `json:"sinks"`
	DefaultSink  string               `json:"default_sink"`
	Landscape    LandscapeRef         `json:"landscape"`
}

// PluginRef names a plugin and its construction options.
type PluginRef struct {
	Plugin  string         `json:"plugin"`
	Options map[string]any `json:"options,omitempty"`
}

// StepRef is an ordered transform or aggregation step in the pipeline.
type StepRef struct {
	PluginRef
	ID                 string              `json:"id"`
	OnError            string              `json:"on_error,omitempty"`
	AggregationTrigger *AggregationTrigger `json:"aggregation_trigger,omitempty"`
}

// GateRef declares a gate's condition, routes and optional fork targets.
type GateRef struct {
	PluginRef
	ID        string            `json:"id"`
	Condition string            `json:"condition,omitempty"`
	Routes    map[string]string `json:"routes"`
	ForkTo    map[string]string `json:"fork_to,omitempty"` // branch name -> target node/sink
}

// CoalesceRef declares a coalesce node's branch list and merge strategy.
type CoalesceRef struct {
	ID       string   `json:"id"`
	Branches []string `json:"branches"`
	Strategy string   `json:"strategy"` // require_all | best_effort | quorum
	Quorum   int      `json:"quorum,omitempty"`
	TimeoutMS int64   `json:"timeout_ms,omitempty"`
}

// LandscapeRef holds the Landscape store's connection settings.
type LandscapeRef struct {
	ConnectionString string `json:"connection_string"`
	RetentionDays    int    `json:"retention_days,omitempty"`
}

// ParseSettings decodes a settings document from JSON.
func ParseSettings(data []byte) (*Settings, error) {
	var s Settings
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse settings: %w", err)
	}
	return &s, nil
}

// ApplyConfigPatch applies a JSON-Patch (RFC 6902) document to a base
// settings document, producing a new one without hand-editing the whole
// document. The result is validated with the same ParseSettings path a
// fresh document takes before it is compiled to a graph.
func ApplyConfigPatch(base []byte, patch []byte) ([]byte, error) {
	p, err := jsonpatch.DecodePatch(patch)
	if err != nil {
		return nil, fmt.Errorf("decode config patch: %w", err)
	}
	patched, err := p.Apply(base)
	if err != nil {
		return nil, fmt.Errorf("apply config patch: %w", err)
	}
	if _, err := ParseSettings(patched); err != nil {
		return nil, fmt.Errorf("patched settings invalid: %w", err)
	}
	return patched, nil
}
