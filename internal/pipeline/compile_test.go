package pipeline

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tachyon-beep/elspeth/internal/graph"
	"github.com/tachyon-beep/elspeth/internal/plugin"
	"github.com/tachyon-beep/elspeth/internal/plugin/builtin"
)

func newRegistry() *plugin.Registry {
	reg := plugin.NewRegistry()
	builtin.Register(reg)
	return reg
}

func TestCompile_SourcePassthroughSinkBuildsValidatableGraph(t *testing.T) {
	dir := t.TempDir()
	srcPath := filepath.Join(dir, "in.jsonl")
	sinkPath := filepath.Join(dir, "out.jsonl")
	require.NoError(t, os.WriteFile(srcPath, []byte(`{"a":1}`+"\n"), 0o644))

	settings := &graph.Settings{
		Source: graph.PluginRef{Plugin: "jsonl", Options: map[string]any{"path": srcPath}},
		Transforms: []graph.StepRef{
			{PluginRef: graph.PluginRef{Plugin: "passthrough"}, ID: "pass"},
		},
		Sinks: map[string]graph.PluginRef{
			"out": {Plugin: "jsonl", Options: map[string]any{"path": sinkPath}},
		},
		DefaultSink: "out",
	}

	g, plugins, err := Compile(settings, newRegistry())
	require.NoError(t, err)
	require.NotNil(t, g)
	require.NoError(t, g.Validate())

	assert.Contains(t, plugins.Sources, sourceNodeID)
	assert.Contains(t, plugins.Transforms, "pass")
	assert.Contains(t, plugins.Sinks, "out")
}

func TestCompile_UnknownPluginNameFails(t *testing.T) {
	settings := &graph.Settings{
		Source: graph.PluginRef{Plugin: "does-not-exist"},
		Sinks:  map[string]graph.PluginRef{"out": {Plugin: "jsonl", Options: map[string]any{"path": "/dev/null"}}},
	}

	_, _, err := Compile(settings, newRegistry())
	assert.Error(t, err)
}

func TestCompile_MissingSourceOptionFailsAtPluginConstruction(t *testing.T) {
	settings := &graph.Settings{
		Source: graph.PluginRef{Plugin: "jsonl"}, // no "path" option
		Sinks:  map[string]graph.PluginRef{"out": {Plugin: "jsonl", Options: map[string]any{"path": "/dev/null"}}},
	}

	_, _, err := Compile(settings, newRegistry())
	assert.Error(t, err)
}
