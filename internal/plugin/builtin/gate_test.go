package builtin

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tachyon-beep/elspeth/internal/plugin"
)

func TestNewCELGate_RejectsEmptyCondition(t *testing.T) {
	_, err := NewCELGate(map[string]any{"routes": map[string]any{"true": "sink_a"}})
	require.Error(t, err)
}

func TestNewCELGate_RejectsEmptyRoutes(t *testing.T) {
	_, err := NewCELGate(map[string]any{"condition": "row.amount > 100"})
	require.Error(t, err)
}

func TestCELGate_RouteSendsMatchingRowDownTrueRoute(t *testing.T) {
	g, err := NewCELGate(map[string]any{
		"condition": "row.amount > 100",
		"routes": map[string]any{
			"true":  "high_value",
			"false": "low_value",
		},
	})
	require.NoError(t, err)

	decision, err := g.Route(&plugin.Context{RunID: "r1"}, plugin.Row{"amount": 150})
	require.NoError(t, err)
	assert.Equal(t, []string{"high_value"}, decision.Targets)

	decision, err = g.Route(&plugin.Context{RunID: "r1"}, plugin.Row{"amount": 10})
	require.NoError(t, err)
	assert.Equal(t, []string{"low_value"}, decision.Targets)
}

func TestCELGate_RouteUsesConfiguredLabels(t *testing.T) {
	g, err := NewCELGate(map[string]any{
		"condition":   "row.status == 'ok'",
		"true_label":  "pass",
		"false_label": "fail",
		"routes": map[string]any{
			"pass": "sink_ok",
			"fail": "sink_quarantine",
		},
	})
	require.NoError(t, err)

	decision, err := g.Route(&plugin.Context{}, plugin.Row{"status": "ok"})
	require.NoError(t, err)
	assert.Equal(t, []string{"sink_ok"}, decision.Targets)
}

func TestCELGate_RouteErrorsOnNonBooleanExpression(t *testing.T) {
	g, err := NewCELGate(map[string]any{
		"condition": "row.amount",
		"routes":    map[string]any{"true": "sink_a"},
	})
	require.NoError(t, err)

	_, err = g.Route(&plugin.Context{}, plugin.Row{"amount": 5})
	assert.Error(t, err)
}
