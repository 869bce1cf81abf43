package builtin

import (
	"fmt"

	"github.com/tachyon-beep/elspeth/internal/condition"
	"github.com/tachyon-beep/elspeth/internal/plugin"
	"github.com/tachyon-beep/elspeth/internal/schema"
)

// CELGate routes a row by evaluating a CEL boolean expression against it:
// true goes to one configured route, false to the other.
type CELGate struct {
	condition  string
	routes     map[string]string // label -> target node/sink ID
	trueLabel  string
	falseLabel string
	eval       *condition.Evaluator
}

// NewCELGate builds a condition-routed gate. options: "condition" (string,
// required, a CEL expression over row/ctx), "routes" (map[string]string,
// required, label -> target), "true_label"/"false_label" (string, optional,
// default "true"/"false" — must be keys present in routes).
func NewCELGate(options map[string]any) (plugin.Gate, error) {
	expr, _ := options["condition"].(string)
	if expr == "" {
		return nil, fmt.Errorf("cel gate requires a non-empty condition")
	}

	rawRoutes, _ := options["routes"].(map[string]any)
	if len(rawRoutes) == 0 {
		return nil, fmt.Errorf("cel gate requires at least one route")
	}
	routes := make(map[string]string, len(rawRoutes))
	for label, target := range rawRoutes {
		s, ok := target.(string)
		if !ok {
			return nil, fmt.Errorf("cel gate route %q: target must be a string", label)
		}
		routes[label] = s
	}

	trueLabel, _ := options["true_label"].(string)
	if trueLabel == "" {
		trueLabel = "true"
	}
	falseLabel, _ := options["false_label"].(string)
	if falseLabel == "" {
		falseLabel = "false"
	}

	return &CELGate{
		condition:  expr,
		routes:     routes,
		trueLabel:  trueLabel,
		falseLabel: falseLabel,
		eval:       condition.NewEvaluator(),
	}, nil
}

func (g *CELGate) Name() string                { return "cel" }
func (g *CELGate) InputSchema() *schema.Schema { return nil }
func (g *CELGate) Routes() map[string]string   { return g.routes }
func (g *CELGate) ForkBranches() []string      { return nil }

// Route evaluates the gate's condition against row and ctx metadata and
// resolves it to the matching route's target.
func (g *CELGate) Route(pctx *plugin.Context, row plugin.Row) (plugin.GateDecision, error) {
	matched, err := g.eval.Evaluate(g.condition, row, map[string]any{
		"run_id":   pctx.RunID,
		"row_id":   pctx.RowID,
		"token_id": pctx.TokenID,
		"node_id":  pctx.NodeID,
	})
	if err != nil {
		return plugin.GateDecision{}, fmt.Errorf("evaluate gate condition: %w", err)
	}

	label := g.falseLabel
	if matched {
		label = g.trueLabel
	}
	target, ok := g.routes[label]
	if !ok {
		return plugin.GateDecision{}, fmt.Errorf("cel gate: no route configured for label %q", label)
	}
	return plugin.GateDecision{Targets: []string{target}}, nil
}
