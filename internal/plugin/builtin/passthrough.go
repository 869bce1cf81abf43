package builtin

import (
	"github.com/tachyon-beep/elspeth/internal/plugin"
	"github.com/tachyon-beep/elspeth/internal/schema"
)

// Passthrough emits its input row unchanged.
type Passthrough struct {
	onError string
}

// NewPassthrough builds a no-op transform. options: "on_error" (string,
// optional, default "discard").
func NewPassthrough(options map[string]any) (plugin.Transform, error) {
	onErr, _ := options["on_error"].(string)
	if onErr == "" {
		onErr = "discard"
	}
	return &Passthrough{onError: onErr}, nil
}

func (p *Passthrough) Name() string                  { return "passthrough" }
func (p *Passthrough) InputSchema() *schema.Schema    { return nil }
func (p *Passthrough) OutputSchema() *schema.Schema   { return nil }
func (p *Passthrough) OnError() string                { return p.onError }
func (p *Passthrough) Determinism() plugin.Determinism { return plugin.Deterministic }

func (p *Passthrough) Process(ctx *plugin.Context, row plugin.Row) (plugin.TransformResult, error) {
	out := row
	return plugin.TransformResult{
		Success: &out,
		SuccessReason: &plugin.SuccessReason{
			Action: "passthrough",
		},
	}, nil
}
