package builtin

import "github.com/tachyon-beep/elspeth/internal/plugin"

// Register adds the reference plugins to reg: the "jsonl" source/sink, the
// "passthrough" transform, and the "cel" condition-routed gate.
func Register(reg *plugin.Registry) {
	reg.RegisterSource("jsonl", NewJSONLSource)
	reg.RegisterSink("jsonl", NewJSONLSink)
	reg.RegisterTransform("passthrough", NewPassthrough)
	reg.RegisterGate("cel", NewCELGate)
}
