// Package plugin defines the four capability contracts the engine
// consumes (source, transform, gate, sink) and a name-keyed registry for
// constructing them. The set is closed by design: dynamic dispatch is an
// interface per capability plus a factory, not open inheritance.
package plugin

import (
	"context"
	"fmt"
	"sync"

	"github.com/tachyon-beep/elspeth/internal/schema"
)

// Determinism classifies a plugin's repeatability: for deterministic
// plugins, input_hash -> output_hash is a function.
type Determinism string

const (
	Deterministic Determinism = "deterministic"
	IODependent   Determinism = "io_dependent"
	ExternalCall  Determinism = "external_call"
)

// Row is a single logical record flowing through the DAG. The engine
// treats its contents as opaque except where a schema names a field.
type Row map[string]any

// Context is handed to every plugin invocation. It carries identity for
// audit (run/row/token/node), and the seams optional features hook into:
// the landscape handle for recording external calls, the payload store,
// and the rate-limit registry.
type Context struct {
	RunID   string
	RowID   string
	TokenID string
	NodeID  string

	Ctx context.Context

	Landscape CallRecorder
	Payloads  PayloadStore
	Limiters  LimiterRegistry
	Telemetry TelemetryEmitter
}

// CallRecorder records an external call made during plugin execution, for
// the `calls` audit table.
type CallRecorder interface {
	RecordCall(ctx context.Context, nodeID string, request, response []byte, durationMS int64, err error) error
}

// PayloadStore is the content-addressable blob store seam: write-once
// by hash, concurrent writers with the same hash are idempotent.
type PayloadStore interface {
	Put(ctx context.Context, data []byte) (hash string, err error)
	Get(ctx context.Context, hash string) ([]byte, error)
}

// LimiterRegistry resolves a rate limiter by external service name.
type LimiterRegistry interface {
	Acquire(ctx context.Context, service string) error
}

// TelemetryEmitter is the optional telemetry export seam. Plugins
// that want to surface operational events call Emit; under DROP mode
// this returns promptly even when saturated.
type TelemetryEmitter interface {
	Emit(ctx context.Context, name string, attrs map[string]any)
}

// Source exposes a name, an output schema (nil = dynamic), and an
// on_validation_failure routing target ("discard" or a sink name).
type Source interface {
	Name() string
	OutputSchema() *schema.Schema
	OnValidationFailure() string
	// Load emits at most one row per call. ok is false on exhaustion.
	Load(ctx context.Context) (row Row, ok bool, err error)
}

// TransformResult is the sum type a Transform.Process returns: exactly one
// of Success, SuccessMulti or Err is populated.
type TransformResult struct {
	Success      *Row
	SuccessMulti []Row
	Err          *TransformError
	SuccessReason *SuccessReason
}

// SuccessReason is the small typed structure captured in the audit trail
// describing what a successful transform did.
type SuccessReason struct {
	Action            string
	FieldsModified    []string
	FieldsAdded       []string
	FieldsRemoved     []string
	ValidationWarnings []string
	Metadata          map[string]any
}

// TransformError is a classified transform failure.
type TransformError struct {
	ErrorType   string
	FieldErrors map[string]string
	Retryable   bool
	Cause       error
}

func (e *TransformError) Error() string {
	return fmt.Sprintf("transform error %s (retryable=%v): %v", e.ErrorType, e.Retryable, e.Cause)
}

func (e *TransformError) Unwrap() error { return e.Cause }

// Transform exposes input/output schemas, an optional on_error routing
// target, a determinism class, and the row-processing function.
type Transform interface {
	Name() string
	InputSchema() *schema.Schema
	OutputSchema() *schema.Schema
	OnError() string
	Determinism() Determinism
	Process(ctx *Context, row Row) (TransformResult, error)
}

// GateDecision is what a Gate.Route returns: the chosen target node
// ID(s), not route labels.
// Targets has one entry per chosen destination; a fork decision has more
// than one.
type GateDecision struct {
	Targets []string
}

// Gate exposes route declarations and an optional fork branch list. Gates
// route; they never modify row data.
type Gate interface {
	Name() string
	InputSchema() *schema.Schema
	Routes() map[string]string // label -> target
	ForkBranches() []string    // nil unless this gate forks
	Route(ctx *Context, row Row) (GateDecision, error)
}

// Sink exposes idempotency and determinism metadata plus write/flush/close.
type Sink interface {
	Name() string
	InputSchema() *schema.Schema
	Idempotent() bool
	Determinism() Determinism
	Write(ctx *Context, row Row) error
	Flush(ctx context.Context) error
	Close(ctx context.Context) error
}

// Registry is a name-keyed store of plugin factories, built once at
// startup. Registries hold no run-scoped state.
type Registry struct {
	mu         sync.RWMutex
	sources    map[string]func(options map[string]any) (Source, error)
	transforms map[string]func(options map[string]any) (Transform, error)
	gates      map[string]func(options map[string]any) (Gate, error)
	sinks      map[string]func(options map[string]any) (Sink, error)
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sources:    make(map[string]func(options map[string]any) (Source, error)),
		transforms: make(map[string]func(options map[string]any) (Transform, error)),
		gates:      make(map[string]func(options map[string]any) (Gate, error)),
		sinks:      make(map[string]func(options map[string]any) (Sink, error)),
	}
}

func (r *Registry) RegisterSource(name string, factory func(options map[string]any) (Source, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[name] = factory
}

func (r *Registry) RegisterTransform(name string, factory func(options map[string]any) (Transform, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transforms[name] = factory
}

func (r *Registry) RegisterGate(name string, factory func(options map[string]any) (Gate, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gates[name] = factory
}

func (r *Registry) RegisterSink(name string, factory func(options map[string]any) (Sink, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sinks[name] = factory
}

func (r *Registry) MakeSource(name string, options map[string]any) (Source, error) {
	r.mu.RLock()
	factory, ok := r.sources[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no source plugin registered: %s", name)
	}
	return factory(options)
}

func (r *Registry) MakeTransform(name string, options map[string]any) (Transform, error) {
	r.mu.RLock()
	factory, ok := r.transforms[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no transform plugin registered: %s", name)
	}
	return factory(options)
}

func (r *Registry) MakeGate(name string, options map[string]any) (Gate, error) {
	r.mu.RLock()
	factory, ok := r.gates[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no gate plugin registered: %s", name)
	}
	return factory(options)
}

func (r *Registry) MakeSink(name string, options map[string]any) (Sink, error) {
	r.mu.RLock()
	factory, ok := r.sinks[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no sink plugin registered: %s", name)
	}
	return factory(options)
}
