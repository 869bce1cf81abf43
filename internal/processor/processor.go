// Package processor implements the row processor: drives a single
// token through one node, schema-validating, invoking the plugin,
// classifying and retrying errors, and recording node_state/routing audit
// rows.
package processor

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/tachyon-beep/elspeth/internal/config"
	"github.com/tachyon-beep/elspeth/internal/elslog"
	"github.com/tachyon-beep/elspeth/internal/errs"
	"github.com/tachyon-beep/elspeth/internal/graph"
	"github.com/tachyon-beep/elspeth/internal/landscape"
	"github.com/tachyon-beep/elspeth/internal/plugin"
	"github.com/tachyon-beep/elspeth/internal/schema"
)

// Disposition is how a node visit ends, driving the orchestrator's next
// action.
type Disposition string

const (
	DispositionContinue Disposition = "continue" // MOVE to the single next node
	DispositionRoute    Disposition = "route"    // one target: a gate's single choice or a transform's on_error sink
	DispositionFork     Disposition = "fork"      // gate chose several targets; the orchestrator calls token_manager.Fork
	DispositionExpand   Disposition = "expand"    // transform emitted several rows; the orchestrator calls token_manager.Expand
	DispositionTerminal Disposition = "terminal"  // token reached a terminal outcome
)

// Result is what ProcessTransform, ProcessGate and ProcessSink return: the
// disposition plus whatever data the orchestrator needs to act on it.
type Result struct {
	Disposition Disposition
	NextNodeIDs []string    // for route/fork
	ExpandRows  []plugin.Row // for expand: one row per child token, same order
	Outcome     landscape.Outcome
	SinkName    *string
	ErrorHash   *string
}

// Processor drives a single (token, node) step.
type Processor struct {
	store    *landscape.Store
	payloads *landscape.PayloadStore
	retry    config.RetryConfig
	log      *elslog.Logger
}

// New builds a Processor.
func New(store *landscape.Store, payloads *landscape.PayloadStore, retry config.RetryConfig, log *elslog.Logger) *Processor {
	return &Processor{store: store, payloads: payloads, retry: retry, log: log}
}

func hashRow(row plugin.Row) string {
	data, _ := json.Marshal(row) // rows are plain JSON-able maps; marshal cannot meaningfully fail here
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ProcessTransform schema-validates, invokes, and records a transform
// node's outcome for a single token.
func (p *Processor) ProcessTransform(pctx *plugin.Context, tok *landscape.Token, node *graph.Node, t plugin.Transform, row plugin.Row) (Result, error) {
	// Step 1: gate on outcome — a token re-entering a node after a
	// terminal outcome is a scheduler bug, never a recoverable condition.
	existing, err := p.store.TerminalOutcomeForToken(pctx.Ctx, tok.TokenID)
	if err != nil {
		return Result{}, &errs.RecorderError{Operation: "check_terminal", Cause: err}
	}
	if existing != nil {
		errs.Fatal("token %s already has terminal outcome %s; cannot process node %s", tok.TokenID, existing.Outcome, node.ID)
	}

	// Step 2: schema-validate input.
	if missing := schema.MissingRequiredFields(inputSchemaFor(row), t.InputSchema()); len(missing) > 0 {
		return p.recordSchemaFailure(pctx, tok, node, row, missing)
	}

	// Step 4 (field-collision pre-check happens after a successful
	// process() call, once we know what the transform claims to have
	// added/modified).

	attempt := 1
	backoff := p.retry.InitialBackoff
	var lastErr *plugin.TransformError

	for {
		if err := pctx.Ctx.Err(); err != nil {
			return Result{}, err
		}

		stateID := uuid.NewString()
		inputHash := hashRow(row)
		if err := p.store.OpenNodeState(pctx.Ctx, &landscape.NodeState{
			StateID:   stateID,
			TokenID:   tok.TokenID,
			NodeID:    node.ID,
			Attempt:   attempt,
			InputHash: inputHash,
		}); err != nil {
			return Result{}, err
		}

		started := time.Now()
		tr, callErr := t.Process(pctx, row)
		duration := time.Since(started).Milliseconds()

		if callErr == nil && tr.Err == nil {
			return p.completeSuccess(pctx, tok, node, stateID, row, tr, duration)
		}

		te := tr.Err
		if te == nil {
			te = &plugin.TransformError{ErrorType: "unknown", Cause: callErr, Retryable: false}
		}
		lastErr = te

		errJSON, _ := json.Marshal(map[string]any{"error_type": te.ErrorType, "field_errors": te.FieldErrors, "message": te.Error()})
		_ = p.store.CompleteNodeState(pctx.Ctx, stateID, landscape.StatusFailed, nil, duration, errJSON, nil, nil)

		if !te.Retryable || attempt >= p.retry.MaxAttempts {
			break
		}

		select {
		case <-time.After(backoff):
		case <-pctx.Ctx.Done():
			return Result{}, pctx.Ctx.Err()
		}
		backoff = time.Duration(math.Min(
			float64(p.retry.MaxBackoff),
			float64(backoff)*p.retry.BackoffMultiple,
		))
		attempt++
	}

	// Retry budget exhausted or non-retryable: terminal ROUTED when on_error
	// names a sink, QUARANTINED otherwise.
	errorHash := hashError(lastErr)
	var outcome landscape.Outcome
	if t.OnError() != "" && t.OnError() != "discard" {
		outcome = landscape.OutcomeRouted
	} else {
		outcome = landscape.OutcomeQuarantined
	}
	if err := p.store.RecordTerminalOutcome(pctx.Ctx, &landscape.TokenOutcome{
		OutcomeID:  uuid.NewString(),
		RunID:      pctx.RunID,
		TokenID:    tok.TokenID,
		Outcome:    outcome,
		IsTerminal: true,
		ErrorHash:  &errorHash,
	}); err != nil {
		return Result{}, err
	}

	if t.OnError() != "" && t.OnError() != "discard" {
		return Result{Disposition: DispositionRoute, NextNodeIDs: []string{t.OnError()}, Outcome: outcome}, nil
	}
	return Result{Disposition: DispositionTerminal, Outcome: outcome, ErrorHash: &errorHash}, lastErr
}

func (p *Processor) completeSuccess(pctx *plugin.Context, tok *landscape.Token, node *graph.Node, stateID string, row plugin.Row, tr plugin.TransformResult, durationMS int64) (Result, error) {
	if tr.Success != nil {
		if collided := fieldCollisions(row, *tr.Success, tr.SuccessReason); len(collided) > 0 {
			return Result{}, &errs.FieldCollisionError{NodeID: node.ID, Fields: collided}
		}
		outputHash := hashRow(*tr.Success)
		reasonJSON, _ := json.Marshal(tr.SuccessReason)
		if err := p.store.CompleteNodeState(pctx.Ctx, stateID, landscape.StatusCompleted, &outputHash, durationMS, nil, reasonJSON, nil); err != nil {
			return Result{}, err
		}
		return Result{Disposition: DispositionContinue}, nil
	}

	if tr.SuccessMulti != nil {
		reasonJSON, _ := json.Marshal(tr.SuccessReason)
		if err := p.store.CompleteNodeState(pctx.Ctx, stateID, landscape.StatusCompleted, nil, durationMS, nil, reasonJSON, nil); err != nil {
			return Result{}, err
		}
		return Result{Disposition: DispositionExpand, ExpandRows: tr.SuccessMulti}, nil
	}

	return Result{}, fmt.Errorf("transform returned an empty TransformResult")
}

// fieldCollisions detects a transform silently overwriting an existing
// field: any field present in the input row, absent from the transform's
// declared fields_added/fields_modified, but changed in the output.
func fieldCollisions(in, out plugin.Row, reason *plugin.SuccessReason) []string {
	declared := map[string]bool{}
	if reason != nil {
		for _, f := range reason.FieldsAdded {
			declared[f] = true
		}
		for _, f := range reason.FieldsModified {
			declared[f] = true
		}
	}
	var collided []string
	for k, v := range in {
		if declared[k] {
			continue
		}
		if ov, ok := out[k]; ok && !equalValue(v, ov) {
			collided = append(collided, k)
		}
	}
	return collided
}

func equalValue(a, b any) bool {
	ab, _ := json.Marshal(a)
	bb, _ := json.Marshal(b)
	return string(ab) == string(bb)
}

func (p *Processor) recordSchemaFailure(pctx *plugin.Context, tok *landscape.Token, node *graph.Node, row plugin.Row, missing []string) (Result, error) {
	stateID := uuid.NewString()
	inputHash := hashRow(row)
	if err := p.store.OpenNodeState(pctx.Ctx, &landscape.NodeState{
		StateID: stateID, TokenID: tok.TokenID, NodeID: node.ID, Attempt: 1, InputHash: inputHash,
	}); err != nil {
		return Result{}, err
	}
	errJSON, _ := json.Marshal(map[string]any{"error_type": "schema_validation", "missing_fields": missing})
	if err := p.store.CompleteNodeState(pctx.Ctx, stateID, landscape.StatusFailed, nil, 0, errJSON, nil, nil); err != nil {
		return Result{}, err
	}
	return Result{}, &errs.SchemaValidationError{NodeID: node.ID, MissingFields: missing}
}

func hashError(te *plugin.TransformError) string {
	sum := sha256.Sum256([]byte(te.Error()))
	return hex.EncodeToString(sum[:])
}

// inputSchemaFor derives an ad-hoc observed schema from a concrete row,
// for validating against a node's declared (possibly dynamic)
// input_schema. The core never persists this derived schema; it exists
// only for the MissingRequiredFields call.
func inputSchemaFor(row plugin.Row) *schema.Schema {
	s := &schema.Schema{Name: "observed"}
	for k, v := range row {
		s.Fields = append(s.Fields, schema.Field{Name: k, Type: inferType(v), Required: true})
	}
	return s
}

func inferType(v any) schema.FieldType {
	switch v.(type) {
	case int, int32, int64:
		return schema.TypeInt
	case float32, float64:
		return schema.TypeFloat
	case bool:
		return schema.TypeBool
	case string:
		return schema.TypeString
	case []byte:
		return schema.TypeBytes
	case []any:
		return schema.TypeArray
	case map[string]any:
		return schema.TypeObject
	default:
		return schema.TypeAny
	}
}
