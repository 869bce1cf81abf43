package processor

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tachyon-beep/elspeth/internal/graph"
	"github.com/tachyon-beep/elspeth/internal/landscape"
	"github.com/tachyon-beep/elspeth/internal/plugin"
)

// ProcessGate runs a gate node: gates never modify row data, only route.
// One routing_event is recorded per chosen destination, sharing a
// routing_group_id; a fork decision (multiple COPY-edge targets) is left
// to the orchestrator to turn into a token_manager.Fork call.
func (p *Processor) ProcessGate(pctx *plugin.Context, tok *landscape.Token, node *graph.Node, g plugin.Gate, row plugin.Row) (Result, error) {
	stateID := uuid.NewString()
	inputHash := hashRow(row)
	if err := p.store.OpenNodeState(pctx.Ctx, &landscape.NodeState{
		StateID: stateID, TokenID: tok.TokenID, NodeID: node.ID, Attempt: 1, InputHash: inputHash,
	}); err != nil {
		return Result{}, err
	}

	started := time.Now()
	decision, err := g.Route(pctx, row)
	duration := time.Since(started).Milliseconds()

	if err != nil {
		errJSON, _ := json.Marshal(map[string]any{"error_type": "gate_error", "message": err.Error()})
		_ = p.store.CompleteNodeState(pctx.Ctx, stateID, landscape.StatusFailed, nil, duration, errJSON, nil, nil)
		return Result{}, err
	}
	if len(decision.Targets) == 0 {
		errJSON, _ := json.Marshal(map[string]any{"error_type": "gate_no_route"})
		_ = p.store.CompleteNodeState(pctx.Ctx, stateID, landscape.StatusFailed, nil, duration, errJSON, nil, nil)
		return Result{}, fmt.Errorf("gate %s produced no route", node.ID)
	}

	if err := p.store.CompleteNodeState(pctx.Ctx, stateID, landscape.StatusCompleted, nil, duration, nil, nil, nil); err != nil {
		return Result{}, err
	}

	routingGroupID := uuid.NewString()
	for _, target := range decision.Targets {
		mode := graph.ModeMove
		if len(decision.Targets) > 1 {
			mode = graph.ModeCopy
		}
		reasonJSON, _ := json.Marshal(map[string]any{"target": target})
		if err := p.store.RecordRoutingEvent(pctx.Ctx, &landscape.RoutingEvent{
			EventID:        uuid.NewString(),
			RoutingGroupID: routingGroupID,
			StateID:        stateID,
			EdgeID:         node.ID + "->" + target,
			Mode:           string(mode),
			ReasonJSON:     reasonJSON,
		}); err != nil {
			return Result{}, err
		}
	}

	if len(decision.Targets) > 1 {
		return Result{Disposition: DispositionFork, NextNodeIDs: decision.Targets}, nil
	}
	return Result{Disposition: DispositionRoute, NextNodeIDs: decision.Targets}, nil
}

// ProcessSink writes a row to a sink and records its terminal outcome.
// reachedViaGate distinguishes COMPLETED (reached via normal MOVE flow)
// from ROUTED (reached via a gate decision).
func (p *Processor) ProcessSink(pctx *plugin.Context, tok *landscape.Token, node *graph.Node, s plugin.Sink, row plugin.Row, reachedViaGate bool) (Result, error) {
	stateID := uuid.NewString()
	inputHash := hashRow(row)
	if err := p.store.OpenNodeState(pctx.Ctx, &landscape.NodeState{
		StateID: stateID, TokenID: tok.TokenID, NodeID: node.ID, Attempt: 1, InputHash: inputHash,
	}); err != nil {
		return Result{}, err
	}

	started := time.Now()
	writeErr := s.Write(pctx, row)
	duration := time.Since(started).Milliseconds()

	if writeErr != nil {
		errJSON, _ := json.Marshal(map[string]any{"error_type": "sink_write_error", "message": writeErr.Error()})
		_ = p.store.CompleteNodeState(pctx.Ctx, stateID, landscape.StatusFailed, nil, duration, errJSON, nil, nil)
		errorHash := hashErrorString(writeErr.Error())
		if err := p.store.RecordTerminalOutcome(pctx.Ctx, &landscape.TokenOutcome{
			OutcomeID: uuid.NewString(), RunID: pctx.RunID, TokenID: tok.TokenID,
			Outcome: landscape.OutcomeFailed, IsTerminal: true, ErrorHash: &errorHash,
		}); err != nil {
			return Result{}, err
		}
		return Result{Disposition: DispositionTerminal, Outcome: landscape.OutcomeFailed, ErrorHash: &errorHash}, writeErr
	}

	if err := p.store.CompleteNodeState(pctx.Ctx, stateID, landscape.StatusCompleted, nil, duration, nil, nil, nil); err != nil {
		return Result{}, err
	}

	outcome := landscape.OutcomeCompleted
	if reachedViaGate {
		outcome = landscape.OutcomeRouted
	}
	sinkName := s.Name()
	if err := p.store.RecordTerminalOutcome(pctx.Ctx, &landscape.TokenOutcome{
		OutcomeID: uuid.NewString(), RunID: pctx.RunID, TokenID: tok.TokenID,
		Outcome: outcome, IsTerminal: true, SinkName: &sinkName,
	}); err != nil {
		return Result{}, err
	}
	return Result{Disposition: DispositionTerminal, Outcome: outcome, SinkName: &sinkName}, nil
}

func hashErrorString(s string) string {
	te := &plugin.TransformError{ErrorType: "sink", Cause: fmt.Errorf("%s", s)}
	return hashError(te)
}
