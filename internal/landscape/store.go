package landscape

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/tachyon-beep/elspeth/internal/errs"
)

// Store is the Landscape audit store's query layer. All mutations that
// must be atomic (fork/expand/coalesce + parent terminal outcome,
// node_state pending->terminal) are single statements or single
// transactions — never partial.
type Store struct {
	db *DB
}

// NewStore wraps a DB in the Landscape query layer.
func NewStore(db *DB) *Store {
	return &Store{db: db}
}

// CreateRun inserts a new run row.
func (s *Store) CreateRun(ctx context.Context, run *Run) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO runs (run_id, status, config_fingerprint)
		VALUES ($1, $2, $3)
	`, run.RunID, run.Status, run.ConfigFingerprint)
	if err != nil {
		return &errs.RecorderError{Operation: "create_run", Cause: err}
	}
	return nil
}

// FinishRun marks a run finished with a terminal status.
func (s *Store) FinishRun(ctx context.Context, runID, status string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE runs SET finished_at = now(), status = $2 WHERE run_id = $1
	`, runID, status)
	if err != nil {
		return &errs.RecorderError{Operation: "finish_run", Cause: err}
	}
	return nil
}

// NonSuccessOutcomeCount returns how many tokens in a run reached a
// QUARANTINED or FAILED terminal outcome, for the CLI's exit-code contract.
func (s *Store) NonSuccessOutcomeCount(ctx context.Context, runID string) (int, error) {
	var count int
	err := s.db.QueryRow(ctx, `
		SELECT count(*) FROM token_outcomes
		WHERE run_id = $1 AND outcome IN ($2, $3)
	`, runID, OutcomeQuarantined, OutcomeFailed).Scan(&count)
	if err != nil {
		return 0, &errs.RecorderError{Operation: "count_non_success_outcomes", Cause: err}
	}
	return count, nil
}

// CreateRow inserts a logical input record.
func (s *Store) CreateRow(ctx context.Context, row *Row) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO rows (row_id, run_id, source_position, content_hash)
		VALUES ($1, $2, $3, $4)
	`, row.RowID, row.RunID, row.SourcePosition, row.ContentHash)
	if err != nil {
		return &errs.RecorderError{Operation: "create_row", Cause: err}
	}
	return nil
}

// CreateInitialToken inserts the first token for a row. No parents,
// no terminal outcome.
func (s *Store) CreateInitialToken(ctx context.Context, tok *Token) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO tokens (token_id, row_id, step_in_pipeline)
		VALUES ($1, $2, $3)
	`, tok.TokenID, tok.RowID, tok.StepInPipeline)
	if err != nil {
		return &errs.RecorderError{Operation: "create_initial_token", Cause: err}
	}
	return nil
}

// OpenNodeState inserts a new pending attempt for (token, node). Retries
// call this again with an incremented attempt; node_states are append-only.
func (s *Store) OpenNodeState(ctx context.Context, ns *NodeState) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO node_states (state_id, token_id, node_id, attempt, status, input_hash, context_before_json)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, ns.StateID, ns.TokenID, ns.NodeID, ns.Attempt, StatusPending, ns.InputHash, ns.ContextBeforeJSON)
	if err != nil {
		return &errs.RecorderError{Operation: "open_node_state", Cause: err}
	}
	return nil
}

// CompleteNodeState transitions a pending attempt straight to its terminal
// status in one UPDATE — never partial.
func (s *Store) CompleteNodeState(ctx context.Context, stateID string, status NodeStateStatus, outputHash *string, durationMS int64, errorJSON, successReasonJSON, contextAfterJSON []byte) error {
	_, err := s.db.Exec(ctx, `
		UPDATE node_states
		SET status = $2, output_hash = $3, completed_at = now(), duration_ms = $4,
		    error_json = $5, success_reason_json = $6, context_after_json = $7
		WHERE state_id = $1
	`, stateID, status, outputHash, durationMS, errorJSON, successReasonJSON, contextAfterJSON)
	if err != nil {
		return &errs.RecorderError{Operation: "complete_node_state", Cause: err}
	}
	return nil
}

// RecordRoutingEvent inserts one routing_event row per chosen destination.
func (s *Store) RecordRoutingEvent(ctx context.Context, re *RoutingEvent) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO routing_events (event_id, routing_group_id, state_id, edge_id, mode, reason_json)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, re.EventID, re.RoutingGroupID, re.StateID, re.EdgeID, re.Mode, re.ReasonJSON)
	if err != nil {
		return &errs.RecorderError{Operation: "record_routing_event", Cause: err}
	}
	return nil
}

// RecordTerminalOutcome writes a single terminal (or BUFFERED
// non-terminal) outcome. The partial unique index on (token_id) WHERE
// is_terminal enforces at most one terminal outcome per token; a second
// terminal write for the same token surfaces as a unique-violation error
// here.
func (s *Store) RecordTerminalOutcome(ctx context.Context, o *TokenOutcome) error {
	_, err := s.db.Pool.Exec(ctx, `
		INSERT INTO token_outcomes (
			outcome_id, run_id, token_id, outcome, is_terminal, sink_name, batch_id,
			fork_group_id, join_group_id, expand_group_id, error_hash, expected_branches_json, context_json
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`, o.OutcomeID, o.RunID, o.TokenID, o.Outcome, o.IsTerminal, o.SinkName, o.BatchID,
		o.ForkGroupID, o.JoinGroupID, o.ExpandGroupID, o.ErrorHash, o.ExpectedBranchesJSON, o.ContextJSON)
	if err != nil {
		return &errs.RecorderError{Operation: "record_terminal_outcome", Cause: err}
	}
	return nil
}

// WithTx runs fn inside a single transaction, rolling back on any error —
// the mechanism fork/expand/coalesce use to write children and the
// parent's terminal outcome in one transaction.
func (s *Store) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.db.Pool.Begin(ctx)
	if err != nil {
		return &errs.RecorderError{Operation: "begin_tx", Cause: err}
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return &errs.RecorderError{Operation: "commit_tx", Cause: err}
	}
	return nil
}

// InsertTokenTx inserts a token row within an existing transaction.
func (s *Store) InsertTokenTx(ctx context.Context, tx pgx.Tx, tok *Token) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO tokens (token_id, row_id, fork_group_id, join_group_id, expand_group_id, branch_name, step_in_pipeline)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, tok.TokenID, tok.RowID, tok.ForkGroupID, tok.JoinGroupID, tok.ExpandGroupID, tok.BranchName, tok.StepInPipeline)
	if err != nil {
		return fmt.Errorf("insert token: %w", err)
	}
	return nil
}

// InsertTokenParentTx records one (child, parent, ordinal) edge within an
// existing transaction. Parents, once recorded, never change.
func (s *Store) InsertTokenParentTx(ctx context.Context, tx pgx.Tx, tp *TokenParent) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO token_parents (token_id, parent_token_id, ordinal)
		VALUES ($1,$2,$3)
	`, tp.TokenID, tp.ParentTokenID, tp.Ordinal)
	if err != nil {
		return fmt.Errorf("insert token parent: %w", err)
	}
	return nil
}

// RecordOutcomeTx writes a token_outcome row within an existing
// transaction (used for the parent's FORKED/EXPANDED/COALESCED outcome
// alongside its children's inserts).
func (s *Store) RecordOutcomeTx(ctx context.Context, tx pgx.Tx, o *TokenOutcome) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO token_outcomes (
			outcome_id, run_id, token_id, outcome, is_terminal, sink_name, batch_id,
			fork_group_id, join_group_id, expand_group_id, error_hash, expected_branches_json, context_json
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`, o.OutcomeID, o.RunID, o.TokenID, o.Outcome, o.IsTerminal, o.SinkName, o.BatchID,
		o.ForkGroupID, o.JoinGroupID, o.ExpandGroupID, o.ErrorHash, o.ExpectedBranchesJSON, o.ContextJSON)
	if err != nil {
		return fmt.Errorf("record outcome: %w", err)
	}
	return nil
}

// InsertBatchTx inserts an aggregation node's flushed-batch row within an
// existing transaction.
func (s *Store) InsertBatchTx(ctx context.Context, tx pgx.Tx, b *Batch) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO batches (batch_id, run_id, node_id, flushed_at)
		VALUES ($1,$2,$3,$4)
	`, b.BatchID, b.RunID, b.NodeID, b.FlushedAt)
	if err != nil {
		return fmt.Errorf("insert batch: %w", err)
	}
	return nil
}

// InsertBatchMemberTx records one token's membership in a flushed batch
// within an existing transaction.
func (s *Store) InsertBatchMemberTx(ctx context.Context, tx pgx.Tx, batchID, tokenID string) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO batch_members (batch_id, token_id)
		VALUES ($1,$2)
	`, batchID, tokenID)
	if err != nil {
		return fmt.Errorf("insert batch member: %w", err)
	}
	return nil
}

// ChildBranchNames returns the branch names recorded so far for a
// fork/expand_group_id, for recovery's contract-fulfillment check.
func (s *Store) ChildBranchNames(ctx context.Context, groupID string) ([]string, error) {
	rows, err := s.db.Pool.Query(ctx, `
		SELECT branch_name FROM tokens
		WHERE fork_group_id = $1 OR expand_group_id = $1
	`, groupID)
	if err != nil {
		return nil, fmt.Errorf("query child branch names: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name *string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan branch name: %w", err)
		}
		if name != nil {
			names = append(names, *name)
		}
	}
	return names, rows.Err()
}

// TerminalOutcomeForToken returns the recorded terminal outcome for a
// token, if any.
func (s *Store) TerminalOutcomeForToken(ctx context.Context, tokenID string) (*TokenOutcome, error) {
	var o TokenOutcome
	err := s.db.Pool.QueryRow(ctx, `
		SELECT outcome_id, run_id, token_id, outcome, is_terminal, sink_name, batch_id,
		       fork_group_id, join_group_id, expand_group_id, error_hash, expected_branches_json, context_json, recorded_at
		FROM token_outcomes
		WHERE token_id = $1 AND is_terminal
	`, tokenID).Scan(
		&o.OutcomeID, &o.RunID, &o.TokenID, &o.Outcome, &o.IsTerminal, &o.SinkName, &o.BatchID,
		&o.ForkGroupID, &o.JoinGroupID, &o.ExpandGroupID, &o.ErrorHash, &o.ExpectedBranchesJSON, &o.ContextJSON, &o.RecordedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query terminal outcome: %w", err)
	}
	return &o, nil
}

// Lineage is the reconstructed history `explain` prints for one row: every
// token that descended from it, every node_state attempt each token made,
// every routing_event a gate recorded for those attempts, and each
// token's outcome. Stable and idempotent once a run has finished.
type Lineage struct {
	RowID         string
	Tokens        []Token
	NodeStates    []NodeState
	RoutingEvents []RoutingEvent
	Outcomes      []TokenOutcome
}

// LineageForRow reconstructs a row's full lineage by row_id. Used by both
// the explain CLI verb and the read-only HTTP facade over the same query.
func (s *Store) LineageForRow(ctx context.Context, rowID string) (*Lineage, error) {
	tokens, err := s.tokensForRow(ctx, rowID)
	if err != nil {
		return nil, err
	}

	tokenIDs := make([]string, len(tokens))
	for i, t := range tokens {
		tokenIDs[i] = t.TokenID
	}

	states, err := s.nodeStatesForTokens(ctx, tokenIDs)
	if err != nil {
		return nil, err
	}
	stateIDs := make([]string, len(states))
	for i, ns := range states {
		stateIDs[i] = ns.StateID
	}

	events, err := s.routingEventsForStates(ctx, stateIDs)
	if err != nil {
		return nil, err
	}

	outcomes, err := s.outcomesForTokens(ctx, tokenIDs)
	if err != nil {
		return nil, err
	}

	return &Lineage{
		RowID:         rowID,
		Tokens:        tokens,
		NodeStates:    states,
		RoutingEvents: events,
		Outcomes:      outcomes,
	}, nil
}

// LineageForToken reconstructs the full lineage of the row a token belongs
// to — `explain` accepts either a row_id or a token_id.
func (s *Store) LineageForToken(ctx context.Context, tokenID string) (*Lineage, error) {
	var rowID string
	err := s.db.Pool.QueryRow(ctx, `SELECT row_id FROM tokens WHERE token_id = $1`, tokenID).Scan(&rowID)
	if err == pgx.ErrNoRows {
		return nil, fmt.Errorf("no token %q", tokenID)
	}
	if err != nil {
		return nil, fmt.Errorf("resolve row for token: %w", err)
	}
	return s.LineageForRow(ctx, rowID)
}

func (s *Store) tokensForRow(ctx context.Context, rowID string) ([]Token, error) {
	rows, err := s.db.Pool.Query(ctx, `
		SELECT token_id, row_id, fork_group_id, join_group_id, expand_group_id, branch_name, step_in_pipeline, created_at
		FROM tokens WHERE row_id = $1 ORDER BY created_at
	`, rowID)
	if err != nil {
		return nil, fmt.Errorf("query tokens for row: %w", err)
	}
	defer rows.Close()

	var out []Token
	for rows.Next() {
		var t Token
		if err := rows.Scan(&t.TokenID, &t.RowID, &t.ForkGroupID, &t.JoinGroupID, &t.ExpandGroupID, &t.BranchName, &t.StepInPipeline, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan token: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) nodeStatesForTokens(ctx context.Context, tokenIDs []string) ([]NodeState, error) {
	if len(tokenIDs) == 0 {
		return nil, nil
	}
	rows, err := s.db.Pool.Query(ctx, `
		SELECT state_id, token_id, node_id, attempt, status, input_hash, output_hash,
		       started_at, completed_at, duration_ms, error_json, success_reason_json,
		       context_before_json, context_after_json
		FROM node_states WHERE token_id = ANY($1) ORDER BY started_at
	`, tokenIDs)
	if err != nil {
		return nil, fmt.Errorf("query node states for tokens: %w", err)
	}
	defer rows.Close()

	var out []NodeState
	for rows.Next() {
		var ns NodeState
		if err := rows.Scan(&ns.StateID, &ns.TokenID, &ns.NodeID, &ns.Attempt, &ns.Status, &ns.InputHash, &ns.OutputHash,
			&ns.StartedAt, &ns.CompletedAt, &ns.DurationMS, &ns.ErrorJSON, &ns.SuccessReasonJSON,
			&ns.ContextBeforeJSON, &ns.ContextAfterJSON); err != nil {
			return nil, fmt.Errorf("scan node state: %w", err)
		}
		out = append(out, ns)
	}
	return out, rows.Err()
}

func (s *Store) routingEventsForStates(ctx context.Context, stateIDs []string) ([]RoutingEvent, error) {
	if len(stateIDs) == 0 {
		return nil, nil
	}
	rows, err := s.db.Pool.Query(ctx, `
		SELECT event_id, routing_group_id, state_id, edge_id, mode, reason_json
		FROM routing_events WHERE state_id = ANY($1) ORDER BY event_id
	`, stateIDs)
	if err != nil {
		return nil, fmt.Errorf("query routing events for states: %w", err)
	}
	defer rows.Close()

	var out []RoutingEvent
	for rows.Next() {
		var re RoutingEvent
		if err := rows.Scan(&re.EventID, &re.RoutingGroupID, &re.StateID, &re.EdgeID, &re.Mode, &re.ReasonJSON); err != nil {
			return nil, fmt.Errorf("scan routing event: %w", err)
		}
		out = append(out, re)
	}
	return out, rows.Err()
}

func (s *Store) outcomesForTokens(ctx context.Context, tokenIDs []string) ([]TokenOutcome, error) {
	if len(tokenIDs) == 0 {
		return nil, nil
	}
	rows, err := s.db.Pool.Query(ctx, `
		SELECT outcome_id, run_id, token_id, outcome, is_terminal, sink_name, batch_id,
		       fork_group_id, join_group_id, expand_group_id, error_hash, expected_branches_json, context_json, recorded_at
		FROM token_outcomes WHERE token_id = ANY($1) ORDER BY recorded_at
	`, tokenIDs)
	if err != nil {
		return nil, fmt.Errorf("query outcomes for tokens: %w", err)
	}
	defer rows.Close()

	var out []TokenOutcome
	for rows.Next() {
		var o TokenOutcome
		if err := rows.Scan(&o.OutcomeID, &o.RunID, &o.TokenID, &o.Outcome, &o.IsTerminal, &o.SinkName, &o.BatchID,
			&o.ForkGroupID, &o.JoinGroupID, &o.ExpandGroupID, &o.ErrorHash, &o.ExpectedBranchesJSON, &o.ContextJSON, &o.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
