// Package token implements the token manager: create/fork/expand/
// coalesce operations with atomic contracts — children and the parent's
// terminal outcome are written in a single transaction, closing the
// crash window between "children exist" and "parent marked terminal."
package token

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/tachyon-beep/elspeth/internal/errs"
	"github.com/tachyon-beep/elspeth/internal/landscape"
)

// Manager owns every mutation of token identity and lifecycle.
type Manager struct {
	store *landscape.Store
}

// NewManager wraps a Landscape store.
func NewManager(store *landscape.Store) *Manager {
	return &Manager{store: store}
}

// CreateInitial inserts the first token for a row.
func (m *Manager) CreateInitial(ctx context.Context, runID, rowID string) (*landscape.Token, error) {
	tok := &landscape.Token{
		TokenID: uuid.NewString(),
		RowID:   rowID,
	}
	if err := m.store.CreateInitialToken(ctx, tok); err != nil {
		return nil, err
	}
	return tok, nil
}

// Fork atomically creates one child token per branch, records a
// token_parents row for each, and records the parent's FORKED terminal
// outcome with expected_branches_json — all in one transaction. A
// violation (the parent already has a terminal outcome) fails the
// transaction via the partial unique index.
func (m *Manager) Fork(ctx context.Context, parent *landscape.Token, branches []string, runID string, step int) ([]*landscape.Token, string, error) {
	if len(branches) == 0 {
		return nil, "", fmt.Errorf("fork requires at least one branch")
	}
	forkGroupID := uuid.NewString()
	children := make([]*landscape.Token, 0, len(branches))

	err := m.store.WithTx(ctx, func(tx pgx.Tx) error {
		for i, branch := range branches {
			branchName := branch
			child := &landscape.Token{
				TokenID:        uuid.NewString(),
				RowID:          parent.RowID,
				ForkGroupID:    &forkGroupID,
				BranchName:     &branchName,
				StepInPipeline: step,
			}
			if err := m.store.InsertTokenTx(ctx, tx, child); err != nil {
				return err
			}
			if err := m.store.InsertTokenParentTx(ctx, tx, &landscape.TokenParent{
				TokenID:       child.TokenID,
				ParentTokenID: parent.TokenID,
				Ordinal:       0,
			}); err != nil {
				return err
			}
			children = append(children, child)
			_ = i
		}

		branchesJSON, err := json.Marshal(branches)
		if err != nil {
			return fmt.Errorf("marshal expected branches: %w", err)
		}

		return m.store.RecordOutcomeTx(ctx, tx, &landscape.TokenOutcome{
			OutcomeID:            uuid.NewString(),
			RunID:                runID,
			TokenID:              parent.TokenID,
			Outcome:              landscape.OutcomeForked,
			IsTerminal:           true,
			ForkGroupID:          &forkGroupID,
			ExpectedBranchesJSON: branchesJSON,
		})
	})
	if err != nil {
		return nil, "", &errs.RecorderError{Operation: "fork", Cause: err}
	}
	return children, forkGroupID, nil
}

// Expand is Fork's row-multiplying analogue: rowCount children, sharing an
// expand_group_id; expected_branches_json stores the promised row count.
func (m *Manager) Expand(ctx context.Context, parent *landscape.Token, rowCount int, runID string, step int) ([]*landscape.Token, string, error) {
	if rowCount <= 0 {
		return nil, "", fmt.Errorf("expand requires rowCount > 0")
	}
	expandGroupID := uuid.NewString()
	children := make([]*landscape.Token, 0, rowCount)

	err := m.store.WithTx(ctx, func(tx pgx.Tx) error {
		for i := 0; i < rowCount; i++ {
			child := &landscape.Token{
				TokenID:        uuid.NewString(),
				RowID:          parent.RowID,
				ExpandGroupID:  &expandGroupID,
				StepInPipeline: step,
			}
			if err := m.store.InsertTokenTx(ctx, tx, child); err != nil {
				return err
			}
			if err := m.store.InsertTokenParentTx(ctx, tx, &landscape.TokenParent{
				TokenID:       child.TokenID,
				ParentTokenID: parent.TokenID,
				Ordinal:       0,
			}); err != nil {
				return err
			}
			children = append(children, child)
		}

		expectedJSON, err := json.Marshal(rowCount)
		if err != nil {
			return fmt.Errorf("marshal expected row count: %w", err)
		}

		return m.store.RecordOutcomeTx(ctx, tx, &landscape.TokenOutcome{
			OutcomeID:            uuid.NewString(),
			RunID:                runID,
			TokenID:              parent.TokenID,
			Outcome:              landscape.OutcomeExpanded,
			IsTerminal:           true,
			ExpandGroupID:        &expandGroupID,
			ExpectedBranchesJSON: expectedJSON,
		})
	})
	if err != nil {
		return nil, "", &errs.RecorderError{Operation: "expand", Cause: err}
	}
	return children, expandGroupID, nil
}

// LosingBranch describes an input to Coalesce that failed on its own
// branch before the merge; its error survives as audit context rather than
// a dedicated error_hash column (SPEC_FULL.md Open Question #1).
type LosingBranch struct {
	TokenID   string
	ErrorHash string
}

// Coalesce merges inputTokens into one new token, ordered by arrival: each
// input's token_parents ordinal records that order. Every input is marked
// terminal COALESCED in the same transaction as the merged token's
// creation. Inputs present in losing also carry their error_hash in
// context_json, since the dedicated error_hash column on a COALESCED
// outcome would conflate "this branch lost the race" with "this branch
// failed" — see DESIGN.md.
func (m *Manager) Coalesce(ctx context.Context, runID string, inputTokens []*landscape.Token, joinGroupID string, losing []LosingBranch, step int) (*landscape.Token, error) {
	if len(inputTokens) == 0 {
		return nil, fmt.Errorf("coalesce requires at least one input token")
	}
	losingByToken := make(map[string]string, len(losing))
	for _, l := range losing {
		losingByToken[l.TokenID] = l.ErrorHash
	}

	merged := &landscape.Token{
		TokenID:        uuid.NewString(),
		RowID:          inputTokens[0].RowID,
		JoinGroupID:    &joinGroupID,
		StepInPipeline: step,
	}

	err := m.store.WithTx(ctx, func(tx pgx.Tx) error {
		if err := m.store.InsertTokenTx(ctx, tx, merged); err != nil {
			return err
		}
		for i, in := range inputTokens {
			if err := m.store.InsertTokenParentTx(ctx, tx, &landscape.TokenParent{
				TokenID:       merged.TokenID,
				ParentTokenID: in.TokenID,
				Ordinal:       i,
			}); err != nil {
				return err
			}

			var contextJSON []byte
			if errHash, wasLosing := losingByToken[in.TokenID]; wasLosing {
				var err error
				contextJSON, err = json.Marshal(map[string]string{"error_hash": errHash})
				if err != nil {
					return fmt.Errorf("marshal losing-branch context: %w", err)
				}
			}

			if err := m.store.RecordOutcomeTx(ctx, tx, &landscape.TokenOutcome{
				OutcomeID:   uuid.NewString(),
				RunID:       runID,
				TokenID:     in.TokenID,
				Outcome:     landscape.OutcomeCoalesced,
				IsTerminal:  true,
				JoinGroupID: &joinGroupID,
				ContextJSON: contextJSON,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, &errs.RecorderError{Operation: "coalesce", Cause: err}
	}
	return merged, nil
}

// Buffer writes a non-terminal BUFFERED outcome for an aggregation's
// pending member token.
func (m *Manager) Buffer(ctx context.Context, runID string, tok *landscape.Token, batchID string) error {
	return m.store.RecordTerminalOutcome(ctx, &landscape.TokenOutcome{
		OutcomeID:  uuid.NewString(),
		RunID:      runID,
		TokenID:    tok.TokenID,
		Outcome:    landscape.OutcomeBuffered,
		IsTerminal: false,
		BatchID:    &batchID,
	})
}

// ConsumeInBatch finalizes a buffered token as terminal CONSUMED_IN_BATCH
// once its batch flushes. Safe after Buffer because the partial unique
// index only rejects a second *terminal* write.
func (m *Manager) ConsumeInBatch(ctx context.Context, runID string, tok *landscape.Token, batchID string) error {
	return m.store.RecordTerminalOutcome(ctx, &landscape.TokenOutcome{
		OutcomeID:  uuid.NewString(),
		RunID:      runID,
		TokenID:    tok.TokenID,
		Outcome:    landscape.OutcomeConsumedInBatch,
		IsTerminal: true,
		BatchID:    &batchID,
	})
}

// Flush atomically creates the summary token an aggregation node emits once
// its trigger fires: the batch row, one batch_members row and one
// CONSUMED_IN_BATCH terminal outcome per member, a token_parents edge from
// the summary token to each member (ordinal = arrival order), and the
// summary token itself — closing the same crash window Fork/Expand/Coalesce
// close for their own group operations. batchID must be the id the caller
// already opened the batch under, so in-memory and persisted state agree.
func (m *Manager) Flush(ctx context.Context, runID, nodeID, batchID string, members []*landscape.Token, step int) (*landscape.Token, error) {
	if len(members) == 0 {
		return nil, fmt.Errorf("flush requires at least one member")
	}
	summary := &landscape.Token{
		TokenID:        uuid.NewString(),
		RowID:          members[0].RowID,
		StepInPipeline: step,
	}

	err := m.store.WithTx(ctx, func(tx pgx.Tx) error {
		flushedAt := time.Now()
		if err := m.store.InsertBatchTx(ctx, tx, &landscape.Batch{
			BatchID:   batchID,
			RunID:     runID,
			NodeID:    nodeID,
			FlushedAt: &flushedAt,
		}); err != nil {
			return err
		}
		if err := m.store.InsertTokenTx(ctx, tx, summary); err != nil {
			return err
		}
		for i, member := range members {
			if err := m.store.InsertBatchMemberTx(ctx, tx, batchID, member.TokenID); err != nil {
				return err
			}
			if err := m.store.InsertTokenParentTx(ctx, tx, &landscape.TokenParent{
				TokenID:       summary.TokenID,
				ParentTokenID: member.TokenID,
				Ordinal:       i,
			}); err != nil {
				return err
			}
			if err := m.store.RecordOutcomeTx(ctx, tx, &landscape.TokenOutcome{
				OutcomeID:  uuid.NewString(),
				RunID:      runID,
				TokenID:    member.TokenID,
				Outcome:    landscape.OutcomeConsumedInBatch,
				IsTerminal: true,
				BatchID:    &batchID,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, &errs.RecorderError{Operation: "flush_batch", Cause: err}
	}
	return summary, nil
}

// Terminal records a COMPLETED / ROUTED / FAILED / QUARANTINED outcome.
func (m *Manager) Terminal(ctx context.Context, runID string, tok *landscape.Token, outcome landscape.Outcome, sinkName, errorHash *string) error {
	return m.store.RecordTerminalOutcome(ctx, &landscape.TokenOutcome{
		OutcomeID:  uuid.NewString(),
		RunID:      runID,
		TokenID:    tok.TokenID,
		Outcome:    outcome,
		IsTerminal: true,
		SinkName:   sinkName,
		ErrorHash:  errorHash,
	})
}
