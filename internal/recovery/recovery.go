// Package recovery implements the recovery manager: given a prior
// run_id, it derives the set of rows that never reached a settled state
// so a resume run can pick them back up.
package recovery

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/tachyon-beep/elspeth/internal/landscape"
)

// Manager computes the unprocessed row set for a run, grounded directly
// in token_outcomes and token_parents — no derived or cached state.
type Manager struct {
	db *landscape.DB
}

// NewManager wraps a Landscape handle.
func NewManager(db *landscape.DB) *Manager {
	return &Manager{db: db}
}

// UnprocessedRow is one row the recovery manager judges incomplete, with
// enough context to explain why.
type UnprocessedRow struct {
	RowID  string
	Reason string // "no_terminal_outcome" or "unfulfilled_branch_contract"
}

// UnprocessedRows finds rows with a token that has no terminal
// outcome, plus rows whose fork/expand contract is unfulfilled (a FORKED
// or EXPANDED parent whose expected_branches_json doesn't match its
// live children, or whose children haven't all reached a terminal
// outcome themselves).
func (m *Manager) UnprocessedRows(ctx context.Context, runID string) ([]UnprocessedRow, error) {
	noOutcome, err := m.rowsWithoutTerminalOutcome(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("rows without terminal outcome: %w", err)
	}
	unfulfilled, err := m.rowsWithUnfulfilledContracts(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("rows with unfulfilled contracts: %w", err)
	}

	seen := make(map[string]bool, len(noOutcome)+len(unfulfilled))
	var out []UnprocessedRow
	for _, r := range noOutcome {
		if !seen[r.RowID] {
			seen[r.RowID] = true
			out = append(out, r)
		}
	}
	for _, r := range unfulfilled {
		if !seen[r.RowID] {
			seen[r.RowID] = true
			out = append(out, r)
		}
	}
	return out, nil
}

// rowsWithoutTerminalOutcome finds every row_id in the run that has at
// least one token without a terminal token_outcomes row.
func (m *Manager) rowsWithoutTerminalOutcome(ctx context.Context, runID string) ([]UnprocessedRow, error) {
	query := `
		SELECT DISTINCT t.row_id
		FROM tokens t
		WHERE t.row_id IN (SELECT row_id FROM rows WHERE run_id = $1)
		AND NOT EXISTS (
			SELECT 1 FROM token_outcomes o
			WHERE o.token_id = t.token_id AND o.is_terminal
		)
	`
	rows, err := m.db.Pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("query rows without terminal outcome: %w", err)
	}
	defer rows.Close()

	var out []UnprocessedRow
	for rows.Next() {
		var rowID string
		if err := rows.Scan(&rowID); err != nil {
			return nil, fmt.Errorf("scan row id: %w", err)
		}
		out = append(out, UnprocessedRow{RowID: rowID, Reason: "no_terminal_outcome"})
	}
	return out, rows.Err()
}

// rowsWithUnfulfilledContracts finds FORKED/EXPANDED parents whose
// promised branch set isn't matched by live, terminal children.
func (m *Manager) rowsWithUnfulfilledContracts(ctx context.Context, runID string) ([]UnprocessedRow, error) {
	query := `
		SELECT o.token_id, t.row_id, o.expected_branches_json
		FROM token_outcomes o
		JOIN tokens t ON t.token_id = o.token_id
		WHERE o.run_id = $1 AND o.outcome IN ('forked', 'expanded')
	`
	rows, err := m.db.Pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("query fork/expand parents: %w", err)
	}
	defer rows.Close()

	type parent struct {
		tokenID  string
		rowID    string
		expected []byte
	}
	var parents []parent
	for rows.Next() {
		var p parent
		if err := rows.Scan(&p.tokenID, &p.rowID, &p.expected); err != nil {
			return nil, fmt.Errorf("scan fork/expand parent: %w", err)
		}
		parents = append(parents, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var out []UnprocessedRow
	for _, p := range parents {
		fulfilled, err := m.contractFulfilled(ctx, p.tokenID, p.expected)
		if err != nil {
			return nil, fmt.Errorf("check contract for token %s: %w", p.tokenID, err)
		}
		if !fulfilled {
			out = append(out, UnprocessedRow{RowID: p.rowID, Reason: "unfulfilled_branch_contract"})
		}
	}
	return out, nil
}

// contractFulfilled compares a parent's expected_branches_json against
// its live children's branch_names and terminal status. An EXPANDED
// parent's expected_branches_json holds a row count, not names, so only
// the live-child count and terminal status are compared for it.
func (m *Manager) contractFulfilled(ctx context.Context, parentTokenID string, expectedJSON []byte) (bool, error) {
	var expectedCount int
	var branchNames []string
	if err := json.Unmarshal(expectedJSON, &branchNames); err == nil {
		expectedCount = len(branchNames)
	} else if err := json.Unmarshal(expectedJSON, &expectedCount); err != nil {
		return false, fmt.Errorf("unmarshal expected_branches_json: %w", err)
	}

	query := `
		SELECT t.token_id, t.branch_name,
		       EXISTS (SELECT 1 FROM token_outcomes o WHERE o.token_id = t.token_id AND o.is_terminal) AS terminal
		FROM token_parents tp
		JOIN tokens t ON t.token_id = tp.token_id
		WHERE tp.parent_token_id = $1
	`
	rows, err := m.db.Pool.Query(ctx, query, parentTokenID)
	if err != nil {
		return false, fmt.Errorf("query children: %w", err)
	}
	defer rows.Close()

	childCount := 0
	var childNames []string
	for rows.Next() {
		var childTokenID string
		var branchName *string
		var terminal bool
		if err := rows.Scan(&childTokenID, &branchName, &terminal); err != nil {
			return false, fmt.Errorf("scan child: %w", err)
		}
		childCount++
		if branchName != nil {
			childNames = append(childNames, *branchName)
		}
		if !terminal {
			return false, nil // a live child hasn't settled yet
		}
	}
	if err := rows.Err(); err != nil {
		return false, err
	}

	if childCount != expectedCount {
		return false, nil
	}
	if branchNames != nil {
		slices.Sort(branchNames)
		slices.Sort(childNames)
		return slices.Equal(branchNames, childNames), nil
	}
	return true, nil
}
