package landscape

import "time"

// Outcome is the closed set of terminal (and one non-terminal) token
// dispositions.
type Outcome string

const (
	OutcomeBuffered         Outcome = "buffered" // non-terminal
	OutcomeCompleted        Outcome = "completed"
	OutcomeRouted           Outcome = "routed"
	OutcomeForked           Outcome = "forked"
	OutcomeExpanded         Outcome = "expanded"
	OutcomeCoalesced        Outcome = "coalesced"
	OutcomeConsumedInBatch  Outcome = "consumed_in_batch"
	OutcomeFailed           Outcome = "failed"
	OutcomeQuarantined      Outcome = "quarantined"
	OutcomeCoalesceTimedOut Outcome = "coalesce_timed_out"
)

// IsTerminal reports whether the outcome participates in the
// terminal-outcome partial unique index.
func (o Outcome) IsTerminal() bool {
	return o != OutcomeBuffered
}

// NodeStateStatus is a node_state's lifecycle position.
type NodeStateStatus string

const (
	StatusPending   NodeStateStatus = "pending"
	StatusCompleted NodeStateStatus = "completed"
	StatusFailed    NodeStateStatus = "failed"
)

// Run is a single pipeline invocation.
type Run struct {
	RunID             string
	StartedAt         time.Time
	FinishedAt        *time.Time
	Status            string
	ConfigFingerprint string
}

// Row is a logical input record.
type Row struct {
	RowID          string
	RunID          string
	SourcePosition int64
	ContentHash    string
}

// Token is a unit of flow through the DAG.
type Token struct {
	TokenID        string
	RowID          string
	ForkGroupID    *string
	JoinGroupID    *string
	ExpandGroupID  *string
	BranchName     *string
	StepInPipeline int
	CreatedAt      time.Time
}

// TokenParent records one (token, parent, ordinal) edge in the token
// lineage DAG.
type TokenParent struct {
	TokenID       string
	ParentTokenID string
	Ordinal       int
}

// NodeState is one (token, node) attempt.
type NodeState struct {
	StateID            string
	TokenID            string
	NodeID             string
	Attempt            int
	Status             NodeStateStatus
	InputHash          string
	OutputHash         *string
	StartedAt          time.Time
	CompletedAt        *time.Time
	DurationMS         *int64
	ErrorJSON          []byte
	SuccessReasonJSON  []byte
	ContextBeforeJSON  []byte
	ContextAfterJSON   []byte
}

// RoutingEvent is one destination chosen at a gate.
type RoutingEvent struct {
	EventID        string
	RoutingGroupID string
	StateID        string
	EdgeID         string
	Mode           string
	ReasonJSON     []byte
}

// TokenOutcome is a token's (possibly non-terminal, for BUFFERED) recorded
// disposition.
type TokenOutcome struct {
	OutcomeID             string
	RunID                 string
	TokenID               string
	Outcome               Outcome
	IsTerminal            bool
	SinkName              *string
	BatchID               *string
	ForkGroupID           *string
	JoinGroupID           *string
	ExpandGroupID         *string
	ErrorHash             *string
	ExpectedBranchesJSON  []byte
	ContextJSON           []byte
	RecordedAt            time.Time
}

// Batch groups the member tokens an aggregation node flushed together.
type Batch struct {
	BatchID   string
	RunID     string
	NodeID    string
	FlushedAt *time.Time
}

// ExperimentAssignment records a row's variant assignment once; fork/expand
// children inherit it by row_id lookup (SPEC_FULL.md Open Question #2).
type ExperimentAssignment struct {
	RunID         string
	RowID         string
	ExperimentID  string
	VariantID     string
	OverridesJSON []byte
}
