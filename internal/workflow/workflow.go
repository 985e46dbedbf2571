package workflow

import "errors"

// Step statuses. A step moves waiting -> pending -> approved|rejected;
// approved and rejected are terminal.
const (
	StepWaiting  = "waiting"
	StepPending  = "pending"
	StepApproved = "approved"
	StepRejected = "rejected"
)

// Instance statuses. The instance status is derived from its steps and is
// never set directly by a caller.
const (
	StatusInProgress = "in_progress"
	StatusApproved   = "approved"
	StatusRejected   = "rejected"
)

var (
	// ErrNoMatrix means no approval matrix rules exist for a document type,
	// so a workflow cannot be initiated.
	ErrNoMatrix = errors.New("no approval matrix configured for document type")

	// ErrNotFound means the workflow, step or referenced record does not exist.
	ErrNotFound = errors.New("workflow not found")

	// ErrInvalidTransition means the requested transition violates the
	// step state machine (e.g. deciding on a step that is not pending).
	ErrInvalidTransition = errors.New("invalid workflow transition")
)

// MatrixRule maps a document type to one required approval level.
type MatrixRule struct {
	ID             int    `json:"id"`
	DocumentType   string `json:"document_type"`
	ApprovalLevel  int    `json:"approval_level"`
	PositionTitle  string `json:"position_title"`
	EscalationDays int    `json:"escalation_days"`
	CreatedAt      string `json:"created_at,omitempty"`
}

// Instance is one approval workflow for a document version.
type Instance struct {
	ID              string  `json:"id"`
	DocumentID      string  `json:"document_id"`
	DocumentType    string  `json:"document_type"`
	DocumentVersion string  `json:"document_version"`
	Status          string  `json:"status"`
	CurrentLevel    int     `json:"current_level"`
	InitiatedBy     string  `json:"initiated_by"`
	CreatedAt       string  `json:"created_at"`
	CompletedAt     *string `json:"completed_at"`
}

// Step is one approval level within a workflow instance.
type Step struct {
	ID               int     `json:"id"`
	WorkflowID       string  `json:"workflow_id"`
	ApprovalLevel    int     `json:"approval_level"`
	PositionTitle    string  `json:"position_title"`
	AssignedTo       string  `json:"assigned_to"`
	DelegatedTo      string  `json:"delegated_to"`
	DelegatedBy      string  `json:"delegated_by"`
	DelegatedAt      *string `json:"delegated_at"`
	DelegationReason string  `json:"delegation_reason"`
	Status           string  `json:"status"`
	DueDate          *string `json:"due_date"`
	DecidedBy        string  `json:"decided_by"`
	DecidedAt        *string `json:"decided_at"`
	Comments         string  `json:"comments"`
}

// HistoryEntry is an append-only record of one workflow transition.
type HistoryEntry struct {
	ID            int    `json:"id"`
	WorkflowID    string `json:"workflow_id"`
	ApprovalLevel int    `json:"approval_level"`
	FromState     string `json:"from_state"`
	ToState       string `json:"to_state"`
	Actor         string `json:"actor"`
	Comments      string `json:"comments"`
	CreatedAt     string `json:"created_at"`
}
