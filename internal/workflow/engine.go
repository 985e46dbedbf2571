package workflow

import (
	"database/sql"
	"fmt"
	"time"
)

const timeFormat = "2006-01-02 15:04:05"

// Engine owns the state of approval workflow instances. All transitions go
// through it; callers never write workflow rows directly.
type Engine struct {
	DB *sql.DB

	// NextIDFunc generates sequential IDs (e.g. "WF-2026-001").
	NextIDFunc func(prefix, table string, digits int) string

	// Now is injectable for tests.
	Now func() time.Time

	// OnDocumentApproved runs inside the final-approval transaction so the
	// document status flip commits together with the workflow state.
	OnDocumentApproved func(tx *sql.Tx, documentID, approvedBy, approvedAt string) error

	// ResolveApprover maps a position title to a responsible user, consulted
	// once per step at initiation. Steps stay unassigned when it is nil or
	// no user holds the position.
	ResolveApprover func(positionTitle string) (username string, ok bool)
}

// NewEngine creates an Engine with default clock.
func NewEngine(db *sql.DB, nextID func(prefix, table string, digits int) string) *Engine {
	return &Engine{DB: db, NextIDFunc: nextID, Now: time.Now}
}

// Initiate resolves the approval matrix for documentType and atomically
// creates the workflow instance plus one step per rule. The first step is
// pending with due date now + escalation days; the rest are waiting.
func (e *Engine) Initiate(documentID, documentType, version, initiatedBy string) (*Instance, []Step, error) {
	rules, err := ResolveMatrix(e.DB, documentType)
	if err != nil {
		return nil, nil, err
	}

	now := e.Now()
	nowStr := now.Format(timeFormat)
	id := e.NextIDFunc("WF", "workflows", 3)

	tx, err := e.DB.Begin()
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback()

	_, err = tx.Exec(`INSERT INTO workflows (id, document_id, document_type, document_version, status, current_level, initiated_by, created_at)
		VALUES (?, ?, ?, ?, ?, 1, ?, ?)`,
		id, documentID, documentType, version, StatusInProgress, initiatedBy, nowStr)
	if err != nil {
		return nil, nil, err
	}

	for i, rule := range rules {
		status := StepWaiting
		var dueDate interface{}
		if i == 0 {
			status = StepPending
			dueDate = now.AddDate(0, 0, rule.EscalationDays).Format(timeFormat)
		}
		assignedTo := ""
		if e.ResolveApprover != nil {
			if username, ok := e.ResolveApprover(rule.PositionTitle); ok {
				assignedTo = username
			}
		}
		_, err = tx.Exec(`INSERT INTO workflow_steps (workflow_id, approval_level, position_title, escalation_days, assigned_to, status, due_date)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			id, rule.ApprovalLevel, rule.PositionTitle, rule.EscalationDays, assignedTo, status, dueDate)
		if err != nil {
			return nil, nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, err
	}
	return e.Get(id)
}

// Decide records an approve/reject decision on the pending step at the
// given level. The step update is a conditional write guarded on
// status='pending' so concurrent decisions on the same step cannot both
// succeed. The history append shares the transaction with every state
// mutation.
func (e *Engine) Decide(workflowID string, level int, decision, actorID, comments string) (*Step, error) {
	if decision != StepApproved && decision != StepRejected {
		return nil, fmt.Errorf("%w: decision must be %s or %s", ErrInvalidTransition, StepApproved, StepRejected)
	}

	nowStr := e.Now().Format(timeFormat)

	tx, err := e.DB.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var documentID, instStatus string
	err = tx.QueryRow("SELECT document_id, status FROM workflows WHERE id = ?", workflowID).
		Scan(&documentID, &instStatus)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, workflowID)
	}
	if err != nil {
		return nil, err
	}
	if instStatus != StatusInProgress {
		return nil, fmt.Errorf("%w: workflow is already %s", ErrInvalidTransition, instStatus)
	}

	res, err := tx.Exec(`UPDATE workflow_steps SET status=?, decided_by=?, decided_at=?, comments=?
		WHERE workflow_id=? AND approval_level=? AND status=?`,
		decision, actorID, nowStr, comments, workflowID, level, StepPending)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		var stepStatus string
		err = tx.QueryRow("SELECT status FROM workflow_steps WHERE workflow_id=? AND approval_level=?",
			workflowID, level).Scan(&stepStatus)
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: no step at level %d", ErrNotFound, level)
		}
		if err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: step at level %d is not pending (status: %s)", ErrInvalidTransition, level, stepStatus)
	}

	_, err = tx.Exec(`INSERT INTO workflow_history (workflow_id, approval_level, from_state, to_state, actor, comments, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		workflowID, level, StepPending, decision, actorID, comments, nowStr)
	if err != nil {
		return nil, err
	}

	if decision == StepRejected {
		// Hard stop: remaining steps stay waiting forever.
		_, err = tx.Exec("UPDATE workflows SET status=?, completed_at=? WHERE id=?",
			StatusRejected, nowStr, workflowID)
		if err != nil {
			return nil, err
		}
	} else {
		var nextID, nextLevel, escalationDays int
		err = tx.QueryRow(`SELECT id, approval_level, escalation_days FROM workflow_steps
			WHERE workflow_id=? AND status=? ORDER BY approval_level ASC LIMIT 1`,
			workflowID, StepWaiting).Scan(&nextID, &nextLevel, &escalationDays)
		switch {
		case err == sql.ErrNoRows:
			// Last step approved: instance terminal, document released to approved.
			_, err = tx.Exec("UPDATE workflows SET status=?, completed_at=? WHERE id=?",
				StatusApproved, nowStr, workflowID)
			if err != nil {
				return nil, err
			}
			if e.OnDocumentApproved != nil {
				if err := e.OnDocumentApproved(tx, documentID, actorID, nowStr); err != nil {
					return nil, err
				}
			}
		case err != nil:
			return nil, err
		default:
			due := e.Now().AddDate(0, 0, escalationDays).Format(timeFormat)
			_, err = tx.Exec("UPDATE workflow_steps SET status=?, due_date=? WHERE id=?",
				StepPending, due, nextID)
			if err != nil {
				return nil, err
			}
			_, err = tx.Exec("UPDATE workflows SET current_level=? WHERE id=?", nextLevel, workflowID)
			if err != nil {
				return nil, err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return e.step(workflowID, level)
}

// Delegate reassigns the responsible party for a non-terminal step without
// changing its status, and appends a history entry recording the handoff.
func (e *Engine) Delegate(workflowID string, level int, delegateTo, delegatedBy, reason string) (*Step, error) {
	nowStr := e.Now().Format(timeFormat)

	tx, err := e.DB.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var stepStatus string
	err = tx.QueryRow("SELECT status FROM workflow_steps WHERE workflow_id=? AND approval_level=?",
		workflowID, level).Scan(&stepStatus)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: no step at level %d", ErrNotFound, level)
	}
	if err != nil {
		return nil, err
	}
	if stepStatus != StepWaiting && stepStatus != StepPending {
		return nil, fmt.Errorf("%w: cannot delegate a %s step", ErrInvalidTransition, stepStatus)
	}

	_, err = tx.Exec(`UPDATE workflow_steps SET delegated_to=?, delegated_by=?, delegated_at=?, delegation_reason=?
		WHERE workflow_id=? AND approval_level=?`,
		delegateTo, delegatedBy, nowStr, reason, workflowID, level)
	if err != nil {
		return nil, err
	}

	comments := "Delegated to " + delegateTo
	if reason != "" {
		comments += ": " + reason
	}
	_, err = tx.Exec(`INSERT INTO workflow_history (workflow_id, approval_level, from_state, to_state, actor, comments, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		workflowID, level, stepStatus, stepStatus, delegatedBy, comments, nowStr)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return e.step(workflowID, level)
}

// Get loads an instance and its steps ordered by approval level.
func (e *Engine) Get(workflowID string) (*Instance, []Step, error) {
	var inst Instance
	var completedAt sql.NullString
	err := e.DB.QueryRow(`SELECT id, document_id, document_type, document_version, status, current_level, initiated_by, created_at, completed_at
		FROM workflows WHERE id = ?`, workflowID).
		Scan(&inst.ID, &inst.DocumentID, &inst.DocumentType, &inst.DocumentVersion,
			&inst.Status, &inst.CurrentLevel, &inst.InitiatedBy, &inst.CreatedAt, &completedAt)
	if err == sql.ErrNoRows {
		return nil, nil, fmt.Errorf("%w: %s", ErrNotFound, workflowID)
	}
	if err != nil {
		return nil, nil, err
	}
	if completedAt.Valid {
		inst.CompletedAt = &completedAt.String
	}

	rows, err := e.DB.Query(`SELECT id, workflow_id, approval_level, position_title, COALESCE(assigned_to,''),
		COALESCE(delegated_to,''), COALESCE(delegated_by,''), delegated_at, COALESCE(delegation_reason,''),
		status, due_date, COALESCE(decided_by,''), decided_at, COALESCE(comments,'')
		FROM workflow_steps WHERE workflow_id = ? ORDER BY approval_level ASC`, workflowID)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var steps []Step
	for rows.Next() {
		var s Step
		var delegatedAt, dueDate, decidedAt sql.NullString
		if err := rows.Scan(&s.ID, &s.WorkflowID, &s.ApprovalLevel, &s.PositionTitle, &s.AssignedTo,
			&s.DelegatedTo, &s.DelegatedBy, &delegatedAt, &s.DelegationReason,
			&s.Status, &dueDate, &s.DecidedBy, &decidedAt, &s.Comments); err != nil {
			return nil, nil, err
		}
		if delegatedAt.Valid {
			s.DelegatedAt = &delegatedAt.String
		}
		if dueDate.Valid {
			s.DueDate = &dueDate.String
		}
		if decidedAt.Valid {
			s.DecidedAt = &decidedAt.String
		}
		steps = append(steps, s)
	}
	return &inst, steps, rows.Err()
}

// ActiveForDocument returns the in-progress workflow for a document, or
// ErrNotFound when none exists.
func (e *Engine) ActiveForDocument(documentID string) (*Instance, []Step, error) {
	var id string
	err := e.DB.QueryRow("SELECT id FROM workflows WHERE document_id=? AND status=? ORDER BY created_at DESC LIMIT 1",
		documentID, StatusInProgress).Scan(&id)
	if err == sql.ErrNoRows {
		return nil, nil, fmt.Errorf("%w: no active workflow for %s", ErrNotFound, documentID)
	}
	if err != nil {
		return nil, nil, err
	}
	return e.Get(id)
}

// History returns the append-only transition trail, oldest first.
func (e *Engine) History(workflowID string) ([]HistoryEntry, error) {
	rows, err := e.DB.Query(`SELECT id, workflow_id, approval_level, from_state, to_state, actor, COALESCE(comments,''), created_at
		FROM workflow_history WHERE workflow_id = ? ORDER BY created_at ASC, id ASC`, workflowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []HistoryEntry
	for rows.Next() {
		var h HistoryEntry
		if err := rows.Scan(&h.ID, &h.WorkflowID, &h.ApprovalLevel, &h.FromState, &h.ToState, &h.Actor, &h.Comments, &h.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, h)
	}
	if entries == nil {
		entries = []HistoryEntry{}
	}
	return entries, rows.Err()
}

func (e *Engine) step(workflowID string, level int) (*Step, error) {
	var s Step
	var delegatedAt, dueDate, decidedAt sql.NullString
	err := e.DB.QueryRow(`SELECT id, workflow_id, approval_level, position_title, COALESCE(assigned_to,''),
		COALESCE(delegated_to,''), COALESCE(delegated_by,''), delegated_at, COALESCE(delegation_reason,''),
		status, due_date, COALESCE(decided_by,''), decided_at, COALESCE(comments,'')
		FROM workflow_steps WHERE workflow_id=? AND approval_level=?`, workflowID, level).
		Scan(&s.ID, &s.WorkflowID, &s.ApprovalLevel, &s.PositionTitle, &s.AssignedTo,
			&s.DelegatedTo, &s.DelegatedBy, &delegatedAt, &s.DelegationReason,
			&s.Status, &dueDate, &s.DecidedBy, &decidedAt, &s.Comments)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: no step at level %d", ErrNotFound, level)
	}
	if err != nil {
		return nil, err
	}
	if delegatedAt.Valid {
		s.DelegatedAt = &delegatedAt.String
	}
	if dueDate.Valid {
		s.DueDate = &dueDate.String
	}
	if decidedAt.Valid {
		s.DecidedAt = &decidedAt.String
	}
	return &s, nil
}
