package capa

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const timeFormat = "2006-01-02 15:04:05"

// HighRiskDueDays is the forced due-date horizon for risk-prioritized CAPAs.
const HighRiskDueDays = 180

var (
	ErrNotFound          = errors.New("capa not found")
	ErrInvalidPhase      = errors.New("invalid capa phase")
	ErrInvalidTransition = errors.New("invalid capa phase transition")
	ErrWorkflowExists    = errors.New("capa workflow already exists")
)

// highRiskPriorities trigger the automatic 180-day due date, overriding any
// caller-supplied value.
var highRiskPriorities = map[string]bool{
	"high":          true,
	"critical":      true,
	"risk_priority": true,
}

// Workflow is the phase state of one CAPA.
type Workflow struct {
	CAPAID       string `json:"capa_id"`
	CurrentState Phase  `json:"current_state"`
	AssignedTo   string `json:"assigned_to"`
	DueDate      string `json:"due_date"`
	CreatedAt    string `json:"created_at"`
	UpdatedAt    string `json:"updated_at"`
}

// HistoryEntry is an append-only record of one phase transition.
type HistoryEntry struct {
	ID        int    `json:"id"`
	CAPAID    string `json:"capa_id"`
	FromState string `json:"from_state"`
	ToState   string `json:"to_state"`
	Actor     string `json:"actor"`
	Comments  string `json:"comments"`
	CreatedAt string `json:"created_at"`
}

// PhaseData is the free-form data blob for one phase of a CAPA.
type PhaseData struct {
	CAPAID    string `json:"capa_id"`
	Phase     Phase  `json:"phase"`
	Data      string `json:"data"`
	UpdatedBy string `json:"updated_by"`
	UpdatedAt string `json:"updated_at"`
}

// Engine drives CAPA phase transitions against the configured policy.
type Engine struct {
	DB     *sql.DB
	Policy TransitionPolicy
	Now    func() time.Time
}

// NewEngine creates an Engine with the given transition policy.
func NewEngine(db *sql.DB, policy TransitionPolicy) *Engine {
	return &Engine{DB: db, Policy: policy, Now: time.Now}
}

// CreateWorkflow initializes the phase workflow for a CAPA at the
// correction phase. High, critical and risk_priority CAPAs get a due date
// of now + 180 days regardless of the caller-supplied value; the override
// is mirrored onto the CAPA row so both records agree.
func (e *Engine) CreateWorkflow(capaID, assignedTo, actor, dueDate string) (*Workflow, error) {
	var riskPriority string
	err := e.DB.QueryRow("SELECT COALESCE(risk_priority,'') FROM capas WHERE id = ?", capaID).Scan(&riskPriority)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, capaID)
	}
	if err != nil {
		return nil, err
	}

	now := e.Now()
	nowStr := now.Format(timeFormat)
	if highRiskPriorities[riskPriority] {
		dueDate = now.AddDate(0, 0, HighRiskDueDays).Format("2006-01-02")
	}

	tx, err := e.DB.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var exists int
	tx.QueryRow("SELECT COUNT(*) FROM capa_workflows WHERE capa_id = ?", capaID).Scan(&exists)
	if exists > 0 {
		return nil, fmt.Errorf("%w: %s", ErrWorkflowExists, capaID)
	}

	_, err = tx.Exec(`INSERT INTO capa_workflows (capa_id, current_state, assigned_to, due_date, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		capaID, string(PhaseCorrection), assignedTo, dueDate, nowStr, nowStr)
	if err != nil {
		return nil, err
	}

	if dueDate != "" {
		_, err = tx.Exec("UPDATE capas SET due_date=?, updated_at=? WHERE id=?", dueDate, nowStr, capaID)
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return e.Get(capaID)
}

// Transition moves a CAPA workflow to the target phase. The allowed move
// set comes from the configured policy. The history append and the state
// update commit together. Reassignment and due-date changes may ride along.
func (e *Engine) Transition(capaID string, target Phase, actor, comments, assignedTo, dueDate string) (*Workflow, error) {
	if !target.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidPhase, target)
	}

	nowStr := e.Now().Format(timeFormat)

	tx, err := e.DB.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var currentStr string
	err = tx.QueryRow("SELECT current_state FROM capa_workflows WHERE capa_id = ?", capaID).Scan(&currentStr)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: no workflow for %s", ErrNotFound, capaID)
	}
	if err != nil {
		return nil, err
	}
	current := Phase(currentStr)

	if !e.Policy.CanTransition(current, target) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, target)
	}

	if comments == "" {
		comments = fmt.Sprintf("Transitioned from %s to %s", current, target)
	}

	_, err = tx.Exec(`INSERT INTO capa_workflow_history (capa_id, from_state, to_state, actor, comments, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		capaID, string(current), string(target), actor, comments, nowStr)
	if err != nil {
		return nil, err
	}

	query := "UPDATE capa_workflows SET current_state=?, updated_at=?"
	args := []interface{}{string(target), nowStr}
	if assignedTo != "" {
		query += ", assigned_to=?"
		args = append(args, assignedTo)
	}
	if dueDate != "" {
		query += ", due_date=?"
		args = append(args, dueDate)
	}
	query += " WHERE capa_id=?"
	args = append(args, capaID)
	if _, err := tx.Exec(query, args...); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return e.Get(capaID)
}

// Get loads the phase workflow for a CAPA.
func (e *Engine) Get(capaID string) (*Workflow, error) {
	var wf Workflow
	var state string
	err := e.DB.QueryRow(`SELECT capa_id, current_state, COALESCE(assigned_to,''), COALESCE(due_date,''), created_at, updated_at
		FROM capa_workflows WHERE capa_id = ?`, capaID).
		Scan(&wf.CAPAID, &state, &wf.AssignedTo, &wf.DueDate, &wf.CreatedAt, &wf.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: no workflow for %s", ErrNotFound, capaID)
	}
	if err != nil {
		return nil, err
	}
	wf.CurrentState = Phase(state)
	return &wf, nil
}

// History returns the append-only phase transition trail, oldest first.
func (e *Engine) History(capaID string) ([]HistoryEntry, error) {
	rows, err := e.DB.Query(`SELECT id, capa_id, from_state, to_state, actor, COALESCE(comments,''), created_at
		FROM capa_workflow_history WHERE capa_id = ? ORDER BY created_at ASC, id ASC`, capaID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []HistoryEntry
	for rows.Next() {
		var h HistoryEntry
		if err := rows.Scan(&h.ID, &h.CAPAID, &h.FromState, &h.ToState, &h.Actor, &h.Comments, &h.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, h)
	}
	if entries == nil {
		entries = []HistoryEntry{}
	}
	return entries, rows.Err()
}

// SavePhaseData upserts the free-form data blob for one phase, keyed on
// (capa_id, phase) and attributed to the saving user.
func (e *Engine) SavePhaseData(capaID string, phase Phase, data, userID string) error {
	if !phase.Valid() {
		return fmt.Errorf("%w: %s", ErrInvalidPhase, phase)
	}
	var exists int
	e.DB.QueryRow("SELECT COUNT(*) FROM capas WHERE id = ?", capaID).Scan(&exists)
	if exists == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, capaID)
	}
	nowStr := e.Now().Format(timeFormat)
	_, err := e.DB.Exec(`INSERT INTO capa_phase_data (capa_id, phase, data, updated_by, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(capa_id, phase) DO UPDATE SET data=excluded.data, updated_by=excluded.updated_by, updated_at=excluded.updated_at`,
		capaID, string(phase), data, userID, nowStr)
	return err
}

// GetPhaseData reads the data blob for one phase of a CAPA. Returns an
// empty blob (not an error) when nothing has been saved yet.
func (e *Engine) GetPhaseData(capaID string, phase Phase) (*PhaseData, error) {
	if !phase.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidPhase, phase)
	}
	pd := &PhaseData{CAPAID: capaID, Phase: phase}
	err := e.DB.QueryRow(`SELECT data, updated_by, updated_at FROM capa_phase_data WHERE capa_id=? AND phase=?`,
		capaID, string(phase)).Scan(&pd.Data, &pd.UpdatedBy, &pd.UpdatedAt)
	if err == sql.ErrNoRows {
		return pd, nil
	}
	if err != nil {
		return nil, err
	}
	return pd, nil
}
