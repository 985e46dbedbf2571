package documents

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"eqms/internal/audit"
	"eqms/internal/response"
	"eqms/internal/validation"
	"eqms/internal/workflow"
)

// SubmitForApproval handles POST /api/v1/documents/:id/submit. The
// document moves to review and an approval workflow is initiated from the
// matrix configured for its type.
func (h *Handler) SubmitForApproval(w http.ResponseWriter, r *http.Request, id string) {
	var docType, revision, status string
	err := h.DB.QueryRow("SELECT doc_type, revision, status FROM documents WHERE id=?", id).
		Scan(&docType, &revision, &status)
	if err != nil {
		response.Err(w, "not found", 404)
		return
	}
	if status != "draft" {
		response.Err(w, "only draft documents can be submitted for approval", 409)
		return
	}
	if _, _, err := h.Engine.ActiveForDocument(id); err == nil {
		response.Err(w, "document already has an active approval workflow", 409)
		return
	}

	username := audit.GetUsername(h.DB, r)
	inst, steps, err := h.Engine.Initiate(id, docType, revision, username)
	if err != nil {
		if errors.Is(err, workflow.ErrNoMatrix) {
			response.Err(w, "no approval matrix configured for document type "+docType, 409)
			return
		}
		response.Err(w, err.Error(), 500)
		return
	}

	now := time.Now().Format("2006-01-02 15:04:05")
	h.DB.Exec("UPDATE documents SET status='review', updated_at=? WHERE id=?", now, id)

	audit.LogAudit(h.DB, h.Hub, username, "transition", "document", id,
		"Submitted "+id+" rev "+revision+" for approval ("+inst.ID+")")
	h.Hub.BroadcastChange("workflows", "created", inst.ID)
	response.JSON(w, map[string]interface{}{"workflow": inst, "steps": steps})
}

// GetWorkflow handles GET /api/v1/workflows/:id.
func (h *Handler) GetWorkflow(w http.ResponseWriter, r *http.Request, id string) {
	inst, steps, err := h.Engine.Get(id)
	if err != nil {
		response.Err(w, "not found", 404)
		return
	}
	response.JSON(w, map[string]interface{}{"workflow": inst, "steps": steps})
}

// GetDocumentWorkflow handles GET /api/v1/documents/:id/workflow. Returns
// the active workflow for a document, if any.
func (h *Handler) GetDocumentWorkflow(w http.ResponseWriter, r *http.Request, id string) {
	inst, steps, err := h.Engine.ActiveForDocument(id)
	if err != nil {
		response.Err(w, "no active workflow", 404)
		return
	}
	response.JSON(w, map[string]interface{}{"workflow": inst, "steps": steps})
}

// Decide handles POST /api/v1/workflows/:id/decide.
func (h *Handler) Decide(w http.ResponseWriter, r *http.Request, id string) {
	var body struct {
		Level    int    `json:"level"`
		Decision string `json:"decision"`
		Comments string `json:"comments"`
	}
	if err := response.DecodeBody(r, &body); err != nil {
		response.Err(w, "invalid body", 400)
		return
	}

	ve := &validation.ValidationErrors{}
	validation.ValidatePositiveInt(ve, "level", body.Level)
	validation.ValidateEnum(ve, "decision", body.Decision, []string{workflow.StepApproved, workflow.StepRejected})
	if body.Decision == workflow.StepRejected {
		validation.RequireField(ve, "comments", body.Comments)
	}
	if ve.HasErrors() {
		response.Err(w, ve.Error(), 400)
		return
	}

	username := audit.GetUsername(h.DB, r)
	if !validation.UsernameExists(h.DB, username) {
		response.Err(w, "authentication required", 401)
		return
	}

	step, err := h.Engine.Decide(id, body.Level, body.Decision, username, body.Comments)
	if err != nil {
		switch {
		case errors.Is(err, workflow.ErrNotFound):
			response.Err(w, err.Error(), 404)
		case errors.Is(err, workflow.ErrInvalidTransition):
			response.Err(w, err.Error(), 409)
		default:
			response.Err(w, err.Error(), 500)
		}
		return
	}

	action := "approved"
	if body.Decision == workflow.StepRejected {
		action = "rejected"
	}
	audit.LogAudit(h.DB, h.Hub, username, action, "workflow", id,
		"Level "+strconv.Itoa(body.Level)+" "+body.Decision)
	h.Hub.BroadcastChange("workflows", action, id)
	response.JSON(w, step)
}

// Delegate handles POST /api/v1/workflows/:id/delegate.
func (h *Handler) Delegate(w http.ResponseWriter, r *http.Request, id string) {
	var body struct {
		Level      int    `json:"level"`
		DelegateTo string `json:"delegate_to"`
		Reason     string `json:"reason"`
	}
	if err := response.DecodeBody(r, &body); err != nil {
		response.Err(w, "invalid body", 400)
		return
	}

	ve := &validation.ValidationErrors{}
	validation.ValidatePositiveInt(ve, "level", body.Level)
	validation.RequireField(ve, "delegate_to", body.DelegateTo)
	if ve.HasErrors() {
		response.Err(w, ve.Error(), 400)
		return
	}
	if !validation.UsernameExists(h.DB, body.DelegateTo) {
		response.Err(w, "delegate_to: user does not exist", 400)
		return
	}

	username := audit.GetUsername(h.DB, r)
	step, err := h.Engine.Delegate(id, body.Level, body.DelegateTo, username, body.Reason)
	if err != nil {
		switch {
		case errors.Is(err, workflow.ErrNotFound):
			response.Err(w, err.Error(), 404)
		case errors.Is(err, workflow.ErrInvalidTransition):
			response.Err(w, err.Error(), 409)
		default:
			response.Err(w, err.Error(), 500)
		}
		return
	}

	audit.LogAudit(h.DB, h.Hub, username, "delegate", "workflow", id,
		"Level "+strconv.Itoa(body.Level)+" delegated to "+body.DelegateTo)
	h.Hub.BroadcastChange("workflows", "delegated", id)
	response.JSON(w, step)
}

// WorkflowHistory handles GET /api/v1/workflows/:id/history.
func (h *Handler) WorkflowHistory(w http.ResponseWriter, r *http.Request, id string) {
	entries, err := h.Engine.History(id)
	if err != nil {
		response.Err(w, err.Error(), 500)
		return
	}
	response.JSON(w, entries)
}

// PendingApprovals handles GET /api/v1/workflows/pending. Lists every
// pending step across in-progress workflows, for the approval inbox.
func (h *Handler) PendingApprovals(w http.ResponseWriter, r *http.Request) {
	rows, err := h.DB.Query(`SELECT w.id, w.document_id, w.document_type, s.approval_level, s.position_title,
		COALESCE(s.assigned_to,''), COALESCE(s.delegated_to,''), COALESCE(s.due_date,'')
		FROM workflows w JOIN workflow_steps s ON s.workflow_id = w.id
		WHERE w.status=? AND s.status=? ORDER BY s.due_date ASC`,
		workflow.StatusInProgress, workflow.StepPending)
	if err != nil {
		response.Err(w, err.Error(), 500)
		return
	}
	defer rows.Close()

	type pendingStep struct {
		WorkflowID    string `json:"workflow_id"`
		DocumentID    string `json:"document_id"`
		DocumentType  string `json:"document_type"`
		ApprovalLevel int    `json:"approval_level"`
		PositionTitle string `json:"position_title"`
		AssignedTo    string `json:"assigned_to"`
		DelegatedTo   string `json:"delegated_to"`
		DueDate       string `json:"due_date"`
	}
	var items []pendingStep
	for rows.Next() {
		var p pendingStep
		rows.Scan(&p.WorkflowID, &p.DocumentID, &p.DocumentType, &p.ApprovalLevel,
			&p.PositionTitle, &p.AssignedTo, &p.DelegatedTo, &p.DueDate)
		items = append(items, p)
	}
	if items == nil {
		items = []pendingStep{}
	}
	response.JSON(w, items)
}

