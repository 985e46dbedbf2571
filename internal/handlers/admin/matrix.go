package admin

import (
	"net/http"
	"time"

	"eqms/internal/audit"
	"eqms/internal/response"
	"eqms/internal/validation"
	"eqms/internal/workflow"
)

// ListMatrix handles GET /api/v1/approval-matrix. Rules grouped by
// document type, ordered by level.
func (h *Handler) ListMatrix(w http.ResponseWriter, r *http.Request) {
	rows, err := h.DB.Query(`SELECT id, document_type, approval_level, position_title, escalation_days, created_at
		FROM approval_matrix ORDER BY document_type ASC, approval_level ASC`)
	if err != nil {
		response.Err(w, err.Error(), 500)
		return
	}
	defer rows.Close()

	var rules []workflow.MatrixRule
	for rows.Next() {
		var m workflow.MatrixRule
		rows.Scan(&m.ID, &m.DocumentType, &m.ApprovalLevel, &m.PositionTitle, &m.EscalationDays, &m.CreatedAt)
		rules = append(rules, m)
	}
	if rules == nil {
		rules = []workflow.MatrixRule{}
	}
	response.JSON(w, rules)
}

// SetMatrix handles PUT /api/v1/approval-matrix/:docType. Replaces the
// whole rule set for one document type after validating the level
// invariants. Types with an in-flight workflow are locked.
func (h *Handler) SetMatrix(w http.ResponseWriter, r *http.Request, docType string) {
	ve := &validation.ValidationErrors{}
	validation.ValidateEnum(ve, "document_type", docType, validation.ValidDocumentTypes)
	if ve.HasErrors() {
		response.Err(w, ve.Error(), 400)
		return
	}

	var body struct {
		Rules []workflow.MatrixRule `json:"rules"`
	}
	if err := response.DecodeBody(r, &body); err != nil {
		response.Err(w, "invalid body", 400)
		return
	}
	if err := workflow.ValidateMatrix(body.Rules); err != nil {
		response.Err(w, err.Error(), 400)
		return
	}

	if workflow.MatrixRuleInUse(h.DB, docType) {
		response.Err(w, "matrix for "+docType+" is referenced by an active workflow", 409)
		return
	}

	now := time.Now().Format("2006-01-02 15:04:05")
	tx, err := h.DB.Begin()
	if err != nil {
		response.Err(w, err.Error(), 500)
		return
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM approval_matrix WHERE document_type=?", docType); err != nil {
		response.Err(w, err.Error(), 500)
		return
	}
	for _, rule := range body.Rules {
		_, err := tx.Exec(`INSERT INTO approval_matrix (document_type, approval_level, position_title, escalation_days, created_at)
			VALUES (?,?,?,?,?)`, docType, rule.ApprovalLevel, rule.PositionTitle, rule.EscalationDays, now)
		if err != nil {
			response.Err(w, err.Error(), 500)
			return
		}
	}
	if err := tx.Commit(); err != nil {
		response.Err(w, err.Error(), 500)
		return
	}

	actor := audit.GetUsername(h.DB, r)
	audit.LogAudit(h.DB, h.Hub, actor, "updated", "approval_matrix", docType,
		"Replaced approval matrix for "+docType)
	h.Hub.BroadcastChange("approval_matrix", "updated", docType)

	rules, _ := workflow.ResolveMatrix(h.DB, docType)
	response.JSON(w, rules)
}

// DeleteMatrix handles DELETE /api/v1/approval-matrix/:docType.
func (h *Handler) DeleteMatrix(w http.ResponseWriter, r *http.Request, docType string) {
	if workflow.MatrixRuleInUse(h.DB, docType) {
		response.Err(w, "matrix for "+docType+" is referenced by an active workflow", 409)
		return
	}

	res, err := h.DB.Exec("DELETE FROM approval_matrix WHERE document_type=?", docType)
	if err != nil {
		response.Err(w, err.Error(), 500)
		return
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		response.Err(w, "not found", 404)
		return
	}

	actor := audit.GetUsername(h.DB, r)
	audit.LogAudit(h.DB, h.Hub, actor, "deleted", "approval_matrix", docType,
		"Deleted approval matrix for "+docType)
	h.Hub.BroadcastChange("approval_matrix", "deleted", docType)
	response.JSON(w, map[string]string{"status": "deleted"})
}
