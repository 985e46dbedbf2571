package audits

import (
	"net/http"
	"time"

	"eqms/internal/audit"
	"eqms/internal/models"
	"eqms/internal/response"
	"eqms/internal/validation"
)

const findingSelect = `SELECT id,audit_id,description,severity,status,COALESCE(capa_id,''),created_at,updated_at
	FROM audit_findings`

// ListFindings handles GET /api/v1/audits/:id/findings.
func (h *Handler) ListFindings(w http.ResponseWriter, r *http.Request, auditID string) {
	rows, err := h.DB.Query(findingSelect+" WHERE audit_id=? ORDER BY created_at ASC", auditID)
	if err != nil {
		response.Err(w, err.Error(), 500)
		return
	}
	defer rows.Close()
	var items []models.AuditFinding
	for rows.Next() {
		var f models.AuditFinding
		rows.Scan(&f.ID, &f.AuditID, &f.Description, &f.Severity, &f.Status, &f.CAPAID, &f.CreatedAt, &f.UpdatedAt)
		items = append(items, f)
	}
	if items == nil {
		items = []models.AuditFinding{}
	}
	response.JSON(w, items)
}

// CreateFinding handles POST /api/v1/audits/:id/findings. Findings can
// only be raised against audits that are in progress.
func (h *Handler) CreateFinding(w http.ResponseWriter, r *http.Request, auditID string) {
	var status string
	err := h.DB.QueryRow("SELECT status FROM qms_audits WHERE id=?", auditID).Scan(&status)
	if err != nil {
		response.Err(w, "audit not found", 404)
		return
	}
	if status == "closed" {
		response.Err(w, "cannot add findings to a closed audit", 409)
		return
	}

	var f models.AuditFinding
	if err := response.DecodeBody(r, &f); err != nil {
		response.Err(w, "invalid body", 400)
		return
	}

	ve := &validation.ValidationErrors{}
	validation.RequireField(ve, "description", f.Description)
	validation.ValidateMaxLength(ve, "description", f.Description, 2000)
	validation.RequireField(ve, "severity", f.Severity)
	validation.ValidateEnum(ve, "severity", f.Severity, validation.ValidFindingSevs)
	if ve.HasErrors() {
		response.Err(w, ve.Error(), 400)
		return
	}

	f.ID = h.NextIDFunc("FND", "audit_findings", 3)
	f.AuditID = auditID
	f.Status = "open"
	now := time.Now().Format("2006-01-02 15:04:05")
	_, err = h.DB.Exec(`INSERT INTO audit_findings (id,audit_id,description,severity,status,created_at,updated_at)
		VALUES (?,?,?,?,?,?,?)`,
		f.ID, f.AuditID, f.Description, f.Severity, f.Status, now, now)
	if err != nil {
		response.Err(w, err.Error(), 500)
		return
	}
	f.CreatedAt = now
	f.UpdatedAt = now
	username := audit.GetUsername(h.DB, r)
	audit.LogAudit(h.DB, h.Hub, username, "created", "finding", f.ID, "Raised "+f.ID+" on "+auditID)
	h.Hub.BroadcastChange("findings", "created", f.ID)
	response.JSON(w, f)
}

// UpdateFinding handles PUT /api/v1/findings/:id.
func (h *Handler) UpdateFinding(w http.ResponseWriter, r *http.Request, id string) {
	var current models.AuditFinding
	err := h.DB.QueryRow(findingSelect+" WHERE id=?", id).
		Scan(&current.ID, &current.AuditID, &current.Description, &current.Severity,
			&current.Status, &current.CAPAID, &current.CreatedAt, &current.UpdatedAt)
	if err != nil {
		response.Err(w, "not found", 404)
		return
	}

	var body models.AuditFinding
	if err := response.DecodeBody(r, &body); err != nil {
		response.Err(w, "invalid body", 400)
		return
	}

	ve := &validation.ValidationErrors{}
	validation.ValidateMaxLength(ve, "description", body.Description, 2000)
	if body.Severity != "" {
		validation.ValidateEnum(ve, "severity", body.Severity, validation.ValidFindingSevs)
	}
	if body.Status != "" {
		validation.ValidateEnum(ve, "status", body.Status, validation.ValidFindingStates)
	}
	if ve.HasErrors() {
		response.Err(w, ve.Error(), 400)
		return
	}

	description := body.Description
	if description == "" {
		description = current.Description
	}
	severity := body.Severity
	if severity == "" {
		severity = current.Severity
	}
	status := body.Status
	if status == "" {
		status = current.Status
	}

	// Major and critical findings need a linked CAPA before closure.
	if status == "closed" && (severity == "major" || severity == "critical") && current.CAPAID == "" {
		response.Err(w, "major and critical findings require a linked CAPA before closure", 409)
		return
	}

	now := time.Now().Format("2006-01-02 15:04:05")
	_, err = h.DB.Exec("UPDATE audit_findings SET description=?,severity=?,status=?,updated_at=? WHERE id=?",
		description, severity, status, now, id)
	if err != nil {
		response.Err(w, err.Error(), 500)
		return
	}

	username := audit.GetUsername(h.DB, r)
	audit.LogAudit(h.DB, h.Hub, username, "updated", "finding", id, "Updated "+id+": status="+status)
	h.Hub.BroadcastChange("findings", "updated", id)

	current.Description = description
	current.Severity = severity
	current.Status = status
	current.UpdatedAt = now
	response.JSON(w, current)
}

// CreateCAPAFromFinding handles POST /api/v1/findings/:id/capa. Raises a
// CAPA pre-populated from the finding and links the two records.
func (h *Handler) CreateCAPAFromFinding(w http.ResponseWriter, r *http.Request, id string) {
	var f models.AuditFinding
	err := h.DB.QueryRow(findingSelect+" WHERE id=?", id).
		Scan(&f.ID, &f.AuditID, &f.Description, &f.Severity, &f.Status, &f.CAPAID, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		response.Err(w, "not found", 404)
		return
	}
	if f.CAPAID != "" {
		response.Err(w, "finding already has a linked CAPA: "+f.CAPAID, 409)
		return
	}

	var body struct {
		Title   string `json:"title"`
		Owner   string `json:"owner"`
		DueDate string `json:"due_date"`
	}
	response.DecodeBody(r, &body)

	title := body.Title
	if title == "" {
		title = "CAPA for finding " + f.ID
	}

	riskPriority := "medium"
	if f.Severity == "major" {
		riskPriority = "high"
	} else if f.Severity == "critical" {
		riskPriority = "critical"
	}

	capaID := h.NextIDFunc("CAPA", "capas", 3)
	now := time.Now().Format("2006-01-02 15:04:05")
	username := audit.GetUsername(h.DB, r)

	tx, err := h.DB.Begin()
	if err != nil {
		response.Err(w, err.Error(), 500)
		return
	}
	defer tx.Rollback()

	_, err = tx.Exec(`INSERT INTO capas (id,title,description,type,risk_priority,source,linked_finding_id,owner,status,due_date,created_by,created_at,updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		capaID, title, f.Description, "corrective", riskPriority, "audit_finding", f.ID,
		body.Owner, "open", body.DueDate, username, now, now)
	if err != nil {
		response.Err(w, err.Error(), 500)
		return
	}
	_, err = tx.Exec("UPDATE audit_findings SET capa_id=?, status='capa_raised', updated_at=? WHERE id=?", capaID, now, id)
	if err != nil {
		response.Err(w, err.Error(), 500)
		return
	}
	if err := tx.Commit(); err != nil {
		response.Err(w, err.Error(), 500)
		return
	}

	audit.LogAudit(h.DB, h.Hub, username, "created", "capa", capaID, "Created "+capaID+" from finding "+f.ID)
	h.Hub.BroadcastChange("capas", "created", capaID)
	response.JSON(w, map[string]string{"capa_id": capaID, "finding_id": f.ID})
}
