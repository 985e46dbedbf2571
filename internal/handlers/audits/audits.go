package audits

import (
	"database/sql"
	"net/http"
	"time"

	"eqms/internal/audit"
	"eqms/internal/database"
	"eqms/internal/models"
	"eqms/internal/response"
	"eqms/internal/validation"
)

const auditSelect = `SELECT id,title,audit_type,status,COALESCE(scope,''),COALESCE(lead_auditor,''),
	COALESCE(scheduled_date,''),completed_date,created_at,updated_at FROM qms_audits`

func scanAudit(scan func(dest ...interface{}) error) (models.QMSAudit, error) {
	var a models.QMSAudit
	var completedDate sql.NullString
	err := scan(&a.ID, &a.Title, &a.AuditType, &a.Status, &a.Scope, &a.LeadAuditor,
		&a.ScheduledDate, &completedDate, &a.CreatedAt, &a.UpdatedAt)
	a.CompletedDate = database.SP(completedDate)
	return a, err
}

// ListAudits handles GET /api/v1/audits.
func (h *Handler) ListAudits(w http.ResponseWriter, r *http.Request) {
	query := auditSelect
	var args []interface{}
	if s := r.URL.Query().Get("status"); s != "" {
		query += " WHERE status=?"
		args = append(args, s)
	}
	query += " ORDER BY scheduled_date DESC, created_at DESC"

	rows, err := h.DB.Query(query, args...)
	if err != nil {
		response.Err(w, err.Error(), 500)
		return
	}
	defer rows.Close()
	var items []models.QMSAudit
	for rows.Next() {
		a, err := scanAudit(rows.Scan)
		if err != nil {
			continue
		}
		items = append(items, a)
	}
	if items == nil {
		items = []models.QMSAudit{}
	}
	response.JSON(w, items)
}

// GetAudit handles GET /api/v1/audits/:id.
func (h *Handler) GetAudit(w http.ResponseWriter, r *http.Request, id string) {
	a, err := scanAudit(h.DB.QueryRow(auditSelect+" WHERE id=?", id).Scan)
	if err != nil {
		response.Err(w, "not found", 404)
		return
	}
	response.JSON(w, a)
}

// CreateAudit handles POST /api/v1/audits.
func (h *Handler) CreateAudit(w http.ResponseWriter, r *http.Request) {
	var a models.QMSAudit
	if err := response.DecodeBody(r, &a); err != nil {
		response.Err(w, "invalid body", 400)
		return
	}

	ve := &validation.ValidationErrors{}
	validation.RequireField(ve, "title", a.Title)
	validation.ValidateMaxLength(ve, "title", a.Title, 255)
	validation.RequireField(ve, "audit_type", a.AuditType)
	validation.ValidateEnum(ve, "audit_type", a.AuditType, validation.ValidAuditTypes)
	validation.ValidateMaxLength(ve, "scope", a.Scope, 2000)
	validation.ValidateDate(ve, "scheduled_date", a.ScheduledDate)
	if ve.HasErrors() {
		response.Err(w, ve.Error(), 400)
		return
	}

	a.ID = h.NextIDFunc("AUD", "qms_audits", 3)
	a.Status = "planned"
	now := time.Now().Format("2006-01-02 15:04:05")
	_, err := h.DB.Exec(`INSERT INTO qms_audits (id,title,audit_type,status,scope,lead_auditor,scheduled_date,created_at,updated_at)
		VALUES (?,?,?,?,?,?,?,?,?)`,
		a.ID, a.Title, a.AuditType, a.Status, a.Scope, a.LeadAuditor, a.ScheduledDate, now, now)
	if err != nil {
		response.Err(w, err.Error(), 500)
		return
	}
	a.CreatedAt = now
	a.UpdatedAt = now
	username := audit.GetUsername(h.DB, r)
	audit.LogAudit(h.DB, h.Hub, username, "created", "qms_audit", a.ID, "Created "+a.ID+": "+a.Title)
	h.Hub.BroadcastChange("audits", "created", a.ID)
	response.JSON(w, a)
}

// UpdateAudit handles PUT /api/v1/audits/:id. Closing an audit requires
// every finding to be resolved.
func (h *Handler) UpdateAudit(w http.ResponseWriter, r *http.Request, id string) {
	current, err := scanAudit(h.DB.QueryRow(auditSelect+" WHERE id=?", id).Scan)
	if err != nil {
		response.Err(w, "not found", 404)
		return
	}

	var body models.QMSAudit
	if err := response.DecodeBody(r, &body); err != nil {
		response.Err(w, "invalid body", 400)
		return
	}

	ve := &validation.ValidationErrors{}
	validation.ValidateMaxLength(ve, "title", body.Title, 255)
	validation.ValidateMaxLength(ve, "scope", body.Scope, 2000)
	if body.Status != "" {
		validation.ValidateEnum(ve, "status", body.Status, validation.ValidAuditStatuses)
	}
	validation.ValidateDate(ve, "scheduled_date", body.ScheduledDate)
	if ve.HasErrors() {
		response.Err(w, ve.Error(), 400)
		return
	}

	merge := func(v, cur string) string {
		if v == "" {
			return cur
		}
		return v
	}
	title := merge(body.Title, current.Title)
	scope := merge(body.Scope, current.Scope)
	leadAuditor := merge(body.LeadAuditor, current.LeadAuditor)
	scheduledDate := merge(body.ScheduledDate, current.ScheduledDate)
	status := merge(body.Status, current.Status)

	now := time.Now().Format("2006-01-02 15:04:05")
	var completedDate interface{}
	if status == "closed" && current.Status != "closed" {
		var openFindings int
		h.DB.QueryRow("SELECT COUNT(*) FROM audit_findings WHERE audit_id=? AND status != 'closed'", id).
			Scan(&openFindings)
		if openFindings > 0 {
			response.Err(w, "audit has unresolved findings", 409)
			return
		}
		completedDate = now
	}

	_, err = h.DB.Exec(`UPDATE qms_audits SET title=?,scope=?,lead_auditor=?,scheduled_date=?,status=?,
		completed_date=COALESCE(?,completed_date),updated_at=? WHERE id=?`,
		title, scope, leadAuditor, scheduledDate, status, completedDate, now, id)
	if err != nil {
		response.Err(w, err.Error(), 500)
		return
	}

	username := audit.GetUsername(h.DB, r)
	audit.LogAudit(h.DB, h.Hub, username, "updated", "qms_audit", id, "Updated "+id+": status="+status)
	h.Hub.BroadcastChange("audits", "updated", id)
	h.GetAudit(w, r, id)
}
