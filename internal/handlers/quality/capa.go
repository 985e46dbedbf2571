package quality

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

const capaSelect = `SELECT id,title,COALESCE(description,''),type,COALESCE(risk_priority,''),COALESCE(source,''),
	COALESCE(linked_finding_id,''),COALESCE(owner,''),status,COALESCE(due_date,''),COALESCE(created_by,''),
	created_at,updated_at,closed_at FROM capas`

func scanCAPA(scan func(dest ...interface{}) error) (models.CAPA, error) {
	var c models.CAPA
	var closedAt sql.NullString
	err := scan(&c.ID, &c.Title, &c.Description, &c.Type, &c.RiskPriority, &c.Source,
		&c.LinkedFindingID, &c.Owner, &c.Status, &c.DueDate, &c.CreatedBy,
		&c.CreatedAt, &c.UpdatedAt, &closedAt)
	c.ClosedAt = database.SP(closedAt)
	return c, err
}

// ListCAPAs handles GET /api/v1/capas. Supports ?status= and ?owner=
// filters.
func (h *Handler) ListCAPAs(w http.ResponseWriter, r *http.Request) {
	query := capaSelect
	var args []interface{}
	var conds []string
	if s := r.URL.Query().Get("status"); s != "" {
		conds = append(conds, "status=?")
		args = append(args, s)
	}
	if o := r.URL.Query().Get("owner"); o != "" {
		conds = append(conds, "owner=?")
		args = append(args, o)
	}
	for i, c := range conds {
		if i == 0 {
			query += " WHERE " + c
		} else {
			query += " AND " + c
		}
	}
	query += " ORDER BY created_at DESC"

	rows, err := h.DB.Query(query, args...)
	if err != nil {
		response.Err(w, err.Error(), 500)
		return
	}
	defer rows.Close()
	var items []models.CAPA
	for rows.Next() {
		c, err := scanCAPA(rows.Scan)
		if err != nil {
			continue
		}
		items = append(items, c)
	}
	if items == nil {
		items = []models.CAPA{}
	}
	response.JSON(w, items)
}

// GetCAPA handles GET /api/v1/capas/:id.
func (h *Handler) GetCAPA(w http.ResponseWriter, r *http.Request, id string) {
	c, err := scanCAPA(h.DB.QueryRow(capaSelect+" WHERE id=?", id).Scan)
	if err != nil {
		response.Err(w, "not found", 404)
		return
	}
	response.JSON(w, c)
}

// CreateCAPA handles POST /api/v1/capas.
func (h *Handler) CreateCAPA(w http.ResponseWriter, r *http.Request) {
	var c models.CAPA
	if err := response.DecodeBody(r, &c); err != nil {
		response.Err(w, "invalid body", 400)
		return
	}

	ve := &validation.ValidationErrors{}
	validation.RequireField(ve, "title", c.Title)
	validation.ValidateMaxLength(ve, "title", c.Title, 255)
	validation.ValidateMaxLength(ve, "description", c.Description, 2000)
	validation.ValidateMaxLength(ve, "owner", c.Owner, 255)
	if c.Type != "" {
		validation.ValidateEnum(ve, "type", c.Type, validation.ValidCAPATypes)
	}
	if c.RiskPriority != "" {
		validation.ValidateEnum(ve, "risk_priority", c.RiskPriority, validation.ValidCAPARiskPriorities)
	}
	if c.Source != "" {
		validation.ValidateEnum(ve, "source", c.Source, validation.ValidCAPASources)
	}
	validation.ValidateDate(ve, "due_date", c.DueDate)
	if c.LinkedFindingID != "" && !validation.RecordExists(h.DB, "audit_findings", c.LinkedFindingID) {
		ve.Add("linked_finding_id", "finding does not exist")
	}
	if ve.HasErrors() {
		response.Err(w, ve.Error(), 400)
		return
	}

	c.ID = h.NextIDFunc("CAPA", "capas", 3)
	if c.Type == "" {
		c.Type = "corrective"
	}
	if c.RiskPriority == "" {
		c.RiskPriority = "medium"
	}
	c.Status = "open"
	now := time.Now().Format("2006-01-02 15:04:05")
	username := audit.GetUsername(h.DB, r)
	c.CreatedBy = username

	_, err := h.DB.Exec(`INSERT INTO capas (id,title,description,type,risk_priority,source,linked_finding_id,owner,status,due_date,created_by,created_at,updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		c.ID, c.Title, c.Description, c.Type, c.RiskPriority, c.Source, c.LinkedFindingID,
		c.Owner, c.Status, c.DueDate, c.CreatedBy, now, now)
	if err != nil {
		response.Err(w, err.Error(), 500)
		return
	}
	c.CreatedAt = now
	c.UpdatedAt = now
	audit.LogAudit(h.DB, h.Hub, username, "created", "capa", c.ID, "Created "+c.ID+": "+c.Title)
	h.Hub.BroadcastChange("capas", "created", c.ID)
	response.JSON(w, c)
}

// UpdateCAPA handles PUT /api/v1/capas/:id.
func (h *Handler) UpdateCAPA(w http.ResponseWriter, r *http.Request, id string) {
	current, err := scanCAPA(h.DB.QueryRow(capaSelect+" WHERE id=?", id).Scan)
	if err != nil {
		response.Err(w, "not found", 404)
		return
	}
	if current.Status == "closed" {
		response.Err(w, "closed CAPAs cannot be edited", 409)
		return
	}

	var body models.CAPA
	if err := response.DecodeBody(r, &body); err != nil {
		response.Err(w, "invalid body", 400)
		return
	}

	ve := &validation.ValidationErrors{}
	validation.ValidateMaxLength(ve, "title", body.Title, 255)
	validation.ValidateMaxLength(ve, "description", body.Description, 2000)
	validation.ValidateMaxLength(ve, "owner", body.Owner, 255)
	if body.Status != "" {
		validation.ValidateEnum(ve, "status", body.Status, validation.ValidCAPAStatuses)
	}
	if body.RiskPriority != "" {
		validation.ValidateEnum(ve, "risk_priority", body.RiskPriority, validation.ValidCAPARiskPriorities)
	}
	validation.ValidateDate(ve, "due_date", body.DueDate)
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
	description := merge(body.Description, current.Description)
	owner := merge(body.Owner, current.Owner)
	riskPriority := merge(body.RiskPriority, current.RiskPriority)
	dueDate := merge(body.DueDate, current.DueDate)
	status := merge(body.Status, current.Status)

	now := time.Now().Format("2006-01-02 15:04:05")
	username := audit.GetUsername(h.DB, r)

	// Closing requires the phase workflow to have reached effectiveness
	// verification.
	var closedAt interface{}
	if status == "closed" {
		var phase string
		h.DB.QueryRow("SELECT current_state FROM capa_workflows WHERE capa_id=?", id).Scan(&phase)
		if phase != "effectiveness_verification" {
			response.Err(w, "CAPA must complete effectiveness verification before closing", 409)
			return
		}
		closedAt = now
	}

	_, err = h.DB.Exec(`UPDATE capas SET title=?,description=?,owner=?,risk_priority=?,due_date=?,status=?,
		closed_at=COALESCE(?,closed_at),updated_at=? WHERE id=?`,
		title, description, owner, riskPriority, dueDate, status, closedAt, now, id)
	if err != nil {
		response.Err(w, err.Error(), 500)
		return
	}

	audit.LogAudit(h.DB, h.Hub, username, "updated", "capa", id, "Updated "+id+": status="+status)
	h.Hub.BroadcastChange("capas", "updated", id)
	h.GetCAPA(w, r, id)
}

// CAPADashboard handles GET /api/v1/capas/dashboard. Aggregates open and
// overdue counts by owner.
func (h *Handler) CAPADashboard(w http.ResponseWriter, r *http.Request) {
	type OwnerSummary struct {
		Owner   string `json:"owner"`
		Count   int    `json:"count"`
		Overdue int    `json:"overdue"`
	}

	now := time.Now().Format("2006-01-02")
	rows, err := h.DB.Query(`SELECT COALESCE(NULLIF(owner,''),'unassigned'), COUNT(*),
		SUM(CASE WHEN due_date < ? AND due_date != '' THEN 1 ELSE 0 END)
		FROM capas WHERE status != 'closed'
		GROUP BY owner ORDER BY COUNT(*) DESC`, now)
	if err != nil {
		response.Err(w, err.Error(), 500)
		return
	}
	defer rows.Close()

	var summaries []OwnerSummary
	for rows.Next() {
		var s OwnerSummary
		rows.Scan(&s.Owner, &s.Count, &s.Overdue)
		summaries = append(summaries, s)
	}
	if summaries == nil {
		summaries = []OwnerSummary{}
	}

	var totalOpen, totalOverdue int
	h.DB.QueryRow("SELECT COUNT(*) FROM capas WHERE status != 'closed'").Scan(&totalOpen)
	h.DB.QueryRow("SELECT COUNT(*) FROM capas WHERE status != 'closed' AND due_date < ? AND due_date != ''", now).Scan(&totalOverdue)

	byPhase := map[string]int{}
	phaseRows, _ := h.DB.Query(`SELECT w.current_state, COUNT(*) FROM capa_workflows w
		JOIN capas c ON c.id = w.capa_id WHERE c.status != 'closed' GROUP BY w.current_state`)
	if phaseRows != nil {
		for phaseRows.Next() {
			var phase string
			var count int
			phaseRows.Scan(&phase, &count)
			byPhase[phase] = count
		}
		phaseRows.Close()
	}

	response.JSON(w, map[string]interface{}{
		"total_open":    totalOpen,
		"total_overdue": totalOverdue,
		"by_owner":      summaries,
		"by_phase":      byPhase,
	})
}
