package suppliers

import (
	"net/http"
	"time"

	"eqms/internal/audit"
	"eqms/internal/models"
	"eqms/internal/response"
	"eqms/internal/validation"
)

const supplierSelect = `SELECT id,name,COALESCE(category,''),COALESCE(contact_email,''),status,
	COALESCE(notes,''),created_at,updated_at FROM suppliers`

// ListSuppliers handles GET /api/v1/suppliers.
func (h *Handler) ListSuppliers(w http.ResponseWriter, r *http.Request) {
	query := supplierSelect
	var args []interface{}
	if s := r.URL.Query().Get("status"); s != "" {
		query += " WHERE status=?"
		args = append(args, s)
	}
	query += " ORDER BY name ASC"

	rows, err := h.DB.Query(query, args...)
	if err != nil {
		response.Err(w, err.Error(), 500)
		return
	}
	defer rows.Close()
	var items []models.Supplier
	for rows.Next() {
		var s models.Supplier
		rows.Scan(&s.ID, &s.Name, &s.Category, &s.ContactEmail, &s.Status, &s.Notes, &s.CreatedAt, &s.UpdatedAt)
		items = append(items, s)
	}
	if items == nil {
		items = []models.Supplier{}
	}
	response.JSON(w, items)
}

// GetSupplier handles GET /api/v1/suppliers/:id.
func (h *Handler) GetSupplier(w http.ResponseWriter, r *http.Request, id string) {
	var s models.Supplier
	err := h.DB.QueryRow(supplierSelect+" WHERE id=?", id).
		Scan(&s.ID, &s.Name, &s.Category, &s.ContactEmail, &s.Status, &s.Notes, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		response.Err(w, "not found", 404)
		return
	}
	response.JSON(w, s)
}

// CreateSupplier handles POST /api/v1/suppliers. New suppliers start
// conditional until evaluated.
func (h *Handler) CreateSupplier(w http.ResponseWriter, r *http.Request) {
	var s models.Supplier
	if err := response.DecodeBody(r, &s); err != nil {
		response.Err(w, "invalid body", 400)
		return
	}

	ve := &validation.ValidationErrors{}
	validation.RequireField(ve, "name", s.Name)
	validation.ValidateMaxLength(ve, "name", s.Name, 255)
	validation.ValidateMaxLength(ve, "category", s.Category, 100)
	validation.ValidateEmail(ve, "contact_email", s.ContactEmail)
	validation.ValidateMaxLength(ve, "notes", s.Notes, 2000)
	if ve.HasErrors() {
		response.Err(w, ve.Error(), 400)
		return
	}

	s.ID = h.NextIDFunc("SUP", "suppliers", 3)
	s.Status = "conditional"
	now := time.Now().Format("2006-01-02 15:04:05")
	_, err := h.DB.Exec(`INSERT INTO suppliers (id,name,category,contact_email,status,notes,created_at,updated_at)
		VALUES (?,?,?,?,?,?,?,?)`,
		s.ID, s.Name, s.Category, s.ContactEmail, s.Status, s.Notes, now, now)
	if err != nil {
		response.Err(w, err.Error(), 500)
		return
	}
	s.CreatedAt = now
	s.UpdatedAt = now
	username := audit.GetUsername(h.DB, r)
	audit.LogAudit(h.DB, h.Hub, username, "created", "supplier", s.ID, "Created "+s.ID+": "+s.Name)
	h.Hub.BroadcastChange("suppliers", "created", s.ID)
	response.JSON(w, s)
}

// UpdateSupplier handles PUT /api/v1/suppliers/:id.
func (h *Handler) UpdateSupplier(w http.ResponseWriter, r *http.Request, id string) {
	var current models.Supplier
	err := h.DB.QueryRow(supplierSelect+" WHERE id=?", id).
		Scan(&current.ID, &current.Name, &current.Category, &current.ContactEmail,
			&current.Status, &current.Notes, &current.CreatedAt, &current.UpdatedAt)
	if err != nil {
		response.Err(w, "not found", 404)
		return
	}

	var body models.Supplier
	if err := response.DecodeBody(r, &body); err != nil {
		response.Err(w, "invalid body", 400)
		return
	}

	ve := &validation.ValidationErrors{}
	validation.ValidateMaxLength(ve, "name", body.Name, 255)
	validation.ValidateMaxLength(ve, "category", body.Category, 100)
	validation.ValidateEmail(ve, "contact_email", body.ContactEmail)
	validation.ValidateMaxLength(ve, "notes", body.Notes, 2000)
	if body.Status != "" {
		validation.ValidateEnum(ve, "status", body.Status, validation.ValidSupplierStates)
	}
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
	name := merge(body.Name, current.Name)
	category := merge(body.Category, current.Category)
	contactEmail := merge(body.ContactEmail, current.ContactEmail)
	notes := merge(body.Notes, current.Notes)
	status := merge(body.Status, current.Status)

	// Approval requires a passing evaluation on record.
	if status == "approved" && current.Status != "approved" {
		var passing int
		h.DB.QueryRow("SELECT COUNT(*) FROM supplier_evaluations WHERE supplier_id=? AND score >= 70", id).
			Scan(&passing)
		if passing == 0 {
			response.Err(w, "supplier needs a passing evaluation (score >= 70) before approval", 409)
			return
		}
	}

	now := time.Now().Format("2006-01-02 15:04:05")
	_, err = h.DB.Exec(`UPDATE suppliers SET name=?,category=?,contact_email=?,notes=?,status=?,updated_at=? WHERE id=?`,
		name, category, contactEmail, notes, status, now, id)
	if err != nil {
		response.Err(w, err.Error(), 500)
		return
	}

	username := audit.GetUsername(h.DB, r)
	audit.LogAudit(h.DB, h.Hub, username, "updated", "supplier", id, "Updated "+id+": status="+status)
	h.Hub.BroadcastChange("suppliers", "updated", id)
	h.GetSupplier(w, r, id)
}

// ListEvaluations handles GET /api/v1/suppliers/:id/evaluations.
func (h *Handler) ListEvaluations(w http.ResponseWriter, r *http.Request, supplierID string) {
	rows, err := h.DB.Query(`SELECT id,supplier_id,score,COALESCE(evaluated_by,''),COALESCE(notes,''),evaluated_at
		FROM supplier_evaluations WHERE supplier_id=? ORDER BY evaluated_at DESC`, supplierID)
	if err != nil {
		response.Err(w, err.Error(), 500)
		return
	}
	defer rows.Close()
	var items []models.SupplierEvaluation
	for rows.Next() {
		var e models.SupplierEvaluation
		rows.Scan(&e.ID, &e.SupplierID, &e.Score, &e.EvaluatedBy, &e.Notes, &e.EvaluatedAt)
		items = append(items, e)
	}
	if items == nil {
		items = []models.SupplierEvaluation{}
	}
	response.JSON(w, items)
}

// CreateEvaluation handles POST /api/v1/suppliers/:id/evaluations. A
// failing score drops the supplier to conditional.
func (h *Handler) CreateEvaluation(w http.ResponseWriter, r *http.Request, supplierID string) {
	if !validation.RecordExists(h.DB, "suppliers", supplierID) {
		response.Err(w, "supplier not found", 404)
		return
	}

	var e models.SupplierEvaluation
	if err := response.DecodeBody(r, &e); err != nil {
		response.Err(w, "invalid body", 400)
		return
	}

	ve := &validation.ValidationErrors{}
	validation.ValidateIntRange(ve, "score", e.Score, 0, 100)
	validation.ValidateMaxLength(ve, "notes", e.Notes, 2000)
	if ve.HasErrors() {
		response.Err(w, ve.Error(), 400)
		return
	}

	now := time.Now().Format("2006-01-02 15:04:05")
	username := audit.GetUsername(h.DB, r)
	res, err := h.DB.Exec(`INSERT INTO supplier_evaluations (supplier_id,score,evaluated_by,notes,evaluated_at)
		VALUES (?,?,?,?,?)`, supplierID, e.Score, username, e.Notes, now)
	if err != nil {
		response.Err(w, err.Error(), 500)
		return
	}
	id, _ := res.LastInsertId()

	if e.Score < 70 {
		h.DB.Exec("UPDATE suppliers SET status='conditional', updated_at=? WHERE id=? AND status IN ('active','approved')",
			now, supplierID)
	}

	audit.LogAudit(h.DB, h.Hub, username, "created", "supplier_evaluation", supplierID,
		"Evaluated "+supplierID)
	h.Hub.BroadcastChange("suppliers", "evaluated", supplierID)

	e.ID = int(id)
	e.SupplierID = supplierID
	e.EvaluatedBy = username
	e.EvaluatedAt = now
	response.JSON(w, e)
}
