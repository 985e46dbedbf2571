package documents

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

const docSelect = `SELECT id,title,COALESCE(category,''),doc_type,revision,status,COALESCE(content,''),
	COALESCE(owner,''),COALESCE(approved_by,''),approved_at,COALESCE(created_by,''),created_at,updated_at
	FROM documents`

func scanDocument(scan func(dest ...interface{}) error) (models.Document, error) {
	var d models.Document
	var approvedAt sql.NullString
	err := scan(&d.ID, &d.Title, &d.Category, &d.DocType, &d.Revision, &d.Status, &d.Content,
		&d.Owner, &d.ApprovedBy, &approvedAt, &d.CreatedBy, &d.CreatedAt, &d.UpdatedAt)
	d.ApprovedAt = database.SP(approvedAt)
	return d, err
}

// ListDocuments handles GET /api/v1/documents. Supports ?status= and
// ?doc_type= filters.
func (h *Handler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	query := docSelect
	var args []interface{}
	var conds []string
	if s := r.URL.Query().Get("status"); s != "" {
		conds = append(conds, "status=?")
		args = append(args, s)
	}
	if t := r.URL.Query().Get("doc_type"); t != "" {
		conds = append(conds, "doc_type=?")
		args = append(args, t)
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
	var items []models.Document
	for rows.Next() {
		d, err := scanDocument(rows.Scan)
		if err != nil {
			continue
		}
		items = append(items, d)
	}
	if items == nil {
		items = []models.Document{}
	}
	response.JSON(w, items)
}

// GetDocument handles GET /api/v1/documents/:id.
func (h *Handler) GetDocument(w http.ResponseWriter, r *http.Request, id string) {
	d, err := scanDocument(h.DB.QueryRow(docSelect+" WHERE id=?", id).Scan)
	if err != nil {
		response.Err(w, "not found", 404)
		return
	}
	response.JSON(w, d)
}

// CreateDocument handles POST /api/v1/documents. New documents always
// start at revision A in draft status.
func (h *Handler) CreateDocument(w http.ResponseWriter, r *http.Request) {
	var d models.Document
	if err := response.DecodeBody(r, &d); err != nil {
		response.Err(w, "invalid body", 400)
		return
	}

	ve := &validation.ValidationErrors{}
	validation.RequireField(ve, "title", d.Title)
	validation.ValidateMaxLength(ve, "title", d.Title, 255)
	validation.RequireField(ve, "doc_type", d.DocType)
	validation.ValidateEnum(ve, "doc_type", d.DocType, validation.ValidDocumentTypes)
	validation.ValidateMaxLength(ve, "category", d.Category, 100)
	validation.ValidateMaxLength(ve, "owner", d.Owner, 255)
	if ve.HasErrors() {
		response.Err(w, ve.Error(), 400)
		return
	}

	d.ID = h.NextIDFunc("DOC", "documents", 3)
	d.Revision = "A"
	d.Status = "draft"
	now := time.Now().Format("2006-01-02 15:04:05")
	username := audit.GetUsername(h.DB, r)
	d.CreatedBy = username

	_, err := h.DB.Exec(`INSERT INTO documents (id,title,category,doc_type,revision,status,content,owner,created_by,created_at,updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		d.ID, d.Title, d.Category, d.DocType, d.Revision, d.Status, d.Content, d.Owner, d.CreatedBy, now, now)
	if err != nil {
		response.Err(w, err.Error(), 500)
		return
	}
	h.DB.Exec(`INSERT INTO document_revisions (document_id,revision,changes_summary,created_by,created_at)
		VALUES (?,?,?,?,?)`, d.ID, d.Revision, "Initial revision", username, now)

	d.CreatedAt = now
	d.UpdatedAt = now
	audit.LogAudit(h.DB, h.Hub, username, "created", "document", d.ID, "Created "+d.ID+": "+d.Title)
	h.Hub.BroadcastChange("documents", "created", d.ID)
	response.JSON(w, d)
}

// UpdateDocument handles PUT /api/v1/documents/:id. Content edits on a
// non-draft document bump the revision letter and drop it back to draft,
// invalidating the prior approval.
func (h *Handler) UpdateDocument(w http.ResponseWriter, r *http.Request, id string) {
	current, err := scanDocument(h.DB.QueryRow(docSelect+" WHERE id=?", id).Scan)
	if err != nil {
		response.Err(w, "not found", 404)
		return
	}
	if current.Status == "obsolete" {
		response.Err(w, "obsolete documents cannot be edited", 409)
		return
	}

	var body struct {
		Title          string `json:"title"`
		Category       string `json:"category"`
		Content        string `json:"content"`
		Owner          string `json:"owner"`
		ChangesSummary string `json:"changes_summary"`
	}
	if err := response.DecodeBody(r, &body); err != nil {
		response.Err(w, "invalid body", 400)
		return
	}

	ve := &validation.ValidationErrors{}
	validation.ValidateMaxLength(ve, "title", body.Title, 255)
	validation.ValidateMaxLength(ve, "category", body.Category, 100)
	validation.ValidateMaxLength(ve, "owner", body.Owner, 255)
	if ve.HasErrors() {
		response.Err(w, ve.Error(), 400)
		return
	}

	title := body.Title
	if title == "" {
		title = current.Title
	}
	category := body.Category
	if category == "" {
		category = current.Category
	}
	owner := body.Owner
	if owner == "" {
		owner = current.Owner
	}
	content := current.Content
	contentChanged := body.Content != "" && body.Content != current.Content
	if contentChanged {
		content = body.Content
	}

	now := time.Now().Format("2006-01-02 15:04:05")
	username := audit.GetUsername(h.DB, r)

	revision := current.Revision
	status := current.Status
	if contentChanged && current.Status != "draft" {
		revision = nextRevision(current.Revision)
		status = "draft"
		summary := body.ChangesSummary
		if summary == "" {
			summary = "Content revised"
		}
		h.DB.Exec(`INSERT INTO document_revisions (document_id,revision,changes_summary,created_by,created_at)
			VALUES (?,?,?,?,?)`, id, revision, summary, username, now)
	}

	_, err = h.DB.Exec(`UPDATE documents SET title=?,category=?,content=?,owner=?,revision=?,status=?,
		approved_by=CASE WHEN ?='draft' THEN '' ELSE approved_by END,
		approved_at=CASE WHEN ?='draft' THEN NULL ELSE approved_at END,
		updated_at=? WHERE id=?`,
		title, category, content, owner, revision, status, status, status, now, id)
	if err != nil {
		response.Err(w, err.Error(), 500)
		return
	}

	audit.LogAudit(h.DB, h.Hub, username, "updated", "document", id, "Updated "+id+" rev "+revision)
	h.Hub.BroadcastChange("documents", "updated", id)
	h.GetDocument(w, r, id)
}

// ObsoleteDocument handles POST /api/v1/documents/:id/obsolete. Released
// documents are retired rather than deleted.
func (h *Handler) ObsoleteDocument(w http.ResponseWriter, r *http.Request, id string) {
	var status string
	err := h.DB.QueryRow("SELECT status FROM documents WHERE id=?", id).Scan(&status)
	if err != nil {
		response.Err(w, "not found", 404)
		return
	}
	if status != "approved" && status != "released" {
		response.Err(w, "only approved or released documents can be obsoleted", 409)
		return
	}

	now := time.Now().Format("2006-01-02 15:04:05")
	h.DB.Exec("UPDATE documents SET status='obsolete', updated_at=? WHERE id=?", now, id)
	username := audit.GetUsername(h.DB, r)
	audit.LogAudit(h.DB, h.Hub, username, "updated", "document", id, "Obsoleted "+id)
	h.Hub.BroadcastChange("documents", "updated", id)
	h.GetDocument(w, r, id)
}

// ReleaseDocument handles POST /api/v1/documents/:id/release. Only a
// document with a completed approval may be released for use.
func (h *Handler) ReleaseDocument(w http.ResponseWriter, r *http.Request, id string) {
	var status string
	err := h.DB.QueryRow("SELECT status FROM documents WHERE id=?", id).Scan(&status)
	if err != nil {
		response.Err(w, "not found", 404)
		return
	}
	if status != "approved" {
		response.Err(w, "document must be approved before release", 409)
		return
	}

	now := time.Now().Format("2006-01-02 15:04:05")
	h.DB.Exec("UPDATE documents SET status='released', updated_at=? WHERE id=?", now, id)
	username := audit.GetUsername(h.DB, r)
	audit.LogAudit(h.DB, h.Hub, username, "updated", "document", id, "Released "+id)
	h.Hub.BroadcastChange("documents", "released", id)
	h.GetDocument(w, r, id)
}

// ListRevisions handles GET /api/v1/documents/:id/revisions.
func (h *Handler) ListRevisions(w http.ResponseWriter, r *http.Request, id string) {
	rows, err := h.DB.Query(`SELECT id,document_id,revision,COALESCE(changes_summary,''),COALESCE(created_by,''),created_at
		FROM document_revisions WHERE document_id=? ORDER BY created_at DESC, id DESC`, id)
	if err != nil {
		response.Err(w, err.Error(), 500)
		return
	}
	defer rows.Close()
	var items []models.DocumentRevision
	for rows.Next() {
		var rev models.DocumentRevision
		rows.Scan(&rev.ID, &rev.DocumentID, &rev.Revision, &rev.ChangesSummary, &rev.CreatedBy, &rev.CreatedAt)
		items = append(items, rev)
	}
	if items == nil {
		items = []models.DocumentRevision{}
	}
	response.JSON(w, items)
}

// nextRevision advances a single-letter revision (A -> B, ... Z -> AA).
func nextRevision(rev string) string {
	if rev == "" {
		return "A"
	}
	last := rev[len(rev)-1]
	if last < 'Z' {
		return rev[:len(rev)-1] + string(last+1)
	}
	return rev[:len(rev)-1] + "AA"
}
