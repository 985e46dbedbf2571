package admin

import (
	"encoding/csv"
	"net/http"
	"strconv"

	"eqms/internal/audit"
	"eqms/internal/models"
	"eqms/internal/response"
)

// ListAuditLog handles GET /api/v1/audit-log. Paginated, filterable by
// module, action and username.
func (h *Handler) ListAuditLog(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit < 1 || limit > 500 {
		limit = 50
	}

	where := " WHERE 1=1"
	var args []interface{}
	if m := r.URL.Query().Get("module"); m != "" {
		where += " AND module=?"
		args = append(args, m)
	}
	if a := r.URL.Query().Get("action"); a != "" {
		where += " AND action=?"
		args = append(args, a)
	}
	if u := r.URL.Query().Get("username"); u != "" {
		where += " AND username=?"
		args = append(args, u)
	}

	var total int
	h.DB.QueryRow("SELECT COUNT(*) FROM audit_log"+where, args...).Scan(&total)

	query := `SELECT id,COALESCE(user_id,0),username,action,module,COALESCE(record_id,''),COALESCE(summary,''),
		COALESCE(before_value,''),COALESCE(after_value,''),COALESCE(ip_address,''),COALESCE(user_agent,''),created_at
		FROM audit_log` + where + " ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?"
	args = append(args, limit, (page-1)*limit)

	rows, err := h.DB.Query(query, args...)
	if err != nil {
		response.Err(w, err.Error(), 500)
		return
	}
	defer rows.Close()

	var items []models.AuditEntry
	for rows.Next() {
		var e models.AuditEntry
		rows.Scan(&e.ID, &e.UserID, &e.Username, &e.Action, &e.Module, &e.RecordID, &e.Summary,
			&e.BeforeValue, &e.AfterValue, &e.IPAddress, &e.UserAgent, &e.CreatedAt)
		items = append(items, e)
	}
	if items == nil {
		items = []models.AuditEntry{}
	}
	response.JSONMeta(w, items, total, page, limit)
}

// ExportAuditLog handles GET /api/v1/audit-log/export. Streams the whole
// trail as CSV, newest first.
func (h *Handler) ExportAuditLog(w http.ResponseWriter, r *http.Request) {
	rows, err := h.DB.Query(`SELECT id,username,action,module,COALESCE(record_id,''),COALESCE(summary,''),
		COALESCE(ip_address,''),created_at FROM audit_log ORDER BY created_at DESC, id DESC`)
	if err != nil {
		response.Err(w, err.Error(), 500)
		return
	}
	defer rows.Close()

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="audit_log.csv"`)

	cw := csv.NewWriter(w)
	cw.Write([]string{"id", "username", "action", "module", "record_id", "summary", "ip_address", "created_at"})
	count := 0
	for rows.Next() {
		var id int
		var username, action, module, recordID, summary, ip, createdAt string
		rows.Scan(&id, &username, &action, &module, &recordID, &summary, &ip, &createdAt)
		cw.Write([]string{strconv.Itoa(id), username, action, module, recordID, summary, ip, createdAt})
		count++
	}
	cw.Flush()

	audit.LogDataExport(h.DB, h.Hub, r, "audit_log", "csv", count)
}

// GetSettings handles GET /api/v1/settings.
func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	settings := map[string]string{}
	rows, err := h.DB.Query("SELECT key, value FROM settings")
	if err != nil {
		response.Err(w, err.Error(), 500)
		return
	}
	defer rows.Close()
	for rows.Next() {
		var k, v string
		rows.Scan(&k, &v)
		settings[k] = v
	}
	response.JSON(w, settings)
}

// UpdateSettings handles PUT /api/v1/settings. Upserts key/value pairs.
func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var body map[string]string
	if err := response.DecodeBody(r, &body); err != nil {
		response.Err(w, "invalid body", 400)
		return
	}

	for k, v := range body {
		if k == "audit_retention_days" {
			days, err := strconv.Atoi(v)
			if err != nil || days < 365 {
				response.Err(w, "audit_retention_days must be an integer >= 365", 400)
				return
			}
		}
		h.DB.Exec(`INSERT INTO settings (key, value) VALUES (?, ?)
			ON CONFLICT(key) DO UPDATE SET value=excluded.value`, k, v)
	}

	actor := audit.GetUsername(h.DB, r)
	audit.LogAudit(h.DB, h.Hub, actor, "updated", "settings", "", "Updated settings")
	h.GetSettings(w, r)
}
