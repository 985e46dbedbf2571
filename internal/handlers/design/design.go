package design

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

// ListRequirements handles GET /api/v1/design/requirements. Supports
// ?project= and ?req_type= filters.
func (h *Handler) ListRequirements(w http.ResponseWriter, r *http.Request) {
	query := `SELECT id,project,title,req_type,COALESCE(description,''),created_at FROM design_requirements`
	var args []interface{}
	var conds []string
	if p := r.URL.Query().Get("project"); p != "" {
		conds = append(conds, "project=?")
		args = append(args, p)
	}
	if t := r.URL.Query().Get("req_type"); t != "" {
		conds = append(conds, "req_type=?")
		args = append(args, t)
	}
	for i, c := range conds {
		if i == 0 {
			query += " WHERE " + c
		} else {
			query += " AND " + c
		}
	}
	query += " ORDER BY id ASC"

	rows, err := h.DB.Query(query, args...)
	if err != nil {
		response.Err(w, err.Error(), 500)
		return
	}
	defer rows.Close()
	var items []models.DesignRequirement
	for rows.Next() {
		var req models.DesignRequirement
		rows.Scan(&req.ID, &req.Project, &req.Title, &req.ReqType, &req.Description, &req.CreatedAt)
		items = append(items, req)
	}
	if items == nil {
		items = []models.DesignRequirement{}
	}
	response.JSON(w, items)
}

// CreateRequirement handles POST /api/v1/design/requirements.
func (h *Handler) CreateRequirement(w http.ResponseWriter, r *http.Request) {
	var req models.DesignRequirement
	if err := response.DecodeBody(r, &req); err != nil {
		response.Err(w, "invalid body", 400)
		return
	}

	ve := &validation.ValidationErrors{}
	validation.RequireField(ve, "project", req.Project)
	validation.ValidateMaxLength(ve, "project", req.Project, 100)
	validation.RequireField(ve, "title", req.Title)
	validation.ValidateMaxLength(ve, "title", req.Title, 255)
	validation.RequireField(ve, "req_type", req.ReqType)
	validation.ValidateEnum(ve, "req_type", req.ReqType, validation.ValidRequirementTypes)
	validation.ValidateMaxLength(ve, "description", req.Description, 2000)
	if ve.HasErrors() {
		response.Err(w, ve.Error(), 400)
		return
	}

	req.ID = h.NextIDFunc("REQ", "design_requirements", 3)
	now := time.Now().Format("2006-01-02 15:04:05")
	_, err := h.DB.Exec(`INSERT INTO design_requirements (id,project,title,req_type,description,created_at)
		VALUES (?,?,?,?,?,?)`, req.ID, req.Project, req.Title, req.ReqType, req.Description, now)
	if err != nil {
		response.Err(w, err.Error(), 500)
		return
	}
	req.CreatedAt = now
	username := audit.GetUsername(h.DB, r)
	audit.LogAudit(h.DB, h.Hub, username, "created", "design_requirement", req.ID, "Created "+req.ID+": "+req.Title)
	h.Hub.BroadcastChange("design", "created", req.ID)
	response.JSON(w, req)
}

// ListTests handles GET /api/v1/design/tests.
func (h *Handler) ListTests(w http.ResponseWriter, r *http.Request) {
	query := `SELECT id,project,title,phase,result,COALESCE(executed_by,''),executed_at,created_at FROM verification_tests`
	var args []interface{}
	var conds []string
	if p := r.URL.Query().Get("project"); p != "" {
		conds = append(conds, "project=?")
		args = append(args, p)
	}
	if ph := r.URL.Query().Get("phase"); ph != "" {
		conds = append(conds, "phase=?")
		args = append(args, ph)
	}
	for i, c := range conds {
		if i == 0 {
			query += " WHERE " + c
		} else {
			query += " AND " + c
		}
	}
	query += " ORDER BY id ASC"

	rows, err := h.DB.Query(query, args...)
	if err != nil {
		response.Err(w, err.Error(), 500)
		return
	}
	defer rows.Close()
	var items []models.VerificationTest
	for rows.Next() {
		var t models.VerificationTest
		var executedAt sql.NullString
		rows.Scan(&t.ID, &t.Project, &t.Title, &t.Phase, &t.Result, &t.ExecutedBy, &executedAt, &t.CreatedAt)
		t.ExecutedAt = database.SP(executedAt)
		items = append(items, t)
	}
	if items == nil {
		items = []models.VerificationTest{}
	}
	response.JSON(w, items)
}

// CreateTest handles POST /api/v1/design/tests. New tests start with a
// pending result.
func (h *Handler) CreateTest(w http.ResponseWriter, r *http.Request) {
	var t models.VerificationTest
	if err := response.DecodeBody(r, &t); err != nil {
		response.Err(w, "invalid body", 400)
		return
	}

	ve := &validation.ValidationErrors{}
	validation.RequireField(ve, "project", t.Project)
	validation.ValidateMaxLength(ve, "project", t.Project, 100)
	validation.RequireField(ve, "title", t.Title)
	validation.ValidateMaxLength(ve, "title", t.Title, 255)
	validation.RequireField(ve, "phase", t.Phase)
	validation.ValidateEnum(ve, "phase", t.Phase, validation.ValidTestPhases)
	if ve.HasErrors() {
		response.Err(w, ve.Error(), 400)
		return
	}

	t.ID = h.NextIDFunc("VT", "verification_tests", 3)
	t.Result = "pending"
	now := time.Now().Format("2006-01-02 15:04:05")
	_, err := h.DB.Exec(`INSERT INTO verification_tests (id,project,title,phase,result,created_at)
		VALUES (?,?,?,?,?,?)`, t.ID, t.Project, t.Title, t.Phase, t.Result, now)
	if err != nil {
		response.Err(w, err.Error(), 500)
		return
	}
	t.CreatedAt = now
	username := audit.GetUsername(h.DB, r)
	audit.LogAudit(h.DB, h.Hub, username, "created", "verification_test", t.ID, "Created "+t.ID+": "+t.Title)
	h.Hub.BroadcastChange("design", "created", t.ID)
	response.JSON(w, t)
}

// RecordTestResult handles POST /api/v1/design/tests/:id/result.
func (h *Handler) RecordTestResult(w http.ResponseWriter, r *http.Request, id string) {
	var body struct {
		Result string `json:"result"`
	}
	if err := response.DecodeBody(r, &body); err != nil {
		response.Err(w, "invalid body", 400)
		return
	}

	ve := &validation.ValidationErrors{}
	validation.RequireField(ve, "result", body.Result)
	validation.ValidateEnum(ve, "result", body.Result, []string{"pass", "fail"})
	if ve.HasErrors() {
		response.Err(w, ve.Error(), 400)
		return
	}

	if !validation.RecordExists(h.DB, "verification_tests", id) {
		response.Err(w, "not found", 404)
		return
	}

	now := time.Now().Format("2006-01-02 15:04:05")
	username := audit.GetUsername(h.DB, r)
	_, err := h.DB.Exec("UPDATE verification_tests SET result=?, executed_by=?, executed_at=? WHERE id=?",
		body.Result, username, now, id)
	if err != nil {
		response.Err(w, err.Error(), 500)
		return
	}

	audit.LogAudit(h.DB, h.Hub, username, "updated", "verification_test", id, "Recorded "+body.Result+" for "+id)
	h.Hub.BroadcastChange("design", "updated", id)
	response.JSON(w, map[string]string{"id": id, "result": body.Result, "executed_by": username, "executed_at": now})
}

// CreateTraceLink handles POST /api/v1/design/trace.
func (h *Handler) CreateTraceLink(w http.ResponseWriter, r *http.Request) {
	var link models.TraceLink
	if err := response.DecodeBody(r, &link); err != nil {
		response.Err(w, "invalid body", 400)
		return
	}

	ve := &validation.ValidationErrors{}
	validation.RequireField(ve, "requirement_id", link.RequirementID)
	validation.RequireField(ve, "test_id", link.TestID)
	if ve.HasErrors() {
		response.Err(w, ve.Error(), 400)
		return
	}
	if !validation.RecordExists(h.DB, "design_requirements", link.RequirementID) {
		response.Err(w, "requirement_id: requirement does not exist", 400)
		return
	}
	if !validation.RecordExists(h.DB, "verification_tests", link.TestID) {
		response.Err(w, "test_id: test does not exist", 400)
		return
	}

	var dup int
	h.DB.QueryRow("SELECT COUNT(*) FROM trace_links WHERE requirement_id=? AND test_id=?",
		link.RequirementID, link.TestID).Scan(&dup)
	if dup > 0 {
		response.Err(w, "trace link already exists", 409)
		return
	}

	now := time.Now().Format("2006-01-02 15:04:05")
	res, err := h.DB.Exec("INSERT INTO trace_links (requirement_id,test_id,created_at) VALUES (?,?,?)",
		link.RequirementID, link.TestID, now)
	if err != nil {
		response.Err(w, err.Error(), 500)
		return
	}
	id, _ := res.LastInsertId()
	link.ID = int(id)
	link.CreatedAt = now

	username := audit.GetUsername(h.DB, r)
	audit.LogAudit(h.DB, h.Hub, username, "created", "trace_link", link.RequirementID,
		"Linked "+link.RequirementID+" to "+link.TestID)
	h.Hub.BroadcastChange("design", "linked", link.ID)
	response.JSON(w, link)
}

// TraceabilityMatrix handles GET /api/v1/design/traceability. For each
// requirement: its linked tests and a coverage verdict. A requirement is
// covered when every linked test passed and at least one link exists.
func (h *Handler) TraceabilityMatrix(w http.ResponseWriter, r *http.Request) {
	project := r.URL.Query().Get("project")

	query := `SELECT id,project,title,req_type FROM design_requirements`
	var args []interface{}
	if project != "" {
		query += " WHERE project=?"
		args = append(args, project)
	}
	query += " ORDER BY id ASC"

	rows, err := h.DB.Query(query, args...)
	if err != nil {
		response.Err(w, err.Error(), 500)
		return
	}
	defer rows.Close()

	type linkedTest struct {
		TestID string `json:"test_id"`
		Title  string `json:"title"`
		Phase  string `json:"phase"`
		Result string `json:"result"`
	}
	type matrixRow struct {
		RequirementID string       `json:"requirement_id"`
		Project       string       `json:"project"`
		Title         string       `json:"title"`
		ReqType       string       `json:"req_type"`
		Tests         []linkedTest `json:"tests"`
		Covered       bool         `json:"covered"`
	}

	var matrix []matrixRow
	var covered, total int
	for rows.Next() {
		var row matrixRow
		rows.Scan(&row.RequirementID, &row.Project, &row.Title, &row.ReqType)

		testRows, err := h.DB.Query(`SELECT t.id, t.title, t.phase, t.result
			FROM trace_links l JOIN verification_tests t ON t.id = l.test_id
			WHERE l.requirement_id=? ORDER BY t.id ASC`, row.RequirementID)
		if err == nil {
			allPassed := true
			for testRows.Next() {
				var lt linkedTest
				testRows.Scan(&lt.TestID, &lt.Title, &lt.Phase, &lt.Result)
				if lt.Result != "pass" {
					allPassed = false
				}
				row.Tests = append(row.Tests, lt)
			}
			testRows.Close()
			row.Covered = len(row.Tests) > 0 && allPassed
		}
		if row.Tests == nil {
			row.Tests = []linkedTest{}
		}

		total++
		if row.Covered {
			covered++
		}
		matrix = append(matrix, row)
	}
	if matrix == nil {
		matrix = []matrixRow{}
	}

	response.JSON(w, map[string]interface{}{
		"requirements": matrix,
		"total":        total,
		"covered":      covered,
		"uncovered":    total - covered,
	})
}
