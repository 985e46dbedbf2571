package training

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

// ListCourses handles GET /api/v1/training/courses.
func (h *Handler) ListCourses(w http.ResponseWriter, r *http.Request) {
	rows, err := h.DB.Query(`SELECT id,title,COALESCE(description,''),frequency_months,created_at
		FROM training_courses ORDER BY created_at DESC`)
	if err != nil {
		response.Err(w, err.Error(), 500)
		return
	}
	defer rows.Close()
	var items []models.TrainingCourse
	for rows.Next() {
		var c models.TrainingCourse
		rows.Scan(&c.ID, &c.Title, &c.Description, &c.FrequencyMonths, &c.CreatedAt)
		items = append(items, c)
	}
	if items == nil {
		items = []models.TrainingCourse{}
	}
	response.JSON(w, items)
}

// CreateCourse handles POST /api/v1/training/courses.
func (h *Handler) CreateCourse(w http.ResponseWriter, r *http.Request) {
	var c models.TrainingCourse
	if err := response.DecodeBody(r, &c); err != nil {
		response.Err(w, "invalid body", 400)
		return
	}

	ve := &validation.ValidationErrors{}
	validation.RequireField(ve, "title", c.Title)
	validation.ValidateMaxLength(ve, "title", c.Title, 255)
	validation.ValidateMaxLength(ve, "description", c.Description, 2000)
	if c.FrequencyMonths != 0 {
		validation.ValidateIntRange(ve, "frequency_months", c.FrequencyMonths, 1, 120)
	}
	if ve.HasErrors() {
		response.Err(w, ve.Error(), 400)
		return
	}

	c.ID = h.NextIDFunc("TRN", "training_courses", 3)
	now := time.Now().Format("2006-01-02 15:04:05")
	_, err := h.DB.Exec(`INSERT INTO training_courses (id,title,description,frequency_months,created_at)
		VALUES (?,?,?,?,?)`, c.ID, c.Title, c.Description, c.FrequencyMonths, now)
	if err != nil {
		response.Err(w, err.Error(), 500)
		return
	}
	c.CreatedAt = now
	username := audit.GetUsername(h.DB, r)
	audit.LogAudit(h.DB, h.Hub, username, "created", "training_course", c.ID, "Created "+c.ID+": "+c.Title)
	h.Hub.BroadcastChange("training", "created", c.ID)
	response.JSON(w, c)
}

// AssignCourse handles POST /api/v1/training/courses/:id/assign.
func (h *Handler) AssignCourse(w http.ResponseWriter, r *http.Request, courseID string) {
	if !validation.RecordExists(h.DB, "training_courses", courseID) {
		response.Err(w, "course not found", 404)
		return
	}

	var body struct {
		UserID  int    `json:"user_id"`
		DueDate string `json:"due_date"`
	}
	if err := response.DecodeBody(r, &body); err != nil {
		response.Err(w, "invalid body", 400)
		return
	}

	ve := &validation.ValidationErrors{}
	validation.ValidatePositiveInt(ve, "user_id", body.UserID)
	validation.RequireField(ve, "due_date", body.DueDate)
	validation.ValidateDate(ve, "due_date", body.DueDate)
	if ve.HasErrors() {
		response.Err(w, ve.Error(), 400)
		return
	}
	if !validation.UserExists(h.DB, body.UserID) {
		response.Err(w, "user_id: user does not exist", 400)
		return
	}

	var open int
	h.DB.QueryRow("SELECT COUNT(*) FROM training_assignments WHERE course_id=? AND user_id=? AND status='assigned'",
		courseID, body.UserID).Scan(&open)
	if open > 0 {
		response.Err(w, "user already has an open assignment for this course", 409)
		return
	}

	now := time.Now().Format("2006-01-02 15:04:05")
	username := audit.GetUsername(h.DB, r)
	res, err := h.DB.Exec(`INSERT INTO training_assignments (course_id,user_id,assigned_by,due_date,status,created_at)
		VALUES (?,?,?,?,'assigned',?)`, courseID, body.UserID, username, body.DueDate, now)
	if err != nil {
		response.Err(w, err.Error(), 500)
		return
	}
	id, _ := res.LastInsertId()

	audit.LogAudit(h.DB, h.Hub, username, "created", "training_assignment", courseID,
		"Assigned "+courseID+" to user")
	h.Hub.BroadcastChange("training", "assigned", id)

	a := models.TrainingAssignment{
		ID: int(id), CourseID: courseID, UserID: body.UserID, AssignedBy: username,
		DueDate: body.DueDate, Status: "assigned", CreatedAt: now,
	}
	response.JSON(w, a)
}

// ListAssignments handles GET /api/v1/training/assignments. Supports
// ?user_id= and ?status= filters.
func (h *Handler) ListAssignments(w http.ResponseWriter, r *http.Request) {
	query := `SELECT a.id,a.course_id,a.user_id,COALESCE(u.username,''),COALESCE(a.assigned_by,''),
		a.due_date,a.status,a.completed_at,a.created_at
		FROM training_assignments a LEFT JOIN users u ON u.id = a.user_id`
	var args []interface{}
	var conds []string
	if uid := r.URL.Query().Get("user_id"); uid != "" {
		conds = append(conds, "a.user_id=?")
		args = append(args, uid)
	}
	if s := r.URL.Query().Get("status"); s != "" {
		conds = append(conds, "a.status=?")
		args = append(args, s)
	}
	for i, c := range conds {
		if i == 0 {
			query += " WHERE " + c
		} else {
			query += " AND " + c
		}
	}
	query += " ORDER BY a.due_date ASC"

	rows, err := h.DB.Query(query, args...)
	if err != nil {
		response.Err(w, err.Error(), 500)
		return
	}
	defer rows.Close()
	items := scanAssignments(rows)
	response.JSON(w, items)
}

// CompleteAssignment handles POST /api/v1/training/assignments/:id/complete.
func (h *Handler) CompleteAssignment(w http.ResponseWriter, r *http.Request, id string) {
	now := time.Now().Format("2006-01-02 15:04:05")
	res, err := h.DB.Exec(`UPDATE training_assignments SET status='completed', completed_at=?
		WHERE id=? AND status='assigned'`, now, id)
	if err != nil {
		response.Err(w, err.Error(), 500)
		return
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		var status string
		err := h.DB.QueryRow("SELECT status FROM training_assignments WHERE id=?", id).Scan(&status)
		if err != nil {
			response.Err(w, "not found", 404)
			return
		}
		response.Err(w, "assignment is already "+status, 409)
		return
	}

	username := audit.GetUsername(h.DB, r)
	audit.LogAudit(h.DB, h.Hub, username, "updated", "training_assignment", id, "Completed assignment "+id)
	h.Hub.BroadcastChange("training", "completed", id)
	response.JSON(w, map[string]string{"status": "completed", "completed_at": now})
}

// OverdueReport handles GET /api/v1/training/overdue. Lists assignments
// past their due date that are still open.
func (h *Handler) OverdueReport(w http.ResponseWriter, r *http.Request) {
	today := time.Now().Format("2006-01-02")
	rows, err := h.DB.Query(`SELECT a.id,a.course_id,a.user_id,COALESCE(u.username,''),COALESCE(a.assigned_by,''),
		a.due_date,a.status,a.completed_at,a.created_at
		FROM training_assignments a LEFT JOIN users u ON u.id = a.user_id
		WHERE a.status='assigned' AND a.due_date < ? ORDER BY a.due_date ASC`, today)
	if err != nil {
		response.Err(w, err.Error(), 500)
		return
	}
	defer rows.Close()
	items := scanAssignments(rows)
	response.JSON(w, items)
}

func scanAssignments(rows *sql.Rows) []models.TrainingAssignment {
	var items []models.TrainingAssignment
	for rows.Next() {
		var a models.TrainingAssignment
		var completedAt sql.NullString
		if err := rows.Scan(&a.ID, &a.CourseID, &a.UserID, &a.Username, &a.AssignedBy,
			&a.DueDate, &a.Status, &completedAt, &a.CreatedAt); err != nil {
			continue
		}
		a.CompletedAt = database.SP(completedAt)
		items = append(items, a)
	}
	if items == nil {
		items = []models.TrainingAssignment{}
	}
	return items
}
