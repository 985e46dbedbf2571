package main

import (
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"eqms/internal/database"
	"eqms/internal/models"
	"eqms/internal/response"
)

// generateNotifications scans for overdue approval steps, CAPAs and
// training assignments and raises one unread notification per record.
// Advisory only: nothing here mutates workflow state.
func generateNotifications() {
	now := time.Now().Format("2006-01-02 15:04:05")
	today := time.Now().Format("2006-01-02")

	// Pending approval steps past their due date
	rows, err := db.Query(`SELECT s.workflow_id, s.approval_level, s.position_title, w.document_id
		FROM workflow_steps s JOIN workflows w ON w.id = s.workflow_id
		WHERE s.status='pending' AND w.status='in_progress' AND s.due_date < ?`, now)
	if err == nil {
		for rows.Next() {
			var workflowID, positionTitle, documentID string
			var level int
			rows.Scan(&workflowID, &level, &positionTitle, &documentID)
			raiseNotification("approval_overdue", "warning",
				"Approval overdue: "+documentID,
				"Level "+positionTitle+" approval for "+documentID+" is past due",
				workflowID, "workflows")
		}
		rows.Close()
	}

	// Open CAPAs past their due date
	rows, err = db.Query(`SELECT id, title FROM capas
		WHERE status != 'closed' AND due_date != '' AND due_date < ?`, today)
	if err == nil {
		for rows.Next() {
			var id, title string
			rows.Scan(&id, &title)
			raiseNotification("capa_overdue", "critical",
				"CAPA overdue: "+id,
				id+" ("+title+") is past its due date",
				id, "capas")
		}
		rows.Close()
	}

	// Open training assignments past their due date
	rows, err = db.Query(`SELECT a.id, c.title, COALESCE(u.username,'')
		FROM training_assignments a
		JOIN training_courses c ON c.id = a.course_id
		LEFT JOIN users u ON u.id = a.user_id
		WHERE a.status='assigned' AND a.due_date < ?`, today)
	if err == nil {
		for rows.Next() {
			var id int
			var title, username string
			rows.Scan(&id, &title, &username)
			raiseNotification("training_overdue", "warning",
				"Training overdue: "+title,
				username+" has not completed "+title,
				strconv.Itoa(id), "training")
		}
		rows.Close()
	}
}

// raiseNotification inserts a notification unless an unread one already
// exists for the same type and record.
func raiseNotification(notifType, severity, title, message, recordID, module string) {
	var exists int
	db.QueryRow("SELECT COUNT(*) FROM notifications WHERE type=? AND record_id=? AND read_at IS NULL",
		notifType, recordID).Scan(&exists)
	if exists > 0 {
		return
	}
	res, err := db.Exec(`INSERT INTO notifications (type, severity, title, message, record_id, module)
		VALUES (?,?,?,?,?,?)`, notifType, severity, title, message, recordID, module)
	if err != nil {
		return
	}
	id, _ := res.LastInsertId()
	wsHub.BroadcastChange("notifications", "created", id)
}

func handleListNotifications(w http.ResponseWriter, r *http.Request) {
	query := `SELECT id,type,severity,title,message,COALESCE(record_id,''),COALESCE(module,''),read_at,created_at
		FROM notifications`
	if r.URL.Query().Get("unread") == "true" {
		query += " WHERE read_at IS NULL"
	}
	query += " ORDER BY created_at DESC LIMIT 200"

	rows, err := db.Query(query)
	if err != nil {
		response.Err(w, err.Error(), 500)
		return
	}
	defer rows.Close()

	var items []models.Notification
	for rows.Next() {
		var n models.Notification
		var readAt sql.NullString
		rows.Scan(&n.ID, &n.Type, &n.Severity, &n.Title, &n.Message, &n.RecordID, &n.Module, &readAt, &n.CreatedAt)
		n.ReadAt = database.SP(readAt)
		items = append(items, n)
	}
	if items == nil {
		items = []models.Notification{}
	}
	response.JSON(w, items)
}

func handleMarkNotificationRead(w http.ResponseWriter, r *http.Request, id string) {
	now := time.Now().Format("2006-01-02 15:04:05")
	res, err := db.Exec("UPDATE notifications SET read_at=? WHERE id=? AND read_at IS NULL", now, id)
	if err != nil {
		response.Err(w, err.Error(), 500)
		return
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		response.Err(w, "not found", 404)
		return
	}
	response.JSON(w, map[string]string{"status": "read"})
}
