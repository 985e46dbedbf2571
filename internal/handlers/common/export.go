package common

import (
	"encoding/csv"
	"fmt"
	"net/http"
	"strconv"

	"github.com/xuri/excelize/v2"

	"eqms/internal/audit"
)

// ExportDocuments exports the controlled document register to CSV or Excel.
func (h *Handler) ExportDocuments(w http.ResponseWriter, r *http.Request) {
	format := exportFormat(r)

	query := `SELECT id,title,COALESCE(category,''),doc_type,revision,status,COALESCE(owner,''),
		COALESCE(approved_by,''),COALESCE(approved_at,''),created_at FROM documents`
	var args []interface{}
	if s := r.URL.Query().Get("status"); s != "" {
		query += " WHERE status=?"
		args = append(args, s)
	}
	query += " ORDER BY id"

	rows, err := h.DB.Query(query, args...)
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	defer rows.Close()

	headers := []string{"ID", "Title", "Category", "Type", "Revision", "Status", "Owner", "Approved By", "Approved At", "Created At"}
	var data [][]string
	for rows.Next() {
		var id, title, category, docType, revision, status, owner, approvedBy, approvedAt, createdAt string
		rows.Scan(&id, &title, &category, &docType, &revision, &status, &owner, &approvedBy, &approvedAt, &createdAt)
		data = append(data, []string{id, title, category, docType, revision, status, owner, approvedBy, approvedAt, createdAt})
	}

	audit.LogDataExport(h.DB, h.Hub, r, "documents", format, len(data))
	writeExport(w, format, "Documents", "documents", headers, data)
}

// ExportCAPAs exports the CAPA register with current phase to CSV or Excel.
func (h *Handler) ExportCAPAs(w http.ResponseWriter, r *http.Request) {
	format := exportFormat(r)

	rows, err := h.DB.Query(`SELECT c.id,c.title,c.type,COALESCE(c.risk_priority,''),COALESCE(c.source,''),
		COALESCE(c.owner,''),c.status,COALESCE(c.due_date,''),COALESCE(w.current_state,''),c.created_at
		FROM capas c LEFT JOIN capa_workflows w ON w.capa_id = c.id ORDER BY c.id`)
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	defer rows.Close()

	headers := []string{"ID", "Title", "Type", "Risk Priority", "Source", "Owner", "Status", "Due Date", "Phase", "Created At"}
	var data [][]string
	for rows.Next() {
		var id, title, capaType, risk, source, owner, status, dueDate, phase, createdAt string
		rows.Scan(&id, &title, &capaType, &risk, &source, &owner, &status, &dueDate, &phase, &createdAt)
		data = append(data, []string{id, title, capaType, risk, source, owner, status, dueDate, phase, createdAt})
	}

	audit.LogDataExport(h.DB, h.Hub, r, "capas", format, len(data))
	writeExport(w, format, "CAPAs", "capas", headers, data)
}

// ExportSuppliers exports the approved supplier list with latest
// evaluation score to CSV or Excel.
func (h *Handler) ExportSuppliers(w http.ResponseWriter, r *http.Request) {
	format := exportFormat(r)

	rows, err := h.DB.Query(`SELECT s.id,s.name,COALESCE(s.category,''),s.status,
		COALESCE((SELECT e.score FROM supplier_evaluations e WHERE e.supplier_id = s.id
			ORDER BY e.evaluated_at DESC LIMIT 1), -1),
		s.created_at FROM suppliers s ORDER BY s.name`)
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	defer rows.Close()

	headers := []string{"ID", "Name", "Category", "Status", "Latest Score", "Created At"}
	var data [][]string
	for rows.Next() {
		var id, name, category, status, createdAt string
		var score int
		rows.Scan(&id, &name, &category, &status, &score, &createdAt)
		scoreStr := ""
		if score >= 0 {
			scoreStr = strconv.Itoa(score)
		}
		data = append(data, []string{id, name, category, status, scoreStr, createdAt})
	}

	audit.LogDataExport(h.DB, h.Hub, r, "suppliers", format, len(data))
	writeExport(w, format, "Suppliers", "suppliers", headers, data)
}

// ExportTraining exports training assignments with user and course
// details to CSV or Excel.
func (h *Handler) ExportTraining(w http.ResponseWriter, r *http.Request) {
	format := exportFormat(r)

	rows, err := h.DB.Query(`SELECT a.id, c.id, c.title, COALESCE(u.username,''), a.due_date, a.status,
		COALESCE(a.completed_at,'') FROM training_assignments a
		JOIN training_courses c ON c.id = a.course_id
		LEFT JOIN users u ON u.id = a.user_id ORDER BY a.due_date`)
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	defer rows.Close()

	headers := []string{"Assignment", "Course", "Title", "User", "Due Date", "Status", "Completed At"}
	var data [][]string
	for rows.Next() {
		var assignmentID int
		var courseID, title, username, dueDate, status, completedAt string
		rows.Scan(&assignmentID, &courseID, &title, &username, &dueDate, &status, &completedAt)
		data = append(data, []string{strconv.Itoa(assignmentID), courseID, title, username, dueDate, status, completedAt})
	}

	audit.LogDataExport(h.DB, h.Hub, r, "training", format, len(data))
	writeExport(w, format, "Training", "training", headers, data)
}

// ExportTraceability exports the requirement/test trace matrix to CSV or
// Excel, one row per trace link plus rows for unlinked requirements.
func (h *Handler) ExportTraceability(w http.ResponseWriter, r *http.Request) {
	format := exportFormat(r)

	rows, err := h.DB.Query(`SELECT q.id, q.title, q.req_type, COALESCE(t.id,''), COALESCE(t.title,''),
		COALESCE(t.phase,''), COALESCE(t.result,'')
		FROM design_requirements q
		LEFT JOIN trace_links l ON l.requirement_id = q.id
		LEFT JOIN verification_tests t ON t.id = l.test_id
		ORDER BY q.id, t.id`)
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	defer rows.Close()

	headers := []string{"Requirement", "Requirement Title", "Type", "Test", "Test Title", "Phase", "Result"}
	var data [][]string
	for rows.Next() {
		var reqID, reqTitle, reqType, testID, testTitle, phase, result string
		rows.Scan(&reqID, &reqTitle, &reqType, &testID, &testTitle, &phase, &result)
		data = append(data, []string{reqID, reqTitle, reqType, testID, testTitle, phase, result})
	}

	audit.LogDataExport(h.DB, h.Hub, r, "traceability", format, len(data))
	writeExport(w, format, "Traceability", "traceability", headers, data)
}

func exportFormat(r *http.Request) string {
	format := r.URL.Query().Get("format")
	if format != "xlsx" {
		format = "csv"
	}
	return format
}

func writeExport(w http.ResponseWriter, format, sheetName, baseName string, headers []string, data [][]string) {
	if format == "xlsx" {
		ExportExcel(w, sheetName, headers, data)
	} else {
		ExportCSV(w, baseName+".csv", headers, data)
	}
}

// ExportCSV writes data to CSV format.
func ExportCSV(w http.ResponseWriter, filename string, headers []string, data [][]string) {
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", filename))

	writer := csv.NewWriter(w)
	defer writer.Flush()

	if err := writer.Write(headers); err != nil {
		http.Error(w, "Failed to write CSV headers", 500)
		return
	}
	for _, row := range data {
		if err := writer.Write(row); err != nil {
			http.Error(w, "Failed to write CSV row", 500)
			return
		}
	}
}

// ExportExcel writes data to Excel format.
func ExportExcel(w http.ResponseWriter, sheetName string, headers []string, data [][]string) {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(sheetName)
	if err != nil {
		http.Error(w, "Failed to create Excel sheet", 500)
		return
	}
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#D3D3D3"}, Pattern: 1},
	})
	if err != nil {
		http.Error(w, "Failed to create header style", 500)
		return
	}

	for i, header := range headers {
		cell := fmt.Sprintf("%s1", string(rune('A'+i)))
		f.SetCellValue(sheetName, cell, header)
		f.SetCellStyle(sheetName, cell, cell, headerStyle)
	}

	for rowIdx, row := range data {
		for colIdx, value := range row {
			cell := fmt.Sprintf("%s%d", string(rune('A'+colIdx)), rowIdx+2)
			f.SetCellValue(sheetName, cell, value)
		}
	}

	for i := range headers {
		col := string(rune('A' + i))
		f.SetColWidth(sheetName, col, col, 15)
	}

	if sheetName != "Sheet1" {
		f.DeleteSheet("Sheet1")
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.xlsx", sheetName))
	if err := f.Write(w); err != nil {
		http.Error(w, "Failed to write Excel file", 500)
	}
}
