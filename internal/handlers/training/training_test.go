package training_test

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"net/http/httptest"
	"strconv"
	"testing"

	"eqms/internal/handlers/training"
	"eqms/internal/models"
	"eqms/internal/testutil"
	"eqms/internal/websocket"
)

func newTestHandler(db *sql.DB) *training.Handler {
	return &training.Handler{
		DB:         db,
		Hub:        websocket.NewHub(),
		NextIDFunc: testutil.NextIDFunc(db),
	}
}

func seedCourse(t *testing.T, db *sql.DB, id, title string) {
	t.Helper()
	if _, err := db.Exec("INSERT INTO training_courses (id, title, frequency_months) VALUES (?,?,12)",
		id, title); err != nil {
		t.Fatalf("Failed to seed course %s: %v", id, err)
	}
}

func decodeData(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	var resp models.APIResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	raw, _ := json.Marshal(resp.Data)
	if err := json.Unmarshal(raw, v); err != nil {
		t.Fatalf("Failed to unmarshal data: %v", err)
	}
}

func TestCreateCourse(t *testing.T) {
	db := testutil.OpenDB(t)
	h := newTestHandler(db)

	body, _ := json.Marshal(map[string]interface{}{
		"title":            "GMP refresher",
		"frequency_months": 12,
	})
	req := httptest.NewRequest("POST", "/api/v1/training/courses", bytes.NewReader(body))
	w := httptest.NewRecorder()
	h.CreateCourse(w, req)
	if w.Code != 200 {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var c models.TrainingCourse
	decodeData(t, w, &c)
	if c.FrequencyMonths != 12 {
		t.Errorf("Expected frequency 12, got %d", c.FrequencyMonths)
	}
}

func TestCreateCourse_FrequencyOutOfRange(t *testing.T) {
	db := testutil.OpenDB(t)
	h := newTestHandler(db)

	body, _ := json.Marshal(map[string]interface{}{"title": "x", "frequency_months": 500})
	req := httptest.NewRequest("POST", "/", bytes.NewReader(body))
	w := httptest.NewRecorder()
	h.CreateCourse(w, req)
	if w.Code != 400 {
		t.Errorf("Expected 400, got %d", w.Code)
	}
}

func TestAssignCourse(t *testing.T) {
	db := testutil.OpenDB(t)
	h := newTestHandler(db)
	seedCourse(t, db, "TRN-2026-001", "GMP refresher")
	userID := testutil.CreateUser(t, db, "trainee", "Operator", "user")

	body, _ := json.Marshal(map[string]interface{}{"user_id": userID, "due_date": "2026-12-31"})
	req := httptest.NewRequest("POST", "/api/v1/training/courses/TRN-2026-001/assign", bytes.NewReader(body))
	w := httptest.NewRecorder()
	h.AssignCourse(w, req, "TRN-2026-001")
	if w.Code != 200 {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	// A duplicate open assignment is a conflict
	req = httptest.NewRequest("POST", "/", bytes.NewReader(bytes.Clone(body)))
	w = httptest.NewRecorder()
	h.AssignCourse(w, req, "TRN-2026-001")
	if w.Code != 409 {
		t.Errorf("Expected 409 on duplicate assignment, got %d", w.Code)
	}

	// Unknown user
	body, _ = json.Marshal(map[string]interface{}{"user_id": 999, "due_date": "2026-12-31"})
	req = httptest.NewRequest("POST", "/", bytes.NewReader(body))
	w = httptest.NewRecorder()
	h.AssignCourse(w, req, "TRN-2026-001")
	if w.Code != 400 {
		t.Errorf("Expected 400 for unknown user, got %d", w.Code)
	}

	// Unknown course
	w = httptest.NewRecorder()
	h.AssignCourse(w, httptest.NewRequest("POST", "/", bytes.NewReader([]byte("{}"))), "TRN-2026-999")
	if w.Code != 404 {
		t.Errorf("Expected 404 for unknown course, got %d", w.Code)
	}
}

func TestCompleteAssignment(t *testing.T) {
	db := testutil.OpenDB(t)
	h := newTestHandler(db)
	seedCourse(t, db, "TRN-2026-001", "GMP refresher")
	userID := testutil.CreateUser(t, db, "trainee", "Operator", "user")

	body, _ := json.Marshal(map[string]interface{}{"user_id": userID, "due_date": "2026-12-31"})
	w := httptest.NewRecorder()
	h.AssignCourse(w, httptest.NewRequest("POST", "/", bytes.NewReader(body)), "TRN-2026-001")
	var a models.TrainingAssignment
	decodeData(t, w, &a)
	id := strconv.Itoa(a.ID)

	w = httptest.NewRecorder()
	h.CompleteAssignment(w, httptest.NewRequest("POST", "/", nil), id)
	if w.Code != 200 {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	// Completing twice is a conflict, not a silent no-op
	w = httptest.NewRecorder()
	h.CompleteAssignment(w, httptest.NewRequest("POST", "/", nil), id)
	if w.Code != 409 {
		t.Errorf("Expected 409 completing twice, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	h.CompleteAssignment(w, httptest.NewRequest("POST", "/", nil), "999")
	if w.Code != 404 {
		t.Errorf("Expected 404 for unknown assignment, got %d", w.Code)
	}
}

func TestListAssignments_Filters(t *testing.T) {
	db := testutil.OpenDB(t)
	h := newTestHandler(db)
	seedCourse(t, db, "TRN-2026-001", "GMP refresher")
	u1 := testutil.CreateUser(t, db, "alice", "Operator", "user")
	u2 := testutil.CreateUser(t, db, "bob", "Operator", "user")
	db.Exec("INSERT INTO training_assignments (course_id,user_id,due_date,status) VALUES ('TRN-2026-001',?,'2026-12-31','assigned')", u1)
	db.Exec("INSERT INTO training_assignments (course_id,user_id,due_date,status) VALUES ('TRN-2026-001',?,'2026-12-31','completed')", u2)

	req := httptest.NewRequest("GET", "/api/v1/training/assignments?status=assigned", nil)
	w := httptest.NewRecorder()
	h.ListAssignments(w, req)

	var items []models.TrainingAssignment
	decodeData(t, w, &items)
	if len(items) != 1 {
		t.Fatalf("Expected 1 assigned, got %d", len(items))
	}
	if items[0].Username != "alice" {
		t.Errorf("Expected username alice, got %q", items[0].Username)
	}
}

func TestOverdueReport(t *testing.T) {
	db := testutil.OpenDB(t)
	h := newTestHandler(db)
	seedCourse(t, db, "TRN-2026-001", "GMP refresher")
	u1 := testutil.CreateUser(t, db, "alice", "Operator", "user")

	db.Exec("INSERT INTO training_assignments (course_id,user_id,due_date,status) VALUES ('TRN-2026-001',?,'2020-01-01','assigned')", u1)
	db.Exec("INSERT INTO training_assignments (course_id,user_id,due_date,status) VALUES ('TRN-2026-001',?,'2099-01-01','assigned')", u1)
	db.Exec("INSERT INTO training_assignments (course_id,user_id,due_date,status) VALUES ('TRN-2026-001',?,'2020-01-01','completed')", u1)

	w := httptest.NewRecorder()
	h.OverdueReport(w, httptest.NewRequest("GET", "/", nil))

	var items []models.TrainingAssignment
	decodeData(t, w, &items)
	if len(items) != 1 {
		t.Errorf("Expected 1 overdue assignment, got %d", len(items))
	}
}
