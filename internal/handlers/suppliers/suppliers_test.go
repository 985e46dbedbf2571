package suppliers_test

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"eqms/internal/handlers/suppliers"
	"eqms/internal/models"
	"eqms/internal/testutil"
	"eqms/internal/websocket"
)

func newTestHandler(db *sql.DB) *suppliers.Handler {
	return &suppliers.Handler{
		DB:         db,
		Hub:        websocket.NewHub(),
		NextIDFunc: testutil.NextIDFunc(db),
	}
}

func seedSupplier(t *testing.T, db *sql.DB, id, name, status string) {
	t.Helper()
	if _, err := db.Exec("INSERT INTO suppliers (id, name, status) VALUES (?,?,?)", id, name, status); err != nil {
		t.Fatalf("Failed to seed supplier %s: %v", id, err)
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

func TestCreateSupplier_StartsConditional(t *testing.T) {
	db := testutil.OpenDB(t)
	h := newTestHandler(db)

	body, _ := json.Marshal(map[string]string{
		"name":          "Acme Sterilization",
		"category":      "sterilization",
		"contact_email": "quality@acme.example",
	})
	req := httptest.NewRequest("POST", "/api/v1/suppliers", bytes.NewReader(body))
	w := httptest.NewRecorder()
	h.CreateSupplier(w, req)
	if w.Code != 200 {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var s models.Supplier
	decodeData(t, w, &s)
	if s.Status != "conditional" {
		t.Errorf("New suppliers must start conditional, got %s", s.Status)
	}
}

func TestCreateSupplier_BadEmail(t *testing.T) {
	db := testutil.OpenDB(t)
	h := newTestHandler(db)

	body, _ := json.Marshal(map[string]string{"name": "x", "contact_email": "not-an-email"})
	req := httptest.NewRequest("POST", "/", bytes.NewReader(body))
	w := httptest.NewRecorder()
	h.CreateSupplier(w, req)
	if w.Code != 400 {
		t.Errorf("Expected 400 for bad email, got %d", w.Code)
	}
}

func TestUpdateSupplier_ApprovalNeedsPassingEvaluation(t *testing.T) {
	db := testutil.OpenDB(t)
	h := newTestHandler(db)
	seedSupplier(t, db, "SUP-2026-001", "Acme", "conditional")

	body, _ := json.Marshal(map[string]string{"status": "approved"})
	req := httptest.NewRequest("PUT", "/", bytes.NewReader(body))
	w := httptest.NewRecorder()
	h.UpdateSupplier(w, req, "SUP-2026-001")
	if w.Code != 409 {
		t.Errorf("Expected 409 approving without evaluation, got %d", w.Code)
	}

	db.Exec("INSERT INTO supplier_evaluations (supplier_id, score) VALUES ('SUP-2026-001', 85)")
	req = httptest.NewRequest("PUT", "/", bytes.NewReader(bytes.Clone(body)))
	w = httptest.NewRecorder()
	h.UpdateSupplier(w, req, "SUP-2026-001")
	if w.Code != 200 {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var s models.Supplier
	decodeData(t, w, &s)
	if s.Status != "approved" {
		t.Errorf("Expected approved, got %s", s.Status)
	}
}

func TestCreateEvaluation_FailingScoreDemotes(t *testing.T) {
	db := testutil.OpenDB(t)
	h := newTestHandler(db)
	seedSupplier(t, db, "SUP-2026-001", "Acme", "approved")

	body, _ := json.Marshal(map[string]interface{}{"score": 55, "notes": "late deliveries"})
	req := httptest.NewRequest("POST", "/api/v1/suppliers/SUP-2026-001/evaluations", bytes.NewReader(body))
	w := httptest.NewRecorder()
	h.CreateEvaluation(w, req, "SUP-2026-001")
	if w.Code != 200 {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var status string
	db.QueryRow("SELECT status FROM suppliers WHERE id='SUP-2026-001'").Scan(&status)
	if status != "conditional" {
		t.Errorf("Failing score must demote supplier to conditional, got %s", status)
	}
}

func TestCreateEvaluation_PassingScoreKeepsStatus(t *testing.T) {
	db := testutil.OpenDB(t)
	h := newTestHandler(db)
	seedSupplier(t, db, "SUP-2026-001", "Acme", "approved")

	body, _ := json.Marshal(map[string]interface{}{"score": 92})
	req := httptest.NewRequest("POST", "/", bytes.NewReader(body))
	w := httptest.NewRecorder()
	h.CreateEvaluation(w, req, "SUP-2026-001")
	if w.Code != 200 {
		t.Fatalf("Expected 200, got %d", w.Code)
	}

	var status string
	db.QueryRow("SELECT status FROM suppliers WHERE id='SUP-2026-001'").Scan(&status)
	if status != "approved" {
		t.Errorf("Passing score must not change status, got %s", status)
	}
}

func TestCreateEvaluation_ScoreOutOfRange(t *testing.T) {
	db := testutil.OpenDB(t)
	h := newTestHandler(db)
	seedSupplier(t, db, "SUP-2026-001", "Acme", "conditional")

	body, _ := json.Marshal(map[string]interface{}{"score": 105})
	req := httptest.NewRequest("POST", "/", bytes.NewReader(body))
	w := httptest.NewRecorder()
	h.CreateEvaluation(w, req, "SUP-2026-001")
	if w.Code != 400 {
		t.Errorf("Expected 400 for score > 100, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	h.CreateEvaluation(w, httptest.NewRequest("POST", "/", bytes.NewReader([]byte(`{"score":50}`))), "SUP-2026-999")
	if w.Code != 404 {
		t.Errorf("Expected 404 for unknown supplier, got %d", w.Code)
	}
}

func TestListSuppliers_StatusFilter(t *testing.T) {
	db := testutil.OpenDB(t)
	h := newTestHandler(db)
	seedSupplier(t, db, "SUP-2026-001", "Acme", "approved")
	seedSupplier(t, db, "SUP-2026-002", "Globex", "blocked")

	req := httptest.NewRequest("GET", "/api/v1/suppliers?status=approved", nil)
	w := httptest.NewRecorder()
	h.ListSuppliers(w, req)

	var items []models.Supplier
	decodeData(t, w, &items)
	if len(items) != 1 || items[0].ID != "SUP-2026-001" {
		t.Errorf("Expected only SUP-2026-001, got %+v", items)
	}
}
