package quality_test

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"eqms/internal/models"
	"eqms/internal/testutil"
)

func TestCreateCAPA_Defaults(t *testing.T) {
	db := testutil.OpenDB(t)
	h := newTestHandler(db)

	body, _ := json.Marshal(map[string]string{"title": "Sterilization temp drift"})
	req := httptest.NewRequest("POST", "/api/v1/capas", bytes.NewReader(body))
	w := httptest.NewRecorder()
	h.CreateCAPA(w, req)

	if w.Code != 200 {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var c models.CAPA
	decodeData(t, w, &c)
	if c.Type != "corrective" {
		t.Errorf("Expected default type corrective, got %s", c.Type)
	}
	if c.RiskPriority != "medium" {
		t.Errorf("Expected default risk medium, got %s", c.RiskPriority)
	}
	if c.Status != "open" {
		t.Errorf("Expected status open, got %s", c.Status)
	}
}

func TestCreateCAPA_InvalidEnum(t *testing.T) {
	db := testutil.OpenDB(t)
	h := newTestHandler(db)

	body, _ := json.Marshal(map[string]string{"title": "x", "risk_priority": "urgent"})
	req := httptest.NewRequest("POST", "/api/v1/capas", bytes.NewReader(body))
	w := httptest.NewRecorder()
	h.CreateCAPA(w, req)
	if w.Code != 400 {
		t.Errorf("Expected 400 for invalid risk_priority, got %d", w.Code)
	}
}

func TestCreateCAPA_UnknownFinding(t *testing.T) {
	db := testutil.OpenDB(t)
	h := newTestHandler(db)

	body, _ := json.Marshal(map[string]string{"title": "x", "linked_finding_id": "FND-2026-999"})
	req := httptest.NewRequest("POST", "/api/v1/capas", bytes.NewReader(body))
	w := httptest.NewRecorder()
	h.CreateCAPA(w, req)
	if w.Code != 400 {
		t.Errorf("Expected 400 for unknown finding, got %d", w.Code)
	}
}

func TestListCAPAs_Filters(t *testing.T) {
	db := testutil.OpenDB(t)
	h := newTestHandler(db)

	seedCAPA(t, db, "CAPA-2026-001", "open", "alice", "")
	seedCAPA(t, db, "CAPA-2026-002", "open", "bob", "")
	seedCAPA(t, db, "CAPA-2026-003", "closed", "alice", "")

	req := httptest.NewRequest("GET", "/api/v1/capas?status=open&owner=alice", nil)
	w := httptest.NewRecorder()
	h.ListCAPAs(w, req)

	var items []models.CAPA
	decodeData(t, w, &items)
	if len(items) != 1 || items[0].ID != "CAPA-2026-001" {
		t.Errorf("Expected only CAPA-2026-001, got %+v", items)
	}
}

func TestUpdateCAPA_ClosedImmutable(t *testing.T) {
	db := testutil.OpenDB(t)
	h := newTestHandler(db)
	seedCAPA(t, db, "CAPA-2026-001", "closed", "", "")

	body, _ := json.Marshal(map[string]string{"title": "new"})
	req := httptest.NewRequest("PUT", "/api/v1/capas/CAPA-2026-001", bytes.NewReader(body))
	w := httptest.NewRecorder()
	h.UpdateCAPA(w, req, "CAPA-2026-001")
	if w.Code != 409 {
		t.Errorf("Expected 409 editing closed CAPA, got %d", w.Code)
	}
}

func TestUpdateCAPA_CloseRequiresFinalPhase(t *testing.T) {
	db := testutil.OpenDB(t)
	h := newTestHandler(db)
	seedCAPA(t, db, "CAPA-2026-001", "in_progress", "", "")
	db.Exec("INSERT INTO capa_workflows (capa_id, current_state) VALUES ('CAPA-2026-001','root_cause_analysis')")

	body, _ := json.Marshal(map[string]string{"status": "closed"})
	req := httptest.NewRequest("PUT", "/api/v1/capas/CAPA-2026-001", bytes.NewReader(body))
	w := httptest.NewRecorder()
	h.UpdateCAPA(w, req, "CAPA-2026-001")
	if w.Code != 409 {
		t.Errorf("Expected 409 closing before effectiveness verification, got %d", w.Code)
	}

	db.Exec("UPDATE capa_workflows SET current_state='effectiveness_verification' WHERE capa_id='CAPA-2026-001'")
	req = httptest.NewRequest("PUT", "/api/v1/capas/CAPA-2026-001", bytes.NewReader(bytes.Clone(body)))
	w = httptest.NewRecorder()
	h.UpdateCAPA(w, req, "CAPA-2026-001")
	if w.Code != 200 {
		t.Fatalf("Expected 200 closing at final phase, got %d: %s", w.Code, w.Body.String())
	}
	var c models.CAPA
	decodeData(t, w, &c)
	if c.Status != "closed" {
		t.Errorf("Expected closed, got %s", c.Status)
	}
	if c.ClosedAt == nil {
		t.Error("Expected closed_at set")
	}
}

func TestCAPADashboard(t *testing.T) {
	db := testutil.OpenDB(t)
	h := newTestHandler(db)

	seedCAPA(t, db, "CAPA-2026-001", "open", "alice", "2020-01-01")
	seedCAPA(t, db, "CAPA-2026-002", "in_progress", "alice", "2099-01-01")
	seedCAPA(t, db, "CAPA-2026-003", "open", "bob", "")
	seedCAPA(t, db, "CAPA-2026-004", "closed", "bob", "2020-01-01")
	db.Exec("INSERT INTO capa_workflows (capa_id, current_state) VALUES ('CAPA-2026-002','corrective_action')")

	req := httptest.NewRequest("GET", "/api/v1/capas/dashboard", nil)
	w := httptest.NewRecorder()
	h.CAPADashboard(w, req)

	var dash struct {
		TotalOpen    int            `json:"total_open"`
		TotalOverdue int            `json:"total_overdue"`
		ByOwner      []struct {
			Owner   string `json:"owner"`
			Count   int    `json:"count"`
			Overdue int    `json:"overdue"`
		} `json:"by_owner"`
		ByPhase map[string]int `json:"by_phase"`
	}
	decodeData(t, w, &dash)

	if dash.TotalOpen != 3 {
		t.Errorf("Expected 3 open, got %d", dash.TotalOpen)
	}
	if dash.TotalOverdue != 1 {
		t.Errorf("Expected 1 overdue, got %d", dash.TotalOverdue)
	}
	if dash.ByPhase["corrective_action"] != 1 {
		t.Errorf("Expected 1 in corrective_action, got %v", dash.ByPhase)
	}
}
