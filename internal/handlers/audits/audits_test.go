package audits_test

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"eqms/internal/handlers/audits"
	"eqms/internal/models"
	"eqms/internal/testutil"
	"eqms/internal/websocket"
)

func newTestHandler(db *sql.DB) *audits.Handler {
	return &audits.Handler{
		DB:         db,
		Hub:        websocket.NewHub(),
		NextIDFunc: testutil.NextIDFunc(db),
	}
}

func seedAudit(t *testing.T, db *sql.DB, id, auditType, status string) {
	t.Helper()
	if _, err := db.Exec(`INSERT INTO qms_audits (id, title, audit_type, status)
		VALUES (?,?,?,?)`, id, "Audit "+id, auditType, status); err != nil {
		t.Fatalf("Failed to seed audit %s: %v", id, err)
	}
}

func seedFinding(t *testing.T, db *sql.DB, id, auditID, severity, status, capaID string) {
	t.Helper()
	if _, err := db.Exec(`INSERT INTO audit_findings (id, audit_id, description, severity, status, capa_id)
		VALUES (?,?,'finding text',?,?,?)`, id, auditID, severity, status, capaID); err != nil {
		t.Fatalf("Failed to seed finding %s: %v", id, err)
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

func TestCreateAudit(t *testing.T) {
	db := testutil.OpenDB(t)
	h := newTestHandler(db)

	body, _ := json.Marshal(map[string]string{
		"title":          "Annual internal audit",
		"audit_type":     "internal",
		"scope":          "Production and QC",
		"scheduled_date": "2026-10-01",
	})
	req := httptest.NewRequest("POST", "/api/v1/audits", bytes.NewReader(body))
	w := httptest.NewRecorder()
	h.CreateAudit(w, req)

	if w.Code != 200 {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var a models.QMSAudit
	decodeData(t, w, &a)
	if a.Status != "planned" {
		t.Errorf("Expected planned, got %s", a.Status)
	}
}

func TestCreateAudit_InvalidType(t *testing.T) {
	db := testutil.OpenDB(t)
	h := newTestHandler(db)

	body, _ := json.Marshal(map[string]string{"title": "x", "audit_type": "surprise"})
	req := httptest.NewRequest("POST", "/api/v1/audits", bytes.NewReader(body))
	w := httptest.NewRecorder()
	h.CreateAudit(w, req)
	if w.Code != 400 {
		t.Errorf("Expected 400, got %d", w.Code)
	}
}

func TestUpdateAudit_CloseBlockedByOpenFindings(t *testing.T) {
	db := testutil.OpenDB(t)
	h := newTestHandler(db)
	seedAudit(t, db, "AUD-2026-001", "internal", "in_progress")
	seedFinding(t, db, "FND-2026-001", "AUD-2026-001", "minor", "open", "")

	body, _ := json.Marshal(map[string]string{"status": "closed"})
	req := httptest.NewRequest("PUT", "/api/v1/audits/AUD-2026-001", bytes.NewReader(body))
	w := httptest.NewRecorder()
	h.UpdateAudit(w, req, "AUD-2026-001")
	if w.Code != 409 {
		t.Errorf("Expected 409 with open finding, got %d", w.Code)
	}

	db.Exec("UPDATE audit_findings SET status='closed' WHERE id='FND-2026-001'")
	req = httptest.NewRequest("PUT", "/api/v1/audits/AUD-2026-001", bytes.NewReader(bytes.Clone(body)))
	w = httptest.NewRecorder()
	h.UpdateAudit(w, req, "AUD-2026-001")
	if w.Code != 200 {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var a models.QMSAudit
	decodeData(t, w, &a)
	if a.Status != "closed" {
		t.Errorf("Expected closed, got %s", a.Status)
	}
	if a.CompletedDate == nil {
		t.Error("Expected completed_date set on close")
	}
}

func TestCreateFinding(t *testing.T) {
	db := testutil.OpenDB(t)
	h := newTestHandler(db)
	seedAudit(t, db, "AUD-2026-001", "internal", "in_progress")

	body, _ := json.Marshal(map[string]string{"description": "Missing signature on DHR", "severity": "major"})
	req := httptest.NewRequest("POST", "/api/v1/audits/AUD-2026-001/findings", bytes.NewReader(body))
	w := httptest.NewRecorder()
	h.CreateFinding(w, req, "AUD-2026-001")

	if w.Code != 200 {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var f models.AuditFinding
	decodeData(t, w, &f)
	if f.Status != "open" {
		t.Errorf("Expected open, got %s", f.Status)
	}
	if f.AuditID != "AUD-2026-001" {
		t.Errorf("Expected audit_id AUD-2026-001, got %s", f.AuditID)
	}
}

func TestCreateFinding_ClosedAudit(t *testing.T) {
	db := testutil.OpenDB(t)
	h := newTestHandler(db)
	seedAudit(t, db, "AUD-2026-001", "internal", "closed")

	body, _ := json.Marshal(map[string]string{"description": "late finding", "severity": "minor"})
	req := httptest.NewRequest("POST", "/", bytes.NewReader(body))
	w := httptest.NewRecorder()
	h.CreateFinding(w, req, "AUD-2026-001")
	if w.Code != 409 {
		t.Errorf("Expected 409 on closed audit, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	h.CreateFinding(w, httptest.NewRequest("POST", "/", bytes.NewReader([]byte("{}"))), "AUD-2026-999")
	if w.Code != 404 {
		t.Errorf("Expected 404 for unknown audit, got %d", w.Code)
	}
}

func TestUpdateFinding_MajorNeedsCAPAToClose(t *testing.T) {
	db := testutil.OpenDB(t)
	h := newTestHandler(db)
	seedAudit(t, db, "AUD-2026-001", "internal", "in_progress")
	seedFinding(t, db, "FND-2026-001", "AUD-2026-001", "major", "open", "")

	body, _ := json.Marshal(map[string]string{"status": "closed"})
	req := httptest.NewRequest("PUT", "/", bytes.NewReader(body))
	w := httptest.NewRecorder()
	h.UpdateFinding(w, req, "FND-2026-001")
	if w.Code != 409 {
		t.Errorf("Expected 409 closing major finding without CAPA, got %d", w.Code)
	}

	// Minor findings close without a CAPA
	seedFinding(t, db, "FND-2026-002", "AUD-2026-001", "minor", "open", "")
	req = httptest.NewRequest("PUT", "/", bytes.NewReader(bytes.Clone(body)))
	w = httptest.NewRecorder()
	h.UpdateFinding(w, req, "FND-2026-002")
	if w.Code != 200 {
		t.Fatalf("Expected 200 closing minor finding, got %d: %s", w.Code, w.Body.String())
	}
}

func TestCreateCAPAFromFinding(t *testing.T) {
	db := testutil.OpenDB(t)
	h := newTestHandler(db)
	seedAudit(t, db, "AUD-2026-001", "supplier", "in_progress")
	seedFinding(t, db, "FND-2026-001", "AUD-2026-001", "critical", "open", "")

	body, _ := json.Marshal(map[string]string{"owner": "qa1", "due_date": "2026-12-01"})
	req := httptest.NewRequest("POST", "/api/v1/findings/FND-2026-001/capa", bytes.NewReader(body))
	w := httptest.NewRecorder()
	h.CreateCAPAFromFinding(w, req, "FND-2026-001")
	if w.Code != 200 {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var link map[string]string
	decodeData(t, w, &link)
	capaID := link["capa_id"]
	if capaID == "" {
		t.Fatal("Expected capa_id in response")
	}

	var riskPriority, source, linkedFinding string
	db.QueryRow("SELECT risk_priority, source, linked_finding_id FROM capas WHERE id=?", capaID).
		Scan(&riskPriority, &source, &linkedFinding)
	if riskPriority != "critical" {
		t.Errorf("Expected critical risk from critical finding, got %s", riskPriority)
	}
	if source != "audit_finding" {
		t.Errorf("Expected source audit_finding, got %s", source)
	}
	if linkedFinding != "FND-2026-001" {
		t.Errorf("Expected linked finding FND-2026-001, got %s", linkedFinding)
	}

	var findingStatus, findingCAPA string
	db.QueryRow("SELECT status, capa_id FROM audit_findings WHERE id='FND-2026-001'").
		Scan(&findingStatus, &findingCAPA)
	if findingStatus != "capa_raised" {
		t.Errorf("Expected finding capa_raised, got %s", findingStatus)
	}
	if findingCAPA != capaID {
		t.Errorf("Expected finding linked to %s, got %s", capaID, findingCAPA)
	}

	// Second CAPA from the same finding is a conflict
	w = httptest.NewRecorder()
	h.CreateCAPAFromFinding(w, httptest.NewRequest("POST", "/", bytes.NewReader([]byte("{}"))), "FND-2026-001")
	if w.Code != 409 {
		t.Errorf("Expected 409 on second CAPA, got %d", w.Code)
	}
}

func TestListFindings(t *testing.T) {
	db := testutil.OpenDB(t)
	h := newTestHandler(db)
	seedAudit(t, db, "AUD-2026-001", "internal", "in_progress")
	seedAudit(t, db, "AUD-2026-002", "internal", "in_progress")
	seedFinding(t, db, "FND-2026-001", "AUD-2026-001", "minor", "open", "")
	seedFinding(t, db, "FND-2026-002", "AUD-2026-002", "minor", "open", "")

	w := httptest.NewRecorder()
	h.ListFindings(w, httptest.NewRequest("GET", "/", nil), "AUD-2026-001")
	var items []models.AuditFinding
	decodeData(t, w, &items)
	if len(items) != 1 || items[0].ID != "FND-2026-001" {
		t.Errorf("Expected only FND-2026-001, got %+v", items)
	}
}
