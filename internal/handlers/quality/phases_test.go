package quality_test

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"eqms/internal/capa"
	"eqms/internal/testutil"
)

func TestStartPhaseWorkflow(t *testing.T) {
	db := testutil.OpenDB(t)
	h := newTestHandler(db)
	seedCAPA(t, db, "CAPA-2026-001", "open", "", "")

	body, _ := json.Marshal(map[string]string{})
	req := httptest.NewRequest("POST", "/api/v1/capas/CAPA-2026-001/workflow", bytes.NewReader(body))
	w := httptest.NewRecorder()
	h.StartPhaseWorkflow(w, req, "CAPA-2026-001")
	if w.Code != 200 {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var wf capa.Workflow
	decodeData(t, w, &wf)
	if wf.CurrentState != capa.PhaseCorrection {
		t.Errorf("Expected correction phase, got %s", wf.CurrentState)
	}

	// Starting the workflow moves an open CAPA to in_progress
	var status string
	db.QueryRow("SELECT status FROM capas WHERE id='CAPA-2026-001'").Scan(&status)
	if status != "in_progress" {
		t.Errorf("Expected CAPA in_progress, got %s", status)
	}

	// A second start is a conflict
	req = httptest.NewRequest("POST", "/api/v1/capas/CAPA-2026-001/workflow", bytes.NewReader([]byte("{}")))
	w = httptest.NewRecorder()
	h.StartPhaseWorkflow(w, req, "CAPA-2026-001")
	if w.Code != 409 {
		t.Errorf("Expected 409 on duplicate workflow, got %d", w.Code)
	}
}

func TestStartPhaseWorkflow_UnknownCAPA(t *testing.T) {
	db := testutil.OpenDB(t)
	h := newTestHandler(db)

	req := httptest.NewRequest("POST", "/api/v1/capas/CAPA-2026-999/workflow", bytes.NewReader([]byte("{}")))
	w := httptest.NewRecorder()
	h.StartPhaseWorkflow(w, req, "CAPA-2026-999")
	if w.Code != 404 {
		t.Errorf("Expected 404, got %d", w.Code)
	}
}

func TestTransitionPhase(t *testing.T) {
	db := testutil.OpenDB(t)
	h := newTestHandler(db)
	seedCAPA(t, db, "CAPA-2026-001", "open", "", "")

	w := httptest.NewRecorder()
	h.StartPhaseWorkflow(w, httptest.NewRequest("POST", "/", bytes.NewReader([]byte("{}"))), "CAPA-2026-001")

	body, _ := json.Marshal(map[string]string{"target": "root_cause_analysis", "comments": "containment done"})
	req := httptest.NewRequest("POST", "/api/v1/capas/CAPA-2026-001/transition", bytes.NewReader(body))
	w = httptest.NewRecorder()
	h.TransitionPhase(w, req, "CAPA-2026-001")
	if w.Code != 200 {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var wf capa.Workflow
	decodeData(t, w, &wf)
	if wf.CurrentState != capa.PhaseRootCauseAnalysis {
		t.Errorf("Expected root_cause_analysis, got %s", wf.CurrentState)
	}

	// Backward moves are forbidden under the default policy
	body, _ = json.Marshal(map[string]string{"target": "correction"})
	req = httptest.NewRequest("POST", "/api/v1/capas/CAPA-2026-001/transition", bytes.NewReader(body))
	w = httptest.NewRecorder()
	h.TransitionPhase(w, req, "CAPA-2026-001")
	if w.Code != 409 {
		t.Errorf("Expected 409 on backward move, got %d", w.Code)
	}

	// Unknown phase names are a validation error, not a conflict
	body, _ = json.Marshal(map[string]string{"target": "verification"})
	req = httptest.NewRequest("POST", "/api/v1/capas/CAPA-2026-001/transition", bytes.NewReader(body))
	w = httptest.NewRecorder()
	h.TransitionPhase(w, req, "CAPA-2026-001")
	if w.Code != 400 {
		t.Errorf("Expected 400 on unknown phase, got %d", w.Code)
	}
}

func TestPhaseHistory(t *testing.T) {
	db := testutil.OpenDB(t)
	h := newTestHandler(db)
	seedCAPA(t, db, "CAPA-2026-001", "open", "", "")

	w := httptest.NewRecorder()
	h.StartPhaseWorkflow(w, httptest.NewRequest("POST", "/", bytes.NewReader([]byte("{}"))), "CAPA-2026-001")

	for _, target := range []string{"root_cause_analysis", "corrective_action"} {
		body, _ := json.Marshal(map[string]string{"target": target})
		w = httptest.NewRecorder()
		h.TransitionPhase(w, httptest.NewRequest("POST", "/", bytes.NewReader(body)), "CAPA-2026-001")
		if w.Code != 200 {
			t.Fatalf("Transition to %s failed: %d", target, w.Code)
		}
	}

	w = httptest.NewRecorder()
	h.PhaseHistory(w, httptest.NewRequest("GET", "/", nil), "CAPA-2026-001")
	var entries []capa.HistoryEntry
	decodeData(t, w, &entries)
	if len(entries) != 2 {
		t.Fatalf("Expected 2 history entries, got %d", len(entries))
	}
	if entries[0].ToState != "root_cause_analysis" || entries[1].ToState != "corrective_action" {
		t.Errorf("History out of order: %+v", entries)
	}
}

func TestPhaseData_SaveAndGet(t *testing.T) {
	db := testutil.OpenDB(t)
	h := newTestHandler(db)
	seedCAPA(t, db, "CAPA-2026-001", "open", "", "")

	w := httptest.NewRecorder()
	h.StartPhaseWorkflow(w, httptest.NewRequest("POST", "/", bytes.NewReader([]byte("{}"))), "CAPA-2026-001")

	body, _ := json.Marshal(map[string]string{"data": `{"root_cause":"worn seal"}`})
	req := httptest.NewRequest("PUT", "/api/v1/capas/CAPA-2026-001/phases/root_cause_analysis", bytes.NewReader(body))
	w = httptest.NewRecorder()
	h.SavePhaseData(w, req, "CAPA-2026-001", "root_cause_analysis")
	if w.Code != 200 {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	h.GetPhaseData(w, httptest.NewRequest("GET", "/", nil), "CAPA-2026-001", "root_cause_analysis")
	var pd capa.PhaseData
	decodeData(t, w, &pd)
	if pd.Data != `{"root_cause":"worn seal"}` {
		t.Errorf("Unexpected phase data: %q", pd.Data)
	}

	// Invalid phase name
	w = httptest.NewRecorder()
	h.GetPhaseData(w, httptest.NewRequest("GET", "/", nil), "CAPA-2026-001", "analysis")
	if w.Code != 400 {
		t.Errorf("Expected 400 for invalid phase, got %d", w.Code)
	}
}
