package quality_test

import (
	"database/sql"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"eqms/internal/capa"
	"eqms/internal/handlers/quality"
	"eqms/internal/models"
	"eqms/internal/testutil"
	"eqms/internal/websocket"
)

func newTestHandler(db *sql.DB) *quality.Handler {
	return &quality.Handler{
		DB:         db,
		Hub:        websocket.NewHub(),
		NextIDFunc: testutil.NextIDFunc(db),
		Engine:     capa.NewEngine(db, capa.TransitionPolicy{}),
	}
}

func seedCAPA(t *testing.T, db *sql.DB, id, status, owner, dueDate string) {
	t.Helper()
	if _, err := db.Exec(`INSERT INTO capas (id, title, type, risk_priority, status, owner, due_date, created_by)
		VALUES (?,?,'corrective','medium',?,?,?,'tester')`, id, "CAPA "+id, status, owner, dueDate); err != nil {
		t.Fatalf("Failed to seed CAPA %s: %v", id, err)
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
