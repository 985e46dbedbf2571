package admin_test

import (
	"database/sql"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"eqms/internal/handlers/admin"
	"eqms/internal/models"
	"eqms/internal/websocket"
)

func newTestHandler(db *sql.DB) *admin.Handler {
	return &admin.Handler{DB: db, Hub: websocket.NewHub()}
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
