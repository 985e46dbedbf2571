package documents_test

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"eqms/internal/handlers/documents"
	"eqms/internal/models"
	"eqms/internal/testutil"
	"eqms/internal/websocket"
	"eqms/internal/workflow"
)

func newTestHandler(db *sql.DB) *documents.Handler {
	eng := workflow.NewEngine(db, testutil.NextIDFunc(db))
	eng.OnDocumentApproved = func(tx *sql.Tx, documentID, approvedBy, approvedAt string) error {
		_, err := tx.Exec(`UPDATE documents SET status='approved', approved_by=?, approved_at=?, updated_at=?
			WHERE id=?`, approvedBy, approvedAt, approvedAt, documentID)
		return err
	}
	eng.ResolveApprover = func(positionTitle string) (string, bool) {
		var username string
		err := db.QueryRow("SELECT username FROM users WHERE position=? AND active=1 ORDER BY id LIMIT 1",
			positionTitle).Scan(&username)
		return username, err == nil
	}
	return &documents.Handler{
		DB:         db,
		Hub:        websocket.NewHub(),
		NextIDFunc: testutil.NextIDFunc(db),
		Engine:     eng,
	}
}

// seedMatrix configures a two-level approval chain for SOPs.
func seedMatrix(t *testing.T, db *sql.DB) {
	t.Helper()
	rules := []struct {
		level    int
		position string
		days     int
	}{
		{1, "QA Manager", 5},
		{2, "Quality Director", 10},
	}
	for _, r := range rules {
		if _, err := db.Exec(`INSERT INTO approval_matrix (document_type, approval_level, position_title, escalation_days)
			VALUES ('sop',?,?,?)`, r.level, r.position, r.days); err != nil {
			t.Fatalf("Failed to seed matrix: %v", err)
		}
	}
}

func seedDocument(t *testing.T, db *sql.DB, id, docType, status, revision string) {
	t.Helper()
	if _, err := db.Exec(`INSERT INTO documents (id, title, doc_type, revision, status, content, created_by)
		VALUES (?,?,?,?,?,'initial content','tester')`, id, "Doc "+id, docType, revision, status); err != nil {
		t.Fatalf("Failed to seed document %s: %v", id, err)
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

func withSession(t *testing.T, db *sql.DB, req *http.Request, username string) {
	t.Helper()
	var userID int
	if err := db.QueryRow("SELECT id FROM users WHERE username=?", username).Scan(&userID); err != nil {
		t.Fatalf("User %s not found: %v", username, err)
	}
	token := testutil.CreateSession(t, db, userID)
	req.AddCookie(&http.Cookie{Name: "eqms_session", Value: token})
}
