// Package testutil provides an in-memory SQLite database with the full
// application schema for handler and engine tests.
package testutil

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
	_ "modernc.org/sqlite"

	"eqms/internal/database"
)

var schema = []string{
	`CREATE TABLE users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT UNIQUE NOT NULL,
		password_hash TEXT NOT NULL,
		display_name TEXT DEFAULT '',
		position TEXT DEFAULT '',
		role TEXT DEFAULT 'user' CHECK(role IN ('admin','user','readonly')),
		active INTEGER DEFAULT 1,
		last_login DATETIME,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE sessions (
		token TEXT PRIMARY KEY,
		user_id INTEGER NOT NULL,
		expires_at DATETIME NOT NULL,
		FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
	)`,
	`CREATE TABLE login_attempts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL,
		ip_address TEXT DEFAULT '',
		success INTEGER DEFAULT 0,
		attempted_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE audit_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER DEFAULT 0,
		username TEXT DEFAULT '',
		action TEXT NOT NULL,
		module TEXT NOT NULL,
		record_id TEXT DEFAULT '',
		summary TEXT DEFAULT '',
		before_value TEXT DEFAULT '',
		after_value TEXT DEFAULT '',
		ip_address TEXT DEFAULT '',
		user_agent TEXT DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE settings (
		key TEXT PRIMARY KEY,
		value TEXT DEFAULT ''
	)`,
	`CREATE TABLE notifications (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		type TEXT NOT NULL,
		severity TEXT DEFAULT 'info',
		title TEXT NOT NULL,
		message TEXT DEFAULT '',
		record_id TEXT DEFAULT '',
		module TEXT DEFAULT '',
		read_at DATETIME,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE documents (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		category TEXT DEFAULT '',
		doc_type TEXT NOT NULL,
		revision TEXT DEFAULT 'A',
		status TEXT DEFAULT 'draft',
		content TEXT DEFAULT '',
		owner TEXT DEFAULT '',
		approved_by TEXT DEFAULT '',
		approved_at DATETIME,
		created_by TEXT DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE document_revisions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		document_id TEXT NOT NULL,
		revision TEXT NOT NULL,
		changes_summary TEXT DEFAULT '',
		created_by TEXT DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE approval_matrix (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		document_type TEXT NOT NULL,
		approval_level INTEGER NOT NULL,
		position_title TEXT NOT NULL,
		escalation_days INTEGER NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE (document_type, approval_level)
	)`,
	`CREATE TABLE workflows (
		id TEXT PRIMARY KEY,
		document_id TEXT NOT NULL,
		document_type TEXT NOT NULL,
		document_version TEXT DEFAULT '',
		status TEXT DEFAULT 'in_progress',
		current_level INTEGER DEFAULT 1,
		initiated_by TEXT DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		completed_at DATETIME
	)`,
	`CREATE TABLE workflow_steps (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		workflow_id TEXT NOT NULL,
		approval_level INTEGER NOT NULL,
		position_title TEXT NOT NULL,
		escalation_days INTEGER DEFAULT 0,
		assigned_to TEXT DEFAULT '',
		delegated_to TEXT DEFAULT '',
		delegated_by TEXT DEFAULT '',
		delegated_at DATETIME,
		delegation_reason TEXT DEFAULT '',
		status TEXT DEFAULT 'waiting',
		due_date DATETIME,
		decided_by TEXT DEFAULT '',
		decided_at DATETIME,
		comments TEXT DEFAULT '',
		UNIQUE (workflow_id, approval_level)
	)`,
	`CREATE TABLE workflow_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		workflow_id TEXT NOT NULL,
		approval_level INTEGER NOT NULL,
		from_state TEXT NOT NULL,
		to_state TEXT NOT NULL,
		actor TEXT DEFAULT '',
		comments TEXT DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE capas (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		description TEXT DEFAULT '',
		type TEXT DEFAULT 'corrective',
		risk_priority TEXT DEFAULT 'medium',
		source TEXT DEFAULT '',
		linked_finding_id TEXT DEFAULT '',
		owner TEXT DEFAULT '',
		status TEXT DEFAULT 'open',
		due_date TEXT DEFAULT '',
		created_by TEXT DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		closed_at DATETIME
	)`,
	`CREATE TABLE capa_workflows (
		capa_id TEXT PRIMARY KEY,
		current_state TEXT NOT NULL,
		assigned_to TEXT DEFAULT '',
		due_date TEXT DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE capa_workflow_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		capa_id TEXT NOT NULL,
		from_state TEXT NOT NULL,
		to_state TEXT NOT NULL,
		actor TEXT DEFAULT '',
		comments TEXT DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE capa_phase_data (
		capa_id TEXT NOT NULL,
		phase TEXT NOT NULL,
		data TEXT DEFAULT '',
		updated_by TEXT DEFAULT '',
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (capa_id, phase)
	)`,
	`CREATE TABLE qms_audits (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		audit_type TEXT NOT NULL,
		status TEXT DEFAULT 'planned',
		scope TEXT DEFAULT '',
		lead_auditor TEXT DEFAULT '',
		scheduled_date TEXT DEFAULT '',
		completed_date DATETIME,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE audit_findings (
		id TEXT PRIMARY KEY,
		audit_id TEXT NOT NULL,
		description TEXT NOT NULL,
		severity TEXT NOT NULL,
		status TEXT DEFAULT 'open',
		capa_id TEXT DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE training_courses (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		description TEXT DEFAULT '',
		frequency_months INTEGER DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE training_assignments (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		course_id TEXT NOT NULL,
		user_id INTEGER NOT NULL,
		assigned_by TEXT DEFAULT '',
		due_date TEXT NOT NULL,
		status TEXT DEFAULT 'assigned',
		completed_at DATETIME,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE suppliers (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		category TEXT DEFAULT '',
		contact_email TEXT DEFAULT '',
		status TEXT DEFAULT 'conditional',
		notes TEXT DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE supplier_evaluations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		supplier_id TEXT NOT NULL,
		score INTEGER NOT NULL,
		evaluated_by TEXT DEFAULT '',
		notes TEXT DEFAULT '',
		evaluated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE design_requirements (
		id TEXT PRIMARY KEY,
		project TEXT NOT NULL,
		title TEXT NOT NULL,
		req_type TEXT NOT NULL,
		description TEXT DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE verification_tests (
		id TEXT PRIMARY KEY,
		project TEXT NOT NULL,
		title TEXT NOT NULL,
		phase TEXT NOT NULL,
		result TEXT DEFAULT 'pending',
		executed_by TEXT DEFAULT '',
		executed_at DATETIME,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE trace_links (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		requirement_id TEXT NOT NULL,
		test_id TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE (requirement_id, test_id)
	)`,
}

// OpenDB returns a temporary database with the full schema. A file-backed
// WAL database is used instead of ":memory:" because database/sql pools
// connections and each ":memory:" connection gets its own private database,
// which breaks queries issued while another connection holds a transaction
// or an open result set.
func OpenDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "test.db") +
		"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(10000)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		t.Fatalf("Failed to open test DB: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("Failed to create schema: %v", err)
		}
	}
	return db
}

// NextIDFunc returns an ID generator bound to the given database.
func NextIDFunc(db *sql.DB) func(prefix, table string, digits int) string {
	return func(prefix, table string, digits int) string {
		return database.NextID(db, prefix, table, digits)
	}
}

// CreateUser inserts a user and returns its row ID.
func CreateUser(t *testing.T, db *sql.DB, username, position, role string) int {
	t.Helper()
	hash, _ := bcrypt.GenerateFromPassword([]byte("password"), bcrypt.MinCost)
	res, err := db.Exec(`INSERT INTO users (username, password_hash, display_name, position, role, active)
		VALUES (?,?,?,?,?,1)`, username, string(hash), username, position, role)
	if err != nil {
		t.Fatalf("Failed to create user %s: %v", username, err)
	}
	id, _ := res.LastInsertId()
	return int(id)
}

// CreateSession inserts a session for the user and returns its token.
func CreateSession(t *testing.T, db *sql.DB, userID int) string {
	t.Helper()
	token := "testtoken_" + time.Now().Format("20060102150405.000000000")
	expiry := time.Now().Add(time.Hour).Format("2006-01-02 15:04:05")
	if _, err := db.Exec("INSERT INTO sessions (token, user_id, expires_at) VALUES (?,?,?)",
		token, userID, expiry); err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}
	return token
}
