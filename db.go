package main

import (
	"database/sql"
	"fmt"
	"log"
	"strings"

	"golang.org/x/crypto/bcrypt"
	_ "modernc.org/sqlite"

	"eqms/internal/database"
)

var db *sql.DB

func initDB(path string) error {
	// Close previous connection if any (prevents goroutine leaks in tests)
	if db != nil {
		db.Close()
	}
	var err error
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	db, err = sql.Open("sqlite", path+sep+"_journal_mode=WAL&_busy_timeout=10000&_foreign_keys=1")
	if err != nil {
		return err
	}

	// SQLite handles 1 writer + multiple readers with WAL mode
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(0)

	// Explicitly set pragmas (some drivers don't parse connection string params correctly)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=30000"); err != nil {
		return fmt.Errorf("set busy_timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return fmt.Errorf("enable foreign keys: %w", err)
	}

	return runMigrations()
}

func runMigrations() error {
	tables := []string{
		`CREATE TABLE IF NOT EXISTS users (
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
		`CREATE TABLE IF NOT EXISTS sessions (
			token TEXT PRIMARY KEY,
			user_id INTEGER NOT NULL,
			expires_at DATETIME NOT NULL,
			FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS login_attempts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			username TEXT NOT NULL,
			ip_address TEXT DEFAULT '',
			success INTEGER DEFAULT 0,
			attempted_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS audit_log (
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
		`CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS notifications (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			type TEXT NOT NULL,
			severity TEXT DEFAULT 'info' CHECK(severity IN ('info','warning','critical')),
			title TEXT NOT NULL,
			message TEXT DEFAULT '',
			record_id TEXT DEFAULT '',
			module TEXT DEFAULT '',
			read_at DATETIME,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS documents (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			category TEXT DEFAULT '',
			doc_type TEXT NOT NULL CHECK(doc_type IN ('sop','work_instruction','protocol','specification','form','quality_manual')),
			revision TEXT DEFAULT 'A',
			status TEXT DEFAULT 'draft' CHECK(status IN ('draft','review','approved','released','obsolete')),
			content TEXT DEFAULT '',
			owner TEXT DEFAULT '',
			approved_by TEXT DEFAULT '',
			approved_at DATETIME,
			created_by TEXT DEFAULT '',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS document_revisions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			document_id TEXT NOT NULL,
			revision TEXT NOT NULL,
			changes_summary TEXT DEFAULT '',
			created_by TEXT DEFAULT '',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (document_id) REFERENCES documents(id) ON DELETE CASCADE
		)`,

		`CREATE TABLE IF NOT EXISTS approval_matrix (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			document_type TEXT NOT NULL,
			approval_level INTEGER NOT NULL CHECK(approval_level > 0),
			position_title TEXT NOT NULL,
			escalation_days INTEGER NOT NULL CHECK(escalation_days > 0),
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			UNIQUE (document_type, approval_level)
		)`,
		`CREATE TABLE IF NOT EXISTS workflows (
			id TEXT PRIMARY KEY,
			document_id TEXT NOT NULL,
			document_type TEXT NOT NULL,
			document_version TEXT DEFAULT '',
			status TEXT DEFAULT 'in_progress' CHECK(status IN ('in_progress','approved','rejected')),
			current_level INTEGER DEFAULT 1,
			initiated_by TEXT DEFAULT '',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			completed_at DATETIME
		)`,
		`CREATE TABLE IF NOT EXISTS workflow_steps (
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
			status TEXT DEFAULT 'waiting' CHECK(status IN ('waiting','pending','approved','rejected')),
			due_date DATETIME,
			decided_by TEXT DEFAULT '',
			decided_at DATETIME,
			comments TEXT DEFAULT '',
			FOREIGN KEY (workflow_id) REFERENCES workflows(id) ON DELETE CASCADE,
			UNIQUE (workflow_id, approval_level)
		)`,
		`CREATE TABLE IF NOT EXISTS workflow_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			workflow_id TEXT NOT NULL,
			approval_level INTEGER NOT NULL,
			from_state TEXT NOT NULL,
			to_state TEXT NOT NULL,
			actor TEXT DEFAULT '',
			comments TEXT DEFAULT '',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (workflow_id) REFERENCES workflows(id) ON DELETE CASCADE
		)`,

		`CREATE TABLE IF NOT EXISTS capas (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			description TEXT DEFAULT '',
			type TEXT DEFAULT 'corrective' CHECK(type IN ('corrective','preventive')),
			risk_priority TEXT DEFAULT 'medium' CHECK(risk_priority IN ('low','medium','high','critical','risk_priority')),
			source TEXT DEFAULT '',
			linked_finding_id TEXT DEFAULT '',
			owner TEXT DEFAULT '',
			status TEXT DEFAULT 'open' CHECK(status IN ('open','in_progress','closed')),
			due_date TEXT DEFAULT '',
			created_by TEXT DEFAULT '',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			closed_at DATETIME
		)`,
		`CREATE TABLE IF NOT EXISTS capa_workflows (
			capa_id TEXT PRIMARY KEY,
			current_state TEXT NOT NULL CHECK(current_state IN ('correction','root_cause_analysis','corrective_action','effectiveness_verification')),
			assigned_to TEXT DEFAULT '',
			due_date TEXT DEFAULT '',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (capa_id) REFERENCES capas(id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS capa_workflow_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			capa_id TEXT NOT NULL,
			from_state TEXT NOT NULL,
			to_state TEXT NOT NULL,
			actor TEXT DEFAULT '',
			comments TEXT DEFAULT '',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (capa_id) REFERENCES capas(id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS capa_phase_data (
			capa_id TEXT NOT NULL,
			phase TEXT NOT NULL CHECK(phase IN ('correction','root_cause_analysis','corrective_action','effectiveness_verification')),
			data TEXT DEFAULT '',
			updated_by TEXT DEFAULT '',
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (capa_id, phase),
			FOREIGN KEY (capa_id) REFERENCES capas(id) ON DELETE CASCADE
		)`,

		`CREATE TABLE IF NOT EXISTS qms_audits (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			audit_type TEXT NOT NULL CHECK(audit_type IN ('internal','supplier','external')),
			status TEXT DEFAULT 'planned' CHECK(status IN ('planned','in_progress','closed')),
			scope TEXT DEFAULT '',
			lead_auditor TEXT DEFAULT '',
			scheduled_date TEXT DEFAULT '',
			completed_date DATETIME,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS audit_findings (
			id TEXT PRIMARY KEY,
			audit_id TEXT NOT NULL,
			description TEXT NOT NULL,
			severity TEXT NOT NULL CHECK(severity IN ('minor','major','critical')),
			status TEXT DEFAULT 'open' CHECK(status IN ('open','capa_raised','closed')),
			capa_id TEXT DEFAULT '',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (audit_id) REFERENCES qms_audits(id) ON DELETE CASCADE
		)`,

		`CREATE TABLE IF NOT EXISTS training_courses (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			description TEXT DEFAULT '',
			frequency_months INTEGER DEFAULT 0,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS training_assignments (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			course_id TEXT NOT NULL,
			user_id INTEGER NOT NULL,
			assigned_by TEXT DEFAULT '',
			due_date TEXT NOT NULL,
			status TEXT DEFAULT 'assigned' CHECK(status IN ('assigned','completed')),
			completed_at DATETIME,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (course_id) REFERENCES training_courses(id) ON DELETE CASCADE,
			FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
		)`,

		`CREATE TABLE IF NOT EXISTS suppliers (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			category TEXT DEFAULT '',
			contact_email TEXT DEFAULT '',
			status TEXT DEFAULT 'conditional' CHECK(status IN ('active','approved','conditional','blocked')),
			notes TEXT DEFAULT '',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS supplier_evaluations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			supplier_id TEXT NOT NULL,
			score INTEGER NOT NULL CHECK(score >= 0 AND score <= 100),
			evaluated_by TEXT DEFAULT '',
			notes TEXT DEFAULT '',
			evaluated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (supplier_id) REFERENCES suppliers(id) ON DELETE CASCADE
		)`,

		`CREATE TABLE IF NOT EXISTS design_requirements (
			id TEXT PRIMARY KEY,
			project TEXT NOT NULL,
			title TEXT NOT NULL,
			req_type TEXT NOT NULL CHECK(req_type IN ('user_need','design_input','design_output')),
			description TEXT DEFAULT '',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS verification_tests (
			id TEXT PRIMARY KEY,
			project TEXT NOT NULL,
			title TEXT NOT NULL,
			phase TEXT NOT NULL CHECK(phase IN ('iq','oq','pq')),
			result TEXT DEFAULT 'pending' CHECK(result IN ('pending','pass','fail')),
			executed_by TEXT DEFAULT '',
			executed_at DATETIME,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS trace_links (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			requirement_id TEXT NOT NULL,
			test_id TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (requirement_id) REFERENCES design_requirements(id) ON DELETE CASCADE,
			FOREIGN KEY (test_id) REFERENCES verification_tests(id) ON DELETE CASCADE,
			UNIQUE (requirement_id, test_id)
		)`,
	}

	for _, t := range tables {
		if _, err := db.Exec(t); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_workflow_steps_wf ON workflow_steps(workflow_id, status)`,
		`CREATE INDEX IF NOT EXISTS idx_workflow_history_wf ON workflow_history(workflow_id)`,
		`CREATE INDEX IF NOT EXISTS idx_capa_history ON capa_workflow_history(capa_id)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_log_created ON audit_log(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_findings_audit ON audit_findings(audit_id)`,
		`CREATE INDEX IF NOT EXISTS idx_assignments_user ON training_assignments(user_id, status)`,
	}
	for _, idx := range indexes {
		if _, err := db.Exec(idx); err != nil {
			return fmt.Errorf("index creation failed: %w", err)
		}
	}

	return nil
}

// seedDB creates the default admin account and approval matrix when the
// database is empty.
func seedDB() {
	var userCount int
	db.QueryRow("SELECT COUNT(*) FROM users").Scan(&userCount)
	if userCount == 0 {
		hash, err := bcrypt.GenerateFromPassword([]byte("admin"), bcrypt.DefaultCost)
		if err == nil {
			db.Exec(`INSERT INTO users (username, password_hash, display_name, position, role, active)
				VALUES ('admin', ?, 'Administrator', 'QA Manager', 'admin', 1)`, string(hash))
			log.Println("Seeded default admin user (admin/admin) - change the password")
		}
	}

	var matrixCount int
	db.QueryRow("SELECT COUNT(*) FROM approval_matrix").Scan(&matrixCount)
	if matrixCount == 0 {
		seedMatrix(defaultMatrixSeed())
		log.Println("Seeded default approval matrix")
	}
}

type matrixSeedRule struct {
	DocumentType   string `yaml:"document_type"`
	ApprovalLevel  int    `yaml:"approval_level"`
	PositionTitle  string `yaml:"position_title"`
	EscalationDays int    `yaml:"escalation_days"`
}

func defaultMatrixSeed() []matrixSeedRule {
	return []matrixSeedRule{
		{"sop", 1, "QA Manager", 5},
		{"sop", 2, "Quality Director", 10},
		{"work_instruction", 1, "QA Manager", 5},
		{"protocol", 1, "QA Manager", 5},
		{"protocol", 2, "Quality Director", 10},
		{"specification", 1, "QA Manager", 7},
		{"form", 1, "QA Manager", 5},
		{"quality_manual", 1, "QA Manager", 5},
		{"quality_manual", 2, "Quality Director", 10},
	}
}

func seedMatrix(rules []matrixSeedRule) {
	for _, r := range rules {
		db.Exec(`INSERT OR IGNORE INTO approval_matrix (document_type, approval_level, position_title, escalation_days)
			VALUES (?,?,?,?)`, r.DocumentType, r.ApprovalLevel, r.PositionTitle, r.EscalationDays)
	}
}

// nextID generates sequential human-readable IDs like CAPA-2026-001.
func nextID(prefix, table string, digits int) string {
	return database.NextID(db, prefix, table, digits)
}
