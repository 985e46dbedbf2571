package capa_test

import (
	"database/sql"
	"errors"
	"testing"
	"time"

	"eqms/internal/capa"

	_ "modernc.org/sqlite"
)

func setupCAPADB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test DB: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	ddl := []string{
		`CREATE TABLE capas (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			risk_priority TEXT DEFAULT 'medium',
			due_date TEXT DEFAULT '',
			status TEXT DEFAULT 'open',
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE capa_workflows (
			capa_id TEXT PRIMARY KEY,
			current_state TEXT NOT NULL CHECK(current_state IN ('correction','root_cause_analysis','corrective_action','effectiveness_verification')),
			assigned_to TEXT DEFAULT '',
			due_date TEXT DEFAULT '',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (capa_id) REFERENCES capas(id) ON DELETE CASCADE
		)`,
		`CREATE TABLE capa_workflow_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			capa_id TEXT NOT NULL,
			from_state TEXT NOT NULL,
			to_state TEXT NOT NULL,
			actor TEXT NOT NULL,
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
	}
	for _, q := range ddl {
		if _, err := db.Exec(q); err != nil {
			t.Fatalf("Failed to create table: %v", err)
		}
	}
	return db
}

func insertCAPA(t *testing.T, db *sql.DB, id, riskPriority string) {
	t.Helper()
	_, err := db.Exec("INSERT INTO capas (id, title, risk_priority) VALUES (?, 'Test CAPA', ?)", id, riskPriority)
	if err != nil {
		t.Fatalf("Failed to insert CAPA: %v", err)
	}
}

func TestCreateWorkflow_HighRiskDueDateOverride(t *testing.T) {
	db := setupCAPADB(t)
	e := capa.NewEngine(db, capa.TransitionPolicy{})

	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	e.Now = func() time.Time { return created }
	want := created.AddDate(0, 0, 180).Format("2006-01-02")

	for _, priority := range []string{"high", "critical", "risk_priority"} {
		id := "CAPA-" + priority
		insertCAPA(t, db, id, priority)

		// Caller-supplied due date must be overridden.
		wf, err := e.CreateWorkflow(id, "bob", "alice", "2026-03-15")
		if err != nil {
			t.Fatalf("CreateWorkflow(%s) failed: %v", priority, err)
		}
		if wf.DueDate != want {
			t.Errorf("Priority %s: expected due date %s, got %s", priority, want, wf.DueDate)
		}
		if wf.CurrentState != capa.PhaseCorrection {
			t.Errorf("Expected initial phase correction, got %s", wf.CurrentState)
		}

		// The CAPA row must agree with the workflow.
		var capaDue string
		db.QueryRow("SELECT due_date FROM capas WHERE id=?", id).Scan(&capaDue)
		if capaDue != want {
			t.Errorf("Priority %s: expected CAPA due date %s, got %s", priority, want, capaDue)
		}
	}
}

func TestCreateWorkflow_NormalRiskKeepsCallerDueDate(t *testing.T) {
	db := setupCAPADB(t)
	insertCAPA(t, db, "CAPA-001", "medium")
	e := capa.NewEngine(db, capa.TransitionPolicy{})

	wf, err := e.CreateWorkflow("CAPA-001", "bob", "alice", "2026-06-30")
	if err != nil {
		t.Fatalf("CreateWorkflow failed: %v", err)
	}
	if wf.DueDate != "2026-06-30" {
		t.Errorf("Expected caller due date preserved, got %s", wf.DueDate)
	}
}

func TestCreateWorkflow_MissingCAPA(t *testing.T) {
	db := setupCAPADB(t)
	e := capa.NewEngine(db, capa.TransitionPolicy{})

	_, err := e.CreateWorkflow("CAPA-NOPE", "bob", "alice", "")
	if !errors.Is(err, capa.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestCreateWorkflow_Duplicate(t *testing.T) {
	db := setupCAPADB(t)
	insertCAPA(t, db, "CAPA-001", "low")
	e := capa.NewEngine(db, capa.TransitionPolicy{})

	if _, err := e.CreateWorkflow("CAPA-001", "bob", "alice", ""); err != nil {
		t.Fatalf("CreateWorkflow failed: %v", err)
	}
	if _, err := e.CreateWorkflow("CAPA-001", "bob", "alice", ""); !errors.Is(err, capa.ErrWorkflowExists) {
		t.Errorf("Expected ErrWorkflowExists, got %v", err)
	}
}

func TestTransition_ForwardMovesAllowed(t *testing.T) {
	db := setupCAPADB(t)
	insertCAPA(t, db, "CAPA-001", "low")
	e := capa.NewEngine(db, capa.TransitionPolicy{})
	e.CreateWorkflow("CAPA-001", "bob", "alice", "")

	wf, err := e.Transition("CAPA-001", capa.PhaseRootCauseAnalysis, "alice", "", "", "")
	if err != nil {
		t.Fatalf("Transition failed: %v", err)
	}
	if wf.CurrentState != capa.PhaseRootCauseAnalysis {
		t.Errorf("Expected root_cause_analysis, got %s", wf.CurrentState)
	}

	// Default policy allows forward skips (fast-tracking).
	wf, err = e.Transition("CAPA-001", capa.PhaseEffectivenessVerification, "alice", "", "", "")
	if err != nil {
		t.Fatalf("Forward skip failed: %v", err)
	}
	if wf.CurrentState != capa.PhaseEffectivenessVerification {
		t.Errorf("Expected effectiveness_verification, got %s", wf.CurrentState)
	}
}

func TestTransition_BackwardForbiddenByDefault(t *testing.T) {
	db := setupCAPADB(t)
	insertCAPA(t, db, "CAPA-001", "low")
	e := capa.NewEngine(db, capa.TransitionPolicy{})
	e.CreateWorkflow("CAPA-001", "bob", "alice", "")
	e.Transition("CAPA-001", capa.PhaseCorrectiveAction, "alice", "", "", "")

	_, err := e.Transition("CAPA-001", capa.PhaseCorrection, "alice", "", "", "")
	if !errors.Is(err, capa.ErrInvalidTransition) {
		t.Errorf("Expected ErrInvalidTransition going backward, got %v", err)
	}

	// With AllowBackward the same move succeeds.
	e.Policy = capa.TransitionPolicy{AllowBackward: true}
	if _, err := e.Transition("CAPA-001", capa.PhaseCorrection, "alice", "rework", "", ""); err != nil {
		t.Errorf("Expected backward move with AllowBackward, got %v", err)
	}
}

func TestTransition_StrictSequenceBlocksSkips(t *testing.T) {
	db := setupCAPADB(t)
	insertCAPA(t, db, "CAPA-001", "low")
	e := capa.NewEngine(db, capa.TransitionPolicy{StrictSequence: true})
	e.CreateWorkflow("CAPA-001", "bob", "alice", "")

	_, err := e.Transition("CAPA-001", capa.PhaseCorrectiveAction, "alice", "", "", "")
	if !errors.Is(err, capa.ErrInvalidTransition) {
		t.Errorf("Expected ErrInvalidTransition on skip, got %v", err)
	}

	if _, err := e.Transition("CAPA-001", capa.PhaseRootCauseAnalysis, "alice", "", "", ""); err != nil {
		t.Errorf("Expected single forward step to succeed, got %v", err)
	}
}

func TestTransition_InvalidTargetAndSelfMove(t *testing.T) {
	db := setupCAPADB(t)
	insertCAPA(t, db, "CAPA-001", "low")
	e := capa.NewEngine(db, capa.TransitionPolicy{})
	e.CreateWorkflow("CAPA-001", "bob", "alice", "")

	_, err := e.Transition("CAPA-001", capa.Phase("verification"), "alice", "", "", "")
	if !errors.Is(err, capa.ErrInvalidPhase) {
		t.Errorf("Expected ErrInvalidPhase, got %v", err)
	}

	_, err = e.Transition("CAPA-001", capa.PhaseCorrection, "alice", "", "", "")
	if !errors.Is(err, capa.ErrInvalidTransition) {
		t.Errorf("Expected ErrInvalidTransition for self-move, got %v", err)
	}
}

func TestTransition_HistoryAppendOnly(t *testing.T) {
	db := setupCAPADB(t)
	insertCAPA(t, db, "CAPA-001", "low")
	e := capa.NewEngine(db, capa.TransitionPolicy{})
	e.CreateWorkflow("CAPA-001", "bob", "alice", "")

	e.Transition("CAPA-001", capa.PhaseRootCauseAnalysis, "alice", "found it", "", "")
	e.Transition("CAPA-001", capa.PhaseCorrectiveAction, "alice", "", "", "")

	// Failed transitions must not write history.
	e.Transition("CAPA-001", capa.PhaseCorrection, "alice", "", "", "")

	history, err := e.History("CAPA-001")
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("Expected 2 history rows (one per successful transition), got %d", len(history))
	}
	if history[0].Comments != "found it" {
		t.Errorf("Expected caller comments preserved, got %q", history[0].Comments)
	}
	if history[1].Comments != "Transitioned from root_cause_analysis to corrective_action" {
		t.Errorf("Expected default comment, got %q", history[1].Comments)
	}
	if history[0].FromState != "correction" || history[0].ToState != "root_cause_analysis" {
		t.Errorf("Expected correction -> root_cause_analysis, got %s -> %s",
			history[0].FromState, history[0].ToState)
	}
}

func TestTransition_BundledReassignment(t *testing.T) {
	db := setupCAPADB(t)
	insertCAPA(t, db, "CAPA-001", "low")
	e := capa.NewEngine(db, capa.TransitionPolicy{})
	e.CreateWorkflow("CAPA-001", "bob", "alice", "2026-05-01")

	wf, err := e.Transition("CAPA-001", capa.PhaseRootCauseAnalysis, "alice", "", "carol", "2026-07-01")
	if err != nil {
		t.Fatalf("Transition failed: %v", err)
	}
	if wf.AssignedTo != "carol" {
		t.Errorf("Expected reassignment to carol, got %s", wf.AssignedTo)
	}
	if wf.DueDate != "2026-07-01" {
		t.Errorf("Expected due date change, got %s", wf.DueDate)
	}
}

func TestPhaseData_UpsertIdempotent(t *testing.T) {
	db := setupCAPADB(t)
	insertCAPA(t, db, "CAPA-001", "low")
	e := capa.NewEngine(db, capa.TransitionPolicy{})

	if err := e.SavePhaseData("CAPA-001", capa.PhaseCorrection, `{"action":"quarantine lot"}`, "alice"); err != nil {
		t.Fatalf("SavePhaseData failed: %v", err)
	}
	if err := e.SavePhaseData("CAPA-001", capa.PhaseCorrection, `{"action":"quarantine and rework"}`, "bob"); err != nil {
		t.Fatalf("SavePhaseData upsert failed: %v", err)
	}

	pd, err := e.GetPhaseData("CAPA-001", capa.PhaseCorrection)
	if err != nil {
		t.Fatalf("GetPhaseData failed: %v", err)
	}
	if pd.Data != `{"action":"quarantine and rework"}` {
		t.Errorf("Expected last write to win, got %q", pd.Data)
	}
	if pd.UpdatedBy != "bob" {
		t.Errorf("Expected attribution to bob, got %q", pd.UpdatedBy)
	}

	var count int
	db.QueryRow("SELECT COUNT(*) FROM capa_phase_data WHERE capa_id='CAPA-001'").Scan(&count)
	if count != 1 {
		t.Errorf("Expected a single row per (capa, phase), got %d", count)
	}

	// Phases are independent blobs.
	e.SavePhaseData("CAPA-001", capa.PhaseRootCauseAnalysis, `{"cause":"fixture wear"}`, "alice")
	db.QueryRow("SELECT COUNT(*) FROM capa_phase_data WHERE capa_id='CAPA-001'").Scan(&count)
	if count != 2 {
		t.Errorf("Expected 2 rows after saving a second phase, got %d", count)
	}

	if err := e.SavePhaseData("CAPA-NOPE", capa.PhaseCorrection, "{}", "alice"); !errors.Is(err, capa.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for missing CAPA, got %v", err)
	}
	if err := e.SavePhaseData("CAPA-001", capa.Phase("bogus"), "{}", "alice"); !errors.Is(err, capa.ErrInvalidPhase) {
		t.Errorf("Expected ErrInvalidPhase, got %v", err)
	}

	pd, err = e.GetPhaseData("CAPA-001", capa.PhaseEffectivenessVerification)
	if err != nil {
		t.Fatalf("GetPhaseData on unsaved phase failed: %v", err)
	}
	if pd.Data != "" {
		t.Errorf("Expected empty blob for unsaved phase, got %q", pd.Data)
	}
}

func TestTransitionPolicy_Table(t *testing.T) {
	def := capa.TransitionPolicy{}
	strict := capa.TransitionPolicy{StrictSequence: true}

	if !def.CanTransition(capa.PhaseCorrection, capa.PhaseRootCauseAnalysis) {
		t.Error("Default policy must allow the next phase")
	}
	if !def.CanTransition(capa.PhaseCorrection, capa.PhaseEffectivenessVerification) {
		t.Error("Default policy must allow forward skips")
	}
	if def.CanTransition(capa.PhaseCorrectiveAction, capa.PhaseCorrection) {
		t.Error("Default policy must forbid backward moves")
	}
	if strict.CanTransition(capa.PhaseCorrection, capa.PhaseCorrectiveAction) {
		t.Error("Strict policy must forbid skips")
	}
	if def.CanTransition(capa.PhaseCorrection, capa.PhaseCorrection) {
		t.Error("Self-moves are never transitions")
	}
	if def.CanTransition(capa.Phase("bogus"), capa.PhaseCorrection) {
		t.Error("Unknown phases are never valid")
	}
}
