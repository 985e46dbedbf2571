package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"
)

var companyName string
var companyEmail string

func main() {
	port := flag.Int("port", 8080, "HTTP port")
	dbPath := flag.String("db", "eqms.db", "SQLite database path")
	configPath := flag.String("config", "eqms.yaml", "Config file path")
	flag.Parse()

	cfg := loadConfig(*configPath)
	capaPolicy = cfg.CAPA

	companyName = os.Getenv("EQMS_COMPANY_NAME")
	if companyName == "" {
		companyName = cfg.Company.Name
	}
	companyEmail = os.Getenv("EQMS_COMPANY_EMAIL")
	if companyEmail == "" {
		companyEmail = cfg.Company.Email
	}

	if err := initDB(*dbPath); err != nil {
		log.Fatal("DB init failed:", err)
	}
	seedDB()
	if len(cfg.ApprovalMatrix) > 0 {
		seedMatrix(cfg.ApprovalMatrix)
	}

	// Start background notification generator (run once after short delay, then every 5 min)
	go func() {
		time.Sleep(5 * time.Second)
		generateNotifications()
		for {
			time.Sleep(5 * time.Minute)
			generateNotifications()
		}
	}()

	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"ok","company":%q}`, companyName)
	})

	mux.HandleFunc("/ws", handleWebSocket)

	// Auth routes
	mux.HandleFunc("/auth/login", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == "POST" {
			handleLogin(w, r)
		} else {
			http.Error(w, "Method not allowed", 405)
		}
	})
	mux.HandleFunc("/auth/logout", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == "POST" {
			handleLogout(w, r)
		} else {
			http.Error(w, "Method not allowed", 405)
		}
	})
	mux.HandleFunc("/auth/me", func(w http.ResponseWriter, r *http.Request) {
		handleMe(w, r)
	})

	// API routes - using a simple router
	mux.HandleFunc("/api/v1/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		path := strings.TrimPrefix(r.URL.Path, "/api/v1/")
		path = strings.TrimSuffix(path, "/")
		parts := strings.Split(path, "/")

		switch {
		// Documents
		case parts[0] == "documents" && len(parts) == 2 && parts[1] == "export" && r.Method == "GET":
			getCommonHandler().ExportDocuments(w, r)
		case parts[0] == "documents" && len(parts) == 1 && r.Method == "GET":
			getDocumentsHandler().ListDocuments(w, r)
		case parts[0] == "documents" && len(parts) == 1 && r.Method == "POST":
			getDocumentsHandler().CreateDocument(w, r)
		case parts[0] == "documents" && len(parts) == 2 && r.Method == "GET":
			getDocumentsHandler().GetDocument(w, r, parts[1])
		case parts[0] == "documents" && len(parts) == 2 && r.Method == "PUT":
			getDocumentsHandler().UpdateDocument(w, r, parts[1])
		case parts[0] == "documents" && len(parts) == 3 && parts[2] == "submit" && r.Method == "POST":
			getDocumentsHandler().SubmitForApproval(w, r, parts[1])
		case parts[0] == "documents" && len(parts) == 3 && parts[2] == "release" && r.Method == "POST":
			getDocumentsHandler().ReleaseDocument(w, r, parts[1])
		case parts[0] == "documents" && len(parts) == 3 && parts[2] == "obsolete" && r.Method == "POST":
			getDocumentsHandler().ObsoleteDocument(w, r, parts[1])
		case parts[0] == "documents" && len(parts) == 3 && parts[2] == "revisions" && r.Method == "GET":
			getDocumentsHandler().ListRevisions(w, r, parts[1])
		case parts[0] == "documents" && len(parts) == 3 && parts[2] == "workflow" && r.Method == "GET":
			getDocumentsHandler().GetDocumentWorkflow(w, r, parts[1])

		// Approval workflows
		case parts[0] == "workflows" && len(parts) == 2 && parts[1] == "pending" && r.Method == "GET":
			getDocumentsHandler().PendingApprovals(w, r)
		case parts[0] == "workflows" && len(parts) == 2 && r.Method == "GET":
			getDocumentsHandler().GetWorkflow(w, r, parts[1])
		case parts[0] == "workflows" && len(parts) == 3 && parts[2] == "decide" && r.Method == "POST":
			getDocumentsHandler().Decide(w, r, parts[1])
		case parts[0] == "workflows" && len(parts) == 3 && parts[2] == "delegate" && r.Method == "POST":
			getDocumentsHandler().Delegate(w, r, parts[1])
		case parts[0] == "workflows" && len(parts) == 3 && parts[2] == "history" && r.Method == "GET":
			getDocumentsHandler().WorkflowHistory(w, r, parts[1])

		// CAPAs
		case parts[0] == "capas" && len(parts) == 2 && parts[1] == "export" && r.Method == "GET":
			getCommonHandler().ExportCAPAs(w, r)
		case parts[0] == "capas" && len(parts) == 2 && parts[1] == "dashboard" && r.Method == "GET":
			getQualityHandler().CAPADashboard(w, r)
		case parts[0] == "capas" && len(parts) == 1 && r.Method == "GET":
			getQualityHandler().ListCAPAs(w, r)
		case parts[0] == "capas" && len(parts) == 1 && r.Method == "POST":
			getQualityHandler().CreateCAPA(w, r)
		case parts[0] == "capas" && len(parts) == 2 && r.Method == "GET":
			getQualityHandler().GetCAPA(w, r, parts[1])
		case parts[0] == "capas" && len(parts) == 2 && r.Method == "PUT":
			getQualityHandler().UpdateCAPA(w, r, parts[1])
		case parts[0] == "capas" && len(parts) == 3 && parts[2] == "workflow" && r.Method == "POST":
			getQualityHandler().StartPhaseWorkflow(w, r, parts[1])
		case parts[0] == "capas" && len(parts) == 3 && parts[2] == "workflow" && r.Method == "GET":
			getQualityHandler().GetPhaseWorkflow(w, r, parts[1])
		case parts[0] == "capas" && len(parts) == 3 && parts[2] == "transition" && r.Method == "POST":
			getQualityHandler().TransitionPhase(w, r, parts[1])
		case parts[0] == "capas" && len(parts) == 3 && parts[2] == "history" && r.Method == "GET":
			getQualityHandler().PhaseHistory(w, r, parts[1])
		case parts[0] == "capas" && len(parts) == 4 && parts[2] == "phases" && r.Method == "PUT":
			getQualityHandler().SavePhaseData(w, r, parts[1], parts[3])
		case parts[0] == "capas" && len(parts) == 4 && parts[2] == "phases" && r.Method == "GET":
			getQualityHandler().GetPhaseData(w, r, parts[1], parts[3])

		// Audits and findings
		case parts[0] == "audits" && len(parts) == 1 && r.Method == "GET":
			getAuditsHandler().ListAudits(w, r)
		case parts[0] == "audits" && len(parts) == 1 && r.Method == "POST":
			getAuditsHandler().CreateAudit(w, r)
		case parts[0] == "audits" && len(parts) == 2 && r.Method == "GET":
			getAuditsHandler().GetAudit(w, r, parts[1])
		case parts[0] == "audits" && len(parts) == 2 && r.Method == "PUT":
			getAuditsHandler().UpdateAudit(w, r, parts[1])
		case parts[0] == "audits" && len(parts) == 3 && parts[2] == "findings" && r.Method == "GET":
			getAuditsHandler().ListFindings(w, r, parts[1])
		case parts[0] == "audits" && len(parts) == 3 && parts[2] == "findings" && r.Method == "POST":
			getAuditsHandler().CreateFinding(w, r, parts[1])
		case parts[0] == "findings" && len(parts) == 2 && r.Method == "PUT":
			getAuditsHandler().UpdateFinding(w, r, parts[1])
		case parts[0] == "findings" && len(parts) == 3 && parts[2] == "capa" && r.Method == "POST":
			getAuditsHandler().CreateCAPAFromFinding(w, r, parts[1])

		// Training
		case parts[0] == "training" && len(parts) == 2 && parts[1] == "export" && r.Method == "GET":
			getCommonHandler().ExportTraining(w, r)
		case parts[0] == "training" && len(parts) == 2 && parts[1] == "courses" && r.Method == "GET":
			getTrainingHandler().ListCourses(w, r)
		case parts[0] == "training" && len(parts) == 2 && parts[1] == "courses" && r.Method == "POST":
			getTrainingHandler().CreateCourse(w, r)
		case parts[0] == "training" && len(parts) == 4 && parts[1] == "courses" && parts[3] == "assign" && r.Method == "POST":
			getTrainingHandler().AssignCourse(w, r, parts[2])
		case parts[0] == "training" && len(parts) == 2 && parts[1] == "assignments" && r.Method == "GET":
			getTrainingHandler().ListAssignments(w, r)
		case parts[0] == "training" && len(parts) == 4 && parts[1] == "assignments" && parts[3] == "complete" && r.Method == "POST":
			getTrainingHandler().CompleteAssignment(w, r, parts[2])
		case parts[0] == "training" && len(parts) == 2 && parts[1] == "overdue" && r.Method == "GET":
			getTrainingHandler().OverdueReport(w, r)

		// Suppliers
		case parts[0] == "suppliers" && len(parts) == 2 && parts[1] == "export" && r.Method == "GET":
			getCommonHandler().ExportSuppliers(w, r)
		case parts[0] == "suppliers" && len(parts) == 1 && r.Method == "GET":
			getSuppliersHandler().ListSuppliers(w, r)
		case parts[0] == "suppliers" && len(parts) == 1 && r.Method == "POST":
			getSuppliersHandler().CreateSupplier(w, r)
		case parts[0] == "suppliers" && len(parts) == 2 && r.Method == "GET":
			getSuppliersHandler().GetSupplier(w, r, parts[1])
		case parts[0] == "suppliers" && len(parts) == 2 && r.Method == "PUT":
			getSuppliersHandler().UpdateSupplier(w, r, parts[1])
		case parts[0] == "suppliers" && len(parts) == 3 && parts[2] == "evaluations" && r.Method == "GET":
			getSuppliersHandler().ListEvaluations(w, r, parts[1])
		case parts[0] == "suppliers" && len(parts) == 3 && parts[2] == "evaluations" && r.Method == "POST":
			getSuppliersHandler().CreateEvaluation(w, r, parts[1])

		// Design control
		case parts[0] == "design" && len(parts) == 2 && parts[1] == "requirements" && r.Method == "GET":
			getDesignHandler().ListRequirements(w, r)
		case parts[0] == "design" && len(parts) == 2 && parts[1] == "requirements" && r.Method == "POST":
			getDesignHandler().CreateRequirement(w, r)
		case parts[0] == "design" && len(parts) == 2 && parts[1] == "tests" && r.Method == "GET":
			getDesignHandler().ListTests(w, r)
		case parts[0] == "design" && len(parts) == 2 && parts[1] == "tests" && r.Method == "POST":
			getDesignHandler().CreateTest(w, r)
		case parts[0] == "design" && len(parts) == 4 && parts[1] == "tests" && parts[3] == "result" && r.Method == "POST":
			getDesignHandler().RecordTestResult(w, r, parts[2])
		case parts[0] == "design" && len(parts) == 2 && parts[1] == "trace" && r.Method == "POST":
			getDesignHandler().CreateTraceLink(w, r)
		case parts[0] == "design" && len(parts) == 3 && parts[1] == "traceability" && parts[2] == "export" && r.Method == "GET":
			getCommonHandler().ExportTraceability(w, r)
		case parts[0] == "design" && len(parts) == 2 && parts[1] == "traceability" && r.Method == "GET":
			getDesignHandler().TraceabilityMatrix(w, r)

		// Users
		case parts[0] == "users" && len(parts) == 1 && r.Method == "GET":
			getAdminHandler().ListUsers(w, r)
		case parts[0] == "users" && len(parts) == 1 && r.Method == "POST":
			getAdminHandler().CreateUser(w, r)
		case parts[0] == "users" && len(parts) == 2 && r.Method == "PUT":
			getAdminHandler().UpdateUser(w, r, parts[1])
		case parts[0] == "users" && len(parts) == 2 && r.Method == "DELETE":
			getAdminHandler().DeactivateUser(w, r, parts[1])

		// Approval matrix
		case parts[0] == "approval-matrix" && len(parts) == 1 && r.Method == "GET":
			getAdminHandler().ListMatrix(w, r)
		case parts[0] == "approval-matrix" && len(parts) == 2 && r.Method == "PUT":
			getAdminHandler().SetMatrix(w, r, parts[1])
		case parts[0] == "approval-matrix" && len(parts) == 2 && r.Method == "DELETE":
			getAdminHandler().DeleteMatrix(w, r, parts[1])

		// Audit trail
		case parts[0] == "audit-log" && len(parts) == 2 && parts[1] == "export" && r.Method == "GET":
			getAdminHandler().ExportAuditLog(w, r)
		case parts[0] == "audit-log" && len(parts) == 1 && r.Method == "GET":
			getAdminHandler().ListAuditLog(w, r)

		// Settings
		case parts[0] == "settings" && len(parts) == 1 && r.Method == "GET":
			getAdminHandler().GetSettings(w, r)
		case parts[0] == "settings" && len(parts) == 1 && r.Method == "PUT":
			getAdminHandler().UpdateSettings(w, r)

		// Notifications
		case parts[0] == "notifications" && len(parts) == 1 && r.Method == "GET":
			handleListNotifications(w, r)
		case parts[0] == "notifications" && len(parts) == 3 && parts[2] == "read" && r.Method == "POST":
			handleMarkNotificationRead(w, r, parts[1])

		default:
			http.Error(w, `{"error":"Not found"}`, 404)
		}
	})

	addr := fmt.Sprintf(":%d", *port)
	log.Printf("eQMS listening on %s (db: %s)", addr, *dbPath)
	log.Fatal(http.ListenAndServe(addr, logging(requireAuth(requireRBAC(mux)))))
}
