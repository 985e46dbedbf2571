package models

// APIResponse is the standard JSON envelope for all API responses.
type APIResponse struct {
	Data interface{} `json:"data"`
	Meta *Meta       `json:"meta,omitempty"`
}

// Meta contains pagination metadata.
type Meta struct {
	Total int `json:"total,omitempty"`
	Page  int `json:"page,omitempty"`
	Limit int `json:"limit,omitempty"`
}

// Document is a controlled QMS document (SOP, work instruction, protocol...).
type Document struct {
	ID         string  `json:"id"`
	Title      string  `json:"title"`
	Category   string  `json:"category"`
	DocType    string  `json:"doc_type"`
	Revision   string  `json:"revision"`
	Status     string  `json:"status"`
	Content    string  `json:"content"`
	Owner      string  `json:"owner"`
	ApprovedBy string  `json:"approved_by"`
	ApprovedAt *string `json:"approved_at"`
	CreatedBy  string  `json:"created_by"`
	CreatedAt  string  `json:"created_at"`
	UpdatedAt  string  `json:"updated_at"`
}

// DocumentRevision is one entry in a document's revision history.
type DocumentRevision struct {
	ID             int    `json:"id"`
	DocumentID     string `json:"document_id"`
	Revision       string `json:"revision"`
	ChangesSummary string `json:"changes_summary"`
	CreatedBy      string `json:"created_by"`
	CreatedAt      string `json:"created_at"`
}

// CAPA represents a Corrective and Preventive Action record.
type CAPA struct {
	ID              string  `json:"id"`
	Title           string  `json:"title"`
	Description     string  `json:"description"`
	Type            string  `json:"type"` // corrective or preventive
	RiskPriority    string  `json:"risk_priority"`
	Source          string  `json:"source"`
	LinkedFindingID string  `json:"linked_finding_id"`
	Owner           string  `json:"owner"`
	Status          string  `json:"status"`
	DueDate         string  `json:"due_date"`
	CreatedBy       string  `json:"created_by"`
	CreatedAt       string  `json:"created_at"`
	UpdatedAt       string  `json:"updated_at"`
	ClosedAt        *string `json:"closed_at"`
}

// QMSAudit is an internal, supplier or external quality audit.
type QMSAudit struct {
	ID            string  `json:"id"`
	Title         string  `json:"title"`
	AuditType     string  `json:"audit_type"`
	Status        string  `json:"status"`
	Scope         string  `json:"scope"`
	LeadAuditor   string  `json:"lead_auditor"`
	ScheduledDate string  `json:"scheduled_date"`
	CompletedDate *string `json:"completed_date"`
	CreatedAt     string  `json:"created_at"`
	UpdatedAt     string  `json:"updated_at"`
}

// AuditFinding is a nonconformity raised during a QMS audit.
type AuditFinding struct {
	ID          string `json:"id"`
	AuditID     string `json:"audit_id"`
	Description string `json:"description"`
	Severity    string `json:"severity"`
	Status      string `json:"status"`
	CAPAID      string `json:"capa_id"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

// TrainingCourse is a training requirement that can be assigned to users.
type TrainingCourse struct {
	ID              string `json:"id"`
	Title           string `json:"title"`
	Description     string `json:"description"`
	FrequencyMonths int    `json:"frequency_months"`
	CreatedAt       string `json:"created_at"`
}

// TrainingAssignment tracks one user's obligation to complete a course.
type TrainingAssignment struct {
	ID          int     `json:"id"`
	CourseID    string  `json:"course_id"`
	UserID      int     `json:"user_id"`
	Username    string  `json:"username,omitempty"`
	AssignedBy  string  `json:"assigned_by"`
	DueDate     string  `json:"due_date"`
	Status      string  `json:"status"`
	CompletedAt *string `json:"completed_at"`
	CreatedAt   string  `json:"created_at"`
}

// Supplier is an entry in the approved supplier list.
type Supplier struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Category     string `json:"category"`
	ContactEmail string `json:"contact_email"`
	Status       string `json:"status"`
	Notes        string `json:"notes"`
	CreatedAt    string `json:"created_at"`
	UpdatedAt    string `json:"updated_at"`
}

// SupplierEvaluation is a periodic supplier performance review.
type SupplierEvaluation struct {
	ID          int    `json:"id"`
	SupplierID  string `json:"supplier_id"`
	Score       int    `json:"score"`
	EvaluatedBy string `json:"evaluated_by"`
	Notes       string `json:"notes"`
	EvaluatedAt string `json:"evaluated_at"`
}

// DesignRequirement is a design control item (user need, input or output).
type DesignRequirement struct {
	ID          string `json:"id"`
	Project     string `json:"project"`
	Title       string `json:"title"`
	ReqType     string `json:"req_type"`
	Description string `json:"description"`
	CreatedAt   string `json:"created_at"`
}

// VerificationTest is an IQ/OQ/PQ verification or validation test case.
type VerificationTest struct {
	ID         string  `json:"id"`
	Project    string  `json:"project"`
	Title      string  `json:"title"`
	Phase      string  `json:"phase"` // iq, oq, pq
	Result     string  `json:"result"`
	ExecutedBy string  `json:"executed_by"`
	ExecutedAt *string `json:"executed_at"`
	CreatedAt  string  `json:"created_at"`
}

// TraceLink connects a design requirement to a verification test.
type TraceLink struct {
	ID            int    `json:"id"`
	RequirementID string `json:"requirement_id"`
	TestID        string `json:"test_id"`
	CreatedAt     string `json:"created_at"`
}

// User is a QMS user account.
type User struct {
	ID          int     `json:"id"`
	Username    string  `json:"username"`
	DisplayName string  `json:"display_name"`
	Position    string  `json:"position"`
	Role        string  `json:"role"`
	Active      bool    `json:"active"`
	LastLogin   *string `json:"last_login"`
	CreatedAt   string  `json:"created_at"`
}

// AuditEntry is a row in the immutable audit_log trail.
type AuditEntry struct {
	ID          int    `json:"id"`
	UserID      int    `json:"user_id"`
	Username    string `json:"username"`
	Action      string `json:"action"`
	Module      string `json:"module"`
	RecordID    string `json:"record_id"`
	Summary     string `json:"summary"`
	BeforeValue string `json:"before_value,omitempty"`
	AfterValue  string `json:"after_value,omitempty"`
	IPAddress   string `json:"ip_address,omitempty"`
	UserAgent   string `json:"user_agent,omitempty"`
	CreatedAt   string `json:"created_at"`
}

// Notification is a row surfaced to the UI notification tray.
type Notification struct {
	ID        int     `json:"id"`
	Type      string  `json:"type"`
	Severity  string  `json:"severity"`
	Title     string  `json:"title"`
	Message   string  `json:"message"`
	RecordID  string  `json:"record_id"`
	Module    string  `json:"module"`
	ReadAt    *string `json:"read_at"`
	CreatedAt string  `json:"created_at"`
}
