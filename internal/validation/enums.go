package validation

// Allowed enum values for QMS record fields. These mirror the CHECK
// constraints in the schema so payloads fail fast with a field error
// instead of a raw constraint violation.
var (
	ValidDocumentStatuses = []string{"draft", "review", "approved", "released", "obsolete"}
	ValidDocumentTypes    = []string{"sop", "work_instruction", "protocol", "specification", "form", "quality_manual"}

	ValidCAPATypes          = []string{"corrective", "preventive"}
	ValidCAPAStatuses       = []string{"open", "in_progress", "closed"}
	ValidCAPARiskPriorities = []string{"low", "medium", "high", "critical", "risk_priority"}
	ValidCAPASources        = []string{"audit_finding", "complaint", "nonconformity", "internal", "other"}

	ValidAuditTypes     = []string{"internal", "supplier", "external"}
	ValidAuditStatuses  = []string{"planned", "in_progress", "closed"}
	ValidFindingSevs    = []string{"minor", "major", "critical"}
	ValidFindingStates  = []string{"open", "capa_raised", "closed"}
	ValidSupplierStates = []string{"active", "approved", "conditional", "blocked"}

	ValidAssignmentStatuses = []string{"assigned", "completed"}

	ValidRequirementTypes = []string{"user_need", "design_input", "design_output"}
	ValidTestPhases       = []string{"iq", "oq", "pq"}
	ValidTestResults      = []string{"pending", "pass", "fail"}

	ValidUserRoles = []string{"admin", "user", "readonly"}
)
