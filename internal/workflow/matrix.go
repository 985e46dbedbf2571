package workflow

import (
	"database/sql"
	"fmt"
	"sort"
)

// ResolveMatrix returns the approval matrix rules for a document type,
// ordered ascending by approval level. Returns ErrNoMatrix when no rules
// are configured for the type.
func ResolveMatrix(db *sql.DB, documentType string) ([]MatrixRule, error) {
	rows, err := db.Query(`SELECT id, document_type, approval_level, position_title, escalation_days, created_at
		FROM approval_matrix WHERE document_type = ? ORDER BY approval_level ASC`, documentType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []MatrixRule
	for rows.Next() {
		var r MatrixRule
		if err := rows.Scan(&r.ID, &r.DocumentType, &r.ApprovalLevel, &r.PositionTitle, &r.EscalationDays, &r.CreatedAt); err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(rules) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoMatrix, documentType)
	}
	return rules, nil
}

// ValidateMatrix enforces the matrix invariant: levels for a document type
// are contiguous integers starting at 1, strictly increasing, no duplicates.
func ValidateMatrix(rules []MatrixRule) error {
	if len(rules) == 0 {
		return fmt.Errorf("approval matrix must have at least one level")
	}
	sorted := make([]MatrixRule, len(rules))
	copy(sorted, rules)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ApprovalLevel < sorted[j].ApprovalLevel })
	for i, r := range sorted {
		want := i + 1
		if r.ApprovalLevel != want {
			if i > 0 && r.ApprovalLevel == sorted[i-1].ApprovalLevel {
				return fmt.Errorf("duplicate approval level %d", r.ApprovalLevel)
			}
			return fmt.Errorf("approval levels must be contiguous from 1: expected level %d, got %d", want, r.ApprovalLevel)
		}
		if r.EscalationDays <= 0 {
			return fmt.Errorf("escalation_days must be positive at level %d", r.ApprovalLevel)
		}
		if r.PositionTitle == "" {
			return fmt.Errorf("position_title required at level %d", r.ApprovalLevel)
		}
	}
	return nil
}

// MatrixRuleInUse reports whether a matrix rule's document type is
// referenced by any in-progress workflow. Rules in use must not be deleted.
func MatrixRuleInUse(db *sql.DB, documentType string) bool {
	var count int
	db.QueryRow("SELECT COUNT(*) FROM workflows WHERE document_type = ? AND status = ?",
		documentType, StatusInProgress).Scan(&count)
	return count > 0
}
