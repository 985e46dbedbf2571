package database

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// NextID generates the next sequential human-readable ID for a table,
// e.g. NextID(db, "CAPA", "capas", 3) -> "CAPA-2026-001".
func NextID(db *sql.DB, prefix, table string, digits int) string {
	year := time.Now().Format("2006")
	pattern := prefix + "-" + year + "-%"
	var maxID sql.NullString
	db.QueryRow("SELECT id FROM "+table+" WHERE id LIKE ? ORDER BY id DESC LIMIT 1", pattern).Scan(&maxID)

	next := 1
	if maxID.Valid {
		parts := strings.Split(maxID.String, "-")
		if len(parts) >= 3 {
			if n, err := strconv.Atoi(parts[len(parts)-1]); err == nil {
				next = n + 1
			}
		}
	}
	return fmt.Sprintf("%s-%s-%0*d", prefix, year, digits, next)
}

// NS converts a *string into a sql.NullString.
func NS(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// SP converts a sql.NullString into a *string.
func SP(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}

// Now returns the current timestamp in the canonical DB format.
func Now() string {
	return time.Now().Format("2006-01-02 15:04:05")
}
