package audits

import (
	"database/sql"

	"eqms/internal/websocket"
)

// Handler holds dependencies for QMS audit handlers.
type Handler struct {
	DB  *sql.DB
	Hub *websocket.Hub

	// NextIDFunc generates sequential IDs (e.g. "AUD-2026-001").
	NextIDFunc func(prefix, table string, digits int) string
}
