package suppliers

import (
	"database/sql"

	"eqms/internal/websocket"
)

// Handler holds dependencies for supplier handlers.
type Handler struct {
	DB  *sql.DB
	Hub *websocket.Hub

	// NextIDFunc generates sequential IDs (e.g. "SUP-2026-001").
	NextIDFunc func(prefix, table string, digits int) string
}
