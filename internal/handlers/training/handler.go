package training

import (
	"database/sql"

	"eqms/internal/websocket"
)

// Handler holds dependencies for training handlers.
type Handler struct {
	DB  *sql.DB
	Hub *websocket.Hub

	// NextIDFunc generates sequential IDs (e.g. "TRN-2026-001").
	NextIDFunc func(prefix, table string, digits int) string
}
