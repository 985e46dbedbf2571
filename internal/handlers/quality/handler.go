package quality

import (
	"database/sql"

	"eqms/internal/capa"
	"eqms/internal/websocket"
)

// Handler holds dependencies for CAPA handlers.
type Handler struct {
	DB  *sql.DB
	Hub *websocket.Hub

	// NextIDFunc generates sequential IDs (e.g. "CAPA-2026-001").
	NextIDFunc func(prefix, table string, digits int) string

	// Engine drives CAPA phase workflows.
	Engine *capa.Engine
}
