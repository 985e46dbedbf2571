package documents

import (
	"database/sql"

	"eqms/internal/websocket"
	"eqms/internal/workflow"
)

// Handler holds dependencies for document control handlers.
type Handler struct {
	DB  *sql.DB
	Hub *websocket.Hub

	// NextIDFunc generates sequential IDs (e.g. "DOC-2026-001").
	NextIDFunc func(prefix, table string, digits int) string

	// Engine drives approval workflow instances for documents.
	Engine *workflow.Engine
}
