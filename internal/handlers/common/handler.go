package common

import (
	"database/sql"

	"eqms/internal/websocket"
)

// Handler holds dependencies for cross-module export handlers.
type Handler struct {
	DB  *sql.DB
	Hub *websocket.Hub
}
