package admin

import (
	"database/sql"

	"eqms/internal/websocket"
)

// Handler holds dependencies for admin handlers.
type Handler struct {
	DB  *sql.DB
	Hub *websocket.Hub
}
