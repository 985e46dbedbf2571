package auth

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// SessionDuration is the sliding-window lifetime of a session.
const SessionDuration = 24 * time.Hour

// CreateSession issues a new session token for a user.
func CreateSession(db *sql.DB, userID int) (string, error) {
	token := uuid.NewString()
	expiresAt := time.Now().Add(SessionDuration)
	_, err := db.Exec("INSERT INTO sessions (token, user_id, expires_at) VALUES (?, ?, ?)",
		token, userID, expiresAt.Format("2006-01-02 15:04:05"))
	if err != nil {
		return "", err
	}
	return token, nil
}

// DeleteSession removes a session token (logout).
func DeleteSession(db *sql.DB, token string) {
	db.Exec("DELETE FROM sessions WHERE token = ?", token)
}

// CleanupExpiredSessions removes expired sessions.
func CleanupExpiredSessions(db *sql.DB) {
	db.Exec("DELETE FROM sessions WHERE expires_at < CURRENT_TIMESTAMP")
}
