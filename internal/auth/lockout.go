package auth

import (
	"database/sql"
	"time"
)

const (
	// MaxFailedAttempts before the account is temporarily locked.
	MaxFailedAttempts = 5
	// LockoutWindow is how far back failed attempts are counted.
	LockoutWindow = 15 * time.Minute
)

// IsLockedOut reports whether a username has exceeded the failed-login limit.
func IsLockedOut(db *sql.DB, username string) bool {
	cutoff := time.Now().Add(-LockoutWindow).Format("2006-01-02 15:04:05")
	var count int
	db.QueryRow(`SELECT COUNT(*) FROM login_attempts
		WHERE username = ? AND success = 0 AND attempted_at > ?`, username, cutoff).Scan(&count)
	return count >= MaxFailedAttempts
}

// RecordLoginAttempt stores a login attempt outcome.
func RecordLoginAttempt(db *sql.DB, username, ipAddress string, success bool) {
	s := 0
	if success {
		s = 1
	}
	db.Exec("INSERT INTO login_attempts (username, ip_address, success) VALUES (?, ?, ?)",
		username, ipAddress, s)
}

// ClearLoginAttempts removes failed attempts after a successful login.
func ClearLoginAttempts(db *sql.DB, username string) {
	db.Exec("DELETE FROM login_attempts WHERE username = ? AND success = 0", username)
}
