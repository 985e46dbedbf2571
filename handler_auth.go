package main

import (
	"encoding/json"
	"net/http"
	"time"

	"eqms/internal/audit"
	"eqms/internal/auth"
)

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type UserResponse struct {
	ID          int    `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	Position    string `json:"position"`
	Role        string `json:"role"`
}

func handleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonErr(w, "Invalid request body", 400)
		return
	}

	ip := audit.GetClientIP(r)
	if auth.IsLockedOut(db, req.Username) {
		jsonErr(w, "Account temporarily locked after repeated failures", 429)
		return
	}

	var id int
	var passwordHash, displayName, position, role string
	var active int
	err := db.QueryRow("SELECT id, password_hash, COALESCE(display_name,''), COALESCE(position,''), role, active FROM users WHERE username = ?",
		req.Username).Scan(&id, &passwordHash, &displayName, &position, &role, &active)
	if err != nil || !auth.CheckPassword(passwordHash, req.Password) {
		auth.RecordLoginAttempt(db, req.Username, ip, false)
		jsonErr(w, "Invalid username or password", 401)
		return
	}

	if active == 0 {
		jsonErr(w, "Account deactivated", 403)
		return
	}

	auth.RecordLoginAttempt(db, req.Username, ip, true)
	auth.ClearLoginAttempts(db, req.Username)
	auth.CleanupExpiredSessions(db)

	token, err := auth.CreateSession(db, id)
	if err != nil {
		jsonErr(w, "Failed to create session", 500)
		return
	}

	db.Exec("UPDATE users SET last_login = CURRENT_TIMESTAMP WHERE id = ?", id)
	audit.LogAudit(db, wsHub, req.Username, "login", "auth", "", req.Username+" logged in")

	http.SetCookie(w, &http.Cookie{
		Name:     "eqms_session",
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Expires:  time.Now().Add(24 * time.Hour),
	})

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"user": UserResponse{ID: id, Username: req.Username, DisplayName: displayName, Position: position, Role: role},
	})
}

func handleLogout(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie("eqms_session")
	if err == nil {
		username := audit.GetUsername(db, r)
		auth.DeleteSession(db, cookie.Value)
		if username != "" {
			audit.LogAudit(db, wsHub, username, "logout", "auth", "", username+" logged out")
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     "eqms_session",
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
	})

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func handleMe(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie("eqms_session")
	if err != nil {
		unauthorized(w)
		return
	}

	var id int
	var username, displayName, position, role string
	err = db.QueryRow(`SELECT u.id, u.username, COALESCE(u.display_name,''), COALESCE(u.position,''), u.role
		FROM sessions s JOIN users u ON s.user_id = u.id
		WHERE s.token = ? AND s.expires_at > CURRENT_TIMESTAMP`, cookie.Value).
		Scan(&id, &username, &displayName, &position, &role)
	if err != nil {
		unauthorized(w)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"user": UserResponse{ID: id, Username: username, DisplayName: displayName, Position: position, Role: role},
	})
}

func jsonErr(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
