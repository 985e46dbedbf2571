package admin

import (
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"eqms/internal/audit"
	"eqms/internal/auth"
	"eqms/internal/database"
	"eqms/internal/models"
	"eqms/internal/response"
	"eqms/internal/validation"
)

const userSelect = `SELECT id,username,COALESCE(display_name,''),COALESCE(position,''),role,active,last_login,created_at
	FROM users`

func scanUser(scan func(dest ...interface{}) error) (models.User, error) {
	var u models.User
	var lastLogin sql.NullString
	var active int
	err := scan(&u.ID, &u.Username, &u.DisplayName, &u.Position, &u.Role, &active, &lastLogin, &u.CreatedAt)
	u.Active = active == 1
	u.LastLogin = database.SP(lastLogin)
	return u, err
}

// ListUsers handles GET /api/v1/users.
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	rows, err := h.DB.Query(userSelect + " ORDER BY username ASC")
	if err != nil {
		response.Err(w, err.Error(), 500)
		return
	}
	defer rows.Close()
	var items []models.User
	for rows.Next() {
		u, err := scanUser(rows.Scan)
		if err != nil {
			continue
		}
		items = append(items, u)
	}
	if items == nil {
		items = []models.User{}
	}
	response.JSON(w, items)
}

// CreateUser handles POST /api/v1/users.
func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username    string `json:"username"`
		Password    string `json:"password"`
		DisplayName string `json:"display_name"`
		Position    string `json:"position"`
		Role        string `json:"role"`
	}
	if err := response.DecodeBody(r, &body); err != nil {
		response.Err(w, "invalid body", 400)
		return
	}

	ve := &validation.ValidationErrors{}
	validation.RequireField(ve, "username", body.Username)
	validation.ValidateMaxLength(ve, "username", body.Username, 64)
	validation.RequireField(ve, "password", body.Password)
	validation.RequireField(ve, "role", body.Role)
	validation.ValidateEnum(ve, "role", body.Role, validation.ValidUserRoles)
	validation.ValidateMaxLength(ve, "display_name", body.DisplayName, 255)
	validation.ValidateMaxLength(ve, "position", body.Position, 100)
	if ve.HasErrors() {
		response.Err(w, ve.Error(), 400)
		return
	}
	if err := auth.ValidatePasswordStrength(body.Password); err != nil {
		response.Err(w, err.Error(), 400)
		return
	}

	var exists int
	h.DB.QueryRow("SELECT COUNT(*) FROM users WHERE username=?", body.Username).Scan(&exists)
	if exists > 0 {
		response.Err(w, "username already taken", 409)
		return
	}

	hash, err := auth.HashPassword(body.Password)
	if err != nil {
		response.Err(w, err.Error(), 500)
		return
	}

	now := time.Now().Format("2006-01-02 15:04:05")
	res, err := h.DB.Exec(`INSERT INTO users (username,password_hash,display_name,position,role,active,created_at)
		VALUES (?,?,?,?,?,1,?)`,
		body.Username, hash, body.DisplayName, body.Position, body.Role, now)
	if err != nil {
		response.Err(w, err.Error(), 500)
		return
	}
	id, _ := res.LastInsertId()

	actor := audit.GetUsername(h.DB, r)
	audit.LogAudit(h.DB, h.Hub, actor, "created", "user", strconv.FormatInt(id, 10), "Created user "+body.Username)

	u := models.User{
		ID: int(id), Username: body.Username, DisplayName: body.DisplayName,
		Position: body.Position, Role: body.Role, Active: true, CreatedAt: now,
	}
	response.JSON(w, u)
}

// UpdateUser handles PUT /api/v1/users/:id. Password changes go through
// the same strength rules as creation.
func (h *Handler) UpdateUser(w http.ResponseWriter, r *http.Request, id string) {
	current, err := scanUser(h.DB.QueryRow(userSelect+" WHERE id=?", id).Scan)
	if err != nil {
		response.Err(w, "not found", 404)
		return
	}

	var body struct {
		DisplayName string `json:"display_name"`
		Position    string `json:"position"`
		Role        string `json:"role"`
		Password    string `json:"password"`
		Active      *bool  `json:"active"`
	}
	if err := response.DecodeBody(r, &body); err != nil {
		response.Err(w, "invalid body", 400)
		return
	}

	ve := &validation.ValidationErrors{}
	if body.Role != "" {
		validation.ValidateEnum(ve, "role", body.Role, validation.ValidUserRoles)
	}
	validation.ValidateMaxLength(ve, "display_name", body.DisplayName, 255)
	validation.ValidateMaxLength(ve, "position", body.Position, 100)
	if ve.HasErrors() {
		response.Err(w, ve.Error(), 400)
		return
	}

	displayName := body.DisplayName
	if displayName == "" {
		displayName = current.DisplayName
	}
	position := body.Position
	if position == "" {
		position = current.Position
	}
	role := body.Role
	if role == "" {
		role = current.Role
	}
	active := current.Active
	if body.Active != nil {
		active = *body.Active
	}
	activeInt := 0
	if active {
		activeInt = 1
	}

	_, err = h.DB.Exec("UPDATE users SET display_name=?,position=?,role=?,active=? WHERE id=?",
		displayName, position, role, activeInt, id)
	if err != nil {
		response.Err(w, err.Error(), 500)
		return
	}

	if body.Password != "" {
		if err := auth.ValidatePasswordStrength(body.Password); err != nil {
			response.Err(w, err.Error(), 400)
			return
		}
		hash, err := auth.HashPassword(body.Password)
		if err != nil {
			response.Err(w, err.Error(), 500)
			return
		}
		h.DB.Exec("UPDATE users SET password_hash=? WHERE id=?", hash, id)
	}

	actor := audit.GetUsername(h.DB, r)
	audit.LogAudit(h.DB, h.Hub, actor, "updated", "user", id, "Updated user "+current.Username)

	u, err := scanUser(h.DB.QueryRow(userSelect+" WHERE id=?", id).Scan)
	if err != nil {
		response.Err(w, err.Error(), 500)
		return
	}
	response.JSON(w, u)
}

// DeactivateUser handles DELETE /api/v1/users/:id. Accounts are
// deactivated, never removed, so the audit trail stays attributable.
func (h *Handler) DeactivateUser(w http.ResponseWriter, r *http.Request, id string) {
	current, err := scanUser(h.DB.QueryRow(userSelect+" WHERE id=?", id).Scan)
	if err != nil {
		response.Err(w, "not found", 404)
		return
	}

	h.DB.Exec("UPDATE users SET active=0 WHERE id=?", id)
	h.DB.Exec("DELETE FROM sessions WHERE user_id=?", id)

	actor := audit.GetUsername(h.DB, r)
	audit.LogAudit(h.DB, h.Hub, actor, "updated", "user", id, "Deactivated user "+current.Username)
	response.JSON(w, map[string]string{"status": "deactivated"})
}
