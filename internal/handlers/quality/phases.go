package quality

import (
	"errors"
	"net/http"

	"eqms/internal/audit"
	"eqms/internal/capa"
	"eqms/internal/response"
	"eqms/internal/validation"
)

// StartPhaseWorkflow handles POST /api/v1/capas/:id/workflow. Creates the
// phase workflow at the correction phase.
func (h *Handler) StartPhaseWorkflow(w http.ResponseWriter, r *http.Request, id string) {
	var body struct {
		AssignedTo string `json:"assigned_to"`
		DueDate    string `json:"due_date"`
	}
	if err := response.DecodeBody(r, &body); err != nil {
		response.Err(w, "invalid body", 400)
		return
	}

	ve := &validation.ValidationErrors{}
	validation.ValidateDate(ve, "due_date", body.DueDate)
	if body.AssignedTo != "" && !validation.UsernameExists(h.DB, body.AssignedTo) {
		ve.Add("assigned_to", "user does not exist")
	}
	if ve.HasErrors() {
		response.Err(w, ve.Error(), 400)
		return
	}

	username := audit.GetUsername(h.DB, r)
	wf, err := h.Engine.CreateWorkflow(id, body.AssignedTo, username, body.DueDate)
	if err != nil {
		switch {
		case errors.Is(err, capa.ErrNotFound):
			response.Err(w, "not found", 404)
		case errors.Is(err, capa.ErrWorkflowExists):
			response.Err(w, "CAPA already has a phase workflow", 409)
		default:
			response.Err(w, err.Error(), 500)
		}
		return
	}

	h.DB.Exec("UPDATE capas SET status='in_progress', updated_at=? WHERE id=? AND status='open'",
		wf.UpdatedAt, id)

	audit.LogAudit(h.DB, h.Hub, username, "created", "capa_workflow", id,
		"Started phase workflow for "+id)
	h.Hub.BroadcastChange("capas", "updated", id)
	response.JSON(w, wf)
}

// GetPhaseWorkflow handles GET /api/v1/capas/:id/workflow.
func (h *Handler) GetPhaseWorkflow(w http.ResponseWriter, r *http.Request, id string) {
	wf, err := h.Engine.Get(id)
	if err != nil {
		response.Err(w, "not found", 404)
		return
	}
	response.JSON(w, wf)
}

// TransitionPhase handles POST /api/v1/capas/:id/transition.
func (h *Handler) TransitionPhase(w http.ResponseWriter, r *http.Request, id string) {
	var body struct {
		Target     string `json:"target"`
		Comments   string `json:"comments"`
		AssignedTo string `json:"assigned_to"`
		DueDate    string `json:"due_date"`
	}
	if err := response.DecodeBody(r, &body); err != nil {
		response.Err(w, "invalid body", 400)
		return
	}

	ve := &validation.ValidationErrors{}
	validation.RequireField(ve, "target", body.Target)
	validation.ValidateDate(ve, "due_date", body.DueDate)
	if body.AssignedTo != "" && !validation.UsernameExists(h.DB, body.AssignedTo) {
		ve.Add("assigned_to", "user does not exist")
	}
	if ve.HasErrors() {
		response.Err(w, ve.Error(), 400)
		return
	}

	username := audit.GetUsername(h.DB, r)
	wf, err := h.Engine.Transition(id, capa.Phase(body.Target), username, body.Comments, body.AssignedTo, body.DueDate)
	if err != nil {
		switch {
		case errors.Is(err, capa.ErrNotFound):
			response.Err(w, "not found", 404)
		case errors.Is(err, capa.ErrInvalidPhase):
			response.Err(w, err.Error(), 400)
		case errors.Is(err, capa.ErrInvalidTransition):
			response.Err(w, err.Error(), 409)
		default:
			response.Err(w, err.Error(), 500)
		}
		return
	}

	audit.LogAudit(h.DB, h.Hub, username, "transition", "capa", id,
		"Moved "+id+" to "+string(wf.CurrentState))
	h.Hub.BroadcastChange("capas", "transitioned", id)
	response.JSON(w, wf)
}

// PhaseHistory handles GET /api/v1/capas/:id/history.
func (h *Handler) PhaseHistory(w http.ResponseWriter, r *http.Request, id string) {
	entries, err := h.Engine.History(id)
	if err != nil {
		response.Err(w, err.Error(), 500)
		return
	}
	response.JSON(w, entries)
}

// SavePhaseData handles PUT /api/v1/capas/:id/phases/:phase.
func (h *Handler) SavePhaseData(w http.ResponseWriter, r *http.Request, id, phase string) {
	var body struct {
		Data string `json:"data"`
	}
	if err := response.DecodeBody(r, &body); err != nil {
		response.Err(w, "invalid body", 400)
		return
	}

	username := audit.GetUsername(h.DB, r)
	if err := h.Engine.SavePhaseData(id, capa.Phase(phase), body.Data, username); err != nil {
		switch {
		case errors.Is(err, capa.ErrNotFound):
			response.Err(w, "not found", 404)
		case errors.Is(err, capa.ErrInvalidPhase):
			response.Err(w, err.Error(), 400)
		default:
			response.Err(w, err.Error(), 500)
		}
		return
	}

	audit.LogAudit(h.DB, h.Hub, username, "updated", "capa", id, "Saved "+phase+" phase data for "+id)
	h.GetPhaseData(w, r, id, phase)
}

// GetPhaseData handles GET /api/v1/capas/:id/phases/:phase.
func (h *Handler) GetPhaseData(w http.ResponseWriter, r *http.Request, id, phase string) {
	pd, err := h.Engine.GetPhaseData(id, capa.Phase(phase))
	if err != nil {
		if errors.Is(err, capa.ErrInvalidPhase) {
			response.Err(w, err.Error(), 400)
			return
		}
		response.Err(w, err.Error(), 500)
		return
	}
	response.JSON(w, pd)
}
