package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/wakala/tradeguard/internal/domain"
	"github.com/wakala/tradeguard/internal/repository"
)

func (h *Handlers) ListAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := repository.AlertFilter{
		UserID:   q.Get("user_id"),
		RuleID:   q.Get("rule_id"),
		Status:   q.Get("status"),
		Severity: q.Get("severity"),
		Page:     parseIntDefault(q.Get("page"), 1),
		Limit:    parseIntDefault(q.Get("limit"), 50),
	}
	list, total, err := h.alerts.ListAlerts(r.Context(), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, page(list, total, filter.Page, filter.Limit))
}

func (h *Handlers) GetAlert(w http.ResponseWriter, r *http.Request) {
	a, err := h.alerts.GetAlert(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, a)
}

type alertStatusRequest struct {
	Status domain.AlertStatus `json:"status" validate:"required"`
	Note   string             `json:"note"`
}

// UpdateAlertStatus records a review decision by the calling staff member.
func (h *Handlers) UpdateAlertStatus(w http.ResponseWriter, r *http.Request) {
	var req alertStatusRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	a, err := h.alerts.UpdateStatus(r.Context(), chi.URLParam(r, "id"), req.Status, req.Note, userID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, a)
}

// GetTradingStatus is available to the user themselves and to staff.
func (h *Handlers) GetTradingStatus(w http.ResponseWriter, r *http.Request) {
	subject := chi.URLParam(r, "id")
	if caller := userID(r); caller != subject {
		role, err := h.users.GetRole(r.Context(), caller)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		if !role.Staff() {
			h.writeError(w, http.StatusForbidden, "Unauthorized", "only staff may read another user's status")
			return
		}
	}
	st, err := h.alerts.ComputeStatus(r.Context(), subject)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, st)
}

type flagRequest struct {
	Reason string `json:"reason" validate:"required"`
}

func (h *Handlers) FlagUser(w http.ResponseWriter, r *http.Request) {
	var req flagRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	f, err := h.alerts.FlagUser(r.Context(), chi.URLParam(r, "id"), req.Reason, userID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, f)
}

func (h *Handlers) UnflagUser(w http.ResponseWriter, r *http.Request) {
	if err := h.alerts.UnflagUser(r.Context(), chi.URLParam(r, "id"), userID(r)); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
