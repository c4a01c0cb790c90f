package api

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/wakala/tradeguard/internal/domain"
	"github.com/wakala/tradeguard/internal/rules"
)

func (h *Handlers) ListRules(w http.ResponseWriter, r *http.Request) {
	list, err := h.alerts.ListRules(r.Context(), r.URL.Query().Get("enabled") == "true")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if list == nil {
		list = []domain.MonitoringRule{}
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"rules": list})
}

func (h *Handlers) GetRule(w http.ResponseWriter, r *http.Request) {
	rule, err := h.alerts.GetRule(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, rule)
}

func (h *Handlers) CreateRule(w http.ResponseWriter, r *http.Request) {
	var rule domain.MonitoringRule
	if err := h.decode(r, &rule); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.alerts.CreateRule(r.Context(), &rule, userID(r)); err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, rule)
}

func (h *Handlers) UpdateRule(w http.ResponseWriter, r *http.Request) {
	var rule domain.MonitoringRule
	if err := h.decode(r, &rule); err != nil {
		h.fail(w, r, err)
		return
	}
	rule.ID = chi.URLParam(r, "id")
	if err := h.alerts.UpdateRule(r.Context(), &rule, userID(r)); err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, rule)
}

func (h *Handlers) EnableRule(w http.ResponseWriter, r *http.Request) {
	h.setRuleEnabled(w, r, true)
}

func (h *Handlers) DisableRule(w http.ResponseWriter, r *http.Request) {
	h.setRuleEnabled(w, r, false)
}

func (h *Handlers) setRuleEnabled(w http.ResponseWriter, r *http.Request, enabled bool) {
	id := chi.URLParam(r, "id")
	if err := h.alerts.SetRuleEnabled(r.Context(), id, enabled, userID(r)); err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"id": id, "enabled": enabled})
}

// ImportRules accepts a YAML rule file as the request body.
func (h *Handlers) ImportRules(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Validation", "read body: "+err.Error())
		return
	}
	parsed, err := rules.Parse(data, h.now())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	n, err := h.alerts.ImportRules(r.Context(), parsed, userID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]int{"imported": n})
}
