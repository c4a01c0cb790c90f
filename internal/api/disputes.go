package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/wakala/tradeguard/internal/disputes"
	"github.com/wakala/tradeguard/internal/domain"
	"github.com/wakala/tradeguard/internal/repository"
)

type createDisputeRequest struct {
	TicketID       string                   `json:"ticket_id" validate:"required"`
	CounterpartyID string                   `json:"counterparty_id" validate:"required"`
	Reason         string                   `json:"reason" validate:"required"`
	Description    string                   `json:"description"`
	Evidence       []disputes.EvidenceInput `json:"evidence"`
}

// CreateDispute files a dispute on behalf of the caller.
func (h *Handlers) CreateDispute(w http.ResponseWriter, r *http.Request) {
	var req createDisputeRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	d, err := h.disputes.CreateDispute(r.Context(), disputes.CreateRequest{
		TicketID:       req.TicketID,
		FilerID:        userID(r),
		CounterpartyID: req.CounterpartyID,
		Reason:         req.Reason,
		Description:    req.Description,
		Evidence:       req.Evidence,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, d)
}

func (h *Handlers) ListDisputes(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := repository.DisputeFilter{
		UserID:   q.Get("user_id"),
		Status:   q.Get("status"),
		TicketID: q.Get("ticket_id"),
		Page:     parseIntDefault(q.Get("page"), 1),
		Limit:    parseIntDefault(q.Get("limit"), 50),
	}
	list, total, err := h.disputes.ListDisputes(r.Context(), userID(r), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, page(list, total, filter.Page, filter.Limit))
}

func (h *Handlers) GetDispute(w http.ResponseWriter, r *http.Request) {
	d, err := h.disputes.GetDispute(r.Context(), chi.URLParam(r, "id"), userID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, d)
}

func (h *Handlers) SubmitEvidence(w http.ResponseWriter, r *http.Request) {
	var in disputes.EvidenceInput
	if err := h.decode(r, &in); err != nil {
		h.fail(w, r, err)
		return
	}
	ev, err := h.disputes.SubmitEvidence(r.Context(), chi.URLParam(r, "id"), userID(r), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, ev)
}

type commentRequest struct {
	Role      domain.Role `json:"role" validate:"required,oneof=buyer seller admin arbitrator"`
	Message   string      `json:"message" validate:"required"`
	IsPrivate bool        `json:"is_private"`
}

func (h *Handlers) AddComment(w http.ResponseWriter, r *http.Request) {
	var req commentRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	c, err := h.disputes.AddComment(r.Context(), chi.URLParam(r, "id"), userID(r), req.Role, req.Message, req.IsPrivate)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, c)
}

type disputeStatusRequest struct {
	Status  domain.DisputeStatus `json:"status" validate:"required"`
	Message string               `json:"message"`
}

func (h *Handlers) UpdateDisputeStatus(w http.ResponseWriter, r *http.Request) {
	var req disputeStatusRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	h.afterTransition(w, r, h.disputes.UpdateStatus(r.Context(), chi.URLParam(r, "id"), userID(r), req.Status, req.Message))
}

type escalateRequest struct {
	Reason string `json:"reason" validate:"required"`
}

func (h *Handlers) EscalateDispute(w http.ResponseWriter, r *http.Request) {
	var req escalateRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	h.afterTransition(w, r, h.disputes.EscalateToArbitration(r.Context(), chi.URLParam(r, "id"), userID(r), req.Reason))
}

func (h *Handlers) ResolveDispute(w http.ResponseWriter, r *http.Request) {
	var in disputes.ResolutionInput
	if err := h.decode(r, &in); err != nil {
		h.fail(w, r, err)
		return
	}
	d, err := h.disputes.Resolve(r.Context(), chi.URLParam(r, "id"), userID(r), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if d == nil {
		h.afterTransition(w, r, nil)
		return
	}
	h.writeJSON(w, http.StatusOK, d)
}

// afterTransition answers a committed status change with the dispute as the
// caller now sees it.
func (h *Handlers) afterTransition(w http.ResponseWriter, r *http.Request, err error) {
	if err != nil {
		h.fail(w, r, err)
		return
	}
	d, err := h.disputes.GetDispute(r.Context(), chi.URLParam(r, "id"), userID(r))
	if err != nil {
		// The change is committed; the caller may have lost read access.
		h.writeJSON(w, http.StatusOK, map[string]string{"id": chi.URLParam(r, "id"), "status": "updated"})
		return
	}
	h.writeJSON(w, http.StatusOK, d)
}
