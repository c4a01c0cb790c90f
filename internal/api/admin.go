package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/wakala/tradeguard/internal/domain"
	"github.com/wakala/tradeguard/internal/repository"
)

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if _, err := h.users.GetRole(r.Context(), ""); err != nil {
		h.writeError(w, http.StatusServiceUnavailable, "Unavailable", "database unreachable")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type tradeRequest struct {
	TicketID string          `json:"ticket_id" validate:"required"`
	BuyerID  string          `json:"buyer_id" validate:"required"`
	SellerID string          `json:"seller_id" validate:"required,nefield=BuyerID"`
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency" validate:"required,len=3"`
}

// RegisterTrade mirrors a trade from the escrow service so disputes can be
// filed against it.
func (h *Handlers) RegisterTrade(w http.ResponseWriter, r *http.Request) {
	var req tradeRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if !req.Amount.IsPositive() {
		h.writeError(w, http.StatusBadRequest, "Validation", "amount must be positive")
		return
	}
	t := &domain.Trade{
		TicketID: req.TicketID,
		BuyerID:  req.BuyerID,
		SellerID: req.SellerID,
		Amount:   req.Amount,
		Currency: req.Currency,
		Status:   domain.TradeActive,
	}
	if err := h.trades.Insert(r.Context(), t); err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, t)
}

// GetTrade is visible to the trade's parties and to staff.
func (h *Handlers) GetTrade(w http.ResponseWriter, r *http.Request) {
	t, err := h.trades.GetTrade(r.Context(), chi.URLParam(r, "ticketID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if caller := userID(r); caller != t.BuyerID && caller != t.SellerID {
		role, err := h.users.GetRole(r.Context(), caller)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		if !role.Staff() {
			h.writeError(w, http.StatusForbidden, "Unauthorized", "not a party to this trade")
			return
		}
	}
	h.writeJSON(w, http.StatusOK, t)
}

type roleRequest struct {
	Role domain.Role `json:"role" validate:"required,oneof=buyer seller admin arbitrator"`
}

// SetUserRole records a role in the directory. Only admins may grant roles.
func (h *Handlers) SetUserRole(w http.ResponseWriter, r *http.Request) {
	role, err := h.users.GetRole(r.Context(), userID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if role != domain.RoleAdmin {
		h.writeError(w, http.StatusForbidden, "Unauthorized", "only admins may grant roles")
		return
	}
	var req roleRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	subject := chi.URLParam(r, "id")
	previous, err := h.users.GetRole(r.Context(), subject)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.users.SetRole(r.Context(), subject, req.Role); err != nil {
		h.fail(w, r, err)
		return
	}
	h.auditor.Record(r.Context(), "user.set_role", "user", subject, userID(r), map[string]any{
		"role":          string(req.Role),
		"previous_role": string(previous),
	})
	h.writeJSON(w, http.StatusOK, map[string]string{"user_id": subject, "role": string(req.Role)})
}

// Reconcile runs one trade repair sweep and timeline check.
func (h *Handlers) Reconcile(w http.ResponseWriter, r *http.Request) {
	res, err := h.recon.RunFullReconciliation(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}

func (h *Handlers) ListAudit(w http.ResponseWriter, r *http.Request) {
	entries, err := h.audit.ListForResource(r.Context(), chi.URLParam(r, "type"), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if entries == nil {
		entries = []repository.AuditEntry{}
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// ListNotifications returns the caller's notifications in delivery order.
func (h *Handlers) ListNotifications(w http.ResponseWriter, r *http.Request) {
	list, err := h.notifications.ListForUser(r.Context(), userID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if list == nil {
		list = []repository.Notification{}
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"notifications": list})
}
