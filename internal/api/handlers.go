package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/wakala/tradeguard/internal/alerts"
	"github.com/wakala/tradeguard/internal/disputes"
	"github.com/wakala/tradeguard/internal/domain"
	"github.com/wakala/tradeguard/internal/ingestion"
	"github.com/wakala/tradeguard/internal/notify"
	"github.com/wakala/tradeguard/internal/reconciliation"
	"github.com/wakala/tradeguard/internal/repository"
)

// UserHeader carries the caller's user ID. Authentication happens upstream.
const UserHeader = "X-User-ID"

const maxBodyBytes = 32 << 20

// Handlers groups all HTTP handler methods and their dependencies.
type Handlers struct {
	alerts        *alerts.Service
	disputes      *disputes.Service
	ingestion     *ingestion.Service
	recon         *reconciliation.Service
	transactions  *repository.TransactionRepo
	trades        *repository.TradeRepo
	users         *repository.UserRepo
	notifications *repository.NotificationRepo
	audit         *repository.AuditRepo
	auditor       *notify.Auditor
	validate      *validator.Validate
	log           *zap.Logger
	now           func() time.Time
}

// --- helpers ---

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Warn("encode response", zap.Error(err))
	}
}

type errorBody struct {
	Error     string `json:"error"`
	Kind      string `json:"kind"`
	Retryable bool   `json:"retryable,omitempty"`
}

func (h *Handlers) writeError(w http.ResponseWriter, status int, kind, msg string) {
	h.writeJSON(w, status, errorBody{Error: msg, Kind: kind})
}

// fail maps an error kind to its HTTP status. Unclassified errors are logged
// and reported without detail.
func (h *Handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	kind := domain.Kind(err)
	body := errorBody{Error: err.Error(), Kind: kind}
	status := http.StatusInternalServerError
	switch kind {
	case "NotFound":
		status = http.StatusNotFound
	case "Unauthorized":
		status = http.StatusForbidden
	case "InvalidTransition", "InvalidState", "DuplicateDispute":
		status = http.StatusConflict
	case "ConcurrencyConflict":
		status = http.StatusConflict
		body.Retryable = true
	case "Validation", "InvalidRule":
		status = http.StatusBadRequest
	default:
		h.log.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		body.Error = "internal error"
	}
	h.writeJSON(w, status, body)
}

// decode reads a JSON body into v and runs struct validation.
func (h *Handlers) decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: invalid JSON body: %v", domain.ErrValidation, err)
	}
	if err := h.validate.Struct(v); err != nil {
		var invalid *validator.InvalidValidationError
		if errors.As(err, &invalid) {
			return nil
		}
		return fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	return nil
}

func userID(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(UserHeader))
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 1 {
		return def
	}
	return v
}

func parseTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t, err = time.Parse("2006-01-02", s)
		if err != nil {
			return nil
		}
	}
	return &t
}

func page[T any](items []T, total, pg, limit int) map[string]any {
	if items == nil {
		items = []T{}
	}
	return map[string]any{
		"items": items,
		"total": total,
		"page":  pg,
		"limit": limit,
	}
}
