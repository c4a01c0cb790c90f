package api

import (
	"io"
	"net/http"

	"github.com/wakala/tradeguard/internal/domain"
	"github.com/wakala/tradeguard/internal/ingestion"
	"github.com/wakala/tradeguard/internal/repository"
)

func (h *Handlers) ListTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := repository.TransactionFilter{
		UserID: q.Get("user_id"),
		From:   parseTime(q.Get("from")),
		To:     parseTime(q.Get("to")),
		Page:   parseIntDefault(q.Get("page"), 1),
		Limit:  parseIntDefault(q.Get("limit"), 50),
	}
	txns, total, err := h.transactions.List(r.Context(), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, page(txns, total, filter.Page, filter.Limit))
}

// ScreenTransaction stores and screens one transaction.
func (h *Handlers) ScreenTransaction(w http.ResponseWriter, r *http.Request) {
	var tx domain.Transaction
	if err := h.decode(r, &tx); err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := h.alerts.Screen(r.Context(), tx)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	status := http.StatusCreated
	if res.Duplicate {
		status = http.StatusOK
	}
	h.writeJSON(w, status, res)
}

// EvaluateTransaction runs the rules without storing anything.
func (h *Handlers) EvaluateTransaction(w http.ResponseWriter, r *http.Request) {
	var tx domain.Transaction
	if err := h.decode(r, &tx); err != nil {
		h.fail(w, r, err)
		return
	}
	eval, err := h.alerts.Evaluate(r.Context(), tx)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	skipped := make([]string, 0, len(eval.Skipped))
	for _, e := range eval.Skipped {
		skipped = append(skipped, e.Error())
	}
	candidates := eval.Alerts
	if candidates == nil {
		candidates = []domain.Alert{}
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"alerts": candidates, "skipped_rules": skipped})
}

// IngestTransactions accepts a transaction file either as a multipart "file"
// field or as the raw body. The format comes from the "format" form or query
// value and defaults to csv.
func (h *Handlers) IngestTransactions(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	var data []byte
	var err error

	if file, _, ferr := r.FormFile("file"); ferr == nil {
		defer file.Close()
		if f := r.FormValue("format"); f != "" {
			format = f
		}
		data, err = io.ReadAll(file)
	} else {
		data, err = io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	}
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Validation", "read file: "+err.Error())
		return
	}
	if format == "" {
		format = ingestion.FormatCSV
	}

	res, err := h.ingestion.Ingest(r.Context(), data, format)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}
