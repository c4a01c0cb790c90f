package ingestion

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/wakala/tradeguard/internal/domain"
)

type jsonEntry struct {
	ID             string          `json:"id"`
	UserID         string          `json:"user_id"`
	CounterpartyID string          `json:"counterparty_id"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	Timestamp      string          `json:"timestamp"`
}

// ParseJSON parses a JSON array of transactions. Amounts may be numbers or
// strings. Rows are numbered from 1 in array order; an element that does not
// decode is rejected on its own.
func ParseJSON(data []byte) (*Batch, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: unmarshal: %v", domain.ErrValidation, err)
	}

	batch := &Batch{Records: make([]Record, 0, len(raw))}
	for i, msg := range raw {
		row := i + 1
		var e jsonEntry
		if err := json.Unmarshal(msg, &e); err != nil {
			var ref struct {
				ID string `json:"id"`
			}
			_ = json.Unmarshal(msg, &ref)
			batch.reject(row, ref.ID, err)
			continue
		}
		ts, err := parseTimestamp(e.Timestamp)
		if err != nil {
			batch.reject(row, e.ID, fmt.Errorf("timestamp: %v", err))
			continue
		}
		batch.Records = append(batch.Records, Record{Row: row, Transaction: domain.Transaction{
			ID:             e.ID,
			UserID:         e.UserID,
			CounterpartyID: e.CounterpartyID,
			Amount:         e.Amount,
			Currency:       e.Currency,
			Timestamp:      ts,
		}})
	}
	return batch, nil
}
