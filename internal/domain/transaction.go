package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Transaction is a completed transfer between a user and a counterparty.
// It is the unit the rule engine screens.
type Transaction struct {
	ID             string          `json:"id" validate:"required"`
	UserID         string          `json:"user_id" validate:"required"`
	CounterpartyID string          `json:"counterparty_id,omitempty"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency" validate:"required,len=3"`
	Timestamp      time.Time       `json:"timestamp" validate:"required"`
}
