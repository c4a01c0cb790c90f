package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type TradeStatus string

const (
	TradeActive    TradeStatus = "Active"
	TradeDisputed  TradeStatus = "Disputed"
	TradeCompleted TradeStatus = "Completed"
	TradeCancelled TradeStatus = "Cancelled"
)

// Trade is the escrow-backed record a dispute is filed against. The engine
// only ever signals status changes on it.
type Trade struct {
	TicketID  string          `json:"ticket_id"`
	BuyerID   string          `json:"buyer_id"`
	SellerID  string          `json:"seller_id"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	Status    TradeStatus     `json:"status"`
	DisputeID string          `json:"dispute_id,omitempty"`
	Decision  Decision        `json:"decision,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// TradeUpdate carries the optional fields written alongside a status change.
type TradeUpdate struct {
	DisputeID string
	Decision  Decision
}
