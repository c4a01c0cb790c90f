package domain

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

type DisputeStatus string

const (
	DisputeOpen              DisputeStatus = "Open"
	DisputeEvidence          DisputeStatus = "Evidence"
	DisputeUnderReview       DisputeStatus = "UnderReview"
	DisputeArbitration       DisputeStatus = "Arbitration"
	DisputePendingResolution DisputeStatus = "PendingResolution"
	DisputeResolved          DisputeStatus = "Resolved"
	DisputeRejected          DisputeStatus = "Rejected"
	DisputeCancelled         DisputeStatus = "Cancelled"
)

// TerminalDisputeStatuses are immutable once entered.
var TerminalDisputeStatuses = []DisputeStatus{DisputeResolved, DisputeRejected, DisputeCancelled}

// EvidenceStatuses accept new evidence.
var EvidenceStatuses = []DisputeStatus{DisputeOpen, DisputeEvidence, DisputeUnderReview}

func (s DisputeStatus) Terminal() bool {
	return slices.Contains(TerminalDisputeStatuses, s)
}

// Valid reports whether s is a known status.
func (s DisputeStatus) Valid() bool {
	_, ok := disputeTransitions[s]
	return ok || s.Terminal()
}

// Resolved is reachable from every non-terminal state so an administrative
// resolution never depends on where the workflow currently sits.
var disputeTransitions = map[DisputeStatus][]DisputeStatus{
	DisputeOpen:              {DisputeEvidence, DisputeCancelled, DisputeResolved},
	DisputeEvidence:          {DisputeUnderReview, DisputeCancelled, DisputeResolved},
	DisputeUnderReview:       {DisputeArbitration, DisputeResolved, DisputeRejected, DisputeCancelled},
	DisputeArbitration:       {DisputePendingResolution, DisputeResolved},
	DisputePendingResolution: {DisputeResolved, DisputeRejected},
}

// CanTransition reports whether from -> to is allowed by the workflow.
func (s DisputeStatus) CanTransition(to DisputeStatus) bool {
	return slices.Contains(disputeTransitions[s], to)
}

// TradeStatus is the status the linked trade must carry while the dispute
// sits in s.
func (s DisputeStatus) TradeStatus() TradeStatus {
	switch s {
	case DisputeResolved:
		return TradeCompleted
	case DisputeRejected:
		return TradeActive
	case DisputeCancelled:
		return TradeCancelled
	}
	return TradeDisputed
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

type DisputeFlag string

const (
	FlagFraud          DisputeFlag = "fraud"
	FlagUrgent         DisputeFlag = "urgent"
	FlagRepeatOffender DisputeFlag = "repeat_offender"
	FlagHighValue      DisputeFlag = "high_value"
)

type EvidenceType string

const (
	EvidenceImage    EvidenceType = "image"
	EvidenceDocument EvidenceType = "document"
	EvidenceText     EvidenceType = "text"
	EvidenceVideo    EvidenceType = "video"
)

type Evidence struct {
	ID          string       `json:"id"`
	DisputeID   string       `json:"dispute_id"`
	UserID      string       `json:"user_id"`
	Type        EvidenceType `json:"type" validate:"required,oneof=image document text video"`
	Content     string       `json:"content" validate:"required"`
	Description string       `json:"description"`
	SubmittedAt time.Time    `json:"submitted_at"`
}

type Role string

const (
	RoleBuyer      Role = "buyer"
	RoleSeller     Role = "seller"
	RoleAdmin      Role = "admin"
	RoleArbitrator Role = "arbitrator"
)

// Staff reports whether the role bypasses party-membership checks.
func (r Role) Staff() bool {
	return r == RoleAdmin || r == RoleArbitrator
}

type Comment struct {
	ID        string    `json:"id"`
	DisputeID string    `json:"dispute_id"`
	UserID    string    `json:"user_id"`
	Role      Role      `json:"role"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
	IsPrivate bool      `json:"is_private"`
}

type TimelineEntry struct {
	Seq       int64         `json:"seq"`
	Status    DisputeStatus `json:"status"`
	Timestamp time.Time     `json:"timestamp"`
	Message   string        `json:"message,omitempty"`
	ActorID   string        `json:"actor_id,omitempty"`
}

type Decision string

const (
	DecisionBuyer    Decision = "buyer"
	DecisionSeller   Decision = "seller"
	DecisionPartial  Decision = "partial"
	DecisionRejected Decision = "rejected"
)

// DisputeResolution is the financial outcome, written once when the dispute
// enters Resolved. Decision is empty only for a status-only resolution.
type DisputeResolution struct {
	Decision            Decision         `json:"decision,omitempty"`
	Reason              string           `json:"reason"`
	ResolvedBy          string           `json:"resolved_by"`
	ResolvedAt          time.Time        `json:"resolved_at"`
	BuyerRefundAmount   *decimal.Decimal `json:"buyer_refund_amount,omitempty"`
	SellerPaymentAmount *decimal.Decimal `json:"seller_payment_amount,omitempty"`
	AdditionalNotes     string           `json:"additional_notes,omitempty"`
}

type Dispute struct {
	ID                     string             `json:"id"`
	TicketID               string             `json:"ticket_id"`
	UserID                 string             `json:"user_id"`
	CounterpartyID         string             `json:"counterparty_id"`
	Reason                 string             `json:"reason"`
	Description            string             `json:"description"`
	Status                 DisputeStatus      `json:"status"`
	Priority               Priority           `json:"priority"`
	Flags                  []DisputeFlag      `json:"flags"`
	Evidence               []Evidence         `json:"evidence"`
	Comments               []Comment          `json:"comments"`
	Timeline               []TimelineEntry    `json:"timeline"`
	EscalatedToArbitration bool               `json:"escalated_to_arbitration"`
	EscalatedAt            *time.Time         `json:"escalated_at,omitempty"`
	Resolution             *DisputeResolution `json:"resolution,omitempty"`
	TradeSyncPending       bool               `json:"trade_sync_pending"`
	Version                int                `json:"version"`
	CreatedAt              time.Time          `json:"created_at"`
	UpdatedAt              time.Time          `json:"updated_at"`
}

// IsParty reports whether userID filed the dispute or is its counterparty.
func (d *Dispute) IsParty(userID string) bool {
	return userID != "" && (userID == d.UserID || userID == d.CounterpartyID)
}

// OtherParty returns the party opposite userID.
func (d *Dispute) OtherParty(userID string) string {
	if userID == d.UserID {
		return d.CounterpartyID
	}
	return d.UserID
}

// HasFlag reports whether f is set.
func (d *Dispute) HasFlag(f DisputeFlag) bool {
	return slices.Contains(d.Flags, f)
}

// Transition is a guarded status change on a dispute. It is committed
// together with its timeline entry.
type Transition struct {
	From            DisputeStatus
	To              DisputeStatus
	ExpectedVersion int
	Entry           TimelineEntry
	EscalatedAt     *time.Time
	Resolution      *DisputeResolution
	// TradeSync marks the linked trade as needing To.TradeStatus().
	TradeSync bool
}
