package disputes

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/wakala/tradeguard/internal/domain"
)

// EvidenceInput is evidence as submitted by a party.
type EvidenceInput struct {
	Type        domain.EvidenceType `json:"type" validate:"required,oneof=image document text video"`
	Content     string              `json:"content" validate:"required"`
	Description string              `json:"description"`
}

type CreateRequest struct {
	TicketID       string          `json:"ticket_id" validate:"required"`
	FilerID        string          `json:"filer_id" validate:"required"`
	CounterpartyID string          `json:"counterparty_id" validate:"required,nefield=FilerID"`
	Reason         string          `json:"reason" validate:"required"`
	Description    string          `json:"description"`
	Evidence       []EvidenceInput `json:"evidence" validate:"dive"`
}

// CreateDispute files a dispute against a trade. The filer and counterparty
// must be the trade's buyer and seller. A ticket with a non-terminal dispute
// fails with ErrDuplicateDispute. Initial evidence moves the dispute
// straight to Evidence.
func (s *Service) CreateDispute(ctx context.Context, req CreateRequest) (*domain.Dispute, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	trade, err := s.trades.GetTrade(ctx, req.TicketID)
	if err != nil {
		return nil, err
	}
	if !tradeParties(trade, req.FilerID, req.CounterpartyID) {
		return nil, fmt.Errorf("%w: %s and %s are not the parties of trade %s",
			domain.ErrUnauthorized, req.FilerID, req.CounterpartyID, trade.TicketID)
	}

	amount, err := s.converter.ToBase(trade.Amount, trade.Currency)
	if err != nil {
		return nil, err
	}
	priorCount, err := s.repo.CountAsCounterparty(ctx, req.CounterpartyID)
	if err != nil {
		return nil, err
	}

	now := s.stamp()
	d := &domain.Dispute{
		ID:               uuid.NewString(),
		TicketID:         req.TicketID,
		UserID:           req.FilerID,
		CounterpartyID:   req.CounterpartyID,
		Reason:           req.Reason,
		Description:      req.Description,
		Status:           domain.DisputeOpen,
		Priority:         s.priority(amount),
		Flags:            s.flags(amount, req.Reason, priorCount),
		Evidence:         []domain.Evidence{},
		Comments:         []domain.Comment{},
		Timeline:         []domain.TimelineEntry{{Status: domain.DisputeOpen, Timestamp: now, Message: "dispute filed", ActorID: req.FilerID}},
		TradeSyncPending: true,
		Version:          1,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	for _, in := range req.Evidence {
		d.Evidence = append(d.Evidence, newEvidence(d.ID, req.FilerID, in, now))
	}
	if len(d.Evidence) > 0 {
		d.Status = domain.DisputeEvidence
		d.Timeline = append(d.Timeline, domain.TimelineEntry{
			Status: domain.DisputeEvidence, Timestamp: now, Message: "evidence submitted", ActorID: req.FilerID,
		})
	}

	if err := s.repo.Create(ctx, d); err != nil {
		return nil, err
	}
	s.syncTradeAfterCommit(ctx, d.ID)

	s.metrics.DisputeCreated(string(d.Priority))
	s.log.Info("dispute filed",
		zap.String("dispute_id", d.ID),
		zap.String("ticket_id", d.TicketID),
		zap.String("user_id", d.UserID),
		zap.String("priority", string(d.Priority)),
		zap.Any("flags", d.Flags))
	s.audit.Record(ctx, "dispute.create", "dispute", d.ID, req.FilerID, map[string]any{
		"ticket_id": d.TicketID,
		"priority":  string(d.Priority),
		"flags":     d.Flags,
		"evidence":  len(d.Evidence),
	})

	meta := map[string]string{"dispute_id": d.ID, "ticket_id": d.TicketID}
	s.notifier.Notify(ctx, d.UserID, "dispute_created", "Dispute filed",
		fmt.Sprintf("Your dispute on trade %s was filed.", d.TicketID), meta)
	s.notifier.Notify(ctx, d.CounterpartyID, "dispute_created", "Dispute opened against you",
		fmt.Sprintf("A dispute was opened on trade %s: %s.", d.TicketID, d.Reason), meta)
	admins, err := s.roles.GetUsersWithRole(ctx, domain.RoleAdmin)
	if err != nil {
		s.log.Warn("admin lookup for dispute notification", zap.String("dispute_id", d.ID), zap.Error(err))
	}
	for _, admin := range admins {
		s.notifier.Notify(ctx, admin, "dispute_created", "New dispute",
			fmt.Sprintf("Dispute %s filed on trade %s (%s priority).", d.ID, d.TicketID, d.Priority), meta)
	}

	return d, nil
}

func (s *Service) priority(amount decimal.Decimal) domain.Priority {
	switch {
	case amount.GreaterThan(s.cfg.HighPriorityAmount):
		return domain.PriorityHigh
	case amount.GreaterThan(s.cfg.MediumPriorityAmount):
		return domain.PriorityMedium
	}
	return domain.PriorityLow
}

func (s *Service) flags(amount decimal.Decimal, reason string, priorAsCounterparty int) []domain.DisputeFlag {
	flags := []domain.DisputeFlag{}
	if amount.GreaterThan(s.cfg.HighValueAmount) {
		flags = append(flags, domain.FlagHighValue)
	}
	fraud := strings.EqualFold(strings.TrimSpace(reason), string(domain.FlagFraud))
	if fraud {
		flags = append(flags, domain.FlagFraud)
	}
	if s.cfg.RepeatOffenderThreshold > 0 && priorAsCounterparty >= s.cfg.RepeatOffenderThreshold {
		flags = append(flags, domain.FlagRepeatOffender)
	}
	if fraud && s.priority(amount) == domain.PriorityHigh {
		flags = append(flags, domain.FlagUrgent)
	}
	return flags
}

func tradeParties(t *domain.Trade, a, b string) bool {
	return (a == t.BuyerID && b == t.SellerID) || (a == t.SellerID && b == t.BuyerID)
}

// partyRole reports which side of the trade userID is on.
func partyRole(t *domain.Trade, userID string) domain.Role {
	switch userID {
	case t.BuyerID:
		return domain.RoleBuyer
	case t.SellerID:
		return domain.RoleSeller
	}
	return ""
}

func newEvidence(disputeID, userID string, in EvidenceInput, at time.Time) domain.Evidence {
	return domain.Evidence{
		ID:          uuid.NewString(),
		DisputeID:   disputeID,
		UserID:      userID,
		Type:        in.Type,
		Content:     in.Content,
		Description: in.Description,
		SubmittedAt: at,
	}
}
