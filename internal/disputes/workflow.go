package disputes

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/wakala/tradeguard/internal/domain"
	"github.com/wakala/tradeguard/internal/retry"
)

// SubmitEvidence appends evidence from a party. The first evidence on an
// Open dispute moves it to Evidence in the same commit.
func (s *Service) SubmitEvidence(ctx context.Context, disputeID, userID string, in EvidenceInput) (*domain.Evidence, error) {
	if err := s.validate.Struct(in); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	d, err := s.repo.Get(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	if !d.IsParty(userID) {
		return nil, fmt.Errorf("%w: %q is not a party to dispute %s", domain.ErrUnauthorized, userID, disputeID)
	}

	now := s.stamp()
	ev := newEvidence(disputeID, userID, in, now)
	advanced, err := s.repo.AppendEvidence(ctx, &ev, &domain.Transition{
		From:  domain.DisputeOpen,
		To:    domain.DisputeEvidence,
		Entry: domain.TimelineEntry{Timestamp: now, Message: "evidence submitted", ActorID: userID},
	})
	if err != nil {
		return nil, err
	}

	if advanced {
		s.metrics.DisputeTransition(string(domain.DisputeEvidence))
	}
	s.log.Info("evidence submitted",
		zap.String("dispute_id", disputeID),
		zap.String("user_id", userID),
		zap.String("evidence_id", ev.ID),
		zap.Bool("advanced", advanced))
	s.audit.Record(ctx, "dispute.submit_evidence", "dispute", disputeID, userID, map[string]any{
		"evidence_id": ev.ID,
		"type":        string(ev.Type),
	})
	s.notifier.Notify(ctx, d.OtherParty(userID), "dispute_evidence", "New evidence",
		fmt.Sprintf("New %s evidence was added to dispute %s.", ev.Type, disputeID),
		map[string]string{"dispute_id": disputeID, "evidence_id": ev.ID})
	return &ev, nil
}

// AddComment appends a comment. Staff roles must be confirmed by the role
// directory; a party must comment as its own side of the trade.
func (s *Service) AddComment(ctx context.Context, disputeID, userID string, role domain.Role, message string, isPrivate bool) (*domain.Comment, error) {
	if message == "" {
		return nil, fmt.Errorf("%w: message is required", domain.ErrValidation)
	}
	switch role {
	case domain.RoleBuyer, domain.RoleSeller, domain.RoleAdmin, domain.RoleArbitrator:
	default:
		return nil, fmt.Errorf("%w: unknown role %q", domain.ErrValidation, role)
	}

	d, err := s.repo.Get(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	if role.Staff() {
		if err := s.requireStaff(ctx, userID, "commenting as "+string(role)); err != nil {
			return nil, err
		}
	} else {
		if !d.IsParty(userID) {
			return nil, fmt.Errorf("%w: %q is not a party to dispute %s", domain.ErrUnauthorized, userID, disputeID)
		}
		trade, err := s.trades.GetTrade(ctx, d.TicketID)
		if err != nil {
			return nil, err
		}
		if side := partyRole(trade, userID); side != role {
			return nil, fmt.Errorf("%w: %q is the %s on trade %s, not the %s",
				domain.ErrUnauthorized, userID, side, trade.TicketID, role)
		}
	}

	c := &domain.Comment{
		ID:        uuid.NewString(),
		DisputeID: disputeID,
		UserID:    userID,
		Role:      role,
		Message:   message,
		CreatedAt: s.stamp(),
		IsPrivate: isPrivate,
	}
	if err := s.repo.AppendComment(ctx, c); err != nil {
		return nil, err
	}

	s.log.Info("comment added",
		zap.String("dispute_id", disputeID),
		zap.String("user_id", userID),
		zap.String("role", string(role)),
		zap.Bool("private", isPrivate))
	s.audit.Record(ctx, "dispute.add_comment", "dispute", disputeID, userID, map[string]any{
		"comment_id": c.ID,
		"private":    isPrivate,
	})

	switch {
	case isPrivate:
	case role.Staff():
		s.notifyParties(ctx, d, "dispute_comment", "New comment from "+string(role), message)
	default:
		s.notifier.Notify(ctx, d.OtherParty(userID), "dispute_comment", "New comment", message,
			map[string]string{"dispute_id": disputeID, "comment_id": c.ID})
	}
	return c, nil
}

// UpdateStatus moves the dispute along the workflow. Staff may make any
// allowed transition; the filer may only cancel. Entering Resolved this way
// records a resolution without a financial decision.
func (s *Service) UpdateStatus(ctx context.Context, disputeID, actorID string, to domain.DisputeStatus, message string) error {
	if !to.Valid() {
		return fmt.Errorf("%w: unknown dispute status %q", domain.ErrValidation, to)
	}

	staff, err := s.isStaff(ctx, actorID)
	if err != nil {
		return err
	}

	var resolution *domain.DisputeResolution
	if to == domain.DisputeResolved {
		resolution = &domain.DisputeResolution{Reason: message, ResolvedBy: actorID}
	}
	_, err = s.transition(ctx, disputeID, actorID, to, message, resolution, func(d *domain.Dispute) error {
		if staff || (to == domain.DisputeCancelled && actorID == d.UserID) {
			return nil
		}
		return fmt.Errorf("%w: %q may not move dispute %s to %s", domain.ErrUnauthorized, actorID, d.ID, to)
	})
	return err
}

// ResolutionInput is the financial outcome chosen by staff.
type ResolutionInput struct {
	Decision            domain.Decision  `json:"decision" validate:"required,oneof=buyer seller partial rejected"`
	Reason              string           `json:"reason" validate:"required"`
	BuyerRefundAmount   *decimal.Decimal `json:"buyer_refund_amount,omitempty"`
	SellerPaymentAmount *decimal.Decimal `json:"seller_payment_amount,omitempty"`
	AdditionalNotes     string           `json:"additional_notes,omitempty"`
}

// Resolve records the financial outcome and forces the dispute to Resolved
// from any non-terminal state. It is attributed to adminID and cannot be
// undone; the linked trade is completed with the decision.
func (s *Service) Resolve(ctx context.Context, disputeID, adminID string, in ResolutionInput) (*domain.Dispute, error) {
	if err := s.validate.Struct(in); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	for _, amt := range []*decimal.Decimal{in.BuyerRefundAmount, in.SellerPaymentAmount} {
		if amt != nil && amt.IsNegative() {
			return nil, fmt.Errorf("%w: resolution amounts must not be negative", domain.ErrValidation)
		}
	}
	if in.Decision == domain.DecisionPartial && in.BuyerRefundAmount == nil && in.SellerPaymentAmount == nil {
		return nil, fmt.Errorf("%w: a partial decision needs a refund or payment amount", domain.ErrValidation)
	}
	if err := s.requireStaff(ctx, adminID, "resolving a dispute"); err != nil {
		return nil, err
	}

	res := &domain.DisputeResolution{
		Decision:            in.Decision,
		Reason:              in.Reason,
		ResolvedBy:          adminID,
		BuyerRefundAmount:   in.BuyerRefundAmount,
		SellerPaymentAmount: in.SellerPaymentAmount,
		AdditionalNotes:     in.AdditionalNotes,
	}
	return s.transition(ctx, disputeID, adminID, domain.DisputeResolved, in.Reason, res, nil)
}

// EscalateToArbitration moves the dispute to Arbitration.
func (s *Service) EscalateToArbitration(ctx context.Context, disputeID, adminID, reason string) error {
	if err := s.requireStaff(ctx, adminID, "escalating a dispute"); err != nil {
		return err
	}
	_, err := s.transition(ctx, disputeID, adminID, domain.DisputeArbitration, reason, nil, nil)
	return err
}

// transition performs one guarded status change, retrying lost races. The
// dispute is re-read on every attempt so a transition that became illegal
// meanwhile fails with ErrInvalidTransition instead of applying twice.
func (s *Service) transition(
	ctx context.Context,
	disputeID, actorID string,
	to domain.DisputeStatus,
	message string,
	resolution *domain.DisputeResolution,
	authorize func(*domain.Dispute) error,
) (*domain.Dispute, error) {
	var from domain.DisputeStatus
	var committed *domain.Dispute
	err := retry.OnConflict(ctx, s.retry, func(ctx context.Context) error {
		d, err := s.repo.Get(ctx, disputeID)
		if err != nil {
			return err
		}
		if authorize != nil {
			if err := authorize(d); err != nil {
				return err
			}
		}
		if d.Status.Terminal() {
			return fmt.Errorf("%w: dispute %s is already %s", domain.ErrInvalidTransition, d.ID, d.Status)
		}
		if !d.Status.CanTransition(to) {
			return fmt.Errorf("%w: dispute %s cannot move from %s to %s",
				domain.ErrInvalidTransition, d.ID, d.Status, to)
		}

		now := s.stamp()
		t := domain.Transition{
			From:            d.Status,
			To:              to,
			ExpectedVersion: d.Version,
			Entry:           domain.TimelineEntry{Timestamp: now, Message: message, ActorID: actorID},
			TradeSync:       to.TradeStatus() != d.Status.TradeStatus(),
		}
		if to == domain.DisputeArbitration {
			t.EscalatedAt = &now
		}
		if resolution != nil {
			res := *resolution
			res.ResolvedAt = now
			t.Resolution = &res
		}

		from = d.Status
		err = s.repo.Transition(ctx, disputeID, t)
		if errors.Is(err, domain.ErrConcurrencyConflict) {
			s.metrics.Conflict("dispute")
		}
		if err == nil {
			committed = applied(d, t)
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	s.syncTradeAfterCommit(ctx, disputeID)

	s.metrics.DisputeTransition(string(to))
	s.log.Info("dispute status changed",
		zap.String("dispute_id", disputeID),
		zap.String("actor", actorID),
		zap.String("from", string(from)),
		zap.String("to", string(to)))

	details := map[string]any{"from": string(from), "to": string(to), "message": message}
	if resolution != nil {
		details["decision"] = string(resolution.Decision)
	}
	s.audit.Record(ctx, "dispute.update_status", "dispute", disputeID, actorID, details)

	d, err := s.repo.Get(ctx, disputeID)
	if err != nil {
		// Committed already; fall back to the copy the transition was applied to.
		s.log.Warn("reload dispute after transition", zap.String("dispute_id", disputeID), zap.Error(err))
		d = committed
	}
	switch to {
	case domain.DisputeResolved:
		msg := "The dispute was resolved."
		if d.Resolution != nil && d.Resolution.Reason != "" {
			msg = "The dispute was resolved: " + d.Resolution.Reason
		}
		s.notifyParties(ctx, d, "dispute_resolved", "Dispute resolved", msg)
	case domain.DisputeArbitration:
		s.notifyParties(ctx, d, "dispute_escalated", "Dispute escalated to arbitration", message)
	default:
		s.notifyParties(ctx, d, "dispute_status", "Dispute "+string(to),
			fmt.Sprintf("Dispute %s moved from %s to %s.", d.ID, from, to))
	}
	return d, nil
}

// applied returns d as it stands after t commits.
func applied(d *domain.Dispute, t domain.Transition) *domain.Dispute {
	out := *d
	out.Status = t.To
	out.Version = d.Version + 1
	out.UpdatedAt = t.Entry.Timestamp
	entry := t.Entry
	entry.Status = t.To
	out.Timeline = append(slices.Clone(d.Timeline), entry)
	if t.EscalatedAt != nil {
		out.EscalatedToArbitration = true
		out.EscalatedAt = t.EscalatedAt
	}
	if t.Resolution != nil {
		out.Resolution = t.Resolution
	}
	out.TradeSyncPending = out.TradeSyncPending || t.TradeSync
	return &out
}
