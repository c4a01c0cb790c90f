package disputes

import (
	"context"

	"go.uber.org/zap"

	"github.com/wakala/tradeguard/internal/domain"
)

// SyncTrade brings the linked trade in line with the dispute's status and
// clears the pending marker. It reports whether a trade write happened. A
// commit racing with the sync keeps the marker so the next sweep retries.
func (s *Service) SyncTrade(ctx context.Context, disputeID string) (bool, error) {
	d, err := s.repo.Get(ctx, disputeID)
	if err != nil {
		return false, err
	}
	if !d.TradeSyncPending {
		return false, nil
	}

	update := domain.TradeUpdate{DisputeID: d.ID}
	if d.Resolution != nil {
		update.Decision = d.Resolution.Decision
	}
	if err := s.trades.SetTradeStatus(ctx, d.TicketID, d.Status.TradeStatus(), update); err != nil {
		return false, err
	}
	if _, err := s.repo.ClearTradeSync(ctx, d.ID, d.Version); err != nil {
		return true, err
	}
	return true, nil
}

// PendingTradeSync lists disputes whose trade update has not been confirmed.
func (s *Service) PendingTradeSync(ctx context.Context) ([]string, error) {
	return s.repo.PendingTradeSync(ctx)
}

// syncTradeAfterCommit runs the trade update for an operation that has
// already committed. A failure leaves the marker for reconciliation.
func (s *Service) syncTradeAfterCommit(ctx context.Context, disputeID string) {
	if _, err := s.SyncTrade(context.WithoutCancel(ctx), disputeID); err != nil {
		s.metrics.TradeSync("deferred")
		s.log.Error("trade sync deferred to reconciliation",
			zap.String("dispute_id", disputeID), zap.Error(err))
	}
}
