package reconciliation_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/wakala/tradeguard/internal/currency"
	"github.com/wakala/tradeguard/internal/disputes"
	"github.com/wakala/tradeguard/internal/domain"
	"github.com/wakala/tradeguard/internal/metrics"
	"github.com/wakala/tradeguard/internal/notify"
	"github.com/wakala/tradeguard/internal/reconciliation"
	"github.com/wakala/tradeguard/internal/repository"
	"github.com/wakala/tradeguard/internal/testutil"
)

type unreliableTrades struct {
	*repository.TradeRepo
	down atomic.Bool
}

func (u *unreliableTrades) SetTradeStatus(ctx context.Context, ticketID string, status domain.TradeStatus, extra domain.TradeUpdate) error {
	if u.down.Load() {
		return errors.New("connection refused")
	}
	return u.TradeRepo.SetTradeStatus(ctx, ticketID, status, extra)
}

func TestRunFullReconciliationRepairsTrades(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewDB(t)
	log := zaptest.NewLogger(t)
	m := metrics.New(prometheus.NewRegistry())

	testutil.SeedRole(t, db, "admin1", domain.RoleAdmin)
	testutil.SeedTrade(t, db, "T-1", "buyer", "seller", "300")
	testutil.SeedTrade(t, db, "T-2", "buyer", "seller", "700")

	trades := &unreliableTrades{TradeRepo: repository.NewTradeRepo(db)}
	dispatcher := notify.NewDispatcher(repository.NewNotificationRepo(db), 16, log, m)
	t.Cleanup(dispatcher.Close)
	conv, err := currency.NewConverter("USD", currency.DefaultRates)
	require.NoError(t, err)

	disputeRepo := repository.NewDisputeRepo(db)
	svc := disputes.NewService(disputes.Deps{
		Disputes:  disputeRepo,
		Trades:    trades,
		Roles:     repository.NewUserRepo(db),
		Notifier:  dispatcher,
		Audit:     notify.NewAuditor(repository.NewAuditRepo(db), log, m),
		Converter: conv,
		Config:    disputes.DefaultConfig(),
		Logger:    log,
		Metrics:   m,
	})

	trades.down.Store(true)
	first, err := svc.CreateDispute(ctx, disputes.CreateRequest{
		TicketID: "T-1", FilerID: "buyer", CounterpartyID: "seller", Reason: "item_not_received",
	})
	require.NoError(t, err)
	second, err := svc.CreateDispute(ctx, disputes.CreateRequest{
		TicketID: "T-2", FilerID: "seller", CounterpartyID: "buyer", Reason: "payment_not_received",
	})
	require.NoError(t, err)
	_, err = svc.Resolve(ctx, second.ID, "admin1", disputes.ResolutionInput{
		Decision: domain.DecisionSeller, Reason: "payment proven",
	})
	require.NoError(t, err)

	recon := reconciliation.NewService(svc, disputeRepo, log, m)

	res, err := recon.RunFullReconciliation(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.PendingTrades)
	assert.Zero(t, res.RepairedTrades)
	assert.ElementsMatch(t, []string{first.ID, second.ID}, res.FailedTrades)
	assert.Equal(t, 2.0, promtest.ToFloat64(m.TradeSyncRepairs.WithLabelValues("failed")))

	trades.down.Store(false)
	res, err = recon.RunFullReconciliation(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.RepairedTrades)
	assert.Empty(t, res.FailedTrades)
	assert.Empty(t, res.TimelineMismatches)

	t1, err := trades.GetTrade(ctx, "T-1")
	require.NoError(t, err)
	assert.Equal(t, domain.TradeDisputed, t1.Status)
	assert.Equal(t, first.ID, t1.DisputeID)

	t2, err := trades.GetTrade(ctx, "T-2")
	require.NoError(t, err)
	assert.Equal(t, domain.TradeCompleted, t2.Status)
	assert.Equal(t, domain.DecisionSeller, t2.Decision)

	res, err = recon.RunFullReconciliation(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.PendingTrades, "second sweep finds nothing")
}

func TestCheckTimelinesReportsDrift(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewDB(t)
	repo := repository.NewDisputeRepo(db)

	testutil.SeedTrade(t, db, "T-1", "buyer", "seller", "100")
	d := &domain.Dispute{
		ID: "D-1", TicketID: "T-1", UserID: "buyer", CounterpartyID: "seller", Reason: "x",
		Status: domain.DisputeOpen, Priority: domain.PriorityLow, Version: 1,
		CreatedAt: testutil.Base, UpdatedAt: testutil.Base,
		Timeline: []domain.TimelineEntry{{Status: domain.DisputeOpen, Timestamp: testutil.Base, ActorID: "buyer"}},
	}
	require.NoError(t, repo.Create(ctx, d))

	recon := reconciliation.NewService(nil, repo, zaptest.NewLogger(t), nil)
	mismatches, err := recon.CheckTimelines(ctx)
	require.NoError(t, err)
	assert.Empty(t, mismatches)

	_, err = db.ExecContext(ctx, `UPDATE disputes SET status = 'UnderReview' WHERE id = 'D-1'`)
	require.NoError(t, err)

	mismatches, err = recon.CheckTimelines(ctx)
	require.NoError(t, err)
	require.Len(t, mismatches, 1)
	assert.Equal(t, repository.TimelineMismatch{
		DisputeID: "D-1", Status: domain.DisputeUnderReview, TimelineStatus: domain.DisputeOpen,
	}, mismatches[0])
}
