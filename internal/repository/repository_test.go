package repository_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wakala/tradeguard/internal/domain"
	"github.com/wakala/tradeguard/internal/repository"
	"github.com/wakala/tradeguard/internal/testutil"
)

func TestInitDBReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tradeguard.db")

	db, err := repository.InitDB(path)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = repository.InitDB(path)
	require.NoError(t, err)
	defer db.Close()

	var applied int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&applied))
	assert.Equal(t, 3, applied)
}

func TestRuleRepo(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewRuleRepo(testutil.NewDB(t))

	rule := &domain.MonitoringRule{
		ID:       "rapid-5",
		Name:     "Rapid trading",
		Severity: domain.SeverityMedium,
		Enabled:  true,
		Thresholds: domain.Thresholds{
			TimeWindowMinutes: 10,
			MaxTransactions:   testutil.IntPtr(5),
			PatternType:       domain.PatternRapid,
		},
		CreatedAt: testutil.Base,
		UpdatedAt: testutil.Base,
	}
	require.NoError(t, repo.Insert(ctx, rule))
	assert.ErrorIs(t, repo.Insert(ctx, rule), domain.ErrValidation)

	got, err := repo.GetByID(ctx, "rapid-5")
	require.NoError(t, err)
	assert.Equal(t, 5, *got.Thresholds.MaxTransactions)
	assert.Nil(t, got.Thresholds.MinAmount)
	assert.True(t, got.CreatedAt.Equal(testutil.Base))

	require.NoError(t, repo.SetEnabled(ctx, "rapid-5", false, testutil.Base.Add(time.Minute)))
	enabled, err := repo.List(ctx, true)
	require.NoError(t, err)
	assert.Empty(t, enabled)

	all, err := repo.List(ctx, false)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	_, err = repo.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.ErrorIs(t, repo.SetEnabled(ctx, "missing", true, testutil.Base), domain.ErrNotFound)

	rule.Thresholds.MinAmount = testutil.DecPtr(t, "250.50")
	require.NoError(t, repo.Upsert(ctx, rule))
	got, err = repo.GetByID(ctx, "rapid-5")
	require.NoError(t, err)
	assert.Equal(t, "250.5", got.Thresholds.MinAmount.String())
}

func TestTransactionRepoHistory(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewTransactionRepo(testutil.NewDB(t))

	for i, id := range []string{"t1", "t2", "t3"} {
		inserted, err := repo.Insert(ctx, &domain.Transaction{
			ID:        id,
			UserID:    "alice",
			Amount:    testutil.Dec(t, "100"),
			Currency:  "usd",
			Timestamp: testutil.Base.Add(time.Duration(i) * 10 * time.Minute),
		})
		require.NoError(t, err)
		assert.True(t, inserted)
	}

	inserted, err := repo.Insert(ctx, &domain.Transaction{ID: "t1", UserID: "alice", Timestamp: testutil.Base})
	require.NoError(t, err)
	assert.False(t, inserted, "known id is ignored")

	history, err := repo.History(ctx, "alice", testutil.Base.Add(5*time.Minute), testutil.Base.Add(20*time.Minute))
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "t2", history[0].ID)
	assert.Equal(t, "t3", history[1].ID)
	assert.Equal(t, "USD", history[0].Currency)
}

func TestAlertRepoUpdate(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewAlertRepo(testutil.NewDB(t))

	alert := domain.Alert{
		ID:           "a1",
		UserID:       "alice",
		RuleID:       "big",
		RuleName:     "Big amount",
		Severity:     domain.SeverityHigh,
		Transactions: []string{"t1"},
		DetectedAt:   testutil.Base,
		Status:       domain.AlertNew,
	}
	require.NoError(t, repo.InsertBatch(ctx, []domain.Alert{alert}))

	t.Run("rejected mutation leaves the row untouched", func(t *testing.T) {
		_, err := repo.Update(ctx, "a1", func(a *domain.Alert) error {
			a.Status = domain.AlertResolved
			return domain.ErrInvalidTransition
		})
		assert.ErrorIs(t, err, domain.ErrInvalidTransition)

		got, err := repo.GetByID(ctx, "a1")
		require.NoError(t, err)
		assert.Equal(t, domain.AlertNew, got.Status)
		assert.Equal(t, 1, got.Version)
	})

	t.Run("successful mutation bumps version", func(t *testing.T) {
		updated, err := repo.Update(ctx, "a1", func(a *domain.Alert) error {
			a.Status = domain.AlertUnderReview
			a.ReviewedBy = "rev"
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 2, updated.Version)

		open, err := repo.OpenForUser(ctx, "alice")
		require.NoError(t, err)
		require.Len(t, open, 1)
		assert.Equal(t, "rev", open[0].ReviewedBy)
	})

	t.Run("missing alert", func(t *testing.T) {
		_, err := repo.Update(ctx, "nope", func(*domain.Alert) error { return nil })
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func newDispute(id, ticket string) *domain.Dispute {
	return &domain.Dispute{
		ID:             id,
		TicketID:       ticket,
		UserID:         "buyer",
		CounterpartyID: "seller",
		Reason:         "item_not_received",
		Status:         domain.DisputeOpen,
		Priority:       domain.PriorityLow,
		Flags:          []domain.DisputeFlag{domain.FlagHighValue},
		Timeline:       []domain.TimelineEntry{{Status: domain.DisputeOpen, Timestamp: testutil.Base}},
		CreatedAt:      testutil.Base,
		UpdatedAt:      testutil.Base,
	}
}

func TestDisputeRepoOneOpenPerTicket(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewDisputeRepo(testutil.NewDB(t))

	require.NoError(t, repo.Create(ctx, newDispute("d1", "T1")))
	err := repo.Create(ctx, newDispute("d2", "T1"))
	assert.ErrorIs(t, err, domain.ErrDuplicateDispute)

	require.NoError(t, repo.Transition(ctx, "d1", domain.Transition{
		From: domain.DisputeOpen, To: domain.DisputeCancelled, ExpectedVersion: 1,
	}))
	require.NoError(t, repo.Create(ctx, newDispute("d2", "T1")))

	got, err := repo.Get(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, domain.DisputeCancelled, got.Status)
	assert.Equal(t, []domain.DisputeFlag{domain.FlagHighValue}, got.Flags)
	require.Len(t, got.Timeline, 2)
	assert.Equal(t, domain.DisputeCancelled, got.Timeline[1].Status)
}

func TestDisputeRepoTransitionGuards(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewDisputeRepo(testutil.NewDB(t))
	require.NoError(t, repo.Create(ctx, newDispute("d1", "T1")))

	stale := domain.Transition{From: domain.DisputeOpen, To: domain.DisputeEvidence, ExpectedVersion: 7}
	assert.ErrorIs(t, repo.Transition(ctx, "d1", stale), domain.ErrConcurrencyConflict)
	assert.ErrorIs(t, repo.Transition(ctx, "missing", stale), domain.ErrNotFound)

	refund := testutil.DecPtr(t, "40")
	resolvedAt := testutil.Base.Add(time.Hour)
	require.NoError(t, repo.Transition(ctx, "d1", domain.Transition{
		From:            domain.DisputeOpen,
		To:              domain.DisputeResolved,
		ExpectedVersion: 1,
		TradeSync:       true,
		Resolution: &domain.DisputeResolution{
			Decision:          domain.DecisionPartial,
			Reason:            "split",
			ResolvedBy:        "admin",
			ResolvedAt:        resolvedAt,
			BuyerRefundAmount: refund,
		},
	}))

	got, err := repo.Get(ctx, "d1")
	require.NoError(t, err)
	require.NotNil(t, got.Resolution)
	assert.Equal(t, domain.DecisionPartial, got.Resolution.Decision)
	assert.Equal(t, "40", got.Resolution.BuyerRefundAmount.String())
	assert.Nil(t, got.Resolution.SellerPaymentAmount)
	assert.True(t, got.TradeSyncPending)
	assert.Equal(t, 2, got.Version)

	pending, err := repo.PendingTradeSync(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"d1"}, pending)

	cleared, err := repo.ClearTradeSync(ctx, "d1", 1)
	require.NoError(t, err)
	assert.False(t, cleared, "stale version keeps the marker")
	cleared, err = repo.ClearTradeSync(ctx, "d1", 2)
	require.NoError(t, err)
	assert.True(t, cleared)
}

func TestDisputeRepoAppends(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewDisputeRepo(testutil.NewDB(t))
	require.NoError(t, repo.Create(ctx, newDispute("d1", "T1")))

	advance := &domain.Transition{From: domain.DisputeOpen, To: domain.DisputeEvidence}
	advanced, err := repo.AppendEvidence(ctx, &domain.Evidence{
		ID: "e1", DisputeID: "d1", UserID: "buyer", Type: domain.EvidenceText, Content: "receipt",
		SubmittedAt: testutil.Base,
	}, advance)
	require.NoError(t, err)
	assert.True(t, advanced)

	advanced, err = repo.AppendEvidence(ctx, &domain.Evidence{
		ID: "e2", DisputeID: "d1", UserID: "seller", Type: domain.EvidenceImage, Content: "photo",
		SubmittedAt: testutil.Base,
	}, advance)
	require.NoError(t, err)
	assert.False(t, advanced)

	require.NoError(t, repo.AppendComment(ctx, &domain.Comment{
		ID: "c1", DisputeID: "d1", UserID: "seller", Role: domain.RoleSeller, Message: "shipped", CreatedAt: testutil.Base,
	}))

	got, err := repo.Get(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, domain.DisputeEvidence, got.Status)
	assert.Len(t, got.Evidence, 2)
	assert.Len(t, got.Comments, 1)
	assert.Len(t, got.Timeline, 2)

	require.NoError(t, repo.Transition(ctx, "d1", domain.Transition{
		From: domain.DisputeEvidence, To: domain.DisputeCancelled, ExpectedVersion: got.Version,
	}))

	_, err = repo.AppendEvidence(ctx, &domain.Evidence{ID: "e3", DisputeID: "d1", Type: domain.EvidenceText}, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
	err = repo.AppendComment(ctx, &domain.Comment{ID: "c2", DisputeID: "d1", Role: domain.RoleAdmin})
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	mismatches, err := repo.TimelineMismatches(ctx)
	require.NoError(t, err)
	assert.Empty(t, mismatches)
}

func TestTradeRepoSetStatus(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewDB(t)
	repo := repository.NewTradeRepo(db)
	testutil.SeedTrade(t, db, "T1", "buyer", "seller", "12000")

	require.NoError(t, repo.SetTradeStatus(ctx, "T1", domain.TradeDisputed, domain.TradeUpdate{DisputeID: "d1"}))
	require.NoError(t, repo.SetTradeStatus(ctx, "T1", domain.TradeCompleted, domain.TradeUpdate{Decision: domain.DecisionBuyer}))

	trade, err := repo.GetTrade(ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, domain.TradeCompleted, trade.Status)
	assert.Equal(t, "d1", trade.DisputeID)
	assert.Equal(t, domain.DecisionBuyer, trade.Decision)

	assert.ErrorIs(t, repo.SetTradeStatus(ctx, "T9", domain.TradeActive, domain.TradeUpdate{}), domain.ErrNotFound)
}
