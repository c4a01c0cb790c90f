package alerts

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/sync/errgroup"

	"github.com/wakala/tradeguard/internal/domain"
	"github.com/wakala/tradeguard/internal/notify"
	"github.com/wakala/tradeguard/internal/repository"
	"github.com/wakala/tradeguard/internal/rules"
	"github.com/wakala/tradeguard/internal/testutil"
)

func newTestService(t *testing.T) (*Service, *repository.AuditRepo) {
	t.Helper()
	db := testutil.NewDB(t)
	log := zaptest.NewLogger(t)
	auditRepo := repository.NewAuditRepo(db)

	svc := NewService(Deps{
		Rules:        repository.NewRuleRepo(db),
		Transactions: repository.NewTransactionRepo(db),
		Alerts:       repository.NewAlertRepo(db),
		Flags:        repository.NewFlagRepo(db),
		Engine:       rules.NewEngine(rules.DefaultConfig()),
		Audit:        notify.NewAuditor(auditRepo, log, nil),
		Logger:       log,
	})
	svc.now = func() time.Time { return testutil.Base.Add(time.Hour) }
	return svc, auditRepo
}

func largeAmountRule(t *testing.T) *domain.MonitoringRule {
	return &domain.MonitoringRule{
		ID:       "large-amount",
		Name:     "Large single transaction",
		Severity: domain.SeverityHigh,
		Enabled:  true,
		Thresholds: domain.Thresholds{
			TimeWindowMinutes: 60,
			MinAmount:         testutil.DecPtr(t, "10000"),
		},
	}
}

func txn(t *testing.T, id, amount string, at time.Time) domain.Transaction {
	return domain.Transaction{
		ID:             id,
		UserID:         "alice",
		CounterpartyID: "bob",
		Amount:         testutil.Dec(t, amount),
		Currency:       "USD",
		Timestamp:      at,
	}
}

func TestLargeTransactionRestrictsUser(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	require.NoError(t, svc.CreateRule(ctx, largeAmountRule(t), "ops"))

	res, err := svc.Screen(ctx, txn(t, "t1", "15000", testutil.Base))
	require.NoError(t, err)
	require.Len(t, res.Alerts, 1)
	assert.Equal(t, domain.SeverityHigh, res.Alerts[0].Severity)
	assert.Equal(t, domain.AlertNew, res.Alerts[0].Status)
	assert.Equal(t, []string{"t1"}, res.Alerts[0].Transactions)

	st, err := svc.ComputeStatus(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, st.Restricted())
	assert.Equal(t, 1, st.CriticalAlerts)
	assert.Equal(t, 1, st.Alerts)
	assert.Equal(t, "Large single transaction", st.Reason)
}

func TestScreenDeduplicatesOpenAlerts(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	require.NoError(t, svc.CreateRule(ctx, largeAmountRule(t), "ops"))

	first, err := svc.Screen(ctx, txn(t, "t1", "15000", testutil.Base))
	require.NoError(t, err)
	require.Len(t, first.Alerts, 1)

	second, err := svc.Screen(ctx, txn(t, "t2", "12000", testutil.Base.Add(10*time.Minute)))
	require.NoError(t, err)
	assert.Empty(t, second.Alerts)
	assert.Equal(t, 1, second.Deduplicated)

	again, err := svc.Screen(ctx, txn(t, "t1", "15000", testutil.Base))
	require.NoError(t, err)
	assert.True(t, again.Duplicate)

	_, err = svc.UpdateStatus(ctx, first.Alerts[0].ID, domain.AlertResolved, "verified income", "rev")
	require.NoError(t, err)

	third, err := svc.Screen(ctx, txn(t, "t3", "20000", testutil.Base.Add(20*time.Minute)))
	require.NoError(t, err)
	assert.Len(t, third.Alerts, 1)
}

func TestScreenValidatesTransaction(t *testing.T) {
	svc, _ := newTestService(t)
	bad := txn(t, "t1", "10", testutil.Base)
	bad.UserID = ""
	_, err := svc.Screen(context.Background(), bad)
	assert.ErrorIs(t, err, domain.ErrValidation)

	neg := txn(t, "t2", "-5", testutil.Base)
	_, err = svc.Screen(context.Background(), neg)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestEvaluateDoesNotPersist(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	require.NoError(t, svc.CreateRule(ctx, largeAmountRule(t), "ops"))

	eval, err := svc.Evaluate(ctx, txn(t, "t1", "50000", testutil.Base))
	require.NoError(t, err)
	assert.Len(t, eval.Alerts, 1)

	alerts, total, err := svc.ListAlerts(ctx, repository.AlertFilter{UserID: "alice"})
	require.NoError(t, err)
	assert.Empty(t, alerts)
	assert.Zero(t, total)
}

func seedAlert(t *testing.T, svc *Service) string {
	t.Helper()
	require.NoError(t, svc.CreateRule(context.Background(), largeAmountRule(t), "ops"))
	res, err := svc.Screen(context.Background(), txn(t, "t1", "15000", testutil.Base))
	require.NoError(t, err)
	require.Len(t, res.Alerts, 1)
	return res.Alerts[0].ID
}

func TestAlertLifecycle(t *testing.T) {
	ctx := context.Background()

	t.Run("review then resolve", func(t *testing.T) {
		svc, audit := newTestService(t)
		id := seedAlert(t, svc)

		a, err := svc.UpdateStatus(ctx, id, domain.AlertUnderReview, "", "rev1")
		require.NoError(t, err)
		assert.Equal(t, domain.AlertUnderReview, a.Status)
		assert.Equal(t, "rev1", a.ReviewedBy)
		require.NotNil(t, a.ReviewedAt)
		assert.Empty(t, a.Resolution)

		a, err = svc.UpdateStatus(ctx, id, domain.AlertResolved, "customer verified", "rev2")
		require.NoError(t, err)
		assert.Equal(t, "customer verified", a.Resolution)
		assert.Equal(t, "rev2", a.ReviewedBy)

		entries, err := audit.ListForResource(ctx, "alert", id)
		require.NoError(t, err)
		assert.Len(t, entries, 3, "create plus two transitions")
	})

	for _, to := range []domain.AlertStatus{domain.AlertUnderReview, domain.AlertResolved, domain.AlertFalsePositive} {
		t.Run("from new to "+string(to), func(t *testing.T) {
			svc, _ := newTestService(t)
			id := seedAlert(t, svc)
			_, err := svc.UpdateStatus(ctx, id, to, "note", "rev")
			require.NoError(t, err)
		})
	}

	t.Run("terminal alerts never move", func(t *testing.T) {
		svc, _ := newTestService(t)
		id := seedAlert(t, svc)
		_, err := svc.UpdateStatus(ctx, id, domain.AlertFalsePositive, "noise", "rev")
		require.NoError(t, err)

		for _, to := range []domain.AlertStatus{domain.AlertNew, domain.AlertUnderReview, domain.AlertResolved, domain.AlertFalsePositive} {
			_, err := svc.UpdateStatus(ctx, id, to, "", "rev")
			assert.ErrorIs(t, err, domain.ErrInvalidTransition, "to %s", to)
		}
	})

	t.Run("under-review cannot go back to new", func(t *testing.T) {
		svc, _ := newTestService(t)
		id := seedAlert(t, svc)
		_, err := svc.UpdateStatus(ctx, id, domain.AlertUnderReview, "", "rev")
		require.NoError(t, err)
		_, err = svc.UpdateStatus(ctx, id, domain.AlertNew, "", "rev")
		assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	})

	t.Run("unknown alert and status", func(t *testing.T) {
		svc, _ := newTestService(t)
		_, err := svc.UpdateStatus(ctx, "missing", domain.AlertResolved, "", "rev")
		assert.ErrorIs(t, err, domain.ErrNotFound)
		_, err = svc.UpdateStatus(ctx, "missing", "closed", "", "rev")
		assert.ErrorIs(t, err, domain.ErrValidation)
	})
}

func TestConcurrentReviewersResolveOnce(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	id := seedAlert(t, svc)

	var wins, rejected atomic.Int32
	var g errgroup.Group
	for i := 0; i < 8; i++ {
		g.Go(func() error {
			_, err := svc.UpdateStatus(ctx, id, domain.AlertResolved, "done", "rev")
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, domain.ErrInvalidTransition), errors.Is(err, domain.ErrConcurrencyConflict):
				rejected.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, int32(7), rejected.Load())
}

func TestComputeStatusIsReadOnly(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	id := seedAlert(t, svc)

	before, err := svc.GetAlert(ctx, id)
	require.NoError(t, err)

	first, err := svc.ComputeStatus(ctx, "alice")
	require.NoError(t, err)
	second, err := svc.ComputeStatus(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	after, err := svc.GetAlert(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestFlags(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	st, err := svc.ComputeStatus(ctx, "carol")
	require.NoError(t, err)
	assert.Equal(t, domain.TradingNormal, st.Status)

	_, err = svc.FlagUser(ctx, "carol", "chargeback investigation", "ops")
	require.NoError(t, err)
	st, err = svc.ComputeStatus(ctx, "carol")
	require.NoError(t, err)
	assert.True(t, st.Restricted())
	assert.True(t, st.IsFlagged)
	assert.Equal(t, "chargeback investigation", st.Reason)
	assert.Zero(t, st.CriticalAlerts)

	require.NoError(t, svc.UnflagUser(ctx, "carol", "ops"))
	st, err = svc.ComputeStatus(ctx, "carol")
	require.NoError(t, err)
	assert.False(t, st.Restricted())

	assert.ErrorIs(t, svc.UnflagUser(ctx, "carol", "ops"), domain.ErrNotFound)
}

func TestAggregate(t *testing.T) {
	at := func(m int) time.Time { return testutil.Base.Add(time.Duration(m) * time.Minute) }
	alert := func(id string, sev domain.Severity, st domain.AlertStatus, m int) domain.Alert {
		return domain.Alert{ID: id, RuleName: "rule-" + id, Severity: sev, Status: st, DetectedAt: at(m)}
	}

	tests := []struct {
		name   string
		alerts []domain.Alert
		flag   *domain.UserFlag
		want   domain.TradingStatus
	}{
		{
			name: "no alerts",
			want: domain.TradingStatus{UserID: "u", Status: domain.TradingNormal},
		},
		{
			name: "low and medium alerts stay normal",
			alerts: []domain.Alert{
				alert("a", domain.SeverityLow, domain.AlertNew, 1),
				alert("b", domain.SeverityMedium, domain.AlertUnderReview, 2),
			},
			want: domain.TradingStatus{UserID: "u", Status: domain.TradingNormal, Alerts: 2, Reason: "rule-b"},
		},
		{
			name: "closed alerts are ignored",
			alerts: []domain.Alert{
				alert("a", domain.SeverityCritical, domain.AlertResolved, 1),
				alert("b", domain.SeverityHigh, domain.AlertFalsePositive, 2),
			},
			want: domain.TradingStatus{UserID: "u", Status: domain.TradingNormal},
		},
		{
			name: "critical outranks a later high",
			alerts: []domain.Alert{
				alert("a", domain.SeverityCritical, domain.AlertNew, 1),
				alert("b", domain.SeverityHigh, domain.AlertNew, 5),
			},
			want: domain.TradingStatus{UserID: "u", Status: domain.TradingRestricted, Alerts: 2, CriticalAlerts: 2, Reason: "rule-a"},
		},
		{
			name: "equal severity prefers latest",
			alerts: []domain.Alert{
				alert("a", domain.SeverityHigh, domain.AlertNew, 1),
				alert("b", domain.SeverityHigh, domain.AlertNew, 5),
			},
			want: domain.TradingStatus{UserID: "u", Status: domain.TradingRestricted, Alerts: 2, CriticalAlerts: 2, Reason: "rule-b"},
		},
		{
			name:   "flag wins the reason",
			alerts: []domain.Alert{alert("a", domain.SeverityLow, domain.AlertNew, 1)},
			flag:   &domain.UserFlag{UserID: "u", Reason: "manual hold"},
			want:   domain.TradingStatus{UserID: "u", Status: domain.TradingRestricted, Alerts: 1, IsFlagged: true, Reason: "manual hold"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Aggregate("u", tc.alerts, tc.flag))
		})
	}
}

func TestRuleStore(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	bad := largeAmountRule(t)
	bad.Thresholds.TimeWindowMinutes = 0
	assert.ErrorIs(t, svc.CreateRule(ctx, bad, "ops"), domain.ErrInvalidRule)

	noName := largeAmountRule(t)
	noName.Name = ""
	assert.ErrorIs(t, svc.CreateRule(ctx, noName, "ops"), domain.ErrInvalidRule)

	r := largeAmountRule(t)
	r.ID = ""
	require.NoError(t, svc.CreateRule(ctx, r, "ops"))
	assert.NotEmpty(t, r.ID)

	r.Severity = domain.SeverityCritical
	require.NoError(t, svc.UpdateRule(ctx, r, "ops"))
	require.NoError(t, svc.SetRuleEnabled(ctx, r.ID, false, "ops"))

	got, err := svc.GetRule(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SeverityCritical, got.Severity)
	assert.False(t, got.Enabled)

	enabled, err := svc.ListRules(ctx, true)
	require.NoError(t, err)
	assert.Empty(t, enabled)

	imported, err := svc.ImportRules(ctx, []domain.MonitoringRule{*largeAmountRule(t)}, "ops")
	require.NoError(t, err)
	assert.Equal(t, 1, imported)
	all, err := svc.ListRules(ctx, false)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
