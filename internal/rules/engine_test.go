package rules

import (
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wakala/tradeguard/internal/domain"
)

var base = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

func txn(id string, offset time.Duration, amount int64) domain.Transaction {
	return domain.Transaction{
		ID:        id,
		UserID:    "alice",
		Amount:    decimal.NewFromInt(amount),
		Currency:  "USD",
		Timestamp: base.Add(offset),
	}
}

func intPtr(n int) *int { return &n }

func decPtr(n int64) *decimal.Decimal {
	d := decimal.NewFromInt(n)
	return &d
}

func rule(id string, pattern domain.PatternType, window int, maxTxns *int, minAmount *decimal.Decimal) domain.MonitoringRule {
	return domain.MonitoringRule{
		ID:       id,
		Name:     "rule " + id,
		Severity: domain.SeverityMedium,
		Enabled:  true,
		Thresholds: domain.Thresholds{
			TimeWindowMinutes: window,
			MaxTransactions:   maxTxns,
			MinAmount:         minAmount,
			PatternType:       pattern,
		},
	}
}

func newTestEngine() *Engine {
	e := NewEngine(DefaultConfig())
	n := 0
	e.newID = func() string {
		n++
		return fmt.Sprintf("alert-%d", n)
	}
	return e
}

func TestRapidThreshold(t *testing.T) {
	r := rule("rapid", domain.PatternRapid, 10, intPtr(4), nil)

	for _, tc := range []struct {
		name  string
		count int
		match bool
	}{
		{"exactly N", 4, true},
		{"N-1", 3, false},
		{"above N", 6, true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			var history []domain.Transaction
			for i := 0; i < tc.count-1; i++ {
				history = append(history, txn(fmt.Sprintf("h%d", i), time.Duration(i)*time.Minute, 10))
			}
			current := txn("cur", 9*time.Minute, 10)

			ev := newTestEngine().Evaluate(current, history, []domain.MonitoringRule{r})
			if !tc.match {
				assert.Empty(t, ev.Alerts)
				return
			}
			require.Len(t, ev.Alerts, 1)
			assert.Len(t, ev.Alerts[0].Transactions, tc.count)
			assert.Contains(t, ev.Alerts[0].Transactions, "cur")
		})
	}
}

func TestWindowExcludesOldAndForeignTransactions(t *testing.T) {
	r := rule("rapid", domain.PatternRapid, 10, intPtr(3), nil)
	other := txn("other", -time.Minute, 10)
	other.UserID = "bob"
	history := []domain.Transaction{
		txn("old", -11*time.Minute, 10),
		other,
		txn("h1", -2*time.Minute, 10),
		txn("later", time.Minute, 10),
	}

	ev := newTestEngine().Evaluate(txn("cur", 0, 10), history, []domain.MonitoringRule{r})
	assert.Empty(t, ev.Alerts)

	history = append(history, txn("h2", -10*time.Minute, 10))
	ev = newTestEngine().Evaluate(txn("cur", 0, 10), history, []domain.MonitoringRule{r})
	require.Len(t, ev.Alerts, 1)
	assert.Equal(t, []string{"h2", "h1", "cur"}, ev.Alerts[0].Transactions)
}

func TestAmountOnlyRule(t *testing.T) {
	r := rule("big", "", 60, nil, decPtr(10000))
	r.Severity = domain.SeverityHigh
	e := newTestEngine()

	ev := e.Evaluate(txn("t1", 0, 15000), nil, []domain.MonitoringRule{r})
	require.Len(t, ev.Alerts, 1)
	a := ev.Alerts[0]
	assert.Equal(t, domain.SeverityHigh, a.Severity)
	assert.Equal(t, domain.AlertNew, a.Status)
	assert.Equal(t, "rule big", a.RuleName)
	assert.Equal(t, []string{"t1"}, a.Transactions)
	assert.True(t, a.DetectedAt.Equal(base))

	assert.Len(t, e.Evaluate(txn("t2", 0, 10000), nil, []domain.MonitoringRule{r}).Alerts, 1)
	assert.Empty(t, e.Evaluate(txn("t3", 0, 9999), nil, []domain.MonitoringRule{r}).Alerts)
}

func TestEscalating(t *testing.T) {
	r := rule("esc", domain.PatternEscalating, 60, nil, nil)

	tests := []struct {
		name    string
		amounts []int64
		want    int
	}{
		{"growing run", []int64{100, 120, 200}, 3},
		{"run too short", []int64{100, 200}, 0},
		{"ratio not exceeded", []int64{100, 110, 150}, 0},
		{"break resets run", []int64{500, 100, 120, 400}, 3},
		{"decreasing", []int64{300, 200, 100}, 0},
		{"flat then jump", []int64{100, 100, 100, 151}, 4},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var history []domain.Transaction
			last := len(tc.amounts) - 1
			for i, amt := range tc.amounts[:last] {
				history = append(history, txn(fmt.Sprintf("h%d", i), time.Duration(i)*time.Minute, amt))
			}
			current := txn("cur", time.Duration(last)*time.Minute, tc.amounts[last])

			ev := newTestEngine().Evaluate(current, history, []domain.MonitoringRule{r})
			if tc.want == 0 {
				assert.Empty(t, ev.Alerts)
				return
			}
			require.Len(t, ev.Alerts, 1)
			assert.Len(t, ev.Alerts[0].Transactions, tc.want)
		})
	}
}

func TestUnusualHours(t *testing.T) {
	r := rule("night", domain.PatternUnusualHours, 60, nil, nil)
	night := domain.Transaction{ID: "n", UserID: "alice", Amount: decimal.NewFromInt(1),
		Timestamp: time.Date(2026, 3, 2, 3, 30, 0, 0, time.UTC)}
	edge := night
	edge.ID, edge.Timestamp = "e", time.Date(2026, 3, 2, 5, 0, 0, 0, time.UTC)

	e := newTestEngine()
	assert.Len(t, e.Evaluate(night, nil, []domain.MonitoringRule{r}).Alerts, 1)
	assert.Empty(t, e.Evaluate(edge, nil, []domain.MonitoringRule{r}).Alerts)

	t.Run("wrapping band in local zone", func(t *testing.T) {
		loc := time.FixedZone("UTC+2", 2*60*60)
		cfg := DefaultConfig()
		cfg.OffHoursStart, cfg.OffHoursEnd, cfg.Location = 22, 4, loc
		e := NewEngine(cfg)

		late := night
		late.Timestamp = time.Date(2026, 3, 2, 21, 0, 0, 0, time.UTC) // 23:00 local
		assert.Len(t, e.Evaluate(late, nil, []domain.MonitoringRule{r}).Alerts, 1)
		assert.Empty(t, e.Evaluate(night, nil, []domain.MonitoringRule{r}).Alerts, "05:30 local")
	})
}

func TestMultipleCounterparties(t *testing.T) {
	r := rule("fan", domain.PatternMultipleCounterparties, 30, intPtr(3), nil)
	with := func(id, cp string, offset time.Duration) domain.Transaction {
		tx := txn(id, offset, 50)
		tx.CounterpartyID = cp
		return tx
	}

	history := []domain.Transaction{with("h1", "bob", -3*time.Minute), with("h2", "bob", -2*time.Minute)}
	e := newTestEngine()
	assert.Empty(t, e.Evaluate(with("cur", "carol", 0), history, []domain.MonitoringRule{r}).Alerts)

	history = append(history, with("h3", "dave", -time.Minute))
	assert.Len(t, e.Evaluate(with("cur", "carol", 0), history, []domain.MonitoringRule{r}).Alerts, 1)
}

func TestMinAmountNarrowsPatternWindow(t *testing.T) {
	r := rule("rapid-big", domain.PatternRapid, 10, intPtr(2), decPtr(1000))
	history := []domain.Transaction{txn("small", -time.Minute, 10)}

	e := newTestEngine()
	assert.Empty(t, e.Evaluate(txn("cur", 0, 5000), history, []domain.MonitoringRule{r}).Alerts)

	history = append(history, txn("large", -2*time.Minute, 2000))
	ev := e.Evaluate(txn("cur", 0, 5000), history, []domain.MonitoringRule{r})
	require.Len(t, ev.Alerts, 1)
	assert.Equal(t, []string{"large", "cur"}, ev.Alerts[0].Transactions)
}

func TestPatternRuleIgnoresTriggerBelowMinAmount(t *testing.T) {
	rapid := rule("rapid-big", domain.PatternRapid, 10, intPtr(2), decPtr(1000))
	fan := rule("fan-big", domain.PatternMultipleCounterparties, 10, intPtr(2), decPtr(1000))
	with := func(id, cp string, offset time.Duration, amount int64) domain.Transaction {
		tx := txn(id, offset, amount)
		tx.CounterpartyID = cp
		return tx
	}
	history := []domain.Transaction{
		with("large1", "bob", -2*time.Minute, 2000),
		with("large2", "carol", -time.Minute, 3000),
	}

	e := newTestEngine()
	ev := e.Evaluate(with("tiny", "dave", 0, 5), history, []domain.MonitoringRule{rapid, fan})
	assert.Empty(t, ev.Alerts)

	ev = e.Evaluate(with("big", "dave", 0, 1500), history, []domain.MonitoringRule{rapid, fan})
	require.Len(t, ev.Alerts, 2)
	for _, a := range ev.Alerts {
		assert.Contains(t, a.Transactions, "big", a.RuleID)
	}
}

func TestMalformedRulesAreSkipped(t *testing.T) {
	good := rule("big", "", 60, nil, decPtr(100))
	badWindow := rule("bad-window", "", 0, nil, decPtr(100))
	badPattern := rule("bad-pattern", "sideways", 10, nil, nil)
	disabled := rule("off", "", 60, nil, decPtr(1))
	disabled.Enabled = false

	ev := newTestEngine().Evaluate(txn("t1", 0, 500), nil,
		[]domain.MonitoringRule{badWindow, good, badPattern, disabled})

	require.Len(t, ev.Alerts, 1)
	assert.Equal(t, "big", ev.Alerts[0].RuleID)
	require.Len(t, ev.Skipped, 2)
	for _, err := range ev.Skipped {
		assert.ErrorIs(t, err, domain.ErrInvalidRule)
	}
}

func TestOneAlertPerRuleAndDeterminism(t *testing.T) {
	rules := []domain.MonitoringRule{
		rule("a", "", 60, nil, decPtr(100)),
		rule("b", domain.PatternRapid, 60, intPtr(1), nil),
	}
	history := []domain.Transaction{txn("h1", -time.Minute, 50)}

	first := newTestEngine().Evaluate(txn("t1", 0, 500), history, rules)
	second := newTestEngine().Evaluate(txn("t1", 0, 500), history, rules)

	require.Len(t, first.Alerts, 2)
	assert.Equal(t, "a", first.Alerts[0].RuleID)
	assert.Equal(t, "b", first.Alerts[1].RuleID)
	assert.Equal(t, first, second)
}

func TestMaxWindow(t *testing.T) {
	off := rule("off", "", 600, nil, decPtr(1))
	off.Enabled = false
	rules := []domain.MonitoringRule{
		rule("a", "", 30, nil, decPtr(1)),
		rule("b", domain.PatternRapid, 90, intPtr(2), nil),
		rule("bad", "", -5, nil, decPtr(1)),
		off,
	}
	assert.Equal(t, 90*time.Minute, MaxWindow(rules))
}
