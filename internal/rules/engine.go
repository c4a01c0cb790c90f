// Package rules evaluates transactions against monitoring rules.
package rules

import (
	"cmp"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/wakala/tradeguard/internal/domain"
)

// Config holds the pattern parameters that are not part of a rule.
type Config struct {
	// EscalationFactor is the ratio last/first a non-decreasing run must
	// exceed to count as escalating.
	EscalationFactor decimal.Decimal
	EscalationMinRun int
	// OffHoursStart and OffHoursEnd bound the unusual-hours band [start, end)
	// in Location. A start after end wraps past midnight.
	OffHoursStart int
	OffHoursEnd   int
	Location      *time.Location
}

func DefaultConfig() Config {
	return Config{
		EscalationFactor: decimal.NewFromFloat(1.5),
		EscalationMinRun: 3,
		OffHoursStart:    0,
		OffHoursEnd:      5,
		Location:         time.UTC,
	}
}

// Engine is stateless apart from its configuration and is safe for
// concurrent use.
type Engine struct {
	cfg   Config
	newID func() string
}

func NewEngine(cfg Config) *Engine {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.EscalationMinRun < 2 {
		cfg.EscalationMinRun = 2
	}
	return &Engine{cfg: cfg, newID: uuid.NewString}
}

// Evaluation is the outcome of one Evaluate call. Skipped holds one
// ErrInvalidRule error per malformed rule that was left out.
type Evaluation struct {
	Alerts  []domain.Alert
	Skipped []error
}

// Evaluate runs every enabled rule against tx. history must hold the user's
// transactions over the largest enabled window; entries of other users and
// entries after tx are ignored. One alert is emitted per matching rule, in
// rule order.
func (e *Engine) Evaluate(tx domain.Transaction, history []domain.Transaction, rules []domain.MonitoringRule) Evaluation {
	var out Evaluation
	for i := range rules {
		rule := &rules[i]
		if !rule.Enabled {
			continue
		}
		if err := rule.Validate(); err != nil {
			out.Skipped = append(out.Skipped, err)
			continue
		}

		matched := e.match(rule, tx, window(tx, history, rule.Thresholds.Window()))
		if len(matched) == 0 {
			continue
		}

		ids := make([]string, len(matched))
		for j, m := range matched {
			ids[j] = m.ID
		}
		out.Alerts = append(out.Alerts, domain.Alert{
			ID:           e.newID(),
			UserID:       tx.UserID,
			RuleID:       rule.ID,
			RuleName:     rule.Name,
			Severity:     rule.Severity,
			Transactions: ids,
			DetectedAt:   tx.Timestamp,
			Status:       domain.AlertNew,
		})
	}
	return out
}

func (e *Engine) match(rule *domain.MonitoringRule, tx domain.Transaction, win []domain.Transaction) []domain.Transaction {
	t := rule.Thresholds

	if t.PatternType == "" {
		if tx.Amount.GreaterThanOrEqual(*t.MinAmount) {
			return []domain.Transaction{tx}
		}
		return nil
	}

	// On pattern rules minAmount narrows the window to qualifying amounts,
	// and a trigger below it cannot match.
	if t.MinAmount != nil {
		if tx.Amount.LessThan(*t.MinAmount) {
			return nil
		}
		win = slices.DeleteFunc(slices.Clone(win), func(w domain.Transaction) bool {
			return w.Amount.LessThan(*t.MinAmount)
		})
	}

	switch t.PatternType {
	case domain.PatternRapid:
		if len(win) >= *t.MaxTransactions {
			return win
		}
	case domain.PatternEscalating:
		return e.escalatingRun(tx, win)
	case domain.PatternUnusualHours:
		if e.offHours(tx.Timestamp) {
			return []domain.Transaction{tx}
		}
	case domain.PatternMultipleCounterparties:
		seen := make(map[string]struct{})
		for _, w := range win {
			if w.CounterpartyID != "" {
				seen[w.CounterpartyID] = struct{}{}
			}
		}
		if len(seen) >= *t.MaxTransactions {
			return win
		}
	}
	return nil
}

// escalatingRun returns the longest non-decreasing run ending at tx when it
// is long enough and grows by more than the configured factor.
func (e *Engine) escalatingRun(tx domain.Transaction, win []domain.Transaction) []domain.Transaction {
	end := slices.IndexFunc(win, func(w domain.Transaction) bool { return w.ID == tx.ID })
	if end < 0 {
		return nil
	}
	start := end
	for start > 0 && win[start-1].Amount.LessThanOrEqual(win[start].Amount) {
		start--
	}
	run := win[start : end+1]
	if len(run) < e.cfg.EscalationMinRun {
		return nil
	}

	first, last := run[0].Amount, run[len(run)-1].Amount
	if first.IsZero() {
		if last.IsPositive() {
			return run
		}
		return nil
	}
	if last.Div(first).GreaterThan(e.cfg.EscalationFactor) {
		return run
	}
	return nil
}

func (e *Engine) offHours(ts time.Time) bool {
	h := ts.In(e.cfg.Location).Hour()
	start, end := e.cfg.OffHoursStart, e.cfg.OffHoursEnd
	if start <= end {
		return h >= start && h < end
	}
	return h >= start || h < end
}

// window returns tx plus the same user's transactions in
// [tx.Timestamp-d, tx.Timestamp], deduplicated by id and ordered by time.
func window(tx domain.Transaction, history []domain.Transaction, d time.Duration) []domain.Transaction {
	from := tx.Timestamp.Add(-d)
	seen := map[string]struct{}{tx.ID: {}}
	win := []domain.Transaction{tx}

	for _, h := range history {
		if h.UserID != tx.UserID || h.Timestamp.Before(from) || h.Timestamp.After(tx.Timestamp) {
			continue
		}
		if _, dup := seen[h.ID]; dup {
			continue
		}
		seen[h.ID] = struct{}{}
		win = append(win, h)
	}

	slices.SortStableFunc(win, func(a, b domain.Transaction) int {
		if c := a.Timestamp.Compare(b.Timestamp); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return win
}

// MaxWindow returns the largest window among enabled, well-formed rules.
func MaxWindow(rules []domain.MonitoringRule) time.Duration {
	var longest time.Duration
	for i := range rules {
		if !rules[i].Enabled || rules[i].Validate() != nil {
			continue
		}
		if w := rules[i].Thresholds.Window(); w > longest {
			longest = w
		}
	}
	return longest
}

// ValidateConfig reports unusable engine parameters.
func ValidateConfig(cfg Config) error {
	if !cfg.EscalationFactor.IsPositive() {
		return fmt.Errorf("escalation factor must be positive, got %s", cfg.EscalationFactor)
	}
	for _, h := range []int{cfg.OffHoursStart, cfg.OffHoursEnd} {
		if h < 0 || h > 24 {
			return fmt.Errorf("off-hours bound %d outside [0,24]", h)
		}
	}
	return nil
}
