package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank orders severities from low (1) to critical (4). Unknown values rank 0.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	}
	return 0
}

// Restricting reports whether an open alert of this severity restricts trading.
func (s Severity) Restricting() bool {
	return s == SeverityHigh || s == SeverityCritical
}

type PatternType string

const (
	PatternRapid                  PatternType = "rapid"
	PatternEscalating             PatternType = "escalating"
	PatternUnusualHours           PatternType = "unusual-hours"
	PatternMultipleCounterparties PatternType = "multiple-counterparties"
)

// Thresholds configures when a rule matches. A rule without PatternType is
// an amount-only rule and needs MinAmount.
type Thresholds struct {
	TimeWindowMinutes int              `json:"timeWindowMinutes" yaml:"timeWindowMinutes"`
	MaxTransactions   *int             `json:"maxTransactions,omitempty" yaml:"maxTransactions,omitempty"`
	MinAmount         *decimal.Decimal `json:"minAmount,omitempty" yaml:"minAmount,omitempty"`
	PatternType       PatternType      `json:"patternType,omitempty" yaml:"patternType,omitempty"`
}

// Window returns the look-back duration of the rule.
func (t Thresholds) Window() time.Duration {
	return time.Duration(t.TimeWindowMinutes) * time.Minute
}

// MonitoringRule is an operator-maintained detection rule. Rules are never
// deleted, only disabled.
type MonitoringRule struct {
	ID          string     `json:"id"`
	Name        string     `json:"name" validate:"required"`
	Description string     `json:"description"`
	Severity    Severity   `json:"severity" validate:"required,oneof=low medium high critical"`
	Enabled     bool       `json:"enabled"`
	Thresholds  Thresholds `json:"thresholds"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Validate checks the threshold configuration. Errors wrap ErrInvalidRule.
func (r *MonitoringRule) Validate() error {
	t := r.Thresholds
	if t.TimeWindowMinutes <= 0 {
		return fmt.Errorf("%w: rule %q: timeWindowMinutes must be positive, got %d",
			ErrInvalidRule, r.ID, t.TimeWindowMinutes)
	}
	if r.Severity.Rank() == 0 {
		return fmt.Errorf("%w: rule %q: unknown severity %q", ErrInvalidRule, r.ID, r.Severity)
	}
	if t.MinAmount != nil && t.MinAmount.IsNegative() {
		return fmt.Errorf("%w: rule %q: minAmount must not be negative", ErrInvalidRule, r.ID)
	}

	switch t.PatternType {
	case "":
		if t.MinAmount == nil {
			return fmt.Errorf("%w: rule %q: amount-only rule needs minAmount", ErrInvalidRule, r.ID)
		}
	case PatternRapid, PatternMultipleCounterparties:
		if t.MaxTransactions == nil || *t.MaxTransactions <= 0 {
			return fmt.Errorf("%w: rule %q: %s needs a positive maxTransactions",
				ErrInvalidRule, r.ID, t.PatternType)
		}
	case PatternEscalating, PatternUnusualHours:
	default:
		return fmt.Errorf("%w: rule %q: unknown patternType %q", ErrInvalidRule, r.ID, t.PatternType)
	}
	return nil
}
