package alerts

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/wakala/tradeguard/internal/domain"
	"github.com/wakala/tradeguard/internal/rules"
)

// ScreenResult reports what screening one transaction produced.
type ScreenResult struct {
	TransactionID string         `json:"transaction_id"`
	Duplicate     bool           `json:"duplicate"`
	Alerts        []domain.Alert `json:"alerts"`
	Deduplicated  int            `json:"deduplicated"`
	SkippedRules  []string       `json:"skipped_rules,omitempty"`
}

// Screen stores tx, evaluates it against every enabled rule and persists
// the alerts not already covered by an open alert of the same rule and user
// within that rule's window. A transaction seen before is not re-screened.
func (s *Service) Screen(ctx context.Context, tx domain.Transaction) (*ScreenResult, error) {
	if err := s.checkTransaction(&tx); err != nil {
		return nil, err
	}
	res := &ScreenResult{TransactionID: tx.ID, Alerts: []domain.Alert{}}

	inserted, err := s.txnRepo.Insert(ctx, &tx)
	if err != nil {
		return nil, err
	}
	if !inserted {
		res.Duplicate = true
		return res, nil
	}
	s.metrics.Screened()

	eval, enabled, err := s.evaluate(ctx, tx)
	if err != nil {
		return nil, err
	}
	windows := make(map[string]time.Duration, len(enabled))
	for _, r := range enabled {
		windows[r.ID] = r.Thresholds.Window()
	}
	for _, skipped := range eval.Skipped {
		res.SkippedRules = append(res.SkippedRules, skipped.Error())
	}

	for _, candidate := range eval.Alerts {
		since := tx.Timestamp.Add(-windows[candidate.RuleID])
		covered, err := s.alertRepo.HasOpenSince(ctx, candidate.UserID, candidate.RuleID, since)
		if err != nil {
			return nil, err
		}
		if covered {
			res.Deduplicated++
			s.metrics.AlertDeduplicated()
			continue
		}
		res.Alerts = append(res.Alerts, candidate)
	}

	if err := s.alertRepo.InsertBatch(ctx, res.Alerts); err != nil {
		return nil, fmt.Errorf("persist alerts: %w", err)
	}
	for _, a := range res.Alerts {
		s.metrics.AlertGenerated(string(a.Severity))
		s.log.Info("alert raised",
			zap.String("alert_id", a.ID),
			zap.String("user_id", a.UserID),
			zap.String("rule_id", a.RuleID),
			zap.String("severity", string(a.Severity)))
		s.audit.Record(ctx, "alert.create", "alert", a.ID, "system", map[string]any{
			"rule_id":      a.RuleID,
			"transactions": a.Transactions,
		})
	}
	return res, nil
}

// Evaluate runs the rule engine for tx against stored history without
// persisting anything.
func (s *Service) Evaluate(ctx context.Context, tx domain.Transaction) (rules.Evaluation, error) {
	if err := s.checkTransaction(&tx); err != nil {
		return rules.Evaluation{}, err
	}
	eval, _, err := s.evaluate(ctx, tx)
	return eval, err
}

func (s *Service) evaluate(ctx context.Context, tx domain.Transaction) (rules.Evaluation, []domain.MonitoringRule, error) {
	enabled, err := s.ruleRepo.List(ctx, true)
	if err != nil {
		return rules.Evaluation{}, nil, err
	}
	history, err := s.txnRepo.History(ctx, tx.UserID, tx.Timestamp.Add(-rules.MaxWindow(enabled)), tx.Timestamp)
	if err != nil {
		return rules.Evaluation{}, nil, err
	}

	eval := s.engine.Evaluate(tx, history, enabled)
	for _, skipped := range eval.Skipped {
		s.metrics.RuleSkipped()
		s.log.Warn("rule skipped", zap.String("transaction_id", tx.ID), zap.Error(skipped))
	}
	return eval, enabled, nil
}

func (s *Service) checkTransaction(tx *domain.Transaction) error {
	tx.Currency = strings.ToUpper(tx.Currency)
	if err := s.validate.Struct(tx); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	if tx.Amount.IsNegative() {
		return fmt.Errorf("%w: amount must not be negative", domain.ErrValidation)
	}
	tx.Timestamp = tx.Timestamp.UTC()
	return nil
}
