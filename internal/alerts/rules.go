package alerts

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wakala/tradeguard/internal/domain"
)

// CreateRule validates and stores a new rule. An empty ID is generated.
func (s *Service) CreateRule(ctx context.Context, rule *domain.MonitoringRule, actorID string) error {
	if err := s.checkRule(rule); err != nil {
		return err
	}
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	now := s.now()
	rule.CreatedAt, rule.UpdatedAt = now, now

	if err := s.ruleRepo.Insert(ctx, rule); err != nil {
		return err
	}
	s.log.Info("rule created", zap.String("rule_id", rule.ID), zap.String("severity", string(rule.Severity)))
	s.audit.Record(ctx, "rule.create", "rule", rule.ID, actorID, map[string]any{"name": rule.Name})
	return nil
}

// UpdateRule replaces the editable fields of an existing rule.
func (s *Service) UpdateRule(ctx context.Context, rule *domain.MonitoringRule, actorID string) error {
	if err := s.checkRule(rule); err != nil {
		return err
	}
	existing, err := s.ruleRepo.GetByID(ctx, rule.ID)
	if err != nil {
		return err
	}
	rule.CreatedAt = existing.CreatedAt
	rule.UpdatedAt = s.now()

	if err := s.ruleRepo.Update(ctx, rule); err != nil {
		return err
	}
	s.log.Info("rule updated", zap.String("rule_id", rule.ID))
	s.audit.Record(ctx, "rule.update", "rule", rule.ID, actorID, nil)
	return nil
}

// SetRuleEnabled enables or disables a rule. Rules are never deleted.
func (s *Service) SetRuleEnabled(ctx context.Context, id string, enabled bool, actorID string) error {
	if err := s.ruleRepo.SetEnabled(ctx, id, enabled, s.now()); err != nil {
		return err
	}
	s.log.Info("rule toggled", zap.String("rule_id", id), zap.Bool("enabled", enabled))
	s.audit.Record(ctx, "rule.set_enabled", "rule", id, actorID, map[string]any{"enabled": enabled})
	return nil
}

func (s *Service) GetRule(ctx context.Context, id string) (*domain.MonitoringRule, error) {
	return s.ruleRepo.GetByID(ctx, id)
}

func (s *Service) ListRules(ctx context.Context, enabledOnly bool) ([]domain.MonitoringRule, error) {
	return s.ruleRepo.List(ctx, enabledOnly)
}

// ImportRules upserts rules by id, typically from a YAML file.
func (s *Service) ImportRules(ctx context.Context, rules []domain.MonitoringRule, actorID string) (int, error) {
	for i := range rules {
		if err := s.checkRule(&rules[i]); err != nil {
			return i, err
		}
	}
	for i := range rules {
		if err := s.ruleRepo.Upsert(ctx, &rules[i]); err != nil {
			return i, fmt.Errorf("import rule %s: %w", rules[i].ID, err)
		}
		s.audit.Record(ctx, "rule.import", "rule", rules[i].ID, actorID, nil)
	}
	s.log.Info("rules imported", zap.Int("count", len(rules)))
	return len(rules), nil
}

func (s *Service) checkRule(rule *domain.MonitoringRule) error {
	if err := s.validate.Struct(rule); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidRule, err)
	}
	return rule.Validate()
}
