package rules

import (
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/wakala/tradeguard/internal/domain"
)

// File is the top-level layout of a rule definition file.
type File struct {
	Rules []Definition `yaml:"rules"`
}

// Definition is one rule as written in YAML. Enabled defaults to true.
type Definition struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Severity    string `yaml:"severity"`
	Enabled     *bool  `yaml:"enabled"`
	Thresholds  struct {
		TimeWindowMinutes int    `yaml:"timeWindowMinutes"`
		MaxTransactions   *int   `yaml:"maxTransactions"`
		MinAmount         string `yaml:"minAmount"`
		PatternType       string `yaml:"patternType"`
	} `yaml:"thresholds"`
}

// LoadFile reads and validates rule definitions from a YAML file.
func LoadFile(path string) ([]domain.MonitoringRule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}
	return Parse(data, time.Now())
}

// Parse decodes YAML rule definitions stamped with now. Any malformed rule
// fails the whole file.
func Parse(data []byte, now time.Time) ([]domain.MonitoringRule, error) {
	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("%w: decode rules: %v", domain.ErrInvalidRule, err)
	}

	out := make([]domain.MonitoringRule, 0, len(file.Rules))
	seen := make(map[string]bool)
	for i, def := range file.Rules {
		if def.ID == "" {
			return nil, fmt.Errorf("%w: rule #%d has no id", domain.ErrInvalidRule, i+1)
		}
		if seen[def.ID] {
			return nil, fmt.Errorf("%w: rule %q defined twice", domain.ErrInvalidRule, def.ID)
		}
		seen[def.ID] = true

		rule := domain.MonitoringRule{
			ID:          def.ID,
			Name:        def.Name,
			Description: def.Description,
			Severity:    domain.Severity(def.Severity),
			Enabled:     def.Enabled == nil || *def.Enabled,
			Thresholds: domain.Thresholds{
				TimeWindowMinutes: def.Thresholds.TimeWindowMinutes,
				MaxTransactions:   def.Thresholds.MaxTransactions,
				PatternType:       domain.PatternType(def.Thresholds.PatternType),
			},
			CreatedAt: now,
			UpdatedAt: now,
		}
		if rule.Name == "" {
			rule.Name = rule.ID
		}
		if def.Thresholds.MinAmount != "" {
			d, err := decimal.NewFromString(def.Thresholds.MinAmount)
			if err != nil {
				return nil, fmt.Errorf("%w: rule %q: minAmount %q: %v",
					domain.ErrInvalidRule, def.ID, def.Thresholds.MinAmount, err)
			}
			rule.Thresholds.MinAmount = &d
		}
		if err := rule.Validate(); err != nil {
			return nil, err
		}
		out = append(out, rule)
	}
	return out, nil
}
