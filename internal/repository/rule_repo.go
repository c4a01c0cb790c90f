package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/wakala/tradeguard/internal/domain"
)

type RuleRepo struct {
	db *sql.DB
}

func NewRuleRepo(db *sql.DB) *RuleRepo {
	return &RuleRepo{db: db}
}

const ruleColumns = `id, name, description, severity, enabled, time_window_minutes,
	max_transactions, min_amount, pattern_type, created_at, updated_at`

func (r *RuleRepo) Insert(ctx context.Context, rule *domain.MonitoringRule) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO rules (`+ruleColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		ruleArgs(rule)...,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: rule %s already exists", domain.ErrValidation, rule.ID)
	}
	if err != nil {
		return fmt.Errorf("insert rule: %w", err)
	}
	return nil
}

// Upsert inserts the rule or replaces every field but created_at.
func (r *RuleRepo) Upsert(ctx context.Context, rule *domain.MonitoringRule) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO rules (`+ruleColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			severity = excluded.severity,
			enabled = excluded.enabled,
			time_window_minutes = excluded.time_window_minutes,
			max_transactions = excluded.max_transactions,
			min_amount = excluded.min_amount,
			pattern_type = excluded.pattern_type,
			updated_at = excluded.updated_at`,
		ruleArgs(rule)...,
	)
	if err != nil {
		return fmt.Errorf("upsert rule: %w", err)
	}
	return nil
}

func (r *RuleRepo) Update(ctx context.Context, rule *domain.MonitoringRule) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE rules SET name = ?, description = ?, severity = ?, enabled = ?,
			time_window_minutes = ?, max_transactions = ?, min_amount = ?,
			pattern_type = ?, updated_at = ?
		WHERE id = ?`,
		rule.Name, rule.Description, string(rule.Severity), boolToInt(rule.Enabled),
		rule.Thresholds.TimeWindowMinutes, nullableInt(rule.Thresholds.MaxTransactions),
		formatNullableDecimal(rule.Thresholds.MinAmount), string(rule.Thresholds.PatternType),
		formatTime(rule.UpdatedAt), rule.ID,
	)
	if err != nil {
		return fmt.Errorf("update rule: %w", err)
	}
	return requireAffected(res, "rule", rule.ID)
}

func (r *RuleRepo) SetEnabled(ctx context.Context, id string, enabled bool, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		"UPDATE rules SET enabled = ?, updated_at = ? WHERE id = ?",
		boolToInt(enabled), formatTime(at), id,
	)
	if err != nil {
		return fmt.Errorf("set rule enabled: %w", err)
	}
	return requireAffected(res, "rule", id)
}

func (r *RuleRepo) GetByID(ctx context.Context, id string) (*domain.MonitoringRule, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+ruleColumns+" FROM rules WHERE id = ?", id)
	rule, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: rule %s", domain.ErrNotFound, id)
	}
	return rule, err
}

// List returns all rules, or only enabled ones when enabledOnly is set.
func (r *RuleRepo) List(ctx context.Context, enabledOnly bool) ([]domain.MonitoringRule, error) {
	q := "SELECT " + ruleColumns + " FROM rules"
	if enabledOnly {
		q += " WHERE enabled = 1"
	}
	q += " ORDER BY id"

	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query rules: %w", err)
	}
	defer rows.Close()

	var rules []domain.MonitoringRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		rules = append(rules, *rule)
	}
	return rules, rows.Err()
}

// --- helpers ---

type scanner interface {
	Scan(dest ...any) error
}

func ruleArgs(rule *domain.MonitoringRule) []any {
	return []any{
		rule.ID, rule.Name, rule.Description, string(rule.Severity), boolToInt(rule.Enabled),
		rule.Thresholds.TimeWindowMinutes, nullableInt(rule.Thresholds.MaxTransactions),
		formatNullableDecimal(rule.Thresholds.MinAmount), string(rule.Thresholds.PatternType),
		formatTime(rule.CreatedAt), formatTime(rule.UpdatedAt),
	}
}

func scanRule(s scanner) (*domain.MonitoringRule, error) {
	var rule domain.MonitoringRule
	var severity, pattern, createdAt, updatedAt string
	var enabled int
	var maxTxns sql.NullInt64
	var minAmount sql.NullString

	err := s.Scan(
		&rule.ID, &rule.Name, &rule.Description, &severity, &enabled,
		&rule.Thresholds.TimeWindowMinutes, &maxTxns, &minAmount, &pattern,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	rule.Severity = domain.Severity(severity)
	rule.Enabled = enabled == 1
	rule.Thresholds.PatternType = domain.PatternType(pattern)
	rule.CreatedAt = parseTime(createdAt)
	rule.UpdatedAt = parseTime(updatedAt)
	if maxTxns.Valid {
		n := int(maxTxns.Int64)
		rule.Thresholds.MaxTransactions = &n
	}
	if rule.Thresholds.MinAmount, err = parseNullableDecimal(minAmount); err != nil {
		return nil, err
	}
	return &rule, nil
}

func nullableInt(n *int) any {
	if n == nil {
		return nil
	}
	return *n
}

func requireAffected(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s %s", domain.ErrNotFound, kind, id)
	}
	return nil
}
