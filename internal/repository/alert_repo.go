package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wakala/tradeguard/internal/domain"
)

type AlertRepo struct {
	db *sql.DB
}

func NewAlertRepo(db *sql.DB) *AlertRepo {
	return &AlertRepo{db: db}
}

const alertColumns = `id, user_id, rule_id, rule_name, severity, transactions, detected_at,
	status, resolution, reviewed_by, reviewed_at, version`

// InsertBatch stores freshly detected alerts in one transaction.
func (r *AlertRepo) InsertBatch(ctx context.Context, alerts []domain.Alert) error {
	if len(alerts) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO alerts (`+alertColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for i := range alerts {
		a := &alerts[i]
		if a.Version == 0 {
			a.Version = 1
		}
		txns, err := json.Marshal(a.Transactions)
		if err != nil {
			return fmt.Errorf("marshal transactions: %w", err)
		}
		if _, err := stmt.ExecContext(ctx,
			a.ID, a.UserID, a.RuleID, a.RuleName, string(a.Severity), string(txns),
			formatTime(a.DetectedAt), string(a.Status), a.Resolution, a.ReviewedBy,
			formatNullableTime(a.ReviewedAt), a.Version,
		); err != nil {
			return fmt.Errorf("insert alert %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (r *AlertRepo) GetByID(ctx context.Context, id string) (*domain.Alert, error) {
	return getAlert(ctx, r.db, id)
}

// Update reads the alert, lets mutate validate and change it, then writes it
// back guarded by the version that was read. Everything happens in one
// database transaction, so a terminal alert can never be re-transitioned.
func (r *AlertRepo) Update(ctx context.Context, id string, mutate func(*domain.Alert) error) (*domain.Alert, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	a, err := getAlert(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	readVersion := a.Version

	if err := mutate(a); err != nil {
		return nil, err
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE alerts SET status = ?, resolution = ?, reviewed_by = ?, reviewed_at = ?,
			version = version + 1
		WHERE id = ? AND version = ?`,
		string(a.Status), a.Resolution, a.ReviewedBy, formatNullableTime(a.ReviewedAt),
		id, readVersion,
	)
	if err != nil {
		return nil, fmt.Errorf("update alert: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("%w: alert %s changed since version %d",
			domain.ErrConcurrencyConflict, id, readVersion)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	a.Version = readVersion + 1
	return a, nil
}

// OpenForUser returns the user's alerts in new or under-review status.
func (r *AlertRepo) OpenForUser(ctx context.Context, userID string) ([]domain.Alert, error) {
	return r.query(ctx,
		`SELECT `+alertColumns+` FROM alerts
		WHERE user_id = ? AND status IN (?, ?)
		ORDER BY detected_at, id`,
		userID, string(domain.AlertNew), string(domain.AlertUnderReview),
	)
}

// HasOpenSince reports whether an open alert for the rule and user was
// detected at or after since.
func (r *AlertRepo) HasOpenSince(ctx context.Context, userID, ruleID string, since time.Time) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM alerts
		WHERE user_id = ? AND rule_id = ? AND status IN (?, ?) AND detected_at >= ?`,
		userID, ruleID, string(domain.AlertNew), string(domain.AlertUnderReview), formatTime(since),
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("count open alerts: %w", err)
	}
	return n > 0, nil
}

type AlertFilter struct {
	UserID   string
	RuleID   string
	Status   string
	Severity string
	Page     int
	Limit    int
}

func (r *AlertRepo) List(ctx context.Context, f AlertFilter) ([]domain.Alert, int, error) {
	where, args := buildAlertWhere(f)

	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM alerts"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count: %w", err)
	}

	limit, offset := pageBounds(f.Page, f.Limit)
	args = append(args, limit, offset)
	alerts, err := r.query(ctx,
		"SELECT "+alertColumns+" FROM alerts"+where+" ORDER BY detected_at DESC, id LIMIT ? OFFSET ?",
		args...)
	return alerts, total, err
}

// --- helpers ---

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func getAlert(ctx context.Context, q querier, id string) (*domain.Alert, error) {
	row := q.QueryRowContext(ctx, "SELECT "+alertColumns+" FROM alerts WHERE id = ?", id)
	a, err := scanAlert(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: alert %s", domain.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get alert: %w", err)
	}
	return a, nil
}

func (r *AlertRepo) query(ctx context.Context, q string, args ...any) ([]domain.Alert, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()

	var alerts []domain.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		alerts = append(alerts, *a)
	}
	return alerts, rows.Err()
}

func buildAlertWhere(f AlertFilter) (string, []any) {
	var clauses []string
	var args []any

	if f.UserID != "" {
		clauses = append(clauses, "user_id = ?")
		args = append(args, f.UserID)
	}
	if f.RuleID != "" {
		clauses = append(clauses, "rule_id = ?")
		args = append(args, f.RuleID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, f.Status)
	}
	if f.Severity != "" {
		clauses = append(clauses, "severity = ?")
		args = append(args, f.Severity)
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func scanAlert(s scanner) (*domain.Alert, error) {
	var a domain.Alert
	var severity, txns, detectedAt, status string
	var reviewedAt sql.NullString

	err := s.Scan(
		&a.ID, &a.UserID, &a.RuleID, &a.RuleName, &severity, &txns, &detectedAt,
		&status, &a.Resolution, &a.ReviewedBy, &reviewedAt, &a.Version,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(txns), &a.Transactions); err != nil {
		return nil, fmt.Errorf("decode transactions of alert %s: %w", a.ID, err)
	}
	a.Severity = domain.Severity(severity)
	a.Status = domain.AlertStatus(status)
	a.DetectedAt = parseTime(detectedAt)
	a.ReviewedAt = parseNullableTime(reviewedAt)
	return &a, nil
}
