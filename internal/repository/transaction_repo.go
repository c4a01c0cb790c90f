package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wakala/tradeguard/internal/domain"
)

type TransactionRepo struct {
	db *sql.DB
}

func NewTransactionRepo(db *sql.DB) *TransactionRepo {
	return &TransactionRepo{db: db}
}

const insertTransactionSQL = `INSERT OR IGNORE INTO transactions
	(id, user_id, counterparty_id, amount, currency, timestamp)
	VALUES (?,?,?,?,?,?)`

// Insert stores tx and reports whether it was new. A transaction with a known
// id is left untouched.
func (r *TransactionRepo) Insert(ctx context.Context, tx *domain.Transaction) (bool, error) {
	res, err := r.db.ExecContext(ctx, insertTransactionSQL, transactionArgs(tx)...)
	if err != nil {
		return false, fmt.Errorf("insert transaction: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r *TransactionRepo) GetByID(ctx context.Context, id string) (*domain.Transaction, error) {
	row := r.db.QueryRowContext(ctx, "SELECT * FROM transactions WHERE id = ?", id)
	tx, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: transaction %s", domain.ErrNotFound, id)
	}
	return tx, err
}

// History returns the user's transactions with from <= timestamp <= to,
// oldest first.
func (r *TransactionRepo) History(ctx context.Context, userID string, from, to time.Time) ([]domain.Transaction, error) {
	return r.query(ctx,
		`SELECT * FROM transactions
		WHERE user_id = ? AND timestamp >= ? AND timestamp <= ?
		ORDER BY timestamp, id`,
		userID, formatTime(from), formatTime(to),
	)
}

type TransactionFilter struct {
	UserID string
	From   *time.Time
	To     *time.Time
	Page   int
	Limit  int
}

func (r *TransactionRepo) List(ctx context.Context, f TransactionFilter) ([]domain.Transaction, int, error) {
	where, args := buildTransactionWhere(f)

	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM transactions"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count: %w", err)
	}

	limit, offset := pageBounds(f.Page, f.Limit)
	args = append(args, limit, offset)
	txns, err := r.query(ctx,
		"SELECT * FROM transactions"+where+" ORDER BY timestamp DESC LIMIT ? OFFSET ?", args...)
	return txns, total, err
}

// --- helpers ---

func (r *TransactionRepo) query(ctx context.Context, q string, args ...any) ([]domain.Transaction, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var txns []domain.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		txns = append(txns, *tx)
	}
	return txns, rows.Err()
}

func buildTransactionWhere(f TransactionFilter) (string, []any) {
	var clauses []string
	var args []any

	if f.UserID != "" {
		clauses = append(clauses, "user_id = ?")
		args = append(args, f.UserID)
	}
	if f.From != nil {
		clauses = append(clauses, "timestamp >= ?")
		args = append(args, formatTime(*f.From))
	}
	if f.To != nil {
		clauses = append(clauses, "timestamp <= ?")
		args = append(args, formatTime(*f.To))
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func pageBounds(page, limit int) (int, int) {
	if limit <= 0 {
		limit = 50
	}
	if page <= 0 {
		page = 1
	}
	return limit, (page - 1) * limit
}

func transactionArgs(tx *domain.Transaction) []any {
	return []any{
		tx.ID, tx.UserID, tx.CounterpartyID, tx.Amount.String(),
		strings.ToUpper(tx.Currency), formatTime(tx.Timestamp),
	}
}

func scanTransaction(s scanner) (*domain.Transaction, error) {
	var tx domain.Transaction
	var amount, ts string

	if err := s.Scan(&tx.ID, &tx.UserID, &tx.CounterpartyID, &amount, &tx.Currency, &ts); err != nil {
		return nil, err
	}

	d, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("parse amount %q: %w", amount, err)
	}
	tx.Amount = d
	tx.Timestamp = parseTime(ts)
	return &tx, nil
}
