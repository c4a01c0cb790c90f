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

// TradeRepo is the SQLite-backed trade/escrow record store. It satisfies the
// disputes package's TradeService.
type TradeRepo struct {
	db  *sql.DB
	now func() time.Time
}

func NewTradeRepo(db *sql.DB) *TradeRepo {
	return &TradeRepo{db: db, now: time.Now}
}

func (r *TradeRepo) Insert(ctx context.Context, t *domain.Trade) error {
	if t.Status == "" {
		t.Status = domain.TradeActive
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = r.now()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO trades
		(ticket_id, buyer_id, seller_id, amount, currency, status, dispute_id, decision, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?)`,
		t.TicketID, t.BuyerID, t.SellerID, t.Amount.String(), strings.ToUpper(t.Currency),
		string(t.Status), t.DisputeID, string(t.Decision), formatTime(t.UpdatedAt),
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: trade %s already exists", domain.ErrValidation, t.TicketID)
	}
	if err != nil {
		return fmt.Errorf("insert trade: %w", err)
	}
	return nil
}

func (r *TradeRepo) GetTrade(ctx context.Context, ticketID string) (*domain.Trade, error) {
	var t domain.Trade
	var amount, status, decision, updatedAt string
	err := r.db.QueryRowContext(ctx,
		`SELECT ticket_id, buyer_id, seller_id, amount, currency, status, dispute_id, decision, updated_at
		FROM trades WHERE ticket_id = ?`, ticketID,
	).Scan(&t.TicketID, &t.BuyerID, &t.SellerID, &amount, &t.Currency, &status,
		&t.DisputeID, &decision, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: trade %s", domain.ErrNotFound, ticketID)
	}
	if err != nil {
		return nil, fmt.Errorf("get trade: %w", err)
	}

	if t.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("parse trade amount %q: %w", amount, err)
	}
	t.Status = domain.TradeStatus(status)
	t.Decision = domain.Decision(decision)
	t.UpdatedAt = parseTime(updatedAt)
	return &t, nil
}

// SetTradeStatus writes the status and, when set, the linked dispute and
// decision. Re-applying the same values is harmless.
func (r *TradeRepo) SetTradeStatus(ctx context.Context, ticketID string, status domain.TradeStatus, extra domain.TradeUpdate) error {
	sets := []string{"status = ?", "updated_at = ?"}
	args := []any{string(status), formatTime(r.now())}
	if extra.DisputeID != "" {
		sets = append(sets, "dispute_id = ?")
		args = append(args, extra.DisputeID)
	}
	if extra.Decision != "" {
		sets = append(sets, "decision = ?")
		args = append(args, string(extra.Decision))
	}
	args = append(args, ticketID)

	res, err := r.db.ExecContext(ctx,
		"UPDATE trades SET "+strings.Join(sets, ", ")+" WHERE ticket_id = ?", args...)
	if err != nil {
		return fmt.Errorf("set trade status: %w", err)
	}
	return requireAffected(res, "trade", ticketID)
}
