// Package testutil holds helpers shared by package tests.
package testutil

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/wakala/tradeguard/internal/domain"
	"github.com/wakala/tradeguard/internal/repository"
)

// NewDB returns a migrated in-memory database closed at test cleanup.
func NewDB(t testing.TB) *sql.DB {
	t.Helper()
	db, err := repository.InitDB(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

// Base is a fixed reference instant for deterministic tests.
var Base = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

// Dec parses s or fails the test.
func Dec(t testing.TB, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	require.NoError(t, err)
	return d
}

// DecPtr is Dec returning a pointer.
func DecPtr(t testing.TB, s string) *decimal.Decimal {
	d := Dec(t, s)
	return &d
}

func IntPtr(n int) *int { return &n }

// SeedTrade stores an Active trade between buyer and seller.
func SeedTrade(t testing.TB, db *sql.DB, ticketID, buyer, seller, amount string) *domain.Trade {
	t.Helper()
	trade := &domain.Trade{
		TicketID: ticketID,
		BuyerID:  buyer,
		SellerID: seller,
		Amount:   Dec(t, amount),
		Currency: "USD",
		Status:   domain.TradeActive,
	}
	require.NoError(t, repository.NewTradeRepo(db).Insert(context.Background(), trade))
	return trade
}

// SeedRole registers userID in the role directory.
func SeedRole(t testing.TB, db *sql.DB, userID string, role domain.Role) {
	t.Helper()
	require.NoError(t, repository.NewUserRepo(db).SetRole(context.Background(), userID, role))
}
