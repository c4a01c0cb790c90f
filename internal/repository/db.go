package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// timeLayout is fixed-width so that stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// InitDB opens (or creates) a SQLite database at the given path and applies
// pending migrations. Pass ":memory:" for an in-memory database.
func InitDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// One connection serialises writers and keeps ":memory:" databases
	// shared across callers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("exec %q: %w", p, err)
		}
	}

	if err := migrate(context.Background(), db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return db, nil
}

type migration struct {
	version     int
	description string
	stmts       []string
}

var migrations = []migration{
	{
		version:     1,
		description: "rules, transactions, alerts, flags",
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS rules (
				id TEXT PRIMARY KEY,
				name TEXT NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				severity TEXT NOT NULL,
				enabled INTEGER NOT NULL DEFAULT 1,
				time_window_minutes INTEGER NOT NULL,
				max_transactions INTEGER,
				min_amount TEXT,
				pattern_type TEXT NOT NULL DEFAULT '',
				created_at TEXT NOT NULL,
				updated_at TEXT NOT NULL
			)`,

			`CREATE TABLE IF NOT EXISTS transactions (
				id TEXT PRIMARY KEY,
				user_id TEXT NOT NULL,
				counterparty_id TEXT NOT NULL DEFAULT '',
				amount TEXT NOT NULL,
				currency TEXT NOT NULL,
				timestamp TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_transactions_user_ts ON transactions(user_id, timestamp)`,

			`CREATE TABLE IF NOT EXISTS alerts (
				id TEXT PRIMARY KEY,
				user_id TEXT NOT NULL,
				rule_id TEXT NOT NULL,
				rule_name TEXT NOT NULL,
				severity TEXT NOT NULL,
				transactions TEXT NOT NULL,
				detected_at TEXT NOT NULL,
				status TEXT NOT NULL,
				resolution TEXT NOT NULL DEFAULT '',
				reviewed_by TEXT NOT NULL DEFAULT '',
				reviewed_at TEXT,
				version INTEGER NOT NULL DEFAULT 1
			)`,
			`CREATE INDEX IF NOT EXISTS idx_alerts_user_status ON alerts(user_id, status)`,
			`CREATE INDEX IF NOT EXISTS idx_alerts_rule_user ON alerts(rule_id, user_id, detected_at)`,

			`CREATE TABLE IF NOT EXISTS user_flags (
				user_id TEXT PRIMARY KEY,
				reason TEXT NOT NULL,
				flagged_by TEXT NOT NULL,
				flagged_at TEXT NOT NULL
			)`,
		},
	},
	{
		version:     2,
		description: "trades, disputes and their append-only logs",
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS trades (
				ticket_id TEXT PRIMARY KEY,
				buyer_id TEXT NOT NULL,
				seller_id TEXT NOT NULL,
				amount TEXT NOT NULL,
				currency TEXT NOT NULL,
				status TEXT NOT NULL,
				dispute_id TEXT NOT NULL DEFAULT '',
				decision TEXT NOT NULL DEFAULT '',
				updated_at TEXT NOT NULL
			)`,

			`CREATE TABLE IF NOT EXISTS disputes (
				id TEXT PRIMARY KEY,
				ticket_id TEXT NOT NULL,
				user_id TEXT NOT NULL,
				counterparty_id TEXT NOT NULL,
				reason TEXT NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				status TEXT NOT NULL,
				priority TEXT NOT NULL,
				flags TEXT NOT NULL DEFAULT '',
				escalated_to_arbitration INTEGER NOT NULL DEFAULT 0,
				escalated_at TEXT,
				decision TEXT NOT NULL DEFAULT '',
				resolution_reason TEXT NOT NULL DEFAULT '',
				resolved_by TEXT NOT NULL DEFAULT '',
				resolved_at TEXT,
				buyer_refund_amount TEXT,
				seller_payment_amount TEXT,
				additional_notes TEXT NOT NULL DEFAULT '',
				trade_sync_pending INTEGER NOT NULL DEFAULT 0,
				version INTEGER NOT NULL DEFAULT 1,
				created_at TEXT NOT NULL,
				updated_at TEXT NOT NULL
			)`,
			// At most one non-terminal dispute per trade.
			`CREATE UNIQUE INDEX IF NOT EXISTS uq_disputes_open_ticket ON disputes(ticket_id)
				WHERE status NOT IN ('Resolved', 'Rejected', 'Cancelled')`,
			`CREATE INDEX IF NOT EXISTS idx_disputes_counterparty ON disputes(counterparty_id)`,
			`CREATE INDEX IF NOT EXISTS idx_disputes_sync ON disputes(trade_sync_pending)`,

			`CREATE TABLE IF NOT EXISTS dispute_evidence (
				seq INTEGER PRIMARY KEY AUTOINCREMENT,
				id TEXT UNIQUE NOT NULL,
				dispute_id TEXT NOT NULL,
				user_id TEXT NOT NULL,
				type TEXT NOT NULL,
				content TEXT NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				submitted_at TEXT NOT NULL,
				FOREIGN KEY (dispute_id) REFERENCES disputes(id)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_evidence_dispute ON dispute_evidence(dispute_id)`,

			`CREATE TABLE IF NOT EXISTS dispute_comments (
				seq INTEGER PRIMARY KEY AUTOINCREMENT,
				id TEXT UNIQUE NOT NULL,
				dispute_id TEXT NOT NULL,
				user_id TEXT NOT NULL,
				role TEXT NOT NULL,
				message TEXT NOT NULL,
				is_private INTEGER NOT NULL DEFAULT 0,
				created_at TEXT NOT NULL,
				FOREIGN KEY (dispute_id) REFERENCES disputes(id)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_comments_dispute ON dispute_comments(dispute_id)`,

			`CREATE TABLE IF NOT EXISTS dispute_timeline (
				seq INTEGER PRIMARY KEY AUTOINCREMENT,
				dispute_id TEXT NOT NULL,
				status TEXT NOT NULL,
				message TEXT NOT NULL DEFAULT '',
				actor_id TEXT NOT NULL DEFAULT '',
				timestamp TEXT NOT NULL,
				FOREIGN KEY (dispute_id) REFERENCES disputes(id)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_timeline_dispute ON dispute_timeline(dispute_id)`,
		},
	},
	{
		version:     3,
		description: "role directory, notifications, audit log",
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS users (
				id TEXT PRIMARY KEY,
				role TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_users_role ON users(role)`,

			`CREATE TABLE IF NOT EXISTS notifications (
				seq INTEGER PRIMARY KEY AUTOINCREMENT,
				user_id TEXT NOT NULL,
				kind TEXT NOT NULL,
				title TEXT NOT NULL,
				message TEXT NOT NULL,
				metadata TEXT NOT NULL DEFAULT '{}',
				created_at TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_notifications_user ON notifications(user_id)`,

			`CREATE TABLE IF NOT EXISTS audit_log (
				seq INTEGER PRIMARY KEY AUTOINCREMENT,
				operation TEXT NOT NULL,
				resource_type TEXT NOT NULL,
				resource_id TEXT NOT NULL,
				actor_id TEXT NOT NULL,
				details TEXT NOT NULL DEFAULT '{}',
				recorded_at TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_audit_resource ON audit_log(resource_type, resource_id)`,
		},
	},
}

func migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		description TEXT NOT NULL,
		applied_at TEXT NOT NULL
	)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	var current int
	if err := db.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(version), 0) FROM schema_migrations",
	).Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if err := applyMigration(ctx, db, m); err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.version, m.description, err)
		}
	}
	return nil
}

func applyMigration(ctx context.Context, db *sql.DB, m migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range m.stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec %q: %w", firstLine(stmt), err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO schema_migrations (version, description, applied_at) VALUES (?,?,?)",
		m.version, m.description, formatTime(time.Now()),
	); err != nil {
		return fmt.Errorf("record version: %w", err)
	}
	return tx.Commit()
}

// --- helpers ---

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatNullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

func parseNullableTime(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t := parseTime(ns.String)
	return &t
}

func formatNullableDecimal(d *decimal.Decimal) any {
	if d == nil {
		return nil
	}
	return d.String()
}

func parseNullableDecimal(ns sql.NullString) (*decimal.Decimal, error) {
	if !ns.Valid {
		return nil, nil
	}
	d, err := decimal.NewFromString(ns.String)
	if err != nil {
		return nil, fmt.Errorf("parse decimal %q: %w", ns.String, err)
	}
	return &d, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// isUniqueViolation reports whether err is a SQLite UNIQUE constraint failure.
func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		return se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE ||
			se.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return false
}

// placeholders returns "?,?,?" for n arguments.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?,", n-1) + "?"
}
