package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/wakala/tradeguard/internal/domain"
)

// FlagRepo stores explicit per-user restriction flags.
type FlagRepo struct {
	db *sql.DB
}

func NewFlagRepo(db *sql.DB) *FlagRepo {
	return &FlagRepo{db: db}
}

func (r *FlagRepo) Set(ctx context.Context, f *domain.UserFlag) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO user_flags (user_id, reason, flagged_by, flagged_at) VALUES (?,?,?,?)
		ON CONFLICT(user_id) DO UPDATE SET
			reason = excluded.reason,
			flagged_by = excluded.flagged_by,
			flagged_at = excluded.flagged_at`,
		f.UserID, f.Reason, f.FlaggedBy, formatTime(f.FlaggedAt),
	)
	if err != nil {
		return fmt.Errorf("set flag: %w", err)
	}
	return nil
}

func (r *FlagRepo) Clear(ctx context.Context, userID string) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM user_flags WHERE user_id = ?", userID)
	if err != nil {
		return fmt.Errorf("clear flag: %w", err)
	}
	return requireAffected(res, "flag for user", userID)
}

// Get returns the user's flag, or nil when none is set.
func (r *FlagRepo) Get(ctx context.Context, userID string) (*domain.UserFlag, error) {
	var f domain.UserFlag
	var flaggedAt string
	err := r.db.QueryRowContext(ctx,
		"SELECT user_id, reason, flagged_by, flagged_at FROM user_flags WHERE user_id = ?", userID,
	).Scan(&f.UserID, &f.Reason, &f.FlaggedBy, &flaggedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get flag: %w", err)
	}
	f.FlaggedAt = parseTime(flaggedAt)
	return &f, nil
}
