package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/wakala/tradeguard/internal/domain"
)

// UserRepo is the role directory.
type UserRepo struct {
	db *sql.DB
}

func NewUserRepo(db *sql.DB) *UserRepo {
	return &UserRepo{db: db}
}

func (r *UserRepo) SetRole(ctx context.Context, userID string, role domain.Role) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, role) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET role = excluded.role`,
		userID, string(role),
	)
	if err != nil {
		return fmt.Errorf("set role: %w", err)
	}
	return nil
}

// GetRole returns the role recorded for userID, or "" when none is.
func (r *UserRepo) GetRole(ctx context.Context, userID string) (domain.Role, error) {
	var role string
	err := r.db.QueryRowContext(ctx, "SELECT role FROM users WHERE id = ?", userID).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get role: %w", err)
	}
	return domain.Role(role), nil
}

func (r *UserRepo) GetUsersWithRole(ctx context.Context, role domain.Role) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT id FROM users WHERE role = ? ORDER BY id", string(role))
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
