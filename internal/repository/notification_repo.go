package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Notification is one entry in a user's inbox.
type Notification struct {
	Seq       int64             `json:"seq"`
	UserID    string            `json:"user_id"`
	Kind      string            `json:"kind"`
	Title     string            `json:"title"`
	Message   string            `json:"message"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// NotificationRepo persists user notifications. Delivery to email or push
// channels reads from here.
type NotificationRepo struct {
	db *sql.DB
}

func NewNotificationRepo(db *sql.DB) *NotificationRepo {
	return &NotificationRepo{db: db}
}

func (r *NotificationRepo) Insert(ctx context.Context, n *Notification) error {
	meta, err := json.Marshal(n.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO notifications (user_id, kind, title, message, metadata, created_at)
		VALUES (?,?,?,?,?,?)`,
		n.UserID, n.Kind, n.Title, n.Message, string(meta), formatTime(n.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	n.Seq, _ = res.LastInsertId()
	return nil
}

func (r *NotificationRepo) ListForUser(ctx context.Context, userID string) ([]Notification, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT seq, user_id, kind, title, message, metadata, created_at
		FROM notifications WHERE user_id = ? ORDER BY seq`, userID)
	if err != nil {
		return nil, fmt.Errorf("query notifications: %w", err)
	}
	defer rows.Close()

	var out []Notification
	for rows.Next() {
		var n Notification
		var meta, createdAt string
		if err := rows.Scan(&n.Seq, &n.UserID, &n.Kind, &n.Title, &n.Message, &meta, &createdAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(meta), &n.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
		n.CreatedAt = parseTime(createdAt)
		out = append(out, n)
	}
	return out, rows.Err()
}
