package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// AuditEntry is one compliance record of a state-changing operation.
type AuditEntry struct {
	Seq          int64          `json:"seq"`
	Operation    string         `json:"operation"`
	ResourceType string         `json:"resource_type"`
	ResourceID   string         `json:"resource_id"`
	ActorID      string         `json:"actor_id"`
	Details      map[string]any `json:"details,omitempty"`
	RecordedAt   time.Time      `json:"recorded_at"`
}

// AuditRepo is an append-only audit log.
type AuditRepo struct {
	db *sql.DB
}

func NewAuditRepo(db *sql.DB) *AuditRepo {
	return &AuditRepo{db: db}
}

func (r *AuditRepo) Append(ctx context.Context, e *AuditEntry) error {
	details, err := json.Marshal(e.Details)
	if err != nil {
		return fmt.Errorf("marshal details: %w", err)
	}
	if e.RecordedAt.IsZero() {
		e.RecordedAt = time.Now()
	}
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO audit_log (operation, resource_type, resource_id, actor_id, details, recorded_at)
		VALUES (?,?,?,?,?,?)`,
		e.Operation, e.ResourceType, e.ResourceID, e.ActorID, string(details), formatTime(e.RecordedAt),
	)
	if err != nil {
		return fmt.Errorf("append audit: %w", err)
	}
	e.Seq, _ = res.LastInsertId()
	return nil
}

func (r *AuditRepo) ListForResource(ctx context.Context, resourceType, resourceID string) ([]AuditEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT seq, operation, resource_type, resource_id, actor_id, details, recorded_at
		FROM audit_log WHERE resource_type = ? AND resource_id = ? ORDER BY seq`,
		resourceType, resourceID)
	if err != nil {
		return nil, fmt.Errorf("query audit: %w", err)
	}
	defer rows.Close()

	var out []AuditEntry
	for rows.Next() {
		var e AuditEntry
		var details, recordedAt string
		if err := rows.Scan(&e.Seq, &e.Operation, &e.ResourceType, &e.ResourceID,
			&e.ActorID, &details, &recordedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(details), &e.Details); err != nil {
			return nil, fmt.Errorf("decode details: %w", err)
		}
		e.RecordedAt = parseTime(recordedAt)
		out = append(out, e)
	}
	return out, rows.Err()
}
