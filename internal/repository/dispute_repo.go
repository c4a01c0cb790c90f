package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/wakala/tradeguard/internal/domain"
)

// DisputeRepo persists disputes. Status changes are guarded by version;
// evidence, comments and timeline entries are append-only rows so concurrent
// writers never overwrite each other.
type DisputeRepo struct {
	db  *sql.DB
	now func() time.Time
}

func NewDisputeRepo(db *sql.DB) *DisputeRepo {
	return &DisputeRepo{db: db, now: time.Now}
}

const disputeColumns = `id, ticket_id, user_id, counterparty_id, reason, description, status,
	priority, flags, escalated_to_arbitration, escalated_at, decision, resolution_reason,
	resolved_by, resolved_at, buyer_refund_amount, seller_payment_amount, additional_notes,
	trade_sync_pending, version, created_at, updated_at`

// Create stores a new dispute together with its initial timeline and
// evidence. A second non-terminal dispute for the same ticket fails with
// ErrDuplicateDispute.
func (r *DisputeRepo) Create(ctx context.Context, d *domain.Dispute) error {
	if d.Version == 0 {
		d.Version = 1
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO disputes (`+disputeColumns+`)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		disputeArgs(d)...,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: ticket %s already has an open dispute", domain.ErrDuplicateDispute, d.TicketID)
	}
	if err != nil {
		return fmt.Errorf("insert dispute: %w", err)
	}

	for i := range d.Timeline {
		if err := insertTimeline(ctx, tx, d.ID, &d.Timeline[i]); err != nil {
			return err
		}
	}
	for i := range d.Evidence {
		if err := insertEvidence(ctx, tx, &d.Evidence[i]); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Get loads the dispute with its evidence, comments and timeline in
// insertion order.
func (r *DisputeRepo) Get(ctx context.Context, id string) (*domain.Dispute, error) {
	d, err := getDispute(ctx, r.db, id)
	if err != nil {
		return nil, err
	}

	if d.Evidence, err = r.evidence(ctx, id); err != nil {
		return nil, err
	}
	if d.Comments, err = r.comments(ctx, id); err != nil {
		return nil, err
	}
	if d.Timeline, err = r.timeline(ctx, id); err != nil {
		return nil, err
	}
	return d, nil
}

// CountAsCounterparty returns how many disputes name userID as counterparty.
func (r *DisputeRepo) CountAsCounterparty(ctx context.Context, userID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM disputes WHERE counterparty_id = ?", userID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count disputes: %w", err)
	}
	return n, nil
}

type DisputeFilter struct {
	// UserID matches either party.
	UserID   string
	Status   string
	TicketID string
	Page     int
	Limit    int
}

// List returns dispute headers without their logs, newest first.
func (r *DisputeRepo) List(ctx context.Context, f DisputeFilter) ([]domain.Dispute, int, error) {
	where, args := buildDisputeWhere(f)

	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM disputes"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count: %w", err)
	}

	limit, offset := pageBounds(f.Page, f.Limit)
	args = append(args, limit, offset)
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+disputeColumns+" FROM disputes"+where+" ORDER BY created_at DESC, id LIMIT ? OFFSET ?",
		args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query disputes: %w", err)
	}
	defer rows.Close()

	var out []domain.Dispute
	for rows.Next() {
		d, err := scanDispute(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan dispute: %w", err)
		}
		out = append(out, *d)
	}
	return out, total, rows.Err()
}

// Transition commits a status change and its timeline entry. The write only
// applies if the dispute is still at t.From and t.ExpectedVersion; otherwise
// it fails with ErrConcurrencyConflict.
func (r *DisputeRepo) Transition(ctx context.Context, id string, t domain.Transition) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if err := applyTransition(ctx, tx, id, t, r.now()); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// AppendEvidence adds e while the dispute still accepts evidence. When
// advance is set and the dispute sits at advance.From, the status change is
// committed with the evidence. It reports whether the dispute advanced.
func (r *DisputeRepo) AppendEvidence(ctx context.Context, e *domain.Evidence, advance *domain.Transition) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	status, version, err := disputeState(ctx, tx, e.DisputeID)
	if err != nil {
		return false, err
	}
	if !slices.Contains(domain.EvidenceStatuses, status) {
		return false, fmt.Errorf("%w: dispute %s is %s and no longer accepts evidence",
			domain.ErrInvalidState, e.DisputeID, status)
	}

	if err := insertEvidence(ctx, tx, e); err != nil {
		return false, err
	}

	advanced := false
	if advance != nil && advance.From == status {
		t := *advance
		t.ExpectedVersion = version
		if err := applyTransition(ctx, tx, e.DisputeID, t, r.now()); err != nil {
			return false, err
		}
		advanced = true
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return advanced, nil
}

// AppendComment adds c unless the dispute has reached a terminal state.
func (r *DisputeRepo) AppendComment(ctx context.Context, c *domain.Comment) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	status, _, err := disputeState(ctx, tx, c.DisputeID)
	if err != nil {
		return err
	}
	if status.Terminal() {
		return fmt.Errorf("%w: dispute %s is %s", domain.ErrInvalidState, c.DisputeID, status)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO dispute_comments (id, dispute_id, user_id, role, message, is_private, created_at)
		VALUES (?,?,?,?,?,?,?)`,
		c.ID, c.DisputeID, c.UserID, string(c.Role), c.Message, boolToInt(c.IsPrivate),
		formatTime(c.CreatedAt),
	); err != nil {
		return fmt.Errorf("insert comment: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// ClearTradeSync drops the pending trade-sync marker if the dispute is still
// at version. A newer commit keeps the marker for its own sync.
func (r *DisputeRepo) ClearTradeSync(ctx context.Context, id string, version int) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		"UPDATE disputes SET trade_sync_pending = 0 WHERE id = ? AND version = ?", id, version)
	if err != nil {
		return false, fmt.Errorf("clear trade sync: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// PendingTradeSync lists disputes whose trade may not reflect their status.
func (r *DisputeRepo) PendingTradeSync(ctx context.Context) ([]string, error) {
	return r.ids(ctx, "SELECT id FROM disputes WHERE trade_sync_pending = 1 ORDER BY updated_at, id")
}

// TimelineMismatch is a dispute whose status differs from its last timeline
// entry.
type TimelineMismatch struct {
	DisputeID      string               `json:"dispute_id"`
	Status         domain.DisputeStatus `json:"status"`
	TimelineStatus domain.DisputeStatus `json:"timeline_status"`
}

func (r *DisputeRepo) TimelineMismatches(ctx context.Context) ([]TimelineMismatch, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT d.id, d.status, COALESCE(t.status, '')
		FROM disputes d
		LEFT JOIN dispute_timeline t ON t.seq = (
			SELECT MAX(seq) FROM dispute_timeline WHERE dispute_id = d.id
		)
		WHERE t.status IS NULL OR t.status != d.status
		ORDER BY d.id`)
	if err != nil {
		return nil, fmt.Errorf("query timeline mismatches: %w", err)
	}
	defer rows.Close()

	var out []TimelineMismatch
	for rows.Next() {
		var m TimelineMismatch
		var status, last string
		if err := rows.Scan(&m.DisputeID, &status, &last); err != nil {
			return nil, err
		}
		m.Status = domain.DisputeStatus(status)
		m.TimelineStatus = domain.DisputeStatus(last)
		out = append(out, m)
	}
	return out, rows.Err()
}

// --- helpers ---

func applyTransition(ctx context.Context, q querier, id string, t domain.Transition, now time.Time) error {
	sets := []string{"status = ?", "version = version + 1", "updated_at = ?"}
	args := []any{string(t.To), formatTime(now)}

	if t.EscalatedAt != nil {
		sets = append(sets, "escalated_to_arbitration = 1", "escalated_at = ?")
		args = append(args, formatTime(*t.EscalatedAt))
	}
	if res := t.Resolution; res != nil {
		sets = append(sets,
			"decision = ?", "resolution_reason = ?", "resolved_by = ?", "resolved_at = ?",
			"buyer_refund_amount = ?", "seller_payment_amount = ?", "additional_notes = ?")
		args = append(args,
			string(res.Decision), res.Reason, res.ResolvedBy, formatTime(res.ResolvedAt),
			formatNullableDecimal(res.BuyerRefundAmount), formatNullableDecimal(res.SellerPaymentAmount),
			res.AdditionalNotes)
	}
	if t.TradeSync {
		sets = append(sets, "trade_sync_pending = 1")
	}
	args = append(args, id, string(t.From), t.ExpectedVersion)

	res, err := q.ExecContext(ctx,
		"UPDATE disputes SET "+strings.Join(sets, ", ")+" WHERE id = ? AND status = ? AND version = ?",
		args...)
	if err != nil {
		return fmt.Errorf("update dispute: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, _, err := disputeState(ctx, q, id); err != nil {
			return err
		}
		return fmt.Errorf("%w: dispute %s changed since version %d",
			domain.ErrConcurrencyConflict, id, t.ExpectedVersion)
	}

	entry := t.Entry
	entry.Status = t.To
	if entry.Timestamp.IsZero() {
		entry.Timestamp = now
	}
	return insertTimeline(ctx, q, id, &entry)
}

func disputeState(ctx context.Context, q querier, id string) (domain.DisputeStatus, int, error) {
	var status string
	var version int
	err := q.QueryRowContext(ctx, "SELECT status, version FROM disputes WHERE id = ?", id).
		Scan(&status, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return "", 0, fmt.Errorf("%w: dispute %s", domain.ErrNotFound, id)
	}
	if err != nil {
		return "", 0, fmt.Errorf("read dispute state: %w", err)
	}
	return domain.DisputeStatus(status), version, nil
}

func insertTimeline(ctx context.Context, q querier, disputeID string, e *domain.TimelineEntry) error {
	res, err := q.ExecContext(ctx,
		"INSERT INTO dispute_timeline (dispute_id, status, message, actor_id, timestamp) VALUES (?,?,?,?,?)",
		disputeID, string(e.Status), e.Message, e.ActorID, formatTime(e.Timestamp),
	)
	if err != nil {
		return fmt.Errorf("insert timeline: %w", err)
	}
	e.Seq, _ = res.LastInsertId()
	return nil
}

func insertEvidence(ctx context.Context, q querier, e *domain.Evidence) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO dispute_evidence (id, dispute_id, user_id, type, content, description, submitted_at)
		VALUES (?,?,?,?,?,?,?)`,
		e.ID, e.DisputeID, e.UserID, string(e.Type), e.Content, e.Description, formatTime(e.SubmittedAt),
	)
	if err != nil {
		return fmt.Errorf("insert evidence: %w", err)
	}
	return nil
}

func getDispute(ctx context.Context, q querier, id string) (*domain.Dispute, error) {
	row := q.QueryRowContext(ctx, "SELECT "+disputeColumns+" FROM disputes WHERE id = ?", id)
	d, err := scanDispute(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: dispute %s", domain.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get dispute: %w", err)
	}
	return d, nil
}

func (r *DisputeRepo) evidence(ctx context.Context, disputeID string) ([]domain.Evidence, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, dispute_id, user_id, type, content, description, submitted_at
		FROM dispute_evidence WHERE dispute_id = ? ORDER BY seq`, disputeID)
	if err != nil {
		return nil, fmt.Errorf("query evidence: %w", err)
	}
	defer rows.Close()

	out := []domain.Evidence{}
	for rows.Next() {
		var e domain.Evidence
		var typ, submittedAt string
		if err := rows.Scan(&e.ID, &e.DisputeID, &e.UserID, &typ, &e.Content, &e.Description, &submittedAt); err != nil {
			return nil, err
		}
		e.Type = domain.EvidenceType(typ)
		e.SubmittedAt = parseTime(submittedAt)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *DisputeRepo) comments(ctx context.Context, disputeID string) ([]domain.Comment, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, dispute_id, user_id, role, message, is_private, created_at
		FROM dispute_comments WHERE dispute_id = ? ORDER BY seq`, disputeID)
	if err != nil {
		return nil, fmt.Errorf("query comments: %w", err)
	}
	defer rows.Close()

	out := []domain.Comment{}
	for rows.Next() {
		var c domain.Comment
		var role, createdAt string
		var private int
		if err := rows.Scan(&c.ID, &c.DisputeID, &c.UserID, &role, &c.Message, &private, &createdAt); err != nil {
			return nil, err
		}
		c.Role = domain.Role(role)
		c.IsPrivate = private == 1
		c.CreatedAt = parseTime(createdAt)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *DisputeRepo) timeline(ctx context.Context, disputeID string) ([]domain.TimelineEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT seq, status, message, actor_id, timestamp
		FROM dispute_timeline WHERE dispute_id = ? ORDER BY seq`, disputeID)
	if err != nil {
		return nil, fmt.Errorf("query timeline: %w", err)
	}
	defer rows.Close()

	out := []domain.TimelineEntry{}
	for rows.Next() {
		var e domain.TimelineEntry
		var status, ts string
		if err := rows.Scan(&e.Seq, &status, &e.Message, &e.ActorID, &ts); err != nil {
			return nil, err
		}
		e.Status = domain.DisputeStatus(status)
		e.Timestamp = parseTime(ts)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *DisputeRepo) ids(ctx context.Context, q string, args ...any) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query ids: %w", err)
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

func buildDisputeWhere(f DisputeFilter) (string, []any) {
	var clauses []string
	var args []any

	if f.UserID != "" {
		clauses = append(clauses, "(user_id = ? OR counterparty_id = ?)")
		args = append(args, f.UserID, f.UserID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, f.Status)
	}
	if f.TicketID != "" {
		clauses = append(clauses, "ticket_id = ?")
		args = append(args, f.TicketID)
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func disputeArgs(d *domain.Dispute) []any {
	flags := make([]string, len(d.Flags))
	for i, f := range d.Flags {
		flags[i] = string(f)
	}

	var decision, reason, resolvedBy, notes string
	var resolvedAt *time.Time
	var refund, payment any
	if res := d.Resolution; res != nil {
		decision, reason, resolvedBy, notes = string(res.Decision), res.Reason, res.ResolvedBy, res.AdditionalNotes
		resolvedAt = &res.ResolvedAt
		refund = formatNullableDecimal(res.BuyerRefundAmount)
		payment = formatNullableDecimal(res.SellerPaymentAmount)
	}

	return []any{
		d.ID, d.TicketID, d.UserID, d.CounterpartyID, d.Reason, d.Description, string(d.Status),
		string(d.Priority), strings.Join(flags, ","), boolToInt(d.EscalatedToArbitration),
		formatNullableTime(d.EscalatedAt), decision, reason, resolvedBy, formatNullableTime(resolvedAt),
		refund, payment, notes, boolToInt(d.TradeSyncPending), d.Version,
		formatTime(d.CreatedAt), formatTime(d.UpdatedAt),
	}
}

func scanDispute(s scanner) (*domain.Dispute, error) {
	var d domain.Dispute
	var status, priority, flags, decision, reason, resolvedBy, notes, createdAt, updatedAt string
	var escalated, syncPending int
	var escalatedAt, resolvedAt, refund, payment sql.NullString

	err := s.Scan(
		&d.ID, &d.TicketID, &d.UserID, &d.CounterpartyID, &d.Reason, &d.Description, &status,
		&priority, &flags, &escalated, &escalatedAt, &decision, &reason,
		&resolvedBy, &resolvedAt, &refund, &payment, &notes,
		&syncPending, &d.Version, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	d.Status = domain.DisputeStatus(status)
	d.Priority = domain.Priority(priority)
	d.Flags = []domain.DisputeFlag{}
	if flags != "" {
		for _, f := range strings.Split(flags, ",") {
			d.Flags = append(d.Flags, domain.DisputeFlag(f))
		}
	}
	d.EscalatedToArbitration = escalated == 1
	d.EscalatedAt = parseNullableTime(escalatedAt)
	d.TradeSyncPending = syncPending == 1
	d.CreatedAt = parseTime(createdAt)
	d.UpdatedAt = parseTime(updatedAt)

	if at := parseNullableTime(resolvedAt); at != nil {
		res := &domain.DisputeResolution{
			Decision:        domain.Decision(decision),
			Reason:          reason,
			ResolvedBy:      resolvedBy,
			ResolvedAt:      *at,
			AdditionalNotes: notes,
		}
		if res.BuyerRefundAmount, err = parseNullableDecimal(refund); err != nil {
			return nil, err
		}
		if res.SellerPaymentAmount, err = parseNullableDecimal(payment); err != nil {
			return nil, err
		}
		d.Resolution = res
	}
	return &d, nil
}
