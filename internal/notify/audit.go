package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/wakala/tradeguard/internal/metrics"
	"github.com/wakala/tradeguard/internal/repository"
)

// AuditStore appends an audit entry.
type AuditStore interface {
	Append(ctx context.Context, e *repository.AuditEntry) error
}

// Auditor records state changes after they commit. Failures are logged and
// counted, never returned.
type Auditor struct {
	store   AuditStore
	log     *zap.Logger
	metrics *metrics.Metrics
}

func NewAuditor(store AuditStore, log *zap.Logger, m *metrics.Metrics) *Auditor {
	return &Auditor{store: store, log: log.Named("audit"), metrics: m}
}

func (a *Auditor) Record(ctx context.Context, operation, resourceType, resourceID, actorID string, details map[string]any) {
	// The triggering request may already be cancelled; the record must still land.
	ctx = context.WithoutCancel(ctx)
	err := a.store.Append(ctx, &repository.AuditEntry{
		Operation:    operation,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		ActorID:      actorID,
		Details:      details,
	})
	if err != nil {
		a.log.Warn("record audit entry",
			zap.String("operation", operation),
			zap.String("resource_type", resourceType),
			zap.String("resource_id", resourceID),
			zap.Error(err))
		a.metrics.SinkFailure("audit")
	}
}
