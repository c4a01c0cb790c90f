// Package alerts screens transactions into alerts and drives the alert
// lifecycle and the per-user trading status derived from it.
package alerts

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/wakala/tradeguard/internal/metrics"
	"github.com/wakala/tradeguard/internal/repository"
	"github.com/wakala/tradeguard/internal/retry"
	"github.com/wakala/tradeguard/internal/rules"
)

// Auditor records committed state changes. Implementations must not fail
// the caller.
type Auditor interface {
	Record(ctx context.Context, operation, resourceType, resourceID, actorID string, details map[string]any)
}

type Service struct {
	ruleRepo  *repository.RuleRepo
	txnRepo   *repository.TransactionRepo
	alertRepo *repository.AlertRepo
	flagRepo  *repository.FlagRepo
	engine    *rules.Engine
	audit     Auditor
	log       *zap.Logger
	metrics   *metrics.Metrics
	retry     retry.Options
	validate  *validator.Validate
	now       func() time.Time
}

type Deps struct {
	Rules        *repository.RuleRepo
	Transactions *repository.TransactionRepo
	Alerts       *repository.AlertRepo
	Flags        *repository.FlagRepo
	Engine       *rules.Engine
	Audit        Auditor
	Logger       *zap.Logger
	Metrics      *metrics.Metrics
	Retry        retry.Options
}

func NewService(d Deps) *Service {
	log := d.Logger
	if log == nil {
		log = zap.NewNop()
	}
	r := d.Retry
	if r.Logger == nil {
		r.Logger = log
	}
	return &Service{
		ruleRepo:  d.Rules,
		txnRepo:   d.Transactions,
		alertRepo: d.Alerts,
		flagRepo:  d.Flags,
		engine:    d.Engine,
		audit:     d.Audit,
		log:       log.Named("alerts"),
		metrics:   d.Metrics,
		retry:     r,
		validate:  validator.New(),
		now:       time.Now,
	}
}
