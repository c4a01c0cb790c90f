// Package disputes drives the dispute workflow: filing, evidence and comment
// threads, status changes, escalation and financial resolution.
package disputes

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/wakala/tradeguard/internal/currency"
	"github.com/wakala/tradeguard/internal/domain"
	"github.com/wakala/tradeguard/internal/metrics"
	"github.com/wakala/tradeguard/internal/repository"
	"github.com/wakala/tradeguard/internal/retry"
)

// Store persists disputes and their append-only threads.
type Store interface {
	Create(ctx context.Context, d *domain.Dispute) error
	Get(ctx context.Context, id string) (*domain.Dispute, error)
	CountAsCounterparty(ctx context.Context, userID string) (int, error)
	List(ctx context.Context, f repository.DisputeFilter) ([]domain.Dispute, int, error)
	Transition(ctx context.Context, id string, t domain.Transition) error
	AppendEvidence(ctx context.Context, e *domain.Evidence, advance *domain.Transition) (bool, error)
	AppendComment(ctx context.Context, c *domain.Comment) error
	ClearTradeSync(ctx context.Context, id string, version int) (bool, error)
	PendingTradeSync(ctx context.Context) ([]string, error)
}

// TradeService is the escrow-backed trade record. The workflow only signals
// status changes on it.
type TradeService interface {
	GetTrade(ctx context.Context, ticketID string) (*domain.Trade, error)
	SetTradeStatus(ctx context.Context, ticketID string, status domain.TradeStatus, extra domain.TradeUpdate) error
}

type RoleDirectory interface {
	GetUsersWithRole(ctx context.Context, role domain.Role) ([]string, error)
}

// Notifier is fire-and-forget.
type Notifier interface {
	Notify(ctx context.Context, userID, kind, title, message string, metadata map[string]string)
}

type Auditor interface {
	Record(ctx context.Context, operation, resourceType, resourceID, actorID string, details map[string]any)
}

// Config holds the thresholds applied when a dispute is filed. Amounts are
// in the converter's base currency.
type Config struct {
	HighPriorityAmount      decimal.Decimal
	MediumPriorityAmount    decimal.Decimal
	HighValueAmount         decimal.Decimal
	RepeatOffenderThreshold int
}

func DefaultConfig() Config {
	return Config{
		HighPriorityAmount:      decimal.NewFromInt(10000),
		MediumPriorityAmount:    decimal.NewFromInt(1000),
		HighValueAmount:         decimal.NewFromInt(5000),
		RepeatOffenderThreshold: 2,
	}
}

type Service struct {
	repo      Store
	trades    TradeService
	roles     RoleDirectory
	notifier  Notifier
	audit     Auditor
	converter *currency.Converter
	cfg       Config
	log       *zap.Logger
	metrics   *metrics.Metrics
	retry     retry.Options
	validate  *validator.Validate
	now       func() time.Time
}

type Deps struct {
	Disputes  Store
	Trades    TradeService
	Roles     RoleDirectory
	Notifier  Notifier
	Audit     Auditor
	Converter *currency.Converter
	Config    Config
	Logger    *zap.Logger
	Metrics   *metrics.Metrics
	Retry     retry.Options
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
		repo:      d.Disputes,
		trades:    d.Trades,
		roles:     d.Roles,
		notifier:  d.Notifier,
		audit:     d.Audit,
		converter: d.Converter,
		cfg:       d.Config,
		log:       log.Named("disputes"),
		metrics:   d.Metrics,
		retry:     r,
		validate:  validator.New(),
		now:       time.Now,
	}
}

// isStaff reports whether the role directory lists userID as admin or
// arbitrator.
func (s *Service) isStaff(ctx context.Context, userID string) (bool, error) {
	if userID == "" {
		return false, nil
	}
	for _, role := range []domain.Role{domain.RoleAdmin, domain.RoleArbitrator} {
		ids, err := s.roles.GetUsersWithRole(ctx, role)
		if err != nil {
			return false, fmt.Errorf("role lookup: %w", err)
		}
		if slices.Contains(ids, userID) {
			return true, nil
		}
	}
	return false, nil
}

func (s *Service) requireStaff(ctx context.Context, actorID, action string) error {
	staff, err := s.isStaff(ctx, actorID)
	if err != nil {
		return err
	}
	if !staff {
		return fmt.Errorf("%w: %s requires an admin or arbitrator, %q is neither",
			domain.ErrUnauthorized, action, actorID)
	}
	return nil
}

// notifyParties sends the same message to both parties of d.
func (s *Service) notifyParties(ctx context.Context, d *domain.Dispute, kind, title, message string) {
	meta := map[string]string{"dispute_id": d.ID, "ticket_id": d.TicketID}
	s.notifier.Notify(ctx, d.UserID, kind, title, message, meta)
	s.notifier.Notify(ctx, d.CounterpartyID, kind, title, message, meta)
}

func (s *Service) stamp() time.Time {
	return s.now().UTC()
}
