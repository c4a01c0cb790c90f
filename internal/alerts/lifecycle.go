package alerts

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/wakala/tradeguard/internal/domain"
	"github.com/wakala/tradeguard/internal/repository"
	"github.com/wakala/tradeguard/internal/retry"
)

// UpdateStatus moves an alert along new -> under-review -> resolved or
// false-positive. Leaving a terminal status fails with ErrInvalidTransition.
// The check and the write happen in one guarded update, so of two reviewers
// racing on the same alert at most one wins each transition.
func (s *Service) UpdateStatus(ctx context.Context, alertID string, to domain.AlertStatus, note, reviewerID string) (*domain.Alert, error) {
	if !knownAlertStatus(to) {
		return nil, fmt.Errorf("%w: unknown alert status %q", domain.ErrValidation, to)
	}
	if reviewerID == "" {
		return nil, fmt.Errorf("%w: reviewer is required", domain.ErrValidation)
	}

	var updated *domain.Alert
	var from domain.AlertStatus
	err := retry.OnConflict(ctx, s.retry, func(ctx context.Context) error {
		a, err := s.alertRepo.Update(ctx, alertID, func(a *domain.Alert) error {
			from = a.Status
			if a.Status.Terminal() {
				return fmt.Errorf("%w: alert %s is already %s", domain.ErrInvalidTransition, a.ID, a.Status)
			}
			if !a.Status.CanTransition(to) {
				return fmt.Errorf("%w: alert %s cannot move from %s to %s",
					domain.ErrInvalidTransition, a.ID, a.Status, to)
			}
			now := s.now().UTC()
			a.Status = to
			a.ReviewedBy = reviewerID
			a.ReviewedAt = &now
			if to.Terminal() {
				a.Resolution = note
			}
			return nil
		})
		if errors.Is(err, domain.ErrConcurrencyConflict) {
			s.metrics.Conflict("alert")
		}
		updated = a
		return err
	})
	if err != nil {
		return nil, err
	}

	s.metrics.AlertTransition(string(to))
	s.log.Info("alert status changed",
		zap.String("alert_id", alertID),
		zap.String("user_id", updated.UserID),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.String("reviewer", reviewerID))
	s.audit.Record(ctx, "alert.update_status", "alert", alertID, reviewerID, map[string]any{
		"from":       string(from),
		"to":         string(to),
		"resolution": note,
	})
	return updated, nil
}

func (s *Service) GetAlert(ctx context.Context, id string) (*domain.Alert, error) {
	return s.alertRepo.GetByID(ctx, id)
}

func (s *Service) ListAlerts(ctx context.Context, f repository.AlertFilter) ([]domain.Alert, int, error) {
	return s.alertRepo.List(ctx, f)
}

func knownAlertStatus(st domain.AlertStatus) bool {
	switch st {
	case domain.AlertNew, domain.AlertUnderReview, domain.AlertResolved, domain.AlertFalsePositive:
		return true
	}
	return false
}
