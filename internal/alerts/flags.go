package alerts

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/wakala/tradeguard/internal/domain"
)

// FlagUser places an explicit restriction on userID, replacing any earlier
// flag.
func (s *Service) FlagUser(ctx context.Context, userID, reason, actorID string) (*domain.UserFlag, error) {
	if userID == "" || reason == "" {
		return nil, fmt.Errorf("%w: user and reason are required", domain.ErrValidation)
	}
	f := &domain.UserFlag{UserID: userID, Reason: reason, FlaggedBy: actorID, FlaggedAt: s.now()}
	if err := s.flagRepo.Set(ctx, f); err != nil {
		return nil, err
	}
	s.log.Info("user flagged", zap.String("user_id", userID), zap.String("actor", actorID))
	s.audit.Record(ctx, "user.flag", "user", userID, actorID, map[string]any{"reason": reason})
	return f, nil
}

// UnflagUser lifts the explicit restriction. Open alerts may still restrict.
func (s *Service) UnflagUser(ctx context.Context, userID, actorID string) error {
	if err := s.flagRepo.Clear(ctx, userID); err != nil {
		return err
	}
	s.log.Info("user unflagged", zap.String("user_id", userID), zap.String("actor", actorID))
	s.audit.Record(ctx, "user.unflag", "user", userID, actorID, nil)
	return nil
}
