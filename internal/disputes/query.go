package disputes

import (
	"context"
	"fmt"

	"github.com/wakala/tradeguard/internal/domain"
	"github.com/wakala/tradeguard/internal/repository"
)

// GetDispute returns the dispute as viewerID may see it. Parties see
// private comments only if they wrote them; staff see everything.
func (s *Service) GetDispute(ctx context.Context, disputeID, viewerID string) (*domain.Dispute, error) {
	d, err := s.repo.Get(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	staff, err := s.isStaff(ctx, viewerID)
	if err != nil {
		return nil, err
	}
	if staff {
		return d, nil
	}
	if !d.IsParty(viewerID) {
		return nil, fmt.Errorf("%w: %q is not a party to dispute %s", domain.ErrUnauthorized, viewerID, disputeID)
	}

	visible := d.Comments[:0]
	for _, c := range d.Comments {
		if !c.IsPrivate || c.UserID == viewerID {
			visible = append(visible, c)
		}
	}
	d.Comments = visible
	return d, nil
}

// ListDisputes returns dispute headers. Non-staff viewers only see their own
// disputes regardless of the filter's user.
func (s *Service) ListDisputes(ctx context.Context, viewerID string, f repository.DisputeFilter) ([]domain.Dispute, int, error) {
	staff, err := s.isStaff(ctx, viewerID)
	if err != nil {
		return nil, 0, err
	}
	if !staff {
		if viewerID == "" {
			return nil, 0, fmt.Errorf("%w: viewer is required", domain.ErrUnauthorized)
		}
		f.UserID = viewerID
	}
	return s.repo.List(ctx, f)
}
