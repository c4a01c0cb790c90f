package alerts

import (
	"context"

	"github.com/wakala/tradeguard/internal/domain"
)

// ComputeStatus derives the user's trading status from their open alerts
// and flag record. It only reads.
func (s *Service) ComputeStatus(ctx context.Context, userID string) (domain.TradingStatus, error) {
	open, err := s.alertRepo.OpenForUser(ctx, userID)
	if err != nil {
		return domain.TradingStatus{}, err
	}
	flag, err := s.flagRepo.Get(ctx, userID)
	if err != nil {
		return domain.TradingStatus{}, err
	}
	return Aggregate(userID, open, flag), nil
}

// Aggregate is the pure projection behind ComputeStatus. Alerts that are not
// open are ignored. The reason is the flag reason when flagged, else the
// rule name of the most severe open alert, latest detection first.
func Aggregate(userID string, alerts []domain.Alert, flag *domain.UserFlag) domain.TradingStatus {
	st := domain.TradingStatus{UserID: userID, Status: domain.TradingNormal}

	var top *domain.Alert
	for i := range alerts {
		a := &alerts[i]
		if !a.Status.Open() {
			continue
		}
		st.Alerts++
		if a.Severity.Restricting() {
			st.CriticalAlerts++
		}
		if top == nil || outranks(a, top) {
			top = a
		}
	}

	if flag != nil {
		st.IsFlagged = true
		st.Reason = flag.Reason
	} else if top != nil {
		st.Reason = top.RuleName
	}
	if st.CriticalAlerts > 0 || st.IsFlagged {
		st.Status = domain.TradingRestricted
	}
	return st
}

func outranks(a, b *domain.Alert) bool {
	if ra, rb := a.Severity.Rank(), b.Severity.Rank(); ra != rb {
		return ra > rb
	}
	if !a.DetectedAt.Equal(b.DetectedAt) {
		return a.DetectedAt.After(b.DetectedAt)
	}
	return a.ID < b.ID
}
