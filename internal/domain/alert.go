package domain

import "time"

type AlertStatus string

const (
	AlertNew           AlertStatus = "new"
	AlertUnderReview   AlertStatus = "under-review"
	AlertResolved      AlertStatus = "resolved"
	AlertFalsePositive AlertStatus = "false-positive"
)

// Terminal reports whether no further transition is allowed.
func (s AlertStatus) Terminal() bool {
	return s == AlertResolved || s == AlertFalsePositive
}

// Open reports whether the alert still counts toward a user's trading status.
func (s AlertStatus) Open() bool {
	return s == AlertNew || s == AlertUnderReview
}

var alertTransitions = map[AlertStatus][]AlertStatus{
	AlertNew:         {AlertUnderReview, AlertResolved, AlertFalsePositive},
	AlertUnderReview: {AlertResolved, AlertFalsePositive},
}

// CanTransition reports whether from -> to is a legal alert transition.
func (s AlertStatus) CanTransition(to AlertStatus) bool {
	for _, next := range alertTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Alert records a transaction set that matched a monitoring rule.
// RuleName is copied from the rule at creation and never changes.
type Alert struct {
	ID           string      `json:"id"`
	UserID       string      `json:"user_id"`
	RuleID       string      `json:"rule_id"`
	RuleName     string      `json:"rule_name"`
	Severity     Severity    `json:"severity"`
	Transactions []string    `json:"transactions"`
	DetectedAt   time.Time   `json:"detected_at"`
	Status       AlertStatus `json:"status"`
	Resolution   string      `json:"resolution,omitempty"`
	ReviewedBy   string      `json:"reviewed_by,omitempty"`
	ReviewedAt   *time.Time  `json:"reviewed_at,omitempty"`
	Version      int         `json:"version"`
}

// UserFlag is an out-of-band restriction placed on a user by an operator.
type UserFlag struct {
	UserID    string    `json:"user_id"`
	Reason    string    `json:"reason"`
	FlaggedBy string    `json:"flagged_by"`
	FlaggedAt time.Time `json:"flagged_at"`
}

type TradingState string

const (
	TradingNormal     TradingState = "normal"
	TradingRestricted TradingState = "restricted"
)

// TradingStatus is derived from a user's open alerts and flag record.
type TradingStatus struct {
	UserID         string       `json:"user_id"`
	Status         TradingState `json:"status"`
	Alerts         int          `json:"alerts"`
	CriticalAlerts int          `json:"critical_alerts"`
	IsFlagged      bool         `json:"is_flagged"`
	Reason         string       `json:"reason,omitempty"`
}

// Restricted is a convenience for Status == TradingRestricted.
func (t TradingStatus) Restricted() bool {
	return t.Status == TradingRestricted
}
