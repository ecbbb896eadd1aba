package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// SubscriptionStatus represents the billing state of a user's subscription.
type SubscriptionStatus string

// Possible subscription statuses. A lapsed subscription moves through a
// grace window before it expires: active -> grace -> expired.
const (
	SubscriptionStatusActive  SubscriptionStatus = "active"
	SubscriptionStatusGrace   SubscriptionStatus = "grace"
	SubscriptionStatusExpired SubscriptionStatus = "expired"
)

// DefaultGracePeriod is how long a lapsed subscription keeps its benefits
// before expiring.
const DefaultGracePeriod = 72 * time.Hour

// Subscription-specific validation errors.
var (
	// ErrSubscriptionUserEmpty is returned when a subscription's user ID is empty or nil.
	ErrSubscriptionUserEmpty = errors.New("subscription user ID cannot be empty")
)

// Subscription tracks a user's paid plan and its renewal boundary.
//
// UpdatedAt is owned by the store: it is the row's version, stamped on
// every write and compared on guarded updates. Domain transitions leave
// it alone so the caller's read snapshot survives until the write.
type Subscription struct {
	UserID           uuid.UUID          `json:"user_id"`
	Status           SubscriptionStatus `json:"status"`
	MonthlyCredits   int64              `json:"monthly_credits"`
	CurrentPeriodEnd time.Time          `json:"current_period_end"`
	GraceUntil       *time.Time         `json:"grace_until,omitempty"`
	CreatedAt        time.Time          `json:"created_at"`
	UpdatedAt        time.Time          `json:"updated_at"`
}

// NewSubscription creates an active subscription for the given user.
func NewSubscription(userID uuid.UUID, monthlyCredits int64, periodEnd time.Time) (*Subscription, error) {
	if userID == uuid.Nil {
		return nil, ErrSubscriptionUserEmpty
	}
	if monthlyCredits <= 0 {
		return nil, ErrInvalidAmount
	}

	now := time.Now().UTC()
	return &Subscription{
		UserID:           userID,
		Status:           SubscriptionStatusActive,
		MonthlyCredits:   monthlyCredits,
		CurrentPeriodEnd: periodEnd.UTC(),
		CreatedAt:        now,
		UpdatedAt:        now,
	}, nil
}

// IsValid reports whether the status is one of the known constants.
func (s SubscriptionStatus) IsValid() bool {
	switch s {
	case SubscriptionStatusActive, SubscriptionStatusGrace, SubscriptionStatusExpired:
		return true
	}
	return false
}

// Lapsed reports whether the current period has ended.
func (s *Subscription) Lapsed(now time.Time) bool {
	return now.After(s.CurrentPeriodEnd)
}

// CheckGrace advances a lapsed subscription through the grace lifecycle and
// reports whether anything changed. The transition is idempotent: a
// subscription already in the right state for now is left untouched.
func (s *Subscription) CheckGrace(now time.Time, grace time.Duration) bool {
	now = now.UTC()

	switch s.Status {
	case SubscriptionStatusActive:
		if !s.Lapsed(now) {
			return false
		}
		until := s.CurrentPeriodEnd.Add(grace)
		s.Status = SubscriptionStatusGrace
		s.GraceUntil = &until
		return true

	case SubscriptionStatusGrace:
		if s.GraceUntil == nil || now.Before(*s.GraceUntil) {
			return false
		}
		s.Status = SubscriptionStatusExpired
		return true
	}

	return false
}

// Renew moves the subscription back to active with a new period end.
func (s *Subscription) Renew(periodEnd time.Time) {
	s.Status = SubscriptionStatusActive
	s.CurrentPeriodEnd = periodEnd.UTC()
	s.GraceUntil = nil
}
