package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/stride-app/stride-api/internal/domain"
)

// SubscriptionStore defines the interface for subscription persistence.
type SubscriptionStore interface {
	// Upsert creates the user's subscription row or updates the existing
	// one. The write is guarded by the updated_at snapshot the caller
	// read: if another writer advanced the row first, Upsert returns
	// ErrUpdateFailed and the caller re-reads rather than overwriting the
	// concurrent transition.
	Upsert(ctx context.Context, sub *domain.Subscription) error

	// GetByUserID retrieves a user's subscription.
	// Returns ErrSubscriptionNotFound if the user has none.
	GetByUserID(ctx context.Context, userID uuid.UUID) (*domain.Subscription, error)

	// ListLapsed returns subscriptions whose current period ended at or
	// before now and which are not yet expired.
	ListLapsed(ctx context.Context, now time.Time) ([]*domain.Subscription, error)
}
