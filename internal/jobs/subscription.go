package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/stride-app/stride-api/internal/domain"
	"github.com/stride-app/stride-api/internal/events"
	"github.com/stride-app/stride-api/internal/platform/logger"
	"github.com/stride-app/stride-api/internal/store"
)

// SubscriptionPayload is the notification body for a lapsed subscription.
type SubscriptionPayload struct {
	Status     domain.SubscriptionStatus `json:"status"`
	GraceUntil *time.Time                `json:"grace_until,omitempty"`
}

// SubscriptionCheckHandler advances a lapsed subscription through the
// grace lifecycle: active past its period end enters grace, grace past
// its deadline expires. The domain transition is idempotent, so a
// re-check of an already-advanced subscription writes nothing.
type SubscriptionCheckHandler struct {
	subs    store.SubscriptionStore
	emitter events.EventEmitter
	grace   time.Duration
}

// NewSubscriptionCheckHandler creates a handler for subscription_check jobs.
func NewSubscriptionCheckHandler(subs store.SubscriptionStore, emitter events.EventEmitter, grace time.Duration) *SubscriptionCheckHandler {
	if grace <= 0 {
		grace = domain.DefaultGracePeriod
	}
	return &SubscriptionCheckHandler{subs: subs, emitter: emitter, grace: grace}
}

// Handle implements the Handler interface.
func (h *SubscriptionCheckHandler) Handle(ctx context.Context, job *domain.Job) error {
	log := logger.FromContext(ctx)

	userID, err := entityID(job)
	if err != nil {
		return err
	}

	sub, err := h.subs.GetByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrSubscriptionNotFound) {
			return Permanent(err)
		}
		return fmt.Errorf("failed to load subscription: %w", err)
	}

	if !sub.CheckGrace(time.Now().UTC(), h.grace) {
		log.Debug("subscription unchanged", "user_id", userID, "status", sub.Status)
		return nil
	}

	if err := h.subs.Upsert(ctx, sub); err != nil {
		if errors.Is(err, store.ErrUpdateFailed) {
			// Another writer, typically a renewal, advanced the row
			// after our read. Its transition wins and this check has
			// nothing left to report.
			log.Debug("subscription changed concurrently, check is stale", "user_id", userID)
			return nil
		}
		return fmt.Errorf("failed to save subscription: %w", err)
	}
	log.Info("subscription lapsed", "user_id", userID, "status", sub.Status)

	event, err := events.NewNotificationEvent(events.TypeSubscriptionLapsed, userID, SubscriptionPayload{
		Status:     sub.Status,
		GraceUntil: sub.GraceUntil,
	})
	if err != nil {
		return Permanent(fmt.Errorf("failed to build subscription event: %w", err))
	}
	if err := h.emitter.EmitEvent(ctx, event); err != nil {
		log.Warn("subscription notification failed", "user_id", userID, "error", err)
	}

	return nil
}
