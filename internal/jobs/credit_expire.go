package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/stride-app/stride-api/internal/domain"
	"github.com/stride-app/stride-api/internal/events"
	"github.com/stride-app/stride-api/internal/platform/logger"
	"github.com/stride-app/stride-api/internal/store"
)

// CreditExpireHandler runs the global expiration sweep over the credit
// ledger. The sweep is idempotent: grants already neutralized are
// skipped, so an overlapping or repeated run changes nothing.
type CreditExpireHandler struct {
	ledger  store.LedgerStore
	emitter events.EventEmitter
}

// NewCreditExpireHandler creates a handler for credit_expire jobs.
func NewCreditExpireHandler(ledger store.LedgerStore, emitter events.EventEmitter) *CreditExpireHandler {
	return &CreditExpireHandler{ledger: ledger, emitter: emitter}
}

// Handle implements the Handler interface.
func (h *CreditExpireHandler) Handle(ctx context.Context, job *domain.Job) error {
	log := logger.FromContext(ctx)

	result, err := h.ledger.ExpireDue(ctx, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("expiration sweep failed: %w", err)
	}

	for _, userID := range result.UserIDs {
		event, err := events.NewNotificationEvent(events.TypeCreditsExpired, userID, nil)
		if err != nil {
			continue
		}
		if err := h.emitter.EmitEvent(ctx, event); err != nil {
			log.Warn("credit expiry notification failed", "user_id", userID, "error", err)
		}
	}

	log.Info("expiration sweep finished", "expired_grants", result.Expired, "users", len(result.UserIDs))
	return nil
}
