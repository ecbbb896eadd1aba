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

// DefaultStreakWindow bounds how far back the streak calculation reads
// completions. Streaks longer than this are reported at the window size.
const DefaultStreakWindow = 365 * 24 * time.Hour

// StreakPayload is the notification body for a streak update.
type StreakPayload struct {
	Streak int `json:"streak"`
}

// StreakHandler recalculates a user's consecutive-day completion streak
// from their instance history. The calculation is a pure function of the
// completions, so re-running it converges on the same value.
type StreakHandler struct {
	templates store.TemplateStore
	emitter   events.EventEmitter
	window    time.Duration
}

// NewStreakHandler creates a handler for streak_calculate jobs.
func NewStreakHandler(templates store.TemplateStore, emitter events.EventEmitter, window time.Duration) *StreakHandler {
	if window <= 0 {
		window = DefaultStreakWindow
	}
	return &StreakHandler{templates: templates, emitter: emitter, window: window}
}

// Handle implements the Handler interface.
func (h *StreakHandler) Handle(ctx context.Context, job *domain.Job) error {
	log := logger.FromContext(ctx)

	ownerID, err := entityID(job)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	completions, err := h.templates.ListCompletions(ctx, ownerID, now.Add(-h.window))
	if err != nil {
		return fmt.Errorf("failed to list completions: %w", err)
	}

	streak := domain.CalculateStreak(completions, now)
	log.Debug("streak calculated", "owner_id", ownerID, "streak", streak)

	event, err := events.NewNotificationEvent(events.TypeStreakUpdated, ownerID, StreakPayload{Streak: streak})
	if err != nil {
		return Permanent(fmt.Errorf("failed to build streak event: %w", err))
	}
	if err := h.emitter.EmitEvent(ctx, event); err != nil {
		log.Warn("streak notification failed", "owner_id", ownerID, "error", err)
	}

	return nil
}
