package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/stride-app/stride-api/internal/domain"
	"github.com/stride-app/stride-api/internal/events"
	"github.com/stride-app/stride-api/internal/platform/logger"
	"github.com/stride-app/stride-api/internal/store"
)

// ReminderPayload is the notification body for a due-task reminder.
type ReminderPayload struct {
	InstanceID uuid.UUID `json:"instance_id"`
	Title      string    `json:"title"`
	DueAt      time.Time `json:"due_at"`
}

// ReminderHandler delivers the reminder for a task instance whose due
// time has arrived. Re-runs are harmless: a completed or vanished
// instance is simply skipped.
type ReminderHandler struct {
	templates store.TemplateStore
	emitter   events.EventEmitter
}

// NewReminderHandler creates a handler for reminder_fire jobs.
func NewReminderHandler(templates store.TemplateStore, emitter events.EventEmitter) *ReminderHandler {
	return &ReminderHandler{templates: templates, emitter: emitter}
}

// Handle implements the Handler interface.
func (h *ReminderHandler) Handle(ctx context.Context, job *domain.Job) error {
	log := logger.FromContext(ctx)

	instanceID, err := entityID(job)
	if err != nil {
		return err
	}

	instance, err := h.templates.GetInstance(ctx, instanceID)
	if err != nil {
		if errors.Is(err, store.ErrInstanceNotFound) {
			// The instance was deleted between enqueue and execution.
			return Permanent(err)
		}
		return fmt.Errorf("failed to load task instance: %w", err)
	}

	if instance.IsCompleted() {
		log.Debug("skipping reminder for completed instance", "instance_id", instanceID)
		return nil
	}

	event, err := events.NewNotificationEvent(events.TypeReminderDue, instance.OwnerID, ReminderPayload{
		InstanceID: instance.ID,
		Title:      instance.Title,
		DueAt:      instance.DueAt,
	})
	if err != nil {
		return Permanent(fmt.Errorf("failed to build reminder event: %w", err))
	}

	// Notification delivery is best-effort; a dropped reminder is not
	// worth a retry that could double-deliver the rest.
	if err := h.emitter.EmitEvent(ctx, event); err != nil {
		log.Warn("reminder delivery failed", "instance_id", instanceID, "error", err)
	}

	return nil
}
