package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Notification event types emitted by the job handlers.
const (
	// TypeReminderDue fires when a task instance's due time arrives.
	TypeReminderDue = "reminder.due"

	// TypeStreakUpdated fires after a streak recalculation changes the
	// user's current streak.
	TypeStreakUpdated = "streak.updated"

	// TypeSubscriptionLapsed fires when a subscription enters its grace
	// period or expires.
	TypeSubscriptionLapsed = "subscription.lapsed"

	// TypeCreditsExpired fires when an expiration sweep removes credits
	// from a user's balance.
	TypeCreditsExpired = "credits.expired"
)

// NotificationEvent carries a user-facing notification from the job
// handlers to whatever delivery channels are registered. Handlers that
// emit events never depend on the delivery implementation.
type NotificationEvent struct {
	// ID is a unique identifier for this event
	ID uuid.UUID `json:"id"`

	// Type is one of the Type* constants above
	Type string `json:"type"`

	// UserID identifies the recipient
	UserID uuid.UUID `json:"user_id"`

	// Payload contains the event-specific data serialized as JSON
	Payload json.RawMessage `json:"payload"`

	// CreatedAt is the timestamp when the event was created
	CreatedAt time.Time `json:"created_at"`
}

// UnmarshalPayload decodes the event payload into the provided structure.
func (e *NotificationEvent) UnmarshalPayload(v interface{}) error {
	return json.Unmarshal(e.Payload, v)
}

// NewNotificationEvent creates a NotificationEvent of the given type for
// the given user, serializing the payload to JSON.
func NewNotificationEvent(eventType string, userID uuid.UUID, payload interface{}) (*NotificationEvent, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	return &NotificationEvent{
		ID:        uuid.New(),
		Type:      eventType,
		UserID:    userID,
		Payload:   payloadBytes,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// EventHandler defines an interface for components that can handle events.
type EventHandler interface {
	// HandleEvent processes the given event within the provided context.
	// Returns an error if the event cannot be handled successfully.
	HandleEvent(ctx context.Context, event *NotificationEvent) error
}

// EventEmitter defines an interface for components that can emit events.
// Delivery is best-effort: a failed handler must never fail the job that
// emitted the event.
type EventEmitter interface {
	// EmitEvent publishes the given event to all registered handlers.
	// Returns the first handler error encountered, after every handler
	// has been given the event.
	EmitEvent(ctx context.Context, event *NotificationEvent) error
}
