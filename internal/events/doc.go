// Package events decouples the job handlers from notification delivery.
//
// Handlers emit NotificationEvents without knowing which delivery channels
// are registered; channels register themselves as EventHandlers on the
// emitter at startup. Emission is best-effort by design: a notification
// that cannot be delivered is logged and dropped, never retried through
// the job queue.
package events
