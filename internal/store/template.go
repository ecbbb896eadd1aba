package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/stride-app/stride-api/internal/domain"
)

// TemplateStore defines the interface for task templates and their instances.
//
// The store is the only writer of a template's last_generated_due_at; the
// pointer advances inside the same transaction that inserts the instance.
type TemplateStore interface {
	// CreateTemplate persists a new task template. The template's
	// recurrence rule has already been validated by the domain constructor.
	CreateTemplate(ctx context.Context, template *domain.TaskTemplate) error

	// GetTemplate retrieves a template by its unique ID.
	// Returns ErrTemplateNotFound if the template does not exist.
	GetTemplate(ctx context.Context, id uuid.UUID) (*domain.TaskTemplate, error)

	// GenerateNext resolves the template's next due timestamp strictly
	// after last_generated_due_at (or the creation time if never
	// generated), inserts the instance, and advances the pointer in one
	// serialized step per template. Concurrent invocations never produce
	// duplicates: the second caller observes the advanced pointer.
	// Returns (nil, nil) when there is nothing new to generate, in
	// particular while the pointer already sits in the future.
	GenerateNext(ctx context.Context, templateID uuid.UUID) (*domain.TaskInstance, error)

	// CreateInstance persists a one-off instance directly, outside the
	// recurrence engine. Returns ErrInstanceExists on a duplicate
	// (template_id, due_at) pair.
	CreateInstance(ctx context.Context, instance *domain.TaskInstance) error

	// GetInstance retrieves a task instance by its unique ID.
	// Returns ErrInstanceNotFound if the instance does not exist.
	GetInstance(ctx context.Context, id uuid.UUID) (*domain.TaskInstance, error)

	// CompleteInstance marks an instance completed at the given time.
	// Completing an already-completed instance is a no-op.
	CompleteInstance(ctx context.Context, id uuid.UUID, completedAt time.Time) (*domain.TaskInstance, error)

	// ListDueReminders returns uncompleted instances due at or before now
	// whose reminder has not fired yet.
	ListDueReminders(ctx context.Context, now time.Time, limit int) ([]*domain.TaskInstance, error)

	// MarkReminderSent flags an instance's reminder as fired. The flag
	// makes reminder enqueueing idempotent across dispatcher ticks.
	MarkReminderSent(ctx context.Context, id uuid.UUID, at time.Time) error

	// ListCompletions returns the completion timestamps for the owner's
	// instances since the given time, for streak calculation.
	ListCompletions(ctx context.Context, ownerID uuid.UUID, since time.Time) ([]time.Time, error)

	// ListDueTemplates returns IDs of templates whose next due timestamp
	// has arrived, for the recurring catch-up sweep.
	ListDueTemplates(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)

	// ListActiveOwners returns owners with at least one completion since
	// the given time, for the streak sweep.
	ListActiveOwners(ctx context.Context, since time.Time) ([]uuid.UUID, error)
}
