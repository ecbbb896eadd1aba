package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/stride-app/stride-api/internal/domain"
	"github.com/stride-app/stride-api/internal/domain/recurrence"
	"github.com/stride-app/stride-api/internal/platform/logger"
	"github.com/stride-app/stride-api/internal/store"
)

// PostgresTemplateStore implements the store.TemplateStore interface using
// PostgreSQL.
//
// GenerateNext serializes per template with a row lock and is backstopped by
// the unique (template_id, due_at) constraint, so concurrent generation jobs
// never produce a duplicate instance.
type PostgresTemplateStore struct {
	db *sql.DB
}

// NewPostgresTemplateStore creates a new PostgresTemplateStore.
func NewPostgresTemplateStore(db *sql.DB) *PostgresTemplateStore {
	if db == nil {
		panic("db cannot be nil")
	}
	return &PostgresTemplateStore{db: db}
}

// Ensure PostgresTemplateStore implements store.TemplateStore interface
var _ store.TemplateStore = (*PostgresTemplateStore)(nil)

// CreateTemplate persists a new task template.
func (s *PostgresTemplateStore) CreateTemplate(ctx context.Context, template *domain.TaskTemplate) error {
	if err := template.Validate(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO task_templates (id, owner_id, title, recurrence_rule,
			next_due_at, last_generated_due_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		template.ID,
		template.OwnerID,
		template.Title,
		template.RecurrenceRule,
		template.NextDueAt,
		template.LastGeneratedDueAt,
		template.CreatedAt,
		template.UpdatedAt,
	)
	if err != nil {
		return MapError(err)
	}

	return nil
}

// GetTemplate retrieves a template by its unique ID.
func (s *PostgresTemplateStore) GetTemplate(ctx context.Context, id uuid.UUID) (*domain.TaskTemplate, error) {
	return getTemplate(ctx, s.db, id, false)
}

// GenerateNext inserts the template's next due instance and advances the
// last-generated pointer in one transaction.
//
// The template row is locked FOR UPDATE first, so a concurrent invocation
// waits, then observes the advanced pointer and returns nothing instead of
// duplicating this timestamp. A template whose pointer already sits in the
// future is caught up: repeated invocations, including a generation job
// re-executed after a lease expiry, return (nil, nil) until that due time
// arrives. If an instance for the target timestamp somehow already exists,
// the unique constraint turns the insert into a no-op result rather than a
// duplicate.
func (s *PostgresTemplateStore) GenerateNext(ctx context.Context, templateID uuid.UUID) (*domain.TaskInstance, error) {
	log := logger.FromContext(ctx)

	var instance *domain.TaskInstance
	err := store.RunInTransaction(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		template, err := getTemplate(ctx, tx, templateID, true)
		if err != nil {
			return err
		}

		if template.GeneratedAhead(time.Now().UTC()) {
			log.Debug("template already generated ahead",
				"template_id", templateID,
				"last_generated_due_at", template.LastGeneratedDueAt)
			return nil
		}

		schedule, err := recurrence.Parse(template.RecurrenceRule)
		if err != nil {
			// Rules are validated at creation; a bad rule here means the
			// row was corrupted outside the application.
			return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
		}

		after := template.CreatedAt
		if template.LastGeneratedDueAt != nil {
			after = *template.LastGeneratedDueAt
		}
		dueAt := schedule.Next(after)
		nextDueAt := schedule.Next(dueAt)

		candidate := domain.NewTaskInstance(template, dueAt)
		_, err = tx.ExecContext(ctx, `
			INSERT INTO task_instances (id, template_id, owner_id, title, due_at, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`,
			candidate.ID,
			candidate.TemplateID,
			candidate.OwnerID,
			candidate.Title,
			candidate.DueAt,
			candidate.CreatedAt,
		)
		if err != nil {
			if IsUniqueViolation(err) {
				// Already generated for this timestamp; advance the
				// pointer past it and report nothing new.
				log.Debug("instance already exists for due timestamp",
					"template_id", templateID,
					"due_at", dueAt)
				return advanceTemplatePointer(ctx, tx, templateID, dueAt, nextDueAt)
			}
			return MapError(err)
		}

		if err := advanceTemplatePointer(ctx, tx, templateID, dueAt, nextDueAt); err != nil {
			return err
		}

		instance = candidate
		return nil
	})
	if err != nil {
		return nil, err
	}

	if instance != nil {
		log.Info("generated recurring task instance",
			"template_id", templateID,
			"instance_id", instance.ID,
			"due_at", instance.DueAt)
	}

	return instance, nil
}

// CreateInstance persists a one-off instance directly.
func (s *PostgresTemplateStore) CreateInstance(ctx context.Context, instance *domain.TaskInstance) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO task_instances (id, template_id, owner_id, title, due_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`,
		instance.ID,
		instance.TemplateID,
		instance.OwnerID,
		instance.Title,
		instance.DueAt,
		instance.CreatedAt,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return store.ErrInstanceExists
		}
		return MapError(err)
	}
	return nil
}

// GetInstance retrieves a task instance by its unique ID.
func (s *PostgresTemplateStore) GetInstance(ctx context.Context, id uuid.UUID) (*domain.TaskInstance, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, template_id, owner_id, title, due_at, completed_at, reminder_sent_at, created_at
		FROM task_instances
		WHERE id = $1
	`, id)

	instance, err := scanInstance(row.Scan)
	if err != nil {
		if IsNotFoundError(err) {
			return nil, store.ErrInstanceNotFound
		}
		return nil, MapError(err)
	}

	return instance, nil
}

// CompleteInstance marks an instance completed. Completing twice keeps the
// first completion time, so a re-executed job cannot move it.
func (s *PostgresTemplateStore) CompleteInstance(ctx context.Context, id uuid.UUID, completedAt time.Time) (*domain.TaskInstance, error) {
	_, err := s.db.ExecContext(ctx, `
		UPDATE task_instances
		SET completed_at = $1
		WHERE id = $2 AND completed_at IS NULL
	`, completedAt.UTC(), id)
	if err != nil {
		return nil, MapError(err)
	}

	// Zero rows affected means either not found or already completed;
	// re-read to tell them apart and return the current state.
	return s.GetInstance(ctx, id)
}

// ListDueReminders returns uncompleted instances due at or before now whose
// reminder has not fired yet.
func (s *PostgresTemplateStore) ListDueReminders(ctx context.Context, now time.Time, limit int) ([]*domain.TaskInstance, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, template_id, owner_id, title, due_at, completed_at, reminder_sent_at, created_at
		FROM task_instances
		WHERE due_at <= $1
		  AND completed_at IS NULL
		  AND reminder_sent_at IS NULL
		ORDER BY due_at ASC
		LIMIT $2
	`, now.UTC(), limit)
	if err != nil {
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	var instances []*domain.TaskInstance
	for rows.Next() {
		instance, err := scanInstance(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task instance row: %w", err)
		}
		instances = append(instances, instance)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating task instance rows: %w", err)
	}

	return instances, nil
}

// MarkReminderSent flags an instance's reminder as fired. Only the first
// call writes; later calls are no-ops, which keeps reminder enqueueing
// idempotent.
func (s *PostgresTemplateStore) MarkReminderSent(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE task_instances
		SET reminder_sent_at = $1
		WHERE id = $2 AND reminder_sent_at IS NULL
	`, at.UTC(), id)
	if err != nil {
		return MapError(err)
	}
	return nil
}

// ListCompletions returns the completion timestamps for the owner's
// instances since the given time.
func (s *PostgresTemplateStore) ListCompletions(ctx context.Context, ownerID uuid.UUID, since time.Time) ([]time.Time, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT completed_at
		FROM task_instances
		WHERE owner_id = $1 AND completed_at >= $2
		ORDER BY completed_at ASC
	`, ownerID, since.UTC())
	if err != nil {
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	var completions []time.Time
	for rows.Next() {
		var t time.Time
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("failed to scan completion row: %w", err)
		}
		completions = append(completions, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating completion rows: %w", err)
	}

	return completions, nil
}

// ListDueTemplates returns IDs of templates whose next due timestamp has
// arrived.
func (s *PostgresTemplateStore) ListDueTemplates(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM task_templates
		WHERE next_due_at <= $1
		ORDER BY next_due_at ASC
		LIMIT $2
	`, now.UTC(), limit)
	if err != nil {
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan template ID row: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating template ID rows: %w", err)
	}

	return ids, nil
}

// ListActiveOwners returns owners with at least one completion since the
// given time.
func (s *PostgresTemplateStore) ListActiveOwners(ctx context.Context, since time.Time) ([]uuid.UUID, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT owner_id FROM task_instances
		WHERE completed_at >= $1
	`, since.UTC())
	if err != nil {
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	var owners []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan owner ID row: %w", err)
		}
		owners = append(owners, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating owner ID rows: %w", err)
	}

	return owners, nil
}

// getTemplate reads one template, optionally locking the row for update.
func getTemplate(ctx context.Context, db store.DBTX, id uuid.UUID, forUpdate bool) (*domain.TaskTemplate, error) {
	query := `
		SELECT id, owner_id, title, recurrence_rule, next_due_at,
			last_generated_due_at, created_at, updated_at
		FROM task_templates
		WHERE id = $1
	`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var template domain.TaskTemplate
	var lastGenerated sql.NullTime

	err := db.QueryRowContext(ctx, query, id).Scan(
		&template.ID,
		&template.OwnerID,
		&template.Title,
		&template.RecurrenceRule,
		&template.NextDueAt,
		&lastGenerated,
		&template.CreatedAt,
		&template.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrTemplateNotFound
		}
		return nil, MapError(err)
	}

	if lastGenerated.Valid {
		t := lastGenerated.Time
		template.LastGeneratedDueAt = &t
	}

	return &template, nil
}

// advanceTemplatePointer moves last_generated_due_at and the cached
// next_due_at forward. The guard keeps the pointer monotonic even if a
// stale worker commits late.
func advanceTemplatePointer(ctx context.Context, tx *sql.Tx, templateID uuid.UUID, dueAt, nextDueAt time.Time) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE task_templates
		SET last_generated_due_at = $1, next_due_at = $2, updated_at = now()
		WHERE id = $3
		  AND (last_generated_due_at IS NULL OR last_generated_due_at < $1)
	`, dueAt, nextDueAt, templateID)
	if err != nil {
		return MapError(err)
	}
	return nil
}

// scanInstance maps one task instance row, handling nullable columns.
func scanInstance(scan func(dest ...any) error) (*domain.TaskInstance, error) {
	var instance domain.TaskInstance
	var templateID uuid.NullUUID
	var completedAt sql.NullTime
	var reminderSentAt sql.NullTime

	err := scan(
		&instance.ID,
		&templateID,
		&instance.OwnerID,
		&instance.Title,
		&instance.DueAt,
		&completedAt,
		&reminderSentAt,
		&instance.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if templateID.Valid {
		id := templateID.UUID
		instance.TemplateID = &id
	}
	if completedAt.Valid {
		t := completedAt.Time
		instance.CompletedAt = &t
	}
	if reminderSentAt.Valid {
		t := reminderSentAt.Time
		instance.ReminderSentAt = &t
	}

	return &instance, nil
}
