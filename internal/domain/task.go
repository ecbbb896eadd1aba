package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/stride-app/stride-api/internal/domain/recurrence"
)

// Task-specific validation errors.
var (
	// ErrTemplateIDEmpty is returned when a template ID is empty or nil.
	ErrTemplateIDEmpty = errors.New("template ID cannot be empty")

	// ErrTemplateOwnerEmpty is returned when a template's owner ID is empty or nil.
	ErrTemplateOwnerEmpty = errors.New("template owner ID cannot be empty")

	// ErrTemplateTitleEmpty is returned when a template's title is empty.
	ErrTemplateTitleEmpty = errors.New("template title cannot be empty")

	// ErrInstanceIDEmpty is returned when a task instance ID is empty or nil.
	ErrInstanceIDEmpty = errors.New("task instance ID cannot be empty")
)

// TaskTemplate describes a recurring task. The RecurrenceRule is a standard
// cron expression validated at creation time; LastGeneratedDueAt is the
// high-water mark of instance generation and is only ever advanced by the
// recurrence engine.
type TaskTemplate struct {
	ID                 uuid.UUID  `json:"id"`
	OwnerID            uuid.UUID  `json:"owner_id"`
	Title              string     `json:"title"`
	RecurrenceRule     string     `json:"recurrence_rule"`
	NextDueAt          time.Time  `json:"next_due_at"`
	LastGeneratedDueAt *time.Time `json:"last_generated_due_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// NewTaskTemplate creates a template with a validated recurrence rule.
// Invalid rules are rejected here so generation can assume a parseable rule.
func NewTaskTemplate(ownerID uuid.UUID, title, rule string) (*TaskTemplate, error) {
	if ownerID == uuid.Nil {
		return nil, ErrTemplateOwnerEmpty
	}
	if title == "" {
		return nil, ErrTemplateTitleEmpty
	}

	schedule, err := recurrence.Parse(rule)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	return &TaskTemplate{
		ID:             uuid.New(),
		OwnerID:        ownerID,
		Title:          title,
		RecurrenceRule: rule,
		NextDueAt:      schedule.Next(now),
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// Validate checks if the TaskTemplate has valid data, including that the
// recurrence rule still parses.
func (t *TaskTemplate) Validate() error {
	if t.ID == uuid.Nil {
		return ErrTemplateIDEmpty
	}
	if t.OwnerID == uuid.Nil {
		return ErrTemplateOwnerEmpty
	}
	if t.Title == "" {
		return ErrTemplateTitleEmpty
	}
	if _, err := recurrence.Parse(t.RecurrenceRule); err != nil {
		return err
	}
	return nil
}

// NextDue resolves the next due timestamp strictly after the last generated
// one, or after the template's creation time if nothing was generated yet.
func (t *TaskTemplate) NextDue() (time.Time, error) {
	schedule, err := recurrence.Parse(t.RecurrenceRule)
	if err != nil {
		return time.Time{}, err
	}

	after := t.CreatedAt
	if t.LastGeneratedDueAt != nil {
		after = *t.LastGeneratedDueAt
	}
	return schedule.Next(after), nil
}

// GeneratedAhead reports whether the generation pointer already sits past
// now. When it does, the upcoming instance exists and generation has
// nothing to add until that due time arrives.
func (t *TaskTemplate) GeneratedAhead(now time.Time) bool {
	return t.LastGeneratedDueAt != nil && t.LastGeneratedDueAt.After(now.UTC())
}

// TaskInstance is a single occurrence of a task. TemplateID is nil for
// one-off tasks that were never generated from a template.
type TaskInstance struct {
	ID             uuid.UUID  `json:"id"`
	TemplateID     *uuid.UUID `json:"template_id,omitempty"`
	OwnerID        uuid.UUID  `json:"owner_id"`
	Title          string     `json:"title"`
	DueAt          time.Time  `json:"due_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	ReminderSentAt *time.Time `json:"reminder_sent_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// NewTaskInstance creates an instance of the given template due at dueAt.
func NewTaskInstance(template *TaskTemplate, dueAt time.Time) *TaskInstance {
	templateID := template.ID
	return &TaskInstance{
		ID:         uuid.New(),
		TemplateID: &templateID,
		OwnerID:    template.OwnerID,
		Title:      template.Title,
		DueAt:      dueAt.UTC(),
		CreatedAt:  time.Now().UTC(),
	}
}

// NewOneOffInstance creates a standalone instance with no backing template.
func NewOneOffInstance(ownerID uuid.UUID, title string, dueAt time.Time) (*TaskInstance, error) {
	if ownerID == uuid.Nil {
		return nil, ErrTemplateOwnerEmpty
	}
	if title == "" {
		return nil, ErrTemplateTitleEmpty
	}
	return &TaskInstance{
		ID:        uuid.New(),
		OwnerID:   ownerID,
		Title:     title,
		DueAt:     dueAt.UTC(),
		CreatedAt: time.Now().UTC(),
	}, nil
}

// IsCompleted reports whether the instance has been completed.
func (i *TaskInstance) IsCompleted() bool {
	return i.CompletedAt != nil
}
