// Package task exposes recurring task templates and their instances:
// creating templates, completing instances, and the follow-up work a
// completion triggers.
package task

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/stride-app/stride-api/internal/domain"
	"github.com/stride-app/stride-api/internal/domain/recurrence"
	"github.com/stride-app/stride-api/internal/platform/logger"
	"github.com/stride-app/stride-api/internal/store"
)

// Common error types for TaskService
var (
	// ErrInvalidRule indicates the recurrence rule cannot be parsed.
	ErrInvalidRule = recurrence.ErrInvalidRule

	// ErrInstanceNotFound indicates the task instance does not exist.
	ErrInstanceNotFound = errors.New("task instance not found")

	// ErrTemplateNotFound indicates the task template does not exist.
	ErrTemplateNotFound = errors.New("task template not found")
)

// TaskService provides methods for managing recurring task templates and
// their instances.
type TaskService interface {
	// CreateTemplate validates the recurrence rule and persists a new
	// template. The first instance's due time is derived from the rule at
	// creation; generation happens through the background queue.
	//
	// Returns ErrInvalidRule when rule is not a valid cron expression.
	CreateTemplate(ctx context.Context, ownerID uuid.UUID, title, rule string) (*domain.TaskTemplate, error)

	// GetTemplate retrieves a template by ID.
	GetTemplate(ctx context.Context, id uuid.UUID) (*domain.TaskTemplate, error)

	// CompleteInstance marks the instance done and enqueues the follow-up
	// work: a streak recalculation for the owner and, for recurring
	// instances, generation of the template's next instance. Completing an
	// already-completed instance changes nothing and enqueues nothing.
	CompleteInstance(ctx context.Context, instanceID uuid.UUID) (*domain.TaskInstance, error)

	// CreateOneOff persists a standalone instance not backed by a template.
	CreateOneOff(ctx context.Context, ownerID uuid.UUID, title string, dueAt time.Time) (*domain.TaskInstance, error)

	// GenerateNextInstance materializes the template's next due instance
	// immediately, without going through the queue. Returns (nil, nil) when
	// the schedule has nothing new.
	GenerateNextInstance(ctx context.Context, templateID uuid.UUID) (*domain.TaskInstance, error)
}

type taskService struct {
	templates store.TemplateStore
	jobs      store.JobStore
}

// NewTaskService creates a TaskService backed by the given stores.
func NewTaskService(templates store.TemplateStore, jobs store.JobStore) TaskService {
	if templates == nil {
		panic("template store cannot be nil")
	}
	if jobs == nil {
		panic("job store cannot be nil")
	}
	return &taskService{templates: templates, jobs: jobs}
}

func (s *taskService) CreateTemplate(ctx context.Context, ownerID uuid.UUID, title, rule string) (*domain.TaskTemplate, error) {
	template, err := domain.NewTaskTemplate(ownerID, title, rule)
	if err != nil {
		// Invalid rules are rejected here, before anything is persisted:
		// a template that cannot be scheduled must never reach the
		// generation path.
		return nil, err
	}

	if err := s.templates.CreateTemplate(ctx, template); err != nil {
		return nil, fmt.Errorf("failed to create template: %w", err)
	}

	logger.FromContext(ctx).Info("template created",
		"template_id", template.ID,
		"owner_id", ownerID,
		"rule", rule,
		"next_due_at", template.NextDueAt)
	return template, nil
}

func (s *taskService) GetTemplate(ctx context.Context, id uuid.UUID) (*domain.TaskTemplate, error) {
	template, err := s.templates.GetTemplate(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrTemplateNotFound) {
			return nil, ErrTemplateNotFound
		}
		return nil, fmt.Errorf("failed to get template: %w", err)
	}
	return template, nil
}

func (s *taskService) CompleteInstance(ctx context.Context, instanceID uuid.UUID) (*domain.TaskInstance, error) {
	now := time.Now().UTC()

	instance, err := s.templates.GetInstance(ctx, instanceID)
	if err != nil {
		if errors.Is(err, store.ErrInstanceNotFound) {
			return nil, ErrInstanceNotFound
		}
		return nil, fmt.Errorf("failed to get instance: %w", err)
	}
	if instance.IsCompleted() {
		return instance, nil
	}

	instance, err = s.templates.CompleteInstance(ctx, instanceID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to complete instance: %w", err)
	}

	// Follow-up work goes through the queue so a crash after the
	// completion write cannot lose it past the next sweep.
	s.enqueue(ctx, domain.JobTypeStreakCalculate, instance.OwnerID, now)
	if instance.TemplateID != nil {
		s.enqueue(ctx, domain.JobTypeRecurringGenerate, *instance.TemplateID, now)
	}

	return instance, nil
}

func (s *taskService) CreateOneOff(ctx context.Context, ownerID uuid.UUID, title string, dueAt time.Time) (*domain.TaskInstance, error) {
	instance, err := domain.NewOneOffInstance(ownerID, title, dueAt)
	if err != nil {
		return nil, err
	}
	if err := s.templates.CreateInstance(ctx, instance); err != nil {
		return nil, fmt.Errorf("failed to create instance: %w", err)
	}
	return instance, nil
}

func (s *taskService) GenerateNextInstance(ctx context.Context, templateID uuid.UUID) (*domain.TaskInstance, error) {
	instance, err := s.templates.GenerateNext(ctx, templateID)
	if err != nil {
		if errors.Is(err, store.ErrTemplateNotFound) {
			return nil, ErrTemplateNotFound
		}
		return nil, fmt.Errorf("failed to generate instance: %w", err)
	}
	return instance, nil
}

// enqueue persists a follow-up job, logging failures instead of undoing
// the completion: the nightly sweep repairs anything missed here.
func (s *taskService) enqueue(ctx context.Context, jobType domain.JobType, entityID uuid.UUID, at time.Time) {
	log := logger.FromContext(ctx)

	job, err := domain.NewJob(jobType, domain.JobPayload{EntityID: entityID}, at)
	if err != nil {
		log.Error("failed to build follow-up job", "job_type", jobType, "error", err)
		return
	}
	if err := s.jobs.Enqueue(ctx, job); err != nil {
		log.Error("failed to enqueue follow-up job", "job_type", jobType, "error", err)
	}
}
