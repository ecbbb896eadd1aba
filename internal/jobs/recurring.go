package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/stride-app/stride-api/internal/domain"
	"github.com/stride-app/stride-api/internal/platform/logger"
	"github.com/stride-app/stride-api/internal/store"
)

// DefaultMaxCatchUp caps how many instances one recurring_generate run
// materializes. A template far behind schedule catches up across several
// runs instead of holding a claim for minutes.
const DefaultMaxCatchUp = 100

// RecurringGenerateHandler materializes the next instance(s) of a task
// template. Duplicate-freedom lives in the store: the template pointer
// only advances together with the insert, so a re-run after a crash or a
// concurrent run for the same template generates nothing extra.
type RecurringGenerateHandler struct {
	templates  store.TemplateStore
	maxCatchUp int
}

// NewRecurringGenerateHandler creates a handler for recurring_generate jobs.
func NewRecurringGenerateHandler(templates store.TemplateStore, maxCatchUp int) *RecurringGenerateHandler {
	if maxCatchUp <= 0 {
		maxCatchUp = DefaultMaxCatchUp
	}
	return &RecurringGenerateHandler{templates: templates, maxCatchUp: maxCatchUp}
}

// Handle implements the Handler interface.
func (h *RecurringGenerateHandler) Handle(ctx context.Context, job *domain.Job) error {
	log := logger.FromContext(ctx)

	templateID, err := entityID(job)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	generated := 0
	for generated < h.maxCatchUp {
		instance, err := h.templates.GenerateNext(ctx, templateID)
		if err != nil {
			if errors.Is(err, store.ErrTemplateNotFound) {
				return Permanent(err)
			}
			return fmt.Errorf("failed to generate instance: %w", err)
		}
		if instance == nil {
			// Another run already advanced the pointer past this slot.
			break
		}

		generated++
		if instance.DueAt.After(now) {
			// Caught up: the rest of the schedule lies in the future.
			break
		}
	}

	log.Info("recurring generation finished", "template_id", templateID, "generated", generated)
	return nil
}
