package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/stride-app/stride-api/internal/domain"
	"github.com/stride-app/stride-api/internal/platform/logger"
	"github.com/stride-app/stride-api/internal/store"
)

// DispatcherConfig holds configuration for the scheduled enqueuers.
type DispatcherConfig struct {
	// ReminderBatchSize caps how many due reminders one scan enqueues
	ReminderBatchSize int

	// CatchUpBatchSize caps how many due templates the nightly catch-up
	// sweep enqueues generation jobs for
	CatchUpBatchSize int

	// ActiveWindow decides which owners get a nightly streak
	// recalculation: anyone with a completion inside the window
	ActiveWindow time.Duration
}

// DefaultDispatcherConfig returns a DispatcherConfig with reasonable defaults.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		ReminderBatchSize: 500,
		CatchUpBatchSize:  1000,
		ActiveWindow:      48 * time.Hour,
	}
}

// Dispatcher turns wall-clock time into queued jobs. It never executes
// work itself: every schedule tick only persists jobs for the worker
// pool, so a dispatcher crash loses at most one tick, never work in
// flight.
//
// All schedules run in UTC. The nightly sweep enqueues the expiration
// run, streak recalculations and subscription checks; a per-minute scan
// enqueues reminders for instances that just came due.
type Dispatcher struct {
	cron      *cron.Cron
	jobs      store.JobStore
	templates store.TemplateStore
	subs      store.SubscriptionStore
	config    DispatcherConfig
	logger    *slog.Logger
}

// NewDispatcher creates a Dispatcher. Call Start to begin scheduling.
func NewDispatcher(
	jobStore store.JobStore,
	templates store.TemplateStore,
	subs store.SubscriptionStore,
	config DispatcherConfig,
	log *slog.Logger,
) *Dispatcher {
	defaults := DefaultDispatcherConfig()
	if config.ReminderBatchSize <= 0 {
		config.ReminderBatchSize = defaults.ReminderBatchSize
	}
	if config.CatchUpBatchSize <= 0 {
		config.CatchUpBatchSize = defaults.CatchUpBatchSize
	}
	if config.ActiveWindow <= 0 {
		config.ActiveWindow = defaults.ActiveWindow
	}

	return &Dispatcher{
		cron:      cron.New(cron.WithLocation(time.UTC)),
		jobs:      jobStore,
		templates: templates,
		subs:      subs,
		config:    config,
		logger:    log.With("component", "dispatcher"),
	}
}

// Start registers the schedules and begins ticking.
func (d *Dispatcher) Start() error {
	if _, err := d.cron.AddFunc("0 0 * * *", d.nightlySweep); err != nil {
		return fmt.Errorf("failed to schedule nightly sweep: %w", err)
	}
	if _, err := d.cron.AddFunc("* * * * *", d.scanReminders); err != nil {
		return fmt.Errorf("failed to schedule reminder scan: %w", err)
	}

	d.cron.Start()
	d.logger.Info("dispatcher started")
	return nil
}

// Stop halts the schedules and waits for a running tick to finish.
func (d *Dispatcher) Stop() {
	<-d.cron.Stop().Done()
	d.logger.Info("dispatcher stopped")
}

// nightlySweep enqueues the daily maintenance jobs at midnight UTC.
func (d *Dispatcher) nightlySweep() {
	ctx := logger.WithLogger(context.Background(), d.logger)
	now := time.Now().UTC()

	// The expiration sweep is global; its handler walks every user with
	// grants past expiry.
	d.enqueue(ctx, domain.JobTypeCreditExpire, domain.JobPayload{}, now)

	owners, err := d.templates.ListActiveOwners(ctx, now.Add(-d.config.ActiveWindow))
	if err != nil {
		d.logger.Error("failed to list active owners", "error", err)
	} else {
		for _, ownerID := range owners {
			d.enqueue(ctx, domain.JobTypeStreakCalculate, domain.JobPayload{EntityID: ownerID}, now)
		}
	}

	subs, err := d.subs.ListLapsed(ctx, now)
	if err != nil {
		d.logger.Error("failed to list lapsed subscriptions", "error", err)
	} else {
		for _, sub := range subs {
			d.enqueue(ctx, domain.JobTypeSubscriptionCheck, domain.JobPayload{EntityID: sub.UserID}, now)
		}
	}

	// Catch-up: templates whose next due time has already passed, for
	// example after downtime. Normal generation is enqueued at instance
	// completion, so this list is usually empty.
	templateIDs, err := d.templates.ListDueTemplates(ctx, now, d.config.CatchUpBatchSize)
	if err != nil {
		d.logger.Error("failed to list due templates", "error", err)
	} else {
		for _, templateID := range templateIDs {
			d.enqueue(ctx, domain.JobTypeRecurringGenerate, domain.JobPayload{EntityID: templateID}, now)
		}
	}

	d.logger.Info("nightly sweep enqueued",
		"streak_owners", len(owners),
		"lapsed_subscriptions", len(subs),
		"due_templates", len(templateIDs))
}

// scanReminders enqueues a reminder_fire job for every instance that
// came due since the last tick. The reminder_sent_at flag keeps the scan
// idempotent: an instance is enqueued once even across restarts.
func (d *Dispatcher) scanReminders() {
	ctx := logger.WithLogger(context.Background(), d.logger)
	now := time.Now().UTC()

	due, err := d.templates.ListDueReminders(ctx, now, d.config.ReminderBatchSize)
	if err != nil {
		d.logger.Error("failed to list due reminders", "error", err)
		return
	}

	enqueued := 0
	for _, instance := range due {
		if !d.enqueue(ctx, domain.JobTypeReminderFire, domain.JobPayload{EntityID: instance.ID}, now) {
			continue
		}
		// Flag after a successful enqueue. If flagging fails the next
		// tick re-enqueues; delivery is at-least-once by choice.
		if err := d.templates.MarkReminderSent(ctx, instance.ID, now); err != nil {
			d.logger.Error("failed to mark reminder sent",
				"instance_id", instance.ID, "error", err)
			continue
		}
		enqueued++
	}

	if enqueued > 0 {
		d.logger.Debug("reminders enqueued", "count", enqueued)
	}
}

// enqueue persists one job, logging instead of propagating failures: a
// missed tick is repaired by the next one.
func (d *Dispatcher) enqueue(ctx context.Context, jobType domain.JobType, payload domain.JobPayload, at time.Time) bool {
	job, err := domain.NewJob(jobType, payload, at)
	if err != nil {
		d.logger.Error("failed to build job", "job_type", jobType, "error", err)
		return false
	}
	if err := d.jobs.Enqueue(ctx, job); err != nil {
		d.logger.Error("failed to enqueue job",
			"job_type", jobType, "job_id", job.ID, "error", err)
		return false
	}
	return true
}
