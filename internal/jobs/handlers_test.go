package jobs

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stride-app/stride-api/internal/domain"
	"github.com/stride-app/stride-api/internal/events"
	"github.com/stride-app/stride-api/internal/store"
)

// recordingEmitter captures emitted events for assertions.
type recordingEmitter struct {
	mu     sync.Mutex
	events []*events.NotificationEvent
	err    error
}

func (e *recordingEmitter) EmitEvent(ctx context.Context, event *events.NotificationEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, event)
	return e.err
}

func (e *recordingEmitter) recorded() []*events.NotificationEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*events.NotificationEvent(nil), e.events...)
}

func jobFor(t *testing.T, jobType domain.JobType, entityID uuid.UUID) *domain.Job {
	t.Helper()
	job, err := domain.NewJob(jobType, domain.JobPayload{EntityID: entityID}, time.Now().UTC())
	require.NoError(t, err)
	return job
}

func TestReminderHandler(t *testing.T) {
	ctx := context.Background()
	instanceID := uuid.New()
	ownerID := uuid.New()

	t.Run("emits reminder for due instance", func(t *testing.T) {
		templates := &MockTemplateStore{
			GetInstanceFn: func(ctx context.Context, id uuid.UUID) (*domain.TaskInstance, error) {
				assert.Equal(t, instanceID, id)
				return &domain.TaskInstance{
					ID:      instanceID,
					OwnerID: ownerID,
					Title:   "Water plants",
					DueAt:   time.Now().UTC().Add(-time.Minute),
				}, nil
			},
		}
		emitter := &recordingEmitter{}
		handler := NewReminderHandler(templates, emitter)

		err := handler.Handle(ctx, jobFor(t, domain.JobTypeReminderFire, instanceID))
		require.NoError(t, err)

		recorded := emitter.recorded()
		require.Len(t, recorded, 1)
		assert.Equal(t, events.TypeReminderDue, recorded[0].Type)
		assert.Equal(t, ownerID, recorded[0].UserID)

		var payload ReminderPayload
		require.NoError(t, recorded[0].UnmarshalPayload(&payload))
		assert.Equal(t, "Water plants", payload.Title)
	})

	t.Run("skips completed instance", func(t *testing.T) {
		completedAt := time.Now().UTC()
		templates := &MockTemplateStore{
			GetInstanceFn: func(ctx context.Context, id uuid.UUID) (*domain.TaskInstance, error) {
				return &domain.TaskInstance{ID: instanceID, OwnerID: ownerID, CompletedAt: &completedAt}, nil
			},
		}
		emitter := &recordingEmitter{}
		handler := NewReminderHandler(templates, emitter)

		err := handler.Handle(ctx, jobFor(t, domain.JobTypeReminderFire, instanceID))
		require.NoError(t, err)
		assert.Empty(t, emitter.recorded())
	})

	t.Run("missing instance is permanent", func(t *testing.T) {
		handler := NewReminderHandler(&MockTemplateStore{}, &recordingEmitter{})

		err := handler.Handle(ctx, jobFor(t, domain.JobTypeReminderFire, instanceID))
		require.Error(t, err)
		assert.True(t, IsPermanent(err))
	})

	t.Run("malformed payload is permanent", func(t *testing.T) {
		handler := NewReminderHandler(&MockTemplateStore{}, &recordingEmitter{})
		job := jobFor(t, domain.JobTypeReminderFire, instanceID)
		job.Payload = []byte(`{"entity_id": "not-a-uuid"}`)

		err := handler.Handle(ctx, job)
		require.Error(t, err)
		assert.True(t, IsPermanent(err))
	})

	t.Run("delivery failure does not fail the job", func(t *testing.T) {
		templates := &MockTemplateStore{
			GetInstanceFn: func(ctx context.Context, id uuid.UUID) (*domain.TaskInstance, error) {
				return &domain.TaskInstance{ID: instanceID, OwnerID: ownerID, DueAt: time.Now().UTC()}, nil
			},
		}
		emitter := &recordingEmitter{err: assert.AnError}
		handler := NewReminderHandler(templates, emitter)

		err := handler.Handle(ctx, jobFor(t, domain.JobTypeReminderFire, instanceID))
		assert.NoError(t, err)
	})
}

func TestStreakHandler(t *testing.T) {
	ctx := context.Background()
	ownerID := uuid.New()
	now := time.Now().UTC()

	templates := &MockTemplateStore{
		ListCompletionsFn: func(ctx context.Context, gotOwner uuid.UUID, since time.Time) ([]time.Time, error) {
			assert.Equal(t, ownerID, gotOwner)
			return []time.Time{
				now,
				now.AddDate(0, 0, -1),
				now.AddDate(0, 0, -2),
				// Gap: four days ago is missing.
				now.AddDate(0, 0, -4),
			}, nil
		},
	}
	emitter := &recordingEmitter{}
	handler := NewStreakHandler(templates, emitter, 0)

	err := handler.Handle(ctx, jobFor(t, domain.JobTypeStreakCalculate, ownerID))
	require.NoError(t, err)

	recorded := emitter.recorded()
	require.Len(t, recorded, 1)
	assert.Equal(t, events.TypeStreakUpdated, recorded[0].Type)

	var payload StreakPayload
	require.NoError(t, recorded[0].UnmarshalPayload(&payload))
	assert.Equal(t, 3, payload.Streak)
}

func TestCreditExpireHandler(t *testing.T) {
	ctx := context.Background()
	userA := uuid.New()
	userB := uuid.New()

	ledger := &MockLedgerStore{
		ExpireDueFn: func(ctx context.Context, now time.Time) (*store.ExpireResult, error) {
			return &store.ExpireResult{Expired: 3, UserIDs: []uuid.UUID{userA, userB}}, nil
		},
	}
	emitter := &recordingEmitter{}
	handler := NewCreditExpireHandler(ledger, emitter)

	err := handler.Handle(ctx, jobFor(t, domain.JobTypeCreditExpire, uuid.New()))
	require.NoError(t, err)

	recorded := emitter.recorded()
	require.Len(t, recorded, 2)
	assert.Equal(t, events.TypeCreditsExpired, recorded[0].Type)
	assert.Equal(t, userA, recorded[0].UserID)
	assert.Equal(t, userB, recorded[1].UserID)
}

func TestSubscriptionCheckHandler(t *testing.T) {
	ctx := context.Background()
	userID := uuid.New()
	now := time.Now().UTC()

	t.Run("active past period end enters grace", func(t *testing.T) {
		var saved *domain.Subscription
		subs := &MockSubscriptionStore{
			GetByUserIDFn: func(ctx context.Context, id uuid.UUID) (*domain.Subscription, error) {
				return &domain.Subscription{
					UserID:           userID,
					Status:           domain.SubscriptionStatusActive,
					MonthlyCredits:   100,
					CurrentPeriodEnd: now.Add(-time.Hour),
				}, nil
			},
			UpsertFn: func(ctx context.Context, sub *domain.Subscription) error {
				saved = sub
				return nil
			},
		}
		emitter := &recordingEmitter{}
		handler := NewSubscriptionCheckHandler(subs, emitter, domain.DefaultGracePeriod)

		err := handler.Handle(ctx, jobFor(t, domain.JobTypeSubscriptionCheck, userID))
		require.NoError(t, err)

		require.NotNil(t, saved)
		assert.Equal(t, domain.SubscriptionStatusGrace, saved.Status)
		require.NotNil(t, saved.GraceUntil)

		recorded := emitter.recorded()
		require.Len(t, recorded, 1)
		assert.Equal(t, events.TypeSubscriptionLapsed, recorded[0].Type)
	})

	t.Run("grace past deadline expires", func(t *testing.T) {
		graceUntil := now.Add(-time.Minute)
		var saved *domain.Subscription
		subs := &MockSubscriptionStore{
			GetByUserIDFn: func(ctx context.Context, id uuid.UUID) (*domain.Subscription, error) {
				return &domain.Subscription{
					UserID:           userID,
					Status:           domain.SubscriptionStatusGrace,
					MonthlyCredits:   100,
					CurrentPeriodEnd: now.Add(-domain.DefaultGracePeriod - time.Minute),
					GraceUntil:       &graceUntil,
				}, nil
			},
			UpsertFn: func(ctx context.Context, sub *domain.Subscription) error {
				saved = sub
				return nil
			},
		}
		handler := NewSubscriptionCheckHandler(subs, &recordingEmitter{}, domain.DefaultGracePeriod)

		err := handler.Handle(ctx, jobFor(t, domain.JobTypeSubscriptionCheck, userID))
		require.NoError(t, err)
		require.NotNil(t, saved)
		assert.Equal(t, domain.SubscriptionStatusExpired, saved.Status)
	})

	t.Run("unchanged subscription writes nothing", func(t *testing.T) {
		subs := &MockSubscriptionStore{
			GetByUserIDFn: func(ctx context.Context, id uuid.UUID) (*domain.Subscription, error) {
				return &domain.Subscription{
					UserID:           userID,
					Status:           domain.SubscriptionStatusActive,
					MonthlyCredits:   100,
					CurrentPeriodEnd: now.Add(24 * time.Hour),
				}, nil
			},
			UpsertFn: func(ctx context.Context, sub *domain.Subscription) error {
				t.Fatal("unexpected upsert for unchanged subscription")
				return nil
			},
		}
		emitter := &recordingEmitter{}
		handler := NewSubscriptionCheckHandler(subs, emitter, domain.DefaultGracePeriod)

		err := handler.Handle(ctx, jobFor(t, domain.JobTypeSubscriptionCheck, userID))
		require.NoError(t, err)
		assert.Empty(t, emitter.recorded())
	})

	t.Run("concurrently advanced subscription skips the event", func(t *testing.T) {
		subs := &MockSubscriptionStore{
			GetByUserIDFn: func(ctx context.Context, id uuid.UUID) (*domain.Subscription, error) {
				return &domain.Subscription{
					UserID:           userID,
					Status:           domain.SubscriptionStatusActive,
					MonthlyCredits:   100,
					CurrentPeriodEnd: now.Add(-time.Hour),
				}, nil
			},
			UpsertFn: func(ctx context.Context, sub *domain.Subscription) error {
				// A renewal landed between our read and write.
				return fmt.Errorf("%w: subscription changed", store.ErrUpdateFailed)
			},
		}
		emitter := &recordingEmitter{}
		handler := NewSubscriptionCheckHandler(subs, emitter, domain.DefaultGracePeriod)

		err := handler.Handle(ctx, jobFor(t, domain.JobTypeSubscriptionCheck, userID))
		require.NoError(t, err)
		assert.Empty(t, emitter.recorded())
	})

	t.Run("missing subscription is permanent", func(t *testing.T) {
		handler := NewSubscriptionCheckHandler(&MockSubscriptionStore{}, &recordingEmitter{}, 0)

		err := handler.Handle(ctx, jobFor(t, domain.JobTypeSubscriptionCheck, userID))
		require.Error(t, err)
		assert.True(t, IsPermanent(err))
	})
}

func TestRecurringGenerateHandler(t *testing.T) {
	ctx := context.Background()
	templateID := uuid.New()
	now := time.Now().UTC()

	t.Run("generates until caught up", func(t *testing.T) {
		// Three overdue slots, then one in the future.
		dueTimes := []time.Time{
			now.Add(-3 * time.Hour),
			now.Add(-2 * time.Hour),
			now.Add(-1 * time.Hour),
			now.Add(time.Hour),
		}
		calls := 0
		templates := &MockTemplateStore{
			GenerateNextFn: func(ctx context.Context, id uuid.UUID) (*domain.TaskInstance, error) {
				require.Less(t, calls, len(dueTimes), "must stop after the first future instance")
				instance := &domain.TaskInstance{ID: uuid.New(), DueAt: dueTimes[calls]}
				calls++
				return instance, nil
			},
		}
		handler := NewRecurringGenerateHandler(templates, 0)

		err := handler.Handle(ctx, jobFor(t, domain.JobTypeRecurringGenerate, templateID))
		require.NoError(t, err)
		assert.Equal(t, 4, calls)
	})

	t.Run("nothing new stops immediately", func(t *testing.T) {
		calls := 0
		templates := &MockTemplateStore{
			GenerateNextFn: func(ctx context.Context, id uuid.UUID) (*domain.TaskInstance, error) {
				calls++
				return nil, nil
			},
		}
		handler := NewRecurringGenerateHandler(templates, 0)

		err := handler.Handle(ctx, jobFor(t, domain.JobTypeRecurringGenerate, templateID))
		require.NoError(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("missing template is permanent", func(t *testing.T) {
		templates := &MockTemplateStore{
			GenerateNextFn: func(ctx context.Context, id uuid.UUID) (*domain.TaskInstance, error) {
				return nil, store.ErrTemplateNotFound
			},
		}
		handler := NewRecurringGenerateHandler(templates, 0)

		err := handler.Handle(ctx, jobFor(t, domain.JobTypeRecurringGenerate, templateID))
		require.Error(t, err)
		assert.True(t, IsPermanent(err))
	})

	t.Run("catch-up cap bounds one run", func(t *testing.T) {
		calls := 0
		templates := &MockTemplateStore{
			GenerateNextFn: func(ctx context.Context, id uuid.UUID) (*domain.TaskInstance, error) {
				calls++
				return &domain.TaskInstance{ID: uuid.New(), DueAt: now.Add(-time.Hour)}, nil
			},
		}
		handler := NewRecurringGenerateHandler(templates, 5)

		err := handler.Handle(ctx, jobFor(t, domain.JobTypeRecurringGenerate, templateID))
		require.NoError(t, err)
		assert.Equal(t, 5, calls)
	})
}
