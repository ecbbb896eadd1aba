package jobs

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stride-app/stride-api/internal/domain"
	"github.com/stride-app/stride-api/internal/store"
)

// MockJobStore implements store.JobStore for testing. The default
// behavior is an in-memory queue with the same claim semantics as the
// real store; individual methods can be overridden through the Fn fields.
type MockJobStore struct {
	mutex sync.Mutex
	jobs  map[uuid.UUID]*domain.Job
	order []uuid.UUID
	now   func() time.Time

	EnqueueFn  func(ctx context.Context, job *domain.Job) error
	ClaimFn    func(ctx context.Context, workerID string, lease time.Duration) (*domain.Job, error)
	CompleteFn func(ctx context.Context, jobID uuid.UUID, workerID string) error
	FailFn     func(ctx context.Context, jobID uuid.UUID, workerID string, errMsg string, permanent bool) error
}

// NewMockJobStore creates a MockJobStore with the in-memory defaults.
func NewMockJobStore() *MockJobStore {
	return &MockJobStore{
		jobs: make(map[uuid.UUID]*domain.Job),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// Enqueue adds a job to the in-memory queue.
func (s *MockJobStore) Enqueue(ctx context.Context, job *domain.Job) error {
	if s.EnqueueFn != nil {
		return s.EnqueueFn(ctx, job)
	}

	if err := job.Validate(); err != nil {
		return err
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()
	copied := *job
	s.jobs[job.ID] = &copied
	s.order = append(s.order, job.ID)
	return nil
}

// Claim leases the first eligible job, mirroring the real store's
// pending-or-lease-expired selection.
func (s *MockJobStore) Claim(ctx context.Context, workerID string, lease time.Duration) (*domain.Job, error) {
	if s.ClaimFn != nil {
		return s.ClaimFn(ctx, workerID, lease)
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	now := s.now()
	for _, id := range s.order {
		job := s.jobs[id]
		eligible := (job.Status == domain.JobStatusPending && !job.ScheduledAt.After(now)) ||
			job.LeaseExpired(now)
		if !eligible {
			continue
		}

		until := now.Add(lease)
		job.Status = domain.JobStatusClaimed
		job.ClaimedBy = workerID
		job.ClaimedUntil = &until
		job.AttemptCount++
		job.UpdatedAt = now

		copied := *job
		return &copied, nil
	}
	return nil, nil
}

// Complete marks a job succeeded, mirroring the real store's claimant
// guard: a report from a worker that no longer holds the claim is a no-op.
func (s *MockJobStore) Complete(ctx context.Context, jobID uuid.UUID, workerID string) error {
	if s.CompleteFn != nil {
		return s.CompleteFn(ctx, jobID, workerID)
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	job, exists := s.jobs[jobID]
	if !exists {
		return store.ErrJobNotFound
	}
	if job.Status != domain.JobStatusClaimed || job.ClaimedBy != workerID {
		return nil
	}
	job.Status = domain.JobStatusSucceeded
	job.ClaimedBy = ""
	job.ClaimedUntil = nil
	job.UpdatedAt = s.now()
	return nil
}

// Fail records a failed attempt with the real store's retry semantics and
// claimant guard.
func (s *MockJobStore) Fail(ctx context.Context, jobID uuid.UUID, workerID string, errMsg string, permanent bool) error {
	if s.FailFn != nil {
		return s.FailFn(ctx, jobID, workerID, errMsg, permanent)
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	job, exists := s.jobs[jobID]
	if !exists {
		return store.ErrJobNotFound
	}
	if job.Status != domain.JobStatusClaimed || job.ClaimedBy != workerID {
		return nil
	}

	now := s.now()
	job.LastError = errMsg
	job.ClaimedBy = ""
	job.ClaimedUntil = nil
	job.UpdatedAt = now

	if permanent || job.AttemptCount >= job.MaxAttempts {
		job.Status = domain.JobStatusDead
		return nil
	}
	job.Status = domain.JobStatusPending
	job.ScheduledAt = now.Add(domain.Backoff(job.AttemptCount))
	return nil
}

// GetByID returns a copy of the stored job.
func (s *MockJobStore) GetByID(ctx context.Context, jobID uuid.UUID) (*domain.Job, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	job, exists := s.jobs[jobID]
	if !exists {
		return nil, store.ErrJobNotFound
	}
	copied := *job
	return &copied, nil
}

// CountByStatus tallies the stored jobs.
func (s *MockJobStore) CountByStatus(ctx context.Context) (map[domain.JobStatus]int, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	counts := make(map[domain.JobStatus]int)
	for _, job := range s.jobs {
		counts[job.Status]++
	}
	return counts, nil
}

// WithTx returns the store itself; the mock has no transactions.
func (s *MockJobStore) WithTx(tx *sql.Tx) store.JobStore {
	return s
}

// SetNow overrides the mock's clock.
func (s *MockJobStore) SetNow(now func() time.Time) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.now = now
}

// Ensure MockJobStore implements store.JobStore interface
var _ store.JobStore = (*MockJobStore)(nil)

// MockTemplateStore implements store.TemplateStore for testing through
// overridable function fields. Unset methods return zero values.
type MockTemplateStore struct {
	CreateTemplateFn   func(ctx context.Context, template *domain.TaskTemplate) error
	GetTemplateFn      func(ctx context.Context, id uuid.UUID) (*domain.TaskTemplate, error)
	GenerateNextFn     func(ctx context.Context, templateID uuid.UUID) (*domain.TaskInstance, error)
	CreateInstanceFn   func(ctx context.Context, instance *domain.TaskInstance) error
	GetInstanceFn      func(ctx context.Context, id uuid.UUID) (*domain.TaskInstance, error)
	CompleteInstanceFn func(ctx context.Context, id uuid.UUID, completedAt time.Time) (*domain.TaskInstance, error)
	ListDueRemindersFn func(ctx context.Context, now time.Time, limit int) ([]*domain.TaskInstance, error)
	MarkReminderSentFn func(ctx context.Context, id uuid.UUID, at time.Time) error
	ListCompletionsFn  func(ctx context.Context, ownerID uuid.UUID, since time.Time) ([]time.Time, error)
	ListDueTemplatesFn func(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)
	ListActiveOwnersFn func(ctx context.Context, since time.Time) ([]uuid.UUID, error)
}

func (s *MockTemplateStore) CreateTemplate(ctx context.Context, template *domain.TaskTemplate) error {
	if s.CreateTemplateFn != nil {
		return s.CreateTemplateFn(ctx, template)
	}
	return nil
}

func (s *MockTemplateStore) GetTemplate(ctx context.Context, id uuid.UUID) (*domain.TaskTemplate, error) {
	if s.GetTemplateFn != nil {
		return s.GetTemplateFn(ctx, id)
	}
	return nil, store.ErrTemplateNotFound
}

func (s *MockTemplateStore) GenerateNext(ctx context.Context, templateID uuid.UUID) (*domain.TaskInstance, error) {
	if s.GenerateNextFn != nil {
		return s.GenerateNextFn(ctx, templateID)
	}
	return nil, nil
}

func (s *MockTemplateStore) CreateInstance(ctx context.Context, instance *domain.TaskInstance) error {
	if s.CreateInstanceFn != nil {
		return s.CreateInstanceFn(ctx, instance)
	}
	return nil
}

func (s *MockTemplateStore) GetInstance(ctx context.Context, id uuid.UUID) (*domain.TaskInstance, error) {
	if s.GetInstanceFn != nil {
		return s.GetInstanceFn(ctx, id)
	}
	return nil, store.ErrInstanceNotFound
}

func (s *MockTemplateStore) CompleteInstance(ctx context.Context, id uuid.UUID, completedAt time.Time) (*domain.TaskInstance, error) {
	if s.CompleteInstanceFn != nil {
		return s.CompleteInstanceFn(ctx, id, completedAt)
	}
	return nil, store.ErrInstanceNotFound
}

func (s *MockTemplateStore) ListDueReminders(ctx context.Context, now time.Time, limit int) ([]*domain.TaskInstance, error) {
	if s.ListDueRemindersFn != nil {
		return s.ListDueRemindersFn(ctx, now, limit)
	}
	return nil, nil
}

func (s *MockTemplateStore) MarkReminderSent(ctx context.Context, id uuid.UUID, at time.Time) error {
	if s.MarkReminderSentFn != nil {
		return s.MarkReminderSentFn(ctx, id, at)
	}
	return nil
}

func (s *MockTemplateStore) ListCompletions(ctx context.Context, ownerID uuid.UUID, since time.Time) ([]time.Time, error) {
	if s.ListCompletionsFn != nil {
		return s.ListCompletionsFn(ctx, ownerID, since)
	}
	return nil, nil
}

func (s *MockTemplateStore) ListDueTemplates(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	if s.ListDueTemplatesFn != nil {
		return s.ListDueTemplatesFn(ctx, now, limit)
	}
	return nil, nil
}

func (s *MockTemplateStore) ListActiveOwners(ctx context.Context, since time.Time) ([]uuid.UUID, error) {
	if s.ListActiveOwnersFn != nil {
		return s.ListActiveOwnersFn(ctx, since)
	}
	return nil, nil
}

// Ensure MockTemplateStore implements store.TemplateStore interface
var _ store.TemplateStore = (*MockTemplateStore)(nil)

// MockLedgerStore implements store.LedgerStore for testing.
type MockLedgerStore struct {
	GrantFn        func(ctx context.Context, entry *domain.LedgerEntry) error
	ConsumeFn      func(ctx context.Context, userID uuid.UUID, amount int64) (*store.ConsumeResult, error)
	ExpireDueFn    func(ctx context.Context, now time.Time) (*store.ExpireResult, error)
	RenewMonthlyFn func(ctx context.Context, userID uuid.UUID, amount, carryoverCap int64, expiresAt time.Time) (*domain.LedgerEntry, error)
	GetBalanceFn   func(ctx context.Context, userID uuid.UUID) (*store.Balance, error)
}

func (s *MockLedgerStore) Grant(ctx context.Context, entry *domain.LedgerEntry) error {
	if s.GrantFn != nil {
		return s.GrantFn(ctx, entry)
	}
	return nil
}

func (s *MockLedgerStore) Consume(ctx context.Context, userID uuid.UUID, amount int64) (*store.ConsumeResult, error) {
	if s.ConsumeFn != nil {
		return s.ConsumeFn(ctx, userID, amount)
	}
	return &store.ConsumeResult{}, nil
}

func (s *MockLedgerStore) ExpireDue(ctx context.Context, now time.Time) (*store.ExpireResult, error) {
	if s.ExpireDueFn != nil {
		return s.ExpireDueFn(ctx, now)
	}
	return &store.ExpireResult{}, nil
}

func (s *MockLedgerStore) RenewMonthly(ctx context.Context, userID uuid.UUID, amount, carryoverCap int64, expiresAt time.Time) (*domain.LedgerEntry, error) {
	if s.RenewMonthlyFn != nil {
		return s.RenewMonthlyFn(ctx, userID, amount, carryoverCap, expiresAt)
	}
	return nil, nil
}

func (s *MockLedgerStore) GetBalance(ctx context.Context, userID uuid.UUID) (*store.Balance, error) {
	if s.GetBalanceFn != nil {
		return s.GetBalanceFn(ctx, userID)
	}
	return &store.Balance{ByType: map[domain.CreditType]int64{}}, nil
}

// Ensure MockLedgerStore implements store.LedgerStore interface
var _ store.LedgerStore = (*MockLedgerStore)(nil)

// MockSubscriptionStore implements store.SubscriptionStore for testing.
type MockSubscriptionStore struct {
	UpsertFn      func(ctx context.Context, sub *domain.Subscription) error
	GetByUserIDFn func(ctx context.Context, userID uuid.UUID) (*domain.Subscription, error)
	ListLapsedFn  func(ctx context.Context, now time.Time) ([]*domain.Subscription, error)
}

func (s *MockSubscriptionStore) Upsert(ctx context.Context, sub *domain.Subscription) error {
	if s.UpsertFn != nil {
		return s.UpsertFn(ctx, sub)
	}
	return nil
}

func (s *MockSubscriptionStore) GetByUserID(ctx context.Context, userID uuid.UUID) (*domain.Subscription, error) {
	if s.GetByUserIDFn != nil {
		return s.GetByUserIDFn(ctx, userID)
	}
	return nil, store.ErrSubscriptionNotFound
}

func (s *MockSubscriptionStore) ListLapsed(ctx context.Context, now time.Time) ([]*domain.Subscription, error) {
	if s.ListLapsedFn != nil {
		return s.ListLapsedFn(ctx, now)
	}
	return nil, nil
}

// Ensure MockSubscriptionStore implements store.SubscriptionStore interface
var _ store.SubscriptionStore = (*MockSubscriptionStore)(nil)
