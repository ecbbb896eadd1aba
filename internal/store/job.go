package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/stride-app/stride-api/internal/domain"
)

// JobStore defines the interface for the persisted job queue.
type JobStore interface {
	// Enqueue persists a new pending job.
	// Returns validation errors from the domain if the job is invalid.
	Enqueue(ctx context.Context, job *domain.Job) error

	// Claim atomically selects one eligible job and leases it to workerID
	// until now+lease. Eligible means pending with scheduled_at due, or
	// claimed with an expired lease. No two concurrent callers ever receive
	// the same job. Returns (nil, nil) when no eligible job exists.
	Claim(ctx context.Context, workerID string, lease time.Duration) (*domain.Job, error)

	// Complete marks a job succeeded. Only the worker currently holding
	// the claim can write; a report from a worker whose lease was
	// reclaimed is a no-op, so a stale worker can never alter a job
	// another worker now owns.
	Complete(ctx context.Context, jobID uuid.UUID, workerID string) error

	// Fail records a failed attempt. Transient failures are rescheduled as
	// pending with the backoff delay until MaxAttempts is exhausted, then
	// the job goes dead. Permanent failures go dead immediately without
	// burning the retry budget. Like Complete, only the current claimant
	// can write; a stale worker's report is a no-op.
	Fail(ctx context.Context, jobID uuid.UUID, workerID string, errMsg string, permanent bool) error

	// GetByID retrieves a job by its unique ID.
	// Returns ErrJobNotFound if the job does not exist.
	GetByID(ctx context.Context, jobID uuid.UUID) (*domain.Job, error)

	// CountByStatus reports how many jobs are in each status.
	CountByStatus(ctx context.Context) (map[domain.JobStatus]int, error)

	// WithTx returns a new JobStore instance that uses the provided transaction.
	// This allows for multiple operations to be executed within a single transaction.
	// The transaction should be created and managed by the caller (typically a service).
	WithTx(tx *sql.Tx) JobStore
}
