package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/stride-app/stride-api/internal/domain"
	"github.com/stride-app/stride-api/internal/platform/logger"
	"github.com/stride-app/stride-api/internal/store"
)

// PostgresJobStore implements the store.JobStore interface using PostgreSQL.
//
// Claiming uses a single UPDATE over a FOR UPDATE SKIP LOCKED subselect, so
// concurrent workers never receive the same row and never wait on each
// other's claims.
type PostgresJobStore struct {
	db store.DBTX
}

// NewPostgresJobStore creates a new PostgresJobStore.
func NewPostgresJobStore(db store.DBTX) *PostgresJobStore {
	if db == nil {
		panic("db cannot be nil")
	}
	return &PostgresJobStore{db: db}
}

// Ensure PostgresJobStore implements store.JobStore interface
var _ store.JobStore = (*PostgresJobStore)(nil)

const jobColumns = `id, job_type, payload, status, attempt_count, max_attempts,
	scheduled_at, claimed_by, claimed_until, last_error, created_at, updated_at`

// Enqueue persists a new pending job.
func (s *PostgresJobStore) Enqueue(ctx context.Context, job *domain.Job) error {
	log := logger.FromContext(ctx)

	if err := job.Validate(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}

	query := `
		INSERT INTO jobs (id, job_type, payload, status, attempt_count, max_attempts,
			scheduled_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx, query,
		job.ID,
		job.Type,
		job.Payload,
		job.Status,
		job.AttemptCount,
		job.MaxAttempts,
		job.ScheduledAt,
		now,
		now,
	)
	if err != nil {
		log.Error("failed to enqueue job",
			"job_id", job.ID,
			"job_type", job.Type,
			"error", err)
		return MapError(err)
	}

	return nil
}

// Claim atomically leases one eligible job to workerID.
//
// Eligibility covers pending jobs whose scheduled_at has arrived and claimed
// jobs whose lease has lapsed; the latter is how crashed workers lose their
// claim without any explicit failure report.
func (s *PostgresJobStore) Claim(ctx context.Context, workerID string, lease time.Duration) (*domain.Job, error) {
	log := logger.FromContext(ctx)

	query := `
		UPDATE jobs
		SET status = $1,
		    claimed_by = $2,
		    claimed_until = now() + $3 * interval '1 second',
		    updated_at = now()
		WHERE id = (
			SELECT id FROM jobs
			WHERE (status = $4 AND scheduled_at <= now())
			   OR (status = $1 AND claimed_until < now())
			ORDER BY scheduled_at ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING ` + jobColumns

	row := s.db.QueryRowContext(ctx, query,
		domain.JobStatusClaimed,
		workerID,
		lease.Seconds(),
		domain.JobStatusPending,
	)

	job, err := scanJob(row.Scan)
	if err != nil {
		if IsNotFoundError(err) {
			// No eligible job is not an error.
			return nil, nil
		}
		log.Error("failed to claim job", "worker_id", workerID, "error", err)
		return nil, MapError(err)
	}

	return job, nil
}

// Complete marks a job succeeded and releases its claim. The update only
// matches while workerID still holds the claim; zero rows means the lease
// was reclaimed and the outcome now belongs to another worker, so the call
// is a no-op.
func (s *PostgresJobStore) Complete(ctx context.Context, jobID uuid.UUID, workerID string) error {
	log := logger.FromContext(ctx)

	query := `
		UPDATE jobs
		SET status = $1, claimed_by = NULL, claimed_until = NULL, updated_at = now()
		WHERE id = $2 AND status = $3 AND claimed_by = $4
	`

	result, err := s.db.ExecContext(ctx, query,
		domain.JobStatusSucceeded,
		jobID,
		domain.JobStatusClaimed,
		workerID,
	)
	if err != nil {
		return MapError(err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		log.Warn("completion report ignored, claim no longer held",
			"job_id", jobID,
			"worker_id", workerID)
	}
	return nil
}

// Fail records a failed attempt. Transient failures reschedule with the
// exponential backoff until the attempt budget is spent; permanent failures
// go straight to dead so unfixable jobs do not burn retries.
//
// The writes carry the same claimant guard as Complete, plus the attempt
// count read at the start, so a stale worker whose job was reclaimed, or
// one racing another report, matches zero rows and changes nothing.
func (s *PostgresJobStore) Fail(ctx context.Context, jobID uuid.UUID, workerID string, errMsg string, permanent bool) error {
	log := logger.FromContext(ctx)

	job, err := s.GetByID(ctx, jobID)
	if err != nil {
		return err
	}

	attempts := job.AttemptCount + 1

	var result sql.Result
	if permanent || attempts >= job.MaxAttempts {
		query := `
			UPDATE jobs
			SET status = $1, attempt_count = $2, last_error = $3,
			    claimed_by = NULL, claimed_until = NULL, updated_at = now()
			WHERE id = $4 AND status = $5 AND claimed_by = $6 AND attempt_count = $7
		`
		result, err = s.db.ExecContext(ctx, query,
			domain.JobStatusDead,
			attempts,
			errMsg,
			jobID,
			domain.JobStatusClaimed,
			workerID,
			job.AttemptCount,
		)
	} else {
		delay := domain.Backoff(attempts)
		query := `
			UPDATE jobs
			SET status = $1, attempt_count = $2, last_error = $3,
			    scheduled_at = now() + $4 * interval '1 second',
			    claimed_by = NULL, claimed_until = NULL, updated_at = now()
			WHERE id = $5 AND status = $6 AND claimed_by = $7 AND attempt_count = $8
		`
		result, err = s.db.ExecContext(ctx, query,
			domain.JobStatusPending,
			attempts,
			errMsg,
			delay.Seconds(),
			jobID,
			domain.JobStatusClaimed,
			workerID,
			job.AttemptCount,
		)
	}
	if err != nil {
		return MapError(err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		log.Warn("failure report ignored, claim no longer held",
			"job_id", jobID,
			"worker_id", workerID)
		return nil
	}

	if permanent || attempts >= job.MaxAttempts {
		log.Warn("job moved to dead state",
			"job_id", jobID,
			"job_type", job.Type,
			"attempt_count", attempts,
			"permanent", permanent,
			"error_message", errMsg)
	} else {
		log.Info("job rescheduled for retry",
			"job_id", jobID,
			"job_type", job.Type,
			"attempt_count", attempts,
			"retry_in", domain.Backoff(attempts))
	}

	return nil
}

// GetByID retrieves a job by its unique ID.
func (s *PostgresJobStore) GetByID(ctx context.Context, jobID uuid.UUID) (*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`

	row := s.db.QueryRowContext(ctx, query, jobID)

	job, err := scanJob(row.Scan)
	if err != nil {
		if IsNotFoundError(err) {
			return nil, store.ErrJobNotFound
		}
		return nil, MapError(err)
	}

	return job, nil
}

// CountByStatus reports how many jobs are in each status.
func (s *PostgresJobStore) CountByStatus(ctx context.Context) (map[domain.JobStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*)
		FROM jobs
		GROUP BY status
	`)
	if err != nil {
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[domain.JobStatus]int)
	for rows.Next() {
		var status domain.JobStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan job count row: %w", err)
		}
		counts[status] = count
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating job count rows: %w", err)
	}

	return counts, nil
}

// WithTx returns a new JobStore instance that uses the provided transaction.
func (s *PostgresJobStore) WithTx(tx *sql.Tx) store.JobStore {
	return &PostgresJobStore{db: tx}
}

// scanJob maps one job row into a domain.Job, handling nullable columns.
func scanJob(scan func(dest ...any) error) (*domain.Job, error) {
	var job domain.Job
	var claimedBy sql.NullString
	var claimedUntil sql.NullTime
	var lastError sql.NullString

	err := scan(
		&job.ID,
		&job.Type,
		&job.Payload,
		&job.Status,
		&job.AttemptCount,
		&job.MaxAttempts,
		&job.ScheduledAt,
		&claimedBy,
		&claimedUntil,
		&lastError,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	job.ClaimedBy = claimedBy.String
	if claimedUntil.Valid {
		t := claimedUntil.Time
		job.ClaimedUntil = &t
	}
	job.LastError = lastError.String

	return &job, nil
}
