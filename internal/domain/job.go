package domain

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// JobType identifies the handler a job is dispatched to.
type JobType string

// Known job types. The set is closed: a job carrying any other type is a
// permanent failure and goes straight to the dead state.
const (
	JobTypeReminderFire      JobType = "reminder_fire"
	JobTypeStreakCalculate   JobType = "streak_calculate"
	JobTypeCreditExpire      JobType = "credit_expire"
	JobTypeSubscriptionCheck JobType = "subscription_check"
	JobTypeRecurringGenerate JobType = "recurring_generate"
)

// JobStatus represents the current state of a job.
type JobStatus string

// Possible job status values. Lifecycle:
// pending -> claimed -> succeeded | pending (retry) | dead.
const (
	JobStatusPending   JobStatus = "pending"
	JobStatusClaimed   JobStatus = "claimed"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
	JobStatusDead      JobStatus = "dead"
)

// DefaultMaxAttempts is the number of execution attempts a job gets before
// it is moved to the dead state.
const DefaultMaxAttempts = 3

// Job-specific validation errors.
var (
	// ErrJobIDEmpty is returned when a job ID is empty or nil.
	ErrJobIDEmpty = errors.New("job ID cannot be empty")

	// ErrJobPayloadInvalid is returned when a job payload is not valid JSON.
	ErrJobPayloadInvalid = errors.New("job payload must be valid JSON")
)

// JobPayload is the logical payload shape shared by all job types: the
// entity the job operates on plus optional type-specific extras.
type JobPayload struct {
	EntityID uuid.UUID                  `json:"entity_id"`
	Extra    map[string]json.RawMessage `json:"extra,omitempty"`
}

// Job represents a persisted unit of background work.
type Job struct {
	ID           uuid.UUID       `json:"id"`
	Type         JobType         `json:"type"`
	Payload      json.RawMessage `json:"payload"`
	Status       JobStatus       `json:"status"`
	AttemptCount int             `json:"attempt_count"`
	MaxAttempts  int             `json:"max_attempts"`
	ScheduledAt  time.Time       `json:"scheduled_at"`
	ClaimedBy    string          `json:"claimed_by,omitempty"`
	ClaimedUntil *time.Time      `json:"claimed_until,omitempty"`
	LastError    string          `json:"last_error,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// NewJob creates a pending Job of the given type, scheduled for scheduledAt.
// It generates a new UUID for the job ID and validates the result.
func NewJob(jobType JobType, payload JobPayload, scheduledAt time.Time) (*Job, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, ErrJobPayloadInvalid
	}

	now := time.Now().UTC()
	job := &Job{
		ID:          uuid.New(),
		Type:        jobType,
		Payload:     raw,
		Status:      JobStatusPending,
		MaxAttempts: DefaultMaxAttempts,
		ScheduledAt: scheduledAt.UTC(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := job.Validate(); err != nil {
		return nil, err
	}

	return job, nil
}

// Validate checks if the Job has valid data.
func (j *Job) Validate() error {
	if j.ID == uuid.Nil {
		return ErrJobIDEmpty
	}

	if !j.Type.IsValid() {
		return ErrInvalidJobType
	}

	if !j.Status.IsValid() {
		return ErrInvalidJobStatus
	}

	if len(j.Payload) > 0 {
		var js json.RawMessage
		if err := json.Unmarshal(j.Payload, &js); err != nil {
			return ErrJobPayloadInvalid
		}
	}

	return nil
}

// DecodePayload unmarshals the job's payload into the standard shape.
func (j *Job) DecodePayload() (JobPayload, error) {
	var p JobPayload
	if err := json.Unmarshal(j.Payload, &p); err != nil {
		return JobPayload{}, ErrJobPayloadInvalid
	}
	return p, nil
}

// LeaseExpired reports whether a claimed job's lease has lapsed, making the
// job eligible for reclaiming by another worker.
func (j *Job) LeaseExpired(now time.Time) bool {
	return j.Status == JobStatusClaimed && j.ClaimedUntil != nil && j.ClaimedUntil.Before(now)
}

// IsValid reports whether the job type is one of the known constants.
func (t JobType) IsValid() bool {
	switch t {
	case JobTypeReminderFire,
		JobTypeStreakCalculate,
		JobTypeCreditExpire,
		JobTypeSubscriptionCheck,
		JobTypeRecurringGenerate:
		return true
	}
	return false
}

// IsValid reports whether the status is one of the known constants.
func (s JobStatus) IsValid() bool {
	switch s {
	case JobStatusPending, JobStatusClaimed, JobStatusSucceeded, JobStatusFailed, JobStatusDead:
		return true
	}
	return false
}

// IsTerminal reports whether the status ends the job's lifecycle.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusSucceeded || s == JobStatusDead
}

// backoffSchedule maps the attempt count (1-based) to the retry delay.
// Attempts past the end of the schedule do not retry: the job is dead by then.
var backoffSchedule = []time.Duration{
	1 * time.Minute,
	5 * time.Minute,
	15 * time.Minute,
}

// Backoff returns the delay before the next attempt after attempt failures.
// The schedule is exponential (1m, 5m, 15m); callers must move the job to the
// dead state instead of consulting Backoff once MaxAttempts is reached.
func Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > len(backoffSchedule) {
		attempt = len(backoffSchedule)
	}
	return backoffSchedule[attempt-1]
}
