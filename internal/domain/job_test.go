package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJob(t *testing.T) {
	scheduledAt := time.Now().UTC().Add(time.Hour)

	t.Run("valid job", func(t *testing.T) {
		entityID := uuid.New()
		job, err := NewJob(JobTypeReminderFire, JobPayload{EntityID: entityID}, scheduledAt)
		require.NoError(t, err)

		assert.NotEqual(t, uuid.Nil, job.ID)
		assert.Equal(t, JobStatusPending, job.Status)
		assert.Equal(t, DefaultMaxAttempts, job.MaxAttempts)
		assert.Zero(t, job.AttemptCount)
		assert.Equal(t, scheduledAt, job.ScheduledAt)

		payload, err := job.DecodePayload()
		require.NoError(t, err)
		assert.Equal(t, entityID, payload.EntityID)
	})

	t.Run("unknown type rejected", func(t *testing.T) {
		_, err := NewJob(JobType("mystery_job"), JobPayload{}, scheduledAt)
		assert.ErrorIs(t, err, ErrInvalidJobType)
	})
}

func TestJobValidate(t *testing.T) {
	job, err := NewJob(JobTypeCreditExpire, JobPayload{}, time.Now().UTC())
	require.NoError(t, err)

	t.Run("malformed payload", func(t *testing.T) {
		bad := *job
		bad.Payload = []byte(`{"entity_id":`)
		assert.ErrorIs(t, bad.Validate(), ErrJobPayloadInvalid)
	})

	t.Run("nil ID", func(t *testing.T) {
		bad := *job
		bad.ID = uuid.Nil
		assert.ErrorIs(t, bad.Validate(), ErrJobIDEmpty)
	})

	t.Run("bad status", func(t *testing.T) {
		bad := *job
		bad.Status = JobStatus("sleeping")
		assert.ErrorIs(t, bad.Validate(), ErrInvalidJobStatus)
	})
}

func TestDecodePayloadMalformed(t *testing.T) {
	job, err := NewJob(JobTypeStreakCalculate, JobPayload{}, time.Now().UTC())
	require.NoError(t, err)
	job.Payload = []byte(`{"entity_id": 42}`)

	_, err = job.DecodePayload()
	assert.ErrorIs(t, err, ErrJobPayloadInvalid)
}

func TestLeaseExpired(t *testing.T) {
	now := time.Now().UTC()
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	t.Run("claimed with lapsed lease", func(t *testing.T) {
		job := &Job{Status: JobStatusClaimed, ClaimedUntil: &past}
		assert.True(t, job.LeaseExpired(now))
	})

	t.Run("claimed with live lease", func(t *testing.T) {
		job := &Job{Status: JobStatusClaimed, ClaimedUntil: &future}
		assert.False(t, job.LeaseExpired(now))
	})

	t.Run("pending never expires", func(t *testing.T) {
		job := &Job{Status: JobStatusPending, ClaimedUntil: &past}
		assert.False(t, job.LeaseExpired(now))
	})
}

func TestJobStatusIsTerminal(t *testing.T) {
	assert.True(t, JobStatusSucceeded.IsTerminal())
	assert.True(t, JobStatusDead.IsTerminal())
	assert.False(t, JobStatusPending.IsTerminal())
	assert.False(t, JobStatusClaimed.IsTerminal())
	assert.False(t, JobStatusFailed.IsTerminal())
}

func TestBackoff(t *testing.T) {
	assert.Equal(t, 1*time.Minute, Backoff(1))
	assert.Equal(t, 5*time.Minute, Backoff(2))
	assert.Equal(t, 15*time.Minute, Backoff(3))

	// Out-of-range attempts clamp to the schedule's edges.
	assert.Equal(t, 1*time.Minute, Backoff(0))
	assert.Equal(t, 15*time.Minute, Backoff(10))
}
