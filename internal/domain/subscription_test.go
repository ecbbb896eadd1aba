package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSubscription(t *testing.T) {
	userID := uuid.New()
	periodEnd := time.Now().UTC().AddDate(0, 1, 0)

	t.Run("valid subscription", func(t *testing.T) {
		sub, err := NewSubscription(userID, 100, periodEnd)
		require.NoError(t, err)
		assert.Equal(t, SubscriptionStatusActive, sub.Status)
		assert.Equal(t, periodEnd, sub.CurrentPeriodEnd)
		assert.Nil(t, sub.GraceUntil)
	})

	t.Run("rejects bad input", func(t *testing.T) {
		_, err := NewSubscription(uuid.Nil, 100, periodEnd)
		assert.ErrorIs(t, err, ErrSubscriptionUserEmpty)

		_, err = NewSubscription(userID, 0, periodEnd)
		assert.ErrorIs(t, err, ErrInvalidAmount)
	})
}

func TestSubscriptionCheckGrace(t *testing.T) {
	userID := uuid.New()
	now := time.Now().UTC()

	newSub := func(status SubscriptionStatus, periodEnd time.Time) *Subscription {
		return &Subscription{
			UserID:           userID,
			Status:           status,
			MonthlyCredits:   100,
			CurrentPeriodEnd: periodEnd,
		}
	}

	t.Run("active within period stays active", func(t *testing.T) {
		sub := newSub(SubscriptionStatusActive, now.Add(time.Hour))
		assert.False(t, sub.CheckGrace(now, DefaultGracePeriod))
		assert.Equal(t, SubscriptionStatusActive, sub.Status)
	})

	t.Run("active past period end enters grace", func(t *testing.T) {
		periodEnd := now.Add(-time.Hour)
		sub := newSub(SubscriptionStatusActive, periodEnd)

		assert.True(t, sub.CheckGrace(now, DefaultGracePeriod))
		assert.Equal(t, SubscriptionStatusGrace, sub.Status)
		require.NotNil(t, sub.GraceUntil)
		assert.Equal(t, periodEnd.Add(DefaultGracePeriod), *sub.GraceUntil)
	})

	t.Run("grace before deadline is unchanged", func(t *testing.T) {
		sub := newSub(SubscriptionStatusGrace, now.Add(-time.Hour))
		graceUntil := now.Add(time.Hour)
		sub.GraceUntil = &graceUntil

		assert.False(t, sub.CheckGrace(now, DefaultGracePeriod))
		assert.Equal(t, SubscriptionStatusGrace, sub.Status)
	})

	t.Run("grace past deadline expires", func(t *testing.T) {
		sub := newSub(SubscriptionStatusGrace, now.Add(-DefaultGracePeriod-time.Hour))
		graceUntil := now.Add(-time.Minute)
		sub.GraceUntil = &graceUntil

		assert.True(t, sub.CheckGrace(now, DefaultGracePeriod))
		assert.Equal(t, SubscriptionStatusExpired, sub.Status)
	})

	t.Run("expired never changes again", func(t *testing.T) {
		sub := newSub(SubscriptionStatusExpired, now.Add(-30*24*time.Hour))
		assert.False(t, sub.CheckGrace(now, DefaultGracePeriod))
		assert.Equal(t, SubscriptionStatusExpired, sub.Status)
	})

	t.Run("repeated checks are idempotent", func(t *testing.T) {
		sub := newSub(SubscriptionStatusActive, now.Add(-time.Hour))

		assert.True(t, sub.CheckGrace(now, DefaultGracePeriod))
		firstGrace := *sub.GraceUntil

		assert.False(t, sub.CheckGrace(now, DefaultGracePeriod))
		assert.Equal(t, firstGrace, *sub.GraceUntil)
	})
}

func TestSubscriptionRenew(t *testing.T) {
	now := time.Now().UTC()
	graceUntil := now.Add(time.Hour)
	sub := &Subscription{
		UserID:           uuid.New(),
		Status:           SubscriptionStatusGrace,
		MonthlyCredits:   100,
		CurrentPeriodEnd: now.Add(-time.Hour),
		GraceUntil:       &graceUntil,
	}

	newPeriodEnd := now.AddDate(0, 1, 0)
	sub.Renew(newPeriodEnd)

	assert.Equal(t, SubscriptionStatusActive, sub.Status)
	assert.Equal(t, newPeriodEnd, sub.CurrentPeriodEnd)
	assert.Nil(t, sub.GraceUntil)
}
