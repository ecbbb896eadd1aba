package recurrence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	t.Run("accepts standard expressions", func(t *testing.T) {
		for _, rule := range []string{
			"0 7 * * *",
			"*/15 * * * *",
			"0 9 * * MON-FRI",
			"@daily",
		} {
			schedule, err := Parse(rule)
			require.NoError(t, err, "rule %q", rule)
			assert.Equal(t, rule, schedule.Spec())
		}
	})

	t.Run("rejects garbage", func(t *testing.T) {
		for _, rule := range []string{
			"",
			"every tuesday",
			"61 * * * *",
			"* * * *",
		} {
			_, err := Parse(rule)
			assert.ErrorIs(t, err, ErrInvalidRule, "rule %q", rule)
		}
	})
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate("30 6 * * *"))
	assert.ErrorIs(t, Validate("not a rule"), ErrInvalidRule)
}

func TestScheduleNext(t *testing.T) {
	schedule, err := Parse("0 7 * * *")
	require.NoError(t, err)

	after := time.Date(2026, 3, 10, 7, 0, 0, 0, time.UTC)

	t.Run("strictly after the reference", func(t *testing.T) {
		next := schedule.Next(after)
		assert.Equal(t, time.Date(2026, 3, 11, 7, 0, 0, 0, time.UTC), next,
			"a reference exactly on the boundary resolves to the following slot")
	})

	t.Run("resolves in UTC regardless of input zone", func(t *testing.T) {
		loc := time.FixedZone("UTC+5", 5*3600)
		next := schedule.Next(after.In(loc))
		assert.Equal(t, time.UTC, next.Location())
		assert.Equal(t, time.Date(2026, 3, 11, 7, 0, 0, 0, time.UTC), next)
	})

	t.Run("advancing repeatedly walks the schedule", func(t *testing.T) {
		cur := after
		for i := 0; i < 3; i++ {
			next := schedule.Next(cur)
			assert.True(t, next.After(cur))
			assert.Equal(t, 24*time.Hour, next.Sub(cur))
			cur = next
		}
	})
}
