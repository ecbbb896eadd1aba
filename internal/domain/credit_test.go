package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func grant(creditType CreditType, remaining int64, grantedAt time.Time) GrantBalance {
	return GrantBalance{
		EntryID:    uuid.New(),
		CreditType: creditType,
		Remaining:  remaining,
		GrantedAt:  grantedAt,
	}
}

func TestPlanConsumption(t *testing.T) {
	now := time.Now().UTC()

	t.Run("spends daily before purchased", func(t *testing.T) {
		grants := []GrantBalance{
			grant(CreditTypePurchased, 10, now.Add(-48*time.Hour)),
			grant(CreditTypeDaily, 5, now.Add(-time.Hour)),
		}

		plan, err := PlanConsumption(grants, 8)
		require.NoError(t, err)
		require.Len(t, plan, 2)

		// Daily drains first even though the purchased grant is older.
		assert.Equal(t, CreditTypeDaily, plan[0].CreditType)
		assert.Equal(t, int64(5), plan[0].Amount)
		assert.Equal(t, CreditTypePurchased, plan[1].CreditType)
		assert.Equal(t, int64(3), plan[1].Amount)
	})

	t.Run("full precedence order", func(t *testing.T) {
		grants := []GrantBalance{
			grant(CreditTypeKickstart, 10, now.Add(-96*time.Hour)),
			grant(CreditTypePurchased, 10, now.Add(-72*time.Hour)),
			grant(CreditTypeMonthly, 10, now.Add(-48*time.Hour)),
			grant(CreditTypeDaily, 10, now.Add(-24*time.Hour)),
		}

		plan, err := PlanConsumption(grants, 35)
		require.NoError(t, err)
		require.Len(t, plan, 4)
		assert.Equal(t, CreditTypeDaily, plan[0].CreditType)
		assert.Equal(t, CreditTypeMonthly, plan[1].CreditType)
		assert.Equal(t, CreditTypePurchased, plan[2].CreditType)
		assert.Equal(t, CreditTypeKickstart, plan[3].CreditType)
		assert.Equal(t, int64(5), plan[3].Amount)
	})

	t.Run("oldest grant first within a type", func(t *testing.T) {
		older := grant(CreditTypePurchased, 4, now.Add(-72*time.Hour))
		newer := grant(CreditTypePurchased, 4, now.Add(-time.Hour))
		grants := []GrantBalance{newer, older}

		plan, err := PlanConsumption(grants, 6)
		require.NoError(t, err)
		require.Len(t, plan, 2)
		assert.Equal(t, older.EntryID, plan[0].EntryID)
		assert.Equal(t, int64(4), plan[0].Amount)
		assert.Equal(t, newer.EntryID, plan[1].EntryID)
		assert.Equal(t, int64(2), plan[1].Amount)
	})

	t.Run("insufficient balance rejects the whole plan", func(t *testing.T) {
		grants := []GrantBalance{
			grant(CreditTypeDaily, 3, now),
			grant(CreditTypeMonthly, 4, now),
		}

		plan, err := PlanConsumption(grants, 8)
		assert.ErrorIs(t, err, ErrInsufficientCredits)
		assert.Nil(t, plan, "a partial plan must never escape")
	})

	t.Run("exact balance drains everything", func(t *testing.T) {
		grants := []GrantBalance{
			grant(CreditTypeDaily, 3, now),
			grant(CreditTypeKickstart, 5, now),
		}

		plan, err := PlanConsumption(grants, 8)
		require.NoError(t, err)

		var total int64
		for _, d := range plan {
			total += d.Amount
		}
		assert.Equal(t, int64(8), total)
	})

	t.Run("rejects non-positive amounts", func(t *testing.T) {
		grants := []GrantBalance{grant(CreditTypeDaily, 10, now)}

		_, err := PlanConsumption(grants, 0)
		assert.ErrorIs(t, err, ErrInvalidAmount)

		_, err = PlanConsumption(grants, -1)
		assert.ErrorIs(t, err, ErrInvalidAmount)
	})

	t.Run("no grants at all", func(t *testing.T) {
		_, err := PlanConsumption(nil, 1)
		assert.ErrorIs(t, err, ErrInsufficientCredits)
	})

	t.Run("does not mutate input", func(t *testing.T) {
		grants := []GrantBalance{
			grant(CreditTypeDaily, 5, now.Add(-time.Hour)),
			grant(CreditTypeDaily, 5, now.Add(-2*time.Hour)),
		}
		first, second := grants[0], grants[1]

		_, err := PlanConsumption(grants, 7)
		require.NoError(t, err)
		assert.Equal(t, first, grants[0])
		assert.Equal(t, second, grants[1])
	})
}

func TestBreakdownByType(t *testing.T) {
	plan := []Deduction{
		{EntryID: uuid.New(), CreditType: CreditTypeDaily, Amount: 3},
		{EntryID: uuid.New(), CreditType: CreditTypeDaily, Amount: 2},
		{EntryID: uuid.New(), CreditType: CreditTypePurchased, Amount: 4},
	}

	breakdown := BreakdownByType(plan)
	require.Len(t, breakdown, 2)
	assert.Equal(t, TypeBreakdown{CreditType: CreditTypeDaily, Amount: 5}, breakdown[0])
	assert.Equal(t, TypeBreakdown{CreditType: CreditTypePurchased, Amount: 4}, breakdown[1])
}

func TestCarryover(t *testing.T) {
	tests := []struct {
		name     string
		unused   int64
		cap      int64
		expected int64
	}{
		{"under the cap", 30, 50, 30},
		{"at the cap", 50, 50, 50},
		{"over the cap discards the rest", 60, 50, 50},
		{"nothing unused", 0, 50, 0},
		{"negative clamps to zero", -10, 50, 0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, Carryover(tc.unused, tc.cap))
		})
	}
}

func TestNewGrant(t *testing.T) {
	userID := uuid.New()
	expiry := time.Now().UTC().Add(24 * time.Hour)

	t.Run("valid grant", func(t *testing.T) {
		entry, err := NewGrant(userID, CreditTypeDaily, 5, &expiry)
		require.NoError(t, err)
		assert.Equal(t, int64(5), entry.Amount)
		assert.Equal(t, int64(5), entry.Remaining)
		assert.Equal(t, &expiry, entry.ExpiresAt)
		assert.False(t, entry.Expired)
	})

	t.Run("rejects bad input", func(t *testing.T) {
		_, err := NewGrant(uuid.Nil, CreditTypeDaily, 5, nil)
		assert.ErrorIs(t, err, ErrLedgerUserIDEmpty)

		_, err = NewGrant(userID, CreditType("loyalty"), 5, nil)
		assert.ErrorIs(t, err, ErrInvalidCreditType)

		_, err = NewGrant(userID, CreditTypeDaily, 0, nil)
		assert.ErrorIs(t, err, ErrInvalidAmount)
	})
}
