package postgres

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stride-app/stride-api/internal/domain"
	"github.com/stride-app/stride-api/internal/testdb"
)

func grantCredits(t *testing.T, ledger *PostgresLedgerStore, userID uuid.UUID, creditType domain.CreditType, amount int64, expiresAt *time.Time) *domain.LedgerEntry {
	t.Helper()
	entry, err := domain.NewGrant(userID, creditType, amount, expiresAt)
	require.NoError(t, err)
	require.NoError(t, ledger.Grant(context.Background(), entry))
	return entry
}

func TestPostgresLedgerStoreConsume(t *testing.T) {
	db := testdb.Connect(t)
	ctx := context.Background()
	ledger := NewPostgresLedgerStore(db)

	t.Run("draws in consumption order", func(t *testing.T) {
		userID := uuid.New()
		exp := time.Now().UTC().Add(24 * time.Hour)
		grantCredits(t, ledger, userID, domain.CreditTypePurchased, 10, nil)
		grantCredits(t, ledger, userID, domain.CreditTypeDaily, 5, &exp)

		result, err := ledger.Consume(ctx, userID, 8)
		require.NoError(t, err)
		require.Len(t, result.Breakdown, 2)
		assert.Equal(t, domain.CreditTypeDaily, result.Breakdown[0].CreditType)
		assert.Equal(t, int64(5), result.Breakdown[0].Amount)
		assert.Equal(t, domain.CreditTypePurchased, result.Breakdown[1].CreditType)
		assert.Equal(t, int64(3), result.Breakdown[1].Amount)
		assert.Equal(t, int64(7), result.RemainingBalance)

		balance, err := ledger.GetBalance(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, int64(7), balance.Total)
	})

	t.Run("insufficient balance rolls back untouched", func(t *testing.T) {
		userID := uuid.New()
		grantCredits(t, ledger, userID, domain.CreditTypePurchased, 5, nil)

		_, err := ledger.Consume(ctx, userID, 8)
		require.ErrorIs(t, err, domain.ErrInsufficientCredits)

		balance, err := ledger.GetBalance(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, int64(5), balance.Total)

		var entries int
		require.NoError(t, db.QueryRow(
			"SELECT COUNT(*) FROM credit_ledger WHERE user_id = $1", userID).Scan(&entries))
		assert.Equal(t, 1, entries, "a failed consume must write nothing")
	})

	t.Run("concurrent consumes never overspend", func(t *testing.T) {
		userID := uuid.New()
		grantCredits(t, ledger, userID, domain.CreditTypePurchased, 10, nil)

		var wg sync.WaitGroup
		errs := make([]error, 2)
		for i := 0; i < 2; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, errs[i] = ledger.Consume(ctx, userID, 7)
			}(i)
		}
		wg.Wait()

		failures := 0
		for _, err := range errs {
			if err != nil {
				assert.ErrorIs(t, err, domain.ErrInsufficientCredits)
				failures++
			}
		}
		assert.Equal(t, 1, failures, "exactly one of the two consumes must lose")

		balance, err := ledger.GetBalance(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, int64(3), balance.Total)
	})
}

func TestPostgresLedgerStoreExpireDue(t *testing.T) {
	db := testdb.Connect(t)
	// The sweep is global, so the table must hold only this test's grants.
	testdb.Truncate(t, db, "credit_ledger")
	ctx := context.Background()
	ledger := NewPostgresLedgerStore(db)

	userID := uuid.New()
	past := time.Now().UTC().Add(-time.Hour)
	grantCredits(t, ledger, userID, domain.CreditTypeDaily, 5, &past)

	now := time.Now().UTC()
	first, err := ledger.ExpireDue(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Expired)
	require.Len(t, first.UserIDs, 1)
	assert.Equal(t, userID, first.UserIDs[0])

	balance, err := ledger.GetBalance(ctx, userID)
	require.NoError(t, err)
	assert.Zero(t, balance.Total)

	// The sweep runs as a re-executable job; a second pass finds nothing.
	second, err := ledger.ExpireDue(ctx, now)
	require.NoError(t, err)
	assert.Zero(t, second.Expired)
	assert.Empty(t, second.UserIDs)
}

func TestPostgresLedgerStoreRenewMonthly(t *testing.T) {
	db := testdb.Connect(t)
	ctx := context.Background()
	ledger := NewPostgresLedgerStore(db)

	t.Run("carries unused credits up to the cap", func(t *testing.T) {
		userID := uuid.New()
		exp := time.Now().UTC().Add(24 * time.Hour)
		grantCredits(t, ledger, userID, domain.CreditTypeMonthly, 80, &exp)

		nextPeriod := time.Now().UTC().AddDate(0, 1, 0)
		grant, err := ledger.RenewMonthly(ctx, userID, 100, domain.MonthlyCarryoverCap, nextPeriod)
		require.NoError(t, err)
		assert.Equal(t, int64(150), grant.Amount, "100 new plus 80 unused capped at 50")
		assert.Equal(t, domain.CreditTypeMonthly, grant.CreditType)

		balance, err := ledger.GetBalance(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, int64(150), balance.ByType[domain.CreditTypeMonthly])
		assert.Equal(t, int64(150), balance.Total)
	})

	t.Run("unused below the cap carries fully", func(t *testing.T) {
		userID := uuid.New()
		exp := time.Now().UTC().Add(24 * time.Hour)
		grantCredits(t, ledger, userID, domain.CreditTypeMonthly, 30, &exp)

		nextPeriod := time.Now().UTC().AddDate(0, 1, 0)
		grant, err := ledger.RenewMonthly(ctx, userID, 100, domain.MonthlyCarryoverCap, nextPeriod)
		require.NoError(t, err)
		assert.Equal(t, int64(130), grant.Amount)
	})

	t.Run("other credit types are untouched", func(t *testing.T) {
		userID := uuid.New()
		grantCredits(t, ledger, userID, domain.CreditTypePurchased, 40, nil)

		nextPeriod := time.Now().UTC().AddDate(0, 1, 0)
		grant, err := ledger.RenewMonthly(ctx, userID, 100, domain.MonthlyCarryoverCap, nextPeriod)
		require.NoError(t, err)
		assert.Equal(t, int64(100), grant.Amount)

		balance, err := ledger.GetBalance(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, int64(40), balance.ByType[domain.CreditTypePurchased])
		assert.Equal(t, int64(140), balance.Total)
	})
}
