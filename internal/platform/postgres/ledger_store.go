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

// PostgresLedgerStore implements the store.LedgerStore interface using
// PostgreSQL.
//
// Every mutating operation runs in its own transaction and takes a
// per-user advisory lock first, so concurrent grants, consumptions and
// renewals for the same user serialize while different users proceed in
// parallel. Grant rows are additionally locked FOR UPDATE before their
// remaining value is touched.
type PostgresLedgerStore struct {
	db *sql.DB
}

// NewPostgresLedgerStore creates a new PostgresLedgerStore.
func NewPostgresLedgerStore(db *sql.DB) *PostgresLedgerStore {
	if db == nil {
		panic("db cannot be nil")
	}
	return &PostgresLedgerStore{db: db}
}

// Ensure PostgresLedgerStore implements store.LedgerStore interface
var _ store.LedgerStore = (*PostgresLedgerStore)(nil)

// Grant appends a positive entry and updates the running balance.
func (s *PostgresLedgerStore) Grant(ctx context.Context, entry *domain.LedgerEntry) error {
	if entry.Amount <= 0 {
		return fmt.Errorf("%w: grant amount must be positive", store.ErrInvalidEntity)
	}

	return store.RunInTransaction(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		if err := lockUserLedger(ctx, tx, entry.UserID); err != nil {
			return err
		}

		balance, err := lastBalance(ctx, tx, entry.UserID)
		if err != nil {
			return err
		}

		entry.BalanceAfter = balance + entry.Amount
		return insertLedgerEntry(ctx, tx, entry, nil)
	})
}

// Consume deducts amount from the user's open grants strictly in FIFO order
// across credit types. The whole operation is atomic: an insufficient
// balance rolls back with domain.ErrInsufficientCredits and the ledger is
// left unchanged.
func (s *PostgresLedgerStore) Consume(ctx context.Context, userID uuid.UUID, amount int64) (*store.ConsumeResult, error) {
	log := logger.FromContext(ctx)

	var result *store.ConsumeResult
	err := store.RunInTransaction(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		if err := lockUserLedger(ctx, tx, userID); err != nil {
			return err
		}

		now := time.Now().UTC()
		grants, err := openGrantsForUpdate(ctx, tx, userID, now)
		if err != nil {
			return err
		}

		plan, err := domain.PlanConsumption(grants, amount)
		if err != nil {
			return err
		}

		balance, err := lastBalance(ctx, tx, userID)
		if err != nil {
			return err
		}

		var available int64
		for _, g := range grants {
			available += g.Remaining
		}

		for _, d := range plan {
			if err := decrementGrant(ctx, tx, d.EntryID, d.Amount); err != nil {
				return err
			}

			balance -= d.Amount
			consumption := &domain.LedgerEntry{
				ID:           uuid.New(),
				UserID:       userID,
				CreditType:   d.CreditType,
				Amount:       -d.Amount,
				BalanceAfter: balance,
				GrantedAt:    now,
				CreatedAt:    now,
			}
			if err := insertLedgerEntry(ctx, tx, consumption, &d.EntryID); err != nil {
				return err
			}
		}

		result = &store.ConsumeResult{
			Breakdown:        domain.BreakdownByType(plan),
			RemainingBalance: available - amount,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Debug("credits consumed",
		"user_id", userID,
		"amount", amount,
		"remaining_balance", result.RemainingBalance)

	return result, nil
}

// ExpireDue neutralizes every open grant whose expiry has passed. Grants
// already flagged expired are skipped, making overlapping runs harmless.
func (s *PostgresLedgerStore) ExpireDue(ctx context.Context, now time.Time) (*store.ExpireResult, error) {
	log := logger.FromContext(ctx)
	now = now.UTC()

	userIDs, err := s.usersWithExpiredGrants(ctx, now)
	if err != nil {
		return nil, err
	}

	result := &store.ExpireResult{}
	for _, userID := range userIDs {
		// One transaction per user keeps the advisory lock scope narrow.
		err := store.RunInTransaction(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
			if err := lockUserLedger(ctx, tx, userID); err != nil {
				return err
			}

			n, err := expireUserGrants(ctx, tx, userID, now, nil)
			if err != nil {
				return err
			}
			if n > 0 {
				result.Expired += n
				result.UserIDs = append(result.UserIDs, userID)
			}
			return nil
		})
		if err != nil {
			return result, err
		}
	}

	if result.Expired > 0 {
		log.Info("expired ledger grants", "count", result.Expired, "users", len(result.UserIDs))
	}

	return result, nil
}

// RenewMonthly expires the user's open monthly grants and issues the new
// period's grant with the unused balance carried over up to carryoverCap.
func (s *PostgresLedgerStore) RenewMonthly(
	ctx context.Context,
	userID uuid.UUID,
	amount, carryoverCap int64,
	expiresAt time.Time,
) (*domain.LedgerEntry, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: monthly grant amount must be positive", store.ErrInvalidEntity)
	}

	var grant *domain.LedgerEntry
	err := store.RunInTransaction(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		if err := lockUserLedger(ctx, tx, userID); err != nil {
			return err
		}

		now := time.Now().UTC()

		unused, err := openMonthlyRemaining(ctx, tx, userID)
		if err != nil {
			return err
		}
		carry := domain.Carryover(unused, carryoverCap)

		// Close out the old period: the remainder above the cap is
		// discarded with it.
		monthly := domain.CreditTypeMonthly
		if _, err := expireUserGrants(ctx, tx, userID, now, &monthly); err != nil {
			return err
		}

		balance, err := lastBalance(ctx, tx, userID)
		if err != nil {
			return err
		}

		expiry := expiresAt.UTC()
		grant = &domain.LedgerEntry{
			ID:           uuid.New(),
			UserID:       userID,
			CreditType:   domain.CreditTypeMonthly,
			Amount:       amount + carry,
			Remaining:    amount + carry,
			BalanceAfter: balance + amount + carry,
			GrantedAt:    now,
			ExpiresAt:    &expiry,
			CreatedAt:    now,
		}
		return insertLedgerEntry(ctx, tx, grant, nil)
	})
	if err != nil {
		return nil, err
	}

	return grant, nil
}

// GetBalance returns the user's available balance, total and per type.
// Grants past their expiry are excluded even before the expiration sweep
// has neutralized them.
func (s *PostgresLedgerStore) GetBalance(ctx context.Context, userID uuid.UUID) (*store.Balance, error) {
	query := `
		SELECT credit_type, COALESCE(SUM(remaining), 0)
		FROM credit_ledger
		WHERE user_id = $1
		  AND remaining > 0
		  AND NOT expired
		  AND (expires_at IS NULL OR expires_at > $2)
		GROUP BY credit_type
	`

	rows, err := s.db.QueryContext(ctx, query, userID, time.Now().UTC())
	if err != nil {
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	balance := &store.Balance{ByType: make(map[domain.CreditType]int64)}
	for rows.Next() {
		var ct domain.CreditType
		var sum int64
		if err := rows.Scan(&ct, &sum); err != nil {
			return nil, fmt.Errorf("failed to scan balance row: %w", err)
		}
		balance.ByType[ct] = sum
		balance.Total += sum
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating balance rows: %w", err)
	}

	return balance, nil
}

// usersWithExpiredGrants lists the users holding open grants past expiry.
func (s *PostgresLedgerStore) usersWithExpiredGrants(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT user_id
		FROM credit_ledger
		WHERE expires_at IS NOT NULL AND expires_at <= $1
		  AND remaining > 0 AND NOT expired
	`, now)
	if err != nil {
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	var userIDs []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan user ID row: %w", err)
		}
		userIDs = append(userIDs, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating user ID rows: %w", err)
	}

	return userIDs, nil
}

// lockUserLedger takes the per-user advisory lock for the duration of the
// surrounding transaction. It serializes ledger mutations for one user
// without blocking any other user.
func lockUserLedger(ctx context.Context, tx *sql.Tx, userID uuid.UUID) error {
	_, err := tx.ExecContext(ctx,
		`SELECT pg_advisory_xact_lock(hashtextextended($1::text, 0))`, userID)
	if err != nil {
		return fmt.Errorf("failed to lock user ledger: %w", err)
	}
	return nil
}

// lastBalance reads the balance snapshot of the user's latest ledger entry.
func lastBalance(ctx context.Context, tx *sql.Tx, userID uuid.UUID) (int64, error) {
	var balance int64
	err := tx.QueryRowContext(ctx, `
		SELECT balance_after FROM credit_ledger
		WHERE user_id = $1
		ORDER BY seq DESC
		LIMIT 1
	`, userID).Scan(&balance)
	if err != nil {
		if IsNotFoundError(err) {
			return 0, nil
		}
		return 0, MapError(err)
	}
	return balance, nil
}

// openGrantsForUpdate locks and returns the user's spendable grants.
func openGrantsForUpdate(ctx context.Context, tx *sql.Tx, userID uuid.UUID, now time.Time) ([]domain.GrantBalance, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT id, credit_type, remaining, granted_at
		FROM credit_ledger
		WHERE user_id = $1
		  AND remaining > 0
		  AND NOT expired
		  AND (expires_at IS NULL OR expires_at > $2)
		ORDER BY granted_at ASC
		FOR UPDATE
	`, userID, now)
	if err != nil {
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	var grants []domain.GrantBalance
	for rows.Next() {
		var g domain.GrantBalance
		if err := rows.Scan(&g.EntryID, &g.CreditType, &g.Remaining, &g.GrantedAt); err != nil {
			return nil, fmt.Errorf("failed to scan grant row: %w", err)
		}
		grants = append(grants, g)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating grant rows: %w", err)
	}

	return grants, nil
}

// openMonthlyRemaining sums the user's unspent monthly credits, locking the
// grant rows so the renewal's expire-and-regrant sees a stable value.
func openMonthlyRemaining(ctx context.Context, tx *sql.Tx, userID uuid.UUID) (int64, error) {
	var unused int64
	err := tx.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(remaining), 0)
		FROM (
			SELECT remaining FROM credit_ledger
			WHERE user_id = $1 AND credit_type = $2
			  AND remaining > 0 AND NOT expired
			FOR UPDATE
		) open_monthly
	`, userID, domain.CreditTypeMonthly).Scan(&unused)
	if err != nil {
		return 0, MapError(err)
	}
	return unused, nil
}

// expireUserGrants neutralizes the user's open grants that are past expiry,
// or every open grant of onlyType regardless of expiry when onlyType is set
// (the monthly renewal path). Each neutralized grant gets a paired negative
// entry and its expired flag set, so a second pass skips it.
func expireUserGrants(ctx context.Context, tx *sql.Tx, userID uuid.UUID, now time.Time, onlyType *domain.CreditType) (int, error) {
	var rows *sql.Rows
	var err error
	if onlyType != nil {
		rows, err = tx.QueryContext(ctx, `
			SELECT id, credit_type, remaining
			FROM credit_ledger
			WHERE user_id = $1 AND credit_type = $2
			  AND remaining > 0 AND NOT expired
			ORDER BY granted_at ASC
			FOR UPDATE
		`, userID, *onlyType)
	} else {
		rows, err = tx.QueryContext(ctx, `
			SELECT id, credit_type, remaining
			FROM credit_ledger
			WHERE user_id = $1
			  AND expires_at IS NOT NULL AND expires_at <= $2
			  AND remaining > 0 AND NOT expired
			ORDER BY granted_at ASC
			FOR UPDATE
		`, userID, now)
	}
	if err != nil {
		return 0, MapError(err)
	}

	type dueGrant struct {
		id         uuid.UUID
		creditType domain.CreditType
		remaining  int64
	}
	var due []dueGrant
	for rows.Next() {
		var g dueGrant
		if err := rows.Scan(&g.id, &g.creditType, &g.remaining); err != nil {
			_ = rows.Close()
			return 0, fmt.Errorf("failed to scan expiring grant row: %w", err)
		}
		due = append(due, g)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return 0, fmt.Errorf("error iterating expiring grant rows: %w", err)
	}
	_ = rows.Close()

	if len(due) == 0 {
		return 0, nil
	}

	balance, err := lastBalance(ctx, tx, userID)
	if err != nil {
		return 0, err
	}

	for _, g := range due {
		_, err := tx.ExecContext(ctx, `
			UPDATE credit_ledger
			SET remaining = 0, expired = TRUE
			WHERE id = $1
		`, g.id)
		if err != nil {
			return 0, MapError(err)
		}

		balance -= g.remaining
		neutralizer := &domain.LedgerEntry{
			ID:           uuid.New(),
			UserID:       userID,
			CreditType:   g.creditType,
			Amount:       -g.remaining,
			BalanceAfter: balance,
			GrantedAt:    now,
			CreatedAt:    now,
		}
		if err := insertLedgerEntry(ctx, tx, neutralizer, &g.id); err != nil {
			return 0, err
		}
	}

	return len(due), nil
}

// decrementGrant reduces a grant's remaining value, guarding against
// going below zero.
func decrementGrant(ctx context.Context, tx *sql.Tx, entryID uuid.UUID, amount int64) error {
	result, err := tx.ExecContext(ctx, `
		UPDATE credit_ledger
		SET remaining = remaining - $1
		WHERE id = $2 AND remaining >= $1
	`, amount, entryID)
	if err != nil {
		return MapError(err)
	}
	return CheckRowsAffected(result, "ledger entry")
}

// insertLedgerEntry appends one ledger row. refEntryID links consumption
// and expiration entries back to the grant they drew from.
func insertLedgerEntry(ctx context.Context, tx *sql.Tx, entry *domain.LedgerEntry, refEntryID *uuid.UUID) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO credit_ledger (id, user_id, credit_type, amount, remaining,
			balance_after, granted_at, expires_at, expired, ref_entry_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		entry.ID,
		entry.UserID,
		entry.CreditType,
		entry.Amount,
		entry.Remaining,
		entry.BalanceAfter,
		entry.GrantedAt,
		entry.ExpiresAt,
		entry.Expired,
		refEntryID,
		entry.CreatedAt,
	)
	if err != nil {
		return MapError(err)
	}
	return nil
}
