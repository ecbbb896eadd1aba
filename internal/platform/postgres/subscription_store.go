package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/stride-app/stride-api/internal/domain"
	"github.com/stride-app/stride-api/internal/store"
)

// PostgresSubscriptionStore implements the store.SubscriptionStore
// interface using PostgreSQL.
type PostgresSubscriptionStore struct {
	db store.DBTX
}

// NewPostgresSubscriptionStore creates a new PostgresSubscriptionStore.
func NewPostgresSubscriptionStore(db store.DBTX) *PostgresSubscriptionStore {
	if db == nil {
		panic("db cannot be nil")
	}
	return &PostgresSubscriptionStore{db: db}
}

// Ensure PostgresSubscriptionStore implements store.SubscriptionStore interface
var _ store.SubscriptionStore = (*PostgresSubscriptionStore)(nil)

// Upsert creates the user's subscription row or updates the existing one.
//
// updated_at is the row's version: an update only applies while the stored
// value still matches the snapshot the caller read. A write that lost that
// race returns ErrUpdateFailed so the caller can re-read and decide,
// instead of silently overwriting a concurrent transition. The store
// stamps the new updated_at itself.
func (s *PostgresSubscriptionStore) Upsert(ctx context.Context, sub *domain.Subscription) error {
	if sub.UserID == uuid.Nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, domain.ErrSubscriptionUserEmpty)
	}
	if !sub.Status.IsValid() {
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, domain.ErrInvalidSubscriptionStatus)
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO subscriptions (user_id, status, monthly_credits,
			current_period_end, grace_until, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (user_id) DO UPDATE
		SET status = EXCLUDED.status,
		    monthly_credits = EXCLUDED.monthly_credits,
		    current_period_end = EXCLUDED.current_period_end,
		    grace_until = EXCLUDED.grace_until,
		    updated_at = now()
		WHERE subscriptions.updated_at = $7
	`,
		sub.UserID,
		sub.Status,
		sub.MonthlyCredits,
		sub.CurrentPeriodEnd,
		sub.GraceUntil,
		sub.CreatedAt,
		sub.UpdatedAt,
	)
	if err != nil {
		return MapError(err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: subscription for user %s was modified concurrently",
			store.ErrUpdateFailed, sub.UserID)
	}

	return nil
}

// GetByUserID retrieves a user's subscription.
func (s *PostgresSubscriptionStore) GetByUserID(ctx context.Context, userID uuid.UUID) (*domain.Subscription, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT user_id, status, monthly_credits, current_period_end,
			grace_until, created_at, updated_at
		FROM subscriptions
		WHERE user_id = $1
	`, userID)

	sub, err := scanSubscription(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrSubscriptionNotFound
		}
		return nil, MapError(err)
	}

	return sub, nil
}

// ListLapsed returns subscriptions past their period end that are not yet
// expired.
func (s *PostgresSubscriptionStore) ListLapsed(ctx context.Context, now time.Time) ([]*domain.Subscription, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, status, monthly_credits, current_period_end,
			grace_until, created_at, updated_at
		FROM subscriptions
		WHERE current_period_end <= $1 AND status != $2
		ORDER BY current_period_end ASC
	`, now.UTC(), domain.SubscriptionStatusExpired)
	if err != nil {
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	var subs []*domain.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan subscription row: %w", err)
		}
		subs = append(subs, sub)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating subscription rows: %w", err)
	}

	return subs, nil
}

// scanSubscription maps one subscription row, handling nullable columns.
func scanSubscription(scan func(dest ...any) error) (*domain.Subscription, error) {
	var sub domain.Subscription
	var graceUntil sql.NullTime

	err := scan(
		&sub.UserID,
		&sub.Status,
		&sub.MonthlyCredits,
		&sub.CurrentPeriodEnd,
		&graceUntil,
		&sub.CreatedAt,
		&sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if graceUntil.Valid {
		t := graceUntil.Time
		sub.GraceUntil = &t
	}

	return &sub, nil
}
