// Package credit exposes the credit ledger to callers: spending credits
// on AI features, purchasing and granting credit packs, and the monthly
// renewal that follows a successful payment.
package credit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/stride-app/stride-api/internal/domain"
	"github.com/stride-app/stride-api/internal/platform/logger"
	"github.com/stride-app/stride-api/internal/store"
)

// Common error types for CreditService
var (
	// ErrSubscriptionNotFound indicates the user has no subscription to renew.
	ErrSubscriptionNotFound = errors.New("subscription not found")
)

// CreditService provides methods for spending and granting AI credits.
//
// An insufficient balance is a normal, typed outcome
// (domain.ErrInsufficientCredits), not a system failure: callers surface
// it to the user rather than retry it.
type CreditService interface {
	// Consume spends amount credits for the user, drawing from their open
	// grants in consumption order (daily, monthly, purchased, kickstart).
	// The deduction is all-or-nothing.
	//
	// Returns:
	//   - (*store.ConsumeResult, nil): the per-type breakdown and remaining balance
	//   - (nil, domain.ErrInsufficientCredits): the balance cannot cover amount
	//   - (nil, domain.ErrInvalidAmount): amount is not positive
	Consume(ctx context.Context, userID uuid.UUID, amount int64) (*store.ConsumeResult, error)

	// Grant issues credits of the given type to the user. expiresAt may be
	// nil for non-expiring types (purchased, kickstart).
	Grant(ctx context.Context, userID uuid.UUID, creditType domain.CreditType, amount int64, expiresAt *time.Time) (*domain.LedgerEntry, error)

	// GetBalance returns the user's available balance, total and per type.
	GetBalance(ctx context.Context, userID uuid.UUID) (*store.Balance, error)

	// HandleRenewal processes a successful payment for the user's next
	// billing period: the previous monthly grant is closed out with up to
	// the carryover cap preserved, the new period's credits are granted,
	// and the subscription returns to active until periodEnd.
	//
	// Returns ErrSubscriptionNotFound if the user has no subscription.
	HandleRenewal(ctx context.Context, userID uuid.UUID, periodEnd time.Time) (*domain.LedgerEntry, error)
}

type creditService struct {
	ledger store.LedgerStore
	subs   store.SubscriptionStore
}

// NewCreditService creates a CreditService backed by the given stores.
func NewCreditService(ledger store.LedgerStore, subs store.SubscriptionStore) CreditService {
	if ledger == nil {
		panic("ledger store cannot be nil")
	}
	if subs == nil {
		panic("subscription store cannot be nil")
	}
	return &creditService{ledger: ledger, subs: subs}
}

func (s *creditService) Consume(ctx context.Context, userID uuid.UUID, amount int64) (*store.ConsumeResult, error) {
	if amount <= 0 {
		return nil, domain.ErrInvalidAmount
	}

	result, err := s.ledger.Consume(ctx, userID, amount)
	if err != nil {
		if errors.Is(err, domain.ErrInsufficientCredits) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to consume credits: %w", err)
	}
	return result, nil
}

func (s *creditService) Grant(ctx context.Context, userID uuid.UUID, creditType domain.CreditType, amount int64, expiresAt *time.Time) (*domain.LedgerEntry, error) {
	entry, err := domain.NewGrant(userID, creditType, amount, expiresAt)
	if err != nil {
		return nil, err
	}

	if err := s.ledger.Grant(ctx, entry); err != nil {
		return nil, fmt.Errorf("failed to grant credits: %w", err)
	}

	logger.FromContext(ctx).Info("credits granted",
		"user_id", userID,
		"credit_type", creditType,
		"amount", amount)
	return entry, nil
}

func (s *creditService) GetBalance(ctx context.Context, userID uuid.UUID) (*store.Balance, error) {
	balance, err := s.ledger.GetBalance(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}
	return balance, nil
}

func (s *creditService) HandleRenewal(ctx context.Context, userID uuid.UUID, periodEnd time.Time) (*domain.LedgerEntry, error) {
	log := logger.FromContext(ctx)

	sub, err := s.subs.GetByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrSubscriptionNotFound) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("failed to load subscription: %w", err)
	}

	grant, err := s.ledger.RenewMonthly(ctx, userID, sub.MonthlyCredits, domain.MonthlyCarryoverCap, periodEnd)
	if err != nil {
		return nil, fmt.Errorf("failed to renew monthly credits: %w", err)
	}

	// The monthly grant is committed at this point, so losing a write
	// race on the subscription row must not fail the renewal: re-read
	// whatever transition won and apply the renewal on top of it.
	for attempt := 0; ; attempt++ {
		sub.Renew(periodEnd)
		upsertErr := s.subs.Upsert(ctx, sub)
		if upsertErr == nil {
			break
		}
		if !errors.Is(upsertErr, store.ErrUpdateFailed) || attempt >= 2 {
			return nil, fmt.Errorf("failed to save renewed subscription: %w", upsertErr)
		}
		log.Debug("subscription changed concurrently, retrying renewal write",
			"user_id", userID)
		sub, err = s.subs.GetByUserID(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("failed to reload subscription: %w", err)
		}
	}

	log.Info("subscription renewed",
		"user_id", userID,
		"period_end", periodEnd,
		"granted", grant.Amount)
	return grant, nil
}
