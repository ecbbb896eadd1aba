package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/stride-app/stride-api/internal/domain"
)

// ConsumeResult reports the outcome of a successful credit consumption.
type ConsumeResult struct {
	// Breakdown lists how much was taken from each credit type, in
	// consumption order.
	Breakdown []domain.TypeBreakdown

	// RemainingBalance is the user's total balance after the consumption.
	RemainingBalance int64
}

// ExpireResult reports the outcome of an expiration sweep.
type ExpireResult struct {
	// Expired is the number of grants neutralized.
	Expired int

	// UserIDs lists the users whose balance changed.
	UserIDs []uuid.UUID
}

// Balance is a user's available credit, total and per type.
type Balance struct {
	ByType map[domain.CreditType]int64
	Total  int64
}

// LedgerStore defines the interface for the append-only credit ledger.
//
// All mutating operations for the same user serialize against each other;
// operations for different users never block each other.
type LedgerStore interface {
	// Grant appends a positive entry and updates the running balance.
	Grant(ctx context.Context, entry *domain.LedgerEntry) error

	// Consume deducts amount from the user's open grants strictly in FIFO
	// order across credit types (daily, monthly, purchased, kickstart).
	// If the total available balance is insufficient the ledger is left
	// unchanged and domain.ErrInsufficientCredits is returned.
	Consume(ctx context.Context, userID uuid.UUID, amount int64) (*ConsumeResult, error)

	// ExpireDue neutralizes every open grant whose expires_at is at or
	// before now by appending a paired negative entry and flagging the
	// grant. Already-expired grants are skipped, so overlapping runs have
	// no additional effect.
	ExpireDue(ctx context.Context, now time.Time) (*ExpireResult, error)

	// RenewMonthly expires the user's open monthly grants and issues a new
	// monthly grant of amount plus the unused balance carried over, capped
	// at carryoverCap. Returns the new grant.
	RenewMonthly(ctx context.Context, userID uuid.UUID, amount, carryoverCap int64, expiresAt time.Time) (*domain.LedgerEntry, error)

	// GetBalance returns the user's available balance, total and per type.
	GetBalance(ctx context.Context, userID uuid.UUID) (*Balance, error)
}
