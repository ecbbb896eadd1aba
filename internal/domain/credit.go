package domain

import (
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
)

// CreditType identifies the bucket a ledger grant belongs to.
type CreditType string

// Known credit types.
const (
	CreditTypeKickstart CreditType = "kickstart"
	CreditTypeDaily     CreditType = "daily"
	CreditTypeMonthly   CreditType = "monthly"
	CreditTypePurchased CreditType = "purchased"
)

// ConsumptionOrder is the fixed precedence in which credit types are spent.
// Within a type, grants are consumed oldest first.
var ConsumptionOrder = []CreditType{
	CreditTypeDaily,
	CreditTypeMonthly,
	CreditTypePurchased,
	CreditTypeKickstart,
}

// MonthlyCarryoverCap is the maximum unused monthly credit that survives a
// renewal. Any remainder above the cap is discarded, not an error.
const MonthlyCarryoverCap int64 = 50

// Ledger-specific validation errors.
var (
	// ErrLedgerEntryIDEmpty is returned when a ledger entry ID is empty or nil.
	ErrLedgerEntryIDEmpty = errors.New("ledger entry ID cannot be empty")

	// ErrLedgerUserIDEmpty is returned when a ledger entry's user ID is empty or nil.
	ErrLedgerUserIDEmpty = errors.New("ledger entry user ID cannot be empty")
)

// LedgerEntry is a single row in the append-only credit ledger.
// Positive amounts are grants, negative amounts are consumptions or
// expirations. BalanceAfter snapshots the user's total balance at this
// ledger position. Remaining tracks the unspent value of a grant; it is
// always zero on negative entries.
type LedgerEntry struct {
	ID           uuid.UUID  `json:"id"`
	UserID       uuid.UUID  `json:"user_id"`
	CreditType   CreditType `json:"credit_type"`
	Amount       int64      `json:"amount"`
	Remaining    int64      `json:"remaining"`
	BalanceAfter int64      `json:"balance_after"`
	GrantedAt    time.Time  `json:"granted_at"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	Expired      bool       `json:"expired"`
	CreatedAt    time.Time  `json:"created_at"`
}

// NewGrant creates a positive ledger entry for the given user and type.
// expiresAt may be nil for non-expiring types (purchased, kickstart).
func NewGrant(userID uuid.UUID, creditType CreditType, amount int64, expiresAt *time.Time) (*LedgerEntry, error) {
	if userID == uuid.Nil {
		return nil, ErrLedgerUserIDEmpty
	}
	if !creditType.IsValid() {
		return nil, ErrInvalidCreditType
	}
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	now := time.Now().UTC()
	return &LedgerEntry{
		ID:         uuid.New(),
		UserID:     userID,
		CreditType: creditType,
		Amount:     amount,
		Remaining:  amount,
		GrantedAt:  now,
		ExpiresAt:  expiresAt,
		CreatedAt:  now,
	}, nil
}

// IsValid reports whether the credit type is one of the known constants.
func (t CreditType) IsValid() bool {
	switch t {
	case CreditTypeKickstart, CreditTypeDaily, CreditTypeMonthly, CreditTypePurchased:
		return true
	}
	return false
}

// GrantBalance is the open (unspent, unexpired) portion of a grant as seen
// by the consumption planner.
type GrantBalance struct {
	EntryID    uuid.UUID
	CreditType CreditType
	Remaining  int64
	GrantedAt  time.Time
}

// Deduction is one step of a consumption plan: how much to take from which
// grant entry.
type Deduction struct {
	EntryID    uuid.UUID  `json:"entry_id"`
	CreditType CreditType `json:"credit_type"`
	Amount     int64      `json:"amount"`
}

// TypeBreakdown aggregates a consumption plan by credit type, in
// consumption order. This is the shape reported back to callers.
type TypeBreakdown struct {
	CreditType CreditType `json:"credit_type"`
	Amount     int64      `json:"amount"`
}

// PlanConsumption computes the FIFO deduction plan covering amount from the
// given open grants. Grants are spent strictly in ConsumptionOrder, and
// oldest-first within a type; a type is fully drained before the next type
// is touched. If the total available balance cannot cover amount, the plan
// is rejected with ErrInsufficientCredits and nothing is consumed.
//
// The function is pure: it never mutates grants and callers apply the plan
// transactionally.
func PlanConsumption(grants []GrantBalance, amount int64) ([]Deduction, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	byType := make(map[CreditType][]GrantBalance, len(ConsumptionOrder))
	var available int64
	for _, g := range grants {
		if g.Remaining <= 0 {
			continue
		}
		byType[g.CreditType] = append(byType[g.CreditType], g)
		available += g.Remaining
	}

	if available < amount {
		return nil, ErrInsufficientCredits
	}

	var plan []Deduction
	left := amount
	for _, ct := range ConsumptionOrder {
		bucket := byType[ct]
		sortGrantsByAge(bucket)
		for _, g := range bucket {
			if left == 0 {
				return plan, nil
			}
			take := g.Remaining
			if take > left {
				take = left
			}
			plan = append(plan, Deduction{
				EntryID:    g.EntryID,
				CreditType: ct,
				Amount:     take,
			})
			left -= take
		}
	}

	if left != 0 {
		// Unreachable given the availability check above.
		return nil, ErrInsufficientCredits
	}

	return plan, nil
}

// BreakdownByType collapses a deduction plan into per-type totals in
// consumption order.
func BreakdownByType(plan []Deduction) []TypeBreakdown {
	totals := make(map[CreditType]int64, len(ConsumptionOrder))
	for _, d := range plan {
		totals[d.CreditType] += d.Amount
	}

	var out []TypeBreakdown
	for _, ct := range ConsumptionOrder {
		if totals[ct] > 0 {
			out = append(out, TypeBreakdown{CreditType: ct, Amount: totals[ct]})
		}
	}
	return out
}

// Carryover returns the monthly balance that survives a renewal: the unused
// amount up to carryoverCap. Negative input is treated as zero.
func Carryover(unused, carryoverCap int64) int64 {
	if unused <= 0 {
		return 0
	}
	if unused > carryoverCap {
		return carryoverCap
	}
	return unused
}

// sortGrantsByAge orders grants oldest first, falling back to entry ID for a
// deterministic order when timestamps collide.
func sortGrantsByAge(grants []GrantBalance) {
	sort.SliceStable(grants, func(i, j int) bool {
		if !grants[i].GrantedAt.Equal(grants[j].GrantedAt) {
			return grants[i].GrantedAt.Before(grants[j].GrantedAt)
		}
		return grants[i].EntryID.String() < grants[j].EntryID.String()
	})
}
