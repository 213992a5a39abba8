/*
Package loyalty provides the restaurant loyalty ledger engine.

PURPOSE:
  Turns a stream of point-earning and point-redeeming events into a
  consistent customer balance, a derived membership tier, and a safe,
  replay-proof reward redemption. Storage, transport and sessions live
  behind narrow contracts; this package consumes records and produces
  decisions.

KEY CONCEPTS IN THIS FILE (types.go):
  - Customer: Spendable balance plus lifetime accumulator
  - Reward: Catalog entry with cost, minimum tier and optional inventory cap
  - Transaction: An immutable ledger entry recording a balance change
  - RedemptionTicket: Proof of a committed redemption debit

DESIGN PRINCIPLES:
  1. Immutability: Transactions are never modified; corrections are new entries
  2. Ledger is truth: TotalPoints is a cached projection of the transaction log
  3. Derived tier: Tier is computed from LifetimePoints, never stored
  4. Integer points: Points are whole numbers; money uses decimal.Decimal

SEE ALSO:
  - tier.go: Tier thresholds and progress
  - ledger.go: Balance mutation rules
  - redemption.go: Redemption session state machine
  - store.go: Persistence contracts
*/
package loyalty

import (
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type CustomerID string
type RewardID string
type TransactionID string

// TicketID identifies one redemption attempt. It doubles as the idempotency
// key of the redemption transaction, so retrying with the same ticket never
// debits twice.
type TicketID string

// =============================================================================
// CUSTOMER
// =============================================================================

// Customer is a loyalty member's balance record.
//
// INVARIANTS:
//   - TotalPoints >= 0 and equals the sum of the customer's transaction points
//   - LifetimePoints never decreases and is unaffected by redemption
//   - VisitCount and TotalSpent never decrease
type Customer struct {
	ID             CustomerID
	Name           string
	Email          string
	TotalPoints    int64
	LifetimePoints int64
	VisitCount     int64
	TotalSpent     decimal.Decimal
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// =============================================================================
// REWARD
// =============================================================================

// Reward is a redeemable catalog entry.
type Reward struct {
	ID             RewardID
	Name           string
	Description    string
	PointsRequired int64
	MinTier        Tier
	IsActive       bool
	TotalAvailable *int64 // nil = uncapped
	TotalRedeemed  int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Capped reports whether the reward has an inventory limit.
func (r Reward) Capped() bool { return r.TotalAvailable != nil }

// Exhausted reports whether a capped reward has no inventory left.
func (r Reward) Exhausted() bool {
	return r.TotalAvailable != nil && r.TotalRedeemed >= *r.TotalAvailable
}

// Remaining returns the inventory left, or -1 for uncapped rewards.
func (r Reward) Remaining() int64 {
	if r.TotalAvailable == nil {
		return -1
	}
	if left := *r.TotalAvailable - r.TotalRedeemed; left > 0 {
		return left
	}
	return 0
}

// =============================================================================
// TRANSACTION - Append-only ledger entry
// =============================================================================

type TransactionType string

const (
	TxPurchase   TransactionType = "purchase"   // Points earned on a paid visit
	TxBonus      TransactionType = "bonus"      // Promotional or administrative credit
	TxReferral   TransactionType = "referral"   // Credit for referring a new member
	TxSignup     TransactionType = "signup"     // Welcome credit on enrollment
	TxRedemption TransactionType = "redemption" // Debit for a claimed reward (or admin debit)
)

// IsEarn reports whether the type credits points.
func (t TransactionType) IsEarn() bool {
	switch t {
	case TxPurchase, TxBonus, TxReferral, TxSignup:
		return true
	}
	return false
}

// Valid reports whether t is a known transaction type.
func (t TransactionType) Valid() bool {
	return t.IsEarn() || t == TxRedemption
}

// Transaction is an immutable ledger entry. Points is signed: positive for
// earn types, negative for redemptions and administrative debits.
type Transaction struct {
	ID             TransactionID
	Seq            int64 // store-assigned ordering key, increasing with append order
	CustomerID     CustomerID
	Type           TransactionType
	Points         int64
	BalanceAfter   int64
	AmountSpent    *decimal.Decimal
	Description    string
	RewardID       RewardID
	Code           string
	IdempotencyKey string
	ReferenceID    TransactionID // e.g. the redemption a reversal compensates

	// Audit fields
	Administrative bool
	Actor          string
	CreatedAt      time.Time
}

// =============================================================================
// REDEMPTION TICKET
// =============================================================================

// RedemptionTicket is returned by a successful (or replayed) redemption.
type RedemptionTicket struct {
	TicketID      TicketID
	TransactionID TransactionID
	CustomerID    CustomerID
	RewardID      RewardID
	Code          string
	PointsSpent   int64
	NewBalance    int64
	IssuedAt      time.Time

	// Replayed is true when the ticket was already committed and this call
	// returned the existing record without a new debit.
	Replayed bool
}

func ticketFromTransaction(tx Transaction, replayed bool) RedemptionTicket {
	return RedemptionTicket{
		TicketID:      TicketID(tx.IdempotencyKey),
		TransactionID: tx.ID,
		CustomerID:    tx.CustomerID,
		RewardID:      tx.RewardID,
		Code:          tx.Code,
		PointsSpent:   -tx.Points,
		NewBalance:    tx.BalanceAfter,
		IssuedAt:      tx.CreatedAt,
		Replayed:      replayed,
	}
}

// =============================================================================
// PAGINATION
// =============================================================================

// Page selects a slice of a customer's transaction history, newest first.
// Cursor is opaque; pass TransactionPage.NextCursor to continue.
type Page struct {
	Cursor string
	Limit  int
}

type TransactionPage struct {
	Transactions []Transaction
	NextCursor   string // empty when there are no more entries
}

const (
	DefaultPageLimit = 50
	MaxPageLimit     = 500
)

// Normalize clamps the limit into [1, MaxPageLimit].
func (p Page) Normalize() Page {
	if p.Limit <= 0 {
		p.Limit = DefaultPageLimit
	}
	if p.Limit > MaxPageLimit {
		p.Limit = MaxPageLimit
	}
	return p
}

// EncodeCursor turns the Seq of the last returned entry into a cursor.
func EncodeCursor(seq int64) string { return strconv.FormatInt(seq, 10) }

// DecodeCursor parses a cursor. The empty cursor means "from the newest".
func DecodeCursor(cursor string) (int64, error) {
	if cursor == "" {
		return 0, nil
	}
	seq, err := strconv.ParseInt(cursor, 10, 64)
	if err != nil || seq <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidCursor, cursor)
	}
	return seq, nil
}
