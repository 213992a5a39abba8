/*
ledger.go - PointsLedger: balance mutation rules

PURPOSE:
  Every balance-affecting operation goes through here: earning, redeeming,
  administrative adjustment and explicit redemption reversal. Each one is a
  single atomic unit on the customer's row, so read-balance, validate,
  write-balance and append-transaction can never interleave with another
  mutation of the same customer.

CRITICAL INVARIANTS:
  1. LEDGER IS TRUTH: TotalPoints == sum of the customer's transaction points
  2. LIFETIME ONLY GROWS: LifetimePoints moves only on earn operations
  3. ALL-OR-NOTHING: any error leaves Customer, Reward and the log untouched
  4. NO DOUBLE SPEND: the balance check and the debit share one unit, and a
     ticket id is recorded as the redemption's idempotency key

CORRECTIONS:
  Nothing is edited. Adjust appends an administrative entry; ReverseRedemption
  appends a compensating credit that references the original redemption.

SEE ALSO:
  - store.go: LedgerStore and AtomicUnit contracts
  - tier.go: Tier derivation used by redemption eligibility
  - redemption.go: Session state machine driving TryRedeem
*/
package loyalty

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DefaultAtomicTimeout bounds a single atomic unit when none is configured.
const DefaultAtomicTimeout = 5 * time.Second

// maxCodeAttempts bounds code regeneration on a collision.
const maxCodeAttempts = 5

// LedgerOptions configures a PointsLedger. Zero values select defaults.
type LedgerOptions struct {
	Tiers         TierPolicy
	Codes         CodeGenerator
	CodePrefix    string
	AtomicTimeout time.Duration
	Now           func() time.Time
	NewID         func() string
}

// PointsLedger applies earn and redeem events against a LedgerStore.
type PointsLedger struct {
	store      LedgerStore
	tiers      TierPolicy
	codes      CodeGenerator
	codePrefix string
	timeout    time.Duration
	now        func() time.Time
	newID      func() string
}

func NewPointsLedger(store LedgerStore, opts LedgerOptions) *PointsLedger {
	l := &PointsLedger{
		store:      store,
		tiers:      opts.Tiers,
		codes:      opts.Codes,
		codePrefix: NormalizeCodePrefix(opts.CodePrefix),
		timeout:    opts.AtomicTimeout,
		now:        opts.Now,
		newID:      opts.NewID,
	}
	if l.codes == nil {
		l.codes = RandomCodeGenerator{}
	}
	if l.timeout <= 0 {
		l.timeout = DefaultAtomicTimeout
	}
	if l.now == nil {
		l.now = func() time.Time { return time.Now().UTC() }
	}
	if l.newID == nil {
		l.newID = uuid.NewString
	}
	return l
}

// Tiers returns the policy used for eligibility checks.
func (l *PointsLedger) Tiers() TierPolicy { return l.tiers }

// Store returns the underlying store.
func (l *PointsLedger) Store() LedgerStore { return l.store }

// =============================================================================
// EARN
// =============================================================================

type EarnRequest struct {
	CustomerID     CustomerID
	Points         int64
	Type           TransactionType
	AmountSpent    *decimal.Decimal // purchases only
	Description    string
	IdempotencyKey string
}

type EarnResult struct {
	Transaction Transaction
	Customer    Customer
	Replayed    bool
}

// ApplyEarn credits points. Both TotalPoints and LifetimePoints grow by
// Points; purchases also bump VisitCount and TotalSpent.
func (l *PointsLedger) ApplyEarn(ctx context.Context, req EarnRequest) (EarnResult, error) {
	if req.Points <= 0 {
		return EarnResult{}, fmt.Errorf("%w: earn points must be positive, got %d", ErrInvalidAmount, req.Points)
	}
	if !req.Type.IsEarn() {
		return EarnResult{}, fmt.Errorf("%w: %q is not an earn type", ErrInvalidTransactionType, req.Type)
	}
	if req.AmountSpent != nil && req.AmountSpent.IsNegative() {
		return EarnResult{}, fmt.Errorf("%w: amount spent must not be negative", ErrInvalidAmount)
	}

	var result EarnResult
	err := l.atomic(ctx, req.CustomerID, func(ctx context.Context, u AtomicUnit) error {
		if req.IdempotencyKey != "" {
			prior, found, err := l.findKey(ctx, u, req.CustomerID, req.IdempotencyKey)
			if err != nil {
				return err
			}
			if found {
				c, err := u.Customer(ctx)
				if err != nil {
					return err
				}
				result = EarnResult{Transaction: prior, Customer: c, Replayed: true}
				return nil
			}
		}

		c, err := u.Customer(ctx)
		if err != nil {
			return err
		}

		if err := checkCredit(c.LifetimePoints, req.Points); err != nil {
			return err
		}
		if err := checkCredit(c.TotalPoints, req.Points); err != nil {
			return err
		}

		now := l.now()
		c.TotalPoints += req.Points
		c.LifetimePoints += req.Points
		if req.Type == TxPurchase {
			c.VisitCount++
			if req.AmountSpent != nil {
				c.TotalSpent = c.TotalSpent.Add(*req.AmountSpent)
			}
		}
		c.UpdatedAt = now

		tx := Transaction{
			ID:             TransactionID(l.newID()),
			CustomerID:     c.ID,
			Type:           req.Type,
			Points:         req.Points,
			BalanceAfter:   c.TotalPoints,
			AmountSpent:    req.AmountSpent,
			Description:    req.Description,
			IdempotencyKey: req.IdempotencyKey,
			CreatedAt:      now,
		}
		if err := u.SaveCustomer(ctx, c); err != nil {
			return err
		}
		if tx, err = u.AppendTransaction(ctx, tx); err != nil {
			return err
		}
		result = EarnResult{Transaction: tx, Customer: c}
		return nil
	})
	if err != nil {
		return EarnResult{}, fmt.Errorf("apply earn for %s: %w", req.CustomerID, err)
	}
	return result, nil
}

// =============================================================================
// REDEEM
// =============================================================================

// Expectation is what the customer saw when they confirmed. If either value
// no longer matches at debit time the redemption fails with ErrConflict.
type Expectation struct {
	Balance        int64
	PointsRequired int64
}

type RedeemRequest struct {
	CustomerID CustomerID
	RewardID   RewardID
	TicketID   TicketID // empty: a fresh ticket id is generated
	Expected   *Expectation
}

// TryRedeem validates and debits a reward redemption in one atomic unit.
//
// Retrying with the TicketID of a committed redemption returns that ticket
// with Replayed set and does not debit again.
func (l *PointsLedger) TryRedeem(ctx context.Context, req RedeemRequest) (RedemptionTicket, error) {
	if req.TicketID == "" {
		req.TicketID = TicketID(l.newID())
	}

	var ticket RedemptionTicket
	err := l.atomic(ctx, req.CustomerID, func(ctx context.Context, u AtomicUnit) error {
		prior, found, err := l.findKey(ctx, u, req.CustomerID, string(req.TicketID))
		if err != nil {
			return err
		}
		if found {
			if prior.Type != TxRedemption || prior.RewardID != req.RewardID {
				return fmt.Errorf("%w: ticket %s already used for another operation", ErrConflict, req.TicketID)
			}
			ticket = ticketFromTransaction(prior, true)
			return nil
		}

		c, err := u.Customer(ctx)
		if err != nil {
			return err
		}
		r, err := u.LockReward(ctx, req.RewardID)
		if err != nil {
			return err
		}

		if exp := req.Expected; exp != nil {
			if c.TotalPoints != exp.Balance {
				return &ConflictError{Field: "balance", Expected: exp.Balance, Actual: c.TotalPoints}
			}
			if r.PointsRequired != exp.PointsRequired {
				return &ConflictError{Field: "points_required", Expected: exp.PointsRequired, Actual: r.PointsRequired}
			}
		}

		if err := l.checkEligible(c, r); err != nil {
			return err
		}

		now := l.now()
		c.TotalPoints -= r.PointsRequired
		c.UpdatedAt = now
		r.TotalRedeemed++
		r.UpdatedAt = now

		if err := u.SaveCustomer(ctx, c); err != nil {
			return err
		}
		if err := u.SaveReward(ctx, r); err != nil {
			return err
		}

		tx := Transaction{
			ID:             TransactionID(l.newID()),
			CustomerID:     c.ID,
			Type:           TxRedemption,
			Points:         -r.PointsRequired,
			BalanceAfter:   c.TotalPoints,
			Description:    "Redeemed: " + r.Name,
			RewardID:       r.ID,
			IdempotencyKey: string(req.TicketID),
			CreatedAt:      now,
		}
		tx, err = l.appendWithCode(ctx, u, tx)
		if err != nil {
			return err
		}
		ticket = ticketFromTransaction(tx, false)
		return nil
	})
	if err != nil {
		return RedemptionTicket{}, fmt.Errorf("redeem %s for %s: %w", req.RewardID, req.CustomerID, err)
	}
	return ticket, nil
}

// CheckEligibility runs the redemption checks against a read-only snapshot.
// The answer is advisory; TryRedeem repeats the checks under lock.
func (l *PointsLedger) CheckEligibility(c Customer, r Reward) error {
	return l.checkEligible(c, r)
}

func (l *PointsLedger) checkEligible(c Customer, r Reward) error {
	if !r.IsActive || r.Exhausted() {
		return &RewardUnavailableError{RewardID: r.ID, Inactive: !r.IsActive, Exhausted: r.Exhausted()}
	}
	if tier := l.tiers.TierFor(c.LifetimePoints).Tier; !tier.AtLeast(r.MinTier) {
		return &TierIneligibleError{CustomerID: c.ID, RewardID: r.ID, Current: tier, Required: r.MinTier}
	}
	if c.TotalPoints < r.PointsRequired {
		return &InsufficientBalanceError{CustomerID: c.ID, Available: c.TotalPoints, Requested: r.PointsRequired}
	}
	return nil
}

func (l *PointsLedger) appendWithCode(ctx context.Context, u AtomicUnit, tx Transaction) (Transaction, error) {
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code, err := l.codes.Generate(l.codePrefix)
		if err != nil {
			return Transaction{}, err
		}
		tx.Code = code
		stored, err := u.AppendTransaction(ctx, tx)
		if errors.Is(err, ErrDuplicateCode) {
			continue
		}
		return stored, err
	}
	return Transaction{}, fmt.Errorf("%w: gave up after %d attempts", ErrDuplicateCode, maxCodeAttempts)
}

// FindRedemption returns the committed redemption for a ticket, or ErrNotFound.
func (l *PointsLedger) FindRedemption(ctx context.Context, ticketID TicketID) (RedemptionTicket, error) {
	tx, err := l.store.FindByIdempotencyKey(ctx, string(ticketID))
	if err != nil {
		return RedemptionTicket{}, err
	}
	if tx.Type != TxRedemption || tx.RewardID == "" {
		return RedemptionTicket{}, fmt.Errorf("%w: ticket %s", ErrNotFound, ticketID)
	}
	return ticketFromTransaction(tx, true), nil
}

// =============================================================================
// ADMINISTRATIVE OPERATIONS
// =============================================================================

type AdjustRequest struct {
	CustomerID CustomerID
	Delta      int64
	Reason     string
	Actor      string
}

// Adjust applies an administrative delta to TotalPoints only. A debit that
// would take the balance below zero is rejected with InsufficientBalanceError;
// the balance is never clamped.
func (l *PointsLedger) Adjust(ctx context.Context, req AdjustRequest) (Transaction, error) {
	if req.Delta == 0 || req.Delta == math.MinInt64 {
		return Transaction{}, fmt.Errorf("%w: adjustment delta must be non-zero and in range", ErrInvalidAmount)
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return Transaction{}, ErrReasonRequired
	}

	var out Transaction
	err := l.atomic(ctx, req.CustomerID, func(ctx context.Context, u AtomicUnit) error {
		c, err := u.Customer(ctx)
		if err != nil {
			return err
		}
		if req.Delta > 0 {
			if err := checkCredit(c.TotalPoints, req.Delta); err != nil {
				return err
			}
		} else if c.TotalPoints+req.Delta < 0 {
			return &InsufficientBalanceError{CustomerID: c.ID, Available: c.TotalPoints, Requested: -req.Delta}
		}

		now := l.now()
		c.TotalPoints += req.Delta
		c.UpdatedAt = now
		if err := u.SaveCustomer(ctx, c); err != nil {
			return err
		}

		txType := TxBonus
		if req.Delta < 0 {
			txType = TxRedemption
		}
		out, err = u.AppendTransaction(ctx, Transaction{
			ID:             TransactionID(l.newID()),
			CustomerID:     c.ID,
			Type:           txType,
			Points:         req.Delta,
			BalanceAfter:   c.TotalPoints,
			Description:    reason,
			Administrative: true,
			Actor:          req.Actor,
			CreatedAt:      now,
		})
		return err
	})
	if err != nil {
		return Transaction{}, fmt.Errorf("adjust %s: %w", req.CustomerID, err)
	}
	return out, nil
}

type ReverseRequest struct {
	TicketID TicketID
	Reason   string
	Actor    string
}

// ReverseRedemption refunds a committed redemption. It is never triggered by
// the ledger itself: expiring a code does not refund, an administrator does.
// The credit is an administrative bonus that references the original entry,
// and one unit of reward inventory is released.
func (l *PointsLedger) ReverseRedemption(ctx context.Context, req ReverseRequest) (Transaction, error) {
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return Transaction{}, ErrReasonRequired
	}
	original, err := l.FindRedemption(ctx, req.TicketID)
	if err != nil {
		return Transaction{}, fmt.Errorf("reverse %s: %w", req.TicketID, err)
	}

	var out Transaction
	err = l.atomic(ctx, original.CustomerID, func(ctx context.Context, u AtomicUnit) error {
		key := reversalKey(req.TicketID)
		if _, err := u.FindByIdempotencyKey(ctx, key); err == nil {
			return ErrAlreadyReversed
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}

		c, err := u.Customer(ctx)
		if err != nil {
			return err
		}
		r, err := u.LockReward(ctx, original.RewardID)
		if err != nil {
			return err
		}

		now := l.now()
		c.TotalPoints += original.PointsSpent
		c.UpdatedAt = now
		if r.TotalRedeemed > 0 {
			r.TotalRedeemed--
			r.UpdatedAt = now
		}
		if err := u.SaveCustomer(ctx, c); err != nil {
			return err
		}
		if err := u.SaveReward(ctx, r); err != nil {
			return err
		}

		out, err = u.AppendTransaction(ctx, Transaction{
			ID:             TransactionID(l.newID()),
			CustomerID:     c.ID,
			Type:           TxBonus,
			Points:         original.PointsSpent,
			BalanceAfter:   c.TotalPoints,
			Description:    reason,
			RewardID:       original.RewardID,
			IdempotencyKey: key,
			ReferenceID:    original.TransactionID,
			Administrative: true,
			Actor:          req.Actor,
			CreatedAt:      now,
		})
		return err
	})
	if err != nil {
		return Transaction{}, fmt.Errorf("reverse %s: %w", req.TicketID, err)
	}
	return out, nil
}

func reversalKey(t TicketID) string { return "reversal:" + string(t) }

// =============================================================================
// READS
// =============================================================================

// Customer loads the current customer record.
func (l *PointsLedger) Customer(ctx context.Context, id CustomerID) (Customer, error) {
	return l.store.LoadCustomer(ctx, id)
}

// Transactions returns a page of history, newest first.
func (l *PointsLedger) Transactions(ctx context.Context, id CustomerID, page Page) (TransactionPage, error) {
	if _, err := l.store.LoadCustomer(ctx, id); err != nil {
		return TransactionPage{}, err
	}
	return l.store.ListTransactions(ctx, id, page.Normalize())
}

// AuditReport compares the cached balance with a full replay of the log.
type AuditReport struct {
	CustomerID     CustomerID
	Balance        int64
	LedgerSum      int64
	LifetimePoints int64
	EarnedSum      int64 // sum of non-administrative earn entries
	Entries        int
	Consistent     bool
}

// Audit replays every transaction for the customer. The balance must equal
// the sum of points; lifetime points must equal the sum of earns.
func (l *PointsLedger) Audit(ctx context.Context, id CustomerID) (AuditReport, error) {
	c, err := l.store.LoadCustomer(ctx, id)
	if err != nil {
		return AuditReport{}, err
	}

	report := AuditReport{CustomerID: id, Balance: c.TotalPoints, LifetimePoints: c.LifetimePoints}
	page := Page{Limit: MaxPageLimit}
	for {
		res, err := l.store.ListTransactions(ctx, id, page)
		if err != nil {
			return AuditReport{}, err
		}
		for _, tx := range res.Transactions {
			report.LedgerSum += tx.Points
			report.Entries++
			if tx.Type.IsEarn() && !tx.Administrative {
				report.EarnedSum += tx.Points
			}
		}
		if res.NextCursor == "" {
			break
		}
		page.Cursor = res.NextCursor
	}
	report.Consistent = report.LedgerSum == report.Balance && report.EarnedSum == report.LifetimePoints
	return report, nil
}

// =============================================================================
// HELPERS
// =============================================================================

// atomic runs fn in a store unit bounded by the ledger timeout. A deadline
// hit while the store is working is reported as ErrUnavailable.
func (l *PointsLedger) atomic(ctx context.Context, id CustomerID, fn func(context.Context, AtomicUnit) error) error {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	err := l.store.RunAtomic(ctx, id, func(u AtomicUnit) error { return fn(ctx, u) })
	if err != nil && !errors.Is(err, ErrUnavailable) && errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}

// checkCredit rejects a credit that would overflow a point counter.
func checkCredit(current, points int64) error {
	if points > math.MaxInt64-current {
		return fmt.Errorf("%w: crediting %d points to %d would overflow", ErrInvalidAmount, points, current)
	}
	return nil
}

// findKey looks up an idempotency key inside a unit. A key owned by another
// customer is a conflict.
func (l *PointsLedger) findKey(ctx context.Context, u AtomicUnit, id CustomerID, key string) (Transaction, bool, error) {
	tx, err := u.FindByIdempotencyKey(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return Transaction{}, false, nil
	}
	if err != nil {
		return Transaction{}, false, err
	}
	if tx.CustomerID != id {
		return Transaction{}, false, fmt.Errorf("%w: key %q belongs to another customer", ErrConflict, key)
	}
	return tx, true, nil
}
