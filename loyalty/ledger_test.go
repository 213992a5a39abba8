package loyalty_test

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/loyalty-engine/loyalty"
	"github.com/warp/loyalty-engine/loyalty/store"
	"github.com/warp/loyalty-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, time.March, 14, 19, 30, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	ledger *loyalty.PointsLedger
	store  loyalty.Store
	clock  *testClock
}

// backend is a store the ledger suite runs against.
type backend struct {
	name string
	open func(t *testing.T) loyalty.Store
}

// backends lists every store. SQLite uses a file so concurrent units get
// their own connections and contend on the real write lock.
var backends = []backend{
	{name: "memory", open: func(*testing.T) loyalty.Store { return store.NewMemory() }},
	{name: "sqlite", open: func(t *testing.T) loyalty.Store {
		t.Helper()
		st, err := sqlite.Open(filepath.Join(t.TempDir(), "ledger.db"), sqlite.Options{BusyTimeout: 5 * time.Second})
		require.NoError(t, err)
		t.Cleanup(func() { _ = st.Close() })
		return st
	}},
}

// forEachBackend runs fn as a subtest per store.
func forEachBackend(t *testing.T, fn func(t *testing.T, b backend)) {
	t.Helper()
	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) { fn(t, b) })
	}
}

// newTestLedger builds a ledger on the in-memory store.
func newTestLedger(t *testing.T, opts ...func(*loyalty.LedgerOptions)) *fixture {
	t.Helper()
	return newLedgerOn(t, backends[0], opts...)
}

func newLedgerOn(t *testing.T, b backend, opts ...func(*loyalty.LedgerOptions)) *fixture {
	t.Helper()
	clock := newTestClock()
	var (
		mu  sync.Mutex
		seq int
	)
	o := loyalty.LedgerOptions{
		Now: clock.Now,
		NewID: func() string {
			mu.Lock()
			defer mu.Unlock()
			seq++
			return fmt.Sprintf("id-%04d", seq)
		},
	}
	for _, fn := range opts {
		fn(&o)
	}
	st := b.open(t)
	return &fixture{ledger: loyalty.NewPointsLedger(st, o), store: st, clock: clock}
}

func (f *fixture) enroll(t *testing.T, id loyalty.CustomerID) {
	t.Helper()
	require.NoError(t, f.store.CreateCustomer(context.Background(), loyalty.Customer{ID: id, Name: string(id)}))
}

// credit applies a non-administrative bonus, which also grows lifetime points.
func (f *fixture) credit(t *testing.T, id loyalty.CustomerID, points int64) {
	t.Helper()
	_, err := f.ledger.ApplyEarn(context.Background(), loyalty.EarnRequest{
		CustomerID: id,
		Points:     points,
		Type:       loyalty.TxBonus,
	})
	require.NoError(t, err)
}

func (f *fixture) putReward(t *testing.T, id loyalty.RewardID, points int64, minTier loyalty.Tier, capacity *int64) {
	t.Helper()
	require.NoError(t, f.store.PutReward(context.Background(), loyalty.Reward{
		ID:             id,
		Name:           string(id),
		PointsRequired: points,
		MinTier:        minTier,
		IsActive:       true,
		TotalAvailable: capacity,
	}))
}

func (f *fixture) balance(t *testing.T, id loyalty.CustomerID) int64 {
	t.Helper()
	c, err := f.ledger.Customer(context.Background(), id)
	require.NoError(t, err)
	return c.TotalPoints
}

func (f *fixture) history(t *testing.T, id loyalty.CustomerID) []loyalty.Transaction {
	t.Helper()
	page, err := f.ledger.Transactions(context.Background(), id, loyalty.Page{Limit: loyalty.MaxPageLimit})
	require.NoError(t, err)
	return page.Transactions
}

func (f *fixture) assertConsistent(t *testing.T, id loyalty.CustomerID) {
	t.Helper()
	rep, err := f.ledger.Audit(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, rep.Consistent, "audit mismatch: %+v", rep)
}

func capOf(n int64) *int64 { return &n }

// =============================================================================
// SCENARIOS
// =============================================================================

func TestTryRedeem_ScenarioB_ExactBalance(t *testing.T) {
	// GIVEN: A gold customer with exactly 1000 points
	// WHEN: Redeeming an active silver reward that costs 1000
	// THEN: Success, balance 0, one -1000 redemption entry with a code

	forEachBackend(t, func(t *testing.T, b backend) {
		f := newLedgerOn(t, b)
		ctx := context.Background()
		f.enroll(t, "cust-b")
		f.credit(t, "cust-b", 1000)
		f.putReward(t, "dinner-for-two", 1000, loyalty.TierSilver, nil)

		ticket, err := f.ledger.TryRedeem(ctx, loyalty.RedeemRequest{CustomerID: "cust-b", RewardID: "dinner-for-two"})
		require.NoError(t, err)

		assert.Equal(t, int64(0), ticket.NewBalance)
		assert.Equal(t, int64(1000), ticket.PointsSpent)
		assert.NotEmpty(t, ticket.Code)
		assert.False(t, ticket.Replayed)
		assert.Equal(t, int64(0), f.balance(t, "cust-b"))

		txs := f.history(t, "cust-b")
		require.Len(t, txs, 2)
		assert.Equal(t, loyalty.TxRedemption, txs[0].Type)
		assert.Equal(t, int64(-1000), txs[0].Points)
		assert.Equal(t, loyalty.RewardID("dinner-for-two"), txs[0].RewardID)
		assert.Equal(t, ticket.Code, txs[0].Code)

		c, err := f.ledger.Customer(ctx, "cust-b")
		require.NoError(t, err)
		assert.Equal(t, int64(1000), c.LifetimePoints, "redemption must not reduce lifetime points")
		f.assertConsistent(t, "cust-b")
	})
}

func TestTryRedeem_ScenarioC_TierIneligible(t *testing.T) {
	// GIVEN: The same gold customer with 1000 points
	// WHEN: Redeeming a platinum-only reward
	// THEN: TierIneligible, balance unchanged, nothing appended

	forEachBackend(t, func(t *testing.T, b backend) {
		f := newLedgerOn(t, b)
		f.enroll(t, "cust-b")
		f.credit(t, "cust-b", 1000)
		f.putReward(t, "chefs-table", 1000, loyalty.TierPlatinum, nil)

		_, err := f.ledger.TryRedeem(context.Background(), loyalty.RedeemRequest{CustomerID: "cust-b", RewardID: "chefs-table"})

		require.ErrorIs(t, err, loyalty.ErrTierIneligible)
		var tierErr *loyalty.TierIneligibleError
		require.ErrorAs(t, err, &tierErr)
		assert.Equal(t, loyalty.TierGold, tierErr.Current)
		assert.Equal(t, loyalty.TierPlatinum, tierErr.Required)
		assert.Equal(t, int64(1000), f.balance(t, "cust-b"))
		assert.Len(t, f.history(t, "cust-b"), 1)
	})
}

func TestAdjust_ScenarioD_RejectsBelowZero(t *testing.T) {
	// GIVEN: A customer with 30 points
	// WHEN: Applying a -50 goodwill correction
	// THEN: Rejected with InsufficientBalance, never clamped; balance stays 30

	forEachBackend(t, func(t *testing.T, b backend) {
		f := newLedgerOn(t, b)
		f.enroll(t, "cust-d")
		f.credit(t, "cust-d", 30)

		_, err := f.ledger.Adjust(context.Background(), loyalty.AdjustRequest{
			CustomerID: "cust-d",
			Delta:      -50,
			Reason:     "goodwill correction",
		})

		require.ErrorIs(t, err, loyalty.ErrInsufficientBalance)
		var balErr *loyalty.InsufficientBalanceError
		require.ErrorAs(t, err, &balErr)
		assert.Equal(t, int64(30), balErr.Available)
		assert.Equal(t, int64(50), balErr.Requested)
		assert.Equal(t, int64(20), balErr.Shortfall())
		assert.Equal(t, int64(30), f.balance(t, "cust-d"))
		assert.Len(t, f.history(t, "cust-d"), 1)
	})
}

// =============================================================================
// REDEEM
// =============================================================================

func TestTryRedeem_OnePointShort(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b backend) {
		f := newLedgerOn(t, b)
		f.enroll(t, "c1")
		f.credit(t, "c1", 999)
		f.putReward(t, "entree", 1000, loyalty.TierBronze, nil)

		_, err := f.ledger.TryRedeem(context.Background(), loyalty.RedeemRequest{CustomerID: "c1", RewardID: "entree"})

		var balErr *loyalty.InsufficientBalanceError
		require.ErrorAs(t, err, &balErr)
		assert.Equal(t, int64(1), balErr.Shortfall())
		assert.Equal(t, int64(999), f.balance(t, "c1"))
	})
}

func TestTryRedeem_InactiveAndExhausted(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b backend) {
		f := newLedgerOn(t, b)
		ctx := context.Background()
		f.enroll(t, "c1")
		f.credit(t, "c1", 5000)

		require.NoError(t, f.store.PutReward(ctx, loyalty.Reward{
			ID: "retired", Name: "Retired", PointsRequired: 100, MinTier: loyalty.TierBronze, IsActive: false,
		}))
		f.putReward(t, "limited", 100, loyalty.TierBronze, capOf(1))

		_, err := f.ledger.TryRedeem(ctx, loyalty.RedeemRequest{CustomerID: "c1", RewardID: "retired"})
		var unavailable *loyalty.RewardUnavailableError
		require.ErrorAs(t, err, &unavailable)
		assert.True(t, unavailable.Inactive)

		_, err = f.ledger.TryRedeem(ctx, loyalty.RedeemRequest{CustomerID: "c1", RewardID: "limited"})
		require.NoError(t, err)

		_, err = f.ledger.TryRedeem(ctx, loyalty.RedeemRequest{CustomerID: "c1", RewardID: "limited"})
		require.ErrorAs(t, err, &unavailable)
		assert.True(t, unavailable.Exhausted)
		assert.Equal(t, int64(4900), f.balance(t, "c1"))

		r, err := f.store.LoadReward(ctx, "limited")
		require.NoError(t, err)
		assert.Equal(t, int64(1), r.TotalRedeemed)
		assert.Equal(t, int64(0), r.Remaining())
	})
}

func TestTryRedeem_UnknownCustomerAndReward(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b backend) {
		f := newLedgerOn(t, b)
		ctx := context.Background()
		f.enroll(t, "c1")
		f.credit(t, "c1", 500)

		_, err := f.ledger.TryRedeem(ctx, loyalty.RedeemRequest{CustomerID: "ghost", RewardID: "x"})
		assert.ErrorIs(t, err, loyalty.ErrCustomerNotFound)

		_, err = f.ledger.TryRedeem(ctx, loyalty.RedeemRequest{CustomerID: "c1", RewardID: "missing"})
		assert.ErrorIs(t, err, loyalty.ErrRewardNotFound)
		assert.True(t, loyalty.IsNotFound(err))
	})
}

func TestTryRedeem_ReplaySameTicket(t *testing.T) {
	// GIVEN: A committed redemption for ticket T
	// WHEN: Retrying TryRedeem with the same ticket
	// THEN: The same ticket comes back marked replayed; no second debit

	forEachBackend(t, func(t *testing.T, b backend) {
		f := newLedgerOn(t, b)
		ctx := context.Background()
		f.enroll(t, "c1")
		f.credit(t, "c1", 1000)
		f.putReward(t, "dessert", 400, loyalty.TierBronze, capOf(10))

		req := loyalty.RedeemRequest{CustomerID: "c1", RewardID: "dessert", TicketID: "ticket-1"}
		first, err := f.ledger.TryRedeem(ctx, req)
		require.NoError(t, err)

		second, err := f.ledger.TryRedeem(ctx, req)
		require.NoError(t, err)

		assert.True(t, second.Replayed)
		assert.Equal(t, first.Code, second.Code)
		assert.Equal(t, first.TransactionID, second.TransactionID)
		assert.Equal(t, int64(600), f.balance(t, "c1"))
		assert.Len(t, f.history(t, "c1"), 2)

		r, err := f.store.LoadReward(ctx, "dessert")
		require.NoError(t, err)
		assert.Equal(t, int64(1), r.TotalRedeemed)
	})
}

func TestTryRedeem_TicketReusedForOtherReward(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b backend) {
		f := newLedgerOn(t, b)
		ctx := context.Background()
		f.enroll(t, "c1")
		f.credit(t, "c1", 1000)
		f.putReward(t, "dessert", 400, loyalty.TierBronze, nil)
		f.putReward(t, "drink", 150, loyalty.TierBronze, nil)

		_, err := f.ledger.TryRedeem(ctx, loyalty.RedeemRequest{CustomerID: "c1", RewardID: "dessert", TicketID: "t"})
		require.NoError(t, err)

		_, err = f.ledger.TryRedeem(ctx, loyalty.RedeemRequest{CustomerID: "c1", RewardID: "drink", TicketID: "t"})
		assert.ErrorIs(t, err, loyalty.ErrConflict)
		assert.Equal(t, int64(600), f.balance(t, "c1"))
	})
}

func TestTryRedeem_ExpectationMismatchIsConflict(t *testing.T) {
	// GIVEN: The customer saw 1000 points, then earned 50 more elsewhere
	// WHEN: Confirming with the stale expectation
	// THEN: ErrConflict naming the balance; nothing is debited

	forEachBackend(t, func(t *testing.T, b backend) {
		f := newLedgerOn(t, b)
		ctx := context.Background()
		f.enroll(t, "c1")
		f.credit(t, "c1", 1000)
		f.putReward(t, "dessert", 400, loyalty.TierBronze, nil)
		f.credit(t, "c1", 50)

		_, err := f.ledger.TryRedeem(ctx, loyalty.RedeemRequest{
			CustomerID: "c1",
			RewardID:   "dessert",
			Expected:   &loyalty.Expectation{Balance: 1000, PointsRequired: 400},
		})

		var conflict *loyalty.ConflictError
		require.ErrorAs(t, err, &conflict)
		assert.Equal(t, "balance", conflict.Field)
		assert.True(t, loyalty.IsRetryable(err))
		assert.Equal(t, int64(1050), f.balance(t, "c1"))
	})
}

func TestTryRedeem_PriceChangeIsConflict(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b backend) {
		f := newLedgerOn(t, b)
		ctx := context.Background()
		f.enroll(t, "c1")
		f.credit(t, "c1", 1000)
		f.putReward(t, "dessert", 450, loyalty.TierBronze, nil)

		_, err := f.ledger.TryRedeem(ctx, loyalty.RedeemRequest{
			CustomerID: "c1",
			RewardID:   "dessert",
			Expected:   &loyalty.Expectation{Balance: 1000, PointsRequired: 400},
		})

		var conflict *loyalty.ConflictError
		require.ErrorAs(t, err, &conflict)
		assert.Equal(t, "points_required", conflict.Field)
	})
}

type sequenceCodes struct {
	mu    sync.Mutex
	codes []string
}

func (s *sequenceCodes) Generate(string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.codes) == 0 {
		return "", errors.New("out of codes")
	}
	c := s.codes[0]
	s.codes = s.codes[1:]
	return c, nil
}

func TestTryRedeem_RegeneratesCollidingCode(t *testing.T) {
	// GIVEN: A generator that repeats a code already issued to another customer
	// THEN: The second redemption retries and gets a fresh code

	forEachBackend(t, func(t *testing.T, b backend) {
		codes := &sequenceCodes{codes: []string{"RW-AAAA-AAAA", "RW-AAAA-AAAA", "RW-BBBB-BBBB"}}
		f := newLedgerOn(t, b, func(o *loyalty.LedgerOptions) { o.Codes = codes })
		ctx := context.Background()
		for _, id := range []loyalty.CustomerID{"c1", "c2"} {
			f.enroll(t, id)
			f.credit(t, id, 500)
		}
		f.putReward(t, "drink", 150, loyalty.TierBronze, nil)

		first, err := f.ledger.TryRedeem(ctx, loyalty.RedeemRequest{CustomerID: "c1", RewardID: "drink"})
		require.NoError(t, err)
		second, err := f.ledger.TryRedeem(ctx, loyalty.RedeemRequest{CustomerID: "c2", RewardID: "drink"})
		require.NoError(t, err)

		assert.Equal(t, "RW-AAAA-AAAA", first.Code)
		assert.Equal(t, "RW-BBBB-BBBB", second.Code)
	})
}

// =============================================================================
// EARN
// =============================================================================

func TestApplyEarn_PurchaseUpdatesVisitStats(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b backend) {
		f := newLedgerOn(t, b)
		f.enroll(t, "c1")
		spent := decimal.RequireFromString("42.50")

		res, err := f.ledger.ApplyEarn(context.Background(), loyalty.EarnRequest{
			CustomerID:  "c1",
			Points:      425,
			Type:        loyalty.TxPurchase,
			AmountSpent: &spent,
		})
		require.NoError(t, err)

		assert.Equal(t, int64(425), res.Customer.TotalPoints)
		assert.Equal(t, int64(425), res.Customer.LifetimePoints)
		assert.Equal(t, int64(1), res.Customer.VisitCount)
		assert.True(t, spent.Equal(res.Customer.TotalSpent))
		assert.Equal(t, int64(425), res.Transaction.BalanceAfter)
		require.NotNil(t, res.Transaction.AmountSpent)
		assert.True(t, spent.Equal(*res.Transaction.AmountSpent))
	})
}

func TestApplyEarn_BonusDoesNotCountAsVisit(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b backend) {
		f := newLedgerOn(t, b)
		f.enroll(t, "c1")
		f.credit(t, "c1", 100)

		c, err := f.ledger.Customer(context.Background(), "c1")
		require.NoError(t, err)
		assert.Zero(t, c.VisitCount)
		assert.True(t, c.TotalSpent.IsZero())
	})
}

func TestApplyEarn_Validation(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b backend) {
		f := newLedgerOn(t, b)
		ctx := context.Background()
		f.enroll(t, "c1")
		negative := decimal.NewFromInt(-5)

		tests := []struct {
			name string
			req  loyalty.EarnRequest
			want error
		}{
			{"zero points", loyalty.EarnRequest{CustomerID: "c1", Points: 0, Type: loyalty.TxBonus}, loyalty.ErrInvalidAmount},
			{"negative points", loyalty.EarnRequest{CustomerID: "c1", Points: -10, Type: loyalty.TxBonus}, loyalty.ErrInvalidAmount},
			{"redemption type", loyalty.EarnRequest{CustomerID: "c1", Points: 10, Type: loyalty.TxRedemption}, loyalty.ErrInvalidTransactionType},
			{"unknown type", loyalty.EarnRequest{CustomerID: "c1", Points: 10, Type: "cashback"}, loyalty.ErrInvalidTransactionType},
			{"negative spend", loyalty.EarnRequest{CustomerID: "c1", Points: 10, Type: loyalty.TxPurchase, AmountSpent: &negative}, loyalty.ErrInvalidAmount},
			{"unknown customer", loyalty.EarnRequest{CustomerID: "ghost", Points: 10, Type: loyalty.TxBonus}, loyalty.ErrCustomerNotFound},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := f.ledger.ApplyEarn(ctx, tt.req)
				assert.ErrorIs(t, err, tt.want)
			})
		}
		assert.Zero(t, f.balance(t, "c1"))
		assert.Empty(t, f.history(t, "c1"))
	})
}

func TestApplyEarn_IdempotencyKeyReplays(t *testing.T) {
	// GIVEN: A POS webhook delivered twice for the same order
	// THEN: Points are credited once and the second call reports a replay

	forEachBackend(t, func(t *testing.T, b backend) {
		f := newLedgerOn(t, b)
		ctx := context.Background()
		f.enroll(t, "c1")
		req := loyalty.EarnRequest{CustomerID: "c1", Points: 250, Type: loyalty.TxPurchase, IdempotencyKey: "purchase:order-77"}

		first, err := f.ledger.ApplyEarn(ctx, req)
		require.NoError(t, err)
		second, err := f.ledger.ApplyEarn(ctx, req)
		require.NoError(t, err)

		assert.False(t, first.Replayed)
		assert.True(t, second.Replayed)
		assert.Equal(t, first.Transaction.ID, second.Transaction.ID)
		assert.Equal(t, int64(250), second.Customer.TotalPoints)
		assert.Len(t, f.history(t, "c1"), 1)
	})
}

func TestApplyEarn_KeyOwnedByAnotherCustomer(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b backend) {
		f := newLedgerOn(t, b)
		ctx := context.Background()
		f.enroll(t, "c1")
		f.enroll(t, "c2")

		_, err := f.ledger.ApplyEarn(ctx, loyalty.EarnRequest{CustomerID: "c1", Points: 10, Type: loyalty.TxBonus, IdempotencyKey: "k"})
		require.NoError(t, err)

		_, err = f.ledger.ApplyEarn(ctx, loyalty.EarnRequest{CustomerID: "c2", Points: 10, Type: loyalty.TxBonus, IdempotencyKey: "k"})
		assert.ErrorIs(t, err, loyalty.ErrConflict)
		assert.Zero(t, f.balance(t, "c2"))
	})
}

// =============================================================================
// ADMINISTRATIVE OPERATIONS
// =============================================================================

func TestAdjust_CreditAndDebit(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b backend) {
		f := newLedgerOn(t, b)
		ctx := context.Background()
		f.enroll(t, "c1")
		f.credit(t, "c1", 200)

		credit, err := f.ledger.Adjust(ctx, loyalty.AdjustRequest{CustomerID: "c1", Delta: 75, Reason: "cold soup", Actor: "manager-1"})
		require.NoError(t, err)
		assert.True(t, credit.Administrative)
		assert.Equal(t, "manager-1", credit.Actor)
		assert.Equal(t, loyalty.TxBonus, credit.Type)
		assert.Equal(t, int64(275), credit.BalanceAfter)

		debit, err := f.ledger.Adjust(ctx, loyalty.AdjustRequest{CustomerID: "c1", Delta: -275, Reason: "duplicate visit"})
		require.NoError(t, err)
		assert.Equal(t, loyalty.TxRedemption, debit.Type)
		assert.Equal(t, int64(0), debit.BalanceAfter)

		c, err := f.ledger.Customer(ctx, "c1")
		require.NoError(t, err)
		assert.Equal(t, int64(200), c.LifetimePoints, "adjustments never touch lifetime points")
		f.assertConsistent(t, "c1")
	})
}

func TestAdjust_Validation(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b backend) {
		f := newLedgerOn(t, b)
		ctx := context.Background()
		f.enroll(t, "c1")

		_, err := f.ledger.Adjust(ctx, loyalty.AdjustRequest{CustomerID: "c1", Delta: 0, Reason: "noop"})
		assert.ErrorIs(t, err, loyalty.ErrInvalidAmount)

		_, err = f.ledger.Adjust(ctx, loyalty.AdjustRequest{CustomerID: "c1", Delta: 10, Reason: "   "})
		assert.ErrorIs(t, err, loyalty.ErrReasonRequired)

		_, err = f.ledger.Adjust(ctx, loyalty.AdjustRequest{CustomerID: "ghost", Delta: 10, Reason: "x"})
		assert.ErrorIs(t, err, loyalty.ErrCustomerNotFound)
	})
}

func TestApplyEarn_RejectsOverflow(t *testing.T) {
	// GIVEN: A customer with 10 lifetime points
	// WHEN: An earn would push lifetime points past the int64 range
	// THEN: ErrInvalidAmount, nothing recorded, and the exact maximum still fits

	forEachBackend(t, func(t *testing.T, b backend) {
		f := newLedgerOn(t, b)
		ctx := context.Background()
		f.enroll(t, "c1")
		f.credit(t, "c1", 10)

		_, err := f.ledger.ApplyEarn(ctx, loyalty.EarnRequest{CustomerID: "c1", Points: math.MaxInt64, Type: loyalty.TxBonus})
		assert.ErrorIs(t, err, loyalty.ErrInvalidAmount)
		assert.Equal(t, int64(10), f.balance(t, "c1"))
		assert.Len(t, f.history(t, "c1"), 1)

		res, err := f.ledger.ApplyEarn(ctx, loyalty.EarnRequest{CustomerID: "c1", Points: math.MaxInt64 - 10, Type: loyalty.TxBonus})
		require.NoError(t, err)
		assert.Equal(t, int64(math.MaxInt64), res.Transaction.BalanceAfter)

		c, err := f.ledger.Customer(ctx, "c1")
		require.NoError(t, err)
		assert.Equal(t, loyalty.TierPlatinum, loyalty.DefaultTierPolicy().TierFor(c.LifetimePoints).Tier)

		_, err = f.ledger.ApplyEarn(ctx, loyalty.EarnRequest{CustomerID: "c1", Points: 1, Type: loyalty.TxBonus})
		assert.ErrorIs(t, err, loyalty.ErrInvalidAmount)
	})
}

func TestAdjust_RejectsOverflow(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b backend) {
		f := newLedgerOn(t, b)
		ctx := context.Background()
		f.enroll(t, "c1")
		f.credit(t, "c1", 10)

		_, err := f.ledger.Adjust(ctx, loyalty.AdjustRequest{CustomerID: "c1", Delta: math.MaxInt64, Reason: "typo"})
		assert.ErrorIs(t, err, loyalty.ErrInvalidAmount)

		_, err = f.ledger.Adjust(ctx, loyalty.AdjustRequest{CustomerID: "c1", Delta: math.MinInt64, Reason: "typo"})
		assert.ErrorIs(t, err, loyalty.ErrInvalidAmount)

		assert.Equal(t, int64(10), f.balance(t, "c1"))
		assert.Len(t, f.history(t, "c1"), 1)
		f.assertConsistent(t, "c1")
	})
}

func TestReverseRedemption_RefundsOnce(t *testing.T) {
	// GIVEN: A redeemed capped dessert
	// WHEN: An administrator reverses it twice
	// THEN: Points and inventory come back once; the second attempt conflicts

	forEachBackend(t, func(t *testing.T, b backend) {
		f := newLedgerOn(t, b)
		ctx := context.Background()
		f.enroll(t, "c1")
		f.credit(t, "c1", 1000)
		f.putReward(t, "dessert", 400, loyalty.TierBronze, capOf(5))

		ticket, err := f.ledger.TryRedeem(ctx, loyalty.RedeemRequest{CustomerID: "c1", RewardID: "dessert", TicketID: "t-1"})
		require.NoError(t, err)

		refund, err := f.ledger.ReverseRedemption(ctx, loyalty.ReverseRequest{TicketID: "t-1", Reason: "kitchen closed", Actor: "manager-2"})
		require.NoError(t, err)
		assert.Equal(t, int64(400), refund.Points)
		assert.Equal(t, ticket.TransactionID, refund.ReferenceID)
		assert.True(t, refund.Administrative)
		assert.Equal(t, int64(1000), f.balance(t, "c1"))

		r, err := f.store.LoadReward(ctx, "dessert")
		require.NoError(t, err)
		assert.Zero(t, r.TotalRedeemed)

		_, err = f.ledger.ReverseRedemption(ctx, loyalty.ReverseRequest{TicketID: "t-1", Reason: "again"})
		assert.ErrorIs(t, err, loyalty.ErrAlreadyReversed)
		assert.ErrorIs(t, err, loyalty.ErrConflict)
		assert.Equal(t, int64(1000), f.balance(t, "c1"))
		f.assertConsistent(t, "c1")
	})
}

func TestReverseRedemption_Validation(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b backend) {
		f := newLedgerOn(t, b)
		ctx := context.Background()
		f.enroll(t, "c1")
		f.credit(t, "c1", 100)

		_, err := f.ledger.ReverseRedemption(ctx, loyalty.ReverseRequest{TicketID: "nope", Reason: "x"})
		assert.ErrorIs(t, err, loyalty.ErrNotFound)

		_, err = f.ledger.ReverseRedemption(ctx, loyalty.ReverseRequest{TicketID: "nope"})
		assert.ErrorIs(t, err, loyalty.ErrReasonRequired)
	})
}

// =============================================================================
// READS
// =============================================================================

func TestTransactions_PagesNewestFirst(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b backend) {
		f := newLedgerOn(t, b)
		ctx := context.Background()
		f.enroll(t, "c1")
		for i := 1; i <= 7; i++ {
			f.credit(t, "c1", int64(i))
		}

		var got []int64
		page := loyalty.Page{Limit: 3}
		pages := 0
		for {
			res, err := f.ledger.Transactions(ctx, "c1", page)
			require.NoError(t, err)
			pages++
			for _, tx := range res.Transactions {
				got = append(got, tx.Points)
			}
			if res.NextCursor == "" {
				break
			}
			page.Cursor = res.NextCursor
		}

		assert.Equal(t, 3, pages)
		assert.Equal(t, []int64{7, 6, 5, 4, 3, 2, 1}, got)
	})
}

func TestTransactions_Errors(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b backend) {
		f := newLedgerOn(t, b)
		ctx := context.Background()
		f.enroll(t, "c1")

		_, err := f.ledger.Transactions(ctx, "c1", loyalty.Page{Cursor: "not-a-number"})
		assert.ErrorIs(t, err, loyalty.ErrInvalidCursor)

		_, err = f.ledger.Transactions(ctx, "ghost", loyalty.Page{})
		assert.ErrorIs(t, err, loyalty.ErrCustomerNotFound)
	})
}

func TestPage_Normalize(t *testing.T) {
	assert.Equal(t, loyalty.DefaultPageLimit, loyalty.Page{}.Normalize().Limit)
	assert.Equal(t, loyalty.MaxPageLimit, loyalty.Page{Limit: 10_000}.Normalize().Limit)
	assert.Equal(t, 7, loyalty.Page{Limit: 7}.Normalize().Limit)
}

func TestAudit_ReplaysHistory(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b backend) {
		f := newLedgerOn(t, b)
		ctx := context.Background()
		f.enroll(t, "c1")
		f.credit(t, "c1", 600)
		f.putReward(t, "drink", 150, loyalty.TierBronze, nil)
		_, err := f.ledger.TryRedeem(ctx, loyalty.RedeemRequest{CustomerID: "c1", RewardID: "drink"})
		require.NoError(t, err)
		_, err = f.ledger.Adjust(ctx, loyalty.AdjustRequest{CustomerID: "c1", Delta: 20, Reason: "late order"})
		require.NoError(t, err)

		rep, err := f.ledger.Audit(ctx, "c1")
		require.NoError(t, err)

		assert.Equal(t, int64(470), rep.Balance)
		assert.Equal(t, int64(470), rep.LedgerSum)
		assert.Equal(t, int64(600), rep.LifetimePoints)
		assert.Equal(t, int64(600), rep.EarnedSum)
		assert.Equal(t, 3, rep.Entries)
		assert.True(t, rep.Consistent)
	})
}

// =============================================================================
// UNAVAILABILITY
// =============================================================================

func TestApplyEarn_LockTimeoutIsUnavailable(t *testing.T) {
	// GIVEN: Another unit holds the customer's lock
	// WHEN: An earn cannot acquire it within the ledger timeout
	// THEN: ErrUnavailable, and the balance is untouched

	f := newTestLedger(t, func(o *loyalty.LedgerOptions) { o.AtomicTimeout = 20 * time.Millisecond })
	ctx := context.Background()
	f.enroll(t, "c1")

	held := make(chan struct{})
	done := make(chan struct{})
	go func() {
		_ = f.store.RunAtomic(ctx, "c1", func(loyalty.AtomicUnit) error {
			close(held)
			<-done
			return nil
		})
	}()
	<-held

	_, err := f.ledger.ApplyEarn(ctx, loyalty.EarnRequest{CustomerID: "c1", Points: 10, Type: loyalty.TxBonus})
	close(done)

	assert.ErrorIs(t, err, loyalty.ErrUnavailable)
	assert.True(t, loyalty.IsRetryable(err))
	assert.Zero(t, f.balance(t, "c1"))
}

type slowCodes struct{ delay time.Duration }

func (s slowCodes) Generate(prefix string) (string, error) {
	time.Sleep(s.delay)
	return loyalty.RandomCodeGenerator{}.Generate(prefix)
}

func TestTryRedeem_OverrunUnitIsRolledBack(t *testing.T) {
	// GIVEN: A unit that finishes its work after the ledger deadline
	// THEN: Nothing is published: balance, inventory and history unchanged

	f := newTestLedger(t, func(o *loyalty.LedgerOptions) {
		o.AtomicTimeout = 20 * time.Millisecond
		o.Codes = slowCodes{delay: 60 * time.Millisecond}
	})
	ctx := context.Background()
	f.enroll(t, "c1")
	f.credit(t, "c1", 500)
	f.putReward(t, "drink", 150, loyalty.TierBronze, capOf(3))

	_, err := f.ledger.TryRedeem(ctx, loyalty.RedeemRequest{CustomerID: "c1", RewardID: "drink"})

	assert.ErrorIs(t, err, loyalty.ErrUnavailable)
	assert.Equal(t, int64(500), f.balance(t, "c1"))
	assert.Len(t, f.history(t, "c1"), 1)
	r, err := f.store.LoadReward(ctx, "drink")
	require.NoError(t, err)
	assert.Zero(t, r.TotalRedeemed)
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

func TestKind(t *testing.T) {
	assert.Equal(t, "", loyalty.Kind(nil))
	assert.Equal(t, "insufficient_balance", loyalty.Kind(&loyalty.InsufficientBalanceError{}))
	assert.Equal(t, "tier_ineligible", loyalty.Kind(fmt.Errorf("wrap: %w", &loyalty.TierIneligibleError{})))
	assert.Equal(t, "conflict", loyalty.Kind(loyalty.ErrAlreadyReversed))
	assert.Equal(t, "not_found", loyalty.Kind(loyalty.ErrRewardNotFound))
	assert.Equal(t, "code_expired", loyalty.Kind(loyalty.ErrCodeExpired))
	assert.Equal(t, "internal", loyalty.Kind(errors.New("boom")))

	assert.True(t, loyalty.IsUserFacing(&loyalty.RewardUnavailableError{}))
	assert.False(t, loyalty.IsUserFacing(loyalty.ErrUnavailable))
}
