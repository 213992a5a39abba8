/*
store.go - Persistence contracts for the loyalty ledger

PURPOSE:
  Defines the boundary between ledger rules and the durable store.
  The store owns Customer, Reward and Transaction records; the ledger
  only talks to it through these interfaces.

KEY INTERFACES:
  LedgerStore: Reads, history paging, and RunAtomic
  AtomicUnit:  Exclusive read-modify-write view inside RunAtomic
  Registry:    Admin-side writes (enroll customers, upsert rewards)

ATOMIC UNITS:
  RunAtomic(ctx, customerID, fn) gives fn exclusive access to that
  customer's balance for the whole call. Rewards are locked on demand with
  AtomicUnit.LockReward, so a capped reward's inventory is checked and
  incremented in the same unit as the point debit. If fn returns an error
  nothing it wrote is kept. If the unit cannot start or finish before the
  context deadline the store returns ErrUnavailable.

APPEND-ONLY CONTRACT:
  Transactions are written only through AtomicUnit.AppendTransaction.
  There is no Update or Delete for transactions.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite (BEGIN IMMEDIATE units)
  - loyalty/store/memory.go: In-memory, for tests and demos
*/
package loyalty

import "context"

// =============================================================================
// LEDGER STORE
// =============================================================================

type LedgerStore interface {
	// LoadCustomer returns ErrCustomerNotFound for unknown ids.
	LoadCustomer(ctx context.Context, id CustomerID) (Customer, error)

	// LoadReward returns ErrRewardNotFound for unknown ids.
	LoadReward(ctx context.Context, id RewardID) (Reward, error)

	// ListRewards returns every reward, active or not.
	ListRewards(ctx context.Context) ([]Reward, error)

	// RunAtomic executes fn with exclusive access to the customer's balance.
	RunAtomic(ctx context.Context, customerID CustomerID, fn func(AtomicUnit) error) error

	// ListTransactions returns the customer's history newest first.
	// Pages are restartable from NextCursor.
	ListTransactions(ctx context.Context, customerID CustomerID, page Page) (TransactionPage, error)

	// FindByIdempotencyKey returns ErrNotFound if no transaction carries key.
	FindByIdempotencyKey(ctx context.Context, key string) (Transaction, error)
}

// AtomicUnit is the store view handed to RunAtomic's fn. It must not be
// retained after fn returns.
type AtomicUnit interface {
	// Customer returns the locked customer, including writes made in this unit.
	Customer(ctx context.Context) (Customer, error)

	SaveCustomer(ctx context.Context, c Customer) error

	// LockReward takes the reward's inventory lock for the rest of the unit.
	LockReward(ctx context.Context, id RewardID) (Reward, error)

	// SaveReward persists a reward previously returned by LockReward.
	SaveReward(ctx context.Context, r Reward) error

	// AppendTransaction assigns Seq and records tx. Returns ErrDuplicateCode
	// if tx.Code is already used, ErrConflict on a duplicate idempotency key.
	AppendTransaction(ctx context.Context, tx Transaction) (Transaction, error)

	FindByIdempotencyKey(ctx context.Context, key string) (Transaction, error)
}

// =============================================================================
// REGISTRY - Admin-side writes, not used by ledger rules
// =============================================================================

type Registry interface {
	// CreateCustomer enrolls a customer with zero balances.
	// Returns ErrCustomerExists if the id is taken.
	CreateCustomer(ctx context.Context, c Customer) error

	// PutReward inserts or updates a reward definition. TotalRedeemed is
	// owned by the ledger and is preserved on update.
	PutReward(ctx context.Context, r Reward) error

	// Reset clears all data (demo scenarios only).
	Reset(ctx context.Context) error
}

// Store is what a full backend implements.
type Store interface {
	LedgerStore
	Registry
}
