// Package store provides in-process loyalty.Store implementations.
package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/warp/loyalty-engine/loyalty"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory keeps everything in maps. Atomic units lock one customer (and any
// rewards they touch) with channel locks, stage their writes, and publish them
// under the data mutex only if fn succeeds.
type Memory struct {
	mu        sync.RWMutex
	customers map[loyalty.CustomerID]loyalty.Customer
	rewards   map[loyalty.RewardID]loyalty.Reward
	history   map[loyalty.CustomerID][]loyalty.Transaction // append order
	byKey     map[string]loyalty.Transaction
	codes     map[string]bool
	seq       int64

	// Reservations made by units that have not committed yet.
	pendingKeys  map[string]bool
	pendingCodes map[string]bool

	locksMu     sync.Mutex
	custLocks   map[loyalty.CustomerID]chan struct{}
	rewardLocks map[loyalty.RewardID]chan struct{}
}

var _ loyalty.Store = (*Memory)(nil)

func NewMemory() *Memory {
	m := &Memory{
		custLocks:   make(map[loyalty.CustomerID]chan struct{}),
		rewardLocks: make(map[loyalty.RewardID]chan struct{}),
	}
	m.resetLocked()
	return m
}

func (m *Memory) resetLocked() {
	m.customers = make(map[loyalty.CustomerID]loyalty.Customer)
	m.rewards = make(map[loyalty.RewardID]loyalty.Reward)
	m.history = make(map[loyalty.CustomerID][]loyalty.Transaction)
	m.byKey = make(map[string]loyalty.Transaction)
	m.codes = make(map[string]bool)
	m.pendingKeys = make(map[string]bool)
	m.pendingCodes = make(map[string]bool)
	m.seq = 0
}

// =============================================================================
// READS
// =============================================================================

func (m *Memory) LoadCustomer(_ context.Context, id loyalty.CustomerID) (loyalty.Customer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.customers[id]
	if !ok {
		return loyalty.Customer{}, fmt.Errorf("%w: %s", loyalty.ErrCustomerNotFound, id)
	}
	return c, nil
}

func (m *Memory) LoadReward(_ context.Context, id loyalty.RewardID) (loyalty.Reward, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rewards[id]
	if !ok {
		return loyalty.Reward{}, fmt.Errorf("%w: %s", loyalty.ErrRewardNotFound, id)
	}
	return cloneReward(r), nil
}

func (m *Memory) ListRewards(_ context.Context) ([]loyalty.Reward, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]loyalty.Reward, 0, len(m.rewards))
	for _, r := range m.rewards {
		out = append(out, cloneReward(r))
	}
	loyalty.SortRewards(out)
	return out, nil
}

func (m *Memory) ListTransactions(_ context.Context, id loyalty.CustomerID, page loyalty.Page) (loyalty.TransactionPage, error) {
	page = page.Normalize()
	before, err := loyalty.DecodeCursor(page.Cursor)
	if err != nil {
		return loyalty.TransactionPage{}, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	txs := m.history[id]
	var res loyalty.TransactionPage
	for i := len(txs) - 1; i >= 0; i-- {
		tx := txs[i]
		if before > 0 && tx.Seq >= before {
			continue
		}
		if len(res.Transactions) == page.Limit {
			res.NextCursor = loyalty.EncodeCursor(res.Transactions[len(res.Transactions)-1].Seq)
			break
		}
		res.Transactions = append(res.Transactions, tx)
	}
	return res, nil
}

func (m *Memory) FindByIdempotencyKey(_ context.Context, key string) (loyalty.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tx, ok := m.byKey[key]
	if !ok {
		return loyalty.Transaction{}, fmt.Errorf("%w: idempotency key %q", loyalty.ErrNotFound, key)
	}
	return tx, nil
}

// =============================================================================
// REGISTRY
// =============================================================================

func (m *Memory) CreateCustomer(_ context.Context, c loyalty.Customer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.customers[c.ID]; ok {
		return fmt.Errorf("%w: %s", loyalty.ErrCustomerExists, c.ID)
	}
	c.TotalPoints, c.LifetimePoints, c.VisitCount = 0, 0, 0
	c.TotalSpent = decimal.Zero
	m.customers[c.ID] = c
	return nil
}

// PutReward takes the reward's inventory lock so an admin edit cannot be
// overwritten by a unit that is redeeming the same reward.
func (m *Memory) PutReward(ctx context.Context, r loyalty.Reward) error {
	if err := loyalty.ValidateReward(r); err != nil {
		return err
	}
	lock := m.rewardLock(r.ID)
	if err := acquire(ctx, lock); err != nil {
		return err
	}
	defer release(lock)

	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.rewards[r.ID]; ok {
		r.TotalRedeemed = prev.TotalRedeemed
		if r.CreatedAt.IsZero() {
			r.CreatedAt = prev.CreatedAt
		}
	}
	m.rewards[r.ID] = cloneReward(r)
	return nil
}

func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetLocked()
	return nil
}

// =============================================================================
// ATOMIC UNITS
// =============================================================================

func (m *Memory) RunAtomic(ctx context.Context, id loyalty.CustomerID, fn func(loyalty.AtomicUnit) error) error {
	lock := m.customerLock(id)
	if err := acquire(ctx, lock); err != nil {
		return err
	}
	defer release(lock)

	if _, err := m.LoadCustomer(ctx, id); err != nil {
		return err
	}

	u := &memUnit{m: m, id: id, rewards: make(map[loyalty.RewardID]loyalty.Reward)}
	defer u.releaseRewards()

	if err := fn(u); err != nil {
		u.rollback()
		return err
	}
	// A unit that overran its deadline is not published.
	if err := ctx.Err(); err != nil {
		u.rollback()
		return fmt.Errorf("%w: %v", loyalty.ErrUnavailable, err)
	}
	u.commit()
	return nil
}

type memUnit struct {
	m  *Memory
	id loyalty.CustomerID

	customer    *loyalty.Customer
	rewards     map[loyalty.RewardID]loyalty.Reward
	dirtyReward map[loyalty.RewardID]bool
	lockOrder   []loyalty.RewardID
	txs         []loyalty.Transaction
}

func (u *memUnit) Customer(ctx context.Context) (loyalty.Customer, error) {
	if u.customer != nil {
		return *u.customer, nil
	}
	c, err := u.m.LoadCustomer(ctx, u.id)
	if err != nil {
		return loyalty.Customer{}, err
	}
	u.customer = &c
	return c, nil
}

func (u *memUnit) SaveCustomer(_ context.Context, c loyalty.Customer) error {
	if c.ID != u.id {
		return fmt.Errorf("save customer %s: unit is scoped to %s", c.ID, u.id)
	}
	u.customer = &c
	return nil
}

func (u *memUnit) LockReward(ctx context.Context, id loyalty.RewardID) (loyalty.Reward, error) {
	if r, ok := u.rewards[id]; ok {
		return cloneReward(r), nil
	}
	lock := u.m.rewardLock(id)
	if err := acquire(ctx, lock); err != nil {
		return loyalty.Reward{}, err
	}
	r, err := u.m.LoadReward(ctx, id)
	if err != nil {
		release(lock)
		return loyalty.Reward{}, err
	}
	u.rewards[id] = r
	u.lockOrder = append(u.lockOrder, id)
	return cloneReward(r), nil
}

func (u *memUnit) SaveReward(_ context.Context, r loyalty.Reward) error {
	if _, ok := u.rewards[r.ID]; !ok {
		return fmt.Errorf("save reward %s: not locked in this unit", r.ID)
	}
	if u.dirtyReward == nil {
		u.dirtyReward = make(map[loyalty.RewardID]bool)
	}
	u.rewards[r.ID] = cloneReward(r)
	u.dirtyReward[r.ID] = true
	return nil
}

func (u *memUnit) AppendTransaction(_ context.Context, tx loyalty.Transaction) (loyalty.Transaction, error) {
	if tx.CustomerID != u.id {
		return loyalty.Transaction{}, fmt.Errorf("append transaction for %s: unit is scoped to %s", tx.CustomerID, u.id)
	}

	m := u.m
	m.mu.Lock()
	defer m.mu.Unlock()

	if tx.Code != "" && (m.codes[tx.Code] || m.pendingCodes[tx.Code]) {
		return loyalty.Transaction{}, fmt.Errorf("%w: %s", loyalty.ErrDuplicateCode, tx.Code)
	}
	if k := tx.IdempotencyKey; k != "" {
		if _, ok := m.byKey[k]; ok || m.pendingKeys[k] {
			return loyalty.Transaction{}, fmt.Errorf("%w: idempotency key %q already recorded", loyalty.ErrConflict, k)
		}
	}

	m.seq++
	tx.Seq = m.seq
	if tx.Code != "" {
		m.pendingCodes[tx.Code] = true
	}
	if tx.IdempotencyKey != "" {
		m.pendingKeys[tx.IdempotencyKey] = true
	}
	u.txs = append(u.txs, tx)
	return tx, nil
}

func (u *memUnit) FindByIdempotencyKey(ctx context.Context, key string) (loyalty.Transaction, error) {
	for _, tx := range u.txs {
		if tx.IdempotencyKey == key {
			return tx, nil
		}
	}
	return u.m.FindByIdempotencyKey(ctx, key)
}

func (u *memUnit) commit() {
	m := u.m
	m.mu.Lock()
	defer m.mu.Unlock()

	if u.customer != nil {
		m.customers[u.id] = *u.customer
	}
	for id := range u.dirtyReward {
		m.rewards[id] = u.rewards[id]
	}
	for _, tx := range u.txs {
		m.history[u.id] = append(m.history[u.id], tx)
		if tx.Code != "" {
			m.codes[tx.Code] = true
			delete(m.pendingCodes, tx.Code)
		}
		if tx.IdempotencyKey != "" {
			m.byKey[tx.IdempotencyKey] = tx
			delete(m.pendingKeys, tx.IdempotencyKey)
		}
	}
}

func (u *memUnit) rollback() {
	m := u.m
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, tx := range u.txs {
		delete(m.pendingCodes, tx.Code)
		delete(m.pendingKeys, tx.IdempotencyKey)
	}
	u.txs = nil
}

func (u *memUnit) releaseRewards() {
	for i := len(u.lockOrder) - 1; i >= 0; i-- {
		release(u.m.rewardLock(u.lockOrder[i]))
	}
}

// =============================================================================
// LOCKS
// =============================================================================

func (m *Memory) customerLock(id loyalty.CustomerID) chan struct{} {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	l, ok := m.custLocks[id]
	if !ok {
		l = make(chan struct{}, 1)
		m.custLocks[id] = l
	}
	return l
}

func (m *Memory) rewardLock(id loyalty.RewardID) chan struct{} {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	l, ok := m.rewardLocks[id]
	if !ok {
		l = make(chan struct{}, 1)
		m.rewardLocks[id] = l
	}
	return l
}

// acquire waits for lock until ctx is done.
func acquire(ctx context.Context, lock chan struct{}) error {
	select {
	case lock <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: waiting for lock: %v", loyalty.ErrUnavailable, ctx.Err())
	}
}

func release(lock chan struct{}) { <-lock }

func cloneReward(r loyalty.Reward) loyalty.Reward {
	if r.TotalAvailable != nil {
		n := *r.TotalAvailable
		r.TotalAvailable = &n
	}
	return r
}
