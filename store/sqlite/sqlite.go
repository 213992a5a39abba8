/*
Package sqlite provides a SQLite-backed implementation of loyalty.Store.

PURPOSE:
  Durable customers, rewards and the append-only transaction log. In
  production the same patterns apply to PostgreSQL with row locks; only the
  dialect and the locking statement differ.

INTERFACES IMPLEMENTED:
  loyalty.LedgerStore: reads, history paging, RunAtomic
  loyalty.AtomicUnit:  sqlUnit, one IMMEDIATE transaction
  loyalty.Registry:    customer enrollment, reward upsert, reset

APPEND-ONLY ENFORCEMENT:
  - transactions rows are only ever INSERTed
  - a BEFORE UPDATE trigger aborts any UPDATE on transactions
  - corrections are compensating entries written by the ledger

KEY TABLES:
  customers:    balance record (CHECK total_points >= 0)
  rewards:      catalog entries and inventory counters
  transactions: immutable ledger, seq is the paging/ordering key

CONCURRENCY:
  Every connection opens transactions with BEGIN IMMEDIATE (_txlock), so an
  atomic unit holds the database write lock from its first statement: the
  customer balance and the reward inventory are read and written under the
  same lock. Writers that cannot get the lock within _busy_timeout fail with
  SQLITE_BUSY, which is reported as loyalty.ErrUnavailable.

  The write lock covers the whole database, not one customer: units for
  different customers run one at a time and wait on each other. This store
  does not give the per-customer isolation the ledger asks for. Use
  loyalty/store.Memory (per-customer locks) or a backend with row locks
  (PostgreSQL SELECT ... FOR UPDATE) where unrelated customers must not
  contend. Units are short, so a single-restaurant deployment is served
  fine by one writer.

  ":memory:" databases are pinned to one connection so every caller sees the
  same data. All statements inside a unit run on the unit's *sql.Tx.

USAGE:
  store, err := sqlite.New("./data/loyalty.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  ledger := loyalty.NewPointsLedger(store, loyalty.LedgerOptions{})

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - loyalty/store.go: Interface definitions
  - loyalty/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/loyalty-engine/loyalty"
)

// DefaultBusyTimeout is how long a writer waits for the database lock.
const DefaultBusyTimeout = 2 * time.Second

type Options struct {
	BusyTimeout time.Duration
}

// Store implements loyalty.Store using SQLite.
type Store struct {
	db *sql.DB
}

var _ loyalty.Store = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	return Open(dbPath, Options{})
}

func Open(dbPath string, opts Options) (*Store, error) {
	if opts.BusyTimeout <= 0 {
		opts.BusyTimeout = DefaultBusyTimeout
	}

	db, err := sql.Open("sqlite3", dsn(dbPath, opts))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if isMemory(dbPath) {
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

func dsn(path string, opts Options) string {
	params := []string{
		"_foreign_keys=on",
		"_txlock=immediate",
		fmt.Sprintf("_busy_timeout=%d", opts.BusyTimeout.Milliseconds()),
	}
	if !isMemory(path) {
		params = append(params, "_journal_mode=WAL")
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + strings.Join(params, "&")
}

func isMemory(path string) bool {
	return path == ":memory:" || strings.Contains(path, "mode=memory")
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS customers (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		email TEXT NOT NULL DEFAULT '',
		total_points INTEGER NOT NULL DEFAULT 0 CHECK (total_points >= 0),
		lifetime_points INTEGER NOT NULL DEFAULT 0 CHECK (lifetime_points >= 0),
		visit_count INTEGER NOT NULL DEFAULT 0 CHECK (visit_count >= 0),
		total_spent TEXT NOT NULL DEFAULT '0',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS rewards (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		points_required INTEGER NOT NULL CHECK (points_required > 0),
		min_tier TEXT NOT NULL CHECK (min_tier IN ('bronze', 'silver', 'gold', 'platinum')),
		is_active INTEGER NOT NULL DEFAULT 1,
		total_available INTEGER CHECK (total_available IS NULL OR total_available >= 0),
		total_redeemed INTEGER NOT NULL DEFAULT 0 CHECK (total_redeemed >= 0),
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Transactions (append-only ledger)
	CREATE TABLE IF NOT EXISTS transactions (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		customer_id TEXT NOT NULL REFERENCES customers(id),
		tx_type TEXT NOT NULL CHECK (tx_type IN ('purchase', 'bonus', 'referral', 'signup', 'redemption')),
		points INTEGER NOT NULL CHECK (points <> 0),
		balance_after INTEGER NOT NULL CHECK (balance_after >= 0),
		amount_spent TEXT,
		description TEXT NOT NULL DEFAULT '',
		reward_id TEXT,
		code TEXT UNIQUE,
		idempotency_key TEXT UNIQUE,
		reference_id TEXT,
		administrative INTEGER NOT NULL DEFAULT 0,
		actor TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	-- History paging (hot path)
	CREATE INDEX IF NOT EXISTS idx_transactions_customer_seq
		ON transactions(customer_id, seq DESC);

	CREATE INDEX IF NOT EXISTS idx_transactions_reference
		ON transactions(reference_id) WHERE reference_id IS NOT NULL;

	CREATE TRIGGER IF NOT EXISTS transactions_append_only
		BEFORE UPDATE ON transactions
	BEGIN
		SELECT RAISE(ABORT, 'transactions are append-only');
	END;
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// QUERY HELPERS - shared by Store (autocommit) and sqlUnit (in-transaction)
// =============================================================================

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

const customerColumns = `id, name, email, total_points, lifetime_points, visit_count, total_spent, created_at, updated_at`

func loadCustomer(ctx context.Context, q querier, id loyalty.CustomerID) (loyalty.Customer, error) {
	row := q.QueryRowContext(ctx, `SELECT `+customerColumns+` FROM customers WHERE id = ?`, id)
	c, err := scanCustomer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return loyalty.Customer{}, fmt.Errorf("%w: %s", loyalty.ErrCustomerNotFound, id)
	}
	if err != nil {
		return loyalty.Customer{}, mapError(ctx, fmt.Errorf("load customer %s: %w", id, err))
	}
	return c, nil
}

func scanCustomer(row rowScanner) (loyalty.Customer, error) {
	var (
		c                    loyalty.Customer
		spent                string
		createdAt, updatedAt string
	)
	err := row.Scan(&c.ID, &c.Name, &c.Email, &c.TotalPoints, &c.LifetimePoints,
		&c.VisitCount, &spent, &createdAt, &updatedAt)
	if err != nil {
		return c, err
	}
	if c.TotalSpent, err = decimal.NewFromString(spent); err != nil {
		return c, fmt.Errorf("customer %s: bad total_spent %q: %w", c.ID, spent, err)
	}
	c.CreatedAt = parseTime(createdAt)
	c.UpdatedAt = parseTime(updatedAt)
	return c, nil
}

const rewardColumns = `id, name, description, points_required, min_tier, is_active, total_available, total_redeemed, created_at, updated_at`

func loadReward(ctx context.Context, q querier, id loyalty.RewardID) (loyalty.Reward, error) {
	row := q.QueryRowContext(ctx, `SELECT `+rewardColumns+` FROM rewards WHERE id = ?`, id)
	r, err := scanReward(row)
	if errors.Is(err, sql.ErrNoRows) {
		return loyalty.Reward{}, fmt.Errorf("%w: %s", loyalty.ErrRewardNotFound, id)
	}
	if err != nil {
		return loyalty.Reward{}, mapError(ctx, fmt.Errorf("load reward %s: %w", id, err))
	}
	return r, nil
}

func scanReward(row rowScanner) (loyalty.Reward, error) {
	var (
		r                    loyalty.Reward
		minTier              string
		available            sql.NullInt64
		createdAt, updatedAt string
	)
	err := row.Scan(&r.ID, &r.Name, &r.Description, &r.PointsRequired, &minTier,
		&r.IsActive, &available, &r.TotalRedeemed, &createdAt, &updatedAt)
	if err != nil {
		return r, err
	}
	r.MinTier = loyalty.Tier(minTier)
	if available.Valid {
		n := available.Int64
		r.TotalAvailable = &n
	}
	r.CreatedAt = parseTime(createdAt)
	r.UpdatedAt = parseTime(updatedAt)
	return r, nil
}

const transactionColumns = `seq, id, customer_id, tx_type, points, balance_after, amount_spent, description,
	reward_id, code, idempotency_key, reference_id, administrative, actor, created_at`

func findByKey(ctx context.Context, q querier, key string) (loyalty.Transaction, error) {
	row := q.QueryRowContext(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE idempotency_key = ?`, key)
	tx, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return loyalty.Transaction{}, fmt.Errorf("%w: idempotency key %q", loyalty.ErrNotFound, key)
	}
	if err != nil {
		return loyalty.Transaction{}, mapError(ctx, fmt.Errorf("find idempotency key %q: %w", key, err))
	}
	return tx, nil
}

func scanTransaction(row rowScanner) (loyalty.Transaction, error) {
	var (
		tx          loyalty.Transaction
		txType      string
		amountSpent sql.NullString
		rewardID    sql.NullString
		code        sql.NullString
		key         sql.NullString
		referenceID sql.NullString
		createdAt   string
	)

	err := row.Scan(
		&tx.Seq, &tx.ID, &tx.CustomerID, &txType, &tx.Points, &tx.BalanceAfter,
		&amountSpent, &tx.Description, &rewardID, &code, &key, &referenceID,
		&tx.Administrative, &tx.Actor, &createdAt,
	)
	if err != nil {
		return tx, err
	}

	tx.Type = loyalty.TransactionType(txType)
	if amountSpent.Valid {
		d, err := decimal.NewFromString(amountSpent.String)
		if err != nil {
			return tx, fmt.Errorf("transaction %s: bad amount_spent %q: %w", tx.ID, amountSpent.String, err)
		}
		tx.AmountSpent = &d
	}
	tx.RewardID = loyalty.RewardID(rewardID.String)
	tx.Code = code.String
	tx.IdempotencyKey = key.String
	tx.ReferenceID = loyalty.TransactionID(referenceID.String)
	tx.CreatedAt = parseTime(createdAt)
	return tx, nil
}

// =============================================================================
// READS (loyalty.LedgerStore)
// =============================================================================

func (s *Store) LoadCustomer(ctx context.Context, id loyalty.CustomerID) (loyalty.Customer, error) {
	return loadCustomer(ctx, s.db, id)
}

func (s *Store) LoadReward(ctx context.Context, id loyalty.RewardID) (loyalty.Reward, error) {
	return loadReward(ctx, s.db, id)
}

func (s *Store) ListRewards(ctx context.Context) ([]loyalty.Reward, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+rewardColumns+` FROM rewards ORDER BY points_required, id`)
	if err != nil {
		return nil, mapError(ctx, fmt.Errorf("failed to query rewards: %w", err))
	}
	defer rows.Close()

	var rewards []loyalty.Reward
	for rows.Next() {
		r, err := scanReward(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reward: %w", err)
		}
		rewards = append(rewards, r)
	}
	return rewards, rows.Err()
}

// ListTransactions pages newest first by seq. The cursor is the seq of the
// last entry already returned.
func (s *Store) ListTransactions(ctx context.Context, id loyalty.CustomerID, page loyalty.Page) (loyalty.TransactionPage, error) {
	page = page.Normalize()
	before, err := loyalty.DecodeCursor(page.Cursor)
	if err != nil {
		return loyalty.TransactionPage{}, err
	}

	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE customer_id = ? AND (? = 0 OR seq < ?)
		ORDER BY seq DESC
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, id, before, before, page.Limit+1)
	if err != nil {
		return loyalty.TransactionPage{}, mapError(ctx, fmt.Errorf("failed to query transactions: %w", err))
	}
	defer rows.Close()

	var res loyalty.TransactionPage
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return loyalty.TransactionPage{}, fmt.Errorf("failed to scan transaction: %w", err)
		}
		res.Transactions = append(res.Transactions, tx)
	}
	if err := rows.Err(); err != nil {
		return loyalty.TransactionPage{}, err
	}

	if len(res.Transactions) > page.Limit {
		res.Transactions = res.Transactions[:page.Limit]
		res.NextCursor = loyalty.EncodeCursor(res.Transactions[page.Limit-1].Seq)
	}
	return res, nil
}

func (s *Store) FindByIdempotencyKey(ctx context.Context, key string) (loyalty.Transaction, error) {
	return findByKey(ctx, s.db, key)
}

// =============================================================================
// ATOMIC UNITS
// =============================================================================

// RunAtomic runs fn inside one IMMEDIATE transaction. Nothing fn wrote is
// kept unless fn returns nil and the commit succeeds.
func (s *Store) RunAtomic(ctx context.Context, id loyalty.CustomerID, fn func(loyalty.AtomicUnit) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapError(ctx, fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer sqlTx.Rollback()

	if _, err := loadCustomer(ctx, sqlTx, id); err != nil {
		return err
	}

	u := &sqlUnit{tx: sqlTx, id: id, locked: make(map[loyalty.RewardID]bool)}
	if err := fn(u); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return mapError(ctx, fmt.Errorf("failed to commit transaction: %w", err))
	}
	return nil
}

// sqlUnit is the AtomicUnit for one open transaction. The IMMEDIATE lock
// already covers every row, so LockReward only records which rewards the
// unit may write.
type sqlUnit struct {
	tx     *sql.Tx
	id     loyalty.CustomerID
	locked map[loyalty.RewardID]bool
}

func (u *sqlUnit) Customer(ctx context.Context) (loyalty.Customer, error) {
	return loadCustomer(ctx, u.tx, u.id)
}

func (u *sqlUnit) SaveCustomer(ctx context.Context, c loyalty.Customer) error {
	if c.ID != u.id {
		return fmt.Errorf("save customer %s: unit is scoped to %s", c.ID, u.id)
	}
	_, err := u.tx.ExecContext(ctx, `
		UPDATE customers
		SET name = ?, email = ?, total_points = ?, lifetime_points = ?, visit_count = ?,
		    total_spent = ?, updated_at = ?
		WHERE id = ?
	`, c.Name, c.Email, c.TotalPoints, c.LifetimePoints, c.VisitCount,
		c.TotalSpent.String(), formatTime(c.UpdatedAt), c.ID)
	if err != nil {
		return mapError(ctx, fmt.Errorf("save customer %s: %w", c.ID, err))
	}
	return nil
}

func (u *sqlUnit) LockReward(ctx context.Context, id loyalty.RewardID) (loyalty.Reward, error) {
	r, err := loadReward(ctx, u.tx, id)
	if err != nil {
		return loyalty.Reward{}, err
	}
	u.locked[id] = true
	return r, nil
}

// SaveReward writes the ledger-owned inventory counter only. Definition
// fields belong to PutReward.
func (u *sqlUnit) SaveReward(ctx context.Context, r loyalty.Reward) error {
	if !u.locked[r.ID] {
		return fmt.Errorf("save reward %s: not locked in this unit", r.ID)
	}
	_, err := u.tx.ExecContext(ctx,
		`UPDATE rewards SET total_redeemed = ?, updated_at = ? WHERE id = ?`,
		r.TotalRedeemed, formatTime(r.UpdatedAt), r.ID)
	if err != nil {
		return mapError(ctx, fmt.Errorf("save reward %s: %w", r.ID, err))
	}
	return nil
}

func (u *sqlUnit) AppendTransaction(ctx context.Context, tx loyalty.Transaction) (loyalty.Transaction, error) {
	if tx.CustomerID != u.id {
		return loyalty.Transaction{}, fmt.Errorf("append transaction for %s: unit is scoped to %s", tx.CustomerID, u.id)
	}

	var amountSpent sql.NullString
	if tx.AmountSpent != nil {
		amountSpent = sql.NullString{String: tx.AmountSpent.String(), Valid: true}
	}

	query := `
		INSERT INTO transactions
		(id, customer_id, tx_type, points, balance_after, amount_spent, description,
		 reward_id, code, idempotency_key, reference_id, administrative, actor, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	res, err := u.tx.ExecContext(ctx, query,
		tx.ID,
		tx.CustomerID,
		tx.Type,
		tx.Points,
		tx.BalanceAfter,
		amountSpent,
		tx.Description,
		nullString(string(tx.RewardID)),
		nullString(tx.Code),
		nullString(tx.IdempotencyKey),
		nullString(string(tx.ReferenceID)),
		tx.Administrative,
		tx.Actor,
		formatTime(tx.CreatedAt),
	)
	if err != nil {
		switch uniqueColumn(err) {
		case "transactions.code":
			return loyalty.Transaction{}, fmt.Errorf("%w: %s", loyalty.ErrDuplicateCode, tx.Code)
		case "transactions.idempotency_key":
			return loyalty.Transaction{}, fmt.Errorf("%w: idempotency key %q already recorded", loyalty.ErrConflict, tx.IdempotencyKey)
		}
		return loyalty.Transaction{}, mapError(ctx, fmt.Errorf("failed to append transaction: %w", err))
	}

	if tx.Seq, err = res.LastInsertId(); err != nil {
		return loyalty.Transaction{}, fmt.Errorf("failed to read transaction seq: %w", err)
	}
	return tx, nil
}

func (u *sqlUnit) FindByIdempotencyKey(ctx context.Context, key string) (loyalty.Transaction, error) {
	return findByKey(ctx, u.tx, key)
}

// =============================================================================
// REGISTRY (loyalty.Registry)
// =============================================================================

func (s *Store) CreateCustomer(ctx context.Context, c loyalty.Customer) error {
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = c.CreatedAt
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO customers (id, name, email, total_points, lifetime_points, visit_count, total_spent, created_at, updated_at)
		VALUES (?, ?, ?, 0, 0, 0, '0', ?, ?)
	`, c.ID, c.Name, c.Email, formatTime(c.CreatedAt), formatTime(c.UpdatedAt))
	if err != nil {
		if uniqueColumn(err) == "customers.id" {
			return fmt.Errorf("%w: %s", loyalty.ErrCustomerExists, c.ID)
		}
		return mapError(ctx, fmt.Errorf("failed to create customer: %w", err))
	}
	return nil
}

// PutReward upserts a reward definition. total_redeemed is never touched
// here; it belongs to the ledger.
func (s *Store) PutReward(ctx context.Context, r loyalty.Reward) error {
	if err := loyalty.ValidateReward(r); err != nil {
		return err
	}
	now := time.Now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = now
	}

	var available sql.NullInt64
	if r.TotalAvailable != nil {
		available = sql.NullInt64{Int64: *r.TotalAvailable, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rewards (id, name, description, points_required, min_tier, is_active,
		                     total_available, total_redeemed, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			points_required = excluded.points_required,
			min_tier = excluded.min_tier,
			is_active = excluded.is_active,
			total_available = excluded.total_available,
			updated_at = excluded.updated_at
	`, r.ID, r.Name, r.Description, r.PointsRequired, string(r.MinTier), r.IsActive,
		available, formatTime(r.CreatedAt), formatTime(r.UpdatedAt))
	if err != nil {
		return mapError(ctx, fmt.Errorf("failed to save reward %s: %w", r.ID, err))
	}
	return nil
}

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapError(ctx, fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer sqlTx.Rollback()

	stmts := []string{
		"DELETE FROM transactions",
		"DELETE FROM rewards",
		"DELETE FROM customers",
		"DELETE FROM sqlite_sequence WHERE name = 'transactions'",
	}
	for _, stmt := range stmts {
		if _, err := sqlTx.ExecContext(ctx, stmt); err != nil {
			return mapError(ctx, err)
		}
	}
	return sqlTx.Commit()
}

// =============================================================================
// ERROR MAPPING
// =============================================================================

// mapError turns lock contention and deadlines into loyalty.ErrUnavailable.
// Anything else is returned as is.
func mapError(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	var se sqlite3.Error
	if errors.As(err, &se) && (se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked) {
		return fmt.Errorf("%w: %v", loyalty.ErrUnavailable, err)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", loyalty.ErrUnavailable, err)
	}
	return err
}

// uniqueColumn returns "table.column" for a UNIQUE or PRIMARY KEY violation,
// or "" for any other error.
func uniqueColumn(err error) string {
	var se sqlite3.Error
	if !errors.As(err, &se) || se.Code != sqlite3.ErrConstraint {
		return ""
	}
	if se.ExtendedCode != sqlite3.ErrConstraintUnique && se.ExtendedCode != sqlite3.ErrConstraintPrimaryKey {
		return ""
	}
	// Message format: "UNIQUE constraint failed: transactions.code"
	msg := se.Error()
	if i := strings.LastIndex(msg, ": "); i >= 0 {
		return strings.TrimSpace(msg[i+2:])
	}
	return ""
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}
