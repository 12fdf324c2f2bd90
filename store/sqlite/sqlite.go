/*
Package sqlite provides the SQLite-backed implementation of the hierarchy
storage interfaces.

PURPOSE:
  Implements hierarchy.Store and catalog.Catalog on a single SQLite file.
  In production the same patterns apply to PostgreSQL - only minor SQL
  dialect differences.

KEY TABLES:
  accounts:         hierarchy accounts (admin/distributor/reseller)
  subscribers:      leaf subscriber records
  ledger_entries:   balance transfers with balance-after snapshots
  capping_settings: singleton floor configuration (one row, id = 1)
  packages:         subscribable catalog plans

ATOMICITY:
  ApplyTransfer, ApplyReversal and ChargeAccount each run inside one SQL
  transaction: every balance write and the ledger write land together or
  not at all. Balance mutations are compare-and-swap UPDATEs guarded by
  the previously read balance, so a row changed underneath us matches
  nothing and the call fails with *hierarchy.BalancePredicateError
  without writing.

CASCADE:
  The bulk deactivation levels are single set-based UPDATE statements,
  never per-row loops.

MONEY AND TIME:
  Balances and amounts are stored as decimal strings (TEXT), timestamps
  as RFC3339 TEXT. History ordering breaks created-at ties with the
  implicit rowid, which reflects insertion order.

CONCURRENCY:
  Uses sync.RWMutex on top of WAL mode. With PostgreSQL, database-level
  concurrency control handles this instead.

USAGE:
  store, err := sqlite.New("./data/reseller.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - hierarchy/store.go: interface definitions and atomicity contract
  - hierarchy/store/memory.go: in-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/skycast/reseller-engine/catalog"
	"github.com/skycast/reseller-engine/hierarchy"
)

// Store implements hierarchy.Store and catalog.Catalog using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Accounts (admin, distributors, resellers)
	CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		tier TEXT NOT NULL,
		balance TEXT NOT NULL,
		status TEXT NOT NULL,
		valid_until TEXT,
		parent_id TEXT NOT NULL DEFAULT '',
		subscriber_cap INTEGER,
		created_at TEXT NOT NULL
	);

	-- The cascade's reseller level is one set-based UPDATE over this index
	CREATE INDEX IF NOT EXISTS idx_accounts_parent
		ON accounts(parent_id) WHERE parent_id != '';

	-- Subscribers (leaf records)
	CREATE TABLE IF NOT EXISTS subscribers (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		reseller_id TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		expiry_date TEXT,
		package_ids_json TEXT NOT NULL DEFAULT '[]',
		primary_package_id TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_subscribers_reseller
		ON subscribers(reseller_id) WHERE reseller_id != '';

	-- Ledger entries (balance transfers with atomic snapshots)
	CREATE TABLE IF NOT EXISTS ledger_entries (
		id TEXT PRIMARY KEY,
		entry_type TEXT NOT NULL,
		amount TEXT NOT NULL,
		sender_id TEXT NOT NULL,
		target_id TEXT NOT NULL DEFAULT '',
		sender_balance_after TEXT NOT NULL,
		target_balance_after TEXT NOT NULL DEFAULT '0',
		created_at TEXT NOT NULL
	);

	-- History queries filter by participant and sort newest-first
	CREATE INDEX IF NOT EXISTS idx_entries_sender
		ON ledger_entries(sender_id, created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_entries_target
		ON ledger_entries(target_id, created_at DESC) WHERE target_id != '';
	CREATE INDEX IF NOT EXISTS idx_entries_created_at
		ON ledger_entries(created_at DESC);

	-- Capping settings (singleton row)
	CREATE TABLE IF NOT EXISTS capping_settings (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		distributor_floor TEXT NOT NULL,
		reseller_floor TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Catalog packages
	CREATE TABLE IF NOT EXISTS packages (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		cost TEXT NOT NULL,
		duration_days INTEGER NOT NULL,
		created_at TEXT NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Reset clears every table. Demo/dev only.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, table := range []string{"accounts", "subscribers", "ledger_entries", "capping_settings", "packages"} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// ACCOUNT STORE (hierarchy.AccountStore interface)
// =============================================================================

// SaveAccount inserts or updates an account record.
func (s *Store) SaveAccount(ctx context.Context, a hierarchy.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO accounts (id, name, tier, balance, status, valid_until, parent_id, subscriber_cap, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			tier = excluded.tier,
			balance = excluded.balance,
			status = excluded.status,
			valid_until = excluded.valid_until,
			parent_id = excluded.parent_id,
			subscriber_cap = excluded.subscriber_cap
	`

	_, err := s.db.ExecContext(ctx, query,
		a.ID, a.Name, string(a.Tier),
		a.Balance.String(),
		string(a.Status),
		nullTime(a.ValidUntil),
		a.ParentID,
		nullInt(a.SubscriberCap),
		a.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return mapSQLError(err)
	}
	return nil
}

// GetAccount retrieves an account by ID. Returns (nil, nil) when missing.
func (s *Store) GetAccount(ctx context.Context, id string) (*hierarchy.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		"SELECT id, name, tier, balance, status, valid_until, parent_id, subscriber_cap, created_at FROM accounts WHERE id = ?",
		id,
	)
	a, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

// ListAccounts returns every account.
func (s *Store) ListAccounts(ctx context.Context) ([]hierarchy.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryAccounts(ctx,
		"SELECT id, name, tier, balance, status, valid_until, parent_id, subscriber_cap, created_at FROM accounts ORDER BY id")
}

// ListAccountsByParent returns the direct subordinates of one account.
func (s *Store) ListAccountsByParent(ctx context.Context, parentID string) ([]hierarchy.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryAccounts(ctx,
		"SELECT id, name, tier, balance, status, valid_until, parent_id, subscriber_cap, created_at FROM accounts WHERE parent_id = ? ORDER BY id",
		parentID)
}

// DeleteAccount removes an account record.
func (s *Store) DeleteAccount(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, "DELETE FROM accounts WHERE id = ?", id)
	return err
}

func (s *Store) queryAccounts(ctx context.Context, query string, args ...any) ([]hierarchy.Account, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []hierarchy.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, *a)
	}
	return accounts, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*hierarchy.Account, error) {
	var a hierarchy.Account
	var tier, balance, status, createdAt string
	var validUntil sql.NullString
	var subscriberCap sql.NullInt64

	if err := row.Scan(&a.ID, &a.Name, &tier, &balance, &status, &validUntil, &a.ParentID, &subscriberCap, &createdAt); err != nil {
		return nil, err
	}

	a.Tier = hierarchy.Tier(tier)
	a.Balance = parseDecimal(balance)
	a.Status = hierarchy.AccountStatus(status)
	a.ValidUntil = parseNullTime(validUntil)
	if subscriberCap.Valid {
		cap := int(subscriberCap.Int64)
		a.SubscriberCap = &cap
	}
	a.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &a, nil
}

// =============================================================================
// SUBSCRIBER STORE (hierarchy.SubscriberStore interface)
// =============================================================================

// SaveSubscriber inserts or updates a subscriber record.
func (s *Store) SaveSubscriber(ctx context.Context, sub hierarchy.Subscriber) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	packageIDs, _ := json.Marshal(sub.PackageIDs)
	if sub.PackageIDs == nil {
		packageIDs = []byte("[]")
	}

	query := `
		INSERT INTO subscribers (id, name, reseller_id, status, expiry_date, package_ids_json, primary_package_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			reseller_id = excluded.reseller_id,
			status = excluded.status,
			expiry_date = excluded.expiry_date,
			package_ids_json = excluded.package_ids_json,
			primary_package_id = excluded.primary_package_id
	`

	_, err := s.db.ExecContext(ctx, query,
		sub.ID, sub.Name, sub.ResellerID,
		string(sub.Status),
		nullTime(sub.ExpiryDate),
		string(packageIDs),
		sub.PrimaryPackageID,
		sub.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return mapSQLError(err)
	}
	return nil
}

// GetSubscriber retrieves a subscriber by ID. Returns (nil, nil) when missing.
func (s *Store) GetSubscriber(ctx context.Context, id string) (*hierarchy.Subscriber, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		"SELECT id, name, reseller_id, status, expiry_date, package_ids_json, primary_package_id, created_at FROM subscribers WHERE id = ?",
		id,
	)
	sub, err := scanSubscriber(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// ListSubscribersByReseller returns all subscribers owned by one reseller.
func (s *Store) ListSubscribersByReseller(ctx context.Context, resellerID string) ([]hierarchy.Subscriber, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, reseller_id, status, expiry_date, package_ids_json, primary_package_id, created_at FROM subscribers WHERE reseller_id = ? ORDER BY id",
		resellerID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []hierarchy.Subscriber
	for rows.Next() {
		sub, err := scanSubscriber(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, *sub)
	}
	return subs, rows.Err()
}

// CountSubscribersByReseller counts the subscribers owned by one reseller.
func (s *Store) CountSubscribersByReseller(ctx context.Context, resellerID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM subscribers WHERE reseller_id = ?",
		resellerID,
	).Scan(&count)
	return count, err
}

// DeleteSubscriber removes a subscriber record.
func (s *Store) DeleteSubscriber(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, "DELETE FROM subscribers WHERE id = ?", id)
	return err
}

func scanSubscriber(row rowScanner) (*hierarchy.Subscriber, error) {
	var sub hierarchy.Subscriber
	var status, packageIDs, createdAt string
	var expiryDate sql.NullString

	if err := row.Scan(&sub.ID, &sub.Name, &sub.ResellerID, &status, &expiryDate, &packageIDs, &sub.PrimaryPackageID, &createdAt); err != nil {
		return nil, err
	}

	sub.Status = hierarchy.SubscriberStatus(status)
	sub.ExpiryDate = parseNullTime(expiryDate)
	_ = json.Unmarshal([]byte(packageIDs), &sub.PackageIDs)
	sub.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &sub, nil
}

// =============================================================================
// SETTINGS STORE (hierarchy.SettingsStore interface)
// =============================================================================

// GetCappingSettings returns the singleton floor row, or (nil, nil) when no
// operator has ever saved one.
func (s *Store) GetCappingSettings(ctx context.Context) (*hierarchy.CappingSettings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var distributorFloor, resellerFloor, updatedAt string
	err := s.db.QueryRowContext(ctx,
		"SELECT distributor_floor, reseller_floor, updated_at FROM capping_settings WHERE id = 1",
	).Scan(&distributorFloor, &resellerFloor, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	settings := hierarchy.CappingSettings{
		DistributorFloor: parseDecimal(distributorFloor),
		ResellerFloor:    parseDecimal(resellerFloor),
	}
	settings.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &settings, nil
}

// SaveCappingSettings upserts the singleton floor row.
func (s *Store) SaveCappingSettings(ctx context.Context, settings hierarchy.CappingSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO capping_settings (id, distributor_floor, reseller_floor, updated_at)
		VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			distributor_floor = excluded.distributor_floor,
			reseller_floor = excluded.reseller_floor,
			updated_at = excluded.updated_at
	`

	_, err := s.db.ExecContext(ctx, query,
		settings.DistributorFloor.String(),
		settings.ResellerFloor.String(),
		settings.UpdatedAt.UTC().Format(time.RFC3339),
	)
	return err
}

// =============================================================================
// LEDGER STORE (hierarchy.LedgerStore interface)
// =============================================================================

// GetEntry retrieves a ledger entry by ID. Returns (nil, nil) when missing.
func (s *Store) GetEntry(ctx context.Context, id string) (*hierarchy.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		"SELECT id, entry_type, amount, sender_id, target_id, sender_balance_after, target_balance_after, created_at FROM ledger_entries WHERE id = ?",
		id,
	)
	entry, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// EntriesByParticipants returns entries where the sender or target is one of
// the given ids, newest first. nil accountIDs means no restriction.
func (s *Store) EntriesByParticipants(ctx context.Context, accountIDs []string, typeFilter hierarchy.EntryType) ([]hierarchy.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var conds []string
	var args []any

	if accountIDs != nil {
		if len(accountIDs) == 0 {
			return nil, nil
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(accountIDs)), ",")
		conds = append(conds, fmt.Sprintf("(sender_id IN (%s) OR target_id IN (%s))", placeholders, placeholders))
		for i := 0; i < 2; i++ {
			for _, id := range accountIDs {
				args = append(args, id)
			}
		}
	}
	if typeFilter != "" {
		conds = append(conds, "entry_type = ?")
		args = append(args, string(typeFilter))
	}

	query := "SELECT id, entry_type, amount, sender_id, target_id, sender_balance_after, target_balance_after, created_at FROM ledger_entries"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	// rowid reflects insertion order and breaks same-second ties
	query += " ORDER BY created_at DESC, rowid DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []hierarchy.LedgerEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
	return entries, rows.Err()
}

func scanEntry(row rowScanner) (*hierarchy.LedgerEntry, error) {
	var e hierarchy.LedgerEntry
	var entryType, amount, senderAfter, targetAfter, createdAt string

	if err := row.Scan(&e.ID, &entryType, &amount, &e.SenderID, &e.TargetID, &senderAfter, &targetAfter, &createdAt); err != nil {
		return nil, err
	}

	e.Type = hierarchy.EntryType(entryType)
	e.Amount = parseDecimal(amount)
	e.SenderBalanceAfter = parseDecimal(senderAfter)
	e.TargetBalanceAfter = parseDecimal(targetAfter)
	e.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &e, nil
}

// =============================================================================
// TRANSFER STORE (hierarchy.TransferStore interface)
// =============================================================================

// ApplyTransfer applies both balance deltas and appends the ledger entry in
// one SQL transaction. Each balance write is a compare-and-swap guarded by
// the balance read inside the same transaction; a row changed underneath us
// fails the whole operation with *hierarchy.BalancePredicateError.
func (s *Store) ApplyTransfer(ctx context.Context, op hierarchy.TransferOp) (*hierarchy.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	entry := op.Entry

	senderAfter, err := s.adjustBalance(ctx, tx, entry.SenderID, op.SenderDelta, op.SenderFloor)
	if err != nil {
		return nil, err
	}
	entry.SenderBalanceAfter = senderAfter

	if entry.HasTarget() {
		targetAfter, err := s.adjustBalance(ctx, tx, entry.TargetID, op.TargetDelta, op.TargetFloor)
		if err != nil {
			return nil, err
		}
		entry.TargetBalanceAfter = targetAfter
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO ledger_entries (id, entry_type, amount, sender_id, target_id, sender_balance_after, target_balance_after, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, string(entry.Type),
		entry.Amount.String(),
		entry.SenderID, entry.TargetID,
		entry.SenderBalanceAfter.String(),
		entry.TargetBalanceAfter.String(),
		entry.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return nil, mapSQLError(err)
	}

	if err := tx.Commit(); err != nil {
		return nil, mapSQLError(err)
	}
	return &entry, nil
}

// ApplyReversal applies the deltas unconditionally and deletes the entry,
// atomically. The DELETE goes first: zero rows affected means a concurrent
// reversal already won and nothing is written. A missing participant fails
// the whole transaction with ErrAccountNotFound; that is permanent, not a
// lost race, so it must not surface as a retryable conflict.
func (s *Store) ApplyReversal(ctx context.Context, entryID string, deltas []hierarchy.BalanceDelta) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, "DELETE FROM ledger_entries WHERE id = ?", entryID)
	if err != nil {
		return mapSQLError(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("entry %s: %w", entryID, hierarchy.ErrEntryNotFound)
	}

	for _, d := range deltas {
		var one int
		err := tx.QueryRowContext(ctx,
			"SELECT 1 FROM accounts WHERE id = ?", d.AccountID,
		).Scan(&one)
		if err == sql.ErrNoRows {
			return fmt.Errorf("account %s: %w", d.AccountID, hierarchy.ErrAccountNotFound)
		}
		if err != nil {
			return err
		}
		if _, err := s.adjustBalance(ctx, tx, d.AccountID, d.Delta, nil); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return mapSQLError(err)
	}
	return nil
}

// ChargeAccount deducts amount under the floor predicate without a ledger
// entry (subscriber activation charges).
func (s *Store) ChargeAccount(ctx context.Context, accountID string, amount, floor decimal.Decimal) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	after, err := s.adjustBalance(ctx, tx, accountID, amount.Neg(), &floor)
	if err != nil {
		return decimal.Zero, err
	}

	if err := tx.Commit(); err != nil {
		return decimal.Zero, mapSQLError(err)
	}
	return after, nil
}

// adjustBalance reads an account's balance inside tx, checks the floor
// predicate on the result, and writes it back with a compare-and-swap on the
// value read. Any miss (missing row, floor violated, balance changed) is a
// *hierarchy.BalancePredicateError.
func (s *Store) adjustBalance(ctx context.Context, tx *sql.Tx, accountID string, delta decimal.Decimal, floor *decimal.Decimal) (decimal.Decimal, error) {
	var current string
	err := tx.QueryRowContext(ctx,
		"SELECT balance FROM accounts WHERE id = ?", accountID,
	).Scan(&current)
	if err == sql.ErrNoRows {
		return decimal.Zero, &hierarchy.BalancePredicateError{AccountID: accountID}
	}
	if err != nil {
		return decimal.Zero, err
	}

	after := parseDecimal(current).Add(delta)
	if floor != nil && after.LessThan(*floor) {
		return decimal.Zero, &hierarchy.BalancePredicateError{AccountID: accountID}
	}

	res, err := tx.ExecContext(ctx,
		"UPDATE accounts SET balance = ? WHERE id = ? AND balance = ?",
		after.String(), accountID, current,
	)
	if err != nil {
		return decimal.Zero, mapSQLError(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return decimal.Zero, &hierarchy.BalancePredicateError{AccountID: accountID}
	}
	return after, nil
}

// =============================================================================
// CASCADE STORE (hierarchy.CascadeStore interface)
// =============================================================================

// DeactivateAccount flips one account Active→Inactive. Returns false when
// the account was already inactive or missing.
func (s *Store) DeactivateAccount(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"UPDATE accounts SET status = ? WHERE id = ? AND status = ?",
		string(hierarchy.StatusInactive), id, string(hierarchy.StatusActive),
	)
	if err != nil {
		return false, mapSQLError(err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// DeactivateResellers bulk-inactivates every reseller under the distributor
// with one set-based UPDATE and returns the ids of all its resellers.
func (s *Store) DeactivateResellers(ctx context.Context, distributorID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		"SELECT id FROM accounts WHERE parent_id = ? AND tier = ? ORDER BY id",
		distributorID, string(hierarchy.TierReseller),
	)
	if err != nil {
		return nil, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE accounts SET status = ? WHERE parent_id = ? AND tier = ?",
		string(hierarchy.StatusInactive), distributorID, string(hierarchy.TierReseller),
	)
	if err != nil {
		return nil, mapSQLError(err)
	}

	if err := tx.Commit(); err != nil {
		return nil, mapSQLError(err)
	}
	return ids, nil
}

// DeactivateSubscribers bulk-inactivates every subscriber owned by the given
// resellers with one set-based UPDATE.
func (s *Store) DeactivateSubscribers(ctx context.Context, resellerIDs []string) (int64, error) {
	if len(resellerIDs) == 0 {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(resellerIDs)), ",")
	args := make([]any, 0, len(resellerIDs)+2)
	args = append(args, string(hierarchy.SubscriberInactive))
	for _, id := range resellerIDs {
		args = append(args, id)
	}
	args = append(args, string(hierarchy.SubscriberInactive))

	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf("UPDATE subscribers SET status = ? WHERE reseller_id IN (%s) AND status != ?", placeholders),
		args...,
	)
	if err != nil {
		return 0, mapSQLError(err)
	}
	return res.RowsAffected()
}

// =============================================================================
// CATALOG (catalog.Catalog interface)
// =============================================================================

// SavePackage inserts or updates a catalog package.
func (s *Store) SavePackage(ctx context.Context, p catalog.Package) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO packages (id, name, cost, duration_days, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			cost = excluded.cost,
			duration_days = excluded.duration_days
	`

	_, err := s.db.ExecContext(ctx, query,
		p.ID, p.Name, p.Cost.String(), p.DurationDays,
		p.CreatedAt.UTC().Format(time.RFC3339),
	)
	return err
}

// GetPackage retrieves a package by ID. Returns (nil, nil) when missing.
func (s *Store) GetPackage(ctx context.Context, id string) (*catalog.Package, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var p catalog.Package
	var cost, createdAt string

	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, cost, duration_days, created_at FROM packages WHERE id = ?",
		id,
	).Scan(&p.ID, &p.Name, &cost, &p.DurationDays, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	p.Cost = parseDecimal(cost)
	p.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &p, nil
}

// ListPackages returns all packages ordered by name.
func (s *Store) ListPackages(ctx context.Context) ([]catalog.Package, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, cost, duration_days, created_at FROM packages ORDER BY name",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var packages []catalog.Package
	for rows.Next() {
		var p catalog.Package
		var cost, createdAt string
		if err := rows.Scan(&p.ID, &p.Name, &cost, &p.DurationDays, &createdAt); err != nil {
			return nil, err
		}
		p.Cost = parseDecimal(cost)
		p.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		packages = append(packages, p)
	}
	return packages, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s.String)
	if err != nil {
		return nil
	}
	return &t
}

func nullInt(n *int) sql.NullInt64 {
	if n == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*n), Valid: true}
}

func parseDecimal(s string) decimal.Decimal {
	d, _ := decimal.NewFromString(s)
	return d
}

// mapSQLError translates store-level races into the conflict sentinel.
func mapSQLError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") {
		return fmt.Errorf("%s: %w", msg, hierarchy.ErrConflict)
	}
	return err
}
