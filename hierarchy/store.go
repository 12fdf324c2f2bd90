/*
store.go - Persistence interfaces for the hierarchy core

PURPOSE:
  Defines the boundary between domain logic and the database. Accounts,
  subscribers, ledger entries and capping settings are each an independent
  durable collection keyed by an opaque id; ledger entries are additionally
  indexed by sender, target and creation time for history queries.

ATOMICITY CONTRACT:
  ApplyTransfer and ApplyReversal are the only operations that mutate
  balances together with the ledger. Each is all-or-nothing: both balance
  writes and the entry write land in one durable transaction, or none do.
  A timed-out request can therefore never leave an entry without its
  matching balance mutation or vice versa.

CONDITIONAL UPDATES:
  Balance mutations are expressed as "apply delta where the resulting
  balance still satisfies the floor predicate". An implementation that
  loses the race (row changed between read and write, or predicate no
  longer holds) returns *BalancePredicateError; the ledger re-validates
  against fresh state and either surfaces a typed violation or retries.

IMPLEMENTATIONS:
  - store/sqlite:          production SQLite store
  - hierarchy/store (Memory): in-memory store for tests and demos
*/
package hierarchy

import (
	"context"

	"github.com/shopspring/decimal"
)

// =============================================================================
// ACCOUNT / SUBSCRIBER / SETTINGS STORES
// =============================================================================

// AccountStore persists hierarchy accounts. Get returns (nil, nil) when the
// record is missing; callers translate that to ErrAccountNotFound.
type AccountStore interface {
	SaveAccount(ctx context.Context, a Account) error
	GetAccount(ctx context.Context, id string) (*Account, error)
	ListAccounts(ctx context.Context) ([]Account, error)
	ListAccountsByParent(ctx context.Context, parentID string) ([]Account, error)
	DeleteAccount(ctx context.Context, id string) error
}

// SubscriberStore persists leaf subscriber records.
type SubscriberStore interface {
	SaveSubscriber(ctx context.Context, s Subscriber) error
	GetSubscriber(ctx context.Context, id string) (*Subscriber, error)
	ListSubscribersByReseller(ctx context.Context, resellerID string) ([]Subscriber, error)
	CountSubscribersByReseller(ctx context.Context, resellerID string) (int, error)
	DeleteSubscriber(ctx context.Context, id string) error
}

// SettingsStore persists the singleton capping configuration.
// GetCappingSettings returns (nil, nil) when no row exists; the policy
// falls back to documented defaults without writing anything.
type SettingsStore interface {
	GetCappingSettings(ctx context.Context) (*CappingSettings, error)
	SaveCappingSettings(ctx context.Context, s CappingSettings) error
}

// =============================================================================
// LEDGER STORE - History reads
// =============================================================================

// LedgerStore reads the append-side of the transaction log.
type LedgerStore interface {
	GetEntry(ctx context.Context, id string) (*LedgerEntry, error)

	// EntriesByParticipants returns entries where sender or target is one
	// of the given ids, newest first. A nil slice means no participant
	// restriction (admin view). typeFilter narrows by entry type when
	// non-empty.
	EntriesByParticipants(ctx context.Context, accountIDs []string, typeFilter EntryType) ([]LedgerEntry, error)
}

// =============================================================================
// TRANSFER STORE - Atomic balance mutation + entry write
// =============================================================================

// TransferOp describes one balance-affecting operation. The embedded Entry
// carries everything except the balance-after snapshots, which the store
// fills in from the post-update balances it observed inside its own
// transaction.
type TransferOp struct {
	Entry LedgerEntry

	SenderDelta decimal.Decimal
	// TargetDelta is ignored when Entry.TargetID is empty (self credit).
	TargetDelta decimal.Decimal

	// Floor predicates. The resulting balance of the corresponding side
	// must stay >= the floor; nil disables the check for that side.
	SenderFloor *decimal.Decimal
	TargetFloor *decimal.Decimal
}

// BalanceDelta is one unconditional balance adjustment used by reversals.
type BalanceDelta struct {
	AccountID string
	Delta     decimal.Decimal
}

// TransferStore applies balance mutations atomically with the ledger.
type TransferStore interface {
	// ApplyTransfer applies both deltas and appends the entry in one
	// durable transaction, returning the entry with snapshots filled in.
	// Returns *BalancePredicateError if a conditional update matched no
	// row, ErrConflict on a store-level race; in either case nothing was
	// written.
	ApplyTransfer(ctx context.Context, op TransferOp) (*LedgerEntry, error)

	// ApplyReversal applies the deltas unconditionally and deletes the
	// entry, atomically. Returns ErrEntryNotFound if the entry is already
	// gone (a concurrent reversal won).
	ApplyReversal(ctx context.Context, entryID string, deltas []BalanceDelta) error

	// ChargeAccount deducts amount from one account under the floor
	// predicate, without writing a ledger entry. Used for subscriber
	// activation charges. Returns the new balance.
	ChargeAccount(ctx context.Context, accountID string, amount, floor decimal.Decimal) (decimal.Decimal, error)
}

// =============================================================================
// CASCADE STORE - Set-based bulk deactivation
// =============================================================================

// CascadeStore performs the bulk writes of the validity cascade. Each call
// is a single set-based update, not a per-row loop, so a partial-cascade
// window where some rows are updated and others not is bounded to the gaps
// BETWEEN levels, never within one.
type CascadeStore interface {
	// DeactivateAccount flips one account Active→Inactive. Returns false
	// if it was already inactive or missing (idempotent no-op).
	DeactivateAccount(ctx context.Context, id string) (bool, error)

	// DeactivateResellers bulk-inactivates every reseller under the
	// distributor and returns the ids of ALL its resellers (for the
	// subscriber level of the walk).
	DeactivateResellers(ctx context.Context, distributorID string) ([]string, error)

	// DeactivateSubscribers bulk-inactivates every subscriber owned by the
	// given resellers. Returns the number of rows changed.
	DeactivateSubscribers(ctx context.Context, resellerIDs []string) (int64, error)
}

// =============================================================================
// COMPOSITE STORE
// =============================================================================

// Store is everything the engines need from persistence.
type Store interface {
	AccountStore
	SubscriberStore
	SettingsStore
	LedgerStore
	TransferStore
	CascadeStore
}
