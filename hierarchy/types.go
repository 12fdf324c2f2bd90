/*
Package hierarchy implements the reseller hierarchy core: account balances,
the credit ledger, capping floors, and the validity cascade.

PURPOSE:
  An IPTV service is sold through a three-tier hierarchy:

    admin → distributor → reseller → subscriber

  Credit flows down the hierarchy as ledger transactions, each tier has a
  minimum balance floor ("capping"), and when a tier's account lapses its
  whole subtree is deactivated. This package holds the domain types and the
  three engines operating on them:

  - LedgerService (ledger.go):  capped, auditable balance transfers
  - CascadeEngine (cascade.go): lazy expiry checks + hierarchy deactivation
  - AccountService / SubscriberService (accounts.go, subscribers.go):
    lifecycle rules around the two record kinds

KEY CONCEPTS IN THIS FILE (types.go):
  - Tier: closed set of hierarchy levels with exhaustive switches
  - Account: admin/distributor/reseller record with a mutable balance
  - Subscriber: leaf customer/device record owned by a reseller
  - LedgerEntry: immutable record of one balance transfer
  - CappingSettings: per-tier minimum balance floors

DESIGN PRINCIPLES:
  1. Precision: decimal.Decimal for every money field, never float
  2. Closed enums: tiers, statuses and entry types are parsed once at the
     boundary; an unknown value never travels past validation
  3. Snapshots: every ledger entry carries the balances both participants
     held immediately after the transfer, captured atomically with it

SEE ALSO:
  - errors.go:  error taxonomy
  - store.go:   persistence interfaces
  - capping.go: floor resolution
*/
package hierarchy

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// TIER - Hierarchy level
// =============================================================================

// Tier is the level an account occupies in the hierarchy. The set is closed:
// code that branches on Tier switches exhaustively and treats anything else
// as a validation failure.
type Tier string

const (
	TierAdmin       Tier = "admin"
	TierDistributor Tier = "distributor"
	TierReseller    Tier = "reseller"
)

// ParseTier validates a wire-level tier string.
func ParseTier(s string) (Tier, error) {
	switch Tier(s) {
	case TierAdmin, TierDistributor, TierReseller:
		return Tier(s), nil
	}
	return "", &InvalidInputError{Field: "tier", Reason: "unknown tier: " + s}
}

// Outranks reports whether t sits strictly above other in the hierarchy.
func (t Tier) Outranks(other Tier) bool {
	rank := map[Tier]int{TierAdmin: 3, TierDistributor: 2, TierReseller: 1}
	return rank[t] > rank[other]
}

// =============================================================================
// STATUSES
// =============================================================================

type AccountStatus string

const (
	StatusActive   AccountStatus = "active"
	StatusInactive AccountStatus = "inactive"
)

type SubscriberStatus string

const (
	SubscriberFresh    SubscriberStatus = "fresh"
	SubscriberActive   SubscriberStatus = "active"
	SubscriberInactive SubscriberStatus = "inactive"
)

// =============================================================================
// ACCOUNT - Admin, distributor or reseller
// =============================================================================

// Account is a balance-holding node in the hierarchy.
//
// INVARIANTS:
//   - Balance never drops below the tier's capping floor as the result of a
//     ledger transaction (pre-existing balances are not re-validated).
//   - ParentID is immutable once the account owns subscribers.
//   - Status flips Active→Inactive automatically (cascade); the reverse
//     transition is always an explicit operator action.
type Account struct {
	ID      string
	Name    string
	Tier    Tier
	Balance decimal.Decimal
	Status  AccountStatus

	// ValidUntil is the subscription expiry. nil means no expiry.
	ValidUntil *time.Time

	// ParentID is the owning distributor for resellers, empty otherwise.
	ParentID string

	// SubscriberCap limits how many subscribers a reseller may own.
	// nil means unlimited. Reseller-only.
	SubscriberCap *int

	CreatedAt time.Time
}

// Lapsed reports whether the account's validity has expired as of now.
func (a *Account) Lapsed(now time.Time) bool {
	return a.Status == StatusActive && a.ValidUntil != nil && now.After(*a.ValidUntil)
}

// =============================================================================
// SUBSCRIBER - Leaf customer/device entity
// =============================================================================

// Subscriber is a leaf record owned by a reseller.
//
// Lifecycle: created Fresh; Active after a paid activation; forced Inactive
// by the cascade when its reseller (or that reseller's distributor) lapses;
// released back to an unassigned Fresh state when a reseller deletes it.
type Subscriber struct {
	ID         string
	Name       string
	ResellerID string
	Status     SubscriberStatus

	// ExpiryDate is set on activation. Active implies it was in the
	// future at assignment time.
	ExpiryDate *time.Time

	PackageIDs       []string
	PrimaryPackageID string

	CreatedAt time.Time
}

// =============================================================================
// CAPPING SETTINGS - Per-tier balance floors
// =============================================================================

// CappingSettings is the singleton floor configuration. The admin floor is
// implicitly zero and not stored.
type CappingSettings struct {
	DistributorFloor decimal.Decimal
	ResellerFloor    decimal.Decimal
	UpdatedAt        time.Time
}

// =============================================================================
// LEDGER ENTRY - Immutable transfer record
// =============================================================================

// EntryType is the direction/kind of a ledger transfer.
type EntryType string

const (
	// EntryCredit moves money sender → target.
	EntryCredit EntryType = "credit"
	// EntryDebit moves money target → sender (sender reclaims funds).
	EntryDebit EntryType = "debit"
	// EntryReverseCredit is a Debit under a different operator label.
	EntryReverseCredit EntryType = "reverse_credit"
	// EntrySelfCredit mints balance onto the admin account. No target.
	EntrySelfCredit EntryType = "self_credit"
)

// ParseEntryType validates a wire-level entry type string.
func ParseEntryType(s string) (EntryType, error) {
	switch EntryType(s) {
	case EntryCredit, EntryDebit, EntryReverseCredit, EntrySelfCredit:
		return EntryType(s), nil
	}
	return "", &InvalidInputError{Field: "type", Reason: "unknown transaction type: " + s}
}

// LedgerEntry records one balance transfer. Immutable once created; an admin
// may delete it, which reverses the exact delta it recorded (ledger.go).
//
// SenderBalanceAfter/TargetBalanceAfter are snapshots taken atomically with
// the balance mutation, so an account's entries in creation order always
// reconstruct its balance as a running sum.
type LedgerEntry struct {
	ID     string
	Type   EntryType
	Amount decimal.Decimal

	SenderID string
	// TargetID is empty for self credits.
	TargetID string

	SenderBalanceAfter decimal.Decimal
	// TargetBalanceAfter is meaningless when TargetID is empty.
	TargetBalanceAfter decimal.Decimal

	CreatedAt time.Time
}

// HasTarget reports whether the entry names a second participant.
func (e *LedgerEntry) HasTarget() bool { return e.TargetID != "" }

// =============================================================================
// CALLER - Identity supplied by the authentication layer
// =============================================================================

// Caller is the authenticated operator on whose behalf an operation runs.
// The core trusts this identity (the AuthN layer established it) and only
// enforces hierarchy-scoped authorization on top.
type Caller struct {
	AccountID string
	Tier      Tier
}

// CanView reports whether the caller may read the given account:
// admin sees everything, a distributor itself and its resellers, a reseller
// only itself.
func (c Caller) CanView(a *Account) bool {
	switch c.Tier {
	case TierAdmin:
		return true
	case TierDistributor:
		return a.ID == c.AccountID || a.ParentID == c.AccountID
	case TierReseller:
		return a.ID == c.AccountID
	}
	return false
}
