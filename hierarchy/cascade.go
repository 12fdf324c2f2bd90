/*
cascade.go - Hierarchical validity cascade

PURPOSE:
  Keeps subordinate status consistent with a tier's own validity. When a
  distributor lapses, all of its resellers and all of their subscribers go
  Inactive; when a reseller lapses, its subscribers do.

LAZY BY DESIGN:
  There is no clock-driven transition. CheckValidity runs whenever an
  account record is loaded (login, listing, detail fetch), so a fully
  dormant hierarchy can sit stale past its validity date until the next
  read. That is the contract, not a bug; callers that need guaranteed
  freshness run Sweep over all accounts (the api package exposes this as an
  optional periodic job).

STATE MACHINE:
  Active → Inactive is the only automatic transition. Reactivation is
  always an explicit operator action and never cascades downward.

IDEMPOTENCE:
  Running the check twice on an already-inactive hierarchy performs no
  further writes: the account-level flip is conditional, and the bulk
  levels only fire when that flip actually happened. The manual Deactivate
  always re-runs the walk so no caller ever observes an inactive
  distributor with a still-active subordinate.
*/
package hierarchy

import (
	"context"
	"fmt"
	"time"
)

// CascadeEngine walks the hierarchy downward on validity transitions.
type CascadeEngine struct {
	store Store

	// Now is the clock; overridable in tests.
	Now func() time.Time
}

func NewCascadeEngine(store Store) *CascadeEngine {
	return &CascadeEngine{store: store, Now: time.Now}
}

// =============================================================================
// LAZY CHECK
// =============================================================================

// CheckValidity inspects a loaded account and, if its validity has lapsed,
// flips it Inactive and cascades downward. It mutates the passed account to
// reflect the persisted state and reports whether the transition fired.
func (e *CascadeEngine) CheckValidity(ctx context.Context, account *Account) (bool, error) {
	if !account.Lapsed(e.Now()) {
		return false, nil
	}

	fired, err := e.store.DeactivateAccount(ctx, account.ID)
	if err != nil {
		return false, fmt.Errorf("deactivate %s: %w", account.ID, err)
	}
	account.Status = StatusInactive
	if !fired {
		// A concurrent reader already performed the transition (and its
		// cascade). Nothing left to do.
		return false, nil
	}

	if err := e.cascadeBelow(ctx, account); err != nil {
		return true, err
	}
	return true, nil
}

// CheckAccount loads an account and runs the validity check, returning the
// fresh state. This is the read path every caller goes through.
func (e *CascadeEngine) CheckAccount(ctx context.Context, id string) (*Account, error) {
	account, err := e.store.GetAccount(ctx, id)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, fmt.Errorf("account %s: %w", id, ErrAccountNotFound)
	}
	if _, err := e.CheckValidity(ctx, account); err != nil {
		return nil, err
	}
	return account, nil
}

// cascadeBelow performs the levels under an already-inactivated account.
// Each level is a single set-based bulk write and idempotent on its own.
// A crash between levels is NOT healed by the lazy check (the conditional
// flip already fired, so CheckValidity will no-op); the repair path is a
// manual Deactivate, which always re-runs the full walk.
func (e *CascadeEngine) cascadeBelow(ctx context.Context, account *Account) error {
	switch account.Tier {
	case TierAdmin:
		// The admin tier has no automatic subordinate cascade.
		return nil
	case TierDistributor:
		resellerIDs, err := e.store.DeactivateResellers(ctx, account.ID)
		if err != nil {
			return fmt.Errorf("cascade resellers of %s: %w", account.ID, err)
		}
		if _, err := e.store.DeactivateSubscribers(ctx, resellerIDs); err != nil {
			return fmt.Errorf("cascade subscribers of %s: %w", account.ID, err)
		}
		return nil
	case TierReseller:
		if _, err := e.store.DeactivateSubscribers(ctx, []string{account.ID}); err != nil {
			return fmt.Errorf("cascade subscribers of %s: %w", account.ID, err)
		}
		return nil
	}
	return fmt.Errorf("unknown tier %q on account %s", account.Tier, account.ID)
}

// =============================================================================
// MANUAL TRANSITIONS
// =============================================================================

// Deactivate is the administrative deactivation, not tied to ValidUntil.
// It performs the identical downward walk synchronously, even when the
// account was already inactive, so the subtree is consistent when the call
// returns. Allowed to the admin and to the account's direct parent.
func (e *CascadeEngine) Deactivate(ctx context.Context, caller Caller, accountID string) error {
	account, err := e.store.GetAccount(ctx, accountID)
	if err != nil {
		return err
	}
	if account == nil {
		return fmt.Errorf("account %s: %w", accountID, ErrAccountNotFound)
	}
	if err := authorizeManage(caller, account); err != nil {
		return err
	}

	if _, err := e.store.DeactivateAccount(ctx, account.ID); err != nil {
		return fmt.Errorf("deactivate %s: %w", account.ID, err)
	}
	account.Status = StatusInactive
	return e.cascadeBelow(ctx, account)
}

// Reactivate flips an account back to Active, optionally with a new
// validity window. It never touches subordinates: each must be reactivated
// explicitly by an operator.
func (e *CascadeEngine) Reactivate(ctx context.Context, caller Caller, accountID string, validUntil *time.Time) error {
	account, err := e.store.GetAccount(ctx, accountID)
	if err != nil {
		return err
	}
	if account == nil {
		return fmt.Errorf("account %s: %w", accountID, ErrAccountNotFound)
	}
	if err := authorizeManage(caller, account); err != nil {
		return err
	}
	if validUntil != nil && !validUntil.After(e.Now()) {
		return &InvalidInputError{Field: "valid_until", Reason: "must be in the future"}
	}

	account.Status = StatusActive
	account.ValidUntil = validUntil
	return e.store.SaveAccount(ctx, *account)
}

// authorizeManage allows the admin and the direct parent to flip status.
func authorizeManage(caller Caller, account *Account) error {
	if caller.Tier == TierAdmin {
		return nil
	}
	if caller.Tier == TierDistributor && account.ParentID == caller.AccountID {
		return nil
	}
	return fmt.Errorf("caller may not manage account %s: %w", account.ID, ErrUnauthorized)
}

// =============================================================================
// SWEEP
// =============================================================================

// Sweep runs the validity check over every account, for callers that need
// guaranteed freshness (nightly reports, the periodic sweep job). Returns
// how many accounts transitioned.
func (e *CascadeEngine) Sweep(ctx context.Context) (int, error) {
	accounts, err := e.store.ListAccounts(ctx)
	if err != nil {
		return 0, err
	}

	fired := 0
	for i := range accounts {
		changed, err := e.CheckValidity(ctx, &accounts[i])
		if err != nil {
			return fired, err
		}
		if changed {
			fired++
		}
	}
	return fired, nil
}
