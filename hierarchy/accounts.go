/*
accounts.go - Account lifecycle

PURPOSE:
  Creation, reads, administrative updates and deletion of hierarchy
  accounts. Every read path here funnels through the cascade engine, so a
  lapsed account is never observed Active.

RULES:
  - An account is created by an operator above it: the admin creates
    distributors (and may create resellers under any distributor); a
    distributor creates resellers under itself.
  - A reseller's parent is immutable once it owns subscribers.
  - No hard delete while subordinate subscribers are outstanding.
  - Balance arrives only through the ledger; accounts start at zero.
*/
package hierarchy

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AccountService manages account records.
type AccountService struct {
	store   Store
	cascade *CascadeEngine

	// Now is the clock; overridable in tests.
	Now func() time.Time
}

func NewAccountService(store Store, cascade *CascadeEngine) *AccountService {
	return &AccountService{store: store, cascade: cascade, Now: time.Now}
}

// =============================================================================
// CREATE
// =============================================================================

// CreateAccountRequest describes a new distributor or reseller.
type CreateAccountRequest struct {
	Name string
	Tier Tier
	// ParentID names the owning distributor for resellers. A distributor
	// caller may leave it empty; it defaults to the caller.
	ParentID      string
	ValidUntil    *time.Time
	SubscriberCap *int
}

func (s *AccountService) Create(ctx context.Context, caller Caller, req CreateAccountRequest) (*Account, error) {
	if req.Name == "" {
		return nil, &InvalidInputError{Field: "name", Reason: "required"}
	}

	account := Account{
		ID:        uuid.NewString(),
		Name:      req.Name,
		Tier:      req.Tier,
		Balance:   decimal.Zero,
		Status:    StatusActive,
		CreatedAt: s.Now().UTC(),
	}

	switch req.Tier {
	case TierDistributor:
		if !caller.Tier.Outranks(TierDistributor) {
			return nil, fmt.Errorf("only admin creates distributors: %w", ErrUnauthorized)
		}
		if req.ParentID != "" {
			return nil, &InvalidInputError{Field: "parent_id", Reason: "distributors have no parent"}
		}
		account.ValidUntil = req.ValidUntil

	case TierReseller:
		if !caller.Tier.Outranks(TierReseller) {
			return nil, fmt.Errorf("only admin or distributor creates resellers: %w", ErrUnauthorized)
		}
		parentID := req.ParentID
		if caller.Tier == TierDistributor {
			if parentID == "" {
				parentID = caller.AccountID
			}
			if parentID != caller.AccountID {
				return nil, fmt.Errorf("distributor may only create its own resellers: %w", ErrUnauthorized)
			}
		} else if parentID == "" {
			return nil, &InvalidInputError{Field: "parent_id", Reason: "required for resellers"}
		}

		parent, err := s.store.GetAccount(ctx, parentID)
		if err != nil {
			return nil, err
		}
		if parent == nil || parent.Tier != TierDistributor {
			return nil, fmt.Errorf("parent distributor %s: %w", parentID, ErrAccountNotFound)
		}
		account.ParentID = parent.ID
		account.ValidUntil = req.ValidUntil
		account.SubscriberCap = req.SubscriberCap

	case TierAdmin:
		return nil, &InvalidInputError{Field: "tier", Reason: "admin accounts are not created through the API"}
	default:
		return nil, &InvalidInputError{Field: "tier", Reason: "unknown tier"}
	}

	if err := s.store.SaveAccount(ctx, account); err != nil {
		return nil, err
	}
	return &account, nil
}

// =============================================================================
// READ
// =============================================================================

// Get returns one account after the lazy validity check.
func (s *AccountService) Get(ctx context.Context, caller Caller, id string) (*Account, error) {
	account, err := s.cascade.CheckAccount(ctx, id)
	if err != nil {
		return nil, err
	}
	if !caller.CanView(account) {
		return nil, fmt.Errorf("account %s is outside the caller's scope: %w", id, ErrUnauthorized)
	}
	return account, nil
}

// List returns the accounts visible to the caller, each validity-checked.
func (s *AccountService) List(ctx context.Context, caller Caller) ([]Account, error) {
	var accounts []Account
	var err error

	switch caller.Tier {
	case TierAdmin:
		accounts, err = s.store.ListAccounts(ctx)
	case TierDistributor:
		self, serr := s.store.GetAccount(ctx, caller.AccountID)
		if serr != nil {
			return nil, serr
		}
		children, cerr := s.store.ListAccountsByParent(ctx, caller.AccountID)
		if cerr != nil {
			return nil, cerr
		}
		if self != nil {
			accounts = append(accounts, *self)
		}
		accounts = append(accounts, children...)
	case TierReseller:
		self, serr := s.store.GetAccount(ctx, caller.AccountID)
		if serr != nil {
			return nil, serr
		}
		if self != nil {
			accounts = append(accounts, *self)
		}
	default:
		return nil, fmt.Errorf("unknown caller tier %q: %w", caller.Tier, ErrUnauthorized)
	}
	if err != nil {
		return nil, err
	}

	for i := range accounts {
		if _, err := s.cascade.CheckValidity(ctx, &accounts[i]); err != nil {
			return nil, err
		}
	}
	return accounts, nil
}

// =============================================================================
// UPDATE
// =============================================================================

// UpdateAccountRequest carries administrative edits. nil fields are left
// untouched; ClearValidUntil removes the expiry.
type UpdateAccountRequest struct {
	Name            *string
	ValidUntil      *time.Time
	ClearValidUntil bool
	SubscriberCap   *int
	ParentID        *string
}

// Update applies an administrative edit. Admin only; balance and status are
// out of reach here (ledger and cascade own them).
func (s *AccountService) Update(ctx context.Context, caller Caller, id string, req UpdateAccountRequest) (*Account, error) {
	if caller.Tier != TierAdmin {
		return nil, fmt.Errorf("account update is admin-only: %w", ErrUnauthorized)
	}

	account, err := s.store.GetAccount(ctx, id)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, fmt.Errorf("account %s: %w", id, ErrAccountNotFound)
	}

	if req.Name != nil {
		if *req.Name == "" {
			return nil, &InvalidInputError{Field: "name", Reason: "required"}
		}
		account.Name = *req.Name
	}
	if req.ClearValidUntil {
		account.ValidUntil = nil
	} else if req.ValidUntil != nil {
		account.ValidUntil = req.ValidUntil
	}
	if req.SubscriberCap != nil {
		account.SubscriberCap = req.SubscriberCap
	}
	if req.ParentID != nil && *req.ParentID != account.ParentID {
		if account.Tier != TierReseller {
			return nil, &InvalidInputError{Field: "parent_id", Reason: "only resellers have a parent"}
		}
		count, err := s.store.CountSubscribersByReseller(ctx, account.ID)
		if err != nil {
			return nil, err
		}
		if count > 0 {
			return nil, fmt.Errorf("reseller %s owns %d subscribers: %w", account.ID, count, ErrParentImmutable)
		}
		parent, err := s.store.GetAccount(ctx, *req.ParentID)
		if err != nil {
			return nil, err
		}
		if parent == nil || parent.Tier != TierDistributor {
			return nil, fmt.Errorf("parent distributor %s: %w", *req.ParentID, ErrAccountNotFound)
		}
		account.ParentID = parent.ID
	}

	if err := s.store.SaveAccount(ctx, *account); err != nil {
		return nil, err
	}
	return account, nil
}

// =============================================================================
// DELETE
// =============================================================================

// Delete hard-removes an account. Admin only. Blocked while the account's
// subtree has outstanding subscribers; subordinate resellers without
// subscribers are removed together with their distributor.
func (s *AccountService) Delete(ctx context.Context, caller Caller, id string) error {
	if caller.Tier != TierAdmin {
		return fmt.Errorf("account deletion is admin-only: %w", ErrUnauthorized)
	}

	account, err := s.store.GetAccount(ctx, id)
	if err != nil {
		return err
	}
	if account == nil {
		return fmt.Errorf("account %s: %w", id, ErrAccountNotFound)
	}

	switch account.Tier {
	case TierAdmin:
		return &InvalidInputError{Field: "id", Reason: "the admin account cannot be deleted"}

	case TierDistributor:
		children, err := s.store.ListAccountsByParent(ctx, account.ID)
		if err != nil {
			return err
		}
		for _, child := range children {
			count, err := s.store.CountSubscribersByReseller(ctx, child.ID)
			if err != nil {
				return err
			}
			if count > 0 {
				return fmt.Errorf("reseller %s owns %d subscribers: %w", child.ID, count, ErrHasSubordinates)
			}
		}
		for _, child := range children {
			if err := s.store.DeleteAccount(ctx, child.ID); err != nil {
				return err
			}
		}
		return s.store.DeleteAccount(ctx, account.ID)

	case TierReseller:
		count, err := s.store.CountSubscribersByReseller(ctx, account.ID)
		if err != nil {
			return err
		}
		if count > 0 {
			return fmt.Errorf("reseller %s owns %d subscribers: %w", account.ID, count, ErrHasSubordinates)
		}
		return s.store.DeleteAccount(ctx, account.ID)
	}
	return &InvalidInputError{Field: "tier", Reason: "unknown tier"}
}
