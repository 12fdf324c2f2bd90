/*
subscribers.go - Subscriber lifecycle

PURPOSE:
  Creation, activation/renewal, reads and deletion of the leaf subscriber
  records. Activation is the one place money leaves the hierarchy without a
  second account: the package cost is deducted from the owning reseller
  under the same conditional capping predicate a Debit uses.

LIFECYCLE:
  created Fresh by a reseller
  → Active on paid activation/renewal (expiry = package duration, renewals
    extend from the current expiry while it is still in the future)
  → Inactive when the cascade fires on the reseller or its distributor
  → released back to an unassigned Fresh state on deletion by a non-admin,
    or removed permanently by the admin.
*/
package hierarchy

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/skycast/reseller-engine/catalog"
)

// SubscriberService manages subscriber records and activation charges.
type SubscriberService struct {
	store   Store
	catalog catalog.Catalog
	capping *CappingPolicy
	cascade *CascadeEngine

	// Now is the clock; overridable in tests.
	Now func() time.Time
}

func NewSubscriberService(store Store, cat catalog.Catalog, capping *CappingPolicy, cascade *CascadeEngine) *SubscriberService {
	return &SubscriberService{
		store:   store,
		catalog: cat,
		capping: capping,
		cascade: cascade,
		Now:     time.Now,
	}
}

// =============================================================================
// CREATE
// =============================================================================

// CreateSubscriberRequest describes a new Fresh subscriber.
type CreateSubscriberRequest struct {
	Name string
	// ResellerID defaults to the caller for reseller callers.
	ResellerID string
}

func (s *SubscriberService) Create(ctx context.Context, caller Caller, req CreateSubscriberRequest) (*Subscriber, error) {
	if req.Name == "" {
		return nil, &InvalidInputError{Field: "name", Reason: "required"}
	}

	resellerID := req.ResellerID
	if caller.Tier == TierReseller {
		if resellerID == "" {
			resellerID = caller.AccountID
		}
		if resellerID != caller.AccountID {
			return nil, fmt.Errorf("reseller may only create its own subscribers: %w", ErrUnauthorized)
		}
	}
	if resellerID == "" {
		return nil, &InvalidInputError{Field: "reseller_id", Reason: "required"}
	}

	reseller, err := s.checkedReseller(ctx, caller, resellerID)
	if err != nil {
		return nil, err
	}
	if reseller.Status != StatusActive {
		return nil, fmt.Errorf("reseller %s is inactive: %w", reseller.ID, ErrUnauthorized)
	}

	if reseller.SubscriberCap != nil {
		count, err := s.store.CountSubscribersByReseller(ctx, reseller.ID)
		if err != nil {
			return nil, err
		}
		if count >= *reseller.SubscriberCap {
			return nil, &InvalidInputError{Field: "reseller_id", Reason: "subscriber cap limit reached"}
		}
	}

	sub := Subscriber{
		ID:         uuid.NewString(),
		Name:       req.Name,
		ResellerID: reseller.ID,
		Status:     SubscriberFresh,
		CreatedAt:  s.Now().UTC(),
	}
	if err := s.store.SaveSubscriber(ctx, sub); err != nil {
		return nil, err
	}
	return &sub, nil
}

// =============================================================================
// ACTIVATE / RENEW
// =============================================================================

// Activate activates (or renews) a subscriber against a catalog package,
// charging the package cost to the owning reseller. The charge honors the
// reseller floor with the same conditional predicate a Debit uses; a
// renewal while the current expiry is still in the future extends from it.
func (s *SubscriberService) Activate(ctx context.Context, caller Caller, subscriberID, packageID string) (*Subscriber, error) {
	sub, err := s.loadSubscriber(ctx, subscriberID)
	if err != nil {
		return nil, err
	}
	if sub.ResellerID == "" {
		return nil, &InvalidInputError{Field: "id", Reason: "subscriber is unassigned"}
	}

	reseller, err := s.checkedReseller(ctx, caller, sub.ResellerID)
	if err != nil {
		return nil, err
	}
	if reseller.Status != StatusActive {
		return nil, fmt.Errorf("reseller %s is inactive: %w", reseller.ID, ErrUnauthorized)
	}

	pkg, err := s.catalog.GetPackage(ctx, packageID)
	if err != nil {
		return nil, err
	}
	if pkg == nil {
		return nil, fmt.Errorf("package %s: %w", packageID, ErrPackageNotFound)
	}

	floors, err := s.capping.Resolve(ctx)
	if err != nil {
		return nil, err
	}
	floor := floors.For(TierReseller)

	for attempt := 0; attempt < maxTransferAttempts; attempt++ {
		if attempt > 0 {
			reseller, err = s.loadReseller(ctx, sub.ResellerID)
			if err != nil {
				return nil, err
			}
		}
		if reseller.Balance.LessThan(pkg.Cost) {
			return nil, &InsufficientFundsError{AccountID: reseller.ID, Available: reseller.Balance, Requested: pkg.Cost}
		}
		if reseller.Balance.Sub(pkg.Cost).LessThan(floor) {
			return nil, &CappingViolationError{
				AccountID: reseller.ID,
				Tier:      TierReseller,
				Floor:     floor,
				Resulting: reseller.Balance.Sub(pkg.Cost),
			}
		}

		_, err = s.store.ChargeAccount(ctx, reseller.ID, pkg.Cost, floor)
		if err == nil {
			break
		}
		if !IsRetryable(err) {
			return nil, err
		}
	}
	if err != nil {
		return nil, fmt.Errorf("activation charge did not settle: %w", err)
	}

	now := s.Now().UTC()
	base := now
	if sub.ExpiryDate != nil && sub.ExpiryDate.After(now) {
		base = *sub.ExpiryDate
	}
	expiry := base.AddDate(0, 0, pkg.DurationDays)

	sub.Status = SubscriberActive
	sub.ExpiryDate = &expiry
	sub.PrimaryPackageID = pkg.ID
	if !containsID(sub.PackageIDs, pkg.ID) {
		sub.PackageIDs = append(sub.PackageIDs, pkg.ID)
	}
	if err := s.store.SaveSubscriber(ctx, *sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// =============================================================================
// READ
// =============================================================================

// Get returns one subscriber. Reading a subscriber checks the owning
// reseller's validity first, so a lapsed hierarchy is reflected in the
// returned status.
func (s *SubscriberService) Get(ctx context.Context, caller Caller, id string) (*Subscriber, error) {
	sub, err := s.loadSubscriber(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub.ResellerID == "" {
		if caller.Tier != TierAdmin {
			return nil, fmt.Errorf("subscriber %s is outside the caller's scope: %w", id, ErrUnauthorized)
		}
		return sub, nil
	}

	reseller, err := s.checkedReseller(ctx, caller, sub.ResellerID)
	if err != nil {
		return nil, err
	}
	if reseller.Status == StatusInactive {
		// The cascade may just have flipped this subscriber; re-read.
		return s.loadSubscriber(ctx, id)
	}
	return sub, nil
}

// ListByReseller returns a reseller's subscribers after the validity check.
func (s *SubscriberService) ListByReseller(ctx context.Context, caller Caller, resellerID string) ([]Subscriber, error) {
	if _, err := s.checkedReseller(ctx, caller, resellerID); err != nil {
		return nil, err
	}
	return s.store.ListSubscribersByReseller(ctx, resellerID)
}

// =============================================================================
// DELETE / RELEASE
// =============================================================================

// Delete removes a subscriber. The admin removes it permanently; a
// reseller or distributor releases it back to an unassigned Fresh state
// (no reseller, no packages, no expiry).
func (s *SubscriberService) Delete(ctx context.Context, caller Caller, id string) error {
	sub, err := s.loadSubscriber(ctx, id)
	if err != nil {
		return err
	}

	if caller.Tier == TierAdmin {
		return s.store.DeleteSubscriber(ctx, sub.ID)
	}

	if sub.ResellerID == "" {
		return fmt.Errorf("subscriber %s is outside the caller's scope: %w", id, ErrUnauthorized)
	}
	if _, err := s.checkedReseller(ctx, caller, sub.ResellerID); err != nil {
		return err
	}

	sub.ResellerID = ""
	sub.Status = SubscriberFresh
	sub.ExpiryDate = nil
	sub.PackageIDs = nil
	sub.PrimaryPackageID = ""
	return s.store.SaveSubscriber(ctx, *sub)
}

// =============================================================================
// HELPERS
// =============================================================================

func (s *SubscriberService) loadSubscriber(ctx context.Context, id string) (*Subscriber, error) {
	sub, err := s.store.GetSubscriber(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, fmt.Errorf("subscriber %s: %w", id, ErrSubscriberNotFound)
	}
	return sub, nil
}

func (s *SubscriberService) loadReseller(ctx context.Context, id string) (*Account, error) {
	a, err := s.store.GetAccount(ctx, id)
	if err != nil {
		return nil, err
	}
	if a == nil || a.Tier != TierReseller {
		return nil, fmt.Errorf("reseller %s: %w", id, ErrAccountNotFound)
	}
	return a, nil
}

// checkedReseller loads the reseller, runs the lazy validity check (which
// may cascade over its subscribers) and enforces caller visibility.
func (s *SubscriberService) checkedReseller(ctx context.Context, caller Caller, resellerID string) (*Account, error) {
	reseller, err := s.loadReseller(ctx, resellerID)
	if err != nil {
		return nil, err
	}
	if _, err := s.cascade.CheckValidity(ctx, reseller); err != nil {
		return nil, err
	}
	if !caller.CanView(reseller) {
		return nil, fmt.Errorf("reseller %s is outside the caller's scope: %w", resellerID, ErrUnauthorized)
	}
	return reseller, nil
}
