/*
capping.go - Per-tier minimum balance floors

PURPOSE:
  Resolves the minimum allowed balance for each tier at the moment a
  transaction is evaluated. Floors are a single mutable settings record;
  every transfer resolves them exactly once, so an update takes effect only
  for transactions evaluated after the write (no retroactive re-validation).

DEFAULTS:
  distributor floor: 10,000
  reseller floor:     1,000
  admin floor:            0 (not stored)

  When no settings row exists the defaults are RETURNED, never written:
  the row appears only through an explicit admin update. This avoids the
  hidden first-read side effect of a lazily created global record.
*/
package hierarchy

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// Documented default floors, in the service currency's whole units.
var (
	DefaultDistributorFloor = decimal.NewFromInt(10000)
	DefaultResellerFloor    = decimal.NewFromInt(1000)
)

// DefaultCappingSettings returns the floors used when none are stored.
func DefaultCappingSettings() CappingSettings {
	return CappingSettings{
		DistributorFloor: DefaultDistributorFloor,
		ResellerFloor:    DefaultResellerFloor,
	}
}

// Floors is a settings snapshot resolved once per transaction.
type Floors struct {
	Distributor decimal.Decimal
	Reseller    decimal.Decimal
}

// For returns the floor for a tier. The admin floor is zero.
func (f Floors) For(tier Tier) decimal.Decimal {
	switch tier {
	case TierAdmin:
		return decimal.Zero
	case TierDistributor:
		return f.Distributor
	case TierReseller:
		return f.Reseller
	}
	return decimal.Zero
}

// CappingPolicy resolves floors from the settings store.
type CappingPolicy struct {
	settings SettingsStore
}

func NewCappingPolicy(settings SettingsStore) *CappingPolicy {
	return &CappingPolicy{settings: settings}
}

// Resolve reads the current floors, falling back to defaults when no
// settings record exists.
func (p *CappingPolicy) Resolve(ctx context.Context) (Floors, error) {
	s, err := p.settings.GetCappingSettings(ctx)
	if err != nil {
		return Floors{}, fmt.Errorf("resolve capping settings: %w", err)
	}
	if s == nil {
		d := DefaultCappingSettings()
		return Floors{Distributor: d.DistributorFloor, Reseller: d.ResellerFloor}, nil
	}
	return Floors{Distributor: s.DistributorFloor, Reseller: s.ResellerFloor}, nil
}

// Current returns the stored settings, or the defaults when absent.
func (p *CappingPolicy) Current(ctx context.Context) (CappingSettings, error) {
	s, err := p.settings.GetCappingSettings(ctx)
	if err != nil {
		return CappingSettings{}, err
	}
	if s == nil {
		return DefaultCappingSettings(), nil
	}
	return *s, nil
}

// Update replaces the floors. Admin only; floors must be non-negative so
// the floor predicate also guarantees balances never go negative.
func (p *CappingPolicy) Update(ctx context.Context, caller Caller, s CappingSettings) error {
	if caller.Tier != TierAdmin {
		return fmt.Errorf("update capping settings: %w", ErrUnauthorized)
	}
	if s.DistributorFloor.IsNegative() {
		return &InvalidInputError{Field: "distributor_floor", Reason: "must not be negative"}
	}
	if s.ResellerFloor.IsNegative() {
		return &InvalidInputError{Field: "reseller_floor", Reason: "must not be negative"}
	}
	return p.settings.SaveCappingSettings(ctx, s)
}
