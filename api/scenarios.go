/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:
  Provides pre-built scenarios that populate the database with a realistic
  hierarchy for testing and demos. Each scenario creates accounts,
  subscribers and ledger history that demonstrate specific behavior.

AVAILABLE SCENARIOS:
  starter-hierarchy:  Funded admin, one distributor, two resellers, a few
                      activated subscribers
  lapsed-distributor: A distributor whose validity expired yesterday while
                      its subtree is still marked active - the first read
                      triggers the cascade
  capped-out:         Balances sitting exactly on the capping floors, so
                      every further transfer is rejected

HOW SCENARIOS WORK:
  1. Reset the database (clear all data)
  2. Recreate the admin account and the package catalog
  3. Seed accounts with fixed ids
  4. Move balances through the real ledger so history is consistent

NOTE:
  Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: response helpers
  - catalog/catalog.go: DefaultPackages
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/skycast/reseller-engine/catalog"
	"github.com/skycast/reseller-engine/hierarchy"
)

// AdminAccountID is the fixed id of the platform admin account.
const AdminAccountID = "admin"

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "starter-hierarchy",
		Name:        "Starter Hierarchy",
		Description: "Funded admin, one distributor, two resellers, activated subscribers",
	},
	{
		ID:          "lapsed-distributor",
		Name:        "Lapsed Distributor",
		Description: "Distributor validity expired yesterday; the first read cascades over its subtree",
	},
	{
		ID:          "capped-out",
		Name:        "Capped Out",
		Description: "Balances resting exactly on the capping floors; transfers are rejected",
	},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, scenarios)
}

// LoadScenario resets the database and seeds the named scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	ctx := r.Context()
	var err error
	switch req.ScenarioID {
	case "starter-hierarchy":
		err = h.loadStarterHierarchy(ctx)
	case "lapsed-distributor":
		err = h.loadLapsedDistributor(ctx)
	case "capped-out":
		err = h.loadCappedOut(ctx)
	default:
		writeError(w, http.StatusBadRequest, "unknown scenario: "+req.ScenarioID, nil)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load scenario", err)
		return
	}

	h.currentScenario = req.ScenarioID
	h.Log.Info().Str("scenario", req.ScenarioID).Msg("scenario loaded")
	writeMessage(w, http.StatusOK, "scenario loaded: "+req.ScenarioID)
}

// =============================================================================
// LOADERS
// =============================================================================

// resettable is the optional store capability scenarios need.
type resettable interface {
	Reset(ctx context.Context) error
}

// packageSaver is the optional catalog capability scenarios need.
type packageSaver interface {
	SavePackage(ctx context.Context, p catalog.Package) error
}

// resetAndBootstrap wipes the store, recreates the admin account and seeds
// the default catalog.
func (h *Handler) resetAndBootstrap(ctx context.Context) error {
	store, ok := h.Store.(resettable)
	if !ok {
		return fmt.Errorf("store does not support reset")
	}
	if err := store.Reset(ctx); err != nil {
		return fmt.Errorf("reset store: %w", err)
	}

	if err := h.Store.SaveAccount(ctx, hierarchy.Account{
		ID:        AdminAccountID,
		Name:      "Platform Admin",
		Tier:      hierarchy.TierAdmin,
		Balance:   decimal.Zero,
		Status:    hierarchy.StatusActive,
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		return err
	}

	if saver, ok := h.Catalog.(packageSaver); ok {
		for _, p := range catalog.DefaultPackages() {
			if err := saver.SavePackage(ctx, p); err != nil {
				return err
			}
		}
	}
	return nil
}

// seedAccount writes an account with a fixed id, bypassing the uuid the
// service would generate. Balances still move through the real ledger.
func (h *Handler) seedAccount(ctx context.Context, a hierarchy.Account) error {
	a.Status = hierarchy.StatusActive
	a.Balance = decimal.Zero
	a.CreatedAt = time.Now().UTC()
	return h.Store.SaveAccount(ctx, a)
}

func (h *Handler) seedSubscriber(ctx context.Context, s hierarchy.Subscriber) error {
	s.CreatedAt = time.Now().UTC()
	return h.Store.SaveSubscriber(ctx, s)
}

// transferAs runs a transfer through the real ledger so the seeded history
// carries correct balance-after snapshots.
func (h *Handler) transferAs(ctx context.Context, caller hierarchy.Caller, entryType hierarchy.EntryType, amount int64, senderID, targetID string) error {
	_, err := h.Ledger.Transfer(ctx, caller, hierarchy.TransferRequest{
		Type:     entryType,
		Amount:   decimal.NewFromInt(amount),
		SenderID: senderID,
		TargetID: targetID,
	})
	return err
}

func (h *Handler) loadStarterHierarchy(ctx context.Context) error {
	if err := h.resetAndBootstrap(ctx); err != nil {
		return err
	}

	admin := hierarchy.Caller{AccountID: AdminAccountID, Tier: hierarchy.TierAdmin}
	subscriberCap := 50

	accounts := []hierarchy.Account{
		{ID: "dist-north", Name: "North Region Distribution", Tier: hierarchy.TierDistributor},
		{ID: "res-city", Name: "City Cable Co", Tier: hierarchy.TierReseller, ParentID: "dist-north", SubscriberCap: &subscriberCap},
		{ID: "res-valley", Name: "Valley Streams", Tier: hierarchy.TierReseller, ParentID: "dist-north"},
	}
	for _, a := range accounts {
		if err := h.seedAccount(ctx, a); err != nil {
			return err
		}
	}

	// Fund the hierarchy top-down through the ledger.
	if err := h.transferAs(ctx, admin, hierarchy.EntrySelfCredit, 100000, AdminAccountID, ""); err != nil {
		return err
	}
	if err := h.transferAs(ctx, admin, hierarchy.EntryCredit, 60000, AdminAccountID, "dist-north"); err != nil {
		return err
	}
	distributor := hierarchy.Caller{AccountID: "dist-north", Tier: hierarchy.TierDistributor}
	if err := h.transferAs(ctx, distributor, hierarchy.EntryCredit, 20000, "dist-north", "res-city"); err != nil {
		return err
	}
	if err := h.transferAs(ctx, distributor, hierarchy.EntryCredit, 15000, "dist-north", "res-valley"); err != nil {
		return err
	}

	subscribers := []hierarchy.Subscriber{
		{ID: "sub-ada", Name: "Ada Martin", ResellerID: "res-city", Status: hierarchy.SubscriberFresh},
		{ID: "sub-ben", Name: "Ben Osei", ResellerID: "res-city", Status: hierarchy.SubscriberFresh},
		{ID: "sub-cleo", Name: "Cleo Ruiz", ResellerID: "res-valley", Status: hierarchy.SubscriberFresh},
	}
	for _, s := range subscribers {
		if err := h.seedSubscriber(ctx, s); err != nil {
			return err
		}
	}

	// Activate two of them through the real charge path.
	if _, err := h.Subscribers.Activate(ctx, admin, "sub-ada", "pkg-basic"); err != nil {
		return err
	}
	if _, err := h.Subscribers.Activate(ctx, admin, "sub-cleo", "pkg-family"); err != nil {
		return err
	}
	return nil
}

func (h *Handler) loadLapsedDistributor(ctx context.Context) error {
	if err := h.resetAndBootstrap(ctx); err != nil {
		return err
	}

	admin := hierarchy.Caller{AccountID: AdminAccountID, Tier: hierarchy.TierAdmin}
	yesterday := time.Now().UTC().Add(-24 * time.Hour)

	if err := h.seedAccount(ctx, hierarchy.Account{
		ID: "dist-expired", Name: "Expired Distribution Ltd",
		Tier: hierarchy.TierDistributor, ValidUntil: &yesterday,
	}); err != nil {
		return err
	}
	for _, a := range []hierarchy.Account{
		{ID: "res-one", Name: "Reseller One", Tier: hierarchy.TierReseller, ParentID: "dist-expired"},
		{ID: "res-two", Name: "Reseller Two", Tier: hierarchy.TierReseller, ParentID: "dist-expired"},
	} {
		if err := h.seedAccount(ctx, a); err != nil {
			return err
		}
	}

	if err := h.transferAs(ctx, admin, hierarchy.EntrySelfCredit, 80000, AdminAccountID, ""); err != nil {
		return err
	}
	if err := h.transferAs(ctx, admin, hierarchy.EntryCredit, 40000, AdminAccountID, "dist-expired"); err != nil {
		return err
	}

	// Subtree still marked active; the first read of dist-expired cascades.
	for _, s := range []hierarchy.Subscriber{
		{ID: "sub-left", Name: "Left Behind", ResellerID: "res-one", Status: hierarchy.SubscriberActive},
		{ID: "sub-also", Name: "Also Behind", ResellerID: "res-two", Status: hierarchy.SubscriberActive},
	} {
		if err := h.seedSubscriber(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) loadCappedOut(ctx context.Context) error {
	if err := h.resetAndBootstrap(ctx); err != nil {
		return err
	}

	admin := hierarchy.Caller{AccountID: AdminAccountID, Tier: hierarchy.TierAdmin}

	if err := h.seedAccount(ctx, hierarchy.Account{
		ID: "dist-floor", Name: "At The Floor Distribution", Tier: hierarchy.TierDistributor,
	}); err != nil {
		return err
	}
	if err := h.seedAccount(ctx, hierarchy.Account{
		ID: "res-floor", Name: "Floor Reseller", Tier: hierarchy.TierReseller, ParentID: "dist-floor",
	}); err != nil {
		return err
	}

	// Fund each account to exactly its capping floor: every further
	// outbound transfer or activation charge now violates capping.
	if err := h.transferAs(ctx, admin, hierarchy.EntrySelfCredit, 11000, AdminAccountID, ""); err != nil {
		return err
	}
	if err := h.transferAs(ctx, admin, hierarchy.EntryCredit, 10000, AdminAccountID, "dist-floor"); err != nil {
		return err
	}
	if err := h.transferAs(ctx, admin, hierarchy.EntryCredit, 1000, AdminAccountID, "res-floor"); err != nil {
		return err
	}

	return h.seedSubscriber(ctx, hierarchy.Subscriber{
		ID: "sub-waiting", Name: "Waiting Customer", ResellerID: "res-floor", Status: hierarchy.SubscriberFresh,
	})
}
