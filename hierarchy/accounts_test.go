package hierarchy_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skycast/reseller-engine/hierarchy"
	"github.com/skycast/reseller-engine/hierarchy/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestAccounts(t *testing.T) (*hierarchy.AccountService, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	cascade := hierarchy.NewCascadeEngine(mem)
	cascade.Now = func() time.Time { return testClock }
	svc := hierarchy.NewAccountService(mem, cascade)
	svc.Now = func() time.Time { return testClock }
	return svc, mem
}

// =============================================================================
// CREATE
// =============================================================================

func TestCreateAccount_Distributor_AdminOnly(t *testing.T) {
	svc, mem := newTestAccounts(t)
	ctx := context.Background()

	// Admin creates a distributor
	account, err := svc.Create(ctx, adminCaller(), hierarchy.CreateAccountRequest{
		Name: "North", Tier: hierarchy.TierDistributor,
	})
	require.NoError(t, err)
	assert.Equal(t, hierarchy.TierDistributor, account.Tier)
	assert.Equal(t, hierarchy.StatusActive, account.Status)
	assert.True(t, account.Balance.IsZero(), "accounts start with zero balance")

	// A distributor cannot create a peer
	seedAccount(t, mem, "dist-1", hierarchy.TierDistributor, 0, "")
	_, err = svc.Create(ctx, callerFor("dist-1", hierarchy.TierDistributor), hierarchy.CreateAccountRequest{
		Name: "South", Tier: hierarchy.TierDistributor,
	})
	assert.ErrorIs(t, err, hierarchy.ErrUnauthorized)
}

func TestCreateAccount_Reseller_ParentRules(t *testing.T) {
	svc, mem := newTestAccounts(t)
	ctx := context.Background()
	seedAccount(t, mem, "dist-1", hierarchy.TierDistributor, 0, "")
	seedAccount(t, mem, "dist-2", hierarchy.TierDistributor, 0, "")

	// Distributor caller defaults the parent to itself
	account, err := svc.Create(ctx, callerFor("dist-1", hierarchy.TierDistributor), hierarchy.CreateAccountRequest{
		Name: "Corner Shop", Tier: hierarchy.TierReseller,
	})
	require.NoError(t, err)
	assert.Equal(t, "dist-1", account.ParentID)

	// Distributor cannot plant a reseller under another distributor
	_, err = svc.Create(ctx, callerFor("dist-1", hierarchy.TierDistributor), hierarchy.CreateAccountRequest{
		Name: "Sneaky", Tier: hierarchy.TierReseller, ParentID: "dist-2",
	})
	assert.ErrorIs(t, err, hierarchy.ErrUnauthorized)

	// Admin must name a parent explicitly
	_, err = svc.Create(ctx, adminCaller(), hierarchy.CreateAccountRequest{
		Name: "Orphan", Tier: hierarchy.TierReseller,
	})
	assert.ErrorIs(t, err, hierarchy.ErrInvalidInput)

	// Parent must exist and be a distributor
	_, err = svc.Create(ctx, adminCaller(), hierarchy.CreateAccountRequest{
		Name: "Lost", Tier: hierarchy.TierReseller, ParentID: "ghost",
	})
	assert.ErrorIs(t, err, hierarchy.ErrAccountNotFound)
	_, err = svc.Create(ctx, adminCaller(), hierarchy.CreateAccountRequest{
		Name: "Nested", Tier: hierarchy.TierReseller, ParentID: account.ID,
	})
	assert.ErrorIs(t, err, hierarchy.ErrAccountNotFound)
}

func TestCreateAccount_AdminTier_Rejected(t *testing.T) {
	svc, _ := newTestAccounts(t)

	_, err := svc.Create(context.Background(), adminCaller(), hierarchy.CreateAccountRequest{
		Name: "Second Admin", Tier: hierarchy.TierAdmin,
	})
	assert.ErrorIs(t, err, hierarchy.ErrInvalidInput)
}

// =============================================================================
// READ SCOPES
// =============================================================================

func TestGetAccount_VisibilityScopes(t *testing.T) {
	svc, mem := newTestAccounts(t)
	ctx := context.Background()
	seedAccount(t, mem, "dist-1", hierarchy.TierDistributor, 0, "")
	seedAccount(t, mem, "dist-2", hierarchy.TierDistributor, 0, "")
	seedAccount(t, mem, "res-1", hierarchy.TierReseller, 0, "dist-1")
	seedAccount(t, mem, "res-2", hierarchy.TierReseller, 0, "dist-2")

	// Distributor sees its own reseller, not a foreign one
	_, err := svc.Get(ctx, callerFor("dist-1", hierarchy.TierDistributor), "res-1")
	assert.NoError(t, err)
	_, err = svc.Get(ctx, callerFor("dist-1", hierarchy.TierDistributor), "res-2")
	assert.ErrorIs(t, err, hierarchy.ErrUnauthorized)

	// Reseller sees only itself
	_, err = svc.Get(ctx, callerFor("res-1", hierarchy.TierReseller), "res-1")
	assert.NoError(t, err)
	_, err = svc.Get(ctx, callerFor("res-1", hierarchy.TierReseller), "dist-1")
	assert.ErrorIs(t, err, hierarchy.ErrUnauthorized)
}

func TestGetAccount_TriggersLazyCascade(t *testing.T) {
	// GIVEN: An expired distributor read through the account service
	svc, mem := newTestAccounts(t)
	ctx := context.Background()
	expired := testClock.Add(-time.Hour)
	require.NoError(t, mem.SaveAccount(ctx, hierarchy.Account{
		ID: "dist-1", Name: "Expired", Tier: hierarchy.TierDistributor,
		Status: hierarchy.StatusActive, ValidUntil: &expired, CreatedAt: testClock,
	}))

	// WHEN / THEN: The read reflects the transition
	account, err := svc.Get(ctx, adminCaller(), "dist-1")
	require.NoError(t, err)
	assert.Equal(t, hierarchy.StatusInactive, account.Status)
}

func TestListAccounts_Scopes(t *testing.T) {
	svc, mem := newTestAccounts(t)
	ctx := context.Background()
	seedAccount(t, mem, "admin", hierarchy.TierAdmin, 0, "")
	seedAccount(t, mem, "dist-1", hierarchy.TierDistributor, 0, "")
	seedAccount(t, mem, "dist-2", hierarchy.TierDistributor, 0, "")
	seedAccount(t, mem, "res-1", hierarchy.TierReseller, 0, "dist-1")
	seedAccount(t, mem, "res-2", hierarchy.TierReseller, 0, "dist-2")

	all, err := svc.List(ctx, adminCaller())
	require.NoError(t, err)
	assert.Len(t, all, 5)

	mine, err := svc.List(ctx, callerFor("dist-1", hierarchy.TierDistributor))
	require.NoError(t, err)
	require.Len(t, mine, 2)

	self, err := svc.List(ctx, callerFor("res-2", hierarchy.TierReseller))
	require.NoError(t, err)
	require.Len(t, self, 1)
	assert.Equal(t, "res-2", self[0].ID)
}

// =============================================================================
// UPDATE
// =============================================================================

func TestUpdateAccount_AdminOnly(t *testing.T) {
	svc, mem := newTestAccounts(t)
	ctx := context.Background()
	seedAccount(t, mem, "dist-1", hierarchy.TierDistributor, 0, "")
	name := "Renamed"

	_, err := svc.Update(ctx, callerFor("dist-1", hierarchy.TierDistributor), "dist-1", hierarchy.UpdateAccountRequest{Name: &name})
	assert.ErrorIs(t, err, hierarchy.ErrUnauthorized)

	account, err := svc.Update(ctx, adminCaller(), "dist-1", hierarchy.UpdateAccountRequest{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", account.Name)
}

func TestUpdateAccount_ParentImmutableWithSubscribers(t *testing.T) {
	// GIVEN: A reseller that owns a subscriber
	svc, mem := newTestAccounts(t)
	ctx := context.Background()
	seedAccount(t, mem, "dist-1", hierarchy.TierDistributor, 0, "")
	seedAccount(t, mem, "dist-2", hierarchy.TierDistributor, 0, "")
	seedAccount(t, mem, "res-1", hierarchy.TierReseller, 0, "dist-1")
	seedActiveSubscriber(t, mem, "sub-1", "res-1")
	newParent := "dist-2"

	// WHEN: The admin tries to re-parent it
	_, err := svc.Update(ctx, adminCaller(), "res-1", hierarchy.UpdateAccountRequest{ParentID: &newParent})

	// THEN: Rejected while subscribers exist
	assert.ErrorIs(t, err, hierarchy.ErrParentImmutable)

	// AND: After the subscriber is gone, the move is allowed
	require.NoError(t, mem.DeleteSubscriber(ctx, "sub-1"))
	account, err := svc.Update(ctx, adminCaller(), "res-1", hierarchy.UpdateAccountRequest{ParentID: &newParent})
	require.NoError(t, err)
	assert.Equal(t, "dist-2", account.ParentID)
}

// =============================================================================
// DELETE
// =============================================================================

func TestDeleteAccount_BlockedBySubscribers(t *testing.T) {
	svc, mem := newTestAccounts(t)
	ctx := context.Background()
	seedAccount(t, mem, "dist-1", hierarchy.TierDistributor, 0, "")
	seedAccount(t, mem, "res-1", hierarchy.TierReseller, 0, "dist-1")
	seedActiveSubscriber(t, mem, "sub-1", "res-1")

	// A reseller with subscribers cannot be deleted
	err := svc.Delete(ctx, adminCaller(), "res-1")
	assert.ErrorIs(t, err, hierarchy.ErrHasSubordinates)

	// Nor can its distributor
	err = svc.Delete(ctx, adminCaller(), "dist-1")
	assert.ErrorIs(t, err, hierarchy.ErrHasSubordinates)
}

func TestDeleteAccount_DistributorTakesEmptyChildren(t *testing.T) {
	// GIVEN: A distributor with two subscriber-less resellers
	svc, mem := newTestAccounts(t)
	ctx := context.Background()
	seedAccount(t, mem, "dist-1", hierarchy.TierDistributor, 0, "")
	seedAccount(t, mem, "res-1", hierarchy.TierReseller, 0, "dist-1")
	seedAccount(t, mem, "res-2", hierarchy.TierReseller, 0, "dist-1")

	// WHEN: The admin deletes the distributor
	require.NoError(t, svc.Delete(ctx, adminCaller(), "dist-1"))

	// THEN: The whole empty branch is gone
	for _, id := range []string{"dist-1", "res-1", "res-2"} {
		a, err := mem.GetAccount(ctx, id)
		require.NoError(t, err)
		assert.Nil(t, a, id)
	}
}

func TestDeleteAccount_NonAdmin_Rejected(t *testing.T) {
	svc, mem := newTestAccounts(t)
	ctx := context.Background()
	seedAccount(t, mem, "dist-1", hierarchy.TierDistributor, 0, "")
	seedAccount(t, mem, "res-1", hierarchy.TierReseller, 0, "dist-1")

	err := svc.Delete(ctx, callerFor("dist-1", hierarchy.TierDistributor), "res-1")
	assert.ErrorIs(t, err, hierarchy.ErrUnauthorized)
}
