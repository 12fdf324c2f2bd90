package hierarchy_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skycast/reseller-engine/catalog"
	"github.com/skycast/reseller-engine/hierarchy"
	"github.com/skycast/reseller-engine/hierarchy/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestSubscribers(t *testing.T) (*hierarchy.SubscriberService, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	cascade := hierarchy.NewCascadeEngine(mem)
	cascade.Now = func() time.Time { return testClock }
	capping := hierarchy.NewCappingPolicy(mem)
	svc := hierarchy.NewSubscriberService(mem, catalog.NewMemory(catalog.DefaultPackages()...), capping, cascade)
	svc.Now = func() time.Time { return testClock }
	return svc, mem
}

// =============================================================================
// CREATE
// =============================================================================

func TestCreateSubscriber_ResellerDefaultsToSelf(t *testing.T) {
	svc, mem := newTestSubscribers(t)
	ctx := context.Background()
	seedAccount(t, mem, "dist-1", hierarchy.TierDistributor, 0, "")
	seedAccount(t, mem, "res-1", hierarchy.TierReseller, 0, "dist-1")

	sub, err := svc.Create(ctx, callerFor("res-1", hierarchy.TierReseller), hierarchy.CreateSubscriberRequest{Name: "Ada"})
	require.NoError(t, err)
	assert.Equal(t, "res-1", sub.ResellerID)
	assert.Equal(t, hierarchy.SubscriberFresh, sub.Status)
	assert.Nil(t, sub.ExpiryDate, "fresh subscribers have no expiry")
}

func TestCreateSubscriber_ResellerCannotAssignElsewhere(t *testing.T) {
	svc, mem := newTestSubscribers(t)
	ctx := context.Background()
	seedAccount(t, mem, "dist-1", hierarchy.TierDistributor, 0, "")
	seedAccount(t, mem, "res-1", hierarchy.TierReseller, 0, "dist-1")
	seedAccount(t, mem, "res-2", hierarchy.TierReseller, 0, "dist-1")

	_, err := svc.Create(ctx, callerFor("res-1", hierarchy.TierReseller), hierarchy.CreateSubscriberRequest{
		Name: "Ben", ResellerID: "res-2",
	})
	assert.ErrorIs(t, err, hierarchy.ErrUnauthorized)
}

func TestCreateSubscriber_CapLimitEnforced(t *testing.T) {
	// GIVEN: A reseller capped at two subscribers, already holding two
	svc, mem := newTestSubscribers(t)
	ctx := context.Background()
	limit := 2
	seedAccount(t, mem, "dist-1", hierarchy.TierDistributor, 0, "")
	require.NoError(t, mem.SaveAccount(ctx, hierarchy.Account{
		ID: "res-1", Name: "Capped", Tier: hierarchy.TierReseller,
		Balance: decimal.Zero, Status: hierarchy.StatusActive,
		ParentID: "dist-1", SubscriberCap: &limit, CreatedAt: testClock,
	}))
	seedActiveSubscriber(t, mem, "sub-1", "res-1")
	seedActiveSubscriber(t, mem, "sub-2", "res-1")

	// WHEN: A third is created
	_, err := svc.Create(ctx, callerFor("res-1", hierarchy.TierReseller), hierarchy.CreateSubscriberRequest{Name: "Third"})

	// THEN: Rejected at the cap
	assert.ErrorIs(t, err, hierarchy.ErrInvalidInput)
}

func TestCreateSubscriber_InactiveReseller_Rejected(t *testing.T) {
	svc, mem := newTestSubscribers(t)
	ctx := context.Background()
	seedAccount(t, mem, "dist-1", hierarchy.TierDistributor, 0, "")
	require.NoError(t, mem.SaveAccount(ctx, hierarchy.Account{
		ID: "res-1", Name: "Dormant", Tier: hierarchy.TierReseller,
		Balance: decimal.Zero, Status: hierarchy.StatusInactive,
		ParentID: "dist-1", CreatedAt: testClock,
	}))

	_, err := svc.Create(ctx, adminCaller(), hierarchy.CreateSubscriberRequest{Name: "Eve", ResellerID: "res-1"})
	assert.ErrorIs(t, err, hierarchy.ErrUnauthorized)
}

// =============================================================================
// ACTIVATE / RENEW
// =============================================================================

func TestActivateSubscriber_ChargesResellerAndSetsExpiry(t *testing.T) {
	// GIVEN: A fresh subscriber under a funded reseller
	svc, mem := newTestSubscribers(t)
	ctx := context.Background()
	seedAccount(t, mem, "dist-1", hierarchy.TierDistributor, 0, "")
	seedAccount(t, mem, "res-1", hierarchy.TierReseller, 5000, "dist-1")
	seedFreshSubscriber(t, mem, "sub-1", "res-1")

	// WHEN: The reseller activates it on the basic package
	sub, err := svc.Activate(ctx, callerFor("res-1", hierarchy.TierReseller), "sub-1", "pkg-basic")
	require.NoError(t, err)

	// THEN: Active, expiry one package duration out, cost deducted
	assert.Equal(t, hierarchy.SubscriberActive, sub.Status)
	require.NotNil(t, sub.ExpiryDate)
	assert.Equal(t, testClock.AddDate(0, 0, 30), *sub.ExpiryDate)
	assert.Equal(t, "pkg-basic", sub.PrimaryPackageID)
	assert.Contains(t, sub.PackageIDs, "pkg-basic")
	assert.True(t, balanceOf(t, mem, "res-1").Equal(decimal.NewFromInt(4750)))
}

func TestActivateSubscriber_RenewalExtendsFromFutureExpiry(t *testing.T) {
	// GIVEN: An active subscriber whose expiry is ten days out
	svc, mem := newTestSubscribers(t)
	ctx := context.Background()
	seedAccount(t, mem, "dist-1", hierarchy.TierDistributor, 0, "")
	seedAccount(t, mem, "res-1", hierarchy.TierReseller, 5000, "dist-1")
	current := testClock.AddDate(0, 0, 10)
	require.NoError(t, mem.SaveSubscriber(ctx, hierarchy.Subscriber{
		ID: "sub-1", Name: "Ada", ResellerID: "res-1",
		Status: hierarchy.SubscriberActive, ExpiryDate: &current,
		PackageIDs: []string{"pkg-basic"}, PrimaryPackageID: "pkg-basic",
		CreatedAt: testClock,
	}))

	// WHEN: Renewed before it lapses
	sub, err := svc.Activate(ctx, callerFor("res-1", hierarchy.TierReseller), "sub-1", "pkg-basic")
	require.NoError(t, err)

	// THEN: The new expiry stacks on the old one, not on today
	require.NotNil(t, sub.ExpiryDate)
	assert.Equal(t, current.AddDate(0, 0, 30), *sub.ExpiryDate)
	assert.Equal(t, []string{"pkg-basic"}, sub.PackageIDs, "renewal does not duplicate the package")
}

func TestActivateSubscriber_PastExpiryRestartsFromNow(t *testing.T) {
	svc, mem := newTestSubscribers(t)
	ctx := context.Background()
	seedAccount(t, mem, "dist-1", hierarchy.TierDistributor, 0, "")
	seedAccount(t, mem, "res-1", hierarchy.TierReseller, 5000, "dist-1")
	lapsed := testClock.AddDate(0, 0, -5)
	require.NoError(t, mem.SaveSubscriber(ctx, hierarchy.Subscriber{
		ID: "sub-1", Name: "Ben", ResellerID: "res-1",
		Status: hierarchy.SubscriberInactive, ExpiryDate: &lapsed,
		PackageIDs: []string{"pkg-basic"}, PrimaryPackageID: "pkg-basic",
		CreatedAt: testClock,
	}))

	sub, err := svc.Activate(ctx, callerFor("res-1", hierarchy.TierReseller), "sub-1", "pkg-family")
	require.NoError(t, err)
	require.NotNil(t, sub.ExpiryDate)
	assert.Equal(t, testClock.AddDate(0, 0, 30), *sub.ExpiryDate)
	assert.Equal(t, "pkg-family", sub.PrimaryPackageID)
	assert.ElementsMatch(t, []string{"pkg-basic", "pkg-family"}, sub.PackageIDs)
}

func TestActivateSubscriber_InsufficientFunds(t *testing.T) {
	svc, mem := newTestSubscribers(t)
	ctx := context.Background()
	seedAccount(t, mem, "dist-1", hierarchy.TierDistributor, 0, "")
	seedAccount(t, mem, "res-1", hierarchy.TierReseller, 100, "dist-1")
	seedFreshSubscriber(t, mem, "sub-1", "res-1")

	_, err := svc.Activate(ctx, callerFor("res-1", hierarchy.TierReseller), "sub-1", "pkg-basic")

	var funds *hierarchy.InsufficientFundsError
	require.ErrorAs(t, err, &funds)
	assert.ErrorIs(t, err, hierarchy.ErrInsufficientFunds)
	assert.True(t, balanceOf(t, mem, "res-1").Equal(decimal.NewFromInt(100)), "balance untouched")
}

func TestActivateSubscriber_ChargeBlockedAtFloor(t *testing.T) {
	// GIVEN: A reseller whose balance would dip below the default floor
	svc, mem := newTestSubscribers(t)
	ctx := context.Background()
	seedAccount(t, mem, "dist-1", hierarchy.TierDistributor, 0, "")
	seedAccount(t, mem, "res-1", hierarchy.TierReseller, 1100, "dist-1")
	seedFreshSubscriber(t, mem, "sub-1", "res-1")

	// WHEN: Activating a 250 package would land at 850, under the 1000 floor
	_, err := svc.Activate(ctx, callerFor("res-1", hierarchy.TierReseller), "sub-1", "pkg-basic")

	// THEN: The capping violation is reported and nothing changed
	var capping *hierarchy.CappingViolationError
	require.ErrorAs(t, err, &capping)
	assert.True(t, capping.Floor.Equal(decimal.NewFromInt(1000)))
	assert.True(t, balanceOf(t, mem, "res-1").Equal(decimal.NewFromInt(1100)))

	sub, err := mem.GetSubscriber(ctx, "sub-1")
	require.NoError(t, err)
	assert.Equal(t, hierarchy.SubscriberFresh, sub.Status)
}

func TestActivateSubscriber_UnknownPackage(t *testing.T) {
	svc, mem := newTestSubscribers(t)
	ctx := context.Background()
	seedAccount(t, mem, "dist-1", hierarchy.TierDistributor, 0, "")
	seedAccount(t, mem, "res-1", hierarchy.TierReseller, 5000, "dist-1")
	seedFreshSubscriber(t, mem, "sub-1", "res-1")

	_, err := svc.Activate(ctx, callerFor("res-1", hierarchy.TierReseller), "sub-1", "pkg-ghost")
	assert.ErrorIs(t, err, hierarchy.ErrPackageNotFound)
}

func TestActivateSubscriber_ForeignReseller_Rejected(t *testing.T) {
	svc, mem := newTestSubscribers(t)
	ctx := context.Background()
	seedAccount(t, mem, "dist-1", hierarchy.TierDistributor, 0, "")
	seedAccount(t, mem, "dist-2", hierarchy.TierDistributor, 0, "")
	seedAccount(t, mem, "res-1", hierarchy.TierReseller, 5000, "dist-1")
	seedFreshSubscriber(t, mem, "sub-1", "res-1")

	_, err := svc.Activate(ctx, callerFor("dist-2", hierarchy.TierDistributor), "sub-1", "pkg-basic")
	assert.ErrorIs(t, err, hierarchy.ErrUnauthorized)
}

// =============================================================================
// READ
// =============================================================================

func TestGetSubscriber_LapsedResellerReflectsCascade(t *testing.T) {
	// GIVEN: An active subscriber under a reseller that has expired
	svc, mem := newTestSubscribers(t)
	ctx := context.Background()
	seedAccount(t, mem, "dist-1", hierarchy.TierDistributor, 0, "")
	expired := testClock.Add(-time.Hour)
	require.NoError(t, mem.SaveAccount(ctx, hierarchy.Account{
		ID: "res-1", Name: "Lapsed", Tier: hierarchy.TierReseller,
		Balance: decimal.Zero, Status: hierarchy.StatusActive,
		ValidUntil: &expired, ParentID: "dist-1", CreatedAt: testClock,
	}))
	seedActiveSubscriber(t, mem, "sub-1", "res-1")

	// WHEN: The subscriber is read
	sub, err := svc.Get(ctx, adminCaller(), "sub-1")
	require.NoError(t, err)

	// THEN: The cascade already flipped it
	assert.Equal(t, hierarchy.SubscriberInactive, sub.Status)
}

func TestGetSubscriber_Unassigned_AdminOnly(t *testing.T) {
	svc, mem := newTestSubscribers(t)
	ctx := context.Background()
	seedAccount(t, mem, "dist-1", hierarchy.TierDistributor, 0, "")
	seedAccount(t, mem, "res-1", hierarchy.TierReseller, 0, "dist-1")
	require.NoError(t, mem.SaveSubscriber(ctx, hierarchy.Subscriber{
		ID: "sub-free", Name: "Floating", Status: hierarchy.SubscriberFresh, CreatedAt: testClock,
	}))

	_, err := svc.Get(ctx, adminCaller(), "sub-free")
	assert.NoError(t, err)

	_, err = svc.Get(ctx, callerFor("res-1", hierarchy.TierReseller), "sub-free")
	assert.ErrorIs(t, err, hierarchy.ErrUnauthorized)
}

func TestListSubscribersByReseller_Scoped(t *testing.T) {
	svc, mem := newTestSubscribers(t)
	ctx := context.Background()
	seedAccount(t, mem, "dist-1", hierarchy.TierDistributor, 0, "")
	seedAccount(t, mem, "dist-2", hierarchy.TierDistributor, 0, "")
	seedAccount(t, mem, "res-1", hierarchy.TierReseller, 0, "dist-1")
	seedActiveSubscriber(t, mem, "sub-1", "res-1")
	seedActiveSubscriber(t, mem, "sub-2", "res-1")

	subs, err := svc.ListByReseller(ctx, callerFor("res-1", hierarchy.TierReseller), "res-1")
	require.NoError(t, err)
	assert.Len(t, subs, 2)

	_, err = svc.ListByReseller(ctx, callerFor("dist-2", hierarchy.TierDistributor), "res-1")
	assert.ErrorIs(t, err, hierarchy.ErrUnauthorized)
}

// =============================================================================
// DELETE / RELEASE
// =============================================================================

func TestDeleteSubscriber_AdminPurges(t *testing.T) {
	svc, mem := newTestSubscribers(t)
	ctx := context.Background()
	seedAccount(t, mem, "dist-1", hierarchy.TierDistributor, 0, "")
	seedAccount(t, mem, "res-1", hierarchy.TierReseller, 0, "dist-1")
	seedActiveSubscriber(t, mem, "sub-1", "res-1")

	require.NoError(t, svc.Delete(ctx, adminCaller(), "sub-1"))

	sub, err := mem.GetSubscriber(ctx, "sub-1")
	require.NoError(t, err)
	assert.Nil(t, sub)
}

func TestDeleteSubscriber_ResellerReleases(t *testing.T) {
	// GIVEN: An active subscriber with packages and an expiry
	svc, mem := newTestSubscribers(t)
	ctx := context.Background()
	seedAccount(t, mem, "dist-1", hierarchy.TierDistributor, 0, "")
	seedAccount(t, mem, "res-1", hierarchy.TierReseller, 0, "dist-1")
	expiry := testClock.AddDate(0, 0, 30)
	require.NoError(t, mem.SaveSubscriber(ctx, hierarchy.Subscriber{
		ID: "sub-1", Name: "Ada", ResellerID: "res-1",
		Status: hierarchy.SubscriberActive, ExpiryDate: &expiry,
		PackageIDs: []string{"pkg-basic"}, PrimaryPackageID: "pkg-basic",
		CreatedAt: testClock,
	}))

	// WHEN: The reseller deletes it
	require.NoError(t, svc.Delete(ctx, callerFor("res-1", hierarchy.TierReseller), "sub-1"))

	// THEN: The record survives, stripped back to an unassigned Fresh state
	sub, err := mem.GetSubscriber(ctx, "sub-1")
	require.NoError(t, err)
	require.NotNil(t, sub)
	assert.Empty(t, sub.ResellerID)
	assert.Equal(t, hierarchy.SubscriberFresh, sub.Status)
	assert.Nil(t, sub.ExpiryDate)
	assert.Empty(t, sub.PackageIDs)
	assert.Empty(t, sub.PrimaryPackageID)
}

func TestDeleteSubscriber_ForeignCaller_Rejected(t *testing.T) {
	svc, mem := newTestSubscribers(t)
	ctx := context.Background()
	seedAccount(t, mem, "dist-1", hierarchy.TierDistributor, 0, "")
	seedAccount(t, mem, "res-1", hierarchy.TierReseller, 0, "dist-1")
	seedAccount(t, mem, "res-2", hierarchy.TierReseller, 0, "dist-1")
	seedActiveSubscriber(t, mem, "sub-1", "res-1")

	err := svc.Delete(ctx, callerFor("res-2", hierarchy.TierReseller), "sub-1")
	assert.ErrorIs(t, err, hierarchy.ErrUnauthorized)
}

// seedFreshSubscriber writes a Fresh subscriber directly into the store.
func seedFreshSubscriber(t *testing.T, mem *store.Memory, id, resellerID string) {
	t.Helper()
	require.NoError(t, mem.SaveSubscriber(context.Background(), hierarchy.Subscriber{
		ID: id, Name: "Subscriber " + id, ResellerID: resellerID,
		Status: hierarchy.SubscriberFresh, CreatedAt: testClock,
	}))
}
