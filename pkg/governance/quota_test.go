package governance

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ironlayer/ironlayer/pkg/errdefs"
	"github.com/ironlayer/ironlayer/pkg/types"
)

type fakeUsage struct {
	counts     map[types.UsageEventType]int
	quantities map[types.UsageEventType]float64
	gotSince   time.Time
}

func (f *fakeUsage) UsageTotals(_ context.Context, _ string, eventType types.UsageEventType, since, _ time.Time) (int, float64, error) {
	f.gotSince = since
	return f.counts[eventType], f.quantities[eventType], nil
}

type fakeSubs struct {
	sub *types.Subscription
	err error
}

func (f *fakeSubs) GetSubscription(context.Context, string) (*types.Subscription, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.sub, nil
}

type fakeSeats struct {
	users      int
	lockedKeys []string
}

func (f *fakeSeats) WithTenantLock(ctx context.Context, tenantID string, fn func(ctx context.Context) error) error {
	f.lockedKeys = append(f.lockedKeys, tenantID)
	return fn(ctx)
}

func (f *fakeSeats) CountUsers(context.Context, string) (int, error) {
	return f.users, nil
}

func testGuard(usage *fakeUsage, subs *fakeSubs, seats *fakeSeats, now time.Time) *Guard {
	g := NewGuard(usage, subs, seats)
	g.now = func() time.Time { return now }
	return g
}

func TestCheckPlanRunQuota(t *testing.T) {
	now := time.Date(2026, 3, 10, 15, 30, 0, 0, time.UTC)
	usage := &fakeUsage{counts: map[types.UsageEventType]int{types.UsagePlanRun: 49}}
	subs := &fakeSubs{sub: &types.Subscription{TenantID: "t", Tier: types.TierCommunity, PlanRunQuota: 50}}

	g := testGuard(usage, subs, &fakeSeats{}, now)
	require.NoError(t, g.CheckPlanRun(context.Background(), "t"))
	assert.Equal(t, time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC), usage.gotSince)

	usage.counts[types.UsagePlanRun] = 50
	err := g.CheckPlanRun(context.Background(), "t")
	require.Error(t, err)
	assert.Equal(t, errdefs.KindQuotaExceeded, errdefs.KindOf(err))
}

func TestPlanRunQuotaZeroMeansUnlimited(t *testing.T) {
	usage := &fakeUsage{counts: map[types.UsageEventType]int{types.UsagePlanRun: 100000}}
	subs := &fakeSubs{sub: &types.Subscription{TenantID: "t", PlanRunQuota: 0}}
	g := testGuard(usage, subs, &fakeSeats{}, time.Now())
	assert.NoError(t, g.CheckPlanRun(context.Background(), "t"))
}

func TestMissingSubscriptionFallsBackToCommunity(t *testing.T) {
	usage := &fakeUsage{counts: map[types.UsageEventType]int{types.UsagePlanRun: 50}}
	subs := &fakeSubs{err: errdefs.NotFoundf("no subscription")}
	g := testGuard(usage, subs, &fakeSeats{}, time.Now())

	err := g.CheckPlanRun(context.Background(), "t")
	assert.Equal(t, errdefs.KindQuotaExceeded, errdefs.KindOf(err))
}

func TestCheckAISpendBudgets(t *testing.T) {
	now := time.Date(2026, 3, 10, 15, 30, 0, 0, time.UTC)
	subs := &fakeSubs{sub: &types.Subscription{
		TenantID: "t", DailyBudgetUSD: 1.0, MonthlyBudgetUSD: 20.0,
	}}

	t.Run("within budget", func(t *testing.T) {
		usage := &fakeUsage{quantities: map[types.UsageEventType]float64{types.UsageAICall: 0.50}}
		g := testGuard(usage, subs, &fakeSeats{}, now)
		assert.NoError(t, g.CheckAISpend(context.Background(), "t"))
	})

	t.Run("crossing call admitted", func(t *testing.T) {
		// Admission looks only at spend already recorded: one cent of
		// headroom admits the call even if it will overshoot the cap.
		usage := &fakeUsage{quantities: map[types.UsageEventType]float64{types.UsageAICall: 0.999}}
		g := testGuard(usage, subs, &fakeSeats{}, now)
		assert.NoError(t, g.CheckAISpend(context.Background(), "t"))
	})

	t.Run("daily exhausted at cap", func(t *testing.T) {
		usage := &fakeUsage{quantities: map[types.UsageEventType]float64{types.UsageAICall: 1.0}}
		g := testGuard(usage, subs, &fakeSeats{}, now)
		err := g.CheckAISpend(context.Background(), "t")
		require.Error(t, err)
		assert.Equal(t, errdefs.KindBudgetExceeded, errdefs.KindOf(err))
	})

	t.Run("budget and quota kinds differ", func(t *testing.T) {
		usage := &fakeUsage{quantities: map[types.UsageEventType]float64{types.UsageAICall: 2.0}}
		g := testGuard(usage, subs, &fakeSeats{}, now)
		err := g.CheckAISpend(context.Background(), "t")
		assert.NotEqual(t, errdefs.KindQuotaExceeded, errdefs.KindOf(err))
		assert.Equal(t, errdefs.KindBudgetExceeded, errdefs.KindOf(err))
	})
}

func TestReserveSeatUnderLock(t *testing.T) {
	subs := &fakeSubs{sub: &types.Subscription{TenantID: "t", Seats: 2}}
	seats := &fakeSeats{users: 1}
	g := testGuard(&fakeUsage{}, subs, seats, time.Now())

	inserted := false
	err := g.ReserveSeat(context.Background(), "t", func(context.Context) error {
		inserted = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.Equal(t, []string{"t"}, seats.lockedKeys)

	seats.users = 2
	err = g.ReserveSeat(context.Background(), "t", func(context.Context) error {
		t.Fatal("insert must not run when seats are exhausted")
		return nil
	})
	require.Error(t, err)
	assert.Equal(t, errdefs.KindQuotaExceeded, errdefs.KindOf(err))
}

func TestDefaultSubscriptionTiers(t *testing.T) {
	now := time.Now()
	community := DefaultSubscription("t", types.TierCommunity, now)
	team := DefaultSubscription("t", types.TierTeam, now)
	enterprise := DefaultSubscription("t", types.TierEnterprise, now)

	assert.Less(t, community.Seats, team.Seats)
	assert.Less(t, team.Seats, enterprise.Seats)
	assert.Less(t, community.DailyBudgetUSD, team.DailyBudgetUSD)
	assert.Less(t, team.MonthlyBudgetUSD, enterprise.MonthlyBudgetUSD)
	assert.Less(t, community.PlanRunQuota, team.PlanRunQuota)

	// unknown tier normalizes to community
	unknown := DefaultSubscription("t", types.PlanTier("free"), now)
	assert.Equal(t, types.TierCommunity, unknown.Tier)
}
