package governance

import (
	"context"
	"time"

	"github.com/ironlayer/ironlayer/pkg/errdefs"
	"github.com/ironlayer/ironlayer/pkg/types"
)

// UsageReader aggregates usage events for guard decisions. Count is the
// number of events, quantity the sum of the type-specific quantity column
// (USD for AI calls).
type UsageReader interface {
	UsageTotals(ctx context.Context, tenantID string, eventType types.UsageEventType, since, until time.Time) (count int, quantity float64, err error)
}

// SubscriptionReader resolves the tenant's quota configuration.
type SubscriptionReader interface {
	GetSubscription(ctx context.Context, tenantID string) (*types.Subscription, error)
}

// SeatStore counts users under the same tenant advisory lock that guards
// the insert, so two concurrent invites cannot both observe a free seat.
type SeatStore interface {
	WithTenantLock(ctx context.Context, tenantID string, fn func(ctx context.Context) error) error
	CountUsers(ctx context.Context, tenantID string) (int, error)
}

// DefaultSubscription returns the quota defaults for a tier. Tenants get
// community limits until an explicit subscription row exists.
func DefaultSubscription(tenantID string, tier types.PlanTier, now time.Time) *types.Subscription {
	sub := &types.Subscription{
		TenantID:  tenantID,
		Tier:      tier,
		CreatedAt: now.UTC(),
		UpdatedAt: now.UTC(),
	}
	switch tier {
	case types.TierTeam:
		sub.Seats = 25
		sub.DailyBudgetUSD = 10
		sub.MonthlyBudgetUSD = 200
		sub.PlanRunQuota = 500
	case types.TierEnterprise:
		sub.Seats = 500
		sub.DailyBudgetUSD = 100
		sub.MonthlyBudgetUSD = 2000
		sub.PlanRunQuota = 10000
	default:
		sub.Tier = types.TierCommunity
		sub.Seats = 5
		sub.DailyBudgetUSD = 1
		sub.MonthlyBudgetUSD = 20
		sub.PlanRunQuota = 50
	}
	return sub
}

// Guard enforces quotas and budgets against usage aggregates.
type Guard struct {
	usage UsageReader
	subs  SubscriptionReader
	seats SeatStore
	now   func() time.Time
}

// NewGuard wires the guard to its readers.
func NewGuard(usage UsageReader, subs SubscriptionReader, seats SeatStore) *Guard {
	return &Guard{usage: usage, subs: subs, seats: seats, now: time.Now}
}

// subscription falls back to community defaults when no row exists yet.
func (g *Guard) subscription(ctx context.Context, tenantID string) (*types.Subscription, error) {
	sub, err := g.subs.GetSubscription(ctx, tenantID)
	if err != nil {
		if errdefs.IsKind(err, errdefs.KindNotFound) {
			return DefaultSubscription(tenantID, types.TierCommunity, g.now()), nil
		}
		return nil, err
	}
	return sub, nil
}

// dayStart is midnight UTC of the current day.
func dayStart(now time.Time) time.Time {
	now = now.UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}

// monthStart is the first of the current month UTC.
func monthStart(now time.Time) time.Time {
	now = now.UTC()
	return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// CheckPlanRun admits a plan generation when today's count is under the
// tenant's quota.
func (g *Guard) CheckPlanRun(ctx context.Context, tenantID string) error {
	sub, err := g.subscription(ctx, tenantID)
	if err != nil {
		return err
	}
	if sub.PlanRunQuota <= 0 {
		return nil // unlimited
	}
	now := g.now()
	count, _, err := g.usage.UsageTotals(ctx, tenantID, types.UsagePlanRun, dayStart(now), now)
	if err != nil {
		return err
	}
	if count >= sub.PlanRunQuota {
		return errdefs.QuotaExceededf("plan run quota of %d per day reached", sub.PlanRunQuota).
			WithDetail("quota", sub.PlanRunQuota).
			WithDetail("used", count)
	}
	return nil
}

// CheckAISpend admits an LLM call while recorded spend is under both the
// daily and the monthly budget. Spend is the summed quantity of AI_CALL
// usage events, recorded in USD. The decision looks only at spend already
// recorded: the call that crosses the cap is admitted and metered, and
// refusal starts once spend has reached the cap.
func (g *Guard) CheckAISpend(ctx context.Context, tenantID string) error {
	sub, err := g.subscription(ctx, tenantID)
	if err != nil {
		return err
	}
	now := g.now()

	_, daySpend, err := g.usage.UsageTotals(ctx, tenantID, types.UsageAICall, dayStart(now), now)
	if err != nil {
		return err
	}
	if daySpend >= sub.DailyBudgetUSD {
		return errdefs.BudgetExceededf("daily LLM budget of $%.2f exhausted", sub.DailyBudgetUSD).
			WithDetail("budget_usd", sub.DailyBudgetUSD).
			WithDetail("spent_usd", daySpend)
	}

	_, monthSpend, err := g.usage.UsageTotals(ctx, tenantID, types.UsageAICall, monthStart(now), now)
	if err != nil {
		return err
	}
	if monthSpend >= sub.MonthlyBudgetUSD {
		return errdefs.BudgetExceededf("monthly LLM budget of $%.2f exhausted", sub.MonthlyBudgetUSD).
			WithDetail("budget_usd", sub.MonthlyBudgetUSD).
			WithDetail("spent_usd", monthSpend)
	}
	return nil
}

// ReserveSeat runs insert under the tenant advisory lock after confirming
// a seat is free. The callback performs the actual user creation inside
// the same lock scope.
func (g *Guard) ReserveSeat(ctx context.Context, tenantID string, insert func(ctx context.Context) error) error {
	sub, err := g.subscription(ctx, tenantID)
	if err != nil {
		return err
	}
	return g.seats.WithTenantLock(ctx, tenantID, func(ctx context.Context) error {
		count, err := g.seats.CountUsers(ctx, tenantID)
		if err != nil {
			return err
		}
		if sub.Seats > 0 && count >= sub.Seats {
			return errdefs.QuotaExceededf("seat limit of %d reached", sub.Seats).
				WithDetail("seats", sub.Seats).
				WithDetail("used", count)
		}
		return insert(ctx)
	})
}
