package engine

import (
	"bytes"
	"context"
	"encoding/csv"
	"strconv"
	"time"

	"github.com/ironlayer/ironlayer/pkg/auth"
	"github.com/ironlayer/ironlayer/pkg/errdefs"
	"github.com/ironlayer/ironlayer/pkg/governance"
	"github.com/ironlayer/ironlayer/pkg/types"
)

// BillingStatus is the tenant's subscription with its current-period
// consumption and the derived guard state.
type BillingStatus struct {
	Subscription      *types.Subscription `json:"subscription"`
	PlanRunsToday     int                 `json:"plan_runs_today"`
	PlanRunsRemaining int                 `json:"plan_runs_remaining"`
	AISpentTodayUSD   float64             `json:"ai_spent_today_usd"`
	AISpentMonthUSD   float64             `json:"ai_spent_month_usd"`
	DailyBudgetUSD    float64             `json:"daily_budget_usd"`
	MonthlyBudgetUSD  float64             `json:"monthly_budget_usd"`
	BudgetExceeded    bool                `json:"budget_exceeded"`
	BudgetPeriod      string              `json:"budget_period,omitempty"` // daily or monthly, when exceeded
	QuotaExceeded     bool                `json:"quota_exceeded"`
}

// BillingInfo reports the tenant's subscription, current-period usage
// aggregates, and whether the quota and budget guards would deny the next
// costly operation.
func (e *Engine) BillingInfo(ctx context.Context) (*BillingStatus, error) {
	id, err := e.require(ctx, auth.PermUsageRead)
	if err != nil {
		return nil, err
	}
	now := e.now().UTC()
	sub, err := e.store.GetSubscription(ctx, id.TenantID)
	if err != nil {
		if !errdefs.IsKind(err, errdefs.KindNotFound) {
			return nil, err
		}
		sub = governance.DefaultSubscription(id.TenantID, types.TierCommunity, now)
	}

	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	runsToday, _, err := e.store.UsageTotals(ctx, id.TenantID, types.UsagePlanRun, dayStart, now)
	if err != nil {
		return nil, err
	}
	_, spentToday, err := e.store.UsageTotals(ctx, id.TenantID, types.UsageAICall, dayStart, now)
	if err != nil {
		return nil, err
	}
	_, spentMonth, err := e.store.UsageTotals(ctx, id.TenantID, types.UsageAICall, monthStart, now)
	if err != nil {
		return nil, err
	}

	status := &BillingStatus{
		Subscription:     sub,
		PlanRunsToday:    runsToday,
		AISpentTodayUSD:  spentToday,
		AISpentMonthUSD:  spentMonth,
		DailyBudgetUSD:   sub.DailyBudgetUSD,
		MonthlyBudgetUSD: sub.MonthlyBudgetUSD,
	}
	if remaining := sub.PlanRunQuota - runsToday; remaining > 0 {
		status.PlanRunsRemaining = remaining
	} else {
		status.QuotaExceeded = true
	}
	switch {
	case sub.DailyBudgetUSD > 0 && spentToday >= sub.DailyBudgetUSD:
		status.BudgetExceeded = true
		status.BudgetPeriod = "daily"
	case sub.MonthlyBudgetUSD > 0 && spentMonth >= sub.MonthlyBudgetUSD:
		status.BudgetExceeded = true
		status.BudgetPeriod = "monthly"
	}
	return status, nil
}

// ExportUsageCSV renders the tenant's usage events for a period as CSV.
// Every cell is defused against spreadsheet formula injection before it
// is written.
func (e *Engine) ExportUsageCSV(ctx context.Context, since, until time.Time) ([]byte, error) {
	id, err := e.require(ctx, auth.PermUsageRead)
	if err != nil {
		return nil, err
	}
	events, err := e.store.ListUsage(ctx, id.TenantID, since, until)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"event_id", "event_type", "quantity", "created_at"}); err != nil {
		return nil, err
	}
	for _, ev := range events {
		row := governance.DefuseCSVRow([]string{
			ev.EventID,
			string(ev.EventType),
			strconv.FormatFloat(ev.Quantity, 'f', -1, 64),
			ev.CreatedAt.UTC().Format(time.RFC3339),
		})
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
