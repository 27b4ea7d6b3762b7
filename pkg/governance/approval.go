package governance

import (
	"time"

	"github.com/ironlayer/ironlayer/pkg/errdefs"
	"github.com/ironlayer/ironlayer/pkg/types"
)

// approvedStates are the states from which a plan may be applied.
var approvedStates = map[types.PlanState]bool{
	types.PlanStateAutoApproved:     true,
	types.PlanStateManuallyApproved: true,
}

// terminalStates admit no further decisions.
var terminalStates = map[types.PlanState]bool{
	types.PlanStateRejected:  true,
	types.PlanStateApplied:   true,
	types.PlanStateCancelled: true,
}

// IsApproved reports whether the plan may proceed to apply.
func IsApproved(state types.PlanState) bool { return approvedStates[state] }

// AutoApprovable reports whether a freshly generated plan skips manual
// review. Any breaking contract violation forces a human decision.
func AutoApprovable(plan *types.Plan) bool {
	if plan == nil {
		return false
	}
	if plan.Summary.BreakingContractViolations > 0 {
		return false
	}
	return true
}

// Approve validates and appends an approval decision. The actor is the
// authenticated identity, never a caller-supplied name. The returned state
// is what the plan should transition to.
func Approve(plan *types.Plan, prior []types.Approval, actor, comment string, now time.Time) (*types.Approval, types.PlanState, error) {
	if plan == nil {
		return nil, "", errdefs.Validationf("plan is required")
	}
	if actor == "" {
		return nil, "", errdefs.Validationf("actor is required")
	}
	if terminalStates[plan.State] {
		return nil, "", errdefs.Conflictf("plan %s is %s and accepts no further decisions", plan.PlanID, plan.State)
	}
	for _, a := range prior {
		if a.Actor == actor && a.Approved {
			return nil, "", errdefs.Conflictf("plan %s already approved by %s", plan.PlanID, actor)
		}
	}
	record := &types.Approval{
		PlanID:    plan.PlanID,
		TenantID:  plan.TenantID,
		Actor:     actor,
		Approved:  true,
		Comment:   comment,
		CreatedAt: now.UTC(),
	}
	next := plan.State
	if plan.State == types.PlanStateDraft {
		next = types.PlanStateManuallyApproved
	}
	return record, next, nil
}

// Reject validates and appends a rejection. Rejection is terminal but
// prior approval records stay untouched.
func Reject(plan *types.Plan, actor, reason string, now time.Time) (*types.Approval, types.PlanState, error) {
	if plan == nil {
		return nil, "", errdefs.Validationf("plan is required")
	}
	if actor == "" {
		return nil, "", errdefs.Validationf("actor is required")
	}
	if reason == "" {
		return nil, "", errdefs.Validationf("a rejection reason is required")
	}
	if terminalStates[plan.State] {
		return nil, "", errdefs.Conflictf("plan %s is %s and accepts no further decisions", plan.PlanID, plan.State)
	}
	record := &types.Approval{
		PlanID:    plan.PlanID,
		TenantID:  plan.TenantID,
		Actor:     actor,
		Approved:  false,
		Comment:   reason,
		CreatedAt: now.UTC(),
	}
	return record, types.PlanStateRejected, nil
}

// Transition checks a direct state move outside the approve/reject paths
// (apply completion, cancellation).
func Transition(from, to types.PlanState) error {
	if from == to {
		return errdefs.Conflictf("plan is already %s", from)
	}
	allowed := false
	switch to {
	case types.PlanStateApplied:
		allowed = approvedStates[from]
	case types.PlanStateCancelled:
		// applied work cannot be un-done by cancelling
		allowed = from != types.PlanStateApplied
	case types.PlanStateAutoApproved:
		allowed = from == types.PlanStateDraft
	}
	if !allowed {
		return errdefs.Conflictf("plan cannot move from %s to %s", from, to)
	}
	return nil
}
