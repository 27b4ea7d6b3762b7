package governance

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ironlayer/ironlayer/pkg/errdefs"
	"github.com/ironlayer/ironlayer/pkg/types"
)

func draftPlan() *types.Plan {
	return &types.Plan{
		PlanID:   "plan-1",
		TenantID: "t-acme",
		State:    types.PlanStateDraft,
	}
}

func TestApproveDraftPlan(t *testing.T) {
	now := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)

	record, next, err := Approve(draftPlan(), nil, "alice", "lgtm", now)
	require.NoError(t, err)
	assert.Equal(t, types.PlanStateManuallyApproved, next)
	assert.Equal(t, "alice", record.Actor)
	assert.True(t, record.Approved)
	assert.Equal(t, "lgtm", record.Comment)
	assert.Equal(t, now, record.CreatedAt)
}

func TestDuplicateApprovalConflicts(t *testing.T) {
	now := time.Now()
	plan := draftPlan()
	plan.State = types.PlanStateManuallyApproved
	prior := []types.Approval{{PlanID: "plan-1", Actor: "alice", Approved: true}}

	_, _, err := Approve(plan, prior, "alice", "", now)
	require.Error(t, err)
	assert.Equal(t, errdefs.KindConflict, errdefs.KindOf(err))

	// a different identity may still add an approval record
	record, next, err := Approve(plan, prior, "bob", "", now)
	require.NoError(t, err)
	assert.Equal(t, "bob", record.Actor)
	assert.Equal(t, types.PlanStateManuallyApproved, next)
}

func TestRejectIsTerminalButPreservesApprovals(t *testing.T) {
	now := time.Now()
	plan := draftPlan()
	plan.State = types.PlanStateManuallyApproved

	record, next, err := Reject(plan, "carol", "cost too high", now)
	require.NoError(t, err)
	assert.Equal(t, types.PlanStateRejected, next)
	assert.False(t, record.Approved)
	assert.Equal(t, "cost too high", record.Comment)

	plan.State = types.PlanStateRejected
	_, _, err = Approve(plan, nil, "alice", "", now)
	assert.Equal(t, errdefs.KindConflict, errdefs.KindOf(err))
	_, _, err = Reject(plan, "dave", "also bad", now)
	assert.Equal(t, errdefs.KindConflict, errdefs.KindOf(err))
}

func TestRejectRequiresReason(t *testing.T) {
	_, _, err := Reject(draftPlan(), "alice", "", time.Now())
	assert.Equal(t, errdefs.KindValidation, errdefs.KindOf(err))
}

func TestTransitionTable(t *testing.T) {
	tests := []struct {
		name string
		from types.PlanState
		to   types.PlanState
		ok   bool
	}{
		{"auto approve from draft", types.PlanStateDraft, types.PlanStateAutoApproved, true},
		{"auto approve from rejected", types.PlanStateRejected, types.PlanStateAutoApproved, false},
		{"apply auto approved", types.PlanStateAutoApproved, types.PlanStateApplied, true},
		{"apply manually approved", types.PlanStateManuallyApproved, types.PlanStateApplied, true},
		{"apply draft", types.PlanStateDraft, types.PlanStateApplied, false},
		{"apply rejected", types.PlanStateRejected, types.PlanStateApplied, false},
		{"cancel draft", types.PlanStateDraft, types.PlanStateCancelled, true},
		{"cancel approved", types.PlanStateAutoApproved, types.PlanStateCancelled, true},
		{"cancel rejected", types.PlanStateRejected, types.PlanStateCancelled, true},
		{"cancel applied", types.PlanStateApplied, types.PlanStateCancelled, false},
		{"same state", types.PlanStateDraft, types.PlanStateDraft, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Transition(tt.from, tt.to)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Equal(t, errdefs.KindConflict, errdefs.KindOf(err))
			}
		})
	}
}

func TestAutoApprovable(t *testing.T) {
	plan := draftPlan()
	assert.True(t, AutoApprovable(plan))

	plan.Summary.BreakingContractViolations = 1
	assert.False(t, AutoApprovable(plan))

	assert.False(t, AutoApprovable(nil))
}
