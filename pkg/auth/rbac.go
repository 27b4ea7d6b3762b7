package auth

import (
	"sort"

	"github.com/ironlayer/ironlayer/pkg/errdefs"
	"github.com/ironlayer/ironlayer/pkg/types"
)

// Permission names a capability an identity may hold. Permissions map
// one-to-one onto engine operations; transport surfaces check them before
// dispatch.
type Permission string

const (
	PermModelRead   Permission = "model.read"
	PermPlanRead    Permission = "plan.read"
	PermRunRead     Permission = "run.read"
	PermCheckRead   Permission = "check.read"

	PermPlanGenerate Permission = "plan.generate"
	PermPlanApply    Permission = "plan.apply"
	PermCheckRun     Permission = "check.run"
	PermAdvisoryRun  Permission = "advisory.run"

	PermModelManage    Permission = "model.manage"
	PermPlanApprove    Permission = "plan.approve"
	PermEnvManage      Permission = "environment.manage"
	PermScheduleManage Permission = "schedule.manage"
	PermWebhookManage  Permission = "webhook.manage"

	PermTenantManage Permission = "tenant.manage"
	PermUserManage   Permission = "user.manage"
	PermAPIKeyManage Permission = "apikey.manage"
	PermAuditRead    Permission = "audit.read"
	PermUsageRead    Permission = "usage.read"
)

// roleRank orders the lattice VIEWER < OPERATOR < ENGINEER < ADMIN.
var roleRank = map[types.Role]int{
	types.RoleViewer:   0,
	types.RoleOperator: 1,
	types.RoleEngineer: 2,
	types.RoleAdmin:    3,
}

// minRank is the lowest role that holds each permission. Higher roles
// inherit everything below them.
var minRank = map[Permission]int{
	PermModelRead: 0,
	PermPlanRead:  0,
	PermRunRead:   0,
	PermCheckRead: 0,

	PermPlanGenerate: 1,
	PermPlanApply:    1,
	PermCheckRun:     1,
	PermAdvisoryRun:  1,

	PermModelManage:    2,
	PermPlanApprove:    2,
	PermEnvManage:      2,
	PermScheduleManage: 2,
	PermWebhookManage:  2,

	PermTenantManage: 3,
	PermUserManage:   3,
	PermAPIKeyManage: 3,
	PermAuditRead:    3,
	PermUsageRead:    3,
}

// serviceDenied lists permissions service principals never hold regardless
// of role. Plan approval and people management require a human identity.
var serviceDenied = map[Permission]bool{
	PermPlanApprove:  true,
	PermUserManage:   true,
	PermAPIKeyManage: true,
	PermTenantManage: true,
}

// Can reports whether an identity of the given kind and role holds perm.
func Can(kind types.IdentityKind, role types.Role, perm Permission) bool {
	need, known := minRank[perm]
	if !known {
		return false
	}
	rank, known := roleRank[role]
	if !known {
		return false
	}
	if kind == types.IdentityService && serviceDenied[perm] {
		return false
	}
	return rank >= need
}

// Require is the checked form of Can for engine call sites.
func Require(id *Identity, perm Permission) error {
	if id == nil {
		return errdefs.Unauthorizedf("no identity")
	}
	if !Can(id.Kind, id.Role, perm) {
		return errdefs.Forbiddenf("role %s (%s) lacks %s", id.Role, id.Kind, perm)
	}
	return nil
}

// Permissions enumerates every capability the identity holds, for the
// whoami surface.
func Permissions(kind types.IdentityKind, role types.Role) []Permission {
	var out []Permission
	for perm := range minRank {
		if Can(kind, role, perm) {
			out = append(out, perm)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
