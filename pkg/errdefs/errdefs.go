package errdefs

import (
	"errors"
	"fmt"
)

// Kind is the failure taxonomy shared across the control plane. Surfaces
// (transport adapters, CLI wrappers) map kinds onto their own codes; core
// packages only ever deal in kinds.
type Kind string

const (
	KindValidation             Kind = "VALIDATION_ERROR"
	KindUnresolvedRef          Kind = "UNRESOLVED_REF"
	KindParse                  Kind = "PARSE_ERROR"
	KindDagCycle               Kind = "DAG_CYCLE"
	KindContractViolation      Kind = "CONTRACT_VIOLATION"
	KindUnauthorized           Kind = "UNAUTHORIZED"
	KindForbidden              Kind = "FORBIDDEN"
	KindNotFound               Kind = "NOT_FOUND"
	KindConflict               Kind = "CONFLICT"
	KindQuotaExceeded          Kind = "QUOTA_EXCEEDED"
	KindBudgetExceeded         Kind = "BUDGET_EXCEEDED"
	KindRateLimited            Kind = "RATE_LIMITED"
	KindCSRF                   Kind = "CSRF_ERROR"
	KindIntegrity              Kind = "INTEGRITY_ERROR"
	KindCollaboratorDown       Kind = "COLLABORATOR_UNAVAILABLE"
	KindCollaboratorTimeout    Kind = "COLLABORATOR_TIMEOUT"
	KindUnexpected             Kind = "UNEXPECTED_ERROR"
)

// Error is the concrete error carried through the core. RetryAfterSecs is
// only meaningful for KindRateLimited; Detail is optional structured
// context safe to surface to callers.
type Error struct {
	Kind           Kind
	Message        string
	Detail         map[string]any
	RetryAfterSecs int
	cause          error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the wrapped cause for errors.Is/As chains.
func (e *Error) Unwrap() error { return e.cause }

// Is matches two taxonomy errors by kind so sentinel-style comparisons work:
// errors.Is(err, &Error{Kind: KindNotFound}).
func (e *Error) Is(target error) bool {
	var te *Error
	if errors.As(target, &te) {
		return te.Kind == e.Kind
	}
	return false
}

// WithDetail attaches one structured context field and returns the error.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Detail == nil {
		e.Detail = make(map[string]any)
	}
	e.Detail[key] = value
	return e
}

// New builds a taxonomy error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds a taxonomy error that records cause for Unwrap.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), cause: cause}
}

// KindOf extracts the taxonomy kind from any error chain. Unrecognized
// errors report KindUnexpected; nil reports an empty kind.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnexpected
}

// IsKind reports whether err carries the given kind anywhere in its chain.
func IsKind(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// Validationf flags malformed input (shape or range).
func Validationf(format string, args ...any) *Error { return New(KindValidation, format, args...) }

// UnresolvedReff flags a ref() macro naming an unknown model.
func UnresolvedReff(format string, args ...any) *Error {
	return New(KindUnresolvedRef, format, args...)
}

// Parsef flags invalid SQL.
func Parsef(format string, args ...any) *Error { return New(KindParse, format, args...) }

// DagCyclef flags a dependency cycle; callers attach the cycle via Detail.
func DagCyclef(format string, args ...any) *Error { return New(KindDagCycle, format, args...) }

// Unauthorizedf flags missing or invalid credentials.
func Unauthorizedf(format string, args ...any) *Error {
	return New(KindUnauthorized, format, args...)
}

// Forbiddenf flags an authenticated identity lacking a capability.
func Forbiddenf(format string, args ...any) *Error { return New(KindForbidden, format, args...) }

// NotFoundf flags a missing entity.
func NotFoundf(format string, args ...any) *Error { return New(KindNotFound, format, args...) }

// Conflictf flags duplicate approvals, name collisions and the like.
func Conflictf(format string, args ...any) *Error { return New(KindConflict, format, args...) }

// QuotaExceededf flags an exhausted operation quota (TOO_MANY_REQUESTS
// surface code).
func QuotaExceededf(format string, args ...any) *Error {
	return New(KindQuotaExceeded, format, args...)
}

// BudgetExceededf flags an exhausted LLM budget (PAYMENT_REQUIRED surface
// code, distinct from quota).
func BudgetExceededf(format string, args ...any) *Error {
	return New(KindBudgetExceeded, format, args...)
}

// RateLimitedf flags a denied request and carries the seconds after which a
// retry is admitted.
func RateLimitedf(retryAfterSecs int, format string, args ...any) *Error {
	e := New(KindRateLimited, format, args...)
	e.RetryAfterSecs = retryAfterSecs
	return e
}

// CSRFf flags a double-submit token mismatch.
func CSRFf(format string, args ...any) *Error { return New(KindCSRF, format, args...) }

// Integrityf flags an audit-chain mismatch or constraint breach.
func Integrityf(format string, args ...any) *Error { return New(KindIntegrity, format, args...) }

// CollaboratorDown wraps an unreachable warehouse/Git/LLM collaborator.
func CollaboratorDown(cause error, format string, args ...any) *Error {
	return Wrap(KindCollaboratorDown, cause, format, args...)
}

// CollaboratorTimeout wraps a collaborator call that exceeded its deadline.
func CollaboratorTimeout(cause error, format string, args ...any) *Error {
	return Wrap(KindCollaboratorTimeout, cause, format, args...)
}

// Unexpectedf flags a failure outside the taxonomy.
func Unexpectedf(format string, args ...any) *Error { return New(KindUnexpected, format, args...) }
