package engine

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrNoEntitlement is returned when no active entitlement covers the
	// claim date; such a claim can neither be validated nor committed.
	ErrNoEntitlement = errors.New("no active entitlement covers the claim date")

	// ErrAnnualClaimCountExceeded is returned when a monthly entitlement
	// already has the maximum number of committed claims this calendar year.
	ErrAnnualClaimCountExceeded = errors.New("annual claim count exceeded")

	// ErrApproverRequired is returned when override_approved is set without
	// an approver identity.
	ErrApproverRequired = errors.New("override approval requires an approver")

	// ErrOverrideNotPermitted is returned when the external authorization
	// check denies the approver the right to override an expense cap.
	ErrOverrideNotPermitted = errors.New("approver is not permitted to override the expense cap")

	// ErrConcurrencyConflict is returned when the commit retry budget is
	// exhausted. Callers should retry the whole validate-then-submit flow.
	ErrConcurrencyConflict = errors.New("commit aborted after repeated storage conflicts")

	// ErrClaimRejected is the common sentinel behind RejectedError.
	ErrClaimRejected = errors.New("claim rejected")
)

// RejectedError is returned when a commit is refused entirely. It carries the
// computed claimable amount so callers can report exactly how much would have
// been payable.
type RejectedError struct {
	Reason    Reason
	Claimable decimal.Decimal
	cause     error
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("claim rejected (%s): claimable amount is %s", e.Reason, e.Claimable.StringFixed(2))
}

// Unwrap exposes the underlying cause (ErrNoEntitlement or
// ErrAnnualClaimCountExceeded) alongside ErrClaimRejected.
func (e *RejectedError) Unwrap() error { return e.cause }

// Is matches both the specific cause and the generic ErrClaimRejected.
func (e *RejectedError) Is(target error) bool {
	return target == ErrClaimRejected || errors.Is(e.cause, target)
}
