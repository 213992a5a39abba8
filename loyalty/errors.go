/*
errors.go - Centralized error types for the loyalty ledger

PURPOSE:
  All error kinds in one place. Callers decide between "retry" and
  "stop and inform the user" with the helpers at the bottom of the file.

ERROR CATEGORIES:
  1. Input errors - InvalidAmount, ReasonRequired, InvalidTransactionType
  2. Business rejections - InsufficientBalance, TierIneligible,
     RewardInactiveOrExhausted
  3. Retryable - Unavailable (store timeout/contention), Conflict
     (a concurrent mutation invalidated the caller's assumptions)
  4. Session errors - InvalidTransition, CodeMismatch, CodeExpired

PROPAGATION:
  Every mutating operation is all-or-nothing. Errors are returned, never
  logged or swallowed here; telemetry is the caller's job.

SEE ALSO:
  - ledger.go: Returns these errors
  - redemption.go: Session errors
*/
package loyalty

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidAmount: earn or adjustment with non-positive (or zero) points.
	ErrInvalidAmount = errors.New("loyalty: invalid amount")

	// ErrInsufficientBalance: debit larger than the spendable balance.
	ErrInsufficientBalance = errors.New("loyalty: insufficient balance")

	// ErrTierIneligible: customer's tier is below the reward's minimum tier.
	ErrTierIneligible = errors.New("loyalty: tier ineligible")

	// ErrRewardInactiveOrExhausted: reward disabled or inventory cap reached.
	ErrRewardInactiveOrExhausted = errors.New("loyalty: reward inactive or exhausted")

	// ErrUnavailable: the atomic unit of work did not complete within its bound.
	// Safe to retry with fresh data.
	ErrUnavailable = errors.New("loyalty: ledger unavailable")

	// ErrConflict: a concurrent mutation invalidated the caller's assumptions.
	// Re-fetch and restart from Confirm.
	ErrConflict = errors.New("loyalty: conflict")

	ErrCustomerNotFound       = errors.New("loyalty: customer not found")
	ErrCustomerExists         = errors.New("loyalty: customer already exists")
	ErrRewardNotFound         = errors.New("loyalty: reward not found")
	ErrNotFound               = errors.New("loyalty: not found")
	ErrReasonRequired         = errors.New("loyalty: reason required")
	ErrInvalidTransactionType = errors.New("loyalty: invalid transaction type")
	ErrInvalidReward          = errors.New("loyalty: invalid reward")
	ErrDuplicateCode          = errors.New("loyalty: duplicate redemption code")
	ErrInvalidCursor          = errors.New("loyalty: invalid page cursor")

	// Session errors.
	ErrInvalidTransition = errors.New("loyalty: invalid session transition")
	ErrSessionClosed     = errors.New("loyalty: session closed")
	ErrCodeMismatch      = errors.New("loyalty: redemption code mismatch")
	ErrCodeExpired       = errors.New("loyalty: redemption code expired")
	ErrStaffRejected     = errors.New("loyalty: redemption rejected by staff")

	// ErrAlreadyReversed wraps ErrConflict: a redemption can be reversed once.
	ErrAlreadyReversed = fmt.Errorf("%w: redemption already reversed", ErrConflict)
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientBalanceError provides details about a balance shortage.
type InsufficientBalanceError struct {
	CustomerID CustomerID
	Available  int64
	Requested  int64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("loyalty: insufficient balance: available %d, requested %d, shortfall %d",
		e.Available, e.Requested, e.Shortfall())
}

func (e *InsufficientBalanceError) Shortfall() int64 { return e.Requested - e.Available }

func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }

// TierIneligibleError reports the tier gap for a reward.
type TierIneligibleError struct {
	CustomerID CustomerID
	RewardID   RewardID
	Current    Tier
	Required   Tier
}

func (e *TierIneligibleError) Error() string {
	return fmt.Sprintf("loyalty: tier ineligible: reward %s requires %s, customer is %s",
		e.RewardID, e.Required, e.Current)
}

func (e *TierIneligibleError) Unwrap() error { return ErrTierIneligible }

// RewardUnavailableError says whether the reward was disabled or sold out.
type RewardUnavailableError struct {
	RewardID  RewardID
	Inactive  bool
	Exhausted bool
}

func (e *RewardUnavailableError) Error() string {
	switch {
	case e.Inactive:
		return fmt.Sprintf("loyalty: reward %s is inactive", e.RewardID)
	default:
		return fmt.Sprintf("loyalty: reward %s is exhausted", e.RewardID)
	}
}

func (e *RewardUnavailableError) Unwrap() error { return ErrRewardInactiveOrExhausted }

// ConflictError explains which assumption no longer holds.
type ConflictError struct {
	Field    string
	Expected int64
	Actual   int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("loyalty: conflict: %s changed from %d to %d", e.Field, e.Expected, e.Actual)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the caller may retry with fresh data.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrUnavailable) || errors.Is(err, ErrConflict)
}

// IsUserFacing returns true for rejections the user must be told about
// rather than retried.
func IsUserFacing(err error) bool {
	return errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrTierIneligible) ||
		errors.Is(err, ErrRewardInactiveOrExhausted) ||
		errors.Is(err, ErrInvalidAmount)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrCustomerNotFound) ||
		errors.Is(err, ErrRewardNotFound)
}

// Kind returns a short stable label for metrics and API error codes.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, ErrTierIneligible):
		return "tier_ineligible"
	case errors.Is(err, ErrRewardInactiveOrExhausted):
		return "reward_inactive_or_exhausted"
	case errors.Is(err, ErrUnavailable):
		return "unavailable"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case IsNotFound(err):
		return "not_found"
	case errors.Is(err, ErrCustomerExists):
		return "customer_exists"
	case errors.Is(err, ErrReasonRequired):
		return "reason_required"
	case errors.Is(err, ErrInvalidTransactionType):
		return "invalid_transaction_type"
	case errors.Is(err, ErrInvalidReward):
		return "invalid_reward"
	case errors.Is(err, ErrInvalidCursor):
		return "invalid_cursor"
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrSessionClosed):
		return "invalid_transition"
	case errors.Is(err, ErrCodeMismatch):
		return "code_mismatch"
	case errors.Is(err, ErrCodeExpired):
		return "code_expired"
	case errors.Is(err, ErrStaffRejected):
		return "staff_rejected"
	default:
		return "internal"
	}
}
