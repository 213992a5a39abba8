/*
Package rewards provides the restaurant side of the loyalty program: how
guests earn points and which rewards a restaurant offers.

PURPOSE:
  The loyalty ledger only knows signed point deltas. This package turns
  restaurant events into those deltas:
  - Paid visits (points per currency unit spent, rounded down)
  - Welcome bonus on enrollment
  - Referral bonus for the member who brought a new guest

EARN RULES:
  purchase: floor(amount * PointsPerUnit), VisitCount and TotalSpent grow
  signup:   flat SignupBonus, once per customer
  referral: flat ReferralBonus to the referrer, once per referred customer

  Each rule carries an idempotency key, so a replayed POS webhook or a
  double-clicked enrollment never earns twice.

EXAMPLE FLOW:
  1. Guest enrolls: +100 signup
  2. Guest pays $42.50 at 10 points/$: +425 purchase
  3. Guest redeems a 300-point dessert: -300 redemption
  4. Balance: 225, lifetime 525 (silver)

SEE ALSO:
  - policies.go: EarnRequest builders
  - catalog.go: Default restaurant reward catalog
  - loyalty/ledger.go: Applies the requests
*/
package rewards

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/warp/loyalty-engine/loyalty"
)

// =============================================================================
// EARN POLICY
// =============================================================================

// EarnPolicy holds a restaurant's earn rates.
type EarnPolicy struct {
	PointsPerUnit decimal.Decimal // points per currency unit spent
	SignupBonus   int64           // 0 disables the welcome bonus
	ReferralBonus int64           // 0 disables referral credit
}

// Defaults used when the configuration leaves a rate unset.
var (
	DefaultPointsPerUnit = decimal.NewFromInt(10)
)

const (
	DefaultSignupBonus   = 100
	DefaultReferralBonus = 250
)

func DefaultEarnPolicy() EarnPolicy {
	return EarnPolicy{
		PointsPerUnit: DefaultPointsPerUnit,
		SignupBonus:   DefaultSignupBonus,
		ReferralBonus: DefaultReferralBonus,
	}
}

// ErrPurchaseTooSmall is returned when a purchase rounds down to zero points.
var ErrPurchaseTooSmall = fmt.Errorf("%w: purchase earns no points", loyalty.ErrInvalidAmount)

// Validate checks the policy is usable.
func (p EarnPolicy) Validate() error {
	var errs []error
	if !p.PointsPerUnit.IsPositive() {
		errs = append(errs, fmt.Errorf("points per unit must be positive, got %s", p.PointsPerUnit))
	}
	if p.SignupBonus < 0 {
		errs = append(errs, fmt.Errorf("signup bonus must not be negative, got %d", p.SignupBonus))
	}
	if p.ReferralBonus < 0 {
		errs = append(errs, fmt.Errorf("referral bonus must not be negative, got %d", p.ReferralBonus))
	}
	return errors.Join(errs...)
}

// PointsForPurchase converts an amount spent into whole points, rounding down.
func (p EarnPolicy) PointsForPurchase(amount decimal.Decimal) (int64, error) {
	if amount.IsNegative() {
		return 0, fmt.Errorf("%w: amount spent %s is negative", loyalty.ErrInvalidAmount, amount)
	}
	pts := amount.Mul(p.PointsPerUnit).Floor()
	if !pts.IsInteger() || pts.GreaterThan(decimal.NewFromInt(1<<53)) {
		return 0, fmt.Errorf("%w: amount spent %s is out of range", loyalty.ErrInvalidAmount, amount)
	}
	return pts.IntPart(), nil
}
