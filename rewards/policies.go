package rewards

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/warp/loyalty-engine/loyalty"
)

// =============================================================================
// EARN REQUEST BUILDERS
// =============================================================================

// Purchase builds the earn for a paid visit. orderRef, when set, makes the
// earn idempotent per POS order.
func (p EarnPolicy) Purchase(id loyalty.CustomerID, amount decimal.Decimal, orderRef string) (loyalty.EarnRequest, error) {
	pts, err := p.PointsForPurchase(amount)
	if err != nil {
		return loyalty.EarnRequest{}, err
	}
	if pts == 0 {
		return loyalty.EarnRequest{}, ErrPurchaseTooSmall
	}
	req := loyalty.EarnRequest{
		CustomerID:  id,
		Points:      pts,
		Type:        loyalty.TxPurchase,
		AmountSpent: &amount,
		Description: fmt.Sprintf("Visit: %s spent", amount.StringFixed(2)),
	}
	if ref := strings.TrimSpace(orderRef); ref != "" {
		req.IdempotencyKey = "purchase:" + ref
	}
	return req, nil
}

// Signup builds the welcome bonus. ok is false when the bonus is disabled.
func (p EarnPolicy) Signup(id loyalty.CustomerID) (req loyalty.EarnRequest, ok bool) {
	if p.SignupBonus <= 0 {
		return loyalty.EarnRequest{}, false
	}
	return loyalty.EarnRequest{
		CustomerID:     id,
		Points:         p.SignupBonus,
		Type:           loyalty.TxSignup,
		Description:    "Welcome bonus",
		IdempotencyKey: "signup:" + string(id),
	}, true
}

// Referral credits referrer for bringing in referred.
func (p EarnPolicy) Referral(referrer, referred loyalty.CustomerID) (req loyalty.EarnRequest, ok bool) {
	if p.ReferralBonus <= 0 || referrer == "" || referrer == referred {
		return loyalty.EarnRequest{}, false
	}
	return loyalty.EarnRequest{
		CustomerID:     referrer,
		Points:         p.ReferralBonus,
		Type:           loyalty.TxReferral,
		Description:    "Referral: " + string(referred),
		IdempotencyKey: "referral:" + string(referred),
	}, true
}
