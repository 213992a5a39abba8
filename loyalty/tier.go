package loyalty

import (
	"fmt"
	"strings"
)

// =============================================================================
// TIER
// =============================================================================

type Tier string

const (
	TierBronze   Tier = "bronze"
	TierSilver   Tier = "silver"
	TierGold     Tier = "gold"
	TierPlatinum Tier = "platinum"
)

var tierOrder = []Tier{TierBronze, TierSilver, TierGold, TierPlatinum}

// Ordinal returns the tier's rank, bronze = 0. Unknown tiers rank -1.
func (t Tier) Ordinal() int {
	for i, o := range tierOrder {
		if o == t {
			return i
		}
	}
	return -1
}

// AtLeast reports whether t ranks at or above other.
func (t Tier) AtLeast(other Tier) bool { return t.Ordinal() >= other.Ordinal() }

func (t Tier) Valid() bool { return t.Ordinal() >= 0 }

// ParseTier accepts a tier name, case-insensitively. Empty means bronze.
func ParseTier(s string) (Tier, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return TierBronze, nil
	}
	t := Tier(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown tier %q", s)
	}
	return t, nil
}

// Tiers returns all tiers in ascending order.
func Tiers() []Tier { return append([]Tier(nil), tierOrder...) }

// =============================================================================
// TIER POLICY - Pure mapping from lifetime points to tier and progress
// =============================================================================

// TierInfo is the derived membership status for a lifetime point total.
type TierInfo struct {
	Tier            Tier
	LifetimePoints  int64
	ProgressPercent int
	PointsToNext    int64
	NextTier        *Tier // nil at the top tier
}

// TierPolicy holds the inclusive lower bound of every tier above bronze.
type TierPolicy struct {
	thresholds [4]int64 // indexed by ordinal; thresholds[0] is always 0
}

const (
	DefaultSilverThreshold   = 500
	DefaultGoldThreshold     = 1000
	DefaultPlatinumThreshold = 2000
)

// DefaultTierPolicy: bronze [0,500), silver [500,1000), gold [1000,2000),
// platinum [2000,inf).
func DefaultTierPolicy() TierPolicy {
	return TierPolicy{thresholds: [4]int64{0, DefaultSilverThreshold, DefaultGoldThreshold, DefaultPlatinumThreshold}}
}

// NewTierPolicy builds a policy from custom thresholds, which must be
// positive and strictly increasing.
func NewTierPolicy(silver, gold, platinum int64) (TierPolicy, error) {
	if silver <= 0 || gold <= silver || platinum <= gold {
		return TierPolicy{}, fmt.Errorf("tier thresholds must be positive and strictly increasing: silver=%d gold=%d platinum=%d",
			silver, gold, platinum)
	}
	return TierPolicy{thresholds: [4]int64{0, silver, gold, platinum}}, nil
}

// Threshold returns the lifetime points needed to enter tier t.
func (p TierPolicy) Threshold(t Tier) int64 {
	p = p.orDefault()
	if o := t.Ordinal(); o >= 0 {
		return p.thresholds[o]
	}
	return 0
}

// TierFor maps lifetime points to a tier and progress toward the next one.
// Negative input is a caller bug and panics.
func (p TierPolicy) TierFor(lifetimePoints int64) TierInfo {
	if lifetimePoints < 0 {
		panic(fmt.Sprintf("loyalty: negative lifetime points %d", lifetimePoints))
	}
	p = p.orDefault()

	idx := 0
	for i := len(p.thresholds) - 1; i >= 0; i-- {
		if lifetimePoints >= p.thresholds[i] {
			idx = i
			break
		}
	}

	info := TierInfo{Tier: tierOrder[idx], LifetimePoints: lifetimePoints}
	if idx == len(tierOrder)-1 {
		info.ProgressPercent = 100
		return info
	}

	next := tierOrder[idx+1]
	nextThreshold := p.thresholds[idx+1]
	info.NextTier = &next
	info.ProgressPercent = int(min(100, 100*lifetimePoints/nextThreshold))
	info.PointsToNext = max(0, nextThreshold-lifetimePoints)
	return info
}

// orDefault lets the zero TierPolicy behave as the default policy.
func (p TierPolicy) orDefault() TierPolicy {
	if p.thresholds[1] == 0 {
		return DefaultTierPolicy()
	}
	return p
}
