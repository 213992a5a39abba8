package loyalty

import (
	"context"
	"sort"
)

// RewardCatalog supplies reward definitions. The ledger only reads from it.
type RewardCatalog interface {
	// ActiveRewardsFor returns active rewards whose MinTier is at or below tier.
	ActiveRewardsFor(ctx context.Context, tier Tier) ([]Reward, error)
}

// RewardLister is the slice of LedgerStore a StoreCatalog needs.
type RewardLister interface {
	ListRewards(ctx context.Context) ([]Reward, error)
}

// StoreCatalog serves the catalog straight from the ledger store.
type StoreCatalog struct {
	Rewards RewardLister
}

func NewStoreCatalog(l RewardLister) *StoreCatalog {
	return &StoreCatalog{Rewards: l}
}

func (c *StoreCatalog) ActiveRewardsFor(ctx context.Context, tier Tier) ([]Reward, error) {
	all, err := c.Rewards.ListRewards(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Reward, 0, len(all))
	for _, r := range all {
		if r.IsActive && tier.AtLeast(r.MinTier) {
			out = append(out, r)
		}
	}
	SortRewards(out)
	return out, nil
}

// SortRewards orders by points required, then id.
func SortRewards(rs []Reward) {
	sort.SliceStable(rs, func(i, j int) bool {
		if rs[i].PointsRequired != rs[j].PointsRequired {
			return rs[i].PointsRequired < rs[j].PointsRequired
		}
		return rs[i].ID < rs[j].ID
	})
}

// ValidateReward checks a reward definition before it is stored.
func ValidateReward(r Reward) error {
	switch {
	case r.ID == "":
		return errInvalidReward("id is required")
	case r.PointsRequired <= 0:
		return errInvalidReward("points required must be positive")
	case !r.MinTier.Valid():
		return errInvalidReward("unknown min tier " + string(r.MinTier))
	case r.TotalAvailable != nil && *r.TotalAvailable < 0:
		return errInvalidReward("total available must not be negative")
	}
	return nil
}

func errInvalidReward(msg string) error {
	return &invalidRewardError{msg: msg}
}

type invalidRewardError struct{ msg string }

func (e *invalidRewardError) Error() string { return "loyalty: invalid reward: " + e.msg }
func (e *invalidRewardError) Unwrap() error { return ErrInvalidReward }
