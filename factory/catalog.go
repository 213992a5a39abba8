/*
Package factory converts reward definitions into loyalty.Reward values.

PURPOSE:
  Restaurants describe their catalog in a file (or through the admin API)
  instead of code. The factory parses, defaults and validates those
  definitions so that only well-formed rewards reach the store.

FILE FORMAT (YAML; JSON is accepted too):
  rewards:
    - id: free-dessert
      name: Free Dessert
      points_required: 400
      min_tier: bronze
    - id: chefs-table
      name: Chef's Table
      points_required: 2500
      min_tier: platinum
      total_available: 4
      active: false

DEFAULTS:
  - min_tier: bronze
  - active: true
  - total_available: omitted means uncapped

USAGE:
  f := factory.NewCatalogFactory()
  rewards, err := f.LoadFile("catalog.yaml")
  for _, r := range rewards {
      store.PutReward(ctx, r)
  }

SEE ALSO:
  - loyalty/catalog.go: ValidateReward
  - rewards/catalog.go: Built-in default catalog
*/
package factory

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/warp/loyalty-engine/loyalty"
)

// =============================================================================
// SCHEMA TYPES
// =============================================================================

// CatalogFile is the top-level document of a catalog file.
type CatalogFile struct {
	Rewards []RewardJSON `yaml:"rewards" json:"rewards"`
}

// RewardJSON is the external representation of a reward definition.
type RewardJSON struct {
	ID             string `yaml:"id" json:"id"`
	Name           string `yaml:"name" json:"name"`
	Description    string `yaml:"description,omitempty" json:"description,omitempty"`
	PointsRequired int64  `yaml:"points_required" json:"points_required"`
	MinTier        string `yaml:"min_tier,omitempty" json:"min_tier,omitempty"`
	Active         *bool  `yaml:"active,omitempty" json:"active,omitempty"` // default true
	TotalAvailable *int64 `yaml:"total_available,omitempty" json:"total_available,omitempty"`
}

// =============================================================================
// CATALOG FACTORY
// =============================================================================

// CatalogFactory converts reward definitions to loyalty.Reward.
type CatalogFactory struct{}

// NewCatalogFactory creates a new catalog factory.
func NewCatalogFactory() *CatalogFactory {
	return &CatalogFactory{}
}

// LoadFile reads and parses a catalog file.
func (f *CatalogFactory) LoadFile(path string) ([]loyalty.Reward, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}
	rewards, err := f.ParseCatalog(data)
	if err != nil {
		return nil, fmt.Errorf("catalog %s: %w", path, err)
	}
	return rewards, nil
}

// ParseCatalog parses a YAML or JSON catalog document. Every definition is
// checked; all problems are reported together.
func (f *CatalogFactory) ParseCatalog(data []byte) ([]loyalty.Reward, error) {
	var doc CatalogFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	if len(doc.Rewards) == 0 {
		return nil, errors.New("catalog defines no rewards")
	}

	var (
		out  = make([]loyalty.Reward, 0, len(doc.Rewards))
		errs []error
		seen = make(map[loyalty.RewardID]bool)
	)
	for i, rj := range doc.Rewards {
		r, err := f.FromJSON(rj)
		if err != nil {
			errs = append(errs, fmt.Errorf("reward %d (%q): %w", i, rj.ID, err))
			continue
		}
		if seen[r.ID] {
			errs = append(errs, fmt.Errorf("reward %d: duplicate id %q", i, r.ID))
			continue
		}
		seen[r.ID] = true
		out = append(out, r)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	loyalty.SortRewards(out)
	return out, nil
}

// FromJSON converts one definition, applying defaults and validation.
func (f *CatalogFactory) FromJSON(rj RewardJSON) (loyalty.Reward, error) {
	tier, err := loyalty.ParseTier(rj.MinTier)
	if err != nil {
		return loyalty.Reward{}, fmt.Errorf("%w: %v", loyalty.ErrInvalidReward, err)
	}

	r := loyalty.Reward{
		ID:             loyalty.RewardID(strings.TrimSpace(rj.ID)),
		Name:           strings.TrimSpace(rj.Name),
		Description:    rj.Description,
		PointsRequired: rj.PointsRequired,
		MinTier:        tier,
		IsActive:       rj.Active == nil || *rj.Active,
	}
	if rj.TotalAvailable != nil {
		n := *rj.TotalAvailable
		r.TotalAvailable = &n
	}
	if r.Name == "" {
		r.Name = string(r.ID)
	}
	if err := loyalty.ValidateReward(r); err != nil {
		return loyalty.Reward{}, err
	}
	return r, nil
}

// ToJSON is the inverse of FromJSON.
func (f *CatalogFactory) ToJSON(r loyalty.Reward) RewardJSON {
	active := r.IsActive
	rj := RewardJSON{
		ID:             string(r.ID),
		Name:           r.Name,
		Description:    r.Description,
		PointsRequired: r.PointsRequired,
		MinTier:        string(r.MinTier),
		Active:         &active,
	}
	if r.TotalAvailable != nil {
		n := *r.TotalAvailable
		rj.TotalAvailable = &n
	}
	return rj
}
