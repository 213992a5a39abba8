package rewards

import "github.com/warp/loyalty-engine/loyalty"

// =============================================================================
// DEFAULT RESTAURANT CATALOG
// =============================================================================

// Reward ids of the default catalog.
const (
	RewardFreeDrink     loyalty.RewardID = "free-drink"
	RewardAppetizer     loyalty.RewardID = "free-appetizer"
	RewardDessert       loyalty.RewardID = "free-dessert"
	RewardEntree        loyalty.RewardID = "free-entree"
	RewardDinnerForTwo  loyalty.RewardID = "dinner-for-two"
	RewardChefsTable    loyalty.RewardID = "chefs-table"
	RewardCookingLesson loyalty.RewardID = "cooking-class"
)

// DefaultCatalog is the catalog seeded when no catalog file is configured.
// Each call returns fresh values.
func DefaultCatalog() []loyalty.Reward {
	capped := func(n int64) *int64 { return &n }
	return []loyalty.Reward{
		{ID: RewardFreeDrink, Name: "Free Drink", Description: "Any soft drink, coffee or tea",
			PointsRequired: 150, MinTier: loyalty.TierBronze, IsActive: true},
		{ID: RewardAppetizer, Name: "Free Appetizer", Description: "Any starter from the menu",
			PointsRequired: 300, MinTier: loyalty.TierBronze, IsActive: true},
		{ID: RewardDessert, Name: "Free Dessert", Description: "Any dessert from the menu",
			PointsRequired: 400, MinTier: loyalty.TierBronze, IsActive: true},
		{ID: RewardEntree, Name: "Free Entree", Description: "Any main course",
			PointsRequired: 800, MinTier: loyalty.TierSilver, IsActive: true},
		{ID: RewardDinnerForTwo, Name: "Dinner for Two", Description: "Three courses for two guests",
			PointsRequired: 1000, MinTier: loyalty.TierSilver, IsActive: true},
		{ID: RewardCookingLesson, Name: "Cooking Class", Description: "Evening class with our sous chef",
			PointsRequired: 1500, MinTier: loyalty.TierGold, IsActive: true, TotalAvailable: capped(20)},
		{ID: RewardChefsTable, Name: "Chef's Table", Description: "Tasting menu at the chef's table",
			PointsRequired: 2500, MinTier: loyalty.TierPlatinum, IsActive: true, TotalAvailable: capped(4)},
	}
}
