/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the store with realistic
	restaurant data for demos. Each scenario seeds the default catalog,
	enrolls customers and applies earns (and sometimes redemptions) through
	the ledger, so every balance has matching history.

AVAILABLE SCENARIOS:

	new-member:     Bronze member 50 points short of silver
	gold-regular:   Gold regular with exactly 1000 points to spend
	low-balance:    Member with 30 points (adjustment below zero is rejected)
	referral:       Referrer credited when a friend enrolls
	vip-history:    Platinum member with purchases and a past redemption

HOW SCENARIOS WORK:
 1. Reset the store and drop live redemption sessions
 2. Seed the default reward catalog
 3. Enroll customers
 4. Apply earns through the ledger (idempotency keys per scenario)
 5. Optionally redeem through the ledger

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "gold-regular"}

ADDING NEW SCENARIOS:
 1. Add to 'scenarios' slice with ID, name, description
 2. Create loader function: loadXxxScenario(ctx)
 3. Add it to scenarioLoaders

NOTE:

	Scenarios reset the store. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Customer and redemption endpoints
  - rewards/catalog.go: Default catalog
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/warp/loyalty-engine/loyalty"
	"github.com/warp/loyalty-engine/rewards"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "new-member",
		Name:        "New Member",
		Description: "Bronze member with 450 lifetime points, 90% of the way to silver",
	},
	{
		ID:          "gold-regular",
		Name:        "Gold Regular",
		Description: "Gold member with 1000 points: dinner for two fits exactly, chef's table is platinum only",
	},
	{
		ID:          "low-balance",
		Name:        "Low Balance",
		Description: "Member with 30 points; a -50 goodwill correction is rejected",
	},
	{
		ID:          "referral",
		Name:        "Referral",
		Description: "Two members enrolled through a referral, both with welcome bonuses",
	},
	{
		ID:          "vip-history",
		Name:        "VIP History",
		Description: "Platinum member with several visits and a redeemed dessert",
	},
}

func (h *Handler) scenarioLoaders() map[string]func(context.Context) error {
	return map[string]func(context.Context) error{
		"new-member":   h.loadNewMemberScenario,
		"gold-regular": h.loadGoldRegularScenario,
		"low-balance":  h.loadLowBalanceScenario,
		"referral":     h.loadReferralScenario,
		"vip-history":  h.loadVIPHistoryScenario,
	}
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	if current == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, ScenarioDTO{ID: current, Name: current})
}

// LoadScenario resets the store and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	load, ok := h.scenarioLoaders()[req.ScenarioID]
	if !ok {
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	ctx := r.Context()
	if err := h.reset(ctx); err != nil {
		h.writeLedgerError(w, r, "Failed to reset store", err)
		return
	}
	if err := h.seedCatalog(ctx); err != nil {
		h.writeLedgerError(w, r, "Failed to seed catalog", err)
		return
	}
	if err := load(ctx); err != nil {
		h.writeLedgerError(w, r, fmt.Sprintf("Failed to load scenario %s", req.ScenarioID), err)
		return
	}

	h.currentScenario = req.ScenarioID
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// ResetDatabase clears the store and reseeds the default catalog.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ctx := r.Context()
	if err := h.reset(ctx); err != nil {
		h.writeLedgerError(w, r, "Failed to reset store", err)
		return
	}
	if err := h.seedCatalog(ctx); err != nil {
		h.writeLedgerError(w, r, "Failed to seed catalog", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func (h *Handler) reset(ctx context.Context) error {
	if err := h.Store.Reset(ctx); err != nil {
		return err
	}
	h.Service.Sessions().Clear()
	h.currentScenario = ""
	return nil
}

func (h *Handler) seedCatalog(ctx context.Context) error {
	for _, rw := range rewards.DefaultCatalog() {
		if err := h.Store.PutReward(ctx, rw); err != nil {
			return fmt.Errorf("seed reward %s: %w", rw.ID, err)
		}
	}
	return nil
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

// 100 welcome + 350 from a 35.00 visit = 450 lifetime.
func (h *Handler) loadNewMemberScenario(ctx context.Context) error {
	const id = "cust-alice"
	if err := h.enroll(ctx, id, "Alice Martin", "alice@example.com", ""); err != nil {
		return err
	}
	return h.purchase(ctx, id, "35.00", "new-member-1")
}

// 100 welcome + 900 from a 90.00 visit = 1000, exactly the gold threshold.
func (h *Handler) loadGoldRegularScenario(ctx context.Context) error {
	const id = "cust-bruno"
	if err := h.enroll(ctx, id, "Bruno Costa", "bruno@example.com", ""); err != nil {
		return err
	}
	return h.purchase(ctx, id, "90.00", "gold-regular-1")
}

// No welcome bonus: a single 30 point birthday credit.
func (h *Handler) loadLowBalanceScenario(ctx context.Context) error {
	const id = "cust-chloe"
	if err := h.Store.CreateCustomer(ctx, loyalty.Customer{ID: id, Name: "Chloe Dubois", Email: "chloe@example.com"}); err != nil {
		return err
	}
	return h.earn(ctx, loyalty.EarnRequest{
		CustomerID:     id,
		Points:         30,
		Type:           loyalty.TxBonus,
		Description:    "Birthday bonus",
		IdempotencyKey: "low-balance:birthday",
	})
}

func (h *Handler) loadReferralScenario(ctx context.Context) error {
	if err := h.enroll(ctx, "cust-dmitri", "Dmitri Volkov", "dmitri@example.com", ""); err != nil {
		return err
	}
	if err := h.purchase(ctx, "cust-dmitri", "42.50", "referral-1"); err != nil {
		return err
	}
	return h.enroll(ctx, "cust-elena", "Elena Rossi", "elena@example.com", "cust-dmitri")
}

// 100 welcome + 2755 over three visits = 2855 lifetime, then a 400 point
// dessert leaves 2455 to spend.
func (h *Handler) loadVIPHistoryScenario(ctx context.Context) error {
	const id = "cust-farah"
	if err := h.enroll(ctx, id, "Farah Haddad", "farah@example.com", ""); err != nil {
		return err
	}
	for i, amount := range []string{"120.00", "95.50", "60.00"} {
		if err := h.purchase(ctx, id, amount, fmt.Sprintf("vip-history-%d", i+1)); err != nil {
			return err
		}
	}
	_, err := h.Ledger.TryRedeem(ctx, loyalty.RedeemRequest{
		CustomerID: id,
		RewardID:   rewards.RewardDessert,
		TicketID:   "vip-history-dessert",
	})
	return err
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) enroll(ctx context.Context, id loyalty.CustomerID, name, email string, referrer loyalty.CustomerID) error {
	if err := h.Store.CreateCustomer(ctx, loyalty.Customer{ID: id, Name: name, Email: email}); err != nil {
		return err
	}
	return h.applyEnrollmentBonuses(ctx, id, referrer)
}

func (h *Handler) purchase(ctx context.Context, id loyalty.CustomerID, amount, orderRef string) error {
	spent, err := decimal.NewFromString(amount)
	if err != nil {
		return err
	}
	req, err := h.Earn.Purchase(id, spent, orderRef)
	if err != nil {
		return err
	}
	return h.earn(ctx, req)
}
