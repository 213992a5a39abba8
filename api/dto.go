/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

MONEY AND POINTS:
  Points are JSON integers. Money (amount_spent, total_spent) travels as a
  decimal string so no float rounding happens on the way in or out.

VALIDATION:
  Validation is done in handlers and the ledger, not in DTOs. DTOs are pure
  data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/catalog.go: RewardJSON type
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/loyalty-engine/loyalty"
)

// =============================================================================
// CUSTOMERS
// =============================================================================

type CustomerDTO struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Email          string          `json:"email,omitempty"`
	TotalPoints    int64           `json:"total_points"`
	LifetimePoints int64           `json:"lifetime_points"`
	VisitCount     int64           `json:"visit_count"`
	TotalSpent     decimal.Decimal `json:"total_spent"`
	Tier           TierInfoDTO     `json:"tier"`
	CreatedAt      string          `json:"created_at,omitempty"`
}

// CreateCustomerRequest enrolls a customer. ReferredBy credits the referrer.
type CreateCustomerRequest struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Email      string `json:"email"`
	ReferredBy string `json:"referred_by,omitempty"`
}

type TierInfoDTO struct {
	Tier            string  `json:"tier"`
	LifetimePoints  int64   `json:"lifetime_points"`
	ProgressPercent int     `json:"progress_percent"`
	PointsToNext    int64   `json:"points_to_next"`
	NextTier        *string `json:"next_tier"`
}

func toTierInfoDTO(t loyalty.TierInfo) TierInfoDTO {
	dto := TierInfoDTO{
		Tier:            string(t.Tier),
		LifetimePoints:  t.LifetimePoints,
		ProgressPercent: t.ProgressPercent,
		PointsToNext:    t.PointsToNext,
	}
	if t.NextTier != nil {
		next := string(*t.NextTier)
		dto.NextTier = &next
	}
	return dto
}

func toCustomerDTO(c loyalty.Customer, tier loyalty.TierInfo) CustomerDTO {
	return CustomerDTO{
		ID:             string(c.ID),
		Name:           c.Name,
		Email:          c.Email,
		TotalPoints:    c.TotalPoints,
		LifetimePoints: c.LifetimePoints,
		VisitCount:     c.VisitCount,
		TotalSpent:     c.TotalSpent,
		Tier:           toTierInfoDTO(tier),
		CreatedAt:      formatTime(c.CreatedAt),
	}
}

// =============================================================================
// REWARDS
// =============================================================================

type RewardDTO struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Description    string `json:"description,omitempty"`
	PointsRequired int64  `json:"points_required"`
	MinTier        string `json:"min_tier"`
	IsActive       bool   `json:"is_active"`
	TotalAvailable *int64 `json:"total_available,omitempty"`
	TotalRedeemed  int64  `json:"total_redeemed"`
	Remaining      *int64 `json:"remaining,omitempty"`

	// Set only on per-customer listings.
	Affordable  *bool  `json:"affordable,omitempty"`
	PointsShort *int64 `json:"points_short,omitempty"`
}

func toRewardDTO(r loyalty.Reward) RewardDTO {
	dto := RewardDTO{
		ID:             string(r.ID),
		Name:           r.Name,
		Description:    r.Description,
		PointsRequired: r.PointsRequired,
		MinTier:        string(r.MinTier),
		IsActive:       r.IsActive,
		TotalRedeemed:  r.TotalRedeemed,
	}
	if r.Capped() {
		total, left := *r.TotalAvailable, r.Remaining()
		dto.TotalAvailable = &total
		dto.Remaining = &left
	}
	return dto
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

type TransactionDTO struct {
	ID             string           `json:"id"`
	Type           string           `json:"type"`
	Points         int64            `json:"points"`
	BalanceAfter   int64            `json:"balance_after"`
	AmountSpent    *decimal.Decimal `json:"amount_spent,omitempty"`
	Description    string           `json:"description,omitempty"`
	RewardID       string           `json:"reward_id,omitempty"`
	Code           string           `json:"code,omitempty"`
	ReferenceID    string           `json:"reference_id,omitempty"`
	Administrative bool             `json:"administrative,omitempty"`
	Actor          string           `json:"actor,omitempty"`
	CreatedAt      string           `json:"created_at"`
}

type TransactionPageDTO struct {
	Transactions []TransactionDTO `json:"transactions"`
	NextCursor   string           `json:"next_cursor,omitempty"`
}

func toTransactionDTO(tx loyalty.Transaction) TransactionDTO {
	return TransactionDTO{
		ID:             string(tx.ID),
		Type:           string(tx.Type),
		Points:         tx.Points,
		BalanceAfter:   tx.BalanceAfter,
		AmountSpent:    tx.AmountSpent,
		Description:    tx.Description,
		RewardID:       string(tx.RewardID),
		Code:           tx.Code,
		ReferenceID:    string(tx.ReferenceID),
		Administrative: tx.Administrative,
		Actor:          tx.Actor,
		CreatedAt:      formatTime(tx.CreatedAt),
	}
}

// PurchaseRequest records a paid visit. AmountSpent is a decimal string.
type PurchaseRequest struct {
	AmountSpent decimal.Decimal `json:"amount_spent"`
	OrderRef    string          `json:"order_ref,omitempty"`
}

// EarnRequestDTO credits explicit points (bonus, referral, signup).
type EarnRequestDTO struct {
	Points         int64  `json:"points"`
	Type           string `json:"type"`
	Description    string `json:"description,omitempty"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

type EarnResponse struct {
	Transaction TransactionDTO `json:"transaction"`
	Customer    CustomerDTO    `json:"customer"`
	Replayed    bool           `json:"replayed,omitempty"`
}

type AdjustmentRequestDTO struct {
	CustomerID string `json:"customer_id"`
	Delta      int64  `json:"delta"`
	Reason     string `json:"reason"`
	Actor      string `json:"actor,omitempty"`
}

type ReverseRequestDTO struct {
	Reason string `json:"reason"`
	Actor  string `json:"actor,omitempty"`
}

type AuditDTO struct {
	CustomerID     string `json:"customer_id"`
	Balance        int64  `json:"balance"`
	LedgerSum      int64  `json:"ledger_sum"`
	LifetimePoints int64  `json:"lifetime_points"`
	EarnedSum      int64  `json:"earned_sum"`
	Entries        int    `json:"entries"`
	Consistent     bool   `json:"consistent"`
}

// =============================================================================
// REDEMPTION SESSIONS
// =============================================================================

type BeginRedemptionRequest struct {
	RewardID string `json:"reward_id"`
}

// SessionDTO is the UI projection of a RedemptionSession.
type SessionDTO struct {
	ID          string     `json:"id"`
	CustomerID  string     `json:"customer_id"`
	Reward      RewardDTO  `json:"reward"`
	State       string     `json:"state"`
	Closed      bool       `json:"closed,omitempty"`
	Balance     int64      `json:"balance"`
	Ticket      *TicketDTO `json:"ticket,omitempty"`
	ExpiresAt   string     `json:"expires_at,omitempty"`
	FailureKind string     `json:"failure_kind,omitempty"`
	Failure     string     `json:"failure,omitempty"`
	UpdatedAt   string     `json:"updated_at"`
}

type TicketDTO struct {
	TicketID      string `json:"ticket_id"`
	TransactionID string `json:"transaction_id"`
	Code          string `json:"code"`
	PointsSpent   int64  `json:"points_spent"`
	NewBalance    int64  `json:"new_balance"`
	IssuedAt      string `json:"issued_at"`
	Replayed      bool   `json:"replayed,omitempty"`
}

func toTicketDTO(t loyalty.RedemptionTicket) TicketDTO {
	return TicketDTO{
		TicketID:      string(t.TicketID),
		TransactionID: string(t.TransactionID),
		Code:          t.Code,
		PointsSpent:   t.PointsSpent,
		NewBalance:    t.NewBalance,
		IssuedAt:      formatTime(t.IssuedAt),
		Replayed:      t.Replayed,
	}
}

func toSessionDTO(v loyalty.SessionView) SessionDTO {
	dto := SessionDTO{
		ID:         string(v.ID),
		CustomerID: string(v.CustomerID),
		Reward:     toRewardDTO(v.Reward),
		State:      string(v.State),
		Closed:     v.Closed,
		Balance:    v.Balance,
		UpdatedAt:  formatTime(v.UpdatedAt),
	}
	if v.Ticket != nil {
		t := toTicketDTO(*v.Ticket)
		dto.Ticket = &t
	}
	if v.ExpiresAt != nil {
		dto.ExpiresAt = formatTime(*v.ExpiresAt)
	}
	if v.Failure != nil {
		dto.FailureKind = loyalty.Kind(v.Failure)
		dto.Failure = v.Failure.Error()
	}
	return dto
}

// StaffCodeRequest is what staff type in at the counter.
type StaffCodeRequest struct {
	Code   string `json:"code"`
	Reason string `json:"reason,omitempty"`
}

// =============================================================================
// SCENARIOS & ERRORS
// =============================================================================

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Kind    string `json:"kind,omitempty"`
	Details string `json:"details,omitempty"`
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
