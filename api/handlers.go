/*
handlers.go - HTTP API handlers for the loyalty service

PURPOSE:
  Exposes the loyalty ledger via REST API. This layer is the "caller" the
  ledger core talks about: it owns redemption sessions, logs failures and
  counts outcomes. Handlers parse requests and delegate to loyalty.Service
  and loyalty.PointsLedger.

ENDPOINTS:
  Customers:
    POST   /api/customers                      Enroll (signup + referral bonus)
    GET    /api/customers/{id}                 Customer with tier info
    GET    /api/customers/{id}/tier            Tier progress
    GET    /api/customers/{id}/rewards         Rewards available at the tier
    GET    /api/customers/{id}/transactions    History, newest first (cursor)
    GET    /api/customers/{id}/audit           Balance vs ledger replay
    POST   /api/customers/{id}/purchases       Paid visit
    POST   /api/customers/{id}/earn            Explicit earn
    POST   /api/customers/{id}/redemptions     Begin a redemption session

  Redemptions:
    GET    /api/redemptions/{id}               Session projection
    POST   /api/redemptions/{id}/confirm       Debit (idempotent per session)
    POST   /api/redemptions/{id}/cancel        Discard before debit
    POST   /api/redemptions/{id}/recover       Rebuild from the ledger
    POST   /api/staff/redemptions/verify       Staff confirms a code
    POST   /api/staff/redemptions/reject       Staff voids a code

  Admin:
    POST   /api/admin/rewards                  Upsert a reward definition
    POST   /api/admin/adjustments              Administrative delta
    POST   /api/admin/redemptions/{ticket}/reverse  Refund a redemption

ERROR HANDLING:
  Errors are returned as JSON with a stable "kind" and an HTTP status:
  - 400: Validation errors, invalid input
  - 404: Customer, reward, session or ticket not found
  - 409: Conflict, invalid session transition, duplicate enrollment
  - 422: Business rejection (balance, tier, inventory, code)
  - 503: Ledger unavailable, with Retry-After
  - 500: Internal errors

SECURITY NOTE:
  No authentication or authorization. Staff and admin routes must sit
  behind the restaurant's gateway.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/warp/loyalty-engine/factory"
	"github.com/warp/loyalty-engine/loyalty"
	"github.com/warp/loyalty-engine/observability"
	"github.com/warp/loyalty-engine/rewards"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Deps are the handler's collaborators. Metrics and Logger may be nil.
type Deps struct {
	Store   loyalty.Store
	Service *loyalty.Service
	Earn    rewards.EarnPolicy
	Metrics *observability.LedgerMetrics
	Logger  *slog.Logger
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store   loyalty.Store
	Service *loyalty.Service
	Ledger  *loyalty.PointsLedger
	Earn    rewards.EarnPolicy
	Catalog *factory.CatalogFactory
	Metrics *observability.LedgerMetrics
	Logger  *slog.Logger

	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a new handler.
func NewHandler(d Deps) *Handler {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		Store:   d.Store,
		Service: d.Service,
		Ledger:  d.Service.Ledger(),
		Earn:    d.Earn,
		Catalog: factory.NewCatalogFactory(),
		Metrics: d.Metrics,
		Logger:  logger,
	}
}

// =============================================================================
// CUSTOMER HANDLERS
// =============================================================================

// CreateCustomer enrolls a customer and applies the welcome and referral bonuses.
// Repeating the request for an enrolled customer with the same name and email
// returns 200 and applies any bonus still missing. A different enrollment
// under a taken id is a 409.
func (h *Handler) CreateCustomer(w http.ResponseWriter, r *http.Request) {
	var req CreateCustomerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "Name is required", nil)
		return
	}
	id := loyalty.CustomerID(strings.TrimSpace(req.ID))
	if id == "" {
		id = loyalty.CustomerID(uuid.NewString())
	}

	ctx := r.Context()
	referrer := loyalty.CustomerID(strings.TrimSpace(req.ReferredBy))
	if referrer != "" {
		if _, err := h.Ledger.Customer(ctx, referrer); err != nil {
			h.writeLedgerError(w, r, "Unknown referrer", err)
			return
		}
	}

	status := http.StatusCreated
	if err := h.Store.CreateCustomer(ctx, loyalty.Customer{ID: id, Name: req.Name, Email: req.Email}); err != nil {
		if !errors.Is(err, loyalty.ErrCustomerExists) || !h.sameEnrollment(ctx, id, req) {
			h.writeLedgerError(w, r, "Failed to create customer", err)
			return
		}
		// A retried enrollment finishes the bonuses an earlier attempt missed.
		// Both are keyed, so nothing is credited twice.
		status = http.StatusOK
	}
	if err := h.applyEnrollmentBonuses(ctx, id, referrer); err != nil {
		h.writeLedgerError(w, r, "Customer created but bonus failed, retry the request", err)
		return
	}

	c, tier, err := h.customerWithTier(ctx, id)
	if err != nil {
		h.writeLedgerError(w, r, "Failed to load customer", err)
		return
	}
	writeJSON(w, status, toCustomerDTO(c, tier))
}

// sameEnrollment reports whether an existing customer was enrolled with the
// details in req.
func (h *Handler) sameEnrollment(ctx context.Context, id loyalty.CustomerID, req CreateCustomerRequest) bool {
	c, err := h.Ledger.Customer(ctx, id)
	return err == nil && c.Name == req.Name && c.Email == req.Email
}

func (h *Handler) applyEnrollmentBonuses(ctx context.Context, id, referrer loyalty.CustomerID) error {
	if req, ok := h.Earn.Signup(id); ok {
		if err := h.earn(ctx, req); err != nil {
			return err
		}
	}
	if req, ok := h.Earn.Referral(referrer, id); ok {
		if err := h.earn(ctx, req); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) earn(ctx context.Context, req loyalty.EarnRequest) error {
	res, err := h.Ledger.ApplyEarn(ctx, req)
	if err != nil {
		return err
	}
	if !res.Replayed {
		h.Metrics.ObserveEarn(string(req.Type), req.Points)
	}
	return nil
}

func (h *Handler) GetCustomer(w http.ResponseWriter, r *http.Request) {
	c, tier, err := h.customerWithTier(r.Context(), customerParam(r))
	if err != nil {
		h.writeLedgerError(w, r, "Customer not found", err)
		return
	}
	writeJSON(w, http.StatusOK, toCustomerDTO(c, tier))
}

func (h *Handler) GetTier(w http.ResponseWriter, r *http.Request) {
	info, err := h.Service.GetTierInfo(r.Context(), customerParam(r))
	if err != nil {
		h.writeLedgerError(w, r, "Failed to get tier", err)
		return
	}
	writeJSON(w, http.StatusOK, toTierInfoDTO(info))
}

// ListCustomerRewards returns what the customer's tier unlocks, with an
// affordable flag against the current balance.
func (h *Handler) ListCustomerRewards(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := customerParam(r)

	c, err := h.Ledger.Customer(ctx, id)
	if err != nil {
		h.writeLedgerError(w, r, "Customer not found", err)
		return
	}
	available, err := h.Service.ListAvailableRewards(ctx, id)
	if err != nil {
		h.writeLedgerError(w, r, "Failed to list rewards", err)
		return
	}

	dtos := make([]RewardDTO, len(available))
	for i, rw := range available {
		dto := toRewardDTO(rw)
		affordable := c.TotalPoints >= rw.PointsRequired
		dto.Affordable = &affordable
		if !affordable {
			short := rw.PointsRequired - c.TotalPoints
			dto.PointsShort = &short
		}
		dtos[i] = dto
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	page := loyalty.Page{Cursor: r.URL.Query().Get("cursor")}
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid limit", err)
			return
		}
		page.Limit = limit
	}

	res, err := h.Ledger.Transactions(r.Context(), customerParam(r), page)
	if err != nil {
		h.writeLedgerError(w, r, "Failed to list transactions", err)
		return
	}

	dto := TransactionPageDTO{
		Transactions: make([]TransactionDTO, len(res.Transactions)),
		NextCursor:   res.NextCursor,
	}
	for i, tx := range res.Transactions {
		dto.Transactions[i] = toTransactionDTO(tx)
	}
	writeJSON(w, http.StatusOK, dto)
}

func (h *Handler) GetAudit(w http.ResponseWriter, r *http.Request) {
	rep, err := h.Ledger.Audit(r.Context(), customerParam(r))
	if err != nil {
		h.writeLedgerError(w, r, "Failed to audit customer", err)
		return
	}
	if !rep.Consistent {
		h.Logger.ErrorContext(r.Context(), "ledger audit mismatch",
			slog.String("customer_id", string(rep.CustomerID)),
			slog.Int64("balance", rep.Balance),
			slog.Int64("ledger_sum", rep.LedgerSum),
			slog.Int64("lifetime_points", rep.LifetimePoints),
			slog.Int64("earned_sum", rep.EarnedSum))
	}
	writeJSON(w, http.StatusOK, AuditDTO{
		CustomerID:     string(rep.CustomerID),
		Balance:        rep.Balance,
		LedgerSum:      rep.LedgerSum,
		LifetimePoints: rep.LifetimePoints,
		EarnedSum:      rep.EarnedSum,
		Entries:        rep.Entries,
		Consistent:     rep.Consistent,
	})
}

// =============================================================================
// EARN HANDLERS
// =============================================================================

// RecordPurchase converts the amount spent into points with the earn policy.
func (h *Handler) RecordPurchase(w http.ResponseWriter, r *http.Request) {
	var req PurchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	earn, err := h.Earn.Purchase(customerParam(r), req.AmountSpent, req.OrderRef)
	if err != nil {
		h.writeLedgerError(w, r, "Invalid purchase", err)
		return
	}
	h.applyEarn(w, r, earn)
}

func (h *Handler) EarnPoints(w http.ResponseWriter, r *http.Request) {
	var req EarnRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	h.applyEarn(w, r, loyalty.EarnRequest{
		CustomerID:     customerParam(r),
		Points:         req.Points,
		Type:           loyalty.TransactionType(req.Type),
		Description:    req.Description,
		IdempotencyKey: req.IdempotencyKey,
	})
}

func (h *Handler) applyEarn(w http.ResponseWriter, r *http.Request, req loyalty.EarnRequest) {
	ctx := r.Context()
	res, err := h.Ledger.ApplyEarn(ctx, req)
	if err != nil {
		h.writeLedgerError(w, r, "Failed to apply earn", err)
		return
	}
	if !res.Replayed {
		h.Metrics.ObserveEarn(string(req.Type), req.Points)
	}

	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	tier := h.Ledger.Tiers().TierFor(res.Customer.LifetimePoints)
	writeJSON(w, status, EarnResponse{
		Transaction: toTransactionDTO(res.Transaction),
		Customer:    toCustomerDTO(res.Customer, tier),
		Replayed:    res.Replayed,
	})
}

// =============================================================================
// REDEMPTION HANDLERS
// =============================================================================

func (h *Handler) BeginRedemption(w http.ResponseWriter, r *http.Request) {
	var req BeginRedemptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.RewardID == "" {
		writeError(w, http.StatusBadRequest, "reward_id is required", nil)
		return
	}

	sess, err := h.Service.BeginRedemption(r.Context(), customerParam(r), loyalty.RewardID(req.RewardID))
	if err != nil {
		h.Metrics.ObserveRedemption(loyalty.Kind(err))
		h.writeLedgerError(w, r, "Cannot redeem this reward", err)
		return
	}
	writeJSON(w, http.StatusCreated, toSessionDTO(sess.Snapshot()))
}

func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.Service.Session(sessionParam(r))
	if err != nil {
		h.writeLedgerError(w, r, "Session not found", err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionDTO(sess.Snapshot()))
}

// ConfirmRedemption performs the debit. Calling it again on an issued
// session returns the same ticket.
func (h *Handler) ConfirmRedemption(w http.ResponseWriter, r *http.Request) {
	id := sessionParam(r)
	ticket, err := h.Service.ConfirmRedemption(r.Context(), id)
	if err != nil {
		h.Metrics.ObserveRedemption(loyalty.Kind(err))
		h.writeLedgerError(w, r, "Redemption failed", err)
		return
	}

	outcome := "issued"
	if ticket.Replayed {
		outcome = "replayed"
	}
	h.Metrics.ObserveRedemption(outcome)
	h.Logger.InfoContext(r.Context(), "redemption issued",
		slog.String("ticket_id", string(ticket.TicketID)),
		slog.String("customer_id", string(ticket.CustomerID)),
		slog.String("reward_id", string(ticket.RewardID)),
		slog.Int64("points", ticket.PointsSpent),
		slog.Bool("replayed", ticket.Replayed))

	sess, err := h.Service.Session(id)
	if err != nil {
		writeJSON(w, http.StatusOK, toTicketDTO(ticket))
		return
	}
	writeJSON(w, http.StatusOK, toSessionDTO(sess.Snapshot()))
}

func (h *Handler) CancelRedemption(w http.ResponseWriter, r *http.Request) {
	id := sessionParam(r)
	if err := h.Service.CancelRedemption(id); err != nil {
		h.writeLedgerError(w, r, "Cannot cancel redemption", err)
		return
	}
	h.Service.Sessions().Remove(id)
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (h *Handler) RecoverSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.Service.RecoverSession(r.Context(), sessionParam(r))
	if err != nil {
		h.writeLedgerError(w, r, "Nothing to recover", err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionDTO(sess.Snapshot()))
}

func (h *Handler) StaffVerify(w http.ResponseWriter, r *http.Request) {
	var req StaffCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if strings.TrimSpace(req.Code) == "" {
		writeError(w, http.StatusBadRequest, "code is required", nil)
		return
	}

	view, err := h.Service.StaffConfirm(req.Code)
	if err != nil {
		h.writeLedgerError(w, r, "Code not accepted", err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionDTO(view))
}

func (h *Handler) StaffReject(w http.ResponseWriter, r *http.Request) {
	var req StaffCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if strings.TrimSpace(req.Code) == "" {
		writeError(w, http.StatusBadRequest, "code is required", nil)
		return
	}

	view, err := h.Service.StaffReject(req.Code, req.Reason)
	if err != nil {
		h.writeLedgerError(w, r, "Cannot reject code", err)
		return
	}
	h.Logger.WarnContext(r.Context(), "redemption code rejected by staff",
		slog.String("ticket_id", string(view.ID)),
		slog.String("customer_id", string(view.CustomerID)),
		slog.String("reason", req.Reason))
	writeJSON(w, http.StatusOK, toSessionDTO(view))
}

// =============================================================================
// REWARD & ADMIN HANDLERS
// =============================================================================

func (h *Handler) ListRewards(w http.ResponseWriter, r *http.Request) {
	all, err := h.Store.ListRewards(r.Context())
	if err != nil {
		h.writeLedgerError(w, r, "Failed to list rewards", err)
		return
	}
	dtos := make([]RewardDTO, len(all))
	for i, rw := range all {
		dtos[i] = toRewardDTO(rw)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// PutReward upserts a reward definition from its JSON form.
func (h *Handler) PutReward(w http.ResponseWriter, r *http.Request) {
	var req factory.RewardJSON
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	rw, err := h.Catalog.FromJSON(req)
	if err != nil {
		h.writeLedgerError(w, r, "Invalid reward", err)
		return
	}
	ctx := r.Context()
	if err := h.Store.PutReward(ctx, rw); err != nil {
		h.writeLedgerError(w, r, "Failed to save reward", err)
		return
	}
	saved, err := h.Store.LoadReward(ctx, rw.ID)
	if err != nil {
		h.writeLedgerError(w, r, "Failed to load reward", err)
		return
	}
	writeJSON(w, http.StatusCreated, toRewardDTO(saved))
}

func (h *Handler) CreateAdjustment(w http.ResponseWriter, r *http.Request) {
	var req AdjustmentRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	tx, err := h.Ledger.Adjust(r.Context(), loyalty.AdjustRequest{
		CustomerID: loyalty.CustomerID(req.CustomerID),
		Delta:      req.Delta,
		Reason:     req.Reason,
		Actor:      req.Actor,
	})
	if err != nil {
		h.writeLedgerError(w, r, "Failed to create adjustment", err)
		return
	}
	h.Metrics.ObserveAdjustment(req.Delta)
	h.Logger.InfoContext(r.Context(), "administrative adjustment",
		slog.String("customer_id", req.CustomerID),
		slog.Int64("delta", req.Delta),
		slog.String("actor", req.Actor),
		slog.String("reason", req.Reason))
	writeJSON(w, http.StatusCreated, toTransactionDTO(tx))
}

func (h *Handler) ReverseRedemption(w http.ResponseWriter, r *http.Request) {
	var req ReverseRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	ticket := loyalty.TicketID(chi.URLParam(r, "ticket"))
	tx, err := h.Ledger.ReverseRedemption(r.Context(), loyalty.ReverseRequest{
		TicketID: ticket,
		Reason:   req.Reason,
		Actor:    req.Actor,
	})
	if err != nil {
		h.writeLedgerError(w, r, "Failed to reverse redemption", err)
		return
	}
	h.Logger.InfoContext(r.Context(), "redemption reversed",
		slog.String("ticket_id", string(ticket)),
		slog.String("customer_id", string(tx.CustomerID)),
		slog.Int64("points", tx.Points),
		slog.String("actor", req.Actor))
	writeJSON(w, http.StatusCreated, toTransactionDTO(tx))
}

// Healthz reports whether the store answers.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	if p, ok := h.Store.(interface{ Ping(context.Context) error }); ok {
		if err := p.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "Store unavailable", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) customerWithTier(ctx context.Context, id loyalty.CustomerID) (loyalty.Customer, loyalty.TierInfo, error) {
	c, err := h.Ledger.Customer(ctx, id)
	if err != nil {
		return loyalty.Customer{}, loyalty.TierInfo{}, err
	}
	return c, h.Ledger.Tiers().TierFor(c.LifetimePoints), nil
}

func customerParam(r *http.Request) loyalty.CustomerID {
	return loyalty.CustomerID(chi.URLParam(r, "id"))
}

func sessionParam(r *http.Request) loyalty.TicketID {
	return loyalty.TicketID(chi.URLParam(r, "id"))
}

// statusFor maps a ledger error to an HTTP status.
func statusFor(err error) int {
	switch {
	case loyalty.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, loyalty.ErrUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, loyalty.ErrInvalidAmount),
		errors.Is(err, loyalty.ErrReasonRequired),
		errors.Is(err, loyalty.ErrInvalidTransactionType),
		errors.Is(err, loyalty.ErrInvalidReward),
		errors.Is(err, loyalty.ErrInvalidCursor):
		return http.StatusBadRequest
	case errors.Is(err, loyalty.ErrConflict),
		errors.Is(err, loyalty.ErrInvalidTransition),
		errors.Is(err, loyalty.ErrSessionClosed),
		errors.Is(err, loyalty.ErrCustomerExists):
		return http.StatusConflict
	case errors.Is(err, loyalty.ErrInsufficientBalance),
		errors.Is(err, loyalty.ErrTierIneligible),
		errors.Is(err, loyalty.ErrRewardInactiveOrExhausted),
		errors.Is(err, loyalty.ErrCodeMismatch),
		errors.Is(err, loyalty.ErrCodeExpired):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// writeLedgerError logs and counts the failure, then writes it.
func (h *Handler) writeLedgerError(w http.ResponseWriter, r *http.Request, message string, err error) {
	status := statusFor(err)
	kind := loyalty.Kind(err)
	h.Metrics.ObserveError(kind)

	level := slog.LevelInfo
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	h.Logger.LogAttrs(r.Context(), level, message,
		slog.String("kind", kind),
		slog.Int("status", status),
		slog.String("request_id", middleware.GetReqID(r.Context())),
		slog.String("error", err.Error()))

	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}
	resp := ErrorResponse{Error: message, Kind: kind, Details: err.Error()}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
