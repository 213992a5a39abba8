/*
service.go - Operations exposed to the UI/API layer

PURPOSE:
  Glues the ledger, the reward catalog and the session registry into the
  calls a front end makes: show the tier, list what can be redeemed, walk a
  redemption from Confirm to Completed, and recover after a crash.

NOTES:
  - Reads here are snapshots. Only PointsLedger.TryRedeem decides.
  - The service never refunds. Expired or rejected codes keep their debit.
*/
package loyalty

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ServiceOptions configures a Service. CodeTTL is required.
type ServiceOptions struct {
	CodeTTL          time.Duration
	SessionRetention time.Duration
	Now              func() time.Time
	NewID            func() string
}

type Service struct {
	ledger   *PointsLedger
	catalog  RewardCatalog
	sessions *SessionRegistry
	codeTTL  time.Duration
	now      func() time.Time
	newID    func() string
}

func NewService(ledger *PointsLedger, catalog RewardCatalog, opts ServiceOptions) (*Service, error) {
	if ledger == nil {
		return nil, errors.New("loyalty: service requires a ledger")
	}
	if opts.CodeTTL <= 0 {
		return nil, fmt.Errorf("loyalty: code TTL must be positive, got %s", opts.CodeTTL)
	}
	if catalog == nil {
		catalog = NewStoreCatalog(ledger.Store())
	}
	// A finished session must outlive its code, or a rejected code could be
	// rebuilt from the ledger while still inside its TTL.
	retention := opts.SessionRetention
	if retention <= 0 {
		retention = DefaultSessionRetention
	}
	if retention < opts.CodeTTL {
		retention = opts.CodeTTL
	}
	s := &Service{
		ledger:   ledger,
		catalog:  catalog,
		sessions: NewSessionRegistry(retention),
		codeTTL:  opts.CodeTTL,
		now:      opts.Now,
		newID:    opts.NewID,
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}
	return s, nil
}

func (s *Service) Ledger() *PointsLedger { return s.ledger }

func (s *Service) Sessions() *SessionRegistry { return s.sessions }

func (s *Service) CodeTTL() time.Duration { return s.codeTTL }

// =============================================================================
// READS
// =============================================================================

func (s *Service) GetTierInfo(ctx context.Context, id CustomerID) (TierInfo, error) {
	c, err := s.ledger.Customer(ctx, id)
	if err != nil {
		return TierInfo{}, err
	}
	return s.ledger.Tiers().TierFor(c.LifetimePoints), nil
}

// ListAvailableRewards returns the catalog for the customer's tier without
// exhausted rewards, cheapest first. Affordability is left to the caller.
func (s *Service) ListAvailableRewards(ctx context.Context, id CustomerID) ([]Reward, error) {
	c, err := s.ledger.Customer(ctx, id)
	if err != nil {
		return nil, err
	}
	tier := s.ledger.Tiers().TierFor(c.LifetimePoints).Tier
	rewards, err := s.catalog.ActiveRewardsFor(ctx, tier)
	if err != nil {
		return nil, fmt.Errorf("list rewards for %s: %w", id, err)
	}
	out := make([]Reward, 0, len(rewards))
	for _, r := range rewards {
		if !r.Exhausted() {
			out = append(out, r)
		}
	}
	SortRewards(out)
	return out, nil
}

// =============================================================================
// REDEMPTION FLOW
// =============================================================================

// BeginRedemption opens a session in Confirm with a freshly loaded balance.
// A redemption that would certainly fail is refused here, before the user is
// asked to confirm; the authoritative check is repeated by Confirm.
func (s *Service) BeginRedemption(ctx context.Context, customerID CustomerID, rewardID RewardID) (*RedemptionSession, error) {
	c, err := s.ledger.Customer(ctx, customerID)
	if err != nil {
		return nil, err
	}
	r, err := s.ledger.Store().LoadReward(ctx, rewardID)
	if err != nil {
		return nil, err
	}
	if err := s.ledger.CheckEligibility(c, r); err != nil {
		return nil, err
	}
	sess := newSession(TicketID(s.newID()), c, r, s.codeTTL, s.now)
	s.sessions.Add(sess)
	return sess, nil
}

func (s *Service) Session(id TicketID) (*RedemptionSession, error) {
	return s.sessions.Get(id)
}

// ConfirmRedemption drives the session's single debit.
func (s *Service) ConfirmRedemption(ctx context.Context, id TicketID) (RedemptionTicket, error) {
	sess, err := s.sessions.Get(id)
	if err != nil {
		return RedemptionTicket{}, err
	}
	t, err := sess.Confirm(ctx, s.ledger)
	if err != nil {
		return RedemptionTicket{}, err
	}
	s.sessions.Index(sess)
	return t, nil
}

func (s *Service) CancelRedemption(id TicketID) error {
	sess, err := s.sessions.Get(id)
	if err != nil {
		return err
	}
	return sess.Cancel()
}

// StaffConfirm completes the session that owns code.
func (s *Service) StaffConfirm(code string) (SessionView, error) {
	sess, err := s.sessions.ByCode(code)
	if err != nil {
		return SessionView{}, err
	}
	if err := sess.StaffConfirm(code); err != nil {
		return sess.Snapshot(), err
	}
	return sess.Snapshot(), nil
}

// StaffReject voids the code. The points stay debited.
func (s *Service) StaffReject(code, reason string) (SessionView, error) {
	sess, err := s.sessions.ByCode(code)
	if err != nil {
		return SessionView{}, err
	}
	if err := sess.StaffReject(reason); err != nil {
		return sess.Snapshot(), err
	}
	return sess.Snapshot(), nil
}

// RecoverSession returns the registered session for id, whatever its state.
// Only when the registry has lost it is the session re-derived from the
// ledger: a committed redemption yields an Issued session (Failed if its
// code has expired); no redemption means nothing was debited and
// ErrNotFound is returned.
func (s *Service) RecoverSession(ctx context.Context, id TicketID) (*RedemptionSession, error) {
	// A live session is authoritative. Failed is terminal, so a rejected or
	// expired code is never rebuilt as Issued.
	if live, err := s.sessions.Get(id); err == nil {
		return live, nil
	}

	t, err := s.ledger.FindRedemption(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("recover session %s: %w", id, err)
	}
	r, err := s.ledger.Store().LoadReward(ctx, t.RewardID)
	if err != nil {
		return nil, fmt.Errorf("recover session %s: %w", id, err)
	}
	sess := recoveredSession(t, r, s.codeTTL, s.now)
	s.sessions.Add(sess)
	return sess, nil
}

// Sweep expires stale sessions. Called by the caller's scheduler.
func (s *Service) Sweep() SweepResult {
	return s.sessions.Sweep(s.now())
}
