/*
redemption.go - RedemptionSession state machine

PURPOSE:
  One session per redemption attempt, owned by the caller (the API layer).
  The ledger debit is the single authoritative transition; everything else
  is a client-visible status that holds no server-side lock.

STATES:
  Confirm --Confirm()--> Processing --debit ok--> Issued --StaffConfirm--> Completed
  Confirm --Cancel()--> closed, no side effect
  Processing --debit fails--> Failed
  Issued --Expire / StaffReject--> Failed (code voided, balance NOT refunded)

  Completed and Failed are terminal. A user who failed starts a new
  session from Confirm with a freshly loaded balance.

IDEMPOTENCE:
  The session id is the ticket id handed to TryRedeem. Calling Confirm
  again on an Issued session returns the same ticket; a crashed Processing
  session is rebuilt from the ledger with Service.RecoverSession.
*/
package loyalty

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type SessionState string

const (
	StateConfirm    SessionState = "confirm"
	StateProcessing SessionState = "processing"
	StateIssued     SessionState = "issued"
	StateCompleted  SessionState = "completed"
	StateFailed     SessionState = "failed"
)

// Terminal reports whether no further transition is possible.
func (s SessionState) Terminal() bool { return s == StateCompleted || s == StateFailed }

// Redeemer is the ledger operation a session drives.
type Redeemer interface {
	TryRedeem(ctx context.Context, req RedeemRequest) (RedemptionTicket, error)
}

// RedemptionSession is safe for concurrent use.
type RedemptionSession struct {
	mu sync.Mutex

	id       TicketID
	customer CustomerID
	reward   Reward
	balance  int64 // balance displayed at Confirm
	codeTTL  time.Duration
	now      func() time.Time

	state     SessionState
	closed    bool
	ticket    *RedemptionTicket
	failure   error
	createdAt time.Time
	updatedAt time.Time
}

// SessionView is an immutable snapshot for rendering.
type SessionView struct {
	ID         TicketID
	CustomerID CustomerID
	Reward     Reward
	State      SessionState
	Closed     bool
	Balance    int64 // displayed balance before issue, post-debit balance after
	Ticket     *RedemptionTicket
	Failure    error
	CreatedAt  time.Time
	UpdatedAt  time.Time
	ExpiresAt  *time.Time
}

func newSession(id TicketID, c Customer, r Reward, codeTTL time.Duration, now func() time.Time) *RedemptionSession {
	t := now()
	return &RedemptionSession{
		id:        id,
		customer:  c.ID,
		reward:    r,
		balance:   c.TotalPoints,
		codeTTL:   codeTTL,
		now:       now,
		state:     StateConfirm,
		createdAt: t,
		updatedAt: t,
	}
}

func (s *RedemptionSession) ID() TicketID { return s.id }

func (s *RedemptionSession) CustomerID() CustomerID { return s.customer }

func (s *RedemptionSession) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Confirm debits the ledger exactly once. The debit runs detached from the
// caller's cancellation: once issued to the store it is awaited, and only the
// store's answer decides between Issued and Failed.
func (s *RedemptionSession) Confirm(ctx context.Context, r Redeemer) (RedemptionTicket, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return RedemptionTicket{}, ErrSessionClosed
	}
	switch s.state {
	case StateIssued, StateCompleted:
		t := *s.ticket
		s.mu.Unlock()
		return t, nil
	case StateConfirm:
	default:
		err := s.transitionErr("confirm")
		s.mu.Unlock()
		return RedemptionTicket{}, err
	}
	s.setState(StateProcessing)
	req := RedeemRequest{
		CustomerID: s.customer,
		RewardID:   s.reward.ID,
		TicketID:   s.id,
		Expected:   &Expectation{Balance: s.balance, PointsRequired: s.reward.PointsRequired},
	}
	s.mu.Unlock()

	// Processing is a status, not a lock: the session mutex is released
	// while the store works so readers can render the spinner.
	ticket, err := r.TryRedeem(context.WithoutCancel(ctx), req)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.failure = err
		s.setState(StateFailed)
		return RedemptionTicket{}, err
	}
	s.issue(ticket)
	return ticket, nil
}

// Cancel discards a session that has not reached the ledger.
func (s *RedemptionSession) Cancel() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSessionClosed
	}
	if s.state != StateConfirm {
		return s.transitionErr("cancel")
	}
	s.closed = true
	s.updatedAt = s.now()
	return nil
}

// StaffConfirm verifies the presented code and completes the session.
// It performs no ledger mutation.
func (s *RedemptionSession) StaffConfirm(code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateIssued {
		return s.transitionErr("staff confirm")
	}
	if s.expiredLocked(s.now()) {
		s.failure = ErrCodeExpired
		s.setState(StateFailed)
		return ErrCodeExpired
	}
	if NormalizeCode(code) != s.ticket.Code {
		return ErrCodeMismatch
	}
	s.setState(StateCompleted)
	return nil
}

// StaffReject voids an issued code. The debit stays; refunds go through
// PointsLedger.ReverseRedemption.
func (s *RedemptionSession) StaffReject(reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateIssued {
		return s.transitionErr("staff reject")
	}
	s.failure = fmt.Errorf("%w: %s", ErrStaffRejected, reason)
	s.setState(StateFailed)
	return nil
}

// Expire fails an Issued session whose code is past its TTL. It reports
// whether the session changed.
func (s *RedemptionSession) Expire(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateIssued || !s.expiredLocked(now) {
		return false
	}
	s.failure = ErrCodeExpired
	s.setState(StateFailed)
	return true
}

func (s *RedemptionSession) Snapshot() SessionView {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := SessionView{
		ID:         s.id,
		CustomerID: s.customer,
		Reward:     s.reward,
		State:      s.state,
		Closed:     s.closed,
		Balance:    s.balance,
		Failure:    s.failure,
		CreatedAt:  s.createdAt,
		UpdatedAt:  s.updatedAt,
	}
	if s.ticket != nil {
		t := *s.ticket
		v.Ticket = &t
		exp := t.IssuedAt.Add(s.codeTTL)
		v.ExpiresAt = &exp
	}
	return v
}

// Code returns the issued code, or "" before issue.
func (s *RedemptionSession) Code() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ticket == nil {
		return ""
	}
	return s.ticket.Code
}

func (s *RedemptionSession) issue(t RedemptionTicket) {
	s.ticket = &t
	s.balance = t.NewBalance
	s.setState(StateIssued)
}

func (s *RedemptionSession) expiredLocked(now time.Time) bool {
	return s.ticket != nil && now.After(s.ticket.IssuedAt.Add(s.codeTTL))
}

func (s *RedemptionSession) setState(st SessionState) {
	s.state = st
	s.updatedAt = s.now()
}

func (s *RedemptionSession) transitionErr(op string) error {
	return fmt.Errorf("%w: cannot %s in state %s", ErrInvalidTransition, op, s.state)
}

func (s *RedemptionSession) lastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updatedAt
}

func (s *RedemptionSession) finished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed || s.state.Terminal()
}

// recoveredSession rebuilds an Issued session from a committed ticket.
// A ticket already past its TTL comes back Failed.
func recoveredSession(t RedemptionTicket, r Reward, codeTTL time.Duration, now func() time.Time) *RedemptionSession {
	s := &RedemptionSession{
		id:        t.TicketID,
		customer:  t.CustomerID,
		reward:    r,
		codeTTL:   codeTTL,
		now:       now,
		createdAt: t.IssuedAt,
	}
	t.Replayed = true
	s.issue(t)
	if s.expiredLocked(now()) {
		s.failure = ErrCodeExpired
		s.setState(StateFailed)
	}
	return s
}
