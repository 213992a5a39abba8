package loyalty

import (
	"sync"
	"time"
)

// DefaultSessionRetention is how long finished sessions stay visible.
const DefaultSessionRetention = time.Hour

// SessionRegistry keeps the caller's live redemption sessions in memory.
// It holds no ledger locks; losing it loses only UI state, which
// Service.RecoverSession rebuilds from the ledger.
type SessionRegistry struct {
	mu        sync.RWMutex
	sessions  map[TicketID]*RedemptionSession
	byCode    map[string]TicketID
	retention time.Duration
}

func NewSessionRegistry(retention time.Duration) *SessionRegistry {
	if retention <= 0 {
		retention = DefaultSessionRetention
	}
	return &SessionRegistry{
		sessions:  make(map[TicketID]*RedemptionSession),
		byCode:    make(map[string]TicketID),
		retention: retention,
	}
}

// Add registers s, replacing any session with the same id.
func (r *SessionRegistry) Add(s *RedemptionSession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID()] = s
	if code := s.Code(); code != "" {
		r.byCode[code] = s.ID()
	}
}

// Get returns ErrNotFound for unknown ids.
func (r *SessionRegistry) Get(id TicketID) (*RedemptionSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// Index records the code of a session that has just been issued.
func (r *SessionRegistry) Index(s *RedemptionSession) {
	code := s.Code()
	if code == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[s.ID()]; ok {
		r.byCode[code] = s.ID()
	}
}

// ByCode finds the session a staff member is verifying.
func (r *SessionRegistry) ByCode(code string) (*RedemptionSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byCode[NormalizeCode(code)]
	if !ok {
		return nil, ErrNotFound
	}
	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

func (r *SessionRegistry) Remove(id TicketID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(id)
}

func (r *SessionRegistry) removeLocked(id TicketID) {
	s, ok := r.sessions[id]
	if !ok {
		return
	}
	if code := s.Code(); code != "" {
		delete(r.byCode, code)
	}
	delete(r.sessions, id)
}

// Clear drops every session. Used when the store is reset.
func (r *SessionRegistry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions = make(map[TicketID]*RedemptionSession)
	r.byCode = make(map[string]TicketID)
}

func (r *SessionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// SweepResult counts what one Sweep did.
type SweepResult struct {
	Expired int // Issued sessions failed for an expired code
	Removed int // finished sessions dropped after the retention window
}

// Sweep expires Issued sessions past their code TTL and drops finished
// sessions whose last activity is older than the retention window. It never
// touches the ledger: expired debits stay until an administrator reverses them.
func (r *SessionRegistry) Sweep(now time.Time) SweepResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	var res SweepResult
	for id, s := range r.sessions {
		if s.Expire(now) {
			res.Expired++
		}
		if s.finished() && now.Sub(s.lastActivity()) > r.retention {
			r.removeLocked(id)
			res.Removed++
		}
	}
	return res
}
