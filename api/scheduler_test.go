package api

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpiryScheduler_RunNow(t *testing.T) {
	// GIVEN: An issued code nobody verified
	// WHEN: The TTL passes and the scheduler sweeps
	// THEN: The session fails as expired, then is dropped after retention

	s := newTestServer(t)
	s.enroll(t, "c1", "")
	require.Equal(t, http.StatusCreated, s.purchase(t, "c1", "10", "").Code)
	sess := beginRedemption(t, s, "c1", "free-drink")
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/redemptions/"+sess.ID+"/confirm", nil).Code)

	es := NewExpiryScheduler(s.handler.Service, nil, s.handler.Logger)
	assert.Zero(t, es.RunNow().Expired)

	s.clock.Advance(16 * time.Minute)
	res := es.RunNow()
	assert.Equal(t, 1, res.Expired)

	rec := s.do(t, http.MethodGet, "/api/redemptions/"+sess.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	view := decode[SessionDTO](t, rec)
	assert.Equal(t, "failed", view.State)
	assert.Equal(t, "code_expired", view.FailureKind)
	assert.Equal(t, int64(50), s.customer(t, "c1").TotalPoints, "expiry does not refund")

	s.clock.Advance(48 * time.Hour)
	assert.Equal(t, 1, es.RunNow().Removed)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/api/redemptions/"+sess.ID, nil).Code)
}

func TestExpiryScheduler_StartStop(t *testing.T) {
	s := newTestServer(t)
	es := NewExpiryScheduler(s.handler.Service, nil, s.handler.Logger)
	es.CheckInterval = 5 * time.Millisecond

	es.Start()
	es.Start()
	time.Sleep(20 * time.Millisecond)
	es.Stop()
	es.Stop()
}

func TestExpiryScheduler_Disabled(t *testing.T) {
	s := newTestServer(t)
	es := NewExpiryScheduler(s.handler.Service, nil, s.handler.Logger)
	es.Enabled = false
	es.Start()
	es.Stop()
}
