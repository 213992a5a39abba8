package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/warp/loyalty-engine/loyalty"
	"github.com/warp/loyalty-engine/loyalty/store"
	"github.com/warp/loyalty-engine/rewards"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type testServer struct {
	handler *Handler
	router  *chi.Mux
	store   loyalty.Store
	clock   *testClock
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	return newTestServerWithStore(t, store.NewMemory())
}

func newTestServerWithStore(t *testing.T, mem loyalty.Store) *testServer {
	t.Helper()
	clock := &testClock{now: time.Date(2026, time.March, 14, 19, 30, 0, 0, time.UTC)}

	ledger := loyalty.NewPointsLedger(mem, loyalty.LedgerOptions{CodePrefix: "BISTRO", Now: clock.Now})
	svc, err := loyalty.NewService(ledger, nil, loyalty.ServiceOptions{CodeTTL: 15 * time.Minute, Now: clock.Now})
	require.NoError(t, err)

	h := NewHandler(Deps{
		Store:   mem,
		Service: svc,
		Earn:    rewards.DefaultEarnPolicy(),
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, h.seedCatalog(ctx))

	return &testServer{
		handler: h,
		router:  NewRouter(h, RouterOptions{CORSOrigins: []string{"http://localhost:5173"}}),
		store:   mem,
		clock:   clock,
	}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (s *testServer) enroll(t *testing.T, id, referrer string) CustomerDTO {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/customers", CreateCustomerRequest{ID: id, Name: "Guest " + id, ReferredBy: referrer})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[CustomerDTO](t, rec)
}

func (s *testServer) purchase(t *testing.T, id, amount, orderRef string) *httptest.ResponseRecorder {
	t.Helper()
	return s.do(t, http.MethodPost, "/api/customers/"+id+"/purchases",
		map[string]string{"amount_spent": amount, "order_ref": orderRef})
}

func (s *testServer) customer(t *testing.T, id string) CustomerDTO {
	t.Helper()
	rec := s.do(t, http.MethodGet, "/api/customers/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decode[CustomerDTO](t, rec)
}
