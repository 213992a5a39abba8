/*
scheduler.go - Redemption session expiry scheduler

PURPOSE:
  Periodically sweeps the session registry: issued codes past their TTL
  become Failed (code expired) and finished sessions past the retention
  window are dropped from memory.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Never touches the ledger: an expired code keeps its debit until an
    administrator reverses it
  - Counts expirations in Prometheus

USAGE:
  scheduler := NewExpiryScheduler(service, metrics, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - loyalty/sessions.go: SessionRegistry.Sweep
  - handlers.go: ReverseRedemption (manual refund)
*/
package api

import (
	"log/slog"
	"sync"
	"time"

	"github.com/warp/loyalty-engine/loyalty"
	"github.com/warp/loyalty-engine/observability"
)

// ExpiryScheduler handles automated session expiry.
type ExpiryScheduler struct {
	Service       *loyalty.Service
	Metrics       *observability.LedgerMetrics
	Logger        *slog.Logger
	CheckInterval time.Duration
	Enabled       bool

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewExpiryScheduler creates a new scheduler. metrics may be nil.
func NewExpiryScheduler(svc *loyalty.Service, metrics *observability.LedgerMetrics, logger *slog.Logger) *ExpiryScheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExpiryScheduler{
		Service:       svc,
		Metrics:       metrics,
		Logger:        logger.With(slog.String("component", "expiry_scheduler")),
		CheckInterval: 30 * time.Second,
		Enabled:       true,
	}
}

// Start begins the scheduler.
func (es *ExpiryScheduler) Start() {
	es.mu.Lock()
	defer es.mu.Unlock()

	if !es.Enabled {
		es.Logger.Info("scheduler disabled, not starting")
		return
	}
	if es.ticker != nil {
		return
	}

	es.ticker = time.NewTicker(es.CheckInterval)
	es.stop = make(chan struct{})
	es.wg.Add(1)

	go es.run(es.ticker, es.stop)

	es.Logger.Info("scheduler started", slog.Duration("interval", es.CheckInterval))
}

// Stop stops the scheduler and waits for an in-flight sweep.
func (es *ExpiryScheduler) Stop() {
	es.mu.Lock()
	defer es.mu.Unlock()

	if es.ticker == nil {
		return
	}
	es.ticker.Stop()
	close(es.stop)
	es.wg.Wait()
	es.ticker = nil
	es.Logger.Info("scheduler stopped")
}

func (es *ExpiryScheduler) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer es.wg.Done()

	for {
		select {
		case <-ticker.C:
			es.RunNow()
		case <-stop:
			return
		}
	}
}

// RunNow performs one sweep immediately.
func (es *ExpiryScheduler) RunNow() loyalty.SweepResult {
	res := es.Service.Sweep()
	es.Metrics.ObserveSessionsExpired(res.Expired)
	if res.Expired > 0 || res.Removed > 0 {
		es.Logger.Info("sessions swept",
			slog.Int("expired", res.Expired),
			slog.Int("removed", res.Removed),
			slog.Int("live", es.Service.Sessions().Len()))
	}
	return res
}
