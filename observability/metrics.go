package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// LedgerMetrics counts ledger outcomes. A nil *LedgerMetrics is a no-op so
// tests can pass nil.
type LedgerMetrics struct {
	redemptions    *prometheus.CounterVec
	pointsEarned   *prometheus.CounterVec
	adjustments    *prometheus.CounterVec
	sessionExpired prometheus.Counter
	ledgerErrors   *prometheus.CounterVec
}

var (
	ledgerOnce     sync.Once
	ledgerRegistry *LedgerMetrics
)

// Ledger returns the process-wide metrics, registered with the default
// Prometheus registry on first use.
func Ledger() *LedgerMetrics {
	ledgerOnce.Do(func() {
		ledgerRegistry = NewLedgerMetrics(prometheus.DefaultRegisterer)
	})
	return ledgerRegistry
}

// NewLedgerMetrics registers a fresh set of collectors with reg.
func NewLedgerMetrics(reg prometheus.Registerer) *LedgerMetrics {
	m := &LedgerMetrics{
		redemptions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "loyalty_redemptions_total",
			Help: "Redemption attempts by outcome (issued, replayed or an error kind).",
		}, []string{"outcome"}),
		pointsEarned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "loyalty_points_earned_total",
			Help: "Points credited by transaction type.",
		}, []string{"type"}),
		adjustments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "loyalty_adjustments_total",
			Help: "Administrative adjustments by direction.",
		}, []string{"direction"}),
		sessionExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "loyalty_sessions_expired_total",
			Help: "Issued redemption codes that expired without staff confirmation.",
		}),
		ledgerErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "loyalty_ledger_errors_total",
			Help: "Ledger operation failures by error kind.",
		}, []string{"kind"}),
	}
	reg.MustRegister(m.redemptions, m.pointsEarned, m.adjustments, m.sessionExpired, m.ledgerErrors)
	return m
}

func (m *LedgerMetrics) ObserveRedemption(outcome string) {
	if m == nil {
		return
	}
	if outcome == "" {
		outcome = "unknown"
	}
	m.redemptions.WithLabelValues(outcome).Inc()
}

func (m *LedgerMetrics) ObserveEarn(txType string, points int64) {
	if m == nil || points <= 0 {
		return
	}
	m.pointsEarned.WithLabelValues(txType).Add(float64(points))
}

func (m *LedgerMetrics) ObserveAdjustment(delta int64) {
	if m == nil || delta == 0 {
		return
	}
	direction := "credit"
	if delta < 0 {
		direction = "debit"
	}
	m.adjustments.WithLabelValues(direction).Inc()
}

func (m *LedgerMetrics) ObserveSessionsExpired(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.sessionExpired.Add(float64(n))
}

func (m *LedgerMetrics) ObserveError(kind string) {
	if m == nil {
		return
	}
	if kind == "" {
		kind = "unknown"
	}
	m.ledgerErrors.WithLabelValues(kind).Inc()
}
