// Package monitoring exposes the Prometheus collectors used across the
// service.  Collectors are registered on the default registry through
// promauto and served by promhttp on /metrics.
package monitoring

import (
	"context"
	"database/sql"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var (
	httpRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studyhall_http_requests_total",
			Help: "HTTP requests by route and status code",
		},
		[]string{"method", "route", "status"},
	)

	httpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "studyhall_http_request_duration_seconds",
			Help:    "HTTP request latency by route",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	bookingAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studyhall_booking_attempts_total",
			Help: "Booking creation attempts by outcome",
		},
		[]string{"outcome"},
	)

	seatLockWait = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "studyhall_seat_checkout_seconds",
			Help:    "Time a seat checkout lock is held",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 10),
		},
	)

	paymentOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studyhall_payment_outcomes_total",
			Help: "Finalised payment attempts by rail and status",
		},
		[]string{"method", "status"},
	)

	paymentPolls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studyhall_payment_polls_total",
			Help: "Provider status checks made by the poller",
		},
		[]string{"result"},
	)

	breakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "studyhall_provider_breaker_state",
			Help: "Circuit breaker state per provider (0 closed, 1 half-open, 2 open)",
		},
		[]string{"provider"},
	)

	pendingTransactions = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "studyhall_pending_transactions",
			Help: "Payment attempts still awaiting an outcome",
		},
		[]string{"method"},
	)

	sweeps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studyhall_sweeper_changes_total",
			Help: "Bookings moved by background sweepers",
		},
		[]string{"sweeper"},
	)
)

// ObserveHTTP records one served request.
func ObserveHTTP(method, route string, status int, d time.Duration) {
	httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// TrackBooking counts a booking attempt; outcome is "created" or an error code.
func TrackBooking(outcome string) { bookingAttempts.WithLabelValues(outcome).Inc() }

// TrackSeatLock records how long a checkout lock was held.
func TrackSeatLock(d time.Duration) { seatLockWait.Observe(d.Seconds()) }

// TrackPayment counts a transaction reaching a terminal status.
func TrackPayment(method, status string) { paymentOutcomes.WithLabelValues(method, status).Inc() }

// TrackPoll counts a poller status check ("success", "failure", "pending",
// "timeout", "error", or "late_pending"/"late_failure" for closed attempts
// that are only watched for a late capture).
func TrackPoll(result string) { paymentPolls.WithLabelValues(result).Inc() }

// SetBreakerState publishes a provider breaker state.
func SetBreakerState(provider string, state int) {
	breakerState.WithLabelValues(provider).Set(float64(state))
}

// TrackSweep adds n to the named sweeper counter.
func TrackSweep(sweeper string, n int64) {
	if n > 0 {
		sweeps.WithLabelValues(sweeper).Add(float64(n))
	}
}

// Monitor periodically samples database gauges.
type Monitor struct {
	db       *sql.DB
	interval time.Duration
	log      *zap.Logger
}

func NewMonitor(db *sql.DB, interval time.Duration, log *zap.Logger) *Monitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Monitor{db: db, interval: interval, log: log}
}

// Run samples until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	m.collect(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.collect(ctx)
		}
	}
}

func (m *Monitor) collect(ctx context.Context) {
	rows, err := m.db.QueryContext(ctx,
		`SELECT method, COUNT(*) FROM transactions WHERE status = 'PENDING' GROUP BY method`)
	if err != nil {
		m.log.Debug("monitor: pending transactions", zap.Error(err))
		return
	}
	defer rows.Close()
	pendingTransactions.Reset()
	for rows.Next() {
		var method string
		var n int
		if err := rows.Scan(&method, &n); err != nil {
			return
		}
		pendingTransactions.WithLabelValues(method).Set(float64(n))
	}
}
