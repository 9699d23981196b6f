package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Booking outcomes reported on BookingMetrics.Attempts.
const (
	OutcomeConfirmed   = "confirmed"
	OutcomeContention  = "contention"
	OutcomeUnavailable = "unavailable"
	OutcomeInvalid     = "invalid"
	OutcomeError       = "error"
)

// Lock acquisition results reported on LockMetrics.Acquire.
const (
	ResultAcquired  = "acquired"
	ResultContended = "contended"
	ResultError     = "error"
)

// NewRegistry creates a new Prometheus registry.
func NewRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// BookingMetrics groups the collectors updated by the booking orchestrator.
// A nil *BookingMetrics is valid and records nothing.
type BookingMetrics struct {
	Attempts      *prometheus.CounterVec
	Cancellations prometheus.Counter
	Latency       prometheus.Histogram
	SeatsBooked   prometheus.Gauge
}

// NewBookingMetrics creates the booking collectors and registers them on reg.
func NewBookingMetrics(reg prometheus.Registerer) *BookingMetrics {
	m := &BookingMetrics{
		Attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reserve_booking_attempts_total",
			Help: "Total number of booking attempts by outcome",
		}, []string{"outcome"}),
		Cancellations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reserve_booking_cancellations_total",
			Help: "Total number of cancelled bookings",
		}),
		Latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "reserve_booking_latency_seconds",
			Help:    "Latency of booking attempts",
			Buckets: prometheus.DefBuckets,
		}),
		SeatsBooked: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "reserve_seats_booked",
			Help: "Current number of seats held by confirmed bookings",
		}),
	}
	reg.MustRegister(m.Attempts, m.Cancellations, m.Latency, m.SeatsBooked)
	return m
}

// Observe records one finished booking attempt.
func (m *BookingMetrics) Observe(outcome string, seats int, took time.Duration) {
	if m == nil {
		return
	}
	m.Attempts.WithLabelValues(outcome).Inc()
	m.Latency.Observe(took.Seconds())
	if outcome == OutcomeConfirmed {
		m.SeatsBooked.Add(float64(seats))
	}
}

// Cancelled records one cancelled booking that held seats seats.
func (m *BookingMetrics) Cancelled(seats int) {
	if m == nil {
		return
	}
	m.Cancellations.Inc()
	m.SeatsBooked.Sub(float64(seats))
}

// Restored records seats marked booked from stored bookings at startup.
func (m *BookingMetrics) Restored(seats int) {
	if m == nil {
		return
	}
	m.SeatsBooked.Add(float64(seats))
}

// LockMetrics groups the collectors updated by instrumented lockers.
// A nil *LockMetrics is valid and records nothing.
type LockMetrics struct {
	Acquire  *prometheus.CounterVec
	Releases prometheus.Counter
	Failures prometheus.Counter
}

// NewLockMetrics creates the lock collectors and registers them on reg.
func NewLockMetrics(reg prometheus.Registerer) *LockMetrics {
	m := &LockMetrics{
		Acquire: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reserve_lock_acquire_total",
			Help: "Total number of lock acquisition attempts by result",
		}, []string{"result"}),
		Releases: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reserve_lock_release_total",
			Help: "Total number of lock releases",
		}),
		Failures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reserve_lock_release_failures_total",
			Help: "Total number of lock releases that returned an error",
		}),
	}
	reg.MustRegister(m.Acquire, m.Releases, m.Failures)
	return m
}

// Acquired records the result of one TryLock call.
func (m *LockMetrics) Acquired(result string) {
	if m == nil {
		return
	}
	m.Acquire.WithLabelValues(result).Inc()
}

// Released records one Release call.
func (m *LockMetrics) Released(err error) {
	if m == nil {
		return
	}
	m.Releases.Inc()
	if err != nil {
		m.Failures.Inc()
	}
}
