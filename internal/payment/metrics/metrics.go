package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels for recorded payment attempts.
const (
	OutcomeCommitted        = "committed"
	OutcomeDuplicate        = "duplicate"
	OutcomeRejected         = "rejected"
	OutcomeBusy             = "busy"
	OutcomePersistenceError = "persistence_error"
)

type Metrics struct {
	RecordAttempts  *prometheus.CounterVec
	RecordDuration  prometheus.Histogram
	LockAcquireFail prometheus.Counter
	PaymentsVoided  prometheus.Counter
}

func New() *Metrics {
	return &Metrics{
		RecordAttempts: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "dues_payment_record_attempts_total",
			Help: "Payment record attempts partitioned by outcome",
		}, []string{"outcome"}),
		RecordDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "dues_payment_record_duration_seconds",
			Help:    "End-to-end latency of the record payment operation",
			Buckets: prometheus.DefBuckets,
		}),
		LockAcquireFail: promauto.NewCounter(prometheus.CounterOpts{
			Name: "dues_payment_lock_acquire_failures_total",
			Help: "Lock acquisitions that exhausted the retry budget",
		}),
		PaymentsVoided: promauto.NewCounter(prometheus.CounterOpts{
			Name: "dues_payments_voided_total",
			Help: "Payments voided",
		}),
	}
}

func (m *Metrics) ObserveRecord(outcome string, start time.Time) {
	if m == nil {
		return
	}
	m.RecordAttempts.WithLabelValues(outcome).Inc()
	m.RecordDuration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) IncrementLockFailures() {
	if m == nil {
		return
	}
	m.LockAcquireFail.Inc()
}

func (m *Metrics) IncrementVoided() {
	if m == nil {
		return
	}
	m.PaymentsVoided.Inc()
}
