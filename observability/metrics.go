package observability

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"lendledger/core/ledger"
)

// LedgerMetricsRecorder exports engine activity to Prometheus and implements
// ledger.Observer.
type LedgerMetricsRecorder struct {
	appends     *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	validations *prometheus.CounterVec
	validateDur prometheus.Histogram
	height      prometheus.Gauge
}

var (
	ledgerMetricsOnce sync.Once
	ledgerRegistry    *LedgerMetricsRecorder
)

// LedgerMetrics returns the lazily-initialised ledger metrics registered with
// the default Prometheus registerer.
func LedgerMetrics() *LedgerMetricsRecorder {
	ledgerMetricsOnce.Do(func() {
		ledgerRegistry = NewLedgerMetrics(prometheus.DefaultRegisterer)
	})
	return ledgerRegistry
}

// NewLedgerMetrics builds a recorder registered with reg.
func NewLedgerMetrics(reg prometheus.Registerer) *LedgerMetricsRecorder {
	m := &LedgerMetricsRecorder{
		appends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lendledger",
			Subsystem: "ledger",
			Name:      "appends_total",
			Help:      "Block append attempts segmented by transaction type and outcome.",
		}, []string{"type", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "lendledger",
			Subsystem: "ledger",
			Name:      "append_duration_seconds",
			Help:      "Latency of block appends including the tail read.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"type"}),
		validations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lendledger",
			Subsystem: "ledger",
			Name:      "validations_total",
			Help:      "Full chain validations segmented by result.",
		}, []string{"result"}),
		validateDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "lendledger",
			Subsystem: "ledger",
			Name:      "validation_duration_seconds",
			Help:      "Latency of full chain validations.",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60},
		}),
		height: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "lendledger",
			Subsystem: "ledger",
			Name:      "chain_height",
			Help:      "Number of blocks observed after the latest append or validation.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.appends, m.latency, m.validations, m.validateDur, m.height)
	}
	return m
}

// ObserveAppend records the outcome of one append.
func (m *LedgerMetricsRecorder) ObserveAppend(t ledger.TxType, height uint64, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	txType := string(t)
	if !t.Valid() {
		txType = "unknown"
	}
	m.appends.WithLabelValues(txType, appendOutcome(err)).Inc()
	m.latency.WithLabelValues(txType).Observe(elapsed.Seconds())
	if err == nil {
		m.height.Set(float64(height))
	}
}

// ObserveValidation records a completed validation.
func (m *LedgerMetricsRecorder) ObserveValidation(report ledger.Report, elapsed time.Duration) {
	if m == nil {
		return
	}
	result := "valid"
	if !report.Valid {
		result = string(report.Reason)
	} else {
		m.height.Set(float64(report.Count))
	}
	m.validations.WithLabelValues(result).Inc()
	m.validateDur.Observe(elapsed.Seconds())
}

func appendOutcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case ledger.IsConflict(err):
		return "conflict"
	case errors.Is(err, ledger.ErrStoreUnavailable):
		return "unavailable"
	default:
		return "rejected"
	}
}
