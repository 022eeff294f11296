// Package metrics exposes Prometheus instrumentation for the scan loop.
// Helpers are safe to call before Init; they do nothing until metrics are registered.
package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/sweeney/alarm-monitor/internal/store"
)

const (
	metricPrefix = "alarm_monitor_"

	resultSuccess = "success"
	resultError   = "error"
)

var (
	registerOnce sync.Once

	scansTotal      prometheus.Counter
	scanDuration    prometheus.Histogram
	readErrors      *prometheus.CounterVec
	transitions     *prometheus.CounterVec
	storeWrites     *prometheus.CounterVec
	connectAttempts *prometheus.CounterVec
	activeAlarms    prometheus.Gauge
)

// Counter is the part of the store used for the history gauge.
type Counter interface {
	Count(ctx context.Context, f store.Filter) (int, error)
}

// Init registers metrics with the default registry. A nil counter skips the history gauge.
func Init(history Counter, logger *zap.Logger) {
	registerOnce.Do(func() {
		scansTotal = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "scans_total",
				Help: "Total completed scans",
			},
		)
		scanDuration = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "scan_duration_seconds",
				Help:    "Duration of one scan over all enabled points",
				Buckets: prometheus.DefBuckets,
			},
		)
		readErrors = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "read_errors_total",
				Help: "Total failed point reads by read function",
			},
			[]string{"function"},
		)
		transitions = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "transitions_total",
				Help: "Total detected transitions by kind",
			},
			[]string{"kind"},
		)
		storeWrites = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "store_writes_total",
				Help: "Total record appends by result",
			},
			[]string{"result"},
		)
		connectAttempts = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "connect_attempts_total",
				Help: "Total fieldbus connect attempts by result",
			},
			[]string{"result"},
		)
		activeAlarms = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "active_alarms",
				Help: "Points whose last observed level is active",
			},
		)

		prometheus.MustRegister(
			scansTotal,
			scanDuration,
			readErrors,
			transitions,
			storeWrites,
			connectAttempts,
			activeAlarms,
		)

		if history != nil {
			registerHistoryGauge(history, logger)
		}
	})
}

func registerHistoryGauge(history Counter, logger *zap.Logger) {
	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: metricPrefix + "history_records",
			Help: "Records in the transition history",
		},
		func() float64 {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			n, err := history.Count(ctx, store.Filter{})
			if err != nil {
				if logger != nil {
					logger.Warn("metrics history count failed", zap.Error(err))
				}
				return 0
			}
			return float64(n)
		},
	))
}

// ObserveScan records one completed scan.
func ObserveScan(duration time.Duration) {
	if scansTotal != nil {
		scansTotal.Inc()
	}
	if scanDuration != nil {
		scanDuration.Observe(duration.Seconds())
	}
}

// IncReadError increments the failed read counter.
func IncReadError(function string) {
	if function == "" {
		function = "unknown"
	}
	if readErrors != nil {
		readErrors.WithLabelValues(function).Inc()
	}
}

// IncTransition increments the transition counter.
func IncTransition(kind string) {
	if kind == "" {
		kind = "unknown"
	}
	if transitions != nil {
		transitions.WithLabelValues(kind).Inc()
	}
}

// ObserveStoreWrite records the result of one append.
func ObserveStoreWrite(err error) {
	result := resultSuccess
	if err != nil {
		result = resultError
	}
	if storeWrites != nil {
		storeWrites.WithLabelValues(result).Inc()
	}
}

// ObserveConnect records the result of one connect attempt.
func ObserveConnect(err error) {
	result := resultSuccess
	if err != nil {
		result = resultError
	}
	if connectAttempts != nil {
		connectAttempts.WithLabelValues(result).Inc()
	}
}

// SetActiveAlarms sets the active alarm gauge.
func SetActiveAlarms(n int) {
	if n < 0 {
		n = 0
	}
	if activeAlarms != nil {
		activeAlarms.Set(float64(n))
	}
}
