// Package metrics exposes the inventory service's prometheus collectors.
// Every method is safe on a nil *Metrics so callers never branch on it.
package metrics

import (
	"net/http"
	"strings"
	"time"

	apperrors "github.com/larder/larder-backend/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "larder_inventory"

type Metrics struct {
	registry *prometheus.Registry

	movements         *prometheus.CounterVec
	movedQuantity     *prometheus.CounterVec
	movementDuration  *prometheus.HistogramVec
	clampedWithdraws  prometheus.Counter
	insufficientStock *prometheus.CounterVec
	lockContention    prometheus.Counter
	alertTransitions  *prometheus.CounterVec
	expiredBatches    prometheus.Counter
}

// New builds the collectors on a private registry together with the
// standard go and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: reg,
		movements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stock_movements_total",
			Help:      "Stock movements committed, by transaction type.",
		}, []string{"type"}),
		movedQuantity: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stock_moved_quantity_total",
			Help:      "Absolute quantity moved, by transaction type, across all units.",
		}, []string{"type"}),
		movementDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Duration of stock operations including locking.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation", "outcome"}),
		clampedWithdraws: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "withdrawals_clamped_total",
			Help:      "Manual withdrawals that deducted less than requested.",
		}),
		insufficientStock: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "insufficient_stock_total",
			Help:      "Rejected strict stock-outs, by operation.",
		}, []string{"operation"}),
		lockContention: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lock_contention_total",
			Help:      "Stock movements rejected because the key stayed locked.",
		}),
		alertTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alert_transitions_total",
			Help:      "Alert lifecycle changes, by alert type and action.",
		}, []string{"type", "action"}),
		expiredBatches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_expired_total",
			Help:      "Batches newly marked as expired by the refresh job.",
		}),
	}

	reg.MustRegister(
		m.movements,
		m.movedQuantity,
		m.movementDuration,
		m.clampedWithdraws,
		m.insufficientStock,
		m.lockContention,
		m.alertTransitions,
		m.expiredBatches,
	)

	return m
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry is exposed for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) Movement(txType string, quantity float64) {
	if m == nil {
		return
	}
	m.movements.WithLabelValues(txType).Inc()
	if quantity < 0 {
		quantity = -quantity
	}
	m.movedQuantity.WithLabelValues(txType).Add(quantity)
}

// ObserveOperation records how long an operation took since start. The
// outcome label is "ok" or the lower-cased error code.
func (m *Metrics) ObserveOperation(operation string, start time.Time, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = strings.ToLower(apperrors.CodeOf(err))
	}
	m.movementDuration.WithLabelValues(operation, outcome).Observe(time.Since(start).Seconds())
}

func (m *Metrics) ClampedWithdrawal() {
	if m == nil {
		return
	}
	m.clampedWithdraws.Inc()
}

func (m *Metrics) InsufficientStock(operation string) {
	if m == nil {
		return
	}
	m.insufficientStock.WithLabelValues(operation).Inc()
}

func (m *Metrics) LockContention() {
	if m == nil {
		return
	}
	m.lockContention.Inc()
}

func (m *Metrics) AlertTransition(alertType, action string) {
	if m == nil {
		return
	}
	m.alertTransitions.WithLabelValues(alertType, action).Inc()
}

func (m *Metrics) BatchesExpired(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.expiredBatches.Add(float64(n))
}
