// Package metricsx exposes the Prometheus metrics this system reports:
// generic gRPC instrumentation plus the business counters named by the
// testable-properties scenarios (reservations, orders, locks, cache).
package metricsx

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// GRPCMetrics instruments outbound/inbound gRPC calls.
type GRPCMetrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

func NewGRPCMetrics(serviceName string) *GRPCMetrics {
	return &GRPCMetrics{
		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{Name: serviceName + "_grpc_requests_total", Help: "Total gRPC requests"},
			[]string{"method", "status"},
		),
		RequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{Name: serviceName + "_grpc_request_duration_seconds", Help: "gRPC request duration", Buckets: prometheus.DefBuckets},
			[]string{"method"},
		),
	}
}

func (m *GRPCMetrics) Record(method, status string, d time.Duration) {
	m.RequestsTotal.WithLabelValues(method, status).Inc()
	m.RequestDuration.WithLabelValues(method).Observe(d.Seconds())
}

// LedgerMetrics instruments the stock ledger (§4.1).
type LedgerMetrics struct {
	Reserved      prometheus.Counter
	Confirmed     prometheus.Counter
	Released      *prometheus.CounterVec // labeled by reason
	Expired       prometheus.Counter
	InsufficientStock prometheus.Counter
	LowStockAlerts prometheus.Counter
}

func NewLedgerMetrics(serviceName string) *LedgerMetrics {
	return &LedgerMetrics{
		Reserved: promauto.NewCounter(prometheus.CounterOpts{
			Name: serviceName + "_reservations_created_total", Help: "Reservations created",
		}),
		Confirmed: promauto.NewCounter(prometheus.CounterOpts{
			Name: serviceName + "_reservations_confirmed_total", Help: "Reservations confirmed into deductions",
		}),
		Released: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: serviceName + "_reservations_released_total", Help: "Reservations released",
		}, []string{"reason"}),
		Expired: promauto.NewCounter(prometheus.CounterOpts{
			Name: serviceName + "_reservations_expired_total", Help: "Reservations swept as expired",
		}),
		InsufficientStock: promauto.NewCounter(prometheus.CounterOpts{
			Name: serviceName + "_reserve_insufficient_stock_total", Help: "Reserve calls rejected for insufficient stock",
		}),
		LowStockAlerts: promauto.NewCounter(prometheus.CounterOpts{
			Name: serviceName + "_low_stock_alerts_total", Help: "Low stock alerts emitted",
		}),
	}
}

// OrderMetrics instruments the order state machine (§4.2) and saga (§4.5).
type OrderMetrics struct {
	Created   prometheus.Counter
	Confirmed prometheus.Counter
	Paid      prometheus.Counter
	Cancelled *prometheus.CounterVec // labeled by reason
	Failed    prometheus.Counter
	Completed prometheus.Counter
}

func NewOrderMetrics(serviceName string) *OrderMetrics {
	return &OrderMetrics{
		Created: promauto.NewCounter(prometheus.CounterOpts{
			Name: serviceName + "_orders_created_total", Help: "Orders created",
		}),
		Confirmed: promauto.NewCounter(prometheus.CounterOpts{
			Name: serviceName + "_orders_confirmed_total", Help: "Orders reaching CONFIRMED",
		}),
		Paid: promauto.NewCounter(prometheus.CounterOpts{
			Name: serviceName + "_orders_paid_total", Help: "Orders reaching PAID",
		}),
		Cancelled: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: serviceName + "_orders_cancelled_total", Help: "Orders cancelled",
		}, []string{"reason"}),
		Failed: promauto.NewCounter(prometheus.CounterOpts{
			Name: serviceName + "_orders_failed_total", Help: "Orders reaching FAILED",
		}),
		Completed: promauto.NewCounter(prometheus.CounterOpts{
			Name: serviceName + "_orders_completed_total", Help: "Orders reaching COMPLETED",
		}),
	}
}

// LockMetrics instruments the distributed lock service (§4.3).
type LockMetrics struct {
	WaitDuration   prometheus.Histogram
	HoldDuration   prometheus.Histogram
	Timeouts       prometheus.Counter
	DeadlocksFound prometheus.Counter
}

func NewLockMetrics(serviceName string) *LockMetrics {
	return &LockMetrics{
		WaitDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name: serviceName + "_lock_wait_seconds", Help: "Time spent waiting to acquire a lock", Buckets: prometheus.DefBuckets,
		}),
		HoldDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name: serviceName + "_lock_hold_seconds", Help: "Time a lock handle is held", Buckets: prometheus.DefBuckets,
		}),
		Timeouts: promauto.NewCounter(prometheus.CounterOpts{
			Name: serviceName + "_lock_timeouts_total", Help: "Lock acquisitions that timed out",
		}),
		DeadlocksFound: promauto.NewCounter(prometheus.CounterOpts{
			Name: serviceName + "_lock_potential_deadlocks_total", Help: "Local deadlock cycles detected",
		}),
	}
}

// CacheMetrics instruments the write-through cache (§4.4).
type CacheMetrics struct {
	Hits   *prometheus.CounterVec // labeled by cache name
	Misses *prometheus.CounterVec
}

func NewCacheMetrics(serviceName string) *CacheMetrics {
	return &CacheMetrics{
		Hits: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: serviceName + "_cache_hits_total", Help: "Cache hits",
		}, []string{"cache"}),
		Misses: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: serviceName + "_cache_misses_total", Help: "Cache misses",
		}, []string{"cache"}),
	}
}
