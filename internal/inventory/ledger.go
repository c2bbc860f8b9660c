package inventory

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/vectorcommerce/platform/internal/errs"
	"github.com/vectorcommerce/platform/internal/events"
	"github.com/vectorcommerce/platform/internal/ids"
	"github.com/vectorcommerce/platform/internal/lock"
	"github.com/vectorcommerce/platform/internal/metricsx"
	"github.com/vectorcommerce/platform/internal/quantity"
)

// Store is the persistence port for the Product aggregate: load by version,
// persist with an optimistic version check, per §4.1's mutation wrapper.
// internal/inventory/postgres implements it.
type Store interface {
	Load(ctx context.Context, productID ids.ID) (*Product, error)
	Save(ctx context.Context, p *Product, expectedVersion int64) error
}

// Publisher is the narrow slice of internal/broker.Publisher the ledger
// needs, kept here to avoid a dependency from inventory to broker's wire
// concerns.
type Publisher interface {
	Publish(ctx context.Context, topic string, env events.Envelope) error
}

// LockService is the slice of internal/lock.Service the ledger depends on.
// *lock.Service satisfies it; defining it here (consumer side) keeps the
// ledger testable without a live Redis.
type LockService interface {
	Acquire(ctx context.Context, key string, opts lock.AcquireOptions) (*lock.Handle, error)
	AcquireInOrder(ctx context.Context, keys []string, opts lock.AcquireOptions) ([]*lock.Handle, error)
}

const (
	TopicStockReserved = "inventory.stock-reserved"
	TopicStockReleased = "inventory.stock-released"
	TopicStockDeducted = "inventory.stock-deducted"
	TopicLowStockAlert = "inventory.low-stock-alert"
)

// Service is the stock ledger of §4.1: it owns the lock-acquire,
// load-mutate-persist, optimistic-retry, and event-emission sequence
// around the pure Product aggregate methods.
type Service struct {
	store      Store
	locks      LockService
	publisher  Publisher
	logger     *slog.Logger
	metrics    *metricsx.LedgerMetrics
	maxRetries int
	lockWait   time.Duration
	lockLease  time.Duration
}

func NewService(store Store, locks LockService, publisher Publisher, logger *slog.Logger, metrics *metricsx.LedgerMetrics, maxRetries int, lockWait, lockLease time.Duration) *Service {
	return &Service{
		store:      store,
		locks:      locks,
		publisher:  publisher,
		logger:     logger,
		metrics:    metrics,
		maxRetries: maxRetries,
		lockWait:   lockWait,
		lockLease:  lockLease,
	}
}

// withProduct acquires productID's lock, loads the aggregate, runs mutate,
// and persists with an optimistic version check, retrying a lost check up
// to s.maxRetries times with exponential backoff before surfacing
// ConcurrencyConflict. mutate must be free of side effects beyond the
// aggregate, since it may run more than once.
func (s *Service) withProduct(ctx context.Context, productID ids.ID, caller string, mutate func(p *Product) error) (*Product, error) {
	h, err := s.locks.Acquire(ctx, "product:"+productID.String(), lock.AcquireOptions{
		WaitTime:  s.lockWait,
		LeaseTime: s.lockLease,
		Caller:    caller,
	})
	if err != nil {
		return nil, err
	}
	if h != nil {
		defer h.Release(ctx)
	}

	var result *Product
	operation := func() (*Product, error) {
		p, err := s.store.Load(ctx, productID)
		if err != nil {
			return nil, err
		}
		expectedVersion := p.Version
		if err := mutate(p); err != nil {
			return nil, backoff.Permanent(err)
		}
		if err := s.store.Save(ctx, p, expectedVersion); err != nil {
			if errs.KindOf(err) == errs.Conflict {
				return nil, err // retryable: a concurrent writer won the race
			}
			return nil, backoff.Permanent(err)
		}
		return p, nil
	}

	result, err = backoff.Retry(ctx, operation,
		backoff.WithMaxTries(uint(s.maxRetries)),
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
	)
	if err != nil {
		if errs.KindOf(err) == errs.Conflict {
			return nil, errs.Wrap(errs.Conflict, errs.CodeConcurrencyConflict, "inventory: exhausted retries on "+productID.String(), err)
		}
		return nil, err
	}
	return result, nil
}

// Reserve implements reserve(productId, orderId, quantity, ttl) of §4.1.
func (s *Service) Reserve(ctx context.Context, productID, orderID ids.ID, q quantity.Quantity, ttl time.Duration, correlationID ids.ID) (Reservation, error) {
	var reservation Reservation
	p, err := s.withProduct(ctx, productID, orderID.String(), func(p *Product) error {
		r, err := p.Reserve(orderID, q, ttl, time.Now())
		if err != nil {
			return err
		}
		reservation = r
		return nil
	})
	if err != nil {
		if errs.CodeOf(err) == errs.CodeInsufficientStock {
			s.metrics.InsufficientStock.Inc()
		}
		return Reservation{}, err
	}

	s.metrics.Reserved.Inc()

	env, envErr := events.NewEnvelope(events.TypeStockReserved, productID, events.AggregateProduct, p.Version, correlationID, "inventory", time.Now(),
		events.StockReservedPayload{
			InventoryID:   productID.String(),
			ReservationID: reservation.ReservationID.String(),
			OrderID:       orderID.String(),
			Items:         []events.ReservedItem{{ProductID: productID.String(), Quantity: int(q)}},
			ExpiresAt:     reservation.ExpiresAt,
		})
	if envErr != nil {
		s.logger.Error("failed to build StockReserved envelope", "product_id", productID.String(), "error", envErr)
	} else if err := s.publisher.Publish(ctx, TopicStockReserved, env); err != nil {
		s.logger.Error("failed to publish StockReserved", "product_id", productID.String(), "error", err)
	}

	s.emitLowStockIfNeeded(ctx, p, correlationID)
	return reservation, nil
}

// Confirm implements confirm(reservationId) of §4.1, emitting
// StockDeducted on success.
func (s *Service) Confirm(ctx context.Context, productID, reservationID ids.ID, caller string, correlationID ids.ID) error {
	p, err := s.withProduct(ctx, productID, caller, func(p *Product) error {
		return p.Confirm(reservationID)
	})
	if err != nil {
		return err
	}
	s.metrics.Confirmed.Inc()

	r := p.Reservations[reservationID]
	env, err := events.NewEnvelope(events.TypeStockDeducted, productID, events.AggregateProduct, p.Version, correlationID, "inventory", time.Now(),
		events.StockDeductedPayload{
			InventoryID:   productID.String(),
			ReservationID: reservationID.String(),
			OrderID:       r.OrderID.String(),
			Items:         []events.ReservedItem{{ProductID: productID.String(), Quantity: int(r.Quantity)}},
			DeductedAt:    time.Now(),
		})
	if err != nil {
		return err
	}
	if err := s.publisher.Publish(ctx, TopicStockDeducted, env); err != nil {
		s.logger.Error("failed to publish StockDeducted", "product_id", productID.String(), "error", err)
	}
	return nil
}

// Release implements release(reservationId, reason) of §4.1, emitting
// StockReleased on success.
func (s *Service) Release(ctx context.Context, productID, reservationID ids.ID, reason ReleaseReason, caller string, correlationID ids.ID) error {
	p, err := s.withProduct(ctx, productID, caller, func(p *Product) error {
		return p.Release(reservationID, reason)
	})
	if err != nil {
		return err
	}
	s.metrics.Released.WithLabelValues(string(reason)).Inc()

	r := p.Reservations[reservationID]
	env, err := events.NewEnvelope(events.TypeStockReleased, productID, events.AggregateProduct, p.Version, correlationID, "inventory", time.Now(),
		events.StockReleasedPayload{
			InventoryID:    productID.String(),
			ReservationID:  reservationID.String(),
			OrderID:        r.OrderID.String(),
			ReleaseReason:  events.ReleaseReason(reason),
			Items:          []events.ReservedItem{{ProductID: productID.String(), Quantity: int(r.Quantity)}},
			ReleasedBy:     caller,
			ReleasedByType: "service",
		})
	if err != nil {
		return err
	}
	if err := s.publisher.Publish(ctx, TopicStockReleased, env); err != nil {
		s.logger.Error("failed to publish StockReleased", "product_id", productID.String(), "error", err)
	}
	return nil
}

// ExpireReservation implements the per-reservation step of sweepExpired
// from §4.1: it transitions one ACTIVE reservation to EXPIRED and emits
// StockReleased(releaseReason=EXPIRED) per §4.7. Used only by Expirer.
func (s *Service) ExpireReservation(ctx context.Context, productID, reservationID ids.ID, correlationID ids.ID) error {
	p, err := s.withProduct(ctx, productID, "expirer", func(p *Product) error {
		return p.ExpireReservation(reservationID)
	})
	if err != nil {
		return err
	}
	s.metrics.Expired.Inc()

	r := p.Reservations[reservationID]
	env, err := events.NewEnvelope(events.TypeStockReleased, productID, events.AggregateProduct, p.Version, correlationID, "inventory", time.Now(),
		events.StockReleasedPayload{
			InventoryID:    productID.String(),
			ReservationID:  reservationID.String(),
			OrderID:        r.OrderID.String(),
			ReleaseReason:  events.ReleaseReason(ReleaseReasonExpired),
			Items:          []events.ReservedItem{{ProductID: productID.String(), Quantity: int(r.Quantity)}},
			ReleasedBy:     "expirer",
			ReleasedByType: "scheduler",
		})
	if err != nil {
		return err
	}
	if err := s.publisher.Publish(ctx, TopicStockReleased, env); err != nil {
		s.logger.Error("failed to publish StockReleased", "product_id", productID.String(), "error", err)
	}
	return nil
}

// Adjust implements adjust(productId, delta, reason) of §4.1.
func (s *Service) Adjust(ctx context.Context, productID ids.ID, delta int64, reason string, caller string) error {
	p, err := s.withProduct(ctx, productID, caller, func(p *Product) error {
		return p.Adjust(delta, reason)
	})
	if err != nil {
		return err
	}
	s.emitLowStockIfNeeded(ctx, p, ids.New())
	return nil
}

func (s *Service) emitLowStockIfNeeded(ctx context.Context, p *Product, correlationID ids.ID) {
	if !p.IsLowStock() {
		return
	}
	s.metrics.LowStockAlerts.Inc()

	env, err := events.NewEnvelope(events.TypeLowStockAlert, p.ProductID, events.AggregateProduct, p.Version, correlationID, "inventory", time.Now(),
		events.LowStockAlertPayload{
			InventoryID: p.ProductID.String(),
			AlertLevel:  "WARNING",
			LowStockItems: []events.LowStockItem{{
				ProductID:         p.ProductID.String(),
				AvailableQuantity: int(p.Stock.Available),
				LowStockThreshold: int(p.LowStockThreshold),
			}},
		})
	if err != nil {
		s.logger.Error("failed to build LowStockAlert envelope", "product_id", p.ProductID.String(), "error", err)
		return
	}
	// Fire-and-forget per §4.1: a publish failure here never fails the
	// mutation that triggered it.
	if err := s.publisher.Publish(ctx, TopicLowStockAlert, env); err != nil {
		s.logger.Warn("failed to publish LowStockAlert", "product_id", p.ProductID.String(), "error", err)
	}
}
