package inventory

import (
	"context"
	"time"

	"github.com/vectorcommerce/platform/internal/events"
	"github.com/vectorcommerce/platform/internal/ids"
	"github.com/vectorcommerce/platform/internal/lock"
	"github.com/vectorcommerce/platform/internal/quantity"
)

// BatchLine is one product/quantity pair in a multi-product reserve.
type BatchLine struct {
	ProductID ids.ID
	Quantity  quantity.Quantity
}

// ReserveBatch implements §4.1's atomic multi-product reserve: either every
// line is reserved or none are. Locks are acquired in ascending productId
// order by internal/lock.AcquireInOrder to avoid cross-order lock-cycle
// deadlock; any line failure releases every reservation already taken.
func (s *Service) ReserveBatch(ctx context.Context, orderID ids.ID, lines []BatchLine, ttl time.Duration, correlationID ids.ID) (map[ids.ID]Reservation, error) {
	keys := make([]string, len(lines))
	for i, l := range lines {
		keys[i] = "product:" + l.ProductID.String()
	}

	handles, err := s.locks.AcquireInOrder(ctx, keys, lock.AcquireOptions{
		WaitTime:  s.lockWait,
		LeaseTime: s.lockLease,
		Caller:    orderID.String(),
	})
	if err != nil {
		return nil, err
	}
	defer func() {
		for _, h := range handles {
			if h != nil {
				h.Release(ctx)
			}
		}
	}()

	reserved := make(map[ids.ID]Reservation, len(lines))

	for _, l := range lines {
		p, err := s.store.Load(ctx, l.ProductID)
		if err != nil {
			s.rollbackBatch(ctx, orderID, reserved, correlationID)
			return nil, err
		}
		expectedVersion := p.Version

		r, err := p.Reserve(orderID, l.Quantity, ttl, time.Now())
		if err != nil {
			s.rollbackBatch(ctx, orderID, reserved, correlationID)
			return nil, err
		}
		if err := s.store.Save(ctx, p, expectedVersion); err != nil {
			s.rollbackBatch(ctx, orderID, reserved, correlationID)
			return nil, err
		}

		reserved[l.ProductID] = r
		s.metrics.Reserved.Inc()

		env, envErr := events.NewEnvelope(events.TypeStockReserved, l.ProductID, events.AggregateProduct, p.Version, correlationID, "inventory", time.Now(),
			events.StockReservedPayload{
				InventoryID:   l.ProductID.String(),
				ReservationID: r.ReservationID.String(),
				OrderID:       orderID.String(),
				Items:         []events.ReservedItem{{ProductID: l.ProductID.String(), Quantity: int(l.Quantity)}},
				ExpiresAt:     r.ExpiresAt,
			})
		if envErr != nil {
			s.logger.Error("failed to build StockReserved envelope", "product_id", l.ProductID.String(), "error", envErr)
		} else if err := s.publisher.Publish(ctx, TopicStockReserved, env); err != nil {
			s.logger.Error("failed to publish StockReserved", "product_id", l.ProductID.String(), "error", err)
		}

		s.emitLowStockIfNeeded(ctx, p, correlationID)
	}

	return reserved, nil
}

// rollbackBatch releases every reservation already taken in a failed
// batch, under the same per-product locks already held by the caller.
func (s *Service) rollbackBatch(ctx context.Context, orderID ids.ID, reserved map[ids.ID]Reservation, correlationID ids.ID) {
	for productID, r := range reserved {
		if err := s.Release(ctx, productID, r.ReservationID, ReleaseReasonManualAdjustment, orderID.String(), correlationID); err != nil {
			s.logger.Error("batch rollback release failed", "product_id", productID.String(), "reservation_id", r.ReservationID.String(), "error", err)
		}
	}
}
