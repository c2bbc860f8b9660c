// Package fulfillment drives the order aggregate's post-payment leg,
// PREPARING -> SHIPPED -> DELIVERED -> COMPLETED, the transitions §4.2
// names but the saga walkthrough of §4.5 never triggers. Each step is a
// single load-transition-save: a consumer (or, eventually, a logistics
// integration) reacts to one upstream signal and pushes the order exactly
// one step forward.
package fulfillment

import (
	"context"
	"log/slog"

	"github.com/vectorcommerce/platform/internal/errs"
	"github.com/vectorcommerce/platform/internal/ids"
	"github.com/vectorcommerce/platform/internal/metricsx"
	"github.com/vectorcommerce/platform/internal/orders"
)

// Store is the narrow slice of internal/orders/postgres.Store this service
// needs: load the aggregate, persist the next transition under its
// existing optimistic version check. No outbox: none of these transitions
// have a wire event defined in the external-interfaces contract.
type Store interface {
	Load(ctx context.Context, orderID ids.ID) (*orders.Order, error)
	Save(ctx context.Context, o *orders.Order, expectedVersion int64) error
}

// Service applies one load-transition-save step at a time. Transitions
// beyond Prepare (Ship, Deliver, Complete) have no upstream trigger defined
// by this system's event contract — they exist for whatever external
// logistics integration a deployment wires in, out of scope per spec.md's
// Non-goals on warehouse/location routing.
type Service struct {
	store   Store
	logger  *slog.Logger
	metrics *metricsx.OrderMetrics
}

func NewService(store Store, logger *slog.Logger, metrics *metricsx.OrderMetrics) *Service {
	return &Service{store: store, logger: logger, metrics: metrics}
}

func (s *Service) Prepare(ctx context.Context, orderID ids.ID) error {
	return s.step(ctx, orderID, (*orders.Order).Prepare, "prepare")
}

func (s *Service) Ship(ctx context.Context, orderID ids.ID) error {
	return s.step(ctx, orderID, (*orders.Order).Ship, "ship")
}

func (s *Service) Deliver(ctx context.Context, orderID ids.ID) error {
	return s.step(ctx, orderID, (*orders.Order).Deliver, "deliver")
}

func (s *Service) Complete(ctx context.Context, orderID ids.ID) error {
	if err := s.step(ctx, orderID, (*orders.Order).Complete, "complete"); err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.Completed.Inc()
	}
	return nil
}

func (s *Service) step(ctx context.Context, orderID ids.ID, action func(*orders.Order) error, name string) error {
	o, err := s.store.Load(ctx, orderID)
	if err != nil {
		return err
	}
	expectedVersion := o.Version
	if err := action(o); err != nil {
		if errs.KindOf(err) == errs.BusinessRule {
			s.logger.Warn("fulfillment: illegal transition, skipping", "order_id", orderID.String(), "action", name, "error", err)
			return nil
		}
		return err
	}
	return s.store.Save(ctx, o, expectedVersion)
}
