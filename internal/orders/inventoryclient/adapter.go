// Package inventoryclient implements orders.InventoryClient, the saga's
// outbound port into the inventory bounded context. It wraps
// *inventory.Service directly; there is no network client, since both contexts run in
// one process for this module and nothing in orders itself is allowed to
// import internal/inventory. Only this adapter — outside the orders
// package — is allowed to see both sides of the boundary.
package inventoryclient

import (
	"context"
	"time"

	"github.com/vectorcommerce/platform/internal/errs"
	"github.com/vectorcommerce/platform/internal/ids"
	"github.com/vectorcommerce/platform/internal/inventory"
	"github.com/vectorcommerce/platform/internal/orders"
	"github.com/vectorcommerce/platform/internal/quantity"
)

// Adapter satisfies orders.InventoryClient against a local *inventory.Service.
type Adapter struct {
	service *inventory.Service
}

func New(service *inventory.Service) *Adapter {
	return &Adapter{service: service}
}

func (a *Adapter) ReserveBatch(ctx context.Context, orderID ids.ID, lines []orders.InventoryLine, ttl time.Duration, correlationID ids.ID) ([]orders.ReservationResult, error) {
	batchLines := make([]inventory.BatchLine, len(lines))
	for i, l := range lines {
		q, err := quantity.New(int64(l.Quantity))
		if err != nil {
			return nil, errs.Wrap(errs.Validation, errs.CodeInvalidOrder, "inventoryclient: invalid line quantity", err)
		}
		batchLines[i] = inventory.BatchLine{ProductID: l.ProductID, Quantity: q}
	}

	reservations, err := a.service.ReserveBatch(ctx, orderID, batchLines, ttl, correlationID)
	if err != nil {
		return nil, err
	}

	out := make([]orders.ReservationResult, 0, len(reservations))
	for productID, r := range reservations {
		out = append(out, orders.ReservationResult{ProductID: productID, ReservationID: r.ReservationID})
	}
	return out, nil
}

func (a *Adapter) Confirm(ctx context.Context, productID, reservationID ids.ID, caller string, correlationID ids.ID) error {
	return a.service.Confirm(ctx, productID, reservationID, caller, correlationID)
}

// Release maps saga.go's plain-string release reasons onto
// inventory.ReleaseReason. An unrecognized string falls back to
// ORDER_CANCELLED rather than failing the whole compensation step.
func (a *Adapter) Release(ctx context.Context, productID, reservationID ids.ID, reason string, caller string, correlationID ids.ID) error {
	return a.service.Release(ctx, productID, reservationID, releaseReason(reason), caller, correlationID)
}

func releaseReason(reason string) inventory.ReleaseReason {
	switch reason {
	case "payment_failed":
		return inventory.ReleaseReasonPaymentFailed
	case "expired":
		return inventory.ReleaseReasonExpired
	case "manual_adjustment":
		return inventory.ReleaseReasonManualAdjustment
	default:
		return inventory.ReleaseReasonOrderCancelled
	}
}

var _ orders.InventoryClient = (*Adapter)(nil)
