package orders

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/vectorcommerce/platform/internal/errs"
	"github.com/vectorcommerce/platform/internal/events"
	"github.com/vectorcommerce/platform/internal/ids"
	"github.com/vectorcommerce/platform/internal/money"
)

// Store is the persistence port the saga depends on. internal/orders/postgres
// implements it.
type Store interface {
	Load(ctx context.Context, orderID ids.ID) (*Order, error)
	Save(ctx context.Context, o *Order, expectedVersion int64) error
	SaveWithOutbox(ctx context.Context, o *Order, expectedVersion int64, env events.Envelope) error
	FindMatchingContent(ctx context.Context, customerID, contentHash string) (*Order, error)
}

// InventoryLine is one product/quantity pair of a create-order request,
// before inventory has assigned it a reservation.
type InventoryLine struct {
	ProductID ids.ID
	Quantity  uint64
}

// ReservationResult is one line of InventoryClient.ReserveBatch's response.
type ReservationResult struct {
	ProductID     ids.ID
	ReservationID ids.ID
}

// InventoryClient is the saga's outbound port into the inventory context of
// §4.1, implemented in production by internal/orders/inventoryclient (an
// in-process adapter over *inventory.Service) and stubbed by a fake in
// tests. Release's reason
// is a plain string rather than inventory.ReleaseReason so this package
// never imports internal/inventory: orders and inventory are separate
// bounded contexts that only ever talk across this port.
type InventoryClient interface {
	ReserveBatch(ctx context.Context, orderID ids.ID, lines []InventoryLine, ttl time.Duration, correlationID ids.ID) ([]ReservationResult, error)
	Confirm(ctx context.Context, productID, reservationID ids.ID, caller string, correlationID ids.ID) error
	Release(ctx context.Context, productID, reservationID ids.ID, reason string, caller string, correlationID ids.ID) error
}

// PaymentProcessor is the saga's outbound port into the payment gateway of
// §9 ("external payment gateway... we specify only the contract").
// internal/payment's Stripe adapter implements it.
type PaymentProcessor interface {
	Charge(ctx context.Context, orderID ids.ID, customerID string, amount money.Money, correlationID ids.ID) (paymentID string, err error)
	Refund(ctx context.Context, paymentID string, amount money.Money, correlationID ids.ID) error
}

// Coordinator is the orchestrated saga of §4.5: the order context drives
// every step directly (reserve, charge, confirm) rather than waiting on
// consumed events, publishing one outbox event per local transition for
// everyone else to observe. The happy path runs duplicate check -> create ->
// reserve -> charge -> confirm in sequence; each step has a matching
// compensation so a failure partway through never leaves stock reserved
// against an order that will never pay for it.
type Coordinator struct {
	store      Store
	inventory  InventoryClient
	payment    PaymentProcessor
	logger     *slog.Logger
	cancelWin  time.Duration
	dupWindow  time.Duration
	reserveTTL time.Duration
	maxRetries int
	source     string
}

func NewCoordinator(store Store, inventory InventoryClient, payment PaymentProcessor, logger *slog.Logger,
	cancellationWindow, duplicateWindow, reservationTTL time.Duration, maxConfirmRetries int) *Coordinator {
	return &Coordinator{
		store:      store,
		inventory:  inventory,
		payment:    payment,
		logger:     logger,
		cancelWin:  cancellationWindow,
		dupWindow:  duplicateWindow,
		reserveTTL: reservationTTL,
		maxRetries: maxConfirmRetries,
		source:     "orders",
	}
}

// CreateOrder drives §4.5 steps 1-5 of the happy path, short-circuiting into
// the matching compensation on failure. correlationID threads through every
// emitted event and outbound call for end-to-end tracing.
func (c *Coordinator) CreateOrder(ctx context.Context, customerID string, items []OrderItem, correlationID ids.ID, now time.Time) (*Order, error) {
	o, err := NewOrder(customerID, items, now)
	if err != nil {
		return nil, err
	}

	if dup, err := c.store.FindMatchingContent(ctx, customerID, o.ContentHash); err != nil {
		return nil, err
	} else if dup != nil && now.Sub(dup.CreatedAt) <= c.dupWindow {
		return nil, errs.New(errs.Conflict, errs.CodeDuplicateOrder, "orders: duplicate order within window for customer "+customerID)
	}

	// Step 1: persist PENDING, emit OrderCreated. expectedVersion 0 routes
	// postgres's Save/SaveWithOutbox to its insert path.
	createdEnv, err := c.envelope(events.TypeOrderCreated, o, correlationID, orderCreatedPayload(o))
	if err != nil {
		return nil, err
	}
	if err := c.store.SaveWithOutbox(ctx, o, 0, createdEnv); err != nil {
		return nil, err
	}
	// persistedVersion always holds the version the store currently has on
	// disk: it is snapshotted right after each successful persist, then
	// carried unchanged through however many in-memory transitions happen
	// before the next one, per the optimistic-check convention Save expects
	// (compare internal/inventory/ledger.go's withProduct, which snapshots
	// p.Version before mutate runs rather than after).
	persistedVersion := o.Version

	// Step 2: reserve every line atomically. StockReserved is emitted by
	// inventory itself (internal/inventory.Service.ReserveBatch), not here.
	lines := make([]InventoryLine, len(o.Items))
	for i, it := range o.Items {
		lines[i] = InventoryLine{ProductID: it.ProductID, Quantity: it.Quantity}
	}

	reservations, err := c.inventory.ReserveBatch(ctx, o.OrderID, lines, c.reserveTTL, correlationID)
	if err != nil {
		return c.failOrder(ctx, o, persistedVersion, err, correlationID)
	}

	byProduct := make(map[ids.ID]ids.ID, len(reservations))
	for _, r := range reservations {
		byProduct[r.ProductID] = r.ReservationID
	}
	if err := o.AttachReservations(byProduct); err != nil {
		return c.failOrder(ctx, o, persistedVersion, err, correlationID)
	}

	// Step 3: CONFIRMED -> PAYMENT_PENDING -> invoke gateway -> PAYMENT_PROCESSING.
	if err := o.Confirm(); err != nil {
		return nil, err
	}
	if err := o.StartPayment(); err != nil {
		return nil, err
	}
	if err := c.store.Save(ctx, o, persistedVersion); err != nil {
		return nil, err
	}
	persistedVersion = o.Version

	paymentID, chargeErr := c.payment.Charge(ctx, o.OrderID, o.CustomerID, o.TotalAmount, correlationID)
	if err := o.StartPayment(); err != nil { // PAYMENT_PENDING -> PAYMENT_PROCESSING
		return nil, err
	}
	if chargeErr != nil {
		return c.declinePayment(ctx, o, persistedVersion, chargeErr, correlationID)
	}

	// Step 4: PAID, emit PaymentCompleted.
	if err := o.MarkPaid(paymentID); err != nil {
		return nil, err
	}
	paidEnv, err := c.envelope(events.TypePaymentCompleted, o, correlationID, events.PaymentCompletedPayload{
		PaymentID:  paymentID,
		OrderID:    o.OrderID.String(),
		CustomerID: o.CustomerID,
		Amount:     o.TotalAmount.MinorUnits(),
		Currency:   o.TotalAmount.Currency(),
		PaidAt:     now,
	})
	if err != nil {
		return nil, err
	}
	if err := c.store.SaveWithOutbox(ctx, o, persistedVersion, paidEnv); err != nil {
		return nil, err
	}
	persistedVersion = o.Version

	// Step 5: confirm every reservation, converting it to a deduction.
	// StockDeducted is emitted by inventory itself; a confirm failure here
	// retries with backoff, then falls back to the refund pathway.
	c.confirmReservations(ctx, o, persistedVersion, correlationID)

	return o, nil
}

// confirmReservations implements step 5 plus its compensation: a failing
// confirm retries with exponential backoff (rare per §4.5), and on
// exhaustion triggers a refund rather than leaving a paid order with
// undeducted stock.
func (c *Coordinator) confirmReservations(ctx context.Context, o *Order, persistedVersion int64, correlationID ids.ID) {
	for _, it := range o.Items {
		if it.ReservationID == nil {
			continue
		}
		productID, reservationID := it.ProductID, *it.ReservationID

		_, err := backoff.Retry(ctx, func() (struct{}, error) {
			err := c.inventory.Confirm(ctx, productID, reservationID, o.OrderID.String(), correlationID)
			if err != nil {
				return struct{}{}, err
			}
			return struct{}{}, nil
		}, backoff.WithMaxTries(uint(c.maxRetries)), backoff.WithBackOff(backoff.NewExponentialBackOff()))

		if err != nil {
			c.logger.Error("confirm exhausted retries, triggering refund pathway",
				"order_id", o.OrderID.String(), "product_id", productID.String(), "error", err)
			c.refundOrder(ctx, o, persistedVersion, "confirm failed after retries: "+err.Error(), correlationID)
			return
		}
	}
}

// refundOrder drives PAID -> REFUNDING -> REFUNDED and refunds the charge,
// used when step 5's confirm cannot be made to succeed.
func (c *Coordinator) refundOrder(ctx context.Context, o *Order, persistedVersion int64, reason string, correlationID ids.ID) {
	c.logger.Warn("starting refund pathway", "order_id", o.OrderID.String(), "reason", reason)
	if err := o.StartRefund(); err != nil {
		c.logger.Error("refund: cannot start refund", "order_id", o.OrderID.String(), "error", err)
		return
	}
	if err := c.store.Save(ctx, o, persistedVersion); err != nil {
		c.logger.Error("refund: persist REFUNDING failed", "order_id", o.OrderID.String(), "error", err)
		return
	}
	persistedVersion = o.Version

	if o.PaymentID != nil {
		if err := c.payment.Refund(ctx, *o.PaymentID, o.TotalAmount, correlationID); err != nil {
			c.logger.Error("refund: gateway refund failed", "order_id", o.OrderID.String(), "error", err)
		}
	}

	if err := o.CompleteRefund(); err != nil {
		c.logger.Error("refund: cannot complete refund", "order_id", o.OrderID.String(), "error", err)
		return
	}
	if err := c.store.Save(ctx, o, persistedVersion); err != nil {
		c.logger.Error("refund: persist REFUNDED failed", "order_id", o.OrderID.String(), "error", err)
	}
}

// declinePayment implements the "payment declined at step 3-4" row of
// §4.5's compensation table: emit PaymentFailed, release every reservation,
// cancel the order.
func (c *Coordinator) declinePayment(ctx context.Context, o *Order, persistedVersion int64, cause error, correlationID ids.ID) (*Order, error) {
	c.releaseAll(ctx, o, "payment_failed", correlationID)

	var paymentID string
	if o.PaymentID != nil {
		paymentID = *o.PaymentID
	}
	failedEnv, envErr := c.envelope(events.TypePaymentFailed, o, correlationID, events.PaymentFailedPayload{
		PaymentID:   paymentID,
		OrderID:     o.OrderID.String(),
		DeclineCode: errs.CodeOf(cause),
		DeclineMsg:  cause.Error(),
	})
	if envErr == nil {
		if err := c.store.SaveWithOutbox(ctx, o, persistedVersion, failedEnv); err != nil {
			c.logger.Error("decline: publish PaymentFailed failed", "order_id", o.OrderID.String(), "error", err)
		} else {
			persistedVersion = o.Version
		}
	}

	if err := o.transition(actionCancel); err != nil {
		return nil, err
	}
	cancelReason := "payment declined"
	o.CancellationReason = &cancelReason
	cancelledEnv, envErr := c.envelope(events.TypeOrderCancelled, o, correlationID, events.OrderCancelledPayload{
		OrderID:          o.OrderID.String(),
		CancelReason:     cancelReason,
		CancelReasonCode: "PAYMENT_DECLINED",
		CancelledBy:      "system",
		CancelledByType:  "saga",
	})
	if envErr != nil {
		return nil, envErr
	}
	if err := c.store.SaveWithOutbox(ctx, o, persistedVersion, cancelledEnv); err != nil {
		return nil, err
	}
	return o, errs.Wrap(errs.BusinessRule, errs.CodePaymentDeclined, "orders: payment declined for "+o.OrderID.String(), cause)
}

// failOrder implements the "InsufficientStock at step 2" row: emit
// OrderFailed, order -> FAILED.
func (c *Coordinator) failOrder(ctx context.Context, o *Order, persistedVersion int64, cause error, correlationID ids.ID) (*Order, error) {
	if err := o.transition(actionMarkFailed); err != nil {
		return nil, err
	}
	env, envErr := c.envelope(events.TypeOrderFailed, o, correlationID, events.OrderFailedPayload{
		OrderID: o.OrderID.String(),
		Reason:  cause.Error(),
	})
	if envErr != nil {
		return nil, envErr
	}
	if err := c.store.SaveWithOutbox(ctx, o, persistedVersion, env); err != nil {
		return nil, err
	}
	return o, cause
}

// CancelByCustomer implements the "Customer cancel while PAID" row: emit
// OrderCancelled with compensationActions=[STOCK_RESTORE], release any
// still-active reservations (already-deducted lines are reconciled by
// inventory's own stock-return handling of that action).
func (c *Coordinator) CancelByCustomer(ctx context.Context, orderID ids.ID, reason string, correlationID ids.ID, now time.Time) (*Order, error) {
	o, err := c.store.Load(ctx, orderID)
	if err != nil {
		return nil, err
	}
	persistedVersion := o.Version
	if err := o.Cancel(reason, now, c.cancelWin); err != nil {
		return nil, err
	}

	c.releaseAll(ctx, o, "customer_cancelled", correlationID)

	env, err := c.envelope(events.TypeOrderCancelled, o, correlationID, events.OrderCancelledPayload{
		OrderID:          o.OrderID.String(),
		CancelReason:     reason,
		CancelReasonCode: "CUSTOMER_REQUEST",
		CancelledBy:      o.CustomerID,
		CancelledByType:  "customer",
		CompensationActions: []events.CompensationAction{
			{ActionType: "STOCK_RESTORE", TargetService: "inventory"},
		},
	})
	if err != nil {
		return nil, err
	}
	if err := c.store.SaveWithOutbox(ctx, o, persistedVersion, env); err != nil {
		return nil, err
	}
	return o, nil
}

// releaseAll releases every reservation the order still carries, logging
// and continuing past individual failures so one stuck product never
// blocks the rest of the compensation.
func (c *Coordinator) releaseAll(ctx context.Context, o *Order, reason string, correlationID ids.ID) {
	for _, it := range o.Items {
		if it.ReservationID == nil {
			continue
		}
		if err := c.inventory.Release(ctx, it.ProductID, *it.ReservationID, reason, o.OrderID.String(), correlationID); err != nil {
			c.logger.Error("release during compensation failed",
				"order_id", o.OrderID.String(), "product_id", it.ProductID.String(), "error", err)
		}
	}
}

func (c *Coordinator) envelope(eventType events.Type, o *Order, correlationID ids.ID, payload any) (events.Envelope, error) {
	return events.NewEnvelope(eventType, o.OrderID, events.AggregateOrder, int(o.Version), correlationID, c.source, time.Now(), payload)
}

func orderCreatedPayload(o *Order) events.OrderCreatedPayload {
	lines := make([]events.OrderItemLine, len(o.Items))
	for i, it := range o.Items {
		lines[i] = events.OrderItemLine{
			ProductID: it.ProductID.String(),
			Quantity:  int(it.Quantity),
			UnitPrice: it.UnitPrice.MinorUnits(),
			Currency:  it.UnitPrice.Currency(),
		}
	}
	return events.OrderCreatedPayload{
		OrderID:     o.OrderID.String(),
		CustomerID:  o.CustomerID,
		Items:       lines,
		TotalAmount: o.TotalAmount.MinorUnits(),
		CreatedAt:   o.CreatedAt,
	}
}
