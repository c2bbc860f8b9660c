// Package orders implements the order context of §4.2 and §4.5: the Order
// aggregate and its state machine, the business rules around duplicate
// submission and cancellation windows, and the orchestrated saga that
// drives an order through inventory reservation and payment.
package orders

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/vectorcommerce/platform/internal/errs"
	"github.com/vectorcommerce/platform/internal/ids"
	"github.com/vectorcommerce/platform/internal/money"
)

// Status is one state in the order lifecycle of §3/§4.2.
type Status string

const (
	StatusPending            Status = "PENDING"
	StatusConfirmed          Status = "CONFIRMED"
	StatusPaymentPending     Status = "PAYMENT_PENDING"
	StatusPaymentProcessing  Status = "PAYMENT_PROCESSING"
	StatusPaid               Status = "PAID"
	StatusPreparing          Status = "PREPARING"
	StatusShipped            Status = "SHIPPED"
	StatusDelivered          Status = "DELIVERED"
	StatusCompleted          Status = "COMPLETED"
	StatusCancelled          Status = "CANCELLED"
	StatusRefunding          Status = "REFUNDING"
	StatusRefunded           Status = "REFUNDED"
	StatusFailed             Status = "FAILED"
)

func (s Status) isTerminal() bool {
	switch s {
	case StatusCancelled, StatusRefunded, StatusFailed, StatusCompleted:
		return true
	default:
		return false
	}
}

// action identifies one edge of the transition table in §4.2.
type action string

const (
	actionConfirm        action = "confirm"
	actionStartPayment   action = "startPayment"
	actionMarkPaid       action = "markPaid"
	actionMarkFailed     action = "markFailed"
	actionCancel         action = "cancel"
	actionRefund         action = "refund"
	actionCompleteRefund action = "completeRefund"
	actionPrepare        action = "prepare"
	actionShip           action = "ship"
	actionDeliver        action = "deliver"
	actionComplete       action = "complete"
)

// transitions enumerates every legal (from, action) -> to edge from §4.2's
// table. Anything absent fails InvalidTransition.
var transitions = map[Status]map[action]Status{
	StatusPending: {
		actionConfirm:    StatusConfirmed,
		actionCancel:     StatusCancelled,
		actionMarkFailed: StatusFailed, // InsufficientStock at §4.5 step 2
	},
	StatusConfirmed: {
		actionStartPayment: StatusPaymentPending,
		actionCancel:       StatusCancelled,
	},
	StatusPaymentPending: {
		actionStartPayment: StatusPaymentProcessing,
		// Not cancellable: the payment gateway has been engaged but not
		// yet charged (§4.2).
	},
	StatusPaymentProcessing: {
		actionMarkPaid:   StatusPaid,
		actionMarkFailed: StatusFailed,
		actionCancel:     StatusCancelled,
	},
	StatusPaid: {
		actionCancel:  StatusCancelled,
		actionRefund:  StatusRefunding,
		actionPrepare: StatusPreparing,
	},
	StatusPreparing: {
		actionCancel: StatusCancelled,
		actionRefund: StatusRefunding,
		actionShip:   StatusShipped,
	},
	StatusShipped: {
		actionRefund:  StatusRefunding,
		actionDeliver: StatusDelivered,
	},
	StatusDelivered: {
		actionRefund:   StatusRefunding,
		actionComplete: StatusCompleted,
	},
	StatusRefunding: {
		actionCompleteRefund: StatusRefunded,
	},
}

// OrderItem is one line of an Order; uniqueness on ProductID is enforced
// by NewOrder.
type OrderItem struct {
	ProductID     ids.ID
	ProductName   string
	Quantity      uint64
	UnitPrice     money.Money
	LineTotal     money.Money
	ReservationID *ids.ID
}

const (
	minOrderItems = 1
	maxOrderItems = 100
)

// Order is the order-context aggregate root of §3.
type Order struct {
	OrderID            ids.ID
	CustomerID         string
	Status             Status
	Items              []OrderItem
	TotalAmount        money.Money
	PaymentID          *string
	CancellationReason *string
	ContentHash        string
	CreatedAt          time.Time
	LastModifiedAt     time.Time
	Version            int64
}

// NewOrder constructs a PENDING order from customerID and items, validating
// §3's invariants: item count in [1,100], unique productId per line,
// quantity >= 1, non-negative unit prices, single currency.
func NewOrder(customerID string, items []OrderItem, now time.Time) (*Order, error) {
	if len(items) < minOrderItems || len(items) > maxOrderItems {
		return nil, errs.New(errs.Validation, errs.CodeInvalidOrder, "orders: item count must be between 1 and 100")
	}

	seen := map[ids.ID]bool{}
	currency := ""

	for i, it := range items {
		if seen[it.ProductID] {
			return nil, errs.New(errs.Validation, errs.CodeInvalidOrder, "orders: duplicate productId "+it.ProductID.String())
		}
		seen[it.ProductID] = true

		if it.Quantity < 1 {
			return nil, errs.New(errs.Validation, errs.CodeInvalidOrder, "orders: line quantity must be >= 1")
		}
		if it.UnitPrice.IsNegative() {
			return nil, errs.New(errs.Validation, errs.CodeInvalidOrder, "orders: unit price must be non-negative")
		}
		if currency == "" {
			currency = it.UnitPrice.Currency()
		} else if it.UnitPrice.Currency() != currency {
			return nil, errs.New(errs.Validation, errs.CodeInvalidOrder, "orders: all line items must share one currency")
		}

		lineTotal, err := it.UnitPrice.MulScalar(int64(it.Quantity))
		if err != nil {
			return nil, err
		}
		items[i].LineTotal = lineTotal
	}

	total := money.Zero(currency)
	for _, it := range items {
		sum, err := total.Add(it.LineTotal)
		if err != nil {
			return nil, err
		}
		total = sum
	}

	o := &Order{
		OrderID:        ids.New(),
		CustomerID:     customerID,
		Status:         StatusPending,
		Items:          items,
		TotalAmount:    total,
		CreatedAt:      now,
		LastModifiedAt: now,
		Version:        1,
	}
	o.ContentHash = contentHash(customerID, items)
	return o, nil
}

// Transition applies action, moving Status forward per the table above.
// An illegal transition fails loudly with InvalidTransition and never
// mutates the aggregate. Re-applying the same terminal edge (e.g. cancel
// on an already-CANCELLED order) is a no-op success.
func (o *Order) transition(a action) error {
	if o.Status.isTerminal() {
		// Re-submitting the edge that produced this terminal status is
		// idempotent per §4.2; every other action is rejected.
		enteredBy := map[Status]action{
			StatusCancelled: actionCancel,
			StatusRefunded:  actionCompleteRefund,
			StatusFailed:    actionMarkFailed,
			StatusCompleted: actionComplete,
		}
		if enteredBy[o.Status] == a {
			return nil
		}
		return errs.New(errs.BusinessRule, errs.CodeInvalidTransition,
			"orders: action "+string(a)+" is not legal from terminal "+string(o.Status))
	}
	edges, ok := transitions[o.Status]
	if !ok {
		return errs.New(errs.BusinessRule, errs.CodeInvalidTransition, "orders: no transitions defined from "+string(o.Status))
	}
	next, ok := edges[a]
	if !ok {
		return errs.New(errs.BusinessRule, errs.CodeInvalidTransition,
			"orders: action "+string(a)+" is not legal from "+string(o.Status))
	}
	o.Status = next
	o.Version++
	o.LastModifiedAt = time.Now()
	return nil
}

func (o *Order) Confirm() error      { return o.transition(actionConfirm) }
func (o *Order) StartPayment() error { return o.transition(actionStartPayment) }

// MarkPaid transitions to PAID and records paymentID, satisfying the
// invariant that paymentId is non-null iff status has reached PAID or
// beyond.
func (o *Order) MarkPaid(paymentID string) error {
	if err := o.transition(actionMarkPaid); err != nil {
		return err
	}
	o.PaymentID = &paymentID
	return nil
}

func (o *Order) MarkFailed() error { return o.transition(actionMarkFailed) }
func (o *Order) Prepare() error    { return o.transition(actionPrepare) }
func (o *Order) Ship() error       { return o.transition(actionShip) }
func (o *Order) Deliver() error    { return o.transition(actionDeliver) }
func (o *Order) Complete() error   { return o.transition(actionComplete) }

// StartRefund and CompleteRefund drive the REFUNDING -> REFUNDED branch.
func (o *Order) StartRefund() error    { return o.transition(actionRefund) }
func (o *Order) CompleteRefund() error { return o.transition(actionCompleteRefund) }

// Cancel transitions to CANCELLED, subject to §4.2's business rule (b):
// customer-initiated cancellation after PAID is only permitted within
// cancellationWindow. Cancellation from pre-payment states is unrestricted.
func (o *Order) Cancel(reason string, now time.Time, cancellationWindow time.Duration) error {
	if o.Status == StatusPaid || isPostPaidNonTerminal(o.Status) {
		if now.Sub(o.paidAt()).After(cancellationWindow) {
			return errs.New(errs.BusinessRule, errs.CodeInvalidTransition, "orders: cancellation window has elapsed")
		}
	}
	if err := o.transition(actionCancel); err != nil {
		return err
	}
	o.CancellationReason = &reason
	return nil
}

func isPostPaidNonTerminal(s Status) bool {
	switch s {
	case StatusPreparing, StatusShipped, StatusDelivered:
		return true
	default:
		return false
	}
}

// paidAt approximates the moment payment completed as LastModifiedAt; the
// aggregate does not carry a dedicated PaidAt field, since §3 does not name
// one. For a PAID order that is the time MarkPaid ran; for an order already
// past PAID (e.g. PREPARING) it is the time of that later transition, so
// the cancellation window is measured from there.
func (o *Order) paidAt() time.Time {
	return o.LastModifiedAt
}

// AttachReservations records the reservation id inventory assigned each
// line item, per §4.5 step 3. It is the saga's bridge between the batch
// reserve response (keyed by productId) and the aggregate's own items.
func (o *Order) AttachReservations(byProduct map[ids.ID]ids.ID) error {
	for i, it := range o.Items {
		r, ok := byProduct[it.ProductID]
		if !ok {
			return errs.New(errs.Fatal, "", "orders: no reservation returned for productId "+it.ProductID.String())
		}
		o.Items[i].ReservationID = &r
	}
	return nil
}

// MatchesContent reports whether other has the same customer and the same
// content hash, for the duplicate-order check of §4.2's business rule (a).
func (o *Order) MatchesContent(customerID, contentHash string) bool {
	return o.CustomerID == customerID && o.ContentHash == contentHash && !o.Status.isTerminal()
}

// contentHash summarizes customerID and the order's line items (product
// and quantity only, order-independent) for the duplicate-order check of
// §4.2's business rule (a). Two requests with the same customer and the
// same set of product/quantity pairs hash identically regardless of line
// order.
func contentHash(customerID string, items []OrderItem) string {
	lines := make([]string, len(items))
	for i, it := range items {
		lines[i] = it.ProductID.String() + ":" + strconv.FormatUint(it.Quantity, 10)
	}
	sort.Strings(lines)
	return customerID + "|" + strings.Join(lines, ",")
}
