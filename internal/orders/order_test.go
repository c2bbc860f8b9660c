package orders

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vectorcommerce/platform/internal/errs"
	"github.com/vectorcommerce/platform/internal/ids"
	"github.com/vectorcommerce/platform/internal/money"
)

func mustMoney(t *testing.T, major, cents int64, currency string) money.Money {
	t.Helper()
	m, err := money.New(major, cents, currency)
	require.NoError(t, err)
	return m
}

func oneItem(t *testing.T, quantity uint64, price money.Money) []OrderItem {
	t.Helper()
	return []OrderItem{{
		ProductID:   ids.New(),
		ProductName: "widget",
		Quantity:    quantity,
		UnitPrice:   price,
	}}
}

func TestNewOrderComputesLineAndOrderTotals(t *testing.T) {
	items := []OrderItem{
		{ProductID: ids.New(), Quantity: 2, UnitPrice: mustMoney(t, 10, 0, "USD")},
		{ProductID: ids.New(), Quantity: 1, UnitPrice: mustMoney(t, 5, 50, "USD")},
	}
	o, err := NewOrder("cust-1", items, time.Now())
	require.NoError(t, err)

	require.Equal(t, int64(2000), o.Items[0].LineTotal.MinorUnits())
	require.Equal(t, int64(550), o.Items[1].LineTotal.MinorUnits())
	require.Equal(t, int64(2550), o.TotalAmount.MinorUnits())
	require.Equal(t, StatusPending, o.Status)
	require.Equal(t, int64(1), o.Version)
}

func TestNewOrderRejectsEmptyItems(t *testing.T) {
	_, err := NewOrder("cust-1", nil, time.Now())
	require.Error(t, err)
	require.Equal(t, errs.CodeInvalidOrder, errs.CodeOf(err))
}

func TestNewOrderRejectsTooManyItems(t *testing.T) {
	items := make([]OrderItem, maxOrderItems+1)
	for i := range items {
		items[i] = OrderItem{ProductID: ids.New(), Quantity: 1, UnitPrice: mustMoney(t, 1, 0, "USD")}
	}
	_, err := NewOrder("cust-1", items, time.Now())
	require.Error(t, err)
	require.Equal(t, errs.CodeInvalidOrder, errs.CodeOf(err))
}

func TestNewOrderRejectsDuplicateProductID(t *testing.T) {
	pid := ids.New()
	items := []OrderItem{
		{ProductID: pid, Quantity: 1, UnitPrice: mustMoney(t, 1, 0, "USD")},
		{ProductID: pid, Quantity: 2, UnitPrice: mustMoney(t, 1, 0, "USD")},
	}
	_, err := NewOrder("cust-1", items, time.Now())
	require.Error(t, err)
	require.Equal(t, errs.CodeInvalidOrder, errs.CodeOf(err))
}

func TestNewOrderRejectsZeroQuantity(t *testing.T) {
	items := oneItem(t, 0, mustMoney(t, 1, 0, "USD"))
	_, err := NewOrder("cust-1", items, time.Now())
	require.Error(t, err)
	require.Equal(t, errs.CodeInvalidOrder, errs.CodeOf(err))
}

func TestNewOrderRejectsMixedCurrencies(t *testing.T) {
	items := []OrderItem{
		{ProductID: ids.New(), Quantity: 1, UnitPrice: mustMoney(t, 1, 0, "USD")},
		{ProductID: ids.New(), Quantity: 1, UnitPrice: mustMoney(t, 1, 0, "EUR")},
	}
	_, err := NewOrder("cust-1", items, time.Now())
	require.Error(t, err)
	require.Equal(t, errs.CodeInvalidOrder, errs.CodeOf(err))
}

func TestNewOrderRejectsNegativePrice(t *testing.T) {
	items := oneItem(t, 1, mustMoney(t, -1, 0, "USD"))
	_, err := NewOrder("cust-1", items, time.Now())
	require.Error(t, err)
	require.Equal(t, errs.CodeInvalidOrder, errs.CodeOf(err))
}

func TestHappyPathTransitionsThroughDelivery(t *testing.T) {
	o, err := NewOrder("cust-1", oneItem(t, 1, mustMoney(t, 10, 0, "USD")), time.Now())
	require.NoError(t, err)

	require.NoError(t, o.Confirm())
	require.Equal(t, StatusConfirmed, o.Status)

	require.NoError(t, o.StartPayment())
	require.Equal(t, StatusPaymentPending, o.Status)

	require.NoError(t, o.StartPayment())
	require.Equal(t, StatusPaymentProcessing, o.Status)

	require.NoError(t, o.MarkPaid("pay_123"))
	require.Equal(t, StatusPaid, o.Status)
	require.NotNil(t, o.PaymentID)
	require.Equal(t, "pay_123", *o.PaymentID)

	require.NoError(t, o.Prepare())
	require.Equal(t, StatusPreparing, o.Status)

	require.NoError(t, o.Ship())
	require.Equal(t, StatusShipped, o.Status)

	require.NoError(t, o.Deliver())
	require.Equal(t, StatusDelivered, o.Status)

	require.NoError(t, o.Complete())
	require.Equal(t, StatusCompleted, o.Status)
}

func TestRefundPath(t *testing.T) {
	o, err := NewOrder("cust-1", oneItem(t, 1, mustMoney(t, 10, 0, "USD")), time.Now())
	require.NoError(t, err)
	require.NoError(t, o.Confirm())
	require.NoError(t, o.StartPayment())
	require.NoError(t, o.StartPayment())
	require.NoError(t, o.MarkPaid("pay_123"))

	require.NoError(t, o.StartRefund())
	require.Equal(t, StatusRefunding, o.Status)

	require.NoError(t, o.CompleteRefund())
	require.Equal(t, StatusRefunded, o.Status)
}

func TestMarkFailedFromPaymentProcessing(t *testing.T) {
	o, err := NewOrder("cust-1", oneItem(t, 1, mustMoney(t, 10, 0, "USD")), time.Now())
	require.NoError(t, err)
	require.NoError(t, o.Confirm())
	require.NoError(t, o.StartPayment())
	require.NoError(t, o.StartPayment())

	require.NoError(t, o.MarkFailed())
	require.Equal(t, StatusFailed, o.Status)
}

func TestIllegalTransitionFailsAndDoesNotMutate(t *testing.T) {
	o, err := NewOrder("cust-1", oneItem(t, 1, mustMoney(t, 10, 0, "USD")), time.Now())
	require.NoError(t, err)

	before := o.Status
	beforeVersion := o.Version

	err = o.Ship()
	require.Error(t, err)
	require.Equal(t, errs.CodeInvalidTransition, errs.CodeOf(err))
	require.Equal(t, before, o.Status)
	require.Equal(t, beforeVersion, o.Version)
}

func TestPaymentPendingIsNotCancellable(t *testing.T) {
	o, err := NewOrder("cust-1", oneItem(t, 1, mustMoney(t, 10, 0, "USD")), time.Now())
	require.NoError(t, err)
	require.NoError(t, o.Confirm())
	require.NoError(t, o.StartPayment())
	require.Equal(t, StatusPaymentPending, o.Status)

	err = o.Cancel("changed my mind", time.Now(), 24*time.Hour)
	require.Error(t, err)
	require.Equal(t, errs.CodeInvalidTransition, errs.CodeOf(err))
}

func TestTerminalTransitionIsIdempotent(t *testing.T) {
	o, err := NewOrder("cust-1", oneItem(t, 1, mustMoney(t, 10, 0, "USD")), time.Now())
	require.NoError(t, err)
	require.NoError(t, o.Cancel("customer request", time.Now(), 24*time.Hour))
	require.Equal(t, StatusCancelled, o.Status)

	version := o.Version
	require.NoError(t, o.Cancel("customer request again", time.Now(), 24*time.Hour))
	require.Equal(t, StatusCancelled, o.Status)
	require.Equal(t, version, o.Version, "re-submitting a terminal transition must not bump version")
}

func TestCancelWithinWindowAfterPaid(t *testing.T) {
	now := time.Now()
	o, err := NewOrder("cust-1", oneItem(t, 1, mustMoney(t, 10, 0, "USD")), now)
	require.NoError(t, err)
	require.NoError(t, o.Confirm())
	require.NoError(t, o.StartPayment())
	require.NoError(t, o.StartPayment())
	require.NoError(t, o.MarkPaid("pay_123"))

	err = o.Cancel("customer request", now.Add(1*time.Hour), 24*time.Hour)
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, o.Status)
	require.NotNil(t, o.CancellationReason)
}

func TestCancelOutsideWindowAfterPaidFails(t *testing.T) {
	now := time.Now()
	o, err := NewOrder("cust-1", oneItem(t, 1, mustMoney(t, 10, 0, "USD")), now)
	require.NoError(t, err)
	require.NoError(t, o.Confirm())
	require.NoError(t, o.StartPayment())
	require.NoError(t, o.StartPayment())
	require.NoError(t, o.MarkPaid("pay_123"))

	err = o.Cancel("customer request", now.Add(25*time.Hour), 24*time.Hour)
	require.Error(t, err)
	require.Equal(t, StatusPaid, o.Status, "a rejected cancel must leave status untouched")
}

func TestCancelBeforePaymentIsUnrestricted(t *testing.T) {
	now := time.Now()
	o, err := NewOrder("cust-1", oneItem(t, 1, mustMoney(t, 10, 0, "USD")), now)
	require.NoError(t, err)

	err = o.Cancel("customer request", now.Add(100*time.Hour), 24*time.Hour)
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, o.Status)
}

func TestMatchesContentDetectsDuplicateRegardlessOfLineOrder(t *testing.T) {
	p1, p2 := ids.New(), ids.New()
	items := []OrderItem{
		{ProductID: p1, Quantity: 2, UnitPrice: mustMoney(t, 10, 0, "USD")},
		{ProductID: p2, Quantity: 1, UnitPrice: mustMoney(t, 5, 0, "USD")},
	}
	reordered := []OrderItem{
		{ProductID: p2, Quantity: 1, UnitPrice: mustMoney(t, 5, 0, "USD")},
		{ProductID: p1, Quantity: 2, UnitPrice: mustMoney(t, 10, 0, "USD")},
	}

	o, err := NewOrder("cust-1", items, time.Now())
	require.NoError(t, err)

	dup, err := NewOrder("cust-1", reordered, time.Now())
	require.NoError(t, err)

	require.True(t, o.MatchesContent("cust-1", dup.ContentHash))
}

func TestMatchesContentRejectsDifferentCustomerOrTerminalOrder(t *testing.T) {
	o, err := NewOrder("cust-1", oneItem(t, 1, mustMoney(t, 10, 0, "USD")), time.Now())
	require.NoError(t, err)

	require.False(t, o.MatchesContent("cust-2", o.ContentHash))

	require.NoError(t, o.Cancel("customer request", time.Now(), 24*time.Hour))
	require.False(t, o.MatchesContent("cust-1", o.ContentHash), "a terminal order is not a live duplicate")
}
