package events

import "time"

// OrderItemLine mirrors an order line item as carried on the wire, distinct
// from the orders package's richer OrderItem (no lineTotal here: the event
// only carries what downstream consumers need to act on).
type OrderItemLine struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unitPrice"` // minor units
	Currency  string `json:"currency"`
}

// OrderCreatedPayload is the body of an OrderCreated event.
type OrderCreatedPayload struct {
	OrderID     string          `json:"orderId"`
	CustomerID  string          `json:"customerId"`
	Items       []OrderItemLine `json:"items"`
	TotalAmount int64           `json:"totalAmount"`
	CreatedAt   time.Time       `json:"createdAt"`
}

// ReservedItem is one line of a StockReserved/StockReleased/StockDeducted
// event.
type ReservedItem struct {
	ProductID   string `json:"productId"`
	Quantity    int    `json:"quantity"`
	WarehouseID string `json:"warehouseId"`
}

// StockReservedPayload is the body of a StockReserved event.
type StockReservedPayload struct {
	InventoryID   string         `json:"inventoryId"`
	ReservationID string         `json:"reservationId"`
	OrderID       string         `json:"orderId"`
	Items         []ReservedItem `json:"items"`
	ExpiresAt     time.Time      `json:"expiresAt"`
}

// ReleaseReason enumerates why a reservation was released.
type ReleaseReason string

const (
	ReleaseOrderCancelled ReleaseReason = "ORDER_CANCELLED"
	ReleaseExpired        ReleaseReason = "EXPIRED"
	ReleasePaymentFailed  ReleaseReason = "PAYMENT_FAILED"
	ReleaseSystemError    ReleaseReason = "SYSTEM_ERROR"
)

// StockReleasedPayload is the body of a StockReleased event.
type StockReleasedPayload struct {
	InventoryID    string         `json:"inventoryId"`
	ReservationID  string         `json:"reservationId"`
	OrderID        string         `json:"orderId"`
	ReleaseReason  ReleaseReason  `json:"releaseReason"`
	Items          []ReservedItem `json:"items"`
	ReleasedBy     string         `json:"releasedBy"`
	ReleasedByType string         `json:"releasedByType"`
}

// StockDeductedPayload is the body of a StockDeducted event.
type StockDeductedPayload struct {
	InventoryID   string         `json:"inventoryId"`
	ReservationID string         `json:"reservationId"`
	OrderID       string         `json:"orderId"`
	Items         []ReservedItem `json:"items"`
	DeductedAt    time.Time      `json:"deductedAt"`
}

// PaymentCompletedPayload is the body of a PaymentCompleted event.
type PaymentCompletedPayload struct {
	PaymentID     string    `json:"paymentId"`
	OrderID       string    `json:"orderId"`
	CustomerID    string    `json:"customerId"`
	Amount        int64     `json:"amount"`
	Currency      string    `json:"currency"`
	PaymentMethod string    `json:"paymentMethod"`
	TransactionID string    `json:"transactionId"`
	PaidAt        time.Time `json:"paidAt"`
}

// PaymentFailedPayload is the body of a PaymentFailed event.
type PaymentFailedPayload struct {
	PaymentID    string `json:"paymentId"`
	OrderID      string `json:"orderId"`
	DeclineCode  string `json:"declineCode"`
	DeclineMsg   string `json:"declineMessage"`
}

// OrderFailedPayload is the body of an OrderFailed event.
type OrderFailedPayload struct {
	OrderID string `json:"orderId"`
	Reason  string `json:"reason"`
}

// CompensationAction is one entry in OrderCancelled's compensationActions.
type CompensationAction struct {
	ActionType   string         `json:"actionType"`
	TargetService string        `json:"targetService"`
	ActionData   map[string]any `json:"actionData"`
}

// OrderCancelledPayload is the body of an OrderCancelled event.
type OrderCancelledPayload struct {
	OrderID             string               `json:"orderId"`
	CancelReason        string               `json:"cancelReason"`
	CancelReasonCode    string               `json:"cancelReasonCode"`
	CancelledBy         string               `json:"cancelledBy"`
	CancelledByType     string               `json:"cancelledByType"`
	CompensationActions []CompensationAction `json:"compensationActions"`
}

// LowStockItem is one entry in a LowStockAlert.
type LowStockItem struct {
	ProductID        string `json:"productId"`
	AvailableQuantity int   `json:"availableQuantity"`
	LowStockThreshold int   `json:"lowStockThreshold"`
}

// LowStockAlertPayload is the body of a LowStockAlert event.
type LowStockAlertPayload struct {
	InventoryID   string         `json:"inventoryId"`
	AlertLevel    string         `json:"alertLevel"`
	LowStockItems []LowStockItem `json:"lowStockItems"`
}
