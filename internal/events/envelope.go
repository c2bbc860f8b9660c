// Package events defines the envelope every domain event travels in, the
// wire event payloads of the external-interfaces contract, and a
// versioned, self-describing JSON codec between them.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/vectorcommerce/platform/internal/ids"
)

// Type enumerates the wire event types this system publishes.
type Type string

const (
	TypeOrderCreated     Type = "OrderCreated"
	TypeStockReserved    Type = "StockReserved"
	TypeStockReleased    Type = "StockReleased"
	TypeStockDeducted    Type = "StockDeducted"
	TypePaymentCompleted Type = "PaymentCompleted"
	TypePaymentFailed    Type = "PaymentFailed"
	TypeOrderCancelled   Type = "OrderCancelled"
	TypeOrderFailed      Type = "OrderFailed"
	TypeLowStockAlert    Type = "LowStockAlert"
)

// AggregateType names the aggregate an event's aggregateId refers to.
type AggregateType string

const (
	AggregateProduct AggregateType = "Product"
	AggregateOrder   AggregateType = "Order"
)

// Envelope is the immutable metadata wrapper carried by every event. Payload
// is the self-describing JSON body for Type; consumers unmarshal it through
// Decode once they have dispatched on Type.
type Envelope struct {
	EventID       ids.ID          `json:"eventId"`
	EventType     Type            `json:"eventType"`
	AggregateID   ids.ID          `json:"aggregateId"`
	AggregateType AggregateType   `json:"aggregateType"`
	OccurredAt    time.Time       `json:"occurredAt"`
	Version       int             `json:"version"`
	CorrelationID ids.ID          `json:"correlationId"`
	SourceService string          `json:"sourceService"`
	Payload       json.RawMessage `json:"payload"`
}

// NewEnvelope constructs an immutable envelope around payload, which must be
// one of the Type* payload structs in this package. The envelope, once
// constructed, carries no method that could mutate it further.
func NewEnvelope(eventType Type, aggregateID ids.ID, aggregateType AggregateType, version int, correlationID ids.ID, sourceService string, occurredAt time.Time, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("events: marshal payload for %s: %w", eventType, err)
	}
	return Envelope{
		EventID:       ids.New(),
		EventType:     eventType,
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		OccurredAt:    occurredAt,
		Version:       version,
		CorrelationID: correlationID,
		SourceService: sourceService,
		Payload:       raw,
	}, nil
}

// IdempotencyKey returns the (eventId, aggregateId) pair consumers key their
// processed-event log on, per the idempotence rule of §4.5.
func (e Envelope) IdempotencyKey() string {
	return e.EventID.String() + ":" + e.AggregateID.String()
}

// Decode unmarshals the envelope's payload into dst, which must be a
// pointer to the payload struct matching e.EventType.
func (e Envelope) Decode(dst any) error {
	if err := json.Unmarshal(e.Payload, dst); err != nil {
		return fmt.Errorf("events: decode %s payload: %w", e.EventType, err)
	}
	return nil
}
