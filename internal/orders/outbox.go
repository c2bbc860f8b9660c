package orders

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/vectorcommerce/platform/internal/events"
	"github.com/vectorcommerce/platform/internal/ids"
)

// OutboxRecord is one not-yet-published row of the order_outbox table:
// SaveWithOutbox wrote it in the same transaction as the aggregate mutation
// that produced it, and Payload is the JSON-encoded events.Envelope.
type OutboxRecord struct {
	EventID   ids.ID
	EventType string
	Payload   []byte
}

// OutboxStore is the persistence port the Worker drains. internal/orders/postgres
// implements it alongside Store.
type OutboxStore interface {
	FindPendingOutbox(ctx context.Context, limit int) ([]OutboxRecord, error)
	MarkOutboxSent(ctx context.Context, eventID ids.ID) error
}

// Publisher is the narrow slice of internal/broker.Publisher the outbox
// worker needs.
type Publisher interface {
	Publish(ctx context.Context, topic string, env events.Envelope) error
}

const (
	TopicOrderCreated      = "orders.order-created"
	TopicOrderCancelled    = "orders.order-cancelled"
	TopicOrderFailed       = "orders.order-failed"
	TopicPaymentCompleted  = "orders.payment-completed"
	TopicPaymentFailed     = "orders.payment-failed"
)

// topicFor maps an order-aggregate event type to the Kafka topic it
// publishes on. Unlike internal/inventory's ledger, which knows its topic at
// each call site, the outbox worker only has EventType string to go on once
// an event has round-tripped through the table, so the mapping lives here.
// Every events.Type the saga writes through SaveWithOutbox must have an
// entry: CreateOrder's step 4 (PaymentCompleted) and its decline path
// (PaymentFailed) go through the outbox exactly like OrderCreated.
func topicFor(eventType events.Type) (string, bool) {
	switch eventType {
	case events.TypeOrderCreated:
		return TopicOrderCreated, true
	case events.TypeOrderCancelled:
		return TopicOrderCancelled, true
	case events.TypeOrderFailed:
		return TopicOrderFailed, true
	case events.TypePaymentCompleted:
		return TopicPaymentCompleted, true
	case events.TypePaymentFailed:
		return TopicPaymentFailed, true
	default:
		return "", false
	}
}

// Worker drains OutboxStore on an interval and publishes each pending row,
// marking it sent on success. A publish failure is logged and left PENDING
// for the next tick rather than aborting the batch, so one bad event never
// wedges the rest of the drain.
type Worker struct {
	store     OutboxStore
	publisher Publisher
	logger    *slog.Logger
	interval  time.Duration
	batchSize int
}

func NewWorker(store OutboxStore, publisher Publisher, logger *slog.Logger, interval time.Duration, batchSize int) *Worker {
	return &Worker{
		store:     store,
		publisher: publisher,
		logger:    logger,
		interval:  interval,
		batchSize: batchSize,
	}
}

// Start runs the drain loop until ctx is cancelled.
func (w *Worker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.process(ctx)
		}
	}
}

func (w *Worker) process(ctx context.Context) {
	records, err := w.store.FindPendingOutbox(ctx, w.batchSize)
	if err != nil {
		w.logger.Error("outbox: find pending failed", "error", err)
		return
	}

	for _, r := range records {
		if err := w.publishRecord(ctx, r); err != nil {
			w.logger.Error("outbox: publish failed, will retry next poll",
				"event_id", r.EventID.String(), "event_type", r.EventType, "error", err)
			continue
		}
		if err := w.store.MarkOutboxSent(ctx, r.EventID); err != nil {
			w.logger.Error("outbox: mark sent failed", "event_id", r.EventID.String(), "error", err)
		}
	}
}

func (w *Worker) publishRecord(ctx context.Context, r OutboxRecord) error {
	var env events.Envelope
	if err := json.Unmarshal(r.Payload, &env); err != nil {
		return err
	}
	topic, ok := topicFor(env.EventType)
	if !ok {
		w.logger.Warn("outbox: no topic mapping for event type, dropping", "event_type", string(env.EventType))
		return nil
	}
	return w.publisher.Publish(ctx, topic, env)
}
