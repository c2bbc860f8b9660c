// Package processed implements the consumer-side processed-event log and
// dead-letter archive of §4.6: the idempotence check every consumer runs
// before executing a handler, and the durable record of what got
// dead-lettered and why.
package processed

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/vectorcommerce/platform/internal/errs"
	"github.com/vectorcommerce/platform/internal/events"
	"github.com/vectorcommerce/platform/internal/ids"
)

// Record is one processed-event entry, keyed on the (eventId, aggregateId)
// pair §4.6 specifies.
type Record struct {
	Key           string    `bson:"_id"`
	EventID       string    `bson:"eventId"`
	AggregateID   string    `bson:"aggregateId"`
	EventType     string    `bson:"eventType"`
	ProcessedAt   time.Time `bson:"processedAt"`
}

// Log is the processed-event collection. A consumer checks IsProcessed
// before running a handler and calls MarkProcessed once the handler's
// transaction commits, satisfying §4.6's consumer contract steps 2-3.
type Log struct {
	collection *mongo.Collection
}

// NewLog opens the processed-event collection on the given client. Database
// and collection names are fixed rather than configurable: every consumer
// in the system shares one idempotence ledger, keyed globally on
// eventId+aggregateId, so there is nothing for a caller to choose between.
func NewLog(client *mongo.Client) *Log {
	return &Log{collection: client.Database("platform").Collection("processed_events")}
}

// EnsureIndexes creates the unique index on _id implicitly (Mongo always
// indexes _id) plus a TTL index on processedAt so the log does not grow
// without bound; entries older than retention are safe to forget because
// the broker's own retention window is shorter than any plausible replay.
func (l *Log) EnsureIndexes(ctx context.Context, retention time.Duration) error {
	_, err := l.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "processedAt", Value: 1}},
		Options: options.Index().SetExpireAfterSeconds(int32(retention.Seconds())),
	})
	if err != nil {
		return errs.Wrap(errs.Transient, "", "processed: ensure indexes", err)
	}
	return nil
}

// IsProcessed reports whether env has already been recorded as processed.
func (l *Log) IsProcessed(ctx context.Context, env events.Envelope) (bool, error) {
	err := l.collection.FindOne(ctx, bson.M{"_id": env.IdempotencyKey()}).Err()
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, mongo.ErrNoDocuments):
		return false, nil
	default:
		return false, errs.Wrap(errs.Transient, "", "processed: check processed log", err)
	}
}

// MarkProcessed records env as processed. A duplicate-key error (another
// goroutine or a racing redelivery won the insert first) is not an error
// from the caller's point of view: the event is processed either way.
func (l *Log) MarkProcessed(ctx context.Context, env events.Envelope, processedAt time.Time) error {
	_, err := l.collection.InsertOne(ctx, Record{
		Key:         env.IdempotencyKey(),
		EventID:     env.EventID.String(),
		AggregateID: env.AggregateID.String(),
		EventType:   string(env.EventType),
		ProcessedAt: processedAt,
	})
	if err == nil || mongo.IsDuplicateKeyError(err) {
		return nil
	}
	return errs.Wrap(errs.Transient, "", "processed: mark processed", err)
}

// DeadLetterRecord archives an envelope that exhausted its retry budget or
// failed a business-rule check, alongside the failure that sent it there.
type DeadLetterRecord struct {
	EventID       string          `bson:"eventId"`
	AggregateID   string          `bson:"aggregateId"`
	EventType     string          `bson:"eventType"`
	Topic         string          `bson:"topic"`
	Envelope      events.Envelope `bson:"envelope"`
	FailureReason string          `bson:"failureReason"`
	ArchivedAt    time.Time       `bson:"archivedAt"`
}

// DeadLetterArchive is the durable store backing the dead-letter topic: the
// broker publishes the envelope to the DLQ topic for operational replay,
// and archives a copy here with the failure context for later inspection,
// since a raw Kafka topic has no place to also carry "why".
type DeadLetterArchive struct {
	collection *mongo.Collection
}

func NewDeadLetterArchive(client *mongo.Client) *DeadLetterArchive {
	return &DeadLetterArchive{collection: client.Database("platform").Collection("dead_letters")}
}

func (a *DeadLetterArchive) Archive(ctx context.Context, topic string, env events.Envelope, cause error, archivedAt time.Time) error {
	reason := ""
	if cause != nil {
		reason = cause.Error()
	}
	_, err := a.collection.InsertOne(ctx, DeadLetterRecord{
		EventID:       env.EventID.String(),
		AggregateID:   env.AggregateID.String(),
		EventType:     string(env.EventType),
		Topic:         topic,
		Envelope:      env,
		FailureReason: reason,
		ArchivedAt:    archivedAt,
	})
	if err != nil {
		return errs.Wrap(errs.Transient, "", "processed: archive dead letter", err)
	}
	return nil
}

// ByAggregate lists archived dead letters for one aggregate, newest first,
// for operator triage tooling.
func (a *DeadLetterArchive) ByAggregate(ctx context.Context, aggregateID ids.ID, limit int64) ([]DeadLetterRecord, error) {
	opts := options.Find().SetSort(bson.D{{Key: "archivedAt", Value: -1}}).SetLimit(limit)
	cursor, err := a.collection.Find(ctx, bson.M{"aggregateId": aggregateID.String()}, opts)
	if err != nil {
		return nil, errs.Wrap(errs.Transient, "", "processed: query dead letters", err)
	}
	defer cursor.Close(ctx)

	var out []DeadLetterRecord
	if err := cursor.All(ctx, &out); err != nil {
		return nil, errs.Wrap(errs.Transient, "", "processed: decode dead letters", err)
	}
	return out, nil
}
