package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/require"

	"github.com/vectorcommerce/platform/internal/errs"
	"github.com/vectorcommerce/platform/internal/events"
	"github.com/vectorcommerce/platform/internal/ids"
)

// fakeSession is the slice of sarama.ConsumerGroupSession process() touches:
// Context and MarkMessage. The rest of the interface is never exercised by
// a single-message process() call.
type fakeSession struct {
	ctx    context.Context
	marked []*sarama.ConsumerMessage
}

func (s *fakeSession) Claims() map[string][]int32                                       { return nil }
func (s *fakeSession) MemberID() string                                                 { return "test-member" }
func (s *fakeSession) GenerationID() int32                                              { return 1 }
func (s *fakeSession) MarkOffset(topic string, partition int32, offset int64, meta string) {}
func (s *fakeSession) Commit()                                                           {}
func (s *fakeSession) ResetOffset(topic string, partition int32, offset int64, meta string) {}
func (s *fakeSession) MarkMessage(msg *sarama.ConsumerMessage, metadata string) {
	s.marked = append(s.marked, msg)
}
func (s *fakeSession) Context() context.Context { return s.ctx }

func newFakeSession() *fakeSession { return &fakeSession{ctx: context.Background()} }

type fakePublisher struct {
	published []string
}

func (p *fakePublisher) Publish(ctx context.Context, topic string, env events.Envelope) error {
	p.published = append(p.published, topic)
	return nil
}
func (p *fakePublisher) Close() error { return nil }

type fakeProcessedLog struct {
	seen      map[string]bool
	markCalls []string
}

func newFakeProcessedLog() *fakeProcessedLog {
	return &fakeProcessedLog{seen: map[string]bool{}}
}

func (l *fakeProcessedLog) IsProcessed(ctx context.Context, env events.Envelope) (bool, error) {
	return l.seen[env.IdempotencyKey()], nil
}

func (l *fakeProcessedLog) MarkProcessed(ctx context.Context, env events.Envelope, processedAt time.Time) error {
	l.markCalls = append(l.markCalls, env.IdempotencyKey())
	l.seen[env.IdempotencyKey()] = true
	return nil
}

type fakeArchive struct {
	archived int
}

func (a *fakeArchive) Archive(ctx context.Context, topic string, env events.Envelope, cause error, archivedAt time.Time) error {
	a.archived++
	return nil
}

func testEnvelope(t *testing.T) events.Envelope {
	t.Helper()
	env, err := events.NewEnvelope(events.TypeStockReserved, ids.New(), events.AggregateProduct, 1, ids.New(), "inventory", time.Now(), events.StockReservedPayload{})
	require.NoError(t, err)
	return env
}

func testConsumerMessage(t *testing.T, env events.Envelope, retryCount int) *sarama.ConsumerMessage {
	t.Helper()
	body, err := json.Marshal(env)
	require.NoError(t, err)
	msg := &sarama.ConsumerMessage{Topic: "inventory.stock-reserved", Value: body}
	if retryCount > 0 {
		msg.Headers = []*sarama.RecordHeader{{Key: []byte(retryCountHeader), Value: []byte(fmt.Sprintf("%d", retryCount))}}
	}
	return msg
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestProcessSkipsAlreadyProcessedEvent(t *testing.T) {
	env := testEnvelope(t)
	pub := &fakePublisher{}
	plog := newFakeProcessedLog()
	plog.seen[env.IdempotencyKey()] = true
	called := false

	c := &KafkaConsumer{publisher: pub, processedLog: plog, retryMax: 3, logger: testLogger()}
	h := &groupHandler{consumer: c, handler: func(ctx context.Context, e events.Envelope) error {
		called = true
		return nil
	}}

	session := newFakeSession()
	msg := testConsumerMessage(t, env, 0)
	h.process(session, msg)

	require.False(t, called, "handler must not run for an already-processed event")
	require.Len(t, session.marked, 1)
}

func TestProcessMarksProcessedOnSuccess(t *testing.T) {
	env := testEnvelope(t)
	pub := &fakePublisher{}
	plog := newFakeProcessedLog()

	c := &KafkaConsumer{publisher: pub, processedLog: plog, retryMax: 3, logger: testLogger()}
	h := &groupHandler{consumer: c, handler: func(ctx context.Context, e events.Envelope) error {
		return nil
	}}

	session := newFakeSession()
	msg := testConsumerMessage(t, env, 0)
	h.process(session, msg)

	require.Len(t, session.marked, 1)
	require.Contains(t, plog.markCalls, env.IdempotencyKey())
}

func TestProcessBusinessErrorRoutesToDLQAndArchives(t *testing.T) {
	env := testEnvelope(t)
	pub := &fakePublisher{}
	plog := newFakeProcessedLog()
	arch := &fakeArchive{}

	c := &KafkaConsumer{publisher: pub, processedLog: plog, archive: arch, retryMax: 3, logger: testLogger()}
	h := &groupHandler{consumer: c, handler: func(ctx context.Context, e events.Envelope) error {
		return errs.New(errs.BusinessRule, errs.CodeInvalidTransition, "nope")
	}}

	session := newFakeSession()
	msg := testConsumerMessage(t, env, 0)
	h.process(session, msg)

	require.Len(t, session.marked, 1)
	require.Equal(t, []string{DLQTopic(msg.Topic)}, pub.published)
	require.Equal(t, 1, arch.archived)
	require.Empty(t, plog.markCalls, "a dead-lettered event is never recorded as processed")
}

func TestProcessRetryBudgetExhaustedRoutesToDLQ(t *testing.T) {
	env := testEnvelope(t)
	pub := &fakePublisher{}
	arch := &fakeArchive{}

	c := &KafkaConsumer{publisher: pub, archive: arch, retryMax: 3, logger: testLogger()}
	h := &groupHandler{consumer: c, handler: func(ctx context.Context, e events.Envelope) error {
		return errs.Wrap(errs.Transient, "", "db timeout", nil)
	}}

	session := newFakeSession()
	msg := testConsumerMessage(t, env, 5) // retry count header (5) exceeds retryMax (3)
	h.process(session, msg)

	require.Len(t, session.marked, 1)
	require.Equal(t, []string{DLQTopic(msg.Topic)}, pub.published)
	require.Equal(t, 1, arch.archived)
}
