package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"

	"github.com/quickcart/commerce/internal/services"
)

type fakeWriter struct {
	messages []kafka.Message
	err      error
	closed   bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaEventPublisherWritesKeyedMessage(t *testing.T) {
	writer := &fakeWriter{}
	publisher, err := NewKafkaEventPublisher(writer)
	require.NoError(t, err)

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	}))

	event := services.DomainEvent{Type: "order.placed", OrderID: "ord_1", CurrentStatus: "ORDER_PLACED", OccurredAt: time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)}
	require.NoError(t, publisher.Publish(ctx, event))
	require.Len(t, writer.messages, 1)

	msg := writer.messages[0]
	assert.Equal(t, "ord_1", string(msg.Key))
	assert.Equal(t, event.OccurredAt, msg.Time)

	carrier := headerCarrier{headers: &msg.Headers}
	assert.Equal(t, "order.placed", carrier.Get("type"))
	assert.Equal(t, "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01", carrier.Get("traceparent"))

	var decoded services.DomainEvent
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, "ORDER_PLACED", decoded.CurrentStatus)

	require.NoError(t, publisher.Close())
	assert.True(t, writer.closed)
}

func TestKafkaEventPublisherWrapsWriteError(t *testing.T) {
	publisher, err := NewKafkaEventPublisher(&fakeWriter{err: errors.New("broker down")})
	require.NoError(t, err)

	err = publisher.Publish(context.Background(), services.DomainEvent{Type: "order.cancelled", OrderID: "ord_1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "order.cancelled")
}

type fakeReader struct {
	mu        sync.Mutex
	pending   []kafka.Message
	committed []int64
	drained   chan struct{}
	once      sync.Once
}

func newFakeReader(msgs ...kafka.Message) *fakeReader {
	return &fakeReader{pending: msgs, drained: make(chan struct{})}
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.pending) > 0 {
		msg := r.pending[0]
		r.pending = r.pending[1:]
		r.mu.Unlock()
		return msg, nil
	}
	r.mu.Unlock()
	r.once.Do(func() { close(r.drained) })
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error { return nil }

type fakeLifecycle struct {
	mu       sync.Mutex
	seen     map[string]bool
	events   []services.UserDeletedEvent
	failures int
}

func (f *fakeLifecycle) HandleUserDeleted(_ context.Context, event services.UserDeletedEvent) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if event.UserID == "" {
		return false, fmt.Errorf("%w: user id is required", services.ErrUserEventInvalid)
	}
	if f.failures > 0 {
		f.failures--
		return false, errors.New("firestore unavailable")
	}
	f.events = append(f.events, event)
	if f.seen == nil {
		f.seen = make(map[string]bool)
	}
	if f.seen[event.EventID] {
		return false, nil
	}
	f.seen[event.EventID] = true
	return true, nil
}

func userDeletedMessage(t *testing.T, offset int64, payload UserDeletedPayload) kafka.Message {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	return kafka.Message{Topic: "user-deleted-topic", Partition: 0, Offset: offset, Value: data}
}

func TestKafkaUserDeletedConsumerProcessesAndCommits(t *testing.T) {
	reader := newFakeReader(
		userDeletedMessage(t, 1, UserDeletedPayload{EventType: "USER_DELETED", UserID: "usr_1", Email: "a@example.com"}),
		kafka.Message{Topic: "user-deleted-topic", Offset: 2, Value: []byte("not-json")},
		userDeletedMessage(t, 3, UserDeletedPayload{EventType: "USER_DELETED"}),
		userDeletedMessage(t, 4, UserDeletedPayload{EventType: "USER_CREATED", UserID: "usr_2"}),
		userDeletedMessage(t, 5, UserDeletedPayload{EventType: "USER_DELETED", UserID: "usr_3"}),
	)
	lifecycle := &fakeLifecycle{failures: 2}
	consumer, err := NewKafkaUserDeletedConsumer(reader, lifecycle, WithRetryBackoff(func() backoff.BackOff {
		return backoff.NewConstantBackOff(time.Millisecond)
	}))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- consumer.Run(ctx) }()

	select {
	case <-reader.drained:
	case <-time.After(5 * time.Second):
		t.Fatal("consumer did not drain messages")
	}
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, []int64{1, 2, 3, 4, 5}, reader.committed)
	require.Len(t, lifecycle.events, 2)
	assert.Equal(t, "kafka:user-deleted-topic:0:1", lifecycle.events[0].EventID)
	assert.Equal(t, "usr_1", lifecycle.events[0].UserID)
	assert.Equal(t, "a@example.com", lifecycle.events[0].Email)
	assert.Equal(t, "usr_3", lifecycle.events[1].UserID)
}

func TestNewKafkaReaderRequiresGroup(t *testing.T) {
	_, err := NewKafkaReader(KafkaConfig{Brokers: []string{"localhost:9092"}, Topic: "user-deleted-topic"})
	require.Error(t, err)

	_, err = NewKafkaWriter(KafkaConfig{Topic: "order-events"})
	require.Error(t, err)

	writer, err := NewKafkaWriter(KafkaConfig{Brokers: []string{"localhost:9092"}, Topic: "order-events", SASLUsername: "svc", SASLPassword: "pw"})
	require.NoError(t, err)
	assert.NotNil(t, writer.Transport)
	require.NoError(t, writer.Close())
}
