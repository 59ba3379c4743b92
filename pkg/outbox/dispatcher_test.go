package outbox

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureProducer struct {
	msgs []kafka.Message
	err  error
}

func (p *captureProducer) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, msgs...)
	return nil
}

func TestDispatchKeysByAggregate(t *testing.T) {
	producer := &captureProducer{}
	d := NewDispatcher(slog.New(slog.DiscardHandler), producer, "order.events")

	err := d.Dispatch(context.Background(), Event{
		ID:          1,
		EventID:     "evt-uuid",
		AggregateID: "order-123",
		Type:        "OrderConfirmed",
		Payload:     []byte(`{"order_number":"ORD-1"}`),
		Headers:     map[string]string{"source": "checkout"},
		Traceparent: "00-abc-def-01",
	})
	require.NoError(t, err)

	require.Len(t, producer.msgs, 1)
	msg := producer.msgs[0]
	assert.Equal(t, "order.events", msg.Topic)
	assert.Equal(t, []byte("order-123"), msg.Key, "aggregate keying keeps one order on one partition")
	assert.Equal(t, []byte(`{"order_number":"ORD-1"}`), msg.Value)

	headers := map[string]string{}
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	assert.Equal(t, "evt-uuid", headers["event_id"])
	assert.Equal(t, "OrderConfirmed", headers["event_type"])
	assert.Equal(t, "00-abc-def-01", headers["traceparent"])
	assert.Equal(t, "checkout", headers["source"])
}

func TestDispatchPropagatesBrokerError(t *testing.T) {
	producer := &captureProducer{err: errors.New("broker down")}
	d := NewDispatcher(slog.New(slog.DiscardHandler), producer, "order.events")

	err := d.Dispatch(context.Background(), Event{ID: 1, EventID: "e", Type: "OrderConfirmed"})
	assert.Error(t, err)
}
