package fulfillment

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/retailcore/checkout-core/internal/order/domain"
	"github.com/retailcore/checkout-core/pkg/idempotency"
)

type scriptedFetcher struct {
	msgs      []kafka.Message
	committed []kafka.Message
}

func (f *scriptedFetcher) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if len(f.msgs) == 0 {
		return kafka.Message{}, context.Canceled
	}
	m := f.msgs[0]
	f.msgs = f.msgs[1:]
	return m, nil
}

func (f *scriptedFetcher) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	f.committed = append(f.committed, msgs...)
	return nil
}

func confirmedMessage(t *testing.T, offset int64) kafka.Message {
	t.Helper()
	payload, err := json.Marshal(domain.OrderConfirmed{
		OrderID:     "11111111-1111-1111-1111-111111111111",
		OrderNumber: "ORD-20260831-ABCD1234",
		StoreID:     "22222222-2222-2222-2222-222222222222",
		TotalCents:  5000,
		Currency:    "EUR",
		PaidAt:      time.Now().UTC(),
	})
	require.NoError(t, err)
	return kafka.Message{
		Topic:     "order.events",
		Partition: 0,
		Offset:    offset,
		Key:       []byte("order-1"),
		Value:     payload,
		Headers:   []kafka.Header{{Key: "event_type", Value: []byte(domain.EventOrderConfirmed)}},
	}
}

func testIdem() *idempotency.Store {
	return idempotency.NewStore(redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"}), time.Hour)
}

func TestConsumerTriggersShipmentAndInvoice(t *testing.T) {
	var labels, invoices int
	shipSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/labels", r.URL.Path)
		labels++
	}))
	defer shipSrv.Close()
	invSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/invoices", r.URL.Path)
		invoices++
	}))
	defer invSrv.Close()

	fetcher := &scriptedFetcher{msgs: []kafka.Message{confirmedMessage(t, 1)}}
	c := NewConsumer(slog.New(slog.DiscardHandler), fetcher, testIdem(),
		NewShipmentClient(shipSrv.URL), NewInvoiceClient(invSrv.URL))

	require.NoError(t, c.Run(context.Background()))

	assert.Equal(t, 1, labels)
	assert.Equal(t, 1, invoices)
	assert.Len(t, fetcher.committed, 1)
}

func TestConsumerCommitsDespiteDownstreamFailure(t *testing.T) {
	failSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer failSrv.Close()

	fetcher := &scriptedFetcher{msgs: []kafka.Message{confirmedMessage(t, 2)}}
	c := NewConsumer(slog.New(slog.DiscardHandler), fetcher, testIdem(),
		NewShipmentClient(failSrv.URL), NewInvoiceClient(failSrv.URL))

	require.NoError(t, c.Run(context.Background()))

	// Downstream failures never wedge the consumer or order state.
	assert.Len(t, fetcher.committed, 1)
}

func TestConsumerIgnoresCancelledAndUnknownEvents(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	defer srv.Close()

	cancelled, err := json.Marshal(domain.OrderCancelled{OrderNumber: "ORD-1", Reason: "card_declined"})
	require.NoError(t, err)

	fetcher := &scriptedFetcher{msgs: []kafka.Message{
		{Topic: "order.events", Offset: 3, Value: cancelled,
			Headers: []kafka.Header{{Key: "event_type", Value: []byte(domain.EventOrderCancelled)}}},
		{Topic: "order.events", Offset: 4, Value: []byte(`{}`),
			Headers: []kafka.Header{{Key: "event_type", Value: []byte("SomethingElse")}}},
	}}
	c := NewConsumer(slog.New(slog.DiscardHandler), fetcher, testIdem(),
		NewShipmentClient(srv.URL), NewInvoiceClient(srv.URL))

	require.NoError(t, c.Run(context.Background()))

	assert.Zero(t, calls, "no fulfillment for cancelled or unknown events")
	assert.Len(t, fetcher.committed, 2)
}
