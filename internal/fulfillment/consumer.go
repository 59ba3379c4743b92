// Package fulfillment consumes order events and notifies the shipping
// and billing systems. It is strictly downstream: a failure here is
// logged and never reaches back into order or payment state.
package fulfillment

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/retailcore/checkout-core/internal/order/domain"
	"github.com/retailcore/checkout-core/pkg/idempotency"
	"github.com/retailcore/checkout-core/pkg/tracing"
)

// Fetcher is the kafka.Reader surface the consumer uses.
type Fetcher interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

type Consumer struct {
	log      *slog.Logger
	reader   Fetcher
	idem     *idempotency.Store
	shipment *ShipmentClient
	invoice  *InvoiceClient
	tracer   trace.Tracer
}

func NewConsumer(log *slog.Logger, reader Fetcher, idem *idempotency.Store, shipment *ShipmentClient, invoice *InvoiceClient) *Consumer {
	return &Consumer{
		log:      log,
		reader:   reader,
		idem:     idem,
		shipment: shipment,
		invoice:  invoice,
		tracer:   otel.Tracer("fulfillment-consumer"),
	}
}

func (c *Consumer) Run(ctx context.Context) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				c.log.Info("fulfillment consumer stopping")
				return nil
			}
			return err
		}

		c.handle(ctx, msg)

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.log.Error("commit failed", "topic", msg.Topic, "offset", msg.Offset, "err", err)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, msg kafka.Message) {
	ctx = tracing.ExtractKafkaHeaders(ctx, msg.Headers)
	ctx, span := c.tracer.Start(ctx, "HandleOrderEvent")
	defer span.End()

	eventType := headerValue(msg.Headers, "event_type")
	log := c.log.With("event_type", eventType, "topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset)

	key := c.idem.MessageKey(msg.Topic, msg.Partition, msg.Offset)
	seen, err := c.idem.Seen(ctx, key)
	if err != nil {
		log.Warn("duplicate filter unavailable, proceeding", "err", err)
	} else if seen {
		log.Debug("skipping already handled message")
		return
	}

	switch eventType {
	case domain.EventOrderConfirmed:
		var ev domain.OrderConfirmed
		if err := json.Unmarshal(msg.Value, &ev); err != nil {
			log.Error("bad event payload", "err", err)
			return
		}
		// Both notifications are fire-and-forget. Labels and invoices
		// have their own retry paths; order state is already final.
		if err := c.shipment.RequestLabel(ctx, ev); err != nil {
			log.Error("shipment label request failed", "order_number", ev.OrderNumber, "err", err)
		}
		if err := c.invoice.Issue(ctx, ev); err != nil {
			log.Error("invoice request failed", "order_number", ev.OrderNumber, "err", err)
		}
		log.Info("fulfillment triggered", "order_number", ev.OrderNumber)
	case domain.EventOrderCancelled:
		var ev domain.OrderCancelled
		if err := json.Unmarshal(msg.Value, &ev); err != nil {
			log.Error("bad event payload", "err", err)
			return
		}
		log.Info("order cancelled, nothing to fulfill", "order_number", ev.OrderNumber, "reason", ev.Reason)
	default:
		log.Debug("ignoring event type")
	}
}

func headerValue(headers []kafka.Header, key string) string {
	for _, h := range headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}
