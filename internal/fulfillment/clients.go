package fulfillment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/retailcore/checkout-core/internal/order/domain"
)

// ShipmentClient asks the shipping system to produce a label for a
// confirmed order.
type ShipmentClient struct {
	http    *http.Client
	baseURL string
}

func NewShipmentClient(baseURL string) *ShipmentClient {
	return &ShipmentClient{
		http:    &http.Client{Timeout: 10 * time.Second},
		baseURL: baseURL,
	}
}

func (c *ShipmentClient) RequestLabel(ctx context.Context, ev domain.OrderConfirmed) error {
	return postJSON(ctx, c.http, c.baseURL+"/labels", map[string]any{
		"order_id":     ev.OrderID,
		"order_number": ev.OrderNumber,
		"store_id":     ev.StoreID,
	})
}

// InvoiceClient asks the billing system to issue an invoice for a
// confirmed order.
type InvoiceClient struct {
	http    *http.Client
	baseURL string
}

func NewInvoiceClient(baseURL string) *InvoiceClient {
	return &InvoiceClient{
		http:    &http.Client{Timeout: 10 * time.Second},
		baseURL: baseURL,
	}
}

func (c *InvoiceClient) Issue(ctx context.Context, ev domain.OrderConfirmed) error {
	return postJSON(ctx, c.http, c.baseURL+"/invoices", map[string]any{
		"order_id":     ev.OrderID,
		"order_number": ev.OrderNumber,
		"total_cents":  ev.TotalCents,
		"currency":     ev.Currency,
		"paid_at":      ev.PaidAt,
	})
}

func postJSON(ctx context.Context, client *http.Client, url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s: status %d", url, resp.StatusCode)
	}
	return nil
}
