// Package gateway is the outbound client to the payment processor. It
// only opens checkout sessions; order state is never changed here, the
// processor's webhooks drive all settlement.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	orderapp "github.com/retailcore/checkout-core/internal/order/application"
	"github.com/retailcore/checkout-core/internal/order/domain"
)

type Client struct {
	log     *slog.Logger
	http    *http.Client
	baseURL string
	apiKey  string
}

func NewClient(log *slog.Logger, baseURL, apiKey string, timeout time.Duration) *Client {
	return &Client{
		log:     log,
		http:    &http.Client{Timeout: timeout},
		baseURL: baseURL,
		apiKey:  apiKey,
	}
}

type sessionRequest struct {
	Reference   string            `json:"reference"`
	AmountCents int64             `json:"amount_cents"`
	Currency    string            `json:"currency"`
	Lines       []sessionLine     `json:"lines"`
	Metadata    map[string]string `json:"metadata"`
}

type sessionLine struct {
	Description string `json:"description"`
	Quantity    int    `json:"quantity"`
	AmountCents int64  `json:"amount_cents"`
}

type sessionResponse struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret"`
}

// CreateIntent opens a checkout session for the order. The session id
// becomes the correlation key every later webhook resolves through.
func (c *Client) CreateIntent(ctx context.Context, o domain.Order, lines []orderapp.LineSummary) (orderapp.PaymentIntent, error) {
	req := sessionRequest{
		Reference:   o.Number,
		AmountCents: o.TotalCents,
		Currency:    o.Currency,
		Metadata:    map[string]string{"order_id": o.ID.String()},
	}
	for _, l := range lines {
		req.Lines = append(req.Lines, sessionLine{
			Description: l.Designation,
			Quantity:    l.Quantity,
			AmountCents: l.PriceCents,
		})
	}

	body, err := json.Marshal(req)
	if err != nil {
		return orderapp.PaymentIntent{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/checkout/sessions", bytes.NewReader(body))
	if err != nil {
		return orderapp.PaymentIntent{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return orderapp.PaymentIntent{}, fmt.Errorf("create checkout session: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return orderapp.PaymentIntent{}, fmt.Errorf("create checkout session: status %d: %s", resp.StatusCode, snippet)
	}

	var sr sessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return orderapp.PaymentIntent{}, fmt.Errorf("decode session response: %w", err)
	}
	c.log.Debug("checkout session created", "order_number", o.Number, "intent_id", sr.ID)
	return orderapp.PaymentIntent{ID: sr.ID, ClientSecret: sr.ClientSecret}, nil
}
