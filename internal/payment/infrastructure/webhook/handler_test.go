package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/retailcore/checkout-core/internal/payment/application"
	"github.com/retailcore/checkout-core/internal/payment/domain"
)

type stubSettler struct {
	events  []domain.Event
	outcome application.Outcome
	err     error
}

func (s *stubSettler) Handle(_ context.Context, ev domain.Event) (application.Outcome, error) {
	s.events = append(s.events, ev)
	return s.outcome, s.err
}

type memFilter struct {
	keys      map[string]bool
	existsErr error
}

func (f *memFilter) EventKey(provider, eventID string) string {
	return "idem:evt:" + provider + ":" + eventID
}

func (f *memFilter) Exists(_ context.Context, key string) (bool, error) {
	if f.existsErr != nil {
		return false, f.existsErr
	}
	return f.keys[key], nil
}

func (f *memFilter) Mark(_ context.Context, key string) error {
	if f.keys == nil {
		f.keys = map[string]bool{}
	}
	f.keys[key] = true
	return nil
}

func newTestServer(settler Settler) (*httptest.Server, *memFilter) {
	filter := &memFilter{}
	h := NewHandler(slog.New(slog.DiscardHandler), testSecret, settler, filter)
	r := chi.NewRouter()
	h.Register(r)
	return httptest.NewServer(r), filter
}

func deliver(t *testing.T, url string, payload map[string]any, sign bool) *http.Response {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, url+"/webhooks/payment", bytes.NewReader(body))
	require.NoError(t, err)
	if sign {
		req.Header.Set(SignatureHeader, Sign(body, testSecret, time.Now()))
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func completedPayload(eventID, sessionID string) map[string]any {
	return map[string]any{
		"id":      eventID,
		"type":    "checkout.session.completed",
		"created": time.Now().Unix(),
		"data": map[string]any{
			"session_id":     sessionID,
			"transaction_id": "txn_9",
			"amount_cents":   5400,
			"metadata":       map[string]string{"order_id": "o-1"},
		},
	}
}

func TestWebhookDeliversSuccessEvent(t *testing.T) {
	settler := &stubSettler{outcome: application.OutcomeApplied}
	srv, _ := newTestServer(settler)
	defer srv.Close()

	resp := deliver(t, srv.URL, completedPayload("evt_1", "cs_42"), true)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, settler.events, 1)

	ev, ok := settler.events[0].(domain.PaymentSucceeded)
	require.True(t, ok)
	assert.Equal(t, "cs_42", ev.IntentID)
	assert.Equal(t, "o-1", ev.OrderID)
	assert.Equal(t, "txn_9", ev.ProviderTxnID)
	assert.Equal(t, int64(5400), ev.AmountCents)

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "applied", out["outcome"])
}

func TestWebhookMapsFailureAndExpiry(t *testing.T) {
	settler := &stubSettler{outcome: application.OutcomeApplied}
	srv, _ := newTestServer(settler)
	defer srv.Close()

	resp := deliver(t, srv.URL, map[string]any{
		"id": "evt_f", "type": "payment_intent.payment_failed", "created": time.Now().Unix(),
		"data": map[string]any{"session_id": "cs_f", "reason": "card_declined"},
	}, true)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = deliver(t, srv.URL, map[string]any{
		"id": "evt_e", "type": "checkout.session.expired", "created": time.Now().Unix(),
		"data": map[string]any{"session_id": "cs_e"},
	}, true)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.Len(t, settler.events, 2)
	failed, ok := settler.events[0].(domain.PaymentFailed)
	require.True(t, ok)
	assert.Equal(t, "cs_f", failed.IntentID)
	assert.Equal(t, "card_declined", failed.Reason)

	expired, ok := settler.events[1].(domain.CheckoutExpired)
	require.True(t, ok)
	assert.Equal(t, "cs_e", expired.IntentID)
}

func TestWebhookRejectsUnsignedDelivery(t *testing.T) {
	settler := &stubSettler{}
	srv, _ := newTestServer(settler)
	defer srv.Close()

	resp := deliver(t, srv.URL, completedPayload("evt_1", "cs_1"), false)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Empty(t, settler.events, "unsigned payloads never reach the reconciler")
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	settler := &stubSettler{}
	srv, _ := newTestServer(settler)
	defer srv.Close()

	body, err := json.Marshal(completedPayload("evt_1", "cs_1"))
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/webhooks/payment", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set(SignatureHeader, Sign([]byte("other body"), testSecret, time.Now()))

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Empty(t, settler.events)
}

func TestWebhookAcknowledgesUnknownType(t *testing.T) {
	settler := &stubSettler{}
	srv, _ := newTestServer(settler)
	defer srv.Close()

	resp := deliver(t, srv.URL, map[string]any{
		"id": "evt_u", "type": "customer.updated", "created": time.Now().Unix(),
	}, true)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode, "unknown types are acknowledged, not retried")
	assert.Empty(t, settler.events)

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, true, out["ignored"])
}

func TestWebhookSettlementErrorYields5xx(t *testing.T) {
	settler := &stubSettler{err: assert.AnError}
	srv, _ := newTestServer(settler)
	defer srv.Close()

	resp := deliver(t, srv.URL, completedPayload("evt_1", "cs_1"), true)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode, "the provider must redeliver on infrastructure errors")
}

func TestWebhookMarksDuplicateOnlyAfterSettlement(t *testing.T) {
	settler := &stubSettler{outcome: application.OutcomeApplied, err: assert.AnError}
	srv, filter := newTestServer(settler)
	defer srv.Close()

	// A failed settlement must not leave a marker behind.
	resp := deliver(t, srv.URL, completedPayload("evt_1", "cs_1"), true)
	resp.Body.Close()
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Empty(t, filter.keys)

	// The provider's redelivery reaches the reconciler and marks.
	settler.err = nil
	resp = deliver(t, srv.URL, completedPayload("evt_1", "cs_1"), true)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, settler.events, 2)
	assert.True(t, filter.keys[filter.EventKey(providerName, "evt_1")])

	// A third delivery is now filtered before the reconciler.
	resp = deliver(t, srv.URL, completedPayload("evt_1", "cs_1"), true)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, settler.events, 2)

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, true, out["duplicate"])
}

func TestWebhookProceedsWhenFilterUnavailable(t *testing.T) {
	settler := &stubSettler{outcome: application.OutcomeApplied}
	srv, filter := newTestServer(settler)
	defer srv.Close()
	filter.existsErr = assert.AnError

	resp := deliver(t, srv.URL, completedPayload("evt_1", "cs_1"), true)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, settler.events, 1, "a broken filter degrades to the DB state guard")
}

func TestWebhookRejectsUnparseablePayload(t *testing.T) {
	settler := &stubSettler{}
	srv, _ := newTestServer(settler)
	defer srv.Close()

	body := []byte("not json")
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/webhooks/payment", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set(SignatureHeader, Sign(body, testSecret, time.Now()))

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Empty(t, settler.events)
}
