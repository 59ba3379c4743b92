// Package webhook receives processor callbacks and turns them into
// settlement events. Signature verification, duplicate filtering and
// payload mapping live here; all state decisions live in the reconciler.
package webhook

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/retailcore/checkout-core/internal/payment/application"
	"github.com/retailcore/checkout-core/internal/payment/domain"
	"github.com/retailcore/checkout-core/pkg/metrics"
)

const (
	SignatureHeader = "Webhook-Signature"
	providerName    = "payproc"
	maxBodyBytes    = 1 << 20
)

// Settler is the reconciler surface the handler needs.
type Settler interface {
	Handle(ctx context.Context, ev domain.Event) (application.Outcome, error)
}

// DuplicateFilter is the marker-store surface the handler needs,
// satisfied by *idempotency.Store.
type DuplicateFilter interface {
	EventKey(provider, eventID string) string
	Exists(ctx context.Context, key string) (bool, error)
	Mark(ctx context.Context, key string) error
}

type Handler struct {
	log     *slog.Logger
	secret  string
	settler Settler
	idem    DuplicateFilter
	now     func() time.Time
}

func NewHandler(log *slog.Logger, secret string, settler Settler, idem DuplicateFilter) *Handler {
	return &Handler{
		log:     log,
		secret:  secret,
		settler: settler,
		idem:    idem,
		now:     time.Now,
	}
}

func (h *Handler) Register(r chi.Router) {
	r.Post("/webhooks/payment", h.receive)
}

// envelope is the provider's delivery wrapper. Data fields not used by
// any event type are simply ignored.
type envelope struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		SessionID     string            `json:"session_id"`
		TransactionID string            `json:"transaction_id"`
		AmountCents   int64             `json:"amount_cents"`
		Reason        string            `json:"reason"`
		Metadata      map[string]string `json:"metadata"`
	} `json:"data"`
}

func (h *Handler) receive(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unreadable body"})
		return
	}

	if err := VerifySignature(r.Header.Get(SignatureHeader), body, h.secret, h.now()); err != nil {
		metrics.WebhookEvents.WithLabelValues("unknown", "rejected_signature").Inc()
		h.log.Warn("webhook signature rejected", "err", err)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid signature"})
		return
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil || env.ID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}

	// Cheap duplicate filter only. A replay that slips past it is still
	// harmless: the reconciler re-checks order state under lock. The
	// marker is read here but only written after a durable decision, so
	// a crash mid-settlement never swallows the redelivery.
	key := h.idem.EventKey(providerName, env.ID)
	seen, err := h.idem.Exists(r.Context(), key)
	if err != nil {
		h.log.Warn("duplicate filter unavailable, proceeding", "event_id", env.ID, "err", err)
	} else if seen {
		metrics.WebhookEvents.WithLabelValues(env.Type, "duplicate").Inc()
		writeJSON(w, http.StatusOK, map[string]any{"received": true, "duplicate": true})
		return
	}

	ev, ok := h.toEvent(env)
	if !ok {
		// Unknown types are acknowledged so the provider does not
		// retry them forever.
		metrics.WebhookEvents.WithLabelValues(env.Type, "ignored").Inc()
		h.log.Info("ignoring unhandled webhook type", "event_id", env.ID, "type", env.Type)
		writeJSON(w, http.StatusOK, map[string]any{"received": true, "ignored": true})
		return
	}

	outcome, err := h.settler.Handle(r.Context(), ev)
	if err != nil {
		// Surface a 5xx so the provider redelivers. No marker was
		// written, so the retry is not filtered out.
		h.log.Error("webhook settlement failed", "event_id", env.ID, "type", env.Type, "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "settlement failed"})
		return
	}

	// The decision is committed; a cancelled request context must not
	// keep the marker from being written.
	if merr := h.idem.Mark(context.WithoutCancel(r.Context()), key); merr != nil {
		h.log.Warn("could not record duplicate marker", "event_id", env.ID, "err", merr)
	}
	writeJSON(w, http.StatusOK, map[string]any{"received": true, "outcome": string(outcome)})
}

func (h *Handler) toEvent(env envelope) (domain.Event, bool) {
	occurred := time.Unix(env.Created, 0).UTC()
	switch env.Type {
	case "checkout.session.completed":
		return domain.PaymentSucceeded{
			IntentID:      env.Data.SessionID,
			OrderID:       env.Data.Metadata["order_id"],
			ProviderTxnID: env.Data.TransactionID,
			AmountCents:   env.Data.AmountCents,
			Provider:      providerName,
			OccurredAt:    occurred,
			Metadata:      env.Data.Metadata,
		}, true
	case "payment_intent.payment_failed":
		reason := env.Data.Reason
		if reason == "" {
			reason = "declined"
		}
		return domain.PaymentFailed{
			IntentID:   env.Data.SessionID,
			OrderID:    env.Data.Metadata["order_id"],
			Provider:   providerName,
			Reason:     reason,
			OccurredAt: occurred,
		}, true
	case "checkout.session.expired":
		return domain.CheckoutExpired{
			IntentID:   env.Data.SessionID,
			OrderID:    env.Data.Metadata["order_id"],
			Provider:   providerName,
			OccurredAt: occurred,
		}, true
	default:
		return nil, false
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
