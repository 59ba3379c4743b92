// Package rest exposes the storefront-facing endpoints: stock
// verification, checkout and order lookup.
package rest

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	invapp "github.com/retailcore/checkout-core/internal/inventory/application"
	orderapp "github.com/retailcore/checkout-core/internal/order/application"
	"github.com/retailcore/checkout-core/internal/order/domain"
)

type Handler struct {
	log      *slog.Logger
	verifier *invapp.Verifier
	orders   *orderapp.Service
}

func NewHandler(log *slog.Logger, verifier *invapp.Verifier, orders *orderapp.Service) *Handler {
	return &Handler{log: log, verifier: verifier, orders: orders}
}

func (h *Handler) Register(r chi.Router) {
	r.Post("/stock/verify", h.verifyStock)
	r.Post("/checkout", h.checkout)
	r.Get("/orders/{number}", h.orderByNumber)
}

type verifyRequest struct {
	Items []invapp.CartLine `json:"items"`
}

func (h *Handler) verifyStock(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	res, err := h.verifier.VerifyCart(r.Context(), req.Items)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type checkoutRequest struct {
	StoreID  uuid.UUID         `json:"storeId"`
	Currency string            `json:"currency"`
	Items    []checkoutReqLine `json:"items"`
}

type checkoutReqLine struct {
	VariantID   uuid.UUID `json:"variantId"`
	ColorID     uuid.UUID `json:"colorId"`
	StoreID     uuid.UUID `json:"storeId"`
	Quantity    int       `json:"quantity"`
	Designation string    `json:"designation,omitempty"`
}

type checkoutResponse struct {
	OrderID       string    `json:"orderId"`
	OrderNumber   string    `json:"orderNumber"`
	Status        string    `json:"status"`
	PaymentStatus string    `json:"paymentStatus"`
	TotalCents    int64     `json:"totalCents"`
	Currency      string    `json:"currency"`
	IntentID      string    `json:"intentId,omitempty"`
	ClientSecret  string    `json:"clientSecret,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

func (h *Handler) checkout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	draft := orderapp.Draft{StoreID: req.StoreID, Currency: req.Currency}
	for _, l := range req.Items {
		storeID := l.StoreID
		if storeID == uuid.Nil {
			storeID = req.StoreID
		}
		draft.Lines = append(draft.Lines, orderapp.DraftLine{
			VariantID:   l.VariantID,
			ColorID:     l.ColorID,
			StoreID:     storeID,
			Quantity:    l.Quantity,
			Designation: l.Designation,
		})
	}

	order, err := h.orders.Checkout(r.Context(), draft)

	var capErr *domain.CapacityError
	switch {
	case errors.As(err, &capErr):
		writeJSON(w, http.StatusConflict, map[string]any{
			"error": "insufficient stock",
			"lines": capErr.Lines,
		})
		return
	case errors.Is(err, orderapp.ErrGatewayUnavailable):
		// The reservation stands; the client may retry the payment leg
		// against the same order before the session hold expires.
		writeJSON(w, http.StatusBadGateway, map[string]any{
			"error":       "payment gateway unavailable",
			"orderNumber": order.Number,
		})
		return
	case errors.Is(err, orderapp.ErrInvalidDraft):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		// Infrastructure failures carry details the caller has no
		// business seeing.
		h.log.Error("checkout failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusCreated, toCheckoutResponse(order))
}

func (h *Handler) orderByNumber(w http.ResponseWriter, r *http.Request) {
	number := chi.URLParam(r, "number")

	order, err := h.orders.Order(r.Context(), number)
	if errors.Is(err, domain.ErrOrderNotFound) {
		writeError(w, http.StatusNotFound, "order not found")
		return
	}
	if err != nil {
		h.log.Error("order lookup failed", "order_number", number, "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, toCheckoutResponse(order))
}

func toCheckoutResponse(o domain.Order) checkoutResponse {
	return checkoutResponse{
		OrderID:       o.ID.String(),
		OrderNumber:   o.Number,
		Status:        string(o.Status),
		PaymentStatus: string(o.PaymentStatus),
		TotalCents:    o.TotalCents,
		Currency:      o.Currency,
		IntentID:      o.IntentID,
		ClientSecret:  o.ClientSecret,
		CreatedAt:     o.CreatedAt,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
