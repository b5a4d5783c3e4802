package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/bloomcart/api/internal/platform/httpx"
	"github.com/bloomcart/api/internal/services"
)

const maxWebhookBodySize = 16 * 1024

// WebhookHandlers receives gateway callbacks. Authenticity rests on the
// HMAC signature inside the payload, not on Firebase bearer tokens.
type WebhookHandlers struct {
	checkout services.CheckoutService
}

// NewWebhookHandlers constructs a new WebhookHandlers instance.
func NewWebhookHandlers(checkout services.CheckoutService) *WebhookHandlers {
	return &WebhookHandlers{checkout: checkout}
}

// Routes registers the /webhooks endpoints.
func (h *WebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/payments", h.paymentConfirmation)
}

type paymentWebhookRequest struct {
	OrderID          string `json:"orderId"`
	GatewayPaymentID string `json:"gatewayPaymentId"`
	Signature        string `json:"signature"`
}

type paymentWebhookResponse struct {
	OrderID string `json:"orderId"`
	Status  string `json:"status"`
}

func (h *WebhookHandlers) paymentConfirmation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, maxWebhookBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req paymentWebhookRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	order, err := h.checkout.ConfirmPayment(ctx, services.ConfirmPaymentCommand{
		OrderID:          strings.TrimSpace(req.OrderID),
		GatewayPaymentID: strings.TrimSpace(req.GatewayPaymentID),
		Signature:        strings.TrimSpace(req.Signature),
		ActorID:          "gateway",
	})
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, paymentWebhookResponse{
		OrderID: order.ID,
		Status:  string(order.Status),
	})
}
