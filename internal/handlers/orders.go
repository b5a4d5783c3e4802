package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/bloomcart/api/internal/domain"
	"github.com/bloomcart/api/internal/platform/auth"
	"github.com/bloomcart/api/internal/platform/httpx"
	"github.com/bloomcart/api/internal/services"
)

const (
	defaultOrderPageSize = 20
	maxOrderPageSize     = 100
	maxOrderBodySize     = 8 * 1024
)

var validOrderStatuses = map[domain.OrderStatus]struct{}{
	domain.OrderStatusPlaced:        {},
	domain.OrderStatusConfirmed:     {},
	domain.OrderStatusShipped:       {},
	domain.OrderStatusDelivered:     {},
	domain.OrderStatusCancelled:     {},
	domain.OrderStatusPaymentFailed: {},
}

// OrderHandlers exposes order placement and lifecycle endpoints for authenticated users.
type OrderHandlers struct {
	authn    *auth.Authenticator
	orders   services.OrderService
	checkout services.CheckoutService

	defaultPageSize int
	maxPageSize     int
}

// OrderHandlersOption customises handler construction.
type OrderHandlersOption func(*OrderHandlers)

// WithPageSizeLimits overrides the default and maximum page sizes applied to
// order listings.
func WithPageSizeLimits(defaultSize, maxSize int) OrderHandlersOption {
	return func(h *OrderHandlers) {
		if defaultSize > 0 {
			h.defaultPageSize = defaultSize
		}
		if maxSize >= h.defaultPageSize {
			h.maxPageSize = maxSize
		}
	}
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService, checkout services.CheckoutService, opts ...OrderHandlersOption) *OrderHandlers {
	h := &OrderHandlers{
		authn:           authn,
		orders:          orders,
		checkout:        checkout,
		defaultPageSize: defaultOrderPageSize,
		maxPageSize:     maxOrderPageSize,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Post("/", h.placeOrder)
	r.Get("/", h.listOrders)
	r.Get("/{orderID}", h.getOrder)
	r.Get("/{orderID}/tracking", h.getTracking)
	r.Post("/{orderID}:confirm-payment", h.confirmPayment)
	r.Post("/{orderID}:cancel", h.cancelOrder)
}

type placeOrderRequest struct {
	AddressID     string         `json:"addressId"`
	PaymentMethod string         `json:"paymentMethod"`
	Metadata      map[string]any `json:"metadata"`
}

type placeOrderResponse struct {
	Order          orderPayload `json:"order"`
	GatewayOrderID string       `json:"gatewayOrderId,omitempty"`
	ClientSecret   string       `json:"clientSecret,omitempty"`
}

type confirmPaymentRequest struct {
	GatewayPaymentID string `json:"gatewayPaymentId"`
	Signature        string `json:"signature"`
}

type cancelOrderRequest struct {
	Reason   string         `json:"reason"`
	Metadata map[string]any `json:"metadata"`
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type orderListResponse struct {
	Items         []orderSummaryPayload `json:"items"`
	NextPageToken string                `json:"next_page_token,omitempty"`
}

type trackingResponse struct {
	OrderID  string                 `json:"orderId"`
	Tracking []trackingEntryPayload `json:"tracking"`
}

func (h *OrderHandlers) placeOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	body, err := readLimitedBody(r, maxOrderBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req placeOrderRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	result, err := h.checkout.PlaceOrder(ctx, services.PlaceOrderCommand{
		UserID:        strings.TrimSpace(identity.UID),
		AddressID:     strings.TrimSpace(req.AddressID),
		PaymentMethod: domain.PaymentMethod(strings.TrimSpace(strings.ToLower(req.PaymentMethod))),
		Metadata:      cloneMap(req.Metadata),
	})
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, placeOrderResponse{
		Order:          buildOrderPayload(result.Order),
		GatewayOrderID: result.GatewayOrderID,
		ClientSecret:   result.ClientSecret,
	})
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	query := r.URL.Query()

	var statusFilters []domain.OrderStatus
	for _, raw := range query["status"] {
		for _, value := range strings.Split(raw, ",") {
			status, ok := parseOrderStatus(value)
			if !ok {
				httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "status filter contains an unknown order status", http.StatusBadRequest))
				return
			}
			statusFilters = append(statusFilters, status)
		}
	}

	pageSize := h.defaultPageSize
	if sizeRaw := strings.TrimSpace(query.Get("page_size")); sizeRaw != "" {
		size, err := strconv.Atoi(sizeRaw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "page_size must be an integer", http.StatusBadRequest))
			return
		}
		switch {
		case size <= 0:
			pageSize = h.defaultPageSize
		case size > h.maxPageSize:
			pageSize = h.maxPageSize
		default:
			pageSize = size
		}
	}

	page, err := h.orders.ListOrders(ctx, services.OrderListFilter{
		UserID: strings.TrimSpace(identity.UID),
		Status: statusFilters,
		Pagination: services.Pagination{
			PageSize:  pageSize,
			PageToken: strings.TrimSpace(query.Get("page_token")),
		},
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	items := make([]orderSummaryPayload, 0, len(page.Items))
	for _, order := range page.Items {
		items = append(items, buildOrderSummary(order))
	}

	writeJSONResponse(w, http.StatusOK, orderListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.GetOrder(ctx, orderID, readOptionsFor(identity))
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) getTracking(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	entries, err := h.orders.GetTracking(ctx, orderID, readOptionsFor(identity))
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	tracking := make([]trackingEntryPayload, 0, len(entries))
	for _, entry := range entries {
		tracking = append(tracking, buildTrackingEntry(entry))
	}

	writeJSONResponse(w, http.StatusOK, trackingResponse{
		OrderID:  orderID,
		Tracking: tracking,
	})
}

func (h *OrderHandlers) confirmPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	body, err := readLimitedBody(r, maxOrderBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req confirmPaymentRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	cmd := services.ConfirmPaymentCommand{
		OrderID:          orderID,
		GatewayPaymentID: strings.TrimSpace(req.GatewayPaymentID),
		Signature:        strings.TrimSpace(req.Signature),
		ActorID:          strings.TrimSpace(identity.UID),
	}
	if !isStaff(identity) {
		cmd.UserID = strings.TrimSpace(identity.UID)
	}

	order, err := h.checkout.ConfirmPayment(ctx, cmd)
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	var req cancelOrderRequest
	body, err := readLimitedBody(r, maxOrderBodySize)
	if err != nil && !errors.Is(err, errEmptyBody) {
		writeBodyError(ctx, w, err)
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
			return
		}
	}

	cmd := services.CancelOrderCommand{
		OrderID:  orderID,
		ActorID:  strings.TrimSpace(identity.UID),
		Reason:   strings.TrimSpace(req.Reason),
		Metadata: cloneMap(req.Metadata),
	}
	if !isStaff(identity) {
		cmd.UserID = strings.TrimSpace(identity.UID)
	}

	order, err := h.orders.Cancel(ctx, cmd)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func requireIdentity(ctx context.Context, w http.ResponseWriter) (*auth.Identity, bool) {
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return nil, false
	}
	return identity, true
}

func isStaff(identity *auth.Identity) bool {
	return identity.HasAnyRole(auth.RoleStaff, auth.RoleAdmin)
}

func readOptionsFor(identity *auth.Identity) services.OrderReadOptions {
	if isStaff(identity) {
		return services.OrderReadOptions{}
	}
	return services.OrderReadOptions{UserID: strings.TrimSpace(identity.UID)}
}

func parseOrderStatus(raw string) (domain.OrderStatus, bool) {
	status := domain.OrderStatus(strings.TrimSpace(strings.ToLower(raw)))
	if _, ok := validOrderStatuses[status]; !ok {
		return "", false
	}
	return status, true
}

func writeBodyError(ctx context.Context, w http.ResponseWriter, err error) {
	if errors.Is(err, errBodyTooLarge) {
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		return
	}
	httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderForbidden):
		httpx.WriteError(ctx, w, httpx.NewError("order_forbidden", "order belongs to another user", http.StatusForbidden))
	case errors.Is(err, services.ErrOrderNotCancellable):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_cancellable", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("order_conflict", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("order_invalid_state", err.Error(), http.StatusConflict))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "failed to process order request", http.StatusInternalServerError))
	}
}

func writeCheckoutError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrEmptyCart):
		httpx.WriteError(ctx, w, httpx.NewError("empty_cart", "cart has no items", http.StatusBadRequest))
	case errors.Is(err, services.ErrAddressNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("address_not_found", "shipping address not found", http.StatusBadRequest))
	case errors.Is(err, services.ErrPaymentSetupFailed):
		httpx.WriteError(ctx, w, httpx.NewError("payment_setup_failed", "payment gateway rejected or was unreachable", http.StatusBadGateway))
	case errors.Is(err, services.ErrPaymentVerificationFailed):
		httpx.WriteError(ctx, w, httpx.NewError("payment_verification_failed", "payment confirmation signature is invalid", http.StatusBadRequest))
	default:
		writeOrderError(ctx, w, err)
	}
}

type orderSummaryPayload struct {
	ID            string `json:"id"`
	OrderNumber   string `json:"order_number"`
	Status        string `json:"status"`
	Currency      string `json:"currency"`
	PaymentMethod string `json:"payment_method"`
	Total         int64  `json:"total"`
	CreatedAt     string `json:"created_at"`
}

type orderPayload struct {
	ID              string                 `json:"id"`
	OrderNumber     string                 `json:"order_number"`
	UserID          string                 `json:"user_id"`
	Status          string                 `json:"status"`
	Currency        string                 `json:"currency"`
	PaymentMethod   string                 `json:"payment_method"`
	Totals          orderTotalsPayload     `json:"totals"`
	Items           []orderItemPayload     `json:"items"`
	ShippingAddress addressPayload         `json:"shipping_address"`
	PaymentRef      *paymentRefPayload     `json:"payment_ref,omitempty"`
	Tracking        []trackingEntryPayload `json:"tracking,omitempty"`
	CancelReason    *string                `json:"cancel_reason,omitempty"`
	Metadata        map[string]any         `json:"metadata,omitempty"`
	CreatedAt       string                 `json:"created_at"`
	UpdatedAt       string                 `json:"updated_at,omitempty"`
	PlacedAt        string                 `json:"placed_at,omitempty"`
	ConfirmedAt     string                 `json:"confirmed_at,omitempty"`
	ShippedAt       string                 `json:"shipped_at,omitempty"`
	DeliveredAt     string                 `json:"delivered_at,omitempty"`
	CancelledAt     string                 `json:"cancelled_at,omitempty"`
}

type orderTotalsPayload struct {
	Subtotal int64 `json:"subtotal"`
	Shipping int64 `json:"shipping"`
	Discount int64 `json:"discount"`
	Total    int64 `json:"total"`
}

type orderItemPayload struct {
	ProductID string  `json:"product_id"`
	Name      string  `json:"name,omitempty"`
	Quantity  int     `json:"quantity"`
	UnitPrice int64   `json:"unit_price"`
	Total     int64   `json:"total"`
	Color     *string `json:"color,omitempty"`
	Size      *string `json:"size,omitempty"`
	Image     string  `json:"image,omitempty"`
}

type paymentRefPayload struct {
	GatewayOrderID   string `json:"gateway_order_id"`
	GatewayPaymentID string `json:"gateway_payment_id,omitempty"`
	VerifiedAt       string `json:"verified_at,omitempty"`
}

type trackingEntryPayload struct {
	Status    string  `json:"status"`
	Timestamp string  `json:"timestamp"`
	Location  *string `json:"location,omitempty"`
}

func buildOrderSummary(order services.Order) orderSummaryPayload {
	return orderSummaryPayload{
		ID:            strings.TrimSpace(order.ID),
		OrderNumber:   strings.TrimSpace(order.OrderNumber),
		Status:        strings.TrimSpace(string(order.Status)),
		Currency:      strings.ToUpper(strings.TrimSpace(order.Currency)),
		PaymentMethod: string(order.PaymentMethod),
		Total:         order.Totals.Total,
		CreatedAt:     formatTime(order.CreatedAt),
	}
}

func buildOrderPayload(order services.Order) orderPayload {
	payload := orderPayload{
		ID:            strings.TrimSpace(order.ID),
		OrderNumber:   strings.TrimSpace(order.OrderNumber),
		UserID:        strings.TrimSpace(order.UserID),
		Status:        strings.TrimSpace(string(order.Status)),
		Currency:      strings.ToUpper(strings.TrimSpace(order.Currency)),
		PaymentMethod: string(order.PaymentMethod),
		Totals: orderTotalsPayload{
			Subtotal: order.Totals.Subtotal,
			Shipping: order.Totals.Shipping,
			Discount: order.Totals.Discount,
			Total:    order.Totals.Total,
		},
		Items:           make([]orderItemPayload, 0, len(order.Items)),
		ShippingAddress: buildAddressPayload(order.ShippingAddress),
		CancelReason:    cloneStringPointer(order.CancelReason),
		Metadata:        cloneMap(order.Metadata),
		CreatedAt:       formatTime(order.CreatedAt),
		UpdatedAt:       formatTime(order.UpdatedAt),
		PlacedAt:        formatTime(pointerTime(order.PlacedAt)),
		ConfirmedAt:     formatTime(pointerTime(order.ConfirmedAt)),
		ShippedAt:       formatTime(pointerTime(order.ShippedAt)),
		DeliveredAt:     formatTime(pointerTime(order.DeliveredAt)),
		CancelledAt:     formatTime(pointerTime(order.CancelledAt)),
	}

	for _, item := range order.Items {
		payload.Items = append(payload.Items, orderItemPayload{
			ProductID: item.ProductID,
			Name:      item.Name,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			Total:     item.UnitPrice * int64(item.Quantity),
			Color:     cloneStringPointer(item.Color),
			Size:      cloneStringPointer(item.Size),
			Image:     item.Image,
		})
	}

	if order.PaymentRef != nil {
		payload.PaymentRef = &paymentRefPayload{
			GatewayOrderID:   order.PaymentRef.GatewayOrderID,
			GatewayPaymentID: order.PaymentRef.GatewayPaymentID,
			VerifiedAt:       formatTime(pointerTime(order.PaymentRef.VerifiedAt)),
		}
	}

	for _, entry := range order.Tracking {
		payload.Tracking = append(payload.Tracking, buildTrackingEntry(entry))
	}

	return payload
}

func buildTrackingEntry(entry services.TrackingEntry) trackingEntryPayload {
	return trackingEntryPayload{
		Status:    string(entry.Status),
		Timestamp: formatTime(entry.Timestamp),
		Location:  cloneStringPointer(entry.Location),
	}
}
