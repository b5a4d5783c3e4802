package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/bloomcart/api/internal/domain"
	"github.com/bloomcart/api/internal/payments"
	"github.com/bloomcart/api/internal/repositories"
)

var (
	// ErrEmptyCart indicates checkout was attempted with no cart items.
	ErrEmptyCart = errors.New("checkout: cart is empty")
	// ErrPaymentSetupFailed indicates the gateway could not register the payment
	// intent; the order is persisted with status payment_failed.
	ErrPaymentSetupFailed = errors.New("checkout: payment setup failed")
	// ErrPaymentVerificationFailed indicates the confirmation signature did not
	// match; the order is left untouched.
	ErrPaymentVerificationFailed = errors.New("checkout: payment verification failed")
)

// CheckoutServiceDeps bundles collaborators required to construct the checkout service.
type CheckoutServiceDeps struct {
	Orders    repositories.OrderRepository
	Carts     repositories.CartRepository
	Addresses repositories.AddressRepository
	Counters  repositories.CounterRepository
	Gateway   payments.Gateway
	Verifier  *payments.SignatureVerifier
	// Currency is the fallback when the cart does not carry one.
	Currency    string
	Clock       func() time.Time
	IDGenerator func() string
	Events      OrderEventPublisher
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type checkoutService struct {
	orders    repositories.OrderRepository
	carts     repositories.CartRepository
	addresses repositories.AddressRepository
	counters  repositories.CounterRepository
	gateway   payments.Gateway
	verifier  *payments.SignatureVerifier
	currency  string
	clock     func() time.Time
	newID     func() string
	events    OrderEventPublisher
	logger    func(context.Context, string, map[string]any)
}

// NewCheckoutService wires dependencies into a concrete CheckoutService implementation.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	if deps.Orders == nil {
		return nil, errors.New("checkout service: order repository is required")
	}
	if deps.Carts == nil {
		return nil, errors.New("checkout service: cart repository is required")
	}
	if deps.Addresses == nil {
		return nil, errors.New("checkout service: address repository is required")
	}
	if deps.Counters == nil {
		return nil, errors.New("checkout service: counter repository is required")
	}
	if deps.Gateway == nil {
		return nil, errors.New("checkout service: payment gateway is required")
	}
	if deps.Verifier == nil {
		return nil, errors.New("checkout service: signature verifier is required")
	}

	currency := strings.ToUpper(strings.TrimSpace(deps.Currency))
	if currency == "" {
		currency = "USD"
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = newOrderID
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &checkoutService{
		orders:    deps.Orders,
		carts:     deps.Carts,
		addresses: deps.Addresses,
		counters:  deps.Counters,
		gateway:   deps.Gateway,
		verifier:  deps.Verifier,
		currency:  currency,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		events: deps.Events,
		logger: logger,
	}, nil
}

func (s *checkoutService) PlaceOrder(ctx context.Context, cmd PlaceOrderCommand) (PlacementResult, error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return PlacementResult{}, fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}
	addressID := strings.TrimSpace(cmd.AddressID)
	if addressID == "" {
		return PlacementResult{}, fmt.Errorf("%w: address id is required", ErrOrderInvalidInput)
	}
	method := cmd.PaymentMethod
	if method != domain.PaymentMethodCOD && method != domain.PaymentMethodOnline {
		return PlacementResult{}, fmt.Errorf("%w: unsupported payment method %q", ErrOrderInvalidInput, method)
	}

	cart, err := s.carts.GetCart(ctx, userID)
	if err != nil {
		if isRepositoryNotFound(err) {
			return PlacementResult{}, ErrEmptyCart
		}
		return PlacementResult{}, mapOrderRepositoryError(err)
	}
	if len(cart.Items) == 0 {
		return PlacementResult{}, ErrEmptyCart
	}

	addr, err := s.addresses.Get(ctx, userID, addressID)
	if err != nil {
		if isRepositoryNotFound(err) {
			return PlacementResult{}, fmt.Errorf("%w: %s", ErrAddressNotFound, addressID)
		}
		return PlacementResult{}, mapOrderRepositoryError(err)
	}

	totals := buildOrderTotals(cart)
	if totals.Total <= 0 {
		return PlacementResult{}, fmt.Errorf("%w: order total must be positive, got %d", ErrOrderInvalidInput, totals.Total)
	}

	currency := strings.ToUpper(strings.TrimSpace(cart.Currency))
	if currency == "" {
		currency = s.currency
	}

	now := s.now()

	number, err := s.generateOrderNumber(ctx, now)
	if err != nil {
		return PlacementResult{}, mapOrderRepositoryError(err)
	}

	order := Order{
		ID:              s.newID(),
		OrderNumber:     number,
		UserID:          userID,
		AddressRef:      addr.ID,
		ShippingAddress: addr,
		Status:          domain.OrderStatusPlaced,
		Currency:        currency,
		PaymentMethod:   method,
		Totals:          totals,
		Items:           cloneLineItems(cart.Items),
		Tracking: []TrackingEntry{{
			Status:    domain.OrderStatusPlaced,
			Timestamp: now,
		}},
		Metadata:  ensureMap(cmd.Metadata),
		CreatedAt: now,
		UpdatedAt: now,
		PlacedAt:  &now,
	}

	if err := s.orders.Insert(ctx, order); err != nil {
		return PlacementResult{}, mapOrderRepositoryError(err)
	}

	s.publishEvent(ctx, OrderEvent{
		Type:          orderEventCreated,
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		UserID:        order.UserID,
		CurrentStatus: order.Status,
		ActorID:       userID,
		OccurredAt:    now,
		Metadata: map[string]any{
			"paymentMethod": string(method),
			"total":         order.Totals.Total,
		},
	})

	result := PlacementResult{Order: order}

	if method == domain.PaymentMethodOnline {
		intent, err := s.createIntent(ctx, order)
		if err != nil {
			s.markPaymentFailed(ctx, order)
			return PlacementResult{}, fmt.Errorf("%w: %v", ErrPaymentSetupFailed, err)
		}

		attached, err := s.orders.AttachPaymentRef(ctx, order.ID, domain.OrderStatusPlaced, PaymentReference{
			GatewayOrderID: intent.GatewayOrderID,
		})
		if err != nil {
			return PlacementResult{}, mapOrderRepositoryError(err)
		}

		result.Order = attached
		result.GatewayOrderID = intent.GatewayOrderID
		result.ClientSecret = intent.ClientSecret
	}

	if err := s.carts.ClearCart(ctx, userID); err != nil {
		s.logger(ctx, "checkout.cart.clear.failed", map[string]any{
			"user":  userID,
			"order": order.ID,
			"error": err.Error(),
		})
	}

	return result, nil
}

func (s *checkoutService) ConfirmPayment(ctx context.Context, cmd ConfirmPaymentCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	paymentID := strings.TrimSpace(cmd.GatewayPaymentID)
	if paymentID == "" {
		return Order{}, fmt.Errorf("%w: gateway payment id is required", ErrOrderInvalidInput)
	}
	if strings.TrimSpace(cmd.Signature) == "" {
		return Order{}, fmt.Errorf("%w: signature is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, mapOrderRepositoryError(err)
	}

	if err := checkOrderOwnership(order, cmd.UserID); err != nil {
		return Order{}, err
	}

	if order.PaymentMethod != domain.PaymentMethodOnline {
		return Order{}, fmt.Errorf("%w: order is not payable online", ErrOrderInvalidState)
	}
	if order.PaymentRef == nil {
		return Order{}, fmt.Errorf("%w: order has no payment reference", ErrOrderInvalidState)
	}

	if !s.verifier.Verify(order.PaymentRef.GatewayOrderID, paymentID, cmd.Signature) {
		s.logger(ctx, "checkout.payment.verification.failed", map[string]any{
			"order": order.ID,
		})
		return Order{}, ErrPaymentVerificationFailed
	}

	now := s.now()
	ref := *order.PaymentRef
	ref.GatewayPaymentID = paymentID
	ref.VerifiedAt = &now

	updated, err := s.orders.UpdateStatus(ctx, repositories.OrderStatusUpdate{
		OrderID:        order.ID,
		ExpectedStatus: domain.OrderStatusPlaced,
		NewStatus:      domain.OrderStatusConfirmed,
		Entry: domain.TrackingEntry{
			Status:    domain.OrderStatusConfirmed,
			Timestamp: now,
		},
		PaymentRef: &ref,
		UpdatedAt:  now,
	})
	if err != nil {
		return Order{}, mapOrderRepositoryError(err)
	}

	s.publishEvent(ctx, OrderEvent{
		Type:           orderEventPaymentConfirmed,
		OrderID:        updated.ID,
		OrderNumber:    updated.OrderNumber,
		UserID:         updated.UserID,
		PreviousStatus: domain.OrderStatusPlaced,
		CurrentStatus:  updated.Status,
		ActorID:        strings.TrimSpace(cmd.ActorID),
		OccurredAt:     now,
		Metadata: map[string]any{
			"gatewayPaymentId": paymentID,
		},
	})

	return updated, nil
}

func (s *checkoutService) createIntent(ctx context.Context, order Order) (payments.Intent, error) {
	return s.gateway.CreateIntent(ctx, payments.IntentRequest{
		OrderID:        order.ID,
		Amount:         order.Totals.Total,
		Currency:       order.Currency,
		CustomerID:     order.UserID,
		IdempotencyKey: "order-intent-" + order.ID,
		Metadata: map[string]string{
			"order_number": order.OrderNumber,
		},
	})
}

// markPaymentFailed moves a freshly placed order to the terminal
// payment_failed status after the gateway declined or stayed unreachable.
func (s *checkoutService) markPaymentFailed(ctx context.Context, order Order) {
	now := s.now()
	updated, err := s.orders.UpdateStatus(ctx, repositories.OrderStatusUpdate{
		OrderID:        order.ID,
		ExpectedStatus: domain.OrderStatusPlaced,
		NewStatus:      domain.OrderStatusPaymentFailed,
		Entry: domain.TrackingEntry{
			Status:    domain.OrderStatusPaymentFailed,
			Timestamp: now,
		},
		UpdatedAt: now,
	})
	if err != nil {
		s.logger(ctx, "checkout.payment_failed.update.failed", map[string]any{
			"order": order.ID,
			"error": err.Error(),
		})
		return
	}

	s.publishEvent(ctx, OrderEvent{
		Type:           orderEventPaymentFailed,
		OrderID:        updated.ID,
		OrderNumber:    updated.OrderNumber,
		UserID:         updated.UserID,
		PreviousStatus: domain.OrderStatusPlaced,
		CurrentStatus:  updated.Status,
		OccurredAt:     now,
	})
}

func (s *checkoutService) generateOrderNumber(ctx context.Context, now time.Time) (string, error) {
	seq, err := s.counters.Next(ctx, "orders", 1)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("BC-%04d-%06d", now.Year(), seq), nil
}

func (s *checkoutService) now() time.Time {
	return s.clock()
}

func (s *checkoutService) publishEvent(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish.failed", map[string]any{
			"type":  event.Type,
			"order": event.OrderID,
			"error": err.Error(),
		})
	}
}

func buildOrderTotals(cart Cart) OrderTotals {
	var subtotal int64
	for _, item := range cart.Items {
		subtotal += item.UnitPrice * int64(item.Quantity)
	}

	return OrderTotals{
		Subtotal: subtotal,
		Shipping: cart.Shipping,
		Discount: cart.Discount,
		Total:    subtotal + cart.Shipping - cart.Discount,
	}
}

func cloneLineItems(items []LineItem) []LineItem {
	cloned := make([]LineItem, len(items))
	for i, item := range items {
		cloned[i] = LineItem{
			ProductID: item.ProductID,
			Name:      item.Name,
			UnitPrice: item.UnitPrice,
			Quantity:  item.Quantity,
			Color:     cloneStringPtr(item.Color),
			Size:      cloneStringPtr(item.Size),
			Image:     item.Image,
		}
	}
	return cloned
}

func isRepositoryNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}
