package services

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/bloomcart/api/internal/domain"
	"github.com/bloomcart/api/internal/payments"
	"github.com/bloomcart/api/internal/repositories"
)

const (
	orderEventCreated          = "order.created"
	orderEventStatusChanged    = "order.status.changed"
	orderEventPaymentConfirmed = "order.payment.confirmed"
	orderEventPaymentFailed    = "order.payment.failed"
	orderEventInventoryRelease = "inventory.release"

	orderIDPrefix = "ord_"
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderInvalidState indicates an invalid status transition was attempted.
	ErrOrderInvalidState = errors.New("order: invalid status transition")
	// ErrOrderConflict indicates the stored status changed underneath the caller.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrOrderForbidden indicates the order belongs to a different user.
	ErrOrderForbidden = errors.New("order: forbidden")
	// ErrOrderNotCancellable indicates the order status no longer allows cancellation.
	ErrOrderNotCancellable = errors.New("order: not cancellable")
)

var orderStateTransitions = map[OrderStatus][]OrderStatus{
	domain.OrderStatusPlaced:    {domain.OrderStatusConfirmed, domain.OrderStatusCancelled, domain.OrderStatusPaymentFailed},
	domain.OrderStatusConfirmed: {domain.OrderStatusShipped, domain.OrderStatusCancelled},
	domain.OrderStatusShipped:   {domain.OrderStatusDelivered},
}

var cancellableStatuses = []OrderStatus{
	domain.OrderStatusPlaced,
	domain.OrderStatusConfirmed,
}

// OrderEventPublisher publishes order domain events for downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// OrderEvent captures metadata for emitted order domain events.
type OrderEvent struct {
	Type           string
	OrderID        string
	OrderNumber    string
	UserID         string
	PreviousStatus OrderStatus
	CurrentStatus  OrderStatus
	ActorID        string
	OccurredAt     time.Time
	Metadata       map[string]any
}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders  repositories.OrderRepository
	Gateway payments.Gateway
	Clock   func() time.Time
	Events  OrderEventPublisher
	Logger  func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders  repositories.OrderRepository
	gateway payments.Gateway
	clock   func() time.Time
	events  OrderEventPublisher
	logger  func(context.Context, string, map[string]any)
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &orderService{
		orders:  deps.Orders,
		gateway: deps.Gateway,
		clock: func() time.Time {
			return clock().UTC()
		},
		events: deps.Events,
		logger: logger,
	}, nil
}

func (s *orderService) GetOrder(ctx context.Context, orderID string, opts OrderReadOptions) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, mapOrderRepositoryError(err)
	}

	if err := checkOrderOwnership(order, opts.UserID); err != nil {
		return Order{}, err
	}

	return order, nil
}

func (s *orderService) ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error) {
	if strings.TrimSpace(filter.UserID) == "" {
		return domain.CursorPage[Order]{}, fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}

	page, err := s.orders.List(ctx, repositories.OrderListFilter{
		UserID:     strings.TrimSpace(filter.UserID),
		Status:     filter.Status,
		Pagination: filter.Pagination,
	})
	if err != nil {
		return domain.CursorPage[Order]{}, mapOrderRepositoryError(err)
	}
	return page, nil
}

func (s *orderService) GetTracking(ctx context.Context, orderID string, opts OrderReadOptions) ([]TrackingEntry, error) {
	order, err := s.GetOrder(ctx, orderID, opts)
	if err != nil {
		return nil, err
	}
	return slices.Clone(order.Tracking), nil
}

func (s *orderService) TransitionStatus(ctx context.Context, cmd TransitionStatusCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	target := OrderStatus(strings.TrimSpace(string(cmd.Target)))
	if target == "" {
		return Order{}, fmt.Errorf("%w: target status is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, mapOrderRepositoryError(err)
	}

	if cmd.ExpectedStatus != nil && order.Status != *cmd.ExpectedStatus {
		return Order{}, fmt.Errorf("%w: expected status %q but was %q", ErrOrderConflict, *cmd.ExpectedStatus, order.Status)
	}

	if !canTransition(order.Status, target) {
		return Order{}, fmt.Errorf("%w: %s to %s", ErrOrderInvalidState, order.Status, target)
	}

	now := s.now()
	prevStatus := order.Status

	updated, err := s.orders.UpdateStatus(ctx, repositories.OrderStatusUpdate{
		OrderID:        orderID,
		ExpectedStatus: order.Status,
		NewStatus:      target,
		Entry: domain.TrackingEntry{
			Status:    target,
			Timestamp: now,
			Location:  cloneStringPtr(cmd.Location),
		},
		UpdatedAt: now,
	})
	if err != nil {
		return Order{}, mapOrderRepositoryError(err)
	}

	s.publishEvent(ctx, OrderEvent{
		Type:           orderEventStatusChanged,
		OrderID:        updated.ID,
		OrderNumber:    updated.OrderNumber,
		UserID:         updated.UserID,
		PreviousStatus: prevStatus,
		CurrentStatus:  updated.Status,
		ActorID:        strings.TrimSpace(cmd.ActorID),
		OccurredAt:     now,
		Metadata:       ensureMap(cmd.Metadata),
	})

	return updated, nil
}

func (s *orderService) Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, mapOrderRepositoryError(err)
	}

	if err := checkOrderOwnership(order, cmd.UserID); err != nil {
		return Order{}, err
	}

	if !slices.Contains(cancellableStatuses, order.Status) {
		return Order{}, fmt.Errorf("%w: order status is %q", ErrOrderNotCancellable, order.Status)
	}

	now := s.now()
	prevStatus := order.Status
	reason := strings.TrimSpace(cmd.Reason)

	updated, err := s.orders.UpdateStatus(ctx, repositories.OrderStatusUpdate{
		OrderID:        orderID,
		ExpectedStatus: order.Status,
		NewStatus:      domain.OrderStatusCancelled,
		Entry: domain.TrackingEntry{
			Status:    domain.OrderStatusCancelled,
			Timestamp: now,
		},
		CancelReason: optionalString(reason),
		UpdatedAt:    now,
	})
	if err != nil {
		return Order{}, mapOrderRepositoryError(err)
	}

	metadata := ensureMap(cmd.Metadata)
	if reason != "" {
		metadata["reason"] = reason
	}

	if s.shouldRefund(prevStatus, updated) {
		if refundErr := s.refundOrder(ctx, updated); refundErr != nil {
			metadata["refundFailed"] = true
			s.logger(ctx, "order.cancel.refund.failed", map[string]any{
				"order": updated.ID,
				"error": refundErr.Error(),
			})
		}
	}

	s.publishEvent(ctx, OrderEvent{
		Type:           orderEventStatusChanged,
		OrderID:        updated.ID,
		OrderNumber:    updated.OrderNumber,
		UserID:         updated.UserID,
		PreviousStatus: prevStatus,
		CurrentStatus:  updated.Status,
		ActorID:        strings.TrimSpace(cmd.ActorID),
		OccurredAt:     now,
		Metadata:       metadata,
	})

	// Every cancellation returns its reserved stock to the pool.
	s.publishEvent(ctx, OrderEvent{
		Type:          orderEventInventoryRelease,
		OrderID:       updated.ID,
		OrderNumber:   updated.OrderNumber,
		UserID:        updated.UserID,
		CurrentStatus: updated.Status,
		ActorID:       strings.TrimSpace(cmd.ActorID),
		OccurredAt:    now,
		Metadata: map[string]any{
			"items": releaseLines(updated.Items),
		},
	})

	return updated, nil
}

// releaseLines projects order items to the quantities an inventory consumer
// must return to stock.
func releaseLines(items []LineItem) []map[string]any {
	lines := make([]map[string]any, len(items))
	for i, item := range items {
		lines[i] = map[string]any{
			"productId": item.ProductID,
			"quantity":  item.Quantity,
		}
	}
	return lines
}

// shouldRefund reports whether a cancellation must trigger a gateway refund.
// Only confirmed online orders have captured funds to return.
func (s *orderService) shouldRefund(prevStatus OrderStatus, order Order) bool {
	if s.gateway == nil {
		return false
	}
	if prevStatus != domain.OrderStatusConfirmed {
		return false
	}
	return order.PaymentMethod == domain.PaymentMethodOnline && order.PaymentRef != nil
}

func (s *orderService) refundOrder(ctx context.Context, order Order) error {
	_, err := s.gateway.Refund(ctx, payments.RefundRequest{
		GatewayPaymentID: order.PaymentRef.GatewayPaymentID,
		Reason:           "requested_by_customer",
		IdempotencyKey:   "order-refund-" + order.ID,
		Metadata: map[string]string{
			"order_id": order.ID,
		},
	})
	return err
}

func (s *orderService) now() time.Time {
	return s.clock()
}

func (s *orderService) publishEvent(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	if event.Metadata != nil {
		event.Metadata = maps.Clone(event.Metadata)
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish.failed", map[string]any{
			"type":   event.Type,
			"order":  event.OrderID,
			"error":  err.Error(),
			"status": string(event.CurrentStatus),
		})
	}
}

func checkOrderOwnership(order Order, userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil
	}
	if order.UserID != userID {
		return fmt.Errorf("%w: order %s", ErrOrderForbidden, order.ID)
	}
	return nil
}

func mapOrderRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("order: repository unavailable: %w", err)
		}
	}

	return err
}

func canTransition(current, target OrderStatus) bool {
	next, ok := orderStateTransitions[current]
	if !ok {
		return false
	}
	return slices.Contains(next, target)
}

func ensureMap(src map[string]any) map[string]any {
	if src == nil {
		return map[string]any{}
	}
	return src
}

func optionalString(v string) *string {
	if v == "" {
		return nil
	}
	ref := v
	return &ref
}

func cloneStringPtr(value *string) *string {
	if value == nil {
		return nil
	}
	ref := *value
	return &ref
}

func newOrderID() string {
	return orderIDPrefix + ulid.Make().String()
}
