// Package services implements the order, checkout, cart, and address
// workflows on top of the repository contracts.
package services

import (
	"context"

	domain "github.com/bloomcart/api/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination       = domain.Pagination
	Cart             = domain.Cart
	Order            = domain.Order
	OrderTotals      = domain.OrderTotals
	OrderStatus      = domain.OrderStatus
	LineItem         = domain.LineItem
	PaymentMethod    = domain.PaymentMethod
	PaymentReference = domain.PaymentReference
	TrackingEntry    = domain.TrackingEntry
	Address          = domain.Address
)

// OrderService exposes lifecycle operations over persisted orders.
type OrderService interface {
	GetOrder(ctx context.Context, orderID string, opts OrderReadOptions) (Order, error)
	ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error)
	GetTracking(ctx context.Context, orderID string, opts OrderReadOptions) ([]TrackingEntry, error)
	TransitionStatus(ctx context.Context, cmd TransitionStatusCommand) (Order, error)
	Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error)
}

// OrderReadOptions scope order reads to a requesting user. A blank UserID
// skips the ownership check and is reserved for staff callers.
type OrderReadOptions struct {
	UserID string
}

// OrderListFilter narrows order listings.
type OrderListFilter struct {
	UserID     string
	Status     []OrderStatus
	Pagination Pagination
}

// TransitionStatusCommand moves an order along the state machine.
type TransitionStatusCommand struct {
	OrderID        string
	Target         OrderStatus
	ExpectedStatus *OrderStatus
	ActorID        string
	Location       *string
	Metadata       map[string]any
}

// CancelOrderCommand cancels an order when its status still allows it.
type CancelOrderCommand struct {
	OrderID string
	// UserID enforces ownership when set; staff cancellations leave it blank.
	UserID   string
	ActorID  string
	Reason   string
	Metadata map[string]any
}

// CheckoutService orchestrates order placement and payment confirmation.
type CheckoutService interface {
	PlaceOrder(ctx context.Context, cmd PlaceOrderCommand) (PlacementResult, error)
	ConfirmPayment(ctx context.Context, cmd ConfirmPaymentCommand) (Order, error)
}

// PlaceOrderCommand captures the checkout request for a user's current cart.
type PlaceOrderCommand struct {
	UserID        string
	AddressID     string
	PaymentMethod PaymentMethod
	Metadata      map[string]any
}

// PlacementResult returns the persisted order plus the gateway handles the
// client needs to complete an online payment.
type PlacementResult struct {
	Order          Order
	GatewayOrderID string
	ClientSecret   string
}

// ConfirmPaymentCommand carries a gateway payment confirmation for an order.
type ConfirmPaymentCommand struct {
	OrderID          string
	GatewayPaymentID string
	Signature        string
	// UserID enforces ownership when set; webhook callers leave it blank.
	UserID  string
	ActorID string
}

// CartService manages the per-user shopping cart consumed by checkout.
type CartService interface {
	GetCart(ctx context.Context, userID string) (Cart, error)
	ReplaceItems(ctx context.Context, cmd ReplaceCartCommand) (Cart, error)
	ClearCart(ctx context.Context, userID string) error
}

// ReplaceCartCommand swaps the full contents of a user's cart.
type ReplaceCartCommand struct {
	UserID   string
	Currency string
	Items    []LineItem
	Shipping int64
	Discount int64
}

// AddressService manages the per-user address book.
type AddressService interface {
	ListAddresses(ctx context.Context, userID string) ([]Address, error)
	GetAddress(ctx context.Context, userID, addressID string) (Address, error)
	SaveAddress(ctx context.Context, cmd SaveAddressCommand) (Address, error)
	DeleteAddress(ctx context.Context, userID, addressID string) error
}

// SaveAddressCommand creates or updates one address book entry. A nil
// AddressID lets the repository dedupe by normalized content hash.
type SaveAddressCommand struct {
	UserID    string
	AddressID *string
	Address   Address
}
