// Package domain declares the shared entity types exchanged between
// repositories, services, and handlers.
package domain

import "time"

// PaymentMethod selects how an order is paid.
type PaymentMethod string

const (
	// PaymentMethodCOD marks cash-on-delivery orders with no gateway involvement.
	PaymentMethodCOD PaymentMethod = "cod"
	// PaymentMethodOnline marks orders paid through the payment gateway.
	PaymentMethodOnline PaymentMethod = "online"
)

// OrderStatus enumerates valid lifecycle states for orders.
type OrderStatus string

const (
	// OrderStatusPlaced indicates the order is persisted and awaiting payment or fulfilment.
	OrderStatusPlaced OrderStatus = "placed"
	// OrderStatusConfirmed indicates payment completed (or COD acknowledged) and fulfilment may begin.
	OrderStatusConfirmed OrderStatus = "confirmed"
	// OrderStatusShipped indicates the order left the warehouse.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusDelivered indicates the order reached the customer.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled indicates the customer or operations cancelled the order.
	OrderStatusCancelled OrderStatus = "cancelled"
	// OrderStatusPaymentFailed indicates gateway intent creation failed after the
	// order was persisted; the order is terminal and never payable.
	OrderStatusPaymentFailed OrderStatus = "payment_failed"
)

// Order captures an order header with its immutable line-item snapshot and
// append-only tracking history.
type Order struct {
	ID              string
	OrderNumber     string
	UserID          string
	AddressRef      string
	ShippingAddress Address
	Status          OrderStatus
	Currency        string
	PaymentMethod   PaymentMethod
	PaymentRef      *PaymentReference
	Totals          OrderTotals
	Items           []LineItem
	Tracking        []TrackingEntry
	CancelReason    *string
	Metadata        map[string]any
	CreatedAt       time.Time
	UpdatedAt       time.Time
	PlacedAt        *time.Time
	ConfirmedAt     *time.Time
	ShippedAt       *time.Time
	DeliveredAt     *time.Time
	CancelledAt     *time.Time
}

// OrderTotals holds rolled-up monetary fields in the smallest currency unit.
// Computed once at placement and never recomputed.
type OrderTotals struct {
	Subtotal int64
	Shipping int64
	Discount int64
	Total    int64
}

// LineItem mirrors a cart item at the time of checkout, price included.
type LineItem struct {
	ProductID string
	Name      string
	UnitPrice int64
	Quantity  int
	Color     *string
	Size      *string
	Image     string
}

// PaymentReference records the gateway identifiers attached to an online order.
// Presence means the gateway accepted the charge request, not that payment completed.
type PaymentReference struct {
	GatewayOrderID   string
	GatewayPaymentID string
	VerifiedAt       *time.Time
}

// TrackingEntry is one immutable record of a status change.
type TrackingEntry struct {
	Status    OrderStatus
	Timestamp time.Time
	Location  *string
}

// Cart holds the current shopping cart for a user; the document ID doubles as
// the user ID.
type Cart struct {
	ID        string
	UserID    string
	Currency  string
	Items     []LineItem
	Shipping  int64
	Discount  int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Address represents a postal address shared by the address book and order
// snapshot layers.
type Address struct {
	ID             string
	Recipient      string
	Line1          string
	Line2          *string
	City           string
	State          *string
	PostalCode     string
	Country        string
	Phone          *string
	NormalizedHash string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Pagination carries cursor paging inputs for list queries.
type Pagination struct {
	PageSize  int
	PageToken string
}

// CursorPage packages list results with an encoded next token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}
