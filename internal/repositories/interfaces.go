// Package repositories defines the persistence contracts consumed by services.
package repositories

import (
	"context"
	"time"

	domain "github.com/bloomcart/api/internal/domain"
)

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// OrderStatusUpdate describes one optimistic status transition to persist.
// The write must fail with a conflict-categorised error when the stored status
// no longer matches ExpectedStatus.
type OrderStatusUpdate struct {
	OrderID        string
	ExpectedStatus domain.OrderStatus
	NewStatus      domain.OrderStatus
	Entry          domain.TrackingEntry
	CancelReason   *string
	PaymentRef     *domain.PaymentReference
	UpdatedAt      time.Time
}

// OrderListFilter narrows order list queries.
type OrderListFilter struct {
	UserID     string
	Status     []domain.OrderStatus
	Pagination domain.Pagination
}

// OrderRepository persists order documents. Orders are never deleted;
// cancellation is a terminal status.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
	UpdateStatus(ctx context.Context, update OrderStatusUpdate) (domain.Order, error)
	AttachPaymentRef(ctx context.Context, orderID string, expected domain.OrderStatus, ref domain.PaymentReference) (domain.Order, error)
}

// CartRepository owns cart persistence keyed by user ID.
type CartRepository interface {
	GetCart(ctx context.Context, userID string) (domain.Cart, error)
	ReplaceItems(ctx context.Context, userID string, cart domain.Cart) (domain.Cart, error)
	ClearCart(ctx context.Context, userID string) error
}

// AddressRepository persists the per-user address book.
type AddressRepository interface {
	Get(ctx context.Context, userID string, addressID string) (domain.Address, error)
	List(ctx context.Context, userID string) ([]domain.Address, error)
	Upsert(ctx context.Context, userID string, addressID *string, addr domain.Address) (domain.Address, error)
	Delete(ctx context.Context, userID string, addressID string) error
}

// CounterRepository yields monotonic sequences used for order numbers.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
}
