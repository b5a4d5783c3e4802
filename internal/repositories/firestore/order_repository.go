// Package firestore implements the repository contracts on Cloud Firestore.
package firestore

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/bloomcart/api/internal/domain"
	pfirestore "github.com/bloomcart/api/internal/platform/firestore"
	"github.com/bloomcart/api/internal/repositories"
)

const orderCollection = "orders"

// OrderRepository persists order documents within Firestore.
type OrderRepository struct {
	base     *pfirestore.BaseRepository[orderDocument]
	provider *pfirestore.Provider
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[orderDocument](provider, orderCollection)
	return &OrderRepository{base: base, provider: provider}, nil
}

type orderDocument struct {
	OrderNumber     string                  `firestore:"orderNumber"`
	UserID          string                  `firestore:"userId"`
	AddressRef      string                  `firestore:"addressRef,omitempty"`
	ShippingAddress addressDocument         `firestore:"shippingAddress"`
	Status          string                  `firestore:"status"`
	Currency        string                  `firestore:"currency"`
	PaymentMethod   string                  `firestore:"paymentMethod"`
	Payment         *paymentRefDocument     `firestore:"payment,omitempty"`
	Totals          orderTotalsDocument     `firestore:"totals"`
	Items           []lineItemDocument      `firestore:"items"`
	Tracking        []trackingEntryDocument `firestore:"tracking"`
	CancelReason    string                  `firestore:"cancelReason,omitempty"`
	Metadata        map[string]any          `firestore:"metadata,omitempty"`
	CreatedAt       time.Time               `firestore:"createdAt"`
	UpdatedAt       time.Time               `firestore:"updatedAt"`
	PlacedAt        *time.Time              `firestore:"placedAt,omitempty"`
	ConfirmedAt     *time.Time              `firestore:"confirmedAt,omitempty"`
	ShippedAt       *time.Time              `firestore:"shippedAt,omitempty"`
	DeliveredAt     *time.Time              `firestore:"deliveredAt,omitempty"`
	CancelledAt     *time.Time              `firestore:"cancelledAt,omitempty"`
}

type paymentRefDocument struct {
	GatewayOrderID   string     `firestore:"gatewayOrderId"`
	GatewayPaymentID string     `firestore:"gatewayPaymentId,omitempty"`
	VerifiedAt       *time.Time `firestore:"verifiedAt,omitempty"`
}

type orderTotalsDocument struct {
	Subtotal int64 `firestore:"subtotal"`
	Shipping int64 `firestore:"shipping"`
	Discount int64 `firestore:"discount"`
	Total    int64 `firestore:"total"`
}

type lineItemDocument struct {
	ProductID string `firestore:"productId"`
	Name      string `firestore:"name"`
	UnitPrice int64  `firestore:"unitPrice"`
	Quantity  int    `firestore:"quantity"`
	Color     string `firestore:"color,omitempty"`
	Size      string `firestore:"size,omitempty"`
	Image     string `firestore:"image,omitempty"`
}

type trackingEntryDocument struct {
	Status    string    `firestore:"status"`
	Timestamp time.Time `firestore:"timestamp"`
	Location  string    `firestore:"location,omitempty"`
}

// Insert persists a new order document, failing with a conflict when the ID already exists.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	if strings.TrimSpace(order.ID) == "" {
		return errors.New("order repository: order id is required")
	}
	_, err := r.base.Create(ctx, order.ID, encodeOrder(order))
	return err
}

// FindByID loads the order document by identifier.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	doc, err := r.base.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return decodeOrder(doc.ID, doc.Data), nil
}

// List returns the user's orders newest first with cursor pagination.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository not initialised")
	}
	if strings.TrimSpace(filter.UserID) == "" {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository: user id is required")
	}

	pageSize := filter.Pagination.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}

	var cursor *orderCursor
	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		decoded, err := decodeOrderCursor(token)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, err
		}
		cursor = &decoded
	}

	docs, err := r.base.Query(ctx, func(query firestore.Query) firestore.Query {
		q := query.Where("userId", "==", filter.UserID)
		if len(filter.Status) > 0 {
			statuses := make([]string, 0, len(filter.Status))
			for _, s := range filter.Status {
				statuses = append(statuses, string(s))
			}
			q = q.Where("status", "in", statuses)
		}
		q = q.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
		if cursor != nil {
			q = q.StartAfter(cursor.CreatedAt, cursor.OrderID)
		}
		return q.Limit(pageSize + 1)
	})
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	page := domain.CursorPage[domain.Order]{}
	for i, doc := range docs {
		if i >= pageSize {
			last := docs[pageSize-1]
			page.NextPageToken = encodeOrderCursor(orderCursor{
				CreatedAt: last.Data.CreatedAt,
				OrderID:   last.ID,
			})
			break
		}
		page.Items = append(page.Items, decodeOrder(doc.ID, doc.Data))
	}
	return page, nil
}

// UpdateStatus transitions the order inside a transaction, failing with a
// conflict when the stored status no longer matches the expectation.
func (r *OrderRepository) UpdateStatus(ctx context.Context, update repositories.OrderStatusUpdate) (domain.Order, error) {
	if r == nil || r.provider == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}

	docRef, err := r.base.DocumentRef(ctx, update.OrderID)
	if err != nil {
		return domain.Order{}, err
	}

	var saved domain.Order
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(docRef)
		if err != nil {
			return err
		}
		var doc orderDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("order repository: decode %s: %w", update.OrderID, err)
		}

		if doc.Status != string(update.ExpectedStatus) {
			return status.Errorf(codes.FailedPrecondition,
				"order %s status is %s, expected %s", update.OrderID, doc.Status, update.ExpectedStatus)
		}

		now := update.UpdatedAt.UTC()
		if now.IsZero() {
			now = time.Now().UTC()
		}

		doc.Status = string(update.NewStatus)
		doc.UpdatedAt = now
		entry := update.Entry
		if entry.Timestamp.IsZero() {
			entry.Timestamp = now
		}
		doc.Tracking = append(doc.Tracking, encodeTrackingEntry(entry))
		if update.CancelReason != nil {
			doc.CancelReason = strings.TrimSpace(*update.CancelReason)
		}
		if update.PaymentRef != nil {
			doc.Payment = encodePaymentRef(update.PaymentRef)
		}
		setStatusTimestamp(&doc, update.NewStatus, now)

		if err := tx.Set(docRef, doc); err != nil {
			return err
		}
		saved = decodeOrder(update.OrderID, doc)
		return nil
	})
	if err != nil {
		return domain.Order{}, pfirestore.WrapError("orders.updatestatus", err)
	}
	return saved, nil
}

// AttachPaymentRef stores the gateway identifiers on the order without
// changing its status. The expected status guards against late writes.
func (r *OrderRepository) AttachPaymentRef(ctx context.Context, orderID string, expected domain.OrderStatus, ref domain.PaymentReference) (domain.Order, error) {
	if r == nil || r.provider == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}

	docRef, err := r.base.DocumentRef(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}

	var saved domain.Order
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(docRef)
		if err != nil {
			return err
		}
		var doc orderDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("order repository: decode %s: %w", orderID, err)
		}

		if doc.Status != string(expected) {
			return status.Errorf(codes.FailedPrecondition,
				"order %s status is %s, expected %s", orderID, doc.Status, expected)
		}

		doc.Payment = encodePaymentRef(&ref)
		doc.UpdatedAt = time.Now().UTC()

		if err := tx.Set(docRef, doc); err != nil {
			return err
		}
		saved = decodeOrder(orderID, doc)
		return nil
	})
	if err != nil {
		return domain.Order{}, pfirestore.WrapError("orders.attachpayment", err)
	}
	return saved, nil
}

type orderCursor struct {
	CreatedAt time.Time
	OrderID   string
}

func encodeOrderCursor(cursor orderCursor) string {
	raw := strconv.FormatInt(cursor.CreatedAt.UTC().UnixNano(), 10) + "|" + cursor.OrderID
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func decodeOrderCursor(token string) (orderCursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return orderCursor{}, fmt.Errorf("order repository: invalid page token: %w", err)
	}
	parts := strings.SplitN(string(raw), "|", 2)
	if len(parts) != 2 || parts[1] == "" {
		return orderCursor{}, errors.New("order repository: invalid page token")
	}
	nanos, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return orderCursor{}, fmt.Errorf("order repository: invalid page token: %w", err)
	}
	return orderCursor{
		CreatedAt: time.Unix(0, nanos).UTC(),
		OrderID:   parts[1],
	}, nil
}

func setStatusTimestamp(doc *orderDocument, newStatus domain.OrderStatus, at time.Time) {
	switch newStatus {
	case domain.OrderStatusConfirmed:
		doc.ConfirmedAt = &at
	case domain.OrderStatusShipped:
		doc.ShippedAt = &at
	case domain.OrderStatusDelivered:
		doc.DeliveredAt = &at
	case domain.OrderStatusCancelled:
		doc.CancelledAt = &at
	}
}

func encodeOrder(order domain.Order) orderDocument {
	doc := orderDocument{
		OrderNumber:     order.OrderNumber,
		UserID:          order.UserID,
		AddressRef:      order.AddressRef,
		ShippingAddress: encodeAddress(order.ShippingAddress),
		Status:          string(order.Status),
		Currency:        strings.ToUpper(order.Currency),
		PaymentMethod:   string(order.PaymentMethod),
		Payment:         encodePaymentRef(order.PaymentRef),
		Totals: orderTotalsDocument{
			Subtotal: order.Totals.Subtotal,
			Shipping: order.Totals.Shipping,
			Discount: order.Totals.Discount,
			Total:    order.Totals.Total,
		},
		Metadata:    order.Metadata,
		CreatedAt:   order.CreatedAt.UTC(),
		UpdatedAt:   order.UpdatedAt.UTC(),
		PlacedAt:    order.PlacedAt,
		ConfirmedAt: order.ConfirmedAt,
		ShippedAt:   order.ShippedAt,
		DeliveredAt: order.DeliveredAt,
		CancelledAt: order.CancelledAt,
	}
	if order.CancelReason != nil {
		doc.CancelReason = *order.CancelReason
	}
	for _, item := range order.Items {
		doc.Items = append(doc.Items, encodeLineItem(item))
	}
	for _, entry := range order.Tracking {
		doc.Tracking = append(doc.Tracking, encodeTrackingEntry(entry))
	}
	return doc
}

func decodeOrder(id string, doc orderDocument) domain.Order {
	order := domain.Order{
		ID:              id,
		OrderNumber:     doc.OrderNumber,
		UserID:          doc.UserID,
		AddressRef:      doc.AddressRef,
		ShippingAddress: decodeAddress("", doc.ShippingAddress),
		Status:          domain.OrderStatus(doc.Status),
		Currency:        doc.Currency,
		PaymentMethod:   domain.PaymentMethod(doc.PaymentMethod),
		Totals: domain.OrderTotals{
			Subtotal: doc.Totals.Subtotal,
			Shipping: doc.Totals.Shipping,
			Discount: doc.Totals.Discount,
			Total:    doc.Totals.Total,
		},
		Metadata:    doc.Metadata,
		CreatedAt:   doc.CreatedAt,
		UpdatedAt:   doc.UpdatedAt,
		PlacedAt:    doc.PlacedAt,
		ConfirmedAt: doc.ConfirmedAt,
		ShippedAt:   doc.ShippedAt,
		DeliveredAt: doc.DeliveredAt,
		CancelledAt: doc.CancelledAt,
	}
	if doc.Payment != nil {
		order.PaymentRef = &domain.PaymentReference{
			GatewayOrderID:   doc.Payment.GatewayOrderID,
			GatewayPaymentID: doc.Payment.GatewayPaymentID,
			VerifiedAt:       doc.Payment.VerifiedAt,
		}
	}
	if doc.CancelReason != "" {
		reason := doc.CancelReason
		order.CancelReason = &reason
	}
	for _, item := range doc.Items {
		order.Items = append(order.Items, decodeLineItem(item))
	}
	for _, entry := range doc.Tracking {
		decoded := domain.TrackingEntry{
			Status:    domain.OrderStatus(entry.Status),
			Timestamp: entry.Timestamp,
		}
		if entry.Location != "" {
			location := entry.Location
			decoded.Location = &location
		}
		order.Tracking = append(order.Tracking, decoded)
	}
	return order
}

func encodePaymentRef(ref *domain.PaymentReference) *paymentRefDocument {
	if ref == nil {
		return nil
	}
	return &paymentRefDocument{
		GatewayOrderID:   ref.GatewayOrderID,
		GatewayPaymentID: ref.GatewayPaymentID,
		VerifiedAt:       ref.VerifiedAt,
	}
}

func encodeLineItem(item domain.LineItem) lineItemDocument {
	doc := lineItemDocument{
		ProductID: item.ProductID,
		Name:      item.Name,
		UnitPrice: item.UnitPrice,
		Quantity:  item.Quantity,
		Image:     item.Image,
	}
	if item.Color != nil {
		doc.Color = *item.Color
	}
	if item.Size != nil {
		doc.Size = *item.Size
	}
	return doc
}

func decodeLineItem(doc lineItemDocument) domain.LineItem {
	item := domain.LineItem{
		ProductID: doc.ProductID,
		Name:      doc.Name,
		UnitPrice: doc.UnitPrice,
		Quantity:  doc.Quantity,
		Image:     doc.Image,
	}
	if doc.Color != "" {
		color := doc.Color
		item.Color = &color
	}
	if doc.Size != "" {
		size := doc.Size
		item.Size = &size
	}
	return item
}

func encodeTrackingEntry(entry domain.TrackingEntry) trackingEntryDocument {
	doc := trackingEntryDocument{
		Status:    string(entry.Status),
		Timestamp: entry.Timestamp.UTC(),
	}
	if entry.Location != nil {
		doc.Location = *entry.Location
	}
	return doc
}
