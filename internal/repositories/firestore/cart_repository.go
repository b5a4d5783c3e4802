package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/bloomcart/api/internal/domain"
	pfirestore "github.com/bloomcart/api/internal/platform/firestore"
)

const cartCollection = "carts"

// CartRepository persists carts keyed by user ID.
type CartRepository struct {
	base *pfirestore.BaseRepository[cartDocument]
}

// NewCartRepository constructs a Firestore-backed cart repository.
func NewCartRepository(provider *pfirestore.Provider) (*CartRepository, error) {
	if provider == nil {
		return nil, errors.New("cart repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[cartDocument](provider, cartCollection)
	return &CartRepository{base: base}, nil
}

type cartDocument struct {
	Currency  string             `firestore:"currency"`
	Items     []lineItemDocument `firestore:"items"`
	Shipping  int64              `firestore:"shipping"`
	Discount  int64              `firestore:"discount"`
	CreatedAt time.Time          `firestore:"createdAt"`
	UpdatedAt time.Time          `firestore:"updatedAt"`
}

// GetCart loads the user's cart. A missing document surfaces as a
// not-found categorised repository error.
func (r *CartRepository) GetCart(ctx context.Context, userID string) (domain.Cart, error) {
	if r == nil || r.base == nil {
		return domain.Cart{}, errors.New("cart repository not initialised")
	}
	doc, err := r.base.Get(ctx, strings.TrimSpace(userID))
	if err != nil {
		return domain.Cart{}, err
	}
	return decodeCart(doc.ID, doc.Data), nil
}

// ReplaceItems overwrites the cart document with the supplied contents.
func (r *CartRepository) ReplaceItems(ctx context.Context, userID string, cart domain.Cart) (domain.Cart, error) {
	if r == nil || r.base == nil {
		return domain.Cart{}, errors.New("cart repository not initialised")
	}
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return domain.Cart{}, errors.New("cart repository: user id is required")
	}

	now := time.Now().UTC()
	createdAt := cart.CreatedAt.UTC()
	if createdAt.IsZero() {
		createdAt = now
	}

	doc := cartDocument{
		Currency:  strings.ToUpper(strings.TrimSpace(cart.Currency)),
		Shipping:  cart.Shipping,
		Discount:  cart.Discount,
		CreatedAt: createdAt,
		UpdatedAt: now,
	}
	for _, item := range cart.Items {
		doc.Items = append(doc.Items, encodeLineItem(item))
	}

	result, err := r.base.Set(ctx, uid, doc)
	if err != nil {
		return domain.Cart{}, err
	}

	saved := decodeCart(uid, doc)
	saved.UpdatedAt = result.UpdateTime
	return saved, nil
}

// ClearCart removes the cart document after a successful checkout.
func (r *CartRepository) ClearCart(ctx context.Context, userID string) error {
	if r == nil || r.base == nil {
		return errors.New("cart repository not initialised")
	}
	return r.base.Delete(ctx, strings.TrimSpace(userID))
}

func decodeCart(userID string, doc cartDocument) domain.Cart {
	cart := domain.Cart{
		ID:        userID,
		UserID:    userID,
		Currency:  doc.Currency,
		Shipping:  doc.Shipping,
		Discount:  doc.Discount,
		CreatedAt: doc.CreatedAt,
		UpdatedAt: doc.UpdatedAt,
	}
	for _, item := range doc.Items {
		cart.Items = append(cart.Items, decodeLineItem(item))
	}
	return cart
}
