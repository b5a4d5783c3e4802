package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bloomcart/api/internal/repositories"
)

// ErrCartInvalidInput signals the caller provided invalid cart data.
var ErrCartInvalidInput = errors.New("cart: invalid input")

const maxCartItems = 100

// CartServiceDeps bundles collaborators required to construct the cart service.
type CartServiceDeps struct {
	Carts repositories.CartRepository
	Clock func() time.Time
}

type cartService struct {
	carts repositories.CartRepository
	clock func() time.Time
}

// NewCartService wires dependencies into a concrete CartService implementation.
func NewCartService(deps CartServiceDeps) (CartService, error) {
	if deps.Carts == nil {
		return nil, errors.New("cart service: cart repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	return &cartService{
		carts: deps.Carts,
		clock: func() time.Time {
			return clock().UTC()
		},
	}, nil
}

func (s *cartService) GetCart(ctx context.Context, userID string) (Cart, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Cart{}, fmt.Errorf("%w: user id is required", ErrCartInvalidInput)
	}

	cart, err := s.carts.GetCart(ctx, userID)
	if err != nil {
		if isRepositoryNotFound(err) {
			return Cart{ID: userID, UserID: userID}, nil
		}
		return Cart{}, err
	}
	return cart, nil
}

func (s *cartService) ReplaceItems(ctx context.Context, cmd ReplaceCartCommand) (Cart, error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return Cart{}, fmt.Errorf("%w: user id is required", ErrCartInvalidInput)
	}
	if len(cmd.Items) > maxCartItems {
		return Cart{}, fmt.Errorf("%w: cart exceeds %d items", ErrCartInvalidInput, maxCartItems)
	}
	if cmd.Shipping < 0 {
		return Cart{}, fmt.Errorf("%w: shipping must not be negative", ErrCartInvalidInput)
	}
	if cmd.Discount < 0 {
		return Cart{}, fmt.Errorf("%w: discount must not be negative", ErrCartInvalidInput)
	}

	items := make([]LineItem, 0, len(cmd.Items))
	for i, item := range cmd.Items {
		if strings.TrimSpace(item.ProductID) == "" {
			return Cart{}, fmt.Errorf("%w: item %d is missing a product id", ErrCartInvalidInput, i)
		}
		if item.Quantity <= 0 {
			return Cart{}, fmt.Errorf("%w: item %d quantity must be positive", ErrCartInvalidInput, i)
		}
		if item.UnitPrice < 0 {
			return Cart{}, fmt.Errorf("%w: item %d unit price must not be negative", ErrCartInvalidInput, i)
		}
		item.ProductID = strings.TrimSpace(item.ProductID)
		item.Name = strings.TrimSpace(item.Name)
		items = append(items, item)
	}

	now := s.clock()
	cart := Cart{
		ID:        userID,
		UserID:    userID,
		Currency:  strings.ToUpper(strings.TrimSpace(cmd.Currency)),
		Items:     items,
		Shipping:  cmd.Shipping,
		Discount:  cmd.Discount,
		UpdatedAt: now,
	}

	saved, err := s.carts.ReplaceItems(ctx, userID, cart)
	if err != nil {
		return Cart{}, err
	}
	return saved, nil
}

func (s *cartService) ClearCart(ctx context.Context, userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("%w: user id is required", ErrCartInvalidInput)
	}

	if err := s.carts.ClearCart(ctx, userID); err != nil && !isRepositoryNotFound(err) {
		return err
	}
	return nil
}
