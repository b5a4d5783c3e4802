package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/bloomcart/api/internal/domain"
)

func newTestCartService(t *testing.T, repo *stubCartRepo) CartService {
	t.Helper()
	svc, err := NewCartService(CartServiceDeps{
		Carts: repo,
		Clock: func() time.Time {
			return time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC)
		},
	})
	if err != nil {
		t.Fatalf("new cart service: %v", err)
	}
	return svc
}

func TestCartServiceGetCartReturnsEmptyCartWhenMissing(t *testing.T) {
	ctx := context.Background()
	svc := newTestCartService(t, &stubCartRepo{
		getFn: func(_ context.Context, _ string) (domain.Cart, error) {
			return domain.Cart{}, stubRepoError{notFound: true}
		},
	})

	cart, err := svc.GetCart(ctx, "user-1")
	if err != nil {
		t.Fatalf("get cart: %v", err)
	}
	if cart.UserID != "user-1" || len(cart.Items) != 0 {
		t.Fatalf("expected empty cart for user-1 got %+v", cart)
	}
}

func TestCartServiceReplaceItems(t *testing.T) {
	ctx := context.Background()
	var saved domain.Cart
	svc := newTestCartService(t, &stubCartRepo{
		replaceFn: func(_ context.Context, _ string, cart domain.Cart) (domain.Cart, error) {
			saved = cart
			return cart, nil
		},
	})

	cart, err := svc.ReplaceItems(ctx, ReplaceCartCommand{
		UserID:   "user-1",
		Currency: "usd",
		Items: []LineItem{
			{ProductID: " prod-1 ", Name: " Peony Bouquet ", UnitPrice: 4500, Quantity: 2},
		},
		Shipping: 800,
		Discount: 100,
	})
	if err != nil {
		t.Fatalf("replace items: %v", err)
	}

	if saved.Currency != "USD" {
		t.Fatalf("expected currency USD got %s", saved.Currency)
	}
	if saved.Items[0].ProductID != "prod-1" || saved.Items[0].Name != "Peony Bouquet" {
		t.Fatalf("expected trimmed item fields got %+v", saved.Items[0])
	}
	if cart.Shipping != 800 || cart.Discount != 100 {
		t.Fatalf("unexpected cart %+v", cart)
	}
}

func TestCartServiceReplaceItemsValidation(t *testing.T) {
	ctx := context.Background()
	svc := newTestCartService(t, &stubCartRepo{})

	cases := []struct {
		name string
		cmd  ReplaceCartCommand
	}{
		{"missing user", ReplaceCartCommand{Items: []LineItem{{ProductID: "p", Quantity: 1}}}},
		{"missing product id", ReplaceCartCommand{UserID: "user-1", Items: []LineItem{{Quantity: 1}}}},
		{"zero quantity", ReplaceCartCommand{UserID: "user-1", Items: []LineItem{{ProductID: "p", Quantity: 0}}}},
		{"negative price", ReplaceCartCommand{UserID: "user-1", Items: []LineItem{{ProductID: "p", Quantity: 1, UnitPrice: -1}}}},
		{"negative shipping", ReplaceCartCommand{UserID: "user-1", Shipping: -1}},
		{"negative discount", ReplaceCartCommand{UserID: "user-1", Discount: -1}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.ReplaceItems(ctx, tc.cmd); !errors.Is(err, ErrCartInvalidInput) {
				t.Fatalf("expected ErrCartInvalidInput got %v", err)
			}
		})
	}
}

func TestCartServiceClearCartIgnoresMissingCart(t *testing.T) {
	ctx := context.Background()
	svc := newTestCartService(t, &stubCartRepo{
		clearFn: func(_ context.Context, _ string) error {
			return stubRepoError{notFound: true}
		},
	})

	if err := svc.ClearCart(ctx, "user-1"); err != nil {
		t.Fatalf("clear cart: %v", err)
	}
}
