package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/bloomcart/api/internal/domain"
	"github.com/bloomcart/api/internal/payments"
	"github.com/bloomcart/api/internal/repositories"
)

func testVerifier(t *testing.T) *payments.SignatureVerifier {
	t.Helper()
	verifier, err := payments.NewSignatureVerifier("whsec_test")
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	return verifier
}

func testCart() domain.Cart {
	return domain.Cart{
		ID:       "user-1",
		UserID:   "user-1",
		Currency: "usd",
		Items: []domain.LineItem{
			{ProductID: "prod-1", Name: "Peony Bouquet", UnitPrice: 4500, Quantity: 2},
			{ProductID: "prod-2", Name: "Vase", UnitPrice: 1500, Quantity: 1},
		},
		Shipping: 800,
		Discount: 500,
	}
}

func newTestCheckoutService(t *testing.T, deps CheckoutServiceDeps) CheckoutService {
	t.Helper()
	if deps.Orders == nil {
		deps.Orders = &stubOrderRepo{}
	}
	if deps.Carts == nil {
		deps.Carts = &stubCartRepo{}
	}
	if deps.Addresses == nil {
		deps.Addresses = &stubAddressRepo{}
	}
	if deps.Counters == nil {
		deps.Counters = &stubCounterRepo{}
	}
	if deps.Gateway == nil {
		deps.Gateway = &stubGateway{}
	}
	if deps.Verifier == nil {
		deps.Verifier = testVerifier(t)
	}
	if deps.Clock == nil {
		deps.Clock = func() time.Time {
			return time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC)
		}
	}
	svc, err := NewCheckoutService(deps)
	if err != nil {
		t.Fatalf("new checkout service: %v", err)
	}
	return svc
}

func TestCheckoutPlaceOrderCOD(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC)
	events := &captureOrderEvents{}

	var inserted domain.Order
	cleared := false
	gatewayCalls := 0

	svc := newTestCheckoutService(t, CheckoutServiceDeps{
		Orders: &stubOrderRepo{
			insertFn: func(_ context.Context, order domain.Order) error {
				inserted = order
				return nil
			},
		},
		Carts: &stubCartRepo{
			getFn: func(_ context.Context, _ string) (domain.Cart, error) {
				return testCart(), nil
			},
			clearFn: func(_ context.Context, userID string) error {
				cleared = true
				if userID != "user-1" {
					t.Fatalf("unexpected clear user %s", userID)
				}
				return nil
			},
		},
		Addresses: &stubAddressRepo{
			getFn: func(_ context.Context, userID, addressID string) (domain.Address, error) {
				return domain.Address{ID: addressID, Recipient: "Hana", City: "Tokyo"}, nil
			},
		},
		Counters: &stubCounterRepo{
			nextFn: func(_ context.Context, counterID string, step int64) (int64, error) {
				if counterID != "orders" || step != 1 {
					t.Fatalf("unexpected counter call %s %d", counterID, step)
				}
				return 42, nil
			},
		},
		Gateway: &stubGateway{
			intentFn: func(_ context.Context, _ payments.IntentRequest) (payments.Intent, error) {
				gatewayCalls++
				return payments.Intent{}, nil
			},
		},
		Clock:       func() time.Time { return now },
		IDGenerator: func() string { return "ord_TEST" },
		Events:      events,
	})

	result, err := svc.PlaceOrder(ctx, PlaceOrderCommand{
		UserID:        "user-1",
		AddressID:     "addr-1",
		PaymentMethod: domain.PaymentMethodCOD,
	})
	if err != nil {
		t.Fatalf("place order: %v", err)
	}

	if result.Order.ID != "ord_TEST" {
		t.Fatalf("unexpected order id %s", result.Order.ID)
	}
	if result.Order.OrderNumber != "BC-2025-000042" {
		t.Fatalf("unexpected order number %s", result.Order.OrderNumber)
	}
	if result.Order.Status != domain.OrderStatusPlaced {
		t.Fatalf("expected status placed got %s", result.Order.Status)
	}
	if result.GatewayOrderID != "" || result.Order.PaymentRef != nil {
		t.Fatalf("cod order must not carry gateway handles")
	}
	if gatewayCalls != 0 {
		t.Fatalf("expected no gateway calls got %d", gatewayCalls)
	}
	if !cleared {
		t.Fatalf("expected cart to be cleared")
	}

	// subtotal 10500 + shipping 800 - discount 500
	if inserted.Totals.Subtotal != 10500 || inserted.Totals.Total != 10800 {
		t.Fatalf("unexpected totals %+v", inserted.Totals)
	}
	if inserted.Currency != "USD" {
		t.Fatalf("expected currency USD got %s", inserted.Currency)
	}
	if len(inserted.Items) != 2 || inserted.Items[0].UnitPrice != 4500 {
		t.Fatalf("unexpected item snapshot %+v", inserted.Items)
	}
	if len(inserted.Tracking) != 1 || inserted.Tracking[0].Status != domain.OrderStatusPlaced {
		t.Fatalf("expected single placed tracking entry got %+v", inserted.Tracking)
	}
	if inserted.PlacedAt == nil || !inserted.PlacedAt.Equal(now) {
		t.Fatalf("expected placedAt %v got %v", now, inserted.PlacedAt)
	}
	if len(events.events) != 1 || events.events[0].Type != orderEventCreated {
		t.Fatalf("unexpected events %+v", events.events)
	}
}

func TestCheckoutPlaceOrderRejectsNonPositiveTotal(t *testing.T) {
	ctx := context.Background()

	inserted := false
	counterCalls := 0
	cleared := false

	svc := newTestCheckoutService(t, CheckoutServiceDeps{
		Orders: &stubOrderRepo{
			insertFn: func(_ context.Context, _ domain.Order) error {
				inserted = true
				return nil
			},
		},
		Carts: &stubCartRepo{
			getFn: func(_ context.Context, _ string) (domain.Cart, error) {
				// Discount swallows the whole subtotal.
				return domain.Cart{
					ID:     "user-1",
					UserID: "user-1",
					Items: []domain.LineItem{
						{ProductID: "prod-1", Name: "Peony Bouquet", UnitPrice: 500, Quantity: 2},
					},
					Discount: 1500,
				}, nil
			},
			clearFn: func(_ context.Context, _ string) error {
				cleared = true
				return nil
			},
		},
		Addresses: &stubAddressRepo{
			getFn: func(_ context.Context, _, addressID string) (domain.Address, error) {
				return domain.Address{ID: addressID}, nil
			},
		},
		Counters: &stubCounterRepo{
			nextFn: func(_ context.Context, _ string, _ int64) (int64, error) {
				counterCalls++
				return 1, nil
			},
		},
	})

	_, err := svc.PlaceOrder(ctx, PlaceOrderCommand{
		UserID:        "user-1",
		AddressID:     "addr-1",
		PaymentMethod: domain.PaymentMethodCOD,
	})
	if !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected invalid input error got %v", err)
	}
	if inserted {
		t.Fatalf("order must not be persisted when the total is not positive")
	}
	if counterCalls != 0 {
		t.Fatalf("order number must not be consumed for a rejected placement")
	}
	if cleared {
		t.Fatalf("cart must survive a rejected placement")
	}
}

func TestCheckoutPlaceOrderOnlineSuccess(t *testing.T) {
	ctx := context.Background()

	var intentReq payments.IntentRequest
	var attachedRef domain.PaymentReference
	var attachedExpected domain.OrderStatus

	svc := newTestCheckoutService(t, CheckoutServiceDeps{
		Orders: &stubOrderRepo{
			insertFn: func(_ context.Context, _ domain.Order) error { return nil },
			attachFn: func(_ context.Context, orderID string, expected domain.OrderStatus, ref domain.PaymentReference) (domain.Order, error) {
				attachedExpected = expected
				attachedRef = ref
				return domain.Order{ID: orderID, Status: domain.OrderStatusPlaced, PaymentRef: &ref}, nil
			},
		},
		Carts: &stubCartRepo{
			getFn: func(_ context.Context, _ string) (domain.Cart, error) { return testCart(), nil },
		},
		Addresses: &stubAddressRepo{
			getFn: func(_ context.Context, _, addressID string) (domain.Address, error) {
				return domain.Address{ID: addressID}, nil
			},
		},
		Gateway: &stubGateway{
			intentFn: func(_ context.Context, req payments.IntentRequest) (payments.Intent, error) {
				intentReq = req
				return payments.Intent{
					GatewayOrderID: "pi_123",
					ClientSecret:   "pi_123_secret",
					Amount:         req.Amount,
					Status:         payments.StatusPending,
				}, nil
			},
		},
		IDGenerator: func() string { return "ord_TEST" },
	})

	result, err := svc.PlaceOrder(ctx, PlaceOrderCommand{
		UserID:        "user-1",
		AddressID:     "addr-1",
		PaymentMethod: domain.PaymentMethodOnline,
	})
	if err != nil {
		t.Fatalf("place order: %v", err)
	}

	if intentReq.Amount != 10800 || intentReq.Currency != "USD" {
		t.Fatalf("unexpected intent request %+v", intentReq)
	}
	if intentReq.IdempotencyKey != "order-intent-ord_TEST" {
		t.Fatalf("unexpected idempotency key %q", intentReq.IdempotencyKey)
	}
	if attachedExpected != domain.OrderStatusPlaced {
		t.Fatalf("expected attach precondition placed got %s", attachedExpected)
	}
	if attachedRef.GatewayOrderID != "pi_123" {
		t.Fatalf("unexpected payment ref %+v", attachedRef)
	}
	if result.GatewayOrderID != "pi_123" || result.ClientSecret != "pi_123_secret" {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestCheckoutPlaceOrderOnlineGatewayFailure(t *testing.T) {
	ctx := context.Background()
	events := &captureOrderEvents{}

	var statusUpdate repositories.OrderStatusUpdate
	cleared := false

	svc := newTestCheckoutService(t, CheckoutServiceDeps{
		Orders: &stubOrderRepo{
			insertFn: func(_ context.Context, _ domain.Order) error { return nil },
			updateFn: func(_ context.Context, update repositories.OrderStatusUpdate) (domain.Order, error) {
				statusUpdate = update
				return domain.Order{ID: update.OrderID, Status: update.NewStatus}, nil
			},
		},
		Carts: &stubCartRepo{
			getFn:   func(_ context.Context, _ string) (domain.Cart, error) { return testCart(), nil },
			clearFn: func(_ context.Context, _ string) error { cleared = true; return nil },
		},
		Addresses: &stubAddressRepo{
			getFn: func(_ context.Context, _, addressID string) (domain.Address, error) {
				return domain.Address{ID: addressID}, nil
			},
		},
		Gateway: &stubGateway{
			intentFn: func(_ context.Context, _ payments.IntentRequest) (payments.Intent, error) {
				return payments.Intent{}, payments.ErrGatewayUnavailable
			},
		},
		IDGenerator: func() string { return "ord_TEST" },
		Events:      events,
	})

	_, err := svc.PlaceOrder(ctx, PlaceOrderCommand{
		UserID:        "user-1",
		AddressID:     "addr-1",
		PaymentMethod: domain.PaymentMethodOnline,
	})
	if !errors.Is(err, ErrPaymentSetupFailed) {
		t.Fatalf("expected ErrPaymentSetupFailed got %v", err)
	}

	if statusUpdate.NewStatus != domain.OrderStatusPaymentFailed {
		t.Fatalf("expected payment_failed update got %+v", statusUpdate)
	}
	if statusUpdate.ExpectedStatus != domain.OrderStatusPlaced {
		t.Fatalf("expected optimistic placed precondition got %s", statusUpdate.ExpectedStatus)
	}
	if cleared {
		t.Fatalf("cart must survive a failed payment setup")
	}

	var sawFailureEvent bool
	for _, event := range events.events {
		if event.Type == orderEventPaymentFailed {
			sawFailureEvent = true
		}
	}
	if !sawFailureEvent {
		t.Fatalf("expected payment failed event got %+v", events.events)
	}
}

func TestCheckoutPlaceOrderEmptyCart(t *testing.T) {
	ctx := context.Background()

	cases := []struct {
		name  string
		getFn func(context.Context, string) (domain.Cart, error)
	}{
		{
			name: "no cart document",
			getFn: func(_ context.Context, _ string) (domain.Cart, error) {
				return domain.Cart{}, stubRepoError{notFound: true}
			},
		},
		{
			name: "cart with no items",
			getFn: func(_ context.Context, _ string) (domain.Cart, error) {
				return domain.Cart{ID: "user-1", UserID: "user-1"}, nil
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := newTestCheckoutService(t, CheckoutServiceDeps{
				Carts: &stubCartRepo{getFn: tc.getFn},
			})

			_, err := svc.PlaceOrder(ctx, PlaceOrderCommand{
				UserID:        "user-1",
				AddressID:     "addr-1",
				PaymentMethod: domain.PaymentMethodCOD,
			})
			if !errors.Is(err, ErrEmptyCart) {
				t.Fatalf("expected ErrEmptyCart got %v", err)
			}
		})
	}
}

func TestCheckoutPlaceOrderUnknownAddress(t *testing.T) {
	ctx := context.Background()

	svc := newTestCheckoutService(t, CheckoutServiceDeps{
		Carts: &stubCartRepo{
			getFn: func(_ context.Context, _ string) (domain.Cart, error) { return testCart(), nil },
		},
		Addresses: &stubAddressRepo{
			getFn: func(_ context.Context, _, _ string) (domain.Address, error) {
				return domain.Address{}, stubRepoError{notFound: true}
			},
		},
	})

	_, err := svc.PlaceOrder(ctx, PlaceOrderCommand{
		UserID:        "user-1",
		AddressID:     "addr-missing",
		PaymentMethod: domain.PaymentMethodCOD,
	})
	if !errors.Is(err, ErrAddressNotFound) {
		t.Fatalf("expected ErrAddressNotFound got %v", err)
	}
}

func TestCheckoutPlaceOrderRejectsUnknownPaymentMethod(t *testing.T) {
	ctx := context.Background()
	svc := newTestCheckoutService(t, CheckoutServiceDeps{})

	_, err := svc.PlaceOrder(ctx, PlaceOrderCommand{
		UserID:        "user-1",
		AddressID:     "addr-1",
		PaymentMethod: domain.PaymentMethod("wire"),
	})
	if !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected ErrOrderInvalidInput got %v", err)
	}
}

func TestCheckoutPlaceOrderCartClearFailureIsNotFatal(t *testing.T) {
	ctx := context.Background()

	svc := newTestCheckoutService(t, CheckoutServiceDeps{
		Orders: &stubOrderRepo{
			insertFn: func(_ context.Context, _ domain.Order) error { return nil },
		},
		Carts: &stubCartRepo{
			getFn: func(_ context.Context, _ string) (domain.Cart, error) { return testCart(), nil },
			clearFn: func(_ context.Context, _ string) error {
				return stubRepoError{unavailable: true}
			},
		},
		Addresses: &stubAddressRepo{
			getFn: func(_ context.Context, _, addressID string) (domain.Address, error) {
				return domain.Address{ID: addressID}, nil
			},
		},
	})

	if _, err := svc.PlaceOrder(ctx, PlaceOrderCommand{
		UserID:        "user-1",
		AddressID:     "addr-1",
		PaymentMethod: domain.PaymentMethodCOD,
	}); err != nil {
		t.Fatalf("place order: %v", err)
	}
}

func TestCheckoutConfirmPayment(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 7, 2, 8, 0, 0, 0, time.UTC)
	events := &captureOrderEvents{}
	verifier := testVerifier(t)

	var captured repositories.OrderStatusUpdate

	svc := newTestCheckoutService(t, CheckoutServiceDeps{
		Orders: &stubOrderRepo{
			findFn: func(_ context.Context, id string) (domain.Order, error) {
				return domain.Order{
					ID:            id,
					UserID:        "user-1",
					Status:        domain.OrderStatusPlaced,
					PaymentMethod: domain.PaymentMethodOnline,
					PaymentRef:    &domain.PaymentReference{GatewayOrderID: "pi_123"},
				}, nil
			},
			updateFn: func(_ context.Context, update repositories.OrderStatusUpdate) (domain.Order, error) {
				captured = update
				return domain.Order{
					ID:         update.OrderID,
					UserID:     "user-1",
					Status:     update.NewStatus,
					PaymentRef: update.PaymentRef,
				}, nil
			},
		},
		Verifier: verifier,
		Clock:    func() time.Time { return now },
		Events:   events,
	})

	order, err := svc.ConfirmPayment(ctx, ConfirmPaymentCommand{
		OrderID:          "ord-1",
		GatewayPaymentID: "pay_456",
		Signature:        verifier.Sign("pi_123", "pay_456"),
		UserID:           "user-1",
	})
	if err != nil {
		t.Fatalf("confirm payment: %v", err)
	}

	if order.Status != domain.OrderStatusConfirmed {
		t.Fatalf("expected status confirmed got %s", order.Status)
	}
	if captured.ExpectedStatus != domain.OrderStatusPlaced {
		t.Fatalf("expected optimistic placed precondition got %s", captured.ExpectedStatus)
	}
	if captured.PaymentRef == nil || captured.PaymentRef.GatewayPaymentID != "pay_456" {
		t.Fatalf("unexpected payment ref %+v", captured.PaymentRef)
	}
	if captured.PaymentRef.VerifiedAt == nil || !captured.PaymentRef.VerifiedAt.Equal(now) {
		t.Fatalf("expected verifiedAt %v got %v", now, captured.PaymentRef.VerifiedAt)
	}
	if len(events.events) != 1 || events.events[0].Type != orderEventPaymentConfirmed {
		t.Fatalf("unexpected events %+v", events.events)
	}
}

func TestCheckoutConfirmPaymentRejectsBadSignature(t *testing.T) {
	ctx := context.Background()
	updateCalls := 0

	svc := newTestCheckoutService(t, CheckoutServiceDeps{
		Orders: &stubOrderRepo{
			findFn: func(_ context.Context, id string) (domain.Order, error) {
				return domain.Order{
					ID:            id,
					UserID:        "user-1",
					Status:        domain.OrderStatusPlaced,
					PaymentMethod: domain.PaymentMethodOnline,
					PaymentRef:    &domain.PaymentReference{GatewayOrderID: "pi_123"},
				}, nil
			},
			updateFn: func(_ context.Context, update repositories.OrderStatusUpdate) (domain.Order, error) {
				updateCalls++
				return domain.Order{}, nil
			},
		},
	})

	_, err := svc.ConfirmPayment(ctx, ConfirmPaymentCommand{
		OrderID:          "ord-1",
		GatewayPaymentID: "pay_456",
		Signature:        "deadbeef",
	})
	if !errors.Is(err, ErrPaymentVerificationFailed) {
		t.Fatalf("expected ErrPaymentVerificationFailed got %v", err)
	}
	if updateCalls != 0 {
		t.Fatalf("order must stay untouched on bad signature")
	}
}

func TestCheckoutConfirmPaymentRejectsNonOnlineOrders(t *testing.T) {
	ctx := context.Background()
	verifier := testVerifier(t)

	svc := newTestCheckoutService(t, CheckoutServiceDeps{
		Orders: &stubOrderRepo{
			findFn: func(_ context.Context, id string) (domain.Order, error) {
				return domain.Order{ID: id, Status: domain.OrderStatusPlaced, PaymentMethod: domain.PaymentMethodCOD}, nil
			},
		},
		Verifier: verifier,
	})

	_, err := svc.ConfirmPayment(ctx, ConfirmPaymentCommand{
		OrderID:          "ord-1",
		GatewayPaymentID: "pay_456",
		Signature:        verifier.Sign("pi_123", "pay_456"),
	})
	if !errors.Is(err, ErrOrderInvalidState) {
		t.Fatalf("expected ErrOrderInvalidState got %v", err)
	}
}

func TestCheckoutConfirmPaymentEnforcesOwnership(t *testing.T) {
	ctx := context.Background()
	verifier := testVerifier(t)

	svc := newTestCheckoutService(t, CheckoutServiceDeps{
		Orders: &stubOrderRepo{
			findFn: func(_ context.Context, id string) (domain.Order, error) {
				return domain.Order{
					ID:            id,
					UserID:        "user-1",
					Status:        domain.OrderStatusPlaced,
					PaymentMethod: domain.PaymentMethodOnline,
					PaymentRef:    &domain.PaymentReference{GatewayOrderID: "pi_123"},
				}, nil
			},
		},
		Verifier: verifier,
	})

	_, err := svc.ConfirmPayment(ctx, ConfirmPaymentCommand{
		OrderID:          "ord-1",
		GatewayPaymentID: "pay_456",
		Signature:        verifier.Sign("pi_123", "pay_456"),
		UserID:           "user-2",
	})
	if !errors.Is(err, ErrOrderForbidden) {
		t.Fatalf("expected ErrOrderForbidden got %v", err)
	}
}

func TestCheckoutConfirmPaymentAlreadyConfirmedConflicts(t *testing.T) {
	ctx := context.Background()
	verifier := testVerifier(t)

	svc := newTestCheckoutService(t, CheckoutServiceDeps{
		Orders: &stubOrderRepo{
			findFn: func(_ context.Context, id string) (domain.Order, error) {
				return domain.Order{
					ID:            id,
					Status:        domain.OrderStatusConfirmed,
					PaymentMethod: domain.PaymentMethodOnline,
					PaymentRef:    &domain.PaymentReference{GatewayOrderID: "pi_123", GatewayPaymentID: "pay_456"},
				}, nil
			},
			updateFn: func(_ context.Context, _ repositories.OrderStatusUpdate) (domain.Order, error) {
				return domain.Order{}, stubRepoError{conflict: true}
			},
		},
		Verifier: verifier,
	})

	_, err := svc.ConfirmPayment(ctx, ConfirmPaymentCommand{
		OrderID:          "ord-1",
		GatewayPaymentID: "pay_456",
		Signature:        verifier.Sign("pi_123", "pay_456"),
	})
	if !errors.Is(err, ErrOrderConflict) {
		t.Fatalf("expected ErrOrderConflict got %v", err)
	}
}
