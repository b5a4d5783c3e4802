package services

import (
	"context"
	"errors"
	"testing"

	domain "github.com/bloomcart/api/internal/domain"
)

func newTestAddressService(t *testing.T, repo *stubAddressRepo) AddressService {
	t.Helper()
	svc, err := NewAddressService(AddressServiceDeps{Addresses: repo})
	if err != nil {
		t.Fatalf("new address service: %v", err)
	}
	return svc
}

func validAddress() Address {
	return Address{
		Recipient:  "Hana Tanaka",
		Line1:      "1-2-3 Shibuya",
		City:       "Tokyo",
		PostalCode: "150-0002",
		Country:    "jp",
	}
}

func TestAddressServiceSaveAddressNormalizes(t *testing.T) {
	ctx := context.Background()
	var saved domain.Address
	svc := newTestAddressService(t, &stubAddressRepo{
		upsertFn: func(_ context.Context, _ string, _ *string, addr domain.Address) (domain.Address, error) {
			saved = addr
			return addr, nil
		},
	})

	addr := validAddress()
	empty := "  "
	addr.Line2 = &empty

	if _, err := svc.SaveAddress(ctx, SaveAddressCommand{UserID: "user-1", Address: addr}); err != nil {
		t.Fatalf("save address: %v", err)
	}
	if saved.Country != "JP" {
		t.Fatalf("expected country JP got %s", saved.Country)
	}
	if saved.Line2 != nil {
		t.Fatalf("expected blank line2 to be dropped got %v", saved.Line2)
	}
}

func TestAddressServiceSaveAddressValidation(t *testing.T) {
	ctx := context.Background()
	svc := newTestAddressService(t, &stubAddressRepo{})

	mutations := []struct {
		name   string
		mutate func(*Address)
	}{
		{"missing recipient", func(a *Address) { a.Recipient = "" }},
		{"missing line1", func(a *Address) { a.Line1 = "" }},
		{"missing city", func(a *Address) { a.City = "" }},
		{"missing postal code", func(a *Address) { a.PostalCode = "" }},
		{"bad country", func(a *Address) { a.Country = "Japan" }},
	}

	for _, tc := range mutations {
		t.Run(tc.name, func(t *testing.T) {
			addr := validAddress()
			tc.mutate(&addr)
			_, err := svc.SaveAddress(ctx, SaveAddressCommand{UserID: "user-1", Address: addr})
			if !errors.Is(err, ErrAddressInvalidInput) {
				t.Fatalf("expected ErrAddressInvalidInput got %v", err)
			}
		})
	}
}

func TestAddressServiceDeleteMapsNotFound(t *testing.T) {
	ctx := context.Background()
	svc := newTestAddressService(t, &stubAddressRepo{
		deleteFn: func(_ context.Context, _, _ string) error {
			return stubRepoError{notFound: true}
		},
	})

	if err := svc.DeleteAddress(ctx, "user-1", "addr-missing"); !errors.Is(err, ErrAddressNotFound) {
		t.Fatalf("expected ErrAddressNotFound got %v", err)
	}
}

func TestAddressServiceGetAddress(t *testing.T) {
	ctx := context.Background()
	svc := newTestAddressService(t, &stubAddressRepo{
		getFn: func(_ context.Context, userID, addressID string) (domain.Address, error) {
			if addressID == "addr-1" {
				return domain.Address{ID: "addr-1", Recipient: "Hana"}, nil
			}
			return domain.Address{}, stubRepoError{notFound: true}
		},
	})

	addr, err := svc.GetAddress(ctx, "user-1", "addr-1")
	if err != nil {
		t.Fatalf("get address: %v", err)
	}
	if addr.Recipient != "Hana" {
		t.Fatalf("unexpected address %+v", addr)
	}

	if _, err := svc.GetAddress(ctx, "user-1", "addr-2"); !errors.Is(err, ErrAddressNotFound) {
		t.Fatalf("expected ErrAddressNotFound got %v", err)
	}
}
