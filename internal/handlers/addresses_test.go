package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/bloomcart/api/internal/services"
)

type stubAddressService struct {
	listFn   func(context.Context, string) ([]services.Address, error)
	getFn    func(context.Context, string, string) (services.Address, error)
	saveFn   func(context.Context, services.SaveAddressCommand) (services.Address, error)
	deleteFn func(context.Context, string, string) error
}

func (s *stubAddressService) ListAddresses(ctx context.Context, userID string) ([]services.Address, error) {
	if s.listFn != nil {
		return s.listFn(ctx, userID)
	}
	return nil, errors.New("not implemented")
}

func (s *stubAddressService) GetAddress(ctx context.Context, userID, addressID string) (services.Address, error) {
	if s.getFn != nil {
		return s.getFn(ctx, userID, addressID)
	}
	return services.Address{}, errors.New("not implemented")
}

func (s *stubAddressService) SaveAddress(ctx context.Context, cmd services.SaveAddressCommand) (services.Address, error) {
	if s.saveFn != nil {
		return s.saveFn(ctx, cmd)
	}
	return services.Address{}, errors.New("not implemented")
}

func (s *stubAddressService) DeleteAddress(ctx context.Context, userID, addressID string) error {
	if s.deleteFn != nil {
		return s.deleteFn(ctx, userID, addressID)
	}
	return errors.New("not implemented")
}

func newAddressRouter(addresses services.AddressService) chi.Router {
	handler := NewAddressHandlers(nil, addresses)
	router := chi.NewRouter()
	router.Route("/me/addresses", handler.Routes)
	return router
}

func TestAddressHandlersListAddresses(t *testing.T) {
	addresses := &stubAddressService{
		listFn: func(_ context.Context, userID string) ([]services.Address, error) {
			if userID != "user-1" {
				t.Fatalf("unexpected user %q", userID)
			}
			return []services.Address{
				{ID: "addr-1", Recipient: "Hanako", Line1: "1-2-3 Ginza", City: "Tokyo", PostalCode: "104-0061", Country: "JP"},
			}, nil
		},
	}
	router := newAddressRouter(addresses)

	req := authedRequest(http.MethodGet, "/me/addresses/", nil, "user-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp addressListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(resp.Items) != 1 || resp.Items[0].ID != "addr-1" || resp.Items[0].PostalCode != "104-0061" {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestAddressHandlersCreateAddress(t *testing.T) {
	var captured services.SaveAddressCommand
	addresses := &stubAddressService{
		saveFn: func(_ context.Context, cmd services.SaveAddressCommand) (services.Address, error) {
			captured = cmd
			saved := cmd.Address
			saved.ID = "addr-9"
			return saved, nil
		},
	}
	router := newAddressRouter(addresses)

	body := []byte(`{"recipient":"Hanako","line1":"1-2-3 Ginza","city":"Tokyo","postalCode":"104-0061","country":"jp"}`)
	req := authedRequest(http.MethodPost, "/me/addresses/", body, "user-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.UserID != "user-1" || captured.AddressID != nil {
		t.Fatalf("unexpected command %+v", captured)
	}
	if captured.Address.Recipient != "Hanako" || captured.Address.Country != "jp" {
		t.Fatalf("unexpected address %+v", captured.Address)
	}

	var resp addressResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Address.ID != "addr-9" {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestAddressHandlersUpdateAddress(t *testing.T) {
	var captured services.SaveAddressCommand
	addresses := &stubAddressService{
		saveFn: func(_ context.Context, cmd services.SaveAddressCommand) (services.Address, error) {
			captured = cmd
			saved := cmd.Address
			saved.ID = *cmd.AddressID
			return saved, nil
		},
	}
	router := newAddressRouter(addresses)

	body := []byte(`{"recipient":"Hanako","line1":"4-5-6 Shibuya","city":"Tokyo","postalCode":"150-0002","country":"JP"}`)
	req := authedRequest(http.MethodPut, "/me/addresses/addr-2", body, "user-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.AddressID == nil || *captured.AddressID != "addr-2" {
		t.Fatalf("unexpected command %+v", captured)
	}
}

func TestAddressHandlersSaveAddressErrorMapping(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"invalid input", services.ErrAddressInvalidInput, http.StatusBadRequest},
		{"not found", services.ErrAddressNotFound, http.StatusNotFound},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			addresses := &stubAddressService{
				saveFn: func(_ context.Context, _ services.SaveAddressCommand) (services.Address, error) {
					return services.Address{}, tc.err
				},
			}
			router := newAddressRouter(addresses)

			body := []byte(`{"recipient":"Hanako"}`)
			req := authedRequest(http.MethodPut, "/me/addresses/addr-2", body, "user-1")
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)

			if rr.Code != tc.wantStatus {
				t.Fatalf("expected status %d, got %d", tc.wantStatus, rr.Code)
			}
		})
	}
}

func TestAddressHandlersDeleteAddress(t *testing.T) {
	var deletedID string
	addresses := &stubAddressService{
		deleteFn: func(_ context.Context, userID, addressID string) error {
			if userID != "user-1" {
				t.Fatalf("unexpected user %q", userID)
			}
			deletedID = addressID
			return nil
		},
	}
	router := newAddressRouter(addresses)

	req := authedRequest(http.MethodDelete, "/me/addresses/addr-3", nil, "user-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", rr.Code)
	}
	if deletedID != "addr-3" {
		t.Fatalf("expected delete of addr-3, got %q", deletedID)
	}
}
