package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bloomcart/api/internal/repositories"
)

var (
	// ErrAddressInvalidInput signals the caller provided invalid address data.
	ErrAddressInvalidInput = errors.New("address: invalid input")
	// ErrAddressNotFound indicates the address does not exist for the user.
	ErrAddressNotFound = errors.New("address: not found")
)

// AddressServiceDeps bundles collaborators required to construct the address service.
type AddressServiceDeps struct {
	Addresses repositories.AddressRepository
}

type addressService struct {
	addresses repositories.AddressRepository
}

// NewAddressService wires dependencies into a concrete AddressService implementation.
func NewAddressService(deps AddressServiceDeps) (AddressService, error) {
	if deps.Addresses == nil {
		return nil, errors.New("address service: address repository is required")
	}

	return &addressService{addresses: deps.Addresses}, nil
}

func (s *addressService) ListAddresses(ctx context.Context, userID string) ([]Address, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrAddressInvalidInput)
	}
	return s.addresses.List(ctx, userID)
}

func (s *addressService) GetAddress(ctx context.Context, userID, addressID string) (Address, error) {
	userID = strings.TrimSpace(userID)
	addressID = strings.TrimSpace(addressID)
	if userID == "" || addressID == "" {
		return Address{}, fmt.Errorf("%w: user id and address id are required", ErrAddressInvalidInput)
	}

	addr, err := s.addresses.Get(ctx, userID, addressID)
	if err != nil {
		if isRepositoryNotFound(err) {
			return Address{}, fmt.Errorf("%w: %s", ErrAddressNotFound, addressID)
		}
		return Address{}, err
	}
	return addr, nil
}

func (s *addressService) SaveAddress(ctx context.Context, cmd SaveAddressCommand) (Address, error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return Address{}, fmt.Errorf("%w: user id is required", ErrAddressInvalidInput)
	}
	if err := validateAddress(cmd.Address); err != nil {
		return Address{}, err
	}

	addr := normalizeAddress(cmd.Address)

	saved, err := s.addresses.Upsert(ctx, userID, cmd.AddressID, addr)
	if err != nil {
		if isRepositoryNotFound(err) {
			return Address{}, fmt.Errorf("%w: %s", ErrAddressNotFound, derefOrEmpty(cmd.AddressID))
		}
		return Address{}, err
	}
	return saved, nil
}

func (s *addressService) DeleteAddress(ctx context.Context, userID, addressID string) error {
	userID = strings.TrimSpace(userID)
	addressID = strings.TrimSpace(addressID)
	if userID == "" || addressID == "" {
		return fmt.Errorf("%w: user id and address id are required", ErrAddressInvalidInput)
	}

	if err := s.addresses.Delete(ctx, userID, addressID); err != nil {
		if isRepositoryNotFound(err) {
			return fmt.Errorf("%w: %s", ErrAddressNotFound, addressID)
		}
		return err
	}
	return nil
}

func validateAddress(addr Address) error {
	if strings.TrimSpace(addr.Recipient) == "" {
		return fmt.Errorf("%w: recipient is required", ErrAddressInvalidInput)
	}
	if strings.TrimSpace(addr.Line1) == "" {
		return fmt.Errorf("%w: line1 is required", ErrAddressInvalidInput)
	}
	if strings.TrimSpace(addr.City) == "" {
		return fmt.Errorf("%w: city is required", ErrAddressInvalidInput)
	}
	if strings.TrimSpace(addr.PostalCode) == "" {
		return fmt.Errorf("%w: postal code is required", ErrAddressInvalidInput)
	}
	if len(strings.TrimSpace(addr.Country)) != 2 {
		return fmt.Errorf("%w: country must be a 2-letter code", ErrAddressInvalidInput)
	}
	return nil
}

func normalizeAddress(addr Address) Address {
	addr.Recipient = strings.TrimSpace(addr.Recipient)
	addr.Line1 = strings.TrimSpace(addr.Line1)
	addr.City = strings.TrimSpace(addr.City)
	addr.PostalCode = strings.TrimSpace(addr.PostalCode)
	addr.Country = strings.ToUpper(strings.TrimSpace(addr.Country))
	addr.Line2 = trimOptional(addr.Line2)
	addr.State = trimOptional(addr.State)
	addr.Phone = trimOptional(addr.Phone)
	return addr
}

func trimOptional(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func derefOrEmpty(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
