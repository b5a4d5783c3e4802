package firestore

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/oklog/ulid/v2"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/bloomcart/api/internal/domain"
	pfirestore "github.com/bloomcart/api/internal/platform/firestore"
)

const addressCollectionPattern = "users/%s/addresses"

// AddressRepository persists user addresses in Firestore.
type AddressRepository struct {
	provider *pfirestore.Provider
}

// NewAddressRepository constructs a Firestore-backed address repository.
func NewAddressRepository(provider *pfirestore.Provider) (*AddressRepository, error) {
	if provider == nil {
		return nil, errors.New("address repository requires firestore provider")
	}
	return &AddressRepository{provider: provider}, nil
}

type addressDocument struct {
	Recipient  string    `firestore:"recipient"`
	Line1      string    `firestore:"line1"`
	Line2      string    `firestore:"line2,omitempty"`
	City       string    `firestore:"city"`
	State      string    `firestore:"state,omitempty"`
	PostalCode string    `firestore:"postalCode"`
	Country    string    `firestore:"country"`
	Phone      string    `firestore:"phone,omitempty"`
	Hash       string    `firestore:"hash,omitempty"`
	CreatedAt  time.Time `firestore:"createdAt"`
	UpdatedAt  time.Time `firestore:"updatedAt"`
}

// Get loads a single address from the user's address book.
func (r *AddressRepository) Get(ctx context.Context, userID string, addressID string) (domain.Address, error) {
	coll, err := r.collection(ctx, userID)
	if err != nil {
		return domain.Address{}, err
	}
	id := strings.TrimSpace(addressID)
	if id == "" {
		return domain.Address{}, errors.New("address repository: address id is required")
	}

	snap, err := coll.Doc(id).Get(ctx)
	if err != nil {
		return domain.Address{}, pfirestore.WrapError("addresses.get", err)
	}
	var doc addressDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.Address{}, fmt.Errorf("address repository: decode %s: %w", id, err)
	}
	return decodeAddress(id, doc), nil
}

// List returns all addresses for the specified user ordered by most recent update.
func (r *AddressRepository) List(ctx context.Context, userID string) ([]domain.Address, error) {
	coll, err := r.collection(ctx, userID)
	if err != nil {
		return nil, err
	}

	iter := coll.OrderBy("updatedAt", firestore.Desc).Documents(ctx)
	defer iter.Stop()

	var results []domain.Address
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, pfirestore.WrapError("addresses.list", err)
		}
		var doc addressDocument
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("address repository: decode %s: %w", snap.Ref.ID, err)
		}
		results = append(results, decodeAddress(snap.Ref.ID, doc))
	}
	return results, nil
}

// Upsert creates or updates an address, deduplicating on the normalised hash.
func (r *AddressRepository) Upsert(ctx context.Context, userID string, addressID *string, addr domain.Address) (domain.Address, error) {
	coll, err := r.collection(ctx, userID)
	if err != nil {
		return domain.Address{}, err
	}

	hash := strings.TrimSpace(addr.NormalizedHash)
	if hash == "" {
		hash = computeAddressHash(addr)
	}

	var saved domain.Address
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		var docRef *firestore.DocumentRef

		if addressID != nil {
			if id := strings.TrimSpace(*addressID); id != "" {
				docRef = coll.Doc(id)
			}
		}

		if docRef == nil {
			query := coll.Where("hash", "==", hash).Limit(1)
			snaps, err := tx.Documents(query).GetAll()
			if err != nil && status.Code(err) != codes.NotFound {
				return err
			}
			if len(snaps) > 0 {
				docRef = snaps[0].Ref
			}
		}

		now := time.Now().UTC()
		createdAt := now

		if docRef == nil {
			docRef = coll.Doc(newAddressID())
		} else {
			snap, err := tx.Get(docRef)
			switch status.Code(err) {
			case codes.NotFound:
				if addressID != nil {
					return err
				}
			case codes.OK:
				var existing addressDocument
				if decodeErr := snap.DataTo(&existing); decodeErr == nil && !existing.CreatedAt.IsZero() {
					createdAt = existing.CreatedAt
				}
			default:
				return err
			}
		}

		doc := encodeAddress(addr)
		doc.Hash = hash
		doc.CreatedAt = createdAt
		doc.UpdatedAt = now

		if err := tx.Set(docRef, doc); err != nil {
			return err
		}
		saved = decodeAddress(docRef.ID, doc)
		return nil
	})
	if err != nil {
		return domain.Address{}, pfirestore.WrapError("addresses.upsert", err)
	}
	return saved, nil
}

// Delete removes an address from the user's address book.
func (r *AddressRepository) Delete(ctx context.Context, userID string, addressID string) error {
	coll, err := r.collection(ctx, userID)
	if err != nil {
		return err
	}
	id := strings.TrimSpace(addressID)
	if id == "" {
		return errors.New("address repository: address id is required")
	}
	if _, err := coll.Doc(id).Delete(ctx); err != nil {
		return pfirestore.WrapError("addresses.delete", err)
	}
	return nil
}

func (r *AddressRepository) collection(ctx context.Context, userID string) (*firestore.CollectionRef, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("address repository not initialised")
	}
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return nil, errors.New("address repository: user id is required")
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(fmt.Sprintf(addressCollectionPattern, uid)), nil
}

func newAddressID() string {
	return "addr_" + strings.ToLower(ulid.MustNew(ulid.Timestamp(time.Now().UTC()), rand.Reader).String())
}

func computeAddressHash(addr domain.Address) string {
	normalise := func(value string) string {
		return strings.ToLower(strings.Join(strings.Fields(value), " "))
	}
	parts := []string{
		normalise(addr.Recipient),
		normalise(addr.Line1),
		normalise(derefString(addr.Line2)),
		normalise(addr.City),
		normalise(derefString(addr.State)),
		normalise(addr.PostalCode),
		normalise(addr.Country),
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

func encodeAddress(addr domain.Address) addressDocument {
	return addressDocument{
		Recipient:  strings.TrimSpace(addr.Recipient),
		Line1:      strings.TrimSpace(addr.Line1),
		Line2:      strings.TrimSpace(derefString(addr.Line2)),
		City:       strings.TrimSpace(addr.City),
		State:      strings.TrimSpace(derefString(addr.State)),
		PostalCode: strings.TrimSpace(addr.PostalCode),
		Country:    strings.ToUpper(strings.TrimSpace(addr.Country)),
		Phone:      strings.TrimSpace(derefString(addr.Phone)),
		Hash:       addr.NormalizedHash,
		CreatedAt:  addr.CreatedAt,
		UpdatedAt:  addr.UpdatedAt,
	}
}

func decodeAddress(id string, doc addressDocument) domain.Address {
	addr := domain.Address{
		ID:             id,
		Recipient:      doc.Recipient,
		Line1:          doc.Line1,
		City:           doc.City,
		PostalCode:     doc.PostalCode,
		Country:        doc.Country,
		NormalizedHash: doc.Hash,
		CreatedAt:      doc.CreatedAt,
		UpdatedAt:      doc.UpdatedAt,
	}
	if doc.Line2 != "" {
		line2 := doc.Line2
		addr.Line2 = &line2
	}
	if doc.State != "" {
		state := doc.State
		addr.State = &state
	}
	if doc.Phone != "" {
		phone := doc.Phone
		addr.Phone = &phone
	}
	return addr
}

func derefString(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
