package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	pfirestore "github.com/bloomcart/api/internal/platform/firestore"
)

const counterCollection = "counters"

// CounterRepository allocates monotonic sequence values used for order numbers.
type CounterRepository struct {
	provider *pfirestore.Provider
}

// NewCounterRepository constructs a Firestore-backed counter repository.
func NewCounterRepository(provider *pfirestore.Provider) (*CounterRepository, error) {
	if provider == nil {
		return nil, errors.New("counter repository requires firestore provider")
	}
	return &CounterRepository{provider: provider}, nil
}

type counterDocument struct {
	Value int64 `firestore:"value"`
}

// Next atomically increments the named counter by step and returns the new value.
// The counter document is created on first use.
func (r *CounterRepository) Next(ctx context.Context, counterID string, step int64) (int64, error) {
	if r == nil || r.provider == nil {
		return 0, errors.New("counter repository not initialised")
	}
	id := strings.TrimSpace(counterID)
	if id == "" {
		return 0, errors.New("counter repository: counter id is required")
	}
	if step <= 0 {
		step = 1
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return 0, err
	}
	docRef := client.Collection(counterCollection).Doc(id)

	var next int64
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(docRef)
		var current int64
		switch status.Code(err) {
		case codes.OK:
			var doc counterDocument
			if decodeErr := snap.DataTo(&doc); decodeErr != nil {
				return fmt.Errorf("counter repository: decode %s: %w", id, decodeErr)
			}
			current = doc.Value
		case codes.NotFound:
			current = 0
		default:
			return err
		}

		next = current + step
		return tx.Set(docRef, counterDocument{Value: next})
	})
	if err != nil {
		return 0, pfirestore.WrapError("counters.next", err)
	}
	return next, nil
}
