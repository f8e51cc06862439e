package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	pfirestore "github.com/quickcart/commerce/internal/platform/firestore"
	"github.com/quickcart/commerce/internal/repositories"
)

const countersCollection = "counters"

// One document per sequence, e.g. counters/orders-2025 behind QC-2025-000042.
type counterDocument struct {
	Value     int64     `firestore:"currentValue"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

type CounterRepository struct {
	provider *pfirestore.Provider
	counters *pfirestore.Collection[counterDocument]
}

var _ repositories.CounterRepository = (*CounterRepository)(nil)

func NewCounterRepository(provider *pfirestore.Provider) (*CounterRepository, error) {
	if provider == nil {
		return nil, errors.New("counter repository requires firestore provider")
	}
	return &CounterRepository{provider: provider, counters: pfirestore.NewCollection[counterDocument](provider, countersCollection)}, nil
}

// Next adds step (at least 1) to the sequence and returns the result; a missing sequence
// starts at zero. The read and write share the caller's unit of work when there is one, so
// a rolled back order does not consume a number.
func (r *CounterRepository) Next(ctx context.Context, counterID string, step int64) (int64, error) {
	counterID = strings.TrimSpace(counterID)
	if counterID == "" {
		return 0, errors.New("counter id is required")
	}
	step = max(step, 1)

	var value int64
	err := runInTx(ctx, r.provider, func(ctx context.Context, state *txState) error {
		ref, err := r.counters.Doc(ctx, counterID)
		if err != nil {
			return err
		}
		var current counterDocument
		switch snap, err := state.get(ref); {
		case isNotFound(err):
		case err != nil:
			return err
		default:
			if err := snap.DataTo(&current); err != nil {
				return fmt.Errorf("decode counter %s: %w", counterID, err)
			}
		}
		value = current.Value + step
		return state.tx.Set(ref, counterDocument{Value: value, UpdatedAt: time.Now().UTC()})
	})
	if err != nil {
		return 0, pfirestore.WrapError("counters.next", err)
	}
	return value, nil
}
