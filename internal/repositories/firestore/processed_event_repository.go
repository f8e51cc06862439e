package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	pfirestore "github.com/quickcart/commerce/internal/platform/firestore"
	"github.com/quickcart/commerce/internal/repositories"
)

const processedEventsCollection = "processedEvents"

type processedEventDocument struct {
	EventID     string    `firestore:"eventId"`
	EventType   string    `firestore:"eventType"`
	ProcessedAt time.Time `firestore:"processedAt"`
}

// ProcessedEventRepository records consumed events at processedEvents/{type}_{id}.
type ProcessedEventRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.Collection[processedEventDocument]
}

var _ repositories.ProcessedEventRepository = (*ProcessedEventRepository)(nil)

func NewProcessedEventRepository(provider *pfirestore.Provider) (*ProcessedEventRepository, error) {
	if provider == nil {
		return nil, errors.New("processed event repository requires firestore provider")
	}
	return &ProcessedEventRepository{
		provider: provider,
		base:     pfirestore.NewCollection[processedEventDocument](provider, processedEventsCollection),
	}, nil
}

// MarkProcessed creates the marker and reports false when it already exists.
func (r *ProcessedEventRepository) MarkProcessed(ctx context.Context, eventID, eventType string, at time.Time) (bool, error) {
	if r == nil || r.provider == nil {
		return false, errors.New("processed event repository not initialised")
	}
	eventID = strings.TrimSpace(eventID)
	eventType = strings.TrimSpace(eventType)
	if eventID == "" || eventType == "" {
		return false, errors.New("event id and type are required")
	}

	var created bool
	err := runInTx(ctx, r.provider, func(ctx context.Context, state *txState) error {
		created = false
		ref, err := r.base.Doc(ctx, processedEventKey(eventType, eventID))
		if err != nil {
			return err
		}
		if _, err := state.get(ref); err == nil {
			return nil
		} else if status.Code(err) != codes.NotFound {
			return err
		}
		if err := state.tx.Create(ref, processedEventDocument{
			EventID:     eventID,
			EventType:   eventType,
			ProcessedAt: at.UTC(),
		}); err != nil {
			return err
		}
		created = true
		return nil
	})
	if err != nil {
		return false, pfirestore.WrapError("processed_events.mark", err)
	}
	return created, nil
}

func processedEventKey(eventType, eventID string) string {
	return strings.ReplaceAll(eventType, "/", "_") + "_" + strings.ReplaceAll(eventID, "/", "_")
}
