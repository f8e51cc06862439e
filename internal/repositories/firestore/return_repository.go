package firestore

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/quickcart/commerce/internal/domain"
	pfirestore "github.com/quickcart/commerce/internal/platform/firestore"
	"github.com/quickcart/commerce/internal/platform/pagination"
	"github.com/quickcart/commerce/internal/repositories"
)

const (
	returnsCollection      = "returns"
	returnGuardsCollection = "returnGuards"
)

type returnDocument struct {
	OrderID   string               `firestore:"orderId"`
	UserID    string               `firestore:"userId"`
	Status    string               `firestore:"status"`
	Type      string               `firestore:"type"`
	Reason    string               `firestore:"reason"`
	Items     []returnItemDocument `firestore:"items"`
	CreatedAt time.Time            `firestore:"createdAt"`
	UpdatedAt time.Time            `firestore:"updatedAt"`
}

type returnItemDocument struct {
	ID           string `firestore:"id"`
	OrderItemID  string `firestore:"orderItemId"`
	ProductID    string `firestore:"productId"`
	Quantity     int    `firestore:"quantity"`
	RefundAmount string `firestore:"refundAmount"`
}

// returnGuardDocument exists once per order. Every Create reads and rewrites it in the same
// transaction, which makes concurrent creations for one order conflict and retry.
type returnGuardDocument struct {
	LastReturnID string    `firestore:"lastReturnId"`
	Returns      int       `firestore:"returns"`
	UpdatedAt    time.Time `firestore:"updatedAt"`
}

// ReturnRepository persists return requests with their items embedded.
type ReturnRepository struct {
	provider *pfirestore.Provider
	returns  *pfirestore.Collection[returnDocument]
	guards   *pfirestore.Collection[returnGuardDocument]
}

var _ repositories.ReturnRepository = (*ReturnRepository)(nil)

func NewReturnRepository(provider *pfirestore.Provider) (*ReturnRepository, error) {
	if provider == nil {
		return nil, errors.New("return repository requires firestore provider")
	}
	return &ReturnRepository{
		provider: provider,
		returns:  pfirestore.NewCollection[returnDocument](provider, returnsCollection),
		guards:   pfirestore.NewCollection[returnGuardDocument](provider, returnGuardsCollection),
	}, nil
}

func (r *ReturnRepository) Create(ctx context.Context, orderID string, build repositories.ReturnBuilder) (domain.ReturnRequest, error) {
	if r == nil || r.provider == nil {
		return domain.ReturnRequest{}, errors.New("return repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.ReturnRequest{}, errors.New("return create: order id is required")
	}
	if build == nil {
		return domain.ReturnRequest{}, errors.New("return create: builder is required")
	}

	var created domain.ReturnRequest
	err := runInTx(ctx, r.provider, func(ctx context.Context, state *txState) error {
		guardRef, err := r.guards.Doc(ctx, orderID)
		if err != nil {
			return err
		}
		guardSnap, err := state.get(guardRef)
		if err != nil && !isNotFound(err) {
			return err
		}
		var guard returnGuardDocument
		if guardSnap.Exists() {
			if err := guardSnap.DataTo(&guard); err != nil {
				return fmt.Errorf("decode return guard %s: %w", orderID, err)
			}
		}

		coll, err := r.collection(ctx)
		if err != nil {
			return err
		}
		existing, err := collectReturns(state.tx.Documents(coll.Where("orderId", "==", orderID)))
		if err != nil {
			return err
		}

		request, err := build(existing)
		if err != nil {
			return err
		}
		ref, err := r.returns.Doc(ctx, request.ID)
		if err != nil {
			return err
		}
		if err := state.tx.Create(ref, newReturnDocument(request)); err != nil {
			return err
		}
		guard.LastReturnID = request.ID
		guard.Returns++
		guard.UpdatedAt = request.CreatedAt.UTC()
		if err := state.tx.Set(guardRef, guard); err != nil {
			return err
		}
		created = request
		return nil
	})
	if err != nil {
		return domain.ReturnRequest{}, wrapReturnError("returns.create", err)
	}
	return created, nil
}

func (r *ReturnRepository) FindByID(ctx context.Context, returnID string) (domain.ReturnRequest, error) {
	if r == nil || r.provider == nil {
		return domain.ReturnRequest{}, errors.New("return repository not initialised")
	}
	ref, err := r.returns.Doc(ctx, returnID)
	if err != nil {
		return domain.ReturnRequest{}, err
	}
	snap, err := readDoc(ctx, ref)
	if err != nil {
		return domain.ReturnRequest{}, pfirestore.WrapError("returns.get", err)
	}
	return decodeReturn(snap)
}

func (r *ReturnRepository) ListByOrder(ctx context.Context, orderID string) ([]domain.ReturnRequest, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("return repository not initialised")
	}
	docs, err := r.returns.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("orderId", "==", strings.TrimSpace(orderID))
	})
	if err != nil {
		return nil, err
	}
	result := make([]domain.ReturnRequest, 0, len(docs))
	for _, doc := range docs {
		request, err := doc.Data.toDomain(doc.ID)
		if err != nil {
			return nil, err
		}
		result = append(result, request)
	}
	sortReturns(result)
	return result, nil
}

func (r *ReturnRepository) List(ctx context.Context, filter repositories.ReturnListFilter) (domain.CursorPage[domain.ReturnRequest], error) {
	if r == nil || r.provider == nil {
		return domain.CursorPage[domain.ReturnRequest]{}, errors.New("return repository not initialised")
	}
	after, err := decodeTimeCursor(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.ReturnRequest]{}, err
	}
	size := pageSize(filter.Pagination)

	docs, err := r.returns.Query(ctx, func(q firestore.Query) firestore.Query {
		if filter.UserID != "" {
			q = q.Where("userId", "==", filter.UserID)
		}
		if filter.OrderID != "" {
			q = q.Where("orderId", "==", filter.OrderID)
		}
		if len(filter.Status) > 0 {
			statuses := make([]string, 0, len(filter.Status))
			for _, s := range filter.Status {
				statuses = append(statuses, string(s))
			}
			q = q.Where("status", "in", statuses)
		}
		q = q.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
		if after != nil {
			q = q.StartAfter(after.at, after.id)
		}
		return q.Limit(size + 1)
	})
	if err != nil {
		return domain.CursorPage[domain.ReturnRequest]{}, err
	}

	page := domain.CursorPage[domain.ReturnRequest]{}
	for i, doc := range docs {
		if i == size {
			last := page.Items[len(page.Items)-1]
			page.NextPageToken = pagination.Cursor{At: last.CreatedAt, ID: last.ID}.Token()
			break
		}
		request, err := doc.Data.toDomain(doc.ID)
		if err != nil {
			return domain.CursorPage[domain.ReturnRequest]{}, err
		}
		page.Items = append(page.Items, request)
	}
	return page, nil
}

func (r *ReturnRepository) UpdateStatus(ctx context.Context, returnID string, from, to domain.ReturnStatus, at time.Time) (domain.ReturnRequest, error) {
	if r == nil || r.provider == nil {
		return domain.ReturnRequest{}, errors.New("return repository not initialised")
	}
	var updated domain.ReturnRequest
	err := runInTx(ctx, r.provider, func(ctx context.Context, state *txState) error {
		ref, err := r.returns.Doc(ctx, returnID)
		if err != nil {
			return err
		}
		snap, err := state.get(ref)
		if err != nil {
			return err
		}
		current, err := decodeReturn(snap)
		if err != nil {
			return err
		}
		if current.Status != from {
			return status.Errorf(codes.FailedPrecondition, "return %s is %s, expected %s", returnID, current.Status, from)
		}
		at = at.UTC()
		if err := state.tx.Update(ref, []firestore.Update{
			{Path: "status", Value: string(to)},
			{Path: "updatedAt", Value: at},
		}); err != nil {
			return err
		}
		current.Status = to
		current.UpdatedAt = at
		updated = current
		return nil
	})
	if err != nil {
		return domain.ReturnRequest{}, pfirestore.WrapError("returns.update_status", err)
	}
	return updated, nil
}

func (r *ReturnRepository) collection(ctx context.Context) (*firestore.CollectionRef, error) {
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(returnsCollection), nil
}

// wrapReturnError leaves errors raised by the builder untouched so callers can match them.
func wrapReturnError(op string, err error) error {
	if _, ok := status.FromError(err); ok {
		return pfirestore.WrapError(op, err)
	}
	return err
}

func collectReturns(iter *firestore.DocumentIterator) ([]domain.ReturnRequest, error) {
	defer iter.Stop()
	var result []domain.ReturnRequest
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, err
		}
		request, err := decodeReturn(snap)
		if err != nil {
			return nil, err
		}
		result = append(result, request)
	}
	sortReturns(result)
	return result, nil
}

func sortReturns(requests []domain.ReturnRequest) {
	slices.SortFunc(requests, func(a, b domain.ReturnRequest) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}

func decodeReturn(snap *firestore.DocumentSnapshot) (domain.ReturnRequest, error) {
	var doc returnDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.ReturnRequest{}, fmt.Errorf("decode return %s: %w", snap.Ref.ID, err)
	}
	return doc.toDomain(snap.Ref.ID)
}

func newReturnDocument(request domain.ReturnRequest) returnDocument {
	items := make([]returnItemDocument, 0, len(request.Items))
	for _, item := range request.Items {
		items = append(items, returnItemDocument{
			ID:           item.ID,
			OrderItemID:  item.OrderItemID,
			ProductID:    item.ProductID,
			Quantity:     item.Quantity,
			RefundAmount: item.RefundAmount.String(),
		})
	}
	return returnDocument{
		OrderID:   request.OrderID,
		UserID:    request.UserID,
		Status:    string(request.Status),
		Type:      string(request.Type),
		Reason:    request.Reason,
		Items:     items,
		CreatedAt: request.CreatedAt.UTC(),
		UpdatedAt: request.UpdatedAt.UTC(),
	}
}

func (d returnDocument) toDomain(id string) (domain.ReturnRequest, error) {
	request := domain.ReturnRequest{
		ID:        id,
		OrderID:   d.OrderID,
		UserID:    d.UserID,
		Status:    domain.ReturnStatus(d.Status),
		Type:      domain.ReturnType(d.Type),
		Reason:    d.Reason,
		CreatedAt: d.CreatedAt.UTC(),
		UpdatedAt: d.UpdatedAt.UTC(),
		Items:     make([]domain.ReturnItem, 0, len(d.Items)),
	}
	for _, item := range d.Items {
		amount, err := parseMoney("refundAmount", item.RefundAmount)
		if err != nil {
			return domain.ReturnRequest{}, err
		}
		request.Items = append(request.Items, domain.ReturnItem{
			ID:           item.ID,
			ReturnID:     id,
			OrderItemID:  item.OrderItemID,
			ProductID:    item.ProductID,
			Quantity:     item.Quantity,
			RefundAmount: amount,
		})
	}
	return request, nil
}
