package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/quickcart/commerce/internal/domain"
	pfirestore "github.com/quickcart/commerce/internal/platform/firestore"
	"github.com/quickcart/commerce/internal/platform/pagination"
	"github.com/quickcart/commerce/internal/repositories"
)

const (
	ordersCollection     = "orders"
	orderItemsCollection = "orderItems"
	defaultPageSize      = 20
)

type orderDocument struct {
	OrderNumber          string              `firestore:"orderNumber"`
	UserID               string              `firestore:"userId"`
	ShippingAddressID    string              `firestore:"shippingAddressId"`
	Status               string              `firestore:"status"`
	PaymentStatus        string              `firestore:"paymentStatus"`
	PaymentMethod        string              `firestore:"paymentMethod"`
	PaymentReference     string              `firestore:"paymentReference,omitempty"`
	ItemTotal            string              `firestore:"itemTotal"`
	ShippingFee          string              `firestore:"shippingFee"`
	CGSTAmount           string              `firestore:"cgstAmount"`
	SGSTAmount           string              `firestore:"sgstAmount"`
	TotalAmount          string              `firestore:"totalAmount"`
	Items                []orderItemDocument `firestore:"items"`
	PlacedAt             time.Time           `firestore:"placedAt"`
	ExpectedDeliveryDate time.Time           `firestore:"expectedDeliveryDate"`
	ShippedAt            *time.Time          `firestore:"shippedAt,omitempty"`
	DeliveredAt          *time.Time          `firestore:"deliveredAt,omitempty"`
	CancelledAt          *time.Time          `firestore:"cancelledAt,omitempty"`
	CancellationReason   string              `firestore:"cancellationReason,omitempty"`
	TrackingNumber       string              `firestore:"trackingNumber,omitempty"`
	RefundDeadline       *time.Time          `firestore:"refundDeadline,omitempty"`
	UpdatedAt            time.Time           `firestore:"updatedAt"`
	Version              int64               `firestore:"version"`
}

type orderItemDocument struct {
	ID              string `firestore:"id"`
	OrderID         string `firestore:"orderId"`
	ProductID       string `firestore:"productId"`
	ProductName     string `firestore:"productName"`
	ProductImageURL string `firestore:"productImageUrl,omitempty"`
	Quantity        int    `firestore:"quantity"`
	Price           string `firestore:"price"`
}

// OrderRepository stores orders with their line items embedded. Each item is mirrored into
// orderItems so it can be fetched by id alone.
type OrderRepository struct {
	provider *pfirestore.Provider
	orders   *pfirestore.Collection[orderDocument]
	items    *pfirestore.Collection[orderItemDocument]
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{
		provider: provider,
		orders:   pfirestore.NewCollection[orderDocument](provider, ordersCollection),
		items:    pfirestore.NewCollection[orderItemDocument](provider, orderItemsCollection),
	}, nil
}

func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if r == nil || r.provider == nil {
		return errors.New("order repository not initialised")
	}
	if strings.TrimSpace(order.ID) == "" {
		return errors.New("order insert: id is required")
	}
	if order.Version == 0 {
		order.Version = 1
	}
	doc := newOrderDocument(order)

	err := runInTx(ctx, r.provider, func(ctx context.Context, state *txState) error {
		ref, err := r.orders.Doc(ctx, order.ID)
		if err != nil {
			return err
		}
		if err := state.tx.Create(ref, doc); err != nil {
			return err
		}
		for _, item := range doc.Items {
			itemRef, err := r.items.Doc(ctx, item.ID)
			if err != nil {
				return err
			}
			if err := state.tx.Create(itemRef, item); err != nil {
				return err
			}
		}
		return nil
	})
	return pfirestore.WrapError("orders.insert", err)
}

func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.provider == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	ref, err := r.orders.Doc(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	snap, err := readDoc(ctx, ref)
	if err != nil {
		return domain.Order{}, pfirestore.WrapError("orders.get", err)
	}
	return decodeOrder(snap)
}

func (r *OrderRepository) FindItem(ctx context.Context, orderItemID string) (domain.OrderItem, error) {
	if r == nil || r.provider == nil {
		return domain.OrderItem{}, errors.New("order repository not initialised")
	}
	doc, err := r.items.Get(ctx, orderItemID)
	if err != nil {
		return domain.OrderItem{}, err
	}
	return doc.Data.toDomain()
}

// Update writes the mutable order fields when the stored version matches expectedVersion.
// Items are never rewritten.
func (r *OrderRepository) Update(ctx context.Context, order domain.Order, expectedVersion int64) (domain.Order, error) {
	if r == nil || r.provider == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	var saved domain.Order
	err := runInTx(ctx, r.provider, func(ctx context.Context, state *txState) error {
		ref, err := r.orders.Doc(ctx, order.ID)
		if err != nil {
			return err
		}
		snap, err := state.get(ref)
		if err != nil {
			return err
		}
		current, err := decodeOrder(snap)
		if err != nil {
			return err
		}
		if current.Version != expectedVersion {
			return status.Errorf(codes.FailedPrecondition, "order %s is at version %d, expected %d", order.ID, current.Version, expectedVersion)
		}

		order.Items = current.Items
		order.Version = expectedVersion + 1
		doc := newOrderDocument(order)
		if err := state.tx.Update(ref, []firestore.Update{
			{Path: "status", Value: doc.Status},
			{Path: "paymentStatus", Value: doc.PaymentStatus},
			{Path: "paymentReference", Value: doc.PaymentReference},
			{Path: "shippedAt", Value: doc.ShippedAt},
			{Path: "deliveredAt", Value: doc.DeliveredAt},
			{Path: "cancelledAt", Value: doc.CancelledAt},
			{Path: "cancellationReason", Value: doc.CancellationReason},
			{Path: "trackingNumber", Value: doc.TrackingNumber},
			{Path: "refundDeadline", Value: doc.RefundDeadline},
			{Path: "updatedAt", Value: doc.UpdatedAt},
			{Path: "version", Value: doc.Version},
		}); err != nil {
			return err
		}
		saved = order
		return nil
	})
	if err != nil {
		return domain.Order{}, pfirestore.WrapError("orders.update", err)
	}
	return saved, nil
}

func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if r == nil || r.provider == nil {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository not initialised")
	}
	after, err := decodeTimeCursor(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}
	size := pageSize(filter.Pagination)

	docs, err := r.orders.Query(ctx, func(q firestore.Query) firestore.Query {
		if filter.UserID != "" {
			q = q.Where("userId", "==", filter.UserID)
		}
		if len(filter.Status) > 0 {
			statuses := make([]string, 0, len(filter.Status))
			for _, s := range filter.Status {
				statuses = append(statuses, string(s))
			}
			q = q.Where("status", "in", statuses)
		}
		q = q.OrderBy("placedAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
		if after != nil {
			q = q.StartAfter(after.at, after.id)
		}
		return q.Limit(size + 1)
	})
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	page := domain.CursorPage[domain.Order]{}
	for i, doc := range docs {
		if i == size {
			last := page.Items[len(page.Items)-1]
			page.NextPageToken = pagination.Cursor{At: last.PlacedAt, ID: last.ID}.Token()
			break
		}
		order, err := doc.Data.toDomain(doc.ID)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, err
		}
		page.Items = append(page.Items, order)
	}
	return page, nil
}

func decodeOrder(snap *firestore.DocumentSnapshot) (domain.Order, error) {
	var doc orderDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.Order{}, fmt.Errorf("decode order %s: %w", snap.Ref.ID, err)
	}
	return doc.toDomain(snap.Ref.ID)
}

func newOrderDocument(order domain.Order) orderDocument {
	items := make([]orderItemDocument, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemDocument{
			ID:              item.ID,
			OrderID:         order.ID,
			ProductID:       item.ProductID,
			ProductName:     item.ProductName,
			ProductImageURL: item.ProductImageURL,
			Quantity:        item.Quantity,
			Price:           moneyString(item.Price),
		})
	}
	return orderDocument{
		OrderNumber:          order.OrderNumber,
		UserID:               order.UserID,
		ShippingAddressID:    order.ShippingAddressID,
		Status:               string(order.Status),
		PaymentStatus:        string(order.PaymentStatus),
		PaymentMethod:        string(order.PaymentMethod),
		PaymentReference:     order.PaymentReference,
		ItemTotal:            moneyString(order.ItemTotal),
		ShippingFee:          moneyString(order.ShippingFee),
		CGSTAmount:           moneyString(order.CGSTAmount),
		SGSTAmount:           moneyString(order.SGSTAmount),
		TotalAmount:          moneyString(order.TotalAmount),
		Items:                items,
		PlacedAt:             order.PlacedAt.UTC(),
		ExpectedDeliveryDate: order.ExpectedDeliveryDate.UTC(),
		ShippedAt:            optionalTime(order.ShippedAt),
		DeliveredAt:          optionalTime(order.DeliveredAt),
		CancelledAt:          optionalTime(order.CancelledAt),
		CancellationReason:   order.CancellationReason,
		TrackingNumber:       order.TrackingNumber,
		RefundDeadline:       optionalTime(order.RefundDeadline),
		UpdatedAt:            order.UpdatedAt.UTC(),
		Version:              order.Version,
	}
}

func (d orderDocument) toDomain(id string) (domain.Order, error) {
	order := domain.Order{
		ID:                   id,
		OrderNumber:          d.OrderNumber,
		UserID:               d.UserID,
		ShippingAddressID:    d.ShippingAddressID,
		Status:               domain.OrderStatus(d.Status),
		PaymentStatus:        domain.PaymentStatus(d.PaymentStatus),
		PaymentMethod:        domain.PaymentMethod(d.PaymentMethod),
		PaymentReference:     d.PaymentReference,
		PlacedAt:             d.PlacedAt.UTC(),
		ExpectedDeliveryDate: d.ExpectedDeliveryDate.UTC(),
		ShippedAt:            optionalTime(d.ShippedAt),
		DeliveredAt:          optionalTime(d.DeliveredAt),
		CancelledAt:          optionalTime(d.CancelledAt),
		CancellationReason:   d.CancellationReason,
		TrackingNumber:       d.TrackingNumber,
		RefundDeadline:       optionalTime(d.RefundDeadline),
		UpdatedAt:            d.UpdatedAt.UTC(),
		Version:              d.Version,
	}
	var err error
	if order.ItemTotal, err = parseMoney("itemTotal", d.ItemTotal); err != nil {
		return domain.Order{}, err
	}
	if order.ShippingFee, err = parseMoney("shippingFee", d.ShippingFee); err != nil {
		return domain.Order{}, err
	}
	if order.CGSTAmount, err = parseMoney("cgstAmount", d.CGSTAmount); err != nil {
		return domain.Order{}, err
	}
	if order.SGSTAmount, err = parseMoney("sgstAmount", d.SGSTAmount); err != nil {
		return domain.Order{}, err
	}
	if order.TotalAmount, err = parseMoney("totalAmount", d.TotalAmount); err != nil {
		return domain.Order{}, err
	}

	order.Items = make([]domain.OrderItem, 0, len(d.Items))
	for _, itemDoc := range d.Items {
		item, err := itemDoc.toDomain()
		if err != nil {
			return domain.Order{}, err
		}
		order.Items = append(order.Items, item)
	}
	return order, nil
}

func (d orderItemDocument) toDomain() (domain.OrderItem, error) {
	price, err := parseMoney("price", d.Price)
	if err != nil {
		return domain.OrderItem{}, err
	}
	return domain.OrderItem{
		ID:              d.ID,
		OrderID:         d.OrderID,
		ProductID:       d.ProductID,
		ProductName:     d.ProductName,
		ProductImageURL: d.ProductImageURL,
		Quantity:        d.Quantity,
		Price:           price,
	}, nil
}

type timeCursor struct {
	at time.Time
	id string
}

func decodeTimeCursor(token string) (*timeCursor, error) {
	cursor, err := pagination.ParseToken(token)
	if err != nil || cursor.ID == "" {
		return nil, err
	}
	if cursor.At.IsZero() {
		return nil, fmt.Errorf("%w: missing timestamp", pagination.ErrInvalidPageToken)
	}
	return &timeCursor{at: cursor.At, id: cursor.ID}, nil
}

func pageSize(page domain.Pagination) int {
	if page.PageSize <= 0 {
		return defaultPageSize
	}
	return page.PageSize
}
