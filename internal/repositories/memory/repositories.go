package memory

import (
	"context"
	"slices"
	"strings"
	"time"

	domain "github.com/quickcart/commerce/internal/domain"
	"github.com/quickcart/commerce/internal/repositories"
)

type orderRepo struct{ s *Store }

func (r orderRepo) Insert(ctx context.Context, order domain.Order) error {
	defer r.s.lock(ctx)()
	if _, exists := r.s.orders[order.ID]; exists {
		return conflict("orders.insert", "order %s already exists", order.ID)
	}
	if order.Version == 0 {
		order.Version = 1
	}
	r.s.storeOrder(order)
	return nil
}

func (r orderRepo) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	defer r.s.lock(ctx)()
	order, ok := r.s.orders[orderID]
	if !ok {
		return domain.Order{}, notFound("orders.get", "order %s not found", orderID)
	}
	order.Items = slices.Clone(order.Items)
	return order, nil
}

func (r orderRepo) FindItem(ctx context.Context, orderItemID string) (domain.OrderItem, error) {
	defer r.s.lock(ctx)()
	orderID, ok := r.s.itemOrders[orderItemID]
	if !ok {
		return domain.OrderItem{}, notFound("orders.item", "order item %s not found", orderItemID)
	}
	if item, ok := r.s.orders[orderID].Item(orderItemID); ok {
		return item, nil
	}
	return domain.OrderItem{}, notFound("orders.item", "order item %s not found", orderItemID)
}

func (r orderRepo) Update(ctx context.Context, order domain.Order, expectedVersion int64) (domain.Order, error) {
	defer r.s.lock(ctx)()
	current, ok := r.s.orders[order.ID]
	if !ok {
		return domain.Order{}, notFound("orders.update", "order %s not found", order.ID)
	}
	if current.Version != expectedVersion {
		return domain.Order{}, conflict("orders.update", "order %s is at version %d, expected %d", order.ID, current.Version, expectedVersion)
	}
	order.Version = expectedVersion + 1
	order.Items = current.Items
	r.s.storeOrder(order)
	order.Items = slices.Clone(order.Items)
	return order, nil
}

func (r orderRepo) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	defer r.s.lock(ctx)()
	var matched []domain.Order
	for _, order := range r.s.orders {
		if filter.UserID != "" && order.UserID != filter.UserID {
			continue
		}
		if len(filter.Status) > 0 && !slices.Contains(filter.Status, order.Status) {
			continue
		}
		order.Items = slices.Clone(order.Items)
		matched = append(matched, order)
	}
	newestFirst(matched, func(o domain.Order) time.Time { return o.PlacedAt }, orderID)
	return paginate(matched, filter.Pagination, orderID)
}

func orderID(o domain.Order) string { return o.ID }

type returnRepo struct{ s *Store }

func (r returnRepo) Create(ctx context.Context, orderID string, build repositories.ReturnBuilder) (domain.ReturnRequest, error) {
	defer r.s.lock(ctx)()
	request, err := build(r.s.returnsForOrder(orderID))
	if err != nil {
		return domain.ReturnRequest{}, err
	}
	if _, exists := r.s.returns[request.ID]; exists {
		return domain.ReturnRequest{}, conflict("returns.create", "return %s already exists", request.ID)
	}
	request.Items = slices.Clone(request.Items)
	r.s.returns[request.ID] = request
	return request, nil
}

func (r returnRepo) FindByID(ctx context.Context, returnID string) (domain.ReturnRequest, error) {
	defer r.s.lock(ctx)()
	request, ok := r.s.returns[returnID]
	if !ok {
		return domain.ReturnRequest{}, notFound("returns.get", "return %s not found", returnID)
	}
	request.Items = slices.Clone(request.Items)
	return request, nil
}

func (r returnRepo) ListByOrder(ctx context.Context, orderID string) ([]domain.ReturnRequest, error) {
	defer r.s.lock(ctx)()
	return r.s.returnsForOrder(orderID), nil
}

func (r returnRepo) List(ctx context.Context, filter repositories.ReturnListFilter) (domain.CursorPage[domain.ReturnRequest], error) {
	defer r.s.lock(ctx)()
	var matched []domain.ReturnRequest
	for _, request := range r.s.returns {
		if filter.UserID != "" && request.UserID != filter.UserID {
			continue
		}
		if filter.OrderID != "" && request.OrderID != filter.OrderID {
			continue
		}
		if len(filter.Status) > 0 && !slices.Contains(filter.Status, request.Status) {
			continue
		}
		request.Items = slices.Clone(request.Items)
		matched = append(matched, request)
	}
	newestFirst(matched, func(rr domain.ReturnRequest) time.Time { return rr.CreatedAt }, returnID)
	return paginate(matched, filter.Pagination, returnID)
}

func (r returnRepo) UpdateStatus(ctx context.Context, id string, from, to domain.ReturnStatus, at time.Time) (domain.ReturnRequest, error) {
	defer r.s.lock(ctx)()
	request, ok := r.s.returns[id]
	if !ok {
		return domain.ReturnRequest{}, notFound("returns.update", "return %s not found", id)
	}
	if request.Status != from {
		return domain.ReturnRequest{}, conflict("returns.update", "return %s is %s, expected %s", id, request.Status, from)
	}
	request.Status = to
	request.UpdatedAt = at
	r.s.returns[id] = request
	request.Items = slices.Clone(request.Items)
	return request, nil
}

func returnID(rr domain.ReturnRequest) string { return rr.ID }

func (s *Store) returnsForOrder(orderID string) []domain.ReturnRequest {
	var result []domain.ReturnRequest
	for _, request := range s.returns {
		if request.OrderID == orderID {
			request.Items = slices.Clone(request.Items)
			result = append(result, request)
		}
	}
	slices.SortFunc(result, func(a, b domain.ReturnRequest) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return result
}

type productRepo struct{ s *Store }

func (r productRepo) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	defer r.s.lock(ctx)()
	product, ok := r.s.products[productID]
	if !ok {
		return domain.Product{}, notFound("products.get", "product %s not found", productID)
	}
	return product, nil
}

func (r productRepo) DecrementStock(ctx context.Context, productID string, quantity int) (domain.Product, error) {
	defer r.s.lock(ctx)()
	if quantity <= 0 {
		return domain.Product{}, repositories.NewStockError(repositories.StockErrorInvalidQuantity, productID, "quantity must be positive", nil)
	}
	product, ok := r.s.products[productID]
	if !ok {
		return domain.Product{}, repositories.NewStockError(repositories.StockErrorProductNotFound, productID, "product "+productID+" not found", nil)
	}
	if !product.Active {
		return domain.Product{}, repositories.NewStockError(repositories.StockErrorProductInactive, productID, "product "+productID+" is inactive", nil)
	}
	if product.Stock < quantity {
		return domain.Product{}, repositories.InsufficientStock(productID, quantity, product.Stock)
	}
	product.Stock -= quantity
	product.UpdatedAt = time.Now().UTC()
	r.s.products[productID] = product
	return product, nil
}

func (r productRepo) IncrementStock(ctx context.Context, productID string, quantity int) (domain.Product, error) {
	defer r.s.lock(ctx)()
	if quantity <= 0 {
		return domain.Product{}, repositories.NewStockError(repositories.StockErrorInvalidQuantity, productID, "quantity must be positive", nil)
	}
	product, ok := r.s.products[productID]
	if !ok {
		return domain.Product{}, repositories.NewStockError(repositories.StockErrorProductNotFound, productID, "product "+productID+" not found", nil)
	}
	product.Stock += quantity
	product.UpdatedAt = time.Now().UTC()
	r.s.products[productID] = product
	return product, nil
}

func (r productRepo) Save(ctx context.Context, product domain.Product) error {
	defer r.s.lock(ctx)()
	r.s.products[product.ID] = product
	return nil
}

type addressRepo struct{ s *Store }

func (r addressRepo) FindByID(ctx context.Context, addressID string) (domain.Address, error) {
	defer r.s.lock(ctx)()
	address, ok := r.s.addresses[addressID]
	if !ok {
		return domain.Address{}, notFound("addresses.get", "address %s not found", addressID)
	}
	return address, nil
}

type cartRepo struct{ s *Store }

func (r cartRepo) Get(ctx context.Context, userID string) (domain.Cart, error) {
	defer r.s.lock(ctx)()
	cart, ok := r.s.carts[userID]
	if !ok {
		return domain.Cart{UserID: userID}, nil
	}
	cart.Items = slices.Clone(cart.Items)
	return cart, nil
}

func (r cartRepo) Clear(ctx context.Context, userID string) error {
	defer r.s.lock(ctx)()
	delete(r.s.carts, userID)
	return nil
}

type userRepo struct{ s *Store }

func (r userRepo) FindByEmail(ctx context.Context, email string) (domain.User, error) {
	defer r.s.lock(ctx)()
	want := domain.NormaliseEmail(email)
	for _, user := range r.s.users {
		if domain.NormaliseEmail(user.Email) == want {
			return user, nil
		}
	}
	return domain.User{}, notFound("users.by_email", "user %s not found", want)
}

func (r userRepo) FindByID(ctx context.Context, userID string) (domain.User, error) {
	defer r.s.lock(ctx)()
	user, ok := r.s.users[userID]
	if !ok {
		return domain.User{}, notFound("users.get", "user %s not found", userID)
	}
	return user, nil
}

type processedRepo struct{ s *Store }

func (r processedRepo) MarkProcessed(ctx context.Context, eventID, eventType string, at time.Time) (bool, error) {
	defer r.s.lock(ctx)()
	key := eventType + "/" + eventID
	if _, seen := r.s.processed[key]; seen {
		return false, nil
	}
	r.s.processed[key] = at
	return true, nil
}

type counterRepo struct{ s *Store }

func (r counterRepo) Next(ctx context.Context, counterID string, step int64) (int64, error) {
	defer r.s.lock(ctx)()
	if step <= 0 {
		step = 1
	}
	r.s.counters[counterID] += step
	return r.s.counters[counterID], nil
}
