// Package memory provides a process-local implementation of the repository registry. It backs
// local development and service tests; state is lost when the process exits.
package memory

import (
	"context"
	"maps"
	"sort"
	"sync"
	"time"

	domain "github.com/quickcart/commerce/internal/domain"
	"github.com/quickcart/commerce/internal/platform/pagination"
	"github.com/quickcart/commerce/internal/repositories"
)

const defaultPageSize = 20

type txKey struct{}

// Store holds every collection behind a single mutex. RunInTx holds the mutex for the whole
// unit of work, so repository calls made inside it observe a serial history.
type Store struct {
	mu sync.Mutex

	orders     map[string]domain.Order
	itemOrders map[string]string
	returns    map[string]domain.ReturnRequest
	products   map[string]domain.Product
	addresses  map[string]domain.Address
	carts      map[string]domain.Cart
	users      map[string]domain.User
	processed  map[string]time.Time
	counters   map[string]int64

	health repositories.HealthRepository
}

var _ repositories.Registry = (*Store)(nil)

// New constructs an empty store.
func New() *Store {
	return &Store{
		orders:     make(map[string]domain.Order),
		itemOrders: make(map[string]string),
		returns:    make(map[string]domain.ReturnRequest),
		products:   make(map[string]domain.Product),
		addresses:  make(map[string]domain.Address),
		carts:      make(map[string]domain.Cart),
		users:      make(map[string]domain.User),
		processed:  make(map[string]time.Time),
		counters:   make(map[string]int64),
	}
}

// WithHealth attaches the dependency health collector exposed via Health().
func (s *Store) WithHealth(health repositories.HealthRepository) *Store {
	s.health = health
	return s
}

func (s *Store) Close(context.Context) error { return nil }

func (s *Store) Orders() repositories.OrderRepository                   { return orderRepo{s} }
func (s *Store) Returns() repositories.ReturnRepository                 { return returnRepo{s} }
func (s *Store) Products() repositories.ProductRepository               { return productRepo{s} }
func (s *Store) Addresses() repositories.AddressRepository              { return addressRepo{s} }
func (s *Store) Carts() repositories.CartRepository                     { return cartRepo{s} }
func (s *Store) Users() repositories.UserRepository                     { return userRepo{s} }
func (s *Store) ProcessedEvents() repositories.ProcessedEventRepository { return processedRepo{s} }
func (s *Store) Counters() repositories.CounterRepository               { return counterRepo{s} }

func (s *Store) Health() repositories.HealthRepository {
	if s.health != nil {
		return s.health
	}
	return staticHealth{}
}

// RunInTx executes fn while holding the store lock. Changes made by fn are rolled back when it
// returns an error. Nested calls join the outer unit of work.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if inTx(ctx) {
		return fn(ctx)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	saved := s.snapshot()
	if err := fn(context.WithValue(ctx, txKey{}, s)); err != nil {
		s.restore(saved)
		return err
	}
	return nil
}

// PutAddress seeds an address.
func (s *Store) PutAddress(address domain.Address) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addresses[address.ID] = address
}

// PutCart replaces the user's cart.
func (s *Store) PutCart(cart domain.Cart) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cart.Items = append([]domain.CartItem(nil), cart.Items...)
	s.carts[cart.UserID] = cart
}

// PutUser seeds a user.
func (s *Store) PutUser(user domain.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[user.ID] = user
}

// PutOrder stores an order as-is, bypassing version checks.
func (s *Store) PutOrder(order domain.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.storeOrder(order)
}

func (s *Store) lock(ctx context.Context) func() {
	if inTx(ctx) {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func inTx(ctx context.Context) bool {
	return ctx != nil && ctx.Value(txKey{}) != nil
}

type snapshot struct {
	orders     map[string]domain.Order
	itemOrders map[string]string
	returns    map[string]domain.ReturnRequest
	products   map[string]domain.Product
	carts      map[string]domain.Cart
	processed  map[string]time.Time
	counters   map[string]int64
}

func (s *Store) snapshot() snapshot {
	return snapshot{
		orders:     maps.Clone(s.orders),
		itemOrders: maps.Clone(s.itemOrders),
		returns:    maps.Clone(s.returns),
		products:   maps.Clone(s.products),
		carts:      maps.Clone(s.carts),
		processed:  maps.Clone(s.processed),
		counters:   maps.Clone(s.counters),
	}
}

func (s *Store) restore(saved snapshot) {
	s.orders = saved.orders
	s.itemOrders = saved.itemOrders
	s.returns = saved.returns
	s.products = saved.products
	s.carts = saved.carts
	s.processed = saved.processed
	s.counters = saved.counters
}

func (s *Store) storeOrder(order domain.Order) {
	order.Items = append([]domain.OrderItem(nil), order.Items...)
	s.orders[order.ID] = order
	for _, item := range order.Items {
		s.itemOrders[item.ID] = order.ID
	}
}

// paginate slices items that are already sorted. The page token carries the id of the last
// item returned.
func paginate[T any](items []T, page domain.Pagination, id func(T) string) (domain.CursorPage[T], error) {
	cursor, err := pagination.ParseToken(page.PageToken)
	if err != nil {
		return domain.CursorPage[T]{}, err
	}
	start := 0
	if cursor.ID != "" {
		for i, item := range items {
			if id(item) == cursor.ID {
				start = i + 1
				break
			}
		}
	}
	size := page.PageSize
	if size <= 0 {
		size = defaultPageSize
	}
	end := min(start+size, len(items))
	result := domain.CursorPage[T]{Items: append([]T(nil), items[start:end]...)}
	if end < len(items) && end > start {
		result.NextPageToken = pagination.Cursor{ID: id(items[end-1])}.Token()
	}
	return result, nil
}

func newestFirst[T any](items []T, at func(T) time.Time, id func(T) string) {
	sort.SliceStable(items, func(i, j int) bool {
		ti, tj := at(items[i]), at(items[j])
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return id(items[i]) > id(items[j])
	})
}

type staticHealth struct{}

func (staticHealth) Collect(context.Context) (domain.HealthReport, error) {
	now := time.Now().UTC()
	return domain.HealthReport{
		Status: domain.HealthOK,
		Dependencies: map[string]domain.DependencyHealth{
			"memory": {Status: domain.HealthOK, CheckedAt: now},
		},
		GeneratedAt: now,
	}, nil
}
