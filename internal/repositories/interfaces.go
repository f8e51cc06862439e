package repositories

import (
	"context"
	"time"

	domain "github.com/quickcart/commerce/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Orders() OrderRepository
	Returns() ReturnRepository
	Products() ProductRepository
	Addresses() AddressRepository
	Carts() CartRepository
	Users() UserRepository
	ProcessedEvents() ProcessedEventRepository
	Counters() CounterRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
// Implementations may retry fn on contention, so fn must not carry side effects outside the
// repositories it calls.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// OrderRepository persists orders together with their immutable line items.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	FindItem(ctx context.Context, orderItemID string) (domain.OrderItem, error)
	// Update writes the order when the stored version equals expectedVersion and returns the
	// order carrying the incremented version. A mismatch yields a conflict RepositoryError.
	Update(ctx context.Context, order domain.Order, expectedVersion int64) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
}

// ReturnBuilder assembles a new return request from every return already recorded for the order.
// Returning an error aborts creation.
type ReturnBuilder func(existing []domain.ReturnRequest) (domain.ReturnRequest, error)

// ReturnRepository persists return requests and their items.
type ReturnRepository interface {
	// Create serialises creation per order: the builder observes every existing return for
	// orderID and no concurrent Create for the same order can interleave with it.
	Create(ctx context.Context, orderID string, build ReturnBuilder) (domain.ReturnRequest, error)
	FindByID(ctx context.Context, returnID string) (domain.ReturnRequest, error)
	ListByOrder(ctx context.Context, orderID string) ([]domain.ReturnRequest, error)
	List(ctx context.Context, filter ReturnListFilter) (domain.CursorPage[domain.ReturnRequest], error)
	// UpdateStatus moves the request from one status to another. A request no longer in the
	// from status yields a conflict RepositoryError.
	UpdateStatus(ctx context.Context, returnID string, from, to domain.ReturnStatus, at time.Time) (domain.ReturnRequest, error)
}

// ProductRepository is the inventory owner's stock ledger.
type ProductRepository interface {
	FindByID(ctx context.Context, productID string) (domain.Product, error)
	// DecrementStock reduces stock under an exclusive per-product lock.
	DecrementStock(ctx context.Context, productID string, quantity int) (domain.Product, error)
	IncrementStock(ctx context.Context, productID string, quantity int) (domain.Product, error)
	Save(ctx context.Context, product domain.Product) error
}

// AddressRepository resolves shipping addresses.
type AddressRepository interface {
	FindByID(ctx context.Context, addressID string) (domain.Address, error)
}

// CartRepository reads and clears shopping carts keyed by user.
type CartRepository interface {
	// Get returns an empty cart when the user has none.
	Get(ctx context.Context, userID string) (domain.Cart, error)
	// Clear is idempotent.
	Clear(ctx context.Context, userID string) error
}

// UserRepository resolves authenticated principals to application users.
type UserRepository interface {
	FindByEmail(ctx context.Context, email string) (domain.User, error)
	FindByID(ctx context.Context, userID string) (domain.User, error)
}

// ProcessedEventRepository records consumed events so handlers can ignore redeliveries.
type ProcessedEventRepository interface {
	// MarkProcessed returns false when the event was already recorded.
	MarkProcessed(ctx context.Context, eventID, eventType string, at time.Time) (bool, error)
}

// CounterRepository issues monotonically increasing sequence numbers.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
}

// HealthRepository checks the backends /readyz depends on.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.HealthReport, error)
}

// Filter DTOs shared across repositories ------------------------------------

// OrderListFilter narrows order listings. An empty UserID lists every order.
type OrderListFilter struct {
	UserID     string
	Status     []domain.OrderStatus
	Pagination domain.Pagination
}

// ReturnListFilter narrows return listings.
type ReturnListFilter struct {
	UserID     string
	OrderID    string
	Status     []domain.ReturnStatus
	Pagination domain.Pagination
}
